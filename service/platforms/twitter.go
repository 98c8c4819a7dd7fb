package platforms

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/google/go-querystring/query"
	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/tweet/managetweet"
	managetweettypes "github.com/michimani/gotwi/tweet/managetweet/types"

	tables "github.com/crosspost-media-core/v2/dal/tables/v1"

	"log"
)

const (
	twitterMediaUploadURL = "https://upload.twitter.com/1.1/media/upload.json"
	twitterUsersMeURL     = "https://api.twitter.com/2/users/me"

	// Confidential clients do not need dynamic PKCE, but the
	// authorize endpoint requires the parameters to be present.
	twitterPkceChallenge = "challenge"
)

type TwitterAdapter struct {
	Cfg    OAuthConfig
	Client Doer
}

func (s TwitterAdapter) Platform() tables.Platform { return tables.Platform_Twitter }

type twitterAuthorizeParams struct {
	ResponseType        string `url:"response_type"`
	ClientID            string `url:"client_id"`
	RedirectURI         string `url:"redirect_uri"`
	Scope               string `url:"scope"`
	State               string `url:"state"`
	CodeChallenge       string `url:"code_challenge"`
	CodeChallengeMethod string `url:"code_challenge_method"`
}

func (s TwitterAdapter) BuildAuthorizationURL(state string) (string, error) {
	params, err := query.Values(twitterAuthorizeParams{
		ResponseType:        "code",
		ClientID:            s.Cfg.ClientID,
		RedirectURI:         s.Cfg.RedirectURL,
		Scope:               s.Cfg.ScopeString(" "),
		State:               state,
		CodeChallenge:       twitterPkceChallenge,
		CodeChallengeMethod: "plain",
	})
	if err != nil {
		return "", err
	}
	return s.Cfg.AuthURL + "?" + params.Encode(), nil
}

func (s TwitterAdapter) basicAuthHeader() map[string]string {
	raw := base64.StdEncoding.EncodeToString([]byte(s.Cfg.ClientID + ":" + s.Cfg.ClientSecret))
	return map[string]string{"Authorization": "Basic " + raw}
}

func (s TwitterAdapter) ExchangeCode(ctx context.Context, code string) (Tokens, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", s.Cfg.RedirectURL)
	form.Set("code_verifier", twitterPkceChallenge)
	return s.tokenCall(form, "")
}

func (s TwitterAdapter) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return s.tokenCall(form, refreshToken)
}

func (s TwitterAdapter) tokenCall(form url.Values, priorRefreshToken string) (Tokens, error) {
	resp, err := postForm(s.Client, s.Platform(), s.Cfg.TokenURL, form, s.basicAuthHeader())
	if err != nil {
		return Tokens{}, err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return Tokens{}, err
	}
	payload := wireTokenPayload{}
	if err := resp.decode(&payload); err != nil {
		return Tokens{}, err
	}
	return normalizeTokens(payload, priorRefreshToken), nil
}

func (s TwitterAdapter) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	resp, err := getRequest(s.Client, s.Platform(),
		twitterUsersMeURL+"?user.fields=public_metrics", bearerHeader(accessToken))
	if err != nil {
		return Profile{}, err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return Profile{}, err
	}
	decoded := struct {
		Data struct {
			ID            string `json:"id"`
			Username      string `json:"username"`
			PublicMetrics struct {
				FollowersCount int64 `json:"followers_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}{}
	if err := resp.decode(&decoded); err != nil {
		return Profile{}, err
	}
	metadata, _ := json.Marshal(map[string]interface{}{
		"followersCount": decoded.Data.PublicMetrics.FollowersCount,
	})
	return Profile{
		ExternalAccountID:   decoded.Data.ID,
		ExternalAccountName: decoded.Data.Username,
		MetadataJSON:        string(metadata),
	}, nil
}

func (s TwitterAdapter) Publish(ctx context.Context, credential tables.Credential, item tables.ContentItem) (string, error) {
	mediaIds, err := s.uploadMedia(item, credential.AccessToken)
	if err != nil {
		log.Printf("correlationID: %s error uploading twitter media: %s", item.ContentID, err)
		return "", err
	}

	client, err := gotwi.NewClientWithAccessToken(&gotwi.NewClientWithAccessTokenInput{
		AccessToken: credential.AccessToken,
	})
	if err != nil {
		return "", err
	}
	input := &managetweettypes.CreateInput{
		Text: gotwi.String(item.Body),
	}
	if len(mediaIds) > 0 {
		input.Media = &managetweettypes.CreateInputMedia{
			MediaIDs: mediaIds,
		}
	}
	created, err := managetweet.Create(ctx, client, input)
	if err != nil {
		return "", err
	}
	return gotwi.StringValue(created.Data.ID), nil
}

// uploadMedia pushes each attachment through the v1.1 media endpoint
// and returns the ids to attach to the tweet.
func (s TwitterAdapter) uploadMedia(item tables.ContentItem, accessToken string) ([]string, error) {
	mediaIds := make([]string, 0, len(item.MediaReferences))
	for _, mediaUrl := range item.MediaReferences {
		payload, contentType, err := downloadMedia(s.Client, s.Platform(), mediaUrl)
		if err != nil {
			return nil, err
		}
		form := url.Values{}
		form.Set("media_data", base64.StdEncoding.EncodeToString(payload))
		resp, err := postForm(s.Client, s.Platform(), twitterMediaUploadURL, form, bearerHeader(accessToken))
		if err != nil {
			return nil, err
		}
		if err := requireOk(s.Platform(), resp); err != nil {
			return nil, err
		}
		uploaded := struct {
			MediaIDString string `json:"media_id_string"`
		}{}
		if err := resp.decode(&uploaded); err != nil {
			return nil, err
		}
		log.Printf("uploaded twitter media %s type %s", uploaded.MediaIDString, contentType)
		mediaIds = append(mediaIds, uploaded.MediaIDString)
	}
	return mediaIds, nil
}

func (s TwitterAdapter) DeleteContent(ctx context.Context, platformPostId string, accessToken string) bool {
	client, err := gotwi.NewClientWithAccessToken(&gotwi.NewClientWithAccessTokenInput{
		AccessToken: accessToken,
	})
	if err != nil {
		return false
	}
	deleted, err := managetweet.Delete(ctx, client, &managetweettypes.DeleteInput{
		ID: platformPostId,
	})
	if err != nil {
		log.Printf("correlationID: %s twitter delete failed: %s", platformPostId, err)
		return false
	}
	return gotwi.BoolValue(deleted.Data.Deleted)
}

func (s TwitterAdapter) FetchMetrics(ctx context.Context, platformPostId string, accessToken string) (Metrics, error) {
	endpoint := fmt.Sprintf("https://api.twitter.com/2/tweets/%s?tweet.fields=public_metrics", platformPostId)
	resp, err := getRequest(s.Client, s.Platform(), endpoint, bearerHeader(accessToken))
	if err != nil {
		return Metrics{}, err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return Metrics{}, err
	}
	decoded := struct {
		Data struct {
			PublicMetrics struct {
				LikeCount       int64 `json:"like_count"`
				ReplyCount      int64 `json:"reply_count"`
				RetweetCount    int64 `json:"retweet_count"`
				ImpressionCount int64 `json:"impression_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}{}
	if err := resp.decode(&decoded); err != nil {
		return Metrics{}, err
	}
	metrics := decoded.Data.PublicMetrics
	return Metrics{
		Likes:       metrics.LikeCount,
		Comments:    metrics.ReplyCount,
		Shares:      metrics.RetweetCount,
		Impressions: metrics.ImpressionCount,
	}, nil
}
