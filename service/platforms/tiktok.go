package platforms

import (
	"context"
	"encoding/json"

	"github.com/google/go-querystring/query"

	tables "github.com/crosspost-media-core/v2/dal/tables/v1"

	"log"
)

const tiktokAPIBaseURL = "https://open.tiktokapis.com/v2"

// TikTokAdapter publishes videos through the direct post API. Token
// calls use JSON bodies with client_key naming, and several responses
// nest their payload under a data envelope.
type TikTokAdapter struct {
	Cfg    OAuthConfig
	Client Doer
}

func (s TikTokAdapter) Platform() tables.Platform { return tables.Platform_TikTok }

type tiktokAuthorizeParams struct {
	ClientKey    string `url:"client_key"`
	RedirectURI  string `url:"redirect_uri"`
	Scope        string `url:"scope"`
	State        string `url:"state"`
	ResponseType string `url:"response_type"`
}

func (s TikTokAdapter) BuildAuthorizationURL(state string) (string, error) {
	params, err := query.Values(tiktokAuthorizeParams{
		ClientKey:    s.Cfg.ClientID,
		RedirectURI:  s.Cfg.RedirectURL,
		Scope:        s.Cfg.ScopeString(","),
		State:        state,
		ResponseType: "code",
	})
	if err != nil {
		return "", err
	}
	return s.Cfg.AuthURL + "?" + params.Encode(), nil
}

type tiktokTokenRequest struct {
	ClientKey    string `json:"client_key"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code,omitempty"`
	GrantType    string `json:"grant_type"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// tiktokTokenEnvelope covers both response generations: current keys
// at the top level and legacy ones nested under data.
type tiktokTokenEnvelope struct {
	wireTokenPayload
	Data wireTokenPayload `json:"data"`
}

func (e tiktokTokenEnvelope) flatten() wireTokenPayload {
	if e.AccessToken != "" {
		return e.wireTokenPayload
	}
	return e.Data
}

func (s TikTokAdapter) ExchangeCode(ctx context.Context, code string) (Tokens, error) {
	return s.tokenCall(tiktokTokenRequest{
		ClientKey:    s.Cfg.ClientID,
		ClientSecret: s.Cfg.ClientSecret,
		Code:         code,
		GrantType:    "authorization_code",
		RedirectURI:  s.Cfg.RedirectURL,
	}, "")
}

func (s TikTokAdapter) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	return s.tokenCall(tiktokTokenRequest{
		ClientKey:    s.Cfg.ClientID,
		ClientSecret: s.Cfg.ClientSecret,
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
	}, refreshToken)
}

func (s TikTokAdapter) tokenCall(request tiktokTokenRequest, priorRefreshToken string) (Tokens, error) {
	resp, err := postJSON(s.Client, s.Platform(), s.Cfg.TokenURL, request, nil)
	if err != nil {
		return Tokens{}, err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return Tokens{}, err
	}
	envelope := tiktokTokenEnvelope{}
	if err := resp.decode(&envelope); err != nil {
		return Tokens{}, err
	}
	return normalizeTokens(envelope.flatten(), priorRefreshToken), nil
}

func (s TikTokAdapter) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	resp, err := getRequest(s.Client, s.Platform(),
		tiktokAPIBaseURL+"/user/info/?fields=open_id,display_name,follower_count", bearerHeader(accessToken))
	if err != nil {
		return Profile{}, err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return Profile{}, err
	}
	decoded := struct {
		Data struct {
			User struct {
				OpenID        string `json:"open_id"`
				DisplayName   string `json:"display_name"`
				FollowerCount int64  `json:"follower_count"`
			} `json:"user"`
		} `json:"data"`
	}{}
	if err := resp.decode(&decoded); err != nil {
		return Profile{}, err
	}
	user := decoded.Data.User
	metadata, _ := json.Marshal(map[string]interface{}{
		"followerCount": user.FollowerCount,
	})
	return Profile{
		ExternalAccountID:   user.OpenID,
		ExternalAccountName: user.DisplayName,
		MetadataJSON:        string(metadata),
	}, nil
}

// Publish initiates a direct post with PULL_FROM_URL sourcing so the
// platform downloads the video itself.
func (s TikTokAdapter) Publish(ctx context.Context, credential tables.Credential, item tables.ContentItem) (string, error) {
	videos, _ := splitMedia(item.MediaReferences)
	if len(videos) != 1 {
		return "", validationError(s.Platform(), "a video attachment is required")
	}
	payload := map[string]interface{}{
		"post_info": map[string]interface{}{
			"title":           item.Body,
			"privacy_level":   "PUBLIC_TO_EVERYONE",
			"disable_comment": false,
		},
		"source_info": map[string]interface{}{
			"source":    "PULL_FROM_URL",
			"video_url": videos[0],
		},
	}
	headers := bearerHeader(credential.AccessToken)
	headers["Content-Type"] = "application/json; charset=UTF-8"
	resp, err := postJSON(s.Client, s.Platform(), tiktokAPIBaseURL+"/post/publish/video/init/", payload, headers)
	if err != nil {
		return "", err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		log.Printf("correlationID: %s tiktok publish init failed: %s", item.ContentID, err)
		return "", err
	}
	created := struct {
		Data struct {
			PublishID string `json:"publish_id"`
		} `json:"data"`
	}{}
	if err := resp.decode(&created); err != nil {
		return "", err
	}
	return created.Data.PublishID, nil
}

// DeleteContent is unsupported by the content posting API.
func (s TikTokAdapter) DeleteContent(ctx context.Context, platformPostId string, accessToken string) bool {
	log.Printf("correlationID: %s tiktok does not support deleting posts via API", platformPostId)
	return false
}

// FetchMetrics is unavailable for direct posts; the publish id is an
// internal handle, not a queryable video id.
func (s TikTokAdapter) FetchMetrics(ctx context.Context, platformPostId string, accessToken string) (Metrics, error) {
	return Metrics{}, &PlatformError{
		Platform: s.Platform(),
		Kind:     KIND_UNKNOWN_PLATFORM,
		Message:  "metrics are not available for direct posts",
	}
}
