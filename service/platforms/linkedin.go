package platforms

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/go-querystring/query"

	tables "github.com/crosspost-media-core/v2/dal/tables/v1"

	"log"
)

const linkedinAPIBaseURL = "https://api.linkedin.com/v2"

type LinkedInAdapter struct {
	Cfg    OAuthConfig
	Client Doer
}

func (s LinkedInAdapter) Platform() tables.Platform { return tables.Platform_LinkedIn }

type linkedinAuthorizeParams struct {
	ResponseType string `url:"response_type"`
	ClientID     string `url:"client_id"`
	RedirectURI  string `url:"redirect_uri"`
	Scope        string `url:"scope"`
	State        string `url:"state"`
}

func (s LinkedInAdapter) BuildAuthorizationURL(state string) (string, error) {
	params, err := query.Values(linkedinAuthorizeParams{
		ResponseType: "code",
		ClientID:     s.Cfg.ClientID,
		RedirectURI:  s.Cfg.RedirectURL,
		Scope:        s.Cfg.ScopeString(" "),
		State:        state,
	})
	if err != nil {
		return "", err
	}
	return s.Cfg.AuthURL + "?" + params.Encode(), nil
}

func (s LinkedInAdapter) ExchangeCode(ctx context.Context, code string) (Tokens, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", s.Cfg.RedirectURL)
	form.Set("client_id", s.Cfg.ClientID)
	form.Set("client_secret", s.Cfg.ClientSecret)
	return s.tokenCall(form, "")
}

func (s LinkedInAdapter) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", s.Cfg.ClientID)
	form.Set("client_secret", s.Cfg.ClientSecret)
	return s.tokenCall(form, refreshToken)
}

func (s LinkedInAdapter) tokenCall(form url.Values, priorRefreshToken string) (Tokens, error) {
	resp, err := postForm(s.Client, s.Platform(), s.Cfg.TokenURL, form, nil)
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

func (s LinkedInAdapter) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	resp, err := getRequest(s.Client, s.Platform(), linkedinAPIBaseURL+"/me", bearerHeader(accessToken))
	if err != nil {
		return Profile{}, err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return Profile{}, err
	}
	decoded := struct {
		ID                 string `json:"id"`
		LocalizedFirstName string `json:"localizedFirstName"`
		LocalizedLastName  string `json:"localizedLastName"`
	}{}
	if err := resp.decode(&decoded); err != nil {
		return Profile{}, err
	}
	return Profile{
		ExternalAccountID:   decoded.ID,
		ExternalAccountName: decoded.LocalizedFirstName + " " + decoded.LocalizedLastName,
	}, nil
}

func restliHeaders(accessToken string) map[string]string {
	headers := bearerHeader(accessToken)
	headers["X-Restli-Protocol-Version"] = "2.0.0"
	return headers
}

func (s LinkedInAdapter) Publish(ctx context.Context, credential tables.Credential, item tables.ContentItem) (string, error) {
	authorUrn := "urn:li:person:" + credential.ExternalAccountID
	token := credential.AccessToken

	assetUrns := make([]string, 0, len(item.MediaReferences))
	for _, mediaUrl := range item.MediaReferences {
		assetUrn, err := s.uploadAsset(authorUrn, token, mediaUrl, item.ContentID)
		if err != nil {
			return "", err
		}
		assetUrns = append(assetUrns, assetUrn)
	}
	return s.createShare(authorUrn, token, item, assetUrns)
}

// uploadAsset registers an upload slot, then PUTs the media bytes to
// the returned upload URL.
func (s LinkedInAdapter) uploadAsset(authorUrn string, token string, mediaUrl string, correlationId string) (string, error) {
	registerPayload := map[string]interface{}{
		"registerUploadRequest": map[string]interface{}{
			"recipes": []string{"urn:li:digitalmediaRecipe:feedshare-image"},
			"owner":   authorUrn,
			"serviceRelationships": []map[string]string{
				{
					"relationshipType": "OWNER",
					"identifier":       "urn:li:userGeneratedContent",
				},
			},
		},
	}
	resp, err := postJSON(s.Client, s.Platform(),
		linkedinAPIBaseURL+"/assets?action=registerUpload", registerPayload, restliHeaders(token))
	if err != nil {
		return "", err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return "", err
	}
	registered := struct {
		Value struct {
			Asset           string `json:"asset"`
			UploadMechanism map[string]struct {
				UploadURL string `json:"uploadUrl"`
			} `json:"uploadMechanism"`
		} `json:"value"`
	}{}
	if err := resp.decode(&registered); err != nil {
		return "", err
	}
	uploadUrl := ""
	for _, mechanism := range registered.Value.UploadMechanism {
		if mechanism.UploadURL != "" {
			uploadUrl = mechanism.UploadURL
			break
		}
	}
	if uploadUrl == "" {
		return "", fmt.Errorf("linkedin returned no upload mechanism for asset %s", registered.Value.Asset)
	}

	payload, contentType, err := downloadMedia(s.Client, s.Platform(), mediaUrl)
	if err != nil {
		return "", err
	}
	headers := bearerHeader(token)
	headers["Content-Type"] = contentType
	uploadResp, err := putBytes(s.Client, s.Platform(), uploadUrl, payload, headers)
	if err != nil {
		return "", err
	}
	if err := requireOk(s.Platform(), uploadResp); err != nil {
		log.Printf("correlationID: %s linkedin asset upload failed: %s", correlationId, err)
		return "", err
	}
	return registered.Value.Asset, nil
}

func (s LinkedInAdapter) createShare(authorUrn string, token string, item tables.ContentItem, assetUrns []string) (string, error) {
	shareCategory := "NONE"
	media := []map[string]interface{}{}
	if len(assetUrns) > 0 {
		shareCategory = "IMAGE"
		for _, assetUrn := range assetUrns {
			media = append(media, map[string]interface{}{
				"status": "READY",
				"media":  assetUrn,
			})
		}
	}
	payload := map[string]interface{}{
		"author":         authorUrn,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]interface{}{
			"com.linkedin.ugc.ShareContent": map[string]interface{}{
				"shareCommentary": map[string]string{
					"text": item.Body,
				},
				"shareMediaCategory": shareCategory,
				"media":              media,
			},
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}
	resp, err := postJSON(s.Client, s.Platform(), linkedinAPIBaseURL+"/ugcPosts", payload, restliHeaders(token))
	if err != nil {
		return "", err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return "", err
	}
	created := struct {
		ID string `json:"id"`
	}{}
	if err := resp.decode(&created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (s LinkedInAdapter) DeleteContent(ctx context.Context, platformPostId string, accessToken string) bool {
	resp, err := deleteRequest(s.Client, s.Platform(),
		linkedinAPIBaseURL+"/ugcPosts/"+url.PathEscape(platformPostId), restliHeaders(accessToken))
	if err != nil {
		log.Printf("correlationID: %s linkedin delete failed: %s", platformPostId, err)
		return false
	}
	return resp.ok()
}

func (s LinkedInAdapter) FetchMetrics(ctx context.Context, platformPostId string, accessToken string) (Metrics, error) {
	endpoint := fmt.Sprintf("%s/socialActions/%s", linkedinAPIBaseURL, url.PathEscape(platformPostId))
	resp, err := getRequest(s.Client, s.Platform(), endpoint, restliHeaders(accessToken))
	if err != nil {
		return Metrics{}, err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return Metrics{}, err
	}
	decoded := struct {
		LikesSummary struct {
			TotalLikes int64 `json:"totalLikes"`
		} `json:"likesSummary"`
		CommentsSummary struct {
			TotalFirstLevelComments int64 `json:"totalFirstLevelComments"`
		} `json:"commentsSummary"`
	}{}
	if err := resp.decode(&decoded); err != nil {
		return Metrics{}, err
	}
	return Metrics{
		Likes:    decoded.LikesSummary.TotalLikes,
		Comments: decoded.CommentsSummary.TotalFirstLevelComments,
	}, nil
}
