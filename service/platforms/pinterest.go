package platforms

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/google/go-querystring/query"

	tables "github.com/crosspost-media-core/v2/dal/tables/v1"

	"log"
)

const pinterestAPIBaseURL = "https://api.pinterest.com/v5"

type PinterestAdapter struct {
	Cfg    OAuthConfig
	Client Doer
}

func (s PinterestAdapter) Platform() tables.Platform { return tables.Platform_Pinterest }

type pinterestAuthorizeParams struct {
	ClientID     string `url:"client_id"`
	RedirectURI  string `url:"redirect_uri"`
	ResponseType string `url:"response_type"`
	Scope        string `url:"scope"`
	State        string `url:"state"`
}

func (s PinterestAdapter) BuildAuthorizationURL(state string) (string, error) {
	params, err := query.Values(pinterestAuthorizeParams{
		ClientID:     s.Cfg.ClientID,
		RedirectURI:  s.Cfg.RedirectURL,
		ResponseType: "code",
		Scope:        s.Cfg.ScopeString(","),
		State:        state,
	})
	if err != nil {
		return "", err
	}
	return s.Cfg.AuthURL + "?" + params.Encode(), nil
}

func (s PinterestAdapter) basicAuthHeader() map[string]string {
	raw := base64.StdEncoding.EncodeToString([]byte(s.Cfg.ClientID + ":" + s.Cfg.ClientSecret))
	return map[string]string{"Authorization": "Basic " + raw}
}

func (s PinterestAdapter) ExchangeCode(ctx context.Context, code string) (Tokens, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", s.Cfg.RedirectURL)
	return s.tokenCall(form, "")
}

func (s PinterestAdapter) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return s.tokenCall(form, refreshToken)
}

func (s PinterestAdapter) tokenCall(form url.Values, priorRefreshToken string) (Tokens, error) {
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

// FetchProfile records the default board alongside the account so
// publishes have a pin destination.
func (s PinterestAdapter) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	resp, err := getRequest(s.Client, s.Platform(),
		pinterestAPIBaseURL+"/user_account", bearerHeader(accessToken))
	if err != nil {
		return Profile{}, err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return Profile{}, err
	}
	account := struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		FollowerCount int64  `json:"follower_count"`
	}{}
	if err := resp.decode(&account); err != nil {
		return Profile{}, err
	}

	metadata := map[string]interface{}{
		"followerCount": account.FollowerCount,
	}
	boardsResp, err := getRequest(s.Client, s.Platform(),
		pinterestAPIBaseURL+"/boards?page_size=1", bearerHeader(accessToken))
	if err == nil && boardsResp.ok() {
		boards := struct {
			Items []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"items"`
		}{}
		if boardsResp.decode(&boards) == nil && len(boards.Items) > 0 {
			metadata["defaultBoardId"] = boards.Items[0].ID
			metadata["defaultBoardName"] = boards.Items[0].Name
		}
	}
	metadataJson, _ := json.Marshal(metadata)
	return Profile{
		ExternalAccountID:   account.ID,
		ExternalAccountName: account.Username,
		MetadataJSON:        string(metadataJson),
	}, nil
}

func (s PinterestAdapter) Publish(ctx context.Context, credential tables.Credential, item tables.ContentItem) (string, error) {
	_, images := splitMedia(item.MediaReferences)
	if len(images) == 0 {
		return "", validationError(s.Platform(), "an image attachment is required")
	}
	boardId := defaultBoardId(credential.ProfileMetadata)
	if boardId == "" {
		return "", &PlatformError{
			Platform: s.Platform(),
			Kind:     KIND_VALIDATION_FAILED,
			Message:  "no default board recorded for this account",
		}
	}
	payload := map[string]interface{}{
		"board_id":    boardId,
		"description": item.Body,
		"media_source": map[string]string{
			"source_type": "image_url",
			"url":         images[0],
		},
	}
	resp, err := postJSON(s.Client, s.Platform(), pinterestAPIBaseURL+"/pins",
		payload, bearerHeader(credential.AccessToken))
	if err != nil {
		return "", err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		log.Printf("correlationID: %s pinterest pin create failed: %s", item.ContentID, err)
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

func defaultBoardId(profileMetadata string) string {
	if profileMetadata == "" {
		return ""
	}
	metadata := struct {
		DefaultBoardID string `json:"defaultBoardId"`
	}{}
	if err := json.Unmarshal([]byte(profileMetadata), &metadata); err != nil {
		return ""
	}
	return metadata.DefaultBoardID
}

func (s PinterestAdapter) DeleteContent(ctx context.Context, platformPostId string, accessToken string) bool {
	resp, err := deleteRequest(s.Client, s.Platform(),
		fmt.Sprintf("%s/pins/%s", pinterestAPIBaseURL, platformPostId), bearerHeader(accessToken))
	if err != nil {
		log.Printf("correlationID: %s pinterest delete failed: %s", platformPostId, err)
		return false
	}
	return resp.ok()
}

func (s PinterestAdapter) FetchMetrics(ctx context.Context, platformPostId string, accessToken string) (Metrics, error) {
	resp, err := getRequest(s.Client, s.Platform(),
		fmt.Sprintf("%s/pins/%s", pinterestAPIBaseURL, platformPostId), bearerHeader(accessToken))
	if err != nil {
		return Metrics{}, err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return Metrics{}, err
	}
	decoded := struct {
		PinMetrics struct {
			SaveCount       int64 `json:"save_count"`
			PinClickCount   int64 `json:"pin_click_count"`
			ImpressionCount int64 `json:"impression_count"`
		} `json:"pin_metrics"`
	}{}
	if err := resp.decode(&decoded); err != nil {
		return Metrics{}, err
	}
	return Metrics{
		Shares:      decoded.PinMetrics.SaveCount,
		Comments:    decoded.PinMetrics.PinClickCount,
		Impressions: decoded.PinMetrics.ImpressionCount,
	}, nil
}
