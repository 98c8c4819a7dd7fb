package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/go-querystring/query"

	config "github.com/crosspost-media-core/v2/configuration"
	tables "github.com/crosspost-media-core/v2/dal/tables/v1"

	"log"
)

// InstagramAdapter drives Instagram business accounts through the
// Graph API container flow: create a media container, poll until the
// platform finishes ingesting, then publish the container.
type InstagramAdapter struct {
	Cfg    OAuthConfig
	Client Doer

	// PollInterval overrides the container poll cadence in tests.
	PollInterval time.Duration
}

func (s InstagramAdapter) Platform() tables.Platform { return tables.Platform_Instagram }

func (s InstagramAdapter) BuildAuthorizationURL(state string) (string, error) {
	params, err := query.Values(graphAuthorizeParams{
		ClientID:     s.Cfg.ClientID,
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

func (s InstagramAdapter) ExchangeCode(ctx context.Context, code string) (Tokens, error) {
	params, err := query.Values(graphExchangeParams{
		ClientID:     s.Cfg.ClientID,
		ClientSecret: s.Cfg.ClientSecret,
		RedirectURI:  s.Cfg.RedirectURL,
		Code:         code,
	})
	if err != nil {
		return Tokens{}, err
	}
	return graphTokenCall(s.Client, s.Platform(), s.Cfg.TokenURL+"?"+params.Encode(), "")
}

func (s InstagramAdapter) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	params, err := query.Values(graphRefreshParams{
		GrantType:       "fb_exchange_token",
		ClientID:        s.Cfg.ClientID,
		ClientSecret:    s.Cfg.ClientSecret,
		FbExchangeToken: refreshToken,
	})
	if err != nil {
		return Tokens{}, err
	}
	return graphTokenCall(s.Client, s.Platform(), s.Cfg.TokenURL+"?"+params.Encode(), refreshToken)
}

// FetchProfile resolves the Instagram business account behind the
// token's first managed page.
func (s InstagramAdapter) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	resp, err := getRequest(s.Client, s.Platform(),
		fmt.Sprintf("%s/me/accounts?fields=instagram_business_account{id,username,followers_count},name&access_token=%s",
			graphBaseURL, accessToken), nil)
	if err != nil {
		return Profile{}, err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return Profile{}, err
	}
	pages := struct {
		Data []struct {
			Name                     string `json:"name"`
			InstagramBusinessAccount struct {
				ID             string `json:"id"`
				Username       string `json:"username"`
				FollowersCount int64  `json:"followers_count"`
			} `json:"instagram_business_account"`
		} `json:"data"`
	}{}
	if err := resp.decode(&pages); err != nil {
		return Profile{}, err
	}
	for _, page := range pages.Data {
		account := page.InstagramBusinessAccount
		if account.ID == "" {
			continue
		}
		metadata, _ := json.Marshal(map[string]interface{}{
			"followersCount": account.FollowersCount,
			"linkedPage":     page.Name,
		})
		return Profile{
			ExternalAccountID:   account.ID,
			ExternalAccountName: account.Username,
			MetadataJSON:        string(metadata),
		}, nil
	}
	return Profile{}, &PlatformError{
		Platform: s.Platform(),
		Kind:     KIND_PERMISSION_DENIED,
		Message:  "no instagram business account linked to managed pages",
	}
}

func (s InstagramAdapter) Publish(ctx context.Context, credential tables.Credential, item tables.ContentItem) (string, error) {
	accountId := credential.ExternalAccountID
	token := credential.AccessToken

	videos, images := splitMedia(item.MediaReferences)
	var containerId string
	var err error
	switch {
	case len(videos) == 1:
		containerId, err = s.createContainer(accountId, token, map[string]string{
			"media_type": "REELS",
			"video_url":  videos[0],
			"caption":    item.Body,
		})
	case len(images) == 1:
		containerId, err = s.createContainer(accountId, token, map[string]string{
			"image_url": images[0],
			"caption":   item.Body,
		})
	default:
		containerId, err = s.createCarousel(accountId, token, item.Body, images)
	}
	if err != nil {
		return "", err
	}
	if err := s.waitForContainer(ctx, item.ContentID, accountId, token, containerId); err != nil {
		return "", err
	}
	return s.publishContainer(accountId, token, containerId)
}

func (s InstagramAdapter) createContainer(accountId string, token string, fields map[string]string) (string, error) {
	fields["access_token"] = token
	resp, err := postJSON(s.Client, s.Platform(),
		fmt.Sprintf("%s/%s/media", graphBaseURL, accountId), fields, nil)
	if err != nil {
		return "", err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return "", err
	}
	created := graphPostResponse{}
	if err := resp.decode(&created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (s InstagramAdapter) createCarousel(accountId string, token string, caption string, imageUrls []string) (string, error) {
	childIds := make([]string, 0, len(imageUrls))
	for _, imageUrl := range imageUrls {
		childId, err := s.createContainer(accountId, token, map[string]string{
			"image_url":        imageUrl,
			"is_carousel_item": "true",
		})
		if err != nil {
			return "", err
		}
		childIds = append(childIds, childId)
	}
	childrenJson, err := json.Marshal(childIds)
	if err != nil {
		return "", err
	}
	return s.createContainer(accountId, token, map[string]string{
		"media_type": "CAROUSEL",
		"children":   string(childrenJson),
		"caption":    caption,
	})
}

// waitForContainer polls the container status until FINISHED, ERROR,
// or the attempt cap is reached.
func (s InstagramAdapter) waitForContainer(ctx context.Context, correlationId string,
	accountId string, token string, containerId string) error {
	maxAttempts := config.GetEnvConfigs().VideoPollMaxAttempts
	interval := s.PollInterval
	if interval == 0 {
		interval = time.Duration(config.GetEnvConfigs().VideoPollIntervalSec) * time.Second
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := getRequest(s.Client, s.Platform(),
			fmt.Sprintf("%s/%s?fields=status_code&access_token=%s", graphBaseURL, containerId, token), nil)
		if err != nil {
			return err
		}
		if err := requireOk(s.Platform(), resp); err != nil {
			return err
		}
		status := struct {
			StatusCode string `json:"status_code"`
		}{}
		if err := resp.decode(&status); err != nil {
			return err
		}
		switch status.StatusCode {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return &PlatformError{
				Platform: s.Platform(),
				Kind:     KIND_VALIDATION_FAILED,
				Message:  "media container processing failed with status " + status.StatusCode,
			}
		}
		log.Printf("correlationID: %s instagram container %s still %s, waiting", correlationId, containerId, status.StatusCode)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return &PlatformError{
		Platform: s.Platform(),
		Kind:     KIND_TRANSIENT_NETWORK,
		Message:  "timed out waiting for media container to finish processing",
	}
}

func (s InstagramAdapter) publishContainer(accountId string, token string, containerId string) (string, error) {
	resp, err := postJSON(s.Client, s.Platform(),
		fmt.Sprintf("%s/%s/media_publish", graphBaseURL, accountId), map[string]string{
			"creation_id":  containerId,
			"access_token": token,
		}, nil)
	if err != nil {
		return "", err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return "", err
	}
	created := graphPostResponse{}
	if err := resp.decode(&created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// DeleteContent is unsupported by the Instagram content publishing
// API; published media must be removed in the app.
func (s InstagramAdapter) DeleteContent(ctx context.Context, platformPostId string, accessToken string) bool {
	log.Printf("correlationID: %s instagram does not support deleting published media via API", platformPostId)
	return false
}

func (s InstagramAdapter) FetchMetrics(ctx context.Context, platformPostId string, accessToken string) (Metrics, error) {
	resp, err := getRequest(s.Client, s.Platform(),
		fmt.Sprintf("%s/%s?fields=like_count,comments_count&access_token=%s",
			graphBaseURL, platformPostId, accessToken), nil)
	if err != nil {
		return Metrics{}, err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return Metrics{}, err
	}
	decoded := struct {
		LikeCount     int64 `json:"like_count"`
		CommentsCount int64 `json:"comments_count"`
	}{}
	if err := resp.decode(&decoded); err != nil {
		return Metrics{}, err
	}
	return Metrics{Likes: decoded.LikeCount, Comments: decoded.CommentsCount}, nil
}
