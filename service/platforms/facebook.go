package platforms

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/go-querystring/query"

	tables "github.com/crosspost-media-core/v2/dal/tables/v1"

	"log"
)

const graphBaseURL = "https://graph.facebook.com/v18.0"

type FacebookAdapter struct {
	Cfg    OAuthConfig
	Client Doer
}

func (s FacebookAdapter) Platform() tables.Platform { return tables.Platform_Facebook }

type graphAuthorizeParams struct {
	ClientID     string `url:"client_id"`
	RedirectURI  string `url:"redirect_uri"`
	Scope        string `url:"scope"`
	State        string `url:"state"`
	ResponseType string `url:"response_type"`
}

func (s FacebookAdapter) BuildAuthorizationURL(state string) (string, error) {
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

type graphExchangeParams struct {
	ClientID     string `url:"client_id"`
	ClientSecret string `url:"client_secret"`
	RedirectURI  string `url:"redirect_uri"`
	Code         string `url:"code"`
}

func (s FacebookAdapter) ExchangeCode(ctx context.Context, code string) (Tokens, error) {
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

type graphRefreshParams struct {
	GrantType       string `url:"grant_type"`
	ClientID        string `url:"client_id"`
	ClientSecret    string `url:"client_secret"`
	FbExchangeToken string `url:"fb_exchange_token"`
}

// Refresh swaps the current token for a fresh long-lived one. The
// Graph API has no refresh tokens; the access token itself is the
// exchange input.
func (s FacebookAdapter) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
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

// graphTokenCall performs the token GET shared by exchange and refresh
// on Graph API platforms.
func graphTokenCall(client Doer, platform tables.Platform, endpoint string, priorRefreshToken string) (Tokens, error) {
	resp, err := getRequest(client, platform, endpoint, nil)
	if err != nil {
		return Tokens{}, err
	}
	if err := requireOk(platform, resp); err != nil {
		return Tokens{}, err
	}
	payload := wireTokenPayload{}
	if err := resp.decode(&payload); err != nil {
		return Tokens{}, err
	}
	tokens := normalizeTokens(payload, priorRefreshToken)
	// Long-lived Graph tokens continue to work via fb_exchange_token,
	// so the access token doubles as the refresh input.
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = tokens.AccessToken
	}
	return tokens, nil
}

type graphPage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
	Category    string `json:"category"`
}

func (s FacebookAdapter) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	resp, err := getRequest(s.Client, s.Platform(),
		fmt.Sprintf("%s/me/accounts?access_token=%s", graphBaseURL, accessToken), nil)
	if err != nil {
		return Profile{}, err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return Profile{}, err
	}
	pages := struct {
		Data []graphPage `json:"data"`
	}{}
	if err := resp.decode(&pages); err != nil {
		return Profile{}, err
	}
	if len(pages.Data) == 0 {
		return Profile{}, &PlatformError{
			Platform: s.Platform(),
			Kind:     KIND_PERMISSION_DENIED,
			Message:  "no managed pages granted to this token",
		}
	}
	first := pages.Data[0]
	metadata, _ := json.Marshal(map[string]interface{}{
		"pageCount":    len(pages.Data),
		"pageCategory": first.Category,
	})
	return Profile{
		ExternalAccountID:   first.ID,
		ExternalAccountName: first.Name,
		MetadataJSON:        string(metadata),
	}, nil
}

// Publish posts to the connected page feed. A single image becomes a
// photo post, multiple images become an album via unpublished photos
// with attached_media, and a video goes through the videos edge.
func (s FacebookAdapter) Publish(ctx context.Context, credential tables.Credential, item tables.ContentItem) (string, error) {
	pageId := credential.ExternalAccountID
	token := credential.AccessToken

	videos, images := splitMedia(item.MediaReferences)
	switch {
	case len(videos) == 1:
		return s.publishVideo(pageId, token, item, videos[0])
	case len(images) == 1:
		return s.publishPhoto(pageId, token, item, images[0])
	case len(images) > 1:
		return s.publishAlbum(pageId, token, item, images)
	default:
		return s.publishFeed(pageId, token, item)
	}
}

type graphPostResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
}

func (g graphPostResponse) bestId() string {
	if g.PostID != "" {
		return g.PostID
	}
	return g.ID
}

func (s FacebookAdapter) publishFeed(pageId string, token string, item tables.ContentItem) (string, error) {
	payload := map[string]string{
		"message":      item.Body,
		"access_token": token,
	}
	return s.graphCreate(fmt.Sprintf("%s/%s/feed", graphBaseURL, pageId), payload, item.ContentID)
}

func (s FacebookAdapter) publishPhoto(pageId string, token string, item tables.ContentItem, imageUrl string) (string, error) {
	payload := map[string]string{
		"url":          imageUrl,
		"caption":      item.Body,
		"access_token": token,
	}
	return s.graphCreate(fmt.Sprintf("%s/%s/photos", graphBaseURL, pageId), payload, item.ContentID)
}

func (s FacebookAdapter) publishAlbum(pageId string, token string, item tables.ContentItem, imageUrls []string) (string, error) {
	attached := make([]map[string]string, 0, len(imageUrls))
	for _, imageUrl := range imageUrls {
		payload := map[string]string{
			"url":          imageUrl,
			"published":    "false",
			"access_token": token,
		}
		photoId, err := s.graphCreate(fmt.Sprintf("%s/%s/photos", graphBaseURL, pageId), payload, item.ContentID)
		if err != nil {
			return "", err
		}
		attached = append(attached, map[string]string{"media_fbid": photoId})
	}
	attachedJson, err := json.Marshal(attached)
	if err != nil {
		return "", err
	}
	payload := map[string]string{
		"message":        item.Body,
		"attached_media": string(attachedJson),
		"access_token":   token,
	}
	return s.graphCreate(fmt.Sprintf("%s/%s/feed", graphBaseURL, pageId), payload, item.ContentID)
}

func (s FacebookAdapter) publishVideo(pageId string, token string, item tables.ContentItem, videoUrl string) (string, error) {
	payload := map[string]string{
		"file_url":     videoUrl,
		"description":  item.Body,
		"access_token": token,
	}
	return s.graphCreate(fmt.Sprintf("%s/%s/videos", graphBaseURL, pageId), payload, item.ContentID)
}

func (s FacebookAdapter) graphCreate(endpoint string, payload map[string]string, correlationId string) (string, error) {
	resp, err := postJSON(s.Client, s.Platform(), endpoint, payload, nil)
	if err != nil {
		return "", err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		log.Printf("correlationID: %s facebook create failed: %s", correlationId, err)
		return "", err
	}
	created := graphPostResponse{}
	if err := resp.decode(&created); err != nil {
		return "", err
	}
	return created.bestId(), nil
}

func (s FacebookAdapter) DeleteContent(ctx context.Context, platformPostId string, accessToken string) bool {
	resp, err := deleteRequest(s.Client, s.Platform(),
		fmt.Sprintf("%s/%s?access_token=%s", graphBaseURL, platformPostId, accessToken), nil)
	if err != nil {
		log.Printf("correlationID: %s facebook delete failed: %s", platformPostId, err)
		return false
	}
	return resp.ok()
}

type graphMetricsResponse struct {
	Likes struct {
		Summary struct {
			TotalCount int64 `json:"total_count"`
		} `json:"summary"`
	} `json:"likes"`
	Comments struct {
		Summary struct {
			TotalCount int64 `json:"total_count"`
		} `json:"summary"`
	} `json:"comments"`
	Shares struct {
		Count int64 `json:"count"`
	} `json:"shares"`
}

func (s FacebookAdapter) FetchMetrics(ctx context.Context, platformPostId string, accessToken string) (Metrics, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=likes.summary(true),comments.summary(true),shares&access_token=%s",
		graphBaseURL, platformPostId, accessToken)
	resp, err := getRequest(s.Client, s.Platform(), endpoint, nil)
	if err != nil {
		return Metrics{}, err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return Metrics{}, err
	}
	decoded := graphMetricsResponse{}
	if err := resp.decode(&decoded); err != nil {
		return Metrics{}, err
	}
	return Metrics{
		Likes:    decoded.Likes.Summary.TotalCount,
		Comments: decoded.Comments.Summary.TotalCount,
		Shares:   decoded.Shares.Count,
	}, nil
}

// splitMedia partitions media references into videos and images.
func splitMedia(mediaRefs []string) (videos []string, images []string) {
	for _, mediaUrl := range mediaRefs {
		if isVideoURL(mediaUrl) {
			videos = append(videos, mediaUrl)
		} else {
			images = append(images, mediaUrl)
		}
	}
	return videos, images
}
