package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	youtubeapi "google.golang.org/api/youtube/v3"

	tables "github.com/crosspost-media-core/v2/dal/tables/v1"

	"log"
)

const youtubeDataAPIBaseURL = "https://www.googleapis.com/youtube/v3"

// YouTubeAdapter uploads videos through the Data API client and runs
// its OAuth flow on the standard oauth2 transport.
type YouTubeAdapter struct {
	Cfg    OAuthConfig
	Client Doer
}

func (s YouTubeAdapter) Platform() tables.Platform { return tables.Platform_YouTube }

func (s YouTubeAdapter) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.Cfg.ClientID,
		ClientSecret: s.Cfg.ClientSecret,
		RedirectURL:  s.Cfg.RedirectURL,
		Scopes:       s.Cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  s.Cfg.AuthURL,
			TokenURL: s.Cfg.TokenURL,
		},
	}
}

// BuildAuthorizationURL requests offline access with forced consent so
// Google issues a refresh token on every connect, not only the first.
func (s YouTubeAdapter) BuildAuthorizationURL(state string) (string, error) {
	return s.oauthConfig().AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent")), nil
}

func (s YouTubeAdapter) ExchangeCode(ctx context.Context, code string) (Tokens, error) {
	token, err := s.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return Tokens{}, networkError(s.Platform(), err)
	}
	return fromOauth2Token(token, ""), nil
}

func (s YouTubeAdapter) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	source := s.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return Tokens{}, networkError(s.Platform(), err)
	}
	return fromOauth2Token(token, refreshToken), nil
}

func fromOauth2Token(token *oauth2.Token, priorRefreshToken string) Tokens {
	result := Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if result.RefreshToken == "" {
		result.RefreshToken = priorRefreshToken
	}
	if !token.Expiry.IsZero() {
		result.ExpiresAtEpochSec = token.Expiry.Unix()
	}
	return result
}

// FetchProfile reads the token's own channel over the injected client
// rather than the generated service, keeping it testable with canned
// responses.
func (s YouTubeAdapter) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	resp, err := getRequest(s.Client, s.Platform(),
		youtubeDataAPIBaseURL+"/channels?part=snippet,statistics&mine=true", bearerHeader(accessToken))
	if err != nil {
		return Profile{}, err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return Profile{}, err
	}
	decoded := struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title string `json:"title"`
			} `json:"snippet"`
			Statistics struct {
				SubscriberCount string `json:"subscriberCount"`
			} `json:"statistics"`
		} `json:"items"`
	}{}
	if err := resp.decode(&decoded); err != nil {
		return Profile{}, err
	}
	if len(decoded.Items) == 0 {
		return Profile{}, &PlatformError{
			Platform: s.Platform(),
			Kind:     KIND_PERMISSION_DENIED,
			Message:  "no channel associated with this token",
		}
	}
	channel := decoded.Items[0]
	metadata, _ := json.Marshal(map[string]interface{}{
		"subscriberCount": channel.Statistics.SubscriberCount,
	})
	return Profile{
		ExternalAccountID:   channel.ID,
		ExternalAccountName: channel.Snippet.Title,
		MetadataJSON:        string(metadata),
	}, nil
}

func (s YouTubeAdapter) Publish(ctx context.Context, credential tables.Credential, item tables.ContentItem) (string, error) {
	videos, _ := splitMedia(item.MediaReferences)
	if len(videos) != 1 {
		return "", validationError(s.Platform(), "a video attachment is required")
	}
	payload, _, err := downloadMedia(s.Client, s.Platform(), videos[0])
	if err != nil {
		log.Printf("correlationID: %s error downloading youtube video: %s", item.ContentID, err)
		return "", err
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: credential.AccessToken,
		Expiry:      time.Now().Add(time.Hour),
	}))
	service, err := youtubeapi.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return "", err
	}

	title := item.Body
	if len([]rune(title)) > 100 {
		title = string([]rune(title)[:100])
	}
	video := &youtubeapi.Video{
		Snippet: &youtubeapi.VideoSnippet{
			Title:       title,
			Description: item.Body,
			CategoryId:  "22",
		},
		Status: &youtubeapi.VideoStatus{
			PrivacyStatus: "public",
		},
	}
	inserted, err := service.Videos.Insert([]string{"snippet", "status"}, video).
		Media(bytes.NewReader(payload)).Do()
	if err != nil {
		log.Printf("correlationID: %s youtube upload failed: %s", item.ContentID, err)
		return "", networkError(s.Platform(), err)
	}
	return inserted.Id, nil
}

func (s YouTubeAdapter) DeleteContent(ctx context.Context, platformPostId string, accessToken string) bool {
	resp, err := deleteRequest(s.Client, s.Platform(),
		fmt.Sprintf("%s/videos?id=%s", youtubeDataAPIBaseURL, platformPostId), bearerHeader(accessToken))
	if err != nil {
		log.Printf("correlationID: %s youtube delete failed: %s", platformPostId, err)
		return false
	}
	return resp.ok()
}

func (s YouTubeAdapter) FetchMetrics(ctx context.Context, platformPostId string, accessToken string) (Metrics, error) {
	resp, err := getRequest(s.Client, s.Platform(),
		fmt.Sprintf("%s/videos?part=statistics&id=%s", youtubeDataAPIBaseURL, platformPostId),
		bearerHeader(accessToken))
	if err != nil {
		return Metrics{}, err
	}
	if err := requireOk(s.Platform(), resp); err != nil {
		return Metrics{}, err
	}
	decoded := struct {
		Items []struct {
			Statistics struct {
				ViewCount    int64 `json:"viewCount,string"`
				LikeCount    int64 `json:"likeCount,string"`
				CommentCount int64 `json:"commentCount,string"`
			} `json:"statistics"`
		} `json:"items"`
	}{}
	if err := resp.decode(&decoded); err != nil {
		return Metrics{}, err
	}
	if len(decoded.Items) == 0 {
		return Metrics{}, fmt.Errorf("video %s not found", platformPostId)
	}
	stats := decoded.Items[0].Statistics
	return Metrics{
		Likes:       stats.LikeCount,
		Comments:    stats.CommentCount,
		Impressions: stats.ViewCount,
	}, nil
}
