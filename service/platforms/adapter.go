package platforms

import (
	"context"

	tables "github.com/crosspost-media-core/v2/dal/tables/v1"
)

type Tokens struct {
	AccessToken       string
	RefreshToken      string
	ExpiresAtEpochSec int64 // 0 means non-expiring
	Scope             string
}

type Profile struct {
	ExternalAccountID   string
	ExternalAccountName string
	MetadataJSON        string
}

type Metrics struct {
	Likes       int64
	Comments    int64
	Shares      int64
	Impressions int64
}

// Adapter is the per-platform integration surface. One value-typed
// adapter exists per platform; each holds its OAuth config and an
// injected HTTP client.
type Adapter interface {
	Platform() tables.Platform
	BuildAuthorizationURL(state string) (string, error)
	ExchangeCode(ctx context.Context, code string) (Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
	FetchProfile(ctx context.Context, accessToken string) (Profile, error)
	Publish(ctx context.Context, credential tables.Credential, item tables.ContentItem) (string, error)
	DeleteContent(ctx context.Context, platformPostId string, accessToken string) bool
	FetchMetrics(ctx context.Context, platformPostId string, accessToken string) (Metrics, error)
}

// GetAdapter resolves the adapter for a platform with app credentials
// loaded from the environment.
func GetAdapter(platform tables.Platform) (Adapter, error) {
	cfg, err := GetOAuthConfig(platform)
	if err != nil {
		return nil, err
	}
	client := defaultHTTPClient()
	switch platform {
	case tables.Platform_Facebook:
		return FacebookAdapter{Cfg: cfg, Client: client}, nil
	case tables.Platform_Instagram:
		return InstagramAdapter{Cfg: cfg, Client: client}, nil
	case tables.Platform_Twitter:
		return TwitterAdapter{Cfg: cfg, Client: client}, nil
	case tables.Platform_LinkedIn:
		return LinkedInAdapter{Cfg: cfg, Client: client}, nil
	case tables.Platform_TikTok:
		return TikTokAdapter{Cfg: cfg, Client: extendedHTTPClient()}, nil
	case tables.Platform_YouTube:
		return YouTubeAdapter{Cfg: cfg, Client: extendedHTTPClient()}, nil
	case tables.Platform_Pinterest:
		return PinterestAdapter{Cfg: cfg, Client: client}, nil
	}
	return nil, &PlatformError{
		Platform: platform,
		Kind:     KIND_UNKNOWN_PLATFORM,
		Message:  "no matching platform adapter found",
	}
}
