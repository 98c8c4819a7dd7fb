package platforms

import (
	"fmt"
	"os"
	"strings"

	"bitbucket.org/creachadair/stringset"

	config "github.com/crosspost-media-core/v2/configuration"
	tables "github.com/crosspost-media-core/v2/dal/tables/v1"
)

// OAuthConfig holds a platform's application credentials and endpoints.
// Client credentials come from the environment; endpoints are fixed per
// platform.
type OAuthConfig struct {
	Platform     tables.Platform
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	RedirectURL  string
}

func redirectFor(platform tables.Platform) string {
	return fmt.Sprintf("%s/v1/oauth/%s/callback", config.GetEnvConfigs().BaseURL, platform)
}

var envKeysByPlatform = map[tables.Platform][2]string{
	tables.Platform_Facebook:  {"FACEBOOK_APP_ID", "FACEBOOK_APP_SECRET"},
	tables.Platform_Instagram: {"INSTAGRAM_CLIENT_ID", "INSTAGRAM_CLIENT_SECRET"},
	tables.Platform_Twitter:   {"TWITTER_CLIENT_ID", "TWITTER_CLIENT_SECRET"},
	tables.Platform_LinkedIn:  {"LINKEDIN_CLIENT_ID", "LINKEDIN_CLIENT_SECRET"},
	tables.Platform_TikTok:    {"TIKTOK_CLIENT_KEY", "TIKTOK_CLIENT_SECRET"},
	tables.Platform_YouTube:   {"YOUTUBE_CLIENT_ID", "YOUTUBE_CLIENT_SECRET"},
	tables.Platform_Pinterest: {"PINTEREST_APP_ID", "PINTEREST_APP_SECRET"},
}

func GetOAuthConfig(platform tables.Platform) (OAuthConfig, error) {
	keys, ok := envKeysByPlatform[platform]
	if !ok {
		return OAuthConfig{}, &PlatformError{
			Platform: platform,
			Kind:     KIND_UNKNOWN_PLATFORM,
			Message:  "unsupported platform",
		}
	}
	result := OAuthConfig{
		Platform:     platform,
		ClientID:     os.Getenv(keys[0]),
		ClientSecret: os.Getenv(keys[1]),
		RedirectURL:  redirectFor(platform),
	}
	if result.ClientID == "" || result.ClientSecret == "" {
		return result, fmt.Errorf("platform %s app credentials not configured, expected env %s and %s",
			platform, keys[0], keys[1])
	}

	switch platform {
	case tables.Platform_Facebook:
		result.AuthURL = "https://www.facebook.com/v18.0/dialog/oauth"
		result.TokenURL = "https://graph.facebook.com/v18.0/oauth/access_token"
		result.Scopes = []string{"pages_manage_posts", "pages_read_engagement", "pages_show_list"}
	case tables.Platform_Instagram:
		result.AuthURL = "https://www.facebook.com/v18.0/dialog/oauth"
		result.TokenURL = "https://graph.facebook.com/v18.0/oauth/access_token"
		result.Scopes = []string{"instagram_basic", "instagram_content_publish", "pages_show_list"}
	case tables.Platform_Twitter:
		result.AuthURL = "https://twitter.com/i/oauth2/authorize"
		result.TokenURL = "https://api.twitter.com/2/oauth2/token"
		result.Scopes = []string{"tweet.read", "tweet.write", "users.read", "offline.access"}
	case tables.Platform_LinkedIn:
		result.AuthURL = "https://www.linkedin.com/oauth/v2/authorization"
		result.TokenURL = "https://www.linkedin.com/oauth/v2/accessToken"
		result.Scopes = []string{"w_member_social", "r_liteprofile"}
	case tables.Platform_TikTok:
		result.AuthURL = "https://www.tiktok.com/v2/auth/authorize/"
		result.TokenURL = "https://open.tiktokapis.com/v2/oauth/token/"
		result.Scopes = []string{"user.info.basic", "video.publish"}
	case tables.Platform_YouTube:
		result.AuthURL = "https://accounts.google.com/o/oauth2/v2/auth"
		result.TokenURL = "https://oauth2.googleapis.com/token"
		result.Scopes = []string{
			"https://www.googleapis.com/auth/youtube.upload",
			"https://www.googleapis.com/auth/youtube.readonly",
		}
	case tables.Platform_Pinterest:
		result.AuthURL = "https://www.pinterest.com/oauth/"
		result.TokenURL = "https://api.pinterest.com/v5/oauth/token"
		result.Scopes = []string{"boards:read", "pins:read", "pins:write"}
	}
	return result, nil
}

func (c OAuthConfig) ScopeString(separator string) string {
	return strings.Join(c.Scopes, separator)
}

// ConfiguredPlatforms returns the platforms whose app credentials are
// present in the environment.
func ConfiguredPlatforms() stringset.Set {
	configured := stringset.New()
	for platform, keys := range envKeysByPlatform {
		if os.Getenv(keys[0]) != "" && os.Getenv(keys[1]) != "" {
			configured.Add(string(platform))
		}
	}
	return configured
}
