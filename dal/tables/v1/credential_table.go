package v1

type Platform string

const (
	Platform_Facebook  Platform = "facebook"
	Platform_Instagram Platform = "instagram"
	Platform_Twitter   Platform = "twitter" // aka X
	Platform_LinkedIn  Platform = "linkedin"
	Platform_TikTok    Platform = "tiktok"
	Platform_YouTube   Platform = "youtube"
	Platform_Pinterest Platform = "pinterest"
)

func AllPlatforms() []Platform {
	return []Platform{
		Platform_Facebook,
		Platform_Instagram,
		Platform_Twitter,
		Platform_LinkedIn,
		Platform_TikTok,
		Platform_YouTube,
		Platform_Pinterest,
	}
}

func IsSupportedPlatform(name string) bool {
	for _, p := range AllPlatforms() {
		if string(p) == name {
			return true
		}
	}
	return false
}

const (
	CREDENTIAL_ACTIVE   = "ACTIVE"
	CREDENTIAL_INACTIVE = "INACTIVE"
)

type Credential struct {
	// Required
	CredentialID string // guid
	UserID       string
	Platform     Platform
	AccessToken  string // ciphertext envelope at rest
	ActiveFlag   string // ACTIVE / INACTIVE, GSI hash key

	// Optional
	RefreshToken        string // ciphertext envelope at rest, empty when platform issues none
	ExpiresAtEpochSec   int64  // 0 means non-expiring
	ExternalAccountID   string // platform-side account / page / channel id
	ExternalAccountName string
	ProfileMetadata     string // JSON blob: follower counts, board ids, refresh failure details
	CreatedAtEpochMilli int64
	UpdatedAtEpochMilli int64
}

func (c *Credential) IsActive() bool {
	return c.ActiveFlag == CREDENTIAL_ACTIVE
}

// IsExpired reports whether the access token is past its expiry as of
// nowEpochSec. Non-expiring credentials never expire.
func (c *Credential) IsExpired(nowEpochSec int64) bool {
	if c.ExpiresAtEpochSec == 0 {
		return false
	}
	return c.ExpiresAtEpochSec <= nowEpochSec
}
