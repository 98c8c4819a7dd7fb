package platforms

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/crosspost-media-core/v2/configuration"
	tables "github.com/crosspost-media-core/v2/dal/tables/v1"
)

func TestMain(m *testing.M) {
	config.EnvConfigs = &config.EnvConfigVals{
		BaseURL:                "https://app.example.com",
		StandardCallTimeoutSec: 10,
		ExtendedCallTimeoutSec: 120,
		VideoPollMaxAttempts:   3,
		VideoPollIntervalSec:   1,
	}
	for _, keys := range envKeysByPlatform {
		os.Setenv(keys[0], "test-client-id")
		os.Setenv(keys[1], "test-client-secret")
	}
	os.Exit(m.Run())
}

// fakeDoer replays queued responses and records every request.
type fakeDoer struct {
	requests  []*http.Request
	bodies    []string
	responses []*http.Response
}

func cannedResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	body := ""
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		body = string(raw)
	}
	f.bodies = append(f.bodies, body)
	if len(f.responses) == 0 {
		return cannedResponse(200, "{}"), nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeDoer) queue(status int, body string) {
	f.responses = append(f.responses, cannedResponse(status, body))
}

func testConfig(t *testing.T, platform tables.Platform) OAuthConfig {
	t.Helper()
	cfg, err := GetOAuthConfig(platform)
	require.NoError(t, err)
	return cfg
}

func TestTwitterAuthorizationURLCarriesPkce(t *testing.T) {
	adapter := TwitterAdapter{Cfg: testConfig(t, tables.Platform_Twitter)}
	authUrl, err := adapter.BuildAuthorizationURL("state-123")
	require.NoError(t, err)
	assert.Contains(t, authUrl, "code_challenge=challenge")
	assert.Contains(t, authUrl, "code_challenge_method=plain")
	assert.Contains(t, authUrl, "state=state-123")
	assert.Contains(t, authUrl, "offline.access")
	assert.Contains(t, authUrl, "redirect_uri=https%3A%2F%2Fapp.example.com%2Fv1%2Foauth%2Ftwitter%2Fcallback")
}

func TestTwitterExchangeUsesBasicAuthForm(t *testing.T) {
	doer := &fakeDoer{}
	doer.queue(200, `{"access_token":"at","refresh_token":"rt","expires_in":7200}`)
	adapter := TwitterAdapter{Cfg: testConfig(t, tables.Platform_Twitter), Client: doer}

	tokens, err := adapter.ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "at", tokens.AccessToken)
	assert.Equal(t, "rt", tokens.RefreshToken)
	assert.InDelta(t, time.Now().Unix()+7200, tokens.ExpiresAtEpochSec, 5)

	require.Len(t, doer.requests, 1)
	req := doer.requests[0]
	expectedAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("test-client-id:test-client-secret"))
	assert.Equal(t, expectedAuth, req.Header.Get("Authorization"))
	assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
	assert.Contains(t, doer.bodies[0], "grant_type=authorization_code")
	assert.Contains(t, doer.bodies[0], "code_verifier=challenge")
}

func TestTwitterMediaUploadSendsBearerToken(t *testing.T) {
	doer := &fakeDoer{}
	doer.queue(200, "image-bytes")
	doer.queue(401, `{"errors":[{"message":"Could not authenticate you"}]}`)
	adapter := TwitterAdapter{Cfg: testConfig(t, tables.Platform_Twitter), Client: doer}

	credential := tables.Credential{AccessToken: "user-access-token"}
	item := tables.ContentItem{
		ContentID:       "content-1",
		Body:            "hello",
		MediaReferences: []string{"https://cdn.example.com/pic.jpg"},
	}
	_, err := adapter.Publish(context.Background(), credential, item)
	require.Error(t, err)

	require.Len(t, doer.requests, 2)
	upload := doer.requests[1]
	assert.Equal(t, "upload.twitter.com", upload.URL.Host)
	assert.Equal(t, "Bearer user-access-token", upload.Header.Get("Authorization"))
	assert.Contains(t, doer.bodies[1], "media_data=")
}

func TestTwitterRefreshRetainsPriorRefreshToken(t *testing.T) {
	doer := &fakeDoer{}
	doer.queue(200, `{"access_token":"new-at","expires_in":7200}`)
	adapter := TwitterAdapter{Cfg: testConfig(t, tables.Platform_Twitter), Client: doer}

	tokens, err := adapter.Refresh(context.Background(), "old-rt")
	require.NoError(t, err)
	assert.Equal(t, "new-at", tokens.AccessToken)
	assert.Equal(t, "old-rt", tokens.RefreshToken)
}

func TestTikTokTokenUsesJsonClientKeyAndDataNesting(t *testing.T) {
	doer := &fakeDoer{}
	doer.queue(200, `{"data":{"access_token":"tk-at","refresh_token":"tk-rt","expires_in":86400,"open_id":"abc"}}`)
	adapter := TikTokAdapter{Cfg: testConfig(t, tables.Platform_TikTok), Client: doer}

	tokens, err := adapter.ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "tk-at", tokens.AccessToken)
	assert.Equal(t, "tk-rt", tokens.RefreshToken)

	require.Len(t, doer.requests, 1)
	assert.Equal(t, "application/json", doer.requests[0].Header.Get("Content-Type"))
	sent := map[string]string{}
	require.NoError(t, json.Unmarshal([]byte(doer.bodies[0]), &sent))
	assert.Equal(t, "test-client-id", sent["client_key"])
	assert.Equal(t, "authorization_code", sent["grant_type"])
}

func TestTikTokTokenTopLevelPayload(t *testing.T) {
	doer := &fakeDoer{}
	doer.queue(200, `{"access_token":"flat-at","refresh_token":"flat-rt","expires_in":86400}`)
	adapter := TikTokAdapter{Cfg: testConfig(t, tables.Platform_TikTok), Client: doer}

	tokens, err := adapter.Refresh(context.Background(), "prior")
	require.NoError(t, err)
	assert.Equal(t, "flat-at", tokens.AccessToken)
	assert.Equal(t, "flat-rt", tokens.RefreshToken)
}

func TestFacebookRefreshUsesExchangeTokenGrant(t *testing.T) {
	doer := &fakeDoer{}
	doer.queue(200, `{"access_token":"long-lived","expires_in":5184000}`)
	adapter := FacebookAdapter{Cfg: testConfig(t, tables.Platform_Facebook), Client: doer}

	tokens, err := adapter.Refresh(context.Background(), "current-token")
	require.NoError(t, err)
	assert.Equal(t, "long-lived", tokens.AccessToken)

	require.Len(t, doer.requests, 1)
	req := doer.requests[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "fb_exchange_token", req.URL.Query().Get("grant_type"))
	assert.Equal(t, "current-token", req.URL.Query().Get("fb_exchange_token"))
}

func TestFacebookTokenErrorClassification(t *testing.T) {
	doer := &fakeDoer{}
	doer.queue(400, `{"error":{"message":"Error validating access token: Session has expired","code":190}}`)
	adapter := FacebookAdapter{Cfg: testConfig(t, tables.Platform_Facebook), Client: doer}

	_, err := adapter.Refresh(context.Background(), "stale")
	require.Error(t, err)
	assert.Equal(t, KIND_AUTH_EXPIRED, KindOf(err))
	assert.Contains(t, err.Error(), "code 190")
}

func TestRateLimitClassification(t *testing.T) {
	doer := &fakeDoer{}
	doer.queue(429, `{"error":{"message":"Too many requests","code":4}}`)
	adapter := FacebookAdapter{Cfg: testConfig(t, tables.Platform_Facebook), Client: doer}

	_, err := adapter.FetchProfile(context.Background(), "token")
	require.Error(t, err)
	assert.Equal(t, KIND_RATE_LIMITED, KindOf(err))
	assert.Contains(t, err.Error(), "429")
}

func TestInstagramContainerFlow(t *testing.T) {
	doer := &fakeDoer{}
	doer.queue(200, `{"id":"container-1"}`)
	doer.queue(200, `{"status_code":"IN_PROGRESS"}`)
	doer.queue(200, `{"status_code":"FINISHED"}`)
	doer.queue(200, `{"id":"media-99"}`)
	adapter := InstagramAdapter{
		Cfg:          testConfig(t, tables.Platform_Instagram),
		Client:       doer,
		PollInterval: time.Millisecond,
	}

	postId, err := adapter.Publish(context.Background(), tables.Credential{
		ExternalAccountID: "ig-account",
		AccessToken:       "token",
	}, tables.ContentItem{
		ContentID:       "content-1",
		Body:            "caption",
		MediaReferences: []string{"https://cdn.example.com/photo.jpg"},
	})
	require.NoError(t, err)
	assert.Equal(t, "media-99", postId)
	require.Len(t, doer.requests, 4)
	assert.Contains(t, doer.requests[0].URL.Path, "/ig-account/media")
	assert.Contains(t, doer.requests[3].URL.Path, "/ig-account/media_publish")
	assert.Contains(t, doer.bodies[3], "container-1")
}

func TestInstagramContainerErrorAborts(t *testing.T) {
	doer := &fakeDoer{}
	doer.queue(200, `{"id":"container-2"}`)
	doer.queue(200, `{"status_code":"ERROR"}`)
	adapter := InstagramAdapter{
		Cfg:          testConfig(t, tables.Platform_Instagram),
		Client:       doer,
		PollInterval: time.Millisecond,
	}

	_, err := adapter.Publish(context.Background(), tables.Credential{
		ExternalAccountID: "ig-account",
		AccessToken:       "token",
	}, tables.ContentItem{
		ContentID:       "content-2",
		Body:            "caption",
		MediaReferences: []string{"https://cdn.example.com/clip.mp4"},
	})
	require.Error(t, err)
	assert.Equal(t, KIND_VALIDATION_FAILED, KindOf(err))
	assert.Len(t, doer.requests, 2)
}

func TestPinterestPublishUsesDefaultBoard(t *testing.T) {
	doer := &fakeDoer{}
	doer.queue(201, `{"id":"pin-7"}`)
	adapter := PinterestAdapter{Cfg: testConfig(t, tables.Platform_Pinterest), Client: doer}

	postId, err := adapter.Publish(context.Background(), tables.Credential{
		AccessToken:     "token",
		ProfileMetadata: `{"defaultBoardId":"board-42"}`,
	}, tables.ContentItem{
		ContentID:       "content-3",
		Body:            "a pin",
		MediaReferences: []string{"https://cdn.example.com/p.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pin-7", postId)
	assert.Contains(t, doer.bodies[0], `"board_id":"board-42"`)
	assert.Contains(t, doer.bodies[0], "image_url")
}

func TestPinterestPublishWithoutBoardFails(t *testing.T) {
	doer := &fakeDoer{}
	adapter := PinterestAdapter{Cfg: testConfig(t, tables.Platform_Pinterest), Client: doer}

	_, err := adapter.Publish(context.Background(), tables.Credential{
		AccessToken: "token",
	}, tables.ContentItem{
		Body:            "a pin",
		MediaReferences: []string{"https://cdn.example.com/p.png"},
	})
	require.Error(t, err)
	assert.Equal(t, KIND_VALIDATION_FAILED, KindOf(err))
	assert.Empty(t, doer.requests)
}

func TestTikTokPublishRequiresVideo(t *testing.T) {
	doer := &fakeDoer{}
	adapter := TikTokAdapter{Cfg: testConfig(t, tables.Platform_TikTok), Client: doer}

	_, err := adapter.Publish(context.Background(), tables.Credential{AccessToken: "token"},
		tables.ContentItem{Body: "caption", MediaReferences: []string{"https://cdn.example.com/p.jpg"}})
	require.Error(t, err)
	assert.Empty(t, doer.requests)
}

func TestTikTokPublishPullFromURL(t *testing.T) {
	doer := &fakeDoer{}
	doer.queue(200, `{"data":{"publish_id":"pub-55"}}`)
	adapter := TikTokAdapter{Cfg: testConfig(t, tables.Platform_TikTok), Client: doer}

	postId, err := adapter.Publish(context.Background(), tables.Credential{AccessToken: "token"},
		tables.ContentItem{
			ContentID:       "content-4",
			Body:            "caption",
			MediaReferences: []string{"https://cdn.example.com/v.mp4"},
		})
	require.NoError(t, err)
	assert.Equal(t, "pub-55", postId)
	assert.Contains(t, doer.bodies[0], "PULL_FROM_URL")
	assert.Equal(t, "Bearer token", doer.requests[0].Header.Get("Authorization"))
}

func TestYouTubeAuthorizationURLRequestsOfflineConsent(t *testing.T) {
	adapter := YouTubeAdapter{Cfg: testConfig(t, tables.Platform_YouTube)}
	authUrl, err := adapter.BuildAuthorizationURL("state-9")
	require.NoError(t, err)
	assert.Contains(t, authUrl, "access_type=offline")
	assert.Contains(t, authUrl, "prompt=consent")
	assert.Contains(t, authUrl, "accounts.google.com")
}

func TestYouTubeProfileNormalization(t *testing.T) {
	doer := &fakeDoer{}
	doer.queue(200, `{"items":[{"id":"UC123","snippet":{"title":"My Channel"},"statistics":{"subscriberCount":"1024"}}]}`)
	adapter := YouTubeAdapter{Cfg: testConfig(t, tables.Platform_YouTube), Client: doer}

	profile, err := adapter.FetchProfile(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, "UC123", profile.ExternalAccountID)
	assert.Equal(t, "My Channel", profile.ExternalAccountName)
	assert.Contains(t, profile.MetadataJSON, "1024")
}

func TestLinkedInPublishTextOnly(t *testing.T) {
	doer := &fakeDoer{}
	doer.queue(201, `{"id":"urn:li:share:6001"}`)
	adapter := LinkedInAdapter{Cfg: testConfig(t, tables.Platform_LinkedIn), Client: doer}

	postId, err := adapter.Publish(context.Background(), tables.Credential{
		ExternalAccountID: "AbC123",
		AccessToken:       "token",
	}, tables.ContentItem{ContentID: "content-5", Body: "hello network"})
	require.NoError(t, err)
	assert.Equal(t, "urn:li:share:6001", postId)

	require.Len(t, doer.requests, 1)
	req := doer.requests[0]
	assert.Equal(t, "2.0.0", req.Header.Get("X-Restli-Protocol-Version"))
	assert.Contains(t, doer.bodies[0], "urn:li:person:AbC123")
	assert.Contains(t, doer.bodies[0], `"shareMediaCategory":"NONE"`)
}

func TestGetAdapterResolvesAllPlatforms(t *testing.T) {
	for _, platform := range tables.AllPlatforms() {
		adapter, err := GetAdapter(platform)
		require.NoError(t, err, "platform %s", platform)
		assert.Equal(t, platform, adapter.Platform())
	}
	_, err := GetAdapter(tables.Platform("friendster"))
	assert.Error(t, err)
}

func TestConfiguredPlatformsReflectsEnv(t *testing.T) {
	configured := ConfiguredPlatforms()
	for _, platform := range tables.AllPlatforms() {
		assert.True(t, configured.Contains(string(platform)))
	}
}
