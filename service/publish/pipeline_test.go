package publish

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/crosspost-media-core/v2/configuration"
	tables "github.com/crosspost-media-core/v2/dal/tables/v1"
	platforms "github.com/crosspost-media-core/v2/service/platforms"
)

func TestMain(m *testing.M) {
	config.EnvConfigs = &config.EnvConfigVals{
		PublishMaxAttempts:      3,
		PublishRetryDelaySec:    0,
		BreakerFailureThreshold: 100,
		BreakerResetTimeoutSec:  1,
		BreakerSuccessThreshold: 1,
		DispatchTickSeconds:     60,
	}
	os.Exit(m.Run())
}

// fakeAdapter satisfies platforms.Adapter with scripted publish
// behavior.
type fakeAdapter struct {
	platform  tables.Platform
	postId    string
	err       error
	failTimes int
	calls     int
}

func (f *fakeAdapter) Platform() tables.Platform { return f.platform }
func (f *fakeAdapter) BuildAuthorizationURL(state string) (string, error) {
	return "", nil
}
func (f *fakeAdapter) ExchangeCode(ctx context.Context, code string) (platforms.Tokens, error) {
	return platforms.Tokens{}, nil
}
func (f *fakeAdapter) Refresh(ctx context.Context, refreshToken string) (platforms.Tokens, error) {
	return platforms.Tokens{}, nil
}
func (f *fakeAdapter) FetchProfile(ctx context.Context, accessToken string) (platforms.Profile, error) {
	return platforms.Profile{}, nil
}
func (f *fakeAdapter) Publish(ctx context.Context, credential tables.Credential, item tables.ContentItem) (string, error) {
	f.calls++
	if f.err != nil && (f.failTimes == 0 || f.calls <= f.failTimes) {
		return "", f.err
	}
	return f.postId, nil
}
func (f *fakeAdapter) DeleteContent(ctx context.Context, platformPostId string, accessToken string) bool {
	return false
}
func (f *fakeAdapter) FetchMetrics(ctx context.Context, platformPostId string, accessToken string) (platforms.Metrics, error) {
	return platforms.Metrics{}, nil
}

type recordedStatus struct {
	contentId string
	status    tables.ContentStatus
	results   string
}

func stubPipeline(t *testing.T, adapters map[tables.Platform]*fakeAdapter) *recordedStatus {
	t.Helper()
	recorded := &recordedStatus{}

	origAdapterFor := adapterFor
	origLookup := credentialLookup
	origPublished := markPublished
	origFailed := markFailed
	origNotify := sendNotification
	t.Cleanup(func() {
		adapterFor = origAdapterFor
		credentialLookup = origLookup
		markPublished = origPublished
		markFailed = origFailed
		sendNotification = origNotify
	})

	adapterFor = func(platform tables.Platform) (platforms.Adapter, error) {
		adapter, ok := adapters[platform]
		if !ok {
			return nil, errors.New("no matching platform adapter found")
		}
		return adapter, nil
	}
	credentialLookup = func(userId string, platform tables.Platform) (tables.Credential, error) {
		return tables.Credential{
			CredentialID: "cred-" + string(platform),
			UserID:       userId,
			Platform:     platform,
			AccessToken:  "token",
			ActiveFlag:   tables.CREDENTIAL_ACTIVE,
		}, nil
	}
	markPublished = func(contentId string, resultsJson string) error {
		recorded.contentId = contentId
		recorded.status = tables.CONTENT_PUBLISHED
		recorded.results = resultsJson
		return nil
	}
	markFailed = func(contentId string, resultsJson string) error {
		recorded.contentId = contentId
		recorded.status = tables.CONTENT_FAILED
		recorded.results = resultsJson
		return nil
	}
	sendNotification = func(item tables.ContentItem, status tables.ContentStatus,
		outcomes map[tables.Platform]tables.PublishOutcome) {
	}
	return recorded
}

func testItem(targets ...tables.Platform) tables.ContentItem {
	return tables.ContentItem{
		ContentID:       "content-1",
		OwnerID:         "user-1",
		Body:            "hello",
		TargetPlatforms: targets,
	}
}

func TestPublishPostAllSucceed(t *testing.T) {
	adapters := map[tables.Platform]*fakeAdapter{
		tables.Platform_Twitter:  {platform: tables.Platform_Twitter, postId: "tw-1"},
		tables.Platform_LinkedIn: {platform: tables.Platform_LinkedIn, postId: "li-1"},
	}
	recorded := stubPipeline(t, adapters)

	outcomes, err := PublishPost(context.Background(), testItem(tables.Platform_Twitter, tables.Platform_LinkedIn))
	require.NoError(t, err)
	assert.True(t, outcomes[tables.Platform_Twitter].Success)
	assert.Equal(t, "tw-1", outcomes[tables.Platform_Twitter].PlatformPostID)
	assert.True(t, outcomes[tables.Platform_LinkedIn].Success)
	assert.Equal(t, tables.CONTENT_PUBLISHED, recorded.status)
}

func TestPublishPostPartialFailureStillPublishes(t *testing.T) {
	adapters := map[tables.Platform]*fakeAdapter{
		tables.Platform_Twitter:  {platform: tables.Platform_Twitter, postId: "tw-1"},
		tables.Platform_Facebook: {platform: tables.Platform_Facebook, err: errors.New("facebook AuthExpired: HTTP 401: token expired")},
	}
	recorded := stubPipeline(t, adapters)

	outcomes, err := PublishPost(context.Background(), testItem(tables.Platform_Twitter, tables.Platform_Facebook))
	require.NoError(t, err)
	assert.True(t, outcomes[tables.Platform_Twitter].Success)
	assert.False(t, outcomes[tables.Platform_Facebook].Success)
	assert.Contains(t, outcomes[tables.Platform_Facebook].ErrorMessage, "401")
	assert.Equal(t, tables.CONTENT_PUBLISHED, recorded.status)
	assert.Contains(t, recorded.results, "tw-1")
}

func TestPublishPostTotalFailureMarksFailed(t *testing.T) {
	adapters := map[tables.Platform]*fakeAdapter{
		tables.Platform_Twitter: {platform: tables.Platform_Twitter, err: errors.New("twitter PermissionDenied: HTTP 403: forbidden")},
	}
	recorded := stubPipeline(t, adapters)

	outcomes, err := PublishPost(context.Background(), testItem(tables.Platform_Twitter))
	require.NoError(t, err)
	assert.False(t, outcomes[tables.Platform_Twitter].Success)
	assert.Equal(t, tables.CONTENT_FAILED, recorded.status)
}

func TestPublishPostDeduplicatesTargets(t *testing.T) {
	adapter := &fakeAdapter{platform: tables.Platform_Twitter, postId: "tw-1"}
	stubPipeline(t, map[tables.Platform]*fakeAdapter{tables.Platform_Twitter: adapter})

	outcomes, err := PublishPost(context.Background(),
		testItem(tables.Platform_Twitter, tables.Platform_Twitter, tables.Platform_Twitter))
	require.NoError(t, err)
	assert.Len(t, outcomes, 1)
	assert.Equal(t, 1, adapter.calls)
}

func TestPublishPostNoTargetsFails(t *testing.T) {
	recorded := stubPipeline(t, map[tables.Platform]*fakeAdapter{})
	_, err := PublishPost(context.Background(), testItem())
	require.Error(t, err)
	assert.Equal(t, tables.CONTENT_FAILED, recorded.status)
}

func TestPublishToPlatformRetriesTransientErrors(t *testing.T) {
	adapter := &fakeAdapter{
		platform:  tables.Platform_LinkedIn,
		postId:    "li-2",
		err:       errors.New("linkedin TransientNetworkError: HTTP 503: upstream unavailable"),
		failTimes: 2,
	}
	stubPipeline(t, map[tables.Platform]*fakeAdapter{tables.Platform_LinkedIn: adapter})

	outcome := PublishToPlatform(context.Background(), testItem(tables.Platform_LinkedIn), tables.Platform_LinkedIn)
	assert.True(t, outcome.Success)
	assert.Equal(t, "li-2", outcome.PlatformPostID)
	assert.Equal(t, 3, adapter.calls)
}

func TestPublishToPlatformDoesNotRetryAuthErrors(t *testing.T) {
	adapter := &fakeAdapter{
		platform: tables.Platform_Facebook,
		err:      errors.New("facebook AuthExpired: HTTP 401: session expired"),
	}
	stubPipeline(t, map[tables.Platform]*fakeAdapter{tables.Platform_Facebook: adapter})

	outcome := PublishToPlatform(context.Background(), testItem(tables.Platform_Facebook), tables.Platform_Facebook)
	assert.False(t, outcome.Success)
	assert.Equal(t, 1, adapter.calls)
}

func TestPublishToPlatformValidatesBeforeAnyCall(t *testing.T) {
	adapter := &fakeAdapter{platform: tables.Platform_TikTok, postId: "tt-1"}
	stubPipeline(t, map[tables.Platform]*fakeAdapter{tables.Platform_TikTok: adapter})

	// TikTok needs a video; an image-only item must never reach the
	// adapter.
	item := testItem(tables.Platform_TikTok)
	item.MediaReferences = []string{"https://cdn.example.com/p.jpg"}
	outcome := PublishToPlatform(context.Background(), item, tables.Platform_TikTok)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.ErrorMessage, "video")
	assert.Equal(t, 0, adapter.calls)
}

func TestPublishToPlatformRejectsExpiredCredential(t *testing.T) {
	adapter := &fakeAdapter{platform: tables.Platform_Twitter, postId: "tw-9"}
	stubPipeline(t, map[tables.Platform]*fakeAdapter{tables.Platform_Twitter: adapter})
	credentialLookup = func(userId string, platform tables.Platform) (tables.Credential, error) {
		return tables.Credential{
			CredentialID:      "cred-stale",
			AccessToken:       "token",
			ActiveFlag:        tables.CREDENTIAL_ACTIVE,
			ExpiresAtEpochSec: 1000,
		}, nil
	}

	outcome := PublishToPlatform(context.Background(), testItem(tables.Platform_Twitter), tables.Platform_Twitter)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.ErrorMessage, "expired")
	assert.Equal(t, 0, adapter.calls)
}

func TestDispatcherRunOnceIsolatesItemFailures(t *testing.T) {
	adapters := map[tables.Platform]*fakeAdapter{
		tables.Platform_Twitter: {platform: tables.Platform_Twitter, postId: "tw-1"},
	}
	stubPipeline(t, adapters)

	origList := listDueContent
	t.Cleanup(func() { listDueContent = origList })
	var queriedAt time.Time
	listDueContent = func(now time.Time) ([]tables.ContentItem, error) {
		queriedAt = now
		return []tables.ContentItem{
			{ContentID: "bad-1", OwnerID: "user-1", Body: "x"},
			{ContentID: "good-1", OwnerID: "user-1", Body: "y",
				TargetPlatforms: []tables.Platform{tables.Platform_Twitter}},
		}, nil
	}

	statuses := map[string]tables.ContentStatus{}
	markPublished = func(contentId string, resultsJson string) error {
		statuses[contentId] = tables.CONTENT_PUBLISHED
		return nil
	}
	markFailed = func(contentId string, resultsJson string) error {
		statuses[contentId] = tables.CONTENT_FAILED
		return nil
	}

	dispatcher := NewDispatcher()
	fixedNow := time.UnixMilli(1700000000000)
	dispatcher.Now = func() time.Time { return fixedNow }
	dispatcher.RunOnce(context.Background())

	assert.Equal(t, fixedNow, queriedAt)
	assert.Equal(t, tables.CONTENT_FAILED, statuses["bad-1"])
	assert.Equal(t, tables.CONTENT_PUBLISHED, statuses["good-1"])
}
