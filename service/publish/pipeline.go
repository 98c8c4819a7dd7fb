package publish

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/creachadair/stringset"

	config "github.com/crosspost-media-core/v2/configuration"
	dal "github.com/crosspost-media-core/v2/dal"
	tables "github.com/crosspost-media-core/v2/dal/tables/v1"
	platforms "github.com/crosspost-media-core/v2/service/platforms"
	resilience "github.com/crosspost-media-core/v2/service/resilience"

	"log"
)

// Swappable seams for tests.
var (
	adapterFor       = platforms.GetAdapter
	credentialLookup = dal.GetActiveCredentialForPlatform
	markPublished    = dal.MarkContentPublished
	markFailed       = dal.MarkContentFailed
	sendNotification = notifyOutcome
)

var (
	breakerMu sync.Mutex
	breakers  = map[tables.Platform]*resilience.CircuitBreaker{}
)

// breakerFor returns the per-platform breaker, creating it on first
// use. One breaker guards each platform process-wide.
func breakerFor(platform tables.Platform) *resilience.CircuitBreaker {
	breakerMu.Lock()
	defer breakerMu.Unlock()
	breaker, ok := breakers[platform]
	if !ok {
		cfg := config.GetEnvConfigs()
		breaker = resilience.NewCircuitBreaker(string(platform),
			cfg.BreakerFailureThreshold,
			time.Duration(cfg.BreakerResetTimeoutSec)*time.Second,
			cfg.BreakerSuccessThreshold)
		breakers[platform] = breaker
	}
	return breaker
}

// PublishToPlatform runs one platform leg of a publish. It never
// panics outward; every failure becomes an unsuccessful outcome.
func PublishToPlatform(ctx context.Context, item tables.ContentItem, platform tables.Platform) tables.PublishOutcome {
	outcome := tables.PublishOutcome{}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("correlationID: %s recovered panic publishing to %s: %v", item.ContentID, platform, r)
			outcome.Success = false
			outcome.ErrorMessage = fmt.Sprintf("internal error: %v", r)
		}
	}()

	if err := platforms.ValidateContent(platform, item); err != nil {
		outcome.ErrorMessage = err.Error()
		return outcome
	}

	credential, err := credentialLookup(item.OwnerID, platform)
	if err != nil {
		outcome.ErrorMessage = err.Error()
		return outcome
	}
	if credential.IsExpired(time.Now().Unix()) {
		outcome.ErrorMessage = fmt.Sprintf("%s credential %s access token is expired", platform, credential.CredentialID)
		return outcome
	}

	adapter, err := adapterFor(platform)
	if err != nil {
		outcome.ErrorMessage = err.Error()
		return outcome
	}

	cfg := config.GetEnvConfigs()
	breaker := breakerFor(platform)
	var postId string
	err = resilience.WithRetry(ctx, item.ContentID, cfg.PublishMaxAttempts,
		time.Duration(cfg.PublishRetryDelaySec)*time.Second, func() error {
			return breaker.Execute(func() error {
				var publishErr error
				postId, publishErr = adapter.Publish(ctx, credential, item)
				return publishErr
			})
		})
	if err != nil {
		log.Printf("correlationID: %s publish to %s failed: %s", item.ContentID, platform, err)
		outcome.ErrorMessage = err.Error()
		return outcome
	}
	outcome.Success = true
	outcome.PlatformPostID = postId
	log.Printf("correlationID: %s published to %s as %s", item.ContentID, platform, postId)
	return outcome
}

// PublishPost fans an item out to its target platforms sequentially in
// declared order, deduplicating repeated targets. Any successful leg
// marks the item published; only total failure marks it failed.
func PublishPost(ctx context.Context, item tables.ContentItem) (map[tables.Platform]tables.PublishOutcome, error) {
	outcomes := map[tables.Platform]tables.PublishOutcome{}
	if len(item.TargetPlatforms) == 0 {
		err := markFailed(item.ContentID, tables.EncodeOutcomes(outcomes))
		if err != nil {
			return outcomes, err
		}
		return outcomes, fmt.Errorf("content %s has no target platforms", item.ContentID)
	}

	seen := stringset.New()
	anySuccess := false
	for _, platform := range item.TargetPlatforms {
		if seen.Contains(string(platform)) {
			continue
		}
		seen.Add(string(platform))
		outcome := PublishToPlatform(ctx, item, platform)
		outcomes[platform] = outcome
		if outcome.Success {
			anySuccess = true
		}
	}

	resultsJson := tables.EncodeOutcomes(outcomes)
	status := tables.CONTENT_FAILED
	var err error
	if anySuccess {
		status = tables.CONTENT_PUBLISHED
		err = markPublished(item.ContentID, resultsJson)
	} else {
		err = markFailed(item.ContentID, resultsJson)
	}
	if err != nil {
		log.Printf("correlationID: %s error recording publish status: %s", item.ContentID, err)
		return outcomes, err
	}
	sendNotification(item, status, outcomes)
	return outcomes, nil
}
