package tokens

import (
	"context"
	"sync"
	"time"

	config "github.com/crosspost-media-core/v2/configuration"
	dal "github.com/crosspost-media-core/v2/dal"
	tables "github.com/crosspost-media-core/v2/dal/tables/v1"
	platforms "github.com/crosspost-media-core/v2/service/platforms"
	resilience "github.com/crosspost-media-core/v2/service/resilience"

	"log"
)

// Swappable seams for tests.
var (
	adapterFor     = platforms.GetAdapter
	listDue        = dal.ListCredentialsDueForRefresh
	updateTokens   = dal.UpdateCredentialTokens
	deactivateWith = dal.DeactivateCredentialWithError
)

// Refresher owns the token refresh loop. Each cycle loads active
// credentials nearing expiry and refreshes them concurrently, waiting
// for every attempt to settle before reporting.
type Refresher struct {
	Interval time.Duration
	Horizon  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRefresher() *Refresher {
	cfg := config.GetEnvConfigs()
	return &Refresher{
		Interval: time.Duration(cfg.RefreshIntervalHours) * time.Hour,
		Horizon:  time.Duration(cfg.RefreshHorizonHours) * time.Hour,
	}
}

// Start kicks off an immediate cycle, then repeats on the interval.
func (s *Refresher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.RunOnce(ctx)
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
	log.Printf("token refresher started with interval %s horizon %s", s.Interval, s.Horizon)
}

func (s *Refresher) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	log.Printf("token refresher stopped")
}

type cycleCounts struct {
	mu        sync.Mutex
	refreshed int
	skipped   int
	failed    int
}

// RunOnce refreshes every due credential. Attempts run concurrently
// and all settle before the aggregate is logged; one credential's
// failure never affects another's attempt.
func (s *Refresher) RunOnce(ctx context.Context) {
	dueCredentials, err := listDue(s.Horizon)
	if err != nil {
		log.Printf("refresher unable to list due credentials: %s", err)
		return
	}
	if len(dueCredentials) == 0 {
		return
	}

	counts := &cycleCounts{}
	var wg sync.WaitGroup
	for _, credential := range dueCredentials {
		wg.Add(1)
		go func(credential tables.Credential) {
			defer wg.Done()
			s.refreshOne(ctx, credential, counts)
		}(credential)
	}
	wg.Wait()
	log.Printf("refresh cycle complete: %d refreshed, %d skipped, %d failed",
		counts.refreshed, counts.skipped, counts.failed)
}

func (s *Refresher) refreshOne(ctx context.Context, credential tables.Credential, counts *cycleCounts) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("credentialID: %s recovered panic during refresh: %v", credential.CredentialID, r)
			counts.mu.Lock()
			counts.failed++
			counts.mu.Unlock()
		}
	}()

	if !credential.IsActive() {
		log.Printf("credentialID: %s skipping refresh: credential is inactive", credential.CredentialID)
		counts.mu.Lock()
		counts.skipped++
		counts.mu.Unlock()
		return
	}
	if credential.RefreshToken == "" {
		log.Printf("credentialID: %s skipping refresh: no refresh token on record", credential.CredentialID)
		counts.mu.Lock()
		counts.skipped++
		counts.mu.Unlock()
		return
	}

	adapter, err := adapterFor(credential.Platform)
	if err != nil {
		log.Printf("credentialID: %s skipping refresh: %s", credential.CredentialID, err)
		counts.mu.Lock()
		counts.skipped++
		counts.mu.Unlock()
		return
	}

	var refreshed platforms.Tokens
	err = resilience.WithRetryJitter(ctx, credential.CredentialID, resilience.DefaultMaxAttempts,
		resilience.DefaultInitialDelay, func() error {
			var refreshErr error
			refreshed, refreshErr = adapter.Refresh(ctx, credential.RefreshToken)
			return refreshErr
		})
	if err != nil {
		log.Printf("credentialID: %s refresh failed, deactivating: %s", credential.CredentialID, err)
		if deactivateErr := deactivateWith(credential.CredentialID, err.Error()); deactivateErr != nil {
			log.Printf("credentialID: %s unable to deactivate after failed refresh: %s",
				credential.CredentialID, deactivateErr)
		}
		counts.mu.Lock()
		counts.failed++
		counts.mu.Unlock()
		return
	}

	err = updateTokens(credential.CredentialID, refreshed.AccessToken, refreshed.RefreshToken,
		refreshed.ExpiresAtEpochSec)
	if err != nil {
		log.Printf("credentialID: %s unable to store refreshed tokens: %s", credential.CredentialID, err)
		counts.mu.Lock()
		counts.failed++
		counts.mu.Unlock()
		return
	}
	log.Printf("credentialID: %s refreshed %s token, new expiry %d",
		credential.CredentialID, credential.Platform, refreshed.ExpiresAtEpochSec)
	counts.mu.Lock()
	counts.refreshed++
	counts.mu.Unlock()
}
