package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	internalsettings "github.com/WonderhoyTeam/AntiHub-Backend/internal/settings"
	log "github.com/sirupsen/logrus"
)

const (
	maxConcurrentRefreshes = 5
	noTargetRetryInterval  = 10 * time.Second
)

// ErrNoRefreshTargets is returned when a manual refresh matches no quota rows.
var ErrNoRefreshTargets = errors.New("quota poller: no refresh targets")

// Poller periodically re-reads the provider quota of every routable credential so that
// exhausted models come back once the provider resets them.
type Poller struct {
	store      RefreshTargetStore
	provider   Provider
	hadTargets bool
}

// NewPoller constructs a quota poller.
func NewPoller(store RefreshTargetStore, provider Provider) *Poller {
	if store == nil || provider == nil {
		return nil
	}
	return &Poller{store: store, provider: provider}
}

// Start launches the polling loop in a background goroutine.
func (p *Poller) Start(ctx context.Context) {
	if p == nil {
		return
	}
	go p.run(ctx)
	interval, _ := resolvePollConfig()
	log.Infof("quota poller started (interval=%s)", interval)
}

func (p *Poller) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		interval := p.poll(ctx)
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) time.Duration {
	interval, maxConcurrency := resolvePollConfig()

	targets, errTargets := p.store.ListRefreshTargets(ctx, "")
	if errTargets != nil {
		log.WithError(errTargets).Warn("quota poller: load targets failed")
		return interval
	}
	if len(targets) == 0 {
		if !p.hadTargets {
			return noTargetRetryInterval
		}
		return interval
	}
	p.hadTargets = true

	p.refreshAll(ctx, targets, maxConcurrency)
	return interval
}

// RefreshByCookieID refreshes every model of one credential immediately.
func (p *Poller) RefreshByCookieID(ctx context.Context, cookieID string) ([]models.CredentialQuota, error) {
	cookieID = strings.TrimSpace(cookieID)
	if cookieID == "" {
		return nil, errors.New("quota poller: cookie id is required")
	}
	targets, errTargets := p.store.ListRefreshTargets(ctx, cookieID)
	if errTargets != nil {
		return nil, errTargets
	}
	if len(targets) == 0 {
		return nil, ErrNoRefreshTargets
	}

	_, maxConcurrency := resolvePollConfig()
	results := p.refreshAll(ctx, targets, maxConcurrency)
	out := make([]models.CredentialQuota, 0, len(results))
	var errs []error
	for _, result := range results {
		if result.err != nil {
			errs = append(errs, result.err)
			continue
		}
		out = append(out, result.row)
	}
	return out, errors.Join(errs...)
}

type refreshResult struct {
	row models.CredentialQuota
	err error
}

func (p *Poller) refreshAll(ctx context.Context, targets []Candidate, maxConcurrency int) []refreshResult {
	results := make([]refreshResult, len(targets))
	sem := make(chan struct{}, max(maxConcurrency, 1))
	var wg sync.WaitGroup

	for i, target := range targets {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return results[:i]
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			row, errRefresh := p.refreshOne(ctx, target)
			if errRefresh != nil {
				log.WithError(errRefresh).Warnf("quota poller: refresh failed (cookie=%s model=%s)", target.CookieID(), target.Quota.ModelName)
			}
			results[i] = refreshResult{row: row, err: errRefresh}
		}()
	}
	wg.Wait()
	return results
}

func (p *Poller) refreshOne(ctx context.Context, target Candidate) (models.CredentialQuota, error) {
	reading, errRefresh := p.provider.RefreshQuota(ctx, target.Credential, target.Quota.ModelName)
	if errRefresh != nil {
		return models.CredentialQuota{}, fmt.Errorf("quota poller: refresh %s/%s: %w", target.CookieID(), target.Quota.ModelName, errRefresh)
	}
	return p.store.ApplyQuotaReading(ctx, target.Quota.ID, reading)
}

func resolvePollConfig() (time.Duration, int) {
	intervalSeconds := internalsettings.Int(internalsettings.QuotaPollIntervalSecondsKey, internalsettings.DefaultQuotaPollIntervalSeconds)
	if intervalSeconds <= 0 {
		intervalSeconds = internalsettings.DefaultQuotaPollIntervalSeconds
	}
	maxConcurrency := internalsettings.Int(internalsettings.QuotaPollMaxConcurrencyKey, internalsettings.DefaultQuotaPollMaxConcurrency)
	if maxConcurrency <= 0 {
		maxConcurrency = internalsettings.DefaultQuotaPollMaxConcurrency
	}
	if maxConcurrency > maxConcurrentRefreshes {
		maxConcurrency = maxConcurrentRefreshes
	}
	return time.Duration(intervalSeconds) * time.Second, maxConcurrency
}
