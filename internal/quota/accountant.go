package quota

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Accountant wraps one provider call with before/after quota capture and settles the books.
type Accountant struct {
	provider Provider
	ledger   Ledger
	opts     Options
}

// NewAccountant constructs an Accountant.
func NewAccountant(provider Provider, ledger Ledger, opts Options) *Accountant {
	return &Accountant{provider: provider, ledger: ledger, opts: opts}
}

// Execute opens the provider call through the candidate. The returned Session settles
// once the stream ends or is closed; a failure to open leaves all state untouched.
func (a *Accountant) Execute(ctx context.Context, userID uint64, cand Candidate, req ChatRequest) (*Session, error) {
	req.Model = cand.Quota.ModelName
	before := cand.Quota.Quota

	stream, errChat := a.provider.Chat(ctx, cand.Credential, req)
	if errChat != nil {
		return nil, &ProviderCallError{CookieID: cand.CookieID(), Model: req.Model, Err: errChat}
	}
	return &Session{
		ctx:        ctx,
		accountant: a,
		stream:     stream,
		userID:     userID,
		candidate:  cand,
		req:        req,
		before:     before,
		startedAt:  time.Now(),
	}, nil
}

// settle books the call. It never uses the request context for its own I/O so that a
// cancelled request still records the provider's final reading.
func (a *Accountant) settle(s *Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), a.opts.settleTimeout())
	defer cancel()

	entry := log.WithFields(log.Fields{
		"request_id": s.req.RequestID,
		"user_id":    s.userID,
		"model":      s.req.Model,
		"cookie_id":  s.candidate.CookieID(),
		"shared":     s.candidate.Shared(),
	})

	s.mu.Lock()
	reading, completed := s.inlineReading, s.completed
	s.mu.Unlock()

	if reading == nil {
		fetched, errRefresh := a.provider.RefreshQuota(ctx, s.candidate.Credential, s.req.Model)
		if errRefresh != nil {
			entry.WithError(errRefresh).Warn("quota accountant: no final reading, dropping spend")
			s.settleErr = ErrNoFinalReading
			return
		}
		reading = &fetched
	}

	row, errSettle := a.ledger.Settle(ctx, Settlement{
		RequestID:   s.req.RequestID,
		UserID:      s.userID,
		Candidate:   s.candidate,
		QuotaBefore: s.before,
		After:       *reading,
		Streamed:    s.req.Stream,
		Partial:     !completed,
	})
	if errSettle != nil {
		entry.WithError(errSettle).Error("quota accountant: settle failed")
		s.settleErr = errSettle
		return
	}
	s.settlement = &row
	entry.WithFields(log.Fields{
		"quota_before":   row.QuotaBefore,
		"quota_after":    row.QuotaAfter,
		"quota_consumed": row.QuotaConsumed,
		"pool_debited":   row.PoolDebited,
		"partial":        row.Partial,
		"duration":       time.Since(s.startedAt).Round(time.Millisecond),
	}).Info("quota accountant: settled")
}
