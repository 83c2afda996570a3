package quota

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
)

// Engine runs select then execute, retrying on a different credential when the
// provider call fails to open.
type Engine struct {
	selector   *Selector
	accountant *Accountant
	opts       Options
}

// NewEngine wires a Selector and an Accountant over the same collaborators.
func NewEngine(store CredentialStore, ledger Ledger, users UserStore, provider Provider, opts Options) *Engine {
	return &Engine{
		selector:   NewSelector(store, ledger, users, provider, opts),
		accountant: NewAccountant(provider, ledger, opts),
		opts:       opts,
	}
}

// Selector exposes the engine's selector for read-only queries.
func (e *Engine) Selector() *Selector {
	return e.selector
}

// Chat routes one chat request. The caller must Close the returned session.
func (e *Engine) Chat(ctx context.Context, userID uint64, req ChatRequest) (*Session, error) {
	exclude := make(map[uint64]struct{})
	var lastErr error
	attempts := e.opts.providerAttempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		cand, errSelect := e.selector.selectExcluding(ctx, userID, req.Model, exclude)
		if errSelect != nil {
			if lastErr != nil && errors.Is(errSelect, ErrNoEligibleCredential) {
				return nil, lastErr
			}
			return nil, errSelect
		}

		entry := log.WithFields(log.Fields{
			"request_id": req.RequestID,
			"user_id":    userID,
			"model":      req.Model,
			"cookie_id":  cand.CookieID(),
			"shared":     cand.Shared(),
			"attempt":    attempt,
		})
		session, errExec := e.accountant.Execute(ctx, userID, cand, req)
		if errExec == nil {
			entry.Info("quota engine: routed request")
			return session, nil
		}
		entry.WithError(errExec).Warn("quota engine: provider call failed")
		lastErr = errExec
		exclude[cand.Credential.ID] = struct{}{}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}
