package quota

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	log "github.com/sirupsen/logrus"
)

// Selector resolves which credential serves a request.
type Selector struct {
	store    CredentialStore
	ledger   Ledger
	users    UserStore
	provider Provider
	opts     Options
}

// NewSelector constructs a Selector.
func NewSelector(store CredentialStore, ledger Ledger, users UserStore, provider Provider, opts Options) *Selector {
	return &Selector{store: store, ledger: ledger, users: users, provider: provider, opts: opts}
}

// Select picks an eligible credential for the user and model and refreshes its live quota.
//
// The preferred group (dedicated or shared, per the user's preference) is tried first;
// within a group the pick is uniform. A pick whose refreshed quota is zero is discarded
// and selection repeats on the remaining set until the retry budget runs out.
func (s *Selector) Select(ctx context.Context, userID uint64, model string) (Candidate, error) {
	return s.selectExcluding(ctx, userID, model, nil)
}

func (s *Selector) selectExcluding(ctx context.Context, userID uint64, model string, exclude map[uint64]struct{}) (Candidate, error) {
	user, errUser := s.users.GetUser(ctx, userID)
	if errUser != nil {
		return Candidate{}, errUser
	}
	if user.Disabled {
		return Candidate{}, ErrUserDisabled
	}

	budget := s.opts.retryBudget()
	discarded := make(map[uint64]struct{})
	attempts := 0
	for attempts < budget {
		groups, errGroups := s.eligibleGroups(ctx, &user, model, exclude, discarded)
		if errGroups != nil {
			return Candidate{}, errGroups
		}
		pool := firstNonEmpty(groups)
		if len(pool) == 0 {
			if attempts == 0 {
				return Candidate{}, ErrNoEligibleCredential
			}
			break
		}

		pick := pool[rand.IntN(len(pool))]
		attempts++
		entry := log.WithFields(log.Fields{
			"user_id":   userID,
			"model":     model,
			"cookie_id": pick.CookieID(),
			"shared":    pick.Shared(),
			"attempt":   attempts,
		})

		reading, errRefresh := s.provider.RefreshQuota(ctx, pick.Credential, model)
		if errRefresh != nil {
			if errCtx := ctx.Err(); errCtx != nil {
				return Candidate{}, errCtx
			}
			entry.WithError(errRefresh).Warn("quota selector: live refresh failed")
			discarded[pick.Quota.ID] = struct{}{}
			continue
		}
		updated, errApply := s.store.ApplyQuotaReading(ctx, pick.Quota.ID, reading)
		if errApply != nil {
			return Candidate{}, fmt.Errorf("quota selector: persist reading: %w", errApply)
		}
		pick.Quota = updated
		if !pick.Eligible() {
			entry.Debugf("quota selector: discarded after refresh (quota=%.4f status=%s)", updated.Quota, updated.Status)
			discarded[pick.Quota.ID] = struct{}{}
			continue
		}
		return pick, nil
	}
	return Candidate{}, &ExhaustedError{Model: model, Attempts: attempts}
}

// eligibleGroups returns the filtered candidates ordered by preference: two groups,
// the preferred one first, each shuffled.
func (s *Selector) eligibleGroups(ctx context.Context, user *models.User, model string, exclude, discarded map[uint64]struct{}) ([2][]Candidate, error) {
	var groups [2][]Candidate

	includeShared := !user.UseOnlyDedicated
	candidates, errList := s.store.ListCandidates(ctx, user.ID, model, includeShared)
	if errList != nil {
		return groups, fmt.Errorf("quota selector: list candidates: %w", errList)
	}

	poolOpen := false
	if includeShared {
		balance, errBalance := s.ledger.PoolBalance(ctx, user.ID, model)
		if errBalance != nil {
			return groups, fmt.Errorf("quota selector: pool balance: %w", errBalance)
		}
		poolOpen = balance > 0
	}

	var dedicated, shared []Candidate
	for _, cand := range candidates {
		if _, skip := discarded[cand.Quota.ID]; skip {
			continue
		}
		if _, skip := exclude[cand.Credential.ID]; skip {
			continue
		}
		if !cand.Eligible() {
			continue
		}
		if cand.Shared() {
			if !includeShared || !poolOpen {
				continue
			}
			shared = append(shared, cand)
			continue
		}
		dedicated = append(dedicated, cand)
	}
	shuffle(dedicated)
	shuffle(shared)

	if user.PrefersShared() {
		groups[0], groups[1] = shared, dedicated
	} else {
		groups[0], groups[1] = dedicated, shared
	}
	return groups, nil
}

// Available filters names down to the models the user can currently route to.
func (s *Selector) Available(ctx context.Context, userID uint64, names []string) ([]string, error) {
	user, errUser := s.users.GetUser(ctx, userID)
	if errUser != nil {
		return nil, errUser
	}
	var out []string
	for _, model := range names {
		groups, errGroups := s.eligibleGroups(ctx, &user, model, nil, nil)
		if errGroups != nil {
			return nil, errGroups
		}
		if len(firstNonEmpty(groups)) > 0 {
			out = append(out, model)
		}
	}
	return out, nil
}

func firstNonEmpty(groups [2][]Candidate) []Candidate {
	for _, group := range groups {
		if len(group) > 0 {
			return group
		}
	}
	return nil
}

func shuffle(c []Candidate) {
	rand.Shuffle(len(c), func(i, j int) { c[i], c[j] = c[j], c[i] })
}

// IsSelectionError reports whether err is a user-facing selection failure.
func IsSelectionError(err error) bool {
	return errors.Is(err, ErrNoEligibleCredential) || errors.Is(err, ErrQuotaExhausted)
}
