package quota

import (
	"context"
	"time"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
)

// Candidate is one credential paired with its quota row for the requested model.
type Candidate struct {
	Credential models.Credential
	Quota      models.CredentialQuota
}

// Shared reports whether spending the candidate draws from a shared pool.
func (c Candidate) Shared() bool {
	return c.Credential.IsShared
}

// CookieID returns the external identifier of the credential.
func (c Candidate) CookieID() string {
	return c.Credential.CookieID
}

// Eligible reports whether the cached state allows routing to the candidate.
func (c Candidate) Eligible() bool {
	return c.Credential.Enabled() && c.Quota.Status == models.QuotaEnabled && c.Quota.Quota > 0
}

// Reading is a provider-reported quota observation.
type Reading struct {
	Quota     float64
	ResetAt   *time.Time
	FetchedAt time.Time
}

// Settlement carries everything the ledger needs to book one provider call.
type Settlement struct {
	RequestID   string
	UserID      uint64
	Candidate   Candidate
	QuotaBefore float64
	After       Reading
	Streamed    bool
	Partial     bool
}

// Consumed returns max(before - after, 0).
func Consumed(before, after float64) float64 {
	if d := before - after; d > 0 {
		return d
	}
	return 0
}

// RecoveryParams parameterizes one recovery pass.
type RecoveryParams struct {
	Rate          float64
	CapMultiplier float64
	Now           time.Time
}

// RecoveryResult summarizes one recovery pass.
type RecoveryResult struct {
	Pools     int     `json:"pools"`
	Recovered int     `json:"recovered"`
	Failed    int     `json:"failed"`
	Skipped   bool    `json:"skipped"`
	Errors    []error `json:"-"`
}

// CredentialStore reads routing candidates and persists live quota readings.
type CredentialStore interface {
	ListCandidates(ctx context.Context, userID uint64, model string, includeShared bool) ([]Candidate, error)
	ApplyQuotaReading(ctx context.Context, quotaID uint64, reading Reading) (models.CredentialQuota, error)
}

// RefreshTargetStore lists every quota row the poller keeps fresh.
type RefreshTargetStore interface {
	CredentialStore
	ListRefreshTargets(ctx context.Context, cookieID string) ([]Candidate, error)
}

// Ledger owns shared pool balances and the consumption log.
type Ledger interface {
	PoolBalance(ctx context.Context, userID uint64, model string) (float64, error)
	Settle(ctx context.Context, s Settlement) (models.ConsumptionLog, error)
	RecoverPools(ctx context.Context, params RecoveryParams) (RecoveryResult, error)
}

// UserStore resolves the selection preference of a user.
type UserStore interface {
	GetUser(ctx context.Context, id uint64) (models.User, error)
}

// Provider is the upstream collaborator that owns the real quota.
type Provider interface {
	RefreshQuota(ctx context.Context, cred models.Credential, model string) (Reading, error)
	Chat(ctx context.Context, cred models.Credential, req ChatRequest) (ChatStream, error)
}

// ChatStream yields response chunks. Next returns io.EOF when done.
type ChatStream interface {
	Next() (Chunk, error)
	Close() error
}

// Locker grants at most one holder per key until the ttl expires.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
