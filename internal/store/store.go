// Package store persists credentials, shared pools and the consumption log with gorm.
// Every mutation runs in a transaction that locks the affected rows and bumps their version.
package store

import (
	"errors"
	"math"
	"time"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	"gorm.io/gorm"
)

// Store errors.
var (
	ErrCredentialNotFound = errors.New("store: credential not found")
	ErrQuotaNotFound      = errors.New("store: credential quota not found")
	ErrUserNotFound       = errors.New("store: user not found")
	ErrUserExists         = errors.New("store: username already taken")
	ErrAPIKeyNotFound     = errors.New("store: api key not found")
	ErrInvalidInput       = errors.New("store: invalid input")
)

var (
	_ quota.RefreshTargetStore = (*Store)(nil)
	_ quota.Ledger             = (*Store)(nil)
	_ quota.UserStore          = (*Store)(nil)
)

// Store is the gorm-backed credential store and quota ledger.
type Store struct {
	db            *gorm.DB
	capMultiplier float64
	now           func() time.Time
}

// New constructs a Store. capMultiplier is the pool cap per enabled shared credential.
func New(db *gorm.DB, capMultiplier float64) *Store {
	if capMultiplier <= 0 {
		capMultiplier = 2
	}
	return &Store{db: db, capMultiplier: capMultiplier, now: time.Now}
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// roundQuota trims float noise to the decimal(20,10) column precision.
func roundQuota(v float64) float64 {
	return math.Round(v*1e10) / 1e10
}

func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
