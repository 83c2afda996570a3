package quota

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrNoEligibleCredential = errors.New("quota: no eligible credential")
	ErrQuotaExhausted       = errors.New("quota: quota exhausted")
	ErrProviderCall         = errors.New("quota: provider call failed")
	ErrUserDisabled         = errors.New("quota: user disabled")
	ErrNoFinalReading       = errors.New("quota: no final quota reading")
)

// ExhaustedError reports that the selection retry budget ran out for a model.
type ExhaustedError struct {
	Model    string
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("quota: quota exhausted for model %s after %d attempts", e.Model, e.Attempts)
}

func (e *ExhaustedError) Unwrap() error {
	return ErrQuotaExhausted
}

// ProviderCallError wraps an upstream failure that happened before any quota reading.
type ProviderCallError struct {
	CookieID string
	Model    string
	Err      error
}

func (e *ProviderCallError) Error() string {
	return fmt.Sprintf("quota: provider call failed cookie=%s model=%s: %v", e.CookieID, e.Model, e.Err)
}

func (e *ProviderCallError) Unwrap() []error {
	return []error{ErrProviderCall, e.Err}
}

// RecoveryTickError reports a recovery tick that did not complete for every pool.
type RecoveryTickError struct {
	Period time.Time
	Err    error
}

func (e *RecoveryTickError) Error() string {
	return fmt.Sprintf("quota: recovery tick %s failed: %v", e.Period.UTC().Format(time.RFC3339), e.Err)
}

func (e *RecoveryTickError) Unwrap() error {
	return e.Err
}
