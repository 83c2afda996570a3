package quota

import (
	"time"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/config"
	internalsettings "github.com/WonderhoyTeam/AntiHub-Backend/internal/settings"
)

// Options holds the engine tunables. Runtime settings override the
// recovery rate, recovery interval and retry budget on every use.
type Options struct {
	RetryBudget      int
	ProviderAttempts int
	SettleTimeout    time.Duration
	RecoveryRate     float64
	RecoveryInterval time.Duration
	CapMultiplier    float64
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultQuotaConfig())
}

// OptionsFromConfig maps the quota config section onto Options.
func OptionsFromConfig(cfg config.QuotaConfig) Options {
	return Options{
		RetryBudget:      cfg.RetryBudget,
		ProviderAttempts: cfg.ProviderAttempts,
		SettleTimeout:    cfg.SettleTimeout,
		RecoveryRate:     cfg.RecoveryRate,
		RecoveryInterval: cfg.RecoveryInterval,
		CapMultiplier:    cfg.CapMultiplier,
	}
}

func (o Options) retryBudget() int {
	return internalsettings.RetryBudget(max(o.RetryBudget, 1))
}

func (o Options) providerAttempts() int {
	return max(o.ProviderAttempts, 1)
}

func (o Options) settleTimeout() time.Duration {
	if o.SettleTimeout <= 0 {
		return 10 * time.Second
	}
	return o.SettleTimeout
}

func (o Options) recoveryRate() float64 {
	fallback := o.RecoveryRate
	if fallback <= 0 || fallback > 1 {
		fallback = 0.2
	}
	return internalsettings.RecoveryRate(fallback)
}

func (o Options) recoveryInterval() time.Duration {
	fallback := o.RecoveryInterval
	if fallback <= 0 {
		fallback = time.Hour
	}
	return internalsettings.RecoveryInterval(fallback)
}

func (o Options) capMultiplier() float64 {
	if o.CapMultiplier <= 0 {
		return 2
	}
	return o.CapMultiplier
}
