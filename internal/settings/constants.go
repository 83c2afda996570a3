package settings

import "slices"

// DB config keys that override the quota engine tunables at runtime.
const (
	// QuotaRecoveryRateKey is the fraction of a pool cap restored per recovery tick.
	QuotaRecoveryRateKey = "QUOTA_RECOVERY_RATE"
	// QuotaRecoveryIntervalSecondsKey is the recovery tick period in seconds.
	QuotaRecoveryIntervalSecondsKey = "QUOTA_RECOVERY_INTERVAL_SECONDS"
	// QuotaSelectionRetryBudgetKey bounds credential selection attempts per request.
	QuotaSelectionRetryBudgetKey = "QUOTA_SELECTION_RETRY_BUDGET"
	// QuotaLowThresholdKey is the default threshold of the low quota report.
	QuotaLowThresholdKey = "QUOTA_LOW_THRESHOLD"

	// QuotaPollIntervalSecondsKey controls the quota poll interval in seconds.
	QuotaPollIntervalSecondsKey = "QUOTA_POLL_INTERVAL_SECONDS"
	// QuotaPollMaxConcurrencyKey controls the max concurrent quota refreshes.
	QuotaPollMaxConcurrencyKey = "QUOTA_POLL_MAX_CONCURRENCY"

	// DefaultQuotaPollIntervalSeconds is the fallback poll interval (seconds).
	DefaultQuotaPollIntervalSeconds = 180
	// DefaultQuotaPollMaxConcurrency is the fallback max concurrency.
	DefaultQuotaPollMaxConcurrency = 5
	// MinRecoveryIntervalSeconds guards against a runaway recovery loop.
	MinRecoveryIntervalSeconds = 60
)

// KnownKeys lists the settings the admin API accepts.
var KnownKeys = []string{
	QuotaRecoveryRateKey,
	QuotaRecoveryIntervalSecondsKey,
	QuotaSelectionRetryBudgetKey,
	QuotaLowThresholdKey,
	QuotaPollIntervalSecondsKey,
	QuotaPollMaxConcurrencyKey,
}

// IsKnownKey reports whether key is an accepted setting.
func IsKnownKey(key string) bool {
	return slices.Contains(KnownKeys, key)
}
