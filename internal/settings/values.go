package settings

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Float returns the float stored under key, or fallback when unset or invalid.
func Float(key string, fallback float64) float64 {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	if v, okParse := parseDBConfigFloat(raw); okParse {
		return v
	}
	return fallback
}

// Int returns the integer stored under key, or fallback when unset or invalid.
func Int(key string, fallback int) int {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	if v, okParse := parseDBConfigFloat(raw); okParse {
		return int(v)
	}
	return fallback
}

// RecoveryRate resolves the recovery rate; values outside (0,1] fall back.
func RecoveryRate(fallback float64) float64 {
	rate := Float(QuotaRecoveryRateKey, fallback)
	if rate <= 0 || rate > 1 {
		return fallback
	}
	return rate
}

// RecoveryInterval resolves the recovery tick period.
func RecoveryInterval(fallback time.Duration) time.Duration {
	seconds := Int(QuotaRecoveryIntervalSecondsKey, 0)
	if seconds < MinRecoveryIntervalSeconds {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// RetryBudget resolves the selection retry budget.
func RetryBudget(fallback int) int {
	budget := Int(QuotaSelectionRetryBudgetKey, fallback)
	if budget <= 0 {
		return fallback
	}
	return budget
}

// LowQuotaThreshold resolves the default threshold of the low quota report.
func LowQuotaThreshold(fallback float64) float64 {
	threshold := Float(QuotaLowThresholdKey, fallback)
	if threshold <= 0 || threshold > 1 {
		return fallback
	}
	return threshold
}

// parseDBConfigFloat accepts bare numbers, numeric strings and {"value": ...} wrappers.
func parseDBConfigFloat(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	var number float64
	if errNumber := json.Unmarshal(raw, &number); errNumber == nil {
		return number, true
	}
	var text string
	if errText := json.Unmarshal(raw, &text); errText == nil {
		parsed, errParse := strconv.ParseFloat(strings.TrimSpace(text), 64)
		return parsed, errParse == nil
	}
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if errWrapper := json.Unmarshal(raw, &wrapper); errWrapper == nil && len(wrapper.Value) > 0 {
		return parseDBConfigFloat(wrapper.Value)
	}
	return 0, false
}
