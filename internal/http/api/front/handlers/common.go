package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/store"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// getUserID extracts the user ID from gin context.
func getUserID(c *gin.Context) uint64 {
	val, exists := c.Get("userID")
	if !exists {
		return 0
	}
	switch v := val.(type) {
	case uint64:
		return v
	case int64:
		return uint64(v)
	case uint:
		return uint64(v)
	case int:
		return uint64(v)
	default:
		return 0
	}
}

// statusBody is the {"status":0|1} toggle body used by the account routes.
type statusBody struct {
	Status *int `json:"status"`
}

func (b statusBody) enabled() (bool, bool) {
	if b.Status == nil || (*b.Status != 0 && *b.Status != 1) {
		return false, false
	}
	return *b.Status == 1, true
}

// writeStoreError maps store errors onto HTTP responses.
func writeStoreError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrCredentialNotFound), errors.Is(err, store.ErrQuotaNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, store.ErrAPIKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
	case errors.Is(err, store.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrUserExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.WithError(err).Error(fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// writeRoutingError maps selection and provider errors onto HTTP responses.
func writeRoutingError(c *gin.Context, model string, err error) {
	var exhausted *quota.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":    "quota_exhausted",
			"message":  "all credentials for this model are out of quota, retry after recovery",
			"model":    exhausted.Model,
			"attempts": exhausted.Attempts,
		})
	case errors.Is(err, quota.ErrNoEligibleCredential):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no_eligible_credential",
			"message": "no usable credential for this model, add an account or wait for quota recovery",
			"model":   model,
		})
	case errors.Is(err, quota.ErrProviderCall):
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider_call_failed", "model": model})
	case errors.Is(err, quota.ErrUserDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": "user disabled"})
	case errors.Is(err, context.Canceled):
		c.Status(499)
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request timed out"})
	default:
		log.WithError(err).Error("chat routing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// parseDateParam accepts YYYY-MM-DD or RFC3339. A bare end date covers the whole day.
func parseDateParam(raw string, end bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, time.UTC)
	if err != nil {
		return nil, err
	}
	if end {
		t = t.AddDate(0, 0, 1)
	}
	return &t, nil
}

// requireUser returns the caller's ID or writes 401.
func requireUser(c *gin.Context) (uint64, bool) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	return userID, true
}
