package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	internalsettings "github.com/WonderhoyTeam/AntiHub-Backend/internal/settings"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/store"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// QuotaHandler serves the privileged quota views and the manual recovery trigger.
type QuotaHandler struct {
	store            *store.Store
	scheduler        *quota.RecoveryScheduler
	defaultThreshold float64
}

// NewQuotaHandler constructs a QuotaHandler.
func NewQuotaHandler(st *store.Store, scheduler *quota.RecoveryScheduler, defaultThreshold float64) *QuotaHandler {
	if defaultThreshold <= 0 || defaultThreshold > 1 {
		defaultThreshold = 0.1
	}
	return &QuotaHandler{store: st, scheduler: scheduler, defaultThreshold: defaultThreshold}
}

// LowQuota lists the models whose shared availability is below the threshold.
func (h *QuotaHandler) LowQuota(c *gin.Context) {
	threshold := internalsettings.LowQuotaThreshold(h.defaultThreshold)
	if raw := strings.TrimSpace(c.Query("threshold")); raw != "" {
		parsed, errParse := strconv.ParseFloat(raw, 64)
		if errParse != nil || parsed <= 0 || parsed > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be in (0,1]"})
			return
		}
		threshold = parsed
	}
	rows, errList := h.store.LowQuotaModels(c.Request.Context(), threshold)
	if errList != nil {
		log.WithError(errList).Error("low quota report failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "low quota report failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"threshold": threshold, "models": rows})
}

// RunRecovery applies one recovery tick now. Without force it is a no-op when the
// current period has already been recovered.
func (h *QuotaHandler) RunRecovery(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "recovery scheduler unavailable"})
		return
	}
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	result, errRun := h.scheduler.Run(c.Request.Context(), force)
	if errRun != nil {
		log.WithError(errRun).Warn("manual recovery failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "recovery failed", "result": result})
		return
	}
	c.JSON(http.StatusOK, gin.H{"forced": force, "result": result})
}
