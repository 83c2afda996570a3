package handlers

import (
	"net/http"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HealthHandler reports database reachability and the state of the pool recovery loop.
type HealthHandler struct {
	db        *gorm.DB
	scheduler *quota.RecoveryScheduler
}

// NewHealthHandler constructs a HealthHandler. scheduler may be nil.
func NewHealthHandler(db *gorm.DB, scheduler *quota.RecoveryScheduler) *HealthHandler {
	return &HealthHandler{db: db, scheduler: scheduler}
}

// Healthz answers 200 when the database and the recovery lock backend both respond.
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx := c.Request.Context()
	body := gin.H{"ok": true, "database": "ok"}
	status := http.StatusOK

	sqlDB, errDB := h.db.DB()
	switch {
	case errDB != nil:
		body["database"] = "unavailable"
		status = http.StatusServiceUnavailable
	case sqlDB.PingContext(ctx) != nil:
		body["database"] = "unreachable"
		status = http.StatusServiceUnavailable
	}

	if h.scheduler != nil {
		recovery, errLock := h.scheduler.Health(ctx)
		if errLock != nil {
			log.WithError(errLock).Warn("healthz: recovery lock unreachable")
			status = http.StatusServiceUnavailable
		}
		body["recovery"] = recovery
	}

	if status != http.StatusOK {
		body["ok"] = false
	}
	c.JSON(status, body)
}
