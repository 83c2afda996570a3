package admin

import (
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/config"
	internalhttp "github.com/WonderhoyTeam/AntiHub-Backend/internal/http"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/http/api/admin/handlers"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/store"
	"github.com/gin-gonic/gin"
)

// RegisterAdminRoutes registers the health check and the privileged routes.
func RegisterAdminRoutes(r *gin.Engine, st *store.Store, scheduler *quota.RecoveryScheduler, jwtCfg config.JWTConfig, lowQuotaThreshold float64) {
	if r == nil || st == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(st.DB(), scheduler)
	r.GET("/healthz", healthHandler.Healthz)

	adminAuth := internalhttp.AdminAuthMiddleware(st, jwtCfg.Secret)
	quotaHandler := handlers.NewQuotaHandler(st, scheduler, lowQuotaThreshold)
	r.GET("/api/quotas/low", adminAuth, quotaHandler.LowQuota)

	admin := r.Group("/api/admin")
	admin.Use(adminAuth)
	admin.POST("/recovery/run", quotaHandler.RunRecovery)

	accountHandler := handlers.NewAccountHandler(st)
	admin.PUT("/accounts/:cookie_id/status", accountHandler.UpdateStatus)

	settingsHandler := handlers.NewSettingsHandler(st.DB())
	admin.GET("/settings", settingsHandler.List)
	admin.PUT("/settings/:key", settingsHandler.Update)
}
