package front

import (
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/config"
	internalhttp "github.com/WonderhoyTeam/AntiHub-Backend/internal/http"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/http/api/front/handlers"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/store"
	"github.com/gin-gonic/gin"
)

// RegisterFrontRoutes registers the user-facing API and the OpenAI-compatible chat routes.
func RegisterFrontRoutes(r *gin.Engine, st *store.Store, engine *quota.Engine, poller *quota.Poller, jwtCfg config.JWTConfig) {
	if r == nil || st == nil || engine == nil {
		return
	}

	authHandler := handlers.NewAuthHandler(st, jwtCfg)
	r.POST("/api/auth/login", authHandler.Login)

	api := r.Group("/api")
	api.Use(internalhttp.UserAuthMiddleware(st, jwtCfg.Secret, false))

	api.GET("/api-keys", authHandler.ListAPIKeys)
	api.POST("/api-keys", authHandler.CreateAPIKey)
	api.DELETE("/api-keys/:id", authHandler.RevokeAPIKey)

	accountHandler := handlers.NewAccountHandler(st, poller)
	api.GET("/accounts", accountHandler.List)
	api.POST("/accounts", accountHandler.Create)
	api.GET("/accounts/:cookie_id", accountHandler.Get)
	api.DELETE("/accounts/:cookie_id", accountHandler.Delete)
	api.PUT("/accounts/:cookie_id/status", accountHandler.UpdateStatus)
	api.GET("/accounts/:cookie_id/quotas", accountHandler.Quotas)
	api.POST("/accounts/:cookie_id/quotas/refresh", accountHandler.RefreshQuotas)
	api.PUT("/accounts/:cookie_id/quotas/:model_name/status", accountHandler.UpdateModelStatus)

	quotaHandler := handlers.NewQuotaHandler(st)
	api.GET("/quotas/user", quotaHandler.UserPools)
	api.GET("/quotas/shared-pool", quotaHandler.SharedPool)
	api.GET("/quotas/consumption", quotaHandler.Consumption)
	api.GET("/quotas/consumption/stats/:model_name", quotaHandler.ConsumptionStats)

	preferenceHandler := handlers.NewPreferenceHandler(st)
	api.GET("/preference", preferenceHandler.Get)
	api.PUT("/preference", preferenceHandler.Update)

	chatHandler := handlers.NewChatHandler(engine, st)
	v1 := r.Group("/v1")
	v1.Use(internalhttp.UserAuthMiddleware(st, jwtCfg.Secret, true))
	v1.POST("/chat/completions", chatHandler.Completions)
	v1.GET("/models", chatHandler.Models)
}
