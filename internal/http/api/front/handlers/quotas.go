package handlers

import (
	"net/http"
	"strings"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/store"
	"github.com/gin-gonic/gin"
)

// QuotaHandler serves the caller's pools and consumption log.
type QuotaHandler struct {
	store *store.Store
}

// NewQuotaHandler constructs a QuotaHandler.
func NewQuotaHandler(st *store.Store) *QuotaHandler {
	return &QuotaHandler{store: st}
}

// UserPools lists the caller's shared quota pools.
func (h *QuotaHandler) UserPools(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	pools, errList := h.store.ListUserPools(c.Request.Context(), userID)
	if errList != nil {
		writeStoreError(c, errList, "list pools failed")
		return
	}
	out := make([]gin.H, 0, len(pools))
	for _, pool := range pools {
		out = append(out, gin.H{
			"model_name":        pool.ModelName,
			"quota":             pool.Balance,
			"max_quota":         pool.MaxQuota,
			"last_recovered_at": pool.LastRecoveredAt,
			"last_updated_at":   pool.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"pools": out})
}

// SharedPool aggregates shared capacity per model.
func (h *QuotaHandler) SharedPool(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	summary, errSummary := h.store.SharedPoolSummary(c.Request.Context(), userID)
	if errSummary != nil {
		writeStoreError(c, errSummary, "shared pool summary failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": summary})
}

type consumptionQuery struct {
	Limit     int    `form:"limit"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	Model     string `form:"model_name"`
}

// Consumption lists the caller's consumption log, newest first.
func (h *QuotaHandler) Consumption(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var q consumptionQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	start, errStart := parseDateParam(strings.TrimSpace(q.StartDate), false)
	if errStart != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date"})
		return
	}
	end, errEnd := parseDateParam(strings.TrimSpace(q.EndDate), true)
	if errEnd != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date"})
		return
	}
	if start != nil && end != nil && !end.After(*start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be after start_date"})
		return
	}

	rows, errList := h.store.ListConsumption(c.Request.Context(), store.ConsumptionFilter{
		UserID: userID,
		Model:  strings.TrimSpace(q.Model),
		Start:  start,
		End:    end,
		Limit:  q.Limit,
	})
	if errList != nil {
		writeStoreError(c, errList, "list consumption failed")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":             row.ID,
			"request_id":     row.RequestID,
			"cookie_id":      row.CookieID,
			"model_name":     row.ModelName,
			"quota_before":   row.QuotaBefore,
			"quota_after":    row.QuotaAfter,
			"quota_consumed": row.QuotaConsumed,
			"pool_debited":   row.PoolDebited,
			"is_shared":      row.IsShared,
			"streamed":       row.Streamed,
			"partial":        row.Partial,
			"consumed_at":    row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"consumption": out, "count": len(out)})
}

// ConsumptionStats aggregates the caller's log for one model.
func (h *QuotaHandler) ConsumptionStats(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	model := strings.TrimSpace(c.Param("model_name"))
	if model == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model_name is required"})
		return
	}
	stats, errStats := h.store.GetConsumptionStats(c.Request.Context(), userID, model)
	if errStats != nil {
		writeStoreError(c, errStats, "consumption stats failed")
		return
	}
	c.JSON(http.StatusOK, stats)
}
