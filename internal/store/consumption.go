package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"gorm.io/gorm"
)

const (
	defaultConsumptionLimit = 100
	maxConsumptionLimit     = 1000
)

// ConsumptionFilter narrows a consumption log query. Start is inclusive, End exclusive.
type ConsumptionFilter struct {
	UserID uint64
	Model  string
	Start  *time.Time
	End    *time.Time
	Limit  int
}

// ListConsumption returns the user's log rows, newest first.
func (s *Store) ListConsumption(ctx context.Context, filter ConsumptionFilter) ([]models.ConsumptionLog, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultConsumptionLimit
	}
	if limit > maxConsumptionLimit {
		limit = maxConsumptionLimit
	}

	q := s.db.WithContext(ctx).Model(&models.ConsumptionLog{}).Where("user_id = ?", filter.UserID)
	if filter.Model != "" {
		q = q.Where("model_name = ?", filter.Model)
	}
	if filter.Start != nil {
		q = q.Where("created_at >= ?", filter.Start.UTC())
	}
	if filter.End != nil {
		q = q.Where("created_at < ?", filter.End.UTC())
	}
	var rows []models.ConsumptionLog
	if errFind := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: list consumption: %w", errFind)
	}
	return rows, nil
}

// ConsumptionStats aggregates the user's log rows for one model.
type ConsumptionStats struct {
	ModelName       string     `json:"model_name"`
	TotalRequests   int64      `json:"total_requests"`
	TotalConsumed   float64    `json:"total_quota_consumed"`
	AverageConsumed float64    `json:"avg_quota_consumed"`
	LastUsedAt      *time.Time `json:"last_used_at"`
}

// GetConsumptionStats computes count, sum, average and last use for the model.
func (s *Store) GetConsumptionStats(ctx context.Context, userID uint64, model string) (ConsumptionStats, error) {
	stats := ConsumptionStats{ModelName: model}
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.ConsumptionLog{}).Where("user_id = ? AND model_name = ?", userID, model)
	}

	var agg struct {
		Requests int64
		Consumed float64
	}
	if errAgg := base().
		Select("COUNT(*) AS requests, COALESCE(SUM(quota_consumed), 0) AS consumed").
		Scan(&agg).Error; errAgg != nil {
		return stats, fmt.Errorf("store: consumption stats: %w", errAgg)
	}
	stats.TotalRequests = agg.Requests
	stats.TotalConsumed = roundQuota(agg.Consumed)
	if agg.Requests == 0 {
		return stats, nil
	}
	stats.AverageConsumed = roundQuota(agg.Consumed / float64(agg.Requests))

	var last models.ConsumptionLog
	errLast := base().Order("created_at DESC").Order("id DESC").Take(&last).Error
	if errLast != nil && !errors.Is(errLast, gorm.ErrRecordNotFound) {
		return stats, fmt.Errorf("store: consumption last used: %w", errLast)
	}
	if errLast == nil {
		lastUsed := last.CreatedAt
		stats.LastUsedAt = &lastUsed
	}
	return stats, nil
}

// LowQuotaModel is a model whose shared capacity runs low.
type LowQuotaModel struct {
	ModelName        string  `json:"model_name"`
	AverageQuota     float64 `json:"avg_quota"`
	TotalQuota       float64 `json:"total_quota"`
	Credentials      int     `json:"credentials"`
	AvailableCookies int     `json:"available_cookies"`
}

// LowQuotaModels returns the models whose average quota across enabled shared
// credentials is below threshold, lowest first.
func (s *Store) LowQuotaModels(ctx context.Context, threshold float64) ([]LowQuotaModel, error) {
	var rows []models.CredentialQuota
	if errFind := s.joinCredentials(ctx).
		Where("credentials.is_shared = ? AND credentials.status = ?", true, models.CredentialEnabled).
		Where("credential_quotas.status <> ?", models.QuotaDisabledByAdmin).
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: low quota models: %w", errFind)
	}

	byModel := map[string]*LowQuotaModel{}
	for _, row := range rows {
		m, ok := byModel[row.ModelName]
		if !ok {
			m = &LowQuotaModel{ModelName: row.ModelName}
			byModel[row.ModelName] = m
		}
		m.Credentials++
		m.TotalQuota += row.Quota
		if row.Status == models.QuotaEnabled && row.Quota > 0 {
			m.AvailableCookies++
		}
	}

	out := make([]LowQuotaModel, 0, len(byModel))
	for _, m := range byModel {
		m.TotalQuota = roundQuota(m.TotalQuota)
		m.AverageQuota = roundQuota(m.TotalQuota / float64(m.Credentials))
		if m.AverageQuota < threshold {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AverageQuota != out[j].AverageQuota {
			return out[i].AverageQuota < out[j].AverageQuota
		}
		return out[i].ModelName < out[j].ModelName
	})
	return out, nil
}
