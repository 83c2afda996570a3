package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	dbutil "github.com/WonderhoyTeam/AntiHub-Backend/internal/db"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PoolBalance returns the user's shared pool balance for the model, 0 when no pool exists.
func (s *Store) PoolBalance(ctx context.Context, userID uint64, model string) (float64, error) {
	var pool models.SharedQuotaPool
	errFind := s.db.WithContext(ctx).
		Where("user_id = ? AND model_name = ?", userID, model).
		Take(&pool).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if errFind != nil {
		return 0, fmt.Errorf("store: pool balance: %w", errFind)
	}
	return pool.Balance, nil
}

// ListUserPools returns every shared pool of the user.
func (s *Store) ListUserPools(ctx context.Context, userID uint64) ([]models.SharedQuotaPool, error) {
	var rows []models.SharedQuotaPool
	if errFind := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("model_name ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: list pools: %w", errFind)
	}
	return rows, nil
}

// RecoverPools applies one recovery step to every pool, each in its own transaction.
// A failing pool is reported in the result and does not stop the others.
func (s *Store) RecoverPools(ctx context.Context, params quota.RecoveryParams) (quota.RecoveryResult, error) {
	var ids []uint64
	if errPluck := s.db.WithContext(ctx).Model(&models.SharedQuotaPool{}).Order("id ASC").Pluck("id", &ids).Error; errPluck != nil {
		return quota.RecoveryResult{}, fmt.Errorf("store: list pools: %w", errPluck)
	}
	multiplier := params.CapMultiplier
	if multiplier <= 0 {
		multiplier = s.capMultiplier
	}
	now := params.Now
	if now.IsZero() {
		now = s.now()
	}

	result := quota.RecoveryResult{Pools: len(ids)}
	for i, id := range ids {
		if errCtx := ctx.Err(); errCtx != nil {
			result.Failed += len(ids) - i
			result.Errors = append(result.Errors, errCtx)
			break
		}
		errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var pool models.SharedQuotaPool
			if errFind := dbutil.ForUpdate(tx).Where("id = ?", id).Take(&pool).Error; errFind != nil {
				return errFind
			}
			n, errCount := s.countSharedCredentials(tx, pool.UserID, pool.ModelName)
			if errCount != nil {
				return errCount
			}
			capacity := roundQuota(multiplier * float64(n))
			balance := RecoveredBalance(pool.Balance, capacity, params.Rate)
			return tx.Model(&models.SharedQuotaPool{}).Where("id = ?", pool.ID).Updates(map[string]any{
				"balance":           balance,
				"max_quota":         capacity,
				"last_recovered_at": now.UTC(),
				"version":           gorm.Expr("version + 1"),
				"updated_at":        now.UTC(),
			}).Error
		})
		if errTx != nil {
			if errors.Is(errTx, gorm.ErrRecordNotFound) {
				result.Pools--
				continue
			}
			log.WithError(errTx).Warnf("quota recovery: pool %d failed", id)
			result.Failed++
			result.Errors = append(result.Errors, fmt.Errorf("pool %d: %w", id, errTx))
			continue
		}
		result.Recovered++
	}
	return result, nil
}

// RecoveredBalance returns min(min(balance, cap) + rate*cap, cap).
func RecoveredBalance(balance, capacity, rate float64) float64 {
	if capacity <= 0 {
		return 0
	}
	balance = math.Min(math.Max(balance, 0), capacity)
	return roundQuota(math.Min(balance+rate*capacity, capacity))
}

// syncPools recomputes the cap of the user's pools for the given models and clamps
// balances down to it. Missing pools are created at full cap when create is set.
func (s *Store) syncPools(tx *gorm.DB, userID uint64, modelNames []string, create bool) error {
	now := s.now().UTC()
	for _, model := range modelNames {
		n, errCount := s.countSharedCredentials(tx, userID, model)
		if errCount != nil {
			return errCount
		}
		capacity := roundQuota(s.capMultiplier * float64(n))

		var pool models.SharedQuotaPool
		errFind := dbutil.ForUpdate(tx).Where("user_id = ? AND model_name = ?", userID, model).Take(&pool).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			if !create || capacity <= 0 {
				continue
			}
			pool = models.SharedQuotaPool{
				UserID:          userID,
				ModelName:       model,
				Balance:         capacity,
				MaxQuota:        capacity,
				LastRecoveredAt: &now,
			}
			if errCreate := tx.Create(&pool).Error; errCreate != nil {
				return fmt.Errorf("store: create pool: %w", errCreate)
			}
			continue
		}
		if errFind != nil {
			return fmt.Errorf("store: lock pool: %w", errFind)
		}
		if errUpdate := tx.Model(&models.SharedQuotaPool{}).Where("id = ?", pool.ID).Updates(map[string]any{
			"max_quota":  capacity,
			"balance":    math.Min(pool.Balance, capacity),
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		}).Error; errUpdate != nil {
			return fmt.Errorf("store: update pool cap: %w", errUpdate)
		}
	}
	return nil
}

// resyncCaps recomputes the owner's pool cap after a shared row changed status.
// It runs in its own transaction so callers never hold two pool locks at once.
func (s *Store) resyncCaps(ctx context.Context, credentialID uint64, model string) {
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cred models.Credential
		if errFind := tx.Select("id", "user_id", "is_shared").Where("id = ?", credentialID).Take(&cred).Error; errFind != nil {
			return notFound(errFind, ErrCredentialNotFound)
		}
		if !cred.IsShared {
			return nil
		}
		return s.syncPools(tx, cred.UserID, []string{model}, false)
	})
	if errTx != nil {
		log.WithError(errTx).WithFields(log.Fields{
			"credential_id": credentialID,
			"model":         model,
		}).Warn("store: resync pool cap failed")
	}
}

// countSharedCredentials counts the user's enabled shared credentials whose row for
// the model is enabled. Rows exhausted by quota or switched off by an admin do not count.
func (s *Store) countSharedCredentials(tx *gorm.DB, userID uint64, model string) (int64, error) {
	var n int64
	if errCount := tx.Model(&models.CredentialQuota{}).
		Joins("JOIN credentials ON credentials.id = credential_quotas.credential_id").
		Where("credentials.user_id = ? AND credentials.is_shared = ? AND credentials.status = ?", userID, true, models.CredentialEnabled).
		Where("credential_quotas.model_name = ? AND credential_quotas.status = ?", model, models.QuotaEnabled).
		Count(&n).Error; errCount != nil {
		return 0, fmt.Errorf("store: count shared credentials: %w", errCount)
	}
	return n, nil
}

// SharedPoolModel aggregates the shared credentials of one model.
type SharedPoolModel struct {
	ModelName        string     `json:"model_name"`
	TotalQuota       float64    `json:"total_quota"`
	EarliestResetAt  *time.Time `json:"earliest_reset_time"`
	AvailableCookies int        `json:"available_cookies"`
	PoolBalance      float64    `json:"pool_balance"`
	PoolMaxQuota     float64    `json:"pool_max_quota"`
}

// SharedPoolSummary aggregates, per model, the shared credentials currently usable and
// the user's own pool balance.
func (s *Store) SharedPoolSummary(ctx context.Context, userID uint64) ([]SharedPoolModel, error) {
	var rows []models.CredentialQuota
	if errFind := s.joinCredentials(ctx).
		Where("credentials.is_shared = ? AND credentials.status = ?", true, models.CredentialEnabled).
		Order("credential_quotas.model_name ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: shared pool summary: %w", errFind)
	}
	pools, errPools := s.ListUserPools(ctx, userID)
	if errPools != nil {
		return nil, errPools
	}

	byModel := map[string]*SharedPoolModel{}
	var order []string
	entry := func(model string) *SharedPoolModel {
		if m, ok := byModel[model]; ok {
			return m
		}
		m := &SharedPoolModel{ModelName: model}
		byModel[model] = m
		order = append(order, model)
		return m
	}
	for _, row := range rows {
		m := entry(row.ModelName)
		if row.Status != models.QuotaEnabled || row.Quota <= 0 {
			continue
		}
		m.TotalQuota = roundQuota(m.TotalQuota + row.Quota)
		m.AvailableCookies++
		if row.ResetAt != nil && (m.EarliestResetAt == nil || row.ResetAt.Before(*m.EarliestResetAt)) {
			resetAt := *row.ResetAt
			m.EarliestResetAt = &resetAt
		}
	}
	for _, pool := range pools {
		m := entry(pool.ModelName)
		m.PoolBalance = pool.Balance
		m.PoolMaxQuota = pool.MaxQuota
	}

	out := make([]SharedPoolModel, 0, len(order))
	for _, model := range order {
		out = append(out, *byModel[model])
	}
	return out, nil
}
