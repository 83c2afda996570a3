package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	dbutil "github.com/WonderhoyTeam/AntiHub-Backend/internal/db"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	"gorm.io/gorm"
)

// Settle books one provider call in a single transaction: the credential quota takes
// the post-call reading, a shared spend debits the spender's pool (never below zero)
// and a consumption log row is appended.
func (s *Store) Settle(ctx context.Context, in quota.Settlement) (models.ConsumptionLog, error) {
	var entry models.ConsumptionLog
	changed := false
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, errLock := s.lockQuota(tx, in.Candidate.Quota.ID)
		if errLock != nil {
			return errLock
		}
		var errApply error
		if changed, errApply = s.applyReading(tx, &row, in.After); errApply != nil {
			return errApply
		}
		now := s.now().UTC()
		if errTouch := tx.Model(&models.Credential{}).
			Where("id = ?", row.CredentialID).
			UpdateColumn("last_used_at", now).Error; errTouch != nil {
			return fmt.Errorf("store: touch credential: %w", errTouch)
		}

		before := roundQuota(models.ClampQuota(in.QuotaBefore))
		consumed := roundQuota(quota.Consumed(before, row.Quota))

		debited := 0.0
		if in.Candidate.Shared() && consumed > 0 {
			var errDebit error
			debited, errDebit = s.debitPool(tx, in.UserID, row.ModelName, consumed)
			if errDebit != nil {
				return errDebit
			}
		}

		entry = models.ConsumptionLog{
			RequestID:     in.RequestID,
			UserID:        in.UserID,
			CredentialID:  row.CredentialID,
			CookieID:      in.Candidate.CookieID(),
			ModelName:     row.ModelName,
			QuotaBefore:   before,
			QuotaAfter:    row.Quota,
			QuotaConsumed: consumed,
			PoolDebited:   debited,
			IsShared:      in.Candidate.Shared(),
			Streamed:      in.Streamed,
			Partial:       in.Partial,
			CreatedAt:     now,
		}
		if errCreate := tx.Create(&entry).Error; errCreate != nil {
			return fmt.Errorf("store: append consumption log: %w", errCreate)
		}
		return nil
	})
	if errTx != nil {
		return models.ConsumptionLog{}, errTx
	}
	if changed {
		s.resyncCaps(ctx, entry.CredentialID, entry.ModelName)
	}
	return entry, nil
}

// debitPool takes up to amount from the pool and returns what was taken.
func (s *Store) debitPool(tx *gorm.DB, userID uint64, model string, amount float64) (float64, error) {
	var pool models.SharedQuotaPool
	errFind := dbutil.ForUpdate(tx).Where("user_id = ? AND model_name = ?", userID, model).Take(&pool).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if errFind != nil {
		return 0, fmt.Errorf("store: lock pool: %w", errFind)
	}
	debit := roundQuota(math.Min(amount, math.Max(pool.Balance, 0)))
	if errUpdate := tx.Model(&models.SharedQuotaPool{}).Where("id = ?", pool.ID).Updates(map[string]any{
		"balance":    roundQuota(math.Max(pool.Balance-debit, 0)),
		"version":    gorm.Expr("version + 1"),
		"updated_at": s.now().UTC(),
	}).Error; errUpdate != nil {
		return 0, fmt.Errorf("store: debit pool: %w", errUpdate)
	}
	return debit, nil
}
