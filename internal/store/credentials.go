package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	dbutil "github.com/WonderhoyTeam/AntiHub-Backend/internal/db"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreateCredentialInput describes a credential registered after an OAuth grant.
type CreateCredentialInput struct {
	UserID   uint64
	Name     string
	IsShared bool
	Models   []string
	Metadata json.RawMessage
}

// CreateCredential stores the credential with one quota row per model and
// brings the owner's shared pools in line with the new cap.
func (s *Store) CreateCredential(ctx context.Context, in CreateCredentialInput) (models.Credential, error) {
	modelNames := normalizeModels(in.Models)
	if in.UserID == 0 || len(modelNames) == 0 {
		return models.Credential{}, fmt.Errorf("%w: user and at least one model are required", ErrInvalidInput)
	}
	metadata := datatypes.JSON("{}")
	if len(in.Metadata) > 0 {
		if !json.Valid(in.Metadata) {
			return models.Credential{}, fmt.Errorf("%w: metadata must be json", ErrInvalidInput)
		}
		metadata = datatypes.JSON(in.Metadata)
	}

	cred := models.Credential{
		CookieID: uuid.NewString(),
		UserID:   in.UserID,
		Name:     strings.TrimSpace(in.Name),
		IsShared: in.IsShared,
		Status:   models.CredentialEnabled,
		Metadata: metadata,
	}
	for _, name := range modelNames {
		cred.Quotas = append(cred.Quotas, models.CredentialQuota{
			ModelName: name,
			Quota:     1,
			Status:    models.QuotaEnabled,
		})
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&cred).Error; errCreate != nil {
			return fmt.Errorf("store: create credential: %w", errCreate)
		}
		if !cred.IsShared {
			return nil
		}
		return s.syncPools(tx, cred.UserID, modelNames, true)
	})
	if errTx != nil {
		return models.Credential{}, errTx
	}
	return cred, nil
}

// DeleteCredential removes a credential. ownerID 0 skips the ownership check.
func (s *Store) DeleteCredential(ctx context.Context, ownerID uint64, cookieID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cred, errFind := s.lockCredential(tx, ownerID, cookieID)
		if errFind != nil {
			return errFind
		}
		modelNames := quotaModels(cred.Quotas)
		if errDelete := tx.Where("credential_id = ?", cred.ID).Delete(&models.CredentialQuota{}).Error; errDelete != nil {
			return fmt.Errorf("store: delete credential quotas: %w", errDelete)
		}
		if errDelete := tx.Delete(&models.Credential{}, cred.ID).Error; errDelete != nil {
			return fmt.Errorf("store: delete credential: %w", errDelete)
		}
		if !cred.IsShared {
			return nil
		}
		return s.syncPools(tx, cred.UserID, modelNames, false)
	})
}

// SetCredentialStatus enables or administratively disables a whole credential.
func (s *Store) SetCredentialStatus(ctx context.Context, ownerID uint64, cookieID string, enabled bool) (models.Credential, error) {
	status := models.CredentialDisabledByAdmin
	if enabled {
		status = models.CredentialEnabled
	}
	var out models.Credential
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cred, errFind := s.lockCredential(tx, ownerID, cookieID)
		if errFind != nil {
			return errFind
		}
		if errUpdate := tx.Model(&models.Credential{}).Where("id = ?", cred.ID).Updates(map[string]any{
			"status":     status,
			"updated_at": s.now().UTC(),
		}).Error; errUpdate != nil {
			return fmt.Errorf("store: update credential status: %w", errUpdate)
		}
		cred.Status = status
		out = cred
		if !cred.IsShared {
			return nil
		}
		return s.syncPools(tx, cred.UserID, quotaModels(cred.Quotas), false)
	})
	return out, errTx
}

// SetModelQuotaStatus enables or administratively disables one model of a credential.
// Re-enabling an exhausted model leaves it disabled by quota.
func (s *Store) SetModelQuotaStatus(ctx context.Context, ownerID uint64, cookieID, model string, enabled bool) (models.CredentialQuota, error) {
	var out models.CredentialQuota
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cred, errFind := s.lockCredential(tx, ownerID, cookieID)
		if errFind != nil {
			return errFind
		}
		var row models.CredentialQuota
		if errFind := dbutil.ForUpdate(tx).
			Where("credential_id = ? AND model_name = ?", cred.ID, model).
			Take(&row).Error; errFind != nil {
			return notFound(errFind, ErrQuotaNotFound)
		}

		status := models.QuotaDisabledByAdmin
		if enabled {
			status = models.DeriveQuotaStatus(models.QuotaEnabled, row.Quota)
		}
		if errUpdate := tx.Model(&models.CredentialQuota{}).Where("id = ?", row.ID).Updates(map[string]any{
			"status":     status,
			"version":    gorm.Expr("version + 1"),
			"updated_at": s.now().UTC(),
		}).Error; errUpdate != nil {
			return fmt.Errorf("store: update quota status: %w", errUpdate)
		}
		row.Status = status
		row.Version++
		out = row
		if !cred.IsShared {
			return nil
		}
		return s.syncPools(tx, cred.UserID, []string{model}, false)
	})
	return out, errTx
}

// ListCredentials returns the user's credentials with their quota rows.
func (s *Store) ListCredentials(ctx context.Context, userID uint64) ([]models.Credential, error) {
	var rows []models.Credential
	if errFind := s.db.WithContext(ctx).
		Preload("Quotas", func(db *gorm.DB) *gorm.DB { return db.Order("model_name ASC") }).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: list credentials: %w", errFind)
	}
	return rows, nil
}

// GetCredential loads one credential. ownerID 0 skips the ownership check.
func (s *Store) GetCredential(ctx context.Context, ownerID uint64, cookieID string) (models.Credential, error) {
	var cred models.Credential
	q := s.db.WithContext(ctx).
		Preload("Quotas", func(db *gorm.DB) *gorm.DB { return db.Order("model_name ASC") }).
		Where("cookie_id = ?", cookieID)
	if ownerID != 0 {
		q = q.Where("user_id = ?", ownerID)
	}
	if errFind := q.Take(&cred).Error; errFind != nil {
		return models.Credential{}, notFound(errFind, ErrCredentialNotFound)
	}
	return cred, nil
}

// ListCredentialQuotas returns the per-model quota rows of one credential.
func (s *Store) ListCredentialQuotas(ctx context.Context, ownerID uint64, cookieID string) ([]models.CredentialQuota, error) {
	cred, errFind := s.GetCredential(ctx, ownerID, cookieID)
	if errFind != nil {
		return nil, errFind
	}
	return cred.Quotas, nil
}

// ListCandidates returns the user's dedicated credentials for the model and, when
// includeShared is set, every shared credential for the model.
func (s *Store) ListCandidates(ctx context.Context, userID uint64, model string, includeShared bool) ([]quota.Candidate, error) {
	q := s.joinCredentials(ctx).Where("credential_quotas.model_name = ?", model)
	if includeShared {
		q = q.Where("((credentials.user_id = ? AND credentials.is_shared = ?) OR credentials.is_shared = ?)", userID, false, true)
	} else {
		q = q.Where("credentials.user_id = ? AND credentials.is_shared = ?", userID, false)
	}
	var rows []models.CredentialQuota
	if errFind := q.Order("credential_quotas.id ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: list candidates: %w", errFind)
	}
	return toCandidates(rows), nil
}

// ListRefreshTargets returns every quota row the poller should keep fresh:
// rows of enabled credentials that are not administratively disabled.
// A non-empty cookieID restricts the result to one credential.
func (s *Store) ListRefreshTargets(ctx context.Context, cookieID string) ([]quota.Candidate, error) {
	q := s.joinCredentials(ctx).
		Where("credentials.status = ?", models.CredentialEnabled).
		Where("credential_quotas.status <> ?", models.QuotaDisabledByAdmin)
	if cookieID != "" {
		q = q.Where("credentials.cookie_id = ?", cookieID)
	}
	var rows []models.CredentialQuota
	if errFind := q.Order("credential_quotas.id ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: list refresh targets: %w", errFind)
	}
	return toCandidates(rows), nil
}

func (s *Store) joinCredentials(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&models.CredentialQuota{}).
		Select("credential_quotas.*").
		Joins("JOIN credentials ON credentials.id = credential_quotas.credential_id").
		Preload("Credential")
}

// ListModels returns the distinct model names the user has credentials for.
func (s *Store) ListModels(ctx context.Context, userID uint64, includeShared bool) ([]string, error) {
	q := s.db.WithContext(ctx).Model(&models.CredentialQuota{}).
		Joins("JOIN credentials ON credentials.id = credential_quotas.credential_id")
	if includeShared {
		q = q.Where("(credentials.user_id = ? AND credentials.is_shared = ?) OR credentials.is_shared = ?", userID, false, true)
	} else {
		q = q.Where("credentials.user_id = ? AND credentials.is_shared = ?", userID, false)
	}
	var names []string
	if errPluck := q.Distinct().Order("credential_quotas.model_name ASC").Pluck("credential_quotas.model_name", &names).Error; errPluck != nil {
		return nil, fmt.Errorf("store: list models: %w", errPluck)
	}
	return names, nil
}

// ApplyQuotaReading persists a live provider reading and derives the row status.
func (s *Store) ApplyQuotaReading(ctx context.Context, quotaID uint64, reading quota.Reading) (models.CredentialQuota, error) {
	var out models.CredentialQuota
	changed := false
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, errFind := s.lockQuota(tx, quotaID)
		if errFind != nil {
			return errFind
		}
		var errApply error
		if changed, errApply = s.applyReading(tx, &row, reading); errApply != nil {
			return errApply
		}
		out = row
		return nil
	})
	if errTx != nil {
		return models.CredentialQuota{}, errTx
	}
	if changed {
		s.resyncCaps(ctx, out.CredentialID, out.ModelName)
	}
	return out, nil
}

// applyReading writes the reading to row and reports whether its status flipped.
func (s *Store) applyReading(tx *gorm.DB, row *models.CredentialQuota, reading quota.Reading) (bool, error) {
	fetchedAt := reading.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.now()
	}
	fetchedAt = fetchedAt.UTC()
	value := roundQuota(models.ClampQuota(reading.Quota))
	status := models.DeriveQuotaStatus(row.Status, value)

	updates := map[string]any{
		"quota":           value,
		"status":          status,
		"last_fetched_at": fetchedAt,
		"version":         gorm.Expr("version + 1"),
		"updated_at":      s.now().UTC(),
	}
	if reading.ResetAt != nil {
		resetAt := reading.ResetAt.UTC()
		updates["reset_at"] = resetAt
		row.ResetAt = &resetAt
	}
	if errUpdate := tx.Model(&models.CredentialQuota{}).Where("id = ?", row.ID).Updates(updates).Error; errUpdate != nil {
		return false, fmt.Errorf("store: update quota: %w", errUpdate)
	}
	changed := row.Status != status
	row.Quota = value
	row.Status = status
	row.LastFetchedAt = &fetchedAt
	row.Version++
	return changed, nil
}

func (s *Store) lockCredential(tx *gorm.DB, ownerID uint64, cookieID string) (models.Credential, error) {
	var cred models.Credential
	q := dbutil.ForUpdate(tx).Where("cookie_id = ?", strings.TrimSpace(cookieID))
	if ownerID != 0 {
		q = q.Where("user_id = ?", ownerID)
	}
	if errFind := q.Take(&cred).Error; errFind != nil {
		return models.Credential{}, notFound(errFind, ErrCredentialNotFound)
	}
	if errFind := tx.Where("credential_id = ?", cred.ID).Order("model_name ASC").Find(&cred.Quotas).Error; errFind != nil {
		return models.Credential{}, fmt.Errorf("store: load credential quotas: %w", errFind)
	}
	return cred, nil
}

func (s *Store) lockQuota(tx *gorm.DB, quotaID uint64) (models.CredentialQuota, error) {
	var row models.CredentialQuota
	if errFind := dbutil.ForUpdate(tx).Where("id = ?", quotaID).Take(&row).Error; errFind != nil {
		return models.CredentialQuota{}, notFound(errFind, ErrQuotaNotFound)
	}
	return row, nil
}

func toCandidates(rows []models.CredentialQuota) []quota.Candidate {
	out := make([]quota.Candidate, 0, len(rows))
	for _, row := range rows {
		if row.Credential == nil {
			continue
		}
		cred := *row.Credential
		row.Credential = nil
		out = append(out, quota.Candidate{Credential: cred, Quota: row})
	}
	return out
}

func quotaModels(rows []models.CredentialQuota) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ModelName)
	}
	return out
}

func normalizeModels(in []string) []string {
	out := make([]string, 0, len(in))
	for _, name := range in {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(out, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}
