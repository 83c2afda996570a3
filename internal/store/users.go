package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"gorm.io/gorm"
)

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id uint64) (models.User, error) {
	var user models.User
	if errFind := s.db.WithContext(ctx).Take(&user, id).Error; errFind != nil {
		return models.User{}, notFound(errFind, ErrUserNotFound)
	}
	return user, nil
}

// GetUserByUsername loads a user by login name.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	if errFind := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).Take(&user).Error; errFind != nil {
		return models.User{}, notFound(errFind, ErrUserNotFound)
	}
	return user, nil
}

// CreateUser inserts a user with an already hashed password.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) (models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || passwordHash == "" {
		return models.User{}, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	if _, errFind := s.GetUserByUsername(ctx, username); errFind == nil {
		return models.User{}, ErrUserExists
	} else if !errors.Is(errFind, ErrUserNotFound) {
		return models.User{}, errFind
	}
	user := models.User{Username: username, Password: passwordHash, IsAdmin: isAdmin}
	if errCreate := s.db.WithContext(ctx).Create(&user).Error; errCreate != nil {
		return models.User{}, fmt.Errorf("store: create user: %w", errCreate)
	}
	return user, nil
}

// PreferenceUpdate changes the selection preference; nil fields are left alone.
type PreferenceUpdate struct {
	PreferShared     *int
	UseOnlyDedicated *bool
}

// UpdatePreference applies a preference change and returns the updated user.
func (s *Store) UpdatePreference(ctx context.Context, userID uint64, update PreferenceUpdate) (models.User, error) {
	values := map[string]any{}
	if update.PreferShared != nil {
		if *update.PreferShared != 0 && *update.PreferShared != 1 {
			return models.User{}, fmt.Errorf("%w: prefer_shared must be 0 or 1", ErrInvalidInput)
		}
		values["prefer_shared"] = *update.PreferShared
	}
	if update.UseOnlyDedicated != nil {
		values["use_only_dedicated"] = *update.UseOnlyDedicated
	}
	if len(values) > 0 {
		values["updated_at"] = s.now().UTC()
		res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(values)
		if res.Error != nil {
			return models.User{}, fmt.Errorf("store: update preference: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return models.User{}, ErrUserNotFound
		}
	}
	return s.GetUser(ctx, userID)
}

// CreateAPIKey stores a generated key for the user.
func (s *Store) CreateAPIKey(ctx context.Context, userID uint64, name, key string) (models.APIKey, error) {
	if strings.TrimSpace(key) == "" {
		return models.APIKey{}, fmt.Errorf("%w: key is required", ErrInvalidInput)
	}
	if strings.TrimSpace(name) == "" {
		name = "default"
	}
	row := models.APIKey{UserID: userID, Name: strings.TrimSpace(name), APIKey: key, Active: true}
	if errCreate := s.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return models.APIKey{}, fmt.Errorf("store: create api key: %w", errCreate)
	}
	return row, nil
}

// ListAPIKeys returns the user's keys, newest first, revoked ones included.
func (s *Store) ListAPIKeys(ctx context.Context, userID uint64) ([]models.APIKey, error) {
	var rows []models.APIKey
	if errFind := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: list api keys: %w", errFind)
	}
	return rows, nil
}

// RevokeAPIKey deactivates one of the user's keys. Revoking twice keeps the first timestamp.
func (s *Store) RevokeAPIKey(ctx context.Context, userID, keyID uint64) (models.APIKey, error) {
	var row models.APIKey
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errFind := tx.Where("id = ? AND user_id = ?", keyID, userID).Take(&row).Error; errFind != nil {
			return notFound(errFind, ErrAPIKeyNotFound)
		}
		if row.RevokedAt != nil && !row.Active {
			return nil
		}
		now := s.now().UTC()
		if row.RevokedAt == nil {
			row.RevokedAt = &now
		}
		row.Active = false
		if errUpdate := tx.Model(&models.APIKey{}).Where("id = ?", row.ID).Updates(map[string]any{
			"active":     false,
			"revoked_at": row.RevokedAt,
			"updated_at": now,
		}).Error; errUpdate != nil {
			return fmt.Errorf("store: revoke api key: %w", errUpdate)
		}
		row.UpdatedAt = now
		return nil
	})
	if errTx != nil {
		return models.APIKey{}, errTx
	}
	return row, nil
}

// AuthenticateAPIKey resolves a usable key to its user and stamps last_used_at.
func (s *Store) AuthenticateAPIKey(ctx context.Context, key string) (models.User, error) {
	var row models.APIKey
	if errFind := s.db.WithContext(ctx).Preload("User").Where("api_key = ?", key).Take(&row).Error; errFind != nil {
		return models.User{}, notFound(errFind, ErrAPIKeyNotFound)
	}
	now := s.now().UTC()
	if !row.Usable(now) || row.User == nil {
		return models.User{}, ErrAPIKeyNotFound
	}
	if errTouch := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", row.ID).
		UpdateColumn("last_used_at", now).Error; errTouch != nil && !errors.Is(errTouch, gorm.ErrRecordNotFound) {
		return models.User{}, fmt.Errorf("store: touch api key: %w", errTouch)
	}
	return *row.User, nil
}
