package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidSetting is returned for unknown keys and malformed values.
var ErrInvalidSetting = errors.New("settings: invalid setting")

// RefreshDBConfigSnapshot reloads all settings from the database into the in-memory snapshot.
func RefreshDBConfigSnapshot(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	newest, values, errLoad := loadRows(db.WithContext(ctx))
	if errLoad != nil {
		return errLoad
	}
	StoreDBConfig(newest, values)
	return nil
}

// loadRows reads every setting. Rows that are not valid JSON are skipped with a warning.
func loadRows(db *gorm.DB) (time.Time, map[string]json.RawMessage, error) {
	var rows []models.Setting
	if errFind := db.Order("key ASC").Find(&rows).Error; errFind != nil {
		return time.Time{}, nil, fmt.Errorf("settings: load: %w", errFind)
	}

	values := make(map[string]json.RawMessage, len(rows))
	var newest time.Time
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		raw := json.RawMessage(strings.TrimSpace(row.Value))
		if !json.Valid(raw) {
			log.WithField("key", key).Warn("settings: ignoring value that is not valid json")
			continue
		}
		values[key] = raw
		if row.UpdatedAt.After(newest) {
			newest = row.UpdatedAt
		}
	}
	return newest, values, nil
}

// Upsert writes one setting and refreshes the snapshot. The write is rolled back when
// the reload fails.
func Upsert(ctx context.Context, db *gorm.DB, key string, value json.RawMessage) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	key = strings.TrimSpace(key)
	if !IsKnownKey(key) {
		return fmt.Errorf("%w: unknown key %q", ErrInvalidSetting, key)
	}
	trimmed := strings.TrimSpace(string(value))
	if !json.Valid([]byte(trimmed)) {
		return fmt.Errorf("%w: value for %s is not valid json", ErrInvalidSetting, key)
	}

	var (
		newest time.Time
		values map[string]json.RawMessage
	)
	errTx := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.Setting{Key: key, Value: trimmed, UpdatedAt: time.Now().UTC()}
		if errSave := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&row).Error; errSave != nil {
			return fmt.Errorf("settings: upsert %s: %w", key, errSave)
		}
		var errLoad error
		newest, values, errLoad = loadRows(tx)
		return errLoad
	})
	if errTx != nil {
		return errTx
	}
	StoreDBConfig(newest, values)
	return nil
}
