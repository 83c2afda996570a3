package models

import "time"

// Setting stores a runtime override of a quota tunable.
type Setting struct {
	Key       string    `gorm:"type:varchar(255);primaryKey"` // Setting key, see internal/settings.
	Value     string    `gorm:"type:text;not null"`           // JSON-encoded value, kept as text.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`      // Last update timestamp.
}
