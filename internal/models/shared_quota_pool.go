package models

import "time"

// SharedQuotaPool bounds how much shared-credential capacity a user may spend on one model.
type SharedQuotaPool struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID    uint64 `gorm:"not null;uniqueIndex:idx_shared_quota_pools_user_model,priority:1"`                   // Owning user ID.
	ModelName string `gorm:"type:varchar(255);not null;uniqueIndex:idx_shared_quota_pools_user_model,priority:2"` // Model name.

	Balance  float64 `gorm:"type:decimal(20,10);not null;default:0"` // Current balance, 0 <= balance <= max_quota.
	MaxQuota float64 `gorm:"type:decimal(20,10);not null;default:0"` // Cap derived from enabled shared credentials.

	LastRecoveredAt *time.Time // Last recovery tick applied.

	Version int64 `gorm:"not null;default:0"` // Bumped on every write.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
