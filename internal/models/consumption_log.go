package models

import "time"

// ConsumptionLog is an append-only record of one settled provider call.
type ConsumptionLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RequestID string `gorm:"type:text;index"` // Inbound request identifier.

	UserID       uint64 `gorm:"not null;index"`                   // Spending user ID.
	CredentialID uint64 `gorm:"not null;index"`                   // Spent credential ID.
	CookieID     string `gorm:"type:text;not null"`               // Spent credential external ID.
	ModelName    string `gorm:"type:varchar(255);not null;index"` // Model name.

	QuotaBefore   float64 `gorm:"type:decimal(20,10);not null"`           // Cached quota before the call.
	QuotaAfter    float64 `gorm:"type:decimal(20,10);not null"`           // Provider quota after the call.
	QuotaConsumed float64 `gorm:"type:decimal(20,10);not null"`           // max(before - after, 0).
	PoolDebited   float64 `gorm:"type:decimal(20,10);not null;default:0"` // Amount taken from the shared pool.

	IsShared bool `gorm:"not null;default:false"` // Whether the credential was shared.
	Streamed bool `gorm:"not null;default:false"` // Whether the response was streamed.
	Partial  bool `gorm:"not null;default:false"` // Whether the request was cancelled mid-stream.

	CreatedAt time.Time `gorm:"not null;index"` // Settlement timestamp.
}
