package models

import (
	"time"

	"gorm.io/datatypes"
)

// CredentialStatus is the credential-wide state controlled by owners and administrators.
type CredentialStatus string

const (
	// CredentialEnabled marks a credential usable for routing.
	CredentialEnabled CredentialStatus = "enabled"
	// CredentialDisabledByAdmin marks a credential explicitly turned off.
	CredentialDisabledByAdmin CredentialStatus = "disabled_by_admin"
)

// Credential stores one upstream provider session ("cookie") obtained through an OAuth grant.
type Credential struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`       // Primary key.
	CookieID string `gorm:"type:text;not null;uniqueIndex"` // External identifier.

	UserID uint64 `gorm:"not null;index"`    // Owning user ID.
	User   *User  `gorm:"foreignKey:UserID"` // Owning user.

	Name     string           `gorm:"type:text"`                                   // Display name.
	IsShared bool             `gorm:"not null;default:false;index"`                // Shared pool membership.
	Status   CredentialStatus `gorm:"type:varchar(32);not null;default:'enabled'"` // Credential-wide status.

	Metadata datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Opaque OAuth token payload.

	Quotas []CredentialQuota `gorm:"foreignKey:CredentialID"` // Per-model quota rows.

	LastUsedAt *time.Time // Last settled spend.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Enabled reports whether the credential is not administratively disabled.
func (c *Credential) Enabled() bool {
	return c != nil && c.Status == CredentialEnabled
}
