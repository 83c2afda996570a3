package models

import (
	"math"
	"time"
)

// QuotaStatus is the per-model state of a credential.
type QuotaStatus string

const (
	// QuotaEnabled marks the model usable on the credential.
	QuotaEnabled QuotaStatus = "enabled"
	// QuotaDisabledByAdmin marks the model explicitly turned off by the owner or an administrator.
	QuotaDisabledByAdmin QuotaStatus = "disabled_by_admin"
	// QuotaDisabledByQuota marks the model exhausted until the provider reports a reset.
	QuotaDisabledByQuota QuotaStatus = "disabled_by_quota"
)

// CredentialQuota stores the cached provider quota of one credential for one model.
type CredentialQuota struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	CredentialID uint64      `gorm:"not null;uniqueIndex:idx_credential_quotas_credential_model,priority:1"` // Related credential ID.
	Credential   *Credential `gorm:"foreignKey:CredentialID;constraint:OnDelete:CASCADE"`                    // Related credential.
	ModelName    string      `gorm:"type:varchar(255);not null;uniqueIndex:idx_credential_quotas_credential_model,priority:2;index"`

	Quota  float64     `gorm:"type:decimal(20,10);not null;default:1"`      // Remaining fraction in [0,1].
	Status QuotaStatus `gorm:"type:varchar(32);not null;default:'enabled'"` // Per-model status.

	ResetAt       *time.Time // Provider-reported reset time.
	LastFetchedAt *time.Time // Last live refresh.

	Version int64 `gorm:"not null;default:0"` // Bumped on every write.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName overrides the default table name.
func (CredentialQuota) TableName() string {
	return "credential_quotas"
}

// ClampQuota bounds a provider reading into [0,1].
func ClampQuota(v float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 1
	}
	return v
}

// DeriveQuotaStatus returns the status a row must carry after its quota changes.
// Administrative disables are sticky; quota exhaustion and provider resets toggle the rest.
func DeriveQuotaStatus(current QuotaStatus, quota float64) QuotaStatus {
	if current == QuotaDisabledByAdmin {
		return current
	}
	if quota <= 0 {
		return QuotaDisabledByQuota
	}
	return QuotaEnabled
}
