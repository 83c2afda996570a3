package models

import "time"

// User represents an end-user account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Password string `gorm:"type:text;not null"`             // Hashed password.

	IsAdmin  bool `gorm:"not null;default:false"` // Grants access to privileged routes.
	Disabled bool `gorm:"not null;default:false"` // Explicit disable flag.

	PreferShared     int  `gorm:"not null;default:0"`     // Candidate ordering: 0 dedicated first, 1 shared first.
	UseOnlyDedicated bool `gorm:"not null;default:false"` // Never route through shared credentials.

	APIKeys []APIKey `gorm:"foreignKey:UserID"` // Related API keys.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// PrefersShared reports whether shared credentials are ordered ahead of dedicated ones.
func (u *User) PrefersShared() bool {
	return u != nil && u.PreferShared == 1
}
