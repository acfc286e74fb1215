package models

import "time"

// APIKey stores the SHA-256 hash of an issued API key. The plaintext key is
// shown once at creation and never persisted.
type APIKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`    // Owning user ID.
	User   User   `gorm:"foreignKey:UserID"` // Owning user record.

	Name    string `gorm:"type:varchar(100);not null"`           // Label chosen by the user.
	KeyHash string `gorm:"type:varchar(64);not null;uniqueIndex"` // SHA-256 hex digest of the key.

	IsActive bool `gorm:"not null;default:true"` // Whether the key authenticates.

	ExpiresAt  *time.Time // Optional expiry.
	RevokedAt  *time.Time // Revocation timestamp.
	LastUsedAt *time.Time // Most recent successful use.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// FlagWord is one moderation keyword. Incoming messages containing the word
// (case-insensitive substring) are flagged for review.
type FlagWord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Word     string `gorm:"type:varchar(50);not null;uniqueIndex"` // Matched substring.
	Category string `gorm:"type:varchar(50)"`                      // Grouping label for review.
	Severity int    `gorm:"not null;default:1"`                    // 1-5 review weight.
	Action   string `gorm:"type:varchar(20);default:flag"`         // flag or ignore.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
