package models

import "time"

// Client is an external phone number the system has corresponded with.
// Rows are deduplicated globally by phone number.
type Client struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PhoneNumber string `gorm:"type:varchar(20);not null;uniqueIndex"` // E.164 number, globally unique.
	Name        string `gorm:"type:varchar(100)"`                     // Optional display name.
	Email       string `gorm:"type:varchar(255)"`                     // Optional email address.
	Notes       string `gorm:"type:text"`                             // Free-text operator notes.

	IsBlocked   bool   `gorm:"not null;default:false"` // Blocked numbers are dropped at ingest.
	BlockReason string `gorm:"type:text"`              // Why the number was blocked.
	IsRegular   bool   `gorm:"not null;default:false"` // Marks a returning client.

	LastContactAt *time.Time `gorm:"index"` // Most recent message in either direction.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// ProfileClient links a profile to a client with per-pair conversation state.
type ProfileClient struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProfileID uint64  `gorm:"not null;uniqueIndex:idx_profile_client"` // Profile side of the pair.
	Profile   Profile `gorm:"foreignKey:ProfileID"`                    // Profile record.

	ClientID uint64 `gorm:"not null;uniqueIndex:idx_profile_client"` // Client side of the pair.
	Client   Client `gorm:"foreignKey:ClientID"`                     // Client record.

	Notes             string     `gorm:"type:text"`          // Per-profile notes about this client.
	ConversationCount int        `gorm:"not null;default:0"` // Messages exchanged on this pair.
	LastContactAt     *time.Time // Most recent message on this pair.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
