package models

import "time"

// UsageRecord accumulates daily per-profile counters for billing and quotas.
// Rows are unique per profile and day.
type UsageRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`    // Owning user ID.
	User   User   `gorm:"foreignKey:UserID"` // Owning user record.

	ProfileID uint64  `gorm:"not null;uniqueIndex:idx_usage_profile_date"` // Counted profile ID.
	Profile   Profile `gorm:"foreignKey:ProfileID"`                        // Counted profile record.

	SubscriptionID *uint64 `gorm:"index"` // Active subscription at record time.

	Date time.Time `gorm:"type:date;not null;uniqueIndex:idx_usage_profile_date"` // Counter day (UTC date).

	IncomingMessages int `gorm:"not null;default:0"` // Inbound SMS count.
	OutgoingMessages int `gorm:"not null;default:0"` // Outbound SMS count.
	AIResponses      int `gorm:"not null;default:0"` // Generated replies sent.
	FlaggedMessages  int `gorm:"not null;default:0"` // Moderation flags raised.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// SMSUsage tracks provider-level usage and billing totals for one user.
// The scheduler refreshes it periodically and resets it on the monthly rollup.
type SMSUsage struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;uniqueIndex"` // Tracked user ID, one row per user.
	User   User   `gorm:"foreignKey:UserID"`    // Tracked user record.

	SMSCount     int     `gorm:"not null;default:0"`                    // Messages sent since last rollup.
	PhoneNumbers int     `gorm:"not null;default:0"`                    // Provisioned numbers.
	CurrentBill  float64 `gorm:"type:decimal(10,2);not null;default:0"` // Accrued amount this period.
	LastBill     float64 `gorm:"type:decimal(10,2);not null;default:0"` // Amount billed last rollup.

	LastBillAt *time.Time // When the last rollup ran.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
