package models

import (
	"time"

	"gorm.io/datatypes"
)

// Profile represents an SMS persona bound to one phone number.
type Profile struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`    // Owning user ID.
	User   User   `gorm:"foreignKey:UserID"` // Owning user record.

	Name        string `gorm:"type:varchar(100);not null"`            // Display name.
	PhoneNumber string `gorm:"type:varchar(20);not null;uniqueIndex"` // E.164 number, globally unique.
	Description string `gorm:"type:text"`                             // Persona description.
	Timezone    string `gorm:"type:varchar(50);default:UTC"`          // IANA timezone for business hours.

	IsActive  bool `gorm:"not null;default:true"`  // Whether the profile receives messages.
	AIEnabled bool `gorm:"not null;default:false"` // Whether generated replies are allowed.

	BusinessHours          datatypes.JSON `gorm:"type:jsonb"`         // Per-day {"start","end"} map keyed by weekday.
	DailyAutoResponseLimit int            `gorm:"not null;default:100"` // Cap on automated replies per day.

	AutoReplies      []AutoReply      `gorm:"foreignKey:ProfileID"` // Keyword rules.
	OutOfOfficeReply *OutOfOfficeReply `gorm:"foreignKey:ProfileID"` // After-hours reply.
	TextExamples     []TextExample    `gorm:"foreignKey:ProfileID"` // Style examples for prompting.
	AISettings       *AISettings      `gorm:"foreignKey:ProfileID"` // Generation settings.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
