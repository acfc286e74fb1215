package models

import (
	"time"

	"gorm.io/datatypes"
)

// Message send statuses.
const (
	// SendStatusQueued marks an outgoing message persisted but not yet delivered.
	SendStatusQueued = "queued"
	// SendStatusSent marks a message accepted by the telephony provider.
	SendStatusSent = "sent"
	// SendStatusFailed marks a terminal delivery failure.
	SendStatusFailed = "failed"
)

// Message is one SMS in or out, linked to exactly one profile.
type Message struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProfileID uint64  `gorm:"not null;index:idx_messages_profile_client"` // Owning profile ID.
	Profile   Profile `gorm:"foreignKey:ProfileID"`                       // Owning profile record.

	ClientNumber string `gorm:"type:varchar(20);not null;index:idx_messages_profile_client"` // Far-end phone number.
	Content      string `gorm:"type:text;not null"`                                          // Message body.

	IsIncoming  bool `gorm:"not null"`               // True when sent by the client.
	AIGenerated bool `gorm:"not null;default:false"` // True when drafted by the generation backend.
	IsRead      bool `gorm:"not null;default:false"` // Read marker for the inbox UI.

	ProviderSID string `gorm:"column:provider_sid;type:varchar(64)"` // Telephony provider message SID.
	SendStatus  string `gorm:"type:varchar(20)"` // queued, sent or failed.
	SendError   string `gorm:"type:text"`        // Provider error text on failure.

	Timestamp time.Time `gorm:"not null;index"` // When the message occurred.

	Flag *FlaggedMessage `gorm:"foreignKey:MessageID"` // Moderation flag, if any.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// FlaggedMessage records a moderation match against one message.
// Flags are advisory: the flagged message is still processed normally.
type FlaggedMessage struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	MessageID uint64  `gorm:"not null;uniqueIndex"`  // Flagged message ID, one flag per message.
	Message   Message `gorm:"foreignKey:MessageID"`  // Flagged message record.

	Reasons datatypes.JSON `gorm:"type:jsonb;default:'[]'"` // Matched reasons.

	IsReviewed  bool       `gorm:"not null;default:false"` // Whether an operator has reviewed the flag.
	ReviewNotes string     `gorm:"type:text"`              // Reviewer notes.
	ReviewedBy  *uint64    `gorm:"index"`                  // Reviewing user ID.
	ReviewedAt  *time.Time // Review timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
