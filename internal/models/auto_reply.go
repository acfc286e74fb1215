package models

import (
	"strings"
	"time"
)

// AutoReply is a keyword-triggered canned response rule.
// When several rules match one message, the highest priority wins and ties
// break on the lowest ID, so the winner is always deterministic.
type AutoReply struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProfileID uint64  `gorm:"not null;index"`       // Owning profile ID.
	Profile   Profile `gorm:"foreignKey:ProfileID"` // Owning profile record.

	Keyword  string `gorm:"type:varchar(100);not null"` // Case-insensitive substring trigger.
	Response string `gorm:"type:text;not null"`         // Canned response sent verbatim.

	IsActive bool `gorm:"not null;default:true"` // Whether the rule is evaluated.
	Priority int  `gorm:"not null;default:0"`    // Higher priority rules win.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Matches reports whether the rule's keyword occurs in the message body,
// case-insensitively.
func (r *AutoReply) Matches(body string) bool {
	if r == nil || r.Keyword == "" {
		return false
	}
	return strings.Contains(strings.ToLower(body), strings.ToLower(r.Keyword))
}

// OutOfOfficeReply is sent outside business hours when active.
type OutOfOfficeReply struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProfileID uint64  `gorm:"not null;index"`       // Owning profile ID.
	Profile   Profile `gorm:"foreignKey:ProfileID"` // Owning profile record.

	Message  string `gorm:"type:text;not null"`    // After-hours reply text.
	IsActive bool   `gorm:"not null;default:true"` // Whether the reply is sent.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TextExample is one turn of a stored texting-style example used in prompts.
type TextExample struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProfileID uint64  `gorm:"not null;index"`       // Owning profile ID.
	Profile   Profile `gorm:"foreignKey:ProfileID"` // Owning profile record.

	Content    string    `gorm:"type:text;not null"`     // Example text.
	IsIncoming bool      `gorm:"not null;default:false"` // True for client-side turns.
	Timestamp  time.Time `gorm:"not null"`               // Ordering timestamp.
}

// AISettings holds per-profile generation parameters.
type AISettings struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProfileID uint64  `gorm:"not null;uniqueIndex"` // Owning profile ID, one row per profile.
	Profile   Profile `gorm:"foreignKey:ProfileID"` // Owning profile record.

	Model       string  `gorm:"type:varchar(50)"`                     // Generation model name.
	Temperature float64 `gorm:"type:decimal(3,2);not null;default:0.7"` // Sampling temperature.
	MaxTokens   int     `gorm:"not null;default:150"`                 // Response token budget.

	StyleNotes         string `gorm:"type:text"` // Freeform writing-style notes.
	CustomInstructions string `gorm:"type:text"` // Extra per-profile prompt instructions.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
