// Package moderation scans inbound message bodies against the flag-word
// table and a pricing pattern. Matches are advisory: they flag the message
// for review but never block processing.
package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/smswire/concierge/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// priceRe matches explicit pricing such as "$50", "100 dollars" or "80/hr".
var priceRe = regexp.MustCompile(`(?i)\$\d+|(\d+)\s*(dollars|usd|hr|hour|session)`)

// PricingReason is recorded when the pricing pattern matches.
const PricingReason = "contains explicit pricing"

// Scanner checks message content against the moderation rules.
type Scanner struct {
	db *gorm.DB
}

// NewScanner constructs a Scanner backed by the flag-word table.
func NewScanner(db *gorm.DB) *Scanner {
	return &Scanner{db: db}
}

// Scan returns the list of matched reasons for the given text. An empty
// slice means the message is clean.
func (s *Scanner) Scan(ctx context.Context, text string) []string {
	var reasons []string
	lower := strings.ToLower(text)

	if s != nil && s.db != nil {
		var words []models.FlagWord
		if errFind := s.db.WithContext(ctx).Where("action <> ?", "ignore").Find(&words).Error; errFind != nil {
			log.WithError(errFind).Warn("moderation: load flag words failed")
		} else {
			for _, word := range words {
				if word.Word == "" {
					continue
				}
				if strings.Contains(lower, strings.ToLower(word.Word)) {
					reasons = append(reasons, fmt.Sprintf("contains flagged word: %q", word.Word))
				}
			}
		}
	}

	if priceRe.MatchString(lower) {
		reasons = append(reasons, PricingReason)
	}
	return reasons
}

// ReasonsJSON encodes reasons for the flagged-message row.
func ReasonsJSON(reasons []string) datatypes.JSON {
	if reasons == nil {
		reasons = []string{}
	}
	payload, err := json.Marshal(reasons)
	if err != nil {
		return datatypes.JSON([]byte("[]"))
	}
	return datatypes.JSON(payload)
}
