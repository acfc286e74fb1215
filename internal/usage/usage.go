// Package usage maintains the per-profile daily counters and the per-user
// telephony usage rollups that billing reads.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smswire/concierge/internal/config"
	"github.com/smswire/concierge/internal/models"
)

// Recorder writes usage counters.
type Recorder struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRecorder constructs a Recorder.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db, now: time.Now}
}

// Day truncates a timestamp to its UTC date, the granularity usage records
// are keyed on.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// RecordIncoming bumps today's inbound counter for a profile.
func (r *Recorder) RecordIncoming(ctx context.Context, userID, profileID uint64) error {
	return r.increment(ctx, userID, profileID, "incoming_messages")
}

// RecordOutgoing bumps today's outbound counter for a profile.
func (r *Recorder) RecordOutgoing(ctx context.Context, userID, profileID uint64) error {
	return r.increment(ctx, userID, profileID, "outgoing_messages")
}

// RecordAIResponse bumps today's generated-reply counter for a profile.
func (r *Recorder) RecordAIResponse(ctx context.Context, userID, profileID uint64) error {
	return r.increment(ctx, userID, profileID, "ai_responses")
}

// RecordFlagged bumps today's flagged counter for a profile.
func (r *Recorder) RecordFlagged(ctx context.Context, userID, profileID uint64) error {
	return r.increment(ctx, userID, profileID, "flagged_messages")
}

func (r *Recorder) increment(ctx context.Context, userID, profileID uint64, column string) error {
	if r == nil || r.db == nil {
		return errors.New("usage: nil recorder")
	}
	if userID == 0 || profileID == 0 {
		return errors.New("usage: zero user or profile id")
	}

	row := models.UsageRecord{UserID: userID, ProfileID: profileID, Date: Day(r.now())}
	switch column {
	case "incoming_messages":
		row.IncomingMessages = 1
	case "outgoing_messages":
		row.OutgoingMessages = 1
	case "ai_responses":
		row.AIResponses = 1
	case "flagged_messages":
		row.FlaggedMessages = 1
	default:
		return fmt.Errorf("usage: unknown counter %q", column)
	}

	errUpsert := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "profile_id"}, {Name: "date"}},
			DoUpdates: clause.Assignments(map[string]any{column: gorm.Expr(column+" + ?", 1)}),
		}).
		Create(&row).Error
	if errUpsert != nil {
		return fmt.Errorf("usage: increment %s: %w", column, errUpsert)
	}
	return nil
}

// TodayAIResponses returns how many generated replies a profile has sent on
// the current UTC date, checked against the daily auto-response limit.
func (r *Recorder) TodayAIResponses(ctx context.Context, profileID uint64) (int, error) {
	var row models.UsageRecord
	errFind := r.db.WithContext(ctx).
		Where("profile_id = ? AND date = ?", profileID, Day(r.now())).
		Take(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if errFind != nil {
		return 0, fmt.Errorf("usage: load today: %w", errFind)
	}
	return row.AIResponses, nil
}

// ProfileRange sums a profile's counters over [from, to].
func (r *Recorder) ProfileRange(ctx context.Context, profileID uint64, from, to time.Time) (models.UsageRecord, error) {
	var totals models.UsageRecord
	errSum := r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select("COALESCE(SUM(incoming_messages),0) AS incoming_messages, COALESCE(SUM(outgoing_messages),0) AS outgoing_messages, COALESCE(SUM(ai_responses),0) AS ai_responses, COALESCE(SUM(flagged_messages),0) AS flagged_messages").
		Where("profile_id = ? AND date >= ? AND date <= ?", profileID, Day(from), Day(to)).
		Scan(&totals).Error
	if errSum != nil {
		return models.UsageRecord{}, fmt.Errorf("usage: sum range: %w", errSum)
	}
	totals.ProfileID = profileID
	return totals, nil
}

// RefreshUser recomputes a user's telephony rollup: outbound SMS sent this
// calendar month across their profiles, active numbers held, and the
// resulting bill under the given rates.
func (r *Recorder) RefreshUser(ctx context.Context, userID uint64, rates config.BillingRates) error {
	if r == nil || r.db == nil {
		return errors.New("usage: nil recorder")
	}

	now := r.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var smsCount int64
	errCount := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Joins("JOIN profiles ON profiles.id = messages.profile_id").
		Where("profiles.user_id = ? AND messages.is_incoming = ? AND messages.timestamp >= ?", userID, false, monthStart).
		Count(&smsCount).Error
	if errCount != nil {
		return fmt.Errorf("usage: count sms: %w", errCount)
	}

	var numberCount int64
	errNumbers := r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("user_id = ? AND is_active = ? AND phone_number <> ''", userID, true).
		Count(&numberCount).Error
	if errNumbers != nil {
		return fmt.Errorf("usage: count numbers: %w", errNumbers)
	}

	bill := (float64(smsCount)*rates.SMSRate + float64(numberCount)*rates.NumberRate) * (1 + rates.MarkupPercent/100)

	row := models.SMSUsage{
		UserID:       userID,
		SMSCount:     int(smsCount),
		PhoneNumbers: int(numberCount),
		CurrentBill:  bill,
	}
	errUpsert := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"sms_count":     smsCount,
				"phone_numbers": numberCount,
				"current_bill":  bill,
				"updated_at":    now,
			}),
		}).
		Create(&row).Error
	if errUpsert != nil {
		return fmt.Errorf("usage: upsert rollup: %w", errUpsert)
	}
	return nil
}

// RefreshAll recomputes rollups for every active user.
func (r *Recorder) RefreshAll(ctx context.Context, rates config.BillingRates) error {
	var userIDs []uint64
	errFind := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("is_active = ?", true).
		Pluck("id", &userIDs).Error
	if errFind != nil {
		return fmt.Errorf("usage: list users: %w", errFind)
	}

	var firstErr error
	for _, id := range userIDs {
		if err := r.RefreshUser(ctx, id, rates); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CloseBillingMonth freezes the current bill into last_bill and resets the
// running counters, run on the first of each month.
func (r *Recorder) CloseBillingMonth(ctx context.Context, userID uint64) error {
	now := r.now().UTC()
	errUpdate := r.db.WithContext(ctx).
		Model(&models.SMSUsage{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"last_bill":    gorm.Expr("current_bill"),
			"last_bill_at": now,
			"current_bill": 0,
			"sms_count":    0,
			"updated_at":   now,
		}).Error
	if errUpdate != nil {
		return fmt.Errorf("usage: close month: %w", errUpdate)
	}
	return nil
}
