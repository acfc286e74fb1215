// Package pipeline turns one inbound SMS into stored state and, when the
// profile's rules call for it, an outbound reply. The decision order is
// fixed: the profile's automation toggle gates everything, then keyword
// auto-replies, then the out-of-office reply, then a generated reply, then
// the static fallback.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smswire/concierge/internal/hours"
	"github.com/smswire/concierge/internal/llm"
	"github.com/smswire/concierge/internal/models"
	"github.com/smswire/concierge/internal/moderation"
	"github.com/smswire/concierge/internal/queue"
	"github.com/smswire/concierge/internal/realtime"
	"github.com/smswire/concierge/internal/sms"
	"github.com/smswire/concierge/internal/usage"
)

// FallbackReply is sent when generation fails or produces nothing usable.
const FallbackReply = "I'll get back to you soon!"

// historyLimit bounds how many prior turns feed the prompt.
const historyLimit = 10

// Pipeline processes inbound messages with explicitly injected dependencies.
type Pipeline struct {
	db        *gorm.DB
	scanner   *moderation.Scanner
	generator llm.Generator
	sender    sms.Sender
	hub       *realtime.Hub
	recorder  *usage.Recorder
	now       func() time.Time
}

// New constructs a Pipeline. Generator, sender and hub may be nil in
// reduced deployments; the corresponding steps are skipped.
func New(db *gorm.DB, scanner *moderation.Scanner, generator llm.Generator, sender sms.Sender, hub *realtime.Hub, recorder *usage.Recorder) *Pipeline {
	return &Pipeline{
		db:        db,
		scanner:   scanner,
		generator: generator,
		sender:    sender,
		hub:       hub,
		recorder:  recorder,
		now:       time.Now,
	}
}

// reply is one decided outbound response.
type reply struct {
	body        string
	aiGenerated bool
}

// Process handles one queued inbound message. Errors worth retrying are
// returned; conditions that a retry cannot fix are logged and swallowed.
func (p *Pipeline) Process(ctx context.Context, job queue.Job) error {
	fields := log.Fields{"sid": job.MessageSID, "from": job.From, "to": job.To}

	profile, err := p.loadProfile(ctx, job.To)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.WithFields(fields).Warn("pipeline: no profile for number")
		return nil
	}
	if err != nil {
		return err
	}
	if !profile.IsActive || !profile.User.IsActive {
		log.WithFields(fields).Debug("pipeline: profile inactive")
		return nil
	}

	if duplicate, err := p.isDuplicate(ctx, job.MessageSID); err != nil {
		return err
	} else if duplicate {
		log.WithFields(fields).Debug("pipeline: duplicate delivery")
		return nil
	}

	client, err := p.resolveClient(ctx, job.From)
	if err != nil {
		return err
	}
	if client.IsBlocked {
		log.WithFields(fields).Info("pipeline: dropped message from blocked number")
		return nil
	}

	if err := p.touchLink(ctx, profile.ID, client.ID); err != nil {
		return err
	}

	inbound := models.Message{
		ProfileID:    profile.ID,
		ClientNumber: job.From,
		Content:      job.Body,
		IsIncoming:   true,
		ProviderSID:  job.MessageSID,
		Timestamp:    p.receivedAt(job),
	}
	if err := p.db.WithContext(ctx).Create(&inbound).Error; err != nil {
		return fmt.Errorf("pipeline: store inbound: %w", err)
	}
	if err := p.recorder.RecordIncoming(ctx, profile.UserID, profile.ID); err != nil {
		log.WithError(err).WithFields(fields).Warn("pipeline: record incoming usage")
	}

	flagged := p.moderate(ctx, profile, &inbound)
	p.publish(realtime.Event{
		Type:      realtime.EventNewMessage,
		ProfileID: profile.ID,
		MessageID: inbound.ID,
		From:      job.From,
		Preview:   preview(job.Body),
		Flagged:   flagged,
	})

	decided, err := p.decide(ctx, profile, client, &inbound)
	if err != nil {
		return err
	}
	if decided == nil {
		return nil
	}
	return p.respond(ctx, profile, client, *decided)
}

func (p *Pipeline) loadProfile(ctx context.Context, number string) (*models.Profile, error) {
	var profile models.Profile
	err := p.db.WithContext(ctx).
		Preload("User").
		Preload("AISettings").
		Preload("OutOfOfficeReply").
		Where("phone_number = ?", number).
		Take(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("pipeline: load profile: %w", err)
	}
	return &profile, nil
}

func (p *Pipeline) isDuplicate(ctx context.Context, sid string) (bool, error) {
	if sid == "" {
		return false, nil
	}
	var count int64
	err := p.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("provider_sid = ? AND is_incoming = ?", sid, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("pipeline: dedupe check: %w", err)
	}
	return count > 0, nil
}

// resolveClient finds or creates the client row for a number. Concurrent
// creates race on the unique index, so a conflict falls back to a re-read.
func (p *Pipeline) resolveClient(ctx context.Context, number string) (*models.Client, error) {
	row := models.Client{PhoneNumber: number}
	errCreate := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "phone_number"}},
			DoNothing: true,
		}).
		Create(&row).Error
	if errCreate != nil {
		return nil, fmt.Errorf("pipeline: create client: %w", errCreate)
	}

	var client models.Client
	if errFind := p.db.WithContext(ctx).Where("phone_number = ?", number).Take(&client).Error; errFind != nil {
		return nil, fmt.Errorf("pipeline: load client: %w", errFind)
	}

	now := p.now().UTC()
	if errTouch := p.db.WithContext(ctx).
		Model(&models.Client{}).
		Where("id = ?", client.ID).
		Update("last_contact_at", now).Error; errTouch != nil {
		return nil, fmt.Errorf("pipeline: touch client: %w", errTouch)
	}
	return &client, nil
}

func (p *Pipeline) touchLink(ctx context.Context, profileID, clientID uint64) error {
	now := p.now().UTC()
	link := models.ProfileClient{ProfileID: profileID, ClientID: clientID, ConversationCount: 1, LastContactAt: &now}
	errUpsert := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "profile_id"}, {Name: "client_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"conversation_count": gorm.Expr("conversation_count + ?", 1),
				"last_contact_at":    now,
				"updated_at":         now,
			}),
		}).
		Create(&link).Error
	if errUpsert != nil {
		return fmt.Errorf("pipeline: touch profile client link: %w", errUpsert)
	}
	return nil
}

// moderate scans the stored message and records a flag row on a match.
// Moderation is advisory and never stops processing.
func (p *Pipeline) moderate(ctx context.Context, profile *models.Profile, msg *models.Message) bool {
	if p.scanner == nil {
		return false
	}
	reasons := p.scanner.Scan(ctx, msg.Content)
	if len(reasons) == 0 {
		return false
	}

	flag := models.FlaggedMessage{MessageID: msg.ID, Reasons: moderation.ReasonsJSON(reasons)}
	if errCreate := p.db.WithContext(ctx).Create(&flag).Error; errCreate != nil {
		log.WithError(errCreate).Warn("pipeline: store flag")
		return true
	}
	if err := p.recorder.RecordFlagged(ctx, profile.UserID, profile.ID); err != nil {
		log.WithError(err).Warn("pipeline: record flagged usage")
	}
	return true
}

// decide walks the response rules and returns nil when no reply should go
// out.
func (p *Pipeline) decide(ctx context.Context, profile *models.Profile, client *models.Client, inbound *models.Message) (*reply, error) {
	if !profile.AIEnabled {
		return nil, nil
	}

	if auto, err := p.matchAutoReply(ctx, profile.ID, inbound.Content); err != nil {
		return nil, err
	} else if auto != nil {
		return &reply{body: auto.Response}, nil
	}

	open, err := p.withinBusinessHours(profile)
	if err != nil {
		log.WithError(err).WithField("profile", profile.ID).Warn("pipeline: bad business hours, treating as open")
		open = true
	}
	// Without an active out-of-office reply a closed schedule does not
	// silence the profile; generation still answers.
	if !open {
		if ooo := profile.OutOfOfficeReply; ooo != nil && ooo.IsActive && ooo.Message != "" {
			return &reply{body: ooo.Message}, nil
		}
	}

	if p.generator == nil {
		return nil, nil
	}

	allowed, err := p.underLimits(ctx, profile)
	if err != nil {
		return nil, err
	}
	if !allowed {
		log.WithField("profile", profile.ID).Info("pipeline: generation limit reached")
		return nil, nil
	}

	body, generated := p.generate(ctx, profile, client, inbound)
	if body == "" {
		return nil, nil
	}
	return &reply{body: body, aiGenerated: generated}, nil
}

// matchAutoReply returns the winning keyword rule, highest priority first
// and lowest ID on ties.
func (p *Pipeline) matchAutoReply(ctx context.Context, profileID uint64, body string) (*models.AutoReply, error) {
	var rules []models.AutoReply
	errFind := p.db.WithContext(ctx).
		Where("profile_id = ? AND is_active = ?", profileID, true).
		Order("priority DESC, id ASC").
		Find(&rules).Error
	if errFind != nil {
		return nil, fmt.Errorf("pipeline: load auto replies: %w", errFind)
	}

	for i := range rules {
		if rules[i].Matches(body) {
			return &rules[i], nil
		}
	}
	return nil, nil
}

func (p *Pipeline) withinBusinessHours(profile *models.Profile) (bool, error) {
	schedule, err := hours.Parse(profile.BusinessHours)
	if err != nil {
		return true, err
	}
	return hours.Within(schedule, profile.Timezone, p.now()), nil
}

// underLimits checks the profile's daily cap and the subscription budget.
func (p *Pipeline) underLimits(ctx context.Context, profile *models.Profile) (bool, error) {
	if profile.DailyAutoResponseLimit > 0 {
		today, err := p.recorder.TodayAIResponses(ctx, profile.ID)
		if err != nil {
			return false, err
		}
		if today >= profile.DailyAutoResponseLimit {
			return false, nil
		}
	}

	sub, err := p.activeSubscription(ctx, profile.UserID)
	if err != nil {
		return false, err
	}
	if sub != nil && sub.LimitReached() {
		return false, nil
	}
	return true, nil
}

func (p *Pipeline) activeSubscription(ctx context.Context, userID uint64) (*models.Subscription, error) {
	var sub models.Subscription
	err := p.db.WithContext(ctx).
		Preload("Plan").
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Order("id DESC").
		Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: load subscription: %w", err)
	}
	return &sub, nil
}

// generate produces the reply draft. Any failure degrades to the static
// fallback rather than silence.
func (p *Pipeline) generate(ctx context.Context, profile *models.Profile, client *models.Client, inbound *models.Message) (string, bool) {
	history, err := p.loadHistory(ctx, profile.ID, client.PhoneNumber, inbound.ID)
	if err != nil {
		log.WithError(err).Warn("pipeline: load history")
	}
	var examples []models.TextExample
	if errFind := p.db.WithContext(ctx).
		Where("profile_id = ?", profile.ID).
		Order("timestamp ASC").
		Find(&examples).Error; errFind != nil {
		log.WithError(errFind).Warn("pipeline: load text examples")
	}

	req := llm.Request{
		Messages: llm.BuildMessages(llm.PromptInput{
			Profile:  profile,
			Settings: profile.AISettings,
			Client:   client,
			Examples: examples,
			History:  history,
			Incoming: inbound.Content,
		}),
	}
	if settings := profile.AISettings; settings != nil {
		req.Model = settings.Model
		req.MaxTokens = settings.MaxTokens
		req.Temperature = settings.Temperature
	}

	raw, err := p.generator.Generate(ctx, req)
	if err != nil {
		log.WithError(err).WithField("profile", profile.ID).Warn("pipeline: generation failed, using fallback")
		return FallbackReply, false
	}

	processed := llm.PostProcess(raw)
	if processed == "" {
		return FallbackReply, false
	}
	return processed, true
}

// loadHistory returns the most recent turns oldest first, excluding the
// message currently being answered.
func (p *Pipeline) loadHistory(ctx context.Context, profileID uint64, clientNumber string, excludeID uint64) ([]models.Message, error) {
	var recent []models.Message
	errFind := p.db.WithContext(ctx).
		Where("profile_id = ? AND client_number = ? AND id <> ?", profileID, clientNumber, excludeID).
		Order("timestamp DESC, id DESC").
		Limit(historyLimit).
		Find(&recent).Error
	if errFind != nil {
		return nil, fmt.Errorf("pipeline: load history: %w", errFind)
	}

	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent, nil
}

// respond stores and sends the decided reply.
func (p *Pipeline) respond(ctx context.Context, profile *models.Profile, client *models.Client, decided reply) error {
	outbound := models.Message{
		ProfileID:    profile.ID,
		ClientNumber: client.PhoneNumber,
		Content:      decided.body,
		IsIncoming:   false,
		AIGenerated:  decided.aiGenerated,
		IsRead:       true,
		SendStatus:   models.SendStatusQueued,
		Timestamp:    p.now().UTC(),
	}
	if errCreate := p.db.WithContext(ctx).Create(&outbound).Error; errCreate != nil {
		return fmt.Errorf("pipeline: store outbound: %w", errCreate)
	}

	updates := map[string]any{"send_status": models.SendStatusSent}
	if p.sender != nil {
		result, errSend := p.sender.Send(ctx, sms.SendInput{
			User: &profile.User,
			From: profile.PhoneNumber,
			To:   client.PhoneNumber,
			Body: decided.body,
		})
		if errSend != nil {
			updates["send_status"] = models.SendStatusFailed
			updates["send_error"] = errSend.Error()
			log.WithError(errSend).WithField("message", outbound.ID).Error("pipeline: send failed")
		} else if result.SID != "" {
			updates["provider_sid"] = result.SID
		}
	}
	if errUpdate := p.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", outbound.ID).
		Updates(updates).Error; errUpdate != nil {
		return fmt.Errorf("pipeline: update send status: %w", errUpdate)
	}

	if updates["send_status"] == models.SendStatusSent {
		if err := p.recorder.RecordOutgoing(ctx, profile.UserID, profile.ID); err != nil {
			log.WithError(err).Warn("pipeline: record outgoing usage")
		}
		if decided.aiGenerated {
			if err := p.recorder.RecordAIResponse(ctx, profile.UserID, profile.ID); err != nil {
				log.WithError(err).Warn("pipeline: record ai usage")
			}
			if err := p.chargeSubscription(ctx, profile.UserID); err != nil {
				log.WithError(err).Warn("pipeline: charge subscription")
			}
		}
		p.publish(realtime.Event{
			Type:      realtime.EventReplySent,
			ProfileID: profile.ID,
			MessageID: outbound.ID,
			From:      profile.PhoneNumber,
			Preview:   preview(decided.body),
		})
	}
	return nil
}

func (p *Pipeline) chargeSubscription(ctx context.Context, userID uint64) error {
	return p.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Update("ai_responses_used", gorm.Expr("ai_responses_used + ?", 1)).Error
}

func (p *Pipeline) publish(event realtime.Event) {
	if p.hub != nil {
		p.hub.Publish(event)
	}
}

func (p *Pipeline) receivedAt(job queue.Job) time.Time {
	if !job.ReceivedAt.IsZero() {
		return job.ReceivedAt.UTC()
	}
	return p.now().UTC()
}

// preview trims an event payload to a short excerpt, cutting on a rune
// boundary so multi-byte text stays valid.
func preview(body string) string {
	const max = 80
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	return string(runes[:max])
}
