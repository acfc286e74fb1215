package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/smswire/concierge/internal/models"
	"github.com/smswire/concierge/internal/realtime"
	"github.com/smswire/concierge/internal/sms"
	"github.com/smswire/concierge/internal/usage"
)

// MessageHandler serves conversation history and manual sends.
type MessageHandler struct {
	db       *gorm.DB
	sender   sms.Sender
	hub      *realtime.Hub
	recorder *usage.Recorder
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(db *gorm.DB, sender sms.Sender, hub *realtime.Hub, recorder *usage.Recorder) *MessageHandler {
	return &MessageHandler{db: db, sender: sender, hub: hub, recorder: recorder}
}

// Conversations lists a profile's threads, most recent first, with unread
// counts.
func (h *MessageHandler) Conversations(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db)
	if profile == nil {
		return
	}

	var threads []struct {
		ClientNumber string
		LastAt       string
		Unread       int64
		Total        int64
	}
	errFind := h.db.WithContext(c.Request.Context()).
		Model(&models.Message{}).
		Select("client_number, MAX(timestamp) AS last_at, SUM(CASE WHEN is_read = ? AND is_incoming = ? THEN 1 ELSE 0 END) AS unread, COUNT(*) AS total", false, true).
		Where("profile_id = ?", profile.ID).
		Group("client_number").
		Order("last_at DESC").
		Scan(&threads).Error
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list conversations failed"})
		return
	}

	out := make([]gin.H, 0, len(threads))
	for _, thread := range threads {
		entry := gin.H{
			"client_number":   thread.ClientNumber,
			"last_message_at": thread.LastAt,
			"unread":          thread.Unread,
			"total":           thread.Total,
		}
		var client models.Client
		if errClient := h.db.WithContext(c.Request.Context()).
			Where("phone_number = ?", thread.ClientNumber).
			Take(&client).Error; errClient == nil {
			entry["client"] = client
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

// Conversation returns one thread's messages, oldest first, and marks the
// inbound side read.
func (h *MessageHandler) Conversation(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db)
	if profile == nil {
		return
	}
	clientNumber := strings.TrimSpace(c.Query("client"))
	if clientNumber == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing client query param"})
		return
	}

	offset, limit := pagination(c)
	var messages []models.Message
	errFind := h.db.WithContext(c.Request.Context()).
		Preload("Flag").
		Where("profile_id = ? AND client_number = ?", profile.ID, clientNumber).
		Order("timestamp ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&messages).Error
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load conversation failed"})
		return
	}

	if errRead := h.db.WithContext(c.Request.Context()).
		Model(&models.Message{}).
		Where("profile_id = ? AND client_number = ? AND is_incoming = ? AND is_read = ?",
			profile.ID, clientNumber, true, false).
		Update("is_read", true).Error; errRead != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mark read failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type sendMessageRequest struct {
	To   string `json:"to" binding:"required"`
	Body string `json:"body" binding:"required"`
}

// Send delivers a manually written message from a profile's number.
func (h *MessageHandler) Send(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db, "User")
	if profile == nil {
		return
	}

	var req sendMessageRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}
	req.To = strings.TrimSpace(req.To)

	var blocked models.Client
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("phone_number = ? AND is_blocked = ?", req.To, true).
		Take(&blocked).Error; errFind == nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "client is blocked"})
		return
	}

	outbound := models.Message{
		ProfileID:    profile.ID,
		ClientNumber: req.To,
		Content:      req.Body,
		IsIncoming:   false,
		IsRead:       true,
		SendStatus:   models.SendStatusQueued,
		Timestamp:    nowUTC(),
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&outbound).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store message failed"})
		return
	}

	updates := map[string]any{"send_status": models.SendStatusSent}
	if h.sender != nil {
		result, errSend := h.sender.Send(c.Request.Context(), sms.SendInput{
			User: &profile.User,
			From: profile.PhoneNumber,
			To:   req.To,
			Body: req.Body,
		})
		if errSend != nil {
			updates["send_status"] = models.SendStatusFailed
			updates["send_error"] = errSend.Error()
		} else if result.SID != "" {
			updates["provider_sid"] = result.SID
		}
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(&models.Message{}).
		Where("id = ?", outbound.ID).
		Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update send status failed"})
		return
	}

	if updates["send_status"] == models.SendStatusFailed {
		c.JSON(http.StatusBadGateway, gin.H{"error": "send failed", "message_id": outbound.ID})
		return
	}

	if h.recorder != nil {
		_ = h.recorder.RecordOutgoing(c.Request.Context(), profile.UserID, profile.ID)
	}
	if h.hub != nil {
		h.hub.Publish(realtime.Event{
			Type:      realtime.EventReplySent,
			ProfileID: profile.ID,
			MessageID: outbound.ID,
			From:      profile.PhoneNumber,
			Preview:   req.Body,
		})
	}
	c.JSON(http.StatusCreated, gin.H{"message_id": outbound.ID, "status": models.SendStatusSent})
}

// Usage reports a profile's counters over an optional date range.
func (h *MessageHandler) Usage(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db)
	if profile == nil {
		return
	}

	to := nowUTC()
	from := to.AddDate(0, 0, -30)
	if raw := c.Query("from"); raw != "" {
		if parsed, errParse := parseDate(raw); errParse == nil {
			from = parsed
		}
	}
	if raw := c.Query("to"); raw != "" {
		if parsed, errParse := parseDate(raw); errParse == nil {
			to = parsed
		}
	}

	totals, errSum := h.recorder.ProfileRange(c.Request.Context(), profile.ID, from, to)
	if errSum != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load usage failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"profile_id":   profile.ID,
		"from":         usage.Day(from),
		"to":           usage.Day(to),
		"incoming":     totals.IncomingMessages,
		"outgoing":     totals.OutgoingMessages,
		"ai_responses": totals.AIResponses,
		"flagged":      totals.FlaggedMessages,
	})
}
