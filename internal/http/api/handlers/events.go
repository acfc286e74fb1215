package handlers

import (
	"encoding/json"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/smswire/concierge/internal/realtime"
)

const keepAliveInterval = 25 * time.Second

// EventHandler streams message events to the dashboard over SSE.
type EventHandler struct {
	db  *gorm.DB
	hub *realtime.Hub
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(db *gorm.DB, hub *realtime.Hub) *EventHandler {
	return &EventHandler{db: db, hub: hub}
}

// Stream pushes a profile's events until the client disconnects. Keep-alive
// comments hold idle connections open through proxies.
func (h *EventHandler) Stream(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db)
	if profile == nil {
		return
	}

	events, cancel := h.hub.Subscribe(profile.ID)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			payload, errEncode := json.Marshal(event)
			if errEncode != nil {
				return true
			}
			c.SSEvent(event.Type, string(payload))
			return true
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
