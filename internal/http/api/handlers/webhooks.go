package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/smswire/concierge/internal/billing"
	"github.com/smswire/concierge/internal/config"
	"github.com/smswire/concierge/internal/models"
	"github.com/smswire/concierge/internal/queue"
	"github.com/smswire/concierge/internal/ratelimit"
	"github.com/smswire/concierge/internal/sms"
)

const (
	emptyTwiML       = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
	maxStripePayload = 64 * 1024
)

// WebhookHandler receives Twilio SMS callbacks and Stripe billing events.
type WebhookHandler struct {
	db        *gorm.DB
	cfg       config.Config
	validator *sms.Validator
	queue     *queue.Queue
	limiter   *ratelimit.Manager
	billing   *billing.Service
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(db *gorm.DB, cfg config.Config, validator *sms.Validator, q *queue.Queue, limiter *ratelimit.Manager, billingService *billing.Service) *WebhookHandler {
	return &WebhookHandler{db: db, cfg: cfg, validator: validator, queue: q, limiter: limiter, billing: billingService}
}

// IncomingSMS accepts a Twilio message callback. The job is queued and
// Twilio gets an empty TwiML response immediately; all processing happens on
// the worker.
func (h *WebhookHandler) IncomingSMS(c *gin.Context) {
	if errParse := c.Request.ParseForm(); errParse != nil {
		c.String(http.StatusBadRequest, "bad form")
		return
	}

	from := strings.TrimSpace(c.PostForm("From"))
	to := strings.TrimSpace(c.PostForm("To"))
	body := c.PostForm("Body")
	sid := strings.TrimSpace(c.PostForm("MessageSid"))
	if from == "" || to == "" {
		c.String(http.StatusBadRequest, "missing From or To")
		return
	}

	if h.limiter != nil {
		limit := ratelimit.SettingsFromConfig(h.cfg).Limit
		result, errAllow := h.limiter.Allow(c.Request.Context(), ratelimit.KeyForSender(from), limit)
		if errAllow == nil && !result.Allowed {
			log.WithField("from", from).Warn("webhook: sender over rate limit")
			c.String(http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	var profile models.Profile
	errFind := h.db.WithContext(c.Request.Context()).
		Preload("User").
		Where("phone_number = ?", to).
		Take(&profile).Error
	if errFind != nil {
		// Unknown numbers are acknowledged so Twilio stops retrying.
		log.WithField("to", to).Warn("webhook: message for unknown number")
		c.Data(http.StatusOK, "text/xml", []byte(emptyTwiML))
		return
	}

	if !h.validator.Validate(&profile.User, h.webhookURL(c), formParams(c), c.GetHeader("X-Twilio-Signature")) {
		log.WithFields(log.Fields{"from": from, "to": to}).Warn("webhook: invalid signature")
		c.String(http.StatusForbidden, "invalid signature")
		return
	}

	job := queue.Job{
		MessageSID: sid,
		From:       from,
		To:         to,
		Body:       body,
		ReceivedAt: nowUTC(),
	}
	if errEnqueue := h.queue.Enqueue(c.Request.Context(), job); errEnqueue != nil {
		log.WithError(errEnqueue).Error("webhook: enqueue failed")
		c.String(http.StatusInternalServerError, "queue unavailable")
		return
	}
	c.Data(http.StatusOK, "text/xml", []byte(emptyTwiML))
}

// StripeEvents accepts signed Stripe webhook events.
func (h *WebhookHandler) StripeEvents(c *gin.Context) {
	payload, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxStripePayload))
	if errRead != nil {
		c.String(http.StatusBadRequest, "read body failed")
		return
	}

	event, errVerify := h.billing.ConstructEvent(payload, c.GetHeader("Stripe-Signature"))
	if errVerify != nil {
		log.WithError(errVerify).Warn("webhook: stripe signature rejected")
		c.String(http.StatusBadRequest, "invalid signature")
		return
	}

	if errProcess := h.billing.ProcessEvent(c.Request.Context(), event); errProcess != nil {
		log.WithError(errProcess).WithField("type", event.Type).Error("webhook: stripe event failed")
		c.String(http.StatusInternalServerError, "processing failed")
		return
	}
	c.String(http.StatusOK, "ok")
}

// webhookURL rebuilds the URL Twilio signed. A configured public base URL
// wins over whatever host the request arrived on.
func (h *WebhookHandler) webhookURL(c *gin.Context) string {
	if base := strings.TrimSpace(h.cfg.Twilio.WebhookBaseURL); base != "" {
		return strings.TrimRight(base, "/") + c.Request.URL.RequestURI()
	}
	scheme := "https"
	if c.Request.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}

func formParams(c *gin.Context) map[string]string {
	params := make(map[string]string, len(c.Request.PostForm))
	for key, values := range c.Request.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return params
}
