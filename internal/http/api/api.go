// Package api wires the REST surface: route registration, CORS and the
// authentication middleware shared by every protected endpoint.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/smswire/concierge/internal/billing"
	"github.com/smswire/concierge/internal/config"
	"github.com/smswire/concierge/internal/http/api/handlers"
	"github.com/smswire/concierge/internal/models"
	"github.com/smswire/concierge/internal/queue"
	"github.com/smswire/concierge/internal/ratelimit"
	"github.com/smswire/concierge/internal/realtime"
	"github.com/smswire/concierge/internal/security"
	"github.com/smswire/concierge/internal/sms"
	"github.com/smswire/concierge/internal/usage"
)

// Deps carries everything the routes need. All fields are injected by the
// app during startup; tests build a Deps with only what they exercise.
type Deps struct {
	DB        *gorm.DB
	Cfg       config.Config
	Validator *sms.Validator
	Queue     *queue.Queue
	Billing   *billing.Service
	Hub       *realtime.Hub
	Recorder  *usage.Recorder
	Limiter   *ratelimit.Manager
	Sender    sms.Sender
	Box       *security.SecretBox
}

// RegisterRoutes attaches all endpoints to the engine.
func RegisterRoutes(r *gin.Engine, deps Deps) {
	if len(deps.Cfg.CORSOrigins) > 0 {
		corsCfg := cors.Config{
			AllowOrigins:     deps.Cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", "X-API-Key"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}
		r.Use(cors.New(corsCfg))
	}

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Queue)
	r.GET("/healthz", healthHandler.Check)

	webhookHandler := handlers.NewWebhookHandler(deps.DB, deps.Cfg, deps.Validator, deps.Queue, deps.Limiter, deps.Billing)
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/sms", webhookHandler.IncomingSMS)
		webhooks.POST("/stripe", webhookHandler.StripeEvents)
	}

	authHandler := handlers.NewAuthHandler(deps.DB, deps.Cfg.JWT)
	billingHandler := handlers.NewBillingHandler(deps.DB, deps.Billing)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/auth/register", authHandler.Register)
		v1.POST("/auth/login", authHandler.Login)
		v1.POST("/auth/refresh", authHandler.Refresh)
		v1.GET("/billing/plans", billingHandler.Plans)
	}

	authed := v1.Group("")
	authed.Use(authMiddleware(deps.DB, deps.Cfg.JWT))
	{
		authed.GET("/auth/me", authHandler.Me)

		profileHandler := handlers.NewProfileHandler(deps.DB)
		authed.GET("/profiles", profileHandler.List)
		authed.POST("/profiles", profileHandler.Create)
		authed.GET("/profiles/:id", profileHandler.Get)
		authed.PUT("/profiles/:id", profileHandler.Update)
		authed.DELETE("/profiles/:id", profileHandler.Delete)
		authed.POST("/profiles/:id/toggle_ai", profileHandler.ToggleAI)

		replyHandler := handlers.NewReplyConfigHandler(deps.DB)
		authed.GET("/profiles/:id/auto_replies", replyHandler.ListAutoReplies)
		authed.POST("/profiles/:id/auto_replies", replyHandler.CreateAutoReply)
		authed.PUT("/profiles/:id/auto_replies/:rule_id", replyHandler.UpdateAutoReply)
		authed.DELETE("/profiles/:id/auto_replies/:rule_id", replyHandler.DeleteAutoReply)
		authed.GET("/profiles/:id/out_of_office", replyHandler.GetOutOfOffice)
		authed.PUT("/profiles/:id/out_of_office", replyHandler.SetOutOfOffice)
		authed.GET("/profiles/:id/ai_settings", replyHandler.GetAISettings)
		authed.PUT("/profiles/:id/ai_settings", replyHandler.SetAISettings)
		authed.GET("/profiles/:id/text_examples", replyHandler.ListTextExamples)
		authed.POST("/profiles/:id/text_examples", replyHandler.CreateTextExample)
		authed.POST("/profiles/:id/text_examples/bulk", replyHandler.BulkCreateTextExamples)
		authed.DELETE("/profiles/:id/text_examples/:example_id", replyHandler.DeleteTextExample)

		messageHandler := handlers.NewMessageHandler(deps.DB, deps.Sender, deps.Hub, deps.Recorder)
		authed.GET("/profiles/:id/conversations", messageHandler.Conversations)
		authed.GET("/profiles/:id/messages", messageHandler.Conversation)
		authed.POST("/profiles/:id/messages", messageHandler.Send)
		authed.GET("/profiles/:id/usage", messageHandler.Usage)

		eventHandler := handlers.NewEventHandler(deps.DB, deps.Hub)
		authed.GET("/profiles/:id/events", eventHandler.Stream)

		clientHandler := handlers.NewClientHandler(deps.DB)
		authed.GET("/clients", clientHandler.List)
		authed.GET("/clients/:id", clientHandler.Get)
		authed.PUT("/clients/:id", clientHandler.Update)
		authed.POST("/clients/:id/block", clientHandler.Block)
		authed.POST("/clients/:id/unblock", clientHandler.Unblock)
		authed.GET("/clients/:id/stats", clientHandler.Stats)

		flagHandler := handlers.NewFlagHandler(deps.DB)
		authed.GET("/flags", flagHandler.List)
		authed.POST("/flags/:id/review", flagHandler.Review)

		authed.GET("/billing/subscription", billingHandler.Subscription)
		authed.POST("/billing/subscription", billingHandler.Subscribe)
		authed.PUT("/billing/subscription", billingHandler.ChangePlan)
		authed.DELETE("/billing/subscription", billingHandler.Cancel)
		authed.GET("/billing/payment_methods", billingHandler.PaymentMethods)
		authed.POST("/billing/payment_methods", billingHandler.AttachPaymentMethod)
		authed.POST("/billing/payment_methods/:id/default", billingHandler.SetDefaultPaymentMethod)
		authed.DELETE("/billing/payment_methods/:id", billingHandler.RemovePaymentMethod)
		authed.GET("/billing/invoices", billingHandler.Invoices)
		authed.GET("/billing/usage", billingHandler.UsageSummary)

		telephonyHandler := handlers.NewTelephonyHandler(deps.DB, deps.Box)
		authed.GET("/account/telephony", telephonyHandler.Status)
		authed.POST("/account/telephony", telephonyHandler.Connect)
		authed.POST("/account/telephony/rotate", telephonyHandler.Rotate)

		apiKeyHandler := handlers.NewAPIKeyHandler(deps.DB)
		authed.GET("/api_keys", apiKeyHandler.List)
		authed.POST("/api_keys", apiKeyHandler.Create)
		authed.DELETE("/api_keys/:id", apiKeyHandler.Revoke)
	}
}

// authMiddleware accepts either a Bearer JWT or an X-API-Key header and
// loads the owning user into the context.
func authMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			raw := strings.TrimPrefix(header, "Bearer ")
			claims, errParse := security.ParseToken(jwtCfg.Secret, raw, security.TokenTypeAccess)
			if errParse != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			user := loadActiveUser(c, db, claims.UserID)
			if user == nil {
				return
			}
			c.Set("user", user)
			c.Next()
			return
		}

		if key := c.GetHeader("X-API-Key"); key != "" {
			var row models.APIKey
			errFind := db.WithContext(c.Request.Context()).
				Where("key_hash = ? AND is_active = ?", security.HashAPIKey(key), true).
				Take(&row).Error
			if errFind != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
				return
			}
			if row.ExpiresAt != nil && row.ExpiresAt.Before(time.Now().UTC()) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "api key expired"})
				return
			}
			user := loadActiveUser(c, db, row.UserID)
			if user == nil {
				return
			}
			_ = db.WithContext(c.Request.Context()).
				Model(&models.APIKey{}).
				Where("id = ?", row.ID).
				Update("last_used_at", time.Now().UTC()).Error
			c.Set("user", user)
			c.Next()
			return
		}

		// EventSource cannot set headers, so the SSE stream passes the
		// access token as a query parameter.
		if raw := c.Query("token"); raw != "" {
			claims, errParse := security.ParseToken(jwtCfg.Secret, raw, security.TokenTypeAccess)
			if errParse != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			user := loadActiveUser(c, db, claims.UserID)
			if user == nil {
				return
			}
			c.Set("user", user)
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
	}
}

func loadActiveUser(c *gin.Context, db *gorm.DB, userID uint64) *models.User {
	var user models.User
	if errFind := db.WithContext(c.Request.Context()).First(&user, userID).Error; errFind != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return nil
	}
	if !user.IsActive {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account disabled"})
		return nil
	}
	return &user
}
