package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/smswire/concierge/internal/db"
	"github.com/smswire/concierge/internal/models"
)

// ClientHandler manages the numbers the system has corresponded with.
type ClientHandler struct {
	db *gorm.DB
}

// NewClientHandler constructs a ClientHandler.
func NewClientHandler(db *gorm.DB) *ClientHandler {
	return &ClientHandler{db: db}
}

// List returns clients linked to the caller's profiles, optionally filtered
// by a search term over number and name.
func (h *ClientHandler) List(c *gin.Context) {
	offset, limit := pagination(c)

	query := h.db.WithContext(c.Request.Context()).
		Model(&models.Client{}).
		Distinct("clients.*").
		Joins("JOIN profile_clients ON profile_clients.client_id = clients.id").
		Joins("JOIN profiles ON profiles.id = profile_clients.profile_id").
		Where("profiles.user_id = ?", CurrentUserID(c))

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := db.NormalizeLikePattern(h.db, "%"+search+"%")
		expr := db.CaseInsensitiveLikeExpr(h.db, "clients.phone_number") + " OR " +
			db.CaseInsensitiveLikeExpr(h.db, "clients.name")
		query = query.Where(expr, pattern, pattern)
	}
	if c.Query("blocked") == "true" {
		query = query.Where("clients.is_blocked = ?", true)
	}
	if c.Query("regular") == "true" {
		query = query.Where("clients.is_regular = ?", true)
	}

	var clients []models.Client
	if errFind := query.
		Order("clients.last_contact_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&clients).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list clients failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"clients": clients})
}

// Get returns one client with the caller's per-profile links.
func (h *ClientHandler) Get(c *gin.Context) {
	client := h.loadVisibleClient(c)
	if client == nil {
		return
	}

	var links []models.ProfileClient
	if errFind := h.db.WithContext(c.Request.Context()).
		Joins("JOIN profiles ON profiles.id = profile_clients.profile_id").
		Where("profile_clients.client_id = ? AND profiles.user_id = ?", client.ID, CurrentUserID(c)).
		Find(&links).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load client links failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": client, "profiles": links})
}

type clientUpdateRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Notes     string `json:"notes"`
	IsRegular *bool  `json:"is_regular"`
}

// Update edits a client's name, notes and regular marker.
func (h *ClientHandler) Update(c *gin.Context) {
	client := h.loadVisibleClient(c)
	if client == nil {
		return
	}

	var req clientUpdateRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}

	updates := map[string]any{
		"name":  strings.TrimSpace(req.Name),
		"email": strings.TrimSpace(req.Email),
		"notes": req.Notes,
	}
	if req.IsRegular != nil {
		updates["is_regular"] = *req.IsRegular
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(client).
		Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update client failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": client})
}

type blockRequest struct {
	Reason string `json:"reason"`
}

// Block stops all processing of a client's inbound messages.
func (h *ClientHandler) Block(c *gin.Context) {
	client := h.loadVisibleClient(c)
	if client == nil {
		return
	}

	var req blockRequest
	_ = c.ShouldBindJSON(&req)

	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(client).
		Updates(map[string]any{"is_blocked": true, "block_reason": req.Reason}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "block client failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": client.ID, "is_blocked": true})
}

// Unblock resumes processing of a client's inbound messages.
func (h *ClientHandler) Unblock(c *gin.Context) {
	client := h.loadVisibleClient(c)
	if client == nil {
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(client).
		Updates(map[string]any{"is_blocked": false, "block_reason": ""}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unblock client failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": client.ID, "is_blocked": false})
}

// Stats summarizes message traffic with one client across the caller's
// profiles.
func (h *ClientHandler) Stats(c *gin.Context) {
	client := h.loadVisibleClient(c)
	if client == nil {
		return
	}

	var stats struct {
		Total    int64
		Incoming int64
		Outgoing int64
		AI       int64
	}
	base := h.db.WithContext(c.Request.Context()).
		Model(&models.Message{}).
		Joins("JOIN profiles ON profiles.id = messages.profile_id").
		Where("profiles.user_id = ? AND messages.client_number = ?", CurrentUserID(c), client.PhoneNumber)

	if errCount := base.Session(&gorm.Session{}).Count(&stats.Total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load stats failed"})
		return
	}
	_ = base.Session(&gorm.Session{}).Where("messages.is_incoming = ?", true).Count(&stats.Incoming).Error
	_ = base.Session(&gorm.Session{}).Where("messages.is_incoming = ?", false).Count(&stats.Outgoing).Error
	_ = base.Session(&gorm.Session{}).Where("messages.ai_generated = ?", true).Count(&stats.AI).Error

	c.JSON(http.StatusOK, gin.H{
		"client_id":       client.ID,
		"total_messages":  stats.Total,
		"incoming":        stats.Incoming,
		"outgoing":        stats.Outgoing,
		"ai_responses":    stats.AI,
		"last_contact_at": client.LastContactAt,
	})
}

// loadVisibleClient resolves :id to a client reachable through one of the
// caller's profiles.
func (h *ClientHandler) loadVisibleClient(c *gin.Context) *models.Client {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client id"})
		return nil
	}

	var client models.Client
	errFind := h.db.WithContext(c.Request.Context()).
		Joins("JOIN profile_clients ON profile_clients.client_id = clients.id").
		Joins("JOIN profiles ON profiles.id = profile_clients.profile_id").
		Where("clients.id = ? AND profiles.user_id = ?", id, CurrentUserID(c)).
		Take(&client).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load client failed"})
		}
		return nil
	}
	return &client
}
