package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/smswire/concierge/internal/models"
	"github.com/smswire/concierge/internal/security"
)

// APIKeyHandler manages programmatic access keys.
type APIKeyHandler struct {
	db *gorm.DB
}

// NewAPIKeyHandler constructs an APIKeyHandler.
func NewAPIKeyHandler(db *gorm.DB) *APIKeyHandler {
	return &APIKeyHandler{db: db}
}

type createAPIKeyRequest struct {
	Name      string `json:"name" binding:"required"`
	ExpiresIn int    `json:"expires_in_days"`
}

// Create issues a new key. The plaintext is returned once and never stored.
func (h *APIKeyHandler) Create(c *gin.Context) {
	var req createAPIKeyRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}

	plaintext, hash, errGen := security.GenerateAPIKey()
	if errGen != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate key failed"})
		return
	}

	row := models.APIKey{
		UserID:   CurrentUserID(c),
		Name:     req.Name,
		KeyHash:  hash,
		IsActive: true,
	}
	if req.ExpiresIn > 0 {
		expires := time.Now().UTC().AddDate(0, 0, req.ExpiresIn)
		row.ExpiresAt = &expires
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create key failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         row.ID,
		"name":       row.Name,
		"key":        plaintext,
		"expires_at": row.ExpiresAt,
	})
}

// List returns the caller's keys without hashes.
func (h *APIKeyHandler) List(c *gin.Context) {
	var rows []models.APIKey
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", CurrentUserID(c)).
		Order("id DESC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list keys failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":           row.ID,
			"name":         row.Name,
			"is_active":    row.IsActive,
			"expires_at":   row.ExpiresAt,
			"revoked_at":   row.RevokedAt,
			"last_used_at": row.LastUsedAt,
			"created_at":   row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": out})
}

// Revoke deactivates one of the caller's keys.
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key id"})
		return
	}

	now := time.Now().UTC()
	result := h.db.WithContext(c.Request.Context()).
		Model(&models.APIKey{}).
		Where("id = ? AND user_id = ?", id, CurrentUserID(c)).
		Updates(map[string]any{"is_active": false, "revoked_at": now})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke key failed"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}
