package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/smswire/concierge/internal/models"
)

// FlagHandler serves the moderation review queue.
type FlagHandler struct {
	db *gorm.DB
}

// NewFlagHandler constructs a FlagHandler.
func NewFlagHandler(db *gorm.DB) *FlagHandler {
	return &FlagHandler{db: db}
}

// List returns flagged messages across the caller's profiles, unreviewed
// first.
func (h *FlagHandler) List(c *gin.Context) {
	offset, limit := pagination(c)

	query := h.db.WithContext(c.Request.Context()).
		Model(&models.FlaggedMessage{}).
		Preload("Message").
		Joins("JOIN messages ON messages.id = flagged_messages.message_id").
		Joins("JOIN profiles ON profiles.id = messages.profile_id").
		Where("profiles.user_id = ?", CurrentUserID(c))

	if c.Query("reviewed") == "false" {
		query = query.Where("flagged_messages.is_reviewed = ?", false)
	}
	if raw := c.Query("profile_id"); raw != "" {
		if profileID, errParse := strconv.ParseUint(raw, 10, 64); errParse == nil {
			query = query.Where("messages.profile_id = ?", profileID)
		}
	}

	var flags []models.FlaggedMessage
	if errFind := query.
		Order("flagged_messages.is_reviewed ASC, flagged_messages.id DESC").
		Offset(offset).
		Limit(limit).
		Find(&flags).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list flagged messages failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flagged_messages": flags})
}

type reviewRequest struct {
	Notes string `json:"notes"`
}

// Review marks a flagged message as handled.
func (h *FlagHandler) Review(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag id"})
		return
	}

	var req reviewRequest
	_ = c.ShouldBindJSON(&req)

	var flag models.FlaggedMessage
	errFind := h.db.WithContext(c.Request.Context()).
		Joins("JOIN messages ON messages.id = flagged_messages.message_id").
		Joins("JOIN profiles ON profiles.id = messages.profile_id").
		Where("flagged_messages.id = ? AND profiles.user_id = ?", id, CurrentUserID(c)).
		Take(&flag).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "flagged message not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load flagged message failed"})
		}
		return
	}

	now := nowUTC()
	errUpdate := h.db.WithContext(c.Request.Context()).
		Model(&flag).
		Updates(map[string]any{
			"is_reviewed":  true,
			"review_notes": req.Notes,
			"reviewed_by":  CurrentUserID(c),
			"reviewed_at":  now,
		}).Error
	if errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "review flagged message failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flagged_message": flag})
}
