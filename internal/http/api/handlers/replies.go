package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smswire/concierge/internal/models"
)

// ReplyConfigHandler manages keyword rules, the out-of-office reply, text
// examples and generation settings for a profile.
type ReplyConfigHandler struct {
	db *gorm.DB
}

// NewReplyConfigHandler constructs a ReplyConfigHandler.
func NewReplyConfigHandler(db *gorm.DB) *ReplyConfigHandler {
	return &ReplyConfigHandler{db: db}
}

type autoReplyRequest struct {
	Keyword  string `json:"keyword" binding:"required"`
	Response string `json:"response" binding:"required"`
	IsActive *bool  `json:"is_active"`
	Priority int    `json:"priority"`
}

// ListAutoReplies returns a profile's keyword rules in evaluation order.
func (h *ReplyConfigHandler) ListAutoReplies(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db)
	if profile == nil {
		return
	}

	var rules []models.AutoReply
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("profile_id = ?", profile.ID).
		Order("priority DESC, id ASC").
		Find(&rules).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list auto replies failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"auto_replies": rules})
}

// CreateAutoReply adds a keyword rule.
func (h *ReplyConfigHandler) CreateAutoReply(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db)
	if profile == nil {
		return
	}

	var req autoReplyRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}

	rule := models.AutoReply{
		ProfileID: profile.ID,
		Keyword:   strings.TrimSpace(req.Keyword),
		Response:  req.Response,
		IsActive:  true,
		Priority:  req.Priority,
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&rule).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create auto reply failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"auto_reply": rule})
}

// UpdateAutoReply modifies a keyword rule.
func (h *ReplyConfigHandler) UpdateAutoReply(c *gin.Context) {
	rule := h.loadOwnedRule(c)
	if rule == nil {
		return
	}

	var req autoReplyRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}

	updates := map[string]any{
		"keyword":  strings.TrimSpace(req.Keyword),
		"response": req.Response,
		"priority": req.Priority,
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(rule).
		Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update auto reply failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"auto_reply": rule})
}

// DeleteAutoReply removes a keyword rule.
func (h *ReplyConfigHandler) DeleteAutoReply(c *gin.Context) {
	rule := h.loadOwnedRule(c)
	if rule == nil {
		return
	}
	if errDelete := h.db.WithContext(c.Request.Context()).Delete(rule).Error; errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete auto reply failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *ReplyConfigHandler) loadOwnedRule(c *gin.Context) *models.AutoReply {
	id, errParse := strconv.ParseUint(c.Param("rule_id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return nil
	}

	var rule models.AutoReply
	errFind := h.db.WithContext(c.Request.Context()).
		Joins("JOIN profiles ON profiles.id = auto_replies.profile_id").
		Where("auto_replies.id = ? AND profiles.user_id = ?", id, CurrentUserID(c)).
		Take(&rule).Error
	if errFind != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "auto reply not found"})
		return nil
	}
	return &rule
}

type outOfOfficeRequest struct {
	Message  string `json:"message" binding:"required"`
	IsActive *bool  `json:"is_active"`
}

// GetOutOfOffice returns the profile's after-hours reply.
func (h *ReplyConfigHandler) GetOutOfOffice(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db, "OutOfOfficeReply")
	if profile == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"out_of_office_reply": profile.OutOfOfficeReply})
}

// SetOutOfOffice creates or replaces the after-hours reply.
func (h *ReplyConfigHandler) SetOutOfOffice(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db, "OutOfOfficeReply")
	if profile == nil {
		return
	}

	var req outOfOfficeRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	row := profile.OutOfOfficeReply
	if row == nil {
		row = &models.OutOfOfficeReply{ProfileID: profile.ID}
	}
	row.Message = req.Message

	if errSave := h.db.WithContext(c.Request.Context()).Save(row).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save out of office reply failed"})
		return
	}
	// Save skips a false value for the defaulted flag, so set it explicitly.
	if errFlag := h.db.WithContext(c.Request.Context()).
		Model(row).
		Update("is_active", active).Error; errFlag != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save out of office reply failed"})
		return
	}
	row.IsActive = active
	c.JSON(http.StatusOK, gin.H{"out_of_office_reply": row})
}

type aiSettingsRequest struct {
	Model              string   `json:"model"`
	Temperature        *float64 `json:"temperature"`
	MaxTokens          *int     `json:"max_tokens"`
	StyleNotes         string   `json:"style_notes"`
	CustomInstructions string   `json:"custom_instructions"`
}

// GetAISettings returns the profile's generation settings.
func (h *ReplyConfigHandler) GetAISettings(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db, "AISettings")
	if profile == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"ai_settings": profile.AISettings})
}

// SetAISettings creates or updates the profile's generation settings.
func (h *ReplyConfigHandler) SetAISettings(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db)
	if profile == nil {
		return
	}

	var req aiSettingsRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "temperature must be between 0 and 2"})
		return
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_tokens must be positive"})
		return
	}

	row := models.AISettings{
		ProfileID:          profile.ID,
		Model:              strings.TrimSpace(req.Model),
		Temperature:        0.7,
		MaxTokens:          150,
		StyleNotes:         req.StyleNotes,
		CustomInstructions: req.CustomInstructions,
	}
	if req.Temperature != nil {
		row.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		row.MaxTokens = *req.MaxTokens
	}

	errUpsert := h.db.WithContext(c.Request.Context()).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "profile_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"model":               row.Model,
				"temperature":         row.Temperature,
				"max_tokens":          row.MaxTokens,
				"style_notes":         row.StyleNotes,
				"custom_instructions": row.CustomInstructions,
			}),
		}).
		Create(&row).Error
	if errUpsert != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save ai settings failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ai_settings": row})
}

type textExampleRequest struct {
	Content    string `json:"content" binding:"required"`
	IsIncoming bool   `json:"is_incoming"`
}

// ListTextExamples returns the profile's style examples in order.
func (h *ReplyConfigHandler) ListTextExamples(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db)
	if profile == nil {
		return
	}

	var examples []models.TextExample
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("profile_id = ?", profile.ID).
		Order("timestamp ASC, id ASC").
		Find(&examples).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list text examples failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text_examples": examples})
}

// CreateTextExample adds one style example.
func (h *ReplyConfigHandler) CreateTextExample(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db)
	if profile == nil {
		return
	}

	var req textExampleRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}

	example := models.TextExample{
		ProfileID:  profile.ID,
		Content:    req.Content,
		IsIncoming: req.IsIncoming,
		Timestamp:  nowUTC(),
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&example).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create text example failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"text_example": example})
}

type bulkTextExamplesRequest struct {
	Examples []struct {
		Content    string `json:"content"`
		IsIncoming bool   `json:"is_incoming"`
	} `json:"examples" binding:"required"`
}

// BulkCreateTextExamples adds several style examples in one call. Entries
// without content are skipped rather than failing the batch.
func (h *ReplyConfigHandler) BulkCreateTextExamples(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db)
	if profile == nil {
		return
	}

	var req bulkTextExamplesRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}

	now := nowUTC()
	rows := make([]models.TextExample, 0, len(req.Examples))
	for _, ex := range req.Examples {
		if ex.Content == "" {
			continue
		}
		rows = append(rows, models.TextExample{
			ProfileID:  profile.ID,
			Content:    ex.Content,
			IsIncoming: ex.IsIncoming,
			Timestamp:  now,
		})
	}
	if len(rows) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no examples provided"})
		return
	}

	if errCreate := h.db.WithContext(c.Request.Context()).Create(&rows).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create text examples failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"created": len(rows), "text_examples": rows})
}

// DeleteTextExample removes one style example.
func (h *ReplyConfigHandler) DeleteTextExample(c *gin.Context) {
	exampleID, errParse := strconv.ParseUint(c.Param("example_id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid example id"})
		return
	}

	result := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND profile_id IN (?)",
			exampleID,
			h.db.Model(&models.Profile{}).Select("id").Where("user_id = ?", CurrentUserID(c)),
		).
		Delete(&models.TextExample{})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete text example failed"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "text example not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
