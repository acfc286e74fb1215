package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smswire/concierge/internal/hours"
	"github.com/smswire/concierge/internal/models"
)

// ProfileHandler manages SMS profiles.
type ProfileHandler struct {
	db *gorm.DB
}

// NewProfileHandler constructs a ProfileHandler.
func NewProfileHandler(db *gorm.DB) *ProfileHandler {
	return &ProfileHandler{db: db}
}

// loadOwnedProfile resolves the :id param to a profile owned by the caller.
// It writes the error response itself and returns nil on failure.
func loadOwnedProfile(c *gin.Context, db *gorm.DB, preloads ...string) *models.Profile {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile id"})
		return nil
	}

	query := db.WithContext(c.Request.Context())
	for _, preload := range preloads {
		query = query.Preload(preload)
	}

	var profile models.Profile
	errFind := query.Where("id = ? AND user_id = ?", id, CurrentUserID(c)).Take(&profile).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load profile failed"})
		}
		return nil
	}
	return &profile
}

type profileRequest struct {
	Name                   string          `json:"name" binding:"required"`
	PhoneNumber            string          `json:"phone_number" binding:"required"`
	Description            string          `json:"description"`
	Timezone               string          `json:"timezone"`
	AIEnabled              *bool           `json:"ai_enabled"`
	BusinessHours          json.RawMessage `json:"business_hours"`
	DailyAutoResponseLimit *int            `json:"daily_auto_response_limit"`
}

func (r *profileRequest) validate() error {
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)
	if !strings.HasPrefix(r.PhoneNumber, "+") {
		return errors.New("phone_number must be in E.164 format")
	}
	if tz := strings.TrimSpace(r.Timezone); tz != "" {
		if _, errLoad := time.LoadLocation(tz); errLoad != nil {
			return errors.New("unknown timezone")
		}
	}
	if len(r.BusinessHours) > 0 {
		if _, errParse := hours.Parse(r.BusinessHours); errParse != nil {
			return errors.New("invalid business_hours")
		}
	}
	return nil
}

// Create adds a profile, honoring the plan's profile limit.
func (h *ProfileHandler) Create(c *gin.Context) {
	var req profileRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}
	if errValidate := req.validate(); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errValidate.Error()})
		return
	}

	userID := CurrentUserID(c)
	if limit := h.profileLimit(c, userID); limit > 0 {
		var count int64
		if errCount := h.db.WithContext(c.Request.Context()).
			Model(&models.Profile{}).
			Where("user_id = ?", userID).
			Count(&count).Error; errCount != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "count profiles failed"})
			return
		}
		if count >= int64(limit) {
			c.JSON(http.StatusForbidden, gin.H{"error": "profile limit reached for current plan"})
			return
		}
	}

	profile := models.Profile{
		UserID:      userID,
		Name:        strings.TrimSpace(req.Name),
		PhoneNumber: req.PhoneNumber,
		Description: req.Description,
		Timezone:    strings.TrimSpace(req.Timezone),
		IsActive:    true,
	}
	if profile.Timezone == "" {
		profile.Timezone = "UTC"
	}
	if req.AIEnabled != nil {
		profile.AIEnabled = *req.AIEnabled
	}
	if len(req.BusinessHours) > 0 {
		profile.BusinessHours = datatypes.JSON(req.BusinessHours)
	}
	if req.DailyAutoResponseLimit != nil && *req.DailyAutoResponseLimit >= 0 {
		profile.DailyAutoResponseLimit = *req.DailyAutoResponseLimit
	} else {
		profile.DailyAutoResponseLimit = 100
	}

	if errCreate := h.db.WithContext(c.Request.Context()).Create(&profile).Error; errCreate != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "phone number already in use"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"profile": profileView(&profile)})
}

// List returns the caller's profiles.
func (h *ProfileHandler) List(c *gin.Context) {
	var profiles []models.Profile
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", CurrentUserID(c)).
		Order("id ASC").
		Find(&profiles).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list profiles failed"})
		return
	}

	out := make([]gin.H, 0, len(profiles))
	for i := range profiles {
		out = append(out, profileView(&profiles[i]))
	}
	c.JSON(http.StatusOK, gin.H{"profiles": out})
}

// Get returns one profile with its reply configuration.
func (h *ProfileHandler) Get(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db, "AutoReplies", "OutOfOfficeReply", "AISettings")
	if profile == nil {
		return
	}

	view := profileView(profile)
	view["auto_replies"] = profile.AutoReplies
	view["out_of_office_reply"] = profile.OutOfOfficeReply
	view["ai_settings"] = profile.AISettings
	c.JSON(http.StatusOK, gin.H{"profile": view})
}

// Update modifies profile fields.
func (h *ProfileHandler) Update(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db)
	if profile == nil {
		return
	}

	var req profileRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}
	if errValidate := req.validate(); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errValidate.Error()})
		return
	}

	updates := map[string]any{
		"name":         strings.TrimSpace(req.Name),
		"phone_number": req.PhoneNumber,
		"description":  req.Description,
	}
	if tz := strings.TrimSpace(req.Timezone); tz != "" {
		updates["timezone"] = tz
	}
	if req.AIEnabled != nil {
		updates["ai_enabled"] = *req.AIEnabled
	}
	if len(req.BusinessHours) > 0 {
		updates["business_hours"] = datatypes.JSON(req.BusinessHours)
	}
	if req.DailyAutoResponseLimit != nil && *req.DailyAutoResponseLimit >= 0 {
		updates["daily_auto_response_limit"] = *req.DailyAutoResponseLimit
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(profile).
		Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "phone number already in use"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profileView(profile)})
}

// Delete removes a profile and its dependent rows.
func (h *ProfileHandler) Delete(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db)
	if profile == nil {
		return
	}

	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{
			&models.AutoReply{},
			&models.OutOfOfficeReply{},
			&models.TextExample{},
			&models.AISettings{},
			&models.ProfileClient{},
		} {
			if errDelete := tx.Where("profile_id = ?", profile.ID).Delete(model).Error; errDelete != nil {
				return errDelete
			}
		}
		return tx.Delete(profile).Error
	})
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete profile failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ToggleAI flips automated replies for a profile.
func (h *ProfileHandler) ToggleAI(c *gin.Context) {
	profile := loadOwnedProfile(c, h.db)
	if profile == nil {
		return
	}

	next := !profile.AIEnabled
	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(profile).
		Update("ai_enabled", next).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "toggle failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": profile.ID, "ai_enabled": next})
}

func (h *ProfileHandler) profileLimit(c *gin.Context, userID uint64) int {
	var sub models.Subscription
	errFind := h.db.WithContext(c.Request.Context()).
		Preload("Plan").
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Order("id DESC").
		Take(&sub).Error
	if errFind != nil {
		return 0
	}
	return sub.Plan.ProfileLimit
}

func profileView(profile *models.Profile) gin.H {
	return gin.H{
		"id":                        profile.ID,
		"name":                      profile.Name,
		"phone_number":              profile.PhoneNumber,
		"description":               profile.Description,
		"timezone":                  profile.Timezone,
		"is_active":                 profile.IsActive,
		"ai_enabled":                profile.AIEnabled,
		"business_hours":            profile.BusinessHours,
		"daily_auto_response_limit": profile.DailyAutoResponseLimit,
		"created_at":                profile.CreatedAt,
		"updated_at":                profile.UpdatedAt,
	}
}
