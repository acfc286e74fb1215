// Package handlers holds the REST endpoint implementations. Each handler is
// a small struct constructed with its dependencies and registered by the api
// package.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/smswire/concierge/internal/config"
	"github.com/smswire/concierge/internal/models"
	"github.com/smswire/concierge/internal/security"
)

// AuthHandler serves registration, login and token refresh.
type AuthHandler struct {
	db     *gorm.DB
	jwtCfg config.JWTConfig
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{db: db, jwtCfg: jwtCfg}
}

type registerRequest struct {
	Username  string `json:"username" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Register creates a new tenant account.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	var count int64
	if errCount := h.db.WithContext(c.Request.Context()).
		Model(&models.User{}).
		Where("username = ? OR email = ?", req.Username, req.Email).
		Count(&count).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "check existing user failed"})
		return
	}
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "username or email already registered"})
		return
	}

	hash, errHash := security.HashPassword(req.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	user := models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		IsActive:     true,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&user).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}

	h.issueTokens(c, &user, http.StatusCreated)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login verifies credentials and issues a token pair.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}

	identifier := strings.TrimSpace(req.Username)
	var user models.User
	errFind := h.db.WithContext(c.Request.Context()).
		Where("username = ? OR email = ?", identifier, strings.ToLower(identifier)).
		Take(&user).Error
	if errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load user failed"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if !user.IsActive || !security.CheckPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	now := time.Now().UTC()
	if errTouch := h.db.WithContext(c.Request.Context()).
		Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("last_login", now).Error; errTouch != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update login time failed"})
		return
	}

	h.issueTokens(c, &user, http.StatusOK)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh exchanges a refresh token for a fresh token pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}

	claims, errParse := security.ParseToken(h.jwtCfg.Secret, req.RefreshToken, security.TokenTypeRefresh)
	if errParse != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; errFind != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	if !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "account disabled"})
		return
	}

	h.issueTokens(c, &user, http.StatusOK)
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(c *gin.Context) {
	user := CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userView(user)})
}

func (h *AuthHandler) issueTokens(c *gin.Context, user *models.User, status int) {
	access, errAccess := security.IssueToken(h.jwtCfg.Secret, user.ID, security.TokenTypeAccess, h.jwtCfg.AccessExpiry)
	if errAccess != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	refresh, errRefresh := security.IssueToken(h.jwtCfg.Secret, user.ID, security.TokenTypeRefresh, h.jwtCfg.RefreshExpiry)
	if errRefresh != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}

	c.JSON(status, gin.H{
		"access_token":  access,
		"refresh_token": refresh,
		"user":          userView(user),
	})
}

func userView(user *models.User) gin.H {
	return gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"first_name": user.FirstName,
		"last_name":  user.LastName,
		"is_admin":   user.IsAdmin,
		"has_twilio": user.HasTwilioAccount(),
		"created_at": user.CreatedAt,
	}
}

// CurrentUser returns the user loaded by the auth middleware.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get("user")
	if !ok {
		return nil
	}
	user, ok := v.(*models.User)
	if !ok {
		return nil
	}
	return user
}

// CurrentUserID returns the authenticated user's ID, or zero.
func CurrentUserID(c *gin.Context) uint64 {
	if user := CurrentUser(c); user != nil {
		return user.ID
	}
	return 0
}
