package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/smswire/concierge/internal/models"
	"github.com/smswire/concierge/internal/security"
)

// TelephonyHandler manages the caller's telephony account link: connecting a
// subaccount or an external account and rotating the stored credentials.
type TelephonyHandler struct {
	db  *gorm.DB
	box *security.SecretBox
}

// NewTelephonyHandler constructs a TelephonyHandler. The secret box may be nil
// when no encryption key is configured; connect and rotate then refuse to
// store credentials.
func NewTelephonyHandler(db *gorm.DB, box *security.SecretBox) *TelephonyHandler {
	return &TelephonyHandler{db: db, box: box}
}

// Status reports the current account link without exposing stored secrets.
func (h *TelephonyHandler) Status(c *gin.Context) {
	user := CurrentUser(c)
	c.JSON(http.StatusOK, gin.H{
		"connected":        user.HasTwilioAccount(),
		"account_type":     user.AccountType,
		"account_sid":      user.TwilioAccountSID,
		"api_key_sid":      user.TwilioAPIKeySID,
		"parent_account":   user.TwilioParentAccount,
		"has_auth_token":   user.TwilioAuthToken != "",
		"has_api_secret":   user.TwilioAPIKeySecret != "",
	})
}

type connectTelephonyRequest struct {
	AccountType  string `json:"account_type" binding:"required"`
	AccountSID   string `json:"account_sid" binding:"required"`
	AuthToken    string `json:"auth_token"`
	APIKeySID    string `json:"api_key_sid"`
	APIKeySecret string `json:"api_key_secret"`
}

// Connect links a telephony account to the caller. Subaccounts authenticate
// through the platform credentials, so only the SID is required; external
// accounts must bring their own auth token.
func (h *TelephonyHandler) Connect(c *gin.Context) {
	var req connectTelephonyRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}
	if req.AccountType != models.AccountTypeSubaccount && req.AccountType != models.AccountTypeExternal {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_type must be subaccount or external"})
		return
	}
	if req.AccountType == models.AccountTypeExternal && req.AuthToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "auth_token is required for external accounts"})
		return
	}
	if (req.AuthToken != "" || req.APIKeySecret != "") && h.box == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "credential encryption not configured"})
		return
	}

	var sealedToken, sealedSecret string
	if req.AuthToken != "" {
		var errSeal error
		if sealedToken, errSeal = h.box.Encrypt(req.AuthToken); errSeal != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store credentials failed"})
			return
		}
	}
	if req.APIKeySecret != "" {
		var errSeal error
		if sealedSecret, errSeal = h.box.Encrypt(req.APIKeySecret); errSeal != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store credentials failed"})
			return
		}
	}

	user := CurrentUser(c)
	updates := map[string]any{
		"twilio_account_sid":    req.AccountSID,
		"twilio_account_type":   req.AccountType,
		"twilio_parent_account": req.AccountType == models.AccountTypeSubaccount,
		"twilio_api_key_sid":    req.APIKeySID,
		"twilio_auth_token_enc": sealedToken,
		"twilio_api_secret_enc": sealedSecret,
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "connect account failed"})
		return
	}
	log.WithFields(log.Fields{"user_id": user.ID, "account_type": req.AccountType}).Info("telephony account connected")
	c.JSON(http.StatusOK, gin.H{
		"connected":    true,
		"account_type": req.AccountType,
		"account_sid":  req.AccountSID,
	})
}

type rotateTelephonyRequest struct {
	AuthToken    string `json:"auth_token"`
	APIKeySecret string `json:"api_key_secret"`
}

// Rotate replaces the stored auth token and/or API key secret for an already
// connected account.
func (h *TelephonyHandler) Rotate(c *gin.Context) {
	user := CurrentUser(c)
	if !user.HasTwilioAccount() {
		c.JSON(http.StatusNotFound, gin.H{"error": "no telephony account connected"})
		return
	}

	var req rotateTelephonyRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}
	if req.AuthToken == "" && req.APIKeySecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to rotate"})
		return
	}
	if h.box == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "credential encryption not configured"})
		return
	}

	updates := map[string]any{}
	if req.AuthToken != "" {
		sealed, errSeal := h.box.Encrypt(req.AuthToken)
		if errSeal != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store credentials failed"})
			return
		}
		updates["twilio_auth_token_enc"] = sealed
	}
	if req.APIKeySecret != "" {
		sealed, errSeal := h.box.Encrypt(req.APIKeySecret)
		if errSeal != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store credentials failed"})
			return
		}
		updates["twilio_api_secret_enc"] = sealed
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rotate credentials failed"})
		return
	}
	log.WithField("user_id", user.ID).Info("telephony credentials rotated")
	c.JSON(http.StatusOK, gin.H{"status": "rotated"})
}
