package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/smswire/concierge/internal/billing"
	"github.com/smswire/concierge/internal/models"
)

// BillingHandler exposes plans, the caller's subscription, payment methods
// and invoices.
type BillingHandler struct {
	db      *gorm.DB
	service *billing.Service
}

// NewBillingHandler constructs a BillingHandler.
func NewBillingHandler(db *gorm.DB, service *billing.Service) *BillingHandler {
	return &BillingHandler{db: db, service: service}
}

// Plans lists subscribable plans.
func (h *BillingHandler) Plans(c *gin.Context) {
	plans, errList := h.service.Plans(c.Request.Context())
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list plans failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// Subscription returns the caller's current subscription.
func (h *BillingHandler) Subscription(c *gin.Context) {
	sub, errLoad := h.service.ActiveSubscription(c.Request.Context(), CurrentUserID(c))
	if errors.Is(errLoad, billing.ErrNoSubscription) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active subscription"})
		return
	}
	if errLoad != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load subscription failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

type subscribeRequest struct {
	PlanID uint64 `json:"plan_id" binding:"required"`
}

// Subscribe puts the caller on a plan.
func (h *BillingHandler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}

	user := CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sub, errSub := h.service.Subscribe(c.Request.Context(), user, req.PlanID)
	if errSub != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errSub.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"subscription": sub})
}

// ChangePlan moves the caller's subscription to a different plan.
func (h *BillingHandler) ChangePlan(c *gin.Context) {
	var req subscribeRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}

	sub, errChange := h.service.ChangePlan(c.Request.Context(), CurrentUserID(c), req.PlanID)
	if errors.Is(errChange, billing.ErrNoSubscription) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active subscription"})
		return
	}
	if errChange != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errChange.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel ends the caller's subscription.
func (h *BillingHandler) Cancel(c *gin.Context) {
	var req cancelRequest
	_ = c.ShouldBindJSON(&req)

	errCancel := h.service.Cancel(c.Request.Context(), CurrentUserID(c), req.Reason)
	if errors.Is(errCancel, billing.ErrNoSubscription) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active subscription"})
		return
	}
	if errCancel != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel subscription failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "canceled"})
}

type attachPaymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id" binding:"required"`
	SetDefault      bool   `json:"set_default"`
}

// AttachPaymentMethod stores a new card for the caller.
func (h *BillingHandler) AttachPaymentMethod(c *gin.Context) {
	var req attachPaymentMethodRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
		return
	}

	user := CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	row, errAttach := h.service.AttachPaymentMethod(c.Request.Context(), user, req.PaymentMethodID, req.SetDefault)
	if errAttach != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "attach payment method failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment_method": row})
}

// PaymentMethods lists the caller's stored cards.
func (h *BillingHandler) PaymentMethods(c *gin.Context) {
	rows, errList := h.service.PaymentMethods(c.Request.Context(), CurrentUserID(c))
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list payment methods failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_methods": rows})
}

// SetDefaultPaymentMethod marks one stored card as the default.
func (h *BillingHandler) SetDefaultPaymentMethod(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment method id"})
		return
	}
	if errSet := h.service.SetDefaultPaymentMethod(c.Request.Context(), CurrentUser(c), id); errSet != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment method not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// RemovePaymentMethod detaches and deletes a stored card.
func (h *BillingHandler) RemovePaymentMethod(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment method id"})
		return
	}
	if errRemove := h.service.RemovePaymentMethod(c.Request.Context(), CurrentUserID(c), id); errRemove != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment method not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// Invoices lists the caller's invoices, newest first.
func (h *BillingHandler) Invoices(c *gin.Context) {
	rows, errList := h.service.Invoices(c.Request.Context(), CurrentUserID(c))
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list invoices failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": rows})
}

// UsageSummary reports the caller's telephony rollup.
func (h *BillingHandler) UsageSummary(c *gin.Context) {
	var row models.SMSUsage
	errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", CurrentUserID(c)).
		Take(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusOK, gin.H{"usage": models.SMSUsage{UserID: CurrentUserID(c)}})
		return
	}
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load usage failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": row})
}
