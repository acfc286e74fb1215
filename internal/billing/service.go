// Package billing manages plans, subscriptions and payment methods against
// Stripe, and applies Stripe webhook events to local state.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v78"
	stripecustomer "github.com/stripe/stripe-go/v78/customer"
	stripepaymentmethod "github.com/stripe/stripe-go/v78/paymentmethod"
	stripesubscription "github.com/stripe/stripe-go/v78/subscription"
	"gorm.io/gorm"

	"github.com/smswire/concierge/internal/config"
	"github.com/smswire/concierge/internal/models"
)

// ErrNoSubscription indicates the user has no active subscription.
var ErrNoSubscription = errors.New("billing: no active subscription")

// Service owns all billing state transitions.
type Service struct {
	db  *gorm.DB
	cfg config.StripeConfig
	now func() time.Time
}

// NewService constructs the billing service and installs the Stripe API key.
func NewService(db *gorm.DB, cfg config.StripeConfig) *Service {
	if cfg.SecretKey != "" {
		stripe.Key = cfg.SecretKey
	}
	return &Service{db: db, cfg: cfg, now: time.Now}
}

// Plans lists the subscribable plans.
func (s *Service) Plans(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	errFind := s.db.WithContext(ctx).
		Where("is_enabled = ?", true).
		Order("month_price ASC").
		Find(&plans).Error
	if errFind != nil {
		return nil, fmt.Errorf("billing: list plans: %w", errFind)
	}
	return plans, nil
}

// ActiveSubscription returns the user's current subscription with its plan,
// or ErrNoSubscription.
func (s *Service) ActiveSubscription(ctx context.Context, userID uint64) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Preload("Plan").
		Where("user_id = ? AND status IN ?", userID, []string{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue}).
		Order("id DESC").
		Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSubscription
	}
	if err != nil {
		return nil, fmt.Errorf("billing: load subscription: %w", err)
	}
	return &sub, nil
}

// EnsureCustomer returns the user's Stripe customer ID, creating the
// customer on first use. Without an API key subscriptions stay local and no
// customer is created.
func (s *Service) EnsureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}
	if s.cfg.SecretKey == "" {
		return "", nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Metadata: map[string]string{
			"user_id": fmt.Sprintf("%d", user.ID),
		},
	}
	params.Context = ctx
	created, err := stripecustomer.New(params)
	if err != nil {
		return "", fmt.Errorf("billing: create customer: %w", err)
	}

	if errSave := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("stripe_customer_id", created.ID).Error; errSave != nil {
		return "", fmt.Errorf("billing: save customer id: %w", errSave)
	}
	user.StripeCustomerID = created.ID
	return created.ID, nil
}

// Subscribe puts the user on a plan. An existing active subscription is
// rejected; callers cancel first.
func (s *Service) Subscribe(ctx context.Context, user *models.User, planID uint64) (*models.Subscription, error) {
	if existing, err := s.ActiveSubscription(ctx, user.ID); err == nil && existing != nil {
		return nil, fmt.Errorf("billing: user %d already subscribed", user.ID)
	} else if err != nil && !errors.Is(err, ErrNoSubscription) {
		return nil, err
	}

	var plan models.Plan
	if errFind := s.db.WithContext(ctx).Where("id = ? AND is_enabled = ?", planID, true).Take(&plan).Error; errFind != nil {
		return nil, fmt.Errorf("billing: load plan %d: %w", planID, errFind)
	}

	customerID, err := s.EnsureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	periodEnd := now.AddDate(0, 1, 0)
	stripeSubID := ""

	if plan.StripePriceID != "" {
		params := &stripe.SubscriptionParams{
			Customer: stripe.String(customerID),
			Items: []*stripe.SubscriptionItemsParams{
				{Price: stripe.String(plan.StripePriceID)},
			},
		}
		params.Context = ctx
		remote, errNew := stripesubscription.New(params)
		if errNew != nil {
			return nil, fmt.Errorf("billing: create subscription: %w", errNew)
		}
		stripeSubID = remote.ID
		if remote.CurrentPeriodStart > 0 {
			now = time.Unix(remote.CurrentPeriodStart, 0).UTC()
		}
		if remote.CurrentPeriodEnd > 0 {
			periodEnd = time.Unix(remote.CurrentPeriodEnd, 0).UTC()
		}
	}

	sub := models.Subscription{
		UserID:               user.ID,
		PlanID:               plan.ID,
		Status:               models.SubscriptionStatusActive,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: stripeSubID,
		PeriodStart:          now,
		PeriodEnd:            periodEnd,
	}
	if errCreate := s.db.WithContext(ctx).Create(&sub).Error; errCreate != nil {
		return nil, fmt.Errorf("billing: store subscription: %w", errCreate)
	}
	sub.Plan = plan
	return &sub, nil
}

// ChangePlan moves the user's active subscription to a different plan,
// prorating at Stripe when the subscription lives there.
func (s *Service) ChangePlan(ctx context.Context, userID, planID uint64) (*models.Subscription, error) {
	sub, err := s.ActiveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.PlanID == planID {
		return sub, nil
	}

	var plan models.Plan
	if errFind := s.db.WithContext(ctx).Where("id = ? AND is_enabled = ?", planID, true).Take(&plan).Error; errFind != nil {
		return nil, fmt.Errorf("billing: load plan %d: %w", planID, errFind)
	}

	updates := map[string]any{"plan_id": plan.ID}
	if sub.StripeSubscriptionID != "" && plan.StripePriceID != "" {
		getParams := &stripe.SubscriptionParams{}
		getParams.Context = ctx
		remote, errGet := stripesubscription.Get(sub.StripeSubscriptionID, getParams)
		if errGet != nil {
			return nil, fmt.Errorf("billing: load stripe subscription: %w", errGet)
		}
		if remote.Items == nil || len(remote.Items.Data) == 0 {
			return nil, fmt.Errorf("billing: stripe subscription %s has no items", sub.StripeSubscriptionID)
		}
		params := &stripe.SubscriptionParams{
			Items: []*stripe.SubscriptionItemsParams{{
				ID:    stripe.String(remote.Items.Data[0].ID),
				Price: stripe.String(plan.StripePriceID),
			}},
			ProrationBehavior: stripe.String("always_invoice"),
		}
		params.Context = ctx
		updated, errMod := stripesubscription.Update(sub.StripeSubscriptionID, params)
		if errMod != nil {
			return nil, fmt.Errorf("billing: update stripe subscription: %w", errMod)
		}
		if updated.CurrentPeriodStart > 0 {
			updates["period_start"] = time.Unix(updated.CurrentPeriodStart, 0).UTC()
		}
		if updated.CurrentPeriodEnd > 0 {
			updates["period_end"] = time.Unix(updated.CurrentPeriodEnd, 0).UTC()
		}
	}

	if errUpdate := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", sub.ID).
		Updates(updates).Error; errUpdate != nil {
		return nil, fmt.Errorf("billing: change plan: %w", errUpdate)
	}
	return s.ActiveSubscription(ctx, userID)
}

// Cancel ends the user's subscription at Stripe and locally.
func (s *Service) Cancel(ctx context.Context, userID uint64, reason string) error {
	sub, err := s.ActiveSubscription(ctx, userID)
	if err != nil {
		return err
	}

	if sub.StripeSubscriptionID != "" {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		if _, errCancel := stripesubscription.Cancel(sub.StripeSubscriptionID, params); errCancel != nil {
			return fmt.Errorf("billing: cancel at stripe: %w", errCancel)
		}
	}
	return s.markCanceled(ctx, sub.ID, reason)
}

func (s *Service) markCanceled(ctx context.Context, subscriptionID uint64, reason string) error {
	now := s.now().UTC()
	errUpdate := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", subscriptionID).
		Updates(map[string]any{
			"status":              models.SubscriptionStatusCanceled,
			"canceled_at":         now,
			"cancellation_reason": reason,
		}).Error
	if errUpdate != nil {
		return fmt.Errorf("billing: mark canceled: %w", errUpdate)
	}
	return nil
}

// AttachPaymentMethod attaches a Stripe payment method to the user and
// stores its card summary.
func (s *Service) AttachPaymentMethod(ctx context.Context, user *models.User, paymentMethodID string, setDefault bool) (*models.PaymentMethod, error) {
	customerID, err := s.EnsureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	attachParams := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	attachParams.Context = ctx
	attached, err := stripepaymentmethod.Attach(paymentMethodID, attachParams)
	if err != nil {
		return nil, fmt.Errorf("billing: attach payment method: %w", err)
	}

	row := models.PaymentMethod{
		UserID:                user.ID,
		StripePaymentMethodID: attached.ID,
		IsDefault:             setDefault,
	}
	if attached.Card != nil {
		row.Brand = string(attached.Card.Brand)
		row.Last4 = attached.Card.Last4
		row.ExpMonth = int(attached.Card.ExpMonth)
		row.ExpYear = int(attached.Card.ExpYear)
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if setDefault {
			if errClear := tx.Model(&models.PaymentMethod{}).
				Where("user_id = ?", user.ID).
				Update("is_default", false).Error; errClear != nil {
				return errClear
			}
		}
		return tx.Create(&row).Error
	})
	if errTx != nil {
		return nil, fmt.Errorf("billing: store payment method: %w", errTx)
	}

	if setDefault {
		updateParams := &stripe.CustomerParams{
			InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
				DefaultPaymentMethod: stripe.String(attached.ID),
			},
		}
		updateParams.Context = ctx
		if _, errUpdate := stripecustomer.Update(customerID, updateParams); errUpdate != nil {
			return nil, fmt.Errorf("billing: set default payment method: %w", errUpdate)
		}
	}
	return &row, nil
}

// SetDefaultPaymentMethod marks one stored instrument as the default and
// syncs the choice to the Stripe customer when one exists.
func (s *Service) SetDefaultPaymentMethod(ctx context.Context, user *models.User, id uint64) error {
	var row models.PaymentMethod
	if errFind := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, user.ID).Take(&row).Error; errFind != nil {
		return fmt.Errorf("billing: load payment method: %w", errFind)
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errClear := tx.Model(&models.PaymentMethod{}).
			Where("user_id = ?", user.ID).
			Update("is_default", false).Error; errClear != nil {
			return errClear
		}
		return tx.Model(&models.PaymentMethod{}).
			Where("id = ?", row.ID).
			Update("is_default", true).Error
	})
	if errTx != nil {
		return fmt.Errorf("billing: set default payment method: %w", errTx)
	}

	if s.cfg.SecretKey != "" && user.StripeCustomerID != "" {
		params := &stripe.CustomerParams{
			InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
				DefaultPaymentMethod: stripe.String(row.StripePaymentMethodID),
			},
		}
		params.Context = ctx
		if _, errUpdate := stripecustomer.Update(user.StripeCustomerID, params); errUpdate != nil {
			return fmt.Errorf("billing: sync default at stripe: %w", errUpdate)
		}
	}
	return nil
}

// RemovePaymentMethod detaches an instrument and deletes the local row.
func (s *Service) RemovePaymentMethod(ctx context.Context, userID uint64, id uint64) error {
	var row models.PaymentMethod
	errFind := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Take(&row).Error
	if errFind != nil {
		return fmt.Errorf("billing: load payment method: %w", errFind)
	}

	detachParams := &stripe.PaymentMethodDetachParams{}
	detachParams.Context = ctx
	if _, errDetach := stripepaymentmethod.Detach(row.StripePaymentMethodID, detachParams); errDetach != nil {
		return fmt.Errorf("billing: detach payment method: %w", errDetach)
	}
	if errDelete := s.db.WithContext(ctx).Delete(&row).Error; errDelete != nil {
		return fmt.Errorf("billing: delete payment method: %w", errDelete)
	}
	return nil
}

// PaymentMethods lists the user's stored instruments.
func (s *Service) PaymentMethods(ctx context.Context, userID uint64) ([]models.PaymentMethod, error) {
	var rows []models.PaymentMethod
	errFind := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default DESC, id ASC").
		Find(&rows).Error
	if errFind != nil {
		return nil, fmt.Errorf("billing: list payment methods: %w", errFind)
	}
	return rows, nil
}

// Invoices lists the user's invoices, newest first.
func (s *Service) Invoices(ctx context.Context, userID uint64) ([]models.Invoice, error) {
	var rows []models.Invoice
	errFind := s.db.WithContext(ctx).
		Joins("JOIN subscriptions ON subscriptions.id = invoices.subscription_id").
		Where("subscriptions.user_id = ?", userID).
		Order("invoices.id DESC").
		Find(&rows).Error
	if errFind != nil {
		return nil, fmt.Errorf("billing: list invoices: %w", errFind)
	}
	return rows, nil
}
