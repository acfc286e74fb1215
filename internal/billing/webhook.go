package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smswire/concierge/internal/models"
)

// ConstructEvent verifies a webhook payload against the signing secret.
func (s *Service) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, signature, s.cfg.WebhookSecret)
}

// ProcessEvent applies one verified Stripe event to local state. Unhandled
// event types are logged and acknowledged.
func (s *Service) ProcessEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "invoice.payment_succeeded":
		return s.handleInvoice(ctx, event, true)
	case "invoice.payment_failed":
		return s.handleInvoice(ctx, event, false)
	case "customer.subscription.updated":
		return s.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, event)
	default:
		log.WithField("type", event.Type).Debug("billing: ignoring stripe event")
		return nil
	}
}

func (s *Service) handleInvoice(ctx context.Context, event stripe.Event, paid bool) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("billing: decode invoice event: %w", err)
	}

	sub, err := s.subscriptionForEvent(ctx, stripeSubscriptionID(inv.Subscription), stripeCustomerID(inv.Customer))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.WithField("invoice", inv.ID).Warn("billing: invoice for unknown subscription")
			return nil
		}
		return err
	}

	amount := float64(inv.AmountDue) / 100
	status := "open"
	var paidAt *time.Time
	if paid {
		amount = float64(inv.AmountPaid) / 100
		status = "paid"
		now := s.now().UTC()
		paidAt = &now
	}

	row := models.Invoice{
		SubscriptionID:  sub.ID,
		StripeInvoiceID: inv.ID,
		Amount:          amount,
		Status:          status,
		PaidAt:          paidAt,
	}
	errUpsert := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stripe_invoice_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"amount":  amount,
				"status":  status,
				"paid_at": paidAt,
			}),
		}).
		Create(&row).Error
	if errUpsert != nil {
		return fmt.Errorf("billing: upsert invoice: %w", errUpsert)
	}

	updates := map[string]any{"status": models.SubscriptionStatusPastDue}
	if paid {
		// A successful payment opens a fresh period and resets the
		// generation budget.
		updates = map[string]any{
			"status":            models.SubscriptionStatusActive,
			"ai_responses_used": 0,
		}
		if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period != nil {
			period := inv.Lines.Data[0].Period
			if period.Start > 0 {
				updates["period_start"] = time.Unix(period.Start, 0).UTC()
			}
			if period.End > 0 {
				updates["period_end"] = time.Unix(period.End, 0).UTC()
			}
		}
	}
	errUpdate := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", sub.ID).
		Updates(updates).Error
	if errUpdate != nil {
		return fmt.Errorf("billing: update subscription from invoice: %w", errUpdate)
	}
	return nil
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var remote stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &remote); err != nil {
		return fmt.Errorf("billing: decode subscription event: %w", err)
	}

	updates := map[string]any{}
	switch remote.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		updates["status"] = models.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		updates["status"] = models.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled:
		updates["status"] = models.SubscriptionStatusCanceled
	}
	if remote.CurrentPeriodStart > 0 {
		updates["period_start"] = time.Unix(remote.CurrentPeriodStart, 0).UTC()
	}
	if remote.CurrentPeriodEnd > 0 {
		updates["period_end"] = time.Unix(remote.CurrentPeriodEnd, 0).UTC()
	}
	if len(updates) == 0 {
		return nil
	}

	errUpdate := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", remote.ID).
		Updates(updates).Error
	if errUpdate != nil {
		return fmt.Errorf("billing: apply subscription update: %w", errUpdate)
	}
	return nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var remote stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &remote); err != nil {
		return fmt.Errorf("billing: decode subscription event: %w", err)
	}

	var sub models.Subscription
	errFind := s.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", remote.ID).
		Take(&sub).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		log.WithField("subscription", remote.ID).Warn("billing: deletion for unknown subscription")
		return nil
	}
	if errFind != nil {
		return fmt.Errorf("billing: load subscription for deletion: %w", errFind)
	}
	return s.markCanceled(ctx, sub.ID, "canceled at stripe")
}

// subscriptionForEvent resolves the local subscription by Stripe IDs, by
// subscription ID first and customer ID as fallback.
func (s *Service) subscriptionForEvent(ctx context.Context, subscriptionID, customerID string) (*models.Subscription, error) {
	var sub models.Subscription
	if subscriptionID != "" {
		err := s.db.WithContext(ctx).Where("stripe_subscription_id = ?", subscriptionID).Take(&sub).Error
		if err == nil {
			return &sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("billing: lookup by subscription id: %w", err)
		}
	}
	if customerID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	err := s.db.WithContext(ctx).
		Where("stripe_customer_id = ?", customerID).
		Order("id DESC").
		Take(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("billing: lookup by customer id: %w", err)
	}
	return &sub, nil
}

func stripeSubscriptionID(sub *stripe.Subscription) string {
	if sub == nil {
		return ""
	}
	return sub.ID
}

func stripeCustomerID(customer *stripe.Customer) string {
	if customer == nil {
		return ""
	}
	return customer.ID
}
