package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
	"gorm.io/gorm"

	"github.com/smswire/concierge/internal/config"
	"github.com/smswire/concierge/internal/models"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.User{},
		&models.Plan{},
		&models.Subscription{},
		&models.Invoice{},
		&models.PaymentMethod{},
	))
	return NewService(conn, config.StripeConfig{}), conn
}

func seedSubscription(t *testing.T, conn *gorm.DB) models.Subscription {
	t.Helper()
	user := models.User{Username: "owner", Email: "owner@example.com", PasswordHash: "x", StripeCustomerID: "cus_1"}
	require.NoError(t, conn.Create(&user).Error)
	plan := models.Plan{Name: "Pro", AIResponseLimit: 500, StripePriceID: "price_1"}
	require.NoError(t, conn.Create(&plan).Error)
	sub := models.Subscription{
		UserID:               user.ID,
		PlanID:               plan.ID,
		Status:               models.SubscriptionStatusActive,
		StripeCustomerID:     "cus_1",
		StripeSubscriptionID: "sub_1",
		PeriodStart:          time.Now().Add(-720 * time.Hour),
		PeriodEnd:            time.Now(),
		AIResponsesUsed:      321,
	}
	require.NoError(t, conn.Create(&sub).Error)
	return sub
}

func invoiceEvent(t *testing.T, eventType string, raw any) stripe.Event {
	t.Helper()
	payload, err := json.Marshal(raw)
	require.NoError(t, err)
	return stripe.Event{
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: payload},
	}
}

func TestPaymentSucceededResetsBudget(t *testing.T) {
	service, conn := newTestService(t)
	sub := seedSubscription(t, conn)

	periodStart := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, 0)
	event := invoiceEvent(t, "invoice.payment_succeeded", map[string]any{
		"id":           "in_1",
		"amount_paid":  2900,
		"subscription": map[string]any{"id": "sub_1"},
		"customer":     map[string]any{"id": "cus_1"},
		"lines": map[string]any{
			"data": []map[string]any{
				{"period": map[string]any{"start": periodStart.Unix(), "end": periodEnd.Unix()}},
			},
		},
	})

	require.NoError(t, service.ProcessEvent(context.Background(), event))

	var invoice models.Invoice
	require.NoError(t, conn.Where("stripe_invoice_id = ?", "in_1").Take(&invoice).Error)
	require.Equal(t, sub.ID, invoice.SubscriptionID)
	require.InDelta(t, 29.0, invoice.Amount, 0.001)
	require.Equal(t, "paid", invoice.Status)
	require.NotNil(t, invoice.PaidAt)

	var reloaded models.Subscription
	require.NoError(t, conn.First(&reloaded, sub.ID).Error)
	require.Equal(t, models.SubscriptionStatusActive, reloaded.Status)
	require.Zero(t, reloaded.AIResponsesUsed)
	require.Equal(t, periodStart, reloaded.PeriodStart.UTC())
	require.Equal(t, periodEnd, reloaded.PeriodEnd.UTC())

	// Stripe retries deliveries; the invoice row stays unique.
	require.NoError(t, service.ProcessEvent(context.Background(), event))
	var count int64
	require.NoError(t, conn.Model(&models.Invoice{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestPaymentFailedMarksPastDue(t *testing.T) {
	service, conn := newTestService(t)
	sub := seedSubscription(t, conn)

	event := invoiceEvent(t, "invoice.payment_failed", map[string]any{
		"id":           "in_2",
		"amount_due":   2900,
		"subscription": map[string]any{"id": "sub_1"},
		"customer":     map[string]any{"id": "cus_1"},
	})
	require.NoError(t, service.ProcessEvent(context.Background(), event))

	var reloaded models.Subscription
	require.NoError(t, conn.First(&reloaded, sub.ID).Error)
	require.Equal(t, models.SubscriptionStatusPastDue, reloaded.Status)
	// The failed payment must not reset the consumed budget.
	require.Equal(t, 321, reloaded.AIResponsesUsed)

	var invoice models.Invoice
	require.NoError(t, conn.Where("stripe_invoice_id = ?", "in_2").Take(&invoice).Error)
	require.Equal(t, "open", invoice.Status)
	require.Nil(t, invoice.PaidAt)
}

func TestInvoiceForUnknownSubscriptionIsAcknowledged(t *testing.T) {
	service, _ := newTestService(t)

	event := invoiceEvent(t, "invoice.payment_succeeded", map[string]any{
		"id":           "in_3",
		"amount_paid":  1000,
		"subscription": map[string]any{"id": "sub_missing"},
		"customer":     map[string]any{"id": "cus_missing"},
	})
	require.NoError(t, service.ProcessEvent(context.Background(), event))
}

func TestSubscriptionDeleted(t *testing.T) {
	service, conn := newTestService(t)
	sub := seedSubscription(t, conn)

	event := invoiceEvent(t, "customer.subscription.deleted", map[string]any{"id": "sub_1"})
	require.NoError(t, service.ProcessEvent(context.Background(), event))

	var reloaded models.Subscription
	require.NoError(t, conn.First(&reloaded, sub.ID).Error)
	require.Equal(t, models.SubscriptionStatusCanceled, reloaded.Status)
	require.NotNil(t, reloaded.CanceledAt)
}

func TestSubscriptionUpdatedSyncsPeriod(t *testing.T) {
	service, conn := newTestService(t)
	sub := seedSubscription(t, conn)

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	event := invoiceEvent(t, "customer.subscription.updated", map[string]any{
		"id":                   "sub_1",
		"status":               "past_due",
		"current_period_start": start.Unix(),
		"current_period_end":   end.Unix(),
	})
	require.NoError(t, service.ProcessEvent(context.Background(), event))

	var reloaded models.Subscription
	require.NoError(t, conn.First(&reloaded, sub.ID).Error)
	require.Equal(t, models.SubscriptionStatusPastDue, reloaded.Status)
	require.Equal(t, start, reloaded.PeriodStart.UTC())
	require.Equal(t, end, reloaded.PeriodEnd.UTC())
}

func TestIgnoredEventTypes(t *testing.T) {
	service, _ := newTestService(t)
	event := invoiceEvent(t, "charge.refunded", map[string]any{"id": "ch_1"})
	require.NoError(t, service.ProcessEvent(context.Background(), event))
}

func TestActiveSubscriptionAndPlans(t *testing.T) {
	service, conn := newTestService(t)
	sub := seedSubscription(t, conn)

	loaded, err := service.ActiveSubscription(context.Background(), sub.UserID)
	require.NoError(t, err)
	require.Equal(t, sub.ID, loaded.ID)
	require.Equal(t, "Pro", loaded.Plan.Name)

	_, err = service.ActiveSubscription(context.Background(), sub.UserID+99)
	require.ErrorIs(t, err, ErrNoSubscription)

	plans, err := service.Plans(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 1)

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.Create(&models.Invoice{
			SubscriptionID:  sub.ID,
			StripeInvoiceID: fmt.Sprintf("in_list_%d", i),
			Amount:          29,
			Status:          "paid",
		}).Error)
	}
	invoices, err := service.Invoices(context.Background(), sub.UserID)
	require.NoError(t, err)
	require.Len(t, invoices, 3)
	require.Equal(t, "in_list_2", invoices[0].StripeInvoiceID)
}
