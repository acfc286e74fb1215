package models

import (
	"time"

	"gorm.io/datatypes"
)

// Subscription statuses mirrored from the payment processor.
const (
	// SubscriptionStatusActive marks a paid, current subscription.
	SubscriptionStatusActive = "active"
	// SubscriptionStatusPastDue marks a subscription with a failed payment.
	SubscriptionStatusPastDue = "past_due"
	// SubscriptionStatusCanceled marks a canceled subscription.
	SubscriptionStatusCanceled = "canceled"
)

// Plan represents a subscription plan configuration.
type Plan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name          string  `gorm:"type:varchar(50);not null"`             // Plan name.
	MonthPrice    float64 `gorm:"type:decimal(10,2);not null;default:0"` // Monthly price.
	StripePriceID string  `gorm:"type:varchar(100)"`                     // Stripe price identifier.

	ProfileLimit       int `gorm:"not null;default:1"`    // Max profiles per user.
	AIResponseLimit    int `gorm:"not null;default:100"`  // Generated replies per period.
	MessageHistoryDays int `gorm:"not null;default:30"`   // Retained conversation history.

	Features datatypes.JSON `gorm:"type:jsonb;default:'[]'"` // Feature descriptions.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the plan can be subscribed.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Subscription mirrors a payment-processor subscription for one user.
// At most one active subscription exists per user.
type Subscription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`    // Subscribed user ID.
	User   User   `gorm:"foreignKey:UserID"` // Subscribed user record.

	PlanID uint64 `gorm:"not null;index"`    // Subscribed plan ID.
	Plan   Plan   `gorm:"foreignKey:PlanID"` // Subscribed plan record.

	Status string `gorm:"type:varchar(20);not null"` // active, past_due or canceled.

	StripeCustomerID     string `gorm:"type:varchar(100)"`       // Stripe customer ID.
	StripeSubscriptionID string `gorm:"type:varchar(100);index"` // Stripe subscription ID.

	PeriodStart time.Time  `gorm:"not null"` // Current billing period start.
	PeriodEnd   time.Time  `gorm:"not null"` // Current billing period end.
	TrialEnd    *time.Time // Trial end, if trialing.

	AIResponsesUsed int `gorm:"not null;default:0"` // Generated replies consumed this period.

	CanceledAt         *time.Time // Cancellation timestamp.
	CancellationReason string     `gorm:"type:text"` // Optional cancellation reason.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// LimitReached reports whether the plan's AI response budget is exhausted.
func (s *Subscription) LimitReached() bool {
	if s == nil || s.Plan.AIResponseLimit <= 0 {
		return false
	}
	return s.AIResponsesUsed >= s.Plan.AIResponseLimit
}

// Invoice mirrors a payment-processor invoice.
type Invoice struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	SubscriptionID uint64       `gorm:"not null;index"`            // Related subscription ID.
	Subscription   Subscription `gorm:"foreignKey:SubscriptionID"` // Related subscription record.

	StripeInvoiceID string  `gorm:"type:varchar(100);uniqueIndex"`         // Stripe invoice ID.
	Amount          float64 `gorm:"type:decimal(10,2);not null;default:0"` // Invoice amount.
	Status          string  `gorm:"type:varchar(20);not null"`             // paid, open or void.

	PaidAt *time.Time // Payment timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// PaymentMethod mirrors a stored payment instrument.
type PaymentMethod struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`    // Owning user ID.
	User   User   `gorm:"foreignKey:UserID"` // Owning user record.

	StripePaymentMethodID string `gorm:"type:varchar(100);not null;uniqueIndex"` // Stripe payment method ID.

	Brand    string `gorm:"type:varchar(20)"` // Card brand.
	Last4    string `gorm:"type:varchar(4)"`  // Card last four digits.
	ExpMonth int    `gorm:"not null;default:0"` // Card expiry month.
	ExpYear  int    `gorm:"not null;default:0"` // Card expiry year.

	IsDefault bool `gorm:"not null;default:false"` // Default instrument flag.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
