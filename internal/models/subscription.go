// Package models содержит доменные структуры подписки работодателя,
// платежа, работодателя и событий провайдера.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus статус подписки.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription подписка работодателя. Одновременно у работодателя
// может быть не более одной подписки со статусом active.
type Subscription struct {
	ID                       string             `json:"id"`
	EmployerID               string             `json:"employer_id"`
	PlanTier                 PlanTier           `json:"plan_tier"`
	Status                   SubscriptionStatus `json:"status"`
	AutoRenewal              bool               `json:"auto_renewal"`
	ProviderSubscriptionRef  string             `json:"provider_subscription_ref"`
	CurrentPeriodStart       time.Time          `json:"current_period_start"`
	CurrentPeriodEnd         time.Time          `json:"current_period_end"`
	YearAnchorDate           time.Time          `json:"year_anchor_date"`      // дата покупки + 1 год
	CancelGraceDeadline      time.Time          `json:"cancel_grace_deadline"` // до этого момента отмена немедленная
	RenewalCount             int                `json:"renewal_count"`
	LastPaymentAmount        decimal.Decimal    `json:"last_payment_amount"`
	LastPaymentRef           *string            `json:"last_payment_ref,omitempty"`
	LastPaymentAttemptFailed bool               `json:"last_payment_attempt_failed"`
	AppliedPromotionCode     *string            `json:"applied_promotion_code,omitempty"`
	CreatedAt                time.Time          `json:"created_at"`
	UpdatedAt                time.Time          `json:"updated_at"`
}

// IsActive сообщает, активна ли подписка.
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionActive
}

// WithinGrace сообщает, находится ли момент now внутри льготного окна отмены.
func (s *Subscription) WithinGrace(now time.Time) bool {
	return !now.After(s.CancelGraceDeadline)
}

// PastYearAnchor сообщает, прошла ли годовая граница подписки.
func (s *Subscription) PastYearAnchor(now time.Time) bool {
	return now.After(s.YearAnchorDate)
}
