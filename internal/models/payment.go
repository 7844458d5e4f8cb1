package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus статус платежа.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSuccess   PaymentStatus = "success"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Payment запись журнала платежей. ProviderChargeRef уникален и служит
// ключом идемпотентности при повторной доставке событий.
type Payment struct {
	ID                 string          `json:"id"`
	EmployerID         string          `json:"employer_id"`
	SubscriptionID     *string         `json:"subscription_id,omitempty"`
	ProviderChargeRef  string          `json:"provider_charge_ref"`
	GrossAmount        decimal.Decimal `json:"gross_amount"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	NetAmount          decimal.Decimal `json:"net_amount"`
	PeriodStart        time.Time       `json:"period_start"`
	PeriodEnd          time.Time       `json:"period_end"`
	Status             PaymentStatus   `json:"status"`
	IsRenewal          bool            `json:"is_renewal"`
	PromotionCode      *string         `json:"promotion_code,omitempty"`
	ProviderReceiptURL string          `json:"provider_receipt_url,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}
