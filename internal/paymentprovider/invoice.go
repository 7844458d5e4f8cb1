package paymentprovider

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice счёт провайдера в том объёме, который нужен для сверки.
type Invoice struct {
	ID              string
	CustomerRef     string
	SubscriptionRef string
	Metadata        map[string]string
	BillingReason   string
	AttemptCount    int
	AmountPaid      decimal.Decimal
	DiscountAmount  decimal.Decimal
	PeriodStart     time.Time
	PeriodEnd       time.Time
	PromotionCode   string
	ReceiptURL      string
}

// IsRenewal сообщает, выставлен ли счёт за очередной период подписки.
func (i *Invoice) IsRenewal() bool {
	return i.BillingReason == "subscription_cycle"
}

// FailedChargeRef ключ идемпотентности неудачной попытки оплаты. Провайдер
// повторяет оплату того же счёта, поэтому номер счёта остаётся за успешным платежом.
func (i *Invoice) FailedChargeRef() string {
	return i.ID + ":failed:" + strconv.Itoa(i.AttemptCount)
}

// GrossAmount сумма до скидки.
func (i *Invoice) GrossAmount() decimal.Decimal {
	return i.AmountPaid.Add(i.DiscountAmount)
}

type invoicePayload struct {
	ID               string  `json:"id"`
	Customer         string  `json:"customer"`
	Subscription     string  `json:"subscription"`
	BillingReason    string  `json:"billing_reason"`
	AttemptCount     int     `json:"attempt_count"`
	AmountPaid       int64   `json:"amount_paid"`
	HostedInvoiceURL string  `json:"hosted_invoice_url"`
	PeriodStart      int64   `json:"period_start"`
	PeriodEnd        int64   `json:"period_end"`
	Parent           *parent `json:"parent"`
	Discount         *struct {
		PromotionCode string `json:"promotion_code"`
	} `json:"discount"`
	TotalDiscountAmounts []struct {
		Amount int64 `json:"amount"`
	} `json:"total_discount_amounts"`
	Lines struct {
		Data []invoiceLine `json:"data"`
	} `json:"lines"`
}

type parent struct {
	SubscriptionDetails *struct {
		Subscription string            `json:"subscription"`
		Metadata     map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	SubscriptionItemDetails *struct {
		Subscription string `json:"subscription"`
	} `json:"subscription_item_details"`
}

type invoiceLine struct {
	Subscription string  `json:"subscription"`
	Parent       *parent `json:"parent"`
	Period       struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	} `json:"period"`
}

// refStrategy достаёт ссылку на подписку из одного места счёта.
type refStrategy func(p *invoicePayload) string

// subscriptionRefStrategies порядок важен: новые версии API кладут ссылку в parent,
// старые в поле subscription.
var subscriptionRefStrategies = []refStrategy{
	func(p *invoicePayload) string {
		if p.Parent != nil && p.Parent.SubscriptionDetails != nil {
			return p.Parent.SubscriptionDetails.Subscription
		}
		return ""
	},
	func(p *invoicePayload) string {
		for _, l := range p.Lines.Data {
			if l.Parent != nil && l.Parent.SubscriptionItemDetails != nil && l.Parent.SubscriptionItemDetails.Subscription != "" {
				return l.Parent.SubscriptionItemDetails.Subscription
			}
		}
		return ""
	},
	func(p *invoicePayload) string {
		for _, l := range p.Lines.Data {
			if l.Subscription != "" {
				return l.Subscription
			}
		}
		return ""
	},
	func(p *invoicePayload) string {
		return p.Subscription
	},
}

func resolveSubscriptionRef(p *invoicePayload) string {
	for _, strategy := range subscriptionRefStrategies {
		if ref := strategy(p); ref != "" {
			return ref
		}
	}
	return ""
}

// ParseInvoice разбирает объект счёта из события провайдера.
// Суммы переводятся из минимальных единиц валюты в основные.
func ParseInvoice(raw json.RawMessage) (*Invoice, error) {
	const op = "paymentprovider.ParseInvoice"

	var p invoicePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%s: invoice id is empty", op)
	}

	inv := &Invoice{
		ID:              p.ID,
		CustomerRef:     p.Customer,
		SubscriptionRef: resolveSubscriptionRef(&p),
		BillingReason:   p.BillingReason,
		AttemptCount:    p.AttemptCount,
		AmountPaid:      minorToMajor(p.AmountPaid),
		DiscountAmount:  decimal.Zero,
		ReceiptURL:      p.HostedInvoiceURL,
	}
	if p.Parent != nil && p.Parent.SubscriptionDetails != nil {
		inv.Metadata = p.Parent.SubscriptionDetails.Metadata
	}
	if len(p.TotalDiscountAmounts) > 0 {
		var total int64
		for _, d := range p.TotalDiscountAmounts {
			total += d.Amount
		}
		inv.DiscountAmount = minorToMajor(total)
	}

	start, end := p.PeriodStart, p.PeriodEnd
	if len(p.Lines.Data) > 0 && p.Lines.Data[0].Period.End > 0 {
		start, end = p.Lines.Data[0].Period.Start, p.Lines.Data[0].Period.End
	}
	inv.PeriodStart = time.Unix(start, 0).UTC()
	inv.PeriodEnd = time.Unix(end, 0).UTC()

	if code := inv.Metadata[MetaPromotionCode]; code != "" {
		inv.PromotionCode = code
	} else if p.Discount != nil {
		inv.PromotionCode = p.Discount.PromotionCode
	}

	return inv, nil
}

// SubscriptionObject объект подписки из событий customer.subscription.*.
type SubscriptionObject struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Customer string            `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

// ParseSubscription разбирает объект подписки из события провайдера.
func ParseSubscription(raw json.RawMessage) (*SubscriptionObject, error) {
	const op = "paymentprovider.ParseSubscription"

	var s SubscriptionObject
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("%s: subscription id is empty", op)
	}
	return &s, nil
}

// IsTerminalStatus сообщает, что подписка у провайдера уже не будет продлена.
func IsTerminalStatus(status string) bool {
	switch status {
	case "canceled", "unpaid", "incomplete_expired":
		return true
	default:
		return false
	}
}

func minorToMajor(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
