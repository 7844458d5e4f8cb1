// Package paymentprovider оборачивает клиент Stripe: создание покупателей и
// сессий оплаты, управление подпиской и проверку подписи вебхуков.
package paymentprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/magabrotheeeer/employer-billing/internal/config"
	"github.com/magabrotheeeer/employer-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/employer-billing/internal/models"
)

// Ключи метаданных, которые проходят через сессию оплаты и подписку провайдера.
const (
	MetaEmployerID    = "employer_id"
	MetaPlanTier      = "plan_tier"
	MetaPromotionCode = "promotion_code"
)

// ErrInvalidSignature возвращается, если подпись вебхука не прошла проверку.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ErrPriceNotConfigured возвращается для тарифа без цены у провайдера.
var ErrPriceNotConfigured = errors.New("price is not configured for plan tier")

// Client клиент Stripe, создаётся один раз при старте приложения.
type Client struct {
	sc            *stripe.Client
	webhookSecret string
	prices        map[models.PlanTier]string
	successURL    string
	cancelURL     string
	timeout       time.Duration
}

// CheckoutParams параметры сессии оплаты подписки.
type CheckoutParams struct {
	EmployerID    string
	CustomerRef   string
	PlanTier      models.PlanTier
	PromotionCode string
}

// SubscriptionInfo сведения о подписке у провайдера.
type SubscriptionInfo struct {
	ID                string
	CustomerRef       string
	Status            string
	Metadata          map[string]string
	PriceID           string
	PriceNickname     string
	CancelAtPeriodEnd bool
}

// New создаёт клиент по настройкам провайдера.
func New(cfg config.Stripe) *Client {
	return newClient(cfg, stripe.NewClient(cfg.SecretKey, nil))
}

func newClient(cfg config.Stripe, sc *stripe.Client) *Client {
	prices := make(map[models.PlanTier]string, 3)
	for tier, id := range cfg.PriceIDs() {
		prices[models.PlanTier(tier)] = id
	}
	return &Client{
		sc:            sc,
		webhookSecret: cfg.WebhookSecret,
		prices:        prices,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		timeout:       cfg.RequestTimeout,
	}
}

// PriceID возвращает идентификатор цены для тарифа.
func (c *Client) PriceID(tier models.PlanTier) (string, bool) {
	id, ok := c.prices[tier]
	return id, ok
}

// PlanTierForPrice возвращает тариф по идентификатору цены.
func (c *Client) PlanTierForPrice(priceID string) (models.PlanTier, bool) {
	for tier, id := range c.prices {
		if id == priceID {
			return tier, true
		}
	}
	return "", false
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// CreateCustomer создаёт покупателя у провайдера. Ключ идемпотентности
// уникален для каждой попытки: покупатель, удалённый после неудачного
// сохранения, не вернётся из кеша идемпотентности при следующем оформлении.
func (c *Client) CreateCustomer(ctx context.Context, employerID, email string) (string, error) {
	const op = "paymentprovider.CreateCustomer"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.CustomerCreateParams{
		Email:    stripe.String(email),
		Metadata: map[string]string{MetaEmployerID: employerID},
	}
	params.SetIdempotencyKey(customerIdempotencyKey(employerID))

	cus, err := c.sc.V1Customers.Create(ctx, params)
	if err != nil {
		return "", apperr.Upstream(op, err)
	}
	return cus.ID, nil
}

func customerIdempotencyKey(employerID string) string {
	return "customer-" + employerID + "-" + uuid.NewString()
}

// DeleteCustomer удаляет покупателя у провайдера.
func (c *Client) DeleteCustomer(ctx context.Context, customerRef string) error {
	const op = "paymentprovider.DeleteCustomer"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.sc.V1Customers.Delete(ctx, customerRef, nil); err != nil {
		return apperr.Upstream(op, err)
	}
	return nil
}

// CreateCheckoutSession создаёт сессию оплаты в режиме подписки и возвращает её URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error) {
	const op = "paymentprovider.CreateCheckoutSession"

	priceID, ok := c.prices[p.PlanTier]
	if !ok {
		return "", fmt.Errorf("%s: %w: %s", op, ErrPriceNotConfigured, p.PlanTier)
	}

	metadata := map[string]string{
		MetaEmployerID: p.EmployerID,
		MetaPlanTier:   string(p.PlanTier),
	}
	if p.PromotionCode != "" {
		metadata[MetaPromotionCode] = p.PromotionCode
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(p.CustomerRef),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
		Metadata:   metadata,
		SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	if p.PromotionCode != "" {
		params.Discounts = []*stripe.CheckoutSessionCreateDiscountParams{
			{PromotionCode: stripe.String(p.PromotionCode)},
		}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	session, err := c.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return "", apperr.Upstream(op, err)
	}
	if session.URL == "" {
		return "", apperr.Upstream(op, errors.New("checkout session has no url"))
	}
	return session.URL, nil
}

// GetSubscription запрашивает подписку у провайдера.
func (c *Client) GetSubscription(ctx context.Context, ref string) (*SubscriptionInfo, error) {
	const op = "paymentprovider.GetSubscription"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	sub, err := c.sc.V1Subscriptions.Retrieve(ctx, ref, nil)
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}
	return subscriptionInfo(sub), nil
}

// CancelNow немедленно отменяет подписку у провайдера.
func (c *Client) CancelNow(ctx context.Context, ref string) error {
	const op = "paymentprovider.CancelNow"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.sc.V1Subscriptions.Cancel(ctx, ref, &stripe.SubscriptionCancelParams{}); err != nil {
		return apperr.Upstream(op, err)
	}
	return nil
}

// SetCancelAtPeriodEnd включает или выключает отмену подписки в конце периода.
func (c *Client) SetCancelAtPeriodEnd(ctx context.Context, ref string, cancelAtPeriodEnd bool) error {
	const op = "paymentprovider.SetCancelAtPeriodEnd"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(cancelAtPeriodEnd),
	}
	if _, err := c.sc.V1Subscriptions.Update(ctx, ref, params); err != nil {
		return apperr.Upstream(op, err)
	}
	return nil
}

// VerifyEvent проверяет подпись вебхука и возвращает событие.
func (c *Client) VerifyEvent(payload []byte, signature string) (*models.ProviderEvent, error) {
	return VerifyEvent(payload, signature, c.webhookSecret)
}

// VerifyEvent проверяет подпись заголовка Stripe-Signature секретом вебхука.
// Несовпадение версии API не считается ошибкой.
func VerifyEvent(payload []byte, signature, secret string) (*models.ProviderEvent, error) {
	const op = "paymentprovider.VerifyEvent"

	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidSignature, err)
	}

	var object json.RawMessage
	if event.Data != nil {
		object = event.Data.Raw
	}
	return &models.ProviderEvent{
		ID:     event.ID,
		Type:   string(event.Type),
		Object: object,
	}, nil
}

func subscriptionInfo(sub *stripe.Subscription) *SubscriptionInfo {
	info := &SubscriptionInfo{
		ID:                sub.ID,
		Status:            string(sub.Status),
		Metadata:          sub.Metadata,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		info.CustomerRef = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		info.PriceID = sub.Items.Data[0].Price.ID
		info.PriceNickname = sub.Items.Data[0].Price.Nickname
	}
	return info
}
