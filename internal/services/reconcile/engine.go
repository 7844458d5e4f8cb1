// Package reconcile сверяет события провайдера с локальными подписками и
// журналом платежей. Каждое событие применяется одной транзакцией, ключ
// идемпотентности это ссылка на платёж у провайдера.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/employer-billing/internal/cache"
	"github.com/magabrotheeeer/employer-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/employer-billing/internal/lib/sl"
	"github.com/magabrotheeeer/employer-billing/internal/models"
	"github.com/magabrotheeeer/employer-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/employer-billing/internal/storage/repository"
)

// Outcome результат применения события.
type Outcome string

const (
	OutcomeActivated     Outcome = "activated"
	OutcomeRenewed       Outcome = "renewed"
	OutcomePaymentFailed Outcome = "payment_failed"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeIgnored       Outcome = "ignored"
)

// Store единица работы над хранилищем.
type Store interface {
	InTx(ctx context.Context, fn func(tx repository.Tx) error) error
	GetSubscriptionByProviderRef(ctx context.Context, ref string) (*models.Subscription, error)
}

// Provider запросы к платёжному провайдеру.
type Provider interface {
	GetSubscription(ctx context.Context, ref string) (*paymentprovider.SubscriptionInfo, error)
	PlanTierForPrice(priceID string) (models.PlanTier, bool)
}

// Notifier публикует уведомления после фиксации.
type Notifier interface {
	Lifecycle(kind string, sub *models.Subscription)
}

// Cache кэш чтения подписок.
type Cache interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// Engine машина состояний подписки.
type Engine struct {
	log         *slog.Logger
	store       Store
	provider    Provider
	notifier    Notifier
	cache       Cache
	graceWindow time.Duration
	now         func() time.Time
}

// New создаёт Engine.
func New(log *slog.Logger, store Store, provider Provider, notifier Notifier, cache Cache, graceWindow time.Duration) *Engine {
	return &Engine{
		log:         log,
		store:       store,
		provider:    provider,
		notifier:    notifier,
		cache:       cache,
		graceWindow: graceWindow,
		now:         time.Now,
	}
}

// Handle применяет событие провайдера. Неизвестные виды событий пропускаются.
func (e *Engine) Handle(ctx context.Context, event models.ProviderEvent) (Outcome, error) {
	log := e.log.With(
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
	)

	switch event.Type {
	case models.EventChargeSucceeded:
		return e.chargeSucceeded(ctx, log, event)
	case models.EventChargeFailed:
		return e.chargeFailed(ctx, log, event)
	case models.EventSubscriptionDeleted:
		return e.subscriptionDeleted(ctx, log, event)
	default:
		log.Info("unhandled event type, dropping")
		return OutcomeIgnored, nil
	}
}

func (e *Engine) chargeSucceeded(ctx context.Context, log *slog.Logger, event models.ProviderEvent) (Outcome, error) {
	const op = "reconcile.chargeSucceeded"
	log = log.With(sl.Op(op))

	inv, err := paymentprovider.ParseInvoice(event.Object)
	if err != nil {
		log.Error("malformed invoice, dropping", sl.Err(err))
		return OutcomeIgnored, nil
	}
	ref := inv.SubscriptionRef
	if ref == "" {
		log.Warn("invoice has no subscription reference, dropping", slog.String("invoice_id", inv.ID))
		return OutcomeIgnored, nil
	}
	log = log.With(slog.String("invoice_id", inv.ID), slog.String("provider_subscription_ref", ref))

	// Тариф нужен только новой подписке, запрос к провайдеру делается вне транзакции.
	var tier models.PlanTier
	existing, err := e.store.GetSubscriptionByProviderRef(ctx, ref)
	switch {
	case err == nil:
		tier = existing.PlanTier
	case errors.Is(err, apperr.ErrNotFound):
		tier, err = resolvePlanTier(ctx, &tierSource{invoice: inv, provider: e.provider, ref: ref})
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
	default:
		return "", fmt.Errorf("%s: %w", op, err)
	}

	now := e.now().UTC()
	outcome := OutcomeDuplicate
	var result models.Subscription

	err = e.store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.LockRef(ctx, ref); err != nil {
			return err
		}

		employer, err := findEmployer(ctx, tx, inv)
		if err != nil {
			return fmt.Errorf("employer for customer %q: %w", inv.CustomerRef, err)
		}

		payment := &models.Payment{
			ID:                 uuid.NewString(),
			EmployerID:         employer.ID,
			ProviderChargeRef:  inv.ID,
			GrossAmount:        inv.GrossAmount(),
			DiscountAmount:     inv.DiscountAmount,
			NetAmount:          inv.AmountPaid,
			PeriodStart:        inv.PeriodStart,
			PeriodEnd:          inv.PeriodEnd,
			Status:             models.PaymentSuccess,
			IsRenewal:          inv.IsRenewal(),
			PromotionCode:      optional(inv.PromotionCode),
			ProviderReceiptURL: inv.ReceiptURL,
		}
		inserted, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		sub, err := tx.GetSubscriptionByProviderRef(ctx, ref)
		switch {
		case err == nil:
			renew(sub, inv)
			if err := tx.UpdateSubscription(ctx, sub); err != nil {
				return err
			}
			outcome = OutcomeRenewed
		case errors.Is(err, apperr.ErrNotFound):
			if tier == "" {
				return apperr.Validation("plan tier for subscription %s is unresolved", ref)
			}
			sub = e.activate(employer.ID, ref, tier, inv, now)
			if err := tx.CreateSubscription(ctx, sub); err != nil {
				return err
			}
			if err := tx.SetCurrentSubscription(ctx, employer.ID, sub.ID); err != nil {
				return err
			}
			outcome = OutcomeActivated
		default:
			return err
		}

		if err := tx.AttachPayment(ctx, payment.ID, sub.ID); err != nil {
			return err
		}
		result = *sub
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	switch outcome {
	case OutcomeDuplicate:
		log.Info("charge already recorded, skipping")
	case OutcomeActivated:
		log.Info("subscription activated", slog.String("subscription_id", result.ID), slog.String("plan_tier", string(result.PlanTier)))
		e.afterCommit(ctx, log, models.NotifyActivated, &result)
	case OutcomeRenewed:
		log.Info("subscription renewed", slog.String("subscription_id", result.ID), slog.Int("renewal_count", result.RenewalCount))
		e.afterCommit(ctx, log, models.NotifyRenewed, &result)
	}
	return outcome, nil
}

func (e *Engine) activate(employerID, ref string, tier models.PlanTier, inv *paymentprovider.Invoice, now time.Time) *models.Subscription {
	return &models.Subscription{
		ID:                      uuid.NewString(),
		EmployerID:              employerID,
		PlanTier:                tier,
		Status:                  models.SubscriptionActive,
		AutoRenewal:             true,
		ProviderSubscriptionRef: ref,
		CurrentPeriodStart:      inv.PeriodStart,
		CurrentPeriodEnd:        inv.PeriodEnd,
		YearAnchorDate:          now.AddDate(1, 0, 0),
		CancelGraceDeadline:     now.Add(e.graceWindow),
		LastPaymentAmount:       inv.AmountPaid,
		LastPaymentRef:          optional(inv.ID),
		AppliedPromotionCode:    optional(inv.PromotionCode),
	}
}

// renew продвигает период подписки. Конец периода назад не двигается.
func renew(sub *models.Subscription, inv *paymentprovider.Invoice) {
	if inv.PeriodEnd.After(sub.CurrentPeriodEnd) {
		sub.CurrentPeriodStart = inv.PeriodStart
		sub.CurrentPeriodEnd = inv.PeriodEnd
	}
	sub.RenewalCount++
	sub.Status = models.SubscriptionActive
	sub.LastPaymentAmount = inv.AmountPaid
	sub.LastPaymentRef = optional(inv.ID)
	sub.LastPaymentAttemptFailed = false
}

func (e *Engine) chargeFailed(ctx context.Context, log *slog.Logger, event models.ProviderEvent) (Outcome, error) {
	const op = "reconcile.chargeFailed"
	log = log.With(sl.Op(op))

	inv, err := paymentprovider.ParseInvoice(event.Object)
	if err != nil {
		log.Error("malformed invoice, dropping", sl.Err(err))
		return OutcomeIgnored, nil
	}
	ref := inv.SubscriptionRef
	if ref == "" {
		log.Warn("invoice has no subscription reference, dropping", slog.String("invoice_id", inv.ID))
		return OutcomeIgnored, nil
	}
	log = log.With(slog.String("invoice_id", inv.ID), slog.String("provider_subscription_ref", ref))

	info, err := e.provider.GetSubscription(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	terminal := paymentprovider.IsTerminalStatus(info.Status)

	outcome := OutcomeIgnored
	var result models.Subscription

	err = e.store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.LockRef(ctx, ref); err != nil {
			return err
		}

		var payment *models.Payment
		employer, err := findEmployer(ctx, tx, inv)
		switch {
		case err == nil:
			payment = &models.Payment{
				ID:                 uuid.NewString(),
				EmployerID:         employer.ID,
				ProviderChargeRef:  inv.FailedChargeRef(),
				GrossAmount:        inv.GrossAmount(),
				DiscountAmount:     inv.DiscountAmount,
				NetAmount:          inv.AmountPaid,
				PeriodStart:        inv.PeriodStart,
				PeriodEnd:          inv.PeriodEnd,
				Status:             models.PaymentFailed,
				IsRenewal:          inv.IsRenewal(),
				PromotionCode:      optional(inv.PromotionCode),
				ProviderReceiptURL: inv.ReceiptURL,
			}
			inserted, err := tx.InsertPayment(ctx, payment)
			if err != nil {
				return err
			}
			if !inserted {
				outcome = OutcomeDuplicate
				return nil
			}
		case errors.Is(err, apperr.ErrNotFound):
			log.Warn("no employer for failed charge, payment not recorded", slog.String("customer_ref", inv.CustomerRef))
		default:
			return err
		}

		sub, err := tx.GetSubscriptionByProviderRef(ctx, ref)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		sub.LastPaymentAttemptFailed = true
		if terminal && sub.IsActive() {
			sub.Status = models.SubscriptionExpired
		}
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		if payment != nil {
			if err := tx.AttachPayment(ctx, payment.ID, sub.ID); err != nil {
				return err
			}
		}
		outcome = OutcomePaymentFailed
		result = *sub
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	switch outcome {
	case OutcomeDuplicate:
		log.Info("failed charge already recorded, skipping")
	case OutcomeIgnored:
		log.Warn("failed charge for unknown subscription")
	case OutcomePaymentFailed:
		log.Info("payment failure recorded",
			slog.String("subscription_id", result.ID),
			slog.String("provider_status", info.Status),
			slog.String("status", string(result.Status)))
		e.afterCommit(ctx, log, models.NotifyPaymentFailed, &result)
	}
	return outcome, nil
}

func (e *Engine) subscriptionDeleted(ctx context.Context, log *slog.Logger, event models.ProviderEvent) (Outcome, error) {
	const op = "reconcile.subscriptionDeleted"
	log = log.With(sl.Op(op))

	obj, err := paymentprovider.ParseSubscription(event.Object)
	if err != nil {
		log.Error("malformed subscription, dropping", sl.Err(err))
		return OutcomeIgnored, nil
	}
	log = log.With(slog.String("provider_subscription_ref", obj.ID))

	outcome := OutcomeIgnored
	var result models.Subscription

	err = e.store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.LockRef(ctx, obj.ID); err != nil {
			return err
		}
		sub, err := tx.GetSubscriptionByProviderRef(ctx, obj.ID)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		sub.Status = models.SubscriptionCancelled
		sub.AutoRenewal = false
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		outcome = OutcomeCancelled
		result = *sub
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if outcome == OutcomeIgnored {
		log.Warn("deleted subscription is unknown locally")
		return outcome, nil
	}
	log.Info("subscription cancelled upstream", slog.String("subscription_id", result.ID))
	e.afterCommit(ctx, log, models.NotifyCancelled, &result)
	return outcome, nil
}

// findEmployer ищет работодателя по клиенту провайдера, затем по employer_id из метаданных.
func findEmployer(ctx context.Context, tx repository.Tx, inv *paymentprovider.Invoice) (*models.Employer, error) {
	employer, err := tx.GetEmployerByCustomerRef(ctx, inv.CustomerRef)
	if err == nil || !errors.Is(err, apperr.ErrNotFound) {
		return employer, err
	}
	id := inv.Metadata[paymentprovider.MetaEmployerID]
	if id == "" {
		return nil, err
	}
	return tx.GetEmployer(ctx, id)
}

func (e *Engine) afterCommit(ctx context.Context, log *slog.Logger, kind string, sub *models.Subscription) {
	if e.cache != nil {
		if err := e.cache.Invalidate(ctx, cache.SubscriptionKey(sub.ID), cache.CurrentSubscriptionKey(sub.EmployerID)); err != nil {
			log.Warn("failed to invalidate cache", sl.Err(err))
		}
	}
	if e.notifier != nil {
		e.notifier.Lifecycle(kind, sub)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
