// Package checkout запускает оформление подписки: готовит покупателя у
// провайдера и создаёт сессию оплаты выбранного тарифа.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/employer-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/employer-billing/internal/lib/sl"
	"github.com/magabrotheeeer/employer-billing/internal/models"
	"github.com/magabrotheeeer/employer-billing/internal/paymentprovider"
)

// Store доступ к работодателям и подпискам.
type Store interface {
	GetEmployer(ctx context.Context, id string) (*models.Employer, error)
	GetActiveSubscriptionByEmployer(ctx context.Context, employerID string) (*models.Subscription, error)
	SetProviderCustomerRef(ctx context.Context, employerID, ref string) (string, error)
}

// Provider операции провайдера, нужные для оформления.
type Provider interface {
	PriceID(tier models.PlanTier) (string, bool)
	CreateCustomer(ctx context.Context, employerID, email string) (string, error)
	DeleteCustomer(ctx context.Context, customerRef string) error
	CreateCheckoutSession(ctx context.Context, p paymentprovider.CheckoutParams) (string, error)
}

// Service сервис оформления подписки.
type Service struct {
	log      *slog.Logger
	store    Store
	provider Provider
}

// New создаёт Service.
func New(log *slog.Logger, store Store, provider Provider) *Service {
	return &Service{log: log, store: store, provider: provider}
}

// StartCheckout возвращает URL страницы оплаты тарифа planTier.
func (s *Service) StartCheckout(ctx context.Context, employerID, planTier, promotionCode string) (string, error) {
	const op = "checkout.StartCheckout"
	log := s.log.With(sl.Op(op), slog.String("employer_id", employerID), slog.String("plan_tier", planTier))

	tier, ok := models.ParsePlanTier(planTier)
	if !ok {
		return "", apperr.Validation("unknown plan tier %q", planTier)
	}
	if _, ok := s.provider.PriceID(tier); !ok {
		return "", apperr.Validation("plan tier %s is not available", tier)
	}

	employer, err := s.store.GetEmployer(ctx, employerID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	active, err := s.store.GetActiveSubscriptionByEmployer(ctx, employerID)
	switch {
	case err == nil:
		log.Info("checkout refused, active subscription exists", slog.String("subscription_id", active.ID))
		return "", fmt.Errorf("%s: %w", op, apperr.ErrActiveSubscription)
	case !errors.Is(err, apperr.ErrNotFound):
		return "", fmt.Errorf("%s: %w", op, err)
	}

	customerRef, err := s.ensureCustomer(ctx, log, employer)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	url, err := s.provider.CreateCheckoutSession(ctx, paymentprovider.CheckoutParams{
		EmployerID:    employerID,
		CustomerRef:   customerRef,
		PlanTier:      tier,
		PromotionCode: promotionCode,
	})
	if err != nil {
		log.Error("failed to create checkout session", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("checkout session created")
	return url, nil
}

// ensureCustomer возвращает ссылку на покупателя, создавая его при первом оформлении.
// Проигравший гонку запрос удаляет своего покупателя и берёт сохранённую ссылку.
func (s *Service) ensureCustomer(ctx context.Context, log *slog.Logger, employer *models.Employer) (string, error) {
	if employer.ProviderCustomerRef != nil && *employer.ProviderCustomerRef != "" {
		return *employer.ProviderCustomerRef, nil
	}

	created, err := s.provider.CreateCustomer(ctx, employer.ID, employer.Email)
	if err != nil {
		return "", err
	}

	stored, err := s.store.SetProviderCustomerRef(ctx, employer.ID, created)
	if err != nil {
		s.dropCustomer(ctx, log, created)
		return "", err
	}
	if stored != created {
		log.Info("provider customer already stored by concurrent request", slog.String("customer_ref", stored))
		s.dropCustomer(ctx, log, created)
	}
	return stored, nil
}

func (s *Service) dropCustomer(ctx context.Context, log *slog.Logger, ref string) {
	if err := s.provider.DeleteCustomer(context.WithoutCancel(ctx), ref); err != nil {
		log.Warn("failed to delete orphan provider customer", slog.String("customer_ref", ref), sl.Err(err))
	}
}
