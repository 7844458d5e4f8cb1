// Package cancellation применяет политику отмены подписки: полный возврат
// в пределах окна отмены, иначе отказ от продления в конце периода.
package cancellation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/employer-billing/internal/cache"
	"github.com/magabrotheeeer/employer-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/employer-billing/internal/lib/sl"
	"github.com/magabrotheeeer/employer-billing/internal/models"
	"github.com/magabrotheeeer/employer-billing/internal/storage/repository"
)

// Сообщения для работодателя.
const (
	MessageCancelledInGrace = "Cancelled within the grace period. Only the first period was charged."
	MessageCancelAtEnd      = "Subscription will cancel at the end of the current billing period."
	MessageResumed          = "Subscription will renew automatically."
)

// Policy применённая ветка политики.
type Policy string

const (
	PolicyImmediate   Policy = "immediate"
	PolicyPeriodEnd   Policy = "period_end"
	PolicyAlreadyDone Policy = "already_scheduled"
	PolicyResume      Policy = "resume"
)

// Result итог отмены или возобновления.
type Result struct {
	Policy  Policy
	Message string
}

// Store доступ к подпискам.
type Store interface {
	InTx(ctx context.Context, fn func(tx repository.Tx) error) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
}

// Provider управление подпиской у провайдера.
type Provider interface {
	CancelNow(ctx context.Context, ref string) error
	SetCancelAtPeriodEnd(ctx context.Context, ref string, cancelAtPeriodEnd bool) error
}

// Notifier публикует уведомления после фиксации.
type Notifier interface {
	Lifecycle(kind string, sub *models.Subscription)
}

// Cache кэш чтения подписок.
type Cache interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// Service сервис отмены подписок.
type Service struct {
	log      *slog.Logger
	store    Store
	provider Provider
	notifier Notifier
	cache    Cache
	now      func() time.Time
}

// New создаёт Service.
func New(log *slog.Logger, store Store, provider Provider, notifier Notifier, cache Cache) *Service {
	return &Service{
		log:      log,
		store:    store,
		provider: provider,
		notifier: notifier,
		cache:    cache,
		now:      time.Now,
	}
}

// Cancel отменяет подписку работодателя. Локальная запись меняется только
// после подтверждения провайдера.
func (s *Service) Cancel(ctx context.Context, employerID, subscriptionID string) (*Result, error) {
	const op = "cancellation.Cancel"
	log := s.log.With(sl.Op(op), slog.String("employer_id", employerID), slog.String("subscription_id", subscriptionID))

	sub, err := s.owned(ctx, employerID, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !sub.IsActive() {
		return nil, apperr.Policy("subscription is %s", sub.Status)
	}
	now := s.now()
	if sub.PastYearAnchor(now) {
		return nil, apperr.Policy("cancellation window closed on %s", sub.YearAnchorDate.Format(time.DateOnly))
	}

	if sub.WithinGrace(now) {
		if err := s.provider.CancelNow(ctx, sub.ProviderSubscriptionRef); err != nil {
			log.Error("upstream cancel failed", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		updated, err := s.apply(ctx, sub, func(cur *models.Subscription) {
			cur.Status = models.SubscriptionCancelled
			cur.AutoRenewal = false
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("subscription cancelled within grace period")
		s.afterCommit(ctx, log, models.NotifyCancelled, updated)
		return &Result{Policy: PolicyImmediate, Message: MessageCancelledInGrace}, nil
	}

	if !sub.AutoRenewal {
		log.Info("cancellation already scheduled")
		return &Result{Policy: PolicyAlreadyDone, Message: MessageCancelAtEnd}, nil
	}

	if err := s.provider.SetCancelAtPeriodEnd(ctx, sub.ProviderSubscriptionRef, true); err != nil {
		log.Error("upstream cancel at period end failed", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	updated, err := s.apply(ctx, sub, func(cur *models.Subscription) {
		cur.AutoRenewal = false
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("subscription scheduled to cancel at period end")
	s.afterCommit(ctx, log, models.NotifyCancelPlanned, updated)
	return &Result{Policy: PolicyPeriodEnd, Message: MessageCancelAtEnd}, nil
}

// Resume снимает запланированную отмену до конца годового периода.
func (s *Service) Resume(ctx context.Context, employerID, subscriptionID string) (*Result, error) {
	const op = "cancellation.Resume"
	log := s.log.With(sl.Op(op), slog.String("employer_id", employerID), slog.String("subscription_id", subscriptionID))

	sub, err := s.owned(ctx, employerID, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !sub.IsActive() {
		return nil, apperr.Policy("subscription is %s", sub.Status)
	}
	if sub.PastYearAnchor(s.now()) {
		return nil, apperr.Policy("subscription year ended on %s", sub.YearAnchorDate.Format(time.DateOnly))
	}
	if sub.AutoRenewal {
		return &Result{Policy: PolicyResume, Message: MessageResumed}, nil
	}

	if err := s.provider.SetCancelAtPeriodEnd(ctx, sub.ProviderSubscriptionRef, false); err != nil {
		log.Error("upstream resume failed", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	updated, err := s.apply(ctx, sub, func(cur *models.Subscription) {
		cur.AutoRenewal = true
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("subscription auto renewal resumed")
	s.afterCommit(ctx, log, models.NotifyResumed, updated)
	return &Result{Policy: PolicyResume, Message: MessageResumed}, nil
}

// owned возвращает подписку, если она принадлежит работодателю.
// Чужая подписка неотличима от несуществующей.
func (s *Service) owned(ctx context.Context, employerID, subscriptionID string) (*models.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.EmployerID != employerID {
		return nil, apperr.NotFound("subscription %s", subscriptionID)
	}
	return sub, nil
}

// apply перечитывает подписку под блокировкой ссылки провайдера и сохраняет изменение.
func (s *Service) apply(ctx context.Context, sub *models.Subscription, mutate func(*models.Subscription)) (*models.Subscription, error) {
	var result models.Subscription
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.LockRef(ctx, sub.ProviderSubscriptionRef); err != nil {
			return err
		}
		cur, err := tx.GetSubscription(ctx, sub.ID)
		if err != nil {
			return err
		}
		mutate(cur)
		if err := tx.UpdateSubscription(ctx, cur); err != nil {
			return err
		}
		result = *cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Service) afterCommit(ctx context.Context, log *slog.Logger, kind string, sub *models.Subscription) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, cache.SubscriptionKey(sub.ID), cache.CurrentSubscriptionKey(sub.EmployerID)); err != nil {
			log.Warn("failed to invalidate cache", sl.Err(err))
		}
	}
	if s.notifier != nil {
		s.notifier.Lifecycle(kind, sub)
	}
}
