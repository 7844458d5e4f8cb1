// Package services содержит чтение подписок и платежей работодателя с кешированием.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/employer-billing/internal/cache"
	"github.com/magabrotheeeer/employer-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/employer-billing/internal/lib/sl"
	"github.com/magabrotheeeer/employer-billing/internal/models"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// SubscriptionRepository определяет методы чтения подписок и платежей.
type SubscriptionRepository interface {
	// GetSubscription возвращает подписку по ID.
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	// GetLatestSubscriptionByEmployer возвращает активную или последнюю подписку работодателя.
	GetLatestSubscriptionByEmployer(ctx context.Context, employerID string) (*models.Subscription, error)
	// ListPayments возвращает платежи работодателя, новые первыми.
	ListPayments(ctx context.Context, employerID string, limit, offset int) ([]*models.Payment, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	// Get пытается получить значение из кеша по ключу.
	Get(ctx context.Context, key string, result any) (bool, error)
	// Set сохраняет значение в кеш с временем жизни.
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// SubscriptionService отдаёт подписки работодателя через кеш.
type SubscriptionService struct {
	repo  SubscriptionRepository
	cache Cache
	ttl   time.Duration
	log   *slog.Logger
}

// NewSubscriptionService создает новый экземпляр SubscriptionService.
func NewSubscriptionService(repo SubscriptionRepository, cache Cache, ttl time.Duration, log *slog.Logger) *SubscriptionService {
	return &SubscriptionService{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
		log:   log,
	}
}

// Read возвращает подписку по ID. Чужая подписка считается ненайденной.
func (s *SubscriptionService) Read(ctx context.Context, employerID, id string) (*models.Subscription, error) {
	const op = "services.Read"

	sub, err := s.readThrough(ctx, cache.SubscriptionKey(id), func() (*models.Subscription, error) {
		return s.repo.GetSubscription(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sub.EmployerID != employerID {
		return nil, apperr.NotFound("subscription %s", id)
	}
	return sub, nil
}

// Current возвращает действующую подписку работодателя, а если её нет, последнюю.
func (s *SubscriptionService) Current(ctx context.Context, employerID string) (*models.Subscription, error) {
	const op = "services.Current"

	sub, err := s.readThrough(ctx, cache.CurrentSubscriptionKey(employerID), func() (*models.Subscription, error) {
		return s.repo.GetLatestSubscriptionByEmployer(ctx, employerID)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// ListPayments возвращает журнал платежей работодателя с пагинацией.
func (s *SubscriptionService) ListPayments(ctx context.Context, employerID string, limit, offset int) ([]*models.Payment, error) {
	const op = "services.ListPayments"

	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		return nil, apperr.Validation("offset must not be negative")
	}

	payments, err := s.repo.ListPayments(ctx, employerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return payments, nil
}

// readThrough читает из кеша, при промахе из репозитория. Ошибки кеша не
// мешают чтению из базы.
func (s *SubscriptionService) readThrough(ctx context.Context, key string, load func() (*models.Subscription, error)) (*models.Subscription, error) {
	var cached models.Subscription
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.log.Warn("failed to read from cache", slog.String("key", key), sl.Err(err))
	}
	if found {
		return &cached, nil
	}

	sub, err := load()
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, sub, s.ttl); err != nil {
		s.log.Warn("failed to add to cache", slog.String("key", key), sl.Err(err))
	}
	return sub, nil
}
