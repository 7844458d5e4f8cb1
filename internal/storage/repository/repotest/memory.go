// Package repotest хранилище в памяти с теми же гарантиями, что и PostgreSQL:
// уникальность ссылок провайдера, одна активная подписка на работодателя и
// откат всех изменений транзакции при ошибке. Используется в тестах сервисов.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/magabrotheeeer/employer-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/employer-billing/internal/models"
	"github.com/magabrotheeeer/employer-billing/internal/storage/repository"
)

// Memory хранилище в памяти.
type Memory struct {
	mu            sync.Mutex
	employers     map[string]models.Employer
	subscriptions map[string]models.Subscription
	payments      map[string]models.Payment
	paymentOrder  []string

	// FailOn заставляет метод с таким именем вернуть ошибку.
	FailOn map[string]error
	// Locks ключи advisory-блокировок в порядке захвата.
	Locks []string
	// Commits число зафиксированных транзакций.
	Commits int
}

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		employers:     map[string]models.Employer{},
		subscriptions: map[string]models.Subscription{},
		payments:      map[string]models.Payment{},
		FailOn:        map[string]error{},
	}
}

// AddEmployer добавляет работодателя.
func (m *Memory) AddEmployer(e models.Employer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employers[e.ID] = e
}

// AddSubscription добавляет подписку в обход проверок.
func (m *Memory) AddSubscription(s models.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[s.ID] = s
}

// Employer возвращает копию работодателя.
func (m *Memory) Employer(id string) (models.Employer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.employers[id]
	return e, ok
}

// Subscriptions возвращает копии всех подписок.
func (m *Memory) Subscriptions() []models.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Subscription, 0, len(m.subscriptions))
	for _, s := range m.subscriptions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Payments возвращает копии всех платежей в порядке вставки.
func (m *Memory) Payments() []models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Payment, 0, len(m.paymentOrder))
	for _, id := range m.paymentOrder {
		out = append(out, m.payments[id])
	}
	return out
}

type snapshot struct {
	employers     map[string]models.Employer
	subscriptions map[string]models.Subscription
	payments      map[string]models.Payment
	paymentOrder  []string
}

func (m *Memory) snapshot() snapshot {
	s := snapshot{
		employers:     make(map[string]models.Employer, len(m.employers)),
		subscriptions: make(map[string]models.Subscription, len(m.subscriptions)),
		payments:      make(map[string]models.Payment, len(m.payments)),
		paymentOrder:  append([]string(nil), m.paymentOrder...),
	}
	for k, v := range m.employers {
		s.employers[k] = v
	}
	for k, v := range m.subscriptions {
		s.subscriptions[k] = v
	}
	for k, v := range m.payments {
		s.payments[k] = v
	}
	return s
}

func (m *Memory) restore(s snapshot) {
	m.employers = s.employers
	m.subscriptions = s.subscriptions
	m.payments = s.payments
	m.paymentOrder = s.paymentOrder
}

// InTx выполняет fn атомарно. Транзакции сериализуются целиком.
func (m *Memory) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.FailOn["InTx"]; err != nil {
		return err
	}

	snap := m.snapshot()
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	m.Commits++
	return nil
}

func (m *Memory) locked() (*memTx, func()) {
	m.mu.Lock()
	return &memTx{m: m}, m.mu.Unlock
}

// Методы вне транзакции.

func (m *Memory) LockRef(ctx context.Context, key string) error {
	tx, unlock := m.locked()
	defer unlock()
	return tx.LockRef(ctx, key)
}

func (m *Memory) GetEmployer(ctx context.Context, id string) (*models.Employer, error) {
	tx, unlock := m.locked()
	defer unlock()
	return tx.GetEmployer(ctx, id)
}

func (m *Memory) GetEmployerByCustomerRef(ctx context.Context, ref string) (*models.Employer, error) {
	tx, unlock := m.locked()
	defer unlock()
	return tx.GetEmployerByCustomerRef(ctx, ref)
}

func (m *Memory) SetProviderCustomerRef(ctx context.Context, employerID, ref string) (string, error) {
	tx, unlock := m.locked()
	defer unlock()
	return tx.SetProviderCustomerRef(ctx, employerID, ref)
}

func (m *Memory) SetCurrentSubscription(ctx context.Context, employerID, subscriptionID string) error {
	tx, unlock := m.locked()
	defer unlock()
	return tx.SetCurrentSubscription(ctx, employerID, subscriptionID)
}

func (m *Memory) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	tx, unlock := m.locked()
	defer unlock()
	return tx.GetSubscription(ctx, id)
}

func (m *Memory) GetSubscriptionByProviderRef(ctx context.Context, ref string) (*models.Subscription, error) {
	tx, unlock := m.locked()
	defer unlock()
	return tx.GetSubscriptionByProviderRef(ctx, ref)
}

func (m *Memory) GetActiveSubscriptionByEmployer(ctx context.Context, employerID string) (*models.Subscription, error) {
	tx, unlock := m.locked()
	defer unlock()
	return tx.GetActiveSubscriptionByEmployer(ctx, employerID)
}

func (m *Memory) GetLatestSubscriptionByEmployer(ctx context.Context, employerID string) (*models.Subscription, error) {
	tx, unlock := m.locked()
	defer unlock()
	return tx.GetLatestSubscriptionByEmployer(ctx, employerID)
}

func (m *Memory) CreateSubscription(ctx context.Context, s *models.Subscription) error {
	tx, unlock := m.locked()
	defer unlock()
	return tx.CreateSubscription(ctx, s)
}

func (m *Memory) UpdateSubscription(ctx context.Context, s *models.Subscription) error {
	tx, unlock := m.locked()
	defer unlock()
	return tx.UpdateSubscription(ctx, s)
}

func (m *Memory) InsertPayment(ctx context.Context, p *models.Payment) (bool, error) {
	tx, unlock := m.locked()
	defer unlock()
	return tx.InsertPayment(ctx, p)
}

func (m *Memory) AttachPayment(ctx context.Context, paymentID, subscriptionID string) error {
	tx, unlock := m.locked()
	defer unlock()
	return tx.AttachPayment(ctx, paymentID, subscriptionID)
}

func (m *Memory) ListPayments(ctx context.Context, employerID string, limit, offset int) ([]*models.Payment, error) {
	tx, unlock := m.locked()
	defer unlock()
	return tx.ListPayments(ctx, employerID, limit, offset)
}

var (
	_ repository.Tx = (*Memory)(nil)
	_ repository.Tx = (*memTx)(nil)
)

func notFound(op string) error {
	return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
}
