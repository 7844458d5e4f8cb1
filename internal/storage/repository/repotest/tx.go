package repotest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/magabrotheeeer/employer-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/employer-billing/internal/models"
)

// memTx операции над состоянием Memory. Вызывающий держит мьютекс.
type memTx struct {
	m *Memory
}

func (t *memTx) fail(op string) error {
	if err := t.m.FailOn[op]; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (t *memTx) LockRef(_ context.Context, key string) error {
	if err := t.fail("LockRef"); err != nil {
		return err
	}
	t.m.Locks = append(t.m.Locks, key)
	return nil
}

func (t *memTx) GetEmployer(_ context.Context, id string) (*models.Employer, error) {
	if err := t.fail("GetEmployer"); err != nil {
		return nil, err
	}
	e, ok := t.m.employers[id]
	if !ok {
		return nil, notFound("GetEmployer")
	}
	return &e, nil
}

func (t *memTx) GetEmployerByCustomerRef(_ context.Context, ref string) (*models.Employer, error) {
	if err := t.fail("GetEmployerByCustomerRef"); err != nil {
		return nil, err
	}
	for _, e := range t.m.employers {
		if e.ProviderCustomerRef != nil && *e.ProviderCustomerRef == ref {
			return &e, nil
		}
	}
	return nil, notFound("GetEmployerByCustomerRef")
}

func (t *memTx) SetProviderCustomerRef(_ context.Context, employerID, ref string) (string, error) {
	if err := t.fail("SetProviderCustomerRef"); err != nil {
		return "", err
	}
	e, ok := t.m.employers[employerID]
	if !ok {
		return "", notFound("SetProviderCustomerRef")
	}
	if e.ProviderCustomerRef != nil {
		return *e.ProviderCustomerRef, nil
	}
	e.ProviderCustomerRef = &ref
	t.m.employers[employerID] = e
	return ref, nil
}

func (t *memTx) SetCurrentSubscription(_ context.Context, employerID, subscriptionID string) error {
	if err := t.fail("SetCurrentSubscription"); err != nil {
		return err
	}
	e, ok := t.m.employers[employerID]
	if !ok {
		return notFound("SetCurrentSubscription")
	}
	e.CurrentSubscriptionID = &subscriptionID
	t.m.employers[employerID] = e
	return nil
}

func (t *memTx) GetSubscription(_ context.Context, id string) (*models.Subscription, error) {
	if err := t.fail("GetSubscription"); err != nil {
		return nil, err
	}
	s, ok := t.m.subscriptions[id]
	if !ok {
		return nil, notFound("GetSubscription")
	}
	return &s, nil
}

func (t *memTx) findSubscription(match func(models.Subscription) bool) (*models.Subscription, bool) {
	var found []models.Subscription
	for _, s := range t.m.subscriptions {
		if match(s) {
			found = append(found, s)
		}
	}
	if len(found) == 0 {
		return nil, false
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].IsActive() != found[j].IsActive() {
			return found[i].IsActive()
		}
		return found[i].CreatedAt.After(found[j].CreatedAt)
	})
	return &found[0], true
}

func (t *memTx) GetSubscriptionByProviderRef(_ context.Context, ref string) (*models.Subscription, error) {
	if err := t.fail("GetSubscriptionByProviderRef"); err != nil {
		return nil, err
	}
	s, ok := t.findSubscription(func(s models.Subscription) bool { return s.ProviderSubscriptionRef == ref })
	if !ok {
		return nil, notFound("GetSubscriptionByProviderRef")
	}
	return s, nil
}

func (t *memTx) GetActiveSubscriptionByEmployer(_ context.Context, employerID string) (*models.Subscription, error) {
	if err := t.fail("GetActiveSubscriptionByEmployer"); err != nil {
		return nil, err
	}
	s, ok := t.findSubscription(func(s models.Subscription) bool { return s.EmployerID == employerID && s.IsActive() })
	if !ok {
		return nil, notFound("GetActiveSubscriptionByEmployer")
	}
	return s, nil
}

func (t *memTx) GetLatestSubscriptionByEmployer(_ context.Context, employerID string) (*models.Subscription, error) {
	if err := t.fail("GetLatestSubscriptionByEmployer"); err != nil {
		return nil, err
	}
	s, ok := t.findSubscription(func(s models.Subscription) bool { return s.EmployerID == employerID })
	if !ok {
		return nil, notFound("GetLatestSubscriptionByEmployer")
	}
	return s, nil
}

func (t *memTx) checkUnique(s *models.Subscription) error {
	for id, other := range t.m.subscriptions {
		if id == s.ID {
			continue
		}
		if other.ProviderSubscriptionRef == s.ProviderSubscriptionRef {
			return fmt.Errorf("%w: subscriptions_provider_subscription_ref_key", apperr.ErrConflict)
		}
		if s.IsActive() && other.IsActive() && other.EmployerID == s.EmployerID {
			return fmt.Errorf("%w: subscriptions_one_active_per_employer", apperr.ErrConflict)
		}
	}
	return nil
}

func (t *memTx) CreateSubscription(_ context.Context, s *models.Subscription) error {
	if err := t.fail("CreateSubscription"); err != nil {
		return err
	}
	if err := t.checkUnique(s); err != nil {
		return err
	}
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	t.m.subscriptions[s.ID] = *s
	return nil
}

func (t *memTx) UpdateSubscription(_ context.Context, s *models.Subscription) error {
	if err := t.fail("UpdateSubscription"); err != nil {
		return err
	}
	old, ok := t.m.subscriptions[s.ID]
	if !ok {
		return notFound("UpdateSubscription")
	}
	if err := t.checkUnique(s); err != nil {
		return err
	}
	s.CreatedAt = old.CreatedAt
	s.UpdatedAt = time.Now()
	t.m.subscriptions[s.ID] = *s
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, p *models.Payment) (bool, error) {
	if err := t.fail("InsertPayment"); err != nil {
		return false, err
	}
	for _, existing := range t.m.payments {
		if existing.ProviderChargeRef == p.ProviderChargeRef {
			return false, nil
		}
	}
	p.CreatedAt = time.Now()
	t.m.payments[p.ID] = *p
	t.m.paymentOrder = append(t.m.paymentOrder, p.ID)
	return true, nil
}

func (t *memTx) AttachPayment(_ context.Context, paymentID, subscriptionID string) error {
	if err := t.fail("AttachPayment"); err != nil {
		return err
	}
	p, ok := t.m.payments[paymentID]
	if !ok {
		return nil
	}
	p.SubscriptionID = &subscriptionID
	t.m.payments[paymentID] = p
	return nil
}

func (t *memTx) ListPayments(_ context.Context, employerID string, limit, offset int) ([]*models.Payment, error) {
	if err := t.fail("ListPayments"); err != nil {
		return nil, err
	}
	var out []*models.Payment
	for i := len(t.m.paymentOrder) - 1; i >= 0; i-- {
		p := t.m.payments[t.m.paymentOrder[i]]
		if p.EmployerID == employerID {
			out = append(out, &p)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
