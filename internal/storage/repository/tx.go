package repository

import (
	"context"

	"github.com/magabrotheeeer/employer-billing/internal/models"
)

// Tx набор операций, доступных внутри единицы работы InTx.
// Его же реализует Storage для запросов вне транзакции.
type Tx interface {
	LockRef(ctx context.Context, key string) error

	GetEmployer(ctx context.Context, id string) (*models.Employer, error)
	GetEmployerByCustomerRef(ctx context.Context, customerRef string) (*models.Employer, error)
	SetProviderCustomerRef(ctx context.Context, employerID, customerRef string) (string, error)
	SetCurrentSubscription(ctx context.Context, employerID, subscriptionID string) error

	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	GetSubscriptionByProviderRef(ctx context.Context, ref string) (*models.Subscription, error)
	GetActiveSubscriptionByEmployer(ctx context.Context, employerID string) (*models.Subscription, error)
	GetLatestSubscriptionByEmployer(ctx context.Context, employerID string) (*models.Subscription, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error

	InsertPayment(ctx context.Context, p *models.Payment) (bool, error)
	AttachPayment(ctx context.Context, paymentID, subscriptionID string) error
	ListPayments(ctx context.Context, employerID string, limit, offset int) ([]*models.Payment, error)
}

var _ Tx = (*queries)(nil)
