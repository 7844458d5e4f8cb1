package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/employer-billing/internal/migrations"
	"github.com/magabrotheeeer/employer-billing/internal/models"
)

// TestDataFactory содержит методы для создания тестовых данных
type TestDataFactory struct {
	storage *Storage
}

// NewTestDataFactory создает новую фабрику тестовых данных
func NewTestDataFactory(storage *Storage) *TestDataFactory {
	return &TestDataFactory{storage: storage}
}

// CreateEmployer создает работодателя без покупателя у провайдера
func (f *TestDataFactory) CreateEmployer(t *testing.T, email string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := f.storage.DB.Exec(`INSERT INTO employers (id, email) VALUES ($1, $2)`, id, email)
	require.NoError(t, err)
	return id
}

// NewSubscription возвращает активную подписку для вставки
func (f *TestDataFactory) NewSubscription(employerID, providerRef string) *models.Subscription {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Subscription{
		ID:                      uuid.NewString(),
		EmployerID:              employerID,
		PlanTier:                models.Tier2,
		Status:                  models.SubscriptionActive,
		AutoRenewal:             true,
		ProviderSubscriptionRef: providerRef,
		CurrentPeriodStart:      now,
		CurrentPeriodEnd:        now.AddDate(0, 1, 0),
		YearAnchorDate:          now.AddDate(1, 0, 0),
		CancelGraceDeadline:     now.Add(72 * time.Hour),
		LastPaymentAmount:       decimal.RequireFromString("49.99"),
	}
}

// NewPayment возвращает успешный платёж для вставки
func (f *TestDataFactory) NewPayment(employerID, chargeRef string) *models.Payment {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Payment{
		ID:                uuid.NewString(),
		EmployerID:        employerID,
		ProviderChargeRef: chargeRef,
		GrossAmount:       decimal.RequireFromString("50"),
		DiscountAmount:    decimal.RequireFromString("0.01"),
		NetAmount:         decimal.RequireFromString("49.99"),
		PeriodStart:       now,
		PeriodEnd:         now.AddDate(0, 1, 0),
		Status:            models.PaymentSuccess,
	}
}

// setupTestDatabase создает тестовую БД с контейнером PostgreSQL и применяет миграции
func setupTestDatabase(t *testing.T) (*Storage, func()) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "testdb",
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(nat.Port("5432/tcp")),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		).WithDeadline(3 * time.Minute),
	}

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start container")

	host, err := postgresContainer.Host(ctx)
	require.NoError(t, err)
	port, err := postgresContainer.MappedPort(ctx, "5432")
	require.NoError(t, err, "Failed to get port")

	connStr := "postgres://testuser:testpass@" + host + ":" + port.Port() + "/testdb?sslmode=disable"

	var storage *Storage
	for range 10 {
		storage, err = New(connStr)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "Failed to create storage after retries")

	migrationsPath, err := filepath.Abs("../../../migrations")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, migrationsPath), "Failed to apply migrations")
	require.NoError(t, CheckDatabaseReady(ctx, storage))

	cleanup := func() {
		_ = storage.Close()
		_ = postgresContainer.Terminate(ctx)
	}

	return storage, cleanup
}
