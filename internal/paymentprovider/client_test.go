package paymentprovider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/magabrotheeeer/employer-billing/internal/config"
	"github.com/magabrotheeeer/employer-billing/internal/models"
)

const testSecret = "whsec_test_secret"

func signedPayload(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func TestVerifyEvent(t *testing.T) {
	payload := []byte(`{
		"id": "evt_123",
		"object": "event",
		"type": "invoice.payment_succeeded",
		"data": {"object": {"id": "in_1", "object": "invoice"}}
	}`)

	t.Run("valid signature", func(t *testing.T) {
		event, err := VerifyEvent(payload, signedPayload(t, payload, testSecret), testSecret)
		require.NoError(t, err)
		assert.Equal(t, "evt_123", event.ID)
		assert.Equal(t, models.EventChargeSucceeded, event.Type)
		assert.JSONEq(t, `{"id":"in_1","object":"invoice"}`, string(event.Object))
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := VerifyEvent(payload, signedPayload(t, payload, "whsec_other"), testSecret)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidSignature))
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := VerifyEvent(payload, "", testSecret)
		assert.True(t, errors.Is(err, ErrInvalidSignature))
	})

	t.Run("tampered body", func(t *testing.T) {
		header := signedPayload(t, payload, testSecret)
		tampered := append([]byte{}, payload...)
		tampered[len(tampered)-2] = ' '
		_, err := VerifyEvent(tampered, header, testSecret)
		assert.True(t, errors.Is(err, ErrInvalidSignature))
	})
}

func TestClient_Prices(t *testing.T) {
	c := New(config.Stripe{
		SecretKey:     "sk_test",
		WebhookSecret: testSecret,
		PriceTier1:    "price_bronze",
		PriceTier3:    "price_diamond",
	})

	id, ok := c.PriceID(models.Tier1)
	assert.True(t, ok)
	assert.Equal(t, "price_bronze", id)

	_, ok = c.PriceID(models.Tier2)
	assert.False(t, ok)

	tier, ok := c.PlanTierForPrice("price_diamond")
	assert.True(t, ok)
	assert.Equal(t, models.Tier3, tier)

	_, ok = c.PlanTierForPrice("price_unknown")
	assert.False(t, ok)
}

func TestClient_CreateCheckoutSession_PriceNotConfigured(t *testing.T) {
	c := New(config.Stripe{SecretKey: "sk_test", PriceTier1: "price_bronze"})

	_, err := c.CreateCheckoutSession(context.Background(), CheckoutParams{
		EmployerID:  "emp-1",
		CustomerRef: "cus_1",
		PlanTier:    models.Tier2,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPriceNotConfigured))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	cfg := config.Stripe{SecretKey: "sk_test", RequestTimeout: 5 * time.Second}
	return newClient(cfg, stripe.NewClient(cfg.SecretKey, stripe.WithBackends(backends)))
}

func TestClient_CreateCustomer_KeyPerAttempt(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		n := len(keys)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			_, _ = w.Write([]byte(`{"id":"cus_A","object":"customer"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"cus_B","object":"customer"}`))
	})

	first, err := c.CreateCustomer(context.Background(), "emp-1", "hr@acme.test")
	require.NoError(t, err)
	second, err := c.CreateCustomer(context.Background(), "emp-1", "hr@acme.test")
	require.NoError(t, err)

	assert.Equal(t, "cus_A", first)
	assert.Equal(t, "cus_B", second)
	require.Len(t, keys, 2)
	for _, k := range keys {
		assert.True(t, strings.HasPrefix(k, "customer-emp-1-"), k)
	}
	assert.NotEqual(t, keys[0], keys[1])
}
