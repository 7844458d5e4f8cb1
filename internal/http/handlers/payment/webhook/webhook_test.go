package webhook

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/magabrotheeeer/employer-billing/internal/cache"
	"github.com/magabrotheeeer/employer-billing/internal/lib/goroutine"
	"github.com/magabrotheeeer/employer-billing/internal/metrics"
	"github.com/magabrotheeeer/employer-billing/internal/models"
	"github.com/magabrotheeeer/employer-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/employer-billing/internal/services/reconcile"
)

const testSecret = "whsec_test"

type secretVerifier string

func (s secretVerifier) VerifyEvent(payload []byte, signature string) (*models.ProviderEvent, error) {
	return paymentprovider.VerifyEvent(payload, signature, string(s))
}

type EngineMock struct{ mock.Mock }

func (m *EngineMock) Handle(ctx context.Context, event models.ProviderEvent) (reconcile.Outcome, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(reconcile.Outcome), args.Error(1)
}

type failureRecorder struct {
	mu     sync.Mutex
	events []models.ProviderEvent
}

func (f *failureRecorder) ReconcileFailed(event models.ProviderEvent, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

type fixture struct {
	handler  *Handler
	engine   *EngineMock
	failures *failureRecorder
	tasks    *goroutine.Group
	metrics  *metrics.Metrics
	redis    *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		engine:   &EngineMock{},
		failures: &failureRecorder{},
		tasks:    goroutine.NewGroup(newNoopLogger()),
		metrics:  metrics.New(),
		redis:    mr,
	}
	f.handler = New(newNoopLogger(), secretVerifier(testSecret), f.engine, &cache.Cache{Db: client},
		f.failures, f.tasks, f.metrics, Options{ProcessingTimeout: 5 * time.Second, DedupTTL: time.Hour})
	return f
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.tasks.Wait(ctx))
}

func signedRequest(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, signed.Header)
	return req
}

var invoicePaid = []byte(`{
	"id": "evt_1",
	"object": "event",
	"type": "invoice.payment_succeeded",
	"data": {"object": {"id": "in_1", "object": "invoice", "customer": "cus_1"}}
}`)

func TestWebhook_AcceptsAndReconciles(t *testing.T) {
	f := newFixture(t)
	f.engine.On("Handle", mock.Anything, mock.MatchedBy(func(e models.ProviderEvent) bool {
		return e.ID == "evt_1" && e.Type == models.EventChargeSucceeded && strings.Contains(string(e.Object), `"in_1"`)
	})).Return(reconcile.OutcomeActivated, nil).Once()

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, signedRequest(t, invoicePaid, testSecret))
	f.wait(t)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"received":true`)
	f.engine.AssertExpectations(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhookEvents.WithLabelValues(models.EventChargeSucceeded, metrics.OutcomeProcessed)))
	assert.True(t, f.redis.Exists("billing:event:evt_1"))
}

func TestWebhook_DuplicateDeliverySkipsEngine(t *testing.T) {
	f := newFixture(t)
	f.engine.On("Handle", mock.Anything, mock.Anything).Return(reconcile.OutcomeActivated, nil).Once()

	for range 2 {
		w := httptest.NewRecorder()
		f.handler.ServeHTTP(w, signedRequest(t, invoicePaid, testSecret))
		f.wait(t)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	f.engine.AssertExpectations(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhookEvents.WithLabelValues(models.EventChargeSucceeded, metrics.OutcomeDuplicate)))
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	tests := []struct {
		name    string
		request func(t *testing.T) *http.Request
	}{
		{
			name: "wrong secret",
			request: func(t *testing.T) *http.Request {
				return signedRequest(t, invoicePaid, "whsec_other")
			},
		},
		{
			name: "missing header",
			request: func(*testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(invoicePaid))
			},
		},
		{
			name: "tampered body",
			request: func(t *testing.T) *http.Request {
				req := signedRequest(t, invoicePaid, testSecret)
				tampered := bytes.Replace(invoicePaid, []byte("in_1"), []byte("in_2"), 1)
				req.Body = io.NopCloser(bytes.NewReader(tampered))
				return req
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			w := httptest.NewRecorder()
			f.handler.ServeHTTP(w, tt.request(t))
			f.wait(t)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "invalid signature")
			f.engine.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SignatureFailures))
		})
	}
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook",
		bytes.NewReader(bytes.Repeat([]byte("a"), MaxBodyBytes+1)))

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	f.engine.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
}

func TestWebhook_ReconcileFailureIsReportedAndRetryable(t *testing.T) {
	f := newFixture(t)
	f.engine.On("Handle", mock.Anything, mock.Anything).
		Return(reconcile.Outcome(""), errors.New("employer not found")).Once()

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, signedRequest(t, invoicePaid, testSecret))
	f.wait(t)

	// подтверждение не зависит от результата сверки
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.failures.events, 1)
	assert.Equal(t, "evt_1", f.failures.events[0].ID)
	assert.False(t, f.redis.Exists("billing:event:evt_1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReconcileFailures.WithLabelValues(models.EventChargeSucceeded)))

	// повторная доставка снова доходит до сверки
	f.engine.On("Handle", mock.Anything, mock.Anything).Return(reconcile.OutcomeActivated, nil).Once()
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, signedRequest(t, invoicePaid, testSecret))
	f.wait(t)
	f.engine.AssertExpectations(t)
}

func TestWebhook_RedisDownFallsBackToStorage(t *testing.T) {
	f := newFixture(t)
	f.redis.Close()
	f.engine.On("Handle", mock.Anything, mock.Anything).Return(reconcile.OutcomeDuplicate, nil).Once()

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, signedRequest(t, invoicePaid, testSecret))
	f.wait(t)

	assert.Equal(t, http.StatusOK, w.Code)
	f.engine.AssertExpectations(t)
}
