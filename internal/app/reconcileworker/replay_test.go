package reconcileworker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/employer-billing/internal/metrics"
	"github.com/magabrotheeeer/employer-billing/internal/models"
	"github.com/magabrotheeeer/employer-billing/internal/services/reconcile"
)

type EngineMock struct {
	mock.Mock
}

func (m *EngineMock) Handle(ctx context.Context, event models.ProviderEvent) (reconcile.Outcome, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(reconcile.Outcome), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func failedEventBody(t *testing.T, event models.ProviderEvent) []byte {
	t.Helper()
	body, err := json.Marshal(models.FailedEvent{
		Event:    event,
		Error:    "storage.InTx: connection reset",
		FailedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Unix(),
	})
	require.NoError(t, err)
	return body
}

func TestReplayer_Handle(t *testing.T) {
	event := models.ProviderEvent{
		ID:     "evt_1",
		Type:   models.EventChargeSucceeded,
		Object: json.RawMessage(`{"id":"in_1"}`),
	}

	tests := []struct {
		name         string
		body         func(t *testing.T) []byte
		mockSetup    func(e *EngineMock)
		wantErr      bool
		wantReplayed float64
		wantFailures float64
	}{
		{
			name: "replayed",
			body: func(t *testing.T) []byte { return failedEventBody(t, event) },
			mockSetup: func(e *EngineMock) {
				e.On("Handle", mock.Anything, event).Return(reconcile.OutcomeActivated, nil).Once()
			},
			wantReplayed: 1,
		},
		{
			name: "already applied",
			body: func(t *testing.T) []byte { return failedEventBody(t, event) },
			mockSetup: func(e *EngineMock) {
				e.On("Handle", mock.Anything, event).Return(reconcile.OutcomeDuplicate, nil).Once()
			},
			wantReplayed: 1,
		},
		{
			name: "engine fails again",
			body: func(t *testing.T) []byte { return failedEventBody(t, event) },
			mockSetup: func(e *EngineMock) {
				e.On("Handle", mock.Anything, event).Return(reconcile.Outcome(""), errors.New("db down")).Once()
			},
			wantErr:      true,
			wantFailures: 1,
		},
		{
			name:      "undecodable message is dropped",
			body:      func(*testing.T) []byte { return []byte("{not json") },
			mockSetup: func(*EngineMock) {},
		},
		{
			name: "message without event is dropped",
			body: func(t *testing.T) []byte {
				return failedEventBody(t, models.ProviderEvent{})
			},
			mockSetup: func(*EngineMock) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := new(EngineMock)
			tt.mockSetup(engine)
			m := metrics.New()
			r := NewReplayer(newNoopLogger(), engine, m, time.Second)

			err := r.Handle(context.Background(), tt.body(t))

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "reconcileworker.Handle")
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantReplayed,
				testutil.ToFloat64(m.WebhookEvents.WithLabelValues(models.EventChargeSucceeded, metrics.OutcomeReplayed)))
			assert.Equal(t, tt.wantFailures,
				testutil.ToFloat64(m.ReconcileFailures.WithLabelValues(models.EventChargeSucceeded)))
			engine.AssertExpectations(t)
		})
	}
}

func TestReplayer_HandleUsesTimeout(t *testing.T) {
	event := models.ProviderEvent{ID: "evt_2", Type: models.EventChargeFailed}
	engine := new(EngineMock)
	engine.On("Handle", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), event).Return(reconcile.OutcomePaymentFailed, nil).Once()

	r := NewReplayer(newNoopLogger(), engine, metrics.New(), time.Minute)
	require.NoError(t, r.Handle(context.Background(), failedEventBody(t, event)))
	engine.AssertExpectations(t)
}
