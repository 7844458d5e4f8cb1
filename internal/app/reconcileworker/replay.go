package reconcileworker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/employer-billing/internal/lib/sl"
	"github.com/magabrotheeeer/employer-billing/internal/metrics"
	"github.com/magabrotheeeer/employer-billing/internal/models"
	"github.com/magabrotheeeer/employer-billing/internal/services/reconcile"
)

// Engine сверяет событие с хранилищем.
type Engine interface {
	Handle(ctx context.Context, event models.ProviderEvent) (reconcile.Outcome, error)
}

// Metrics учёт повторной сверки.
type Metrics interface {
	WebhookEvent(eventType, outcome string)
	ReconcileFailure(eventType string)
}

// Replayer повторно сверяет события из очереди неудачных.
type Replayer struct {
	log     *slog.Logger
	engine  Engine
	metrics Metrics
	timeout time.Duration
}

// NewReplayer создаёт Replayer.
func NewReplayer(log *slog.Logger, engine Engine, m Metrics, timeout time.Duration) *Replayer {
	return &Replayer{log: log, engine: engine, metrics: m, timeout: timeout}
}

// Handle разбирает сообщение и повторяет сверку. Нечитаемое сообщение
// отбрасывается, ошибка сверки возвращает его в очередь.
func (r *Replayer) Handle(ctx context.Context, body []byte) error {
	const op = "reconcileworker.Handle"
	log := r.log.With(sl.Op(op))

	var msg models.FailedEvent
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Error("failed to decode failed event, dropping", sl.Err(err))
		return nil
	}
	if msg.Event.ID == "" || msg.Event.Type == "" {
		log.Error("failed event has no id or type, dropping")
		return nil
	}

	event := msg.Event
	log = log.With(
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
		slog.String("previous_error", msg.Error),
	)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	outcome, err := r.engine.Handle(ctx, event)
	if err != nil {
		r.metrics.ReconcileFailure(event.Type)
		return fmt.Errorf("%s: %w", op, err)
	}

	r.metrics.WebhookEvent(event.Type, metrics.OutcomeReplayed)
	log.Info("failed event reconciled", slog.String("outcome", string(outcome)))
	return nil
}
