// Package webhook принимает события платёжного провайдера.
//
// Handler проверяет подпись, сразу подтверждает получение и передаёт событие
// на сверку в фоновую задачу. Ошибки сверки после подтверждения уходят в лог,
// метрики и очередь неудачных событий.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/employer-billing/internal/http/response"
	"github.com/magabrotheeeer/employer-billing/internal/lib/sl"
	"github.com/magabrotheeeer/employer-billing/internal/metrics"
	"github.com/magabrotheeeer/employer-billing/internal/models"
	"github.com/magabrotheeeer/employer-billing/internal/services/reconcile"
)

const (
	// MaxBodyBytes предел размера тела вебхука.
	MaxBodyBytes = 64 << 10
	// SignatureHeader заголовок с подписью провайдера.
	SignatureHeader = "Stripe-Signature"
)

// Verifier проверяет подпись и разбирает событие.
type Verifier interface {
	VerifyEvent(payload []byte, signature string) (*models.ProviderEvent, error)
}

// Engine сверяет событие с хранилищем.
type Engine interface {
	Handle(ctx context.Context, event models.ProviderEvent) (reconcile.Outcome, error)
}

// Dedup отметка уже принятых событий.
type Dedup interface {
	MarkEvent(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	UnmarkEvent(ctx context.Context, eventID string) error
}

// FailureReporter публикует событие, сверка которого не удалась.
type FailureReporter interface {
	ReconcileFailed(event models.ProviderEvent, cause error)
}

// Tasks запуск фоновых задач.
type Tasks interface {
	Go(name string, fn func())
}

// Metrics учёт событий вебхука.
type Metrics interface {
	WebhookEvent(eventType, outcome string)
	SignatureFailure()
	ReconcileFailure(eventType string)
	ObserveReconcile(eventType string, start time.Time)
}

// Options параметры обработки.
type Options struct {
	ProcessingTimeout time.Duration
	DedupTTL          time.Duration
}

// Handler обработчик вебхука провайдера.
type Handler struct {
	log      *slog.Logger
	verifier Verifier
	engine   Engine
	dedup    Dedup
	failures FailureReporter
	tasks    Tasks
	metrics  Metrics
	opts     Options
}

// New создает новый Handler. dedup может быть nil, тогда повторы
// отсекает только ключ идемпотентности в базе.
func New(log *slog.Logger, verifier Verifier, engine Engine, dedup Dedup, failures FailureReporter,
	tasks Tasks, m Metrics, opts Options) *Handler {
	return &Handler{
		log:      log,
		verifier: verifier,
		engine:   engine,
		dedup:    dedup,
		failures: failures,
		tasks:    tasks,
		metrics:  m,
		opts:     opts,
	}
}

// ServeHTTP godoc
// @Summary Вебхук платёжного провайдера
// @Description Принимает подписанные события Stripe. Ответ 200 означает только получение.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param Stripe-Signature header string true "Подпись события"
// @Success 200 {object} map[string]any "Событие принято"
// @Failure 400 {object} response.ErrorResponse "Неверная подпись или тело"
// @Failure 413 {object} response.ErrorResponse "Слишком большое тело"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		sl.Op(op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("webhook body too large", slog.Int64("limit", tooLarge.Limit))
			render.Status(r, http.StatusRequestEntityTooLarge)
			render.JSON(w, r, response.Error("request body too large"))
			return
		}
		log.Error("failed to read webhook body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	event, err := h.verifier.VerifyEvent(body, r.Header.Get(SignatureHeader))
	if err != nil {
		log.Warn("webhook signature verification failed",
			slog.Bool("security", true),
			slog.String("remote_addr", r.RemoteAddr),
			sl.Err(err))
		h.metrics.SignatureFailure()
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	}

	h.metrics.WebhookEvent(event.Type, metrics.OutcomeAccepted)
	log.Info("webhook accepted", slog.String("event_id", event.ID), slog.String("event_type", event.Type))

	ev := *event
	h.tasks.Go("webhook:"+ev.ID, func() {
		h.Process(ev)
	})

	render.JSON(w, r, response.OKWithData(map[string]any{
		"received": true,
	}))
}

// Process сверяет принятое событие. Вызывается в фоне после подтверждения.
func (h *Handler) Process(event models.ProviderEvent) {
	log := h.log.With(
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
	)

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.ProcessingTimeout)
	defer cancel()

	if h.dedup != nil {
		fresh, err := h.dedup.MarkEvent(ctx, event.ID, h.opts.DedupTTL)
		switch {
		case err != nil:
			log.Warn("dedup marker unavailable, relying on storage idempotency", sl.Err(err))
		case !fresh:
			log.Info("duplicate delivery skipped")
			h.metrics.WebhookEvent(event.Type, metrics.OutcomeDuplicate)
			return
		}
	}

	start := time.Now()
	outcome, err := h.engine.Handle(ctx, event)
	h.metrics.ObserveReconcile(event.Type, start)
	if err != nil {
		log.Error("reconciliation failed", sl.Err(err))
		h.metrics.ReconcileFailure(event.Type)
		h.metrics.WebhookEvent(event.Type, metrics.OutcomeFailed)
		if h.dedup != nil {
			if err := h.dedup.UnmarkEvent(context.WithoutCancel(ctx), event.ID); err != nil {
				log.Warn("failed to remove dedup marker", sl.Err(err))
			}
		}
		h.failures.ReconcileFailed(event, err)
		return
	}

	h.metrics.WebhookEvent(event.Type, outcomeLabel(outcome))
	log.Info("event reconciled", slog.String("outcome", string(outcome)))
}

func outcomeLabel(o reconcile.Outcome) string {
	switch o {
	case reconcile.OutcomeDuplicate:
		return metrics.OutcomeDuplicate
	case reconcile.OutcomeIgnored:
		return metrics.OutcomeIgnored
	default:
		return metrics.OutcomeProcessed
	}
}
