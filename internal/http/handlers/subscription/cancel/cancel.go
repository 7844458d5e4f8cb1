// Package cancel реализует HTTP-обработчики отмены подписки и отказа от отмены.
package cancel

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/employer-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/employer-billing/internal/http/response"
	"github.com/magabrotheeeer/employer-billing/internal/lib/sl"
	"github.com/magabrotheeeer/employer-billing/internal/services/cancellation"
)

// Service описывает политику отмены.
type Service interface {
	Cancel(ctx context.Context, employerID, subscriptionID string) (*cancellation.Result, error)
	Resume(ctx context.Context, employerID, subscriptionID string) (*cancellation.Result, error)
}

// Metrics учёт применённых политик.
type Metrics interface {
	Cancellation(policy string)
}

type action func(s Service, ctx context.Context, employerID, subscriptionID string) (*cancellation.Result, error)

// Handler обработчик одного действия над подпиской.
type Handler struct {
	log     *slog.Logger
	service Service
	metrics Metrics
	op      string
	do      action
}

// NewCancel создаёт обработчик отмены.
func NewCancel(log *slog.Logger, service Service, m Metrics) *Handler {
	return &Handler{log: log, service: service, metrics: m, op: "handlers.subscription.cancel", do: Service.Cancel}
}

// NewResume создаёт обработчик возобновления автопродления.
func NewResume(log *slog.Logger, service Service, m Metrics) *Handler {
	return &Handler{log: log, service: service, metrics: m, op: "handlers.subscription.resume", do: Service.Resume}
}

// ServeHTTP godoc
// @Summary Отменить подписку
// @Description В пределах окна отмены подписка отменяется сразу, иначе не продлевается после текущего периода.
// @Tags Subscriptions
// @Produce  json
// @Param id path string true "ID подписки"
// @Success 200 {object} map[string]any "Сообщение о применённой политике"
// @Failure 404 {object} response.ErrorResponse "Подписка не найдена"
// @Failure 422 {object} response.ErrorResponse "Запрещено политикой"
// @Failure 502 {object} response.ErrorResponse "Ошибка платёжного провайдера"
// @Router /subscriptions/{id}/cancel [post]
// @Router /subscriptions/{id}/resume [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(
		sl.Op(h.op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	employerID, ok := middlewarectx.EmployerFromContext(r.Context())
	if !ok {
		log.Error("employer not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	id := chi.URLParam(r, "id")
	if err := uuid.Validate(id); err != nil {
		log.Error("failed to decode id from url", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to decode id from url"))
		return
	}

	res, err := h.do(h.service, r.Context(), employerID, id)
	if err != nil {
		log.Error("request refused", slog.String("subscription_id", id), sl.Err(err))
		response.Fail(w, r, err)
		return
	}

	h.metrics.Cancellation(string(res.Policy))
	log.Info("policy applied", slog.String("subscription_id", id), slog.String("policy", string(res.Policy)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"message": res.Message,
	}))
}
