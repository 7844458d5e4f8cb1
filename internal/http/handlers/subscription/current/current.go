// Package current реализует HTTP-обработчик текущей подписки работодателя.
package current

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/employer-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/employer-billing/internal/http/response"
	"github.com/magabrotheeeer/employer-billing/internal/lib/sl"
	"github.com/magabrotheeeer/employer-billing/internal/models"
)

// Service описывает чтение текущей подписки.
type Service interface {
	Current(ctx context.Context, employerID string) (*models.Subscription, error)
}

// Handler обработчик текущей подписки.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Текущая подписка
// @Description Действующая подписка работодателя, а если её нет, последняя.
// @Tags Subscriptions
// @Produce  json
// @Success 200 {object} map[string]any "Подписка"
// @Failure 404 {object} response.ErrorResponse "Подписок нет"
// @Router /subscriptions/current [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.current"
	log := h.log.With(
		sl.Op(op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	employerID, ok := middlewarectx.EmployerFromContext(r.Context())
	if !ok {
		log.Error("employer not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	sub, err := h.service.Current(r.Context(), employerID)
	if err != nil {
		log.Error("failed to read current subscription", sl.Err(err))
		response.Fail(w, r, err)
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]any{
		"subscription": sub,
	}))
}
