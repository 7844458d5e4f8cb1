// Package paymentlist реализует HTTP-обработчик журнала платежей работодателя.
package paymentlist

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/employer-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/employer-billing/internal/http/response"
	"github.com/magabrotheeeer/employer-billing/internal/lib/sl"
	"github.com/magabrotheeeer/employer-billing/internal/models"
)

// Service описывает чтение платежей.
type Service interface {
	ListPayments(ctx context.Context, employerID string, limit, offset int) ([]*models.Payment, error)
}

// Handler обработчик списка платежей.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Журнал платежей
// @Description Возвращает платежи текущего работодателя, новые первыми.
// @Tags Payments
// @Produce  json
// @Param limit query int false "Размер страницы (по умолчанию 20, максимум 100)"
// @Param offset query int false "Смещение"
// @Success 200 {object} map[string]any "Список платежей"
// @Failure 400 {object} response.ErrorResponse "Некорректные параметры"
// @Failure 401 {object} response.ErrorResponse "Работодатель не авторизован"
// @Router /payments [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.list"
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

	limit, err := queryInt(r, "limit")
	if err != nil {
		log.Error("invalid limit", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid limit"))
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		log.Error("invalid offset", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid offset"))
		return
	}

	payments, err := h.service.ListPayments(r.Context(), employerID, limit, offset)
	if err != nil {
		log.Error("failed to list payments", sl.Err(err))
		response.Fail(w, r, err)
		return
	}

	log.Info("list payments", slog.Int("count", len(payments)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"list_count": len(payments),
		"payments":   payments,
	}))
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
