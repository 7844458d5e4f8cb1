// Package checkout реализует HTTP-обработчик начала оформления подписки.
//
// Handler принимает тариф и необязательный промокод, берёт работодателя из
// контекста и возвращает URL страницы оплаты провайдера.
package checkout

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/employer-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/employer-billing/internal/http/response"
	"github.com/magabrotheeeer/employer-billing/internal/lib/sl"
	"github.com/magabrotheeeer/employer-billing/internal/metrics"
)

// Request тело запроса на оформление.
type Request struct {
	PlanTier      string `json:"plan_tier" validate:"required" example:"Tier2"`
	PromotionCode string `json:"promotion_code,omitempty" validate:"omitempty,max=64" example:"SPRING25"`
}

// Service описывает интерфейс бизнес-логики оформления.
type Service interface {
	StartCheckout(ctx context.Context, employerID, planTier, promotionCode string) (string, error)
}

// Metrics учёт исходов оформления.
type Metrics interface {
	Checkout(outcome string)
}

// Handler управляет запросами на оформление подписки.
type Handler struct {
	log      *slog.Logger
	service  Service
	metrics  Metrics
	validate *validator.Validate
}

// New создает новый Handler.
func New(log *slog.Logger, service Service, m Metrics) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		metrics:  m,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Начать оформление подписки
// @Description Создаёт сессию оплаты выбранного тарифа и возвращает её URL.
// @Tags Checkout
// @Accept  json
// @Produce  json
// @Param request body Request true "Тариф и промокод"
// @Success 200 {object} map[string]any "URL страницы оплаты"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Работодатель не авторизован"
// @Failure 409 {object} response.ErrorResponse "Уже есть активная подписка"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 502 {object} response.ErrorResponse "Ошибка платёжного провайдера"
// @Router /checkout [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.checkout"
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

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	url, err := h.service.StartCheckout(r.Context(), employerID, req.PlanTier, req.PromotionCode)
	if err != nil {
		log.Error("failed to start checkout", sl.Err(err))
		h.metrics.Checkout(metrics.OutcomeFailed)
		response.Fail(w, r, err)
		return
	}

	h.metrics.Checkout(metrics.OutcomeAccepted)
	log.Info("checkout started", slog.String("employer_id", employerID), slog.String("plan_tier", req.PlanTier))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"url": url,
	}))
}
