// Package health реализует проверку готовности сервиса.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/employer-billing/internal/http/response"
	"github.com/magabrotheeeer/employer-billing/internal/lib/sl"
)

const checkTimeout = 2 * time.Second

// Checker проверка одной зависимости.
type Checker func(ctx context.Context) error

// Handler обработчик /health.
type Handler struct {
	log    *slog.Logger
	checks map[string]Checker
}

// New создает Handler с именованными проверками.
func New(log *slog.Logger, checks map[string]Checker) *Handler {
	return &Handler{log: log, checks: checks}
}

// ServeHTTP godoc
// @Summary Проверка готовности
// @Tags Health
// @Produce  json
// @Success 200 {object} map[string]any "Все зависимости доступны"
// @Failure 503 {object} map[string]any "Есть недоступные зависимости"
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn("dependency check failed", sl.Op(op), slog.String("dependency", name), sl.Err(err))
			status[name] = "unavailable"
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	if !healthy {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Response{Status: response.StatusError, Data: status})
		return
	}
	render.JSON(w, r, response.OKWithData(status))
}
