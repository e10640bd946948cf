// handler.go — основной обработчик API DoWC.
// Объединяет health и бизнес-обработчики, делегируя запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/GemeenteUtrecht/dowc/internal/service"
)

// APIHandler — основной обработчик API DoWC.
type APIHandler struct {
	health    *HealthHandler
	documents *service.DocumentFileService
	status    *service.StatusService
	sweeper   *service.SweeperService
	magicURL  *service.MagicURLBuilder
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	documents *service.DocumentFileService,
	status *service.StatusService,
	sweeper *service.SweeperService,
	magicURL *service.MagicURLBuilder,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:    health,
		documents: documents,
		status:    status,
		sweeper:   sweeper,
		magicURL:  magicURL,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit, offset int) (limitVal, offsetVal int) {
	if limit < 1 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
