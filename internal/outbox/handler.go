package outbox

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/forgeline/forgeline/internal/platform/httpx"
)

// Handler exposes read-only outbox endpoints for inspection and relay checks.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
}

// NewHandler constructs the outbox handler.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers outbox routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/outbox", h.handleList)
}

type eventResponse struct {
	ID            int64           `json:"id"`
	EventID       string          `json:"eventId"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     string          `json:"eventType"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"createdAt"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	aggregateType := r.URL.Query().Get("aggregateType")

	events, err := h.repo.ListRecent(r.Context(), aggregateType, limit)
	if err != nil {
		h.logger.Error("list outbox", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, evt := range events {
		out = append(out, eventResponse{
			ID:            evt.ID,
			EventID:       evt.EventID,
			AggregateType: evt.AggregateType,
			AggregateID:   evt.AggregateID,
			EventType:     evt.EventType,
			Payload:       evt.Payload,
			CreatedAt:     evt.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}
