package mo

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/forgeline/forgeline/internal/catalog"
	"github.com/forgeline/forgeline/internal/platform/httpx"
	"github.com/forgeline/forgeline/internal/shared"
)

// Handler wires HTTP endpoints for manufacturing orders.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs mo handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers manufacturing order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/mo", h.handleCreate)
	r.Get("/mo", h.handleList)
	r.Get("/mo/{id}", h.handleGet)
	r.Patch("/mo/{id}/confirm", h.handleConfirm)
	r.Patch("/mo/{id}/block", h.handleBlock)
	r.Patch("/mo/{id}/unblock", h.handleUnblock)
	r.Post("/mo/{id}/retry-reservation", h.handleRetryReservation)
}

type createRequest struct {
	ProductID      string `json:"productId" validate:"required,uuid4"`
	Quantity       int64  `json:"quantity" validate:"required,gt=0"`
	CreatedBy      string `json:"createdBy"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type moResponse struct {
	ID          string      `json:"id"`
	Number      string      `json:"moNumber"`
	ProductID   string      `json:"productId"`
	Quantity    int64       `json:"quantity"`
	BOMSnapshot catalog.BOM `json:"bomSnapshot"`
	Status      Status      `json:"status"`
	Reason      string      `json:"reason,omitempty"`
	CreatedBy   string      `json:"createdBy,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	WOIDs       []string    `json:"woIds,omitempty"`
	Idempotent  bool        `json:"idempotent,omitempty"`
}

func toResponse(mo ManufacturingOrder) moResponse {
	return moResponse{
		ID:          mo.ID,
		Number:      mo.Number,
		ProductID:   mo.ProductID,
		Quantity:    mo.Quantity,
		BOMSnapshot: mo.BOMSnapshot,
		Status:      mo.Status,
		Reason:      mo.Reason,
		CreatedBy:   mo.CreatedBy,
		CreatedAt:   mo.CreatedAt,
		UpdatedAt:   mo.UpdatedAt,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	requestID := shared.RequestIDFromContext(r.Context())

	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ProblemWithRequestID(w, http.StatusBadRequest, "Validation Failed", "invalid request body", requestID)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ProblemWithRequestID(w, http.StatusBadRequest, "Validation Failed", err.Error(), requestID)
		return
	}

	result, err := h.service.Create(r.Context(), CreateInput{
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		CreatedBy:      req.CreatedBy,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := toResponse(result.MO)
	resp.WOIDs = result.WOIDs
	resp.Idempotent = result.Idempotent
	status := http.StatusCreated
	if result.Idempotent {
		status = http.StatusOK
	}
	httpx.JSON(w, status, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.List(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]moResponse, 0, len(orders))
	for _, mo := range orders {
		out = append(out, toResponse(mo))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	mo, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(mo))
}

type confirmRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	// Body is optional; confirm without a key is simply not replay-safe.
	_ = httpx.DecodeJSON(r, &req)

	result, err := h.service.Confirm(r.Context(), chi.URLParam(r, "id"), req.IdempotencyKey)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	resp := toResponse(result.MO)
	resp.Idempotent = result.Idempotent
	httpx.JSON(w, http.StatusOK, resp)
}

type blockRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleBlock(w http.ResponseWriter, r *http.Request) {
	requestID := shared.RequestIDFromContext(r.Context())

	var req blockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ProblemWithRequestID(w, http.StatusBadRequest, "Validation Failed", "invalid request body", requestID)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ProblemWithRequestID(w, http.StatusBadRequest, "Validation Failed", "reason is required", requestID)
		return
	}

	mo, err := h.service.Block(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(mo))
}

type unblockRequest struct {
	Note string `json:"note"`
}

func (h *Handler) handleUnblock(w http.ResponseWriter, r *http.Request) {
	var req unblockRequest
	_ = httpx.DecodeJSON(r, &req)

	mo, err := h.service.Unblock(r.Context(), chi.URLParam(r, "id"), req.Note)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(mo))
}

type retryReservationResponse struct {
	MO        moResponse        `json:"mo"`
	Succeeded bool              `json:"succeeded"`
	Results   []ReservationLine `json:"results"`
	RequestID string            `json:"requestId,omitempty"`
}

func (h *Handler) handleRetryReservation(w http.ResponseWriter, r *http.Request) {
	requestID := shared.RequestIDFromContext(r.Context())

	result, err := h.service.RetryReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := retryReservationResponse{
		MO:        toResponse(result.MO),
		Succeeded: result.Succeeded,
		Results:   result.Lines,
		RequestID: requestID,
	}
	// Insufficient stock is a normal saga outcome reported as a conflict, not
	// a server error. The MO is now BLOCKED and carries the line details.
	status := http.StatusOK
	if !result.Succeeded {
		status = http.StatusConflict
	}
	httpx.JSON(w, status, resp)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := shared.RequestIDFromContext(r.Context())
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.ProblemWithRequestID(w, http.StatusNotFound, "Not Found", "manufacturing order not found", requestID)
	case errors.Is(err, ErrBOMNotFound):
		httpx.ProblemWithRequestID(w, http.StatusUnprocessableEntity, "No Active BOM", err.Error(), requestID)
	case errors.Is(err, ErrInvalidInput):
		httpx.ProblemWithRequestID(w, http.StatusBadRequest, "Validation Failed", err.Error(), requestID)
	case errors.Is(err, ErrInvalidTransition):
		httpx.ProblemWithRequestID(w, http.StatusConflict, "Invalid Transition", err.Error(), requestID)
	default:
		h.logger.Error("mo request failed", slog.String("request_id", requestID), slog.Any("error", err))
		httpx.ProblemWithRequestID(w, http.StatusInternalServerError, "Internal Server Error", "unexpected error", requestID)
	}
}
