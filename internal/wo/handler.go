package wo

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/forgeline/forgeline/internal/platform/httpx"
	"github.com/forgeline/forgeline/internal/shared"
)

// Handler wires HTTP endpoints for work orders.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs work order handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers work order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/wo", h.handleCreate)
	r.Get("/wo/mo/{moId}", h.handleListByMO)
	r.Patch("/wo/{id}/start", h.handleStart)
	r.Patch("/wo/{id}/complete", h.handleComplete)
}

type createRequest struct {
	MOID          string `json:"moId" validate:"required,uuid4"`
	OperationName string `json:"operationName" validate:"required"`
	Sequence      int    `json:"sequence"`
	WorkCenterID  string `json:"workCenterId" validate:"omitempty,uuid4"`
}

type workOrderResponse struct {
	ID            string     `json:"id"`
	MOID          string     `json:"moId"`
	OperationName string     `json:"operationName"`
	Sequence      int        `json:"sequence"`
	WorkCenterID  string     `json:"workCenterId,omitempty"`
	Status        Status     `json:"status"`
	AssigneeID    string     `json:"assigneeId,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	ActualMinutes float64    `json:"actualMinutes"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func toResponse(wo WorkOrder) workOrderResponse {
	return workOrderResponse{
		ID:            wo.ID,
		MOID:          wo.MOID,
		OperationName: wo.OperationName,
		Sequence:      wo.Sequence,
		WorkCenterID:  wo.WorkCenterID,
		Status:        wo.Status,
		AssigneeID:    wo.AssigneeID,
		StartedAt:     wo.StartedAt,
		CompletedAt:   wo.CompletedAt,
		ActualMinutes: wo.ActualMinutes,
		CreatedAt:     wo.CreatedAt,
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

	wo, err := h.service.Create(r.Context(), CreateInput{
		MOID:          req.MOID,
		OperationName: req.OperationName,
		Sequence:      req.Sequence,
		WorkCenterID:  req.WorkCenterID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.logger.Info("work order created",
		slog.String("request_id", requestID),
		slog.String("wo_id", wo.ID),
		slog.String("mo_id", wo.MOID))
	httpx.JSON(w, http.StatusCreated, toResponse(wo))
}

func (h *Handler) handleListByMO(w http.ResponseWriter, r *http.Request) {
	moID := chi.URLParam(r, "moId")

	wos, err := h.service.ListByMO(r.Context(), moID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	out := make([]workOrderResponse, 0, len(wos))
	for _, wo := range wos {
		out = append(out, toResponse(wo))
	}
	httpx.JSON(w, http.StatusOK, out)
}

type startRequest struct {
	AssigneeID string `json:"assigneeId" validate:"omitempty,uuid4"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	requestID := shared.RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req startRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && r.ContentLength > 0 {
		httpx.ProblemWithRequestID(w, http.StatusBadRequest, "Validation Failed", "invalid request body", requestID)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ProblemWithRequestID(w, http.StatusBadRequest, "Validation Failed", err.Error(), requestID)
		return
	}

	wo, err := h.service.Start(r.Context(), id, req.AssigneeID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.logger.Info("work order started", slog.String("request_id", requestID), slog.String("wo_id", wo.ID))
	httpx.JSON(w, http.StatusOK, toResponse(wo))
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	requestID := shared.RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	wo, err := h.service.Complete(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.logger.Info("work order completed", slog.String("request_id", requestID), slog.String("wo_id", wo.ID))
	httpx.JSON(w, http.StatusOK, toResponse(wo))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := shared.RequestIDFromContext(r.Context())
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.ProblemWithRequestID(w, http.StatusNotFound, "Not Found", err.Error(), requestID)
	case errors.Is(err, ErrInvalidInput):
		httpx.ProblemWithRequestID(w, http.StatusBadRequest, "Validation Failed", err.Error(), requestID)
	case errors.Is(err, ErrInvalidTransition):
		httpx.ProblemWithRequestID(w, http.StatusConflict, "Conflict", err.Error(), requestID)
	default:
		h.logger.Error("work order operation", slog.String("request_id", requestID), slog.Any("error", err))
		httpx.ProblemWithRequestID(w, http.StatusInternalServerError, "Internal Error", "", requestID)
	}
}
