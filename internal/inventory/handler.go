package inventory

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/forgeline/forgeline/internal/platform/httpx"
	"github.com/forgeline/forgeline/internal/shared"
)

// Handler wires HTTP endpoints for the ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/stock/reserve", h.handleReserve)
	r.Post("/stock/move", h.handleMove)
	r.Get("/inventory/{productId}", h.handleGetByProduct)
}

type reserveRequest struct {
	ProductID      string          `json:"productId" validate:"required,uuid4"`
	Qty            decimal.Decimal `json:"qty" validate:"required"`
	ReferenceType  string          `json:"referenceType" validate:"required"`
	ReferenceID    string          `json:"referenceId" validate:"required"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

type reserveResponse struct {
	Status         ReserveStatus `json:"status"`
	ReservedQty    string        `json:"reservedQty,omitempty"`
	Available      string        `json:"available,omitempty"`
	Requested      string        `json:"requested,omitempty"`
	IdempotencyKey string        `json:"idempotencyKey,omitempty"`
	Idempotent     bool          `json:"idempotent,omitempty"`
	RequestID      string        `json:"requestId,omitempty"`
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	requestID := shared.RequestIDFromContext(r.Context())

	var req reserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ProblemWithRequestID(w, http.StatusBadRequest, "Validation Failed", "invalid request body", requestID)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ProblemWithRequestID(w, http.StatusBadRequest, "Validation Failed", err.Error(), requestID)
		return
	}

	result, err := h.service.Reserve(r.Context(), ReserveInput{
		ProductID:      req.ProductID,
		Qty:            req.Qty,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.respondLedgerError(w, r, err)
		return
	}

	if result.Status == ReserveStatusFailed {
		h.logger.Warn("stock reservation failed",
			slog.String("request_id", requestID),
			slog.String("product_id", req.ProductID),
			slog.String("available", result.Available.String()),
			slog.String("requested", result.Requested.String()))
		httpx.JSON(w, http.StatusConflict, reserveResponse{
			Status:    result.Status,
			Available: result.Available.String(),
			Requested: result.Requested.String(),
			RequestID: requestID,
		})
		return
	}

	h.logger.Info("stock reserved",
		slog.String("request_id", requestID),
		slog.String("product_id", req.ProductID),
		slog.String("qty", result.ReservedQty.String()))
	httpx.JSON(w, http.StatusOK, reserveResponse{
		Status:         result.Status,
		ReservedQty:    result.ReservedQty.String(),
		IdempotencyKey: req.IdempotencyKey,
		Idempotent:     result.Idempotent,
	})
}

type moveRequest struct {
	ProductID      string          `json:"productId" validate:"required,uuid4"`
	Qty            decimal.Decimal `json:"qty" validate:"required"`
	Type           string          `json:"type" validate:"required,oneof=IN OUT"`
	ReferenceType  string          `json:"referenceType" validate:"required"`
	ReferenceID    string          `json:"referenceId" validate:"required"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

type moveResponse struct {
	Status         string          `json:"status"`
	Type           TransactionType `json:"type"`
	Qty            string          `json:"qty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Idempotent     bool            `json:"idempotent,omitempty"`
}

func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request) {
	requestID := shared.RequestIDFromContext(r.Context())

	var req moveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ProblemWithRequestID(w, http.StatusBadRequest, "Validation Failed", "invalid request body", requestID)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ProblemWithRequestID(w, http.StatusBadRequest, "Validation Failed", err.Error(), requestID)
		return
	}

	result, err := h.service.Move(r.Context(), MoveInput{
		ProductID:      req.ProductID,
		Qty:            req.Qty,
		Type:           TransactionType(req.Type),
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.respondLedgerError(w, r, err)
		return
	}

	h.logger.Info("stock move completed",
		slog.String("request_id", requestID),
		slog.String("product_id", req.ProductID),
		slog.String("type", string(result.Type)),
		slog.String("qty", result.Qty.String()))
	httpx.JSON(w, http.StatusOK, moveResponse{
		Status:         result.Status,
		Type:           result.Type,
		Qty:            result.Qty.String(),
		IdempotencyKey: req.IdempotencyKey,
		Idempotent:     result.Idempotent,
	})
}

type recordResponse struct {
	ID           string `json:"id"`
	ProductID    string `json:"productId"`
	LocationID   string `json:"locationId"`
	QtyAvailable string `json:"qtyAvailable"`
	QtyReserved  string `json:"qtyReserved"`
	UpdatedAt    string `json:"updatedAt"`
}

func (h *Handler) handleGetByProduct(w http.ResponseWriter, r *http.Request) {
	requestID := shared.RequestIDFromContext(r.Context())
	productID := chi.URLParam(r, "productId")

	records, err := h.service.GetByProduct(r.Context(), productID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			httpx.ProblemWithRequestID(w, http.StatusNotFound, "Not Found",
				"inventory not found for product: "+productID, requestID)
			return
		}
		h.logger.Error("fetch inventory", slog.String("request_id", requestID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, recordResponse{
			ID:           rec.ID,
			ProductID:    rec.ProductID,
			LocationID:   rec.LocationID,
			QtyAvailable: rec.QtyAvailable.String(),
			QtyReserved:  rec.QtyReserved.String(),
			UpdatedAt:    rec.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) respondLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := shared.RequestIDFromContext(r.Context())
	switch {
	case errors.Is(err, ErrMissingField), errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidMoveType):
		httpx.ProblemWithRequestID(w, http.StatusBadRequest, "Validation Failed", err.Error(), requestID)
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrRecordNotFound):
		httpx.ProblemWithRequestID(w, http.StatusConflict, "Conflict", err.Error(), requestID)
	default:
		h.logger.Error("ledger operation", slog.String("request_id", requestID), slog.Any("error", err))
		httpx.ProblemWithRequestID(w, http.StatusInternalServerError, "Internal Error", "", requestID)
	}
}
