package catalog

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

// Handler wires HTTP endpoints for the catalog.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/products", h.handleCreateProduct)
	r.Get("/products", h.handleListProducts)
	r.Post("/boms", h.handleCreateBOM)
	r.Get("/boms/{productId}", h.handleGetBOM)
}

type createProductRequest struct {
	SKU  string `json:"sku" validate:"required"`
	Name string `json:"name" validate:"required"`
	UOM  string `json:"uom"`
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	product, err := h.service.CreateProduct(r.Context(), req.SKU, req.Name, req.UOM)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}

type bomItemRequest struct {
	ComponentProductID string          `json:"componentProductId" validate:"required,uuid4"`
	QtyPerUnit         decimal.Decimal `json:"qtyPerUnit" validate:"required"`
	OperationSequence  int             `json:"operationSequence"`
	OperationName      string          `json:"operationName"`
}

type createBOMRequest struct {
	ProductID string           `json:"productId" validate:"required,uuid4"`
	Items     []bomItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreateBOM(w http.ResponseWriter, r *http.Request) {
	var req createBOMRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	items := make([]BOMItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, BOMItemInput{
			ComponentProductID: it.ComponentProductID,
			QtyPerUnit:         it.QtyPerUnit,
			OperationSequence:  it.OperationSequence,
			OperationName:      it.OperationName,
		})
	}

	bomID, err := h.service.CreateBOM(r.Context(), req.ProductID, items)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"id": bomID})
}

func (h *Handler) handleGetBOM(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	bom, err := h.service.GetActiveBOM(r.Context(), productID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bom)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := shared.RequestIDFromContext(r.Context())
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.ProblemWithRequestID(w, http.StatusNotFound, "Not Found", "no active bom", requestID)
	case errors.Is(err, ErrInvalidInput):
		httpx.ProblemWithRequestID(w, http.StatusBadRequest, "Validation Failed", err.Error(), requestID)
	default:
		h.logger.Error("catalog operation", slog.String("request_id", requestID), slog.Any("error", err))
		httpx.ProblemWithRequestID(w, http.StatusInternalServerError, "Internal Error", "", requestID)
	}
}
