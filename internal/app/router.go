package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeline/forgeline/internal/catalog"
	"github.com/forgeline/forgeline/internal/inventory"
	"github.com/forgeline/forgeline/internal/mo"
	"github.com/forgeline/forgeline/internal/outbox"
	"github.com/forgeline/forgeline/internal/wo"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Pool             *pgxpool.Pool
	CatalogHandler   *catalog.Handler
	InventoryHandler *inventory.Handler
	MOHandler        *mo.Handler
	WOHandler        *wo.Handler
	OutboxHandler    *outbox.Handler
	Relay            RelayNudger
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	if params.Relay != nil {
		r.Use(NudgeOutboxRelay(params.Relay, params.Logger))
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Pool != nil {
			if err := params.Pool.Ping(req.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(api chi.Router) {
		params.CatalogHandler.MountRoutes(api)
		params.InventoryHandler.MountRoutes(api)
		params.MOHandler.MountRoutes(api)
		params.WOHandler.MountRoutes(api)
		params.OutboxHandler.MountRoutes(api)
	})

	return r
}
