package shared

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// RequestIDFromContext returns the correlation id propagated by the router.
// Empty when the call did not originate from an HTTP request.
func RequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}
