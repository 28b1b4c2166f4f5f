package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/driftai/driftd/internal/api/response"
	"github.com/driftai/driftd/internal/cache"
	"github.com/driftai/driftd/internal/store"
)

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
// It pings the store and the cache; either failing makes the service
// degraded but still returns 200 so load balancers keep the process alive.
func NewHealthHandler(st store.Store, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "ok"
		if err := st.Ping(ctx); err != nil {
			dbStatus = "unreachable"
		}
		cacheStatus := "ok"
		if err := ca.Ping(ctx); err != nil {
			cacheStatus = "unreachable"
		}

		status := "ok"
		if dbStatus != "ok" || cacheStatus != "ok" {
			status = "degraded"
		}

		response.JSON(w, map[string]string{
			"status":   status,
			"database": dbStatus,
			"cache":    cacheStatus,
		})
	}
}
