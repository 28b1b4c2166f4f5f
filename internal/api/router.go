package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/driftai/driftd/internal/api/middleware"
	"github.com/driftai/driftd/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	UploadContractHandler  http.HandlerFunc
	ReplaceContractHandler http.HandlerFunc
	GetJobHandler          http.HandlerFunc

	ConfirmCreateHandler  http.HandlerFunc
	ConfirmReplaceHandler http.HandlerFunc
	CheckNameHandler      http.HandlerFunc
	ListVendorsHandler    http.HandlerFunc
	GetVendorHandler      http.HandlerFunc

	DownloadExportHandler http.HandlerFunc
	ExportProgressHandler http.HandlerFunc
	CancelExportHandler   http.HandlerFunc
	ValidateExportHandler http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public endpoints
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/vendors/create-from-contract/upload", orNotImplemented(deps.UploadContractHandler))
		r.Post("/api/v1/vendors/create-from-contract/confirm", orNotImplemented(deps.ConfirmCreateHandler))
		r.Post("/api/v1/vendors/{vendorID}/replace-contract", orNotImplemented(deps.ReplaceContractHandler))
		r.Post("/api/v1/vendors/{vendorID}/replace-contract/confirm", orNotImplemented(deps.ConfirmReplaceHandler))
		r.Post("/api/v1/vendors/check-name", orNotImplemented(deps.CheckNameHandler))
		r.Get("/api/v1/vendors", orNotImplemented(deps.ListVendorsHandler))
		r.Get("/api/v1/vendors/{vendorID}", orNotImplemented(deps.GetVendorHandler))

		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))

		r.Get("/api/v1/streaming-reports/{kind}.csv", orNotImplemented(deps.DownloadExportHandler))
		r.Get("/api/v1/streaming-reports/progress/{exportID}", orNotImplemented(deps.ExportProgressHandler))
		r.Post("/api/v1/streaming-reports/cancel/{exportID}", orNotImplemented(deps.CancelExportHandler))
		r.Post("/api/v1/streaming-reports/validate/{kind}", orNotImplemented(deps.ValidateExportHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
