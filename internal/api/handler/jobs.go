package handler

import (
	"errors"
	"net/http"

	mw "github.com/driftai/driftd/internal/api/middleware"
	"github.com/driftai/driftd/internal/api/response"
	"github.com/driftai/driftd/internal/cache"
	"github.com/driftai/driftd/internal/store"
	"github.com/driftai/driftd/pkg/models"
)

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// The cache answers while the job is still running; terminal states come
// from the store so the response carries the full result or error message.
func NewGetJobHandler(st store.Store, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		jobID, ok := parseUUIDParam(r, "jobID")
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		job, err := st.GetJob(r.Context(), jobID, tenantID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}

		// The cache mirror can be one transition ahead of the row just
		// read. Only non-terminal advances are taken from it; terminal
		// states must come with the full row.
		if !job.Terminal() {
			if status, ok, err := ca.GetJobStatus(r.Context(), jobID); err == nil && ok && status == models.JobStatusProcessing {
				job.Status = status
			}
		}

		response.JSON(w, job)
	}
}
