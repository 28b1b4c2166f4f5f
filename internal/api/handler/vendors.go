package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	mw "github.com/driftai/driftd/internal/api/middleware"
	"github.com/driftai/driftd/internal/api/response"
	"github.com/driftai/driftd/internal/store"
	"github.com/driftai/driftd/pkg/models"
)

// confirmRequest carries the reviewed extraction fields. The
// reconciliation summary is never client-editable; it is read from the
// job result server-side.
type confirmRequest struct {
	PrimaryVendorName string `json:"primary_vendor_name"`
	DBADisplayName    string `json:"dba_display_name"`
	EffectiveDate     string `json:"effective_date"`
	RenewalEndDate    string `json:"renewal_end_date"`
	Category          string `json:"category"`
	JobID             string `json:"job_id"`
}

type confirmResponse struct {
	VendorID   string `json:"vendor_id"`
	ContractID string `json:"contract_id"`
}

// NewConfirmCreateHandler returns the handler for
// POST /api/v1/vendors/create-from-contract/confirm.
func NewConfirmCreateHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		req, job, ok := decodeConfirm(w, r, st, tenantID, models.JobTypeCreateVendor)
		if !ok {
			return
		}

		effective, renewal, ok := parseConfirmDates(w, req)
		if !ok {
			return
		}

		now := time.Now().UTC()
		vendor := &models.Vendor{
			ID:          uuid.New(),
			TenantID:    tenantID,
			Name:        strings.TrimSpace(req.PrimaryVendorName),
			DisplayName: strings.TrimSpace(req.DBADisplayName),
			Category:    strings.TrimSpace(req.Category),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		contract := buildContract(job, effective, renewal)

		if err := st.CreateVendor(r.Context(), vendor, contract); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "DUPLICATE_VENDOR_NAME",
					"A vendor with this name already exists", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create vendor", nil)
			return
		}

		response.Created(w, confirmResponse{
			VendorID:   vendor.ID.String(),
			ContractID: contract.ID.String(),
		})
	}
}

// NewConfirmReplaceHandler returns the handler for
// POST /api/v1/vendors/{vendorID}/replace-contract/confirm.
func NewConfirmReplaceHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		vendorID, ok := parseUUIDParam(r, "vendorID")
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "vendorID must be a valid UUID", nil)
			return
		}

		req, job, ok := decodeConfirm(w, r, st, tenantID, models.JobTypeReplaceContract)
		if !ok {
			return
		}
		if job.VendorID == nil || *job.VendorID != vendorID {
			response.Error(w, http.StatusConflict, "JOB_VENDOR_MISMATCH",
				"The job does not belong to this vendor", nil)
			return
		}

		effective, renewal, ok := parseConfirmDates(w, req)
		if !ok {
			return
		}

		// The reviewed fields update the vendor row too; confirming a
		// replacement is the one place the user can correct vendor data.
		fields := store.VendorFields{
			Name:        strings.TrimSpace(req.PrimaryVendorName),
			DisplayName: strings.TrimSpace(req.DBADisplayName),
			Category:    strings.TrimSpace(req.Category),
		}
		contract := buildContract(job, effective, renewal)
		created, err := st.ReplaceContract(r.Context(), vendorID, fields, contract)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "VENDOR_NOT_FOUND", "Vendor not found", nil)
				return
			}
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "DUPLICATE_VENDOR_NAME",
					"A vendor with this name already exists", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to replace contract", nil)
			return
		}

		response.JSON(w, confirmResponse{
			VendorID:   vendorID.String(),
			ContractID: created.ID.String(),
		})
	}
}

// decodeConfirm validates the shared confirm payload: body shape, required
// fields, and that the referenced job is completed and of the right type.
func decodeConfirm(w http.ResponseWriter, r *http.Request, st store.Store, tenantID uuid.UUID, jobType string) (confirmRequest, *models.Job, bool) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return req, nil, false
	}

	if strings.TrimSpace(req.PrimaryVendorName) == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "primary_vendor_name is required", nil)
		return req, nil, false
	}
	if req.EffectiveDate == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "effective_date is required", nil)
		return req, nil, false
	}

	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job_id must be a valid UUID", nil)
		return req, nil, false
	}

	job, err := st.GetJob(r.Context(), jobID, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			return req, nil, false
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
		return req, nil, false
	}

	if job.Status != models.JobStatusCompleted {
		response.Error(w, http.StatusConflict, "JOB_NOT_COMPLETED",
			"The extraction job has not completed", nil)
		return req, nil, false
	}
	if job.Type != jobType {
		response.Error(w, http.StatusConflict, "JOB_TYPE_MISMATCH",
			"The job was created for a different operation", nil)
		return req, nil, false
	}
	return req, job, true
}

func parseConfirmDates(w http.ResponseWriter, req confirmRequest) (time.Time, *time.Time, bool) {
	effective, err := models.ParseContractDate(req.EffectiveDate)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "effective_date: "+err.Error(), nil)
		return time.Time{}, nil, false
	}
	var renewal *time.Time
	if req.RenewalEndDate != "" {
		t, err := models.ParseContractDate(req.RenewalEndDate)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "renewal_end_date: "+err.Error(), nil)
			return time.Time{}, nil, false
		}
		renewal = &t
	}
	return effective, renewal, true
}

func buildContract(job *models.Job, effective time.Time, renewal *time.Time) *models.Contract {
	summary := ""
	if job.Result != nil {
		summary = job.Result.ContractReconciliationSummary
	}
	jobID := job.ID
	return &models.Contract{
		ID:                    uuid.New(),
		Filename:              job.Filename,
		EffectiveDate:         effective,
		RenewalEndDate:        renewal,
		ReconciliationSummary: summary,
		SourceJobID:           &jobID,
		CreatedAt:             time.Now().UTC(),
	}
}

// NewCheckNameHandler returns the handler for POST /api/v1/vendors/check-name.
func NewCheckNameHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}

		existing, err := st.FindVendorByName(r.Context(), tenantID, name)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.JSON(w, map[string]any{"is_unique": true})
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to check name", nil)
			return
		}

		response.JSON(w, map[string]any{
			"is_unique":          false,
			"existing_vendor_id": existing.ID.String(),
		})
	}
}

// NewListVendorsHandler returns the handler for GET /api/v1/vendors.
func NewListVendorsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		q := r.URL.Query()
		page, _ := strconv.Atoi(q.Get("page"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		if page < 1 {
			page = 1
		}

		filter := store.VendorFilter{
			TenantID: tenantID,
			Category: q.Get("category"),
			Search:   q.Get("search"),
			Page:     page,
			Limit:    limit,
		}

		vendors, total, err := st.ListVendors(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list vendors", nil)
			return
		}

		response.Collection(w, vendors, response.NewPaginationMeta(page, limit, total))
	}
}

// NewGetVendorHandler returns the handler for GET /api/v1/vendors/{vendorID}.
func NewGetVendorHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		vendorID, ok := parseUUIDParam(r, "vendorID")
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "vendorID must be a valid UUID", nil)
			return
		}

		vendor, err := st.GetVendor(r.Context(), vendorID, tenantID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "VENDOR_NOT_FOUND", "Vendor not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load vendor", nil)
			return
		}

		response.JSON(w, vendor)
	}
}
