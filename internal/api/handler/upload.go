package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/driftai/driftd/internal/api/middleware"
	"github.com/driftai/driftd/internal/api/response"
	"github.com/driftai/driftd/internal/extract"
	"github.com/driftai/driftd/pkg/models"
	"github.com/driftai/driftd/pkg/upload"
)

// ExtractionTrigger dispatches an extraction job for a staged upload.
type ExtractionTrigger interface {
	TriggerExtraction(ctx context.Context, params extract.ExtractionParams) (*models.Job, error)
}

// UploadDeps holds the collaborators shared by both upload endpoints.
type UploadDeps struct {
	Service    ExtractionTrigger
	Gate       *upload.Gate
	StagingDir string
	MaxBytes   int64
}

// NewUploadContractHandler returns the handler for
// POST /api/v1/vendors/create-from-contract/upload.
func NewUploadContractHandler(deps UploadDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handleUpload(w, r, deps, models.JobTypeCreateVendor, nil)
	}
}

// NewReplaceContractUploadHandler returns the handler for
// POST /api/v1/vendors/{vendorID}/replace-contract.
func NewReplaceContractUploadHandler(deps UploadDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vendorID, ok := parseUUIDParam(r, "vendorID")
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "vendorID must be a valid UUID", nil)
			return
		}
		handleUpload(w, r, deps, models.JobTypeReplaceContract, &vendorID)
	}
}

func handleUpload(w http.ResponseWriter, r *http.Request, deps UploadDeps, jobType string, vendorID *uuid.UUID) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, deps.MaxBytes+1<<20)
	if err := r.ParseMultipartForm(deps.MaxBytes); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body must be multipart form data with a file field", nil)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file field is required", nil)
		return
	}
	defer file.Close()

	info := upload.FileInfo{
		Name:        header.Filename,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
	}
	if result := deps.Gate.Check(info); !result.Valid {
		response.Error(w, http.StatusUnprocessableEntity, "INVALID_FILE",
			uploadRejectionMessage(result.Reason), map[string]string{"reason": result.Reason})
		return
	}

	path, err := stageUpload(deps.StagingDir, header.Filename, file)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store uploaded file", nil)
		return
	}

	job, err := deps.Service.TriggerExtraction(r.Context(), extract.ExtractionParams{
		TenantID: tenantID,
		Type:     jobType,
		VendorID: vendorID,
		Filename: header.Filename,
		Path:     path,
	})
	if err != nil {
		os.Remove(path)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start extraction job", nil)
		return
	}

	response.Accepted(w, map[string]string{"job_id": job.ID.String()})
}

// stageUpload copies the multipart file to the staging directory under a
// unique name. The extraction goroutine owns the file from here and
// removes it when the job reaches a terminal state.
func stageUpload(dir, filename string, file io.Reader) (string, error) {
	name := fmt.Sprintf("%s-%s", uuid.NewString(), filepath.Base(filename))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating staged file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, file); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing staged file: %w", err)
	}
	return path, nil
}

func uploadRejectionMessage(reason string) string {
	switch reason {
	case upload.ReasonEmptySelection:
		return "The uploaded file is empty"
	case upload.ReasonUnsupportedType:
		return "Unsupported file type: PDF, DOCX, PNG and JPEG are accepted"
	case upload.ReasonTooLarge:
		return "File exceeds the maximum upload size"
	}
	return "File rejected"
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
