package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/driftai/driftd/internal/api/middleware"
	"github.com/driftai/driftd/internal/api/response"
	"github.com/driftai/driftd/internal/export"
	"github.com/driftai/driftd/pkg/models"
)

// Exporter is the streaming-report surface the handlers depend on.
type Exporter interface {
	Run(ctx context.Context, w io.Writer, params export.Params) error
	Validate(ctx context.Context, tenantID uuid.UUID, kind string, filter models.ExportFilter) (*export.Validation, error)
	Cancel(ctx context.Context, exportID string) error
	Progress(ctx context.Context, exportID string) (*models.ExportProgress, bool, error)
}

const exportDateLayout = "2006-01-02"

// NewDownloadExportHandler returns the handler for
// GET /api/v1/streaming-reports/{kind}.csv. The export id goes out in the
// X-Export-ID header before the first body byte so progress can be watched
// while the download runs.
func NewDownloadExportHandler(svc Exporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		kind := chi.URLParam(r, "kind")
		if !models.ValidExportKind(kind) {
			response.Error(w, http.StatusBadRequest, "INVALID_EXPORT_KIND",
				fmt.Sprintf("Unknown report kind %q", kind), nil)
			return
		}

		filter, format, ok := parseExportQuery(w, r)
		if !ok {
			return
		}

		exportID := uuid.NewString()
		w.Header().Set("X-Export-ID", exportID)
		if format == export.FormatXLSX {
			w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
			w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, kind+".xlsx"))
		} else {
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, kind+".csv"))
		}

		err := svc.Run(r.Context(), flushingWriter{w}, export.Params{
			ExportID: exportID,
			TenantID: tenantID,
			Kind:     kind,
			Format:   format,
			Filter:   filter,
		})
		if err != nil {
			// Headers are gone; all we can do is cut the stream short and log.
			slog.Error("streaming export aborted", "error", err, "export_id", exportID, "kind", kind)
		}
	}
}

// NewExportProgressHandler returns the handler for
// GET /api/v1/streaming-reports/progress/{exportID}.
func NewExportProgressHandler(svc Exporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exportID := chi.URLParam(r, "exportID")

		progress, ok, err := svc.Progress(r.Context(), exportID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read progress", nil)
			return
		}
		if !ok {
			response.Error(w, http.StatusNotFound, "EXPORT_NOT_FOUND", "No progress record for this export", nil)
			return
		}

		response.JSON(w, progress)
	}
}

// NewCancelExportHandler returns the handler for
// POST /api/v1/streaming-reports/cancel/{exportID}. Cancelling an export
// that already finished is refused rather than silently accepted.
func NewCancelExportHandler(svc Exporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exportID := chi.URLParam(r, "exportID")

		if p, ok, err := svc.Progress(r.Context(), exportID); err == nil && ok {
			switch p.Status {
			case models.ExportStatusCompleted, models.ExportStatusFailed, models.ExportStatusCancelled:
				response.JSON(w, map[string]any{
					"success": false,
					"message": "Export is already " + p.Status,
				})
				return
			}
		}

		if err := svc.Cancel(r.Context(), exportID); err != nil {
			response.JSON(w, map[string]any{
				"success": false,
				"message": "Failed to record cancellation",
			})
			return
		}

		response.JSON(w, map[string]any{
			"success": true,
			"message": "Cancellation requested; the stream stops at the next page boundary",
		})
	}
}

// NewValidateExportHandler returns the handler for
// POST /api/v1/streaming-reports/validate/{kind}.
func NewValidateExportHandler(svc Exporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		kind := chi.URLParam(r, "kind")

		var req struct {
			VendorID  string `json:"vendor_id"`
			Status    string `json:"status"`
			StartDate string `json:"start_date"`
			EndDate   string `json:"end_date"`
		}
		if r.Body != nil {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
		}

		filter := models.ExportFilter{VendorID: req.VendorID, Status: req.Status}
		if filter.VendorID != "" {
			if _, err := uuid.Parse(filter.VendorID); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "vendor_id must be a valid UUID", nil)
				return
			}
		}
		var parseErr error
		if filter.StartDate, parseErr = parseExportDate(req.StartDate); parseErr != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "start_date must be YYYY-MM-DD", nil)
			return
		}
		if filter.EndDate, parseErr = parseExportDate(req.EndDate); parseErr != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "end_date must be YYYY-MM-DD", nil)
			return
		}

		v, err := svc.Validate(r.Context(), tenantID, kind, filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to validate export", nil)
			return
		}

		response.JSON(w, v)
	}
}

func parseExportQuery(w http.ResponseWriter, r *http.Request) (models.ExportFilter, string, bool) {
	q := r.URL.Query()
	filter := models.ExportFilter{
		VendorID: q.Get("vendor_id"),
		Status:   q.Get("status"),
	}

	// vendor_id feeds a UUID column; reject garbage here instead of letting
	// the query blow up with a 500.
	if filter.VendorID != "" {
		if _, err := uuid.Parse(filter.VendorID); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "vendor_id must be a valid UUID", nil)
			return filter, "", false
		}
	}

	var err error
	if filter.StartDate, err = parseExportDate(q.Get("start_date")); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "start_date must be YYYY-MM-DD", nil)
		return filter, "", false
	}
	if filter.EndDate, err = parseExportDate(q.Get("end_date")); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "end_date must be YYYY-MM-DD", nil)
		return filter, "", false
	}
	if !filter.StartDate.IsZero() && !filter.EndDate.IsZero() && filter.EndDate.Before(filter.StartDate) {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "start_date must not be after end_date", nil)
		return filter, "", false
	}

	format := q.Get("format")
	if format == "" {
		format = export.FormatCSV
	}
	if format != export.FormatCSV && format != export.FormatXLSX {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "format must be csv or xlsx", nil)
		return filter, "", false
	}
	return filter, format, true
}

func parseExportDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(exportDateLayout, s)
}

// flushingWriter pushes every page through to the client immediately so
// progress on the wire matches the progress record.
type flushingWriter struct {
	w http.ResponseWriter
}

func (f flushingWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if flusher, ok := f.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return n, err
}
