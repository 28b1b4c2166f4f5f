// Package export streams reconciliation reports (invoices, findings,
// disputes) as CSV or XLSX. Rows are fetched and written one page at a
// time so a large export never holds the full result set in memory; a
// progress record in the cache lets callers watch the run, and a cache
// flag checked between pages makes cancellation take effect mid-stream.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/driftai/driftd/internal/cache"
	"github.com/driftai/driftd/internal/config"
	"github.com/driftai/driftd/internal/metrics"
	"github.com/driftai/driftd/internal/store"
	"github.com/driftai/driftd/pkg/models"
)

const (
	progressTTL = 15 * time.Minute
	cancelTTL   = 15 * time.Minute
)

// ErrCancelled is returned by Run when the export's cancellation flag was
// set while the stream was in flight.
var ErrCancelled = errors.New("export cancelled")

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Params identifies one export run.
type Params struct {
	ExportID string
	TenantID uuid.UUID
	Kind     string
	Format   string
	Filter   models.ExportFilter
}

// Validation is the pre-flight answer for an export request.
type Validation struct {
	Valid                    bool     `json:"valid"`
	Errors                   []string `json:"errors"`
	EstimatedRecords         int      `json:"estimated_records"`
	EstimatedDurationSeconds float64  `json:"estimated_duration_seconds"`
}

// Service runs streaming exports against the store.
type Service struct {
	store store.Store
	cache cache.Cache
	cfg   config.ExportConfig
}

func NewService(st store.Store, ca cache.Cache, cfg config.ExportConfig) *Service {
	return &Service{store: st, cache: ca, cfg: cfg}
}

// Validate checks an export request without running it: kind, date
// ordering, and the record count against the configured ceiling. The
// duration estimate uses the configured rows-per-second throughput.
func (s *Service) Validate(ctx context.Context, tenantID uuid.UUID, kind string, filter models.ExportFilter) (*Validation, error) {
	v := &Validation{Errors: []string{}}

	if !models.ValidExportKind(kind) {
		v.Errors = append(v.Errors, fmt.Sprintf("unknown report kind %q: must be one of invoices, findings, disputes", kind))
	}
	if !filter.StartDate.IsZero() && !filter.EndDate.IsZero() && filter.EndDate.Before(filter.StartDate) {
		v.Errors = append(v.Errors, "start_date must not be after end_date")
	}

	if len(v.Errors) == 0 {
		total, err := s.count(ctx, tenantID, kind, filter)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", kind, err)
		}
		v.EstimatedRecords = total
		if s.cfg.RecordsPerSec > 0 {
			v.EstimatedDurationSeconds = float64(total) / float64(s.cfg.RecordsPerSec)
		}
		if total > s.cfg.MaxRecords {
			v.Errors = append(v.Errors, fmt.Sprintf("export would contain %d records, maximum is %d: narrow the date range", total, s.cfg.MaxRecords))
		}
	}

	v.Valid = len(v.Errors) == 0
	return v, nil
}

// Run streams the export into w, updating the progress record after every
// page and honoring the cancellation flag between pages. On cancellation
// it returns ErrCancelled with the progress record marked cancelled; any
// rows already streamed stay on the wire.
func (s *Service) Run(ctx context.Context, w io.Writer, params Params) error {
	start := time.Now()
	processed := 0
	outcome := models.ExportStatusFailed
	defer func() {
		metrics.ObserveExport(params.Kind, outcome, processed, time.Since(start).Seconds())
	}()

	total, err := s.count(ctx, params.TenantID, params.Kind, params.Filter)
	if err != nil {
		s.setProgress(ctx, params.ExportID, models.ExportStatusFailed, 0, 0, "counting records")
		return fmt.Errorf("counting %s: %w", params.Kind, err)
	}

	s.setProgress(ctx, params.ExportID, models.ExportStatusProcessing, 0, total, "starting export")

	rw, err := s.newRowWriter(w, params)
	if err != nil {
		s.setProgress(ctx, params.ExportID, models.ExportStatusFailed, 0, total, "opening writer")
		return err
	}

	if err := rw.writeRow(headersFor(params.Kind)); err != nil {
		s.setProgress(ctx, params.ExportID, models.ExportStatusFailed, 0, total, "writing header")
		return fmt.Errorf("writing header: %w", err)
	}

	for offset := 0; ; offset += s.cfg.PageSize {
		cancelled, err := s.cache.ExportCancelled(ctx, params.ExportID)
		if err != nil {
			slog.Warn("checking export cancel flag", "error", err, "export_id", params.ExportID)
		}
		if cancelled {
			s.setProgress(ctx, params.ExportID, models.ExportStatusCancelled, processed, total, "cancelled")
			outcome = models.ExportStatusCancelled
			return ErrCancelled
		}

		rows, err := s.listPage(ctx, params, s.cfg.PageSize, offset)
		if err != nil {
			s.setProgress(ctx, params.ExportID, models.ExportStatusFailed, processed, total, "fetching page")
			return fmt.Errorf("fetching %s page at offset %d: %w", params.Kind, offset, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			if err := rw.writeRow(row); err != nil {
				s.setProgress(ctx, params.ExportID, models.ExportStatusFailed, processed, total, "writing rows")
				return fmt.Errorf("writing row: %w", err)
			}
		}
		if err := rw.flush(); err != nil {
			s.setProgress(ctx, params.ExportID, models.ExportStatusFailed, processed, total, "writing rows")
			return fmt.Errorf("flushing rows: %w", err)
		}

		processed += len(rows)
		s.setProgress(ctx, params.ExportID, models.ExportStatusProcessing, processed, total, fmt.Sprintf("streamed %d of %d records", processed, total))

		if len(rows) < s.cfg.PageSize {
			break
		}
	}

	if err := rw.close(); err != nil {
		s.setProgress(ctx, params.ExportID, models.ExportStatusFailed, processed, total, "finalizing output")
		return err
	}

	s.setProgress(ctx, params.ExportID, models.ExportStatusCompleted, processed, total, "done")
	outcome = models.ExportStatusCompleted
	return nil
}

// Cancel sets the cancellation flag; the running export notices it at the
// next page boundary. Callers get an immediate acknowledgment.
func (s *Service) Cancel(ctx context.Context, exportID string) error {
	if err := s.cache.MarkExportCancelled(ctx, exportID, cancelTTL); err != nil {
		return fmt.Errorf("marking export cancelled: %w", err)
	}
	p, ok, err := s.cache.GetExportProgress(ctx, exportID)
	if err == nil && ok && !terminalExportStatus(p.Status) {
		s.setProgress(ctx, exportID, models.ExportStatusCancelled, p.ProcessedRecords, p.TotalRecords, "cancelled")
	}
	return nil
}

// Progress returns the cached progress record for an export.
func (s *Service) Progress(ctx context.Context, exportID string) (*models.ExportProgress, bool, error) {
	return s.cache.GetExportProgress(ctx, exportID)
}

func (s *Service) newRowWriter(w io.Writer, params Params) (rowWriter, error) {
	if params.Format == FormatXLSX {
		return newXLSXRowWriter(w, sheetNameFor(params.Kind))
	}
	return newCSVRowWriter(w), nil
}

func (s *Service) setProgress(ctx context.Context, exportID, status string, processed, total int, step string) {
	progress := 0
	switch {
	case status == models.ExportStatusCompleted:
		progress = 100
	case total > 0:
		progress = processed * 100 / total
	}
	err := s.cache.SetExportProgress(ctx, models.ExportProgress{
		ExportID:         exportID,
		Status:           status,
		Progress:         progress,
		TotalRecords:     total,
		ProcessedRecords: processed,
		CurrentStep:      step,
		UpdatedAt:        time.Now().UTC(),
	}, progressTTL)
	if err != nil {
		slog.Warn("writing export progress", "error", err, "export_id", exportID)
	}
}

func (s *Service) count(ctx context.Context, tenantID uuid.UUID, kind string, filter models.ExportFilter) (int, error) {
	switch kind {
	case models.ExportKindInvoices:
		return s.store.CountInvoices(ctx, tenantID, filter)
	case models.ExportKindFindings:
		return s.store.CountFindings(ctx, tenantID, filter)
	case models.ExportKindDisputes:
		return s.store.CountDisputes(ctx, tenantID, filter)
	default:
		return 0, fmt.Errorf("unknown report kind %q", kind)
	}
}

func (s *Service) listPage(ctx context.Context, params Params, limit, offset int) ([][]string, error) {
	switch params.Kind {
	case models.ExportKindInvoices:
		invoices, err := s.store.ListInvoicesPage(ctx, params.TenantID, params.Filter, limit, offset)
		if err != nil {
			return nil, err
		}
		rows := make([][]string, 0, len(invoices))
		for _, inv := range invoices {
			rows = append(rows, invoiceRow(inv))
		}
		return rows, nil
	case models.ExportKindFindings:
		findings, err := s.store.ListFindingsPage(ctx, params.TenantID, params.Filter, limit, offset)
		if err != nil {
			return nil, err
		}
		rows := make([][]string, 0, len(findings))
		for _, f := range findings {
			rows = append(rows, findingRow(f))
		}
		return rows, nil
	case models.ExportKindDisputes:
		disputes, err := s.store.ListDisputesPage(ctx, params.TenantID, params.Filter, limit, offset)
		if err != nil {
			return nil, err
		}
		rows := make([][]string, 0, len(disputes))
		for _, d := range disputes {
			rows = append(rows, disputeRow(d))
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unknown report kind %q", params.Kind)
	}
}

func terminalExportStatus(status string) bool {
	switch status {
	case models.ExportStatusCompleted, models.ExportStatusFailed, models.ExportStatusCancelled:
		return true
	}
	return false
}
