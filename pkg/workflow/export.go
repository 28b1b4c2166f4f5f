package workflow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/driftai/driftd/pkg/models"
)

// ExportFilters are the query parameters accepted by the streaming-report
// endpoints. Zero values are omitted from the query string.
type ExportFilters struct {
	VendorID  string
	Status    string
	StartDate string // YYYY-MM-DD
	EndDate   string // YYYY-MM-DD
	Format    string // csv (default) or xlsx
}

func (f ExportFilters) query() url.Values {
	q := url.Values{}
	if f.VendorID != "" {
		q.Set("vendor_id", f.VendorID)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.StartDate != "" {
		q.Set("start_date", f.StartDate)
	}
	if f.EndDate != "" {
		q.Set("end_date", f.EndDate)
	}
	if f.Format != "" {
		q.Set("format", f.Format)
	}
	return q
}

// ExportValidation is the pre-flight answer: per-field problems plus cost
// estimates, so the caller can warn the user before paying for a full
// export attempt.
type ExportValidation struct {
	Valid                    bool     `json:"valid"`
	Errors                   []string `json:"errors"`
	EstimatedRecords         int      `json:"estimated_records"`
	EstimatedDurationSeconds float64  `json:"estimated_duration_seconds"`
}

// StreamingExportClient drives a long-running server export: validate the
// parameters, download the stream, watch progress, and cancel. One client
// may run many exports; cancellation is tracked per export id.
type StreamingExportClient struct {
	client   *Client
	interval time.Duration

	mu      sync.Mutex
	watches map[string]context.CancelFunc
}

// NewStreamingExportClient creates an export client polling progress at the
// given interval (0 means the 2s default).
func NewStreamingExportClient(client *Client, interval time.Duration) *StreamingExportClient {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &StreamingExportClient{
		client:   client,
		interval: interval,
		watches:  make(map[string]context.CancelFunc),
	}
}

// Validate runs the server-side parameter pre-flight for the given kind.
func (e *StreamingExportClient) Validate(ctx context.Context, kind string, filters ExportFilters) (*ExportValidation, error) {
	body := struct {
		VendorID  string `json:"vendor_id,omitempty"`
		Status    string `json:"status,omitempty"`
		StartDate string `json:"start_date,omitempty"`
		EndDate   string `json:"end_date,omitempty"`
	}{filters.VendorID, filters.Status, filters.StartDate, filters.EndDate}

	var out ExportValidation
	if err := e.client.doJSON(ctx, http.MethodPost, "/streaming-reports/validate/"+url.PathEscape(kind), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Download requests the export and streams the body into w. The export id
// is read from the X-Export-ID response header before the body is copied,
// so progress can be watched while the download runs.
func (e *StreamingExportClient) Download(ctx context.Context, kind string, filters ExportFilters, w io.Writer) (string, error) {
	u := fmt.Sprintf("%s/streaming-reports/%s.csv", e.client.baseURL, url.PathEscape(kind))
	if q := filters.query().Encode(); q != "" {
		u += "?" + q
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	e.client.setHeaders(req)

	resp, err := e.client.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeEnvelope(resp, nil)
	}

	exportID := resp.Header.Get("X-Export-ID")
	if _, err := io.Copy(w, resp.Body); err != nil {
		return exportID, fmt.Errorf("streaming export body: %w", err)
	}
	return exportID, nil
}

// Progress fetches the current progress record for an export.
func (e *StreamingExportClient) Progress(ctx context.Context, exportID string) (*models.ExportProgress, error) {
	var out models.ExportProgress
	if err := e.client.doJSON(ctx, http.MethodGet, "/streaming-reports/progress/"+url.PathEscape(exportID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WatchProgress polls the progress record at the client's interval, invoking
// fn on every read, until the export reaches a terminal status, the context
// ends, or Cancel is called for this export id. It returns the last progress
// observed.
func (e *StreamingExportClient) WatchProgress(ctx context.Context, exportID string, fn func(models.ExportProgress)) (*models.ExportProgress, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.watches[exportID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.watches, exportID)
		e.mu.Unlock()
	}()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	var last *models.ExportProgress
	for {
		select {
		case <-watchCtx.Done():
			return last, watchCtx.Err()
		case <-ticker.C:
		}

		p, err := e.Progress(watchCtx, exportID)
		if err != nil {
			// Tolerate transient progress-read failures; the caller's
			// context bounds the watch.
			continue
		}
		last = p
		if fn != nil {
			fn(*p)
		}

		switch p.Status {
		case models.ExportStatusCompleted, models.ExportStatusFailed, models.ExportStatusCancelled:
			return last, nil
		}
	}
}

// Cancel requests server-side abort and stops any running watch for the id
// immediately, without waiting for server acknowledgment.
func (e *StreamingExportClient) Cancel(ctx context.Context, exportID string) error {
	// Stop polling before the HTTP call: cancellation is immediate on the
	// client regardless of server acknowledgment latency.
	e.mu.Lock()
	if cancel, ok := e.watches[exportID]; ok {
		cancel()
	}
	e.mu.Unlock()

	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	path := "/streaming-reports/cancel/" + url.PathEscape(exportID)
	if err := e.client.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("cancel export %s: %s", exportID, out.Message)
	}
	return nil
}
