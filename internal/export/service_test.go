package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftai/driftd/internal/config"
	"github.com/driftai/driftd/internal/store"
	"github.com/driftai/driftd/pkg/models"
)

// --- mocks ---

type mockStore struct {
	mu        sync.Mutex
	invoices  []*models.Invoice
	findings  []*models.Finding
	disputes  []*models.Dispute
	listErr   error
	afterPage func() // invoked after each invoice page is served
}

func (s *mockStore) Ping(_ context.Context) error                               { return nil }
func (s *mockStore) GetDefaultTenant(_ context.Context) (*models.Tenant, error) { return nil, nil }
func (s *mockStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (s *mockStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }
func (s *mockStore) ListAPIKeys(_ context.Context, _ uuid.UUID) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *mockStore) RevokeAPIKey(_ context.Context, _ uuid.UUID, _ uuid.UUID) error { return nil }
func (s *mockStore) CreateVendor(_ context.Context, _ *models.Vendor, _ *models.Contract) error {
	return nil
}
func (s *mockStore) GetVendor(_ context.Context, _ uuid.UUID, _ uuid.UUID) (*models.Vendor, error) {
	return nil, nil
}
func (s *mockStore) ListVendors(_ context.Context, _ store.VendorFilter) ([]*models.Vendor, int, error) {
	return nil, 0, nil
}
func (s *mockStore) FindVendorByName(_ context.Context, _ uuid.UUID, _ string) (*models.Vendor, error) {
	return nil, store.ErrNotFound
}
func (s *mockStore) ReplaceContract(_ context.Context, _ uuid.UUID, _ store.VendorFields, _ *models.Contract) (*models.Contract, error) {
	return nil, nil
}
func (s *mockStore) GetContract(_ context.Context, _ uuid.UUID, _ uuid.UUID) (*models.Contract, error) {
	return nil, nil
}
func (s *mockStore) CreateJob(_ context.Context, _ *models.Job) error { return nil }
func (s *mockStore) GetJob(_ context.Context, _ uuid.UUID, _ uuid.UUID) (*models.Job, error) {
	return nil, store.ErrNotFound
}
func (s *mockStore) UpdateJobStatus(_ context.Context, _ uuid.UUID, _ string, _ ...store.JobUpdateOption) error {
	return nil
}

func (s *mockStore) CountInvoices(_ context.Context, _ uuid.UUID, _ models.ExportFilter) (int, error) {
	if s.listErr != nil {
		return 0, s.listErr
	}
	return len(s.invoices), nil
}

func (s *mockStore) ListInvoicesPage(_ context.Context, _ uuid.UUID, _ models.ExportFilter, limit, offset int) ([]*models.Invoice, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	defer func() {
		if s.afterPage != nil {
			s.afterPage()
		}
	}()
	if offset >= len(s.invoices) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.invoices) {
		end = len(s.invoices)
	}
	return s.invoices[offset:end], nil
}

func (s *mockStore) CountFindings(_ context.Context, _ uuid.UUID, _ models.ExportFilter) (int, error) {
	return len(s.findings), nil
}

func (s *mockStore) ListFindingsPage(_ context.Context, _ uuid.UUID, _ models.ExportFilter, limit, offset int) ([]*models.Finding, error) {
	if offset >= len(s.findings) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.findings) {
		end = len(s.findings)
	}
	return s.findings[offset:end], nil
}

func (s *mockStore) CountDisputes(_ context.Context, _ uuid.UUID, _ models.ExportFilter) (int, error) {
	return len(s.disputes), nil
}

func (s *mockStore) ListDisputesPage(_ context.Context, _ uuid.UUID, _ models.ExportFilter, limit, offset int) ([]*models.Dispute, error) {
	if offset >= len(s.disputes) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.disputes) {
		end = len(s.disputes)
	}
	return s.disputes[offset:end], nil
}

type mockCache struct {
	mu        sync.Mutex
	progress  map[string]models.ExportProgress
	history   []models.ExportProgress
	cancelled map[string]bool
}

func newMockCache() *mockCache {
	return &mockCache{
		progress:  make(map[string]models.ExportProgress),
		cancelled: make(map[string]bool),
	}
}

func (c *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *mockCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *mockCache) Ping(_ context.Context) error                                     { return nil }
func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, nil
}
func (c *mockCache) SetJobStatus(_ context.Context, _ uuid.UUID, _ string, _ time.Duration) error {
	return nil
}
func (c *mockCache) GetJobStatus(_ context.Context, _ uuid.UUID) (string, bool, error) {
	return "", false, nil
}

func (c *mockCache) SetExportProgress(_ context.Context, p models.ExportProgress, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress[p.ExportID] = p
	c.history = append(c.history, p)
	return nil
}

func (c *mockCache) GetExportProgress(_ context.Context, exportID string) (*models.ExportProgress, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.progress[exportID]
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

func (c *mockCache) MarkExportCancelled(_ context.Context, exportID string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled[exportID] = true
	return nil
}

func (c *mockCache) ExportCancelled(_ context.Context, exportID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled[exportID], nil
}

// --- helpers ---

func testConfig() config.ExportConfig {
	return config.ExportConfig{PageSize: 2, MaxRecords: 100, RecordsPerSec: 50}
}

func seedInvoices(n int) []*models.Invoice {
	vendorID := uuid.New()
	invoices := make([]*models.Invoice, n)
	for i := range invoices {
		invoices[i] = &models.Invoice{
			ID:            uuid.New(),
			VendorID:      vendorID,
			InvoiceNumber: "INV-100" + string(rune('0'+i)),
			InvoiceDate:   time.Date(2025, 3, i+1, 0, 0, 0, 0, time.UTC),
			AmountCents:   int64(1000 * (i + 1)),
			Currency:      "USD",
			Status:        "paid",
		}
	}
	return invoices
}

func csvRows(t *testing.T, buf *bytes.Buffer) [][]string {
	t.Helper()
	rows, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	return rows
}

// --- Run tests ---

func TestRun_CSVStreamsAllPages(t *testing.T) {
	st := &mockStore{invoices: seedInvoices(5)}
	ca := newMockCache()
	svc := NewService(st, ca, testConfig())

	var buf bytes.Buffer
	err := svc.Run(context.Background(), &buf, Params{
		ExportID: "exp-1",
		TenantID: uuid.New(),
		Kind:     models.ExportKindInvoices,
		Format:   FormatCSV,
	})
	require.NoError(t, err)

	rows := csvRows(t, &buf)
	require.Len(t, rows, 6)
	assert.Equal(t, headersFor(models.ExportKindInvoices), rows[0])
	assert.Equal(t, "INV-1000", rows[1][0])
	assert.Equal(t, "10.00", rows[1][3])
	assert.Equal(t, "2025-03-05", rows[5][2])

	p, ok, err := ca.GetExportProgress(context.Background(), "exp-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.ExportStatusCompleted, p.Status)
	assert.Equal(t, 100, p.Progress)
	assert.Equal(t, 5, p.ProcessedRecords)
	assert.Equal(t, 5, p.TotalRecords)
}

func TestRun_ProgressAdvancesPerPage(t *testing.T) {
	st := &mockStore{invoices: seedInvoices(4)}
	ca := newMockCache()
	svc := NewService(st, ca, testConfig())

	var buf bytes.Buffer
	err := svc.Run(context.Background(), &buf, Params{
		ExportID: "exp-2",
		TenantID: uuid.New(),
		Kind:     models.ExportKindInvoices,
	})
	require.NoError(t, err)

	var processed []int
	for _, p := range ca.history {
		if p.Status == models.ExportStatusProcessing {
			processed = append(processed, p.ProcessedRecords)
		}
	}
	assert.Equal(t, []int{0, 2, 4}, processed)
}

func TestRun_CancelledBetweenPages(t *testing.T) {
	st := &mockStore{invoices: seedInvoices(6)}
	ca := newMockCache()
	st.afterPage = func() {
		_ = ca.MarkExportCancelled(context.Background(), "exp-3", time.Minute)
	}
	svc := NewService(st, ca, testConfig())

	var buf bytes.Buffer
	err := svc.Run(context.Background(), &buf, Params{
		ExportID: "exp-3",
		TenantID: uuid.New(),
		Kind:     models.ExportKindInvoices,
	})
	require.ErrorIs(t, err, ErrCancelled)

	// Only the first page made it out before the flag was noticed.
	rows := csvRows(t, &buf)
	assert.Len(t, rows, 3)

	p, ok, _ := ca.GetExportProgress(context.Background(), "exp-3")
	require.True(t, ok)
	assert.Equal(t, models.ExportStatusCancelled, p.Status)
	assert.Equal(t, 2, p.ProcessedRecords)
}

func TestRun_EmptyResult(t *testing.T) {
	st := &mockStore{}
	ca := newMockCache()
	svc := NewService(st, ca, testConfig())

	var buf bytes.Buffer
	err := svc.Run(context.Background(), &buf, Params{
		ExportID: "exp-4",
		TenantID: uuid.New(),
		Kind:     models.ExportKindInvoices,
	})
	require.NoError(t, err)

	rows := csvRows(t, &buf)
	assert.Len(t, rows, 1)

	p, ok, _ := ca.GetExportProgress(context.Background(), "exp-4")
	require.True(t, ok)
	assert.Equal(t, models.ExportStatusCompleted, p.Status)
	assert.Equal(t, 100, p.Progress)
}

func TestRun_XLSXProducesWorkbook(t *testing.T) {
	st := &mockStore{invoices: seedInvoices(3)}
	ca := newMockCache()
	svc := NewService(st, ca, testConfig())

	var buf bytes.Buffer
	err := svc.Run(context.Background(), &buf, Params{
		ExportID: "exp-5",
		TenantID: uuid.New(),
		Kind:     models.ExportKindInvoices,
		Format:   FormatXLSX,
	})
	require.NoError(t, err)

	// XLSX files are zip archives.
	require.Greater(t, buf.Len(), 4)
	assert.Equal(t, "PK", buf.String()[:2])

	p, ok, _ := ca.GetExportProgress(context.Background(), "exp-5")
	require.True(t, ok)
	assert.Equal(t, models.ExportStatusCompleted, p.Status)
}

func TestRun_FindingsAndDisputesRows(t *testing.T) {
	vendorID := uuid.New()
	findingID := uuid.New()
	resolved := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	st := &mockStore{
		findings: []*models.Finding{{
			ID:                  findingID,
			VendorID:            vendorID,
			InvoiceID:           uuid.New(),
			Kind:                "overbilling",
			Description:         "billed above contracted rate",
			BilledAmountCents:   125050,
			ExpectedAmountCents: 100000,
			Status:              models.FindingStatusOpen,
			CreatedAt:           time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		}},
		disputes: []*models.Dispute{{
			ID:          uuid.New(),
			FindingID:   findingID,
			VendorID:    vendorID,
			AmountCents: 25050,
			Status:      "resolved",
			OpenedAt:    time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
			ResolvedAt:  &resolved,
		}},
	}
	ca := newMockCache()
	svc := NewService(st, ca, testConfig())

	var buf bytes.Buffer
	err := svc.Run(context.Background(), &buf, Params{
		ExportID: "exp-6",
		TenantID: uuid.New(),
		Kind:     models.ExportKindFindings,
	})
	require.NoError(t, err)
	rows := csvRows(t, &buf)
	require.Len(t, rows, 2)
	assert.Equal(t, "1250.50", rows[1][5])
	assert.Equal(t, "1000.00", rows[1][6])

	buf.Reset()
	err = svc.Run(context.Background(), &buf, Params{
		ExportID: "exp-7",
		TenantID: uuid.New(),
		Kind:     models.ExportKindDisputes,
	})
	require.NoError(t, err)
	rows = csvRows(t, &buf)
	require.Len(t, rows, 2)
	assert.Equal(t, "250.50", rows[1][3])
	assert.Equal(t, "2025-04-02", rows[1][6])
}

func TestRun_StoreErrorMarksFailed(t *testing.T) {
	st := &mockStore{listErr: errors.New("connection reset")}
	ca := newMockCache()
	svc := NewService(st, ca, testConfig())

	var buf bytes.Buffer
	err := svc.Run(context.Background(), &buf, Params{
		ExportID: "exp-8",
		TenantID: uuid.New(),
		Kind:     models.ExportKindInvoices,
	})
	require.Error(t, err)

	p, ok, _ := ca.GetExportProgress(context.Background(), "exp-8")
	require.True(t, ok)
	assert.Equal(t, models.ExportStatusFailed, p.Status)
}

func TestRun_UnknownKind(t *testing.T) {
	svc := NewService(&mockStore{}, newMockCache(), testConfig())

	var buf bytes.Buffer
	err := svc.Run(context.Background(), &buf, Params{
		ExportID: "exp-9",
		TenantID: uuid.New(),
		Kind:     "receipts",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown report kind")
}

// --- Validate tests ---

func TestValidate_OK(t *testing.T) {
	st := &mockStore{invoices: seedInvoices(5)}
	svc := NewService(st, newMockCache(), testConfig())

	v, err := svc.Validate(context.Background(), uuid.New(), models.ExportKindInvoices, models.ExportFilter{})
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Empty(t, v.Errors)
	assert.Equal(t, 5, v.EstimatedRecords)
	assert.InDelta(t, 0.1, v.EstimatedDurationSeconds, 0.001)
}

func TestValidate_UnknownKind(t *testing.T) {
	svc := NewService(&mockStore{}, newMockCache(), testConfig())

	v, err := svc.Validate(context.Background(), uuid.New(), "receipts", models.ExportFilter{})
	require.NoError(t, err)
	assert.False(t, v.Valid)
	require.Len(t, v.Errors, 1)
	assert.Contains(t, v.Errors[0], "unknown report kind")
}

func TestValidate_DateOrder(t *testing.T) {
	svc := NewService(&mockStore{}, newMockCache(), testConfig())

	v, err := svc.Validate(context.Background(), uuid.New(), models.ExportKindInvoices, models.ExportFilter{
		StartDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, v.Valid)
	require.Len(t, v.Errors, 1)
	assert.Contains(t, v.Errors[0], "start_date")
}

func TestValidate_TooManyRecords(t *testing.T) {
	st := &mockStore{invoices: seedInvoices(7)}
	cfg := testConfig()
	cfg.MaxRecords = 5
	svc := NewService(st, newMockCache(), cfg)

	v, err := svc.Validate(context.Background(), uuid.New(), models.ExportKindInvoices, models.ExportFilter{})
	require.NoError(t, err)
	assert.False(t, v.Valid)
	require.Len(t, v.Errors, 1)
	assert.Contains(t, v.Errors[0], "maximum is 5")
	assert.Equal(t, 7, v.EstimatedRecords)
}

// --- Cancel tests ---

func TestCancel_SetsFlagAndMarksProgress(t *testing.T) {
	ca := newMockCache()
	_ = ca.SetExportProgress(context.Background(), models.ExportProgress{
		ExportID:         "exp-10",
		Status:           models.ExportStatusProcessing,
		ProcessedRecords: 4,
		TotalRecords:     10,
	}, time.Minute)

	svc := NewService(&mockStore{}, ca, testConfig())
	require.NoError(t, svc.Cancel(context.Background(), "exp-10"))

	cancelled, err := ca.ExportCancelled(context.Background(), "exp-10")
	require.NoError(t, err)
	assert.True(t, cancelled)

	p, ok, _ := ca.GetExportProgress(context.Background(), "exp-10")
	require.True(t, ok)
	assert.Equal(t, models.ExportStatusCancelled, p.Status)
	assert.Equal(t, 4, p.ProcessedRecords)
}

func TestCancel_CompletedExportKeepsStatus(t *testing.T) {
	ca := newMockCache()
	_ = ca.SetExportProgress(context.Background(), models.ExportProgress{
		ExportID: "exp-11",
		Status:   models.ExportStatusCompleted,
		Progress: 100,
	}, time.Minute)

	svc := NewService(&mockStore{}, ca, testConfig())
	require.NoError(t, svc.Cancel(context.Background(), "exp-11"))

	p, ok, _ := ca.GetExportProgress(context.Background(), "exp-11")
	require.True(t, ok)
	assert.Equal(t, models.ExportStatusCompleted, p.Status)
}

// --- row formatting ---

func TestFormatCents(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{1050, "10.50"},
		{123456, "1234.56"},
		{-250, "-2.50"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatCents(tt.cents))
		})
	}
}

func TestHeadersFor_AllKinds(t *testing.T) {
	for _, kind := range []string{models.ExportKindInvoices, models.ExportKindFindings, models.ExportKindDisputes} {
		assert.NotEmpty(t, headersFor(kind), kind)
	}
	assert.Nil(t, headersFor("receipts"))
}

func TestSheetNameFor(t *testing.T) {
	assert.Equal(t, "Invoices", sheetNameFor(models.ExportKindInvoices))
	assert.Equal(t, "Report", sheetNameFor("unknown"))
	assert.False(t, strings.Contains(sheetNameFor(models.ExportKindFindings), " "))
}
