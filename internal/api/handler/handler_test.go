package handler_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/driftai/driftd/internal/api"
	"github.com/driftai/driftd/internal/api/handler"
	mw "github.com/driftai/driftd/internal/api/middleware"
	"github.com/driftai/driftd/internal/cache"
	"github.com/driftai/driftd/internal/config"
	"github.com/driftai/driftd/internal/export"
	"github.com/driftai/driftd/internal/extract"
	"github.com/driftai/driftd/internal/extract/mock"
	"github.com/driftai/driftd/internal/store"
	"github.com/driftai/driftd/pkg/models"
	"github.com/driftai/driftd/pkg/upload"
)

// --- fixtures ---

var (
	testTenantID = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	testRawKey   = "dk_test_contract_key_1234567890"
	testPrefix   = testRawKey[:8]
)

func testKeyHash() string {
	h, _ := bcrypt.GenerateFromPassword([]byte(testRawKey), bcrypt.MinCost)
	return string(h)
}

// --- mock store ---

type mockStore struct {
	mu       sync.Mutex
	keys     []*models.APIKey
	vendors  map[uuid.UUID]*models.Vendor
	jobs     map[uuid.UUID]*models.Job
	invoices []*models.Invoice
}

func newMockStore() *mockStore {
	return &mockStore{
		keys: []*models.APIKey{{
			ID:        uuid.New(),
			TenantID:  testTenantID,
			Name:      "test-key",
			KeyHash:   testKeyHash(),
			KeyPrefix: testPrefix,
			Scopes:    []string{"read", "write", "admin"},
		}},
		vendors: make(map[uuid.UUID]*models.Vendor),
		jobs:    make(map[uuid.UUID]*models.Job),
	}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) GetDefaultTenant(_ context.Context) (*models.Tenant, error) {
	return &models.Tenant{ID: testTenantID, Name: "test-tenant"}, nil
}

func (s *mockStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

func (s *mockStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return nil
}

func (s *mockStore) ListAPIKeys(_ context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.TenantID == tenantID && k.DeletedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *mockStore) RevokeAPIKey(_ context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.ID == id && k.TenantID == tenantID && k.DeletedAt == nil {
			now := time.Now()
			k.DeletedAt = &now
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *mockStore) CreateVendor(_ context.Context, vendor *models.Vendor, contract *models.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.vendors {
		if v.TenantID == vendor.TenantID && strings.EqualFold(v.Name, vendor.Name) {
			return store.ErrDuplicateKey
		}
	}
	contract.VendorID = vendor.ID
	contract.TenantID = vendor.TenantID
	vendor.ActiveContractID = &contract.ID
	s.vendors[vendor.ID] = vendor
	return nil
}

func (s *mockStore) GetVendor(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Vendor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.vendors[id]; ok && v.TenantID == tenantID {
		return v, nil
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) ListVendors(_ context.Context, f store.VendorFilter) ([]*models.Vendor, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Vendor
	for _, v := range s.vendors {
		if v.TenantID == f.TenantID {
			out = append(out, v)
		}
	}
	return out, len(out), nil
}

func (s *mockStore) FindVendorByName(_ context.Context, tenantID uuid.UUID, name string) (*models.Vendor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.vendors {
		if v.TenantID == tenantID && strings.EqualFold(v.Name, name) {
			return v, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) ReplaceContract(_ context.Context, vendorID uuid.UUID, fields store.VendorFields, contract *models.Contract) (*models.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vendors[vendorID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for id, other := range s.vendors {
		if id != vendorID && other.TenantID == v.TenantID && strings.EqualFold(other.Name, fields.Name) {
			return nil, store.ErrDuplicateKey
		}
	}
	v.Name = fields.Name
	v.DisplayName = fields.DisplayName
	v.Category = fields.Category
	contract.VendorID = vendorID
	contract.TenantID = v.TenantID
	v.ActiveContractID = &contract.ID
	return contract, nil
}

func (s *mockStore) GetContract(_ context.Context, _ uuid.UUID, _ uuid.UUID) (*models.Contract, error) {
	return nil, store.ErrNotFound
}

func (s *mockStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *mockStore) GetJob(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && j.TenantID == tenantID {
		copy := *j
		return &copy, nil
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, _ ...store.JobUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = status
		return nil
	}
	return store.ErrNotFound
}

func (s *mockStore) CountInvoices(_ context.Context, _ uuid.UUID, _ models.ExportFilter) (int, error) {
	return len(s.invoices), nil
}

func (s *mockStore) ListInvoicesPage(_ context.Context, _ uuid.UUID, _ models.ExportFilter, limit, offset int) ([]*models.Invoice, error) {
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
	return 0, nil
}
func (s *mockStore) ListFindingsPage(_ context.Context, _ uuid.UUID, _ models.ExportFilter, _, _ int) ([]*models.Finding, error) {
	return nil, nil
}
func (s *mockStore) CountDisputes(_ context.Context, _ uuid.UUID, _ models.ExportFilter) (int, error) {
	return 0, nil
}
func (s *mockStore) ListDisputesPage(_ context.Context, _ uuid.UUID, _ models.ExportFilter, _, _ int) ([]*models.Dispute, error) {
	return nil, nil
}

var _ store.Store = (*mockStore)(nil)

// --- mock cache ---

type mockCache struct {
	mu        sync.Mutex
	statuses  map[string]string
	progress  map[string]models.ExportProgress
	cancelled map[string]bool
	counters  map[string]int64
}

func newMockCache() *mockCache {
	return &mockCache{
		statuses:  make(map[string]string),
		progress:  make(map[string]models.ExportProgress),
		cancelled: make(map[string]bool),
		counters:  make(map[string]int64),
	}
}

func (c *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *mockCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *mockCache) Ping(_ context.Context) error                                     { return nil }

func (c *mockCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[jobID.String()] = status
	return nil
}

func (c *mockCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[jobID.String()]
	return s, ok, nil
}

func (c *mockCache) SetExportProgress(_ context.Context, p models.ExportProgress, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress[p.ExportID] = p
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

func (c *mockCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

var _ cache.Cache = (*mockCache)(nil)

// --- test harness ---

type testServer struct {
	server *httptest.Server
	store  *mockStore
	cache  *mockCache
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ms := newMockStore()
	mc := newMockCache()

	extractSvc := extract.NewExtractionService(mock.NewExtractor(), ms, mc, 10*time.Second)
	exportSvc := export.NewService(ms, mc, config.ExportConfig{
		PageSize:      2,
		MaxRecords:    1000,
		RecordsPerSec: 100,
	})

	uploadDeps := handler.UploadDeps{
		Service:    extractSvc,
		Gate:       upload.NewGate(nil, 0),
		StagingDir: t.TempDir(),
		MaxBytes:   upload.DefaultMaxSize,
	}

	deps := api.Dependencies{
		Auth:      mw.NewAuth(ms),
		RateLimit: mw.NewRateLimit(mc, 100),

		HealthHandler: handler.NewHealthHandler(ms, mc),

		UploadContractHandler:  handler.NewUploadContractHandler(uploadDeps),
		ReplaceContractHandler: handler.NewReplaceContractUploadHandler(uploadDeps),
		GetJobHandler:          handler.NewGetJobHandler(ms, mc),

		ConfirmCreateHandler:  handler.NewConfirmCreateHandler(ms),
		ConfirmReplaceHandler: handler.NewConfirmReplaceHandler(ms),
		CheckNameHandler:      handler.NewCheckNameHandler(ms),
		ListVendorsHandler:    handler.NewListVendorsHandler(ms),
		GetVendorHandler:      handler.NewGetVendorHandler(ms),

		DownloadExportHandler: handler.NewDownloadExportHandler(exportSvc),
		ExportProgressHandler: handler.NewExportProgressHandler(exportSvc),
		CancelExportHandler:   handler.NewCancelExportHandler(exportSvc),
		ValidateExportHandler: handler.NewValidateExportHandler(exportSvc),

		CreateKeyHandler: handler.NewCreateKeyHandler(ms),
		ListKeysHandler:  handler.NewListKeysHandler(ms),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(ms),
	}

	srv := httptest.NewServer(api.NewRouter(deps))
	t.Cleanup(srv.Close)

	return &testServer{server: srv, store: ms, cache: mc}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testRawKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (ts *testServer) uploadFile(t *testing.T, path, filename, contentType string, size int) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("x"), size))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, ts.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testRawKey)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeData(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func decodeError(t *testing.T, resp *http.Response) (code, message string) {
	t.Helper()
	defer resp.Body.Close()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env.Error.Code, env.Error.Message
}

func (ts *testServer) waitForJob(t *testing.T, jobID, want string) models.Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		resp := ts.do(t, http.MethodGet, "/api/v1/jobs/"+jobID, nil)
		var job models.Job
		decodeData(t, resp, &job)
		if job.Status == want {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for job %s to reach %s, got %s", jobID, want, job.Status)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (ts *testServer) seedCompletedJob(jobType string, vendorID *uuid.UUID) *models.Job {
	job := &models.Job{
		ID:       uuid.New(),
		TenantID: testTenantID,
		Type:     jobType,
		Status:   models.JobStatusCompleted,
		Progress: 100,
		VendorID: vendorID,
		Filename: "acme-msa.pdf",
		Result: &models.ExtractionResult{
			PrimaryVendorName:             "Acme Corporation",
			DBADisplayName:                "Acme",
			EffectiveDate:                 "2025-01-15",
			RenewalEndDate:                "2026-01-14",
			Category:                      "logistics",
			ContractReconciliationSummary: "Net-30, 2% discount above 10k units.",
		},
	}
	ts.store.mu.Lock()
	ts.store.jobs[job.ID] = job
	ts.store.mu.Unlock()
	return job
}

func (ts *testServer) seedVendor(t *testing.T, name string) *models.Vendor {
	t.Helper()
	vendor := &models.Vendor{
		ID:       uuid.New(),
		TenantID: testTenantID,
		Name:     name,
	}
	contract := &models.Contract{ID: uuid.New(), Filename: "old.pdf", EffectiveDate: time.Now()}
	require.NoError(t, ts.store.CreateVendor(context.Background(), vendor, contract))
	return vendor
}

// --- health ---

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.server.URL + "/api/v1/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	decodeData(t, resp, &out)
	assert.Equal(t, "ok", out["status"])
}

// --- uploads ---

func TestUploadContract_CreatesJobAndCompletes(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.uploadFile(t, "/api/v1/vendors/create-from-contract/upload", "acme.pdf", "application/pdf", 1024)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		JobID string `json:"job_id"`
	}
	decodeData(t, resp, &out)
	require.NotEmpty(t, out.JobID)

	job := ts.waitForJob(t, out.JobID, models.JobStatusCompleted)
	assert.Equal(t, models.JobTypeCreateVendor, job.Type)
}

func TestUploadContract_RejectsUnsupportedType(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.uploadFile(t, "/api/v1/vendors/create-from-contract/upload", "notes.txt", "text/plain", 100)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "INVALID_FILE", code)
}

func TestUploadContract_RejectsEmptyFile(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.uploadFile(t, "/api/v1/vendors/create-from-contract/upload", "empty.pdf", "application/pdf", 0)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestUploadContract_MissingFileField(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/vendors/create-from-contract/upload", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestReplaceContractUpload_InvalidVendorID(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.uploadFile(t, "/api/v1/vendors/not-a-uuid/replace-contract", "acme.pdf", "application/pdf", 100)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

// --- jobs ---

func TestGetJob_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "JOB_NOT_FOUND", code)
}

func TestGetJob_InvalidID(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

// --- confirm create ---

func TestConfirmCreate_MaterializesVendor(t *testing.T) {
	ts := newTestServer(t)
	job := ts.seedCompletedJob(models.JobTypeCreateVendor, nil)

	resp := ts.do(t, http.MethodPost, "/api/v1/vendors/create-from-contract/confirm", map[string]string{
		"primary_vendor_name": "Acme Corporation",
		"dba_display_name":    "Acme",
		"effective_date":      "2025-01-15",
		"renewal_end_date":    "01/14/2026",
		"category":            "logistics",
		"job_id":              job.ID.String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		VendorID   string `json:"vendor_id"`
		ContractID string `json:"contract_id"`
	}
	decodeData(t, resp, &out)
	require.NotEmpty(t, out.VendorID)
	require.NotEmpty(t, out.ContractID)

	vendor, err := ts.store.GetVendor(context.Background(), uuid.MustParse(out.VendorID), testTenantID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corporation", vendor.Name)
	require.NotNil(t, vendor.ActiveContractID)
	assert.Equal(t, out.ContractID, vendor.ActiveContractID.String())
}

func TestConfirmCreate_DuplicateName(t *testing.T) {
	ts := newTestServer(t)
	ts.seedVendor(t, "Acme Corporation")
	job := ts.seedCompletedJob(models.JobTypeCreateVendor, nil)

	resp := ts.do(t, http.MethodPost, "/api/v1/vendors/create-from-contract/confirm", map[string]string{
		"primary_vendor_name": "ACME CORPORATION",
		"effective_date":      "2025-01-15",
		"job_id":              job.ID.String(),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "DUPLICATE_VENDOR_NAME", code)
}

func TestConfirmCreate_JobNotCompleted(t *testing.T) {
	ts := newTestServer(t)
	job := ts.seedCompletedJob(models.JobTypeCreateVendor, nil)
	ts.store.mu.Lock()
	ts.store.jobs[job.ID].Status = models.JobStatusProcessing
	ts.store.mu.Unlock()

	resp := ts.do(t, http.MethodPost, "/api/v1/vendors/create-from-contract/confirm", map[string]string{
		"primary_vendor_name": "Acme Corporation",
		"effective_date":      "2025-01-15",
		"job_id":              job.ID.String(),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "JOB_NOT_COMPLETED", code)
}

func TestConfirmCreate_WrongJobType(t *testing.T) {
	ts := newTestServer(t)
	vendorID := uuid.New()
	job := ts.seedCompletedJob(models.JobTypeReplaceContract, &vendorID)

	resp := ts.do(t, http.MethodPost, "/api/v1/vendors/create-from-contract/confirm", map[string]string{
		"primary_vendor_name": "Acme Corporation",
		"effective_date":      "2025-01-15",
		"job_id":              job.ID.String(),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "JOB_TYPE_MISMATCH", code)
}

func TestConfirmCreate_MissingName(t *testing.T) {
	ts := newTestServer(t)
	job := ts.seedCompletedJob(models.JobTypeCreateVendor, nil)

	resp := ts.do(t, http.MethodPost, "/api/v1/vendors/create-from-contract/confirm", map[string]string{
		"effective_date": "2025-01-15",
		"job_id":         job.ID.String(),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestConfirmCreate_BadDate(t *testing.T) {
	ts := newTestServer(t)
	job := ts.seedCompletedJob(models.JobTypeCreateVendor, nil)

	resp := ts.do(t, http.MethodPost, "/api/v1/vendors/create-from-contract/confirm", map[string]string{
		"primary_vendor_name": "Acme Corporation",
		"effective_date":      "January 15, 2025",
		"job_id":              job.ID.String(),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

// --- confirm replace ---

func TestConfirmReplace_SwapsActiveContract(t *testing.T) {
	ts := newTestServer(t)
	vendor := ts.seedVendor(t, "Acme Corporation")
	oldContractID := *vendor.ActiveContractID
	job := ts.seedCompletedJob(models.JobTypeReplaceContract, &vendor.ID)

	resp := ts.do(t, http.MethodPost, "/api/v1/vendors/"+vendor.ID.String()+"/replace-contract/confirm", map[string]string{
		"primary_vendor_name": "Acme Corporation",
		"effective_date":      "2025-06-01",
		"job_id":              job.ID.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		VendorID   string `json:"vendor_id"`
		ContractID string `json:"contract_id"`
	}
	decodeData(t, resp, &out)
	assert.Equal(t, vendor.ID.String(), out.VendorID)
	assert.NotEqual(t, oldContractID.String(), out.ContractID)

	got, err := ts.store.GetVendor(context.Background(), vendor.ID, testTenantID)
	require.NoError(t, err)
	assert.Equal(t, out.ContractID, got.ActiveContractID.String())
}

func TestConfirmReplace_AppliesReviewedVendorFields(t *testing.T) {
	ts := newTestServer(t)
	vendor := ts.seedVendor(t, "Acme Corporation")
	job := ts.seedCompletedJob(models.JobTypeReplaceContract, &vendor.ID)

	resp := ts.do(t, http.MethodPost, "/api/v1/vendors/"+vendor.ID.String()+"/replace-contract/confirm", map[string]string{
		"primary_vendor_name": "Acme Corporation Renamed",
		"dba_display_name":    "Acme Renamed",
		"category":            "hardware",
		"effective_date":      "2025-06-01",
		"job_id":              job.ID.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	got, err := ts.store.GetVendor(context.Background(), vendor.ID, testTenantID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corporation Renamed", got.Name)
	assert.Equal(t, "Acme Renamed", got.DisplayName)
	assert.Equal(t, "hardware", got.Category)
}

func TestConfirmReplace_RenameCollision(t *testing.T) {
	ts := newTestServer(t)
	ts.seedVendor(t, "Beta Logistics")
	vendor := ts.seedVendor(t, "Acme Corporation")
	job := ts.seedCompletedJob(models.JobTypeReplaceContract, &vendor.ID)

	resp := ts.do(t, http.MethodPost, "/api/v1/vendors/"+vendor.ID.String()+"/replace-contract/confirm", map[string]string{
		"primary_vendor_name": "beta logistics",
		"effective_date":      "2025-06-01",
		"job_id":              job.ID.String(),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "DUPLICATE_VENDOR_NAME", code)
}

func TestConfirmReplace_JobVendorMismatch(t *testing.T) {
	ts := newTestServer(t)
	vendor := ts.seedVendor(t, "Acme Corporation")
	otherVendorID := uuid.New()
	job := ts.seedCompletedJob(models.JobTypeReplaceContract, &otherVendorID)

	resp := ts.do(t, http.MethodPost, "/api/v1/vendors/"+vendor.ID.String()+"/replace-contract/confirm", map[string]string{
		"primary_vendor_name": "Acme Corporation",
		"effective_date":      "2025-06-01",
		"job_id":              job.ID.String(),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "JOB_VENDOR_MISMATCH", code)
}

// --- check name ---

func TestCheckName_Unique(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/vendors/check-name", map[string]string{"name": "Brand New Vendor"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		IsUnique bool `json:"is_unique"`
	}
	decodeData(t, resp, &out)
	assert.True(t, out.IsUnique)
}

func TestCheckName_Taken(t *testing.T) {
	ts := newTestServer(t)
	vendor := ts.seedVendor(t, "Acme Corporation")

	resp := ts.do(t, http.MethodPost, "/api/v1/vendors/check-name", map[string]string{"name": "acme corporation"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		IsUnique         bool   `json:"is_unique"`
		ExistingVendorID string `json:"existing_vendor_id"`
	}
	decodeData(t, resp, &out)
	assert.False(t, out.IsUnique)
	assert.Equal(t, vendor.ID.String(), out.ExistingVendorID)
}

func TestCheckName_Empty(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/vendors/check-name", map[string]string{"name": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

// --- vendors ---

func TestListVendors(t *testing.T) {
	ts := newTestServer(t)
	ts.seedVendor(t, "Acme Corporation")
	ts.seedVendor(t, "Beta Logistics")

	resp := ts.do(t, http.MethodGet, "/api/v1/vendors", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	var env struct {
		Data []models.Vendor `json:"data"`
		Meta struct {
			Total int `json:"total"`
		} `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Len(t, env.Data, 2)
	assert.Equal(t, 2, env.Meta.Total)
}

func TestGetVendor_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/vendors/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "VENDOR_NOT_FOUND", code)
}

// --- exports ---

func seedTestInvoices(ts *testServer, n int) {
	vendorID := uuid.New()
	for i := 0; i < n; i++ {
		ts.store.invoices = append(ts.store.invoices, &models.Invoice{
			ID:            uuid.New(),
			TenantID:      testTenantID,
			VendorID:      vendorID,
			InvoiceNumber: fmt.Sprintf("INV-%03d", i),
			InvoiceDate:   time.Date(2025, 2, i+1, 0, 0, 0, 0, time.UTC),
			AmountCents:   int64(5000 + i),
			Currency:      "USD",
			Status:        "paid",
		})
	}
}

func TestDownloadExport_CSV(t *testing.T) {
	ts := newTestServer(t)
	seedTestInvoices(ts, 5)

	resp := ts.do(t, http.MethodGet, "/api/v1/streaming-reports/invoices.csv", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	exportID := resp.Header.Get("X-Export-ID")
	require.NotEmpty(t, exportID)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")

	rows, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 6)

	progResp := ts.do(t, http.MethodGet, "/api/v1/streaming-reports/progress/"+exportID, nil)
	require.Equal(t, http.StatusOK, progResp.StatusCode)
	var p models.ExportProgress
	decodeData(t, progResp, &p)
	assert.Equal(t, models.ExportStatusCompleted, p.Status)
	assert.Equal(t, 100, p.Progress)
}

func TestDownloadExport_InvalidKind(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/streaming-reports/receipts.csv", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "INVALID_EXPORT_KIND", code)
}

func TestDownloadExport_BadDateRange(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/streaming-reports/invoices.csv?start_date=2025-06-01&end_date=2025-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestDownloadExport_InvalidVendorID(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/streaming-reports/invoices.csv?vendor_id=not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	code, msg := decodeError(t, resp)
	assert.Equal(t, "INVALID_REQUEST", code)
	assert.Contains(t, msg, "vendor_id")
}

func TestValidateExport_InvalidVendorID(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/streaming-reports/validate/invoices",
		map[string]string{"vendor_id": "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "INVALID_REQUEST", code)
}

func TestExportProgress_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/streaming-reports/progress/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "EXPORT_NOT_FOUND", code)
}

func TestCancelExport(t *testing.T) {
	ts := newTestServer(t)
	exportID := uuid.NewString()
	require.NoError(t, ts.cache.SetExportProgress(context.Background(), models.ExportProgress{
		ExportID: exportID,
		Status:   models.ExportStatusProcessing,
	}, time.Minute))

	resp := ts.do(t, http.MethodPost, "/api/v1/streaming-reports/cancel/"+exportID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	decodeData(t, resp, &out)
	assert.True(t, out.Success)

	// Second cancel is refused: the export is already cancelled.
	resp = ts.do(t, http.MethodPost, "/api/v1/streaming-reports/cancel/"+exportID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, resp, &out)
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "cancelled")
}

func TestValidateExport(t *testing.T) {
	ts := newTestServer(t)
	seedTestInvoices(ts, 10)

	resp := ts.do(t, http.MethodPost, "/api/v1/streaming-reports/validate/invoices", map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Valid            bool     `json:"valid"`
		Errors           []string `json:"errors"`
		EstimatedRecords int      `json:"estimated_records"`
	}
	decodeData(t, resp, &out)
	assert.True(t, out.Valid)
	assert.Empty(t, out.Errors)
	assert.Equal(t, 10, out.EstimatedRecords)
}

func TestValidateExport_UnknownKind(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/streaming-reports/validate/receipts", map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors"`
	}
	decodeData(t, resp, &out)
	assert.False(t, out.Valid)
	require.NotEmpty(t, out.Errors)
}

// --- admin keys ---

func TestCreateKey(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/admin/keys", map[string]any{
		"name":   "ci-pipeline",
		"scopes": []string{"read"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Key       string `json:"key"`
		KeyPrefix string `json:"key_prefix"`
	}
	decodeData(t, resp, &out)
	assert.True(t, strings.HasPrefix(out.Key, "dk_"))
	assert.Equal(t, out.Key[:8], out.KeyPrefix)
}

func TestListAndRevokeKeys(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/admin/keys", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var keys []models.APIKey
	decodeData(t, resp, &keys)
	require.Len(t, keys, 1)

	resp = ts.do(t, http.MethodDelete, "/api/v1/admin/keys/"+keys[0].ID.String(), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodDelete, "/api/v1/admin/keys/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
