package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftai/driftd/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM tenants WHERE name = 'default' LIMIT 1`,
	).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default tenant: %w", err)
	}
	return &t, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Vendors & Contracts ---

// CreateVendor inserts the vendor and its first contract in one transaction
// and points active_contract_id at it. Vendor names are unique per tenant,
// case-insensitively; a collision returns ErrDuplicateKey.
func (s *PostgresStore) CreateVendor(ctx context.Context, vendor *models.Vendor, contract *models.Contract) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create vendor: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO vendors (id, tenant_id, name, display_name, category, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		vendor.ID, vendor.TenantID, vendor.Name, vendor.DisplayName, vendor.Category,
		vendor.CreatedAt, vendor.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert vendor: %w", err)
	}

	contract.VendorID = vendor.ID
	contract.TenantID = vendor.TenantID
	if err := insertContract(ctx, tx, contract); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE vendors SET active_contract_id = $2, updated_at = NOW() WHERE id = $1`,
		vendor.ID, contract.ID)
	if err != nil {
		return fmt.Errorf("set active contract: %w", err)
	}
	vendor.ActiveContractID = &contract.ID

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create vendor: %w", err)
	}
	return nil
}

func insertContract(ctx context.Context, tx pgx.Tx, c *models.Contract) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO contracts (id, tenant_id, vendor_id, filename, effective_date, renewal_end_date, reconciliation_summary, source_job_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.TenantID, c.VendorID, c.Filename, c.EffectiveDate, c.RenewalEndDate,
		c.ReconciliationSummary, c.SourceJobID, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert contract: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetVendor(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Vendor, error) {
	var v models.Vendor
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, display_name, category, active_contract_id, created_at, updated_at
		 FROM vendors WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&v.ID, &v.TenantID, &v.Name, &v.DisplayName, &v.Category, &v.ActiveContractID,
		&v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vendor: %w", err)
	}
	return &v, nil
}

func (s *PostgresStore) ListVendors(ctx context.Context, filter VendorFilter) ([]*models.Vendor, int, error) {
	conditions := []string{"tenant_id = $1"}
	args := []any{filter.TenantID}
	argIdx := 2

	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argIdx))
		args = append(args, filter.Category)
		argIdx++
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR display_name ILIKE $%d)", argIdx, argIdx))
		args = append(args, "%"+filter.Search+"%")
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM vendors WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count vendors: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT id, tenant_id, name, display_name, category, active_contract_id, created_at, updated_at
		 FROM vendors WHERE %s ORDER BY name ASC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list vendors: %w", err)
	}
	defer rows.Close()

	var vendors []*models.Vendor
	for rows.Next() {
		var v models.Vendor
		if err := rows.Scan(&v.ID, &v.TenantID, &v.Name, &v.DisplayName, &v.Category,
			&v.ActiveContractID, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan vendor: %w", err)
		}
		vendors = append(vendors, &v)
	}
	return vendors, total, rows.Err()
}

// FindVendorByName matches the canonical name case-insensitively.
func (s *PostgresStore) FindVendorByName(ctx context.Context, tenantID uuid.UUID, name string) (*models.Vendor, error) {
	var v models.Vendor
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, display_name, category, active_contract_id, created_at, updated_at
		 FROM vendors WHERE tenant_id = $1 AND LOWER(name) = LOWER($2)`, tenantID, name,
	).Scan(&v.ID, &v.TenantID, &v.Name, &v.DisplayName, &v.Category, &v.ActiveContractID,
		&v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find vendor by name: %w", err)
	}
	return &v, nil
}

// ReplaceContract inserts the new contract row, applies the reviewed vendor
// fields, and repoints the vendor's active_contract_id, all in one
// transaction. Prior contracts are kept for history. A rename that collides
// with another vendor returns ErrDuplicateKey. Returns the stored contract
// so callers get the assigned id.
func (s *PostgresStore) ReplaceContract(ctx context.Context, vendorID uuid.UUID, fields VendorFields, contract *models.Contract) (*models.Contract, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin replace contract: %w", err)
	}
	defer tx.Rollback(ctx)

	var tenantID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT tenant_id FROM vendors WHERE id = $1`, vendorID).Scan(&tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup vendor for replace: %w", err)
	}

	contract.VendorID = vendorID
	contract.TenantID = tenantID
	if err := insertContract(ctx, tx, contract); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE vendors SET name = $2, display_name = $3, category = $4,
		        active_contract_id = $5, updated_at = NOW()
		 WHERE id = $1`,
		vendorID, fields.Name, fields.DisplayName, fields.Category, contract.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("update vendor for replace: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit replace contract: %w", err)
	}
	return contract, nil
}

func (s *PostgresStore) GetContract(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Contract, error) {
	var c models.Contract
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, vendor_id, filename, effective_date, renewal_end_date, reconciliation_summary, source_job_id, created_at
		 FROM contracts WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&c.ID, &c.TenantID, &c.VendorID, &c.Filename, &c.EffectiveDate, &c.RenewalEndDate,
		&c.ReconciliationSummary, &c.SourceJobID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contract: %w", err)
	}
	return &c, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, tenant_id, type, status, progress, vendor_id, filename, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.TenantID, job.Type, job.Status, job.Progress, job.VendorID, job.Filename,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	var j models.Job
	var resultRaw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, type, status, progress, vendor_id, filename, result, error_message, started_at, completed_at, created_at, updated_at
		 FROM jobs WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&j.ID, &j.TenantID, &j.Type, &j.Status, &j.Progress, &j.VendorID, &j.Filename,
		&resultRaw, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(resultRaw) > 0 {
		var result models.ExtractionResult
		if err := json.Unmarshal(resultRaw, &result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
		j.Result = &result
	}
	return &j, nil
}

var validTransitions = map[string][]string{
	models.JobStatusPending:    {models.JobStatusProcessing},
	models.JobStatusProcessing: {models.JobStatusCompleted, models.JobStatusFailed},
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	// Fetch current status
	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	// Validate transition
	allowed := validTransitions[currentStatus]
	valid := false
	for _, a := range allowed {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid job status transition: %s -> %s", currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status == models.JobStatusProcessing {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		query += fmt.Sprintf(", completed_at = $%d, progress = 100", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.VendorID != nil {
		query += fmt.Sprintf(", vendor_id = $%d", argIdx)
		args = append(args, *params.VendorID)
		argIdx++
	}
	if params.Result != nil {
		data, err := json.Marshal(params.Result)
		if err != nil {
			return fmt.Errorf("encode job result: %w", err)
		}
		query += fmt.Sprintf(", result = $%d", argIdx)
		args = append(args, data)
		argIdx++
	}
	if params.Progress != nil {
		query += fmt.Sprintf(", progress = $%d", argIdx)
		args = append(args, *params.Progress)
		argIdx++
	}

	query += " WHERE id = $1"

	_, err = s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// --- Reconciliation exports ---

// exportWhere builds the WHERE clause shared by the count and page queries
// for an export. dateCol is the column the start/end filters apply to.
func exportWhere(tenantID uuid.UUID, filter models.ExportFilter, dateCol string) (string, []any) {
	conditions := []string{"tenant_id = $1"}
	args := []any{tenantID}
	argIdx := 2

	if filter.VendorID != "" {
		conditions = append(conditions, fmt.Sprintf("vendor_id = $%d", argIdx))
		args = append(args, filter.VendorID)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if !filter.StartDate.IsZero() {
		conditions = append(conditions, fmt.Sprintf("%s >= $%d", dateCol, argIdx))
		args = append(args, filter.StartDate)
		argIdx++
	}
	if !filter.EndDate.IsZero() {
		conditions = append(conditions, fmt.Sprintf("%s <= $%d", dateCol, argIdx))
		args = append(args, filter.EndDate)
		argIdx++
	}

	return strings.Join(conditions, " AND "), args
}

func (s *PostgresStore) CountInvoices(ctx context.Context, tenantID uuid.UUID, filter models.ExportFilter) (int, error) {
	where, args := exportWhere(tenantID, filter, "invoice_date")
	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM invoices WHERE "+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count invoices: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) ListInvoicesPage(ctx context.Context, tenantID uuid.UUID, filter models.ExportFilter, limit, offset int) ([]*models.Invoice, error) {
	where, args := exportWhere(tenantID, filter, "invoice_date")
	query := fmt.Sprintf(
		`SELECT id, tenant_id, vendor_id, invoice_number, invoice_date, amount_cents, currency, status, created_at
		 FROM invoices WHERE %s ORDER BY invoice_date ASC, id ASC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices page: %w", err)
	}
	defer rows.Close()

	var invoices []*models.Invoice
	for rows.Next() {
		var inv models.Invoice
		if err := rows.Scan(&inv.ID, &inv.TenantID, &inv.VendorID, &inv.InvoiceNumber,
			&inv.InvoiceDate, &inv.AmountCents, &inv.Currency, &inv.Status, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		invoices = append(invoices, &inv)
	}
	return invoices, rows.Err()
}

func (s *PostgresStore) CountFindings(ctx context.Context, tenantID uuid.UUID, filter models.ExportFilter) (int, error) {
	where, args := exportWhere(tenantID, filter, "created_at")
	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM findings WHERE "+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count findings: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) ListFindingsPage(ctx context.Context, tenantID uuid.UUID, filter models.ExportFilter, limit, offset int) ([]*models.Finding, error) {
	where, args := exportWhere(tenantID, filter, "created_at")
	query := fmt.Sprintf(
		`SELECT id, tenant_id, vendor_id, invoice_id, contract_id, kind, description, billed_amount_cents, expected_amount_cents, status, created_at
		 FROM findings WHERE %s ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list findings page: %w", err)
	}
	defer rows.Close()

	var findings []*models.Finding
	for rows.Next() {
		var f models.Finding
		if err := rows.Scan(&f.ID, &f.TenantID, &f.VendorID, &f.InvoiceID, &f.ContractID,
			&f.Kind, &f.Description, &f.BilledAmountCents, &f.ExpectedAmountCents,
			&f.Status, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		findings = append(findings, &f)
	}
	return findings, rows.Err()
}

func (s *PostgresStore) CountDisputes(ctx context.Context, tenantID uuid.UUID, filter models.ExportFilter) (int, error) {
	where, args := exportWhere(tenantID, filter, "opened_at")
	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM disputes WHERE "+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count disputes: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) ListDisputesPage(ctx context.Context, tenantID uuid.UUID, filter models.ExportFilter, limit, offset int) ([]*models.Dispute, error) {
	where, args := exportWhere(tenantID, filter, "opened_at")
	query := fmt.Sprintf(
		`SELECT id, tenant_id, finding_id, vendor_id, amount_cents, status, opened_at, resolved_at
		 FROM disputes WHERE %s ORDER BY opened_at ASC, id ASC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list disputes page: %w", err)
	}
	defer rows.Close()

	var disputes []*models.Dispute
	for rows.Next() {
		var d models.Dispute
		if err := rows.Scan(&d.ID, &d.TenantID, &d.FindingID, &d.VendorID, &d.AmountCents,
			&d.Status, &d.OpenedAt, &d.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan dispute: %w", err)
		}
		disputes = append(disputes, &d)
	}
	return disputes, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
