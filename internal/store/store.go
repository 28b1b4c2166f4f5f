package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/driftai/driftd/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	CreateVendor(ctx context.Context, vendor *models.Vendor, contract *models.Contract) error
	GetVendor(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Vendor, error)
	ListVendors(ctx context.Context, filter VendorFilter) ([]*models.Vendor, int, error)
	FindVendorByName(ctx context.Context, tenantID uuid.UUID, name string) (*models.Vendor, error)
	ReplaceContract(ctx context.Context, vendorID uuid.UUID, fields VendorFields, contract *models.Contract) (*models.Contract, error)
	GetContract(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Contract, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error

	CountInvoices(ctx context.Context, tenantID uuid.UUID, filter models.ExportFilter) (int, error)
	ListInvoicesPage(ctx context.Context, tenantID uuid.UUID, filter models.ExportFilter, limit, offset int) ([]*models.Invoice, error)
	CountFindings(ctx context.Context, tenantID uuid.UUID, filter models.ExportFilter) (int, error)
	ListFindingsPage(ctx context.Context, tenantID uuid.UUID, filter models.ExportFilter, limit, offset int) ([]*models.Finding, error)
	CountDisputes(ctx context.Context, tenantID uuid.UUID, filter models.ExportFilter) (int, error)
	ListDisputesPage(ctx context.Context, tenantID uuid.UUID, filter models.ExportFilter, limit, offset int) ([]*models.Dispute, error)
}

// VendorFields carries the reviewed vendor attributes written alongside a
// replacement contract. The review form lets the user correct these, so the
// confirm must persist them, not just the contract row.
type VendorFields struct {
	Name        string
	DisplayName string
	Category    string
}

// VendorFilter narrows and paginates vendor listings.
type VendorFilter struct {
	TenantID uuid.UUID
	Category string
	Search   string
	Page     int
	Limit    int
}

type jobUpdateParams struct {
	ErrorMessage *string
	VendorID     *uuid.UUID
	Result       *models.ExtractionResult
	Progress     *int
}

type JobUpdateOption func(*jobUpdateParams)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithVendorID(id uuid.UUID) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.VendorID = &id
	}
}

func WithResult(result models.ExtractionResult) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Result = &result
	}
}

func WithProgress(progress int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Progress = &progress
	}
}
