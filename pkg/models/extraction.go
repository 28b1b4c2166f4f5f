// Package models contains shared data models used across the driftd codebase.
package models

import "context"

// Extractor is the core interface that all document-extraction integrations
// must implement. Callers take this interface rather than a concrete backend.
type Extractor interface {
	// Extract pulls structured contract fields out of an uploaded document.
	Extract(ctx context.Context, doc Document) (ExtractionResult, error)
	// Name returns the provider identifier (e.g., "docai", "mock").
	Name() string
}

// Document is the input to an extraction operation.
type Document struct {
	Filename    string
	ContentType string
	Path        string // staging path on local disk
	Size        int64
}

// ExtractionResult holds the structured fields pulled from a contract document.
// Provider payloads are untrusted input; they are schema-validated before this
// struct is populated.
type ExtractionResult struct {
	PrimaryVendorName             string `json:"primary_vendor_name"`
	DBADisplayName                string `json:"dba_display_name,omitempty"`
	EffectiveDate                 string `json:"effective_date"`
	RenewalEndDate                string `json:"renewal_end_date,omitempty"`
	Category                      string `json:"category,omitempty"`
	ContractReconciliationSummary string `json:"contract_reconciliation_summary,omitempty"`
}
