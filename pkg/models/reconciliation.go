package models

import (
	"time"

	"github.com/google/uuid"
)

// Invoice is one vendor invoice matched against the vendor's active contract.
type Invoice struct {
	ID            uuid.UUID `db:"id"             json:"id"`
	TenantID      uuid.UUID `db:"tenant_id"      json:"tenant_id"`
	VendorID      uuid.UUID `db:"vendor_id"      json:"vendor_id"`
	InvoiceNumber string    `db:"invoice_number" json:"invoice_number"`
	InvoiceDate   time.Time `db:"invoice_date"   json:"invoice_date"`
	AmountCents   int64     `db:"amount_cents"   json:"amount_cents"`
	Currency      string    `db:"currency"       json:"currency"`
	Status        string    `db:"status"         json:"status"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
}

const (
	FindingStatusOpen     = "open"
	FindingStatusDisputed = "disputed"
	FindingStatusResolved = "resolved"
)

// Finding is one contract-vs-invoice discrepancy surfaced by reconciliation:
// an invoice line that does not match the contract terms, with the billed
// amount, the expected amount, and a plain-language description.
type Finding struct {
	ID                  uuid.UUID `db:"id"                   json:"id"`
	TenantID            uuid.UUID `db:"tenant_id"            json:"tenant_id"`
	VendorID            uuid.UUID `db:"vendor_id"            json:"vendor_id"`
	InvoiceID           uuid.UUID `db:"invoice_id"           json:"invoice_id"`
	ContractID          uuid.UUID `db:"contract_id"          json:"contract_id"`
	Kind                string    `db:"kind"                 json:"kind"`
	Description         string    `db:"description"          json:"description"`
	BilledAmountCents   int64     `db:"billed_amount_cents"  json:"billed_amount_cents"`
	ExpectedAmountCents int64     `db:"expected_amount_cents" json:"expected_amount_cents"`
	Status              string    `db:"status"               json:"status"`
	CreatedAt           time.Time `db:"created_at"           json:"created_at"`
}

// Dispute is a finding escalated to the vendor for credit or correction.
type Dispute struct {
	ID          uuid.UUID  `db:"id"           json:"id"`
	TenantID    uuid.UUID  `db:"tenant_id"    json:"tenant_id"`
	FindingID   uuid.UUID  `db:"finding_id"   json:"finding_id"`
	VendorID    uuid.UUID  `db:"vendor_id"    json:"vendor_id"`
	AmountCents int64      `db:"amount_cents" json:"amount_cents"`
	Status      string     `db:"status"       json:"status"`
	OpenedAt    time.Time  `db:"opened_at"    json:"opened_at"`
	ResolvedAt  *time.Time `db:"resolved_at"  json:"resolved_at,omitempty"`
}
