package models

import (
	"time"

	"github.com/google/uuid"
)

// Contract is one executed agreement for a vendor. A vendor may have many
// contract rows over time; the vendor's ActiveContractID points at the one
// currently used for reconciliation.
type Contract struct {
	ID                    uuid.UUID  `db:"id"             json:"id"`
	TenantID              uuid.UUID  `db:"tenant_id"      json:"tenant_id"`
	VendorID              uuid.UUID  `db:"vendor_id"      json:"vendor_id"`
	Filename              string     `db:"filename"       json:"filename"`
	EffectiveDate         time.Time  `db:"effective_date" json:"effective_date"`
	RenewalEndDate        *time.Time `db:"renewal_end_date" json:"renewal_end_date,omitempty"`
	ReconciliationSummary string     `db:"reconciliation_summary" json:"reconciliation_summary,omitempty"`
	SourceJobID           *uuid.UUID `db:"source_job_id"  json:"source_job_id,omitempty"`
	CreatedAt             time.Time  `db:"created_at"     json:"created_at"`
}
