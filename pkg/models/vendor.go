package models

import (
	"time"

	"github.com/google/uuid"
)

// Vendor is a supplier whose contracts and invoices are reconciled.
// DisplayName is the optional "doing business as" name shown in reports;
// Name is the canonical legal name and is unique per tenant
// (case-insensitive).
type Vendor struct {
	ID               uuid.UUID  `db:"id"                 json:"id"`
	TenantID         uuid.UUID  `db:"tenant_id"          json:"tenant_id"`
	Name             string     `db:"name"               json:"name"`
	DisplayName      string     `db:"display_name"       json:"display_name,omitempty"`
	Category         string     `db:"category"           json:"category,omitempty"`
	ActiveContractID *uuid.UUID `db:"active_contract_id" json:"active_contract_id,omitempty"`
	CreatedAt        time.Time  `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"         json:"updated_at"`
}
