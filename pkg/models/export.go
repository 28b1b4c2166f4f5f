package models

import "time"

// Export kinds accepted by the streaming-reports endpoints.
const (
	ExportKindInvoices = "invoices"
	ExportKindFindings = "findings"
	ExportKindDisputes = "disputes"
)

// ExportStatus names the lifecycle state of a streaming export.
type ExportStatus = string

const (
	ExportStatusPending    = "pending"
	ExportStatusProcessing = "processing"
	ExportStatusCompleted  = "completed"
	ExportStatusFailed     = "failed"
	ExportStatusCancelled  = "cancelled"
)

// ValidExportKind reports whether kind names a supported report.
func ValidExportKind(kind string) bool {
	return kind == ExportKindInvoices || kind == ExportKindFindings || kind == ExportKindDisputes
}

// ExportProgress is the progress record polled while a streaming export runs.
// It lives in the cache with a short TTL; exports are not persisted.
type ExportProgress struct {
	ExportID         string    `json:"export_id"`
	Status           string    `json:"status"`
	Progress         int       `json:"progress"`
	TotalRecords     int       `json:"total_records"`
	ProcessedRecords int       `json:"processed_records"`
	CurrentStep      string    `json:"current_step"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ExportFilter narrows which rows an export includes. Zero values mean
// "no constraint"; dates are inclusive.
type ExportFilter struct {
	VendorID  string
	Status    string
	StartDate time.Time
	EndDate   time.Time
}
