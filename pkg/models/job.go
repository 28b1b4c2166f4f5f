package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

const (
	JobTypeCreateVendor    = "create_vendor"
	JobTypeReplaceContract = "replace_contract"
)

// Job tracks async document-extraction jobs. The API returns a job_id on
// upload; the client polls GET /api/v1/jobs/{job_id} until status is
// completed or failed. The job row is mutated only by the server; clients
// treat it as read-only.
type Job struct {
	ID           uuid.UUID         `db:"id"            json:"id"`
	TenantID     uuid.UUID         `db:"tenant_id"     json:"tenant_id"`
	Type         string            `db:"type"          json:"type"`
	Status       string            `db:"status"        json:"status"`
	Progress     int               `db:"progress"      json:"progress"`
	VendorID     *uuid.UUID        `db:"vendor_id"     json:"vendor_id,omitempty"`
	Filename     string            `db:"filename"      json:"filename"`
	Result       *ExtractionResult `db:"result"        json:"result,omitempty"`
	ErrorMessage *string           `db:"error_message" json:"error,omitempty"`
	StartedAt    *time.Time        `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time        `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time         `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at"    json:"updated_at"`
}

// Terminal reports whether the job has reached a state the server will not
// transition out of.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
