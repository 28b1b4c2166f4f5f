package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/driftai/driftd/internal/cache"
	"github.com/driftai/driftd/internal/metrics"
	"github.com/driftai/driftd/internal/store"
	"github.com/driftai/driftd/pkg/models"
)

const jobStatusTTL = 30 * time.Minute

// ExtractionParams holds validated parameters for an extraction request.
// Path is the staged upload on local disk; the service deletes it when the
// job reaches a terminal state.
type ExtractionParams struct {
	TenantID uuid.UUID
	Type     string
	VendorID *uuid.UUID
	Filename string
	Path     string
}

// ExtractionService orchestrates document extraction jobs.
type ExtractionService struct {
	extractor models.Extractor
	store     store.Store
	cache     cache.Cache
	timeout   time.Duration
}

// NewExtractionService creates a new ExtractionService.
func NewExtractionService(extractor models.Extractor, st store.Store, ca cache.Cache, timeout time.Duration) *ExtractionService {
	return &ExtractionService{
		extractor: extractor,
		store:     st,
		cache:     ca,
		timeout:   timeout,
	}
}

// TriggerExtraction creates a pending job and dispatches extraction in a
// background goroutine. Returns the job immediately without waiting for
// extraction to complete.
func (s *ExtractionService) TriggerExtraction(ctx context.Context, params ExtractionParams) (*models.Job, error) {
	if params.Filename == "" || params.Path == "" {
		return nil, fmt.Errorf("invalid extraction params: filename and path are required")
	}
	if params.Type == models.JobTypeReplaceContract && params.VendorID == nil {
		return nil, fmt.Errorf("invalid extraction params: vendor id is required for %s", params.Type)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		TenantID:  params.TenantID,
		Type:      params.Type,
		Status:    models.JobStatusPending,
		VendorID:  params.VendorID,
		Filename:  params.Filename,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	_ = s.cache.SetJobStatus(ctx, job.ID, models.JobStatusPending, jobStatusTTL)

	go s.runExtraction(job.ID, params)

	return job, nil
}

// runExtraction performs the actual extraction in a goroutine.
// It recovers from panics and always marks the job as completed or failed.
func (s *ExtractionService) runExtraction(jobID uuid.UUID, params ExtractionParams) {
	ctx := context.Background()
	start := time.Now()
	outcome := models.JobStatusFailed

	defer os.Remove(params.Path)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in runExtraction", "error", r, "job_id", jobID)
			s.fail(ctx, jobID, fmt.Sprintf("panic: %v", r))
			outcome = models.JobStatusFailed
		}
		metrics.ObserveExtraction(s.extractor.Name(), outcome, time.Since(start).Seconds())
	}()

	// Mark as processing
	_ = s.store.UpdateJobStatus(ctx, jobID, models.JobStatusProcessing)
	_ = s.cache.SetJobStatus(ctx, jobID, models.JobStatusProcessing, jobStatusTTL)

	info, err := os.Stat(params.Path)
	if err != nil {
		s.fail(ctx, jobID, fmt.Sprintf("staged upload missing: %v", err))
		return
	}

	// Call the provider with timeout
	extractCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.extractor.Extract(extractCtx, models.Document{
		Filename: params.Filename,
		Path:     params.Path,
		Size:     info.Size(),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrExtractionTimeout
		}
		s.fail(ctx, jobID, err.Error())
		return
	}

	if err := s.store.UpdateJobStatus(ctx, jobID, models.JobStatusCompleted, store.WithResult(result)); err != nil {
		slog.Error("marking job completed", "error", err, "job_id", jobID)
		return
	}
	_ = s.cache.SetJobStatus(ctx, jobID, models.JobStatusCompleted, jobStatusTTL)
	outcome = models.JobStatusCompleted
}

func (s *ExtractionService) fail(ctx context.Context, jobID uuid.UUID, msg string) {
	_ = s.store.UpdateJobStatus(ctx, jobID, models.JobStatusFailed, store.WithErrorMessage(msg))
	_ = s.cache.SetJobStatus(ctx, jobID, models.JobStatusFailed, jobStatusTTL)
}
