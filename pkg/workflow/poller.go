package workflow

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/driftai/driftd/pkg/models"
	"github.com/driftai/driftd/pkg/upload"
)

// Poller states. Idle is initial; Completed, Failed and TimedOut are
// terminal. A terminal poller only leaves its state via a fresh Submit,
// which abandons the old job's poll loop entirely.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateTimedOut   State = "timed_out"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollCeiling  = 60 * time.Second

	// Progress estimate shape: ramp 0→80 over the first rampDuration
	// (models the extraction backend's minimum processing time), then
	// 80→95 over the rest of the window. 100 is only implied by the job
	// reaching completed.
	rampDuration  = 8 * time.Second
	rampProgress  = 80.0
	tailProgress  = 15.0
	progressLimit = 95.0
)

// EstimateProgress computes the client-side progress estimate for the given
// elapsed time since submission. It is independent of any server-reported
// progress and exists purely for UI feedback.
func EstimateProgress(elapsed time.Duration) float64 {
	if elapsed < rampDuration {
		return float64(elapsed) / float64(rampDuration) * rampProgress
	}
	if elapsed < defaultPollCeiling {
		return rampProgress + float64(elapsed-rampDuration)/float64(defaultPollCeiling-rampDuration)*tailProgress
	}
	return progressLimit
}

// estimateProgressAt is EstimateProgress generalized over the poller's
// configured ceiling so fast test configurations keep the same shape.
func estimateProgressAt(elapsed, ceiling time.Duration) float64 {
	ramp := rampDuration
	if ramp >= ceiling {
		ramp = ceiling / 2
	}
	if elapsed < ramp {
		return float64(elapsed) / float64(ramp) * rampProgress
	}
	if elapsed < ceiling {
		return rampProgress + float64(elapsed-ramp)/float64(ceiling-ramp)*tailProgress
	}
	return progressLimit
}

// Snapshot is a point-in-time view of a poller.
type Snapshot struct {
	State    State
	JobID    string
	Progress float64
	Result   *models.ExtractionResult
	Err      error
}

// JobPoller owns the submit → poll → terminal lifecycle of one extraction
// job. At most one job is active per poller; submitting again abandons the
// previous job's loop. Safe for concurrent use.
type JobPoller struct {
	client   *Client
	gate     *upload.Gate
	interval time.Duration
	ceiling  time.Duration
	onUpdate func(Snapshot)

	mu          sync.Mutex
	state       State
	generation  uint64
	jobID       string
	submittedAt time.Time
	result      *models.ExtractionResult
	err         error
	cancel      context.CancelFunc
}

// PollerOption configures a JobPoller.
type PollerOption func(*JobPoller)

// WithPollTiming overrides the poll interval and the client-enforced
// wall-clock ceiling. Defaults are 2s and 60s.
func WithPollTiming(interval, ceiling time.Duration) PollerOption {
	return func(p *JobPoller) {
		p.interval = interval
		p.ceiling = ceiling
	}
}

// WithGate replaces the default upload gate.
func WithGate(g *upload.Gate) PollerOption {
	return func(p *JobPoller) { p.gate = g }
}

// WithUpdateFunc registers a callback invoked on every state or progress
// change. Called without the poller lock held; callbacks for an abandoned
// generation are suppressed.
func WithUpdateFunc(fn func(Snapshot)) PollerOption {
	return func(p *JobPoller) { p.onUpdate = fn }
}

// NewJobPoller creates an idle poller.
func NewJobPoller(client *Client, opts ...PollerOption) *JobPoller {
	p := &JobPoller{
		client:   client,
		gate:     upload.NewGate(nil, 0),
		interval: defaultPollInterval,
		ceiling:  defaultPollCeiling,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SubmitCreate gates and uploads a contract for vendor creation, then polls
// the job to a terminal state. It returns once the upload call has resolved;
// polling continues in the background.
func (p *JobPoller) SubmitCreate(ctx context.Context, file io.Reader, info upload.FileInfo) error {
	return p.submit(ctx, info, func(ctx context.Context) (string, error) {
		return p.client.UploadContract(ctx, file, info)
	})
}

// SubmitReplace gates and uploads a replacement contract for an existing
// vendor, then polls the job to a terminal state.
func (p *JobPoller) SubmitReplace(ctx context.Context, vendorID string, file io.Reader, info upload.FileInfo) error {
	return p.submit(ctx, info, func(ctx context.Context) (string, error) {
		return p.client.ReplaceContract(ctx, vendorID, file, info)
	})
}

func (p *JobPoller) submit(ctx context.Context, info upload.FileInfo, send func(context.Context) (string, error)) error {
	// Gate first: a rejected file must not cost a network round-trip.
	if res := p.gate.Check(info); !res.Valid {
		return &GateError{Reason: res.Reason}
	}

	p.mu.Lock()
	// Abandon any previous job: its poll loop stops and any in-flight
	// response is discarded by the generation guard.
	if p.cancel != nil {
		p.cancel()
	}
	p.generation++
	gen := p.generation
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.state = StateSubmitting
	p.jobID = ""
	p.result = nil
	p.err = nil
	submittedAt := time.Now()
	p.submittedAt = submittedAt
	p.mu.Unlock()
	p.notify(gen)

	jobID, err := send(ctx)
	if err != nil {
		// Transport failure during submit is terminal for this attempt.
		// Retries, if any, already happened inside the transport client.
		p.transition(gen, func() {
			p.state = StateFailed
			p.err = err
		})
		cancel()
		return err
	}

	ok := p.transition(gen, func() {
		p.state = StatePolling
		p.jobID = jobID
	})
	if !ok {
		// A newer submit superseded this one while the upload was in
		// flight; do not start a loop for the stale job.
		cancel()
		return nil
	}

	go p.pollLoop(pollCtx, gen, jobID, submittedAt)
	return nil
}

// pollLoop queries the job at a fixed interval until a terminal server
// status or the wall-clock ceiling, whichever comes first. The ceiling is
// measured from submission, so a slow upload call eats into it rather than
// extending it.
func (p *JobPoller) pollLoop(ctx context.Context, gen uint64, jobID string, submittedAt time.Time) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	remaining := p.ceiling - time.Since(submittedAt)
	if remaining <= 0 {
		p.transition(gen, func() {
			p.state = StateTimedOut
		})
		return
	}
	deadline := time.NewTimer(remaining)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			// Client-enforced ceiling, independent of server state.
			p.transition(gen, func() {
				p.state = StateTimedOut
			})
			return
		case <-ticker.C:
		}

		job, err := p.client.GetJob(ctx, jobID)
		if err != nil {
			// Poll read failures are tolerated; the ceiling bounds how
			// long we keep trying.
			p.notify(gen)
			continue
		}

		switch job.Status {
		case models.JobStatusCompleted:
			p.transition(gen, func() {
				p.state = StateCompleted
				p.result = job.Result
			})
			return
		case models.JobStatusFailed:
			p.transition(gen, func() {
				p.state = StateFailed
				p.err = &JobFailedError{Message: derefOr(job.ErrorMessage, "extraction failed")}
			})
			return
		default:
			// pending/processing: stay in polling, progress recomputes
			// from elapsed time on Snapshot.
			p.notify(gen)
		}
	}
}

// JobFailedError is a server-reported job failure, surfaced verbatim.
type JobFailedError struct {
	Message string
}

func (e *JobFailedError) Error() string { return "job failed: " + e.Message }

// transition applies fn under the lock if gen is still current, then
// notifies. Returns false when the generation was superseded.
func (p *JobPoller) transition(gen uint64, fn func()) bool {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return false
	}
	fn()
	p.mu.Unlock()
	p.notify(gen)
	return true
}

func (p *JobPoller) notify(gen uint64) {
	if p.onUpdate == nil {
		return
	}
	p.mu.Lock()
	current := gen == p.generation
	snap := p.snapshotLocked()
	p.mu.Unlock()
	if current {
		p.onUpdate(snap)
	}
}

// Abandon stops the poll loop, if any. Late responses from the abandoned
// loop never mutate state. The poller keeps its last observed state; a
// subsequent Submit resets it.
func (p *JobPoller) Abandon() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.generation++
}

// Snapshot returns the current state with a freshly computed progress
// estimate.
func (p *JobPoller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *JobPoller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:  p.state,
		JobID:  p.jobID,
		Result: p.result,
		Err:    p.err,
	}
	switch p.state {
	case StateSubmitting, StatePolling:
		snap.Progress = estimateProgressAt(time.Since(p.submittedAt), p.ceiling)
	case StateCompleted:
		snap.Progress = 100
	case StateFailed, StateTimedOut:
		snap.Progress = estimateProgressAt(time.Since(p.submittedAt), p.ceiling)
	}
	return snap
}

func derefOr(s *string, fallback string) string {
	if s != nil && *s != "" {
		return *s
	}
	return fallback
}
