package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/driftai/driftd/pkg/models"
)

// Field validation error codes.
const (
	CodeRequired         = "required"
	CodeTooShort         = "too_short"
	CodeBadDate          = "bad_date"
	CodeDuplicateName    = "duplicate_name"
	CodeNameCheckPending = "name_check_pending"
	CodeNameCheckFailed  = "name_check_failed"
)

// FieldError is one failed validation rule on the review form.
type FieldError struct {
	Field   string
	Code    string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is the full set of failed rules blocking a submit.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// ReviewForm is the editable model seeded from a completed extraction job.
// User edits mutate the exported fields; the poller never touches the form
// after the initial seed. The reconciliation summary is read-only and passes
// through to the server unchanged via the job id.
type ReviewForm struct {
	PrimaryVendorName string
	DBADisplayName    string
	EffectiveDate     string
	RenewalEndDate    string
	Category          string

	jobID   string
	summary string
}

// NewReviewForm seeds a form from an extraction result.
func NewReviewForm(jobID string, res models.ExtractionResult) *ReviewForm {
	return &ReviewForm{
		PrimaryVendorName: res.PrimaryVendorName,
		DBADisplayName:    res.DBADisplayName,
		EffectiveDate:     res.EffectiveDate,
		RenewalEndDate:    res.RenewalEndDate,
		Category:          res.Category,
		jobID:             jobID,
		summary:           res.ContractReconciliationSummary,
	}
}

// JobID returns the extraction job this form was seeded from.
func (f *ReviewForm) JobID() string { return f.jobID }

// Summary returns the read-only reconciliation summary.
func (f *ReviewForm) Summary() string { return f.summary }

// Validate checks the field-level rules: name required and at least 2
// characters after trimming, effective date required and parseable, renewal
// date optional but parseable when present. No ordering constraint is
// enforced between the two dates; open-ended contracts carry a renewal date
// before the effective date legitimately during renegotiation.
func (f *ReviewForm) Validate() ValidationErrors {
	var errs ValidationErrors

	name := strings.TrimSpace(f.PrimaryVendorName)
	switch {
	case name == "":
		errs = append(errs, FieldError{Field: "primary_vendor_name", Code: CodeRequired, Message: "vendor name is required"})
	case len(name) < 2:
		errs = append(errs, FieldError{Field: "primary_vendor_name", Code: CodeTooShort, Message: "vendor name must be at least 2 characters"})
	}

	if strings.TrimSpace(f.EffectiveDate) == "" {
		errs = append(errs, FieldError{Field: "effective_date", Code: CodeRequired, Message: "effective date is required"})
	} else if _, err := models.ParseContractDate(f.EffectiveDate); err != nil {
		errs = append(errs, FieldError{Field: "effective_date", Code: CodeBadDate, Message: "effective date must be MM/DD/YYYY or YYYY-MM-DD"})
	}

	if strings.TrimSpace(f.RenewalEndDate) != "" {
		if _, err := models.ParseContractDate(f.RenewalEndDate); err != nil {
			errs = append(errs, FieldError{Field: "renewal_end_date", Code: CodeBadDate, Message: "renewal end date must be MM/DD/YYYY or YYYY-MM-DD"})
		}
	}

	return errs
}

// validateWithName layers the uniqueness check state over field validation.
func (f *ReviewForm) validateWithName(check NameCheck) ValidationErrors {
	errs := f.Validate()
	switch check.Status {
	case NameChecking:
		errs = append(errs, FieldError{Field: "primary_vendor_name", Code: CodeNameCheckPending, Message: "name uniqueness check still running"})
	case NameCheckFailed:
		errs = append(errs, FieldError{Field: "primary_vendor_name", Code: CodeNameCheckFailed, Message: "name uniqueness check failed; retry the check before submitting"})
	case NameDuplicate:
		msg := fmt.Sprintf("a vendor named %q already exists", strings.TrimSpace(f.PrimaryVendorName))
		if check.ExistingVendorID != "" {
			msg += " (vendor " + check.ExistingVendorID + ")"
		}
		errs = append(errs, FieldError{Field: "primary_vendor_name", Code: CodeDuplicateName, Message: msg})
	}
	return errs
}

func (f *ReviewForm) confirmRequest() ConfirmRequest {
	return ConfirmRequest{
		PrimaryVendorName: strings.TrimSpace(f.PrimaryVendorName),
		DBADisplayName:    strings.TrimSpace(f.DBADisplayName),
		EffectiveDate:     strings.TrimSpace(f.EffectiveDate),
		RenewalEndDate:    strings.TrimSpace(f.RenewalEndDate),
		Category:          strings.TrimSpace(f.Category),
		JobID:             f.jobID,
	}
}

// Confirm validates and creates a vendor+contract from this form. The
// checker's current state gates submission: checking blocks, duplicate
// rejects with the conflicting vendor id. On server error the form keeps its
// values so the user can correct and resubmit.
func (f *ReviewForm) Confirm(ctx context.Context, client *Client, checker *UniquenessChecker) (*ConfirmResponse, error) {
	if errs := f.validateWithName(checker.State()); len(errs) > 0 {
		return nil, errs
	}
	return client.ConfirmCreate(ctx, f.confirmRequest())
}

// ConfirmReplace validates and swaps the active contract of an existing
// vendor. The returned ContractID is the server-assigned id of the new
// contract row.
func (f *ReviewForm) ConfirmReplace(ctx context.Context, client *Client, vendorID string) (*ConfirmResponse, error) {
	if errs := f.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return client.ConfirmReplace(ctx, vendorID, f.confirmRequest())
}

// --- name uniqueness ---

// NameStatus is the state of the debounced uniqueness check.
type NameStatus string

const (
	NameIdle        NameStatus = "idle"
	NameChecking    NameStatus = "checking"
	NameUnique      NameStatus = "unique"
	NameDuplicate   NameStatus = "duplicate"
	NameCheckFailed NameStatus = "check_failed"
)

// NameCheck is the current uniqueness result for the latest name value.
// Each new check supersedes (not merges with) the previous one. Err is set
// only for check_failed and carries the transport fault for display.
type NameCheck struct {
	Status           NameStatus
	ExistingVendorID string
	Err              error
}

const defaultDebounce = 500 * time.Millisecond

// CheckNameFunc looks a name up; *Client.CheckName satisfies it.
type CheckNameFunc func(ctx context.Context, name string) (*NameCheckResult, error)

// UniquenessChecker debounces vendor-name keystrokes and runs at most the
// latest check. Responses carry a request token; a slow early check landing
// after a newer one is discarded rather than overwriting fresher state.
type UniquenessChecker struct {
	check    CheckNameFunc
	debounce time.Duration
	onChange func(NameCheck)

	mu       sync.Mutex
	token    uint64
	current  NameCheck
	timer    *time.Timer
	lastName string
}

// CheckerOption configures a UniquenessChecker.
type CheckerOption func(*UniquenessChecker)

// WithDebounce overrides the 500ms quiet period.
func WithDebounce(d time.Duration) CheckerOption {
	return func(c *UniquenessChecker) { c.debounce = d }
}

// WithChangeFunc registers a callback for state changes. Stale-token results
// never fire it.
func WithChangeFunc(fn func(NameCheck)) CheckerOption {
	return func(c *UniquenessChecker) { c.onChange = fn }
}

// NewUniquenessChecker creates a checker in the idle state.
func NewUniquenessChecker(check CheckNameFunc, opts ...CheckerOption) *UniquenessChecker {
	c := &UniquenessChecker{
		check:    check,
		debounce: defaultDebounce,
		current:  NameCheck{Status: NameIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NameChanged records a keystroke. The check fires only after the debounce
// quiet period; typing again within it restarts the clock, so overlapping
// edits coalesce into a single request for the final value.
func (c *UniquenessChecker) NameChanged(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token++
	token := c.token

	if c.timer != nil {
		c.timer.Stop()
	}

	trimmed := strings.TrimSpace(name)
	if len(trimmed) < 2 {
		// Too short to collide; field validation owns this case.
		c.lastName = ""
		c.setLocked(NameCheck{Status: NameIdle})
		return
	}

	c.lastName = trimmed
	c.setLocked(NameCheck{Status: NameChecking})
	c.timer = time.AfterFunc(c.debounce, func() {
		c.run(token, trimmed)
	})
}

// Recheck immediately re-runs the check for the last entered name,
// bypassing the debounce. It only acts on a failed check; any other state
// either has a result already or has a check in flight.
func (c *UniquenessChecker) Recheck() {
	c.mu.Lock()
	if c.current.Status != NameCheckFailed || c.lastName == "" {
		c.mu.Unlock()
		return
	}
	c.token++
	token := c.token
	name := c.lastName
	c.setLocked(NameCheck{Status: NameChecking})
	c.mu.Unlock()

	go c.run(token, name)
}

func (c *UniquenessChecker) run(token uint64, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTransportTimeout)
	defer cancel()

	res, err := c.check(ctx, name)

	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.token {
		// Superseded while in flight.
		return
	}
	if err != nil {
		// Inconclusive. Submission stays blocked rather than risking a
		// duplicate create, but the failure is surfaced so the form can
		// offer a retry instead of sitting in checking forever.
		c.setLocked(NameCheck{Status: NameCheckFailed, Err: err})
		return
	}
	if res.IsUnique {
		c.setLocked(NameCheck{Status: NameUnique})
	} else {
		c.setLocked(NameCheck{Status: NameDuplicate, ExistingVendorID: res.ExistingVendorID})
	}
}

func (c *UniquenessChecker) setLocked(nc NameCheck) {
	c.current = nc
	if c.onChange != nil {
		go c.onChange(nc)
	}
}

// State returns the current check result.
func (c *UniquenessChecker) State() NameCheck {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
