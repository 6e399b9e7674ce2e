package syncjob

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidJobType     = errors.New("syncjob: invalid job type")
	ErrInvalidPriority    = errors.New("syncjob: invalid priority")
	ErrInvalidTransition  = errors.New("syncjob: invalid status transition")
	ErrJobNotFound        = errors.New("syncjob: job not found")
	ErrRetriesExhausted   = errors.New("syncjob: retries exhausted")
	ErrProgressRegression = errors.New("syncjob: processed items cannot decrease")
)

// JobType is what a job synchronizes
type JobType string

const (
	JobTypeInventory JobType = "INVENTORY"
	JobTypePrice     JobType = "PRICE"
	JobTypeFull      JobType = "FULL"
)

// IsValid returns true if the type is valid
func (t JobType) IsValid() bool {
	switch t {
	case JobTypeInventory, JobTypePrice, JobTypeFull:
		return true
	}
	return false
}

// String returns the string representation
func (t JobType) String() string {
	return string(t)
}

// IncludesInventory returns true if the job reconciles stock
func (t JobType) IncludesInventory() bool {
	return t == JobTypeInventory || t == JobTypeFull
}

// IncludesPrice returns true if the job syncs prices
func (t JobType) IncludesPrice() bool {
	return t == JobTypePrice || t == JobTypeFull
}

// Priority orders pending jobs: URGENT > HIGH > NORMAL > LOW
type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// IsValid returns true if the priority is valid
func (p Priority) IsValid() bool {
	return p.Rank() > 0
}

// Rank returns a sortable weight; higher runs first
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Status is the job lifecycle state
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// IsTerminal returns true for states a job does not leave on its own
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// String returns the string representation
func (s Status) String() string {
	return string(s)
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusFailed:     {StatusPending},
}

// CanTransitionTo reports whether s -> next is an allowed edge
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ItemOutcome is the result of syncing one SKU
type ItemOutcome string

const (
	ItemSucceeded ItemOutcome = "SUCCEEDED"
	ItemFailed    ItemOutcome = "FAILED"
	ItemSkipped   ItemOutcome = "SKIPPED"
)

// JobError is a per-item failure captured in the job
type JobError struct {
	SKU     string    `json:"sku"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// maxJobErrors bounds the stored error list
const maxJobErrors = 200

// Summary is the externally visible outcome of a job
type Summary struct {
	Total         int `json:"total"`
	Synced        int `json:"synced"`
	Failed        int `json:"failed"`
	Skipped       int `json:"skipped"`
	Discrepancies int `json:"discrepancies"`
}

// ---------------------------------------------------------------------------
// SyncJob aggregate
// ---------------------------------------------------------------------------

// SyncJob is a batch of per-SKU sync work.
// ProcessedItems never decreases, across retries too, and Status only
// follows allowed edges.
type SyncJob struct {
	ID             uuid.UUID
	Type           JobType
	Priority       Priority
	Status         Status
	SKUs           []string
	TotalItems     int
	ProcessedItems int
	SuccessItems   int
	FailedItems    int
	SkippedItems   int
	Discrepancies  int
	// ProcessedSKUs are the SKUs already counted; a retry resumes after them
	ProcessedSKUs  []string
	Errors         []JobError
	LastError      string
	RetryCount     int
	MaxRetries     int
	NextRetryAt    *time.Time
	TriggeredBy    string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewSyncJob creates a pending job. An empty SKU list means every active mapping.
func NewSyncJob(jobType JobType, priority Priority, skus []string, maxRetries int, triggeredBy string) (*SyncJob, error) {
	if !jobType.IsValid() {
		return nil, ErrInvalidJobType
	}
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.IsValid() {
		return nil, ErrInvalidPriority
	}
	now := time.Now()
	return &SyncJob{
		ID:          uuid.New(),
		Type:        jobType,
		Priority:    priority,
		Status:      StatusPending,
		SKUs:        skus,
		MaxRetries:  maxRetries,
		TriggeredBy: triggeredBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (j *SyncJob) transition(next Status) error {
	if !j.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	j.Status = next
	j.UpdatedAt = time.Now()
	return nil
}

// Start moves a pending job to processing with the number of items this
// attempt will run. Counters carry over from earlier attempts, so a retry
// passes only the items not yet processed.
func (j *SyncJob) Start(remainingItems int) error {
	if err := j.transition(StatusProcessing); err != nil {
		return err
	}
	now := time.Now()
	j.StartedAt = &now
	j.TotalItems = j.ProcessedItems + remainingItems
	j.LastError = ""
	return nil
}

// ProcessedSet returns the SKUs counted by earlier attempts
func (j *SyncJob) ProcessedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(j.ProcessedSKUs))
	for _, sku := range j.ProcessedSKUs {
		set[sku] = struct{}{}
	}
	return set
}

// RecordItem counts one processed SKU and reports whether the progress
// percentage changed. Items beyond TotalItems are ignored.
func (j *SyncJob) RecordItem(sku string, outcome ItemOutcome, discrepancy bool, itemErr error) bool {
	if j.Status != StatusProcessing || j.ProcessedItems >= j.TotalItems {
		return false
	}
	before := j.Progress()
	j.ProcessedItems++
	j.ProcessedSKUs = append(j.ProcessedSKUs, sku)
	switch outcome {
	case ItemSucceeded:
		j.SuccessItems++
	case ItemFailed:
		j.FailedItems++
	case ItemSkipped:
		j.SkippedItems++
	}
	if discrepancy {
		j.Discrepancies++
	}
	if itemErr != nil && len(j.Errors) < maxJobErrors {
		j.Errors = append(j.Errors, JobError{SKU: sku, Message: itemErr.Error(), At: time.Now()})
	}
	j.UpdatedAt = time.Now()
	return j.Progress() != before
}

// Progress returns processed/total as a whole percentage
func (j *SyncJob) Progress() int {
	if j.TotalItems == 0 {
		if j.Status == StatusCompleted {
			return 100
		}
		return 0
	}
	return j.ProcessedItems * 100 / j.TotalItems
}

// Complete marks a processing job as completed
func (j *SyncJob) Complete() error {
	if err := j.transition(StatusCompleted); err != nil {
		return err
	}
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

// Fail marks a processing job as failed with a job-level error
func (j *SyncJob) Fail(msg string) error {
	if err := j.transition(StatusFailed); err != nil {
		return err
	}
	now := time.Now()
	j.CompletedAt = &now
	j.LastError = msg
	return nil
}

// Cancel marks a pending or processing job as cancelled
func (j *SyncJob) Cancel() error {
	if err := j.transition(StatusCancelled); err != nil {
		return err
	}
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

// CanRetry returns true if a failed job has attempts left
func (j *SyncJob) CanRetry() bool {
	return j.Status == StatusFailed && j.RetryCount < j.MaxRetries
}

// RetryPolicy computes retry delays as min(Base * Multiplier^attempts, Cap)
type RetryPolicy struct {
	Base       time.Duration
	Multiplier float64
	Cap        time.Duration
}

// DefaultRetryPolicy returns 30s doubling, capped at 30 minutes
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 30 * time.Second, Multiplier: 2, Cap: 30 * time.Minute}
}

// Delay returns the delay before retry number attempts+1
func (p RetryPolicy) Delay(attempts int) time.Duration {
	d := float64(p.Base) * math.Pow(p.Multiplier, float64(attempts))
	if d > float64(p.Cap) || math.IsInf(d, 0) {
		return p.Cap
	}
	return time.Duration(d)
}

// ScheduleRetry moves a failed job back to pending and sets NextRetryAt
func (j *SyncJob) ScheduleRetry(policy RetryPolicy) error {
	if !j.CanRetry() {
		return ErrRetriesExhausted
	}
	delay := policy.Delay(j.RetryCount)
	if err := j.transition(StatusPending); err != nil {
		return err
	}
	j.RetryCount++
	next := time.Now().Add(delay)
	j.NextRetryAt = &next
	j.CompletedAt = nil
	return nil
}

// IsDue returns true if a pending job may be dispatched at t
func (j *SyncJob) IsDue(t time.Time) bool {
	return j.Status == StatusPending && (j.NextRetryAt == nil || !t.Before(*j.NextRetryAt))
}

// Summary returns the visible outcome counts
func (j *SyncJob) Summary() Summary {
	return Summary{
		Total:         j.TotalItems,
		Synced:        j.SuccessItems,
		Failed:        j.FailedItems,
		Skipped:       j.SkippedItems,
		Discrepancies: j.Discrepancies,
	}
}

// ---------------------------------------------------------------------------
// Submit options
// ---------------------------------------------------------------------------

// SubmitOptions is the request to create a job
type SubmitOptions struct {
	Type        JobType  `json:"type" validate:"required,oneof=INVENTORY PRICE FULL"`
	Priority    Priority `json:"priority" validate:"omitempty,oneof=URGENT HIGH NORMAL LOW"`
	SKUs        []string `json:"skus" validate:"omitempty,dive,required,max=100"`
	TriggeredBy string   `json:"triggered_by" validate:"max=100"`
}

// ---------------------------------------------------------------------------
// SyncJobRepository Interface
// ---------------------------------------------------------------------------

// SyncJobRepository persists jobs
type SyncJobRepository interface {
	// Save inserts or fully updates a job
	Save(ctx context.Context, job *SyncJob) error

	// FindByID returns ErrJobNotFound when absent
	FindByID(ctx context.Context, id uuid.UUID) (*SyncJob, error)

	// FindRecent returns jobs newest first
	FindRecent(ctx context.Context, limit int) ([]SyncJob, error)

	// FindByStatus returns jobs in a status, oldest first
	FindByStatus(ctx context.Context, status Status, limit int) ([]SyncJob, error)

	// UpdateProgress persists counters only if processed does not go backwards.
	// It returns false when the stored value was already ahead.
	UpdateProgress(ctx context.Context, job *SyncJob) (bool, error)
}
