package orchestration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	inventoryapp "github.com/erp/channelsync/internal/application/inventory"
	pricingapp "github.com/erp/channelsync/internal/application/pricing"
	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/shared"
	"github.com/erp/channelsync/internal/domain/syncjob"
	"github.com/erp/channelsync/internal/infrastructure/telemetry"
)

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Reconciler brings one product's stock into agreement across platforms
type Reconciler interface {
	Reconcile(ctx context.Context, mapping *integration.ProductMapping, jobID *uuid.UUID) (*inventoryapp.ReconcileResult, error)
}

// PriceSyncer converts and writes one product's price
type PriceSyncer interface {
	SyncPrice(ctx context.Context, mapping *integration.ProductMapping, jobID *uuid.UUID) (*pricingapp.SyncResult, error)
}

// MappingSource resolves the products a job covers
type MappingSource interface {
	integration.ProductMappingReader
	integration.ProductMappingFinder
}

// Metrics receives job and item outcomes
type Metrics interface {
	RecordJobFinished(ctx context.Context, jobType, status string, duration time.Duration)
	RecordItemProcessed(ctx context.Context, jobType, outcome string)
	RecordQueueDepth(ctx context.Context, depth int)
}

type noopMetrics struct{}

func (noopMetrics) RecordJobFinished(context.Context, string, string, time.Duration) {}
func (noopMetrics) RecordItemProcessed(context.Context, string, string)              {}
func (noopMetrics) RecordQueueDepth(context.Context, int)                            {}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

// Config holds orchestrator settings
type Config struct {
	// Workers bounds concurrent items within one job
	Workers int
	// QueueSize bounds pending jobs
	QueueSize int
	// MaxBatchSize bounds explicit SKU lists
	MaxBatchSize int
	// MaxRetries is copied onto each new job
	MaxRetries int
	// JobTimeout bounds one job run
	JobTimeout time.Duration
	// ItemTimeout bounds one product
	ItemTimeout time.Duration
	// WaitTimeout is the hard limit for Wait
	WaitTimeout time.Duration
	// PollInterval is how often due retries are checked
	PollInterval time.Duration
	// HistorySize bounds the in-memory history of finished jobs
	HistorySize int
	Retry       syncjob.RetryPolicy
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Workers:      5,
		QueueSize:    100,
		MaxBatchSize: 1000,
		MaxRetries:   3,
		JobTimeout:   30 * time.Minute,
		ItemTimeout:  2 * time.Minute,
		WaitTimeout:  time.Hour,
		PollInterval: time.Second,
		HistorySize:  100,
		Retry:        syncjob.DefaultRetryPolicy(),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Workers <= 0 || c.QueueSize <= 0 || c.MaxBatchSize <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxRetries < 0 {
		return ErrInvalidConfig
	}
	if c.JobTimeout <= 0 || c.ItemTimeout <= 0 || c.WaitTimeout <= 0 || c.PollInterval <= 0 {
		return ErrInvalidConfig
	}
	if c.Retry.Base <= 0 || c.Retry.Multiplier < 1 || c.Retry.Cap < c.Retry.Base {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// JobStatus
// ---------------------------------------------------------------------------

// JobStatus is the externally visible view of a job
type JobStatus struct {
	ID          uuid.UUID          `json:"id"`
	Type        syncjob.JobType    `json:"type"`
	Priority    syncjob.Priority   `json:"priority"`
	Status      syncjob.Status     `json:"status"`
	Progress    int                `json:"progress"`
	Summary     syncjob.Summary    `json:"summary"`
	Errors      []syncjob.JobError `json:"errors,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
	RetryCount  int                `json:"retry_count"`
	NextRetryAt *time.Time         `json:"next_retry_at,omitempty"`
	TriggeredBy string             `json:"triggered_by,omitempty"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

func toJobStatus(j *syncjob.SyncJob) JobStatus {
	return JobStatus{
		ID:          j.ID,
		Type:        j.Type,
		Priority:    j.Priority,
		Status:      j.Status,
		Progress:    j.Progress(),
		Summary:     j.Summary(),
		Errors:      slices.Clone(j.Errors),
		LastError:   j.LastError,
		RetryCount:  j.RetryCount,
		NextRetryAt: j.NextRetryAt,
		TriggeredBy: j.TriggeredBy,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		CreatedAt:   j.CreatedAt,
	}
}

// ---------------------------------------------------------------------------
// Orchestrator
// ---------------------------------------------------------------------------

// jobState tracks a job owned by this process until it reaches a terminal status
type jobState struct {
	mu       sync.Mutex
	job      *syncjob.SyncJob
	done     chan struct{}
	doneOnce sync.Once
}

func newJobState(job *syncjob.SyncJob) *jobState {
	return &jobState{job: job, done: make(chan struct{})}
}

func (s *jobState) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *jobState) status() syncjob.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.Status
}

// Option configures the orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithEventPublisher sets where lifecycle events go
func WithEventPublisher(p shared.EventPublisher) Option {
	return func(o *Orchestrator) {
		o.events = p
	}
}

// Orchestrator queues sync jobs by priority and runs each job's products on
// a bounded worker pool. One coordinating loop dispatches jobs; the job
// repository is the record of status and progress.
type Orchestrator struct {
	config     Config
	jobs       syncjob.SyncJobRepository
	mappings   MappingSource
	reconciler Reconciler
	prices     PriceSyncer
	events     shared.EventPublisher
	metrics    Metrics
	logger     *zap.Logger
	validate   *validator.Validate

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	queue   []*jobState
	states  map[uuid.UUID]*jobState
	wake    chan struct{}
	wg      sync.WaitGroup

	historyMu sync.RWMutex
	history   []JobStatus
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(
	config Config,
	jobs syncjob.SyncJobRepository,
	mappings MappingSource,
	reconciler Reconciler,
	prices PriceSyncer,
	opts ...Option,
) (*Orchestrator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		config:     config,
		jobs:       jobs,
		mappings:   mappings,
		reconciler: reconciler,
		prices:     prices,
		metrics:    noopMetrics{},
		logger:     zap.NewNop(),
		validate:   validator.New(),
		states:     make(map[uuid.UUID]*jobState),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Start recovers unfinished jobs and starts the coordinating loop
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = true
	o.mu.Unlock()

	if err := o.recoverJobs(ctx); err != nil {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		return fmt.Errorf("recover jobs: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(runCtx)

	o.logger.Info("Sync orchestrator started",
		zap.Int("workers", o.config.Workers),
		zap.Int("queue_size", o.config.QueueSize),
		zap.Duration("job_timeout", o.config.JobTimeout),
	)
	return nil
}

// Stop cancels the loop and waits for the running job to wind down
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("Sync orchestrator stopped gracefully")
		return nil
	case <-ctx.Done():
		o.logger.Warn("Sync orchestrator stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns true if the orchestrator accepts jobs
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Submit validates and enqueues a job
func (o *Orchestrator) Submit(ctx context.Context, opts syncjob.SubmitOptions) (uuid.UUID, error) {
	if err := o.validate.Struct(opts); err != nil {
		return uuid.Nil, shared.NewValidationError(err.Error())
	}
	skus := dedupeSKUs(opts.SKUs)
	if len(skus) > o.config.MaxBatchSize {
		return uuid.Nil, ErrBatchTooLarge
	}

	job, err := syncjob.NewSyncJob(opts.Type, opts.Priority, skus, o.config.MaxRetries, opts.TriggeredBy)
	if err != nil {
		return uuid.Nil, err
	}

	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return uuid.Nil, ErrNotRunning
	}
	if len(o.queue) >= o.config.QueueSize {
		o.mu.Unlock()
		return uuid.Nil, ErrQueueFull
	}
	o.mu.Unlock()

	if err := o.jobs.Save(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("save job: %w", err)
	}
	o.enqueue(newJobState(job))

	o.logger.Info("Sync job submitted",
		zap.String("job_id", job.ID.String()),
		zap.String("type", job.Type.String()),
		zap.String("priority", string(job.Priority)),
		zap.Int("skus", len(skus)),
	)
	return job.ID, nil
}

// TriggerManualSync submits a full sync. A nil sku covers every active
// mapping; a single sku jumps ahead with high priority.
func (o *Orchestrator) TriggerManualSync(ctx context.Context, sku *string) (uuid.UUID, error) {
	opts := syncjob.SubmitOptions{
		Type:        syncjob.JobTypeFull,
		Priority:    syncjob.PriorityNormal,
		TriggeredBy: "manual",
	}
	if sku != nil {
		mapping, err := o.mappings.FindBySKU(ctx, *sku)
		if err != nil {
			return uuid.Nil, err
		}
		if !mapping.IsActive {
			return uuid.Nil, integration.ErrMappingInactive
		}
		opts.SKUs = []string{mapping.SKU}
		opts.Priority = syncjob.PriorityHigh
	}
	return o.Submit(ctx, opts)
}

// Cancel stops a pending or processing job. Items already dispatched finish
// but their results are not recorded.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) error {
	o.mu.Lock()
	state, tracked := o.states[id]
	queued := tracked && o.removeFromQueue(id)
	o.mu.Unlock()

	if !tracked {
		job, err := o.jobs.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := job.Cancel(); err != nil {
			return err
		}
		return o.jobs.Save(ctx, job)
	}

	state.mu.Lock()
	err := state.job.Cancel()
	snapshot := cloneJob(state.job)
	state.mu.Unlock()
	if err != nil {
		if queued {
			o.enqueue(state)
		}
		return err
	}

	if err := o.jobs.Save(ctx, snapshot); err != nil {
		o.logger.Error("Failed to persist cancelled job",
			zap.String("job_id", id.String()),
			zap.Error(err),
		)
	}
	o.logger.Info("Sync job cancelled", zap.String("job_id", id.String()))

	// a dispatched job is retired by the loop when its items drain
	if queued {
		o.retire(ctx, state, snapshot, time.Time{})
	}
	return nil
}

// GetStatus returns the persisted status of a job
func (o *Orchestrator) GetStatus(ctx context.Context, id uuid.UUID) (*JobStatus, error) {
	job, err := o.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	status := toJobStatus(job)
	return &status, nil
}

// Wait blocks until the job reaches a terminal status, ctx ends, or the
// hard wait limit passes.
func (o *Orchestrator) Wait(ctx context.Context, id uuid.UUID) (*JobStatus, error) {
	deadline := time.NewTimer(o.config.WaitTimeout)
	defer deadline.Stop()

	o.mu.Lock()
	state, tracked := o.states[id]
	o.mu.Unlock()

	if tracked {
		select {
		case <-state.done:
		case <-deadline.C:
			return nil, ErrWaitTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// jobs owned elsewhere are polled
	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()
	for {
		job, err := o.jobs.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			status := toJobStatus(job)
			return &status, nil
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return nil, ErrWaitTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// History returns recently finished jobs, newest first
func (o *Orchestrator) History(limit int) []JobStatus {
	o.historyMu.RLock()
	defer o.historyMu.RUnlock()

	if limit <= 0 || limit > len(o.history) {
		limit = len(o.history)
	}
	result := make([]JobStatus, limit)
	copy(result, o.history[:limit])
	return result
}

// QueueDepth returns the number of pending jobs
func (o *Orchestrator) QueueDepth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// ---------------------------------------------------------------------------
// Queue
// ---------------------------------------------------------------------------

func (o *Orchestrator) enqueue(state *jobState) {
	o.mu.Lock()
	o.states[state.job.ID] = state
	o.queue = append(o.queue, state)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// removeFromQueue must be called with o.mu held
func (o *Orchestrator) removeFromQueue(id uuid.UUID) bool {
	for i, s := range o.queue {
		if s.job.ID == id {
			o.queue = slices.Delete(o.queue, i, i+1)
			return true
		}
	}
	return false
}

// dequeue removes the highest-priority job that is due at now.
// Equal priorities run in submission order.
func (o *Orchestrator) dequeue(now time.Time) *jobState {
	o.mu.Lock()
	defer o.mu.Unlock()

	best := -1
	for i, s := range o.queue {
		if !s.job.IsDue(now) {
			continue
		}
		if best < 0 || runsBefore(s.job, o.queue[best].job) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	state := o.queue[best]
	o.queue = slices.Delete(o.queue, best, best+1)
	return state
}

func runsBefore(a, b *syncjob.SyncJob) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() > b.Priority.Rank()
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// recoverJobs requeues pending jobs and fails jobs left processing by a
// previous run, scheduling a retry when attempts remain.
func (o *Orchestrator) recoverJobs(ctx context.Context) error {
	interrupted, err := o.jobs.FindByStatus(ctx, syncjob.StatusProcessing, o.config.QueueSize)
	if err != nil {
		return err
	}
	for i := range interrupted {
		job := &interrupted[i]
		_ = job.Fail("interrupted before completion")
		if job.CanRetry() {
			_ = job.ScheduleRetry(o.config.Retry)
		}
		if err := o.jobs.Save(ctx, job); err != nil {
			return err
		}
		o.logger.Warn("Recovered interrupted sync job",
			zap.String("job_id", job.ID.String()),
			zap.String("status", job.Status.String()),
		)
	}

	pending, err := o.jobs.FindByStatus(ctx, syncjob.StatusPending, o.config.QueueSize)
	if err != nil {
		return err
	}
	for i := range pending {
		job := pending[i]
		o.mu.Lock()
		_, known := o.states[job.ID]
		o.mu.Unlock()
		if !known {
			o.enqueue(newJobState(&job))
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Coordinating loop
// ---------------------------------------------------------------------------

func (o *Orchestrator) run(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if state := o.dequeue(time.Now()); state != nil {
			o.processJob(ctx, state)
			continue
		}
		o.metrics.RecordQueueDepth(ctx, o.QueueDepth())
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) processJob(ctx context.Context, state *jobState) {
	job := state.job
	ctx, span := telemetry.StartSpan(ctx, "sync_job", "process",
		telemetry.AttrJobID.String(job.ID.String()),
		telemetry.AttrJobType.String(job.Type.String()),
	)
	var jobErr error
	defer func() { telemetry.EndSpan(span, jobErr) }()

	started := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, o.config.JobTimeout)
	defer cancel()

	mappings, resolveErr := o.resolveMappings(jobCtx, job)
	if resolveErr != nil {
		resolveErr = fmt.Errorf("resolve products: %w", resolveErr)
	}

	state.mu.Lock()
	if job.Status != syncjob.StatusPending {
		// cancelled between dequeue and start
		snapshot := cloneJob(job)
		state.mu.Unlock()
		o.retire(ctx, state, snapshot, time.Time{})
		return
	}
	mappings = pendingMappings(job, mappings)
	_ = job.Start(len(mappings))
	snapshot := cloneJob(job)
	state.mu.Unlock()

	saveCtx := context.WithoutCancel(ctx)
	if err := o.jobs.Save(saveCtx, snapshot); err != nil {
		o.logger.Error("Failed to persist started job", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	o.publish(saveCtx, syncjob.NewSyncStartedEvent(snapshot))
	o.logger.Info("Sync job started",
		zap.String("job_id", job.ID.String()),
		zap.Int("total_items", snapshot.TotalItems),
		zap.Int("remaining_items", len(mappings)),
		zap.Int("attempt", job.RetryCount+1),
	)

	jobErr = resolveErr
	if jobErr == nil && len(mappings) > 0 {
		jobErr = o.runItems(jobCtx, state, mappings)
		switch {
		case ctx.Err() != nil:
			jobErr = errors.New("interrupted by shutdown")
		case jobErr == nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded):
			jobErr = fmt.Errorf("job timed out after %s", o.config.JobTimeout)
		}
	}
	o.finish(ctx, state, started, jobErr)
}

func (o *Orchestrator) resolveMappings(ctx context.Context, job *syncjob.SyncJob) ([]integration.ProductMapping, error) {
	if len(job.SKUs) == 0 {
		return o.mappings.FindActive(ctx)
	}
	return o.mappings.FindActiveBySKUs(ctx, job.SKUs)
}

// pendingMappings drops the SKUs an earlier attempt of job already counted
func pendingMappings(job *syncjob.SyncJob, mappings []integration.ProductMapping) []integration.ProductMapping {
	if len(job.ProcessedSKUs) == 0 {
		return mappings
	}
	done := job.ProcessedSet()
	return slices.DeleteFunc(mappings, func(m integration.ProductMapping) bool {
		_, ok := done[m.SKU]
		return ok
	})
}

// runItems returns an error only for failures that invalidate the whole batch
func (o *Orchestrator) runItems(ctx context.Context, state *jobState, mappings []integration.ProductMapping) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Workers)

	for i := range mappings {
		if gctx.Err() != nil || state.status() != syncjob.StatusProcessing {
			break
		}
		mapping := &mappings[i]
		g.Go(func() error {
			return o.processItem(gctx, state, mapping)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) processItem(ctx context.Context, state *jobState, mapping *integration.ProductMapping) error {
	// g.Go may have blocked on the worker limit while the batch was aborted
	if ctx.Err() != nil || state.status() != syncjob.StatusProcessing {
		return nil
	}
	itemCtx, cancel := context.WithTimeout(ctx, o.config.ItemTimeout)
	defer cancel()

	jobID := state.job.ID
	jobType := state.job.Type
	itemCtx, span := telemetry.StartSpan(itemCtx, "sync_job", "item",
		telemetry.AttrJobID.String(jobID.String()),
		telemetry.AttrSKU.String(mapping.SKU),
	)
	outcome, discrepancy, err := o.syncItem(itemCtx, jobType, jobID, mapping)
	span.SetAttributes(telemetry.AttrOutcome.String(string(outcome)))
	telemetry.EndSpan(span, err)
	if errors.Is(err, pricingapp.ErrRateUnavailable) {
		return fmt.Errorf("%s: %w", mapping.SKU, err)
	}
	if err != nil && ctx.Err() != nil {
		// aborted mid-item; a retry picks the SKU up again
		return nil
	}
	if outcome == syncjob.ItemSkipped {
		err = nil
	}

	state.mu.Lock()
	if state.job.Status != syncjob.StatusProcessing {
		state.mu.Unlock()
		return nil
	}
	changed := state.job.RecordItem(mapping.SKU, outcome, discrepancy, err)
	var snapshot *syncjob.SyncJob
	if changed {
		snapshot = cloneJob(state.job)
	}
	state.mu.Unlock()

	o.metrics.RecordItemProcessed(ctx, jobType.String(), string(outcome))
	if err != nil {
		o.logger.Warn("Sync item failed",
			zap.String("job_id", jobID.String()),
			zap.String("sku", mapping.SKU),
			zap.Error(err),
		)
	}
	if snapshot != nil {
		o.persistProgress(ctx, snapshot)
	}
	return nil
}

func (o *Orchestrator) syncItem(ctx context.Context, jobType syncjob.JobType, jobID uuid.UUID, mapping *integration.ProductMapping) (syncjob.ItemOutcome, bool, error) {
	discrepancy := false
	if jobType.IncludesInventory() {
		result, err := o.reconciler.Reconcile(ctx, mapping, &jobID)
		if err != nil {
			return classify(err), false, err
		}
		discrepancy = !result.InSync()
	}
	if jobType.IncludesPrice() {
		if _, err := o.prices.SyncPrice(ctx, mapping, &jobID); err != nil {
			return classify(err), discrepancy, err
		}
	}
	return syncjob.ItemSucceeded, discrepancy, nil
}

func classify(err error) syncjob.ItemOutcome {
	if errors.Is(err, shared.ErrLockContention) {
		return syncjob.ItemSkipped
	}
	return syncjob.ItemFailed
}

func (o *Orchestrator) persistProgress(ctx context.Context, snapshot *syncjob.SyncJob) {
	ctx = context.WithoutCancel(ctx)
	advanced, err := o.jobs.UpdateProgress(ctx, snapshot)
	if err != nil {
		o.logger.Error("Failed to persist job progress",
			zap.String("job_id", snapshot.ID.String()),
			zap.Error(err),
		)
		return
	}
	if advanced {
		o.publish(ctx, syncjob.NewSyncProgressEvent(snapshot))
	}
}

// finish moves a processed job to its next status and either requeues it for
// retry or retires it.
func (o *Orchestrator) finish(ctx context.Context, state *jobState, started time.Time, jobErr error) {
	saveCtx := context.WithoutCancel(ctx)

	state.mu.Lock()
	job := state.job
	if job.Status == syncjob.StatusCancelled {
		snapshot := cloneJob(job)
		state.mu.Unlock()
		o.retire(saveCtx, state, snapshot, started)
		return
	}

	var event shared.DomainEvent
	requeue := false
	if jobErr == nil {
		_ = job.Complete()
		event = syncjob.NewSyncCompletedEvent(job)
	} else {
		_ = job.Fail(jobErr.Error())
		event = syncjob.NewSyncFailedEvent(job)
		if job.CanRetry() {
			requeue = job.ScheduleRetry(o.config.Retry) == nil
		}
	}
	snapshot := cloneJob(job)
	state.mu.Unlock()

	if err := o.jobs.Save(saveCtx, snapshot); err != nil {
		o.logger.Error("Failed to persist finished job", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	o.publish(saveCtx, event)

	if jobErr != nil {
		fields := []zap.Field{
			zap.String("job_id", job.ID.String()),
			zap.Int("retry_count", snapshot.RetryCount),
			zap.Error(jobErr),
		}
		if requeue {
			fields = append(fields, zap.Timep("next_retry_at", snapshot.NextRetryAt))
		}
		o.logger.Warn("Sync job failed", fields...)
	}

	if requeue {
		o.metrics.RecordJobFinished(saveCtx, job.Type.String(), syncjob.StatusFailed.String(), time.Since(started))
		o.enqueue(state)
		return
	}
	o.retire(saveCtx, state, snapshot, started)
}

// retire drops a terminal job from in-process tracking and records it in history
func (o *Orchestrator) retire(ctx context.Context, state *jobState, snapshot *syncjob.SyncJob, started time.Time) {
	o.mu.Lock()
	delete(o.states, snapshot.ID)
	o.mu.Unlock()

	o.addToHistory(toJobStatus(snapshot))
	state.markDone()

	var elapsed time.Duration
	if !started.IsZero() {
		elapsed = time.Since(started)
	}
	o.metrics.RecordJobFinished(ctx, snapshot.Type.String(), snapshot.Status.String(), elapsed)

	if snapshot.Status == syncjob.StatusCompleted {
		summary := snapshot.Summary()
		o.logger.Info("Sync job completed",
			zap.String("job_id", snapshot.ID.String()),
			zap.Int("total", summary.Total),
			zap.Int("synced", summary.Synced),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped),
			zap.Int("discrepancies", summary.Discrepancies),
			zap.Duration("duration", elapsed),
		)
	}
}

func (o *Orchestrator) addToHistory(status JobStatus) {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()

	o.history = append([]JobStatus{status}, o.history...)
	if len(o.history) > o.config.HistorySize {
		o.history = o.history[:o.config.HistorySize]
	}
}

func (o *Orchestrator) publish(ctx context.Context, events ...shared.DomainEvent) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, events...); err != nil {
		o.logger.Warn("Failed to publish sync events", zap.Error(err))
	}
}

func cloneJob(j *syncjob.SyncJob) *syncjob.SyncJob {
	c := *j
	c.SKUs = slices.Clone(j.SKUs)
	c.Errors = slices.Clone(j.Errors)
	c.ProcessedSKUs = slices.Clone(j.ProcessedSKUs)
	return &c
}

func dedupeSKUs(skus []string) []string {
	if len(skus) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(skus))
	out := make([]string, 0, len(skus))
	for _, sku := range skus {
		if _, ok := seen[sku]; ok {
			continue
		}
		seen[sku] = struct{}{}
		out = append(out, sku)
	}
	return out
}
