package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/domain/syncjob"
	"github.com/erp/channelsync/internal/infrastructure/config"
)

// Trigger names
const (
	InventorySyncTrigger = "inventory-sync"
	PriceSyncTrigger     = "price-sync"
	RateRefreshTrigger   = "exchange-rate-refresh"
	ReportTrigger        = "discrepancy-report"
)

// JobSubmitter enqueues sync jobs
type JobSubmitter interface {
	Submit(ctx context.Context, opts syncjob.SubmitOptions) (uuid.UUID, error)
}

// SubmitTask returns a task that enqueues a job covering every active mapping
func SubmitTask(submitter JobSubmitter, jobType syncjob.JobType, priority syncjob.Priority, logger *zap.Logger) Task {
	return func(ctx context.Context) error {
		id, err := submitter.Submit(ctx, syncjob.SubmitOptions{
			Type:        jobType,
			Priority:    priority,
			TriggeredBy: "scheduler",
		})
		if err != nil {
			return fmt.Errorf("submit %s job: %w", jobType, err)
		}
		logger.Info("Scheduled sync job submitted",
			zap.String("job_id", id.String()),
			zap.String("type", string(jobType)),
			zap.String("priority", string(priority)),
		)
		return nil
	}
}

// Triggers groups the periodic triggers of the service
type Triggers struct {
	triggers []*IntervalTrigger
	logger   *zap.Logger
}

// NewSyncTriggers builds the inventory (normal priority), price (low priority)
// and exchange-rate triggers. A zero interval leaves that trigger out, as does
// a nil refreshRates. The rate trigger runs once at start so the chain is warm
// before the first price job.
func NewSyncTriggers(cfg config.SyncConfig, submitter JobSubmitter, refreshRates Task, logger *zap.Logger) (*Triggers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ts := &Triggers{logger: logger}

	if err := ts.Add(RateRefreshTrigger, cfg.RateInterval, refreshRates, WithRunOnStart()); err != nil {
		return nil, err
	}
	if err := ts.Add(InventorySyncTrigger, cfg.InventoryInterval,
		SubmitTask(submitter, syncjob.JobTypeInventory, syncjob.PriorityNormal, logger)); err != nil {
		return nil, err
	}
	if err := ts.Add(PriceSyncTrigger, cfg.PriceInterval,
		SubmitTask(submitter, syncjob.JobTypePrice, syncjob.PriorityLow, logger)); err != nil {
		return nil, err
	}
	return ts, nil
}

// Add registers another trigger before Start. A zero interval or nil task
// leaves it out. Each run is bounded by the interval.
func (ts *Triggers) Add(name string, interval time.Duration, task Task, opts ...TriggerOption) error {
	if interval <= 0 || task == nil {
		ts.logger.Info("Trigger disabled", zap.String("trigger", name))
		return nil
	}
	opts = append(opts, WithTriggerLogger(ts.logger), WithRunTimeout(interval))
	t, err := NewIntervalTrigger(name, interval, task, opts...)
	if err != nil {
		return err
	}
	ts.triggers = append(ts.triggers, t)
	return nil
}

// Start starts every trigger
func (ts *Triggers) Start(ctx context.Context) error {
	for _, t := range ts.triggers {
		if err := t.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", t.Name(), err)
		}
	}
	return nil
}

// Stop stops every trigger, returning the joined errors
func (ts *Triggers) Stop(ctx context.Context) error {
	var errs []error
	for _, t := range ts.triggers {
		if err := t.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// RunNow requests an immediate run of the named trigger
func (ts *Triggers) RunNow(name string) error {
	for _, t := range ts.triggers {
		if t.Name() == name {
			return t.RunNow()
		}
	}
	return fmt.Errorf("%w: no trigger named %q", ErrInvalidConfig, name)
}

// Info returns the statistics of every trigger
func (ts *Triggers) Info() []RunInfo {
	infos := make([]RunInfo, 0, len(ts.triggers))
	for _, t := range ts.triggers {
		infos = append(infos, t.Info())
	}
	return infos
}
