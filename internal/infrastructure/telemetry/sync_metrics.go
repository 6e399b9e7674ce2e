package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/shared"
)

// SyncMetrics records job, item, exchange-rate and discrepancy metrics.
// It satisfies the orchestrator and exchange-rate metrics ports and
// subscribes to discrepancy events on the event bus.
type SyncMetrics struct {
	jobsTotal        *Counter
	jobDuration      *Histogram
	itemsTotal       *Counter
	queueDepth       *Gauge
	rateResolutions  *Counter
	discrepancies    *Counter
	discrepancyUnits *Counter
}

var _ shared.EventHandler = (*SyncMetrics)(nil)

// NewSyncMetrics creates the instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	var (
		m   SyncMetrics
		err error
	)
	if m.jobsTotal, err = NewCounter(meter, "channelsync_jobs_total", "Finished sync jobs by type and final status", "{jobs}"); err != nil {
		return nil, err
	}
	if m.jobDuration, err = NewHistogram(meter, "channelsync_job_duration_seconds", "Wall time of a sync job run", "s", JobDurationBuckets...); err != nil {
		return nil, err
	}
	if m.itemsTotal, err = NewCounter(meter, "channelsync_items_total", "Processed products by job type and outcome", "{items}"); err != nil {
		return nil, err
	}
	if m.queueDepth, err = NewGauge(meter, "channelsync_queue_depth", "Pending jobs waiting for the coordinator", "{jobs}"); err != nil {
		return nil, err
	}
	if m.rateResolutions, err = NewCounter(meter, "channelsync_rate_resolutions_total", "Exchange-rate lookups by resolving step", "{lookups}"); err != nil {
		return nil, err
	}
	if m.discrepancies, err = NewCounter(meter, "channelsync_critical_discrepancies_total", "Inventory discrepancies at or above the critical threshold", "{products}"); err != nil {
		return nil, err
	}
	if m.discrepancyUnits, err = NewCounter(meter, "channelsync_discrepancy_units_total", "Sum of critical discrepancy magnitudes", "{units}"); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordJobFinished counts a job reaching a resting state
func (m *SyncMetrics) RecordJobFinished(ctx context.Context, jobType, status string, duration time.Duration) {
	m.jobsTotal.Inc(ctx, AttrJobType.String(jobType), AttrStatus.String(status))
	m.jobDuration.RecordDuration(ctx, duration, AttrJobType.String(jobType), AttrStatus.String(status))
}

// RecordItemProcessed counts one product outcome
func (m *SyncMetrics) RecordItemProcessed(ctx context.Context, jobType, outcome string) {
	m.itemsTotal.Inc(ctx, AttrJobType.String(jobType), AttrOutcome.String(outcome))
}

// RecordQueueDepth sets the pending job count
func (m *SyncMetrics) RecordQueueDepth(ctx context.Context, depth int) {
	m.queueDepth.Record(ctx, int64(depth))
}

// RecordRateResolution counts which chain step produced a rate
func (m *SyncMetrics) RecordRateResolution(ctx context.Context, pair, from string) {
	m.rateResolutions.Inc(ctx, AttrPair.String(pair), AttrSource.String(from))
}

// Handle counts discrepancy events
func (m *SyncMetrics) Handle(ctx context.Context, event shared.DomainEvent) error {
	e, ok := event.(*integration.InventoryDiscrepancyEvent)
	if !ok {
		return nil
	}
	m.discrepancies.Inc(ctx, AttrSeverity.String("critical"))
	m.discrepancyUnits.Add(ctx, int64(e.Magnitude))
	return nil
}

// EventTypes subscribes to discrepancy events only
func (m *SyncMetrics) EventTypes() []string {
	return []string{integration.EventTypeInventoryDiscrepancy}
}
