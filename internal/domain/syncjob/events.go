package syncjob

import (
	"github.com/erp/channelsync/internal/domain/shared"
)

const (
	EventTypeSyncStarted   = "sync.started"
	EventTypeSyncProgress  = "sync.progress"
	EventTypeSyncCompleted = "sync.completed"
	EventTypeSyncFailed    = "sync.failed"

	AggregateTypeSyncJob = "SyncJob"
)

// SyncStartedEvent is published when a job starts processing
type SyncStartedEvent struct {
	shared.BaseDomainEvent
	JobID string `json:"job_id"`
	Total int    `json:"total"`
}

// NewSyncStartedEvent creates a SyncStartedEvent
func NewSyncStartedEvent(job *SyncJob) *SyncStartedEvent {
	return &SyncStartedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSyncStarted, AggregateTypeSyncJob, job.ID.String()),
		JobID:           job.ID.String(),
		Total:           job.TotalItems,
	}
}

// SyncProgressEvent is published when the progress percentage changes
type SyncProgressEvent struct {
	shared.BaseDomainEvent
	JobID     string `json:"job_id"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
}

// NewSyncProgressEvent creates a SyncProgressEvent
func NewSyncProgressEvent(job *SyncJob) *SyncProgressEvent {
	return &SyncProgressEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSyncProgress, AggregateTypeSyncJob, job.ID.String()),
		JobID:           job.ID.String(),
		Processed:       job.ProcessedItems,
		Total:           job.TotalItems,
	}
}

// SyncCompletedEvent is published when a job completes
type SyncCompletedEvent struct {
	shared.BaseDomainEvent
	JobID   string  `json:"job_id"`
	Summary Summary `json:"summary"`
}

// NewSyncCompletedEvent creates a SyncCompletedEvent
func NewSyncCompletedEvent(job *SyncJob) *SyncCompletedEvent {
	return &SyncCompletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSyncCompleted, AggregateTypeSyncJob, job.ID.String()),
		JobID:           job.ID.String(),
		Summary:         job.Summary(),
	}
}

// SyncFailedEvent is published when a job fails
type SyncFailedEvent struct {
	shared.BaseDomainEvent
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

// NewSyncFailedEvent creates a SyncFailedEvent
func NewSyncFailedEvent(job *SyncJob) *SyncFailedEvent {
	return &SyncFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSyncFailed, AggregateTypeSyncJob, job.ID.String()),
		JobID:           job.ID.String(),
		Error:           job.LastError,
	}
}
