package models

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/domain/syncjob"
)

// logger for model conversion errors (silent failures are logged for debugging)
var modelLogger = zap.L().Named("persistence.models")

// SyncJobModel is the persistence model for the SyncJob aggregate.
type SyncJobModel struct {
	BaseModel
	Type           syncjob.JobType  `gorm:"type:varchar(20);not null"`
	Priority       syncjob.Priority `gorm:"type:varchar(10);not null"`
	Status         syncjob.Status   `gorm:"type:varchar(20);not null;index:idx_sync_job_status_created,priority:1"`
	SKUsJSON       string           `gorm:"column:skus;type:jsonb;default:'[]'"`
	TotalItems     int              `gorm:"not null;default:0"`
	ProcessedItems int              `gorm:"not null;default:0"`
	SuccessItems   int              `gorm:"not null;default:0"`
	FailedItems    int              `gorm:"not null;default:0"`
	SkippedItems   int              `gorm:"not null;default:0"`
	Discrepancies  int              `gorm:"not null;default:0"`
	ProcessedJSON  string           `gorm:"column:processed_skus;type:jsonb;default:'[]'"`
	ErrorsJSON     string           `gorm:"column:errors;type:jsonb;default:'[]'"`
	LastError      string           `gorm:"type:text"`
	RetryCount     int              `gorm:"not null;default:0"`
	MaxRetries     int              `gorm:"not null;default:0"`
	NextRetryAt    *time.Time
	TriggeredBy    string `gorm:"type:varchar(100)"`
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// TableName returns the table name for GORM
func (SyncJobModel) TableName() string {
	return "sync_jobs"
}

// ToDomain converts the persistence model to a domain SyncJob.
func (m *SyncJobModel) ToDomain() *syncjob.SyncJob {
	job := &syncjob.SyncJob{
		ID:             m.ID,
		Type:           m.Type,
		Priority:       m.Priority,
		Status:         m.Status,
		TotalItems:     m.TotalItems,
		ProcessedItems: m.ProcessedItems,
		SuccessItems:   m.SuccessItems,
		FailedItems:    m.FailedItems,
		SkippedItems:   m.SkippedItems,
		Discrepancies:  m.Discrepancies,
		LastError:      m.LastError,
		RetryCount:     m.RetryCount,
		MaxRetries:     m.MaxRetries,
		NextRetryAt:    m.NextRetryAt,
		TriggeredBy:    m.TriggeredBy,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}

	if m.SKUsJSON != "" && m.SKUsJSON != "[]" {
		if err := json.Unmarshal([]byte(m.SKUsJSON), &job.SKUs); err != nil {
			modelLogger.Warn("failed to parse skus JSON",
				zap.String("job_id", m.ID.String()),
				zap.Error(err))
		}
	}
	if m.ProcessedJSON != "" && m.ProcessedJSON != "[]" {
		if err := json.Unmarshal([]byte(m.ProcessedJSON), &job.ProcessedSKUs); err != nil {
			modelLogger.Warn("failed to parse processed_skus JSON",
				zap.String("job_id", m.ID.String()),
				zap.Error(err))
		}
	}
	if m.ErrorsJSON != "" && m.ErrorsJSON != "[]" {
		if err := json.Unmarshal([]byte(m.ErrorsJSON), &job.Errors); err != nil {
			modelLogger.Warn("failed to parse errors JSON",
				zap.String("job_id", m.ID.String()),
				zap.Error(err))
		}
	}
	return job
}

// FromDomain populates the persistence model from a domain SyncJob.
func (m *SyncJobModel) FromDomain(j *syncjob.SyncJob) {
	m.ID = j.ID
	m.Type = j.Type
	m.Priority = j.Priority
	m.Status = j.Status
	m.TotalItems = j.TotalItems
	m.ProcessedItems = j.ProcessedItems
	m.SuccessItems = j.SuccessItems
	m.FailedItems = j.FailedItems
	m.SkippedItems = j.SkippedItems
	m.Discrepancies = j.Discrepancies
	m.LastError = j.LastError
	m.RetryCount = j.RetryCount
	m.MaxRetries = j.MaxRetries
	m.NextRetryAt = j.NextRetryAt
	m.TriggeredBy = j.TriggeredBy
	m.StartedAt = j.StartedAt
	m.CompletedAt = j.CompletedAt
	m.CreatedAt = j.CreatedAt
	m.UpdatedAt = j.UpdatedAt
	m.SKUsJSON = MarshalJSONList(j.SKUs)
	m.ProcessedJSON = MarshalJSONList(j.ProcessedSKUs)
	m.ErrorsJSON = MarshalJSONList(j.Errors)
}

// SyncJobModelFromDomain creates a new persistence model from a domain SyncJob.
func SyncJobModelFromDomain(j *syncjob.SyncJob) *SyncJobModel {
	m := &SyncJobModel{}
	m.FromDomain(j)
	return m
}

// MarshalJSONList encodes a slice, storing "[]" for empty or unencodable values
func MarshalJSONList[T any](items []T) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		modelLogger.Warn("failed to encode JSON list", zap.Error(err))
		return "[]"
	}
	return string(b)
}
