package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/domain/conflict"
)

// ConflictLogModel is the persistence model for conflict logs.
// The conflicting inputs and the decision are stored as JSON documents.
type ConflictLogModel struct {
	AppendOnlyModel
	Type           conflict.ConflictType `gorm:"type:varchar(20);not null"`
	SKU            string                `gorm:"type:varchar(100);not null;index"`
	ConflictJSON   string                `gorm:"column:conflict;type:jsonb;not null"`
	ResolutionJSON string                `gorm:"column:resolution;type:jsonb"`
	Strategy       conflict.Strategy     `gorm:"type:varchar(50)"`
	Resolved       bool                  `gorm:"not null;default:false;index"`
	ResolvedAt     *time.Time
	JobID          *uuid.UUID `gorm:"type:uuid;index"`
}

// TableName returns the table name for GORM
func (ConflictLogModel) TableName() string {
	return "conflict_logs"
}

// ToDomain converts the persistence model to a domain ConflictLog.
func (m *ConflictLogModel) ToDomain() *conflict.ConflictLog {
	log := &conflict.ConflictLog{
		ID:         m.ID,
		Type:       m.Type,
		SKU:        m.SKU,
		Conflict:   decodeDocument(m.ConflictJSON, m.ID, "conflict"),
		Resolution: decodeDocument(m.ResolutionJSON, m.ID, "resolution"),
		Strategy:   m.Strategy,
		Resolved:   m.Resolved,
		ResolvedAt: m.ResolvedAt,
		JobID:      m.JobID,
		CreatedAt:  m.CreatedAt,
	}
	return log
}

// ConflictLogModelFromDomain creates a new persistence model from a domain ConflictLog.
func ConflictLogModelFromDomain(l *conflict.ConflictLog) *ConflictLogModel {
	return &ConflictLogModel{
		AppendOnlyModel: AppendOnlyModel{ID: l.ID, CreatedAt: l.CreatedAt},
		Type:            l.Type,
		SKU:             l.SKU,
		ConflictJSON:    encodeDocument(l.Conflict),
		ResolutionJSON:  encodeDocument(l.Resolution),
		Strategy:        l.Strategy,
		Resolved:        l.Resolved,
		ResolvedAt:      l.ResolvedAt,
		JobID:           l.JobID,
	}
}

func encodeDocument(doc map[string]any) string {
	if len(doc) == 0 {
		return "{}"
	}
	b, err := json.Marshal(doc)
	if err != nil {
		modelLogger.Warn("failed to encode JSON document", zap.Error(err))
		return "{}"
	}
	return string(b)
}

func decodeDocument(raw string, id uuid.UUID, column string) map[string]any {
	if raw == "" || raw == "{}" {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		modelLogger.Warn("failed to parse JSON document",
			zap.String("id", id.String()),
			zap.String("column", column),
			zap.Error(err))
		return nil
	}
	return doc
}
