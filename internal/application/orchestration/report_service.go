package orchestration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/domain/conflict"
	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/syncjob"
)

// ProductDiscrepancy is one product whose platforms disagreed on the last run
type ProductDiscrepancy struct {
	SKU           string
	Discrepancy   int
	SyncStatus    integration.SyncStatus
	LastSyncAt    *time.Time
	LastSyncError string
}

// DiscrepancyReport is the admin view of where the platforms disagree
type DiscrepancyReport struct {
	GeneratedAt    time.Time
	MinDiscrepancy int
	Products       []ProductDiscrepancy
	Conflicts      []conflict.ConflictLog
	RecentJobs     []JobStatus
}

// ReportExporter renders a report into a downloadable document
type ReportExporter interface {
	Export(report *DiscrepancyReport) ([]byte, error)
	ContentType() string
	Extension() string
}

// ReportArchive stores rendered reports and returns their location
type ReportArchive interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// ReportConfig bounds what a report pulls in
type ReportConfig struct {
	ConflictLimit int
	JobLimit      int
}

// DefaultReportConfig returns default report limits
func DefaultReportConfig() ReportConfig {
	return ReportConfig{ConflictLimit: 200, JobLimit: 20}
}

// ExportResult is a rendered report and, when archived, where it went
type ExportResult struct {
	Report      *DiscrepancyReport
	Content     []byte
	ContentType string
	FileName    string
	Location    string
}

// DiscrepancyReportService builds discrepancy reports
type DiscrepancyReportService struct {
	mappings  integration.ProductMappingFinder
	conflicts conflict.ConflictLogRepository
	jobs      syncjob.SyncJobRepository
	exporter  ReportExporter
	archive   ReportArchive
	config    ReportConfig
	logger    *zap.Logger
}

// NewDiscrepancyReportService creates the service. archive may be nil.
func NewDiscrepancyReportService(
	mappings integration.ProductMappingFinder,
	conflicts conflict.ConflictLogRepository,
	jobs syncjob.SyncJobRepository,
	exporter ReportExporter,
	archive ReportArchive,
	config ReportConfig,
	logger *zap.Logger,
) *DiscrepancyReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscrepancyReportService{
		mappings:  mappings,
		conflicts: conflicts,
		jobs:      jobs,
		exporter:  exporter,
		archive:   archive,
		config:    config,
		logger:    logger,
	}
}

// Generate collects products at or above minDiscrepancy, recent conflicts and recent jobs
func (s *DiscrepancyReportService) Generate(ctx context.Context, minDiscrepancy int) (*DiscrepancyReport, error) {
	if minDiscrepancy < 1 {
		minDiscrepancy = 1
	}

	mappings, err := s.mappings.FindWithDiscrepancy(ctx, minDiscrepancy)
	if err != nil {
		return nil, fmt.Errorf("find discrepancies: %w", err)
	}
	conflicts, err := s.conflicts.FindRecent(ctx, "", s.config.ConflictLimit)
	if err != nil {
		return nil, fmt.Errorf("find conflicts: %w", err)
	}
	jobs, err := s.jobs.FindRecent(ctx, s.config.JobLimit)
	if err != nil {
		return nil, fmt.Errorf("find jobs: %w", err)
	}

	report := &DiscrepancyReport{
		GeneratedAt:    time.Now(),
		MinDiscrepancy: minDiscrepancy,
		Products:       make([]ProductDiscrepancy, 0, len(mappings)),
		Conflicts:      conflicts,
		RecentJobs:     make([]JobStatus, 0, len(jobs)),
	}
	for _, m := range mappings {
		report.Products = append(report.Products, ProductDiscrepancy{
			SKU:           m.SKU,
			Discrepancy:   m.Discrepancy,
			SyncStatus:    m.SyncStatus,
			LastSyncAt:    m.LastSyncAt,
			LastSyncError: m.LastSyncError,
		})
	}
	for i := range jobs {
		report.RecentJobs = append(report.RecentJobs, toJobStatus(&jobs[i]))
	}
	return report, nil
}

// Export generates a report, renders it, and archives it when an archive is configured.
// A failed upload is logged and the rendered content is still returned.
func (s *DiscrepancyReportService) Export(ctx context.Context, minDiscrepancy int) (*ExportResult, error) {
	report, err := s.Generate(ctx, minDiscrepancy)
	if err != nil {
		return nil, err
	}
	content, err := s.exporter.Export(report)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	result := &ExportResult{
		Report:      report,
		Content:     content,
		ContentType: s.exporter.ContentType(),
		FileName:    fmt.Sprintf("discrepancies-%s%s", report.GeneratedAt.UTC().Format("20060102-150405"), s.exporter.Extension()),
	}
	if s.archive == nil {
		return result, nil
	}

	location, err := s.archive.Put(ctx, "reports/"+result.FileName, content, result.ContentType)
	if err != nil {
		s.logger.Warn("Failed to archive discrepancy report",
			zap.String("file", result.FileName),
			zap.Error(err),
		)
		return result, nil
	}
	result.Location = location
	s.logger.Info("Discrepancy report archived",
		zap.String("location", location),
		zap.Int("products", len(report.Products)),
	)
	return result, nil
}
