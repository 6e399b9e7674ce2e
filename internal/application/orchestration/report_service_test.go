package orchestration

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/erp/channelsync/internal/domain/conflict"
	"github.com/erp/channelsync/internal/domain/syncjob"
)

type MockConflictLogRepository struct {
	mock.Mock
}

func (m *MockConflictLogRepository) Save(ctx context.Context, log *conflict.ConflictLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockConflictLogRepository) FindByID(ctx context.Context, id uuid.UUID) (*conflict.ConflictLog, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*conflict.ConflictLog), args.Error(1)
}

func (m *MockConflictLogRepository) FindRecent(ctx context.Context, sku string, limit int) ([]conflict.ConflictLog, error) {
	args := m.Called(ctx, sku, limit)
	return args.Get(0).([]conflict.ConflictLog), args.Error(1)
}

func (m *MockConflictLogRepository) FindUnresolved(ctx context.Context, limit int) ([]conflict.ConflictLog, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]conflict.ConflictLog), args.Error(1)
}

type MockReportArchive struct {
	mock.Mock
}

func (m *MockReportArchive) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	args := m.Called(ctx, key, body, contentType)
	return args.String(0), args.Error(1)
}

type stubExporter struct{}

func (stubExporter) Export(report *DiscrepancyReport) ([]byte, error) {
	return []byte(fmt.Sprintf("rows:%d", len(report.Products))), nil
}
func (stubExporter) ContentType() string { return "text/plain" }
func (stubExporter) Extension() string   { return ".txt" }

func newReportFixture(t *testing.T) (*memoryMappings, *MockConflictLogRepository, *memoryJobs) {
	t.Helper()
	mappings := newMemoryMappings("SKU-1", "SKU-2", "SKU-3")
	mappings.mappings[0].Discrepancy = 12
	mappings.mappings[1].Discrepancy = 2

	jobs := newMemoryJobs()
	job, err := syncjob.NewSyncJob(syncjob.JobTypeFull, syncjob.PriorityNormal, nil, 0, "interval")
	require.NoError(t, err)
	require.NoError(t, jobs.Save(context.Background(), job))

	log, err := conflict.NewConflictLog(conflict.ConflictTypeInventory, "SKU-1", map[string]any{"quantity_a": 20, "quantity_b": 8})
	require.NoError(t, err)
	conflicts := new(MockConflictLogRepository)
	conflicts.On("FindRecent", mock.Anything, "", 200).Return([]conflict.ConflictLog{*log}, nil)
	return mappings, conflicts, jobs
}

func TestDiscrepancyReportService_Generate(t *testing.T) {
	mappings, conflicts, jobs := newReportFixture(t)
	svc := NewDiscrepancyReportService(mappings, conflicts, jobs, stubExporter{}, nil, DefaultReportConfig(), nil)

	report, err := svc.Generate(context.Background(), 10)
	require.NoError(t, err)

	require.Len(t, report.Products, 1)
	assert.Equal(t, "SKU-1", report.Products[0].SKU)
	assert.Equal(t, 12, report.Products[0].Discrepancy)
	assert.Len(t, report.Conflicts, 1)
	assert.Len(t, report.RecentJobs, 1)

	report, err = svc.Generate(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.MinDiscrepancy)
	assert.Len(t, report.Products, 2)
}

func TestDiscrepancyReportService_Export(t *testing.T) {
	t.Run("without archive", func(t *testing.T) {
		mappings, conflicts, jobs := newReportFixture(t)
		svc := NewDiscrepancyReportService(mappings, conflicts, jobs, stubExporter{}, nil, DefaultReportConfig(), nil)

		result, err := svc.Export(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, []byte("rows:2"), result.Content)
		assert.Equal(t, "text/plain", result.ContentType)
		assert.Regexp(t, `^discrepancies-\d{8}-\d{6}\.txt$`, result.FileName)
		assert.Empty(t, result.Location)
	})

	t.Run("archives when configured", func(t *testing.T) {
		mappings, conflicts, jobs := newReportFixture(t)
		archive := new(MockReportArchive)
		archive.On("Put", mock.Anything, mock.MatchedBy(func(key string) bool {
			return len(key) > len("reports/")
		}), []byte("rows:2"), "text/plain").Return("s3://reports/x.txt", nil)
		svc := NewDiscrepancyReportService(mappings, conflicts, jobs, stubExporter{}, archive, DefaultReportConfig(), nil)

		result, err := svc.Export(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "s3://reports/x.txt", result.Location)
		archive.AssertExpectations(t)
	})

	t.Run("archive failure keeps content", func(t *testing.T) {
		mappings, conflicts, jobs := newReportFixture(t)
		archive := new(MockReportArchive)
		archive.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("access denied"))
		svc := NewDiscrepancyReportService(mappings, conflicts, jobs, stubExporter{}, archive, DefaultReportConfig(), nil)

		result, err := svc.Export(context.Background(), 1)
		require.NoError(t, err)
		assert.NotEmpty(t, result.Content)
		assert.Empty(t, result.Location)
	})
}
