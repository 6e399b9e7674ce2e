package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/erp/channelsync/internal/application/orchestration"
	"github.com/erp/channelsync/internal/domain/conflict"
	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/syncjob"
)

func sampleReport() *orchestration.DiscrepancyReport {
	lastSync := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &orchestration.DiscrepancyReport{
		GeneratedAt:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		MinDiscrepancy: 1,
		Products: []orchestration.ProductDiscrepancy{
			{SKU: "X-1", Discrepancy: 12, SyncStatus: integration.SyncStatusDiscrepancy, LastSyncAt: &lastSync},
			{SKU: "X-2", Discrepancy: 3, SyncStatus: integration.SyncStatusFailed, LastSyncError: "platform B timeout"},
		},
		Conflicts: []conflict.ConflictLog{
			{
				ID:         uuid.New(),
				Type:       conflict.ConflictTypeInventory,
				SKU:        "X-1",
				Conflict:   map[string]any{"a": 20, "b": 8},
				Resolution: map[string]any{"quantity": 8},
				Strategy:   conflict.StrategyConservativeMinimum,
				Resolved:   true,
				CreatedAt:  created,
			},
		},
		RecentJobs: []orchestration.JobStatus{
			{
				ID:        uuid.New(),
				Type:      syncjob.JobTypeFull,
				Priority:  syncjob.PriorityNormal,
				Status:    syncjob.StatusCompleted,
				Progress:  100,
				Summary:   syncjob.Summary{Total: 2, Synced: 1, Failed: 1},
				CreatedAt: created,
			},
		},
	}
}

func TestXLSXDiscrepancyExporter_Export(t *testing.T) {
	exporter := XLSXDiscrepancyExporter{}
	assert.Equal(t, ".xlsx", exporter.Extension())
	assert.Contains(t, exporter.ContentType(), "spreadsheetml")

	content, err := exporter.Export(sampleReport())
	require.NoError(t, err)
	require.NotEmpty(t, content)

	f, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{productsSheet, conflictsSheet, jobsSheet}, f.GetSheetList())

	products, err := f.GetRows(productsSheet)
	require.NoError(t, err)
	require.Len(t, products, 3)
	assert.Equal(t, "SKU", products[0][0])
	assert.Equal(t, []string{"X-1", "12", "DISCREPANCY", "2026-03-01T09:30:00Z"}, products[1])
	assert.Equal(t, "platform B timeout", products[2][4])

	conflicts, err := f.GetRows(conflictsSheet)
	require.NoError(t, err)
	require.Len(t, conflicts, 2)
	assert.Equal(t, "conservative_minimum", conflicts[1][3])
	assert.Equal(t, `{"a":20,"b":8}`, conflicts[1][5])

	jobs, err := f.GetRows(jobsSheet)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "COMPLETED", jobs[1][3])

	props, err := f.GetDocProps()
	require.NoError(t, err)
	assert.Equal(t, "min discrepancy 1", props.Subject)
}

func TestXLSXDiscrepancyExporter_EmptyReport(t *testing.T) {
	content, err := XLSXDiscrepancyExporter{}.Export(&orchestration.DiscrepancyReport{GeneratedAt: time.Now()})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(productsSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "header only")
}
