// Package report renders and archives discrepancy reports.
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/erp/channelsync/internal/application/orchestration"
)

const (
	productsSheet  = "Products"
	conflictsSheet = "Conflicts"
	jobsSheet      = "Jobs"
)

var (
	productHeader  = []any{"SKU", "Discrepancy", "Sync Status", "Last Sync", "Last Error"}
	conflictHeader = []any{"ID", "Type", "SKU", "Strategy", "Resolved", "Conflict", "Resolution", "Created"}
	jobHeader      = []any{"ID", "Type", "Priority", "Status", "Progress", "Total", "Synced", "Failed", "Skipped", "Discrepancies", "Retries", "Last Error", "Created"}
)

// XLSXDiscrepancyExporter renders a report as a workbook with one sheet per section
type XLSXDiscrepancyExporter struct{}

var _ orchestration.ReportExporter = XLSXDiscrepancyExporter{}

// ContentType returns the xlsx MIME type
func (XLSXDiscrepancyExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Extension returns ".xlsx"
func (XLSXDiscrepancyExporter) Extension() string {
	return ".xlsx"
}

// Export renders report
func (XLSXDiscrepancyExporter) Export(report *orchestration.DiscrepancyReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", productsSheet); err != nil {
		return nil, err
	}
	for _, name := range []string{conflictsSheet, jobsSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	products := make([][]any, 0, len(report.Products))
	for _, p := range report.Products {
		products = append(products, []any{p.SKU, p.Discrepancy, string(p.SyncStatus), formatTime(p.LastSyncAt), p.LastSyncError})
	}
	if err := writeSheet(f, productsSheet, productHeader, products); err != nil {
		return nil, err
	}

	conflicts := make([][]any, 0, len(report.Conflicts))
	for _, c := range report.Conflicts {
		conflicts = append(conflicts, []any{
			c.ID.String(), string(c.Type), c.SKU, string(c.Strategy), c.Resolved,
			compactJSON(c.Conflict), compactJSON(c.Resolution), formatTime(&c.CreatedAt),
		})
	}
	if err := writeSheet(f, conflictsSheet, conflictHeader, conflicts); err != nil {
		return nil, err
	}

	jobs := make([][]any, 0, len(report.RecentJobs))
	for _, j := range report.RecentJobs {
		jobs = append(jobs, []any{
			j.ID.String(), string(j.Type), string(j.Priority), string(j.Status), j.Progress,
			j.Summary.Total, j.Summary.Synced, j.Summary.Failed, j.Summary.Skipped, j.Summary.Discrepancies,
			j.RetryCount, j.LastError, formatTime(&j.CreatedAt),
		})
	}
	if err := writeSheet(f, jobsSheet, jobHeader, jobs); err != nil {
		return nil, err
	}

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   "Inventory discrepancy report",
		Created: report.GeneratedAt.UTC().Format(time.RFC3339),
		Subject: fmt.Sprintf("min discrepancy %d", report.MinDiscrepancy),
	}); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("report: write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, header []any, rows [][]any) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("report: %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("report: %s row %d: %w", sheet, i+1, err)
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func compactJSON(v map[string]any) string {
	if len(v) == 0 {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
