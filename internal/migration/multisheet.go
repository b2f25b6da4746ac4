package migration

import (
	"context"
)

// multisheet.go implements the per-sheet observability queries behind the
// /api/migration/multisheet endpoints.

// SheetProgress aggregates per-sheet state for a job.
type SheetProgress struct {
	JobID           string      `json:"jobId"`
	TotalSheets     int         `json:"totalSheets"`
	CompletedSheets int         `json:"completedSheets"`
	FailedSheets    int         `json:"failedSheets"`
	ProgressPercent float64     `json:"progressPercent"`
	Sheets          []*JobSheet `json:"sheets"`
}

// SheetPerformance reports per-sheet timing for a finished or running job.
type SheetPerformance struct {
	SheetName     string  `json:"sheetName"`
	TotalRows     int64   `json:"totalRows"`
	IngestMS      int64   `json:"ingestMs"`
	ValidationMS  int64   `json:"validationMs"`
	InsertionMS   int64   `json:"insertionMs"`
	TotalMS       int64   `json:"totalMs"`
	RowsPerSecond float64 `json:"rowsPerSecond"`
}

// Progress returns the aggregate multi-sheet view of a job.
func (o *Orchestrator) Progress(ctx context.Context, jobID string) (*SheetProgress, error) {
	sheets, err := o.store.ListSheets(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if len(sheets) == 0 {
		if _, err := o.store.GetJob(ctx, jobID); err != nil {
			return nil, err
		}
	}

	progress := &SheetProgress{JobID: jobID, TotalSheets: len(sheets), Sheets: sheets}
	var percentSum float64
	for _, sheet := range sheets {
		switch sheet.Status {
		case StatusCompleted, StatusValidationCompleted, StatusApplyCompleted:
			progress.CompletedSheets++
		case StatusFailed:
			progress.FailedSheets++
		}
		percentSum += sheet.ProgressPercent
	}
	if len(sheets) > 0 {
		progress.ProgressPercent = percentSum / float64(len(sheets))
	}
	return progress, nil
}

// InProgressSheets returns the sheets of a job that are still being
// processed.
func (o *Orchestrator) InProgressSheets(ctx context.Context, jobID string) ([]*JobSheet, error) {
	sheets, err := o.store.ListSheets(ctx, jobID)
	if err != nil {
		return nil, err
	}
	var active []*JobSheet
	for _, sheet := range sheets {
		switch sheet.Status {
		case StatusCompleted, StatusFailed:
			continue
		}
		active = append(active, sheet)
	}
	return active, nil
}

// SheetPerformanceSummary reports throughput per sheet.
func (o *Orchestrator) SheetPerformanceSummary(ctx context.Context, jobID string) ([]SheetPerformance, error) {
	sheets, err := o.store.ListSheets(ctx, jobID)
	if err != nil {
		return nil, err
	}
	out := make([]SheetPerformance, 0, len(sheets))
	for _, sheet := range sheets {
		perf := SheetPerformance{
			SheetName:    sheet.SheetName,
			TotalRows:    sheet.TotalRows,
			IngestMS:     sheet.IngestMS,
			ValidationMS: sheet.ValidationMS,
			InsertionMS:  sheet.InsertionMS,
			TotalMS:      sheet.TotalMS,
		}
		if perf.TotalMS == 0 {
			perf.TotalMS = sheet.IngestMS + sheet.ValidationMS + sheet.InsertionMS
		}
		if perf.TotalMS > 0 {
			perf.RowsPerSecond = float64(sheet.TotalRows) / (float64(perf.TotalMS) / 1000)
		}
		out = append(out, perf)
	}
	return out, nil
}

// IsComplete reports whether every sheet of the job reached a terminal
// state.
func (o *Orchestrator) IsComplete(ctx context.Context, jobID string) (bool, error) {
	sheets, err := o.store.ListSheets(ctx, jobID)
	if err != nil {
		return false, err
	}
	if len(sheets) == 0 {
		job, err := o.store.GetJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		return job.Status == StatusCompleted || job.Status == StatusFailed, nil
	}
	for _, sheet := range sheets {
		if sheet.Status != StatusCompleted && sheet.Status != StatusFailed &&
			sheet.Status != StatusValidationCompleted {
			return false, nil
		}
	}
	return true, nil
}

// Sheet returns one sheet's state.
func (o *Orchestrator) Sheet(ctx context.Context, jobID, sheetName string) (*JobSheet, error) {
	return o.store.GetSheet(ctx, jobID, sheetName)
}

// Sheets returns every sheet of a job in workbook order.
func (o *Orchestrator) Sheets(ctx context.Context, jobID string) ([]*JobSheet, error) {
	return o.store.ListSheets(ctx, jobID)
}

// JobStatus returns the job row for status endpoints.
func (o *Orchestrator) JobStatus(ctx context.Context, jobID string) (*Job, error) {
	return o.store.GetJob(ctx, jobID)
}

// ErrorStats returns error counts grouped by kind.
func (o *Orchestrator) ErrorStats(ctx context.Context, jobID string) (map[string]int64, error) {
	if _, err := o.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return o.store.ErrorStats(ctx, jobID)
}

// Errors returns up to limit error rows for download endpoints.
func (o *Orchestrator) Errors(ctx context.Context, jobID string, limit int) ([]StagingError, error) {
	if _, err := o.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return o.store.ListErrors(ctx, jobID, limit)
}
