package migration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arcstore/migrator/internal/xlsx"
)

// stagingRawColumns is the CopyFrom column list for staging_raw. Order must
// match toStagingRow.
var stagingRawColumns = []string{
	"job_id", "sheet_name", "row_num",
	"ma_don_vi", "ma_don_vi_norm", "ten_don_vi",
	"ma_thung", "ma_thung_norm",
	"ma_kho", "ma_kho_norm",
	"loai_chung_tu",
	"ngay_chung_tu", "ngay_chung_tu_norm",
	"so_luong_tap", "so_luong_tap_norm",
	"thoi_han_luu_tru",
	"khu_vuc", "hang", "cot",
	"tinh_trang_ho_so", "trang_thai_thung", "tinh_trang_thung",
	"ngay_den_han", "ngay_den_han_norm",
	"ngay_ban_giao", "ngay_ban_giao_norm",
	"ghi_chu", "parse_errors", "created_at",
}

// Ingestor runs the streaming reader over an upload and bulk-inserts the
// rows into staging_raw.
type Ingestor struct {
	store *Store
}

// NewIngestor creates the ingest service.
func NewIngestor(store *Store) *Ingestor {
	return &Ingestor{store: store}
}

// IngestResult summarizes one completed ingest phase.
type IngestResult struct {
	JobID       string           `json:"jobId"`
	Processed   int64            `json:"processedRows"`
	ParseErrors int64            `json:"parseErrorRows"`
	RowsBySheet map[string]int64 `json:"rowsBySheet,omitempty"`
	ElapsedMS   int64            `json:"elapsedMs"`
}

// Ingest creates a job, streams the workbook into staging_raw, and records
// per-sheet counters. On any failure the job is marked FAILED and the
// job's staging rows are removed so a failed ingest leaves nothing behind.
func (ing *Ingestor) Ingest(ctx context.Context, upload io.Reader, fileName, createdBy string, cfg xlsx.Config) (*IngestResult, error) {
	now := time.Now()
	job := &Job{
		ID:           NewJobID(now),
		FileName:     fileName,
		CreatedBy:    createdBy,
		Status:       StatusStarted,
		CurrentPhase: PhaseIngest,
		CreatedAt:    now,
		StartedAt:    &now,
	}
	if err := ing.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	res, err := ing.ingestInto(ctx, job, upload, cfg)
	if err != nil {
		ing.abort(ctx, job.ID, err)
		return nil, fmt.Errorf("ingest job %s: %w", job.ID, err)
	}
	return res, nil
}

// IngestInto runs ingest for an already-created job. Used by the
// multi-sheet start endpoint, where the job id is supplied by the caller.
func (ing *Ingestor) IngestInto(ctx context.Context, job *Job, upload io.Reader, cfg xlsx.Config) (*IngestResult, error) {
	res, err := ing.ingestInto(ctx, job, upload, cfg)
	if err != nil {
		ing.abort(ctx, job.ID, err)
		return nil, fmt.Errorf("ingest job %s: %w", job.ID, err)
	}
	return res, nil
}

func (ing *Ingestor) ingestInto(ctx context.Context, job *Job, upload io.Reader, cfg xlsx.Config) (*IngestResult, error) {
	start := time.Now()

	pkg, err := xlsx.OpenStream(upload)
	if err != nil {
		return nil, err
	}
	defer pkg.Close()

	// Reject oversize uploads before the first row is staged.
	if cfg.MaxRows > 0 || cfg.SheetRowCap > 0 {
		if _, err := pkg.PrevalidateRowCaps(cfg, cfg.SheetRowCap, cfg.MaxRows); err != nil {
			return nil, err
		}
	}

	var sheetNames []string
	for i, info := range pkg.Sheets() {
		if sheetSelected(cfg, info.Name, i) {
			sheetNames = append(sheetNames, info.Name)
		}
	}
	if err := ing.store.CreateSheets(ctx, job.ID, sheetNames); err != nil {
		return nil, err
	}

	job.Status = StatusIngesting
	if err := ing.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	var parseErrors atomic.Int64
	sink := &stagingSink{
		store:       ing.store,
		jobID:       job.ID,
		strict:      cfg.StrictValidation,
		parseErrors: &parseErrors,
	}

	readRes, err := xlsx.Read(ctx, pkg, cfg, &CaseRow{}, sink)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	for _, name := range sheetNames {
		count := readRes.RowsBySheet[name]
		_, err := ing.store.UpdateSheet(ctx, job.ID, name, func(sh *JobSheet) {
			sh.Status = StatusIngestingCompleted
			sh.CurrentPhase = PhaseIngest
			sh.TotalRows = count
			sh.ProcessedRows = count
			sh.IngestMS = elapsed.Milliseconds()
		})
		if err != nil {
			return nil, err
		}
	}

	job.Status = StatusIngestingCompleted
	job.TotalRows = readRes.Processed
	job.ProcessedRows = readRes.Processed
	job.ProcessingTimeMS = elapsed.Milliseconds()
	if err := ing.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	slog.Info("ingest completed",
		"job_id", job.ID,
		"rows", readRes.Processed,
		"parse_error_rows", parseErrors.Load(),
		"elapsed", elapsed)

	return &IngestResult{
		JobID:       job.ID,
		Processed:   readRes.Processed,
		ParseErrors: parseErrors.Load(),
		RowsBySheet: readRes.RowsBySheet,
		ElapsedMS:   elapsed.Milliseconds(),
	}, nil
}

// abort marks the job FAILED and removes any staged rows so partial ingest
// state never survives.
func (ing *Ingestor) abort(ctx context.Context, jobID string, cause error) {
	if err := ing.store.FailJob(ctx, jobID, cause.Error()); err != nil {
		slog.Error("mark job failed", "job_id", jobID, "error", err)
	}
	if err := ing.store.DeleteStaging(ctx, jobID, false); err != nil {
		slog.Error("cleanup after failed ingest", "job_id", jobID, "error", err)
	}
}

func sheetSelected(cfg xlsx.Config, name string, pos int) bool {
	if cfg.ReadAllSheets {
		return true
	}
	if len(cfg.SheetNames) == 0 {
		return pos == 0
	}
	for _, want := range cfg.SheetNames {
		if want == name {
			return true
		}
	}
	return false
}

// stagingSink converts record batches into staging_raw rows. Each call
// owns its batch: it builds its own row list and runs its own CopyFrom in
// its own transaction, so parallel read strategies can call it from many
// goroutines.
type stagingSink struct {
	store       *Store
	jobID       string
	strict      bool
	parseErrors *atomic.Int64
}

func (s *stagingSink) ProcessBatch(ctx context.Context, batch xlsx.Batch) error {
	rows := make([][]any, 0, len(batch.Records))
	now := time.Now()
	for i, rec := range batch.Records {
		row, ok := rec.(*CaseRow)
		if !ok {
			return fmt.Errorf("unexpected record type %T", rec)
		}
		if s.strict {
			row.CheckStrict()
		}
		if len(row.ParseErrors()) > 0 {
			s.parseErrors.Add(1)
		}
		rows = append(rows, toStagingRow(s.jobID, batch.Sheet, batch.RowNums[i], row, now))
	}

	tx, err := s.store.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin staging batch: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"staging_raw"}, stagingRawColumns,
		pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy staging batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit staging batch: %w", err)
	}
	return nil
}

// toStagingRow flattens one record into CopyFrom values. The reader has
// already canonicalized key cells; the normalized twin re-applies the
// normalizer, which is idempotent, so raw and twin agree with the
// normalization contract.
func toStagingRow(jobID, sheet string, rowNum int, r *CaseRow, now time.Time) []any {
	var parseErrs any
	if errs := r.ParseErrors(); len(errs) > 0 {
		joined := ""
		for i, e := range errs {
			if i > 0 {
				joined += "; "
			}
			joined += e
		}
		parseErrs = joined
	}

	return []any{
		jobID, sheet, rowNum,
		r.UnitCode, xlsx.NormalizeCell(r.UnitCode, true, false), r.UnitName,
		r.BoxCode, xlsx.NormalizeCell(r.BoxCode, true, false),
		r.WarehouseCode, xlsx.NormalizeCell(r.WarehouseCode, true, false),
		r.DocTypeName,
		r.DocDate, xlsx.NormalizeCell(r.DocDate, false, true),
		r.Quantity, xlsx.NormalizeCell(r.Quantity, true, false),
		r.RetentionPeriod,
		r.Area, r.RowNo, r.ColNo,
		r.CaseStatus, r.BoxStatus, r.BoxState,
		r.DueDate, xlsx.NormalizeCell(r.DueDate, false, true),
		r.HandoverDate, xlsx.NormalizeCell(r.HandoverDate, false, true),
		r.Note, parseErrs, now,
	}
}
