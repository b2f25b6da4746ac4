package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrJobNotFound is returned when a job id has no migration_job row.
var ErrJobNotFound = errors.New("migration job not found")

// ErrSheetNotFound is returned when a (job, sheet) pair has no row.
var ErrSheetNotFound = errors.New("migration job sheet not found")

// errVersionConflict signals an optimistic-lock miss; the update is
// re-read and retried.
var errVersionConflict = errors.New("job sheet version conflict")

// sheetUpdateRetries bounds the optimistic-lock retry loop.
const sheetUpdateRetries = 3

// Store persists jobs, job sheets, and staging rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store over the shared connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for phase services that run their own
// bulk SQL (validator, applier, reconciler).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// CreateJob inserts a fresh job row.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO migration_job
			(id, file_name, created_by, status, current_phase, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.FileName, job.CreatedBy, job.Status, job.CurrentPhase, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads one job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, file_name, created_by, status, current_phase, progress_percent,
		       total_rows, processed_rows, valid_rows, error_rows, inserted_rows,
		       error_message, created_at, started_at, completed_at, processing_time_ms
		FROM migration_job WHERE id = $1`, jobID)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// UpdateJob writes the job's mutable columns.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE migration_job SET
			status = $2, current_phase = $3, progress_percent = $4,
			total_rows = $5, processed_rows = $6, valid_rows = $7,
			error_rows = $8, inserted_rows = $9, error_message = $10,
			started_at = $11, completed_at = $12, processing_time_ms = $13
		WHERE id = $1`,
		job.ID, job.Status, job.CurrentPhase, job.ProgressPercent,
		job.TotalRows, job.ProcessedRows, job.ValidRows,
		job.ErrorRows, job.InsertedRows, nullText(job.ErrorMessage),
		nullTime(job.StartedAt), nullTime(job.CompletedAt), job.ProcessingTimeMS)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	return nil
}

// SetJobPhase updates status and phase label only. Used by the step
// tracker's best-effort write-through; callers log and ignore failures.
func (s *Store) SetJobPhase(ctx context.Context, jobID, status, phase string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE migration_job SET status = $2, current_phase = $3 WHERE id = $1`,
		jobID, status, phase)
	if err != nil {
		return fmt.Errorf("set job %s phase: %w", jobID, err)
	}
	return nil
}

// FailJob marks the job FAILED with its first error message and stamps
// completion.
func (s *Store) FailJob(ctx context.Context, jobID, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE migration_job
		SET status = $2, error_message = $3, completed_at = now()
		WHERE id = $1`,
		jobID, StatusFailed, message)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	return nil
}

// CreateSheets registers one JobSheet per selected worksheet, preserving
// workbook order.
func (s *Store) CreateSheets(ctx context.Context, jobID string, names []string) error {
	for i, name := range names {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO migration_job_sheet
				(job_id, sheet_name, sheet_index, status, current_phase, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())`,
			jobID, name, i, StatusStarted, PhaseIngest)
		if err != nil {
			return fmt.Errorf("create sheet %s/%s: %w", jobID, name, err)
		}
	}
	return nil
}

// GetSheet loads one sheet row by (job, name).
func (s *Store) GetSheet(ctx context.Context, jobID, sheetName string) (*JobSheet, error) {
	row := s.pool.QueryRow(ctx, sheetSelect+` WHERE job_id = $1 AND sheet_name = $2`, jobID, sheetName)
	sheet, err := scanSheet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSheetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sheet %s/%s: %w", jobID, sheetName, err)
	}
	return sheet, nil
}

// ListSheets returns the job's sheets in workbook order.
func (s *Store) ListSheets(ctx context.Context, jobID string) ([]*JobSheet, error) {
	rows, err := s.pool.Query(ctx, sheetSelect+` WHERE job_id = $1 ORDER BY sheet_index`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list sheets %s: %w", jobID, err)
	}
	defer rows.Close()

	var sheets []*JobSheet
	for rows.Next() {
		sheet, err := scanSheet(rows)
		if err != nil {
			return nil, fmt.Errorf("list sheets %s: %w", jobID, err)
		}
		sheets = append(sheets, sheet)
	}
	return sheets, rows.Err()
}

// UpdateSheet applies mutate to the current sheet row and persists it under
// the optimistic lock. On a version conflict the row is re-read and the
// mutation replayed, with exponential backoff, up to sheetUpdateRetries.
func (s *Store) UpdateSheet(ctx context.Context, jobID, sheetName string, mutate func(*JobSheet)) (*JobSheet, error) {
	var updated *JobSheet

	attempt := func() error {
		sheet, err := s.GetSheet(ctx, jobID, sheetName)
		if err != nil {
			return backoff.Permanent(err)
		}
		mutate(sheet)

		tag, err := s.pool.Exec(ctx, `
			UPDATE migration_job_sheet SET
				status = $3, current_phase = $4, progress_percent = $5,
				total_rows = $6, processed_rows = $7, valid_rows = $8,
				error_rows = $9, inserted_rows = $10,
				ingest_ms = $11, validation_ms = $12, insertion_ms = $13, total_ms = $14,
				error_message = $15, completed_at = $16,
				version = version + 1, updated_at = now()
			WHERE job_id = $1 AND sheet_name = $2 AND version = $17`,
			jobID, sheetName,
			sheet.Status, sheet.CurrentPhase, sheet.ProgressPercent,
			sheet.TotalRows, sheet.ProcessedRows, sheet.ValidRows,
			sheet.ErrorRows, sheet.InsertedRows,
			sheet.IngestMS, sheet.ValidationMS, sheet.InsertionMS, sheet.TotalMS,
			nullText(sheet.ErrorMessage), nullTime(sheet.CompletedAt),
			sheet.Version)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("update sheet %s/%s: %w", jobID, sheetName, err))
		}
		if tag.RowsAffected() == 0 {
			return errVersionConflict
		}
		sheet.Version++
		updated = sheet
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), sheetUpdateRetries), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteStaging drops the job's staging rows. Error rows are retained when
// keepErrors is set.
func (s *Store) DeleteStaging(ctx context.Context, jobID string, keepErrors bool) error {
	tables := []string{"staging_valid", "staging_raw"}
	if !keepErrors {
		tables = append(tables, "staging_error")
	}
	for _, table := range tables {
		if _, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE job_id = $1`, jobID); err != nil {
			return fmt.Errorf("cleanup %s for %s: %w", table, jobID, err)
		}
	}
	slog.Info("staging cleaned up", "job_id", jobID, "keep_errors", keepErrors)
	return nil
}

// ErrorStats returns staging_error counts grouped by error type.
func (s *Store) ErrorStats(ctx context.Context, jobID string) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT error_type, count(*) FROM staging_error WHERE job_id = $1 GROUP BY error_type`, jobID)
	if err != nil {
		return nil, fmt.Errorf("error stats %s: %w", jobID, err)
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("error stats %s: %w", jobID, err)
		}
		stats[kind] = count
	}
	return stats, rows.Err()
}

// ListErrors returns up to limit error rows for the job, file order
// first. A non-positive limit returns every row.
func (s *Store) ListErrors(ctx context.Context, jobID string, limit int) ([]StagingError, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, coalesce(sheet_name, ''), row_num, error_type, error_field,
		       coalesce(error_value, ''), error_message, coalesce(original_data, ''), created_at
		FROM staging_error
		WHERE job_id = $1
		ORDER BY sheet_name, row_num
		LIMIT CASE WHEN $2::int > 0 THEN $2::int END`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list errors %s: %w", jobID, err)
	}
	defer rows.Close()

	var out []StagingError
	for rows.Next() {
		var e StagingError
		if err := rows.Scan(&e.JobID, &e.SheetName, &e.RowNum, &e.ErrorType, &e.ErrorField,
			&e.ErrorValue, &e.ErrorMessage, &e.OriginalData, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("list errors %s: %w", jobID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountErrors returns the number of error rows for the job.
func (s *Store) CountErrors(ctx context.Context, jobID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM staging_error WHERE job_id = $1`, jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count errors %s: %w", jobID, err)
	}
	return n, nil
}

// CountValid returns the number of promoted rows for the job.
func (s *Store) CountValid(ctx context.Context, jobID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM staging_valid WHERE job_id = $1`, jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count valid %s: %w", jobID, err)
	}
	return n, nil
}

const sheetSelect = `
	SELECT id, job_id, sheet_name, sheet_index, status, current_phase, progress_percent,
	       total_rows, processed_rows, valid_rows, error_rows, inserted_rows,
	       ingest_ms, validation_ms, insertion_ms, total_ms,
	       error_message, version, created_at, updated_at, completed_at
	FROM migration_job_sheet`

func scanJob(row pgx.Row) (*Job, error) {
	var job Job
	var errMsg pgtype.Text
	var startedAt, completedAt pgtype.Timestamptz
	err := row.Scan(&job.ID, &job.FileName, &job.CreatedBy, &job.Status, &job.CurrentPhase,
		&job.ProgressPercent, &job.TotalRows, &job.ProcessedRows, &job.ValidRows,
		&job.ErrorRows, &job.InsertedRows, &errMsg, &job.CreatedAt,
		&startedAt, &completedAt, &job.ProcessingTimeMS)
	if err != nil {
		return nil, err
	}
	job.ErrorMessage = errMsg.String
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	return &job, nil
}

func scanSheet(row pgx.Row) (*JobSheet, error) {
	var sheet JobSheet
	var errMsg pgtype.Text
	var completedAt pgtype.Timestamptz
	err := row.Scan(&sheet.ID, &sheet.JobID, &sheet.SheetName, &sheet.SheetIndex,
		&sheet.Status, &sheet.CurrentPhase, &sheet.ProgressPercent,
		&sheet.TotalRows, &sheet.ProcessedRows, &sheet.ValidRows,
		&sheet.ErrorRows, &sheet.InsertedRows,
		&sheet.IngestMS, &sheet.ValidationMS, &sheet.InsertionMS, &sheet.TotalMS,
		&errMsg, &sheet.Version, &sheet.CreatedAt, &sheet.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	sheet.ErrorMessage = errMsg.String
	sheet.CompletedAt = timePtr(completedAt)
	return &sheet, nil
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
