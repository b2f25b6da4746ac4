package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Validator runs the fixed validation sequence for one job. Every step is
// one bulk SQL statement: violations land in staging_error, and the final
// step promotes the surviving rows into staging_valid. A row's first error
// suppresses it from all later rules.
type Validator struct {
	store   *Store
	tracker *StepTracker
}

// NewValidator creates the validation service.
func NewValidator(store *Store, tracker *StepTracker) *Validator {
	return &Validator{store: store, tracker: tracker}
}

// ValidationResult summarizes one completed validate phase.
type ValidationResult struct {
	JobID      string           `json:"jobId"`
	ValidRows  int64            `json:"validRows"`
	ErrorRows  int64            `json:"errorRows"`
	StepCounts map[string]int64 `json:"stepCounts"`
	ElapsedMS  int64            `json:"elapsedMs"`
}

// validationStep pairs a step name with its single bulk statement.
type validationStep struct {
	name string
	sql  string
}

// Validate runs the seven steps in order. Step state is tracked in memory;
// the job's phase label is written through best-effort. Timed-out steps
// abort the phase.
func (v *Validator) Validate(ctx context.Context, jobID string) (*ValidationResult, error) {
	start := time.Now()
	v.tracker.Init(jobID)

	if err := v.store.SetJobPhase(ctx, jobID, StatusValidating, PhaseValidate); err != nil {
		slog.Warn("phase write-through failed", "job_id", jobID, "error", err)
	}

	steps := []validationStep{
		{StepRequiredFields, sqlRequiredFields},
		{StepDateFormats, sqlDateFormats},
		{StepNumerics, sqlNumerics},
		{StepFileDuplicates, sqlFileDuplicates},
		{StepMasterReferences, sqlMasterReferences},
		{StepDBDuplicates, sqlDBDuplicates},
		{StepMoveValid, sqlMoveValid},
	}

	counts := make(map[string]int64, len(steps))
	for _, step := range steps {
		if timedOut := v.tracker.CheckTimeouts(jobID); len(timedOut) > 0 {
			err := fmt.Errorf("validation step %s timed out", timedOut[0])
			v.failJob(ctx, jobID, err)
			return nil, err
		}

		affected, err := v.runStep(ctx, jobID, step)
		if err != nil {
			v.failJob(ctx, jobID, err)
			return nil, err
		}
		counts[step.name] = affected
	}

	errorRows, err := v.store.CountErrors(ctx, jobID)
	if err != nil {
		return nil, err
	}
	validRows := counts[StepMoveValid]

	if err := v.store.SetJobPhase(ctx, jobID, StatusValidationCompleted, PhaseValidate); err != nil {
		slog.Warn("phase write-through failed", "job_id", jobID, "error", err)
	}

	elapsed := time.Since(start)
	slog.Info("validation completed",
		"job_id", jobID, "valid_rows", validRows, "error_rows", errorRows, "elapsed", elapsed)

	return &ValidationResult{
		JobID:      jobID,
		ValidRows:  validRows,
		ErrorRows:  errorRows,
		StepCounts: counts,
		ElapsedMS:  elapsed.Milliseconds(),
	}, nil
}

func (v *Validator) runStep(ctx context.Context, jobID string, step validationStep) (int64, error) {
	v.tracker.MarkStarted(jobID, step.name)

	tag, err := v.store.Pool().Exec(ctx, step.sql, jobID)
	if err != nil {
		wrapped := fmt.Errorf("validation step %s: %w", step.name, err)
		v.tracker.MarkFailed(jobID, step.name, wrapped)
		return 0, wrapped
	}

	affected := tag.RowsAffected()
	v.tracker.MarkCompleted(jobID, step.name, affected)
	slog.Debug("validation step done", "job_id", jobID, "step", step.name, "affected", affected)
	return affected, nil
}

func (v *Validator) failJob(ctx context.Context, jobID string, cause error) {
	if err := v.store.FailJob(ctx, jobID, cause.Error()); err != nil {
		slog.Error("mark job failed", "job_id", jobID, "error", err)
	}
}

// Step 1: required fields. One error per offending raw row; the CASE chain
// names the first blank required column.
const sqlRequiredFields = `
INSERT INTO staging_error (job_id, sheet_name, row_num, error_type, error_field, error_value, error_message, original_data, created_at)
SELECT r.job_id, r.sheet_name, r.row_num,
       'REQUIRED_MISSING',
       CASE
           WHEN r.ma_don_vi IS NULL OR btrim(r.ma_don_vi) = '' THEN 'ma_don_vi'
           WHEN r.ma_thung IS NULL OR btrim(r.ma_thung) = '' THEN 'ma_thung'
           WHEN r.ma_kho IS NULL OR btrim(r.ma_kho) = '' THEN 'ma_kho'
           WHEN r.loai_chung_tu IS NULL OR btrim(r.loai_chung_tu) = '' THEN 'loai_chung_tu'
           WHEN r.ngay_chung_tu IS NULL OR btrim(r.ngay_chung_tu) = '' THEN 'ngay_chung_tu'
           ELSE 'so_luong_tap'
       END,
       CASE
           WHEN r.ma_don_vi IS NULL OR btrim(r.ma_don_vi) = '' THEN coalesce(r.ma_don_vi, '')
           WHEN r.ma_thung IS NULL OR btrim(r.ma_thung) = '' THEN coalesce(r.ma_thung, '')
           WHEN r.ma_kho IS NULL OR btrim(r.ma_kho) = '' THEN coalesce(r.ma_kho, '')
           WHEN r.loai_chung_tu IS NULL OR btrim(r.loai_chung_tu) = '' THEN coalesce(r.loai_chung_tu, '')
           WHEN r.ngay_chung_tu IS NULL OR btrim(r.ngay_chung_tu) = '' THEN coalesce(r.ngay_chung_tu, '')
           ELSE coalesce(r.so_luong_tap, '')
       END,
       'Trường bắt buộc không được để trống',
       concat_ws('|', r.ma_don_vi, r.ma_thung, r.ngay_chung_tu, r.so_luong_tap),
       now()
FROM staging_raw r
WHERE r.job_id = $1
  AND (r.ma_don_vi IS NULL OR btrim(r.ma_don_vi) = ''
    OR r.ma_thung IS NULL OR btrim(r.ma_thung) = ''
    OR r.ma_kho IS NULL OR btrim(r.ma_kho) = ''
    OR r.loai_chung_tu IS NULL OR btrim(r.loai_chung_tu) = ''
    OR r.ngay_chung_tu IS NULL OR btrim(r.ngay_chung_tu) = ''
    OR r.so_luong_tap IS NULL OR btrim(r.so_luong_tap) = '')`

// Step 2: date formats. Required date column must be YYYY-MM-DD; optional
// date columns skip null/blank. Already-errored rows are suppressed by the
// anti-join.
const sqlDateFormats = `
INSERT INTO staging_error (job_id, sheet_name, row_num, error_type, error_field, error_value, error_message, original_data, created_at)
SELECT r.job_id, r.sheet_name, r.row_num,
       'INVALID_DATE',
       CASE
           WHEN r.ngay_chung_tu_norm !~ '^\d{4}-\d{2}-\d{2}$' THEN 'ngay_chung_tu'
           WHEN btrim(coalesce(r.ngay_den_han_norm, '')) <> '' AND r.ngay_den_han_norm !~ '^\d{4}-\d{2}-\d{2}$' THEN 'ngay_den_han'
           ELSE 'ngay_ban_giao'
       END,
       CASE
           WHEN r.ngay_chung_tu_norm !~ '^\d{4}-\d{2}-\d{2}$' THEN r.ngay_chung_tu
           WHEN btrim(coalesce(r.ngay_den_han_norm, '')) <> '' AND r.ngay_den_han_norm !~ '^\d{4}-\d{2}-\d{2}$' THEN r.ngay_den_han
           ELSE r.ngay_ban_giao
       END,
       'Ngày không đúng định dạng YYYY-MM-DD',
       concat_ws('|', r.ngay_chung_tu, r.ngay_den_han, r.ngay_ban_giao),
       now()
FROM staging_raw r
LEFT JOIN staging_error e
       ON e.job_id = r.job_id AND e.sheet_name = r.sheet_name AND e.row_num = r.row_num
WHERE r.job_id = $1
  AND e.row_num IS NULL
  AND (r.ngay_chung_tu_norm !~ '^\d{4}-\d{2}-\d{2}$'
    OR (btrim(coalesce(r.ngay_den_han_norm, '')) <> '' AND r.ngay_den_han_norm !~ '^\d{4}-\d{2}-\d{2}$')
    OR (btrim(coalesce(r.ngay_ban_giao_norm, '')) <> '' AND r.ngay_ban_giao_norm !~ '^\d{4}-\d{2}-\d{2}$'))`

// Step 3: numerics. Quantity must be a positive integer.
const sqlNumerics = `
INSERT INTO staging_error (job_id, sheet_name, row_num, error_type, error_field, error_value, error_message, original_data, created_at)
SELECT r.job_id, r.sheet_name, r.row_num,
       'INVALID_NUMERIC', 'so_luong_tap', r.so_luong_tap,
       'Số lượng tập phải là số nguyên dương',
       concat_ws('|', r.ma_don_vi, r.ma_thung, r.so_luong_tap),
       now()
FROM staging_raw r
LEFT JOIN staging_error e
       ON e.job_id = r.job_id AND e.sheet_name = r.sheet_name AND e.row_num = r.row_num
WHERE r.job_id = $1
  AND e.row_num IS NULL
  AND r.so_luong_tap_norm !~ '^0*[1-9][0-9]*$'`

// Step 4: in-file duplicates over the business key. Every occurrence after
// the first errors; the message names the first row.
const sqlFileDuplicates = `
INSERT INTO staging_error (job_id, sheet_name, row_num, error_type, error_field, error_value, error_message, original_data, created_at)
SELECT d.job_id, d.sheet_name, d.row_num,
       'DUP_IN_FILE', 'ma_thung', d.ma_thung,
       'Trùng lặp trong file với dòng ' || d.first_row,
       concat_ws('|', d.ma_don_vi_norm, d.ma_thung_norm, d.ngay_chung_tu_norm, d.so_luong_tap_norm),
       now()
FROM (
    SELECT r.job_id, r.sheet_name, r.row_num, r.ma_thung,
           r.ma_don_vi_norm, r.ma_thung_norm, r.ngay_chung_tu_norm, r.so_luong_tap_norm,
           row_number() OVER w AS occurrence,
           min(r.row_num) OVER w AS first_row
    FROM staging_raw r
    WHERE r.job_id = $1
    WINDOW w AS (
        PARTITION BY r.ma_don_vi_norm, r.ma_thung_norm, r.ngay_chung_tu_norm, r.so_luong_tap_norm
        ORDER BY r.row_num
        ROWS BETWEEN UNBOUNDED PRECEDING AND UNBOUNDED FOLLOWING
    )
) d
LEFT JOIN staging_error e
       ON e.job_id = d.job_id AND e.sheet_name = d.sheet_name AND e.row_num = d.row_num
WHERE d.occurrence > 1
  AND e.row_num IS NULL`

// Step 5: master references. One statement; each UNION branch covers one
// reference column. LEFT JOIN ... IS NULL rather than NOT EXISTS so the
// planner uses the natural-key indexes.
const sqlMasterReferences = `
INSERT INTO staging_error (job_id, sheet_name, row_num, error_type, error_field, error_value, error_message, original_data, created_at)
SELECT job_id, sheet_name, row_num, 'REF_NOT_FOUND', error_field, error_value, error_message, original_data, now()
FROM (
    SELECT r.job_id, r.sheet_name, r.row_num,
           'ma_kho' AS error_field, r.ma_kho AS error_value,
           'Không tìm thấy kho ' || r.ma_kho_norm AS error_message,
           concat_ws('|', r.ma_kho, r.ma_don_vi, r.ma_thung) AS original_data
    FROM staging_raw r
    LEFT JOIN staging_error e
           ON e.job_id = r.job_id AND e.sheet_name = r.sheet_name AND e.row_num = r.row_num
    LEFT JOIN warehouse w ON w.code = r.ma_kho_norm AND w.is_active
    WHERE r.job_id = $1 AND e.row_num IS NULL AND w.id IS NULL
    UNION ALL
    SELECT r.job_id, r.sheet_name, r.row_num,
           'ma_don_vi', r.ma_don_vi,
           'Không tìm thấy đơn vị ' || r.ma_don_vi_norm,
           concat_ws('|', r.ma_don_vi, r.ma_thung)
    FROM staging_raw r
    LEFT JOIN staging_error e
           ON e.job_id = r.job_id AND e.sheet_name = r.sheet_name AND e.row_num = r.row_num
    LEFT JOIN org_unit u ON u.code = r.ma_don_vi_norm AND u.is_active
    WHERE r.job_id = $1 AND e.row_num IS NULL AND u.id IS NULL
    UNION ALL
    SELECT r.job_id, r.sheet_name, r.row_num,
           'loai_chung_tu', r.loai_chung_tu,
           'Không tìm thấy loại chứng từ ' || r.loai_chung_tu,
           concat_ws('|', r.loai_chung_tu, r.ma_thung)
    FROM staging_raw r
    LEFT JOIN staging_error e
           ON e.job_id = r.job_id AND e.sheet_name = r.sheet_name AND e.row_num = r.row_num
    LEFT JOIN doc_type dt ON dt.name = r.loai_chung_tu AND dt.is_active
    WHERE r.job_id = $1 AND e.row_num IS NULL AND dt.id IS NULL
    UNION ALL
    SELECT r.job_id, r.sheet_name, r.row_num,
           'thoi_han_luu_tru', r.thoi_han_luu_tru,
           'Không tìm thấy thời hạn lưu trữ ' || r.thoi_han_luu_tru,
           concat_ws('|', r.thoi_han_luu_tru, r.ma_thung)
    FROM staging_raw r
    LEFT JOIN staging_error e
           ON e.job_id = r.job_id AND e.sheet_name = r.sheet_name AND e.row_num = r.row_num
    LEFT JOIN retention_period rp ON rp.code = r.thoi_han_luu_tru AND rp.is_active
    WHERE r.job_id = $1 AND e.row_num IS NULL
      AND btrim(coalesce(r.thoi_han_luu_tru, '')) <> '' AND rp.id IS NULL
) refs`

// Step 6: duplicates against data already applied. The business key is
// matched through the unit and box codes of existing case_detail rows. The
// date and quantity casts sit inside CASE guards: the planner may evaluate
// join conditions before the anti-join has filtered errored rows, and a
// bare cast on an unvalidated value would abort the whole statement.
const sqlDBDuplicates = `
INSERT INTO staging_error (job_id, sheet_name, row_num, error_type, error_field, error_value, error_message, original_data, created_at)
SELECT r.job_id, r.sheet_name, r.row_num,
       'DUP_IN_DB', 'ma_thung', r.ma_thung,
       'Bản ghi đã tồn tại trong hệ thống',
       concat_ws('|', r.ma_don_vi_norm, r.ma_thung_norm, r.ngay_chung_tu_norm, r.so_luong_tap_norm),
       now()
FROM staging_raw r
LEFT JOIN staging_error e
       ON e.job_id = r.job_id AND e.sheet_name = r.sheet_name AND e.row_num = r.row_num
JOIN org_unit u ON u.code = r.ma_don_vi_norm
JOIN box b ON b.code = r.ma_thung_norm
JOIN case_detail cd
     ON cd.unit_id = u.id
    AND cd.box_id = b.id
    AND cd.doc_date = CASE WHEN r.ngay_chung_tu_norm ~ '^\d{4}-\d{2}-\d{2}$' THEN r.ngay_chung_tu_norm::date END
    AND cd.quantity = CASE WHEN r.so_luong_tap_norm ~ '^0*[1-9][0-9]*$' THEN r.so_luong_tap_norm::bigint END
WHERE r.job_id = $1
  AND e.row_num IS NULL`

// Step 7: promote. Rows with no error row and no parse errors move into
// staging_valid with their target types. Rerunning is a no-op thanks to the
// self anti-join. The casts carry the same CASE guards as step 6 so they
// can never fire on a value the earlier steps rejected.
const sqlMoveValid = `
INSERT INTO staging_valid (job_id, sheet_name, row_num, unit_code, unit_name, box_code,
                           warehouse_code, doc_type_name, doc_date, quantity, retention_period,
                           area, row_no, col_no, case_status, box_status, box_state,
                           due_date, handover_date, note, created_at)
SELECT r.job_id, r.sheet_name, r.row_num,
       r.ma_don_vi_norm, r.ten_don_vi, r.ma_thung_norm,
       r.ma_kho_norm, r.loai_chung_tu,
       CASE WHEN r.ngay_chung_tu_norm ~ '^\d{4}-\d{2}-\d{2}$' THEN r.ngay_chung_tu_norm::date END,
       CASE WHEN r.so_luong_tap_norm ~ '^0*[1-9][0-9]*$' THEN r.so_luong_tap_norm::bigint END,
       r.thoi_han_luu_tru,
       r.khu_vuc, r.hang, r.cot,
       r.tinh_trang_ho_so, r.trang_thai_thung, r.tinh_trang_thung,
       CASE WHEN coalesce(r.ngay_den_han_norm, '') ~ '^\d{4}-\d{2}-\d{2}$' THEN r.ngay_den_han_norm::date END,
       CASE WHEN coalesce(r.ngay_ban_giao_norm, '') ~ '^\d{4}-\d{2}-\d{2}$' THEN r.ngay_ban_giao_norm::date END,
       r.ghi_chu, now()
FROM staging_raw r
LEFT JOIN staging_error e
       ON e.job_id = r.job_id AND e.sheet_name = r.sheet_name AND e.row_num = r.row_num
LEFT JOIN staging_valid v
       ON v.job_id = r.job_id AND v.sheet_name = r.sheet_name AND v.row_num = r.row_num
WHERE r.job_id = $1
  AND e.row_num IS NULL
  AND v.row_num IS NULL
  AND r.parse_errors IS NULL`
