package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Applier moves staging_valid into the master and business tables in
// dependency order. Every statement is a conditional insert keyed on the
// target's natural key, so replaying the phase inserts nothing new.
type Applier struct {
	store *Store
}

// NewApplier creates the apply service.
func NewApplier(store *Store) *Applier {
	return &Applier{store: store}
}

// ApplyResult summarizes one completed apply phase.
type ApplyResult struct {
	JobID          string           `json:"jobId"`
	InsertedRows   int64            `json:"insertedRows"`
	InsertedByStep map[string]int64 `json:"insertedByStep"`
	ElapsedMS      int64            `json:"elapsedMs"`
}

// Apply runs the three phases: independent masters, dependent masters,
// business rows. A statement failure aborts the phase and fails the job.
func (a *Applier) Apply(ctx context.Context, jobID string) (*ApplyResult, error) {
	start := time.Now()

	if err := a.store.SetJobPhase(ctx, jobID, StatusApplying, PhaseApply); err != nil {
		slog.Warn("phase write-through failed", "job_id", jobID, "error", err)
	}

	statements := []struct {
		name string
		sql  string
	}{
		{"warehouse", sqlApplyWarehouse},
		{"org_unit", sqlApplyOrgUnit},
		{"doc_type", sqlApplyDocType},
		{"status", sqlApplyStatus},
		{"retention_period", sqlApplyRetention},
		{"location", sqlApplyLocation},
		{"box", sqlApplyBox},
		{"case_detail", sqlApplyCaseDetail},
	}

	inserted := make(map[string]int64, len(statements))
	var total int64
	for _, stmt := range statements {
		tag, err := a.store.Pool().Exec(ctx, stmt.sql, jobID)
		if err != nil {
			wrapped := fmt.Errorf("apply %s: %w", stmt.name, err)
			if ferr := a.store.FailJob(ctx, jobID, wrapped.Error()); ferr != nil {
				slog.Error("mark job failed", "job_id", jobID, "error", ferr)
			}
			return nil, wrapped
		}
		inserted[stmt.name] = tag.RowsAffected()
		total += tag.RowsAffected()
		slog.Debug("apply step done", "job_id", jobID, "target", stmt.name, "inserted", tag.RowsAffected())
	}

	if err := a.store.SetJobPhase(ctx, jobID, StatusApplyCompleted, PhaseApply); err != nil {
		slog.Warn("phase write-through failed", "job_id", jobID, "error", err)
	}

	elapsed := time.Since(start)
	slog.Info("apply completed", "job_id", jobID, "inserted", total, "elapsed", elapsed)

	return &ApplyResult{
		JobID:          jobID,
		InsertedRows:   total,
		InsertedByStep: inserted,
		ElapsedMS:      elapsed.Milliseconds(),
	}, nil
}

// P1: independent masters.

const sqlApplyWarehouse = `
INSERT INTO warehouse (code, name, is_active, created_at)
SELECT DISTINCT v.warehouse_code, v.warehouse_code, true, now()
FROM staging_valid v
WHERE v.job_id = $1
  AND NOT EXISTS (SELECT 1 FROM warehouse w WHERE w.code = v.warehouse_code)`

const sqlApplyOrgUnit = `
INSERT INTO org_unit (code, name, is_active, created_at)
SELECT DISTINCT v.unit_code, coalesce(nullif(btrim(v.unit_name), ''), v.unit_code), true, now()
FROM staging_valid v
WHERE v.job_id = $1
  AND NOT EXISTS (SELECT 1 FROM org_unit u WHERE u.code = v.unit_code)`

// Doc type codes are derived from the display name: uppercased, spaces
// replaced by underscores.
const sqlApplyDocType = `
INSERT INTO doc_type (code, name, is_active, created_at)
SELECT DISTINCT upper(replace(btrim(v.doc_type_name), ' ', '_')), v.doc_type_name, true, now()
FROM staging_valid v
WHERE v.job_id = $1
  AND NOT EXISTS (
      SELECT 1 FROM doc_type dt
      WHERE dt.code = upper(replace(btrim(v.doc_type_name), ' ', '_')))`

// Status rows are partitioned by type: CASE_PDM, BOX_STATUS, BOX_STATE.
// Blank source values collapse to the UNKNOWN code of their partition.
const sqlApplyStatus = `
INSERT INTO status (code, type, name, is_active, created_at)
SELECT DISTINCT s.code, s.type, s.name, true, now()
FROM (
    SELECT CASE WHEN btrim(coalesce(v.case_status, '')) = '' THEN 'UNKNOWN'
                ELSE upper(replace(btrim(v.case_status), ' ', '_')) END AS code,
           'CASE_PDM' AS type,
           coalesce(nullif(btrim(v.case_status), ''), 'UNKNOWN') AS name
    FROM staging_valid v WHERE v.job_id = $1
    UNION
    SELECT CASE WHEN btrim(coalesce(v.box_status, '')) = '' THEN 'UNKNOWN'
                ELSE upper(replace(btrim(v.box_status), ' ', '_')) END,
           'BOX_STATUS',
           coalesce(nullif(btrim(v.box_status), ''), 'UNKNOWN')
    FROM staging_valid v WHERE v.job_id = $1
    UNION
    SELECT CASE WHEN btrim(coalesce(v.box_state, '')) = '' THEN 'UNKNOWN'
                ELSE upper(replace(btrim(v.box_state), ' ', '_')) END,
           'BOX_STATE',
           coalesce(nullif(btrim(v.box_state), ''), 'UNKNOWN')
    FROM staging_valid v WHERE v.job_id = $1
) s
WHERE NOT EXISTS (SELECT 1 FROM status st WHERE st.code = s.code AND st.type = s.type)`

const sqlApplyRetention = `
INSERT INTO retention_period (code, is_active, created_at)
SELECT DISTINCT v.retention_period, true, now()
FROM staging_valid v
WHERE v.job_id = $1
  AND btrim(coalesce(v.retention_period, '')) <> ''
  AND NOT EXISTS (SELECT 1 FROM retention_period rp WHERE rp.code = v.retention_period)`

// P2: dependent masters.

const sqlApplyLocation = `
INSERT INTO location (warehouse_id, area, row_no, col_no, created_at)
SELECT DISTINCT w.id, v.area, v.row_no, v.col_no, now()
FROM staging_valid v
JOIN warehouse w ON w.code = v.warehouse_code
WHERE v.job_id = $1
  AND btrim(coalesce(v.area, '')) <> ''
  AND NOT EXISTS (
      SELECT 1 FROM location l
      WHERE l.warehouse_id = w.id AND l.area = v.area
        AND l.row_no = v.row_no AND l.col_no = v.col_no)`

const sqlApplyBox = `
INSERT INTO box (code, warehouse_id, location_id, status_id, state_id, created_at)
SELECT DISTINCT v.box_code, w.id, l.id, st.id, ss.id, now()
FROM staging_valid v
JOIN warehouse w ON w.code = v.warehouse_code
LEFT JOIN location l
       ON l.warehouse_id = w.id AND l.area = v.area
      AND l.row_no = v.row_no AND l.col_no = v.col_no
LEFT JOIN status st
       ON st.type = 'BOX_STATUS'
      AND st.code = CASE WHEN btrim(coalesce(v.box_status, '')) = '' THEN 'UNKNOWN'
                         ELSE upper(replace(btrim(v.box_status), ' ', '_')) END
LEFT JOIN status ss
       ON ss.type = 'BOX_STATE'
      AND ss.code = CASE WHEN btrim(coalesce(v.box_state, '')) = '' THEN 'UNKNOWN'
                         ELSE upper(replace(btrim(v.box_state), ' ', '_')) END
WHERE v.job_id = $1
  AND NOT EXISTS (SELECT 1 FROM box b WHERE b.code = v.box_code)`

// P3: business rows. The business key (unit, box, doc_date, quantity)
// guards the conditional insert; nullable references join with LEFT JOIN.
const sqlApplyCaseDetail = `
INSERT INTO case_detail (job_id, unit_id, doc_type_id, box_id, retention_period_id,
                         case_status_id, box_status_id, box_state_id,
                         doc_date, quantity, due_date, handover_date, note, created_at)
SELECT DISTINCT v.job_id, u.id, dt.id, b.id, rp.id,
       cs.id, bs.id, be.id,
       v.doc_date, v.quantity, v.due_date, v.handover_date, v.note, now()
FROM staging_valid v
JOIN org_unit u ON u.code = v.unit_code
JOIN doc_type dt ON dt.code = upper(replace(btrim(v.doc_type_name), ' ', '_'))
JOIN box b ON b.code = v.box_code
LEFT JOIN retention_period rp ON rp.code = v.retention_period
LEFT JOIN status cs
       ON cs.type = 'CASE_PDM'
      AND cs.code = CASE WHEN btrim(coalesce(v.case_status, '')) = '' THEN 'UNKNOWN'
                         ELSE upper(replace(btrim(v.case_status), ' ', '_')) END
LEFT JOIN status bs
       ON bs.type = 'BOX_STATUS'
      AND bs.code = CASE WHEN btrim(coalesce(v.box_status, '')) = '' THEN 'UNKNOWN'
                         ELSE upper(replace(btrim(v.box_status), ' ', '_')) END
LEFT JOIN status be
       ON be.type = 'BOX_STATE'
      AND be.code = CASE WHEN btrim(coalesce(v.box_state, '')) = '' THEN 'UNKNOWN'
                         ELSE upper(replace(btrim(v.box_state), ' ', '_')) END
WHERE v.job_id = $1
  AND NOT EXISTS (
      SELECT 1
      FROM case_detail cd
      WHERE cd.unit_id = u.id AND cd.box_id = b.id
        AND cd.doc_date = v.doc_date AND cd.quantity = v.quantity)`
