package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/arcstore/migrator/internal/xlsx"
)

// maxReportErrors caps the representative validation errors attached to the
// final report.
const maxReportErrors = 100

// Reconciler runs the post-apply consistency checks and produces the final
// job report.
type Reconciler struct {
	store *Store
}

// NewReconciler creates the reconcile service.
func NewReconciler(store *Store) *Reconciler {
	return &Reconciler{store: store}
}

// ReconcileResult is the final job report.
type ReconcileResult struct {
	JobID           string           `json:"jobId"`
	Status          string           `json:"status"`
	ValidRows       int64            `json:"validRows"`
	AppliedRows     int64            `json:"appliedRows"`
	ErrorRows       int64            `json:"errorRows"`
	Inconsistencies []string         `json:"inconsistencies,omitempty"`
	SampleErrors    []StagingError   `json:"sampleErrors,omitempty"`
	Memory          xlsx.MemoryStats `json:"memory"`
	ElapsedMS       int64            `json:"elapsedMs"`
}

// Reconcile runs the four checks, aggregates any inconsistencies, and
// finalizes the job. The completed-at timestamp is set here regardless of
// outcome.
func (rc *Reconciler) Reconcile(ctx context.Context, jobID string) (*ReconcileResult, error) {
	start := time.Now()

	job, err := rc.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var report *multierror.Error

	validRows, err := rc.store.CountValid(ctx, jobID)
	if err != nil {
		return nil, err
	}

	// Check 1: every promoted row has a matching applied business row.
	var appliedRows int64
	err = rc.store.Pool().QueryRow(ctx, `
		SELECT count(*)
		FROM staging_valid v
		JOIN org_unit u ON u.code = v.unit_code
		JOIN box b ON b.code = v.box_code
		JOIN case_detail cd
		     ON cd.unit_id = u.id AND cd.box_id = b.id
		    AND cd.doc_date = v.doc_date AND cd.quantity = v.quantity
		WHERE v.job_id = $1`, jobID).Scan(&appliedRows)
	if err != nil {
		return nil, fmt.Errorf("reconcile count check %s: %w", jobID, err)
	}
	if appliedRows != validRows {
		report = multierror.Append(report, fmt.Errorf(
			"row count mismatch: %d valid rows but %d applied business rows", validRows, appliedRows))
	}

	// Check 2: no unresolved reference errors remain.
	var danglingRefs int64
	err = rc.store.Pool().QueryRow(ctx, `
		SELECT count(*)
		FROM staging_valid v
		LEFT JOIN org_unit u ON u.code = v.unit_code
		LEFT JOIN box b ON b.code = v.box_code
		WHERE v.job_id = $1 AND (u.id IS NULL OR b.id IS NULL)`, jobID).Scan(&danglingRefs)
	if err != nil {
		return nil, fmt.Errorf("reconcile reference check %s: %w", jobID, err)
	}
	if danglingRefs > 0 {
		report = multierror.Append(report, fmt.Errorf(
			"%d promoted rows reference masters that were never applied", danglingRefs))
	}

	// Check 3: no duplicate business keys among this job's applied rows.
	var dupKeys int64
	err = rc.store.Pool().QueryRow(ctx, `
		SELECT count(*)
		FROM (
		    SELECT cd.unit_id, cd.box_id, cd.doc_date, cd.quantity
		    FROM case_detail cd
		    WHERE cd.job_id = $1
		    GROUP BY cd.unit_id, cd.box_id, cd.doc_date, cd.quantity
		    HAVING count(*) > 1
		) dup`, jobID).Scan(&dupKeys)
	if err != nil {
		return nil, fmt.Errorf("reconcile duplicate check %s: %w", jobID, err)
	}
	if dupKeys > 0 {
		report = multierror.Append(report, fmt.Errorf(
			"%d duplicate business keys among applied rows", dupKeys))
	}

	// Check 4: integrity constraints on applied values.
	var integrityViolations int64
	err = rc.store.Pool().QueryRow(ctx, `
		SELECT count(*)
		FROM case_detail cd
		WHERE cd.job_id = $1
		  AND (cd.quantity <= 0
		    OR (cd.due_date IS NOT NULL AND cd.handover_date IS NOT NULL
		        AND cd.due_date > cd.handover_date))`, jobID).Scan(&integrityViolations)
	if err != nil {
		return nil, fmt.Errorf("reconcile integrity check %s: %w", jobID, err)
	}
	if integrityViolations > 0 {
		report = multierror.Append(report, fmt.Errorf(
			"%d applied rows violate integrity constraints", integrityViolations))
	}

	errorRows, err := rc.store.CountErrors(ctx, jobID)
	if err != nil {
		return nil, err
	}
	samples, err := rc.store.ListErrors(ctx, jobID, maxReportErrors)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job.ValidRows = validRows
	job.ErrorRows = errorRows
	job.InsertedRows = appliedRows
	job.CurrentPhase = PhaseReconcile
	job.CompletedAt = &now
	if job.StartedAt != nil {
		job.ProcessingTimeMS = now.Sub(*job.StartedAt).Milliseconds()
	}

	var inconsistencies []string
	if report.ErrorOrNil() != nil {
		job.Status = StatusFailed
		job.ErrorMessage = report.Error()
		for _, e := range report.Errors {
			inconsistencies = append(inconsistencies, e.Error())
		}
	} else {
		job.Status = StatusCompleted
	}
	if err := rc.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	mem := xlsx.CaptureMemoryStats()
	elapsed := time.Since(start)
	slog.Info("reconcile completed",
		"job_id", jobID,
		"status", job.Status,
		"applied_rows", appliedRows,
		"inconsistencies", len(inconsistencies),
		"memory_used_mb", mem.UsedMB,
		"elapsed", elapsed)

	return &ReconcileResult{
		JobID:           jobID,
		Status:          job.Status,
		ValidRows:       validRows,
		AppliedRows:     appliedRows,
		ErrorRows:       errorRows,
		Inconsistencies: inconsistencies,
		SampleErrors:    samples,
		Memory:          mem,
		ElapsedMS:       elapsed.Milliseconds(),
	}, nil
}
