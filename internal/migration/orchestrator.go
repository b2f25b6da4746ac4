package migration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arcstore/migrator/internal/xlsx"
)

// Orchestrator drives the four-phase pipeline for each job and owns the
// Job rows throughout. Phases run strictly in sequence per job; the
// limiter bounds how many jobs run at once.
type Orchestrator struct {
	store      *Store
	ingestor   *Ingestor
	validator  *Validator
	applier    *Applier
	reconciler *Reconciler
	tracker    *StepTracker
	limiter    *JobLimiter

	// background tracks async jobs so shutdown can wait for them.
	background *errgroup.Group
}

// NewOrchestrator wires the pipeline services together.
func NewOrchestrator(store *Store, tracker *StepTracker, limiter *JobLimiter) *Orchestrator {
	return &Orchestrator{
		store:      store,
		ingestor:   NewIngestor(store),
		validator:  NewValidator(store, tracker),
		applier:    NewApplier(store),
		reconciler: NewReconciler(store),
		tracker:    tracker,
		limiter:    limiter,
		background: &errgroup.Group{},
	}
}

// Tracker exposes the step tracker for introspection endpoints.
func (o *Orchestrator) Tracker() *StepTracker { return o.tracker }

// Limiter exposes the job limiter for status endpoints and shutdown.
func (o *Orchestrator) Limiter() *JobLimiter { return o.limiter }

// MigrationResult is the full synchronous pipeline outcome.
type MigrationResult struct {
	JobID      string            `json:"jobId"`
	Status     string            `json:"status"`
	Ingest     *IngestResult     `json:"ingest,omitempty"`
	Validation *ValidationResult `json:"validation,omitempty"`
	Apply      *ApplyResult      `json:"apply,omitempty"`
	Reconcile  *ReconcileResult  `json:"reconcile,omitempty"`
	ElapsedMS  int64             `json:"elapsedMs"`
}

// Run executes the full pipeline synchronously and returns the final
// report. The upload stream is consumed entirely by ingest.
func (o *Orchestrator) Run(ctx context.Context, upload io.Reader, fileName, createdBy string, cfg xlsx.Config, keepErrors bool) (*MigrationResult, error) {
	if err := o.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer o.limiter.Release()

	start := time.Now()

	ingRes, err := o.ingestor.Ingest(ctx, upload, fileName, createdBy, cfg)
	if err != nil {
		return nil, err
	}
	jobID := ingRes.JobID
	defer o.tracker.Remove(jobID)

	result := &MigrationResult{JobID: jobID, Ingest: ingRes}
	if err := o.runPostIngest(ctx, jobID, result, keepErrors); err != nil {
		return nil, err
	}
	result.ElapsedMS = time.Since(start).Milliseconds()
	return result, nil
}

// RunAsync creates the job row, schedules the pipeline in the background,
// and returns the job id immediately. The upload must already be detached
// from the request (spooled to a file); it is closed when the job ends.
func (o *Orchestrator) RunAsync(upload io.ReadCloser, fileName, createdBy string, cfg xlsx.Config, keepErrors bool) (string, error) {
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
	ctx := context.Background()
	if err := o.store.CreateJob(ctx, job); err != nil {
		upload.Close()
		return "", err
	}

	o.background.Go(func() error {
		defer upload.Close()
		defer o.tracker.Remove(job.ID)

		if err := o.limiter.Acquire(ctx); err != nil {
			o.failJob(ctx, job.ID, err)
			return nil
		}
		defer o.limiter.Release()

		if _, err := o.ingestor.IngestInto(ctx, job, upload, cfg); err != nil {
			slog.Error("async job failed", "job_id", job.ID, "phase", PhaseIngest, "error", err)
			return nil
		}
		result := &MigrationResult{JobID: job.ID}
		if err := o.runPostIngest(ctx, job.ID, result, keepErrors); err != nil {
			slog.Error("async job failed", "job_id", job.ID, "error", err)
		}
		return nil
	})

	return job.ID, nil
}

// StartMultiSheet runs a multi-sheet job over a file already saved on
// disk, using the caller-supplied job id.
func (o *Orchestrator) StartMultiSheet(ctx context.Context, jobID, filePath string, cfg xlsx.Config, keepErrors bool) (*MigrationResult, error) {
	if err := o.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer o.limiter.Release()

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", filePath, err)
	}
	defer f.Close()

	now := time.Now()
	job := &Job{
		ID:           jobID,
		FileName:     filePath,
		CreatedBy:    "multisheet",
		Status:       StatusStarted,
		CurrentPhase: PhaseIngest,
		CreatedAt:    now,
		StartedAt:    &now,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	defer o.tracker.Remove(jobID)

	cfg.ReadAllSheets = true
	start := time.Now()
	ingRes, err := o.ingestor.IngestInto(ctx, job, f, cfg)
	if err != nil {
		return nil, err
	}

	result := &MigrationResult{JobID: jobID, Ingest: ingRes}
	if err := o.runPostIngest(ctx, jobID, result, keepErrors); err != nil {
		return nil, err
	}
	result.ElapsedMS = time.Since(start).Milliseconds()
	return result, nil
}

// runPostIngest sequences Validate, Apply, and Reconcile after a
// successful ingest. Zero valid rows short-circuits to a non-error
// terminal state. Staging rows are cleaned up after reconcile.
func (o *Orchestrator) runPostIngest(ctx context.Context, jobID string, result *MigrationResult, keepErrors bool) error {
	valRes, err := o.validator.Validate(ctx, jobID)
	if err != nil {
		return err
	}
	result.Validation = valRes

	o.syncSheetCounters(ctx, jobID, valRes)

	if valRes.ValidRows == 0 {
		slog.Info("no valid rows; skipping apply", "job_id", jobID)
		job, err := o.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		now := time.Now()
		job.Status = StatusCompleted
		job.ErrorRows = valRes.ErrorRows
		job.CompletedAt = &now
		if job.StartedAt != nil {
			job.ProcessingTimeMS = now.Sub(*job.StartedAt).Milliseconds()
		}
		if err := o.store.UpdateJob(ctx, job); err != nil {
			return err
		}
		result.Status = StatusCompleted
		return o.store.DeleteStaging(ctx, jobID, keepErrors)
	}

	appRes, err := o.applier.Apply(ctx, jobID)
	if err != nil {
		return err
	}
	result.Apply = appRes

	recRes, err := o.reconciler.Reconcile(ctx, jobID)
	if err != nil {
		return err
	}
	result.Reconcile = recRes
	result.Status = recRes.Status

	return o.store.DeleteStaging(ctx, jobID, keepErrors)
}

// ValidateJob runs the validate phase alone. Debug surface.
func (o *Orchestrator) ValidateJob(ctx context.Context, jobID string) (*ValidationResult, error) {
	if _, err := o.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return o.validator.Validate(ctx, jobID)
}

// ApplyJob runs the apply phase alone. Debug surface.
func (o *Orchestrator) ApplyJob(ctx context.Context, jobID string) (*ApplyResult, error) {
	if _, err := o.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return o.applier.Apply(ctx, jobID)
}

// ReconcileJob runs the reconcile phase alone. Debug surface.
func (o *Orchestrator) ReconcileJob(ctx context.Context, jobID string) (*ReconcileResult, error) {
	return o.reconciler.Reconcile(ctx, jobID)
}

// Cleanup drops the job's staging rows on demand.
func (o *Orchestrator) Cleanup(ctx context.Context, jobID string, keepErrors bool) error {
	if _, err := o.store.GetJob(ctx, jobID); err != nil {
		return err
	}
	return o.store.DeleteStaging(ctx, jobID, keepErrors)
}

// Shutdown waits for background jobs to finish and the limiter to drain.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return o.limiter.WaitForDrain(ctx)
}

// syncSheetCounters pushes post-validation counts down to the job sheets.
// Best effort: a conflict that exhausts its retries is logged, not fatal.
func (o *Orchestrator) syncSheetCounters(ctx context.Context, jobID string, valRes *ValidationResult) {
	sheets, err := o.store.ListSheets(ctx, jobID)
	if err != nil {
		slog.Warn("sheet counter sync failed", "job_id", jobID, "error", err)
		return
	}
	for _, sheet := range sheets {
		name := sheet.SheetName

		var validCount, errorCount int64
		if err := o.store.Pool().QueryRow(ctx,
			`SELECT count(*) FROM staging_valid WHERE job_id = $1 AND sheet_name = $2`,
			jobID, name).Scan(&validCount); err != nil {
			slog.Warn("sheet counter sync failed", "job_id", jobID, "sheet", name, "error", err)
			continue
		}
		if err := o.store.Pool().QueryRow(ctx,
			`SELECT count(*) FROM staging_error WHERE job_id = $1 AND sheet_name = $2`,
			jobID, name).Scan(&errorCount); err != nil {
			slog.Warn("sheet counter sync failed", "job_id", jobID, "sheet", name, "error", err)
			continue
		}

		_, err := o.store.UpdateSheet(ctx, jobID, name, func(sh *JobSheet) {
			sh.Status = StatusValidationCompleted
			sh.CurrentPhase = PhaseValidate
			sh.ValidRows = validCount
			sh.ErrorRows = errorCount
			sh.ValidationMS = valRes.ElapsedMS
			if sh.TotalRows > 0 {
				sh.ProgressPercent = float64(validCount+errorCount) / float64(sh.TotalRows) * 100
			}
		})
		if err != nil {
			slog.Warn("sheet counter sync failed", "job_id", jobID, "sheet", name, "error", err)
		}
	}
}

func (o *Orchestrator) failJob(ctx context.Context, jobID string, cause error) {
	if err := o.store.FailJob(ctx, jobID, cause.Error()); err != nil {
		slog.Error("mark job failed", "job_id", jobID, "error", err)
	}
}
