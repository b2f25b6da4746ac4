// Package migration implements the Excel-to-relational migration pipeline.
//
// A migration job moves through four phases: Ingest (stream the workbook
// into staging_raw), Validate (set-based SQL rules writing staging_error,
// then promotion into staging_valid), Apply (dependency-ordered conditional
// inserts into master and business tables), and Reconcile (consistency
// checks and the final report).
//
// The Orchestrator owns Job and JobSheet rows; phase services update their
// own counters through optimistic-lock retries. Per-job in-memory state
// lives in the StepTracker and is removed when the job ends.
package migration
