package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arcstore/migrator/internal/export"
	"github.com/arcstore/migrator/internal/migration"
	"github.com/arcstore/migrator/internal/xlsx"
)

// handleHealth reports liveness, including a database round trip.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.pool.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  "database unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readerConfig builds the workbook reader configuration for one upload.
// maxRows and strictValidation form values override the configured
// settings for this job only.
func (s *Server) readerConfig(r *http.Request) xlsx.Config {
	cfg := xlsx.Config{
		BatchSize:              s.cfg.Migration.BatchSize,
		MaxRows:                s.cfg.Migration.MaxRows,
		SheetRowCap:            s.cfg.Migration.SheetRowCap,
		StrictValidation:       s.cfg.Migration.StrictValidation,
		ReadAllSheets:          true,
		Parallel:               s.cfg.Migration.ParallelProcessing,
		EnableProgressTracking: s.cfg.Migration.EnableProgressTracking,
		EnableMemoryMonitoring: s.cfg.Migration.EnableMemoryMonitoring,
		MemoryThresholdMB:      s.cfg.Migration.MemoryThresholdMB,
	}
	if v := r.FormValue("maxRows"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxRows = n
		}
	}
	if v := r.FormValue("strictValidation"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.StrictValidation = b
		}
	}
	return cfg
}

// uploadFile extracts the workbook part from a multipart request.
func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Migration.MaxFileSize)
	if err := r.ParseMultipartForm(s.cfg.Migration.MaxFileSize); err != nil {
		return nil, nil, fmt.Errorf("parse multipart form: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, fmt.Errorf("missing file part: %w", err)
	}
	return file, header, nil
}

func createdBy(r *http.Request) string {
	if v := r.FormValue("createdBy"); v != "" {
		return v
	}
	return "system"
}

// handleUpload runs the full pipeline synchronously and returns the
// final report.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := s.uploadFile(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer file.Close()

	result, err := s.orch.Run(r.Context(), file, header.Filename, createdBy(r),
		s.readerConfig(r), s.cfg.Migration.KeepErrorRows)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleUploadAsync spools the workbook to disk, schedules the pipeline
// in the background, and returns the job id immediately.
func (s *Server) handleUploadAsync(w http.ResponseWriter, r *http.Request) {
	file, header, err := s.uploadFile(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer file.Close()

	spooled, err := spool(file, s.cfg.Migration.UploadDir)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	jobID, err := s.orch.RunAsync(spooled, header.Filename, createdBy(r),
		s.readerConfig(r), s.cfg.Migration.KeepErrorRows)
	if err != nil {
		spooled.Close()
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":  jobID,
		"status": "PROCESSING",
	})
}

// spool copies the upload into a temp file so it outlives the request.
// Closing the returned file also removes it.
func spool(src io.Reader, dir string) (io.ReadCloser, error) {
	tmp, err := os.CreateTemp(dir, "upload-*.xlsx")
	if err != nil {
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	return &spooledFile{File: tmp}, nil
}

type spooledFile struct {
	*os.File
}

func (f *spooledFile) Close() error {
	err := f.File.Close()
	os.Remove(f.Name())
	return err
}

// multiSheetRequest is the body of POST /api/migration/multisheet/start.
type multiSheetRequest struct {
	JobID    string `json:"jobId"`
	FilePath string `json:"filePath"`
}

// handleMultiSheetStart runs a multi-sheet job over a workbook already
// on local disk, under a caller-supplied job id.
func (s *Server) handleMultiSheetStart(w http.ResponseWriter, r *http.Request) {
	var req multiSheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body"})
		return
	}
	if req.JobID == "" || req.FilePath == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "jobId and filePath are required"})
		return
	}

	result, err := s.orch.StartMultiSheet(r.Context(), req.JobID, req.FilePath,
		s.readerConfig(r), s.cfg.Migration.KeepErrorRows)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.JobStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	result, err := s.orch.ValidateJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	result, err := s.orch.ApplyJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	result, err := s.orch.ReconcileJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleErrorStats(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	stats, err := s.orch.ErrorStats(r.Context(), jobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var total int64
	for _, n := range stats {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":       jobID,
		"totalErrors": total,
		"byType":      stats,
	})
}

// handleErrorDownload streams the job's error rows as a CSV attachment.
func (s *Server) handleErrorDownload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	errs, err := s.orch.Errors(r.Context(), jobID, 0)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", jobID+"_errors.csv"))

	if err := export.WriterFor(len(errs), s.cfg.Migration.ExportWindowSize).WriteErrors(w, errs); err != nil {
		// Headers are committed; nothing left but to log.
		if !errors.Is(err, context.Canceled) {
			slog.Error("error report write failed", "job_id", jobID, "error", err)
		}
	}
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	keepErrors := true
	if v := r.URL.Query().Get("keepErrors"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			keepErrors = b
		}
	}

	if err := s.orch.Cleanup(r.Context(), jobID, keepErrors); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":      jobID,
		"status":     "cleaned",
		"keepErrors": keepErrors,
	})
}

// jobSteps loads the tracker state for a job, confirming the job exists
// so unknown ids get 404 rather than an empty list.
func (s *Server) jobSteps(w http.ResponseWriter, r *http.Request) (string, []migration.StepStatus, bool) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.orch.JobStatus(r.Context(), jobID); err != nil {
		s.respondError(w, r, err)
		return "", nil, false
	}
	return jobID, s.orch.Tracker().Steps(jobID), true
}

func (s *Server) handleValidationSteps(w http.ResponseWriter, r *http.Request) {
	jobID, steps, ok := s.jobSteps(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId": jobID,
		"steps": steps,
	})
}

func (s *Server) handleValidationCurrent(w http.ResponseWriter, r *http.Request) {
	jobID, _, ok := s.jobSteps(w, r)
	if !ok {
		return
	}
	current, active := s.orch.Tracker().Current(jobID)
	if !active {
		writeJSON(w, http.StatusOK, map[string]any{
			"jobId":   jobID,
			"current": nil,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":   jobID,
		"current": current,
	})
}

func (s *Server) handleValidationSummary(w http.ResponseWriter, r *http.Request) {
	jobID, _, ok := s.jobSteps(w, r)
	if !ok {
		return
	}
	summary, tracked := s.orch.Tracker().Summarize(jobID)
	if !tracked {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no validation state for job"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleValidationReport combines step state with error statistics into
// one response.
func (s *Server) handleValidationReport(w http.ResponseWriter, r *http.Request) {
	jobID, steps, ok := s.jobSteps(w, r)
	if !ok {
		return
	}
	stats, err := s.orch.ErrorStats(r.Context(), jobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var total int64
	for _, n := range stats {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":        jobID,
		"progress":     s.orch.Tracker().Progress(jobID),
		"steps":        steps,
		"totalErrors":  total,
		"errorsByType": stats,
	})
}

// handleValidationPerformance reports per-step timing.
func (s *Server) handleValidationPerformance(w http.ResponseWriter, r *http.Request) {
	jobID, steps, ok := s.jobSteps(w, r)
	if !ok {
		return
	}

	type stepTiming struct {
		Name         string `json:"name"`
		Status       string `json:"status"`
		DurationMS   int64  `json:"durationMs"`
		AffectedRows int64  `json:"affectedRows"`
	}
	timings := make([]stepTiming, 0, len(steps))
	var totalMS int64
	for _, st := range steps {
		timings = append(timings, stepTiming{
			Name:         st.Name,
			Status:       st.Status,
			DurationMS:   st.DurationMS,
			AffectedRows: st.AffectedRows,
		})
		totalMS += st.DurationMS
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":   jobID,
		"steps":   timings,
		"totalMs": totalMS,
	})
}

func (s *Server) handleValidationStep(w http.ResponseWriter, r *http.Request) {
	_, steps, ok := s.jobSteps(w, r)
	if !ok {
		return
	}

	ordinal, err := strconv.Atoi(chi.URLParam(r, "ordinal"))
	if err != nil || ordinal < 1 || ordinal > len(steps) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown validation step"})
		return
	}
	writeJSON(w, http.StatusOK, steps[ordinal-1])
}

func (s *Server) handleValidationTimeout(w http.ResponseWriter, r *http.Request) {
	jobID, _, ok := s.jobSteps(w, r)
	if !ok {
		return
	}
	timedOut := s.orch.Tracker().CheckTimeouts(jobID)
	if timedOut == nil {
		timedOut = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":    jobID,
		"timedOut": timedOut,
	})
}

func (s *Server) handleSheets(w http.ResponseWriter, r *http.Request) {
	sheets, err := s.orch.Sheets(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sheets)
}

func (s *Server) handleSheet(w http.ResponseWriter, r *http.Request) {
	sheet, err := s.orch.Sheet(r.Context(), chi.URLParam(r, "jobID"), chi.URLParam(r, "sheetName"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.orch.Progress(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleInProgress(w http.ResponseWriter, r *http.Request) {
	sheets, err := s.orch.InProgressSheets(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if sheets == nil {
		sheets = []*migration.JobSheet{}
	}
	writeJSON(w, http.StatusOK, sheets)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := s.orch.SheetPerformanceSummary(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perf)
}

func (s *Server) handleIsComplete(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	complete, err := s.orch.IsComplete(r.Context(), jobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":      jobID,
		"isComplete": complete,
	})
}
