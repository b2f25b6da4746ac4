package migration

import (
	"fmt"
	"sync"
	"time"
)

// Validation step names, in execution order.
const (
	StepRequiredFields   = "CHECK_REQUIRED_FIELDS"
	StepDateFormats      = "CHECK_DATE_FORMATS"
	StepNumerics         = "CHECK_NUMERIC_VALUES"
	StepFileDuplicates   = "CHECK_FILE_DUPLICATES"
	StepMasterReferences = "CHECK_MASTER_REFERENCES"
	StepDBDuplicates     = "CHECK_DB_DUPLICATES"
	StepMoveValid        = "MOVE_VALID_RECORDS"
)

// Step statuses.
const (
	StepPending    = "PENDING"
	StepInProgress = "IN_PROGRESS"
	StepCompleted  = "COMPLETED"
	StepFailed     = "FAILED"
	StepTimeout    = "TIMEOUT"
)

// DefaultStepTimeout bounds one validation step. MOVE_VALID_RECORDS casts
// and copies the whole surviving row set, so it gets a longer budget.
const (
	DefaultStepTimeout   = 5 * time.Minute
	MoveValidStepTimeout = 15 * time.Minute
)

// validationSteps lists the fixed, totally ordered validate sequence.
var validationSteps = []struct {
	Name        string
	Description string
}{
	{StepRequiredFields, "Kiểm tra trường bắt buộc"},
	{StepDateFormats, "Kiểm tra định dạng ngày"},
	{StepNumerics, "Kiểm tra giá trị số"},
	{StepFileDuplicates, "Kiểm tra trùng lặp trong file"},
	{StepMasterReferences, "Kiểm tra tham chiếu danh mục"},
	{StepDBDuplicates, "Kiểm tra trùng lặp với dữ liệu hiện có"},
	{StepMoveValid, "Chuyển bản ghi hợp lệ"},
}

// StepStatus is the in-memory state of one validation step for one job.
type StepStatus struct {
	Name         string     `json:"name"`
	Ordinal      int        `json:"ordinal"`
	Description  string     `json:"description"`
	Status       string     `json:"status"`
	StartTime    *time.Time `json:"startTime,omitempty"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	DurationMS   int64      `json:"durationMs"`
	AffectedRows int64      `json:"affectedRows"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Timeout      time.Duration
}

// StepTracker holds per-job validation step state for the whole process.
// Entries are created when validation starts and removed explicitly when
// the job ends; there is no automatic expiry.
type StepTracker struct {
	mu   sync.RWMutex
	jobs map[string][]*StepStatus

	now func() time.Time
}

// NewStepTracker creates an empty tracker.
func NewStepTracker() *StepTracker {
	return &StepTracker{
		jobs: make(map[string][]*StepStatus),
		now:  time.Now,
	}
}

// Init registers the seven validate steps for a job, all PENDING. It
// replaces any previous entry for the same job.
func (t *StepTracker) Init(jobID string) {
	steps := make([]*StepStatus, len(validationSteps))
	for i, s := range validationSteps {
		timeout := DefaultStepTimeout
		if s.Name == StepMoveValid {
			timeout = MoveValidStepTimeout
		}
		steps[i] = &StepStatus{
			Name:        s.Name,
			Ordinal:     i + 1,
			Description: s.Description,
			Status:      StepPending,
			Timeout:     timeout,
		}
	}

	t.mu.Lock()
	t.jobs[jobID] = steps
	t.mu.Unlock()
}

// Remove drops the job's step state. Called at job end, success or not.
func (t *StepTracker) Remove(jobID string) {
	t.mu.Lock()
	delete(t.jobs, jobID)
	t.mu.Unlock()
}

// MarkStarted transitions a step to IN_PROGRESS and stamps its start time.
func (t *StepTracker) MarkStarted(jobID, step string) {
	t.update(jobID, step, func(s *StepStatus) {
		now := t.now()
		s.Status = StepInProgress
		s.StartTime = &now
	})
}

// MarkCompleted finishes a step, recording duration and affected rows.
func (t *StepTracker) MarkCompleted(jobID, step string, affectedRows int64) {
	t.update(jobID, step, func(s *StepStatus) {
		now := t.now()
		s.Status = StepCompleted
		s.EndTime = &now
		s.AffectedRows = affectedRows
		if s.StartTime != nil {
			s.DurationMS = now.Sub(*s.StartTime).Milliseconds()
		}
	})
}

// MarkFailed finishes a step with an error.
func (t *StepTracker) MarkFailed(jobID, step string, err error) {
	t.update(jobID, step, func(s *StepStatus) {
		now := t.now()
		s.Status = StepFailed
		s.EndTime = &now
		if s.StartTime != nil {
			s.DurationMS = now.Sub(*s.StartTime).Milliseconds()
		}
		if err != nil {
			s.ErrorMessage = err.Error()
		}
	})
}

// CheckTimeouts marks every in-progress step that has exceeded its budget
// as TIMEOUT and returns the names of the steps it timed out.
func (t *StepTracker) CheckTimeouts(jobID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var timedOut []string
	now := t.now()
	for _, s := range t.jobs[jobID] {
		if s.Status != StepInProgress || s.StartTime == nil {
			continue
		}
		if now.Sub(*s.StartTime) > s.Timeout {
			s.Status = StepTimeout
			s.EndTime = &now
			s.DurationMS = now.Sub(*s.StartTime).Milliseconds()
			s.ErrorMessage = fmt.Sprintf("step exceeded timeout of %s", s.Timeout)
			timedOut = append(timedOut, s.Name)
		}
	}
	return timedOut
}

// Steps returns a snapshot of the job's steps in order, or nil when the
// job is unknown.
func (t *StepTracker) Steps(jobID string) []StepStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	steps := t.jobs[jobID]
	if steps == nil {
		return nil
	}
	out := make([]StepStatus, len(steps))
	for i, s := range steps {
		out[i] = *s
	}
	return out
}

// Current returns the step currently in progress, or the first pending
// step when none is running.
func (t *StepTracker) Current(jobID string) (StepStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var pending *StepStatus
	for _, s := range t.jobs[jobID] {
		if s.Status == StepInProgress {
			return *s, true
		}
		if pending == nil && s.Status == StepPending {
			pending = s
		}
	}
	if pending != nil {
		return *pending, true
	}
	return StepStatus{}, false
}

// Progress returns completed steps / total steps as a percentage.
func (t *StepTracker) Progress(jobID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	steps := t.jobs[jobID]
	if len(steps) == 0 {
		return 0
	}
	completed := 0
	for _, s := range steps {
		if s.Status == StepCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(steps)) * 100
}

// Summary aggregates the job's step state for status endpoints.
type StepSummary struct {
	JobID           string  `json:"jobId"`
	TotalSteps      int     `json:"totalSteps"`
	CompletedSteps  int     `json:"completedSteps"`
	FailedSteps     int     `json:"failedSteps"`
	TimedOutSteps   int     `json:"timedOutSteps"`
	ProgressPercent float64 `json:"progressPercent"`
	TotalDurationMS int64   `json:"totalDurationMs"`
	AffectedRows    int64   `json:"affectedRows"`
}

// Summarize builds the aggregate view of the job's steps.
func (t *StepTracker) Summarize(jobID string) (StepSummary, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	steps := t.jobs[jobID]
	if steps == nil {
		return StepSummary{}, false
	}

	sum := StepSummary{JobID: jobID, TotalSteps: len(steps)}
	for _, s := range steps {
		switch s.Status {
		case StepCompleted:
			sum.CompletedSteps++
		case StepFailed:
			sum.FailedSteps++
		case StepTimeout:
			sum.TimedOutSteps++
		}
		sum.TotalDurationMS += s.DurationMS
		sum.AffectedRows += s.AffectedRows
	}
	if sum.TotalSteps > 0 {
		sum.ProgressPercent = float64(sum.CompletedSteps) / float64(sum.TotalSteps) * 100
	}
	return sum, true
}

// update applies fn to the named step under the write lock.
func (t *StepTracker) update(jobID, step string, fn func(*StepStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.jobs[jobID] {
		if s.Name == step {
			fn(s)
			return
		}
	}
}
