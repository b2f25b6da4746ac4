package migration

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arcstore/migrator/internal/xlsx"
)

// Job lifecycle statuses. A job walks the sequence top to bottom; FAILED is
// reachable from any phase.
const (
	StatusStarted             = "STARTED"
	StatusIngesting           = "INGESTING"
	StatusIngestingCompleted  = "INGESTING_COMPLETED"
	StatusValidating          = "VALIDATING"
	StatusValidationCompleted = "VALIDATION_COMPLETED"
	StatusApplying            = "APPLYING"
	StatusApplyCompleted      = "APPLY_COMPLETED"
	StatusCompleted           = "COMPLETED"
	StatusFailed              = "FAILED"
)

// Phase labels shown in job status responses.
const (
	PhaseIngest    = "INGEST"
	PhaseValidate  = "VALIDATE"
	PhaseApply     = "APPLY"
	PhaseReconcile = "RECONCILE"
)

// Error kinds written to staging_error. The set is closed; every violation
// uses exactly one.
const (
	ErrKindRequiredMissing = "REQUIRED_MISSING"
	ErrKindInvalidDate     = "INVALID_DATE"
	ErrKindInvalidNumeric  = "INVALID_NUMERIC"
	ErrKindDupInFile       = "DUP_IN_FILE"
	ErrKindDupInDB         = "DUP_IN_DB"
	ErrKindRefNotFound     = "REF_NOT_FOUND"
)

// RequiredFieldMessage is the user-facing message for REQUIRED_MISSING
// errors. The exact text is part of the external contract.
const RequiredFieldMessage = "Trường bắt buộc không được để trống"

// Job is one migration run over one uploaded workbook.
type Job struct {
	ID               string     `json:"jobId"`
	FileName         string     `json:"fileName"`
	CreatedBy        string     `json:"createdBy"`
	Status           string     `json:"status"`
	CurrentPhase     string     `json:"currentPhase"`
	ProgressPercent  float64    `json:"progressPercent"`
	TotalRows        int64      `json:"totalRows"`
	ProcessedRows    int64      `json:"processedRows"`
	ValidRows        int64      `json:"validRows"`
	ErrorRows        int64      `json:"errorRows"`
	InsertedRows     int64      `json:"insertedRows"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	ProcessingTimeMS int64      `json:"processingTimeMs"`
}

// JobSheet is the per-sheet sub-state of a multi-sheet job. Version is the
// optimistic-lock counter; every persisted update increments it.
type JobSheet struct {
	ID              int64      `json:"id"`
	JobID           string     `json:"jobId"`
	SheetName       string     `json:"sheetName"`
	SheetIndex      int        `json:"sheetIndex"`
	Status          string     `json:"status"`
	CurrentPhase    string     `json:"currentPhase"`
	ProgressPercent float64    `json:"progressPercent"`
	TotalRows       int64      `json:"totalRows"`
	ProcessedRows   int64      `json:"processedRows"`
	ValidRows       int64      `json:"validRows"`
	ErrorRows       int64      `json:"errorRows"`
	InsertedRows    int64      `json:"insertedRows"`
	IngestMS        int64      `json:"ingestMs"`
	ValidationMS    int64      `json:"validationMs"`
	InsertionMS     int64      `json:"insertionMs"`
	TotalMS         int64      `json:"totalMs"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// CaseRow is the workbook-facing record type for archive case rows. Column
// names match the upload template headers. Normalization hints come from
// the field names (identifier-shaped) and the date tag options.
type CaseRow struct {
	UnitCode        string `xlsx:"Mã đơn vị"`
	UnitName        string `xlsx:"Tên đơn vị"`
	BoxCode         string `xlsx:"Mã thùng"`
	WarehouseCode   string `xlsx:"Mã kho"`
	DocTypeName     string `xlsx:"Loại chứng từ"`
	DocDate         string `xlsx:"Ngày chứng từ,date"`
	Quantity        string `xlsx:"Số lượng tập"`
	RetentionPeriod string `xlsx:"Thời hạn lưu trữ"`
	Area            string `xlsx:"Khu vực"`
	RowNo           string `xlsx:"Hàng"`
	ColNo           string `xlsx:"Cột"`
	CaseStatus      string `xlsx:"Tình trạng hồ sơ"`
	BoxStatus       string `xlsx:"Trạng thái thùng"`
	BoxState        string `xlsx:"Tình trạng thùng"`
	DueDate         string `xlsx:"Ngày đến hạn,date"`
	HandoverDate    string `xlsx:"Ngày bàn giao,date"`
	Note            string `xlsx:"Ghi chú"`

	parseErrors []string
}

// RecordParseError accumulates per-cell conversion failures. The row is
// still staged; validation decides its fate.
func (r *CaseRow) RecordParseError(column, msg string) {
	r.parseErrors = append(r.parseErrors, column+": "+msg)
}

// ParseErrors returns the accumulated conversion failures, empty when the
// row bound cleanly.
func (r *CaseRow) ParseErrors() []string { return r.parseErrors }

// Row-shape patterns shared with the SQL validation steps: canonical date
// and positive-integer quantity.
var (
	isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	posIntPattern  = regexp.MustCompile(`^0*[1-9][0-9]*$`)
)

// CheckStrict runs the ingest-time row checks: required fields, canonical
// date shape, positive-integer quantity. Violations are recorded as parse
// errors so the row is still staged with a breadcrumb and excluded from
// promotion; the SQL validation steps later produce the authoritative
// staging_error rows for the same violations.
func (r *CaseRow) CheckStrict() {
	required := []struct{ column, value string }{
		{"Mã đơn vị", r.UnitCode},
		{"Mã thùng", r.BoxCode},
		{"Mã kho", r.WarehouseCode},
		{"Loại chứng từ", r.DocTypeName},
		{"Ngày chứng từ", r.DocDate},
		{"Số lượng tập", r.Quantity},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			r.RecordParseError(f.column, RequiredFieldMessage)
		}
	}

	dates := []struct{ column, value string }{
		{"Ngày chứng từ", r.DocDate},
		{"Ngày đến hạn", r.DueDate},
		{"Ngày bàn giao", r.HandoverDate},
	}
	for _, f := range dates {
		norm := xlsx.NormalizeCell(strings.TrimSpace(f.value), false, true)
		if norm != "" && !isoDatePattern.MatchString(norm) {
			r.RecordParseError(f.column, "ngày không đúng định dạng YYYY-MM-DD: "+f.value)
		}
	}

	if qty := xlsx.NormalizeCell(strings.TrimSpace(r.Quantity), true, false); qty != "" && !posIntPattern.MatchString(qty) {
		r.RecordParseError("Số lượng tập", "phải là số nguyên dương: "+r.Quantity)
	}
}

// StagingRaw mirrors one workbook row exactly as staged: the untouched
// value plus a normalized twin for each key column, and the parse-error
// breadcrumb from ingest.
type StagingRaw struct {
	JobID       string
	SheetName   string
	RowNum      int
	UnitCode    string
	UnitCodeN   string
	UnitName    string
	BoxCode     string
	BoxCodeN    string
	Warehouse   string
	WarehouseN  string
	DocType     string
	DocDate     string
	DocDateN    string
	Quantity    string
	QuantityN   string
	Retention   string
	Area        string
	RowNo       string
	ColNo       string
	CaseStatus  string
	BoxStatus   string
	BoxState    string
	DueDate     string
	DueDateN    string
	Handover    string
	HandoverN   string
	Note        string
	ParseErrors string
	CreatedAt   time.Time
}

// StagingError is one validation violation for one raw row.
type StagingError struct {
	JobID        string    `json:"jobId"`
	SheetName    string    `json:"sheetName,omitempty"`
	RowNum       int       `json:"rowNum"`
	ErrorType    string    `json:"errorType"`
	ErrorField   string    `json:"errorField"`
	ErrorValue   string    `json:"errorValue"`
	ErrorMessage string    `json:"errorMessage"`
	OriginalData string    `json:"originalData,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewJobID builds a fresh job identifier: JOB_YYYYMMDDHHMMSS_XXXXXXXX,
// where the suffix is 8 random hex characters.
func NewJobID(now time.Time) string {
	suffix := uuid.NewString()
	suffix = suffix[:8]
	return fmt.Sprintf("JOB_%s_%s", now.Format("20060102150405"), suffix)
}
