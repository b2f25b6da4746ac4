package xlsx

import (
	"errors"
	"fmt"
)

// ErrLegacyFormat is returned when the stream is a legacy BIFF (.xls)
// workbook, which the streaming reader does not support.
var ErrLegacyFormat = errors.New("legacy .xls workbooks are not supported; convert to .xlsx")

// ErrNotZip is returned when the stream is not a zip container at all.
var ErrNotZip = errors.New("not a valid .xlsx package")

// RowLimitError is returned when a configured MaxRows would be exceeded.
type RowLimitError struct {
	Sheet string
	Limit int64
}

func (e *RowLimitError) Error() string {
	return fmt.Sprintf("sheet %q exceeds the configured row limit of %d", e.Sheet, e.Limit)
}

// DimensionError aggregates all sheets rejected by the dimension
// prevalidator into a single failure.
type DimensionError struct {
	Violations []DimensionViolation
}

// DimensionViolation names one oversize sheet.
type DimensionViolation struct {
	Sheet string
	Rows  int64
	Cap   int64
}

func (e *DimensionError) Error() string {
	msg := "workbook rejected before ingest:"
	for _, v := range e.Violations {
		msg += fmt.Sprintf(" sheet %q has %d data rows (cap %d);", v.Sheet, v.Rows, v.Cap)
	}
	return msg[:len(msg)-1]
}
