// Package export writes validation error reports. The writer strategy is
// picked by row count: small reports are assembled in memory, large ones
// stream through a bounded window so the report never loads whole.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/arcstore/migrator/internal/migration"
)

// StreamingThreshold is the row count above which the windowed streaming
// writer takes over from the in-memory writer.
const StreamingThreshold = 10000

// WindowSize is the default flush window of the streaming writer, in rows.
const WindowSize = 1000

// errorHeader is the report column order.
var errorHeader = []string{
	"sheet_name", "row_num", "error_type", "error_field",
	"error_value", "error_message", "original_data",
}

// ErrorWriter renders staging errors as CSV.
type ErrorWriter interface {
	WriteErrors(w io.Writer, errs []migration.StagingError) error
	Name() string
}

// WriterFor picks the writer strategy for the given row count. window is
// the streaming flush window in rows; non-positive means WindowSize.
func WriterFor(rowCount, window int) ErrorWriter {
	if rowCount > StreamingThreshold {
		if window <= 0 {
			window = WindowSize
		}
		return &streamingWriter{window: window}
	}
	return &memoryWriter{}
}

// WriteErrorReport renders the full report with the strategy matching its
// size.
func WriteErrorReport(w io.Writer, errs []migration.StagingError) error {
	writer := WriterFor(len(errs), WindowSize)
	slog.Debug("writing error report", "rows", len(errs), "writer", writer.Name())
	return writer.WriteErrors(w, errs)
}

// memoryWriter builds the whole report in memory, then writes it out in
// one call. Fine for small reports; avoids partial output on error.
type memoryWriter struct{}

func (m *memoryWriter) Name() string { return "in-memory" }

func (m *memoryWriter) WriteErrors(w io.Writer, errs []migration.StagingError) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	if err := cw.Write(errorHeader); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}
	for _, e := range errs {
		if err := cw.Write(errorRecord(e)); err != nil {
			return fmt.Errorf("write report row %d: %w", e.RowNum, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// streamingWriter flushes every window rows, keeping memory bounded no
// matter how large the report gets.
type streamingWriter struct {
	window int
}

func (s *streamingWriter) Name() string { return "windowed-streaming" }

func (s *streamingWriter) WriteErrors(w io.Writer, errs []migration.StagingError) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(errorHeader); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}
	for i, e := range errs {
		if err := cw.Write(errorRecord(e)); err != nil {
			return fmt.Errorf("write report row %d: %w", e.RowNum, err)
		}
		if (i+1)%s.window == 0 {
			cw.Flush()
			if err := cw.Error(); err != nil {
				return fmt.Errorf("flush report window: %w", err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return nil
}

func errorRecord(e migration.StagingError) []string {
	return []string{
		e.SheetName,
		strconv.Itoa(e.RowNum),
		e.ErrorType,
		e.ErrorField,
		e.ErrorValue,
		e.ErrorMessage,
		e.OriginalData,
	}
}
