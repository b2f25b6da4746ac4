package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/arcstore/migrator/internal/migration"
)

func sampleErrors(n int) []migration.StagingError {
	errs := make([]migration.StagingError, n)
	for i := range errs {
		errs[i] = migration.StagingError{
			SheetName:    "Sheet1",
			RowNum:       i + 2,
			ErrorType:    migration.ErrKindRequiredMissing,
			ErrorField:   "ma_thung",
			ErrorMessage: migration.RequiredFieldMessage,
		}
	}
	return errs
}

func TestWriterSelection(t *testing.T) {
	if got := WriterFor(100, 0).Name(); got != "in-memory" {
		t.Errorf("small report writer = %q, want in-memory", got)
	}
	if got := WriterFor(StreamingThreshold, 0).Name(); got != "in-memory" {
		t.Errorf("threshold report writer = %q, want in-memory", got)
	}
	if got := WriterFor(StreamingThreshold+1, 0).Name(); got != "windowed-streaming" {
		t.Errorf("large report writer = %q, want windowed-streaming", got)
	}
}

func TestWriterForWindow(t *testing.T) {
	w, ok := WriterFor(StreamingThreshold+1, 250).(*streamingWriter)
	if !ok {
		t.Fatalf("large report writer = %T, want *streamingWriter", w)
	}
	if w.window != 250 {
		t.Errorf("window = %d, want 250", w.window)
	}

	w, ok = WriterFor(StreamingThreshold+1, 0).(*streamingWriter)
	if !ok {
		t.Fatal("large report with zero window did not stream")
	}
	if w.window != WindowSize {
		t.Errorf("default window = %d, want %d", w.window, WindowSize)
	}
}

func TestWriteErrorReport(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteErrorReport(&buf, sampleErrors(3)); err != nil {
		t.Fatalf("WriteErrorReport: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want header + 3 rows", len(lines))
	}
	if lines[0] != "sheet_name,row_num,error_type,error_field,error_value,error_message,original_data" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], migration.RequiredFieldMessage) {
		t.Errorf("row %q missing required-field message", lines[1])
	}
}

func TestCSVQuoting(t *testing.T) {
	errs := []migration.StagingError{{
		SheetName:    "Q1",
		RowNum:       5,
		ErrorType:    migration.ErrKindRefNotFound,
		ErrorField:   "ma_kho",
		ErrorValue:   `KHO "chính", miền Bắc`,
		ErrorMessage: "line1\nline2",
	}}

	var buf bytes.Buffer
	if err := (&memoryWriter{}).WriteErrors(&buf, errs); err != nil {
		t.Fatalf("WriteErrors: %v", err)
	}

	out := buf.String()
	// Embedded quotes double, fields with commas/quotes/newlines are quoted.
	if !strings.Contains(out, `"KHO ""chính"", miền Bắc"`) {
		t.Errorf("quoting wrong:\n%s", out)
	}
	if !strings.Contains(out, "\"line1\nline2\"") {
		t.Errorf("newline field not quoted:\n%s", out)
	}
}

func TestStreamingWriterMatchesMemoryWriter(t *testing.T) {
	errs := sampleErrors(2500)

	var inMem, streamed bytes.Buffer
	if err := (&memoryWriter{}).WriteErrors(&inMem, errs); err != nil {
		t.Fatalf("memory writer: %v", err)
	}
	if err := (&streamingWriter{window: 100}).WriteErrors(&streamed, errs); err != nil {
		t.Fatalf("streaming writer: %v", err)
	}
	if !bytes.Equal(inMem.Bytes(), streamed.Bytes()) {
		t.Error("streaming output differs from in-memory output")
	}
}
