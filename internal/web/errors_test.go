package web

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/arcstore/migrator/internal/migration"
	"github.com/arcstore/migrator/internal/xlsx"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"job not found", migration.ErrJobNotFound, http.StatusNotFound},
		{"sheet not found", migration.ErrSheetNotFound, http.StatusNotFound},
		{"wrapped job not found", fmt.Errorf("status: %w", migration.ErrJobNotFound), http.StatusNotFound},
		{"limiter full", migration.ErrTooManyJobs, http.StatusTooManyRequests},
		{"legacy workbook", xlsx.ErrLegacyFormat, http.StatusBadRequest},
		{"not a zip", xlsx.ErrNotZip, http.StatusBadRequest},
		{"row cap exceeded", &xlsx.RowLimitError{Sheet: "Sheet1", Limit: 50}, http.StatusBadRequest},
		{"dimension rejection", &xlsx.DimensionError{Violations: []xlsx.DimensionViolation{{Sheet: "Q1", Rows: 100, Cap: 50}}}, http.StatusBadRequest},
		{"body too large", &http.MaxBytesError{Limit: 1024}, http.StatusRequestEntityTooLarge},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusForError(tt.err); got != tt.want {
				t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
