package xlsx

import (
	"errors"
	"strings"
	"testing"
)

func TestReadDimensions(t *testing.T) {
	pkg := testWorkbook{sheets: []testSheet{
		{name: "Big", rows: caseRows(100)},
		{name: "Small", rows: caseRows(5)},
	}}.open(t)

	dims, err := pkg.ReadDimensions(Config{ReadAllSheets: true})
	if err != nil {
		t.Fatalf("ReadDimensions: %v", err)
	}

	if d := dims["Big"]; d.FirstRow != 1 || d.LastRow != 101 {
		t.Errorf("Big dimensions = %+v, want rows 1..101", d)
	}
	if got := dims["Big"].DataRows(1); got != 100 {
		t.Errorf("Big data rows = %d, want 100", got)
	}
	if got := dims["Small"].DataRows(1); got != 5 {
		t.Errorf("Small data rows = %d, want 5", got)
	}
}

func TestPrevalidateRowCaps(t *testing.T) {
	pkg := testWorkbook{sheets: []testSheet{
		{name: "Q1", rows: caseRows(50)},
		{name: "Q2", rows: caseRows(80)},
		{name: "Q3", rows: caseRows(10)},
	}}.open(t)

	t.Run("within caps", func(t *testing.T) {
		counts, err := pkg.PrevalidateRowCaps(Config{ReadAllSheets: true}, 100, 200)
		if err != nil {
			t.Fatalf("PrevalidateRowCaps: %v", err)
		}
		if counts["Q2"] != 80 {
			t.Errorf("counts[Q2] = %d, want 80", counts["Q2"])
		}
	})

	t.Run("per sheet cap aggregates all violations", func(t *testing.T) {
		_, err := pkg.PrevalidateRowCaps(Config{ReadAllSheets: true}, 40, 0)
		var dimErr *DimensionError
		if !errors.As(err, &dimErr) {
			t.Fatalf("err = %v, want DimensionError", err)
		}
		if len(dimErr.Violations) != 2 {
			t.Fatalf("violations = %d, want 2 (Q1 and Q2)", len(dimErr.Violations))
		}
		msg := err.Error()
		if !strings.Contains(msg, "Q1") || !strings.Contains(msg, "Q2") {
			t.Errorf("message %q does not name both violating sheets", msg)
		}
		if strings.Contains(msg, "Q3") {
			t.Errorf("message %q names a compliant sheet", msg)
		}
	})

	t.Run("job total cap", func(t *testing.T) {
		_, err := pkg.PrevalidateRowCaps(Config{ReadAllSheets: true}, 0, 100)
		var dimErr *DimensionError
		if !errors.As(err, &dimErr) {
			t.Fatalf("err = %v, want DimensionError", err)
		}
		if dimErr.Violations[0].Rows != 140 {
			t.Errorf("total rows = %d, want 140", dimErr.Violations[0].Rows)
		}
	})

	t.Run("caps are independent gates", func(t *testing.T) {
		_, err := pkg.PrevalidateRowCaps(Config{ReadAllSheets: true}, 40, 100)
		var dimErr *DimensionError
		if !errors.As(err, &dimErr) {
			t.Fatalf("err = %v, want DimensionError", err)
		}
		if len(dimErr.Violations) != 3 {
			t.Errorf("violations = %d, want 3 (two sheets plus the total)", len(dimErr.Violations))
		}
	})
}

func TestParseRangeRef(t *testing.T) {
	tests := []struct {
		ref                                  string
		firstCol, firstRow, lastCol, lastRow int
	}{
		{"A1:F2000", 0, 1, 5, 2000},
		{"B2:AB100", 1, 2, 27, 100},
		{"A1", 0, 1, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			fc, fr, lc, lr, err := parseRangeRef(tt.ref)
			if err != nil {
				t.Fatalf("parseRangeRef(%q): %v", tt.ref, err)
			}
			if fc != tt.firstCol || fr != tt.firstRow || lc != tt.lastCol || lr != tt.lastRow {
				t.Errorf("parseRangeRef(%q) = %d,%d,%d,%d", tt.ref, fc, fr, lc, lr)
			}
		})
	}

	if _, _, err := parseCellRef("123"); err == nil {
		t.Error("expected error for reference without column letters")
	}
	if _, _, err := parseCellRef("ABC"); err == nil {
		t.Error("expected error for reference without row digits")
	}
}
