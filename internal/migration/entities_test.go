package migration

import (
	"regexp"
	"testing"
	"time"

	"github.com/arcstore/migrator/internal/xlsx"
)

func TestNewJobID(t *testing.T) {
	now := time.Date(2023, 1, 15, 14, 30, 45, 0, time.UTC)
	id := NewJobID(now)

	pattern := regexp.MustCompile(`^JOB_20230115143045_[0-9a-f]{8}$`)
	if !pattern.MatchString(id) {
		t.Fatalf("job id %q does not match JOB_YYYYMMDDHHMMSS_XXXXXXXX", id)
	}

	if other := NewJobID(now); other == id {
		t.Errorf("two ids with the same timestamp collided: %s", id)
	}
}

func TestCaseRowParseErrors(t *testing.T) {
	row := &CaseRow{}
	if len(row.ParseErrors()) != 0 {
		t.Fatal("fresh row has parse errors")
	}

	row.RecordParseError("Số lượng tập", "invalid integer")
	row.RecordParseError("Ngày chứng từ", "invalid date")

	errs := row.ParseErrors()
	if len(errs) != 2 {
		t.Fatalf("parse errors = %d, want 2", len(errs))
	}
	if errs[0] != "Số lượng tập: invalid integer" {
		t.Errorf("first error = %q", errs[0])
	}
}

func TestCaseRowBindingFlags(t *testing.T) {
	d, err := xlsx.DescriptorFor(&CaseRow{})
	if err != nil {
		t.Fatalf("DescriptorFor: %v", err)
	}

	tests := []struct {
		column       string
		isIdentifier bool
		isDate       bool
	}{
		{"Mã đơn vị", true, false},
		{"Mã thùng", true, false},
		{"Mã kho", true, false},
		{"Ngày chứng từ", false, true},
		{"Ngày đến hạn", false, true},
		{"Ngày bàn giao", false, true},
		{"Số lượng tập", false, false},
		{"Ghi chú", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			fb, ok := d.Lookup(tt.column)
			if !ok {
				t.Fatalf("column %q not bound", tt.column)
			}
			if fb.IsIdentifier != tt.isIdentifier || fb.IsDate != tt.isDate {
				t.Errorf("flags = id:%v date:%v, want id:%v date:%v",
					fb.IsIdentifier, fb.IsDate, tt.isIdentifier, tt.isDate)
			}
		})
	}
}

func TestCheckStrict(t *testing.T) {
	clean := func() *CaseRow {
		return &CaseRow{
			UnitCode:      "DV001",
			BoxCode:       "TH001",
			WarehouseCode: "KHO01",
			DocTypeName:   "Hóa đơn",
			DocDate:       "2023-01-15",
			Quantity:      "3",
		}
	}

	t.Run("clean row", func(t *testing.T) {
		row := clean()
		row.CheckStrict()
		if errs := row.ParseErrors(); len(errs) != 0 {
			t.Errorf("parse errors = %v, want none", errs)
		}
	})

	t.Run("blank required fields", func(t *testing.T) {
		row := clean()
		row.BoxCode = "   "
		row.WarehouseCode = ""
		row.CheckStrict()
		errs := row.ParseErrors()
		if len(errs) != 2 {
			t.Fatalf("parse errors = %v, want 2", errs)
		}
		if errs[0] != "Mã thùng: "+RequiredFieldMessage {
			t.Errorf("first error = %q", errs[0])
		}
	})

	t.Run("slash date flagged like the date step", func(t *testing.T) {
		row := clean()
		row.DocDate = "15/01/2023"
		row.CheckStrict()
		if errs := row.ParseErrors(); len(errs) != 1 {
			t.Errorf("parse errors = %v, want 1", errs)
		}
	})

	t.Run("bad date and quantity", func(t *testing.T) {
		row := clean()
		row.DocDate = "44927" // serial passthrough is not canonical
		row.Quantity = "-2"
		row.CheckStrict()
		if errs := row.ParseErrors(); len(errs) != 2 {
			t.Errorf("parse errors = %v, want 2", errs)
		}
	})

	t.Run("optional blank dates skipped", func(t *testing.T) {
		row := clean()
		row.DueDate = ""
		row.HandoverDate = "  "
		row.CheckStrict()
		if errs := row.ParseErrors(); len(errs) != 0 {
			t.Errorf("parse errors = %v, want none", errs)
		}
	})

	t.Run("bad optional date", func(t *testing.T) {
		row := clean()
		row.DueDate = "tháng sau"
		row.CheckStrict()
		if errs := row.ParseErrors(); len(errs) != 1 {
			t.Errorf("parse errors = %v, want 1", errs)
		}
	})
}

func TestToStagingRowNormalizedTwins(t *testing.T) {
	now := time.Now()
	row := &CaseRow{
		UnitCode: "1.234567E+11",
		BoxCode:  "123456789.0",
		DocDate:  "01/15/23",
		Quantity: "3",
	}
	values := toStagingRow("JOB_X", "Sheet1", 7, row, now)

	if values[0] != "JOB_X" || values[1] != "Sheet1" || values[2] != 7 {
		t.Fatalf("key columns = %v", values[:3])
	}
	// raw then normalized twin, in column order
	if values[3] != "1.234567E+11" || values[4] != "123456700000" {
		t.Errorf("unit code twin = %v / %v", values[3], values[4])
	}
	if values[6] != "123456789.0" || values[7] != "123456789" {
		t.Errorf("box code twin = %v / %v", values[6], values[7])
	}

	// parse_errors is NULL when the row bound cleanly
	if values[len(values)-2] != nil {
		t.Errorf("parse_errors = %v, want nil", values[len(values)-2])
	}

	row.RecordParseError("Số lượng tập", "bad")
	values = toStagingRow("JOB_X", "Sheet1", 7, row, now)
	if values[len(values)-2] != "Số lượng tập: bad" {
		t.Errorf("parse_errors = %v", values[len(values)-2])
	}
}
