package xlsx

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

type bindingRecord struct {
	UnitCode     string    `xlsx:"Mã đơn vị"`
	BoxCode      string    `xlsx:"Mã thùng"`
	DocDate      string    `xlsx:"Ngày chứng từ,date"`
	Quantity     int       `xlsx:"Số lượng tập"`
	Weight       float64   `xlsx:"Trọng lượng"`
	Active       bool      `xlsx:"Hoạt động"`
	ReceivedAt   time.Time `xlsx:"Ngày nhận"`
	IdentityCard string    `xlsx:"Số CMND"`
	PhoneNumber  string    `xlsx:"Điện thoại"`
	Note         string    `xlsx:"-"`
}

func TestDescriptorDiscovery(t *testing.T) {
	d, err := DescriptorFor(&bindingRecord{})
	if err != nil {
		t.Fatalf("DescriptorFor: %v", err)
	}

	tests := []struct {
		column       string
		isIdentifier bool
		isDate       bool
	}{
		{"Mã đơn vị", true, false},   // UnitCode matches "code"
		{"Mã thùng", true, false},    // BoxCode matches "code"
		{"Ngày chứng từ", false, true},
		{"Số lượng tập", false, false},
		{"Ngày nhận", false, true},   // time.Time field
		{"Số CMND", true, false},     // IdentityCard matches "identity"
		{"Điện thoại", true, false},  // PhoneNumber matches "phone"
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			fb, ok := d.Lookup(tt.column)
			if !ok {
				t.Fatalf("column %q not bound", tt.column)
			}
			if fb.IsIdentifier != tt.isIdentifier {
				t.Errorf("IsIdentifier = %v, want %v", fb.IsIdentifier, tt.isIdentifier)
			}
			if fb.IsDate != tt.isDate {
				t.Errorf("IsDate = %v, want %v", fb.IsDate, tt.isDate)
			}
		})
	}

	if _, ok := d.Lookup("Note"); ok {
		t.Error("tag \"-\" column should not be bound")
	}
	if _, ok := d.Lookup("no such column"); ok {
		t.Error("unknown column should not be bound")
	}
}

// Lookup must hand out pointers into the descriptor's final field slice.
// With enough fields to force the backing array to grow during discovery,
// a map populated mid-append would alias abandoned arrays and updates
// through one view would not be seen through the other.
func TestDescriptorLookupPointersStayValid(t *testing.T) {
	d, err := buildDescriptor(reflect.TypeOf(bindingRecord{}))
	if err != nil {
		t.Fatalf("buildDescriptor: %v", err)
	}
	for i := range d.fields {
		fb, ok := d.Lookup(d.fields[i].Column)
		if !ok {
			t.Fatalf("column %q not bound", d.fields[i].Column)
		}
		if fb != &d.fields[i] {
			t.Errorf("Lookup(%q) aliases a stale backing array", d.fields[i].Column)
		}
	}
}

func TestDescriptorCaching(t *testing.T) {
	d1, err := DescriptorFor(&bindingRecord{})
	if err != nil {
		t.Fatalf("DescriptorFor: %v", err)
	}
	d2, err := DescriptorFor(bindingRecord{})
	if err != nil {
		t.Fatalf("DescriptorFor (value): %v", err)
	}
	if d1 != d2 {
		t.Error("descriptor not cached: pointer and value forms built distinct descriptors")
	}
}

func TestDescriptorSet(t *testing.T) {
	d, err := DescriptorFor(&bindingRecord{})
	if err != nil {
		t.Fatalf("DescriptorFor: %v", err)
	}

	set := func(t *testing.T, rec *bindingRecord, column, raw string) error {
		t.Helper()
		fb, ok := d.Lookup(column)
		if !ok {
			t.Fatalf("column %q not bound", column)
		}
		return d.Set(rec, fb, raw)
	}

	t.Run("typed conversions", func(t *testing.T) {
		rec := &bindingRecord{}
		if err := set(t, rec, "Mã đơn vị", "DV001"); err != nil {
			t.Fatal(err)
		}
		if err := set(t, rec, "Số lượng tập", "12"); err != nil {
			t.Fatal(err)
		}
		if err := set(t, rec, "Trọng lượng", "3.5"); err != nil {
			t.Fatal(err)
		}
		if err := set(t, rec, "Hoạt động", "yes"); err != nil {
			t.Fatal(err)
		}
		if err := set(t, rec, "Ngày nhận", "2023-01-15"); err != nil {
			t.Fatal(err)
		}

		if rec.UnitCode != "DV001" || rec.Quantity != 12 || rec.Weight != 3.5 || !rec.Active {
			t.Errorf("unexpected record: %+v", rec)
		}
		want := time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)
		if !rec.ReceivedAt.Equal(want) {
			t.Errorf("ReceivedAt = %v, want %v", rec.ReceivedAt, want)
		}
	})

	t.Run("empty value keeps zero", func(t *testing.T) {
		rec := &bindingRecord{}
		if err := set(t, rec, "Số lượng tập", ""); err != nil {
			t.Fatal(err)
		}
		if rec.Quantity != 0 {
			t.Errorf("Quantity = %d, want 0", rec.Quantity)
		}
	})

	t.Run("bad integer reports column", func(t *testing.T) {
		rec := &bindingRecord{}
		err := set(t, rec, "Số lượng tập", "mười hai")
		if err == nil {
			t.Fatal("expected error for non-numeric quantity")
		}
		if !strings.Contains(err.Error(), "Số lượng tập") {
			t.Errorf("error %q does not name the column", err)
		}
	})

	t.Run("bad datetime rejected", func(t *testing.T) {
		rec := &bindingRecord{}
		if err := set(t, rec, "Ngày nhận", "15/01/2023"); err == nil {
			t.Fatal("expected error for non-canonical date")
		}
	})
}

type docState string

type enumRecord struct {
	State docState `xlsx:"Trạng thái"`
}

func TestRegisterEnum(t *testing.T) {
	RegisterEnum(docState(""), "ACTIVE", "ARCHIVED", "DESTROYED")

	d, err := DescriptorFor(&enumRecord{})
	if err != nil {
		t.Fatalf("DescriptorFor: %v", err)
	}
	fb, ok := d.Lookup("Trạng thái")
	if !ok {
		t.Fatal("enum column not bound")
	}

	rec := &enumRecord{}
	if err := d.Set(rec, fb, "archived"); err != nil {
		t.Fatalf("case-insensitive enum match failed: %v", err)
	}
	if rec.State != "ARCHIVED" {
		t.Errorf("State = %q, want canonical ARCHIVED", rec.State)
	}

	if err := d.Set(rec, fb, "lost"); err == nil {
		t.Error("expected error for unknown enum value")
	}
}

func TestRegisterConverter(t *testing.T) {
	type money int64
	type convRecord struct {
		Amount money `xlsx:"Thành tiền"`
	}
	RegisterConverter(reflect.TypeOf(money(0)), func(s string) (any, error) {
		s = strings.ReplaceAll(s, ",", "")
		var n int64
		for _, r := range s {
			n = n*10 + int64(r-'0')
		}
		return money(n), nil
	})

	d, err := DescriptorFor(&convRecord{})
	if err != nil {
		t.Fatalf("DescriptorFor: %v", err)
	}
	fb, _ := d.Lookup("Thành tiền")
	rec := &convRecord{}
	if err := d.Set(rec, fb, "1,250,000"); err != nil {
		t.Fatalf("custom converter: %v", err)
	}
	if rec.Amount != 1250000 {
		t.Errorf("Amount = %d, want 1250000", rec.Amount)
	}
}
