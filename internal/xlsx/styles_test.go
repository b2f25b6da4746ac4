package xlsx

import (
	"context"
	"testing"
)

func TestIsBuiltinDateFormat(t *testing.T) {
	// General, numeric, and text ids are not dates; the builtin date and
	// time ranges are. 164 is where custom formats begin.
	tests := []struct {
		id   int
		want bool
	}{
		{0, false},
		{2, false},
		{14, true},
		{22, true},
		{27, true},
		{44, false},
		{45, true},
		{49, false},
		{58, true},
		{164, false},
	}
	for _, tt := range tests {
		if got := isBuiltinDateFormat(tt.id); got != tt.want {
			t.Errorf("isBuiltinDateFormat(%d) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestFormatCodeLooksLikeDate(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"dd/mm/yyyy", true},
		{"yyyy-mm-dd;@", true},
		{"[$-409]d-mmm-yy", true},
		{"0.00", false},
		{"#,##0", false},
		// date letters inside quoted literals or brackets do not count
		{`"years: "0`, false},
		{`[Yellow]0.00`, false},
		{`"total "dd" days"`, true},
	}
	for _, tt := range tests {
		if got := formatCodeLooksLikeDate(tt.code); got != tt.want {
			t.Errorf("formatCodeLooksLikeDate(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestSerialDateToISO(t *testing.T) {
	tests := []struct {
		value string
		want  string
		ok    bool
	}{
		{"44927", "2023-01-01", true},
		{"45292", "2024-01-01", true},
		{"44927.75", "2023-01-01", true}, // time of day dropped
		{"61", "1900-03-01", true},
		{"0", "", false},
		{"-5", "", false},
		{"3000001", "", false},
		{"2023-01-01", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := serialDateToISO(tt.value)
		if ok != tt.ok || got != tt.want {
			t.Errorf("serialDateToISO(%q) = %q, %v; want %q, %v", tt.value, got, ok, tt.want, tt.ok)
		}
	}
}

const dateStyleSheet = `<?xml version="1.0"?><styleSheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><cellXfs count="2"><xf numFmtId="0"/><xf numFmtId="14"/></cellXfs></styleSheet>`

const customDateStyleSheet = `<?xml version="1.0"?><styleSheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><numFmts count="1"><numFmt numFmtId="164" formatCode="dd/mm/yyyy"/></numFmts><cellXfs count="2"><xf numFmtId="0"/><xf numFmtId="164"/></cellXfs></styleSheet>`

// Date-styled numeric cells bind as canonical date text; the same serial
// without a date style passes through verbatim.
func TestReadResolvesDateStyledSerials(t *testing.T) {
	rows := [][]string{
		{"Mã đơn vị", "Mã thùng", "Ngày chứng từ"},
		{"DV001", "TH001", "44927"},
	}

	tests := []struct {
		name    string
		styles  string
		style   int
		docDate string
	}{
		{"builtin date format", dateStyleSheet, 1, "2023-01-01"},
		{"custom date format", customDateStyleSheet, 1, "2023-01-01"},
		{"no date style", dateStyleSheet, 0, "44927"},
		{"no styles part", "", 0, "44927"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg := testWorkbook{
				sheets:       []testSheet{{name: "Data", rows: rows}},
				styles:       tt.styles,
				numericStyle: tt.style,
			}.open(t)

			sink := &collectingSink{}
			if _, err := Read(context.Background(), pkg, Config{}, &caseRecord{}, sink); err != nil {
				t.Fatalf("Read: %v", err)
			}
			rec := sink.batches[0].Records[0].(*caseRecord)
			if rec.DocDate != tt.docDate {
				t.Errorf("DocDate = %q, want %q", rec.DocDate, tt.docDate)
			}
		})
	}
}
