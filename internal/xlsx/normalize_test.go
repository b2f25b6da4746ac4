package xlsx

import "testing"

func TestNormalizeCellIdentifiers(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"scientific notation expands", "1.234567E+11", "123456700000"},
		{"lowercase exponent", "1.234567e+11", "123456700000"},
		{"trailing point zero dropped", "123456789.0", "123456789"},
		{"multiple trailing zeros dropped", "123456789.000", "123456789"},
		{"leading zeros preserved", "0901234567", "0901234567"},
		{"plain code untouched", "KHO-01", "KHO-01"},
		{"unparseable exponent untouched", "E.ON", "E.ON"},
		{"fraction survives expansion", "1.5E0", "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeCell(tt.input, true, false)
			if got != tt.want {
				t.Errorf("NormalizeCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeCellDates(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"slash short year expands to 2000s", "01/15/23", "01/15/2023"},
		{"slash short year keeps month day order", "3/7/09", "3/7/2009"},
		{"year above pivot goes to 1900s", "01/15/99", "01/15/1999"},
		{"pivot boundary thirty", "01/15/30", "01/15/2030"},
		{"pivot boundary thirty one", "01/15/31", "01/15/1931"},
		{"dash short year unifies separators", "15-01-23", "15/01/2023"},
		{"serial date passes through", "44927", "44927"},
		{"serial date with fraction passes through", "44927.5", "44927.5"},
		{"serial out of range untouched", "3000001", "3000001"},
		{"canonical date untouched", "2023-01-15", "2023-01-15"},
		{"four digit year untouched", "01/15/2023", "01/15/2023"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeCell(tt.input, false, true)
			if got != tt.want {
				t.Errorf("NormalizeCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeCellPassthrough(t *testing.T) {
	// Values with no exponent, no trailing .0, and no short-year shape must
	// come back verbatim whatever the field flags say.
	inputs := []string{"", "hello", "2023-01-15", "Kho Trung Tâm", "123", "0"}
	for _, in := range inputs {
		for _, id := range []bool{true, false} {
			if got := NormalizeCell(in, id, false); got != in {
				t.Errorf("NormalizeCell(%q, id=%v) = %q, want unchanged", in, id, got)
			}
		}
	}
}
