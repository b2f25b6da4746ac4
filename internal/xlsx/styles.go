package xlsx

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// styleTable maps a cell's style index (the s attribute) to its number
// format so the reader can tell date-formatted numeric cells apart from
// plain numbers.
type styleTable struct {
	// numFmtIDs[i] is the numFmtId of cellXfs entry i.
	numFmtIDs []int
	// customFormats maps numFmtId >= 164 to its format code.
	customFormats map[int]string
}

// loadStyles parses xl/styles.xml. A missing styles part yields an empty
// table (every cell treated as General).
func loadStyles(p *Package) (*styleTable, error) {
	const part = "xl/styles.xml"
	st := &styleTable{customFormats: make(map[int]string)}
	if !p.hasPart(part) {
		return st, nil
	}

	rc, err := p.openPart(part)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var doc struct {
		NumFmts struct {
			NumFmt []struct {
				ID   int    `xml:"numFmtId,attr"`
				Code string `xml:"formatCode,attr"`
			} `xml:"numFmt"`
		} `xml:"numFmts"`
		CellXfs struct {
			Xf []struct {
				NumFmtID int `xml:"numFmtId,attr"`
			} `xml:"xf"`
		} `xml:"cellXfs"`
	}
	if err := xml.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse styles: %w", err)
	}

	for _, nf := range doc.NumFmts.NumFmt {
		st.customFormats[nf.ID] = nf.Code
	}
	for _, xf := range doc.CellXfs.Xf {
		st.numFmtIDs = append(st.numFmtIDs, xf.NumFmtID)
	}
	return st, nil
}

// isDateStyle reports whether the style index carries a date/time number
// format. The cell parser resolves serial values in such cells to
// canonical date text before binding; un-styled serials pass through
// verbatim and fail date validation downstream.
func (st *styleTable) isDateStyle(styleIdx int) bool {
	if styleIdx < 0 || styleIdx >= len(st.numFmtIDs) {
		return false
	}
	id := st.numFmtIDs[styleIdx]
	if isBuiltinDateFormat(id) {
		return true
	}
	code, ok := st.customFormats[id]
	return ok && formatCodeLooksLikeDate(code)
}

// isBuiltinDateFormat covers the OOXML builtin date and time format ids.
func isBuiltinDateFormat(id int) bool {
	switch {
	case id >= 14 && id <= 22:
		return true
	case id >= 27 && id <= 36: // East Asian date formats
		return true
	case id >= 45 && id <= 47:
		return true
	case id >= 50 && id <= 58:
		return true
	}
	return false
}

// serialDateEpoch is the 1900 date system epoch. The conventional
// 1899-12-30 offset absorbs the fictitious 1900-02-29, so serials from
// March 1900 onward convert exactly.
var serialDateEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// serialDateToISO converts a date-styled numeric cell value to canonical
// YYYY-MM-DD text. A fractional day part (the time of day) is dropped.
// Returns false for values outside [1, maxSerialDate] and for text that is
// not a number at all.
func serialDateToISO(value string) (string, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return "", false
	}
	n := int(f)
	if n < 1 || n > maxSerialDate {
		return "", false
	}
	return serialDateEpoch.AddDate(0, 0, n).Format("2006-01-02"), true
}

// formatCodeLooksLikeDate scans a custom format code for date tokens,
// ignoring quoted literals and bracketed sections like [Red] or [$-409].
func formatCodeLooksLikeDate(code string) bool {
	inQuote := false
	inBracket := false
	for _, r := range code {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		case strings.ContainsRune("ymdhs", r) || strings.ContainsRune("YMDHS", r):
			return true
		}
	}
	return false
}
