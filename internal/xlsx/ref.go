package xlsx

import (
	"fmt"
	"strings"
)

// parseCellRef splits an A1-style reference into a 0-based column index and
// a 1-based row number.
func parseCellRef(ref string) (col int, row int, err error) {
	i := 0
	for i < len(ref) {
		c := ref[i]
		if c >= 'A' && c <= 'Z' {
			col = col*26 + int(c-'A'+1)
			i++
			continue
		}
		if c >= 'a' && c <= 'z' {
			col = col*26 + int(c-'a'+1)
			i++
			continue
		}
		break
	}
	if i == 0 || i == len(ref) {
		return 0, 0, fmt.Errorf("malformed cell reference %q", ref)
	}
	for ; i < len(ref); i++ {
		c := ref[i]
		if c < '0' || c > '9' {
			return 0, 0, fmt.Errorf("malformed cell reference %q", ref)
		}
		row = row*10 + int(c-'0')
	}
	return col - 1, row, nil
}

// parseRangeRef splits a range like "A1:F2000" into its corners. A single
// cell reference is a degenerate range.
func parseRangeRef(ref string) (firstCol, firstRow, lastCol, lastRow int, err error) {
	first, last, found := strings.Cut(ref, ":")
	firstCol, firstRow, err = parseCellRef(first)
	if err != nil {
		return
	}
	if !found {
		lastCol, lastRow = firstCol, firstRow
		return
	}
	lastCol, lastRow, err = parseCellRef(last)
	return
}
