package xlsx

import (
	"encoding/xml"
	"fmt"
	"io"
)

// dimension.go gates oversize workbooks before any row is parsed. Each
// sheet part is pull-parsed only as far as its <dimension ref="A1:F2000">
// element, so the cost is O(sheet count) and the sheet body is never
// buffered.

// SheetDimensions is the declared extent of one sheet.
type SheetDimensions struct {
	FirstRow, LastRow int // 1-based
	FirstCol, LastCol int // 0-based
}

// DataRows is the number of data rows after discounting header rows.
func (d SheetDimensions) DataRows(headerRows int) int64 {
	if d.LastRow == 0 {
		return 0
	}
	n := int64(d.LastRow-d.FirstRow+1) - int64(headerRows)
	if n < 0 {
		return 0
	}
	return n
}

// ReadDimensions returns the declared extent of every selected sheet. A
// sheet without a dimension element reports zero extent rather than
// failing, since the element is optional in the format.
func (p *Package) ReadDimensions(cfg Config) (map[string]SheetDimensions, error) {
	dims := make(map[string]SheetDimensions)
	for pos, sheet := range p.sheets {
		if !cfg.wantsSheet(sheet.Name, pos) {
			continue
		}
		d, err := p.readSheetDimension(sheet)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sheet.Name, err)
		}
		dims[sheet.Name] = d
	}
	return dims, nil
}

func (p *Package) readSheetDimension(sheet SheetInfo) (SheetDimensions, error) {
	rc, err := p.openPart(sheet.Part)
	if err != nil {
		return SheetDimensions{}, err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return SheetDimensions{}, nil
		}
		if err != nil {
			return SheetDimensions{}, fmt.Errorf("parse sheet header: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "dimension":
			for _, attr := range se.Attr {
				if attr.Name.Local != "ref" {
					continue
				}
				fc, fr, lc, lr, err := parseRangeRef(attr.Value)
				if err != nil {
					return SheetDimensions{}, err
				}
				return SheetDimensions{FirstRow: fr, LastRow: lr, FirstCol: fc, LastCol: lc}, nil
			}
			return SheetDimensions{}, nil
		case "sheetData":
			// Dimension element is declared before sheetData; past this
			// point it will not appear.
			return SheetDimensions{}, nil
		}
	}
}

// PrevalidateRowCaps checks every selected sheet against the per-sheet cap
// and the whole job against the total cap. Caps of zero are unbounded. All
// violations are reported in one DimensionError.
func (p *Package) PrevalidateRowCaps(cfg Config, perSheetCap, jobTotalCap int64) (map[string]int64, error) {
	dims, err := p.ReadDimensions(cfg)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(dims))
	var total int64
	var violations []DimensionViolation
	for name, d := range dims {
		rows := d.DataRows(cfg.headerRows())
		counts[name] = rows
		total += rows
		if perSheetCap > 0 && rows > perSheetCap {
			violations = append(violations, DimensionViolation{Sheet: name, Rows: rows, Cap: perSheetCap})
		}
	}
	if jobTotalCap > 0 && total > jobTotalCap {
		violations = append(violations, DimensionViolation{Sheet: "(all sheets)", Rows: total, Cap: jobTotalCap})
	}
	if len(violations) > 0 {
		return counts, &DimensionError{Violations: violations}
	}
	return counts, nil
}
