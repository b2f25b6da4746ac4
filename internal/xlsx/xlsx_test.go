package xlsx

// xlsx_test.go holds the shared workbook fixture builder. Test workbooks
// are assembled in memory with archive/zip so no testdata files are needed.

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"testing"
)

type testSheet struct {
	name string
	// rows are written in order; row numbers are 1-based and sequential.
	// Empty strings produce omitted cells.
	rows [][]string
	// dimension overrides the computed dimension ref when non-empty.
	dimension string
}

type testWorkbook struct {
	sheets []testSheet
	// sharedStrings switches string cells from inline to shared-table
	// encoding.
	sharedStrings bool
	// styles, when non-empty, is written verbatim as xl/styles.xml.
	styles string
	// numericStyle stamps every numeric cell with this style index.
	// Zero leaves numeric cells unstyled.
	numericStyle int
}

// build assembles a minimal .xlsx package.
func (wb testWorkbook) build(t *testing.T) []byte {
	t.Helper()

	var shared []string
	sharedIdx := make(map[string]int)
	intern := func(s string) int {
		if i, ok := sharedIdx[s]; ok {
			return i
		}
		sharedIdx[s] = len(shared)
		shared = append(shared, s)
		return len(shared) - 1
	}

	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)

	write := func(name, content string) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	var wbSheets, rels strings.Builder
	for i, sheet := range wb.sheets {
		fmt.Fprintf(&wbSheets, `<sheet name="%s" sheetId="%d" r:id="rId%d"/>`, xmlEscape(sheet.name), i+1, i+1)
		fmt.Fprintf(&rels, `<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet%d.xml"/>`, i+1, i+1)
	}

	write("xl/workbook.xml", fmt.Sprintf(
		`<?xml version="1.0"?><workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"><sheets>%s</sheets></workbook>`,
		wbSheets.String()))
	write("xl/_rels/workbook.xml.rels", fmt.Sprintf(
		`<?xml version="1.0"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">%s</Relationships>`,
		rels.String()))

	for i, sheet := range wb.sheets {
		var body strings.Builder
		maxCols := 0
		for _, row := range sheet.rows {
			if len(row) > maxCols {
				maxCols = len(row)
			}
		}

		dim := sheet.dimension
		if dim == "" && len(sheet.rows) > 0 {
			dim = fmt.Sprintf("A1:%s%d", columnName(maxCols-1), len(sheet.rows))
		}
		body.WriteString(`<?xml version="1.0"?><worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">`)
		if dim != "" {
			fmt.Fprintf(&body, `<dimension ref="%s"/>`, dim)
		}
		body.WriteString("<sheetData>")
		for r, row := range sheet.rows {
			fmt.Fprintf(&body, `<row r="%d">`, r+1)
			for c, val := range row {
				if val == "" {
					continue
				}
				ref := fmt.Sprintf("%s%d", columnName(c), r+1)
				if isNumericCell(val) {
					if wb.numericStyle > 0 {
						fmt.Fprintf(&body, `<c r="%s" s="%d"><v>%s</v></c>`, ref, wb.numericStyle, val)
					} else {
						fmt.Fprintf(&body, `<c r="%s"><v>%s</v></c>`, ref, val)
					}
				} else if wb.sharedStrings {
					fmt.Fprintf(&body, `<c r="%s" t="s"><v>%d</v></c>`, ref, intern(val))
				} else {
					fmt.Fprintf(&body, `<c r="%s" t="inlineStr"><is><t>%s</t></is></c>`, ref, xmlEscape(val))
				}
			}
			body.WriteString("</row>")
		}
		body.WriteString("</sheetData></worksheet>")
		write(fmt.Sprintf("xl/worksheets/sheet%d.xml", i+1), body.String())
	}

	if wb.styles != "" {
		write("xl/styles.xml", wb.styles)
	}

	if wb.sharedStrings {
		var sst strings.Builder
		sst.WriteString(`<?xml version="1.0"?><sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">`)
		for _, s := range shared {
			fmt.Fprintf(&sst, "<si><t>%s</t></si>", xmlEscape(s))
		}
		sst.WriteString("</sst>")
		write("xl/sharedStrings.xml", sst.String())
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// open builds the workbook and opens it as a Package.
func (wb testWorkbook) open(t *testing.T) *Package {
	t.Helper()
	data := wb.build(t)
	pkg, err := OpenPackage(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open test workbook: %v", err)
	}
	t.Cleanup(func() { pkg.Close() })
	return pkg
}

func columnName(idx int) string {
	name := ""
	for idx >= 0 {
		name = string(rune('A'+idx%26)) + name
		idx = idx/26 - 1
	}
	return name
}

func isNumericCell(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != '-' {
			return false
		}
	}
	return true
}

func xmlEscape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
