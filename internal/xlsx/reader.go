package xlsx

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
)

// ParseErrorRecorder is implemented by record types that want per-cell
// conversion failures attached to the row instead of dropping it. Rows are
// always emitted; downstream validation decides their fate.
type ParseErrorRecorder interface {
	RecordParseError(column, msg string)
}

// sheetReader pull-parses one worksheet part and emits bound records in
// batches. It is strictly sequential; concurrency lives in the strategies.
type sheetReader struct {
	pkg   *Package
	sheet SheetInfo
	cfg   Config
	desc  *Descriptor
	emit  func(Batch) error

	// processed and errored are shared across sheets within one read.
	processed *atomic.Int64
	errored   *atomic.Int64

	colMap     map[int]*fieldBinding
	positional bool

	records []any
	rowNums []int
}

// run parses the sheet to completion, flushing a final partial batch.
// Returns the number of data rows emitted from this sheet.
func (r *sheetReader) run(ctx context.Context) (int64, error) {
	rc, err := r.pkg.openPart(r.sheet.Part)
	if err != nil {
		return 0, fmt.Errorf("open sheet %q: %w", r.sheet.Name, err)
	}
	defer rc.Close()

	r.positional = r.cfg.headerRows() == 0
	headerLeft := r.cfg.headerRows()
	skipLeft := r.cfg.StartRow
	interval := r.cfg.progressInterval()

	var sheetRows int64
	dec := xml.NewDecoder(rc)
	for {
		if err := ctx.Err(); err != nil {
			return sheetRows, err
		}

		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sheetRows, fmt.Errorf("parse sheet %q: %w", r.sheet.Name, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "row" {
			continue
		}

		rowNum, cells, err := r.parseRow(dec, se)
		if err != nil {
			return sheetRows, fmt.Errorf("sheet %q row: %w", r.sheet.Name, err)
		}

		if skipLeft > 0 {
			skipLeft--
			continue
		}
		if headerLeft > 0 {
			headerLeft--
			if r.colMap == nil {
				r.buildColumnMap(cells)
			}
			continue
		}
		if len(cells) == 0 {
			continue // completely empty rows are skipped
		}

		if r.cfg.MaxRows > 0 && r.processed.Load()+1 > r.cfg.MaxRows {
			return sheetRows, &RowLimitError{Sheet: r.sheet.Name, Limit: r.cfg.MaxRows}
		}

		r.bindRow(rowNum, cells)
		sheetRows++
		n := r.processed.Add(1)

		if r.cfg.EnableProgressTracking && n%int64(interval) == 0 {
			slog.Info("read progress", "sheet", r.sheet.Name, "rows", n)
		}

		if len(r.records) >= r.cfg.batchSize() {
			if err := r.flush(); err != nil {
				return sheetRows, err
			}
		}
	}

	if err := r.flush(); err != nil {
		return sheetRows, err
	}
	return sheetRows, nil
}

// buildColumnMap maps column indexes to field bindings using the first
// header row's cell text.
func (r *sheetReader) buildColumnMap(cells map[int]string) {
	r.colMap = make(map[int]*fieldBinding, len(cells))
	for col, text := range cells {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if fb, ok := r.desc.Lookup(text); ok {
			r.colMap[col] = fb
		}
	}
}

// bindRow constructs one record from a row's cells and appends it to the
// pending batch. Conversion failures are recorded on the row and counted,
// but the row is still emitted.
func (r *sheetReader) bindRow(rowNum int, cells map[int]string) {
	rec := r.desc.New()
	rowErrored := false

	for col, raw := range cells {
		var fb *fieldBinding
		var ok bool
		if r.positional {
			fb, ok = r.desc.fieldByPosition(col)
		} else {
			fb, ok = r.colMap[col]
		}
		if !ok {
			continue
		}

		normalized := NormalizeCell(strings.TrimSpace(raw), fb.IsIdentifier, fb.IsDate)
		if err := r.desc.Set(rec, fb, normalized); err != nil {
			rowErrored = true
			if per, ok := rec.(ParseErrorRecorder); ok {
				per.RecordParseError(fb.Column, err.Error())
			} else {
				slog.Warn("cell conversion failed",
					"sheet", r.sheet.Name,
					"row", rowNum,
					"error", err,
				)
			}
		}
	}

	if rowErrored {
		r.errored.Add(1)
	}
	r.records = append(r.records, rec)
	r.rowNums = append(r.rowNums, rowNum)
}

// flush hands the pending batch to the emitter. The batch's backing slices
// are surrendered; the reader starts fresh ones.
func (r *sheetReader) flush() error {
	if len(r.records) == 0 {
		return nil
	}
	batch := Batch{
		Sheet:   r.sheet.Name,
		Records: r.records,
		RowNums: r.rowNums,
	}
	r.records = nil
	r.rowNums = nil
	return r.emit(batch)
}

// parseRow consumes one <row> element, resolving every cell to its
// formatted text. A repeated cell reference keeps the last value seen.
func (r *sheetReader) parseRow(dec *xml.Decoder, row xml.StartElement) (int, map[int]string, error) {
	rowNum := 0
	for _, attr := range row.Attr {
		if attr.Name.Local == "r" {
			rowNum, _ = strconv.Atoi(attr.Value)
		}
	}

	cells := make(map[int]string)
	nextCol := 0

	for {
		tok, err := dec.Token()
		if err != nil {
			return rowNum, nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "c" {
				continue
			}
			col, text, err := r.parseCell(dec, t, nextCol)
			if err != nil {
				return rowNum, nil, err
			}
			nextCol = col + 1
			if strings.TrimSpace(text) != "" {
				cells[col] = text
			}
		case xml.EndElement:
			if t.Name.Local == "row" {
				return rowNum, cells, nil
			}
		}
	}
}

// parseCell consumes one <c> element and returns the column index and the
// cell's text. Shared strings, inline strings, cached formula results, and
// booleans all resolve here. Numbers pass through as their lexical form
// unless the cell carries a date number format, in which case the serial
// resolves to canonical YYYY-MM-DD text.
func (r *sheetReader) parseCell(dec *xml.Decoder, c xml.StartElement, defaultCol int) (int, string, error) {
	col := defaultCol
	cellType := ""
	styleIdx := -1
	for _, attr := range c.Attr {
		switch attr.Name.Local {
		case "r":
			if cc, _, err := parseCellRef(attr.Value); err == nil {
				col = cc
			}
		case "t":
			cellType = attr.Value
		case "s":
			if idx, err := strconv.Atoi(attr.Value); err == nil {
				styleIdx = idx
			}
		}
	}

	var value, inline string
	depth := 1
	inV, inT := false, false
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return col, "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "v":
				inV = true
			case "t":
				inT = true
			}
		case xml.CharData:
			if inV {
				value += string(t)
			}
			if inT {
				inline += string(t)
			}
		case xml.EndElement:
			depth--
			switch t.Name.Local {
			case "v":
				inV = false
			case "t":
				inT = false
			}
		}
	}

	switch cellType {
	case "s":
		idx, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return col, "", fmt.Errorf("bad shared string index %q", value)
		}
		return col, r.pkg.shared.lookup(idx), nil
	case "inlineStr":
		return col, inline, nil
	case "b":
		if strings.TrimSpace(value) == "1" {
			return col, "true", nil
		}
		return col, "false", nil
	case "str":
		// cached formula result
		return col, value, nil
	default:
		if r.pkg.styles.isDateStyle(styleIdx) {
			if iso, ok := serialDateToISO(value); ok {
				return col, iso, nil
			}
		}
		return col, value, nil
	}
}

// readSheet is the shared driver used by every strategy: it builds a
// sheetReader for one sheet and runs it with the given batch emitter.
func readSheet(ctx context.Context, pkg *Package, sheet SheetInfo, cfg Config, desc *Descriptor, processed, errored *atomic.Int64, emit func(Batch) error) (int64, error) {
	sr := &sheetReader{
		pkg:       pkg,
		sheet:     sheet,
		cfg:       cfg,
		desc:      desc,
		emit:      emit,
		processed: processed,
		errored:   errored,
	}
	return sr.run(ctx)
}
