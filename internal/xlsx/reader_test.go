package xlsx

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type caseRecord struct {
	UnitCode string `xlsx:"Mã đơn vị"`
	BoxCode  string `xlsx:"Mã thùng"`
	DocDate  string `xlsx:"Ngày chứng từ,date"`
	Quantity int    `xlsx:"Số lượng tập"`

	parseErrors []string
}

func (r *caseRecord) RecordParseError(column, msg string) {
	r.parseErrors = append(r.parseErrors, column+": "+msg)
}

// collectingSink gathers every batch; safe for concurrent use.
type collectingSink struct {
	mu      sync.Mutex
	batches []Batch
	records int
	fail    error // returned from the first ProcessBatch call when set
	failed  bool
}

func (s *collectingSink) ProcessBatch(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil && !s.failed {
		s.failed = true
		return s.fail
	}
	s.batches = append(s.batches, b)
	s.records += len(b.Records)
	return nil
}

var caseHeader = []string{"Mã đơn vị", "Mã thùng", "Ngày chứng từ", "Số lượng tập"}

func caseRows(n int) [][]string {
	rows := [][]string{caseHeader}
	for i := 0; i < n; i++ {
		rows = append(rows, []string{"DV001", "TH001", "2023-01-15", "3"})
	}
	return rows
}

func TestReadSingleSheet(t *testing.T) {
	pkg := testWorkbook{sheets: []testSheet{{name: "Data", rows: caseRows(25)}}}.open(t)

	sink := &collectingSink{}
	res, err := Read(context.Background(), pkg, Config{BatchSize: 10}, &caseRecord{}, sink)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if res.Processed != 25 {
		t.Errorf("Processed = %d, want 25", res.Processed)
	}
	if res.Errors != 0 {
		t.Errorf("Errors = %d, want 0", res.Errors)
	}
	if sink.records != 25 {
		t.Errorf("sink saw %d records, want 25", sink.records)
	}
	// 10 + 10 + 5
	if len(sink.batches) != 3 {
		t.Fatalf("sink saw %d batches, want 3", len(sink.batches))
	}
	if got := len(sink.batches[2].Records); got != 5 {
		t.Errorf("final partial batch has %d records, want 5", got)
	}

	first := sink.batches[0].Records[0].(*caseRecord)
	if first.UnitCode != "DV001" || first.Quantity != 3 {
		t.Errorf("unexpected first record: %+v", first)
	}
	if sink.batches[0].RowNums[0] != 2 {
		t.Errorf("first data row number = %d, want 2 (after header)", sink.batches[0].RowNums[0])
	}
}

func TestReadSharedStrings(t *testing.T) {
	pkg := testWorkbook{
		sheets:        []testSheet{{name: "Data", rows: caseRows(3)}},
		sharedStrings: true,
	}.open(t)

	sink := &collectingSink{}
	res, err := Read(context.Background(), pkg, Config{}, &caseRecord{}, sink)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Processed != 3 {
		t.Fatalf("Processed = %d, want 3", res.Processed)
	}
	rec := sink.batches[0].Records[0].(*caseRecord)
	if rec.UnitCode != "DV001" || rec.BoxCode != "TH001" {
		t.Errorf("shared strings not resolved: %+v", rec)
	}
}

func TestReadSkipsEmptyRows(t *testing.T) {
	rows := [][]string{
		caseHeader,
		{"DV001", "TH001", "2023-01-15", "3"},
		{"", "", "", ""},
		{"DV002", "TH002", "2023-01-16", "4"},
	}
	pkg := testWorkbook{sheets: []testSheet{{name: "Data", rows: rows}}}.open(t)

	sink := &collectingSink{}
	res, err := Read(context.Background(), pkg, Config{}, &caseRecord{}, sink)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Processed != 2 {
		t.Errorf("Processed = %d, want 2 (empty row skipped)", res.Processed)
	}
	if got := sink.batches[0].RowNums; got[0] != 2 || got[1] != 4 {
		t.Errorf("row numbers = %v, want [2 4]", got)
	}
}

func TestReadRecordsParseErrors(t *testing.T) {
	rows := [][]string{
		caseHeader,
		{"DV001", "TH001", "2023-01-15", "ba"}, // quantity not numeric
		{"DV002", "TH002", "2023-01-16", "4"},
	}
	pkg := testWorkbook{sheets: []testSheet{{name: "Data", rows: rows}}}.open(t)

	sink := &collectingSink{}
	res, err := Read(context.Background(), pkg, Config{}, &caseRecord{}, sink)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	// The bad row is still emitted with its error attached.
	if res.Processed != 2 {
		t.Errorf("Processed = %d, want 2", res.Processed)
	}
	if res.Errors != 1 {
		t.Errorf("Errors = %d, want 1", res.Errors)
	}
	bad := sink.batches[0].Records[0].(*caseRecord)
	if len(bad.parseErrors) != 1 || !strings.Contains(bad.parseErrors[0], "Số lượng tập") {
		t.Errorf("parse errors = %v, want one naming the quantity column", bad.parseErrors)
	}
}

func TestReadNormalizesIdentifierAndDateCells(t *testing.T) {
	rows := [][]string{
		caseHeader,
		{"1.234567E+11", "123456789.0", "01/15/23", "3"},
	}
	pkg := testWorkbook{sheets: []testSheet{{name: "Data", rows: rows}}}.open(t)

	sink := &collectingSink{}
	if _, err := Read(context.Background(), pkg, Config{}, &caseRecord{}, sink); err != nil {
		t.Fatalf("Read: %v", err)
	}
	rec := sink.batches[0].Records[0].(*caseRecord)
	if rec.UnitCode != "123456700000" {
		t.Errorf("UnitCode = %q, want scientific notation expanded", rec.UnitCode)
	}
	if rec.BoxCode != "123456789" {
		t.Errorf("BoxCode = %q, want trailing .0 dropped", rec.BoxCode)
	}
	if rec.DocDate != "01/15/2023" {
		t.Errorf("DocDate = %q, want short year expanded", rec.DocDate)
	}
}

func TestReadMaxRowsFailsFast(t *testing.T) {
	pkg := testWorkbook{sheets: []testSheet{{name: "Data", rows: caseRows(10)}}}.open(t)

	sink := &collectingSink{}
	_, err := Read(context.Background(), pkg, Config{MaxRows: 5, BatchSize: 100}, &caseRecord{}, sink)

	var limitErr *RowLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("err = %v, want RowLimitError", err)
	}
	if limitErr.Limit != 5 {
		t.Errorf("Limit = %d, want 5", limitErr.Limit)
	}
	// The abort happened before the batch flushed.
	if sink.records != 0 {
		t.Errorf("sink saw %d records, want 0", sink.records)
	}
}

func TestReadMultiSheet(t *testing.T) {
	pkg := testWorkbook{sheets: []testSheet{
		{name: "Q1", rows: caseRows(4)},
		{name: "Q2", rows: caseRows(6)},
		{name: "Ignore", rows: caseRows(9)},
	}}.open(t)

	sink := &collectingSink{}
	res, err := Read(context.Background(), pkg, Config{SheetNames: []string{"Q1", "Q2"}}, &caseRecord{}, sink)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Processed != 10 {
		t.Errorf("Processed = %d, want 10", res.Processed)
	}
	if res.RowsBySheet["Q1"] != 4 || res.RowsBySheet["Q2"] != 6 {
		t.Errorf("RowsBySheet = %v, want Q1:4 Q2:6", res.RowsBySheet)
	}
	if _, ok := res.RowsBySheet["Ignore"]; ok {
		t.Error("unselected sheet was read")
	}
}

func TestReadPositionalMapping(t *testing.T) {
	// A nonzero start row with no header row binds columns by field order.
	rows := [][]string{
		{"tiêu đề", "", "", ""},
		{"DV001", "TH001", "2023-01-15", "3"},
	}
	pkg := testWorkbook{sheets: []testSheet{{name: "Data", rows: rows}}}.open(t)

	sink := &collectingSink{}
	res, err := Read(context.Background(), pkg, Config{StartRow: 1}, &caseRecord{}, sink)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("Processed = %d, want 1", res.Processed)
	}
	rec := sink.batches[0].Records[0].(*caseRecord)
	if rec.UnitCode != "DV001" || rec.Quantity != 3 {
		t.Errorf("positional binding failed: %+v", rec)
	}
}
