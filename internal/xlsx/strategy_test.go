package xlsx

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"default is single sheet", Config{}, "single-sheet-streaming"},
		{"all sheets selects multi", Config{ReadAllSheets: true}, "multi-sheet-streaming"},
		{"named sheets select multi", Config{SheetNames: []string{"Q1"}}, "multi-sheet-streaming"},
		{"parallel beats multi", Config{ReadAllSheets: true, Parallel: true}, "parallel-dispatch"},
		{"reactive beats parallel", Config{Parallel: true, Reactive: true}, "reactive-backpressured"},
		{"reactive without parallel is ignored", Config{Reactive: true}, "single-sheet-streaming"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectStrategy(tt.cfg).Name(); got != tt.want {
				t.Errorf("selectStrategy = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParallelDispatchCompletesEveryBatch(t *testing.T) {
	const rows = 2000
	pkg := testWorkbook{sheets: []testSheet{{name: "Data", rows: caseRows(rows)}}}.open(t)

	var calls, records atomic.Int64
	sink := SinkFunc(func(_ context.Context, b Batch) error {
		calls.Add(1)
		records.Add(int64(len(b.Records)))
		return nil
	})

	res, err := Read(context.Background(), pkg, Config{Parallel: true, BatchSize: 100}, &caseRecord{}, sink)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	// Every submitted batch completed before Read returned, and the sink
	// saw exactly what the reader reports as processed.
	if records.Load() != rows {
		t.Errorf("sink saw %d records, want %d", records.Load(), rows)
	}
	if res.Processed != rows {
		t.Errorf("Processed = %d, want %d", res.Processed, rows)
	}
	if calls.Load() != rows/100 {
		t.Errorf("sink calls = %d, want %d", calls.Load(), rows/100)
	}
}

func TestParallelDispatchPropagatesFirstError(t *testing.T) {
	pkg := testWorkbook{sheets: []testSheet{{name: "Data", rows: caseRows(500)}}}.open(t)

	boom := errors.New("batch processor exploded")
	var failed atomic.Bool

	sink := SinkFunc(func(_ context.Context, b Batch) error {
		if failed.CompareAndSwap(false, true) {
			return boom
		}
		return nil
	})

	_, err := Read(context.Background(), pkg, Config{Parallel: true, BatchSize: 50}, &caseRecord{}, sink)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the batch error", err)
	}
}

func TestReactiveDispatchProcessesAllWithinBuffer(t *testing.T) {
	const rows = 1200
	pkg := testWorkbook{sheets: []testSheet{{name: "Data", rows: caseRows(rows)}}}.open(t)

	var records atomic.Int64
	sink := SinkFunc(func(_ context.Context, b Batch) error {
		records.Add(int64(len(b.Records)))
		return nil
	})

	res, err := Read(context.Background(), pkg, Config{Parallel: true, Reactive: true, BatchSize: 200}, &caseRecord{}, sink)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	// With workers keeping up, nothing is shed.
	if records.Load() != rows {
		t.Errorf("sink saw %d records, want %d", records.Load(), rows)
	}
	if res.Processed != rows {
		t.Errorf("Processed = %d, want %d", res.Processed, rows)
	}
}

func TestSequentialBatchesArriveInFileOrder(t *testing.T) {
	pkg := testWorkbook{sheets: []testSheet{{name: "Data", rows: caseRows(30)}}}.open(t)

	var order []int
	sink := SinkFunc(func(_ context.Context, b Batch) error {
		order = append(order, b.RowNums[0])
		return nil
	})

	if _, err := Read(context.Background(), pkg, Config{BatchSize: 10}, &caseRecord{}, sink); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := 1; i < len(order); i++ {
		if order[i] <= order[i-1] {
			t.Fatalf("batches out of file order: %v", order)
		}
	}
}
