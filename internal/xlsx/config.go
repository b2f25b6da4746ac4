package xlsx

import (
	"context"
	"runtime"
	"time"
)

// Default tuning values. Each has a matching Config field; zero values fall
// back to these.
const (
	DefaultBatchSize         = 5000
	DefaultHeaderRows        = 1
	DefaultProgressInterval  = 10000
	DefaultMemoryThresholdMB = 500
	DefaultDispatchTimeout   = 10 * time.Minute
	DefaultDrainGrace        = 30 * time.Second
	DefaultForceStopWait     = 10 * time.Second
)

// Config controls a single read operation. The zero value is usable: it
// reads the first sheet sequentially with default batch sizing.
//
// Config is immutable once handed to Read; strategies never modify it.
type Config struct {
	// BatchSize is the number of records accumulated before the sink is
	// invoked. Default 5000.
	BatchSize int

	// HeaderRows is the number of leading rows consumed to build the
	// column map and then skipped. Default 1. Zero with a nonzero StartRow
	// switches to positional column mapping.
	HeaderRows int

	// StartRow skips this many physical rows before the header search
	// begins. Default 0.
	StartRow int

	// MaxRows, when nonzero, fails the read as soon as more data rows than
	// this would be emitted.
	MaxRows int64

	// SheetRowCap, when nonzero, caps the data rows of any single sheet.
	// Checked against declared dimensions before the first row is parsed.
	SheetRowCap int64

	// StrictValidation asks sinks to run row-level format checks during
	// ingest instead of deferring them all to later phases. The reader
	// itself ignores the flag; it travels with the config so sinks see it.
	StrictValidation bool

	// ReadAllSheets selects every sheet in workbook order. SheetNames
	// selects a subset by name. When both are empty, only the first sheet
	// is read.
	ReadAllSheets bool
	SheetNames    []string

	// Parallel dispatches completed batches to a worker pool instead of
	// invoking the sink inline. Reactive additionally bounds the number of
	// buffered batches, dropping the oldest on overflow.
	Parallel bool
	Reactive bool

	// DispatchTimeout bounds the post-parse wait for in-flight batches in
	// the parallel and reactive strategies. Default 10 minutes.
	DispatchTimeout time.Duration

	// EnableProgressTracking emits a progress log line every
	// ProgressInterval data rows.
	EnableProgressTracking bool
	ProgressInterval       int

	// EnableMemoryMonitoring starts a sampling goroutine for the duration
	// of the read. It only observes: it never throttles the parser.
	EnableMemoryMonitoring bool
	MemoryThresholdMB      int
}

func (c Config) batchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return DefaultBatchSize
}

func (c Config) headerRows() int {
	if c.HeaderRows < 0 {
		return 0
	}
	if c.HeaderRows == 0 && c.StartRow == 0 {
		return DefaultHeaderRows
	}
	return c.HeaderRows
}

func (c Config) progressInterval() int {
	if c.ProgressInterval > 0 {
		return c.ProgressInterval
	}
	return DefaultProgressInterval
}

func (c Config) dispatchTimeout() time.Duration {
	if c.DispatchTimeout > 0 {
		return c.DispatchTimeout
	}
	return DefaultDispatchTimeout
}

func (c Config) memoryThresholdMB() int {
	if c.MemoryThresholdMB > 0 {
		return c.MemoryThresholdMB
	}
	return DefaultMemoryThresholdMB
}

// wantsSheet reports whether the named sheet (at workbook position pos)
// is selected by this configuration.
func (c Config) wantsSheet(name string, pos int) bool {
	if c.ReadAllSheets {
		return true
	}
	if len(c.SheetNames) > 0 {
		for _, n := range c.SheetNames {
			if n == name {
				return true
			}
		}
		return false
	}
	return pos == 0
}

// maxConcurrentBatches sizes the worker pool for the reactive strategy:
// max(4, min(2*cores, 32)).
func maxConcurrentBatches() int {
	n := 2 * runtime.NumCPU()
	if n > 32 {
		n = 32
	}
	if n < 4 {
		n = 4
	}
	return n
}

// Batch is one unit of work handed to a sink. Records[i] corresponds to
// RowNums[i], the 1-based physical row in the source sheet.
//
// A batch is owned by exactly one sink invocation; the reader never reuses
// the backing slices after handing a batch off.
type Batch struct {
	Sheet   string
	Records []any
	RowNums []int
}

// Sink consumes batches of bound records. Implementations invoked by the
// parallel strategies must be safe for concurrent calls; each call receives
// an independently owned batch.
type Sink interface {
	ProcessBatch(ctx context.Context, batch Batch) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, batch Batch) error

// ProcessBatch implements Sink.
func (f SinkFunc) ProcessBatch(ctx context.Context, batch Batch) error {
	return f(ctx, batch)
}

// Result summarizes a completed read.
type Result struct {
	Processed int64
	Errors    int64
	Elapsed   time.Duration

	// RowsBySheet holds per-sheet data-row counts for multi-sheet reads.
	RowsBySheet map[string]int64
}
