package xlsx

import (
	"context"
	"sync/atomic"
)

func init() {
	RegisterStrategy(&singleSheetStrategy{})
	RegisterStrategy(&multiSheetStrategy{})
}

// runSequential drives the selected sheets in workbook order with a
// synchronous emitter. It is the body of both sequential strategies.
func runSequential(ctx context.Context, pkg *Package, cfg Config, desc *Descriptor, sink Sink) (Result, error) {
	var processed, errored atomic.Int64
	bySheet := make(map[string]int64)

	emit := func(b Batch) error {
		return sink.ProcessBatch(ctx, b)
	}

	for pos, sheet := range pkg.Sheets() {
		if !cfg.wantsSheet(sheet.Name, pos) {
			continue
		}
		rows, err := readSheet(ctx, pkg, sheet, cfg, desc, &processed, &errored, emit)
		bySheet[sheet.Name] = rows
		if err != nil {
			return collect(&processed, &errored, bySheet), err
		}
	}
	return collect(&processed, &errored, bySheet), nil
}

func collect(processed, errored *atomic.Int64, bySheet map[string]int64) Result {
	return Result{
		Processed:   processed.Load(),
		Errors:      errored.Load(),
		RowsBySheet: bySheet,
	}
}

// singleSheetStrategy is the always-applicable baseline: stream the first
// sheet sequentially.
type singleSheetStrategy struct{}

func (*singleSheetStrategy) Name() string         { return "single-sheet-streaming" }
func (*singleSheetStrategy) Priority() int        { return 0 }
func (*singleSheetStrategy) Supports(Config) bool { return true }

func (*singleSheetStrategy) Execute(ctx context.Context, pkg *Package, cfg Config, desc *Descriptor, sink Sink) (Result, error) {
	return runSequential(ctx, pkg, cfg, desc, sink)
}

// multiSheetStrategy streams all sheets (or a named subset) sequentially.
// Sheets are iterated in workbook order; each sheet's own parse is
// sequential by nature of the pull parser.
type multiSheetStrategy struct{}

func (*multiSheetStrategy) Name() string  { return "multi-sheet-streaming" }
func (*multiSheetStrategy) Priority() int { return 5 }

func (*multiSheetStrategy) Supports(cfg Config) bool {
	return cfg.ReadAllSheets || len(cfg.SheetNames) > 0
}

func (*multiSheetStrategy) Execute(ctx context.Context, pkg *Package, cfg Config, desc *Descriptor, sink Sink) (Result, error) {
	return runSequential(ctx, pkg, cfg, desc, sink)
}
