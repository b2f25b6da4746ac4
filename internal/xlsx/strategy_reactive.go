package xlsx

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

func init() {
	RegisterStrategy(&reactiveStrategy{})
}

// reactiveStrategy is parallel dispatch with backpressure: batches flow
// through a bounded buffer drained by a fixed pool of workers. When the
// buffer is full the oldest buffered batch is dropped with a warning,
// bounding memory instead of stalling the parser. A per-run timeout turns
// a hang into a failure.
type reactiveStrategy struct{}

func (*reactiveStrategy) Name() string  { return "reactive-backpressured" }
func (*reactiveStrategy) Priority() int { return 15 }

func (*reactiveStrategy) Supports(cfg Config) bool {
	return cfg.Parallel && cfg.Reactive
}

func (*reactiveStrategy) Execute(ctx context.Context, pkg *Package, cfg Config, desc *Descriptor, sink Sink) (Result, error) {
	var processed, errored atomic.Int64
	bySheet := make(map[string]int64)

	runCtx, cancel := context.WithTimeout(ctx, cfg.dispatchTimeout())
	defer cancel()

	maxConcurrent := maxConcurrentBatches()
	buffer := make(chan Batch, 2*maxConcurrent)

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < maxConcurrent; i++ {
		g.Go(func() error {
			for batch := range buffer {
				if err := gctx.Err(); err != nil {
					// Keep draining so the producer's sends never wedge,
					// but stop doing work.
					continue
				}
				if err := sink.ProcessBatch(gctx, batch); err != nil {
					return err
				}
			}
			return nil
		})
	}

	emit := func(b Batch) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		for {
			select {
			case buffer <- b:
				return nil
			default:
			}
			// Buffer full: shed the oldest buffered batch.
			select {
			case dropped := <-buffer:
				slog.Warn("backpressure overflow, dropping oldest batch",
					"sheet", dropped.Sheet,
					"records", len(dropped.Records),
				)
				processed.Add(int64(-len(dropped.Records)))
			default:
			}
		}
	}

	var produceErr error
	for pos, sheet := range pkg.Sheets() {
		if !cfg.wantsSheet(sheet.Name, pos) {
			continue
		}
		rows, err := readSheet(gctx, pkg, sheet, cfg, desc, &processed, &errored, emit)
		bySheet[sheet.Name] = rows
		if err != nil {
			produceErr = err
			break
		}
	}
	close(buffer)

	waitErr := g.Wait()
	if waitErr == nil && runCtx.Err() == context.DeadlineExceeded {
		waitErr = fmt.Errorf("reactive run exceeded the %s timeout", cfg.dispatchTimeout())
	}

	res := collect(&processed, &errored, bySheet)
	if produceErr != nil && produceErr != context.Canceled {
		return res, produceErr
	}
	return res, waitErr
}
