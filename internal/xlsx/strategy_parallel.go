package xlsx

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

func init() {
	RegisterStrategy(&parallelStrategy{})
}

// parallelStrategy keeps the pull parser sequential but hands every
// completed batch to its own tracked goroutine. The producer never blocks
// on consumers; the runtime's work-stealing scheduler spreads batches
// across hardware threads.
//
// Every dispatched batch is owned by the errgroup, so the epilogue can wait
// for the full set with a deadline and propagate the first failure. An
// earlier fire-and-forget design allowed shutdown while batches were still
// running; the group makes that impossible.
type parallelStrategy struct{}

func (*parallelStrategy) Name() string  { return "parallel-dispatch" }
func (*parallelStrategy) Priority() int { return 10 }

func (*parallelStrategy) Supports(cfg Config) bool {
	return cfg.Parallel
}

func (*parallelStrategy) Execute(ctx context.Context, pkg *Package, cfg Config, desc *Descriptor, sink Sink) (Result, error) {
	var processed, errored atomic.Int64
	bySheet := make(map[string]int64)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	emit := func(b Batch) error {
		// A failed batch cancels gctx; stop producing but let the group
		// drain so staging state is not abandoned mid-batch.
		if err := gctx.Err(); err != nil {
			return err
		}
		g.Go(func() error {
			return sink.ProcessBatch(gctx, b)
		})
		return nil
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

	waitErr := waitWithDeadline(g, cancel, cfg.dispatchTimeout())

	res := collect(&processed, &errored, bySheet)
	if produceErr != nil {
		// The producer's failure wins unless it was only reacting to a
		// batch failure that cancelled the group.
		if waitErr != nil && produceErr == context.Canceled {
			return res, waitErr
		}
		return res, produceErr
	}
	return res, waitErr
}

// waitWithDeadline waits for all in-flight batches. On deadline it cancels
// the group (soft stop), grants a grace period for workers to notice, then
// a final forced wait before reporting the timeout.
func waitWithDeadline(g *errgroup.Group, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
	}

	slog.Warn("batch dispatch deadline reached, cancelling workers", "timeout", timeout)
	cancel()

	select {
	case <-done:
	case <-time.After(DefaultDrainGrace):
		slog.Warn("workers did not stop within grace period, forcing")
		select {
		case <-done:
		case <-time.After(DefaultForceStopWait):
		}
	}
	return fmt.Errorf("batch processing exceeded the %s dispatch timeout", timeout)
}
