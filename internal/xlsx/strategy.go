package xlsx

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Strategy is one way of driving the sheet reader. Strategies declare what
// configurations they support and a priority; selection is a linear pass
// picking the highest-priority supporting strategy.
type Strategy interface {
	Name() string
	Priority() int
	Supports(cfg Config) bool
	Execute(ctx context.Context, pkg *Package, cfg Config, desc *Descriptor, sink Sink) (Result, error)
}

var (
	strategyMu sync.RWMutex
	strategies []Strategy
)

// RegisterStrategy adds a strategy to the selection pool. Called from init
// funcs; safe for tests to add more.
func RegisterStrategy(s Strategy) {
	strategyMu.Lock()
	defer strategyMu.Unlock()
	strategies = append(strategies, s)
	sort.SliceStable(strategies, func(i, j int) bool {
		return strategies[i].Priority() > strategies[j].Priority()
	})
}

// selectStrategy returns the highest-priority strategy supporting cfg. The
// baseline single-sheet strategy supports everything, so selection always
// succeeds.
func selectStrategy(cfg Config) Strategy {
	strategyMu.RLock()
	defer strategyMu.RUnlock()
	for _, s := range strategies {
		if s.Supports(cfg) {
			return s
		}
	}
	return &singleSheetStrategy{}
}

// Read streams the selected sheets of pkg into sink as batches of records
// shaped like record (a struct or pointer to struct with xlsx tags).
//
// Fatal I/O and XML structure errors abort with an error; per-cell
// conversion failures are recorded on the row (see ParseErrorRecorder) and
// counted in Result.Errors.
func Read(ctx context.Context, pkg *Package, cfg Config, record any, sink Sink) (Result, error) {
	desc, err := DescriptorFor(record)
	if err != nil {
		return Result{}, err
	}

	if cfg.EnableMemoryMonitoring {
		monCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		startMemoryMonitor(monCtx, cfg.memoryThresholdMB())
	}

	strat := selectStrategy(cfg)
	slog.Debug("read strategy selected", "strategy", strat.Name())

	start := time.Now()
	res, err := strat.Execute(ctx, pkg, cfg, desc, sink)
	res.Elapsed = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("%s: %w", strat.Name(), err)
	}
	return res, nil
}
