// Package dispatcher fans frontier items out to a pool of worker goroutines
// whose effective size is adjusted by an autoscaler.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
	"github.com/JakeFAU/adlibrary-crawler/internal/frontier"
	"github.com/JakeFAU/adlibrary-crawler/internal/governor"
	"github.com/JakeFAU/adlibrary-crawler/internal/metrics"
)

// Processor handles one item and settles it with the frontier.
type Processor interface {
	Process(ctx context.Context, item crawler.WorkItem) error
}

// Source hands out work items.
type Source interface {
	Next(ctx context.Context) (crawler.WorkItem, error)
	Stats() frontier.Stats
}

// ModeReader exposes the governor mode to the autoscaler.
type ModeReader interface {
	Snapshot() governor.State
}

// Config sizes the pool.
type Config struct {
	// Local runs a single worker and disables scaling.
	Local          bool
	MinConcurrency int
	MaxConcurrency int
	ScaleInterval  time.Duration
	Scaling        ScaleConfig
}

// Dispatcher runs the worker pool until the source drains.
type Dispatcher struct {
	cfg    Config
	source Source
	proc   Processor
	mode   ModeReader
	scaler *Autoscaler
	heap   func() uint64
	logger *zap.Logger

	sem    *semaphore.Weighted
	mu     sync.Mutex
	limit  int
	parked int
}

// New creates a Dispatcher. mode may be nil.
func New(cfg Config, source Source, proc Processor, mode ModeReader, logger *zap.Logger) *Dispatcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.Local {
		cfg.MinConcurrency, cfg.MaxConcurrency = 1, 1
	}
	if cfg.MinConcurrency <= 0 || cfg.MinConcurrency > cfg.MaxConcurrency {
		cfg.MinConcurrency = cfg.MaxConcurrency
	}
	if cfg.ScaleInterval <= 0 {
		cfg.ScaleInterval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:    cfg,
		source: source,
		proc:   proc,
		mode:   mode,
		scaler: NewAutoscaler(cfg.MinConcurrency, cfg.MaxConcurrency, cfg.Scaling),
		heap:   heapInuse,
		logger: logger.Named("dispatcher"),
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
	}
}

// Limit returns the current effective concurrency.
func (d *Dispatcher) Limit() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.limit
}

// Run starts MaxConcurrency goroutines and blocks until the source is drained,
// ctx ends, or a worker fails. Admission is capped at the scaled limit.
func (d *Dispatcher) Run(ctx context.Context) error {
	scaleCtx, stopScaling := context.WithCancel(ctx)
	defer stopScaling()

	d.mu.Lock()
	d.limit = d.cfg.MaxConcurrency
	d.mu.Unlock()
	if err := d.resize(scaleCtx, d.scaler.Initial()); err != nil {
		return err
	}

	var scaling sync.WaitGroup
	if d.cfg.MinConcurrency < d.cfg.MaxConcurrency {
		scaling.Add(1)
		go func() {
			defer scaling.Done()
			d.scaleLoop(scaleCtx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.MaxConcurrency; i++ {
		g.Go(func() error {
			return d.work(gctx)
		})
	}
	err := g.Wait()
	stopScaling()
	scaling.Wait()
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("dispatcher: %w", ctx.Err())
	}
	return nil
}

func (d *Dispatcher) work(ctx context.Context) error {
	for {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		item, err := d.source.Next(ctx)
		if err != nil {
			d.sem.Release(1)
			if errors.Is(err, frontier.ErrDrained) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("next item: %w", err)
		}
		metrics.IncActiveWorkers()
		err = d.proc.Process(ctx, item)
		metrics.DecActiveWorkers()
		d.sem.Release(1)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("process %s: %w", item.URL, err)
		}
	}
}

func (d *Dispatcher) scaleLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.ScaleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		stats := d.source.Stats()
		metrics.ObserveFrontier(stats.Pending, stats.InFlight, stats.AvgWait)
		signals := Signals{
			HeapInuse: d.heap(),
			QueueWait: stats.AvgWait,
			Pending:   stats.Pending,
		}
		if d.mode != nil {
			signals.Backoff = d.mode.Snapshot().Mode == governor.ModeBackoff
		}
		current := d.Limit()
		next := d.scaler.Decide(current, signals)
		if next == current {
			continue
		}
		d.logger.Info("concurrency scaled",
			zap.Int("from", current),
			zap.Int("to", next),
			zap.Uint64("heap_inuse", signals.HeapInuse),
			zap.Duration("queue_wait", signals.QueueWait),
			zap.Bool("backoff", signals.Backoff),
		)
		if err := d.resize(ctx, next); err != nil {
			return
		}
	}
}

// resize parks or unparks semaphore weight so that at most target workers are
// admitted. Parking blocks until enough running items finish. Only one
// goroutine resizes at a time.
func (d *Dispatcher) resize(ctx context.Context, target int) error {
	d.mu.Lock()
	parked := d.parked
	d.mu.Unlock()

	wantParked := d.cfg.MaxConcurrency - target
	switch {
	case wantParked > parked:
		if err := d.sem.Acquire(ctx, int64(wantParked-parked)); err != nil {
			return fmt.Errorf("park workers: %w", err)
		}
	case wantParked < parked:
		d.sem.Release(int64(parked - wantParked))
	}

	d.mu.Lock()
	d.parked = wantParked
	d.limit = target
	d.mu.Unlock()
	metrics.SetConcurrencyLimit(target)
	return nil
}

// heapInuse reads the live heap size from the runtime.
func heapInuse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}
