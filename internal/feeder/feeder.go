// Package feeder drives discovery and fetching across all collectors and
// streams the resulting records to a single consumer.
package feeder

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/sshfeeder/internal/fetcher"
	"github.com/telhawk-systems/sshfeeder/internal/logging"
	"github.com/telhawk-systems/sshfeeder/internal/metrics"
	"github.com/telhawk-systems/sshfeeder/internal/models"
	"github.com/telhawk-systems/sshfeeder/internal/source"
)

// DefaultThrottle is the pause after a cycle that produced no records.
const DefaultThrottle = time.Second

// Config controls the poll loop.
type Config struct {
	// Throttle is the pause after a cycle that produced no records.
	Throttle time.Duration

	// Parallel polls each source from its own goroutine instead of in turn.
	Parallel bool

	// IsolateSources logs a source whose scan fails and moves on to the
	// next one. By default the failure ends the cycle.
	IsolateSources bool
}

// Discoverer lists new files on a source.
type Discoverer interface {
	Scan(ctx context.Context, src *source.Source) ([]string, error)
}

// Retriever turns a remote file into records.
type Retriever interface {
	Fetch(ctx context.Context, src *source.Source, name string, emit models.EmitFunc) (fetcher.Result, error)
}

// Feeder polls sources forever.
type Feeder struct {
	cfg       Config
	sources   []*source.Source
	connector *source.Connector
	scanner   Discoverer
	fetcher   Retriever
	metrics   *metrics.Metrics
	logger    *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	ready atomic.Bool
}

// New creates a Feeder over sources, polled in the given order.
func New(cfg Config, sources []*source.Source, connector *source.Connector, scanner Discoverer, fetcher Retriever, m *metrics.Metrics, logger *slog.Logger) *Feeder {
	if cfg.Throttle < 0 {
		cfg.Throttle = 0
	}
	return &Feeder{
		cfg:       cfg,
		sources:   sources,
		connector: connector,
		scanner:   scanner,
		fetcher:   fetcher,
		metrics:   m,
		logger:    logging.OrDefault(logger),
		sleep:     sleepContext,
	}
}

// Sources returns the polled sources.
func (f *Feeder) Sources() []*source.Source {
	return f.sources
}

// Ready reports whether at least one cycle has completed.
func (f *Feeder) Ready() bool {
	return f.ready.Load()
}

// ConnectAll opens a session to every source. Failures are logged; the
// scanner reconnects on the source's next turn.
func (f *Feeder) ConnectAll(ctx context.Context) {
	for _, src := range f.sources {
		if ctx.Err() != nil {
			return
		}
		f.connector.TryConnect(ctx, src)
	}
}

// Close releases all sessions.
func (f *Feeder) Close() error {
	var errs []error
	for _, src := range f.sources {
		errs = append(errs, src.Close())
	}
	return errors.Join(errs...)
}

// Run polls until ctx is done, passing every record to emit as soon as it is
// read. Errors from a cycle are logged and followed by the throttle pause; Run
// only returns ctx.Err(), or nil when emit returns models.ErrStop.
func (f *Feeder) Run(ctx context.Context, emit models.EmitFunc) error {
	if f.cfg.Parallel && len(f.sources) > 1 {
		return f.runParallel(ctx, emit)
	}
	return f.loop(ctx, f.sources, emit)
}

// Records returns the feed as a lazy sequence. Breaking out of the range
// stops polling.
func (f *Feeder) Records(ctx context.Context) iter.Seq[models.Record] {
	return func(yield func(models.Record) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		_ = f.Run(ctx, func(rec models.Record) error {
			if !yield(rec) {
				return models.ErrStop
			}
			return nil
		})
	}
}

// RunCycle polls each source once and returns the number of records emitted.
func (f *Feeder) RunCycle(ctx context.Context, emit models.EmitFunc) (int, error) {
	return f.cycle(ctx, f.sources, emit)
}

func (f *Feeder) loop(ctx context.Context, sources []*source.Source, emit models.EmitFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := f.cycle(ctx, sources, emit)
		switch {
		case errors.Is(err, models.ErrStop):
			return nil
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			f.metrics.IncCycle("error")
			f.logger.Error("poll cycle failed", logging.Error(err))
		case n > 0:
			f.metrics.IncCycle("records")
			f.ready.Store(true)
			// More may be waiting: poll again straight away.
			continue
		default:
			f.metrics.IncCycle("idle")
			f.ready.Store(true)
		}

		if err := f.sleep(ctx, f.cfg.Throttle); err != nil {
			return err
		}
	}
}

func (f *Feeder) cycle(ctx context.Context, sources []*source.Source, emit models.EmitFunc) (int, error) {
	total := 0
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := f.poll(ctx, src, emit)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (f *Feeder) poll(ctx context.Context, src *source.Source, emit models.EmitFunc) (int, error) {
	f.logger.Debug("checking source", logging.Host(src.Host))

	names, err := f.scanner.Scan(ctx, src)
	if err != nil {
		if f.cfg.IsolateSources && ctx.Err() == nil {
			f.logger.Error("source scan failed, skipping", logging.Host(src.Host), logging.Error(err))
			return 0, nil
		}
		return 0, err
	}

	total := 0
	counted := func(rec models.Record) error {
		if err := emit(rec); err != nil {
			return err
		}
		total++
		f.metrics.IncRecords()
		return nil
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if _, err := f.fetcher.Fetch(ctx, src, name, counted); err != nil {
			return total, err
		}
	}
	return total, nil
}

type delivery struct {
	rec  models.Record
	done chan error
}

// runParallel gives every source its own loop. Records are handed to emit
// on the calling goroutine, one at a time, and each producer waits for the
// outcome before reading on.
func (f *Feeder) runParallel(ctx context.Context, emit models.EmitFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deliveries := make(chan delivery)
	g, gctx := errgroup.WithContext(ctx)

	for _, src := range f.sources {
		g.Go(func() error {
			done := make(chan error, 1)
			return f.loop(gctx, []*source.Source{src}, func(rec models.Record) error {
				select {
				case deliveries <- delivery{rec: rec, done: done}:
				case <-gctx.Done():
					return gctx.Err()
				}
				select {
				case err := <-done:
					return err
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		})
	}

	finished := make(chan error, 1)
	go func() { finished <- g.Wait() }()

	stopped := false
	for {
		select {
		case d := <-deliveries:
			err := emit(d.rec)
			if errors.Is(err, models.ErrStop) {
				stopped = true
				cancel()
			}
			d.done <- err
		case err := <-finished:
			if stopped {
				return nil
			}
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
