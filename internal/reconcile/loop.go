package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/safetradelab/candle-collector/internal/backfill"
	"github.com/safetradelab/candle-collector/internal/model"
)

// Scanner finds the gaps for one pair. The gap detector satisfies this.
type Scanner interface {
	Scan(ctx context.Context, symbol string, tf model.Timeframe) ([]model.Gap, error)
}

// Filler repairs one gap. The backfill engine satisfies this.
type Filler interface {
	Fill(ctx context.Context, gap model.Gap) (backfill.Result, error)
}

// Pruner drops candles older than a cutoff. The store satisfies this.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// Config controls the reconciliation cadence.
type Config struct {
	Interval     time.Duration // Time between audits
	Concurrency  int           // Max pairs repaired in parallel per tick
	PruneHorizon time.Duration // Candles older than now-horizon are deleted; 0 disables pruning
}

// Stats is a snapshot of loop activity.
type Stats struct {
	Ticks            int64
	GapsDetected     int64
	GapsFilled       int64
	GapsAbandoned    int64
	CandlesRecovered int64
	CandlesPruned    int64
	ActiveJobs       int
	LastTick         time.Time
}

// Loop runs the audit cycle: scan every pair, dispatch repairs, prune.
type Loop struct {
	cfg     Config
	scanner Scanner
	filler  Filler
	pruner  Pruner
	symbols []string
	tf      model.Timeframe
	logger  *slog.Logger

	fatal chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{} // pairs with a job in flight
	stats  Stats

	now func() time.Time
}

// NewLoop creates a reconciliation loop over the given pairs.
func NewLoop(cfg Config, scanner Scanner, filler Filler, pruner Pruner, symbols []string, tf model.Timeframe, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Loop{
		cfg:     cfg,
		scanner: scanner,
		filler:  filler,
		pruner:  pruner,
		symbols: symbols,
		tf:      tf,
		logger:  logger.With("component", "reconcile"),
		fatal:   make(chan error, 1),
		active:  make(map[string]struct{}),
		now:     time.Now,
	}
}

// Start begins ticking. The first audit runs one interval after start;
// the startup backfill pass is the caller's job.
func (l *Loop) Start(ctx context.Context) error {
	l.ctx, l.cancel = context.WithCancel(ctx)

	l.wg.Add(1)
	go l.run()

	l.logger.Info("reconciliation loop started",
		"interval", l.cfg.Interval,
		"concurrency", l.cfg.Concurrency,
		"pairs", len(l.symbols),
	)
	return nil
}

// Stop waits for the current tick to finish.
func (l *Loop) Stop(ctx context.Context) error {
	l.logger.Info("stopping reconciliation loop")

	if l.cancel != nil {
		l.cancel()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("reconciliation loop stopped")
	case <-ctx.Done():
		l.logger.Warn("reconciliation loop stop timed out")
	}
	return nil
}

// Fatal reports unrecoverable storage errors.
func (l *Loop) Fatal() <-chan error {
	return l.fatal
}

// Stats returns a snapshot of loop activity.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.ActiveJobs = len(l.active)
	return s
}

func (l *Loop) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

// tick runs one audit: scan all pairs, repair, prune. Pairs repair in
// parallel up to the concurrency limit; gaps within a pair repair
// sequentially, oldest first.
func (l *Loop) tick() {
	start := l.now()

	g, _ := errgroup.WithContext(l.ctx)
	g.SetLimit(l.cfg.Concurrency)

	for _, symbol := range l.symbols {
		symbol := symbol
		g.Go(func() error {
			return l.reconcilePair(symbol)
		})
	}

	if err := g.Wait(); err != nil {
		if l.ctx.Err() == nil {
			select {
			case l.fatal <- err:
			default:
			}
			l.cancel()
		}
		return
	}

	l.prune()

	l.mu.Lock()
	l.stats.Ticks++
	l.stats.LastTick = start
	l.mu.Unlock()

	l.logger.Debug("reconciliation tick complete", "duration", time.Since(start))
}

// reconcilePair scans one pair and repairs its gaps. Scan errors are
// logged and skipped; a storage write failure during repair is fatal.
func (l *Loop) reconcilePair(symbol string) error {
	key := pairKey(symbol, l.tf)

	l.mu.Lock()
	_, busy := l.active[key]
	l.mu.Unlock()
	if busy {
		l.logger.Debug("pair still repairing, skipping scan", "symbol", symbol)
		return nil
	}

	gaps, err := l.scanner.Scan(l.ctx, symbol, l.tf)
	if err != nil {
		l.logger.Warn("scan failed", "symbol", symbol, "error", err)
		return nil
	}
	if len(gaps) == 0 {
		return nil
	}

	l.mu.Lock()
	l.stats.GapsDetected += int64(len(gaps))
	l.active[key] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.active, key)
		l.mu.Unlock()
	}()

	for _, gap := range gaps {
		if l.ctx.Err() != nil {
			return nil
		}

		res, err := l.filler.Fill(l.ctx, gap)
		if err != nil {
			if l.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fill %s: %w", gap, err)
		}

		l.mu.Lock()
		if res.Abandoned {
			l.stats.GapsAbandoned++
		} else {
			l.stats.GapsFilled++
		}
		l.stats.CandlesRecovered += int64(res.CandlesWritten)
		l.mu.Unlock()
	}
	return nil
}

// prune enforces the retention horizon.
func (l *Loop) prune() {
	if l.pruner == nil || l.cfg.PruneHorizon <= 0 {
		return
	}

	cutoff := l.now().Add(-l.cfg.PruneHorizon)
	n, err := l.pruner.Prune(l.ctx, cutoff)
	if err != nil {
		l.logger.Warn("prune failed", "error", err)
		return
	}
	if n > 0 {
		l.logger.Info("pruned expired candles", "count", n, "cutoff", cutoff)
	}

	l.mu.Lock()
	l.stats.CandlesPruned += n
	l.mu.Unlock()
}

func pairKey(symbol string, tf model.Timeframe) string {
	return symbol + "|" + string(tf)
}
