package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/safetradelab/candle-collector/internal/binance"
	"github.com/safetradelab/candle-collector/internal/model"
)

// KlineSource fetches one page of closed candles, oldest first. The
// Binance REST client satisfies this.
type KlineSource interface {
	Klines(ctx context.Context, symbol string, tf model.Timeframe, opts binance.KlinesOptions) ([]model.Candle, error)
}

// CandleSink persists a page of candles atomically per candle. The
// store satisfies this.
type CandleSink interface {
	UpsertBatch(ctx context.Context, candles []model.Candle) error
}

// Config controls paging and the per-page retry budget.
type Config struct {
	PageSize       int
	RetryBase      time.Duration
	RetryMax       time.Duration
	MaxPageRetries int
}

// Metrics counts engine activity across jobs.
type Metrics struct {
	GapsFilled     int64
	GapsAbandoned  int64
	PagesFetched   int64
	CandlesWritten int64
	PageRetries    int64
}

// Result describes one completed fill job.
type Result struct {
	JobID          uuid.UUID
	Gap            model.Gap
	PagesFetched   int
	CandlesWritten int
	Abandoned      bool
}

// Engine fills gaps. Safe for concurrent Fill calls; the source's rate
// limiter paces requests across jobs.
type Engine struct {
	source KlineSource
	sink   CandleSink
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	metrics Metrics
}

// NewEngine creates a backfill engine.
func NewEngine(source KlineSource, sink CandleSink, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageSize <= 0 || cfg.PageSize > binance.MaxKlinesLimit {
		cfg.PageSize = binance.MaxKlinesLimit
	}
	if cfg.MaxPageRetries < 1 {
		cfg.MaxPageRetries = 1
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = cfg.RetryBase
	}
	return &Engine{
		source: source,
		sink:   sink,
		cfg:    cfg,
		logger: logger.With("component", "backfill"),
	}
}

// Fill repairs one gap. A nil error with Result.Abandoned set means the
// retry budget ran out and the remainder is left for the next scan.
// A non-nil error means the store rejected a write; nothing is retried
// past that.
func (e *Engine) Fill(ctx context.Context, gap model.Gap) (Result, error) {
	res := Result{JobID: uuid.New(), Gap: gap}
	log := e.logger.With("job_id", res.JobID, "symbol", gap.Symbol, "timeframe", gap.Timeframe)

	log.Info("starting backfill",
		"start", gap.Start,
		"end", gap.End,
		"missing", gap.Intervals(),
	)

	step := gap.Timeframe.Duration()
	cursor := gap.Start

	for !cursor.After(gap.End) {
		page, err := e.fetchPage(ctx, log, gap, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Abandoned = true
			e.mu.Lock()
			e.metrics.GapsAbandoned++
			e.mu.Unlock()
			log.Warn("abandoning gap after exhausted retries",
				"cursor", cursor,
				"error", err,
			)
			return res, nil
		}
		res.PagesFetched++

		if len(page) == 0 {
			// Provider has nothing at or after the cursor.
			log.Info("provider returned no data, stopping", "cursor", cursor)
			break
		}

		if err := e.sink.UpsertBatch(ctx, page); err != nil {
			return res, fmt.Errorf("persist page: %w", err)
		}
		res.CandlesWritten += len(page)

		cursor = page[len(page)-1].OpenTime.Add(step)

		// A short page means the provider history ends here.
		if len(page) < e.cfg.PageSize {
			break
		}
	}

	e.mu.Lock()
	e.metrics.GapsFilled++
	e.metrics.PagesFetched += int64(res.PagesFetched)
	e.metrics.CandlesWritten += int64(res.CandlesWritten)
	e.mu.Unlock()

	log.Info("backfill complete",
		"pages", res.PagesFetched,
		"candles", res.CandlesWritten,
	)
	return res, nil
}

// FillAll repairs gaps sequentially, oldest first. Storage errors stop
// the run; abandoned gaps do not.
func (e *Engine) FillAll(ctx context.Context, gaps []model.Gap) ([]Result, error) {
	results := make([]Result, 0, len(gaps))
	for _, g := range gaps {
		res, err := e.Fill(ctx, g)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Stats returns a snapshot of engine metrics.
func (e *Engine) Stats() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// fetchPage requests one page with the per-page retry budget. Retries
// back off with increasing, capped, jittered delays. Non-retryable API
// errors skip the budget; the client already declined to retry them.
func (e *Engine) fetchPage(ctx context.Context, log *slog.Logger, gap model.Gap, cursor time.Time) ([]model.Candle, error) {
	var lastErr error

	for attempt := 0; attempt < e.cfg.MaxPageRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(e.cfg.RetryBase, e.cfg.RetryMax, attempt)
			log.Debug("retrying page",
				"attempt", attempt,
				"cursor", cursor,
				"backoff", delay,
			)
			e.mu.Lock()
			e.metrics.PageRetries++
			e.mu.Unlock()

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		page, err := e.source.Klines(ctx, gap.Symbol, gap.Timeframe, binance.KlinesOptions{
			StartTime: cursor,
			EndTime:   gap.End,
			Limit:     e.cfg.PageSize,
		})
		if err == nil {
			return page, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var apiErr *binance.APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			return nil, fmt.Errorf("permanent provider error: %w", err)
		}
	}

	return nil, fmt.Errorf("page retry budget exhausted: %w", lastErr)
}

// retryDelay computes the backoff before retry attempt n (n >= 1):
// base*2^(n-1) capped at max, with jitter in [0.5x, 1.5x) of the capped
// value, never exceeding max.
func retryDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	jittered := d/2 + time.Duration(rand.Int63n(int64(d)))
	if jittered > max {
		jittered = max
	}
	return jittered
}
