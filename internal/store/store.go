package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safetradelab/candle-collector/internal/model"
)

// Metrics tracks store activity. Conflicts counts upserts that found an
// identical row already present and changed nothing.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Batches   int64
	Errors    int64
	Pruned    int64
}

// Store reads and writes candles. Safe for concurrent use; every write
// goes through the same upsert, so overlapping writers never conflict.
type Store struct {
	db     *pgxpool.Pool
	logger *slog.Logger

	mu      sync.Mutex
	metrics Metrics
}

// New creates a Store on an existing pool.
func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS candles (
		open_time   TIMESTAMPTZ NOT NULL,
		symbol      TEXT        NOT NULL,
		timeframe   TEXT        NOT NULL,
		open        NUMERIC     NOT NULL,
		high        NUMERIC     NOT NULL,
		low         NUMERIC     NOT NULL,
		close       NUMERIC     NOT NULL,
		volume      NUMERIC     NOT NULL,
		inserted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (open_time, symbol, timeframe)
	)
`

// EnsureSchema creates the candles table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// The WHERE clause skips updates when the incoming row is identical to
// the stored one, so RowsAffected()==0 identifies pure no-op conflicts.
const upsertSQL = `
	INSERT INTO candles (open_time, symbol, timeframe, open, high, low, close, volume)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (open_time, symbol, timeframe) DO UPDATE
	SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
	    close = EXCLUDED.close, volume = EXCLUDED.volume
	WHERE (candles.open, candles.high, candles.low, candles.close, candles.volume)
	      IS DISTINCT FROM
	      (EXCLUDED.open, EXCLUDED.high, EXCLUDED.low, EXCLUDED.close, EXCLUDED.volume)
`

// Upsert writes one candle. Invalid candles are rejected before any SQL
// runs; nothing partial ever reaches the table.
func (s *Store) Upsert(ctx context.Context, c model.Candle) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("upsert %s: %w", c.Key(), err)
	}

	ct, err := s.db.Exec(ctx, upsertSQL,
		c.OpenTime.UTC(), c.Symbol, string(c.Timeframe),
		c.Open, c.High, c.Low, c.Close, c.Volume,
	)
	if err != nil {
		s.recordError()
		return fmt.Errorf("upsert %s: %w", c.Key(), err)
	}

	s.mu.Lock()
	if ct.RowsAffected() == 0 {
		s.metrics.Conflicts++
	} else {
		s.metrics.Inserts++
	}
	s.mu.Unlock()
	return nil
}

// UpsertBatch writes a page of candles in one round trip. The batch is
// validated up front: a single malformed candle rejects the whole page
// before any row is written.
func (s *Store) UpsertBatch(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("batch rejected: %w", err)
		}
	}

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(upsertSQL,
			c.OpenTime.UTC(), c.Symbol, string(c.Timeframe),
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
	}

	start := time.Now()
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	conflicts := 0
	for range candles {
		ct, err := results.Exec()
		if err != nil {
			s.recordError()
			return fmt.Errorf("batch upsert: %w", err)
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	s.mu.Lock()
	s.metrics.Inserts += int64(len(candles) - conflicts)
	s.metrics.Conflicts += int64(conflicts)
	s.metrics.Batches++
	s.mu.Unlock()

	s.logger.Debug("upserted batch",
		"count", len(candles),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

// OpenTimes returns the stored open times for one pair inside
// [from, to], ascending. The primary key guarantees no duplicates.
func (s *Store) OpenTimes(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]time.Time, error) {
	rows, err := s.db.Query(ctx, `
		SELECT open_time FROM candles
		WHERE symbol = $1 AND timeframe = $2 AND open_time BETWEEN $3 AND $4
		ORDER BY open_time ASC
	`, symbol, string(tf), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query open times: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan open time: %w", err)
		}
		times = append(times, t.UTC())
	}
	return times, rows.Err()
}

// Latest returns the newest stored open time for one pair. The second
// return is false when no rows exist for the pair.
func (s *Store) Latest(ctx context.Context, symbol string, tf model.Timeframe) (time.Time, bool, error) {
	// max() yields a single NULL row on an empty pair, so scan a pointer.
	var t *time.Time
	err := s.db.QueryRow(ctx, `
		SELECT max(open_time) FROM candles
		WHERE symbol = $1 AND timeframe = $2
	`, symbol, string(tf)).Scan(&t)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query latest: %w", err)
	}
	if t == nil {
		return time.Time{}, false, nil
	}
	return t.UTC(), true, nil
}

// Prune deletes candles with open times strictly before the cutoff,
// across all pairs, and returns the number removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	ct, err := s.db.Exec(ctx, `DELETE FROM candles WHERE open_time < $1`, olderThan.UTC())
	if err != nil {
		s.recordError()
		return 0, fmt.Errorf("prune: %w", err)
	}
	n := ct.RowsAffected()
	s.mu.Lock()
	s.metrics.Pruned += n
	s.mu.Unlock()
	return n, nil
}

// DeleteSymbol removes every candle for one symbol across all
// timeframes and returns the number removed.
func (s *Store) DeleteSymbol(ctx context.Context, symbol string) (int64, error) {
	ct, err := s.db.Exec(ctx, `DELETE FROM candles WHERE symbol = $1`, symbol)
	if err != nil {
		return 0, fmt.Errorf("delete symbol %s: %w", symbol, err)
	}
	return ct.RowsAffected(), nil
}

// DeleteAll empties the candles table and returns the number removed.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	ct, err := s.db.Exec(ctx, `DELETE FROM candles`)
	if err != nil {
		return 0, fmt.Errorf("delete all: %w", err)
	}
	return ct.RowsAffected(), nil
}

// SymbolSummary is one row of the per-pair overview used by the viewer.
type SymbolSummary struct {
	Symbol    string
	Timeframe model.Timeframe
	Count     int64
	Oldest    time.Time
	Newest    time.Time
}

// Summary returns per-pair row counts and time bounds, ordered by
// symbol then timeframe.
func (s *Store) Summary(ctx context.Context) ([]SymbolSummary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT symbol, timeframe, count(*), min(open_time), max(open_time)
		FROM candles
		GROUP BY symbol, timeframe
		ORDER BY symbol, timeframe
	`)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var out []SymbolSummary
	for rows.Next() {
		var sum SymbolSummary
		var tf string
		if err := rows.Scan(&sum.Symbol, &tf, &sum.Count, &sum.Oldest, &sum.Newest); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.Timeframe = model.Timeframe(tf)
		sum.Oldest = sum.Oldest.UTC()
		sum.Newest = sum.Newest.UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Recent returns the newest candles for one pair, ascending, at most
// limit rows.
func (s *Store) Recent(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	rows, err := s.db.Query(ctx, `
		SELECT open_time, symbol, timeframe, open, high, low, close, volume
		FROM (
			SELECT open_time, symbol, timeframe, open, high, low, close, volume
			FROM candles
			WHERE symbol = $1 AND timeframe = $2
			ORDER BY open_time DESC
			LIMIT $3
		) tail
		ORDER BY open_time ASC
	`, symbol, string(tf), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tfs string
		if err := rows.Scan(&c.OpenTime, &c.Symbol, &tfs, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Timeframe = model.Timeframe(tfs)
		c.OpenTime = c.OpenTime.UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Stats returns a snapshot of store metrics.
func (s *Store) Stats() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

func (s *Store) recordError() {
	s.mu.Lock()
	s.metrics.Errors++
	s.mu.Unlock()
}
