package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one closed OHLCV interval. Immutable once closed: the store
// only ever replaces a candle with an identical-key upsert.
type Candle struct {
	OpenTime  time.Time       // Interval open, aligned to the timeframe grid (UTC)
	Symbol    string          // Trading pair (e.g., "BTCUSDT")
	Timeframe Timeframe       // Interval label (e.g., "5m")
	Open      decimal.Decimal // Opening price
	High      decimal.Decimal // Highest price in the interval
	Low       decimal.Decimal // Lowest price in the interval
	Close     decimal.Decimal // Closing price
	Volume    decimal.Decimal // Base-asset volume
}

// CloseTime returns the instant the interval closes (open + timeframe).
func (c Candle) CloseTime() time.Time {
	return c.OpenTime.Add(c.Timeframe.Duration())
}

// Key renders the natural key for logs and map keys.
func (c Candle) Key() string {
	return fmt.Sprintf("%s/%s@%s", c.Symbol, c.Timeframe, c.OpenTime.UTC().Format(time.RFC3339))
}

// Validate rejects candles that must never reach the store: missing
// fields, misaligned open times, or inconsistent prices.
func (c Candle) Validate() error {
	if c.Symbol == "" {
		return errors.New("candle missing symbol")
	}
	if _, err := ParseTimeframe(string(c.Timeframe)); err != nil {
		return err
	}
	if c.OpenTime.IsZero() {
		return errors.New("candle missing open time")
	}
	if !c.Timeframe.IsAligned(c.OpenTime) {
		return fmt.Errorf("open time %s not aligned to %s grid", c.OpenTime.UTC().Format(time.RFC3339), c.Timeframe)
	}
	if c.High.LessThan(c.Low) {
		return fmt.Errorf("high %s below low %s", c.High, c.Low)
	}
	if c.Open.IsNegative() || c.High.IsNegative() || c.Low.IsNegative() || c.Close.IsNegative() || c.Volume.IsNegative() {
		return errors.New("negative OHLCV value")
	}
	return nil
}

// Gap is a maximal contiguous run of missing aligned open times for one
// (symbol, timeframe) pair. Start and End are both inclusive open times.
// Gaps are derived per scan and never persisted.
type Gap struct {
	Symbol    string
	Timeframe Timeframe
	Start     time.Time // First missing open time (inclusive)
	End       time.Time // Last missing open time (inclusive)
}

// Intervals returns the number of missing candles covered by the gap.
func (g Gap) Intervals() int64 {
	step := g.Timeframe.Duration()
	if step <= 0 || g.End.Before(g.Start) {
		return 0
	}
	return int64(g.End.Sub(g.Start)/step) + 1
}

func (g Gap) String() string {
	return fmt.Sprintf("%s/%s [%s, %s] (%d candles)",
		g.Symbol, g.Timeframe,
		g.Start.UTC().Format(time.RFC3339), g.End.UTC().Format(time.RFC3339),
		g.Intervals(),
	)
}
