package binance

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safetradelab/candle-collector/internal/model"
)

// MaxKlinesLimit is the largest page size /api/v3/klines accepts.
const MaxKlinesLimit = 1000

// KlinesOptions bounds a klines request. StartTime and EndTime filter on
// the candle open time, both inclusive; zero values are omitted.
type KlinesOptions struct {
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// Klines fetches one page of historical candles for a symbol, oldest
// first. Rows the API returns in an unexpected shape are skipped and
// logged, never turned into partial candles. The interval still open at
// request time is excluded.
func (c *Client) Klines(ctx context.Context, symbol string, tf model.Timeframe, opts KlinesOptions) ([]model.Candle, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", string(tf))
	if !opts.StartTime.IsZero() {
		query.Set("startTime", strconv.FormatInt(opts.StartTime.UnixMilli(), 10))
	}
	if !opts.EndTime.IsZero() {
		query.Set("endTime", strconv.FormatInt(opts.EndTime.UnixMilli(), 10))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	var raw [][]any
	if err := c.get(ctx, "/api/v3/klines", query, &raw); err != nil {
		return nil, fmt.Errorf("get klines %s/%s: %w", symbol, tf, err)
	}

	now := time.Now().UnixMilli()
	candles := make([]model.Candle, 0, len(raw))
	for i, row := range raw {
		candle, closeMs, err := parseKlineRow(symbol, tf, row)
		if err != nil {
			c.logger.Warn("skipping malformed kline row",
				"symbol", symbol,
				"timeframe", tf,
				"row", i,
				"error", err,
			)
			continue
		}
		// The last row may be the interval still forming.
		if closeMs >= now {
			continue
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

// parseKlineRow converts one /api/v3/klines array row into a candle.
// Row layout: [openTime, open, high, low, close, volume, closeTime, ...].
func parseKlineRow(symbol string, tf model.Timeframe, row []any) (model.Candle, int64, error) {
	if len(row) < 7 {
		return model.Candle{}, 0, fmt.Errorf("kline row has %d fields, want at least 7", len(row))
	}

	openMs, ok := row[0].(float64)
	if !ok {
		return model.Candle{}, 0, fmt.Errorf("open time is %T, want number", row[0])
	}
	closeMs, ok := row[6].(float64)
	if !ok {
		return model.Candle{}, 0, fmt.Errorf("close time is %T, want number", row[6])
	}

	prices := make([]decimal.Decimal, 5)
	for i, idx := range []int{1, 2, 3, 4, 5} {
		s, ok := row[idx].(string)
		if !ok {
			return model.Candle{}, 0, fmt.Errorf("field %d is %T, want string", idx, row[idx])
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.Candle{}, 0, fmt.Errorf("field %d: %w", idx, err)
		}
		prices[i] = d
	}

	c := model.Candle{
		OpenTime:  time.UnixMilli(int64(openMs)).UTC(),
		Symbol:    symbol,
		Timeframe: tf,
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    prices[4],
	}
	if err := c.Validate(); err != nil {
		return model.Candle{}, 0, err
	}
	return c, int64(closeMs), nil
}
