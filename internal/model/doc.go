// Package model defines the core data types shared by the collector:
// candles, timeframes, and gaps.
//
// A candle is keyed by (open time, symbol, timeframe); open times are
// always aligned to an exact multiple of the timeframe duration. Prices
// and volume use decimal.Decimal so re-fetched values compare exactly.
package model
