// Package gap finds missing candles.
//
// A scan compares the stored open times for one (symbol, timeframe)
// pair against the expected aligned grid over the retention window and
// coalesces the missing timestamps into maximal contiguous runs. The
// window deliberately stops one interval short of now so the candle
// still forming is never reported missing.
package gap
