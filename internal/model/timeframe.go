package model

import (
	"fmt"
	"time"
)

// Timeframe is a fixed candle duration expressed as an exchange interval
// label (e.g., "5m"). The label doubles as the value stored in the
// timeframe column and the interval parameter sent to the provider.
type Timeframe string

// Supported timeframes and their durations.
var timeframeDurations = map[Timeframe]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// ParseTimeframe validates an interval label.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unsupported timeframe %q", s)
	}
	return tf, nil
}

// Duration returns the interval length. Panics on an unknown label;
// construct timeframes through ParseTimeframe.
func (tf Timeframe) Duration() time.Duration {
	d, ok := timeframeDurations[tf]
	if !ok {
		panic(fmt.Sprintf("model: unknown timeframe %q", string(tf)))
	}
	return d
}

func (tf Timeframe) String() string { return string(tf) }

// Align truncates t down to the nearest interval boundary (UTC).
// Boundaries are multiples of the duration relative to the Unix epoch,
// matching the provider's open-time grid.
func (tf Timeframe) Align(t time.Time) time.Time {
	return t.UTC().Truncate(tf.Duration())
}

// Next returns the open time of the interval after t.
func (tf Timeframe) Next(t time.Time) time.Time {
	return tf.Align(t).Add(tf.Duration())
}

// IsAligned reports whether t sits exactly on an interval boundary.
func (tf Timeframe) IsAligned(t time.Time) bool {
	return tf.Align(t).Equal(t.UTC())
}
