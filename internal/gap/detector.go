package gap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/safetradelab/candle-collector/internal/model"
)

// TimestampSource yields the stored open times for one pair inside an
// inclusive range, ascending. The candle store satisfies this.
type TimestampSource interface {
	OpenTimes(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]time.Time, error)
}

// Detector scans pairs for missing candles over a retention window.
type Detector struct {
	source    TimestampSource
	retention time.Duration
	logger    *slog.Logger

	now func() time.Time
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithClock overrides the detector clock. Tests use this to pin the
// scan window.
func WithClock(now func() time.Time) DetectorOption {
	return func(d *Detector) {
		d.now = now
	}
}

// NewDetector creates a detector over the given source.
func NewDetector(source TimestampSource, retention time.Duration, logger *slog.Logger, opts ...DetectorOption) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Detector{
		source:    source,
		retention: retention,
		logger:    logger.With("component", "gap_detector"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Window returns the inclusive scan bounds for a timeframe: from the
// aligned start of the retention window up to the most recent interval
// that has fully closed.
func (d *Detector) Window(tf model.Timeframe) (start, end time.Time) {
	now := d.now()
	end = tf.Align(now).Add(-tf.Duration())
	start = tf.Align(now.Add(-d.retention))
	return start, end
}

// Scan returns the gaps for one pair, oldest first. Gaps are maximal:
// no two returned gaps are adjacent, and every timestamp inside a gap
// is missing from the store.
func (d *Detector) Scan(ctx context.Context, symbol string, tf model.Timeframe) ([]model.Gap, error) {
	start, end := d.Window(tf)
	if end.Before(start) {
		return nil, nil
	}

	stored, err := d.source.OpenTimes(ctx, symbol, tf, start, end)
	if err != nil {
		return nil, fmt.Errorf("scan %s/%s: %w", symbol, tf, err)
	}

	gaps := coalesce(symbol, tf, start, end, stored)
	if len(gaps) > 0 {
		missing := int64(0)
		for _, g := range gaps {
			missing += g.Intervals()
		}
		d.logger.Debug("scan found gaps",
			"symbol", symbol,
			"timeframe", tf,
			"gaps", len(gaps),
			"missing", missing,
		)
	}
	return gaps, nil
}

// coalesce walks the expected grid [start, end] and folds consecutive
// missing timestamps into runs.
func coalesce(symbol string, tf model.Timeframe, start, end time.Time, stored []time.Time) []model.Gap {
	present := make(map[int64]struct{}, len(stored))
	for _, t := range stored {
		present[t.UnixMilli()] = struct{}{}
	}

	step := tf.Duration()
	var gaps []model.Gap
	var run *model.Gap

	for t := start; !t.After(end); t = t.Add(step) {
		if _, ok := present[t.UnixMilli()]; ok {
			if run != nil {
				gaps = append(gaps, *run)
				run = nil
			}
			continue
		}
		if run == nil {
			run = &model.Gap{Symbol: symbol, Timeframe: tf, Start: t, End: t}
		} else {
			run.End = t
		}
	}
	if run != nil {
		gaps = append(gaps, *run)
	}
	return gaps
}
