// Package backfill repairs gaps by paging historical candles from the
// REST API into the store.
//
// Each gap is filled oldest first. The cursor only ever moves forward:
// the next page starts one interval after the last candle received, so
// a run always terminates either by reaching the gap end or by the
// provider returning a short page. Pages that keep failing after the
// retry budget abandon the gap; the next reconciliation scan picks up
// whatever is still missing.
package backfill
