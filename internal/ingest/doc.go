// Package ingest streams live candles over WebSocket into the store.
//
// One pipeline serves one (symbol, timeframe) pair. The stream emits
// updates for the forming interval continuously; only the message that
// closes an interval is persisted. Reconnection retries forever with
// capped backoff, and the gap opened while disconnected is left for
// the reconciliation loop to repair.
package ingest
