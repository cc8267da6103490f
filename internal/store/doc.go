// Package store persists candles in PostgreSQL.
//
// The single coordination primitive between the backfill and ingestion
// writers is the atomic upsert: INSERT ... ON CONFLICT (open_time,
// symbol, timeframe) DO UPDATE. Concurrent writers racing on the same
// key converge to one row and neither sees an error. Rows are never
// mutated otherwise, only superseded by an identical-key upsert or
// removed by retention pruning.
package store
