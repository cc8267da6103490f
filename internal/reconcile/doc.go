// Package reconcile periodically audits the store and dispatches
// backfill jobs for whatever is missing.
//
// The loop is the sole authority on which pairs have a repair job in
// flight: it never starts a second job for a pair whose previous job is
// still running, so overlapping work on the same key can only be the
// backfill and ingestion writers racing through the upsert, which is
// safe. It also owns retention pruning.
package reconcile
