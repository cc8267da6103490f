package config

import (
	"errors"
	"fmt"

	"github.com/safetradelab/candle-collector/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *CollectorConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if len(c.Collection.Symbols) == 0 {
		return errors.New("collection.symbols is required")
	}
	for _, s := range c.Collection.Symbols {
		if s == "" {
			return errors.New("collection.symbols contains an empty symbol")
		}
	}
	if _, err := model.ParseTimeframe(c.Collection.Timeframe); err != nil {
		return fmt.Errorf("collection.timeframe: %w", err)
	}
	if c.Collection.RetentionWindow <= 0 {
		return errors.New("collection.retention_window must be positive")
	}
	if c.Collection.PruneHorizon < 0 {
		return errors.New("collection.prune_horizon cannot be negative")
	}
	if c.Collection.PruneHorizon > 0 && c.Collection.PruneHorizon < c.Collection.RetentionWindow {
		return fmt.Errorf("collection.prune_horizon (%v) must not be shorter than retention_window (%v)",
			c.Collection.PruneHorizon, c.Collection.RetentionWindow)
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Backfill.PageSize < 1 || c.Backfill.PageSize > 1000 {
		return fmt.Errorf("backfill.page_size must be between 1 and 1000, got %d", c.Backfill.PageSize)
	}
	if c.Backfill.MaxPageRetries < 1 {
		return errors.New("backfill.max_page_retries must be >= 1")
	}
	if c.Backfill.RetryBase > c.Backfill.RetryMax {
		return fmt.Errorf("backfill.retry_base (%v) cannot exceed retry_max (%v)",
			c.Backfill.RetryBase, c.Backfill.RetryMax)
	}

	if c.Ingest.BufferSize < 1 {
		return errors.New("ingest.buffer_size must be >= 1")
	}
	if c.Ingest.ReconnectBaseDelay > c.Ingest.ReconnectMaxDelay {
		return fmt.Errorf("ingest.reconnect_base_delay (%v) cannot exceed reconnect_max_delay (%v)",
			c.Ingest.ReconnectBaseDelay, c.Ingest.ReconnectMaxDelay)
	}

	if c.Reconcile.Concurrency < 1 {
		return errors.New("reconcile.concurrency must be >= 1")
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
