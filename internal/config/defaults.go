package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL   = "https://api.binance.com"
	DefaultStreamURL = "wss://stream.binance.com:9443/ws"

	DefaultTimeframe       = "5m"
	DefaultRetentionWindow = 180 * 24 * time.Hour

	DefaultAPITimeout = 30 * time.Second
	DefaultMaxRetries = 3

	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2

	DefaultPageSize           = 1000
	DefaultMinRequestInterval = 250 * time.Millisecond
	DefaultRetryBase          = 1 * time.Second
	DefaultRetryMax           = 60 * time.Second
	DefaultMaxPageRetries     = 5

	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultPingInterval       = 15 * time.Second
	DefaultReadTimeout        = 60 * time.Second
	DefaultIngestBufferSize   = 256

	DefaultReconcileInterval    = 5 * time.Minute
	DefaultReconcileConcurrency = 3

	DefaultHealthPort = 8080
)

func (c *CollectorConfig) applyDefaults() {
	// Collection defaults
	if c.Collection.Timeframe == "" {
		c.Collection.Timeframe = DefaultTimeframe
	}
	if c.Collection.RetentionWindow == 0 {
		c.Collection.RetentionWindow = DefaultRetentionWindow
	}

	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.StreamURL == "" {
		c.API.StreamURL = DefaultStreamURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Backfill defaults
	if c.Backfill.PageSize == 0 {
		c.Backfill.PageSize = DefaultPageSize
	}
	if c.Backfill.MinRequestInterval == 0 {
		c.Backfill.MinRequestInterval = DefaultMinRequestInterval
	}
	if c.Backfill.RetryBase == 0 {
		c.Backfill.RetryBase = DefaultRetryBase
	}
	if c.Backfill.RetryMax == 0 {
		c.Backfill.RetryMax = DefaultRetryMax
	}
	if c.Backfill.MaxPageRetries == 0 {
		c.Backfill.MaxPageRetries = DefaultMaxPageRetries
	}

	// Ingest defaults
	if c.Ingest.ReconnectBaseDelay == 0 {
		c.Ingest.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Ingest.ReconnectMaxDelay == 0 {
		c.Ingest.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Ingest.PingInterval == 0 {
		c.Ingest.PingInterval = DefaultPingInterval
	}
	if c.Ingest.ReadTimeout == 0 {
		c.Ingest.ReadTimeout = DefaultReadTimeout
	}
	if c.Ingest.BufferSize == 0 {
		c.Ingest.BufferSize = DefaultIngestBufferSize
	}

	// Reconcile defaults
	if c.Reconcile.Interval == 0 {
		c.Reconcile.Interval = DefaultReconcileInterval
	}
	if c.Reconcile.Concurrency == 0 {
		c.Reconcile.Concurrency = DefaultReconcileConcurrency
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}
