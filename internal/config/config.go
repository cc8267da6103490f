package config

import "time"

// CollectorConfig is the root configuration for a collector instance.
type CollectorConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Collection CollectionConfig `yaml:"collection"`
	API        APIConfig        `yaml:"api"`
	Database   DBConfig         `yaml:"database"`
	Backfill   BackfillConfig   `yaml:"backfill"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Health     HealthConfig     `yaml:"health"`
}

// InstanceConfig identifies this collector. Deployment runs exactly one
// active instance per symbol set to avoid duplicate ingestion.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// CollectionConfig selects what to collect and how far back the series
// is maintained.
type CollectionConfig struct {
	Symbols         []string      `yaml:"symbols"`          // e.g., [BTCUSDT, ETHUSDT, SOLUSDT]
	Timeframe       string        `yaml:"timeframe"`        // interval label, e.g., "5m"
	RetentionWindow time.Duration `yaml:"retention_window"` // how far back gaps are backfilled
	PruneHorizon    time.Duration `yaml:"prune_horizon"`    // rows older than this may be deleted; 0 disables pruning
}

// APIConfig holds upstream Binance endpoints and REST retry settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	StreamURL  string        `yaml:"stream_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// DBConfig holds the PostgreSQL connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// BackfillConfig holds historical fetch settings.
type BackfillConfig struct {
	PageSize           int           `yaml:"page_size"`            // klines per REST request (provider caps at 1000)
	MinRequestInterval time.Duration `yaml:"min_request_interval"` // pacing between pages
	RetryBase          time.Duration `yaml:"retry_base"`           // first backoff on a failed page
	RetryMax           time.Duration `yaml:"retry_max"`            // backoff cap
	MaxPageRetries     int           `yaml:"max_page_retries"`     // attempts per page before the gap is abandoned
}

// IngestConfig holds websocket stream settings.
type IngestConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	BufferSize         int           `yaml:"buffer_size"` // close events buffered between reader and writer
}

// ReconcileConfig holds scheduler settings.
type ReconcileConfig struct {
	Interval    time.Duration `yaml:"interval"`    // time between scans
	Concurrency int           `yaml:"concurrency"` // max parallel backfill jobs across pairs
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
