package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safetradelab/candle-collector/internal/backfill"
	"github.com/safetradelab/candle-collector/internal/binance"
	"github.com/safetradelab/candle-collector/internal/config"
	"github.com/safetradelab/candle-collector/internal/database"
	"github.com/safetradelab/candle-collector/internal/gap"
	"github.com/safetradelab/candle-collector/internal/ingest"
	"github.com/safetradelab/candle-collector/internal/model"
	"github.com/safetradelab/candle-collector/internal/reconcile"
	"github.com/safetradelab/candle-collector/internal/store"
	"github.com/safetradelab/candle-collector/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/collector.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting collector",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	tf, err := model.ParseTimeframe(cfg.Collection.Timeframe)
	if err != nil {
		logger.Error("invalid timeframe", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"symbols", cfg.Collection.Symbols,
		"timeframe", tf,
		"retention", cfg.Collection.RetentionWindow,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	candleStore := store.New(pool, logger)
	if err := candleStore.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	logger.Info("database connected")

	// Create API client
	apiClient := binance.NewClient(
		cfg.API.RestURL,
		binance.WithLogger(logger),
		binance.WithTimeout(cfg.API.Timeout),
		binance.WithRetries(cfg.API.MaxRetries, time.Second),
		binance.WithMinRequestInterval(cfg.Backfill.MinRequestInterval),
	)

	// Check exchange connectivity
	logger.Info("checking exchange connectivity")
	if err := apiClient.Ping(ctx); err != nil {
		logger.Error("exchange unreachable", "error", err)
		os.Exit(1)
	}
	if serverTime, err := apiClient.ServerTime(ctx); err == nil {
		if drift := time.Since(serverTime); drift > time.Minute || drift < -time.Minute {
			logger.Warn("local clock drifts from exchange", "drift", drift)
		}
	}

	detector := gap.NewDetector(candleStore, cfg.Collection.RetentionWindow, logger)
	engine := backfill.NewEngine(apiClient, candleStore, backfill.Config{
		PageSize:       cfg.Backfill.PageSize,
		RetryBase:      cfg.Backfill.RetryBase,
		RetryMax:       cfg.Backfill.RetryMax,
		MaxPageRetries: cfg.Backfill.MaxPageRetries,
	}, logger)

	// Start ingestion first so candles closing during the startup
	// backfill are not lost; the upsert makes the overlap harmless.
	pipelines := make([]*ingest.Pipeline, 0, len(cfg.Collection.Symbols))
	for _, symbol := range cfg.Collection.Symbols {
		p := ingest.NewPipeline(ingest.Config{
			StreamURL:          binance.StreamURL(cfg.API.StreamURL, symbol, tf),
			ReconnectBaseDelay: cfg.Ingest.ReconnectBaseDelay,
			ReconnectMaxDelay:  cfg.Ingest.ReconnectMaxDelay,
			PingInterval:       cfg.Ingest.PingInterval,
			PingTimeout:        cfg.Ingest.ReadTimeout,
			BufferSize:         cfg.Ingest.BufferSize,
		}, symbol, tf, candleStore, logger)

		if err := p.Start(ctx); err != nil {
			logger.Error("failed to start ingestion", "symbol", symbol, "error", err)
			os.Exit(1)
		}
		pipelines = append(pipelines, p)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		for _, p := range pipelines {
			p.Stop(shutdownCtx)
		}
	}()

	// Reconciliation loop
	loop := reconcile.NewLoop(reconcile.Config{
		Interval:     cfg.Reconcile.Interval,
		Concurrency:  cfg.Reconcile.Concurrency,
		PruneHorizon: cfg.Collection.PruneHorizon,
	}, detector, engine, candleStore, cfg.Collection.Symbols, tf, logger)

	// Health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(pool, candleStore, pipelines, loop, engine),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// Startup backfill pass: repair everything missing over the
	// retention window before the periodic loop takes over.
	logger.Info("running startup backfill pass")
	for _, symbol := range cfg.Collection.Symbols {
		last, ok, err := candleStore.Latest(ctx, symbol, tf)
		if err != nil {
			logger.Error("latest candle lookup failed", "symbol", symbol, "error", err)
			os.Exit(1)
		}
		if ok {
			logger.Info("resuming series", "symbol", symbol, "latest_open", last)
		} else {
			logger.Info("no stored candles, backfilling full window", "symbol", symbol)
		}

		gaps, err := detector.Scan(ctx, symbol, tf)
		if err != nil {
			logger.Error("startup scan failed", "symbol", symbol, "error", err)
			os.Exit(1)
		}
		if len(gaps) == 0 {
			logger.Info("series complete", "symbol", symbol)
			continue
		}
		if _, err := engine.FillAll(ctx, gaps); err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("startup backfill failed", "symbol", symbol, "error", err)
			os.Exit(1)
		}
	}

	if err := loop.Start(ctx); err != nil {
		logger.Error("failed to start reconciliation loop", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		loop.Stop(shutdownCtx)
	}()

	logger.Info("collector running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	// Wait for shutdown or an unrecoverable storage failure.
	fatal := make(chan error, len(pipelines)+1)
	for _, p := range pipelines {
		p := p
		go func() {
			if err, ok := <-p.Fatal(); ok {
				fatal <- err
			}
		}()
	}
	go func() {
		if err, ok := <-loop.Fatal(); ok {
			fatal <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-fatal:
		// Fail fast: a collector that cannot persist is worthless and
		// restarts recover the gap through the startup backfill pass.
		logger.Error("storage unavailable, shutting down", "error", err)
		cancel()
		os.Exit(1)
	}

	logger.Info("shutting down...")

	// Graceful shutdown of health server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	logger.Info("collector stopped")
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(pool *pgxpool.Pool, candleStore *store.Store, pipelines []*ingest.Pipeline, loop *reconcile.Loop, engine *backfill.Engine) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		// Check database
		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		// Check streams
		connected := 0
		for _, p := range pipelines {
			if p.IsConnected() {
				connected++
			}
		}
		health.Components["streams"] = map[string]int{
			"connected": connected,
			"total":     len(pipelines),
		}
		if connected < len(pipelines) {
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		stats := make([]interface{}, 0, len(pipelines))
		for _, p := range pipelines {
			stats = append(stats, p.Stats())
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"store":     candleStore.Stats(),
			"backfill":  engine.Stats(),
			"reconcile": loop.Stats(),
			"streams":   stats,
		})
	})

	return mux
}
