package ingest

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/safetradelab/candle-collector/internal/binance"
	"github.com/safetradelab/candle-collector/internal/model"
)

// CandleWriter persists one closed candle. The store satisfies this.
type CandleWriter interface {
	Upsert(ctx context.Context, c model.Candle) error
}

// Pipeline streams one pair's klines into the store.
type Pipeline struct {
	cfg    Config
	symbol string
	tf     model.Timeframe
	writer CandleWriter
	logger *slog.Logger

	// Swappable for tests.
	newClient func() Client

	candles chan model.Candle
	fatal   chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	client  Client
	metrics Metrics
}

// NewPipeline creates a pipeline for one pair.
func NewPipeline(cfg Config, symbol string, tf model.Timeframe, writer CandleWriter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectBaseDelay {
		cfg.ReconnectMaxDelay = cfg.ReconnectBaseDelay
	}

	p := &Pipeline{
		cfg:     cfg,
		symbol:  symbol,
		tf:      tf,
		writer:  writer,
		logger:  logger.With("component", "ingest", "symbol", symbol, "timeframe", tf),
		candles: make(chan model.Candle, cfg.BufferSize),
		fatal:   make(chan error, 1),
	}
	p.newClient = func() Client {
		clientCfg := DefaultClientConfig()
		clientCfg.URL = cfg.StreamURL
		if cfg.PingInterval > 0 {
			clientCfg.PingInterval = cfg.PingInterval
		}
		if cfg.PingTimeout > 0 {
			clientCfg.PingTimeout = cfg.PingTimeout
		}
		clientCfg.BufferSize = cfg.BufferSize
		return NewClient(clientCfg, p.logger)
	}
	return p
}

// Start connects and begins streaming. The returned error covers setup
// only; later connection drops reconnect internally and storage
// failures surface on Fatal().
func (p *Pipeline) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.writeLoop()

	p.wg.Add(1)
	go p.runLoop()

	p.logger.Info("ingestion pipeline started", "url", p.cfg.StreamURL)
	return nil
}

// Stop closes the stream and drains the writer.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.logger.Info("stopping ingestion pipeline")

	if p.cancel != nil {
		p.cancel()
	}

	p.mu.Lock()
	if p.client != nil {
		p.client.Close()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("ingestion pipeline stopped")
	case <-ctx.Done():
		p.logger.Warn("ingestion pipeline stop timed out")
	}
	return nil
}

// Fatal reports unrecoverable errors, i.e. the store refusing writes.
func (p *Pipeline) Fatal() <-chan error {
	return p.fatal
}

// Stats returns a snapshot of pipeline metrics.
func (p *Pipeline) Stats() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// IsConnected reports whether the stream is currently up.
func (p *Pipeline) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client != nil && p.client.IsConnected()
}

// runLoop owns the connection: dial, consume, reconnect, forever.
func (p *Pipeline) runLoop() {
	defer p.wg.Done()
	defer close(p.candles)

	delay := p.cfg.ReconnectBaseDelay

	for {
		if p.ctx.Err() != nil {
			return
		}

		client := p.newClient()
		p.mu.Lock()
		p.client = client
		p.mu.Unlock()

		if err := client.Connect(p.ctx); err != nil {
			p.logger.Warn("connect failed", "error", err, "retry_in", delay)
			if !p.sleep(delay) {
				return
			}
			delay = nextDelay(delay, p.cfg.ReconnectMaxDelay)
			continue
		}

		// Connected: reset backoff and consume until the connection dies.
		delay = p.cfg.ReconnectBaseDelay
		if !p.consume(client) {
			return
		}

		client.Close()
		p.mu.Lock()
		p.metrics.Reconnects++
		p.mu.Unlock()

		p.logger.Info("stream disconnected, reconnecting", "retry_in", delay)
		if !p.sleep(delay) {
			return
		}
		delay = nextDelay(delay, p.cfg.ReconnectMaxDelay)
	}
}

// consume reads one connection until it errors. Returns false when the
// pipeline is shutting down.
func (p *Pipeline) consume(client Client) bool {
	for {
		select {
		case <-p.ctx.Done():
			return false

		case err := <-client.Errors():
			p.logger.Warn("stream error", "error", err)
			return true

		case msg, ok := <-client.Messages():
			if !ok {
				return true
			}
			p.handleMessage(msg.Data)
		}
	}
}

// handleMessage filters one stream message down to a closed candle.
func (p *Pipeline) handleMessage(data []byte) {
	p.mu.Lock()
	p.metrics.Received++
	p.mu.Unlock()

	ev, err := binance.ParseKlineEvent(data)
	if err != nil {
		p.countMalformed(err)
		return
	}

	if !ev.Kline.IsFinal {
		p.mu.Lock()
		p.metrics.Updates++
		p.mu.Unlock()
		return
	}

	candle, err := ev.Kline.Candle()
	if err != nil {
		p.countMalformed(err)
		return
	}

	select {
	case p.candles <- candle:
	case <-p.ctx.Done():
	}
}

func (p *Pipeline) countMalformed(err error) {
	p.mu.Lock()
	p.metrics.Malformed++
	p.mu.Unlock()
	p.logger.Warn("skipping malformed stream message", "error", err)
}

// writeLoop is the single goroutine that touches the store.
func (p *Pipeline) writeLoop() {
	defer p.wg.Done()

	for candle := range p.candles {
		if err := p.writer.Upsert(p.ctx, candle); err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.logger.Error("storage write failed", "error", err, "candle", candle.Key())
			select {
			case p.fatal <- err:
			default:
			}
			p.cancel()
			return
		}

		p.mu.Lock()
		p.metrics.Closed++
		p.mu.Unlock()

		p.logger.Debug("persisted closed candle", "open_time", candle.OpenTime)
	}
}

// sleep waits or returns false on shutdown.
func (p *Pipeline) sleep(d time.Duration) bool {
	select {
	case <-p.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// nextDelay doubles the backoff up to max with jitter in [0.5x, 1.5x),
// clamped to max.
func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		next = max
	}
	jittered := next/2 + time.Duration(rand.Int63n(int64(next)))
	if jittered > max {
		jittered = max
	}
	return jittered
}
