package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safetradelab/candle-collector/internal/backfill"
	"github.com/safetradelab/candle-collector/internal/binance"
	"github.com/safetradelab/candle-collector/internal/model"
)

// fakeClient feeds scripted messages to the pipeline.
type fakeClient struct {
	messages chan TimestampedMessage
	errors   chan error

	mu        sync.Mutex
	connected bool
	dialErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		messages: make(chan TimestampedMessage, 64),
		errors:   make(chan error, 1),
	}
}

func (f *fakeClient) Connect(context.Context) error {
	if f.dialErr != nil {
		return f.dialErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeClient) Errors() <-chan error                { return f.errors }

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) push(data string) {
	f.messages <- TimestampedMessage{Data: []byte(data), ReceivedAt: time.Now()}
}

// recordingWriter captures upserts.
type recordingWriter struct {
	mu      sync.Mutex
	candles []model.Candle
	err     error
}

func (w *recordingWriter) Upsert(_ context.Context, c model.Candle) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.candles = append(w.candles, c)
	return nil
}

func (w *recordingWriter) snapshot() []model.Candle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.Candle(nil), w.candles...)
}

func klineMsg(openMs int64, final bool) string {
	return fmt.Sprintf(
		`{"e":"kline","E":%d,"s":"BTCUSDT","k":{"t":%d,"T":%d,"s":"BTCUSDT","i":"5m","o":"100","h":"110","l":"95","c":"105","v":"12","x":%t}}`,
		openMs, openMs, openMs+299999, final)
}

func testConfig() Config {
	return Config{
		StreamURL:          "wss://example.invalid/ws/btcusdt@kline_5m",
		ReconnectBaseDelay: time.Millisecond,
		ReconnectMaxDelay:  4 * time.Millisecond,
		BufferSize:         16,
	}
}

func startPipeline(t *testing.T, writer CandleWriter, clients chan Client) *Pipeline {
	t.Helper()
	p := NewPipeline(testConfig(), "BTCUSDT", "5m", writer, nil)
	p.newClient = func() Client { return <-clients }

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Stop(ctx)
	})
	return p
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// Aligned 5m open in milliseconds.
const openMs = int64(1700000100000)

func TestPipeline_PersistsOnlyClosedCandles(t *testing.T) {
	writer := &recordingWriter{}
	fc := newFakeClient()
	clients := make(chan Client, 1)
	clients <- fc

	p := startPipeline(t, writer, clients)

	fc.push(klineMsg(openMs, false))
	fc.push(klineMsg(openMs, false))
	fc.push(klineMsg(openMs, true))

	waitFor(t, func() bool { return len(writer.snapshot()) == 1 }, "closed candle never persisted")

	got := writer.snapshot()[0]
	if !got.OpenTime.Equal(time.UnixMilli(openMs).UTC()) {
		t.Errorf("OpenTime = %v, want %v", got.OpenTime, time.UnixMilli(openMs).UTC())
	}

	stats := p.Stats()
	if stats.Updates != 2 {
		t.Errorf("Updates = %d, want 2", stats.Updates)
	}
	if stats.Closed != 1 {
		t.Errorf("Closed = %d, want 1", stats.Closed)
	}
}

func TestPipeline_SkipsMalformedMessages(t *testing.T) {
	writer := &recordingWriter{}
	fc := newFakeClient()
	clients := make(chan Client, 1)
	clients <- fc

	p := startPipeline(t, writer, clients)

	fc.push(`{broken json`)
	fc.push(`{"e":"trade","s":"BTCUSDT"}`)
	fc.push(klineMsg(openMs, true))

	waitFor(t, func() bool { return len(writer.snapshot()) == 1 }, "valid candle never persisted")

	if got := p.Stats().Malformed; got != 2 {
		t.Errorf("Malformed = %d, want 2", got)
	}
}

func TestPipeline_ReconnectsAfterStreamError(t *testing.T) {
	writer := &recordingWriter{}
	first := newFakeClient()
	second := newFakeClient()
	clients := make(chan Client, 2)
	clients <- first
	clients <- second

	p := startPipeline(t, writer, clients)

	fc := first
	fc.push(klineMsg(openMs, true))
	waitFor(t, func() bool { return len(writer.snapshot()) == 1 }, "first candle never persisted")

	first.errors <- errors.New("connection reset")

	waitFor(t, func() bool { return second.IsConnected() }, "never reconnected")

	second.push(klineMsg(openMs+300000, true))
	waitFor(t, func() bool { return len(writer.snapshot()) == 2 }, "candle after reconnect never persisted")

	if got := p.Stats().Reconnects; got != 1 {
		t.Errorf("Reconnects = %d, want 1", got)
	}
}

func TestPipeline_RetriesFailedDials(t *testing.T) {
	writer := &recordingWriter{}
	bad := newFakeClient()
	bad.dialErr = errors.New("dial tcp: refused")
	good := newFakeClient()
	clients := make(chan Client, 2)
	clients <- bad
	clients <- good

	startPipeline(t, writer, clients)

	waitFor(t, func() bool { return good.IsConnected() }, "never connected after failed dial")
}

// keyedStore mirrors the table's upsert contract: writes land under the
// natural key, so repeated writes of one candle keep a single row.
type keyedStore struct {
	mu      sync.Mutex
	rows    map[string]model.Candle
	upserts int
}

func newKeyedStore() *keyedStore {
	return &keyedStore{rows: make(map[string]model.Candle)}
}

func (s *keyedStore) Upsert(_ context.Context, c model.Candle) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[c.Key()] = c
	s.upserts++
	return nil
}

func (s *keyedStore) UpsertBatch(ctx context.Context, candles []model.Candle) error {
	for _, c := range candles {
		if err := s.Upsert(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *keyedStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *keyedStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

// fixedKlines serves the same page for every request.
type fixedKlines struct{ page []model.Candle }

func (f fixedKlines) Klines(context.Context, string, model.Timeframe, binance.KlinesOptions) ([]model.Candle, error) {
	return f.page, nil
}

// The stream and a backfill job both deliver the same closing candle;
// both writes must succeed and the store must converge on one row.
func TestIngestAndBackfillConvergeOnSameCandle(t *testing.T) {
	kstore := newKeyedStore()
	fc := newFakeClient()
	clients := make(chan Client, 1)
	clients <- fc

	p := startPipeline(t, kstore, clients)

	open := time.UnixMilli(openMs).UTC()
	restCandle := model.Candle{
		OpenTime: open, Symbol: "BTCUSDT", Timeframe: "5m",
		Open:   decimal.NewFromInt(100),
		High:   decimal.NewFromInt(110),
		Low:    decimal.NewFromInt(95),
		Close:  decimal.NewFromInt(105),
		Volume: decimal.NewFromInt(12),
	}
	engine := backfill.NewEngine(fixedKlines{page: []model.Candle{restCandle}}, kstore, backfill.Config{
		PageSize:       1000,
		RetryBase:      time.Millisecond,
		RetryMax:       time.Millisecond,
		MaxPageRetries: 1,
	}, nil)

	var (
		wg      sync.WaitGroup
		res     backfill.Result
		fillErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, fillErr = engine.Fill(context.Background(), model.Gap{
			Symbol: "BTCUSDT", Timeframe: "5m", Start: open, End: open,
		})
	}()
	fc.push(klineMsg(openMs, true))
	wg.Wait()

	if fillErr != nil {
		t.Fatalf("Fill() = %v", fillErr)
	}
	if res.Abandoned {
		t.Error("Abandoned = true, want false")
	}

	waitFor(t, func() bool { return kstore.writes() == 2 }, "both writers never reached the store")

	if got := kstore.size(); got != 1 {
		t.Errorf("stored rows = %d, want 1", got)
	}
	select {
	case err := <-p.Fatal():
		t.Fatalf("Fatal() delivered %v", err)
	default:
	}
}

func TestPipeline_StorageFailureIsFatal(t *testing.T) {
	writer := &recordingWriter{err: errors.New("connection refused")}
	fc := newFakeClient()
	clients := make(chan Client, 1)
	clients <- fc

	p := startPipeline(t, writer, clients)

	fc.push(klineMsg(openMs, true))

	select {
	case err := <-p.Fatal():
		if err == nil {
			t.Fatal("Fatal() delivered nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("storage failure never surfaced on Fatal()")
	}
}
