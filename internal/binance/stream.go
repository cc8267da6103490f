package binance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safetradelab/candle-collector/internal/model"
)

// KlineEvent is one message from a <symbol>@kline_<interval> stream.
type KlineEvent struct {
	EventType string     `json:"e"`
	EventTime int64      `json:"E"` // Milliseconds
	Symbol    string     `json:"s"`
	Kline     KlineEntry `json:"k"`
}

// KlineEntry is the candle payload inside a kline event. The stream
// emits updates for the forming interval continuously; IsFinal flips to
// true exactly once, on the message that closes the interval.
type KlineEntry struct {
	StartTime int64  `json:"t"` // Interval open, milliseconds
	CloseTime int64  `json:"T"` // Interval close, milliseconds
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	IsFinal   bool   `json:"x"`
}

// ParseKlineEvent decodes a raw stream message.
func ParseKlineEvent(data []byte) (*KlineEvent, error) {
	var ev KlineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal kline event: %w", err)
	}
	if ev.EventType != "kline" {
		return nil, fmt.Errorf("unexpected event type %q", ev.EventType)
	}
	return &ev, nil
}

// Candle converts the entry into a validated candle.
func (k KlineEntry) Candle() (model.Candle, error) {
	tf, err := model.ParseTimeframe(k.Interval)
	if err != nil {
		return model.Candle{}, err
	}

	fields := [5]string{k.Open, k.High, k.Low, k.Close, k.Volume}
	var parsed [5]decimal.Decimal
	for i, s := range fields {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.Candle{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		parsed[i] = d
	}

	c := model.Candle{
		OpenTime:  time.UnixMilli(k.StartTime).UTC(),
		Symbol:    k.Symbol,
		Timeframe: tf,
		Open:      parsed[0],
		High:      parsed[1],
		Low:       parsed[2],
		Close:     parsed[3],
		Volume:    parsed[4],
	}
	if err := c.Validate(); err != nil {
		return model.Candle{}, err
	}
	return c, nil
}

// StreamURL builds the websocket URL for one symbol's kline stream.
// Stream names use the lowercase symbol.
func StreamURL(base, symbol string, tf model.Timeframe) string {
	return fmt.Sprintf("%s/%s@kline_%s", strings.TrimRight(base, "/"), strings.ToLower(symbol), tf)
}
