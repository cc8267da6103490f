package ingest

import (
	"errors"
	"time"
)

// Errors
var (
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // Full stream URL for one pair
	PingInterval time.Duration // How often to send keepalive pings
	PingTimeout  time.Duration // Max time without server contact before the connection is stale
	WriteTimeout time.Duration // Write deadline for control frames
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 15 * time.Second,
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   256,
	}
}

// Config configures a Pipeline.
type Config struct {
	StreamURL          string        // Full stream URL for the pair
	ReconnectBaseDelay time.Duration // Base wait time for reconnection
	ReconnectMaxDelay  time.Duration // Max wait time for reconnection
	PingInterval       time.Duration
	PingTimeout        time.Duration
	BufferSize         int // Candle channel buffer size
}

// Metrics counts pipeline activity.
type Metrics struct {
	Received   int64 // All stream messages seen
	Closed     int64 // Closed candles persisted
	Updates    int64 // Forming-interval updates discarded
	Malformed  int64 // Messages skipped as unparseable
	Reconnects int64
}
