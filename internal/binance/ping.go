package binance

import (
	"context"
	"fmt"
	"time"
)

// Ping checks REST connectivity.
func (c *Client) Ping(ctx context.Context) error {
	var resp struct{}
	if err := c.get(ctx, "/api/v3/ping", nil, &resp); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// ServerTime returns the exchange clock, useful for spotting local
// clock drift before trusting window arithmetic.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.get(ctx, "/api/v3/time", nil, &resp); err != nil {
		return time.Time{}, fmt.Errorf("server time: %w", err)
	}
	return time.UnixMilli(resp.ServerTime).UTC(), nil
}
