// Package binance provides the Binance spot market-data client for REST
// and WebSocket communication.
//
// REST endpoint:
//   - https://api.binance.com/api/v3
//
// WebSocket endpoint:
//   - wss://stream.binance.com:9443/ws/<symbol>@kline_<interval>
//
// Only public market-data endpoints are used; no API key is required.
package binance
