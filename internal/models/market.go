// Package models defines the core domain entities: ticker snapshots, candles,
// indicator readings, alerts, and per-symbol alert state.
package models

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrDataUnavailable marks a per-symbol data outage: a timeout, a non-2xx
	// response, or malformed candle data. The symbol is skipped for the cycle.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrRateLimited marks an HTTP 429 (or equivalent) from the provider.
	ErrRateLimited = errors.New("rate limited by market data provider")
)

// TickerSnapshot is one pair's entry in a ticker listing.
// Pair follows the exchange's "<base>_<quote>" convention; Symbol is the
// upper-cased base.
type TickerSnapshot struct {
	Pair        string          `json:"pair"`
	Symbol      string          `json:"symbol"`
	LastPrice   decimal.Decimal `json:"last_price"`
	VolumeQuote decimal.Decimal `json:"volume_quote"`
}

// Validate checks ticker field constraints.
func (t *TickerSnapshot) Validate() error {
	if t.Pair == "" {
		return errors.New("pair must not be empty")
	}
	if t.Symbol == "" {
		return errors.New("symbol must not be empty")
	}
	if !strings.Contains(t.Pair, "_") {
		return errors.New("pair must follow the <base>_<quote> convention")
	}
	if !t.LastPrice.IsPositive() {
		return errors.New("last price must be positive")
	}
	if t.VolumeQuote.IsNegative() {
		return errors.New("quote volume must not be negative")
	}
	return nil
}

// BaseSymbol extracts the upper-cased base symbol from a "<base>_<quote>" pair.
func BaseSymbol(pair string) string {
	base, _, _ := strings.Cut(pair, "_")
	return strings.ToUpper(base)
}

// Candle is one OHLCV record from the history endpoint.
type Candle struct {
	Time   int64           `json:"Time"`
	Open   decimal.Decimal `json:"Open"`
	High   decimal.Decimal `json:"High"`
	Low    decimal.Decimal `json:"Low"`
	Close  decimal.Decimal `json:"Close"`
	Volume decimal.Decimal `json:"Volume"`
}

// OpenTime returns the candle's open time.
func (c Candle) OpenTime() time.Time {
	return time.Unix(c.Time, 0)
}
