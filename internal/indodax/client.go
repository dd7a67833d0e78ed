// Package indodax fetches ticker summaries and candle history from the
// Indodax public API.
package indodax

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/momentumscanner/internal/logger"
	"github.com/rewired-gh/momentumscanner/internal/models"
)

const defaultUserAgent = "Mozilla/5.0 (compatible; momentumscanner)"

// ClientConfig tunes the HTTP behavior and candle window.
type ClientConfig struct {
	Quote          string        // quote currency, e.g. "idr"
	Timeframe      string        // history_v2 tf parameter, e.g. "60"
	Lookback       time.Duration // candle window ending now
	MaxRetries     int
	RetryDelayBase time.Duration
	UserAgent      string
}

// Client provides access to the Indodax public API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	config     ClientConfig
	now        func() time.Time
}

// summariesResponse is the /api/summaries envelope. Ticker fields are kept raw
// because the volume key depends on the quote currency (vol_idr, vol_usdt).
type summariesResponse struct {
	Tickers map[string]map[string]json.RawMessage `json:"tickers"`
}

// NewClient creates a new Indodax client.
func NewClient(baseURL string, timeout time.Duration, config ClientConfig) *Client {
	if config.Quote == "" {
		config.Quote = "idr"
	}
	if config.Timeframe == "" {
		config.Timeframe = "60"
	}
	if config.Lookback <= 0 {
		config.Lookback = 48 * time.Hour
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelayBase <= 0 {
		config.RetryDelayBase = time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	config.Quote = strings.ToLower(config.Quote)

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		config: config,
		now:    time.Now,
	}
}

// Tickers retrieves the ticker listing and returns the pairs quoted in the
// configured currency, ordered by pair id.
func (c *Client) Tickers(ctx context.Context) ([]models.TickerSnapshot, error) {
	resp, err := c.doRequest(ctx, c.baseURL+"/api/summaries")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch summaries: %w", err)
	}
	defer resp.Body.Close()

	var body summariesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode summaries: %w", err)
	}
	if body.Tickers == nil {
		return nil, fmt.Errorf("summaries response has no tickers")
	}

	suffix := "_" + c.config.Quote
	volumeKey := "vol_" + c.config.Quote

	pairs := lo.Filter(lo.Keys(body.Tickers), func(pair string, _ int) bool {
		return strings.HasSuffix(pair, suffix)
	})
	sort.Strings(pairs)

	snapshots := make([]models.TickerSnapshot, 0, len(pairs))
	for _, pair := range pairs {
		fields := body.Tickers[pair]
		last, err := decodeDecimal(fields["last"])
		if err != nil {
			logger.Debug("Skip pair %s: last: %v", pair, err)
			continue
		}
		volume, err := decodeDecimal(fields[volumeKey])
		if err != nil {
			logger.Debug("Skip pair %s: %s: %v", pair, volumeKey, err)
			continue
		}
		snap := models.TickerSnapshot{
			Pair:        pair,
			Symbol:      models.BaseSymbol(pair),
			LastPrice:   last,
			VolumeQuote: volume,
		}
		if err := snap.Validate(); err != nil {
			logger.Debug("Skip pair %s: %v", pair, err)
			continue
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, nil
}

// FetchCandles retrieves the candle window for symbol (base symbol, e.g. "BTC").
func (c *Client) FetchCandles(ctx context.Context, symbol string) ([]models.Candle, error) {
	to := c.now()
	from := to.Add(-c.config.Lookback)

	u, err := url.Parse(c.baseURL + "/tradingview/history_v2")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(to.Unix(), 10))
	q.Set("symbol", strings.ToUpper(symbol)+strings.ToUpper(c.config.Quote))
	q.Set("tf", c.config.Timeframe)
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrDataUnavailable, symbol, err)
	}
	defer resp.Body.Close()

	var candles []models.Candle
	if err := json.NewDecoder(resp.Body).Decode(&candles); err != nil {
		return nil, fmt.Errorf("%w: %s: failed to decode candles: %v", models.ErrDataUnavailable, symbol, err)
	}
	return candles, nil
}

// FetchCloses returns the closing prices of the candle window, oldest first.
func (c *Client) FetchCloses(ctx context.Context, symbol string) ([]float64, error) {
	candles, err := c.FetchCandles(ctx, symbol)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })

	return lo.Map(candles, func(k models.Candle, _ int) float64 {
		return k.Close.InexactFloat64()
	}), nil
}

func decodeDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 {
		return decimal.Zero, fmt.Errorf("missing field")
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// doRequest performs a GET with linear-backoff retry on transport errors and
// 5xx responses. 429 is returned immediately as models.ErrRateLimited.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.config.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelayBase * time.Duration(i)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.config.UserAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			drain(resp)
			return nil, models.ErrRateLimited
		case resp.StatusCode >= 500:
			drain(resp)
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			drain(resp)
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
