// Package scanner walks the ticker listing, computes indicators for
// volume-qualified pairs, and turns qualifying signals into alerts.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/momentumscanner/internal/alertstate"
	"github.com/rewired-gh/momentumscanner/internal/indicator"
	"github.com/rewired-gh/momentumscanner/internal/logger"
	"github.com/rewired-gh/momentumscanner/internal/metrics"
	"github.com/rewired-gh/momentumscanner/internal/models"
	"github.com/rewired-gh/momentumscanner/internal/signal"
)

// MarketData lists the tradable pairs.
type MarketData interface {
	Tickers(ctx context.Context) ([]models.TickerSnapshot, error)
}

// CandleFetcher returns closing prices for a base symbol, oldest first.
type CandleFetcher interface {
	FetchCloses(ctx context.Context, symbol string) ([]float64, error)
}

// CandleFetcherFunc adapts a function to CandleFetcher.
type CandleFetcherFunc func(ctx context.Context, symbol string) ([]float64, error)

func (f CandleFetcherFunc) FetchCloses(ctx context.Context, symbol string) ([]float64, error) {
	return f(ctx, symbol)
}

// Notifier delivers a rendered alert message. Retry policy belongs to the
// implementation.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Renderer turns an alert into message text.
type Renderer func(models.Alert) string

// Config holds per-cycle pacing and timeouts.
type Config struct {
	// CandleFetchDelay paces successive candle fetches within a cycle.
	CandleFetchDelay time.Duration
	// RequestTimeout bounds each listing, candle, and notify call.
	RequestTimeout time.Duration
}

// DefaultConfig returns a 1.5s fetch delay and a 15s request timeout.
func DefaultConfig() Config {
	return Config{
		CandleFetchDelay: 1500 * time.Millisecond,
		RequestTimeout:   15 * time.Second,
	}
}

// Scanner runs one scan cycle at a time. It is not safe for concurrent
// cycles; Runner guarantees they never overlap.
type Scanner struct {
	market   MarketData
	candles  CandleFetcher
	store    *alertstate.Store
	strategy signal.Strategy
	engine   indicator.Engine
	config   Config

	notifier Notifier
	render   Renderer
	sleeper  Sleeper
	metrics  *metrics.Metrics
}

// Option configures a Scanner.
type Option func(s *Scanner)

// WithNotifier delivers alerts through n, rendered by render when non-nil.
func WithNotifier(n Notifier, render Renderer) Option {
	return func(s *Scanner) {
		s.notifier = n
		if render != nil {
			s.render = render
		}
	}
}

// WithSleeper replaces the pacing sleeper.
func WithSleeper(sl Sleeper) Option {
	return func(s *Scanner) {
		s.sleeper = sl
	}
}

// WithMetrics records cycle metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) {
		s.metrics = m
	}
}

// WithEngine replaces the default RSI(14)/SMA(25) engine.
func WithEngine(e indicator.Engine) Option {
	return func(s *Scanner) {
		s.engine = e
	}
}

// New creates a Scanner. Without options it renders plain text, sleeps on real
// timers, and records into a private metrics registry.
func New(market MarketData, candles CandleFetcher, store *alertstate.Store, strategy signal.Strategy, config Config, opts ...Option) *Scanner {
	s := &Scanner{
		market:   market,
		candles:  candles,
		store:    store,
		strategy: strategy,
		engine:   indicator.DefaultEngine(),
		config:   config,
		render:   plainText,
		sleeper:  TimerSleeper{},
		metrics:  metrics.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan fetches the ticker listing and runs a cycle over it. A listing
// failure aborts the cycle and is returned; it wraps models.ErrRateLimited
// when the provider throttled us.
func (s *Scanner) Scan(ctx context.Context, now time.Time) ([]models.Alert, error) {
	listCtx, cancel := s.withTimeout(ctx)
	snapshots, err := s.market.Tickers(listCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickers: %w", err)
	}
	s.metrics.PairsListed.Set(float64(len(snapshots)))
	logger.Info("Fetched %d tickers", len(snapshots))

	return s.RunCycle(ctx, snapshots, s.candles, now), nil
}

// RunCycle evaluates snapshots in listing order and returns the alerts it
// emitted. Pairs at or below the volume floor are skipped before any candle
// request; a failing pair is logged and skipped.
func (s *Scanner) RunCycle(ctx context.Context, snapshots []models.TickerSnapshot, fetcher CandleFetcher, now time.Time) []models.Alert {
	if fetcher == nil {
		fetcher = s.candles
	}
	var alerts []models.Alert
	fetched := 0

	for _, snap := range snapshots {
		if ctx.Err() != nil {
			logger.Warn("Cycle interrupted: %v", ctx.Err())
			break
		}
		if !s.strategy.QualifiesVolume(snap.VolumeQuote) {
			continue
		}

		if fetched > 0 {
			if err := s.sleeper.Sleep(ctx, s.config.CandleFetchDelay); err != nil {
				logger.Warn("Cycle interrupted while pacing: %v", err)
				break
			}
		}
		fetched++

		if alert, ok := s.evaluatePair(ctx, snap, fetcher, now); ok {
			alerts = append(alerts, alert)
		}
	}

	logger.Debug("Cycle evaluated %d volume-qualified pairs of %d, %d alerts", fetched, len(snapshots), len(alerts))
	return alerts
}

func (s *Scanner) evaluatePair(ctx context.Context, snap models.TickerSnapshot, fetcher CandleFetcher, now time.Time) (alert models.Alert, emitted bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Error on pair %s: %v", snap.Pair, r)
			emitted = false
		}
	}()

	fetchCtx, cancel := s.withTimeout(ctx)
	closes, err := fetcher.FetchCloses(fetchCtx, snap.Symbol)
	cancel()
	if err != nil {
		s.metrics.CandleFetchErrors.Inc()
		logger.Warn("Skip %s: %v", snap.Symbol, err)
		return models.Alert{}, false
	}

	price := snap.LastPrice.InexactFloat64()
	reading, err := s.engine.Compute(closes, price)
	if err != nil {
		s.metrics.CandleFetchErrors.Inc()
		if errors.Is(err, indicator.ErrInsufficientData) {
			logger.Debug("Skip %s: %v", snap.Symbol, err)
		} else {
			logger.Warn("Skip %s: %v", snap.Symbol, err)
		}
		return models.Alert{}, false
	}
	s.metrics.PairsEvaluated.Inc()

	if !s.strategy.Evaluate(price, reading.SMA25, reading.RSI) {
		return models.Alert{}, false
	}

	decision := s.store.ShouldAlert(snap.Symbol, now, snap.LastPrice, reading.RSI)
	if !decision.Emit {
		s.metrics.AlertsSuppressed.WithLabelValues(string(decision.Reason)).Inc()
		logger.Debug("Suppressed %s: %s (rsi=%.2f price=%s)", snap.Symbol, decision.Reason, reading.RSI, snap.LastPrice)
		return models.Alert{}, false
	}

	alert = models.Alert{
		ID:           uuid.NewString(),
		Symbol:       snap.Symbol,
		Pair:         snap.Pair,
		Price:        snap.LastPrice,
		Volume:       snap.VolumeQuote,
		RSI:          reading.RSI,
		SMA25:        reading.SMA25,
		DeviationPct: reading.DeviationPct(price),
		Sequence:     decision.Sequence,
		Reason:       string(decision.Reason),
		DetectedAt:   now,
	}

	if s.notifier != nil {
		notifyCtx, cancel := s.withTimeout(ctx)
		err := s.notifier.Send(notifyCtx, s.render(alert))
		cancel()
		if err != nil {
			s.metrics.NotifyFailures.Inc()
			logger.Error("Failed to send alert for %s: %v", snap.Symbol, err)
		} else {
			alert.Notified = true
			logger.Info("Sent alert %s for %s (#%d, %s)", alert.ID, snap.Symbol, alert.Sequence, alert.Reason)
		}
	}

	// Delivery is best-effort; the alert is decided either way.
	alert.Sequence = s.store.RecordAlert(snap.Symbol, now, snap.LastPrice, reading.RSI, snap.VolumeQuote)
	s.metrics.AlertsEmitted.Inc()
	s.metrics.TrackedSymbols.Set(float64(s.store.Len()))

	return alert, true
}

func (s *Scanner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.RequestTimeout)
}

func plainText(a models.Alert) string {
	return fmt.Sprintf("#%s RSI %.2f | #%d | price %s | %+.2f%% vs MA25 | vol %s | %s",
		a.Symbol, a.RSI, a.Sequence, a.Price, a.DeviationPct, a.Volume, a.DetectedAt.Format("15:04:05"))
}
