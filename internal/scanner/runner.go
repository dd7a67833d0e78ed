package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/momentumscanner/internal/alertstate"
	"github.com/rewired-gh/momentumscanner/internal/logger"
	"github.com/rewired-gh/momentumscanner/internal/metrics"
	"github.com/rewired-gh/momentumscanner/internal/models"
)

// Backoff is an exponential cool-off policy: Base, 2*Base, 4*Base, ...
// capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the cool-off for the nth consecutive rate limit (n >= 1).
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 || b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < n; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// HealthNotifier receives cycle failure and recovery notices.
type HealthNotifier interface {
	SendError(ctx context.Context, cycleErr error) error
	SendRecovery(ctx context.Context, failureCount int) error
}

// RunnerConfig sets the scan interval and the rate-limit cool-off policy.
type RunnerConfig struct {
	Interval time.Duration
	Backoff  Backoff
}

// Runner schedules scan cycles. Cycles run on a single goroutine, so they
// never overlap; a tick that arrives while a cycle is running is dropped.
type Runner struct {
	scanner *Scanner
	store   *alertstate.Store
	clock   Clock
	config  RunnerConfig

	healthNotifier HealthNotifier
	health         *metrics.Health
	metrics        *metrics.Metrics

	rateLimitStreak     int
	consecutiveFailures int

	// guards fields read by Status from other goroutines
	mu         sync.Mutex
	pauseUntil time.Time
	lastCycle  time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(r *Runner)

// WithHealthNotifier sends cycle failure and recovery notices to n.
func WithHealthNotifier(n HealthNotifier) RunnerOption {
	return func(r *Runner) {
		r.healthNotifier = n
	}
}

// WithHealth reports every finished cycle to h.
func WithHealth(h *metrics.Health) RunnerOption {
	return func(r *Runner) {
		r.health = h
	}
}

// WithClock replaces the wall clock.
func WithClock(c Clock) RunnerOption {
	return func(r *Runner) {
		r.clock = c
	}
}

// NewRunner creates a Runner for s. It shares the scanner's metrics.
func NewRunner(s *Scanner, store *alertstate.Store, config RunnerConfig, opts ...RunnerOption) *Runner {
	r := &Runner{
		scanner: s,
		store:   store,
		clock:   SystemClock{},
		config:  config,
		metrics: s.metrics,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes a cycle immediately and then on every interval tick until ctx
// is cancelled.
func (r *Runner) Run(ctx context.Context) {
	logger.Info("Starting scanner (interval: %v)", r.config.Interval)
	r.Tick(ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Scanner stopped")
			return
		case <-ticker.C:
			r.Tick(ctx)
			// drop a tick that queued up while the cycle was running
			select {
			case <-ticker.C:
				logger.Warn("Cycle overran the %v interval, skipping one tick", r.config.Interval)
				r.metrics.CyclesTotal.WithLabelValues("skipped").Inc()
			default:
			}
		}
	}
}

// Tick runs one scheduled cycle unless a rate-limit cool-off is active.
// It returns the alerts emitted and the cycle error, if any.
func (r *Runner) Tick(ctx context.Context) ([]models.Alert, error) {
	now := r.clock.Now()

	// the ticker fires on a fixed grid while pauseUntil was measured from a
	// later, latency-shifted now; the slack keeps the first tick after the
	// cool-off from being skipped
	if pauseUntil := r.PausedUntil(); now.Add(r.tickSlack()).Before(pauseUntil) {
		logger.Info("Rate-limit cool-off active until %s, skipping cycle", pauseUntil.Format(time.RFC3339))
		r.metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		return nil, nil
	}

	if r.store.RollDay(now) {
		logger.Info("Daily alert counters reset")
	}

	logger.Info("Starting scan cycle")
	alerts, err := r.scanner.Scan(ctx, now)

	finished := r.clock.Now()
	r.mu.Lock()
	r.lastCycle = finished
	r.mu.Unlock()
	r.metrics.CycleDuration.Observe(finished.Sub(now).Seconds())
	r.metrics.LastCycleTimestamp.Set(float64(finished.Unix()))
	if r.health != nil {
		r.health.Observe(finished, err)
	}

	r.handleCycleResult(ctx, now, err)
	if err == nil {
		logger.Info("Scan cycle completed in %v: %d alerts", finished.Sub(now), len(alerts))
	}
	return alerts, err
}

func (r *Runner) handleCycleResult(ctx context.Context, now time.Time, err error) {
	switch {
	case err == nil:
		r.metrics.CyclesTotal.WithLabelValues("ok").Inc()
		r.rateLimitStreak = 0
		if r.consecutiveFailures > 0 && r.healthNotifier != nil {
			if sendErr := r.healthNotifier.SendRecovery(ctx, r.consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification: %v", sendErr)
			}
		}
		r.consecutiveFailures = 0
		return

	case errors.Is(err, models.ErrRateLimited):
		r.metrics.CyclesTotal.WithLabelValues("rate_limited").Inc()
		r.metrics.RateLimitCooloffs.Inc()
		r.rateLimitStreak++
		delay := r.config.Backoff.Delay(r.rateLimitStreak)
		r.mu.Lock()
		r.pauseUntil = now.Add(delay)
		r.mu.Unlock()
		logger.Warn("Rate limited by ticker listing, cooling off for %v (streak %d)", delay, r.rateLimitStreak)

	default:
		r.metrics.CyclesTotal.WithLabelValues("failed").Inc()
		logger.Error("Scan cycle failed: %v", err)
	}

	r.consecutiveFailures++
	if r.consecutiveFailures == 1 && r.healthNotifier != nil {
		if sendErr := r.healthNotifier.SendError(ctx, err); sendErr != nil {
			logger.Warn("Failed to send error notification: %v", sendErr)
		}
	}
}

func (r *Runner) tickSlack() time.Duration {
	return r.config.Interval / 10
}

// PausedUntil returns the end of the current rate-limit cool-off, or the zero
// time when none was ever entered.
func (r *Runner) PausedUntil() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pauseUntil
}

// Status renders a short plain-text summary for the /status command.
func (r *Runner) Status() string {
	r.mu.Lock()
	pauseUntil, lastCycle := r.pauseUntil, r.lastCycle
	r.mu.Unlock()

	var b strings.Builder
	if lastCycle.IsZero() {
		b.WriteString("No cycle finished yet\n")
	} else {
		fmt.Fprintf(&b, "Last cycle: %s\n", lastCycle.Format("2006-01-02 15:04:05"))
	}
	states := r.store.Snapshot()
	fmt.Fprintf(&b, "Tracked symbols: %d\n", len(states))
	for _, st := range states {
		fmt.Fprintf(&b, "%s: %d alerts today, last %s\n", st.Symbol, st.AlertCount, st.LastAlertAt.Format("15:04:05"))
	}
	if now := r.clock.Now(); now.Before(pauseUntil) {
		fmt.Fprintf(&b, "Cooling off until %s\n", pauseUntil.Format("15:04:05"))
	}
	return b.String()
}
