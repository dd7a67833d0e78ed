// Package alertstate owns per-symbol alert bookkeeping: cooldowns, the
// cooldown-break rule, alert counters, and the daily counter reset.
package alertstate

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/momentumscanner/internal/models"
)

// Reason explains a ShouldAlert decision.
type Reason string

const (
	ReasonFirstAlert      Reason = "first_alert"
	ReasonCooldownElapsed Reason = "cooldown_elapsed"
	ReasonPriceBreak      Reason = "price_break"
	ReasonRSIBreak        Reason = "rsi_break"
	ReasonCooldown        Reason = "cooldown"
)

// Config holds the cooldown, cooldown-break thresholds and reset zone.
type Config struct {
	Cooldown time.Duration
	// PriceBreakPct is the fractional rise over the last alerted price that
	// overrides an active cooldown (0.02 = 2%).
	PriceBreakPct decimal.Decimal
	// RSIBreakPoints is the RSI rise over the last alerted RSI that overrides
	// an active cooldown.
	RSIBreakPoints float64
	// Location decides where midnight falls for the daily counter reset.
	Location *time.Location
}

// DefaultConfig returns a 10 minute cooldown broken by a 2% price or 5 point
// RSI rise.
func DefaultConfig() Config {
	return Config{
		Cooldown:       10 * time.Minute,
		PriceBreakPct:  decimal.NewFromFloat(0.02),
		RSIBreakPoints: 5,
		Location:       time.Local,
	}
}

// Decision is the outcome of ShouldAlert. Sequence is the number the alert
// would carry if it is recorded.
type Decision struct {
	Emit     bool
	Reason   Reason
	Sequence int
}

// Store is the only owner of SymbolAlertState. The scan loop is its single
// writer; the mutex lets status readers run alongside it.
type Store struct {
	mu     sync.RWMutex
	config Config
	states map[string]*models.SymbolAlertState
	day    string
}

// New creates an empty Store. A nil Location means the local zone.
func New(config Config) *Store {
	if config.Location == nil {
		config.Location = time.Local
	}
	return &Store{
		config: config,
		states: make(map[string]*models.SymbolAlertState),
	}
}

func (s *Store) dayKey(t time.Time) string {
	return t.In(s.config.Location).Format("2006-01-02")
}

// ShouldAlert decides whether an alert for symbol may be emitted at now.
// It never mutates the store.
func (s *Store) ShouldAlert(symbol string, now time.Time, price decimal.Decimal, rsi float64) Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.states[symbol]
	if !exists || state.LastAlertAt.IsZero() {
		return Decision{Emit: true, Reason: ReasonFirstAlert, Sequence: s.nextSequence(state, now)}
	}

	seq := s.nextSequence(state, now)

	if now.Sub(state.LastAlertAt) >= s.config.Cooldown {
		return Decision{Emit: true, Reason: ReasonCooldownElapsed, Sequence: seq}
	}

	if state.LastAlertPrice != nil && state.LastAlertRSI != nil {
		last := *state.LastAlertPrice
		if last.IsPositive() && price.Sub(last).Div(last).GreaterThanOrEqual(s.config.PriceBreakPct) {
			return Decision{Emit: true, Reason: ReasonPriceBreak, Sequence: seq}
		}
		if rsi-*state.LastAlertRSI >= s.config.RSIBreakPoints {
			return Decision{Emit: true, Reason: ReasonRSIBreak, Sequence: seq}
		}
	}

	return Decision{Emit: false, Reason: ReasonCooldown, Sequence: seq}
}

func (s *Store) nextSequence(state *models.SymbolAlertState, now time.Time) int {
	if state == nil || (s.day != "" && s.dayKey(now) != s.day) {
		return 1
	}
	return state.AlertCount + 1
}

// RecordAlert marks an alert as decided for symbol and returns its new count.
func (s *Store) RecordAlert(symbol string, now time.Time, price decimal.Decimal, rsi float64, volume decimal.Decimal) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollDayLocked(now)

	state, exists := s.states[symbol]
	if !exists {
		state = &models.SymbolAlertState{Symbol: symbol}
		s.states[symbol] = state
	}

	state.AlertCount++
	state.LastAlertAt = now
	state.LastAlertPrice = &price
	state.LastAlertRSI = &rsi
	state.LastKnownVolume = &volume

	return state.AlertCount
}

// RollDay clears every alert counter once the local date of now moves past
// the stored day. Cooldown timestamps and last alert values are kept.
// It reports whether a reset happened.
func (s *Store) RollDay(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollDayLocked(now)
}

func (s *Store) rollDayLocked(now time.Time) bool {
	key := s.dayKey(now)
	if s.day == "" {
		s.day = key
		return false
	}
	if key == s.day {
		return false
	}
	for _, state := range s.states {
		state.AlertCount = 0
	}
	s.day = key
	return true
}

// Get returns a copy of the state tracked for symbol.
func (s *Store) Get(symbol string) (models.SymbolAlertState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.states[symbol]
	if !exists {
		return models.SymbolAlertState{}, false
	}
	return *state, true
}

// Snapshot returns copies of all tracked states ordered by symbol.
func (s *Store) Snapshot() []models.SymbolAlertState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := lo.MapToSlice(s.states, func(_ string, state *models.SymbolAlertState) models.SymbolAlertState {
		return *state
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len returns the number of tracked symbols.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
