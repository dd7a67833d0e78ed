// Package signal holds the bullish-momentum strategy predicate.
package signal

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Strategy is the rule set applied to each pair.
type Strategy struct {
	// MinVolume is the quote-volume floor; pairs at or below it are never
	// evaluated.
	MinVolume decimal.Decimal
	RSILower  float64
	RSIUpper  float64
}

// DefaultStrategy returns a 10 billion IDR volume floor and an RSI band of
// 50..100.
func DefaultStrategy() Strategy {
	return Strategy{
		MinVolume: decimal.New(10, 9),
		RSILower:  50,
		RSIUpper:  100,
	}
}

// Validate checks the strategy bounds.
func (s Strategy) Validate() error {
	if s.MinVolume.IsNegative() {
		return fmt.Errorf("min volume must not be negative")
	}
	if s.RSILower < 0 || s.RSIUpper > 100 {
		return fmt.Errorf("rsi bounds must be within [0, 100]")
	}
	if s.RSILower > s.RSIUpper {
		return fmt.Errorf("rsi lower bound %.2f exceeds upper bound %.2f", s.RSILower, s.RSIUpper)
	}
	return nil
}

// QualifiesVolume reports whether a pair's quote volume clears the floor.
func (s Strategy) QualifiesVolume(volume decimal.Decimal) bool {
	return volume.GreaterThan(s.MinVolume)
}

// Evaluate reports whether price is strictly above the SMA and RSI sits
// inside the inclusive band.
func (s Strategy) Evaluate(price, sma25, rsi float64) bool {
	return price > sma25 && rsi >= s.RSILower && rsi <= s.RSIUpper
}
