package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TechnicalReading holds the most recent indicator values for one evaluation.
type TechnicalReading struct {
	RSI   float64
	SMA25 float64
}

// DeviationPct returns how far price sits above (or below) the SMA, in percent.
func (r TechnicalReading) DeviationPct(price float64) float64 {
	if r.SMA25 == 0 {
		return 0
	}
	return (price - r.SMA25) / r.SMA25 * 100
}

// SymbolAlertState is the per-symbol alert bookkeeping. LastAlertPrice and
// LastAlertRSI are nil until the first alert is recorded.
type SymbolAlertState struct {
	Symbol string

	AlertCount int

	LastAlertAt     time.Time
	LastAlertPrice  *decimal.Decimal
	LastAlertRSI    *float64
	LastKnownVolume *decimal.Decimal
}

// Alert is a decided bullish-momentum signal for one symbol.
type Alert struct {
	ID     string
	Symbol string
	Pair   string

	Price        decimal.Decimal
	Volume       decimal.Decimal
	RSI          float64
	SMA25        float64
	DeviationPct float64

	Sequence int
	Reason   string

	DetectedAt time.Time
	Notified   bool
}
