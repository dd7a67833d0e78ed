// Package indicator computes RSI and SMA over a closing-price series.
// Every function here is pure: no clocks, no I/O, no retained state.
package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/rewired-gh/momentumscanner/internal/models"
)

// ErrInsufficientData is returned when the series is too short or malformed
// for a valid reading.
var ErrInsufficientData = errors.New("insufficient data for indicators")

const (
	DefaultRSIPeriod  = 14
	DefaultSMAPeriod  = 25
	DefaultMinHistory = 30
)

// Engine holds the indicator periods. The zero value is not usable; start
// from DefaultEngine.
type Engine struct {
	RSIPeriod  int
	SMAPeriod  int
	MinHistory int
}

// DefaultEngine returns RSI(14), SMA(25) with a 30-close history floor.
func DefaultEngine() Engine {
	return Engine{
		RSIPeriod:  DefaultRSIPeriod,
		SMAPeriod:  DefaultSMAPeriod,
		MinHistory: DefaultMinHistory,
	}
}

// Compute runs the default engine.
func Compute(closes []float64, current float64) (models.TechnicalReading, error) {
	return DefaultEngine().Compute(closes, current)
}

// Compute appends current to the historical closes (oldest first) and returns
// the latest RSI and SMA. The history floor applies to closes before the
// append.
func (e Engine) Compute(closes []float64, current float64) (models.TechnicalReading, error) {
	floor := e.MinHistory
	if floor < e.RSIPeriod+1 {
		floor = e.RSIPeriod + 1
	}
	if floor < e.SMAPeriod {
		floor = e.SMAPeriod
	}
	if len(closes) < floor {
		return models.TechnicalReading{}, fmt.Errorf("%w: %d closes, need %d", ErrInsufficientData, len(closes), floor)
	}
	if !finite(current) {
		return models.TechnicalReading{}, fmt.Errorf("%w: current price is not finite", ErrInsufficientData)
	}
	for i, c := range closes {
		if !finite(c) {
			return models.TechnicalReading{}, fmt.Errorf("%w: close %d is not finite", ErrInsufficientData, i)
		}
	}

	series := make([]float64, len(closes), len(closes)+1)
	copy(series, closes)
	series = append(series, current)

	rsi, ok := RSI(series, e.RSIPeriod)
	if !ok {
		return models.TechnicalReading{}, ErrInsufficientData
	}
	sma, ok := SMA(series, e.SMAPeriod)
	if !ok {
		return models.TechnicalReading{}, ErrInsufficientData
	}

	return models.TechnicalReading{RSI: rsi, SMA25: sma}, nil
}

// RSI returns the last Wilder RSI value of the series. The first average is
// the simple mean of the first period gains and losses; later ones are
// smoothed as (prev*(period-1) + x) / period. Needs period+1 values.
func RSI(values []float64, period int) (float64, bool) {
	if period < 1 || len(values) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := split(values[i] - values[i-1])
		avgGain += gain
		avgLoss += loss
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p

	for i := period + 1; i < len(values); i++ {
		gain, loss := split(values[i] - values[i-1])
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	return rsiFromAverages(avgGain, avgLoss), true
}

// SMA returns the mean of the last period values.
func SMA(values []float64, period int) (float64, bool) {
	if period < 1 || len(values) < period {
		return 0, false
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return clamp(100-100/(1+rs), 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
