package signal

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestEvaluate(t *testing.T) {
	s := DefaultStrategy()

	tests := []struct {
		name  string
		price float64
		sma   float64
		rsi   float64
		want  bool
	}{
		{"uptrend in band", 105, 100, 65, true},
		{"price equals sma", 100, 100, 65, false},
		{"price below sma", 99, 100, 65, false},
		{"rsi at lower bound", 105, 100, 50, true},
		{"rsi just below lower bound", 105, 100, 49.99, false},
		{"rsi at upper bound", 105, 100, 100, true},
		{"rsi above upper bound", 105, 100, 100.01, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Evaluate(tt.price, tt.sma, tt.rsi); got != tt.want {
				t.Errorf("Evaluate(%v, %v, %v) = %v, want %v", tt.price, tt.sma, tt.rsi, got, tt.want)
			}
		})
	}
}

func TestEvaluate_CustomBand(t *testing.T) {
	s := Strategy{RSILower: 55, RSIUpper: 70}
	if s.Evaluate(105, 100, 75) {
		t.Error("rsi 75 must fail a 55..70 band")
	}
	if !s.Evaluate(105, 100, 60) {
		t.Error("rsi 60 must pass a 55..70 band")
	}
}

func TestQualifiesVolume(t *testing.T) {
	s := Strategy{MinVolume: decimal.NewFromInt(1000000000)}

	if s.QualifiesVolume(decimal.NewFromInt(1000000000)) {
		t.Error("volume equal to the floor must not qualify")
	}
	if !s.QualifiesVolume(decimal.NewFromInt(2000000000)) {
		t.Error("volume above the floor must qualify")
	}
	if s.QualifiesVolume(decimal.Zero) {
		t.Error("zero volume must not qualify")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		wantErr  bool
	}{
		{"default", DefaultStrategy(), false},
		{"inverted band", Strategy{RSILower: 70, RSIUpper: 50}, true},
		{"upper above 100", Strategy{RSILower: 50, RSIUpper: 101}, true},
		{"negative lower", Strategy{RSILower: -1, RSIUpper: 50}, true},
		{"negative volume", Strategy{MinVolume: decimal.NewFromInt(-1), RSIUpper: 100}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.strategy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
