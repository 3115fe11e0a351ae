// Package risk scores trading signals and bounds position sizes.
package risk

import (
	"math"

	"quantum-trader/internal/models"
)

// Component weights of the risk score.
const (
	SignalWeight     = 0.4
	VolatilityWeight = 0.3
	TrendWeight      = 0.3

	// ExecutableBelow is the exclusive risk score ceiling for execution.
	ExecutableBelow = 0.6
	// MinPositionPercent is the floor of the position size percent.
	MinPositionPercent = 0.01
)

// Evaluator turns a signal and its regime into a risk assessment.
type Evaluator struct {
	maxRiskPerTrade float64
}

// NewEvaluator creates an evaluator capping position size at maxRiskPerTrade.
func NewEvaluator(maxRiskPerTrade float64) *Evaluator {
	return &Evaluator{maxRiskPerTrade: maxRiskPerTrade}
}

// Score returns the mean of the three weighted components, clamped to [0, 1].
func Score(signal models.TradeSignal) float64 {
	components := []float64{
		math.Abs(signal.Direction) * SignalWeight,
		signal.Regime.Volatility * VolatilityWeight,
		(1 - signal.Regime.TrendStrength) * TrendWeight,
	}

	var total float64
	for _, c := range components {
		total += c
	}
	score := total / float64(len(components))

	if math.IsNaN(score) {
		return 1
	}
	return math.Max(0, math.Min(1, score))
}

// Assess scores the signal. A score below 0.6 is executable.
func (e *Evaluator) Assess(signal models.TradeSignal) models.RiskAssessment {
	score := Score(signal)
	return models.RiskAssessment{
		Executable:          score < ExecutableBelow,
		RiskScore:           score,
		PositionSizePercent: math.Max(MinPositionPercent, math.Min(e.maxRiskPerTrade, score)),
	}
}
