package analysis

import "quantum-trader/internal/models"

// Aggregator combines a model prediction with the market regime.
type Aggregator struct {
	multipliers map[models.RegimeKind]float64
}

// NewAggregator creates an aggregator with the standard regime multipliers.
func NewAggregator() *Aggregator {
	return &Aggregator{
		multipliers: map[models.RegimeKind]float64{
			models.RegimeBullish:  1.2,
			models.RegimeBearish:  0.8,
			models.RegimeVolatile: 0.5,
			models.RegimeNeutral:  1.0,
		},
	}
}

// SignalFromClass maps a model class to a raw direction: 0 sell, 1 hold, 2 buy.
func SignalFromClass(class int) float64 {
	switch class {
	case 0:
		return -1
	case 2:
		return 1
	default:
		return 0
	}
}

// Multiplier returns the direction multiplier for a regime. Unknown regimes get 1.
func (a *Aggregator) Multiplier(kind models.RegimeKind) float64 {
	if m, ok := a.multipliers[kind]; ok {
		return m
	}
	return 1.0
}

// NeutralSignal is the signal used when the model could not score.
func NeutralSignal(symbol string) models.TradeSignal {
	return models.TradeSignal{
		Symbol:     symbol,
		Direction:  0,
		Confidence: 0.5,
		Regime:     models.NeutralRegime(),
	}
}

// Aggregate scales the model direction by the regime and its confidence
// by the regime confidence.
func (a *Aggregator) Aggregate(symbol string, pred models.Result[models.Prediction], regime models.MarketRegime) models.TradeSignal {
	p, ok := pred.Get()
	if !ok {
		return NeutralSignal(symbol)
	}

	return models.TradeSignal{
		Symbol:     symbol,
		Direction:  SignalFromClass(p.Class) * a.Multiplier(regime.Kind),
		Confidence: clamp01(p.Confidence * regime.Confidence),
		Regime:     regime,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
