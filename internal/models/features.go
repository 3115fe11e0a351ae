package models

import "time"

// Indicator keys produced by the feature adapter.
const (
	FeatureRSI     = "rsi"
	FeatureSMA20   = "sma_20"
	FeatureEMA50   = "ema_50"
	FeatureBBHigh  = "bb_high"
	FeatureBBLow   = "bb_low"
	FeatureBBWidth = "bb_width"
	FeatureOBV     = "obv"
	FeatureReturns = "returns"
)

// FeatureSnapshot holds the latest indicator values of one symbol on one timeframe.
// It is read-only once produced.
type FeatureSnapshot struct {
	Symbol    string             `json:"symbol"`
	Timeframe string             `json:"timeframe"`
	Values    map[string]float64 `json:"values"`
	At        time.Time          `json:"at"`
}

// Value returns the named indicator, or def when it is absent.
func (f FeatureSnapshot) Value(name string, def float64) float64 {
	if v, ok := f.Values[name]; ok {
		return v
	}
	return def
}

// MultiTimeframeFeatures maps a timeframe to its snapshot.
type MultiTimeframeFeatures map[string]FeatureSnapshot

// Value returns the named indicator on a timeframe, or def when either is absent.
func (m MultiTimeframeFeatures) Value(timeframe, name string, def float64) float64 {
	snap, ok := m[timeframe]
	if !ok {
		return def
	}
	return snap.Value(name, def)
}

// Prediction is the scoring model output: a class index in {0,1,2} and its probability.
type Prediction struct {
	Class         int       `json:"class"`
	Confidence    float64   `json:"confidence"`
	Probabilities []float64 `json:"probabilities,omitempty"`
}
