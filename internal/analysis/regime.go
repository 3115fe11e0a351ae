// Package analysis turns features and model output into a regime-adjusted trading signal.
package analysis

import (
	"math"

	"quantum-trader/internal/models"
)

// Missing-reading defaults.
const (
	DefaultTrendReading      = 50.0
	DefaultVolatilityReading = 0.0
)

// RegimeConfig holds the thresholds for regime classification.
type RegimeConfig struct {
	VolatileThreshold    float64 // avg bb_width above which the market may be volatile
	VolatileTrendSpread  float64 // |avg_trend-50| required for a volatile call
	VolatileConfidenceAt float64 // avg bb_width at which volatile confidence reaches 1
	BullishThreshold     float64
	BearishThreshold     float64
	NeutralConfidence    float64
}

// DefaultRegimeConfig returns the default regime thresholds.
func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		VolatileThreshold:    3.0,
		VolatileTrendSpread:  10.0,
		VolatileConfidenceAt: 5.0,
		BullishThreshold:     60.0,
		BearishThreshold:     40.0,
		NeutralConfidence:    0.5,
	}
}

// ClassifyRegime classifies volatility (bb_width %) and trend (RSI) readings
// with the default thresholds.
func ClassifyRegime(volatility, trend []float64) models.MarketRegime {
	return DefaultRegimeConfig().Classify(volatility, trend)
}

// Classify maps averaged readings to a regime. First matching rule wins.
// Empty inputs fall back to the missing-reading defaults.
func (c RegimeConfig) Classify(volatility, trend []float64) models.MarketRegime {
	avgVol := average(volatility, DefaultVolatilityReading)
	avgTrend := average(trend, DefaultTrendReading)
	spread := math.Abs(avgTrend - 50)

	regime := models.MarketRegime{
		Volatility:    avgVol,
		TrendStrength: math.Min(1, spread/50),
	}

	switch {
	case avgVol > c.VolatileThreshold && spread > c.VolatileTrendSpread:
		regime.Kind = models.RegimeVolatile
		regime.Confidence = math.Min(1, avgVol/c.VolatileConfidenceAt)
	case avgTrend > c.BullishThreshold:
		regime.Kind = models.RegimeBullish
		regime.Confidence = math.Min(1, (avgTrend-50)/50)
	case avgTrend < c.BearishThreshold:
		regime.Kind = models.RegimeBearish
		regime.Confidence = math.Min(1, (50-avgTrend)/50)
	default:
		regime.Kind = models.RegimeNeutral
		regime.Confidence = c.NeutralConfidence
	}
	return regime
}

// RegimeFromFeatures reads bb_width and rsi on each reference timeframe.
// A missing timeframe or indicator takes its default; unavailable features
// give the neutral regime.
func (c RegimeConfig) RegimeFromFeatures(feats models.Result[models.MultiTimeframeFeatures], timeframes []string) models.MarketRegime {
	mtf, ok := feats.Get()
	if !ok {
		return models.NeutralRegime()
	}

	volatility := make([]float64, 0, len(timeframes))
	trend := make([]float64, 0, len(timeframes))
	for _, tf := range timeframes {
		volatility = append(volatility, mtf.Value(tf, models.FeatureBBWidth, DefaultVolatilityReading))
		trend = append(trend, mtf.Value(tf, models.FeatureRSI, DefaultTrendReading))
	}
	return c.Classify(volatility, trend)
}

func average(values []float64, def float64) float64 {
	if len(values) == 0 {
		return def
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}
