package scoring

import (
	"context"
	"fmt"
	"math"

	"quantum-trader/internal/models"
)

// featuresPerTimeframe is the model input stride: rsi, sma_20, ema_50, bb_width, returns.
const featuresPerTimeframe = 5

// HeuristicWeights defines the weight of each component in the composite score.
type HeuristicWeights struct {
	RSI      float64
	Trend    float64
	Momentum float64
}

// DefaultHeuristicWeights returns the default component weights.
func DefaultHeuristicWeights() HeuristicWeights {
	return HeuristicWeights{RSI: 0.5, Trend: 0.3, Momentum: 0.2}
}

// HeuristicScorer scores the feature vector with fixed indicator rules.
// It needs no model file or network and is the default scorer.
type HeuristicScorer struct {
	weights HeuristicWeights
}

// NewHeuristicScorer creates a heuristic scorer with default weights.
func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{weights: DefaultHeuristicWeights()}
}

func (h *HeuristicScorer) Name() string { return "heuristic" }

func (h *HeuristicScorer) Close() error { return nil }

// Score averages a composite in [-100, 100] over timeframes and turns it
// into class probabilities.
func (h *HeuristicScorer) Score(_ context.Context, input []float32) models.Result[models.Prediction] {
	if len(input) == 0 || len(input)%featuresPerTimeframe != 0 {
		return models.Unavailable[models.Prediction](fmt.Errorf("heuristic: input length %d is not a multiple of %d", len(input), featuresPerTimeframe))
	}

	var composite float64
	n := len(input) / featuresPerTimeframe
	for i := 0; i < n; i++ {
		f := input[i*featuresPerTimeframe : (i+1)*featuresPerTimeframe]
		composite += h.composite(float64(f[0]), float64(f[1]), float64(f[2]), float64(f[4]))
	}
	composite /= float64(n)

	logits := []float64{-composite / 25, (20 - math.Abs(composite)) / 25, composite / 25}
	pred, err := PredictionFromProbabilities(Softmax(logits))
	if err != nil {
		return models.Unavailable[models.Prediction](err)
	}
	return models.Available(pred)
}

func (h *HeuristicScorer) composite(rsi, sma, ema, ret float64) float64 {
	score := h.weights.RSI * rsiScore(rsi)
	score += h.weights.Trend * trendScore(sma, ema)
	score += h.weights.Momentum * math.Max(-100, math.Min(100, ret*1000))
	return score
}

// rsiScore maps RSI to a score:
// RSI 0-30: +100 to +33 (oversold = bullish)
// RSI 30-50: +33 to 0
// RSI 50-70: 0 to -33
// RSI 70-100: -33 to -100 (overbought = bearish)
func rsiScore(rsi float64) float64 {
	switch {
	case rsi <= 30:
		return 100 - (rsi/30)*67
	case rsi <= 50:
		return 33 - ((rsi-30)/20)*33
	case rsi <= 70:
		return -((rsi - 50) / 20) * 33
	default:
		return -33 - ((rsi-70)/30)*67
	}
}

// trendScore compares the fast SMA to the slow EMA. Missing averages score 0.
func trendScore(sma, ema float64) float64 {
	if sma <= 0 || ema <= 0 {
		return 0
	}
	gap := (sma - ema) / ema * 100
	return math.Max(-100, math.Min(100, gap*20))
}
