// Package scoring maps a feature vector to a three-way class prediction.
package scoring

import (
	"context"
	"fmt"
	"math"

	"quantum-trader/internal/models"
)

// Prediction classes.
const (
	ClassSell = 0
	ClassHold = 1
	ClassBuy  = 2
)

// Scorer scores a model input vector. Failures are reported as Unavailable.
type Scorer interface {
	Name() string
	Score(ctx context.Context, input []float32) models.Result[models.Prediction]
	Close() error
}

// PredictionFromProbabilities picks the most probable class; ties go to the
// lower index. Confidence is that class's probability.
func PredictionFromProbabilities(probs []float64) (models.Prediction, error) {
	if len(probs) != 3 {
		return models.Prediction{}, fmt.Errorf("expected 3 class probabilities, got %d", len(probs))
	}
	best := 0
	for i, p := range probs {
		if math.IsNaN(p) {
			return models.Prediction{}, fmt.Errorf("probability %d is NaN", i)
		}
		if p > probs[best] {
			best = i
		}
	}
	return models.Prediction{
		Class:         best,
		Confidence:    math.Max(0, math.Min(1, probs[best])),
		Probabilities: append([]float64(nil), probs...),
	}, nil
}

// Softmax normalizes logits into probabilities.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		maxLogit = math.Max(maxLogit, l)
	}
	out := make([]float64, len(logits))
	var total float64
	for i, l := range logits {
		out[i] = math.Exp(l - maxLogit)
		total += out[i]
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

// isProbabilityVector reports whether values already sum to ~1 and are non-negative.
func isProbabilityVector(values []float64) bool {
	var total float64
	for _, v := range values {
		if v < 0 {
			return false
		}
		total += v
	}
	return math.Abs(total-1) < 1e-3
}
