package risk

import (
	"math"

	apperrors "quantum-trader/internal/errors"
	"quantum-trader/internal/models"
)

// Sizer bounds position quantity by risk at the stop and by available capital.
type Sizer struct {
	maxRiskPerTrade float64
}

// NewSizer creates a sizer risking maxRiskPerTrade of capital per trade.
func NewSizer(maxRiskPerTrade float64) *Sizer {
	return &Sizer{maxRiskPerTrade: maxRiskPerTrade}
}

// Size returns min(capital*risk/|entry-stop|, capital/entry).
// The side is long when the stop sits below the entry.
func (s *Sizer) Size(entry, stop, capital float64) (models.PositionSizeDecision, error) {
	if entry <= 0 || math.IsNaN(entry) {
		return models.PositionSizeDecision{}, apperrors.NewInvariantError("sizer", "entry price must be positive", apperrors.ErrInvalidPrice)
	}
	if capital <= 0 || math.IsNaN(capital) {
		return models.PositionSizeDecision{}, apperrors.NewInvariantError("sizer", "capital must be positive", apperrors.ErrNegativeCapital)
	}

	riskPerUnit := math.Abs(entry - stop)
	if riskPerUnit == 0 {
		return models.PositionSizeDecision{}, apperrors.NewInvariantError("sizer", "stop equals entry", apperrors.ErrDivideByZero)
	}

	riskAmount := capital * s.maxRiskPerTrade
	size := math.Min(riskAmount/riskPerUnit, capital/entry)
	if size < 0 {
		size = 0
	}

	side := models.SideLong
	if stop > entry {
		side = models.SideShort
	}

	return models.PositionSizeDecision{Quantity: size, Side: side}, nil
}
