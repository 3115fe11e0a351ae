package indicators

import "quantum-trader/internal/models"

// OBV calculates On-Balance Volume.
type OBV struct{}

// NewOBV creates a new OBV indicator.
func NewOBV() *OBV {
	return &OBV{}
}

func (o *OBV) Name() string {
	return "OBV"
}

func (o *OBV) Period() int {
	return 1
}

func (o *OBV) Calculate(candles []models.Candle) ([]float64, error) {
	if len(candles) == 0 {
		return nil, ErrInsufficientData
	}

	n := len(candles)
	result := make([]float64, n)
	result[0] = candles[0].Volume

	for i := 1; i < n; i++ {
		switch {
		case candles[i].Close > candles[i-1].Close:
			result[i] = result[i-1] + candles[i].Volume
		case candles[i].Close < candles[i-1].Close:
			result[i] = result[i-1] - candles[i].Volume
		default:
			result[i] = result[i-1]
		}
	}

	return result, nil
}
