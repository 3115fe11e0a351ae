package models

// RegimeKind is the coarse market regime.
type RegimeKind string

const (
	RegimeBullish  RegimeKind = "bullish"
	RegimeBearish  RegimeKind = "bearish"
	RegimeVolatile RegimeKind = "volatile"
	RegimeNeutral  RegimeKind = "neutral"
)

// MarketRegime is derived fresh every cycle and never persisted.
type MarketRegime struct {
	Kind          RegimeKind `json:"regime"`
	Confidence    float64    `json:"confidence"`
	Volatility    float64    `json:"volatility"`
	TrendStrength float64    `json:"trend_strength"`
}

// NeutralRegime is the regime used when features are unavailable.
func NeutralRegime() MarketRegime {
	return MarketRegime{Kind: RegimeNeutral, Confidence: 0.5}
}

// TradeSignal is the regime-adjusted directional signal for one symbol.
type TradeSignal struct {
	Symbol     string       `json:"symbol"`
	Direction  float64      `json:"signal"`
	Confidence float64      `json:"confidence"`
	Regime     MarketRegime `json:"market_regime"`
}

// Side returns long for a positive direction and short otherwise.
func (s TradeSignal) Side() Side {
	if s.Direction > 0 {
		return SideLong
	}
	return SideShort
}

// RiskAssessment is derived deterministically from a TradeSignal.
type RiskAssessment struct {
	Executable          bool    `json:"executable"`
	RiskScore           float64 `json:"risk_score"`
	PositionSizePercent float64 `json:"position_size_percent"`
}

// DefaultAssessment is the non-executable assessment paired with the neutral signal.
func DefaultAssessment() RiskAssessment {
	return RiskAssessment{Executable: false, RiskScore: 0.5}
}

// PositionSizeDecision is the bounded quantity for a trade.
type PositionSizeDecision struct {
	Quantity float64 `json:"quantity"`
	Side     Side    `json:"side"`
}
