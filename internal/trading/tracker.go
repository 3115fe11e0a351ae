package trading

import (
	"math"
	"sync"
	"time"

	apperrors "quantum-trader/internal/errors"
	"quantum-trader/internal/models"
)

// CapitalTracker owns the running capital and the closed-trade history.
// Record is the single write path.
type CapitalTracker struct {
	mu      sync.RWMutex
	initial float64
	current float64
	history []models.TradeRecord
	metrics models.RiskMetrics
}

// NewCapitalTracker creates a tracker starting at initial capital.
func NewCapitalTracker(initial float64) *CapitalTracker {
	return &CapitalTracker{
		initial: initial,
		current: initial,
		history: make([]models.TradeRecord, 0),
	}
}

// Check validates a closed trade against the current capital without recording it.
func (t *CapitalTracker) Check(trade models.TradeRecord) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.checkLocked(trade)
}

func (t *CapitalTracker) checkLocked(trade models.TradeRecord) error {
	if trade.ExitPrice == nil {
		return apperrors.NewInvariantError("tracker", "closed trade "+trade.ID+" has no exit price", apperrors.ErrMissingExitPrice)
	}
	if next := t.current + trade.ProfitLoss; next < 0 || math.IsNaN(next) {
		return apperrors.NewInvariantError("tracker", "recording trade "+trade.ID, apperrors.ErrNegativeCapital)
	}
	return nil
}

// Record adds a closed trade's profit/loss to capital and recomputes metrics.
// On error the state is unchanged.
func (t *CapitalTracker) Record(trade models.TradeRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkLocked(trade); err != nil {
		return err
	}

	t.current += trade.ProfitLoss
	t.history = append(t.history, trade)
	t.metrics = ComputeMetrics(t.history, t.initial)
	return nil
}

// Capital returns the current capital state.
func (t *CapitalTracker) Capital() models.CapitalState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return models.CapitalState{InitialCapital: t.initial, CurrentCapital: t.current}
}

// Metrics returns the metrics as of the last record.
func (t *CapitalTracker) Metrics() models.RiskMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.metrics
}

// History returns a copy of the recorded trades.
func (t *CapitalTracker) History() []models.TradeRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.TradeRecord, len(t.history))
	copy(out, t.history)
	return out
}

// Report snapshots capital and metrics.
func (t *CapitalTracker) Report(openTrades int, at time.Time) models.RiskReport {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return models.RiskReport{
		CapitalState: models.CapitalState{InitialCapital: t.initial, CurrentCapital: t.current},
		RiskMetrics:  t.metrics,
		OpenTrades:   openTrades,
		At:           at,
	}
}

// ComputeMetrics derives risk metrics from a trade history.
// Losing trades include break-even ones. Sharpe uses returns relative to
// initial capital and the population standard deviation; it is 0 when the
// deviation is 0.
func ComputeMetrics(history []models.TradeRecord, initial float64) models.RiskMetrics {
	m := models.RiskMetrics{TotalTrades: len(history)}
	if len(history) == 0 {
		return m
	}

	returns := make([]float64, len(history))
	m.MaxDrawdown = math.Inf(1)
	for i, trade := range history {
		if trade.ProfitLoss > 0 {
			m.WinningTrades++
		} else {
			m.LosingTrades++
		}
		if trade.ProfitLoss < m.MaxDrawdown {
			m.MaxDrawdown = trade.ProfitLoss
		}
		if initial != 0 {
			returns[i] = trade.ProfitLoss / initial
		}
	}

	if initial != 0 {
		m.MaxDrawdownPercent = m.MaxDrawdown / initial * 100
	}

	mean, std := meanStd(returns)
	if std > 1e-12 {
		m.SharpeRatio = mean / std
	}
	return m
}

func meanStd(values []float64) (float64, float64) {
	var total float64
	for _, v := range values {
		total += v
	}
	mean := total / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}
