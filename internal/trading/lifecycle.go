package trading

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "quantum-trader/internal/errors"
	"quantum-trader/internal/models"
)

// OrderPlacer places market orders. broker.Venue satisfies it.
type OrderPlacer interface {
	PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, qty float64) (*models.OrderAck, error)
}

// LifecycleConfig holds the admission limits.
type LifecycleConfig struct {
	MaxOpenTrades    int
	MaxTradeDuration time.Duration
}

// Proposal is a sized trade waiting for admission.
type Proposal struct {
	Symbol          string
	Side            models.Side
	Quantity        float64
	EntryPrice      float64
	StopPrice       float64
	TakeProfitPrice float64
	// CurrentPrice is the exit price used if a stale trade on Symbol must expire.
	CurrentPrice float64
}

// Admission is the outcome of Admit. Expired is set when a stale trade on the
// same symbol was closed to make room, even if the proposal was then denied.
// Rejected holds the proposal in state Rejected when admission denied it.
type Admission struct {
	Trade    *models.TradeRecord
	Expired  *models.TradeRecord
	Rejected *models.TradeRecord
}

// ExitReason says why a trade was closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitExpired    ExitReason = "expired"
)

// LifecycleManager owns the open trades. It admits proposals, places the
// entry order, and closes trades into the CapitalTracker.
type LifecycleManager struct {
	mu      sync.Mutex
	cfg     LifecycleConfig
	placer  OrderPlacer
	tracker *CapitalTracker
	open    map[string]*models.TradeRecord
	now     func() time.Time
}

// NewLifecycleManager creates a lifecycle manager.
func NewLifecycleManager(cfg LifecycleConfig, placer OrderPlacer, tracker *CapitalTracker) *LifecycleManager {
	if cfg.MaxOpenTrades <= 0 {
		cfg.MaxOpenTrades = 3
	}
	if cfg.MaxTradeDuration <= 0 {
		cfg.MaxTradeDuration = 24 * time.Hour
	}
	return &LifecycleManager{
		cfg:     cfg,
		placer:  placer,
		tracker: tracker,
		open:    make(map[string]*models.TradeRecord),
		now:     time.Now,
	}
}

// SetClock replaces the time source.
func (m *LifecycleManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Admit runs admission for a proposal and, when admitted, places the entry
// order. A stale trade on the same symbol is expired first, so its slot is
// reusable in the same check. Denials are returned as *errors.AdmissionError
// with the proposal stamped Rejected in Admission.Rejected.
// The whole call holds the manager lock; the order is placed with a context
// that ignores cancellation so a placed order always gets its record.
func (m *LifecycleManager) Admit(ctx context.Context, p Proposal) (Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result Admission
	now := m.now()

	if existing, ok := m.open[p.Symbol]; ok && existing.Age(now) > m.cfg.MaxTradeDuration {
		if p.CurrentPrice <= 0 {
			return result, apperrors.NewInvariantError("lifecycle", "expiring "+existing.ID, apperrors.ErrMissingExitPrice)
		}
		expired, err := m.closeLocked(ctx, existing, p.CurrentPrice, models.TradeClosedExpired, now)
		if err != nil {
			return result, fmt.Errorf("expiring stale trade on %s: %w", p.Symbol, err)
		}
		result.Expired = &expired
	}

	trade := &models.TradeRecord{
		ID:              models.NewTradeID(),
		Symbol:          p.Symbol,
		Side:            p.Side,
		Quantity:        p.Quantity,
		EntryPrice:      p.EntryPrice,
		StopPrice:       p.StopPrice,
		TakeProfitPrice: p.TakeProfitPrice,
		State:           models.TradeProposed,
	}
	reject := func(err *apperrors.AdmissionError) (Admission, error) {
		rejected := *trade
		rejected.State = models.TradeRejected
		result.Rejected = &rejected
		return result, err
	}

	if len(m.open) >= m.cfg.MaxOpenTrades {
		return reject(apperrors.NewAdmissionError(p.Symbol, "max_open_trades",
			float64(len(m.open)), float64(m.cfg.MaxOpenTrades), "too many open trades"))
	}

	if existing, ok := m.open[p.Symbol]; ok {
		return reject(apperrors.NewAdmissionError(p.Symbol, "one_trade_per_symbol",
			existing.Age(now).Hours(), m.cfg.MaxTradeDuration.Hours(), "symbol already has an open trade"))
	}

	if p.Quantity <= 0 || p.EntryPrice <= 0 {
		return result, apperrors.NewInvariantError("lifecycle", "proposal needs positive quantity and entry", apperrors.ErrInvalidPrice)
	}

	ack, err := m.placer.PlaceMarketOrder(context.WithoutCancel(ctx), p.Symbol, p.Side.OrderSide(), p.Quantity)
	if err != nil {
		return result, err
	}

	trade.OpenedAt = now
	trade.State = models.TradeOpen
	if ack != nil {
		trade.OrderID = ack.OrderID
		if ack.FilledPrice > 0 {
			trade.EntryPrice = ack.FilledPrice
		}
		if ack.Quantity > 0 {
			trade.Quantity = ack.Quantity
		}
	}

	m.open[p.Symbol] = trade
	opened := *trade
	result.Trade = &opened
	return result, nil
}

// Close closes the open trade on symbol at exitPrice with state ClosedNormal.
func (m *LifecycleManager) Close(ctx context.Context, symbol string, exitPrice float64) (models.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trade, ok := m.open[symbol]
	if !ok {
		return models.TradeRecord{}, fmt.Errorf("closing %s: %w", symbol, apperrors.ErrTradeNotFound)
	}
	if exitPrice <= 0 {
		return models.TradeRecord{}, apperrors.NewInvariantError("lifecycle", "closing "+trade.ID, apperrors.ErrMissingExitPrice)
	}
	return m.closeLocked(ctx, trade, exitPrice, models.TradeClosedNormal, m.now())
}

// closeLocked validates the closed record against the tracker, places the
// offsetting order, then records. Any failure leaves the trade open.
func (m *LifecycleManager) closeLocked(ctx context.Context, trade *models.TradeRecord, exitPrice float64, state models.TradeState, now time.Time) (models.TradeRecord, error) {
	closed := *trade
	exit := exitPrice
	closedAt := now
	closed.ExitPrice = &exit
	closed.ClosedAt = &closedAt
	closed.State = state
	closed.ProfitLoss = closed.ProfitLossAt(exitPrice)

	if err := m.tracker.Check(closed); err != nil {
		return models.TradeRecord{}, err
	}

	exitSide := models.OrderSideSell
	if trade.Side == models.SideShort {
		exitSide = models.OrderSideBuy
	}
	if _, err := m.placer.PlaceMarketOrder(context.WithoutCancel(ctx), trade.Symbol, exitSide, trade.Quantity); err != nil {
		return models.TradeRecord{}, err
	}

	if err := m.tracker.Record(closed); err != nil {
		return models.TradeRecord{}, err
	}
	delete(m.open, trade.Symbol)
	return closed, nil
}

// OpenTrade returns a copy of the open trade on symbol.
func (m *LifecycleManager) OpenTrade(symbol string) (models.TradeRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trade, ok := m.open[symbol]
	if !ok {
		return models.TradeRecord{}, false
	}
	return *trade, true
}

// OpenTrades returns copies of all open trades ordered by symbol.
func (m *LifecycleManager) OpenTrades() []models.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TradeRecord, 0, len(m.open))
	for _, t := range m.open {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// OpenCount returns the number of open trades.
func (m *LifecycleManager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// ExitSignal reports whether price crosses the trade's stop or take-profit.
func ExitSignal(trade models.TradeRecord, price float64) (ExitReason, bool) {
	if price <= 0 {
		return "", false
	}
	if trade.Side == models.SideShort {
		switch {
		case trade.StopPrice > 0 && price >= trade.StopPrice:
			return ExitStopLoss, true
		case trade.TakeProfitPrice > 0 && price <= trade.TakeProfitPrice:
			return ExitTakeProfit, true
		}
		return "", false
	}
	switch {
	case trade.StopPrice > 0 && price <= trade.StopPrice:
		return ExitStopLoss, true
	case trade.TakeProfitPrice > 0 && price >= trade.TakeProfitPrice:
		return ExitTakeProfit, true
	}
	return "", false
}
