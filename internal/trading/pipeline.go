package trading

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"quantum-trader/internal/analysis"
	apperrors "quantum-trader/internal/errors"
	"quantum-trader/internal/features"
	"quantum-trader/internal/logging"
	"quantum-trader/internal/metrics"
	"quantum-trader/internal/models"
	"quantum-trader/internal/notify"
	"quantum-trader/internal/risk"
	"quantum-trader/internal/scoring"
)

// Venue is what the pipeline needs from a trading venue. broker.Venue
// satisfies it.
type Venue interface {
	OrderPlacer
	GetTicker(ctx context.Context, symbol string) (float64, error)
	GetBalance(ctx context.Context, symbol string) (float64, error)
}

// TradeRecorder persists trades off the trading path. store.AsyncRecorder
// satisfies it.
type TradeRecorder interface {
	RecordTrade(trade models.TradeRecord) bool
	UpdateDailyPerformance(capitalEnd float64) bool
}

// PipelineConfig holds the per-symbol decision parameters.
type PipelineConfig struct {
	Timeframes          []string
	ReferenceTimeframes []string
	InitialCapital      float64
	MaxRiskPerTrade     float64
	StopLossPercent     float64
	TakeProfitPercent   float64
	MaxOpenTrades       int
	MaxTradeDuration    time.Duration
	// MinConfidence skips signals below it. 0 disables the gate.
	MinConfidence float64
}

// PipelineDeps are the pipeline's collaborators. Recorder, Notifier and
// Metrics may be nil.
type PipelineDeps struct {
	Features features.Provider
	Scorer   scoring.Scorer
	Venue    Venue
	Recorder TradeRecorder
	Notifier notify.Notifier
	Metrics  *metrics.Recorder
	Logger   zerolog.Logger
}

// Outcome is the result of processing one symbol.
type Outcome string

const (
	OutcomeNoTrade Outcome = "no_trade"
	OutcomeTraded  Outcome = "traded"
	OutcomeClosed  Outcome = "closed"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// Pipeline runs the per-symbol decision flow: regime, signal, risk, size,
// admission, order, record. It owns the lifecycle manager and the capital
// tracker.
type Pipeline struct {
	cfg        PipelineConfig
	features   features.Provider
	scorer     scoring.Scorer
	venue      Venue
	recorder   TradeRecorder
	notifier   notify.Notifier
	metrics    *metrics.Recorder
	logger     zerolog.Logger
	regime     analysis.RegimeConfig
	aggregator *analysis.Aggregator
	evaluator  *risk.Evaluator
	sizer      *risk.Sizer
	tracker    *CapitalTracker
	lifecycle  *LifecycleManager
	now        func() time.Time
}

// NewPipeline creates a pipeline.
func NewPipeline(cfg PipelineConfig, deps PipelineDeps) *Pipeline {
	if len(cfg.ReferenceTimeframes) == 0 {
		cfg.ReferenceTimeframes = []string{"1h", "4h"}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewMultiNotifier("")
	}

	tracker := NewCapitalTracker(cfg.InitialCapital)
	return &Pipeline{
		cfg:        cfg,
		features:   deps.Features,
		scorer:     deps.Scorer,
		venue:      deps.Venue,
		recorder:   deps.Recorder,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		logger:     logging.WithComponent(deps.Logger, "pipeline"),
		regime:     analysis.DefaultRegimeConfig(),
		aggregator: analysis.NewAggregator(),
		evaluator:  risk.NewEvaluator(cfg.MaxRiskPerTrade),
		sizer:      risk.NewSizer(cfg.MaxRiskPerTrade),
		tracker:    tracker,
		lifecycle: NewLifecycleManager(LifecycleConfig{
			MaxOpenTrades:    cfg.MaxOpenTrades,
			MaxTradeDuration: cfg.MaxTradeDuration,
		}, deps.Venue, tracker),
		now: time.Now,
	}
}

// SetClock replaces the time source of the pipeline and its lifecycle manager.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
	p.lifecycle.SetClock(now)
}

// Tracker returns the capital tracker.
func (p *Pipeline) Tracker() *CapitalTracker { return p.tracker }

// Lifecycle returns the lifecycle manager.
func (p *Pipeline) Lifecycle() *LifecycleManager { return p.lifecycle }

// log prefers the cycle logger carried by ctx.
func (p *Pipeline) log(ctx context.Context) zerolog.Logger {
	if ctx.Value(logging.LoggerKey) != nil {
		return logging.WithComponent(logging.FromContext(ctx), "pipeline")
	}
	return p.logger
}

// GenerateTradingSignal collects features, classifies the regime, scores the
// model input and assesses risk. Unavailable features or an unavailable
// prediction give the neutral signal with the default assessment.
func (p *Pipeline) GenerateTradingSignal(ctx context.Context, symbol string) (models.TradeSignal, models.RiskAssessment) {
	logger := logging.WithSymbol(p.log(ctx), symbol)

	feats := features.Collect(ctx, p.features, symbol, p.cfg.Timeframes)
	regime := p.regime.RegimeFromFeatures(feats, p.cfg.ReferenceTimeframes)

	var pred models.Result[models.Prediction]
	if mtf, ok := feats.Get(); ok {
		pred = p.scorer.Score(ctx, features.ModelInput(mtf, p.cfg.Timeframes))
	} else {
		logger.Warn().Err(feats.Err()).Msg("Features unavailable, using neutral signal")
		pred = models.Unavailable[models.Prediction](feats.Err())
	}

	signal := p.aggregator.Aggregate(symbol, pred, regime)
	assessment := models.DefaultAssessment()
	if pred.OK() {
		assessment = p.evaluator.Assess(signal)
	} else if feats.OK() {
		logger.Warn().Err(pred.Err()).Str("scorer", p.scorer.Name()).Msg("Prediction unavailable, using neutral signal")
	}

	p.metrics.Signal(signal)
	logging.LogSignal(logger, symbol, signal.Direction, signal.Confidence, string(signal.Regime.Kind))
	logger.Debug().
		Float64("risk_score", assessment.RiskScore).
		Bool("executable", assessment.Executable).
		Float64("position_size_percent", assessment.PositionSizePercent).
		Msg("Risk assessment")

	return signal, assessment
}

// ExecuteTrade sizes and admits a trade for an executable signal and places
// the entry order. It returns nil without error when no trade is made:
// risk rejected, flat direction, low confidence, zero size, or an admission
// denial.
func (p *Pipeline) ExecuteTrade(ctx context.Context, signal models.TradeSignal, assessment models.RiskAssessment) (*models.TradeRecord, error) {
	logger := logging.WithSymbol(p.log(ctx), signal.Symbol)

	if !assessment.Executable {
		logger.Debug().Float64("risk_score", assessment.RiskScore).Msg("Risk rejected, no trade")
		return nil, nil
	}
	if signal.Direction == 0 {
		return nil, nil
	}
	if p.cfg.MinConfidence > 0 && signal.Confidence < p.cfg.MinConfidence {
		logger.Debug().Float64("confidence", signal.Confidence).Msg("Confidence below minimum, no trade")
		return nil, nil
	}

	price, err := p.venue.GetTicker(ctx, signal.Symbol)
	if err != nil {
		return nil, err
	}
	p.metrics.LastPrice(signal.Symbol, price)

	balance, err := p.venue.GetBalance(ctx, signal.Symbol)
	if err != nil {
		return nil, err
	}

	side := signal.Side()
	stop, takeProfit := p.bracket(side, price)

	decision, err := p.sizer.Size(price, stop, p.tracker.Capital().CurrentCapital)
	if err != nil {
		return nil, err
	}
	qty := math.Min(assessment.PositionSizePercent*balance/price, decision.Quantity)
	if qty <= 0 || math.IsNaN(qty) {
		logger.Info().Float64("balance", balance).Msg("Position size is zero, no trade")
		return nil, nil
	}

	adm, err := p.lifecycle.Admit(ctx, Proposal{
		Symbol:          signal.Symbol,
		Side:            side,
		Quantity:        qty,
		EntryPrice:      price,
		StopPrice:       stop,
		TakeProfitPrice: takeProfit,
		CurrentPrice:    price,
	})
	if adm.Expired != nil {
		p.onClosed(ctx, *adm.Expired, ExitExpired)
	}
	if err != nil {
		var denied *apperrors.AdmissionError
		if errors.As(err, &denied) {
			event := logger.Warn().Str("rule", denied.Rule)
			if adm.Rejected != nil {
				event = event.Str("trade_id", adm.Rejected.ID).Str("state", string(adm.Rejected.State))
			}
			event.Msg(denied.Message)
			p.metrics.AdmissionDenied(denied.Rule)
			return nil, nil
		}
		return nil, err
	}

	trade := *adm.Trade
	p.onOpened(ctx, trade)
	return &trade, nil
}

// bracket returns the stop and take-profit prices around price.
func (p *Pipeline) bracket(side models.Side, price float64) (stop, takeProfit float64) {
	if side == models.SideShort {
		return price * (1 + p.cfg.StopLossPercent), price * (1 - p.cfg.TakeProfitPercent)
	}
	return price * (1 - p.cfg.StopLossPercent), price * (1 + p.cfg.TakeProfitPercent)
}

// MonitorExits closes the open trade on symbol when the ticker crosses its
// stop or take-profit. It returns the closed trade, or nil.
func (p *Pipeline) MonitorExits(ctx context.Context, symbol string) (*models.TradeRecord, error) {
	open, ok := p.lifecycle.OpenTrade(symbol)
	if !ok {
		return nil, nil
	}

	price, err := p.venue.GetTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	p.metrics.LastPrice(symbol, price)

	reason, hit := ExitSignal(open, price)
	if !hit {
		return nil, nil
	}

	closed, err := p.lifecycle.Close(ctx, symbol, price)
	if err != nil {
		return nil, err
	}
	p.onClosed(ctx, closed, reason)
	return &closed, nil
}

// ProcessSymbol runs one cycle for symbol: exit monitor, then signal and
// execution.
func (p *Pipeline) ProcessSymbol(ctx context.Context, symbol string) (Outcome, error) {
	closed, err := p.MonitorExits(ctx, symbol)
	if err != nil {
		return OutcomeError, err
	}

	signal, assessment := p.GenerateTradingSignal(ctx, symbol)
	trade, err := p.ExecuteTrade(ctx, signal, assessment)
	switch {
	case err != nil:
		return OutcomeError, err
	case trade != nil:
		return OutcomeTraded, nil
	case closed != nil:
		return OutcomeClosed, nil
	}
	return OutcomeNoTrade, nil
}

// GetRiskReport returns the current capital, metrics and open trade count.
func (p *Pipeline) GetRiskReport() models.RiskReport {
	return p.tracker.Report(p.lifecycle.OpenCount(), p.now())
}

// OpenTrades returns the open trades.
func (p *Pipeline) OpenTrades() []models.TradeRecord {
	return p.lifecycle.OpenTrades()
}

// RollupDaily queues today's performance rollup at the current capital.
func (p *Pipeline) RollupDaily() {
	if p.recorder != nil {
		p.recorder.UpdateDailyPerformance(p.tracker.Capital().CurrentCapital)
	}
}

func (p *Pipeline) onOpened(ctx context.Context, trade models.TradeRecord) {
	logger := logging.WithTradeID(logging.WithSymbol(p.log(ctx), trade.Symbol), trade.ID)
	logging.LogTrade(logger, trade.Symbol, string(trade.Side), trade.Quantity, trade.EntryPrice)

	if p.recorder != nil {
		p.recorder.RecordTrade(trade)
	}
	p.metrics.TradeOpened(trade)
	p.metrics.Report(p.GetRiskReport())

	if err := p.notifier.SendTradeOpened(ctx, trade); err != nil {
		logger.Warn().Err(err).Msg("Trade notification failed")
	}
}

func (p *Pipeline) onClosed(ctx context.Context, trade models.TradeRecord, reason ExitReason) {
	logger := logging.WithTradeID(logging.WithSymbol(p.log(ctx), trade.Symbol), trade.ID)
	var exit float64
	if trade.ExitPrice != nil {
		exit = *trade.ExitPrice
	}
	logging.LogTradeClosed(logger, trade.ID, trade.Symbol, string(trade.State), exit, trade.ProfitLoss)
	logger.Debug().Str("reason", string(reason)).Msg("Exit reason")

	if p.recorder != nil {
		p.recorder.RecordTrade(trade)
	}
	p.RollupDaily()
	p.metrics.TradeClosed(trade)
	p.metrics.Report(p.GetRiskReport())

	if err := p.notifier.SendTradeClosed(ctx, trade); err != nil {
		logger.Warn().Err(err).Msg("Trade notification failed")
	}
}
