package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quantum-trader/internal/logging"
	"quantum-trader/internal/metrics"
	"quantum-trader/internal/models"
	"quantum-trader/internal/notify"
	"quantum-trader/internal/resilience"
)

// ErrCycleFailed is returned by RunCycle when every attempted symbol failed.
var ErrCycleFailed = errors.New("all symbols failed")

// PerformanceSource answers stored performance queries. store.Store
// satisfies it.
type PerformanceSource interface {
	GetPerformanceMetrics(ctx context.Context, symbol string, days int) (models.PerformanceSummary, error)
}

// Flusher drains and stops a background trade recorder.
type Flusher interface {
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// EngineConfig holds the loop timings.
type EngineConfig struct {
	Symbols            []string
	CycleInterval      time.Duration
	ErrorBackoff       time.Duration
	HealthInterval     time.Duration
	HealthErrorBackoff time.Duration
	MaxRiskPerTrade    float64
	// BreakerName is the venue breaker reported to metrics, if any.
	BreakerName string
}

// EngineDeps are the engine's collaborators. Everything except Pipeline may
// be nil.
type EngineDeps struct {
	Pipeline    *Pipeline
	Health      *resilience.HealthMonitor
	Breaker     *resilience.CircuitBreaker
	Performance PerformanceSource
	Recorder    Flusher
	Notifier    notify.Notifier
	Metrics     *metrics.Recorder
	Logger      zerolog.Logger
}

// symbolGate holds the per-symbol retry schedule after failures.
type symbolGate struct {
	policy      *backoff.ExponentialBackOff
	nextAttempt time.Time
}

// Engine drives the pipeline: a trading loop over the configured symbols
// and a health loop.
type Engine struct {
	cfg         EngineConfig
	pipeline    *Pipeline
	health      *resilience.HealthMonitor
	breaker     *resilience.CircuitBreaker
	performance PerformanceSource
	recorder    Flusher
	notifier    notify.Notifier
	metrics     *metrics.Recorder
	base        zerolog.Logger
	logger      zerolog.Logger

	mu    sync.Mutex
	gates map[string]*symbolGate
	now   func() time.Time
}

// NewEngine creates an engine.
func NewEngine(cfg EngineConfig, deps EngineDeps) *Engine {
	if deps.Notifier == nil {
		deps.Notifier = notify.NewMultiNotifier("")
	}
	return &Engine{
		cfg:         cfg,
		pipeline:    deps.Pipeline,
		health:      deps.Health,
		breaker:     deps.Breaker,
		performance: deps.Performance,
		recorder:    deps.Recorder,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		base:        deps.Logger,
		logger:      logging.WithComponent(deps.Logger, "engine"),
		gates:       make(map[string]*symbolGate),
		now:         time.Now,
	}
}

// SetClock replaces the time source used by the symbol gates.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Run starts the trading and health loops and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().
		Strs("symbols", e.cfg.Symbols).
		Dur("cycle_interval", e.cfg.CycleInterval).
		Dur("health_interval", e.cfg.HealthInterval).
		Msg("Engine started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.tradingLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		e.healthLoop(ctx)
	}()
	wg.Wait()

	e.logger.Info().Msg("Engine stopped")
	return ctx.Err()
}

func (e *Engine) tradingLoop(ctx context.Context) {
	for {
		wait := e.cfg.CycleInterval
		if err := e.RunCycle(ctx); err != nil {
			e.logger.Error().Err(err).Dur("retry_in", e.cfg.ErrorBackoff).Msg("Trading cycle failed")
			wait = e.cfg.ErrorBackoff
			if ctx.Err() == nil {
				if nerr := e.notifier.SendError(ctx, err, "trading cycle"); nerr != nil {
					e.logger.Warn().Err(nerr).Msg("Error notification failed")
				}
			}
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

func (e *Engine) healthLoop(ctx context.Context) {
	for {
		wait := e.cfg.HealthInterval
		if err := e.HealthPass(ctx); err != nil {
			e.logger.Error().Err(err).Dur("retry_in", e.cfg.HealthErrorBackoff).Msg("Health check failed")
			wait = e.cfg.HealthErrorBackoff
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

// sleep waits for d or ctx cancellation. It reports false when cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RunCycle processes every symbol whose gate is open, in parallel. It
// returns ErrCycleFailed when every attempted symbol failed.
func (e *Engine) RunCycle(ctx context.Context) error {
	cycleID := uuid.NewString()[:8]
	cycleCtx := logging.WithCycleID(logging.WithLogger(ctx, e.base), cycleID)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		attempts int
		failures int
	)

	for _, symbol := range e.cfg.Symbols {
		if ctx.Err() != nil {
			break
		}
		if !e.gateOpen(symbol) {
			e.logger.Debug().Str("symbol", symbol).Msg("Symbol in backoff, skipping")
			continue
		}

		attempts++
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			err := e.processSymbol(cycleCtx, symbol)
			e.settleGate(symbol, err)
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
			}
		}(symbol)
	}
	wg.Wait()

	e.metrics.Report(e.pipeline.GetRiskReport())

	if attempts > 0 && failures == attempts {
		return fmt.Errorf("cycle %s: %w", cycleID, ErrCycleFailed)
	}
	return nil
}

func (e *Engine) processSymbol(ctx context.Context, symbol string) (err error) {
	start := time.Now()
	outcome := OutcomeError
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing %s: %v", symbol, r)
			outcome = OutcomeError
		}
		if err != nil {
			logger := logging.WithSymbol(logging.FromContext(ctx), symbol)
			logger.Error().Err(err).Msg("Symbol processing failed")
		}
		e.metrics.Cycle(symbol, string(outcome), time.Since(start))
	}()

	outcome, err = e.pipeline.ProcessSymbol(ctx, symbol)
	return err
}

func (e *Engine) gateOpen(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.gates[symbol]
	return !ok || !e.now().Before(g.nextAttempt)
}

// settleGate resets the gate on success and pushes the next attempt out on
// failure.
func (e *Engine) settleGate(symbol string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err == nil {
		delete(e.gates, symbol)
		return
	}

	g, ok := e.gates[symbol]
	if !ok {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = e.cfg.ErrorBackoff
		policy.MaxInterval = 10 * e.cfg.ErrorBackoff
		policy.RandomizationFactor = 0
		policy.MaxElapsedTime = 0
		policy.Reset()
		g = &symbolGate{policy: policy}
		e.gates[symbol] = g
	}
	g.nextAttempt = e.now().Add(g.policy.NextBackOff())
}

// NextAttempt returns when symbol may run again. The zero time means now.
func (e *Engine) NextAttempt(symbol string) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.gates[symbol]; ok {
		return g.nextAttempt
	}
	return time.Time{}
}

// HealthPass logs the risk report, runs the component checks, refreshes the
// daily rollup and warns on a critical drawdown. It returns an error when
// the system is unhealthy.
func (e *Engine) HealthPass(ctx context.Context) error {
	report := e.pipeline.GetRiskReport()
	logging.LogRiskReport(e.logger, report.CurrentCapital, report.MaxDrawdown, report.SharpeRatio, report.TotalTrades)
	e.logger.Info().
		Float64("current_capital", report.CurrentCapital).
		Int("total_trades", report.TotalTrades).
		Int("winning_trades", report.WinningTrades).
		Int("open_trades", report.OpenTrades).
		Msg("Health check")
	e.metrics.Report(report)

	if e.breaker != nil {
		e.metrics.BreakerOpen(e.cfg.BreakerName, e.breaker.State() == resilience.CircuitOpen)
	}

	e.pipeline.RollupDaily()

	if resilience.DrawdownBreached(report, e.cfg.MaxRiskPerTrade) {
		limit := e.cfg.MaxRiskPerTrade * 10 * 100
		e.logger.Warn().
			Float64("max_drawdown_percent", report.MaxDrawdownPercent).
			Float64("limit_percent", limit).
			Msg("Critical drawdown")
		if err := e.notifier.SendRiskWarning(ctx, report, limit); err != nil {
			e.logger.Warn().Err(err).Msg("Risk warning notification failed")
		}
	}

	if e.health == nil {
		return nil
	}
	health := e.health.RunChecks(ctx)
	if health.Status == resilience.HealthStatusUnhealthy {
		var failing []string
		for _, c := range health.Components {
			if c.Status == resilience.HealthStatusUnhealthy {
				failing = append(failing, c.Name+": "+c.Message)
			}
		}
		return fmt.Errorf("system unhealthy: %v", failing)
	}
	return nil
}

// Shutdown logs the final report, sends the summary notification and drains
// the recorder. Run's context must already be cancelled.
func (e *Engine) Shutdown(ctx context.Context) error {
	report := e.pipeline.GetRiskReport()
	logging.LogRiskReport(e.logger, report.CurrentCapital, report.MaxDrawdown, report.SharpeRatio, report.TotalTrades)

	if e.performance != nil {
		stored, err := e.performance.GetPerformanceMetrics(ctx, "", 30)
		if err != nil {
			e.logger.Warn().Err(err).Msg("Failed to load stored performance")
		} else {
			e.logger.Info().
				Int("days", stored.Days).
				Int("total_trades", stored.TotalTrades).
				Int("winning_trades", stored.WinningTrades).
				Float64("total_profit", stored.TotalProfit).
				Float64("max_drawdown", stored.MaxDrawdown).
				Float64("average_trade_profit", stored.AverageTradeProfit).
				Msg("Final performance")
		}
	}

	var errs []error
	if err := e.notifier.SendSummary(ctx, report); err != nil {
		errs = append(errs, fmt.Errorf("summary notification: %w", err))
	}

	if e.recorder != nil {
		if err := e.recorder.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing trade recorder: %w", err))
		}
		if err := e.recorder.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing trade recorder: %w", err))
		}
	}

	e.logger.Info().Msg("Shutdown complete")
	return errors.Join(errs...)
}
