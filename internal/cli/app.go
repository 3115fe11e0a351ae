package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"quantum-trader/internal/broker"
	"quantum-trader/internal/config"
	"quantum-trader/internal/features"
	"quantum-trader/internal/logging"
	"quantum-trader/internal/metrics"
	"quantum-trader/internal/models"
	"quantum-trader/internal/notify"
	"quantum-trader/internal/resilience"
	"quantum-trader/internal/scoring"
	"quantum-trader/internal/security"
	"quantum-trader/internal/store"
	"quantum-trader/internal/trading"
)

// App holds the application dependencies. Load reads configuration; the
// open* and build* methods assemble components on demand, and Close releases
// whatever was opened.
type App struct {
	ConfigDir string
	Debug     bool

	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Recorder

	Venue    *broker.Guarded
	Features features.Provider
	Scorer   scoring.Scorer
	Store    store.Store
	Recorder *store.AsyncRecorder
	Notifier *notify.MultiNotifier
	Health   *resilience.HealthMonitor
	Pipeline *trading.Pipeline

	closers []func() error
}

// Load reads the configuration and builds the logger. It is idempotent.
func (a *App) Load() error {
	if a.Config != nil {
		return nil
	}

	cfg, err := config.Load(a.ConfigDir)
	if err != nil {
		return err
	}
	if a.Debug {
		cfg.Logging.Level = "debug"
	}

	a.Config = cfg
	a.Logger = logging.NewLoggerWithConfig(logging.LogConfig{
		Level:      cfg.Logging.Level,
		Console:    true,
		File:       cfg.Logging.File != "",
		FilePath:   cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     30,
	})
	a.Metrics = metrics.New()
	return nil
}

// logStartupFailure logs err and the risk report as it stood when startup
// failed. Before the pipeline exists the report is the configured capital.
func (a *App) logStartupFailure(err error) {
	if a.Config == nil {
		return
	}
	var report models.RiskReport
	if a.Pipeline != nil {
		report = a.Pipeline.GetRiskReport()
	} else {
		report.InitialCapital = a.Config.Risk.InitialCapital
		report.CurrentCapital = a.Config.Risk.InitialCapital
		report.At = time.Now()
	}
	a.Logger.Error().Err(err).Msg("Startup failed")
	logging.LogRiskReport(a.Logger, report.CurrentCapital, report.MaxDrawdown, report.SharpeRatio, report.TotalTrades)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases everything opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// symbolKeys decrypts per-symbol venue keys from the environment.
func (a *App) symbolKeys() (map[string]broker.APIKey, error) {
	var box *security.SecretBox
	if a.Config.Credentials.SecretKey != "" {
		b, err := security.NewSecretBox(a.Config.Credentials.SecretKey)
		if err != nil {
			return nil, err
		}
		box = b
	}

	creds, err := security.ResolveSymbolKeys(a.Config.Trading.Symbols, box, os.LookupEnv)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]broker.APIKey, len(creds))
	for symbol, c := range creds {
		keys[symbol] = broker.APIKey{Key: c.Key, Secret: c.Secret}
		a.Logger.Debug().
			Str("symbol", symbol).
			Str("key", security.MaskCredential(c.Key)).
			Msg("Using decrypted symbol key")
	}
	return keys, nil
}

// openVenue opens the configured venue behind its circuit breaker and
// starts its background feeds.
func (a *App) openVenue(ctx context.Context) error {
	if a.Venue != nil {
		return nil
	}
	cfg := a.Config

	keys, err := a.symbolKeys()
	if err != nil {
		return fmt.Errorf("resolving symbol keys: %w", err)
	}

	venue, err := broker.NewRegistry().Open(cfg.Venue.Name, broker.Options{
		DataSource:        cfg.Venue.DataSource,
		Testnet:           cfg.Venue.Testnet,
		BaseURL:           cfg.Venue.BaseURL,
		RequestsPerSecond: cfg.Venue.RequestsPerSecond,
		PaperBalance:      cfg.Venue.PaperBalance,
		StreamPrices:      cfg.Venue.StreamPrices,
		StreamURL:         cfg.Venue.StreamURL,
		Exchange:          cfg.Venue.Exchange,
		Symbols:           cfg.Trading.Symbols,
		Binance: broker.APIKey{
			Key:    cfg.Credentials.Binance.APIKey,
			Secret: cfg.Credentials.Binance.APISecret,
		},
		SymbolKeys:      keys,
		KiteAPIKey:      cfg.Credentials.Kite.APIKey,
		KiteAccessToken: cfg.Credentials.Kite.AccessToken,
		Breaker: resilience.BreakerConfig{
			FailureThreshold: cfg.Venue.FailureThreshold,
			SuccessThreshold: 1,
			ResetTimeout:     cfg.Venue.ResetTimeout,
		},
		Logger: a.Logger,
	})
	if err != nil {
		return fmt.Errorf("opening venue %s: %w", cfg.Venue.Name, err)
	}
	venue.SetObserver(a.Metrics)

	if err := venue.Start(ctx); err != nil {
		venue.Close()
		return fmt.Errorf("starting venue %s: %w", cfg.Venue.Name, err)
	}

	a.Venue = venue
	a.onClose(venue.Close)
	a.Logger.Info().Str("venue", venue.Name()).Bool("paper", cfg.IsPaperMode()).Msg("Venue ready")
	return nil
}

// openFeatures builds the candle feature provider with the configured cache.
func (a *App) openFeatures() error {
	if a.Features != nil {
		return nil
	}
	cfg := a.Config.Features

	var cache features.Cache
	switch cfg.Cache {
	case "memory":
		cache = features.NewMemoryCache()
	case "redis":
		redisCache, err := features.NewRedisCache(features.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   "quantum-trader:",
		})
		if err != nil {
			return fmt.Errorf("connecting feature cache: %w", err)
		}
		a.onClose(redisCache.Close)
		a.health().RegisterComponent("feature_cache", resilience.PingCheck(redisCache.Ping))
		cache = redisCache
	}

	a.Features = features.NewVenueProvider(a.Venue, cache, cfg.CandleLimit, cfg.CacheTTL, a.Logger)
	return nil
}

// openScorer builds the configured scoring model.
func (a *App) openScorer() error {
	if a.Scorer != nil {
		return nil
	}
	cfg := a.Config

	switch cfg.Scoring.Model {
	case "onnx":
		inputSize := len(cfg.Trading.Timeframes) * len(features.ModelFeatures)
		s, err := scoring.NewONNXScorer(cfg.Scoring.ONNXPath, cfg.Scoring.ONNXLib, inputSize)
		if err != nil {
			return fmt.Errorf("loading onnx model: %w", err)
		}
		a.Scorer = s
	case "llm":
		a.Scorer = scoring.NewLLMScorer(cfg.Credentials.OpenAI.APIKey, cfg.Scoring.LLMModel, cfg.Trading.Timeframes, cfg.Scoring.LLMTimeout)
	default:
		a.Scorer = scoring.NewHeuristicScorer()
	}
	a.onClose(a.Scorer.Close)
	a.Logger.Info().Str("scorer", a.Scorer.Name()).Msg("Scorer ready")
	return nil
}

// openStore opens the trade ledger, with the Kafka journal when enabled.
func (a *App) openStore(ctx context.Context) error {
	if a.Store != nil {
		return nil
	}
	cfg := a.Config.Storage

	var (
		st  store.Store
		err error
	)
	switch cfg.Driver {
	case "postgres":
		st, err = store.NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		st, err = store.NewSQLiteStore(cfg.SQLitePath)
	}
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Driver, err)
	}

	if cfg.Kafka.Enabled {
		writer, err := store.NewKafkaWriter(store.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: 10 * time.Second,
		})
		if err != nil {
			st.Close()
			return fmt.Errorf("creating kafka writer: %w", err)
		}
		st = store.NewKafkaJournal(st, writer, cfg.Kafka.Topic, a.Logger)
		a.Logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Trade journal enabled")
	}

	a.Store = st
	a.onClose(st.Close)
	return nil
}

// openRecorder starts the background ledger writer.
func (a *App) openRecorder() {
	if a.Recorder != nil {
		return
	}
	a.Recorder = store.NewAsyncRecorder(a.Store, a.Config.Storage.QueueSize, a.Metrics, a.Logger)
	a.Recorder.Start()
}

// openNotifier builds the notifier. With notifications disabled it has no
// channels.
func (a *App) openNotifier() {
	if a.Notifier != nil {
		return
	}
	cfg := a.Config.Notifications

	a.Notifier = notify.NewMultiNotifier(cfg.Level)
	if !cfg.Enabled {
		return
	}
	a.Notifier.AddChannel(notify.NewLogNotifier(a.Logger))

	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegramNotifier(a.Config.Credentials.Telegram.APIKey, cfg.Telegram.ChatID)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Telegram notifications unavailable")
			return
		}
		a.Notifier.AddChannel(tg)
	}
}

func (a *App) health() *resilience.HealthMonitor {
	if a.Health == nil {
		a.Health = resilience.NewHealthMonitor(resilience.DefaultHealthMonitorConfig())
		a.Health.SetAlertCallback(func(alert resilience.HealthAlert) {
			a.Logger.Warn().
				Str("component", alert.Component).
				Str("status", string(alert.Status)).
				Msg(alert.Message)
		})
	}
	return a.Health
}

// BuildPipeline assembles the decision pipeline. With ledger set it also
// opens the store and the background recorder.
func (a *App) BuildPipeline(ctx context.Context, ledger bool) (*trading.Pipeline, error) {
	if a.Pipeline != nil {
		return a.Pipeline, nil
	}
	if err := a.Load(); err != nil {
		return nil, err
	}
	if err := a.openVenue(ctx); err != nil {
		return nil, err
	}
	if err := a.openFeatures(); err != nil {
		return nil, err
	}
	if err := a.openScorer(); err != nil {
		return nil, err
	}
	a.openNotifier()

	var recorder trading.TradeRecorder
	if ledger {
		if err := a.openStore(ctx); err != nil {
			return nil, err
		}
		a.openRecorder()
		recorder = a.Recorder
	}

	cfg := a.Config
	a.Pipeline = trading.NewPipeline(trading.PipelineConfig{
		Timeframes:          cfg.Trading.Timeframes,
		ReferenceTimeframes: cfg.Features.ReferenceTimeframes,
		InitialCapital:      cfg.Risk.InitialCapital,
		MaxRiskPerTrade:     cfg.Risk.MaxRiskPerTrade,
		StopLossPercent:     cfg.Risk.StopLossPercent,
		TakeProfitPercent:   cfg.Risk.TakeProfitPercent,
		MaxOpenTrades:       cfg.Risk.MaxOpenTrades,
		MaxTradeDuration:    cfg.Risk.MaxTradeDuration,
		MinConfidence:       cfg.Trading.MinConfidence,
	}, trading.PipelineDeps{
		Features: a.Features,
		Scorer:   a.Scorer,
		Venue:    a.Venue,
		Recorder: recorder,
		Notifier: a.Notifier,
		Metrics:  a.Metrics,
		Logger:   a.Logger,
	})

	health := a.health()
	health.RegisterComponent("venue", resilience.PingCheck(a.Venue.Ping))
	health.RegisterComponent("venue_breaker", resilience.BreakerCheck(a.Venue.Breaker()))
	health.RegisterComponent("drawdown", resilience.DrawdownCheck(a.Pipeline.GetRiskReport, cfg.Risk.MaxRiskPerTrade))
	if a.Store != nil {
		health.RegisterComponent("store", resilience.PingCheck(a.Store.Ping))
	}

	return a.Pipeline, nil
}

// BuildEngine assembles the full trading engine.
func (a *App) BuildEngine(ctx context.Context) (*trading.Engine, error) {
	pipeline, err := a.BuildPipeline(ctx, true)
	if err != nil {
		return nil, err
	}

	cfg := a.Config
	return trading.NewEngine(trading.EngineConfig{
		Symbols:            cfg.Trading.Symbols,
		CycleInterval:      cfg.Trading.CycleInterval,
		ErrorBackoff:       cfg.Trading.ErrorBackoff,
		HealthInterval:     cfg.Trading.HealthInterval,
		HealthErrorBackoff: cfg.Trading.HealthErrorBackoff,
		MaxRiskPerTrade:    cfg.Risk.MaxRiskPerTrade,
		BreakerName:        a.Venue.Name(),
	}, trading.EngineDeps{
		Pipeline:    pipeline,
		Health:      a.Health,
		Breaker:     a.Venue.Breaker(),
		Performance: a.Store,
		Recorder:    a.Recorder,
		Notifier:    a.Notifier,
		Metrics:     a.Metrics,
		Logger:      a.Logger,
	}), nil
}
