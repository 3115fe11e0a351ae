// Package config provides configuration management for the trading application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apperrors "quantum-trader/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Trading       TradingConfig      `mapstructure:"trading" yaml:"trading"`
	Risk          RiskConfig         `mapstructure:"risk" yaml:"risk"`
	Venue         VenueConfig        `mapstructure:"venue" yaml:"venue"`
	Features      FeaturesConfig     `mapstructure:"features" yaml:"features"`
	Scoring       ScoringConfig      `mapstructure:"scoring" yaml:"scoring"`
	Storage       StorageConfig      `mapstructure:"storage" yaml:"storage"`
	Notifications NotificationConfig `mapstructure:"notifications" yaml:"notifications"`
	Server        ServerConfig       `mapstructure:"server" yaml:"server"`
	Logging       LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Credentials   Credentials        `mapstructure:"-" yaml:"-" json:"-"` // Loaded separately
}

// TradingConfig holds the trading loop configuration.
type TradingConfig struct {
	Symbols            []string      `mapstructure:"symbols" yaml:"symbols" default:"[\"BTC/EUR\",\"ETH/EUR\",\"SOL/EUR\"]" validate:"required,min=1,dive,contains=/"`
	Timeframes         []string      `mapstructure:"timeframes" yaml:"timeframes" default:"[\"1m\",\"5m\",\"15m\",\"1h\",\"4h\"]" validate:"required,min=1"`
	CycleInterval      time.Duration `mapstructure:"cycle_interval" yaml:"cycle_interval" default:"300s" validate:"gt=0"`
	ErrorBackoff       time.Duration `mapstructure:"error_backoff" yaml:"error_backoff" default:"60s" validate:"gt=0"`
	HealthInterval     time.Duration `mapstructure:"health_interval" yaml:"health_interval" default:"3600s" validate:"gt=0"`
	HealthErrorBackoff time.Duration `mapstructure:"health_error_backoff" yaml:"health_error_backoff" default:"600s" validate:"gt=0"`
	// MinConfidence gates execution on signal confidence. 0 disables the gate.
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence" validate:"gte=0,lte=1"`
	DataDir       string  `mapstructure:"data_dir" yaml:"data_dir"`
}

// RiskConfig holds risk management configuration.
type RiskConfig struct {
	InitialCapital    float64       `mapstructure:"initial_capital" yaml:"initial_capital" default:"10000" validate:"gt=0"`
	MaxRiskPerTrade   float64       `mapstructure:"max_risk_per_trade" yaml:"max_risk_per_trade" default:"0.01" validate:"gt=0,lte=1"`
	StopLossPercent   float64       `mapstructure:"stop_loss_percent" yaml:"stop_loss_percent" default:"0.02" validate:"gt=0,lt=1"`
	TakeProfitPercent float64       `mapstructure:"take_profit_percent" yaml:"take_profit_percent" default:"0.05" validate:"gt=0"`
	MaxOpenTrades     int           `mapstructure:"max_open_trades" yaml:"max_open_trades" default:"3" validate:"gte=1"`
	MaxTradeDuration  time.Duration `mapstructure:"max_trade_duration" yaml:"max_trade_duration" default:"24h" validate:"gt=0"`
	// ConfidenceThreshold is advisory: reported, never enforced. See Trading.MinConfidence.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold" default:"0.7" validate:"gte=0,lte=1"`
}

// VenueConfig selects and tunes the trading venue.
type VenueConfig struct {
	Name              string        `mapstructure:"name" yaml:"name" default:"paper" validate:"oneof=paper binance kite"`
	DataSource        string        `mapstructure:"data_source" yaml:"data_source" default:"binance" validate:"oneof=none binance kite"`
	Testnet           bool          `mapstructure:"testnet" yaml:"testnet"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	RequestsPerSecond int           `mapstructure:"requests_per_second" yaml:"requests_per_second" default:"5" validate:"gte=1"`
	PaperBalance      float64       `mapstructure:"paper_balance" yaml:"paper_balance" default:"10000" validate:"gte=0"`
	StreamPrices      bool          `mapstructure:"stream_prices" yaml:"stream_prices"`
	StreamURL         string        `mapstructure:"stream_url" yaml:"stream_url" default:"wss://stream.binance.com:9443/ws"`
	Exchange          string        `mapstructure:"exchange" yaml:"exchange" default:"NSE"`
	FailureThreshold  int           `mapstructure:"failure_threshold" yaml:"failure_threshold" default:"5" validate:"gte=1"`
	ResetTimeout      time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout" default:"60s"`
}

// FeaturesConfig holds feature extraction configuration.
type FeaturesConfig struct {
	ReferenceTimeframes []string      `mapstructure:"reference_timeframes" yaml:"reference_timeframes" default:"[\"1h\",\"4h\"]" validate:"required,min=1"`
	CandleLimit         int           `mapstructure:"candle_limit" yaml:"candle_limit" default:"500" validate:"gte=60"`
	Cache               string        `mapstructure:"cache" yaml:"cache" default:"memory" validate:"oneof=none memory redis"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl" default:"60s"`
	Redis               RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the feature cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr" default:"localhost:6379"`
	Password string `mapstructure:"password" yaml:"-" json:"-"`
	DB       int    `mapstructure:"db" yaml:"db"`
	PoolSize int    `mapstructure:"pool_size" yaml:"pool_size" default:"10"`
}

// ScoringConfig selects the scoring model.
type ScoringConfig struct {
	Model      string        `mapstructure:"model" yaml:"model" default:"heuristic" validate:"oneof=heuristic onnx llm"`
	ONNXPath   string        `mapstructure:"onnx_path" yaml:"onnx_path"`
	ONNXLib    string        `mapstructure:"onnx_lib" yaml:"onnx_lib"`
	LLMModel   string        `mapstructure:"llm_model" yaml:"llm_model" default:"gpt-4o-mini"`
	LLMTimeout time.Duration `mapstructure:"llm_timeout" yaml:"llm_timeout" default:"30s"`
}

// StorageConfig holds trade ledger configuration.
type StorageConfig struct {
	Driver      string      `mapstructure:"driver" yaml:"driver" default:"sqlite" validate:"oneof=sqlite postgres"`
	SQLitePath  string      `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string      `mapstructure:"postgres_dsn" yaml:"-" json:"-"`
	QueueSize   int         `mapstructure:"queue_size" yaml:"queue_size" default:"256" validate:"gte=1"`
	Kafka       KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
}

// KafkaConfig configures the trade event journal.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers []string `mapstructure:"brokers" yaml:"brokers" default:"[\"localhost:9092\"]"`
	Topic   string   `mapstructure:"topic" yaml:"topic" default:"trades"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Level    string         `mapstructure:"level" yaml:"level" default:"all" validate:"oneof=all trades_only errors_only"`
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled bool  `mapstructure:"enabled" yaml:"enabled"`
	ChatID  int64 `mapstructure:"chat_id" yaml:"chat_id"`
}

// ServerConfig holds the HTTP status server configuration.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" default:"true"`
	Host    string `mapstructure:"host" yaml:"host" default:"127.0.0.1"`
	Port    int    `mapstructure:"port" yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" default:"10"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" default:"5"`
}

// Credentials holds API credentials.
type Credentials struct {
	Binance  APICredentials  `mapstructure:"binance"`
	Kite     KiteCredentials `mapstructure:"kite"`
	OpenAI   TokenCredential `mapstructure:"openai"`
	Telegram TokenCredential `mapstructure:"telegram"`
	// SecretKey is the base64 secretbox key used to decrypt per-symbol keys.
	SecretKey string `mapstructure:"secret_key"`
}

// APICredentials holds a key/secret pair.
type APICredentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// KiteCredentials holds Kite Connect credentials.
type KiteCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
}

// TokenCredential holds a single token.
type TokenCredential struct {
	APIKey string `mapstructure:"api_key"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/quantum-trader"
	}
	return filepath.Join(home, ".config", "quantum-trader")
}

// Default returns a configuration populated from struct defaults only.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("setting defaults: %w", err)
	}
	return cfg, nil
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env is optional
	_ = godotenv.Load()

	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	cfg.resolvePaths(configDir)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Missing file: write a template and run on defaults.
			return createTemplate(configDir, name+".toml", configTemplate, 0644)
		}
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplate(configDir, "credentials.toml", credentialsTemplate, 0600)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func (c *Config) resolvePaths(configDir string) {
	if c.Trading.DataDir == "" {
		c.Trading.DataDir = filepath.Join(configDir, "data")
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Trading.DataDir, "trading.db")
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(configDir, "logs", "quantum_trade.log")
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRADING_VENUE"); v != "" {
		cfg.Venue.Name = strings.ToLower(v)
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Credentials.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.Credentials.Binance.APISecret = v
	}
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Kite.AccessToken = v
	}
	if v := os.Getenv("QT_SECRET_KEY"); v != "" {
		cfg.Credentials.SecretKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Credentials.Telegram.APIKey = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Features.Redis.Password = v
	}
}

var validate = validator.New()

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, err.Error())
	}

	// Cross-field rules the struct tags cannot express.
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		return apperrors.NewValidationError("storage.postgres_dsn", "", "required when driver is postgres")
	}
	if c.Scoring.Model == "onnx" && c.Scoring.ONNXPath == "" {
		return apperrors.NewValidationError("scoring.onnx_path", "", "required when model is onnx")
	}
	if c.Scoring.Model == "llm" && c.Credentials.OpenAI.APIKey == "" {
		return apperrors.NewValidationError("credentials.openai.api_key", "", "required when model is llm")
	}
	if c.Venue.Name == "kite" && c.Venue.DataSource == "binance" {
		return apperrors.NewValidationError("venue.data_source", c.Venue.DataSource, "kite venue needs data_source kite or none")
	}
	if c.Notifications.Telegram.Enabled && c.Notifications.Telegram.ChatID == 0 {
		return apperrors.NewValidationError("notifications.telegram.chat_id", 0, "required when telegram is enabled")
	}
	if c.Storage.Kafka.Enabled && len(c.Storage.Kafka.Brokers) == 0 {
		return apperrors.NewValidationError("storage.kafka.brokers", nil, "at least one broker required")
	}
	for _, tf := range c.Features.ReferenceTimeframes {
		if !contains(c.Trading.Timeframes, tf) {
			return apperrors.NewValidationError("features.reference_timeframes", tf, "must be one of trading.timeframes")
		}
	}
	return nil
}

// IsPaperMode returns true if the paper venue is selected.
func (c *Config) IsPaperMode() bool {
	return c.Venue.Name == "paper"
}

// YAML renders the effective configuration without credentials.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
