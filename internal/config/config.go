// Package config provides configuration management for the trading application.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Trading   TradingConfig   `mapstructure:"trading"`
	Freshness FreshnessConfig `mapstructure:"freshness"`
	Fusion    FusionConfig    `mapstructure:"fusion"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`

	Credentials Credentials `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds trading-related configuration.
type TradingConfig struct {
	Mode     string   `mapstructure:"mode"` // "live", "paper"
	Symbols  []string `mapstructure:"symbols"`
	Leverage float64  `mapstructure:"leverage"`
}

// FreshnessConfig holds per-source data validity windows, in seconds.
// Sources go stale at very different rates: live prices in seconds,
// deep-model predictions in minutes.
type FreshnessConfig struct {
	PriceValiditySec     int `mapstructure:"price_validity_sec"`
	TechnicalValiditySec int `mapstructure:"technical_validity_sec"`
	AIValiditySec        int `mapstructure:"ai_validity_sec"`
	ModelValiditySec     int `mapstructure:"model_validity_sec"`
	SyncWindowSec        int `mapstructure:"sync_window_sec"`
}

// FusionConfig holds signal fusion thresholds.
type FusionConfig struct {
	MinConfidence        float64 `mapstructure:"min_confidence"`
	ConsensusThreshold   float64 `mapstructure:"consensus_threshold"`
	ConsensusBonus       float64 `mapstructure:"consensus_bonus"`
	LowConsensusDiscount float64 `mapstructure:"low_consensus_discount"`
	RecentAccuracyAlpha  float64 `mapstructure:"recent_accuracy_alpha"`
}

// RiskConfig holds position risk management configuration.
type RiskConfig struct {
	StopLossType       string      `mapstructure:"stop_loss_type"` // "fixed", "atr"
	InitialStopPct     float64     `mapstructure:"initial_stop_pct"`
	ATRMultiplier      float64     `mapstructure:"atr_multiplier"`
	TrailingDistance   float64     `mapstructure:"trailing_distance"`
	MinProfitForTrail  float64     `mapstructure:"min_profit_for_trail"`
	EmergencyMultiple  float64     `mapstructure:"emergency_multiple"`
	TakeProfitTargets  [][]float64 `mapstructure:"take_profit_targets"` // [profit_pct, close_fraction] pairs
}

// ExecutionConfig holds order execution configuration.
type ExecutionConfig struct {
	SlippageMode          string  `mapstructure:"slippage_mode"` // "none", "percentage", "absolute", "adaptive"
	MaxSlippagePct        float64 `mapstructure:"max_slippage_pct"`
	MaxSlippageAbs        float64 `mapstructure:"max_slippage_abs"`
	AdaptiveFactor        float64 `mapstructure:"adaptive_factor"`
	MaxRetryAttempts      int     `mapstructure:"max_retry_attempts"`
	RetryBaseDelayMs      int     `mapstructure:"retry_base_delay_ms"`
	RetryBackoffFactor    float64 `mapstructure:"retry_backoff_factor"`
	RetryJitterFraction   float64 `mapstructure:"retry_jitter_fraction"`
	DuplicateWindowSec    int     `mapstructure:"duplicate_window_sec"`
	PartialFillTimeoutSec int     `mapstructure:"partial_fill_timeout_sec"`
}

// MonitorConfig holds concurrent monitoring configuration.
type MonitorConfig struct {
	MaxWorkers           int     `mapstructure:"max_workers"`
	PredictorConcurrency int     `mapstructure:"predictor_concurrency"`
	UpdateIntervalSec    int     `mapstructure:"update_interval_sec"`
	TaskTimeoutSec       int     `mapstructure:"task_timeout_sec"`
	MaxConsecutiveErrors int     `mapstructure:"max_consecutive_errors"`
	TotalCapital         float64 `mapstructure:"total_capital"`
	MaxPositionRatio     float64 `mapstructure:"max_position_ratio"`
	PositionSizeRatio    float64 `mapstructure:"position_size_ratio"`
	MinTradeValue        float64 `mapstructure:"min_trade_value"`
	MaxSignalsPerCycle   int     `mapstructure:"max_signals_per_cycle"`
}

// Credentials holds API credentials.
type Credentials struct {
	Exchange     ExchangeCredentials `mapstructure:"exchange"`
	OpenAI       OpenAICredentials   `mapstructure:"openai"`
	ModelService ModelServiceConfig  `mapstructure:"model_service"`
}

// ExchangeCredentials holds exchange API credentials.
type ExchangeCredentials struct {
	APIKey     string `mapstructure:"api_key"`
	SecretKey  string `mapstructure:"secret_key"`
	Passphrase string `mapstructure:"passphrase"`
	BaseURL    string `mapstructure:"base_url"`
}

// OpenAICredentials holds OpenAI API credentials for the AI predictor.
type OpenAICredentials struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// ModelServiceConfig points at the time-series model inference service.
type ModelServiceConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/okx-trader"
	}
	return filepath.Join(home, ".config", "okx-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir string, target *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := createTemplateConfig(configDir); err != nil {
				return err
			}
			// Template written; run with defaults this time.
			return v.Unmarshal(target)
		}
		return err
	}

	return v.Unmarshal(target)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.leverage", 1.0)

	v.SetDefault("freshness.price_validity_sec", 30)
	v.SetDefault("freshness.technical_validity_sec", 120)
	v.SetDefault("freshness.ai_validity_sec", 300)
	v.SetDefault("freshness.model_validity_sec", 600)
	v.SetDefault("freshness.sync_window_sec", 60)

	v.SetDefault("fusion.min_confidence", 0.6)
	v.SetDefault("fusion.consensus_threshold", 0.7)
	v.SetDefault("fusion.consensus_bonus", 0.1)
	v.SetDefault("fusion.low_consensus_discount", 0.2)
	v.SetDefault("fusion.recent_accuracy_alpha", 0.1)

	v.SetDefault("risk.stop_loss_type", "fixed")
	v.SetDefault("risk.initial_stop_pct", 0.02)
	v.SetDefault("risk.atr_multiplier", 2.0)
	v.SetDefault("risk.trailing_distance", 0.01)
	v.SetDefault("risk.min_profit_for_trail", 0.005)
	v.SetDefault("risk.emergency_multiple", 1.5)
	v.SetDefault("risk.take_profit_targets", [][]float64{{0.01, 0.3}, {0.02, 0.5}, {0.03, 1.0}})

	v.SetDefault("execution.slippage_mode", "percentage")
	v.SetDefault("execution.max_slippage_pct", 0.002)
	v.SetDefault("execution.max_slippage_abs", 50.0)
	v.SetDefault("execution.adaptive_factor", 1.5)
	v.SetDefault("execution.max_retry_attempts", 3)
	v.SetDefault("execution.retry_base_delay_ms", 500)
	v.SetDefault("execution.retry_backoff_factor", 2.0)
	v.SetDefault("execution.retry_jitter_fraction", 0.2)
	v.SetDefault("execution.duplicate_window_sec", 30)
	v.SetDefault("execution.partial_fill_timeout_sec", 300)

	v.SetDefault("monitor.max_workers", 8)
	v.SetDefault("monitor.predictor_concurrency", 3)
	v.SetDefault("monitor.update_interval_sec", 60)
	v.SetDefault("monitor.task_timeout_sec", 30)
	v.SetDefault("monitor.max_consecutive_errors", 5)
	v.SetDefault("monitor.total_capital", 100000.0)
	v.SetDefault("monitor.max_position_ratio", 0.30)
	v.SetDefault("monitor.position_size_ratio", 0.10)
	v.SetDefault("monitor.min_trade_value", 100.0)
	v.SetDefault("monitor.max_signals_per_cycle", 5)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("model_service.timeout_sec", 30)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OKX_API_KEY"); v != "" {
		cfg.Credentials.Exchange.APIKey = v
	}
	if v := os.Getenv("OKX_SECRET_KEY"); v != "" {
		cfg.Credentials.Exchange.SecretKey = v
	}
	if v := os.Getenv("OKX_PASSPHRASE"); v != "" {
		cfg.Credentials.Exchange.Passphrase = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}
	if v := os.Getenv("MODEL_SERVICE_URL"); v != "" {
		cfg.Credentials.ModelService.BaseURL = v
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.Mode != "" && c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return fmt.Errorf("invalid trading mode: %s (must be 'live' or 'paper')", c.Trading.Mode)
	}

	if c.Fusion.MinConfidence < 0 || c.Fusion.MinConfidence > 1 {
		return fmt.Errorf("fusion.min_confidence must be between 0 and 1")
	}
	if c.Fusion.ConsensusThreshold < 0 || c.Fusion.ConsensusThreshold > 1 {
		return fmt.Errorf("fusion.consensus_threshold must be between 0 and 1")
	}

	if c.Risk.InitialStopPct <= 0 || c.Risk.InitialStopPct >= 1 {
		return fmt.Errorf("risk.initial_stop_pct must be between 0 and 1")
	}
	if c.Risk.EmergencyMultiple < 1 {
		return fmt.Errorf("risk.emergency_multiple must be >= 1")
	}
	var total float64
	for _, target := range c.Risk.TakeProfitTargets {
		if len(target) != 2 {
			return fmt.Errorf("risk.take_profit_targets entries must be [profit_pct, close_fraction] pairs")
		}
		if target[1] <= 0 || target[1] > 1 {
			return fmt.Errorf("take-profit close fraction must be in (0, 1]")
		}
		total = total + (1-total)*target[1]
	}
	if total > 1.0001 {
		return fmt.Errorf("take-profit fractions close more than the whole position")
	}

	if c.Execution.MaxRetryAttempts < 1 {
		return fmt.Errorf("execution.max_retry_attempts must be >= 1")
	}

	if c.Monitor.MaxWorkers < 1 {
		return fmt.Errorf("monitor.max_workers must be >= 1")
	}
	if c.Monitor.PredictorConcurrency < 1 {
		return fmt.Errorf("monitor.predictor_concurrency must be >= 1")
	}
	if c.Monitor.MaxPositionRatio <= 0 || c.Monitor.MaxPositionRatio > 1 {
		return fmt.Errorf("monitor.max_position_ratio must be between 0 and 1")
	}

	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}
