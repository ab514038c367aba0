// Package config provides configuration management for the trading engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "bracket-trader/internal/errors"
	"bracket-trader/internal/logging"
)

// Config holds all application configuration. It is loaded once and then
// passed by pointer to constructors; nothing mutates it after Load returns.
type Config struct {
	Trading      TradingConfig      `mapstructure:"trading"`
	Risk         RiskConfig         `mapstructure:"risk"`
	Verification VerificationConfig `mapstructure:"verification"`
	Pricing      PricingConfig      `mapstructure:"pricing"`
	Broker       BrokerConfig       `mapstructure:"broker"`
	Store        StoreConfig        `mapstructure:"store"`
	Logging      logging.LogConfig  `mapstructure:"logging"`
}

// TradingConfig holds cycle and session configuration.
type TradingConfig struct {
	DryRun                    bool          `mapstructure:"dry_run"`
	AccountID                 string        `mapstructure:"account_id"`
	Broker                    string        `mapstructure:"broker"` // paper, alpaca, kite
	CycleInterval             time.Duration `mapstructure:"cycle_interval"`
	IdleInterval              time.Duration `mapstructure:"idle_interval"`
	Timezone                  string        `mapstructure:"timezone"`
	Sessions                  []string      `mapstructure:"sessions"` // "HH:MM-HH:MM"
	Holidays                  []string      `mapstructure:"holidays"` // "YYYY-MM-DD"
	ClosePositionsBeforeClose bool          `mapstructure:"close_positions_before_close"`
	SinglePosition            bool          `mapstructure:"single_position"`
	CloseBufferMinutes        int           `mapstructure:"close_buffer_minutes"`
	InitialPaperBalance       float64       `mapstructure:"initial_paper_balance"`
}

// RiskConfig holds sizing defaults and loss limits.
type RiskConfig struct {
	RiskFraction            float64 `mapstructure:"risk_fraction"`
	ProfitToLossRatio       float64 `mapstructure:"profit_to_loss_ratio"`
	AvailableQuantityRatio  float64 `mapstructure:"available_quantity_ratio"`
	DailyLossLimitPercent   float64 `mapstructure:"daily_loss_limit_percent"`
	WeeklyLossLimitPercent  float64 `mapstructure:"weekly_loss_limit_percent"`
	MonthlyLossLimitPercent float64 `mapstructure:"monthly_loss_limit_percent"`
	DailyResetSpec          string  `mapstructure:"daily_reset_spec"`
	WeeklyResetSpec         string  `mapstructure:"weekly_reset_spec"`
	MonthlyResetSpec        string  `mapstructure:"monthly_reset_spec"`
}

// VerificationConfig bounds order verification polling.
type VerificationConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// PricingConfig holds price provider configuration.
type PricingConfig struct {
	Providers       []string           `mapstructure:"providers"` // finnhub, alphavantage, alpaca, kite, static
	ProviderTimeout time.Duration      `mapstructure:"provider_timeout"`
	Finnhub         HTTPProviderConfig `mapstructure:"finnhub"`
	AlphaVantage    HTTPProviderConfig `mapstructure:"alphavantage"`
	Alpaca          RateConfig         `mapstructure:"alpaca"`
	Kite            KiteQuoteConfig    `mapstructure:"kite"`
	Static          map[string]float64 `mapstructure:"static"`
}

// HTTPProviderConfig configures a REST quote provider.
type HTTPProviderConfig struct {
	APIKey            string `mapstructure:"api_key"`
	BaseURL           string `mapstructure:"base_url"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// RateConfig configures only a request rate.
type RateConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// KiteQuoteConfig configures Kite quotes.
type KiteQuoteConfig struct {
	Exchange          string `mapstructure:"exchange"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// BrokerConfig holds brokerage credentials and resilience settings.
type BrokerConfig struct {
	Alpaca         AlpacaConfig         `mapstructure:"alpaca"`
	Kite           KiteConfig           `mapstructure:"kite"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// AlpacaConfig holds Alpaca credentials.
type AlpacaConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	BaseURL   string `mapstructure:"base_url"`
}

// KiteConfig holds Zerodha Kite credentials.
type KiteConfig struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
	Exchange    string `mapstructure:"exchange"`
	Product     string `mapstructure:"product"`
}

// CircuitBreakerConfig configures the breaker around broker calls.
type CircuitBreakerConfig struct {
	MaxFailures  int           `mapstructure:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
	HalfOpenMax  int           `mapstructure:"half_open_max"`
}

// StoreConfig holds persistence paths.
type StoreConfig struct {
	PlanPath    string `mapstructure:"plan_path"`
	JournalPath string `mapstructure:"journal_path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/bracket-trader"
	}
	return filepath.Join(home, ".config", "bracket-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env is optional; real environment variables still apply.
	_ = godotenv.Load(filepath.Join(configDir, ".env"), ".env")

	cfg := &Config{}
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.expandPaths(configDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration built purely from defaults.
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v)
	_ = v.Unmarshal(cfg)
	cfg.expandPaths(DefaultConfigDir())
	return cfg
}

func loadConfigFile(configDir, name string, target *Config) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.dry_run", true)
	v.SetDefault("trading.account_id", "paper")
	v.SetDefault("trading.broker", "paper")
	v.SetDefault("trading.cycle_interval", 30*time.Second)
	v.SetDefault("trading.idle_interval", 5*time.Minute)
	v.SetDefault("trading.timezone", "America/New_York")
	v.SetDefault("trading.sessions", []string{"09:30-16:00"})
	v.SetDefault("trading.close_positions_before_close", true)
	v.SetDefault("trading.single_position", false)
	v.SetDefault("trading.holidays", []string{})
	v.SetDefault("trading.close_buffer_minutes", 10)
	v.SetDefault("trading.initial_paper_balance", 100000.0)

	v.SetDefault("risk.risk_fraction", 0.01)
	v.SetDefault("risk.profit_to_loss_ratio", 2.0)
	v.SetDefault("risk.available_quantity_ratio", 0.5)
	v.SetDefault("risk.daily_loss_limit_percent", 2.0)
	v.SetDefault("risk.weekly_loss_limit_percent", 5.0)
	v.SetDefault("risk.monthly_loss_limit_percent", 10.0)
	v.SetDefault("risk.daily_reset_spec", "0 0 * * *")
	v.SetDefault("risk.weekly_reset_spec", "0 0 * * 1")
	v.SetDefault("risk.monthly_reset_spec", "0 0 1 * *")

	v.SetDefault("verification.max_attempts", 10)
	v.SetDefault("verification.poll_interval", 2*time.Second)
	v.SetDefault("verification.timeout", 30*time.Second)

	v.SetDefault("pricing.providers", []string{"static"})
	v.SetDefault("pricing.provider_timeout", 5*time.Second)
	v.SetDefault("pricing.finnhub.base_url", "https://finnhub.io/api/v1")
	v.SetDefault("pricing.finnhub.requests_per_minute", 60)
	v.SetDefault("pricing.alphavantage.base_url", "https://www.alphavantage.co")
	v.SetDefault("pricing.alphavantage.requests_per_minute", 5)
	v.SetDefault("pricing.alpaca.requests_per_minute", 200)
	v.SetDefault("pricing.kite.exchange", "NSE")
	v.SetDefault("pricing.kite.requests_per_minute", 60)

	v.SetDefault("broker.alpaca.base_url", "https://paper-api.alpaca.markets")
	v.SetDefault("broker.kite.exchange", "NSE")
	v.SetDefault("broker.kite.product", "CNC")
	v.SetDefault("broker.circuit_breaker.max_failures", 5)
	v.SetDefault("broker.circuit_breaker.reset_timeout", 60*time.Second)
	v.SetDefault("broker.circuit_breaker.half_open_max", 1)

	v.SetDefault("store.plan_path", "plans.json")
	v.SetDefault("store.journal_path", "journal.db")

	logDefaults := logging.DefaultLogConfig()
	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.console", logDefaults.Console)
	v.SetDefault("logging.file", logDefaults.File)
	v.SetDefault("logging.file_path", logDefaults.FilePath)
	v.SetDefault("logging.max_size", logDefaults.MaxSize)
	v.SetDefault("logging.max_backups", logDefaults.MaxBackups)
	v.SetDefault("logging.max_age", logDefaults.MaxAge)
}

// expandPaths makes relative store paths relative to the config dir.
func (c *Config) expandPaths(configDir string) {
	if c.Store.PlanPath != "" && !filepath.IsAbs(c.Store.PlanPath) {
		c.Store.PlanPath = filepath.Join(configDir, c.Store.PlanPath)
	}
	if c.Store.JournalPath != "" && !filepath.IsAbs(c.Store.JournalPath) {
		c.Store.JournalPath = filepath.Join(configDir, c.Store.JournalPath)
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Trading.DryRun = b
		}
	}
	if v := os.Getenv("ACCOUNT_ID"); v != "" {
		cfg.Trading.AccountID = v
	}
	if v := os.Getenv("TRADING_BROKER"); v != "" {
		cfg.Trading.Broker = strings.ToLower(v)
	}
	setFloat("RISK_OF_CAPITAL", &cfg.Risk.RiskFraction)
	setFloat("PROFIT_TO_LOSS_RATIO", &cfg.Risk.ProfitToLossRatio)
	setFloat("AVAILABLE_QUANTITY_RATIO", &cfg.Risk.AvailableQuantityRatio)

	// Alpaca credentials
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Broker.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Broker.Alpaca.APISecret = v
	}
	if v := os.Getenv("APCA_API_BASE_URL"); v != "" {
		cfg.Broker.Alpaca.BaseURL = v
	}

	// Kite credentials
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Broker.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Broker.Kite.AccessToken = v
	}

	// Price providers
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		cfg.Pricing.Finnhub.APIKey = v
	}
	if v := os.Getenv("ALPHA_VANTAGE_API_KEY"); v != "" {
		cfg.Pricing.AlphaVantage.APIKey = v
	}
}

func setFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", apperrors.ErrConfigInvalid, fmt.Sprintf(format, args...))
	}

	switch c.Trading.Broker {
	case "paper", "alpaca", "kite":
	default:
		return invalid("broker must be paper, alpaca or kite, got %q", c.Trading.Broker)
	}
	if c.Trading.CloseBufferMinutes < 1 || c.Trading.CloseBufferMinutes > 30 {
		return invalid("close_buffer_minutes must be between 1 and 30")
	}
	if c.Trading.CycleInterval <= 0 {
		return invalid("cycle_interval must be positive")
	}
	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		return invalid("unknown timezone %q", c.Trading.Timezone)
	}

	// Validate risk parameters
	if c.Risk.RiskFraction <= 0 || c.Risk.RiskFraction > 1 {
		return invalid("risk_fraction must be in (0, 1]")
	}
	if c.Risk.ProfitToLossRatio < 1 {
		return invalid("profit_to_loss_ratio must be >= 1")
	}
	if c.Risk.AvailableQuantityRatio <= 0 || c.Risk.AvailableQuantityRatio > 1 {
		return invalid("available_quantity_ratio must be in (0, 1]")
	}
	if c.Risk.DailyLossLimitPercent <= 0 || c.Risk.DailyLossLimitPercent > 5 {
		return invalid("daily_loss_limit_percent must be in (0, 5]")
	}
	if c.Risk.WeeklyLossLimitPercent <= 0 || c.Risk.WeeklyLossLimitPercent > 10 {
		return invalid("weekly_loss_limit_percent must be in (0, 10]")
	}
	if c.Risk.MonthlyLossLimitPercent <= 0 || c.Risk.MonthlyLossLimitPercent > 20 {
		return invalid("monthly_loss_limit_percent must be in (0, 20]")
	}

	if c.Verification.MaxAttempts < 1 {
		return invalid("verification max_attempts must be >= 1")
	}
	if c.Verification.Timeout <= 0 {
		return invalid("verification timeout must be positive")
	}

	if c.Store.PlanPath == "" {
		return invalid("store.plan_path is required")
	}

	return nil
}

// IsPaperMode returns true if orders never reach a real brokerage.
func (c *Config) IsPaperMode() bool {
	return c.Trading.DryRun || c.Trading.Broker == "paper"
}
