// Package config provides configuration management for the backtester.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/rcolo88/Trading-sub000/internal/backtest"
	"github.com/rcolo88/Trading-sub000/internal/errors"
	"github.com/rcolo88/Trading-sub000/internal/optimize"
	"github.com/rcolo88/Trading-sub000/internal/strategy"
)

const dateLayout = "2006-01-02"

// Config holds all application configuration.
type Config struct {
	Backtest  BacktestConfig        `mapstructure:"backtest"`
	Sizing    strategy.SizingConfig `mapstructure:"sizing"`
	Strategy  StrategyConfig        `mapstructure:"strategy"`
	Optimizer OptimizerConfig       `mapstructure:"optimizer"`
	Data      DataConfig            `mapstructure:"data"`
	Logging   LoggingConfig         `mapstructure:"logging"`
}

// BacktestConfig mirrors backtest.Config with string dates for TOML.
type BacktestConfig struct {
	InitialCapital          float64 `mapstructure:"initial_capital"`
	StartDate               string  `mapstructure:"start_date"`
	EndDate                 string  `mapstructure:"end_date"`
	CommissionPerContract   float64 `mapstructure:"commission_per_contract"`
	MaxOpenPositions        int     `mapstructure:"max_open_positions"`
	CarryForwardMissingDays bool    `mapstructure:"carry_forward_missing_days"`
}

// StrategyConfig selects and configures one strategy variant.
type StrategyConfig struct {
	Type string `mapstructure:"type"`

	Vertical struct {
		Entry strategy.VerticalEntryConfig `mapstructure:"entry"`
		Exit  strategy.ExitConfig          `mapstructure:"exit"`
	} `mapstructure:"vertical"`

	Calendar struct {
		Entry strategy.CalendarEntryConfig `mapstructure:"entry"`
		Exit  strategy.CalendarExitConfig  `mapstructure:"exit"`
	} `mapstructure:"calendar"`

	IronCondor struct {
		Entry strategy.IronCondorEntryConfig `mapstructure:"entry"`
		Exit  strategy.IronCondorExitConfig  `mapstructure:"exit"`
	} `mapstructure:"iron_condor"`
}

// ParameterRangeConfig is one search dimension in TOML.
type ParameterRangeConfig struct {
	Name string  `mapstructure:"name"`
	Min  float64 `mapstructure:"min"`
	Max  float64 `mapstructure:"max"`
	Step float64 `mapstructure:"step"`
}

// OptimizerConfig holds search settings shared by both modes.
type OptimizerConfig struct {
	Parameters []ParameterRangeConfig `mapstructure:"parameters"`

	Metric          string  `mapstructure:"metric"`
	CheckpointEvery int     `mapstructure:"checkpoint_every"`
	Database        string  `mapstructure:"database"`
	SkipConfirm     bool    `mapstructure:"skip_confirm"`
	Trials          int     `mapstructure:"trials"`
	StartupTrials   int     `mapstructure:"startup_trials"`
	Gamma           float64 `mapstructure:"gamma"`
	Multivariate    bool    `mapstructure:"multivariate"`
	Pruning         bool    `mapstructure:"pruning"`
	Seed            int64   `mapstructure:"seed"`
}

// DataConfig points at the input series.
type DataConfig struct {
	ChainCSV  string `mapstructure:"chain_csv"`
	PricesCSV string `mapstructure:"prices_csv"`
	ExportDir string `mapstructure:"export_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/options-backtester"
	}
	return filepath.Join(home, ".config", "options-backtester")
}

// Load loads configuration from the specified directory, or the
// default directory when empty.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "reading config.toml")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backtest.initial_capital", 100000.0)
	v.SetDefault("backtest.commission_per_contract", 0.65)
	v.SetDefault("backtest.max_open_positions", 5)
	v.SetDefault("sizing.risk_per_trade", 0.02)
	v.SetDefault("optimizer.metric", "sharpe_ratio")
	v.SetDefault("optimizer.checkpoint_every", 25)
	v.SetDefault("optimizer.database", filepath.Join(DefaultConfigDir(), "results.db"))
	v.SetDefault("optimizer.trials", 100)
	v.SetDefault("optimizer.startup_trials", 10)
	v.SetDefault("optimizer.gamma", 0.25)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BACKTESTER_DB"); v != "" {
		cfg.Optimizer.Database = v
	}
	if v := os.Getenv("BACKTESTER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Backtest.InitialCapital <= 0 {
		return errors.NewValidationError("backtest.initial_capital", c.Backtest.InitialCapital, "must be positive")
	}
	if c.Backtest.StartDate != "" {
		if _, err := time.Parse(dateLayout, c.Backtest.StartDate); err != nil {
			return errors.NewValidationError("backtest.start_date", c.Backtest.StartDate, "must be YYYY-MM-DD")
		}
	}
	if c.Backtest.EndDate != "" {
		if _, err := time.Parse(dateLayout, c.Backtest.EndDate); err != nil {
			return errors.NewValidationError("backtest.end_date", c.Backtest.EndDate, "must be YYYY-MM-DD")
		}
	}
	switch c.Strategy.Type {
	case "", string(strategy.TypeVertical), string(strategy.TypeCalendar), string(strategy.TypeIronCondor):
	default:
		return errors.NewValidationError("strategy.type", c.Strategy.Type, "must be vertical, calendar, or iron_condor")
	}
	return nil
}

// EngineConfig converts the TOML view into the engine's configuration.
func (c *Config) EngineConfig() (backtest.Config, error) {
	start, err := time.Parse(dateLayout, c.Backtest.StartDate)
	if err != nil {
		return backtest.Config{}, errors.NewValidationError("backtest.start_date", c.Backtest.StartDate, "must be YYYY-MM-DD")
	}
	end, err := time.Parse(dateLayout, c.Backtest.EndDate)
	if err != nil {
		return backtest.Config{}, errors.NewValidationError("backtest.end_date", c.Backtest.EndDate, "must be YYYY-MM-DD")
	}
	return backtest.Config{
		InitialCapital:          c.Backtest.InitialCapital,
		StartDate:               start,
		EndDate:                 end,
		CommissionPerContract:   c.Backtest.CommissionPerContract,
		MaxOpenPositions:        c.Backtest.MaxOpenPositions,
		Sizing:                  c.Sizing,
		CarryForwardMissingDays: c.Backtest.CarryForwardMissingDays,
	}, nil
}

// StrategySpec converts the TOML view into the optimizer's base spec.
func (c *Config) StrategySpec() optimize.StrategySpec {
	return optimize.StrategySpec{
		Type:          strategy.Type(c.Strategy.Type),
		VerticalEntry: c.Strategy.Vertical.Entry,
		VerticalExit:  c.Strategy.Vertical.Exit,
		CalendarEntry: c.Strategy.Calendar.Entry,
		CalendarExit:  c.Strategy.Calendar.Exit,
		CondorEntry:   c.Strategy.IronCondor.Entry,
		CondorExit:    c.Strategy.IronCondor.Exit,
	}
}

// BuildStrategy constructs the configured strategy variant.
func (c *Config) BuildStrategy() (strategy.Strategy, error) {
	return optimize.BuildStrategy(c.StrategySpec(), nil)
}
