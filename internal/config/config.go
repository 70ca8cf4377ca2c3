// Package config loads the CC_* settings the signal engine is tuned with.
// Every key is overridable via environment variable (CC_-prefixed) or an
// optional YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds every CC_* tunable.
type Config struct {
	ScheduleAwaitMinutes   int             `mapstructure:"schedule_await_minutes"`
	AvgPriceCandlesCount   int             `mapstructure:"avg_price_candles_count"`
	PercentSlippage        decimal.Decimal `mapstructure:"-"`
	PercentFee             decimal.Decimal `mapstructure:"-"`
	MinTakeProfitDistPct   decimal.Decimal `mapstructure:"-"`
	MinStopLossDistPct     decimal.Decimal `mapstructure:"-"`
	MaxStopLossDistPct     decimal.Decimal `mapstructure:"-"`
	MaxSignalLifetimeMin   int             `mapstructure:"max_signal_lifetime_minutes"`
	MaxSignalGenSeconds    int             `mapstructure:"max_signal_generation_seconds"`
	GetCandlesRetryCount   int             `mapstructure:"get_candles_retry_count"`
	GetCandlesRetryDelay   time.Duration   `mapstructure:"-"`
	MaxCandlesPerRequest   int             `mapstructure:"max_candles_per_request"`
	AnomalyThresholdFactor decimal.Decimal `mapstructure:"-"`
	MinCandlesForMedian    int             `mapstructure:"get_candles_min_candles_for_median"`
	BreakevenThreshold     decimal.Decimal `mapstructure:"-"`
	OrderBookTimeOffsetMin int             `mapstructure:"order_book_time_offset_minutes"`
	OrderBookMaxDepth      int             `mapstructure:"order_book_max_depth_levels"`

	LiveTickInterval time.Duration `mapstructure:"-"`
}

// keyDefaults are the raw numeric/string defaults, bound by viper under the
// CC_ prefix.
var keyDefaults = map[string]any{
	"schedule_await_minutes":              120,
	"avg_price_candles_count":             5,
	"percent_slippage":                    0.1,
	"percent_fee":                         0.1,
	"min_takeprofit_distance_percent":     0.5,
	"min_stoploss_distance_percent":       0.5,
	"max_stoploss_distance_percent":       20.0,
	"max_signal_lifetime_minutes":         1440,
	"max_signal_generation_seconds":       180,
	"get_candles_retry_count":             3,
	"get_candles_retry_delay_ms":          5000,
	"max_candles_per_request":             1000,
	"get_candles_price_anomaly_threshold_factor": 1000.0,
	"get_candles_min_candles_for_median":  5,
	"breakeven_threshold":                 0.2,
	"order_book_time_offset_minutes":      10,
	"order_book_max_depth_levels":         20,
	"live_tick_interval_seconds":          60,
}

// Load builds a viper instance bound to the CC_ environment prefix, with an
// optional YAML overlay at yamlPath (ignored if empty or missing), and
// returns the parsed Config after running startup validation.
func Load(yamlPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CC")
	v.AutomaticEnv()

	for key, def := range keyDefaults {
		v.SetDefault(key, def)
	}

	if yamlPath != "" {
		v.SetConfigFile(yamlPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
			}
		}
	}

	cfg := &Config{
		ScheduleAwaitMinutes:   v.GetInt("schedule_await_minutes"),
		AvgPriceCandlesCount:   v.GetInt("avg_price_candles_count"),
		PercentSlippage:        decimal.NewFromFloat(v.GetFloat64("percent_slippage")),
		PercentFee:             decimal.NewFromFloat(v.GetFloat64("percent_fee")),
		MinTakeProfitDistPct:   decimal.NewFromFloat(v.GetFloat64("min_takeprofit_distance_percent")),
		MinStopLossDistPct:     decimal.NewFromFloat(v.GetFloat64("min_stoploss_distance_percent")),
		MaxStopLossDistPct:     decimal.NewFromFloat(v.GetFloat64("max_stoploss_distance_percent")),
		MaxSignalLifetimeMin:   v.GetInt("max_signal_lifetime_minutes"),
		MaxSignalGenSeconds:    v.GetInt("max_signal_generation_seconds"),
		GetCandlesRetryCount:   v.GetInt("get_candles_retry_count"),
		GetCandlesRetryDelay:   time.Duration(v.GetInt("get_candles_retry_delay_ms")) * time.Millisecond,
		MaxCandlesPerRequest:   v.GetInt("max_candles_per_request"),
		AnomalyThresholdFactor: decimal.NewFromFloat(v.GetFloat64("get_candles_price_anomaly_threshold_factor")),
		MinCandlesForMedian:    v.GetInt("get_candles_min_candles_for_median"),
		BreakevenThreshold:     decimal.NewFromFloat(v.GetFloat64("breakeven_threshold")),
		OrderBookTimeOffsetMin: v.GetInt("order_book_time_offset_minutes"),
		OrderBookMaxDepth:      v.GetInt("order_book_max_depth_levels"),
		LiveTickInterval:       time.Duration(v.GetInt("live_tick_interval_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate enforces the cross-key invariants: the minimum take-profit
// distance must clear the round-trip slippage+fee cost twice over (entry and
// exit), or every signal would be unprofitable even at its minimum target;
// and the minimum stop-loss distance must not exceed the maximum.
func (c *Config) validate() error {
	minViable := c.PercentSlippage.Add(c.PercentFee).Mul(decimal.NewFromInt(2))
	if c.MinTakeProfitDistPct.LessThanOrEqual(minViable) {
		return fmt.Errorf("config: CC_MIN_TAKEPROFIT_DISTANCE_PERCENT (%s) must exceed 2*(slippage+fee) (%s)",
			c.MinTakeProfitDistPct, minViable)
	}
	if c.MinStopLossDistPct.GreaterThan(c.MaxStopLossDistPct) {
		return fmt.Errorf("config: CC_MIN_STOPLOSS_DISTANCE_PERCENT (%s) exceeds CC_MAX_STOPLOSS_DISTANCE_PERCENT (%s)",
			c.MinStopLossDistPct, c.MaxStopLossDistPct)
	}
	return nil
}
