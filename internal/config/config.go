// Package config loads engine configuration from a YAML file with
// ALPHA_* environment-variable overrides. Brokerage credentials are the
// only values read from the environment alone; every behavioral knob
// lives in the file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/quantframe/streamalpha/internal/broker"
	"github.com/quantframe/streamalpha/internal/execution"
	"github.com/quantframe/streamalpha/internal/meta"
	"github.com/quantframe/streamalpha/internal/risk"
	"github.com/quantframe/streamalpha/internal/strategy"
	"github.com/quantframe/streamalpha/pkg/types"
)

// Config is the top-level configuration, mapping directly to the YAML
// file structure.
type Config struct {
	Mode        string   `mapstructure:"mode"` // "backtest" or "live"
	Paper       bool     `mapstructure:"paper"`
	Symbols     []string `mapstructure:"symbols"`
	InitialCash float64  `mapstructure:"initial_cash"`
	DataDir     string   `mapstructure:"data_dir"`

	Driver     DriverConfig     `mapstructure:"driver"`
	Strategies []StrategyConfig `mapstructure:"strategies"`
	Meta       MetaConfig       `mapstructure:"meta"`
	Orders     OrdersConfig     `mapstructure:"orders"`
	Matching   MatchingConfig   `mapstructure:"matching"`
	Stops      StopsConfig      `mapstructure:"stops"`
	Server     ServerConfig     `mapstructure:"server"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DriverConfig tunes the tick loop.
type DriverConfig struct {
	EquitySampleStride int    `mapstructure:"equity_sample_stride"`
	MaxTicks           int    `mapstructure:"max_ticks"`
	FaultThreshold     int    `mapstructure:"fault_threshold"`
	CloseOnFinish      bool   `mapstructure:"close_on_finish"`
	OrderEventLog      string `mapstructure:"order_event_log"`
	MetricsLog         string `mapstructure:"metrics_log"`
	Seed               int64  `mapstructure:"seed"` // 0 means unseeded
}

// StrategyConfig is one strategy parameter bundle: a registry name plus
// its sizing knobs and free-form parameters.
type StrategyConfig struct {
	Name            string                 `mapstructure:"name"`
	PositionSizeUSD float64                `mapstructure:"position_size_usd"`
	MaxPosition     float64                `mapstructure:"max_position"`
	EnableShorting  bool                   `mapstructure:"enable_shorting"`
	Params          map[string]interface{} `mapstructure:"params"`
}

// MetaConfig tunes the adaptive allocator across the configured
// strategies. The allocator is used when more than one strategy is
// configured or Enabled is set.
type MetaConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	RebalancePeriod     int     `mapstructure:"rebalance_period"`
	MinAllocation       float64 `mapstructure:"min_allocation"`
	MaxAllocation       float64 `mapstructure:"max_allocation"`
	PerformanceLookback int     `mapstructure:"performance_lookback"`
	Method              string  `mapstructure:"method"` // pnl | sharpe | win_rate
}

// OrdersConfig maps to the order-manager validation gate.
type OrdersConfig struct {
	MaxOrdersPerMinute          int     `mapstructure:"max_orders_per_minute"`
	MaxOrdersPerSymbolPerMinute int     `mapstructure:"max_orders_per_symbol_per_minute"`
	MaxPositionSize             float64 `mapstructure:"max_position_size"`
	MaxPositionValue            float64 `mapstructure:"max_position_value"`
	MaxTotalExposure            float64 `mapstructure:"max_total_exposure"`
	MinCashBuffer               float64 `mapstructure:"min_cash_buffer"`
}

// MatchingConfig maps to the probabilistic matching engine.
type MatchingConfig struct {
	// UseCostModel switches MARKET fills to the Almgren-Chriss execution
	// model (asset-class-specific spread/impact/latency) instead of the
	// flat simulator parameters below.
	UseCostModel           bool    `mapstructure:"use_cost_model"`
	FillProbability        float64 `mapstructure:"fill_probability"`
	PartialFillProbability float64 `mapstructure:"partial_fill_probability"`
	CancelProbability      float64 `mapstructure:"cancel_probability"`
	MarketImpact           float64 `mapstructure:"market_impact"`
	CommissionPerShare     float64 `mapstructure:"commission_per_share"`
	CommissionMin          float64 `mapstructure:"commission_min"`
	BidAskSpreadBps        float64 `mapstructure:"bid_ask_spread_bps"`
	SECFeeRate             float64 `mapstructure:"sec_fee_rate"`
	LiquidityImpactFactor  float64 `mapstructure:"liquidity_impact_factor"`
}

// StopsConfig maps to the stop-loss / circuit-breaker engine.
type StopsConfig struct {
	PositionStopPct      float64 `mapstructure:"position_stop_pct"`
	TrailingStopPct      float64 `mapstructure:"trailing_stop_pct"`
	PortfolioStopPct     float64 `mapstructure:"portfolio_stop_pct"`
	MaxDrawdownPct       float64 `mapstructure:"max_drawdown_pct"`
	UseTrailingStops     bool    `mapstructure:"use_trailing_stops"`
	EnableCircuitBreaker bool    `mapstructure:"enable_circuit_breaker"`
}

// ServerConfig controls the inspection HTTP API.
type ServerConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// BrokerConfig holds the live brokerage endpoint. Venue selects the
// adapter: "rest" (generic signed REST) or "binance" (native exchange
// connection with streaming). Credentials come from ALPHA_BROKER_KEY /
// ALPHA_BROKER_SECRET only.
type BrokerConfig struct {
	Venue     string `mapstructure:"venue"`
	BaseURL   string `mapstructure:"base_url"`
	StreamURL string `mapstructure:"stream_url"`
	Testnet   bool   `mapstructure:"testnet"`
	Key       string `mapstructure:"-"`
	Secret    string `mapstructure:"-"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ALPHA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Broker.Key = os.Getenv("ALPHA_BROKER_KEY")
	cfg.Broker.Secret = os.Getenv("ALPHA_BROKER_SECRET")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "backtest")
	v.SetDefault("paper", true)
	v.SetDefault("initial_cash", 100000)
	v.SetDefault("data_dir", "./data")

	v.SetDefault("driver.equity_sample_stride", 1)
	v.SetDefault("driver.fault_threshold", 10)

	v.SetDefault("meta.rebalance_period", 360)
	v.SetDefault("meta.min_allocation", 0.05)
	v.SetDefault("meta.max_allocation", 0.40)
	v.SetDefault("meta.performance_lookback", 360)
	v.SetDefault("meta.method", "pnl")

	v.SetDefault("orders.max_orders_per_minute", 60)
	v.SetDefault("orders.max_orders_per_symbol_per_minute", 20)
	v.SetDefault("orders.max_position_size", 10000)
	v.SetDefault("orders.max_position_value", 500000)
	v.SetDefault("orders.max_total_exposure", 1000000)

	v.SetDefault("matching.fill_probability", 0.85)
	v.SetDefault("matching.partial_fill_probability", 0.10)
	v.SetDefault("matching.cancel_probability", 0.05)
	v.SetDefault("matching.market_impact", 0.0002)
	v.SetDefault("matching.bid_ask_spread_bps", 5)
	v.SetDefault("matching.sec_fee_rate", 0.0000278)
	v.SetDefault("matching.liquidity_impact_factor", 0.0001)

	v.SetDefault("stops.position_stop_pct", 2)
	v.SetDefault("stops.trailing_stop_pct", 3)
	v.SetDefault("stops.portfolio_stop_pct", 5)
	v.SetDefault("stops.max_drawdown_pct", 10)
	v.SetDefault("stops.enable_circuit_breaker", true)

	v.SetDefault("broker.venue", "rest")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.level", "info")
}

// Validate enforces the construction-time invariants. Any violation here
// is fatal: the engine refuses to start on a bad configuration.
func (c *Config) Validate() error {
	if c.Mode != "backtest" && c.Mode != "live" {
		return fmt.Errorf("mode must be \"backtest\" or \"live\", got %q", c.Mode)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.InitialCash <= 0 {
		return fmt.Errorf("initial_cash must be > 0")
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}

	// A single live session may not mix crypto and equities.
	if c.Mode == "live" {
		if err := broker.ValidateUniverse(c.Symbols); err != nil {
			return err
		}
	}

	pSum := c.Matching.FillProbability + c.Matching.PartialFillProbability + c.Matching.CancelProbability
	if pSum < 0.99 || pSum > 1.01 {
		return fmt.Errorf("matching probabilities must sum to 1, got %v", pSum)
	}

	if c.Meta.MinAllocation >= c.Meta.MaxAllocation {
		return fmt.Errorf("meta.min_allocation (%v) must be < meta.max_allocation (%v)",
			c.Meta.MinAllocation, c.Meta.MaxAllocation)
	}
	switch types.AllocationMethod(c.Meta.Method) {
	case types.AllocationMethodPnL, types.AllocationMethodSharpe, types.AllocationMethodWinRate:
	default:
		return fmt.Errorf("meta.method must be pnl, sharpe, or win_rate, got %q", c.Meta.Method)
	}

	for _, s := range c.Strategies {
		if s.Name == "" {
			return fmt.Errorf("every strategy needs a name")
		}
		if s.PositionSizeUSD < 0 || s.MaxPosition < 0 {
			return fmt.Errorf("strategy %s: sizing values must be non-negative", s.Name)
		}
	}

	return nil
}

// ValidationConfig translates the orders section for the execution gate.
func (c *Config) ValidationConfig() execution.ValidationConfig {
	return execution.ValidationConfig{
		MaxOrdersPerMinute:          c.Orders.MaxOrdersPerMinute,
		MaxOrdersPerSymbolPerMinute: c.Orders.MaxOrdersPerSymbolPerMinute,
		MaxPositionSize:             decimal.NewFromFloat(c.Orders.MaxPositionSize),
		MaxPositionValue:            decimal.NewFromFloat(c.Orders.MaxPositionValue),
		MaxTotalExposure:            decimal.NewFromFloat(c.Orders.MaxTotalExposure),
		MinCashBuffer:               decimal.NewFromFloat(c.Orders.MinCashBuffer),
	}
}

// MatchingEngineConfig translates the matching section.
func (c *Config) MatchingEngineConfig() execution.MatchingEngineConfig {
	return execution.MatchingEngineConfig{
		FillProbability:        decimal.NewFromFloat(c.Matching.FillProbability),
		PartialFillProbability: decimal.NewFromFloat(c.Matching.PartialFillProbability),
		CancelProbability:      decimal.NewFromFloat(c.Matching.CancelProbability),
		MarketImpact:           decimal.NewFromFloat(c.Matching.MarketImpact),
		CommissionPerShare:     decimal.NewFromFloat(c.Matching.CommissionPerShare),
		CommissionMin:          decimal.NewFromFloat(c.Matching.CommissionMin),
		BidAskSpreadBps:        decimal.NewFromFloat(c.Matching.BidAskSpreadBps),
		SECFeeRate:             decimal.NewFromFloat(c.Matching.SECFeeRate),
		LiquidityImpactFactor:  decimal.NewFromFloat(c.Matching.LiquidityImpactFactor),
	}
}

// StopLossConfig translates the stops section.
func (c *Config) StopLossConfig() risk.StopLossConfig {
	return risk.StopLossConfig{
		PositionStopPct:      decimal.NewFromFloat(c.Stops.PositionStopPct),
		TrailingStopPct:      decimal.NewFromFloat(c.Stops.TrailingStopPct),
		PortfolioStopPct:     decimal.NewFromFloat(c.Stops.PortfolioStopPct),
		MaxDrawdownPct:       decimal.NewFromFloat(c.Stops.MaxDrawdownPct),
		UseTrailingStops:     c.Stops.UseTrailingStops,
		EnableCircuitBreaker: c.Stops.EnableCircuitBreaker,
	}
}

// MetaAllocatorConfig translates the meta section.
func (c *Config) MetaAllocatorConfig() meta.Config {
	return meta.Config{
		RebalancePeriod:     c.Meta.RebalancePeriod,
		MinAllocation:       decimal.NewFromFloat(c.Meta.MinAllocation),
		MaxAllocation:       decimal.NewFromFloat(c.Meta.MaxAllocation),
		PerformanceLookback: c.Meta.PerformanceLookback,
		Method:              types.AllocationMethod(c.Meta.Method),
	}
}

// EvaluatorConfig translates one strategy bundle's sizing knobs.
func (s StrategyConfig) EvaluatorConfig() strategy.Config {
	cfg := strategy.DefaultConfig()
	if s.PositionSizeUSD > 0 {
		cfg.PositionSizeUSD = decimal.NewFromFloat(s.PositionSizeUSD)
	}
	if s.MaxPosition > 0 {
		cfg.MaxPosition = decimal.NewFromFloat(s.MaxPosition)
	}
	cfg.EnableShorting = s.EnableShorting
	return cfg
}
