// Package config 负责 YAML 配置加载、环境变量覆盖、范围校验与热更新。
// 所有风控相关参数只在构造期接受；运行期热更新只允许改策略参数。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StrategyConfig 报价与刷新参数。
type StrategyConfig struct {
	BaseSpreadBps         float64 `yaml:"baseSpreadBps"`
	MinSpreadBps          float64 `yaml:"minSpreadBps"`
	MaxSpreadBps          float64 `yaml:"maxSpreadBps"`
	VolSpreadFactor       float64 `yaml:"volSpreadFactor"`
	SkewStrength          float64 `yaml:"skewStrength"`
	RefreshIntervalMs     int     `yaml:"refreshIntervalMs"`
	MaxQuoteAgeMs         int     `yaml:"maxQuoteAgeMs"`
	PriceChangeTriggerBps float64 `yaml:"priceChangeTriggerBps"`
	OrderNotionalPct      float64 `yaml:"orderNotionalPct"`
	VolatilityWindow      int     `yaml:"volatilityWindow"`
}

// RiskConfig 准入与熔断参数。
type RiskConfig struct {
	InventorySoftBandPct  float64 `yaml:"inventorySoftBandPct"`
	InventoryHardLimitPct float64 `yaml:"inventoryHardLimitPct"`
	MinOrderNotional      float64 `yaml:"minOrderNotional"`
	MaxOrderNotionalPct   float64 `yaml:"maxOrderNotionalPct"`
	PriceBandPct          float64 `yaml:"priceBandPct"`
	DailyLossLimitPct     float64 `yaml:"dailyLossLimitPct"`
	MaxDrawdownHardPct    float64 `yaml:"maxDrawdownHardPct"`
	MaxOrdersPerSecond    int     `yaml:"maxOrdersPerSecond"`
	MaxOrdersPerMinute    int     `yaml:"maxOrdersPerMinute"`
	GatewayErrorWindowSec int     `yaml:"gatewayErrorWindowSec"`
	GatewayErrorThreshold int     `yaml:"gatewayErrorThreshold"`
	InventoryBreachCycles int     `yaml:"inventoryBreachCycles"`
	FlattenOnTrigger      bool    `yaml:"flattenOnTrigger"`
}

// ScalingConfig 风险缩放参数。
type ScalingConfig struct {
	ATRLength        int     `yaml:"atrLength"`
	DDLookbackHours  int     `yaml:"ddLookbackHours"`
	VolLow           float64 `yaml:"volLow"`
	VolHigh          float64 `yaml:"volHigh"`
	DDSoft           float64 `yaml:"ddSoft"`
	DDHard           float64 `yaml:"ddHard"`
	RiskMin          float64 `yaml:"riskMin"`
	RiskMax          float64 `yaml:"riskMax"`
	RiskOffThreshold float64 `yaml:"riskOffThreshold"`
}

// SimConfig 模拟撮合参数。
type SimConfig struct {
	StartPrice       float64 `yaml:"startPrice"`
	Drift            float64 `yaml:"drift"`
	Volatility       float64 `yaml:"volatility"`
	TickIntervalMs   int     `yaml:"tickIntervalMs"`
	SpreadBps        float64 `yaml:"spreadBps"`
	BaseFillRate     float64 `yaml:"baseFillRate"`
	MakerFeeBps      float64 `yaml:"makerFeeBps"`
	Seed             int64   `yaml:"seed"`
	SubmitRatePerSec float64 `yaml:"submitRatePerSec"`
	SubmitBurst      int     `yaml:"submitBurst"`
}

// LoggingConfig 日志参数。
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig 顶层配置。
type AppConfig struct {
	Env         string         `yaml:"env"`
	EquityUSDT  float64        `yaml:"equityUSDT"`
	Symbols     []string       `yaml:"symbols"`
	Strategy    StrategyConfig `yaml:"strategy"`
	Risk        RiskConfig     `yaml:"risk"`
	Scaling     ScalingConfig  `yaml:"scaling"`
	Sim         SimConfig      `yaml:"sim"`
	Logging     LoggingConfig  `yaml:"logging"`
	StatePath   string         `yaml:"statePath"`
	MetricsAddr string         `yaml:"metricsAddr"`
}

// Default 返回全量默认配置（可直接通过 Validate）。
func Default() AppConfig {
	return AppConfig{
		Env:        "paper",
		EquityUSDT: 10000,
		Symbols:    []string{"BTCUSDT"},
		Strategy: StrategyConfig{
			BaseSpreadBps:         8,
			MinSpreadBps:          4,
			MaxSpreadBps:          30,
			VolSpreadFactor:       0.5,
			SkewStrength:          1.2,
			RefreshIntervalMs:     1000,
			MaxQuoteAgeMs:         2000,
			PriceChangeTriggerBps: 5,
			OrderNotionalPct:      0.0075,
			VolatilityWindow:      60,
		},
		Risk: RiskConfig{
			InventorySoftBandPct:  0.20,
			InventoryHardLimitPct: 0.30,
			MinOrderNotional:      10,
			MaxOrderNotionalPct:   0.025,
			PriceBandPct:          0.005,
			DailyLossLimitPct:     0.01,
			MaxDrawdownHardPct:    0.15,
			MaxOrdersPerSecond:    10,
			MaxOrdersPerMinute:    100,
			GatewayErrorWindowSec: 30,
			GatewayErrorThreshold: 5,
			InventoryBreachCycles: 3,
		},
		Scaling: ScalingConfig{
			ATRLength:        14,
			DDLookbackHours:  240,
			VolLow:           0.5,
			VolHigh:          2.0,
			DDSoft:           0.05,
			DDHard:           0.15,
			RiskMin:          0.1,
			RiskMax:          2.0,
			RiskOffThreshold: 0.3,
		},
		Sim: SimConfig{
			StartPrice:       50000,
			Drift:            0,
			Volatility:       0.5,
			TickIntervalMs:   1000,
			SpreadBps:        4,
			BaseFillRate:     0.2,
			MakerFeeBps:      1,
			Seed:             1,
			SubmitRatePerSec: 25,
			SubmitBurst:      30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		StatePath:   "data/state.json",
		MetricsAddr: ":9090",
	}
}

// Load 在默认值之上叠加 YAML 文件，再做范围校验。
func Load(path string) (AppConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides 在 Load 之上叠加 .env 与环境变量。
// 支持的覆盖项：MM_ENV、MM_EQUITY_USDT、MM_STATE_PATH、MM_METRICS_ADDR、MM_LOG_LEVEL。
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	_ = godotenv.Load() // .env 缺失不算错误
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("MM_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("MM_EQUITY_USDT"); v != "" {
		eq, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: MM_EQUITY_USDT: %w", err)
		}
		cfg.EquityUSDT = eq
	}
	if v := os.Getenv("MM_STATE_PATH"); v != "" {
		cfg.StatePath = v
	}
	if v := os.Getenv("MM_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("MM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate 全量范围校验。越界直接报错，从不静默钳制。
func (c AppConfig) Validate() error {
	if c.EquityUSDT <= 0 {
		return fmt.Errorf("config: equityUSDT must be > 0, got %.2f", c.EquityUSDT)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: at least one symbol required")
	}
	s := c.Strategy
	if s.MinSpreadBps <= 0 || s.MinSpreadBps > s.BaseSpreadBps || s.BaseSpreadBps > s.MaxSpreadBps {
		return fmt.Errorf("config: spread bps must satisfy 0 < min <= base <= max")
	}
	if s.RefreshIntervalMs <= 0 || s.MaxQuoteAgeMs <= 0 {
		return fmt.Errorf("config: refreshIntervalMs and maxQuoteAgeMs must be > 0")
	}
	if s.PriceChangeTriggerBps <= 0 {
		return fmt.Errorf("config: priceChangeTriggerBps must be > 0")
	}
	if s.OrderNotionalPct <= 0 {
		return fmt.Errorf("config: orderNotionalPct must be > 0")
	}
	if s.VolatilityWindow < 2 {
		return fmt.Errorf("config: volatilityWindow must be >= 2")
	}
	r := c.Risk
	if r.InventorySoftBandPct <= 0 || r.InventorySoftBandPct > r.InventoryHardLimitPct {
		return fmt.Errorf("config: inventory bands must satisfy 0 < soft <= hard")
	}
	if r.MinOrderNotional <= 0 || r.MaxOrderNotionalPct <= 0 {
		return fmt.Errorf("config: order notional bounds must be > 0")
	}
	if r.PriceBandPct <= 0 {
		return fmt.Errorf("config: priceBandPct must be > 0")
	}
	if r.DailyLossLimitPct <= 0 || r.MaxDrawdownHardPct <= 0 {
		return fmt.Errorf("config: loss limits must be > 0")
	}
	if r.MaxOrdersPerSecond < 1 || r.MaxOrdersPerMinute < 1 {
		return fmt.Errorf("config: order rate caps must be >= 1")
	}
	if r.InventoryBreachCycles < 1 {
		return fmt.Errorf("config: inventoryBreachCycles must be >= 1")
	}
	sc := c.Scaling
	if sc.ATRLength < 2 {
		return fmt.Errorf("config: atrLength must be >= 2")
	}
	if sc.DDLookbackHours <= 0 {
		return fmt.Errorf("config: ddLookbackHours must be > 0")
	}
	if sc.VolLow < 0 || sc.VolLow >= sc.VolHigh {
		return fmt.Errorf("config: vol thresholds must satisfy 0 <= low < high")
	}
	if sc.DDSoft < 0 || sc.DDSoft >= sc.DDHard {
		return fmt.Errorf("config: dd thresholds must satisfy 0 <= soft < hard")
	}
	if sc.RiskMin <= 0 || sc.RiskMin > sc.RiskMax {
		return fmt.Errorf("config: risk bounds must satisfy 0 < min <= max")
	}
	sim := c.Sim
	if sim.StartPrice <= 0 || sim.TickIntervalMs <= 0 || sim.SpreadBps <= 0 {
		return fmt.Errorf("config: sim startPrice/tickIntervalMs/spreadBps must be > 0")
	}
	if sim.BaseFillRate < 0 || sim.BaseFillRate > 1 {
		return fmt.Errorf("config: sim baseFillRate must be in [0,1]")
	}
	return nil
}

// RefreshInterval 策略刷新基础周期。
func (c AppConfig) RefreshInterval() time.Duration {
	return time.Duration(c.Strategy.RefreshIntervalMs) * time.Millisecond
}

// MaxQuoteAge 挂单最大寿命。
func (c AppConfig) MaxQuoteAge() time.Duration {
	return time.Duration(c.Strategy.MaxQuoteAgeMs) * time.Millisecond
}
