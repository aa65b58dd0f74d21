package pricing

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"market-maker-core/market"
)

var (
	// ErrBadInput 输入不可用（快照非法、权益非正等），本周期放弃报价。
	ErrBadInput = errors.New("pricing: bad input")
	// ErrCrossedQuote 计算结果自相矛盾（bid>=ask 或价格非正），属于内部缺陷。
	ErrCrossedQuote = errors.New("pricing: crossed or non-positive quote")
)

// Config 定价参数。价差单位为基点。
type Config struct {
	BaseSpreadBps   float64
	MinSpreadBps    float64
	MaxSpreadBps    float64
	VolSpreadFactor float64 // 波动加点系数：spread += volBps * factor
	SkewStrength    float64 // 库存偏移强度
}

// Validate 构造期校验，失败即拒绝启动。
func (c Config) Validate() error {
	if c.MinSpreadBps <= 0 || c.MinSpreadBps > c.BaseSpreadBps || c.BaseSpreadBps > c.MaxSpreadBps {
		return fmt.Errorf("spread bps must satisfy 0 < min <= base <= max, got min=%.2f base=%.2f max=%.2f",
			c.MinSpreadBps, c.BaseSpreadBps, c.MaxSpreadBps)
	}
	if c.VolSpreadFactor < 0 {
		return fmt.Errorf("volSpreadFactor must be >= 0, got %.4f", c.VolSpreadFactor)
	}
	if c.SkewStrength < 0 {
		return fmt.Errorf("skewStrength must be >= 0, got %.4f", c.SkewStrength)
	}
	return nil
}

// Inputs 单次报价计算的全部输入。
type Inputs struct {
	Snapshot market.Snapshot
	// InventoryRatio 签名库存比，库存名义相对硬限的占比（inventory.Manager.Ratio），
	// 取值 [-1, 1]，多头为正。
	InventoryRatio float64
	Equity         float64
	VolBps         float64 // 已实现波动率（基点）
	BaseSize       float64 // 每侧基础数量，已含风险缩放
}

// Engine 定价引擎。除可热更新的参数外无内部状态，可被多个循环共享。
type Engine struct {
	mu  sync.RWMutex
	cfg Config
}

// NewEngine 构造引擎，配置非法即报错。
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pricing config: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// UpdateConfig 热更新定价参数。校验失败时保留旧参数。
func (e *Engine) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("pricing config: %w", err)
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	return nil
}

func (e *Engine) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// ComputeQuote 计算双边目标报价：
//  1. 价差 = clamp(base + volBps*factor, min, max)
//  2. 报价中点按库存比例偏移（多头压低、空头抬高），偏移单位为中间价的 1%*强度
//  3. 库存触及硬限时只保留减仓侧
func (e *Engine) ComputeQuote(in Inputs) (Quote, error) {
	if err := in.Snapshot.Validate(); err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrBadInput, err)
	}
	if in.Equity <= 0 || math.IsNaN(in.Equity) || math.IsInf(in.Equity, 0) {
		return Quote{}, fmt.Errorf("%w: equity=%.4f", ErrBadInput, in.Equity)
	}
	if in.BaseSize <= 0 || math.IsNaN(in.BaseSize) {
		return Quote{}, fmt.Errorf("%w: baseSize=%.8f", ErrBadInput, in.BaseSize)
	}
	if math.IsNaN(in.VolBps) || math.IsNaN(in.InventoryRatio) {
		return Quote{}, fmt.Errorf("%w: non-finite vol or inventory ratio", ErrBadInput)
	}

	cfg := e.config()
	mid := in.Snapshot.Mid()
	spreadBps := cfg.spreadBps(in.VolBps)
	invRatio := math.Min(math.Max(in.InventoryRatio, -1), 1)

	// 库存偏移：多头把中点往下压，鼓励卖出；空头反之。
	skewedMid := mid * (1 - invRatio*cfg.SkewStrength*0.01)
	half := skewedMid * spreadBps / 10000 / 2

	q := Quote{
		Symbol:      in.Snapshot.Symbol,
		BidPrice:    skewedMid - half,
		AskPrice:    skewedMid + half,
		BidSize:     in.BaseSize,
		AskSize:     in.BaseSize,
		GeneratedAt: in.Snapshot.Timestamp,
	}

	// 硬限之外只做减仓侧。
	if invRatio >= 1 {
		q.BidSize = 0
	} else if invRatio <= -1 {
		q.AskSize = 0
	}

	if q.BidPrice <= 0 || q.AskPrice <= 0 || q.BidPrice >= q.AskPrice {
		return Quote{}, fmt.Errorf("%w: bid=%.8f ask=%.8f", ErrCrossedQuote, q.BidPrice, q.AskPrice)
	}
	if q.GeneratedAt.IsZero() {
		q.GeneratedAt = time.Now()
	}
	return q, nil
}

// spreadBps 波动加点后的目标价差，钳制到 [min, max]。
func (c Config) spreadBps(volBps float64) float64 {
	s := c.BaseSpreadBps + volBps*c.VolSpreadFactor
	return math.Min(math.Max(s, c.MinSpreadBps), c.MaxSpreadBps)
}
