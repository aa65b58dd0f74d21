package order

import (
	"math"
	"sync"
	"time"

	"market-maker-core/pricing"
)

// CoordinatorConfig 报价刷新的触发阈值。
type CoordinatorConfig struct {
	// PriceChangeTriggerBps 目标价与挂单价偏离超过该基点数时撤换。
	PriceChangeTriggerBps float64
	// MaxQuoteAge 挂单超过该时长视为陈旧，无条件撤换。
	MaxQuoteAge time.Duration
}

// Coordinator 比较目标报价与在途订单，产出最小动作集。
// 相同输入重复调用产出空计划，因此上游可以任意频率重入。
type Coordinator struct {
	mu  sync.RWMutex
	cfg CoordinatorConfig
}

// Plan 一个刷新周期的动作集：先撤后下。
type Plan struct {
	Cancels []Order
	Submits []Intent
}

// Empty 计划是否为空（无需任何动作）。
func (p Plan) Empty() bool {
	return len(p.Cancels) == 0 && len(p.Submits) == 0
}

// NewCoordinator 构造协调器。非法阈值回落到保守默认。
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.PriceChangeTriggerBps <= 0 {
		cfg.PriceChangeTriggerBps = 5
	}
	if cfg.MaxQuoteAge <= 0 {
		cfg.MaxQuoteAge = 2 * time.Second
	}
	return &Coordinator{cfg: cfg}
}

// Update 热更新触发阈值。非法值被忽略，保留原配置。
func (c *Coordinator) Update(cfg CoordinatorConfig) {
	if cfg.PriceChangeTriggerBps <= 0 || cfg.MaxQuoteAge <= 0 {
		return
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// BuildPlan 对照目标报价与在途集合，逐侧决定保留、撤换或新挂。
//   - 目标侧 Size 为 0：该侧禁用，撤掉所有挂单。
//   - 挂单价偏离目标超过触发阈值，或挂单龄超过 MaxQuoteAge：撤换。
//   - 同侧多余的挂单（正常情况每侧至多一张）一律撤掉。
func (c *Coordinator) BuildPlan(q pricing.Quote, open *OpenOrderSet, now time.Time) Plan {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()

	var plan Plan
	planSide(&plan, cfg, q.Symbol, SideBuy, q.BidPrice, q.BidSize, open, now)
	planSide(&plan, cfg, q.Symbol, SideSell, q.AskPrice, q.AskSize, open, now)
	return plan
}

func planSide(plan *Plan, cfg CoordinatorConfig, symbol string, side Side, price, size float64, open *OpenOrderSet, now time.Time) {
	existing := open.BySide(side)

	if size <= 0 || price <= 0 {
		plan.Cancels = append(plan.Cancels, existing...)
		return
	}

	kept := false
	for _, o := range existing {
		if !kept && keepOrder(cfg, o, price, now) {
			kept = true
			continue
		}
		plan.Cancels = append(plan.Cancels, o)
	}
	if !kept {
		plan.Submits = append(plan.Submits, Intent{
			Symbol: symbol,
			Side:   side,
			Price:  price,
			Qty:    size,
		})
	}
}

// keepOrder 当前挂单是否仍然可用。
func keepOrder(cfg CoordinatorConfig, o Order, target float64, now time.Time) bool {
	if now.Sub(o.CreatedAt) > cfg.MaxQuoteAge {
		return false
	}
	driftBps := math.Abs(o.Price-target) / target * 10000
	return driftBps <= cfg.PriceChangeTriggerBps
}
