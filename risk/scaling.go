package risk

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// ScalingConfig 风险缩放参数。VolLow/VolHigh 以 ATR 占价格的百分比表示
// （0.5 = 0.5%），DDSoft/DDHard 为回撤小数（0.05 = 5%）。
type ScalingConfig struct {
	ATRLength        int
	DDLookback       time.Duration
	VolLow           float64
	VolHigh          float64
	DDSoft           float64
	DDHard           float64
	RiskMin          float64
	RiskMax          float64
	RiskOffThreshold float64
}

// Validate 构造期校验。
func (c ScalingConfig) Validate() error {
	if c.ATRLength < 2 {
		return fmt.Errorf("atrLength must be >= 2, got %d", c.ATRLength)
	}
	if c.DDLookback <= 0 {
		return fmt.Errorf("ddLookback must be > 0, got %s", c.DDLookback)
	}
	if c.VolLow < 0 || c.VolLow >= c.VolHigh {
		return fmt.Errorf("vol thresholds must satisfy 0 <= low < high, got low=%.4f high=%.4f", c.VolLow, c.VolHigh)
	}
	if c.DDSoft < 0 || c.DDSoft >= c.DDHard {
		return fmt.Errorf("dd thresholds must satisfy 0 <= soft < hard, got soft=%.4f hard=%.4f", c.DDSoft, c.DDHard)
	}
	if c.RiskMin <= 0 || c.RiskMin > c.RiskMax {
		return fmt.Errorf("risk bounds must satisfy 0 < min <= max, got min=%.4f max=%.4f", c.RiskMin, c.RiskMax)
	}
	if c.RiskOffThreshold < 0 {
		return fmt.Errorf("riskOffThreshold must be >= 0, got %.4f", c.RiskOffThreshold)
	}
	return nil
}

type bar struct {
	high  float64
	low   float64
	close float64
	ts    time.Time
}

type equityPoint struct {
	equity float64
	ts     time.Time
}

// ScalingEngine 把已实现波动（ATR）与权益回撤折算成一个连续的风险乘数，
// 下游用它同时缩放订单规模、价差与刷新频率。乘数越低，报价越保守。
type ScalingEngine struct {
	mu  sync.RWMutex
	cfg ScalingConfig

	// 价格环形缓冲，容量 3*ATRLength，溢出覆盖最旧。
	bars  []bar
	head  int
	count int

	equity  []equityPoint
	current float64
}

// NewScalingEngine 构造引擎，配置非法即报错。初始乘数为 1（无数据时不缩放）。
func NewScalingEngine(cfg ScalingConfig) (*ScalingEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scaling config: %w", err)
	}
	return &ScalingEngine{
		cfg:     cfg,
		bars:    make([]bar, 3*cfg.ATRLength),
		current: 1,
	}, nil
}

// UpdatePrice 追加一根价格 bar（高/低/收）。
func (e *ScalingEngine) UpdatePrice(high, low, close float64, ts time.Time) {
	if close <= 0 || math.IsNaN(high) || math.IsNaN(low) || math.IsNaN(close) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bars[e.head] = bar{high: high, low: low, close: close, ts: ts}
	e.head = (e.head + 1) % len(e.bars)
	if e.count < len(e.bars) {
		e.count++
	}
}

// UpdateEquity 追加一个权益观测，超出回撤回看窗口的观测被裁剪。
func (e *ScalingEngine) UpdateEquity(equity float64, ts time.Time) {
	if equity <= 0 || math.IsNaN(equity) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.equity = append(e.equity, equityPoint{equity: equity, ts: ts})
	cutoff := ts.Add(-e.cfg.DDLookback)
	i := 0
	for i < len(e.equity) && e.equity[i].ts.Before(cutoff) {
		i++
	}
	if i > 0 {
		e.equity = e.equity[i:]
	}
}

// ATR 当前平均真实波幅。数据不足 ATRLength+1 根 bar 时 ok 为 false。
// EMA 口径：先用前 n 个 TR 的简单均值做种子，之后按 α=2/(n+1) 递推。
func (e *ScalingEngine) ATR() (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.atrLocked()
}

func (e *ScalingEngine) atrLocked() (float64, bool) {
	n := e.cfg.ATRLength
	if e.count < n+1 {
		return 0, false
	}
	bars := e.orderedBars()
	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prevClose := bars[i-1].close
		tr := math.Max(bars[i].high-bars[i].low,
			math.Max(math.Abs(bars[i].high-prevClose), math.Abs(bars[i].low-prevClose)))
		trs = append(trs, tr)
	}
	if len(trs) < n {
		return 0, false
	}
	seed := 0.0
	for _, tr := range trs[:n] {
		seed += tr
	}
	atr := seed / float64(n)
	alpha := 2.0 / float64(n+1)
	for _, tr := range trs[n:] {
		atr = alpha*tr + (1-alpha)*atr
	}
	return atr, true
}

// orderedBars 把环形缓冲展开为时间升序切片。
func (e *ScalingEngine) orderedBars() []bar {
	out := make([]bar, 0, e.count)
	start := e.head - e.count
	for i := 0; i < e.count; i++ {
		out = append(out, e.bars[((start+i)%len(e.bars)+len(e.bars))%len(e.bars)])
	}
	return out
}

// MaxDrawdown 回看窗口内的最大权益回撤（0.12 = 12%）。
func (e *ScalingEngine) MaxDrawdown() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.maxDrawdownLocked()
}

func (e *ScalingEngine) maxDrawdownLocked() float64 {
	peak, maxDD := 0.0, 0.0
	for _, pt := range e.equity {
		if pt.equity > peak {
			peak = pt.equity
		}
		if peak > 0 {
			dd := (peak - pt.equity) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// VolMultiplier 波动维度的乘数：低波动 1.5、高波动 0.5，之间线性。
func (e *ScalingEngine) VolMultiplier(atr, price float64) float64 {
	if price <= 0 || atr < 0 {
		return 1
	}
	volPct := atr / price * 100
	switch {
	case volPct <= e.cfg.VolLow:
		return 1.5
	case volPct >= e.cfg.VolHigh:
		return 0.5
	default:
		frac := (volPct - e.cfg.VolLow) / (e.cfg.VolHigh - e.cfg.VolLow)
		return 1.5 - frac
	}
}

// DDMultiplier 回撤维度的乘数：软阈内 1.0、硬阈外 0.1，之间线性。
func (e *ScalingEngine) DDMultiplier(dd float64) float64 {
	switch {
	case dd <= e.cfg.DDSoft:
		return 1.0
	case dd >= e.cfg.DDHard:
		return 0.1
	default:
		frac := (dd - e.cfg.DDSoft) / (e.cfg.DDHard - e.cfg.DDSoft)
		return 1.0 - frac*0.9
	}
}

// ComputeMultiplier 重算并缓存当前风险乘数 = clamp(vol*dd, min, max)。
// ATR 数据不足时波动维度取 1（不惩罚冷启动）。
func (e *ScalingEngine) ComputeMultiplier(price float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	volMult := 1.0
	if atr, ok := e.atrLocked(); ok {
		volMult = e.VolMultiplier(atr, price)
	}
	ddMult := e.DDMultiplier(e.maxDrawdownLocked())
	risk := volMult * ddMult
	e.current = math.Min(math.Max(risk, e.cfg.RiskMin), e.cfg.RiskMax)
	return e.current
}

// Multiplier 最近一次计算的风险乘数。
func (e *ScalingEngine) Multiplier() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// IsRiskOff 乘数是否低于 risk-off 阈值（进入只减仓模式）。
func (e *ScalingEngine) IsRiskOff() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current < e.cfg.RiskOffThreshold
}

// SpreadMultiplier 价差放大系数 = clamp(1+(1-risk), 1, 3)。
func (e *ScalingEngine) SpreadMultiplier() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return math.Min(math.Max(1+(1-e.current), 1), 3)
}

// RefreshInterval 风险越低刷新越慢：base * (1 + (1-risk)*2)。
func (e *ScalingEngine) RefreshInterval(base time.Duration) time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	mult := 1 + (1-e.current)*2
	if mult < 1 {
		mult = 1
	}
	return time.Duration(float64(base) * mult)
}

// OrderSize 按当前乘数缩放基础订单规模。
func (e *ScalingEngine) OrderSize(base float64) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return base * e.current
}
