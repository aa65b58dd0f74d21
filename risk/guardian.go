package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"market-maker-core/inventory"
	"market-maker-core/market"
	"market-maker-core/order"
)

// GuardianConfig 准入与熔断参数。比例参数为小数（0.01 = 1%）。
type GuardianConfig struct {
	MinOrderNotional      float64
	MaxOrderNotionalPct   float64 // 单笔名义上限（占权益）
	PriceBandPct          float64 // 委托价相对中间价的允许偏离
	InventoryHardLimitPct float64
	DailyLossLimitPct     float64
	MaxDrawdownHardPct    float64
	MaxOrdersPerSecond    int
	MaxOrdersPerMinute    int
	GatewayErrorWindow    time.Duration
	GatewayErrorThreshold int
	// InventoryBreachCycles 连续多少个周期库存仍超硬限才升级为熔断。
	InventoryBreachCycles int
	FlattenOnTrigger      bool
}

// Validate 构造期校验。
func (c GuardianConfig) Validate() error {
	if c.MinOrderNotional <= 0 {
		return fmt.Errorf("minOrderNotional must be > 0, got %.4f", c.MinOrderNotional)
	}
	if c.MaxOrderNotionalPct <= 0 {
		return fmt.Errorf("maxOrderNotionalPct must be > 0, got %.4f", c.MaxOrderNotionalPct)
	}
	if c.PriceBandPct <= 0 {
		return fmt.Errorf("priceBandPct must be > 0, got %.4f", c.PriceBandPct)
	}
	if c.InventoryHardLimitPct <= 0 {
		return fmt.Errorf("inventoryHardLimitPct must be > 0, got %.4f", c.InventoryHardLimitPct)
	}
	if c.DailyLossLimitPct <= 0 {
		return fmt.Errorf("dailyLossLimitPct must be > 0, got %.4f", c.DailyLossLimitPct)
	}
	if c.MaxDrawdownHardPct <= 0 {
		return fmt.Errorf("maxDrawdownHardPct must be > 0, got %.4f", c.MaxDrawdownHardPct)
	}
	if c.MaxOrdersPerSecond < 1 || c.MaxOrdersPerMinute < 1 {
		return fmt.Errorf("order rate caps must be >= 1")
	}
	if c.InventoryBreachCycles < 1 {
		return fmt.Errorf("inventoryBreachCycles must be >= 1, got %d", c.InventoryBreachCycles)
	}
	return nil
}

// Verdict 准入裁决。
type Verdict int

const (
	// VerdictAccept 放行（Qty 可能被向上修正到最小名义）。
	VerdictAccept Verdict = iota
	// VerdictReject 拒绝，本周期丢弃该意图。
	VerdictReject
	// VerdictDefer 限流，推迟到下个周期重试。
	VerdictDefer
)

// Decision Admit 的裁决结果。
type Decision struct {
	Verdict Verdict
	Err     error   // Reject/Defer 时的分类原因
	Qty     float64 // Accept 时生效的数量
}

// SafetyIntent 熔断触发后要求执行层完成的安全动作。
type SafetyIntent struct {
	CancelAll bool
	Flatten   bool
	Reason    Reason
	Detail    string
}

// Guardian 下单前的最后一道闸门，同时持有熔断开关。
// Admit 串在每个提交意图上；Evaluate 每个周期跑一次全局限额。
type Guardian struct {
	mu           sync.Mutex
	cfg          GuardianConfig
	kill         *KillSwitch
	limiter      *SlidingLimiter
	errWindow    *ErrorRateWindow
	breachStreak int
	clock        Clock
	log          *zap.Logger
}

// NewGuardian 构造守卫，配置非法即报错。
func NewGuardian(cfg GuardianConfig, clock Clock, log *zap.Logger) (*Guardian, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("guardian config: %w", err)
	}
	if clock == nil {
		clock = SystemClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Guardian{
		cfg:       cfg,
		kill:      NewKillSwitch(clock),
		limiter:   NewSlidingLimiter(cfg.MaxOrdersPerSecond, cfg.MaxOrdersPerMinute),
		errWindow: NewErrorRateWindow(cfg.GatewayErrorWindow, cfg.GatewayErrorThreshold),
		clock:     clock,
		log:       log.Named("guardian"),
	}, nil
}

// Admit 依次执行：名义校验（小单向上取整到最小名义）→ 价格带 →
// 下单频率 → 库存硬限（仅开仓方向）→ 熔断闸门。第一个失败即裁决。
func (g *Guardian) Admit(intent order.Intent, pos inventory.Position, equity float64, snap market.Snapshot) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	qty := intent.Qty
	notional := intent.Price * qty

	// 1. 名义边界
	maxNotional := equity * g.cfg.MaxOrderNotionalPct
	if notional < g.cfg.MinOrderNotional {
		if g.cfg.MinOrderNotional > maxNotional {
			return Decision{Verdict: VerdictReject,
				Err: fmt.Errorf("%w: %.2f < %.2f and floor exceeds cap %.2f", ErrNotionalTooSmall, notional, g.cfg.MinOrderNotional, maxNotional)}
		}
		qty = g.cfg.MinOrderNotional / intent.Price
		notional = g.cfg.MinOrderNotional
	}
	if notional > maxNotional {
		return Decision{Verdict: VerdictReject,
			Err: fmt.Errorf("%w: %.2f > %.2f", ErrNotionalTooLarge, notional, maxNotional)}
	}

	// 2. 价格带
	mid := snap.Mid()
	if mid > 0 {
		band := mid * g.cfg.PriceBandPct
		if math.Abs(intent.Price-mid) > band {
			return Decision{Verdict: VerdictReject,
				Err: fmt.Errorf("%w: price=%.8f mid=%.8f band=%.8f", ErrPriceOutOfBand, intent.Price, mid, band)}
		}
	}

	// 3. 下单频率：超限推迟而不是丢弃
	if !g.limiter.Allow(g.clock.Now()) {
		return Decision{Verdict: VerdictDefer, Err: ErrRateLimited}
	}

	// 4. 库存硬限（只拦开仓方向，减仓永远放行）
	if !intent.ReduceOnly {
		signed := notional
		if intent.Side == order.SideSell {
			signed = -notional
		}
		projected := pos.Notional() + signed
		limit := equity * g.cfg.InventoryHardLimitPct
		if math.Abs(projected) > limit && math.Abs(projected) > math.Abs(pos.Notional()) {
			return Decision{Verdict: VerdictReject,
				Err: fmt.Errorf("%w: projected=%.2f limit=%.2f", ErrInventoryLimit, projected, limit)}
		}
	}

	// 5. 熔断闸门
	if g.kill.IsTriggered() {
		reason, _ := g.kill.Cause()
		return Decision{Verdict: VerdictReject, Err: fmt.Errorf("%w: %s", ErrKillSwitch, reason)}
	}

	return Decision{Verdict: VerdictAccept, Qty: qty}
}

// Evaluate 周期性全局限额检查。baseEquity 为日损限额的分母（日开权益）。
// 任一限额击穿即触发熔断并返回安全动作；已熔断时不重复触发。
func (g *Guardian) Evaluate(pos inventory.Position, equity, baseEquity, dailyRealized, maxDrawdown float64) (SafetyIntent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// 库存硬限的连续周期计数
	limit := equity * g.cfg.InventoryHardLimitPct
	if equity > 0 && math.Abs(pos.Notional()) > limit {
		g.breachStreak++
	} else {
		g.breachStreak = 0
	}

	type check struct {
		hit    bool
		reason Reason
		detail string
	}
	checks := []check{
		{
			hit:    baseEquity > 0 && dailyRealized <= -g.cfg.DailyLossLimitPct*baseEquity,
			reason: ReasonDailyLoss,
			detail: fmt.Sprintf("daily realized %.2f <= -%.2f", dailyRealized, g.cfg.DailyLossLimitPct*baseEquity),
		},
		{
			hit:    maxDrawdown >= g.cfg.MaxDrawdownHardPct,
			reason: ReasonDrawdown,
			detail: fmt.Sprintf("drawdown %.2f%% >= %.2f%%", maxDrawdown*100, g.cfg.MaxDrawdownHardPct*100),
		},
		{
			hit:    g.breachStreak >= g.cfg.InventoryBreachCycles,
			reason: ReasonInventoryBreach,
			detail: fmt.Sprintf("inventory %.2f over limit %.2f for %d cycles", pos.Notional(), limit, g.breachStreak),
		},
		{
			hit:    g.errWindow.Breached(g.clock.Now()),
			reason: ReasonGatewayErrors,
			detail: fmt.Sprintf("%d gateway errors in window", g.errWindow.Count(g.clock.Now())),
		},
	}

	for _, c := range checks {
		if !c.hit {
			continue
		}
		return g.triggerLocked(c.reason, c.detail)
	}
	return SafetyIntent{}, false
}

func (g *Guardian) triggerLocked(reason Reason, detail string) (SafetyIntent, bool) {
	if !g.kill.Trigger(reason, detail) {
		return SafetyIntent{}, false
	}
	g.log.Error("kill switch triggered",
		zap.String("reason", reason.String()),
		zap.String("detail", detail))
	return SafetyIntent{
		CancelAll: true,
		Flatten:   g.cfg.FlattenOnTrigger,
		Reason:    reason,
		Detail:    detail,
	}, true
}

// TriggerManual 运维手动熔断。
func (g *Guardian) TriggerManual(detail string) (SafetyIntent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.triggerLocked(ReasonManual, detail)
}

// TriggerAnomaly 循环侧发现不可解释的异常（定价自相矛盾等）时熔断。
func (g *Guardian) TriggerAnomaly(detail string) (SafetyIntent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.triggerLocked(ReasonAnomaly, detail)
}

// Reset 复位熔断并清空错误/库存计数。
func (g *Guardian) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.kill.Reset()
	g.breachStreak = 0
	g.errWindow = NewErrorRateWindow(g.cfg.GatewayErrorWindow, g.cfg.GatewayErrorThreshold)
	g.log.Warn("kill switch reset")
}

// RecordGatewayError 网关请求失败记账。
func (g *Guardian) RecordGatewayError() {
	g.errWindow.RecordError(g.clock.Now())
}

// RecordGatewaySuccess 网关请求成功记账。
func (g *Guardian) RecordGatewaySuccess() {
	g.errWindow.RecordSuccess(g.clock.Now())
}

// TradingEnabled 是否允许新订单。
func (g *Guardian) TradingEnabled() bool {
	return !g.kill.IsTriggered()
}

// KillSwitch 暴露开关（状态查询与持久化用）。
func (g *Guardian) KillSwitch() *KillSwitch {
	return g.kill
}
