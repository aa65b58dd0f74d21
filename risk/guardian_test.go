package risk

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-maker-core/inventory"
	"market-maker-core/market"
	"market-maker-core/order"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func testGuardianConfig() GuardianConfig {
	return GuardianConfig{
		MinOrderNotional:      10,
		MaxOrderNotionalPct:   0.025,
		PriceBandPct:          0.005,
		InventoryHardLimitPct: 0.30,
		DailyLossLimitPct:     0.01,
		MaxDrawdownHardPct:    0.15,
		MaxOrdersPerSecond:    10,
		MaxOrdersPerMinute:    100,
		GatewayErrorWindow:    30 * time.Second,
		GatewayErrorThreshold: 5,
		InventoryBreachCycles: 3,
		FlattenOnTrigger:      false,
	}
}

func newTestGuardian(t *testing.T, clock Clock) *Guardian {
	t.Helper()
	g, err := NewGuardian(testGuardianConfig(), clock, nil)
	require.NoError(t, err)
	return g
}

func guardSnap() market.Snapshot {
	return market.Snapshot{
		Symbol: "BTCUSDT", BestBid: 49990, BestAsk: 50010,
		BidQty: 1, AskQty: 1, Timestamp: time.Now(),
	}
}

func buyIntent(price, qty float64) order.Intent {
	return order.Intent{Symbol: "BTCUSDT", Side: order.SideBuy, Price: price, Qty: qty}
}

func TestAdmitAccepts(t *testing.T) {
	g := newTestGuardian(t, newFakeClock())
	d := g.Admit(buyIntent(49980, 0.002), inventory.Position{Symbol: "BTCUSDT"}, 10000, guardSnap())
	assert.Equal(t, VerdictAccept, d.Verdict)
	assert.InDelta(t, 0.002, d.Qty, 1e-12)
}

// 名义低于最小值时向上取整而不是拒绝。
func TestAdmitClampsSmallNotionalUp(t *testing.T) {
	g := newTestGuardian(t, newFakeClock())
	// 0.0001 * 49980 ≈ 5 < 10
	d := g.Admit(buyIntent(49980, 0.0001), inventory.Position{}, 10000, guardSnap())
	require.Equal(t, VerdictAccept, d.Verdict)
	assert.InDelta(t, 10.0/49980.0, d.Qty, 1e-12)
}

func TestAdmitRejectsOversizedNotional(t *testing.T) {
	g := newTestGuardian(t, newFakeClock())
	// 上限 10000*2.5% = 250；0.01*49980 ≈ 500
	d := g.Admit(buyIntent(49980, 0.01), inventory.Position{}, 10000, guardSnap())
	assert.Equal(t, VerdictReject, d.Verdict)
	assert.ErrorIs(t, d.Err, ErrNotionalTooLarge)
}

// 最小名义本身超过单笔上限（极小权益）→ 拒绝而不是放大。
func TestAdmitRejectsWhenFloorExceedsCap(t *testing.T) {
	g := newTestGuardian(t, newFakeClock())
	// 权益 100 → 上限 2.5；最小名义 10 > 2.5
	d := g.Admit(buyIntent(49980, 0.00001), inventory.Position{}, 100, guardSnap())
	assert.Equal(t, VerdictReject, d.Verdict)
	assert.ErrorIs(t, d.Err, ErrNotionalTooSmall)
}

func TestAdmitRejectsOutsidePriceBand(t *testing.T) {
	g := newTestGuardian(t, newFakeClock())
	// 中间价 50000，带宽 0.5% = 250；49000 偏离 1000
	d := g.Admit(buyIntent(49000, 0.002), inventory.Position{}, 10000, guardSnap())
	assert.Equal(t, VerdictReject, d.Verdict)
	assert.ErrorIs(t, d.Err, ErrPriceOutOfBand)
}

// 频率超限 → Defer（推迟重试），时间前进后恢复。
func TestAdmitDefersOnRateLimit(t *testing.T) {
	clock := newFakeClock()
	g := newTestGuardian(t, clock)
	pos := inventory.Position{}

	for i := 0; i < 10; i++ {
		d := g.Admit(buyIntent(49980, 0.002), pos, 100000, guardSnap())
		require.Equal(t, VerdictAccept, d.Verdict, "第 %d 笔应放行", i+1)
	}
	d := g.Admit(buyIntent(49980, 0.002), pos, 100000, guardSnap())
	assert.Equal(t, VerdictDefer, d.Verdict)
	assert.ErrorIs(t, d.Err, ErrRateLimited)

	clock.advance(1100 * time.Millisecond)
	d = g.Admit(buyIntent(49980, 0.002), pos, 100000, guardSnap())
	assert.Equal(t, VerdictAccept, d.Verdict)
}

func TestAdmitRejectsOpeningOverInventoryLimit(t *testing.T) {
	g := newTestGuardian(t, newFakeClock())
	// 已持仓 2950，硬限 3000；再开 ~100 → 超限
	pos := inventory.Position{Symbol: "BTCUSDT", Qty: 0.059, MarkPrice: 50000}
	d := g.Admit(buyIntent(49980, 0.002), pos, 10000, guardSnap())
	assert.Equal(t, VerdictReject, d.Verdict)
	assert.ErrorIs(t, d.Err, ErrInventoryLimit)

	// 同样仓位的减仓方向放行
	sell := order.Intent{Symbol: "BTCUSDT", Side: order.SideSell, Price: 50010, Qty: 0.002, ReduceOnly: true}
	d = g.Admit(sell, pos, 10000, guardSnap())
	assert.Equal(t, VerdictAccept, d.Verdict)
}

// 日损击穿 → 熔断 + 撤单意图 + 拒绝后续订单。
func TestEvaluateDailyLossTrigger(t *testing.T) {
	g := newTestGuardian(t, newFakeClock())
	pos := inventory.Position{Symbol: "BTCUSDT"}

	// 权益 200、限额 1% → 2.0；当日已实现 -2.4
	intent, triggered := g.Evaluate(pos, 200, 200, -2.4, 0)
	require.True(t, triggered)
	assert.True(t, intent.CancelAll)
	assert.Equal(t, ReasonDailyLoss, intent.Reason)
	assert.False(t, g.TradingEnabled())
	assert.Equal(t, StateTriggered, g.KillSwitch().State())

	// 熔断后一切新订单被拒
	d := g.Admit(buyIntent(49980, 0.002), pos, 200, guardSnap())
	assert.Equal(t, VerdictReject, d.Verdict)
	assert.ErrorIs(t, d.Err, ErrKillSwitch)

	// 重复评估不再二次触发
	_, again := g.Evaluate(pos, 200, 200, -3.0, 0)
	assert.False(t, again)
	reason, _ := g.KillSwitch().Cause()
	assert.Equal(t, ReasonDailyLoss, reason, "保留首个触发原因")
}

func TestEvaluateDrawdownTrigger(t *testing.T) {
	g := newTestGuardian(t, newFakeClock())
	intent, triggered := g.Evaluate(inventory.Position{}, 10000, 10000, 0, 0.16)
	require.True(t, triggered)
	assert.Equal(t, ReasonDrawdown, intent.Reason)
}

// 库存超硬限必须连续 N 个周期才升级为熔断。
func TestEvaluateInventoryBreachNeedsStreak(t *testing.T) {
	g := newTestGuardian(t, newFakeClock())
	over := inventory.Position{Symbol: "BTCUSDT", Qty: 0.08, MarkPrice: 50000} // 4000 > 3000

	_, triggered := g.Evaluate(over, 10000, 10000, 0, 0)
	assert.False(t, triggered)
	_, triggered = g.Evaluate(over, 10000, 10000, 0, 0)
	assert.False(t, triggered)
	intent, triggered := g.Evaluate(over, 10000, 10000, 0, 0)
	require.True(t, triggered)
	assert.Equal(t, ReasonInventoryBreach, intent.Reason)
}

// 回到限内会清零连续计数。
func TestEvaluateInventoryStreakResets(t *testing.T) {
	g := newTestGuardian(t, newFakeClock())
	over := inventory.Position{Symbol: "BTCUSDT", Qty: 0.08, MarkPrice: 50000}
	ok := inventory.Position{Symbol: "BTCUSDT", Qty: 0.01, MarkPrice: 50000}

	g.Evaluate(over, 10000, 10000, 0, 0)
	g.Evaluate(over, 10000, 10000, 0, 0)
	g.Evaluate(ok, 10000, 10000, 0, 0) // 复位
	g.Evaluate(over, 10000, 10000, 0, 0)
	g.Evaluate(over, 10000, 10000, 0, 0)
	_, triggered := g.Evaluate(ok, 10000, 10000, 0, 0)
	assert.False(t, triggered)
	assert.True(t, g.TradingEnabled())
}

func TestEvaluateGatewayErrorsTrigger(t *testing.T) {
	clock := newFakeClock()
	g := newTestGuardian(t, clock)

	for i := 0; i < 5; i++ {
		g.RecordGatewayError()
	}
	intent, triggered := g.Evaluate(inventory.Position{}, 10000, 10000, 0, 0)
	require.True(t, triggered)
	assert.Equal(t, ReasonGatewayErrors, intent.Reason)
}

func TestManualTriggerAndReset(t *testing.T) {
	g := newTestGuardian(t, newFakeClock())

	intent, triggered := g.TriggerManual("operator requested halt")
	require.True(t, triggered)
	assert.Equal(t, ReasonManual, intent.Reason)
	assert.False(t, g.TradingEnabled())

	g.Reset()
	assert.True(t, g.TradingEnabled())
	assert.Equal(t, StateRunning, g.KillSwitch().State())

	// 审计日志完整保留两次迁移
	trs := g.KillSwitch().Transitions()
	require.Len(t, trs, 2)
	assert.Equal(t, StateTriggered, trs[0].To)
	assert.Equal(t, StateRunning, trs[1].To)
}

func TestKillSwitchRestore(t *testing.T) {
	clock := newFakeClock()
	k := NewKillSwitch(clock)
	k.Restore(true, ReasonDailyLoss, "restored from disk", clock.Now())
	assert.True(t, k.IsTriggered())
	reason, _ := k.Cause()
	assert.Equal(t, ReasonDailyLoss, reason)
}

func TestSlidingLimiterMinuteCap(t *testing.T) {
	clock := newFakeClock()
	l := NewSlidingLimiter(1000, 5)
	for i := 0; i < 5; i++ {
		require.True(t, l.Allow(clock.Now()))
		clock.advance(2 * time.Second)
	}
	assert.False(t, l.Allow(clock.Now()), "分钟窗口满")
	clock.advance(time.Minute)
	assert.True(t, l.Allow(clock.Now()))
}

func TestErrorRateWindowExpiry(t *testing.T) {
	clock := newFakeClock()
	w := NewErrorRateWindow(30*time.Second, 3)

	w.RecordError(clock.Now())
	w.RecordError(clock.Now())
	assert.False(t, w.Breached(clock.Now()))
	w.RecordError(clock.Now())
	assert.True(t, w.Breached(clock.Now()))

	clock.advance(31 * time.Second)
	assert.False(t, w.Breached(clock.Now()), "窗口滑过后错误过期")
}
