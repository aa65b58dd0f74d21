package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-maker-core/pricing"
)

func testQuote(bid, ask float64) pricing.Quote {
	return pricing.Quote{
		Symbol:      "BTCUSDT",
		BidPrice:    bid,
		AskPrice:    ask,
		BidSize:     0.001,
		AskSize:     0.001,
		GeneratedAt: time.Now(),
	}
}

func ackedOrder(id string, side Side, price float64, at time.Time) Order {
	return Order{
		ID:        id,
		Symbol:    "BTCUSDT",
		Side:      side,
		Price:     price,
		Qty:       0.001,
		Status:    StatusAcknowledged,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestPlanEmptyBookSubmitsBothSides(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{PriceChangeTriggerBps: 5, MaxQuoteAge: 2 * time.Second})
	open := NewOpenOrderSet()

	plan := c.BuildPlan(testQuote(49980, 50020), open, time.Now())
	require.Len(t, plan.Submits, 2)
	assert.Empty(t, plan.Cancels)
	assert.Equal(t, SideBuy, plan.Submits[0].Side)
	assert.Equal(t, SideSell, plan.Submits[1].Side)
}

// 同一报价、挂单新鲜 → 空计划（幂等）。
func TestPlanIdempotentOnUnchangedQuote(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{PriceChangeTriggerBps: 5, MaxQuoteAge: 2 * time.Second})
	open := NewOpenOrderSet()
	now := time.Now()
	open.ApplySubmitAck(ackedOrder("1", SideBuy, 49980, now))
	open.ApplySubmitAck(ackedOrder("2", SideSell, 50020, now))

	plan := c.BuildPlan(testQuote(49980, 50020), open, now.Add(100*time.Millisecond))
	assert.True(t, plan.Empty())
}

// 目标价偏离超过触发阈值 → 撤换。
func TestPlanReplacesOnPriceDrift(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{PriceChangeTriggerBps: 5, MaxQuoteAge: 2 * time.Second})
	open := NewOpenOrderSet()
	now := time.Now()
	open.ApplySubmitAck(ackedOrder("1", SideBuy, 49980, now))
	open.ApplySubmitAck(ackedOrder("2", SideSell, 50020, now))

	// 买侧移动 ~10bps，卖侧不动
	plan := c.BuildPlan(testQuote(49930, 50020), open, now.Add(100*time.Millisecond))
	require.Len(t, plan.Cancels, 1)
	require.Len(t, plan.Submits, 1)
	assert.Equal(t, "1", plan.Cancels[0].ID)
	assert.Equal(t, SideBuy, plan.Submits[0].Side)
	assert.InDelta(t, 49930.0, plan.Submits[0].Price, 1e-9)
}

// 小幅漂移（阈值内）不动作。
func TestPlanKeepsWithinTolerance(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{PriceChangeTriggerBps: 5, MaxQuoteAge: 2 * time.Second})
	open := NewOpenOrderSet()
	now := time.Now()
	open.ApplySubmitAck(ackedOrder("1", SideBuy, 49980, now))

	// 偏移 2bps < 5bps
	plan := c.BuildPlan(pricing.Quote{
		Symbol: "BTCUSDT", BidPrice: 49990, AskPrice: 50030, BidSize: 0.001, AskSize: 0,
	}, open, now)
	assert.Empty(t, plan.Submits)
	assert.Empty(t, plan.Cancels)
}

// 挂单龄超 MaxQuoteAge 即使价格未动也撤换。
func TestPlanReplacesStaleOrders(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{PriceChangeTriggerBps: 5, MaxQuoteAge: 2 * time.Second})
	open := NewOpenOrderSet()
	created := time.Now().Add(-3 * time.Second)
	open.ApplySubmitAck(ackedOrder("1", SideBuy, 49980, created))

	plan := c.BuildPlan(pricing.Quote{
		Symbol: "BTCUSDT", BidPrice: 49980, AskPrice: 50020, BidSize: 0.001, AskSize: 0,
	}, open, time.Now())
	require.Len(t, plan.Cancels, 1)
	require.Len(t, plan.Submits, 1)
}

// Size 为 0 的一侧只撤不下。
func TestPlanDisabledSideCancelsOnly(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{PriceChangeTriggerBps: 5, MaxQuoteAge: 2 * time.Second})
	open := NewOpenOrderSet()
	now := time.Now()
	open.ApplySubmitAck(ackedOrder("1", SideBuy, 49980, now))

	q := testQuote(49980, 50020)
	q.BidSize = 0 // 买侧禁用
	plan := c.BuildPlan(q, open, now)
	require.Len(t, plan.Cancels, 1)
	assert.Equal(t, "1", plan.Cancels[0].ID)
	require.Len(t, plan.Submits, 1)
	assert.Equal(t, SideSell, plan.Submits[0].Side)
}

// 同侧重复挂单只保留一张。
func TestPlanCancelsDuplicatesOnSide(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{PriceChangeTriggerBps: 5, MaxQuoteAge: 2 * time.Second})
	open := NewOpenOrderSet()
	now := time.Now()
	open.ApplySubmitAck(ackedOrder("1", SideBuy, 49980, now.Add(-time.Millisecond)))
	open.ApplySubmitAck(ackedOrder("2", SideBuy, 49980, now))

	plan := c.BuildPlan(testQuote(49980, 50020), open, now)
	require.Len(t, plan.Cancels, 1)
	assert.Equal(t, "2", plan.Cancels[0].ID)
}
