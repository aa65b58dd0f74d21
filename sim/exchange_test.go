package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-maker-core/exchange"
	"market-maker-core/inventory"
	"market-maker-core/market"
	"market-maker-core/order"
)

type stubPositions struct{}

func (stubPositions) Position(symbol string) inventory.Position {
	return inventory.Position{Symbol: symbol}
}
func (stubPositions) Positions() []inventory.Position { return nil }

func testSimConfig() Config {
	return Config{
		Symbol:           "BTCUSDT",
		StartPrice:       50000,
		Drift:            0.0,
		Volatility:       0.5,
		TickInterval:     time.Second,
		SpreadBps:        4,
		BaseFillRate:     0.2,
		MakerFeeBps:      1,
		Seed:             42,
		SubmitRatePerSec: 100,
		SubmitBurst:      100,
	}
}

func newTestExchange(t *testing.T, cfg Config, onFill func(exchange.Fill)) *Exchange {
	t.Helper()
	e, err := New(cfg, stubPositions{}, onFill, nil)
	require.NoError(t, err)
	return e
}

func TestGBMPricesStayPositive(t *testing.T) {
	p := NewPriceProcess(50000, 0.0, 2.0, 1.0/365/24/3600, 7)
	prev := p.Price()
	for i := 0; i < 10000; i++ {
		next := p.Next()
		require.Greater(t, next, 0.0)
		prev = next
	}
	_ = prev
}

func TestGBMDeterministicWithSeed(t *testing.T) {
	a := NewPriceProcess(50000, 0.1, 0.5, 1e-7, 99)
	b := NewPriceProcess(50000, 0.1, 0.5, 1e-7, 99)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Next(), b.Next())
	}
}

// 成交概率随距离单调不增，且在 [0,1] 内。
func TestFillProbabilityMonotone(t *testing.T) {
	e := newTestExchange(t, testSimConfig(), nil)
	spread := 20.0
	prev := 2.0
	for _, dist := range []float64{0, 5, 10, 20, 50, 100} {
		p := e.FillProbability(dist, spread)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
		assert.LessOrEqual(t, p, prev, "dist=%v", dist)
		prev = p
	}
	assert.InDelta(t, 0.2, e.FillProbability(0, spread), 1e-9, "零距离取基础概率")
	assert.Zero(t, e.FillProbability(10, 0), "无价差时不成交")
}

// 穿价买单立即按卖一成交。
func TestMarketableOrderFillsImmediately(t *testing.T) {
	var fills []exchange.Fill
	e := newTestExchange(t, testSimConfig(), func(f exchange.Fill) { fills = append(fills, f) })

	ctx := context.Background()
	book, err := e.GetOrderBook(ctx, "BTCUSDT")
	require.NoError(t, err)

	o, err := e.SubmitOrder(ctx, order.Order{
		Symbol: "BTCUSDT",
		Side:   order.SideBuy,
		Price:  book.BestAsk + 1, // 穿过卖一
		Qty:    0.01,
		Status: order.StatusNew,
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusFilled, o.Status)

	require.Len(t, fills, 1)
	assert.InDelta(t, book.BestAsk, fills[0].Price, 1e-9)
	assert.InDelta(t, 0.01, fills[0].Qty, 1e-12)
	assert.Greater(t, fills[0].Fee, 0.0)

	open, err := e.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)

	trades, err := e.GetTrades(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.False(t, trades[0].IsMaker)
}

// 远离盘口的被动单不会立即成交，可被撤销。
func TestRestingOrderCancel(t *testing.T) {
	cfg := testSimConfig()
	cfg.BaseFillRate = 0 // 关掉概率成交
	e := newTestExchange(t, cfg, nil)

	ctx := context.Background()
	book, _ := e.GetOrderBook(ctx, "BTCUSDT")
	o, err := e.SubmitOrder(ctx, order.Order{
		Symbol: "BTCUSDT", Side: order.SideBuy, Price: book.BestBid - 100, Qty: 0.01, Status: order.StatusNew,
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusAcknowledged, o.Status)

	e.Step(time.Now())

	ok, err := e.CancelOrder(ctx, "BTCUSDT", o.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.CancelOrder(ctx, "BTCUSDT", o.ID)
	require.NoError(t, err)
	assert.False(t, ok, "重复撤销返回 false")
}

// 被动成交按挂单价（maker），长期运行下贴近盘口的单最终成交。
func TestRestingOrderEventuallyFills(t *testing.T) {
	cfg := testSimConfig()
	cfg.Volatility = 0.01 // 价格基本不动，靠概率成交
	cfg.BaseFillRate = 0.5
	var fills []exchange.Fill
	e := newTestExchange(t, cfg, func(f exchange.Fill) { fills = append(fills, f) })

	ctx := context.Background()
	book, _ := e.GetOrderBook(ctx, "BTCUSDT")
	price := book.BestBid - 0.5
	_, err := e.SubmitOrder(ctx, order.Order{
		Symbol: "BTCUSDT", Side: order.SideBuy, Price: price, Qty: 0.01, Status: order.StatusNew,
	})
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 200 && len(fills) == 0; i++ {
		e.Step(now.Add(time.Duration(i) * time.Second))
	}
	require.NotEmpty(t, fills, "200 个 tick 内应有成交")
	assert.InDelta(t, price, fills[0].Price, 1e-9, "被动成交按挂单价")
}

func TestCancelAllOrders(t *testing.T) {
	cfg := testSimConfig()
	cfg.BaseFillRate = 0
	e := newTestExchange(t, cfg, nil)

	ctx := context.Background()
	book, _ := e.GetOrderBook(ctx, "BTCUSDT")
	for i := 0; i < 3; i++ {
		_, err := e.SubmitOrder(ctx, order.Order{
			Symbol: "BTCUSDT", Side: order.SideBuy, Price: book.BestBid - 100 - float64(i), Qty: 0.01, Status: order.StatusNew,
		})
		require.NoError(t, err)
	}
	n, err := e.CancelAllOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSubmitRateBudget(t *testing.T) {
	cfg := testSimConfig()
	cfg.SubmitRatePerSec = 1
	cfg.SubmitBurst = 2
	cfg.BaseFillRate = 0
	e := newTestExchange(t, cfg, nil)

	ctx := context.Background()
	book, _ := e.GetOrderBook(ctx, "BTCUSDT")
	var rateLimited bool
	for i := 0; i < 5; i++ {
		_, err := e.SubmitOrder(ctx, order.Order{
			Symbol: "BTCUSDT", Side: order.SideBuy, Price: book.BestBid - 100, Qty: 0.01, Status: order.StatusNew,
		})
		if err != nil {
			assert.ErrorIs(t, err, exchange.ErrRateLimited)
			rateLimited = true
		}
	}
	assert.True(t, rateLimited, "超过请求预算应被限流")
}

func TestSubmitRejectsBadOrder(t *testing.T) {
	e := newTestExchange(t, testSimConfig(), nil)
	ctx := context.Background()

	_, err := e.SubmitOrder(ctx, order.Order{Symbol: "BTCUSDT", Side: order.SideBuy, Price: 0, Qty: 1})
	var rej *exchange.RejectedError
	assert.ErrorAs(t, err, &rej)

	_, err = e.SubmitOrder(ctx, order.Order{Symbol: "ETHUSDT", Side: order.SideBuy, Price: 100, Qty: 1})
	assert.ErrorAs(t, err, &rej)
}

func TestPushTickReplay(t *testing.T) {
	cfg := testSimConfig()
	cfg.BaseFillRate = 0
	var fills []exchange.Fill
	e := newTestExchange(t, cfg, func(f exchange.Fill) { fills = append(fills, f) })

	ctx := context.Background()
	book, _ := e.GetOrderBook(ctx, "BTCUSDT")
	o, err := e.SubmitOrder(ctx, order.Order{
		Symbol: "BTCUSDT", Side: order.SideSell, Price: book.BestAsk + 50, Qty: 0.01, Status: order.StatusNew,
	})
	require.NoError(t, err)

	// 回放一帧价格大涨的盘口：卖单被穿价成交
	up := market.Snapshot{
		Symbol: "BTCUSDT", BestBid: o.Price + 10, BestAsk: o.Price + 12,
		BidQty: 1, AskQty: 1, Timestamp: time.Now(),
	}
	e.PushTick(up)

	require.Len(t, fills, 1)
	assert.InDelta(t, up.BestBid, fills[0].Price, 1e-9)

	got, err := e.GetOrderBook(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, up.BestBid, got.BestBid, "回放帧成为最新盘口")
}

func TestContextCancellation(t *testing.T) {
	e := newTestExchange(t, testSimConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.SubmitOrder(ctx, order.Order{Symbol: "BTCUSDT", Side: order.SideBuy, Price: 1, Qty: 1})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = e.GetOrderBook(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, context.Canceled)
}
