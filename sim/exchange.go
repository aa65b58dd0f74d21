// Package sim 提供一个进程内的模拟撮合器，实现 exchange.Gateway。
// 价格由 GBM 合成或由外部逐笔回放驱动；成交分两类：
// 穿价单立即按对手价成交，被动挂单按距离衰减的概率逐 tick 抽样。
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"market-maker-core/exchange"
	"market-maker-core/inventory"
	"market-maker-core/market"
	"market-maker-core/order"
)

const maxTradeHistory = 10000

// PositionReader 仓位只读视图。撮合器不记账，GetPositions 委托给核心账本。
type PositionReader interface {
	Position(symbol string) inventory.Position
	Positions() []inventory.Position
}

// Config 模拟撮合器参数。
type Config struct {
	Symbol       string
	StartPrice   float64
	Drift        float64 // GBM 年化漂移
	Volatility   float64 // GBM 年化波动率
	TickInterval time.Duration
	SpreadBps    float64 // 合成盘口的买卖价差
	BaseFillRate float64 // 被动成交基础概率（每 tick）
	MakerFeeBps  float64
	Seed         int64
	// SubmitRatePerSec/SubmitBurst 模拟交易所侧的请求预算。
	SubmitRatePerSec float64
	SubmitBurst      int
}

// Validate 构造期校验。
func (c Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("sim: symbol required")
	}
	if c.StartPrice <= 0 {
		return fmt.Errorf("sim: startPrice must be > 0, got %.4f", c.StartPrice)
	}
	if c.SpreadBps <= 0 {
		return fmt.Errorf("sim: spreadBps must be > 0, got %.4f", c.SpreadBps)
	}
	if c.BaseFillRate < 0 || c.BaseFillRate > 1 {
		return fmt.Errorf("sim: baseFillRate must be in [0,1], got %.4f", c.BaseFillRate)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("sim: tickInterval must be > 0")
	}
	return nil
}

// Exchange 模拟交易所。实现 exchange.Gateway。
type Exchange struct {
	mu        sync.Mutex
	cfg       Config
	proc      *PriceProcess
	rng       *rand.Rand
	limiter   *rate.Limiter
	positions PositionReader
	open      map[string]order.Order
	trades    []exchange.Trade
	last      market.Snapshot
	onFill    func(exchange.Fill)
	log       *zap.Logger
}

// New 构造模拟交易所。onFill 在撮合发生时同步回调（持锁外）。
func New(cfg Config, positions PositionReader, onFill func(exchange.Fill), log *zap.Logger) (*Exchange, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SubmitRatePerSec <= 0 {
		cfg.SubmitRatePerSec = 25
	}
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = 30
	}
	dt := cfg.TickInterval.Seconds() / (365 * 24 * 3600)
	e := &Exchange{
		cfg:       cfg,
		proc:      NewPriceProcess(cfg.StartPrice, cfg.Drift, cfg.Volatility, dt, cfg.Seed),
		rng:       rand.New(rand.NewSource(cfg.Seed + 1)),
		limiter:   rate.NewLimiter(rate.Limit(cfg.SubmitRatePerSec), cfg.SubmitBurst),
		positions: positions,
		open:      make(map[string]order.Order),
		log:       log.Named("sim"),
	}
	e.onFill = onFill
	e.last = e.snapshotFor(cfg.StartPrice, time.Now())
	return e, nil
}

func (e *Exchange) snapshotFor(mid float64, ts time.Time) market.Snapshot {
	half := mid * e.cfg.SpreadBps / 10000 / 2
	return market.Snapshot{
		Symbol:    e.cfg.Symbol,
		BestBid:   mid - half,
		BestAsk:   mid + half,
		BidQty:    1 + e.rng.Float64(),
		AskQty:    1 + e.rng.Float64(),
		Timestamp: ts,
	}
}

// Step 让 GBM 前进一步，生成新盘口并对在途订单撮合。返回新快照。
func (e *Exchange) Step(ts time.Time) market.Snapshot {
	e.mu.Lock()
	mid := e.proc.Next()
	snap := e.snapshotFor(mid, ts)
	e.last = snap
	fills := e.matchLocked(snap)
	e.mu.Unlock()
	e.dispatch(fills)
	return snap
}

// PushTick 回放模式：外部喂入一帧盘口并触发撮合。
func (e *Exchange) PushTick(snap market.Snapshot) {
	e.mu.Lock()
	e.last = snap
	fills := e.matchLocked(snap)
	e.mu.Unlock()
	e.dispatch(fills)
}

// FillProbability 被动成交概率：base · exp(−离中间价距离/价差)，钳制到 [0,1]。
func (e *Exchange) FillProbability(distFromMid, spread float64) float64 {
	if spread <= 0 {
		return 0
	}
	p := e.cfg.BaseFillRate * math.Exp(-distFromMid/spread)
	return math.Min(math.Max(p, 0), 1)
}

// matchLocked 对全部在途订单撮合一轮，返回产生的成交回报。
func (e *Exchange) matchLocked(snap market.Snapshot) []exchange.Fill {
	var fills []exchange.Fill
	mid := snap.Mid()
	spread := snap.Spread()

	for id, o := range e.open {
		var fillPrice float64
		switch {
		case o.Side == order.SideBuy && o.Price >= snap.BestAsk:
			fillPrice = snap.BestAsk // 穿价：吃对手价
		case o.Side == order.SideSell && o.Price <= snap.BestBid:
			fillPrice = snap.BestBid
		default:
			dist := math.Abs(o.Price - mid)
			if e.rng.Float64() >= e.FillProbability(dist, spread) {
				continue
			}
			fillPrice = o.Price // 被动成交：按挂单价
		}

		qty := o.Remaining()
		fee := fillPrice * qty * e.cfg.MakerFeeBps / 10000
		delete(e.open, id)
		e.recordTradeLocked(exchange.Trade{
			ID:      uuid.NewString(),
			OrderID: o.ID,
			Symbol:  o.Symbol,
			Side:    o.Side,
			Price:   fillPrice,
			Qty:     qty,
			Fee:     fee,
			IsMaker: fillPrice == o.Price,
			Ts:      snap.Timestamp,
		})
		fills = append(fills, exchange.Fill{
			OrderID:   o.ID,
			Symbol:    o.Symbol,
			Side:      o.Side,
			Price:     fillPrice,
			Qty:       qty,
			Remaining: 0,
			Fee:       fee,
			Ts:        snap.Timestamp,
		})
	}
	return fills
}

func (e *Exchange) recordTradeLocked(t exchange.Trade) {
	e.trades = append(e.trades, t)
	if len(e.trades) > maxTradeHistory {
		e.trades = e.trades[len(e.trades)-maxTradeHistory:]
	}
}

func (e *Exchange) dispatch(fills []exchange.Fill) {
	if e.onFill == nil {
		return
	}
	for _, f := range fills {
		e.onFill(f)
	}
}

// SubmitOrder 实现 exchange.Gateway。超过请求预算返回 ErrRateLimited。
func (e *Exchange) SubmitOrder(ctx context.Context, o order.Order) (order.Order, error) {
	if err := ctx.Err(); err != nil {
		return order.Order{}, err
	}
	if !e.limiter.Allow() {
		return order.Order{}, exchange.ErrRateLimited
	}
	if o.Price <= 0 || o.Qty <= 0 {
		return order.Order{}, &exchange.RejectedError{Reason: fmt.Sprintf("bad price/qty %.8f/%.8f", o.Price, o.Qty)}
	}
	if o.Symbol != e.cfg.Symbol {
		return order.Order{}, &exchange.RejectedError{Reason: "unknown symbol " + o.Symbol}
	}

	e.mu.Lock()
	o.ID = uuid.NewString()
	if o.ClientID == "" {
		o.ClientID = uuid.NewString()
	}
	now := e.last.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	o.Status = order.StatusAcknowledged
	o.CreatedAt = now
	o.UpdatedAt = now
	e.open[o.ID] = o
	// 挂单立即对当前盘口做一次穿价检查
	fills := e.matchLocked(e.last)
	acked := o
	if cur, ok := e.open[o.ID]; ok {
		acked = cur
	} else {
		acked.Status = order.StatusFilled
		acked.FilledQty = acked.Qty
	}
	e.mu.Unlock()
	e.dispatch(fills)
	return acked, nil
}

// CancelOrder 实现 exchange.Gateway。订单不存在返回 false（已成交或已撤）。
func (e *Exchange) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.open[orderID]; !ok {
		return false, nil
	}
	delete(e.open, orderID)
	return true, nil
}

// CancelAllOrders 实现 exchange.Gateway，返回撤销数量。
func (e *Exchange) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, o := range e.open {
		if symbol == "" || o.Symbol == symbol {
			delete(e.open, id)
			n++
		}
	}
	return n, nil
}

// GetOpenOrders 实现 exchange.Gateway。
func (e *Exchange) GetOpenOrders(ctx context.Context, symbol string) ([]order.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []order.Order
	for _, o := range e.open {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

// GetPositions 实现 exchange.Gateway，委托给核心账本的只读视图。
func (e *Exchange) GetPositions(ctx context.Context, symbol string) ([]inventory.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.positions == nil {
		return nil, nil
	}
	if symbol != "" {
		return []inventory.Position{e.positions.Position(symbol)}, nil
	}
	return e.positions.Positions(), nil
}

// GetTrades 实现 exchange.Gateway，返回最近 limit 笔成交。
func (e *Exchange) GetTrades(ctx context.Context, symbol string, limit int) ([]exchange.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []exchange.Trade
	for _, t := range e.trades {
		if symbol == "" || t.Symbol == symbol {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// GetOrderBook 实现 exchange.Gateway，返回最新合成盘口。
func (e *Exchange) GetOrderBook(ctx context.Context, symbol string) (market.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return market.Snapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, nil
}
