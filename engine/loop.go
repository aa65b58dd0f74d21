// Package engine 实现每个 symbol 一个的顺序决策循环：
// 行情/成交/定时器三类事件汇入单 goroutine，依次经过
// 校验 → 缩放 → 定价 → 协调 → 准入 → 执行，彻底避免共享状态竞争。
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"market-maker-core/exchange"
	"market-maker-core/inventory"
	"market-maker-core/market"
	"market-maker-core/monitor"
	"market-maker-core/order"
	"market-maker-core/pricing"
	"market-maker-core/risk"
)

// Config 循环参数。
type Config struct {
	Symbol              string
	BaseRefreshInterval time.Duration
	// OrderNotionalPct 每侧基础下单名义占权益比例（风险缩放前）。
	OrderNotionalPct float64
	// FillQueueSize 成交回报缓冲，必须容得下一个周期内的全部成交。
	FillQueueSize int
}

// Validate 构造期校验。
func (c Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("engine: symbol required")
	}
	if c.BaseRefreshInterval <= 0 {
		return fmt.Errorf("engine: baseRefreshInterval must be > 0")
	}
	if c.OrderNotionalPct <= 0 {
		return fmt.Errorf("engine: orderNotionalPct must be > 0")
	}
	return nil
}

// Components 循环的全部协作组件。Events/Metrics/Markout/Throttle 可缺省。
type Components struct {
	Pricing     *pricing.Engine
	Bands       *inventory.Manager
	Book        *inventory.Book
	Scaling     *risk.ScalingEngine
	Guardian    *risk.Guardian
	Coordinator *order.Coordinator
	Gateway     exchange.Gateway
	Vol         *market.VolatilityCalculator
	Markout     *monitor.MarkoutAnalyzer
	Events      monitor.Sink
	Metrics     *monitor.Metrics
	Throttle    *monitor.Throttler
	Log         *zap.Logger
}

func (c Components) validate() error {
	if c.Pricing == nil || c.Bands == nil || c.Book == nil || c.Scaling == nil ||
		c.Guardian == nil || c.Coordinator == nil || c.Gateway == nil || c.Vol == nil {
		return fmt.Errorf("engine: missing required component")
	}
	return nil
}

// Loop 单 symbol 决策循环。
type Loop struct {
	cfg Config
	c   Components
	log *zap.Logger

	open    *order.OpenOrderSet
	updates chan market.Snapshot
	fills   chan exchange.Fill

	// 仅 run goroutine 访问
	lastSnap market.Snapshot
	haveSnap bool
	lastTs   time.Time
	lastMult float64

	cancels atomic.Uint64
	trades  atomic.Uint64
	cycles  atomic.Uint64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New 构造循环。
func New(cfg Config, c Components) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.Events == nil {
		c.Events = monitor.NopSink{}
	}
	if c.Throttle == nil {
		c.Throttle = monitor.NewThrottler(10 * time.Second)
	}
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
	if cfg.FillQueueSize <= 0 {
		cfg.FillQueueSize = 1024
	}
	return &Loop{
		cfg:      cfg,
		c:        c,
		log:      c.Log.Named("loop").With(zap.String("symbol", cfg.Symbol)),
		open:     order.NewOpenOrderSet(),
		updates:  make(chan market.Snapshot, 1),
		fills:    make(chan exchange.Fill, cfg.FillQueueSize),
		lastMult: 1,
	}, nil
}

// Start 启动循环 goroutine。重复启动报错。
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return fmt.Errorf("engine: already running")
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	go l.run(ctx)
	return nil
}

// Stop 停止循环并等待退出。
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	done := l.doneCh
	l.mu.Unlock()
	<-done
}

// OnMarketUpdate 推入一帧盘口。循环忙时只保留最新一帧（合并过期行情）。
func (l *Loop) OnMarketUpdate(snap market.Snapshot) {
	for {
		select {
		case l.updates <- snap:
			return
		default:
		}
		select {
		case <-l.updates: // 丢弃积压的旧帧
		default:
		}
	}
}

// OnFill 推入一笔成交回报。成交不允许丢弃。
func (l *Loop) OnFill(f exchange.Fill) {
	l.fills <- f
}

// Replay 同步处理一帧行情（回测用，循环未 Start 时调用）：
// 先排空积压的成交回报，再执行一个完整决策周期。
func (l *Loop) Replay(ctx context.Context, snap market.Snapshot) {
	for {
		select {
		case f := <-l.fills:
			l.handleFill(f)
		default:
			l.cycle(ctx, snap)
			return
		}
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.doneCh)
	timer := time.NewTimer(l.cfg.BaseRefreshInterval)
	defer timer.Stop()

	reset := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(l.c.Scaling.RefreshInterval(l.cfg.BaseRefreshInterval))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case snap := <-l.updates:
			l.cycle(ctx, snap)
			reset()
		case f := <-l.fills:
			l.handleFill(f)
			// 成交改变库存，立即用最新盘口重报价
			if l.haveSnap {
				l.cycle(ctx, l.lastSnap)
				reset()
			}
		case <-timer.C:
			if l.haveSnap {
				l.cycle(ctx, l.lastSnap)
			}
			reset()
		}
	}
}

// cycle 执行一次完整决策周期。
func (l *Loop) cycle(ctx context.Context, snap market.Snapshot) {
	started := time.Now()
	l.cycles.Add(1)

	if err := snap.Validate(); err != nil {
		if l.c.Throttle.Allow("bad_snapshot", started) {
			l.log.Warn("skipping invalid snapshot", zap.Error(err))
		}
		return
	}
	// 乱序行情：时间戳倒退的帧直接丢弃
	if snap.Timestamp.Before(l.lastTs) {
		return
	}
	l.lastSnap = snap
	l.haveSnap = true
	l.lastTs = snap.Timestamp

	mid := snap.Mid()
	now := started

	if l.c.Book.MaybeRollover(now) {
		l.emit(monitor.EventDailyRollover, map[string]interface{}{"dayOpenEquity": l.c.Book.DayOpenEquity()})
	}

	l.c.Vol.AddPrice(mid, snap.Timestamp)
	l.c.Book.Mark(l.cfg.Symbol, mid)
	l.c.Scaling.UpdatePrice(snap.BestAsk, snap.BestBid, mid, snap.Timestamp)

	equity := l.c.Book.Equity()
	l.c.Scaling.UpdateEquity(equity, snap.Timestamp)
	if l.c.Markout != nil {
		l.c.Markout.Observe(mid, now)
	}

	mult := l.c.Scaling.ComputeMultiplier(mid)
	if mult != l.lastMult {
		l.emit(monitor.EventRiskMultiplier, map[string]interface{}{"multiplier": mult})
		l.lastMult = mult
	}
	pos := l.c.Book.Position(l.cfg.Symbol)
	l.gauges(equity, pos, mult)

	// 全局限额：任一击穿即熔断
	if safety, triggered := l.c.Guardian.Evaluate(pos, equity, l.c.Book.DayOpenEquity(),
		l.c.Book.DailyRealized(), l.c.Scaling.MaxDrawdown()); triggered {
		l.emit(monitor.EventKillSwitchTriggered, map[string]interface{}{
			"reason": safety.Reason.String(), "detail": safety.Detail,
		})
		l.executeSafety(ctx, safety)
	}

	// 熔断期间只撤不下
	if !l.c.Guardian.TradingEnabled() {
		l.cancelAllLocal(ctx)
		l.observeCycle(started)
		return
	}

	quote, ok := l.buildQuote(snap, pos, equity, mid)
	if !ok {
		l.observeCycle(started)
		return
	}

	plan := l.c.Coordinator.BuildPlan(quote, l.open, now)
	l.execute(ctx, plan, pos, equity, snap)
	l.observeCycle(started)
}

// buildQuote 定价并套用 risk-off / 库存区间 / 价差放大修正。
func (l *Loop) buildQuote(snap market.Snapshot, pos inventory.Position, equity, mid float64) (pricing.Quote, bool) {
	baseQty := equity * l.cfg.OrderNotionalPct / mid
	quote, err := l.c.Pricing.ComputeQuote(pricing.Inputs{
		Snapshot:       snap,
		InventoryRatio: l.c.Bands.Ratio(pos.Notional(), equity),
		Equity:         equity,
		VolBps:         l.c.Vol.RealizedVolBps(),
		BaseSize:       l.c.Scaling.OrderSize(baseQty),
	})
	if err != nil {
		if errors.Is(err, pricing.ErrCrossedQuote) {
			// 定价自相矛盾属于不可解释异常，直接熔断
			if safety, triggered := l.c.Guardian.TriggerAnomaly(err.Error()); triggered {
				l.emit(monitor.EventKillSwitchTriggered, map[string]interface{}{
					"reason": safety.Reason.String(), "detail": safety.Detail,
				})
				l.executeSafety(context.Background(), safety)
			}
		} else if l.c.Throttle.Allow("pricing_error", time.Now()) {
			l.log.Warn("pricing failed", zap.Error(err))
		}
		return pricing.Quote{}, false
	}

	// risk-off：只保留减仓方向，平仓位则完全停报
	if l.c.Scaling.IsRiskOff() {
		switch {
		case pos.IsLong():
			quote.BidSize = 0
		case pos.IsShort():
			quote.AskSize = 0
		default:
			quote.BidSize, quote.AskSize = 0, 0
		}
	}
	// 库存区间硬限的方向闸门
	if !l.c.Bands.AllowBid(pos.Notional(), equity) {
		quote.BidSize = 0
	}
	if !l.c.Bands.AllowAsk(pos.Notional(), equity) {
		quote.AskSize = 0
	}
	// 低风险乘数下按比例放大价差
	if sm := l.c.Scaling.SpreadMultiplier(); sm > 1 {
		extra := (sm - 1) * (quote.AskPrice - quote.BidPrice) / 2
		quote.BidPrice -= extra
		quote.AskPrice += extra
	}

	if l.c.Metrics != nil {
		l.c.Metrics.QuotesComputed.WithLabelValues(l.cfg.Symbol).Inc()
		l.c.Metrics.SpreadBps.WithLabelValues(l.cfg.Symbol).Set(quote.SpreadBps())
	}
	l.emit(monitor.EventQuoteComputed, map[string]interface{}{
		"bid": quote.BidPrice, "ask": quote.AskPrice,
		"bidSize": quote.BidSize, "askSize": quote.AskSize,
		"spreadBps": quote.SpreadBps(),
		"band":      l.c.Bands.Classify(pos.Notional(), equity).String(),
		"skewMult":  l.c.Bands.SkewMultiplier(pos.Notional(), equity),
	})
	return quote, true
}

// execute 执行协调器产出的计划：先撤后下，每笔提交逐一过准入。
func (l *Loop) execute(ctx context.Context, plan order.Plan, pos inventory.Position, equity float64, snap market.Snapshot) {
	for _, o := range plan.Cancels {
		l.cancelOne(ctx, o)
	}

	for _, intent := range plan.Submits {
		decision := l.c.Guardian.Admit(intent, pos, equity, snap)
		switch decision.Verdict {
		case risk.VerdictDefer:
			// 限流：下个周期协调器会重新产出该意图
			if l.c.Metrics != nil {
				l.c.Metrics.OrdersDeferred.WithLabelValues(l.cfg.Symbol).Inc()
			}
			l.emit(monitor.EventOrderDeferred, map[string]interface{}{"side": string(intent.Side)})
			continue
		case risk.VerdictReject:
			l.rejected(intent, decision.Err)
			continue
		}

		o := order.Order{
			ClientID:  uuid.NewString(),
			Symbol:    intent.Symbol,
			Side:      intent.Side,
			Price:     intent.Price,
			Qty:       decision.Qty,
			Status:    order.StatusNew,
			CreatedAt: time.Now(),
		}
		submitted, err := l.c.Gateway.SubmitOrder(ctx, o)
		if err != nil {
			l.submitFailed(intent, err)
			continue
		}
		l.c.Guardian.RecordGatewaySuccess()
		if submitted.IsOpen() {
			l.open.ApplySubmitAck(submitted)
		}
		if l.c.Metrics != nil {
			l.c.Metrics.OrdersSubmitted.WithLabelValues(l.cfg.Symbol, string(intent.Side)).Inc()
		}
		l.emit(monitor.EventOrderSubmitted, map[string]interface{}{
			"orderId": submitted.ID, "side": string(intent.Side),
			"price": submitted.Price, "qty": submitted.Qty,
		})
	}
}

func (l *Loop) cancelOne(ctx context.Context, o order.Order) {
	ok, err := l.c.Gateway.CancelOrder(ctx, o.Symbol, o.ID)
	if err != nil {
		l.c.Guardian.RecordGatewayError()
		if l.c.Metrics != nil {
			l.c.Metrics.GatewayErrors.WithLabelValues(l.cfg.Symbol).Inc()
		}
		if l.c.Throttle.Allow("cancel_error", time.Now()) {
			l.log.Warn("cancel failed", zap.String("orderId", o.ID), zap.Error(err))
		}
		return
	}
	l.c.Guardian.RecordGatewaySuccess()
	// ok=false 表示订单已经不在了（成交或已撤），本地也要清掉
	l.open.ApplyCancelAck(o.ID)
	if ok {
		l.cancels.Add(1)
		if l.c.Metrics != nil {
			l.c.Metrics.OrdersCanceled.WithLabelValues(l.cfg.Symbol).Inc()
		}
		l.emit(monitor.EventOrderCanceled, map[string]interface{}{"orderId": o.ID})
	}
}

func (l *Loop) submitFailed(intent order.Intent, err error) {
	var rejected *exchange.RejectedError
	switch {
	case errors.Is(err, exchange.ErrRateLimited):
		if l.c.Metrics != nil {
			l.c.Metrics.OrdersDeferred.WithLabelValues(l.cfg.Symbol).Inc()
		}
		l.emit(monitor.EventOrderDeferred, map[string]interface{}{"side": string(intent.Side), "source": "gateway"})
	case errors.As(err, &rejected):
		l.rejected(intent, err)
	default:
		l.c.Guardian.RecordGatewayError()
		if l.c.Metrics != nil {
			l.c.Metrics.GatewayErrors.WithLabelValues(l.cfg.Symbol).Inc()
		}
		if l.c.Throttle.Allow("submit_error", time.Now()) {
			l.log.Warn("submit failed", zap.Error(err))
		}
	}
}

// rejected 统一的拒单处理：按原因归类计数，同类原因节流记日志。
func (l *Loop) rejected(intent order.Intent, err error) {
	reason := rejectReason(err)
	if l.c.Metrics != nil {
		l.c.Metrics.OrdersRejected.WithLabelValues(l.cfg.Symbol, reason).Inc()
	}
	if l.c.Throttle.Allow("reject:"+reason, time.Now()) {
		l.log.Warn("order rejected",
			zap.String("side", string(intent.Side)),
			zap.String("reason", reason),
			zap.Error(err))
	}
	l.emit(monitor.EventOrderRejected, map[string]interface{}{
		"side": string(intent.Side), "reason": reason,
	})
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, risk.ErrNotionalTooSmall):
		return "notional_too_small"
	case errors.Is(err, risk.ErrNotionalTooLarge):
		return "notional_too_large"
	case errors.Is(err, risk.ErrPriceOutOfBand):
		return "price_band"
	case errors.Is(err, risk.ErrInventoryLimit):
		return "inventory_limit"
	case errors.Is(err, risk.ErrKillSwitch):
		return "kill_switch"
	default:
		return "other"
	}
}

// handleFill 成交回报入账。
func (l *Loop) handleFill(f exchange.Fill) {
	l.open.ApplyFill(f.OrderID, f.Qty, f.Ts)
	pos := l.c.Book.ApplyFill(f.Symbol, f.Side, f.Qty, f.Price, f.Fee, f.Ts)
	if l.c.Markout != nil {
		l.c.Markout.OnFill(f.Side, f.Price, f.Ts)
	}
	l.trades.Add(1)
	if l.c.Metrics != nil {
		l.c.Metrics.Fills.WithLabelValues(l.cfg.Symbol, string(f.Side)).Inc()
	}
	l.emit(monitor.EventFill, map[string]interface{}{
		"orderId": f.OrderID, "side": string(f.Side),
		"price": f.Price, "qty": f.Qty, "position": pos.Qty,
	})
}

// executeSafety 熔断后的安全动作：全撤，必要时市价平仓。
func (l *Loop) executeSafety(ctx context.Context, s risk.SafetyIntent) {
	n, err := l.c.Gateway.CancelAllOrders(ctx, l.cfg.Symbol)
	if err != nil {
		// 本地集合保持不变，熔断存续期间由 cancelAllLocal 逐周期重试
		l.log.Error("cancel-all failed after kill switch", zap.Error(err))
		l.c.Guardian.RecordGatewayError()
	} else {
		l.log.Warn("canceled all orders", zap.Int("count", n), zap.String("reason", s.Reason.String()))
		for _, o := range l.open.All() {
			l.open.ApplyCancelAck(o.ID)
		}
	}

	if !s.Flatten {
		return
	}
	pos := l.c.Book.Position(l.cfg.Symbol)
	if pos.IsFlat() || !l.haveSnap {
		return
	}
	// 以可成交限价平仓（卖打买一、买打卖一），绕过准入：熔断后只允许减仓
	flatten := order.Order{
		ClientID:  uuid.NewString(),
		Symbol:    l.cfg.Symbol,
		Qty:       abs(pos.Qty),
		Status:    order.StatusNew,
		CreatedAt: time.Now(),
	}
	if pos.IsLong() {
		flatten.Side = order.SideSell
		flatten.Price = l.lastSnap.BestBid
	} else {
		flatten.Side = order.SideBuy
		flatten.Price = l.lastSnap.BestAsk
	}
	if _, err := l.c.Gateway.SubmitOrder(ctx, flatten); err != nil {
		l.log.Error("flatten failed after kill switch", zap.Error(err))
	}
}

// cancelAllLocal 熔断存续期间每个周期清扫残留挂单。
func (l *Loop) cancelAllLocal(ctx context.Context) {
	for _, o := range l.open.All() {
		l.cancelOne(ctx, o)
	}
}

func (l *Loop) gauges(equity float64, pos inventory.Position, mult float64) {
	if l.c.Metrics == nil {
		return
	}
	m := l.c.Metrics
	m.Equity.WithLabelValues(l.cfg.Symbol).Set(equity)
	m.InventoryNotional.WithLabelValues(l.cfg.Symbol).Set(pos.Notional())
	m.RiskMultiplier.WithLabelValues(l.cfg.Symbol).Set(mult)
	m.OpenOrders.WithLabelValues(l.cfg.Symbol).Set(float64(l.open.Len()))
	m.DailyRealizedPnL.WithLabelValues(l.cfg.Symbol).Set(l.c.Book.DailyRealized())
	if l.c.Guardian.TradingEnabled() {
		m.KillSwitchActive.WithLabelValues(l.cfg.Symbol).Set(0)
	} else {
		m.KillSwitchActive.WithLabelValues(l.cfg.Symbol).Set(1)
	}
}

func (l *Loop) observeCycle(started time.Time) {
	if l.c.Metrics != nil {
		l.c.Metrics.CycleDuration.WithLabelValues(l.cfg.Symbol).Observe(time.Since(started).Seconds())
	}
}

func (l *Loop) emit(t monitor.EventType, fields map[string]interface{}) {
	l.c.Events.Emit(monitor.Event{
		Type:   t,
		Symbol: l.cfg.Symbol,
		At:     time.Now(),
		Fields: fields,
	})
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
