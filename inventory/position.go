// Package inventory 维护仓位账本（成本价口径）与库存区间分级。
package inventory

import (
	"sync"
	"time"

	"market-maker-core/order"
)

// Position 单一 symbol 的净仓位。Qty 带符号：多为正、空为负。
// 仓位只由处理成交回报的组件写入，其余组件拿到的都是值拷贝。
type Position struct {
	Symbol        string    `json:"symbol"`
	Qty           float64   `json:"qty"`
	EntryPrice    float64   `json:"entryPrice"`
	MarkPrice     float64   `json:"markPrice"`
	RealizedPnL   float64   `json:"realizedPnl"`
	UnrealizedPnL float64   `json:"unrealizedPnl"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Notional 按标记价的签名名义价值。
func (p Position) Notional() float64 {
	return p.Qty * p.MarkPrice
}

// IsLong 是否多头。
func (p Position) IsLong() bool { return p.Qty > 0 }

// IsShort 是否空头。
func (p Position) IsShort() bool { return p.Qty < 0 }

// IsFlat 是否无仓位。
func (p Position) IsFlat() bool { return p.Qty == 0 }

// BookState Book 的可序列化状态，冷启动恢复用。
type BookState struct {
	InitialEquity float64    `json:"initialEquity"`
	Realized      float64    `json:"realized"`
	DailyRealized float64    `json:"dailyRealized"`
	DayOpenEquity float64    `json:"dayOpenEquity"`
	Day           string     `json:"day"`
	Positions     []Position `json:"positions"`
}

// Book 仓位账本。成交回报按成本价口径入账：
// 同向加仓摊薄入场价，反向成交先平后反手，平仓部分计入已实现盈亏。
type Book struct {
	mu            sync.RWMutex
	initialEquity float64
	positions     map[string]*Position
	realized      float64
	dailyRealized float64
	dayOpenEquity float64
	day           string
}

// NewBook 以初始权益构造账本。
func NewBook(initialEquity float64) *Book {
	return &Book{
		initialEquity: initialEquity,
		positions:     make(map[string]*Position),
		dayOpenEquity: initialEquity,
	}
}

// RestoreBook 从持久化状态重建账本。
func RestoreBook(st BookState) *Book {
	b := &Book{
		initialEquity: st.InitialEquity,
		positions:     make(map[string]*Position, len(st.Positions)),
		realized:      st.Realized,
		dailyRealized: st.DailyRealized,
		dayOpenEquity: st.DayOpenEquity,
		day:           st.Day,
	}
	for _, p := range st.Positions {
		cp := p
		b.positions[p.Symbol] = &cp
	}
	return b
}

// ApplyFill 入账一笔成交。fee 以计价货币计，直接从已实现盈亏中扣除。
// 返回更新后的仓位快照。
func (b *Book) ApplyFill(symbol string, side order.Side, qty, price, fee float64, at time.Time) Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.positions[symbol]
	if p == nil {
		p = &Position{Symbol: symbol, MarkPrice: price}
		b.positions[symbol] = p
	}

	signed := qty
	if side == order.SideSell {
		signed = -qty
	}

	var realized float64
	switch {
	case p.Qty == 0 || sameSign(p.Qty, signed):
		// 开仓或同向加仓：摊薄入场价。
		totalQty := p.Qty + signed
		p.EntryPrice = (p.EntryPrice*abs(p.Qty) + price*abs(signed)) / abs(totalQty)
		p.Qty = totalQty
	default:
		// 反向成交：先平已有仓位，剩余部分反手。
		closeQty := min(abs(p.Qty), abs(signed))
		if p.Qty > 0 {
			realized = (price - p.EntryPrice) * closeQty
		} else {
			realized = (p.EntryPrice - price) * closeQty
		}
		p.Qty += signed
		if p.Qty == 0 {
			p.EntryPrice = 0
		} else if !sameSign(p.Qty, p.Qty-signed) {
			// 反手：新仓位以本次成交价为入场价。
			p.EntryPrice = price
		}
	}

	realized -= fee
	p.RealizedPnL += realized
	b.realized += realized
	b.dailyRealized += realized
	p.MarkPrice = price
	p.UpdatedAt = at
	b.markLocked(p)
	return *p
}

// Mark 以最新中间价重算未实现盈亏。
func (b *Book) Mark(symbol string, mid float64) {
	if mid <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.positions[symbol]
	if p == nil {
		return
	}
	p.MarkPrice = mid
	b.markLocked(p)
}

func (b *Book) markLocked(p *Position) {
	if p.Qty == 0 {
		p.UnrealizedPnL = 0
		return
	}
	p.UnrealizedPnL = (p.MarkPrice - p.EntryPrice) * p.Qty
}

// Position 返回指定 symbol 的仓位快照；不存在时返回零值仓位。
func (b *Book) Position(symbol string) Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if p := b.positions[symbol]; p != nil {
		return *p
	}
	return Position{Symbol: symbol}
}

// Positions 全部仓位快照。
func (b *Book) Positions() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out
}

// Equity 当前权益 = 初始权益 + 累计已实现 + 未实现。
func (b *Book) Equity() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	eq := b.initialEquity + b.realized
	for _, p := range b.positions {
		eq += p.UnrealizedPnL
	}
	return eq
}

// RealizedTotal 累计已实现盈亏（净手续费）。
func (b *Book) RealizedTotal() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.realized
}

// DailyRealized 当日已实现盈亏。
func (b *Book) DailyRealized() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dailyRealized
}

// DayOpenEquity 当日开盘权益（日损限额的分母基准）。
func (b *Book) DayOpenEquity() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dayOpenEquity
}

// MaybeRollover 按 UTC 日切：跨日时清零当日已实现并刷新日开权益。
// 返回是否发生了日切。
func (b *Book) MaybeRollover(now time.Time) bool {
	day := now.UTC().Format("2006-01-02")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.day == day {
		return false
	}
	first := b.day == ""
	b.day = day
	if first {
		return false
	}
	b.dailyRealized = 0
	eq := b.initialEquity + b.realized
	for _, p := range b.positions {
		eq += p.UnrealizedPnL
	}
	b.dayOpenEquity = eq
	return true
}

// State 导出可序列化状态。
func (b *Book) State() BookState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := BookState{
		InitialEquity: b.initialEquity,
		Realized:      b.realized,
		DailyRealized: b.dailyRealized,
		DayOpenEquity: b.dayOpenEquity,
		Day:           b.day,
	}
	for _, p := range b.positions {
		st.Positions = append(st.Positions, *p)
	}
	return st
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
