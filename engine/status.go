package engine

import (
	"context"
	"time"

	"market-maker-core/inventory"
	"market-maker-core/monitor"
	"market-maker-core/risk"
)

// Status 循环运行状态快照，供运维面查询。
type Status struct {
	Symbol             string
	Running            bool
	Equity             float64
	DailyRealized      float64
	Position           inventory.Position
	OpenOrders         int
	RiskMultiplier     float64
	RiskOff            bool
	KillSwitch         string
	KillReason         string
	Cycles             uint64
	Cancels            uint64
	Trades             uint64
	CancelToTradeRatio float64
}

// Status 采集当前状态。可在任意 goroutine 调用。
func (l *Loop) Status() Status {
	l.mu.Lock()
	running := l.running
	l.mu.Unlock()

	ks := l.c.Guardian.KillSwitch()
	reason, _ := ks.Cause()
	cancels := l.cancels.Load()
	trades := l.trades.Load()
	ratio := 0.0
	if trades > 0 {
		ratio = float64(cancels) / float64(trades)
	}
	return Status{
		Symbol:             l.cfg.Symbol,
		Running:            running,
		Equity:             l.c.Book.Equity(),
		DailyRealized:      l.c.Book.DailyRealized(),
		Position:           l.c.Book.Position(l.cfg.Symbol),
		OpenOrders:         l.open.Len(),
		RiskMultiplier:     l.c.Scaling.Multiplier(),
		RiskOff:            l.c.Scaling.IsRiskOff(),
		KillSwitch:         ks.State().String(),
		KillReason:         reason.String(),
		Cycles:             l.cycles.Load(),
		Cancels:            cancels,
		Trades:             trades,
		CancelToTradeRatio: ratio,
	}
}

// TriggerKillSwitch 运维手动熔断：撤掉全部挂单并禁止新订单。
// 返回是否由本次调用触发（已熔断时为 false）。
func (l *Loop) TriggerKillSwitch(detail string) bool {
	safety, ok := l.c.Guardian.TriggerManual(detail)
	if !ok {
		return false
	}
	l.emit(monitor.EventKillSwitchTriggered, map[string]interface{}{
		"reason": safety.Reason.String(), "detail": safety.Detail,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	safety.Flatten = false // 平仓决策留给运维，手动路径只做撤单
	l.executeSafety(ctx, safety)
	return true
}

// ResetKillSwitch 显式复位熔断。调用方负责确认触发原因已消除。
func (l *Loop) ResetKillSwitch() {
	l.c.Guardian.Reset()
	l.emit(monitor.EventKillSwitchReset, nil)
}

// MarkoutStats 事后成交质量汇总；未启用分析器时返回 nil。
func (l *Loop) MarkoutStats() map[time.Duration]monitor.HorizonStats {
	if l.c.Markout == nil {
		return nil
	}
	return l.c.Markout.Stats()
}

// Guardian 暴露守卫（状态持久化用）。
func (l *Loop) Guardian() *risk.Guardian {
	return l.c.Guardian
}
