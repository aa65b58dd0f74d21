package monitor

import (
	"sync"
	"time"

	"market-maker-core/order"
)

// MarkoutAnalyzer 事后成交质量分析：成交后 1s/5s 的中间价相对成交价的
// 偏移（基点，买入为正向盈利口径）。持续为负说明被逆向选择。
// 纯观测用途，输出不回馈任何交易决策。
type MarkoutAnalyzer struct {
	mu       sync.Mutex
	horizons []time.Duration
	pending  []*markoutSample
	stats    map[time.Duration]*HorizonStats
	maxOpen  int
}

type markoutSample struct {
	side      order.Side
	fillPrice float64
	filledAt  time.Time
	marked    map[time.Duration]bool
}

// HorizonStats 单一观察期的汇总。
type HorizonStats struct {
	Count   int
	SumBps  float64
	Adverse int // markout < 0 的次数
}

// AvgBps 平均 markout。
func (h *HorizonStats) AvgBps() float64 {
	if h.Count == 0 {
		return 0
	}
	return h.SumBps / float64(h.Count)
}

// AdverseRate 逆向选择比例。
func (h *HorizonStats) AdverseRate() float64 {
	if h.Count == 0 {
		return 0
	}
	return float64(h.Adverse) / float64(h.Count)
}

// NewMarkoutAnalyzer horizons 为空时默认 1s 与 5s。
func NewMarkoutAnalyzer(horizons ...time.Duration) *MarkoutAnalyzer {
	if len(horizons) == 0 {
		horizons = []time.Duration{time.Second, 5 * time.Second}
	}
	stats := make(map[time.Duration]*HorizonStats, len(horizons))
	for _, h := range horizons {
		stats[h] = &HorizonStats{}
	}
	return &MarkoutAnalyzer{
		horizons: horizons,
		stats:    stats,
		maxOpen:  1000,
	}
}

// OnFill 登记一笔成交，等待各观察期到期。
func (a *MarkoutAnalyzer) OnFill(side order.Side, fillPrice float64, at time.Time) {
	if fillPrice <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) >= a.maxOpen {
		a.pending = a.pending[1:]
	}
	a.pending = append(a.pending, &markoutSample{
		side:      side,
		fillPrice: fillPrice,
		filledAt:  at,
		marked:    make(map[time.Duration]bool, len(a.horizons)),
	})
}

// Observe 用最新中间价结算所有已到期的观察点。循环每个周期调用一次。
func (a *MarkoutAnalyzer) Observe(mid float64, now time.Time) {
	if mid <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.pending[:0]
	for _, s := range a.pending {
		for _, h := range a.horizons {
			if s.marked[h] || now.Sub(s.filledAt) < h {
				continue
			}
			bps := (mid - s.fillPrice) / s.fillPrice * 10000
			if s.side == order.SideSell {
				bps = -bps
			}
			st := a.stats[h]
			st.Count++
			st.SumBps += bps
			if bps < 0 {
				st.Adverse++
			}
			s.marked[h] = true
		}
		if len(s.marked) < len(a.horizons) {
			kept = append(kept, s)
		}
	}
	a.pending = kept
}

// Stats 返回各观察期汇总的拷贝。
func (a *MarkoutAnalyzer) Stats() map[time.Duration]HorizonStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[time.Duration]HorizonStats, len(a.stats))
	for h, st := range a.stats {
		out[h] = *st
	}
	return out
}
