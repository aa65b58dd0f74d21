package market

import (
	"math"
	"sync"
	"time"
)

// VolatilityCalculator maintains a bounded window of mid prices and reports
// realized volatility of log returns in basis points per observation.
// Callers feed it once per accepted snapshot; readers poll RealizedVolBps.
type VolatilityCalculator struct {
	mu         sync.RWMutex
	windowSize int
	mids       []float64
	lastAt     time.Time
}

// NewVolatilityCalculator window 为参与统计的中间价数量，至少 2。
func NewVolatilityCalculator(window int) *VolatilityCalculator {
	if window < 2 {
		window = 2
	}
	return &VolatilityCalculator{
		windowSize: window,
		mids:       make([]float64, 0, window),
	}
}

// AddPrice 追加一个中间价观测，超出窗口的最旧观测被丢弃。
func (v *VolatilityCalculator) AddPrice(mid float64, at time.Time) {
	if mid <= 0 || math.IsNaN(mid) || math.IsInf(mid, 0) {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mids = append(v.mids, mid)
	if len(v.mids) > v.windowSize {
		v.mids = v.mids[len(v.mids)-v.windowSize:]
	}
	v.lastAt = at
}

// IsReady reports whether the window holds enough observations for a
// meaningful estimate.
func (v *VolatilityCalculator) IsReady() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.mids) >= v.windowSize
}

// RealizedVolBps 对数收益率的样本标准差，换算为基点。窗口不足时返回 0。
func (v *VolatilityCalculator) RealizedVolBps() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	n := len(v.mids)
	if n < 3 {
		return 0
	}
	returns := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		returns = append(returns, math.Log(v.mids[i]/v.mids[i-1]))
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance) * 10000
}

// LastUpdate 最近一次观测时间。
func (v *VolatilityCalculator) LastUpdate() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastAt
}
