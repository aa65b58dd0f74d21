package risk

import (
	"sync"
	"time"
)

// ErrorRateWindow 网关错误率滚动窗口。持续超过阈值说明与交易所的
// 交互已不可靠，应当触发熔断而不是继续盲发。
type ErrorRateWindow struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	errors    []time.Time
}

// NewErrorRateWindow window 内错误数达到 threshold 即判定为持续故障。
func NewErrorRateWindow(window time.Duration, threshold int) *ErrorRateWindow {
	if window <= 0 {
		window = 30 * time.Second
	}
	if threshold < 1 {
		threshold = 1
	}
	return &ErrorRateWindow{window: window, threshold: threshold}
}

// RecordError 记一次网关错误。
func (w *ErrorRateWindow) RecordError(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errors = append(w.errors, now)
	w.pruneLocked(now)
}

// RecordSuccess 成功请求收窄窗口（清掉已过期的错误记录）。
func (w *ErrorRateWindow) RecordSuccess(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
}

// Breached 窗口内错误数是否达到阈值。
func (w *ErrorRateWindow) Breached(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	return len(w.errors) >= w.threshold
}

// Count 窗口内错误数。
func (w *ErrorRateWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	return len(w.errors)
}

func (w *ErrorRateWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.errors) && w.errors[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.errors = w.errors[i:]
	}
}
