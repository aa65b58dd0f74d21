package monitor

import (
	"sync"
	"time"
)

// Throttler 按 key 节流：同一 key 在 interval 内只放行一次。
// 用于风控拒绝、快照异常这类会在坏行情里每周期重复出现的告警日志。
type Throttler struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
}

// NewThrottler 构造节流器。
func NewThrottler(interval time.Duration) *Throttler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Throttler{
		interval: interval,
		last:     make(map[string]time.Time),
	}
}

// Allow 该 key 当前是否放行；放行即更新时间戳。
func (t *Throttler) Allow(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.last[key] = now
	return true
}

// Reset 清空全部节流状态。
func (t *Throttler) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = make(map[string]time.Time)
}
