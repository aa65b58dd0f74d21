package risk

import (
	"sync"
	"time"
)

// SlidingLimiter 滑动窗口计数限速器：同时约束每秒与每分钟的下单次数。
// 与令牌桶不同，它严格对齐"任意 1s/60s 窗口内不超过 N 次"的口径，
// 超限的请求由调用方推迟到下个周期，而不是丢弃。
type SlidingLimiter struct {
	mu        sync.Mutex
	perSecond int
	perMinute int
	events    []time.Time
}

// NewSlidingLimiter 构造限速器。非正参数视为 1。
func NewSlidingLimiter(perSecond, perMinute int) *SlidingLimiter {
	if perSecond < 1 {
		perSecond = 1
	}
	if perMinute < 1 {
		perMinute = 1
	}
	return &SlidingLimiter{perSecond: perSecond, perMinute: perMinute}
}

// Allow 尝试占用一个配额。允许时记账并返回 true。
func (l *SlidingLimiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(l.events) && l.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.events = l.events[i:]
	}

	if len(l.events) >= l.perMinute {
		return false
	}
	secCutoff := now.Add(-time.Second)
	inSecond := 0
	for j := len(l.events) - 1; j >= 0; j-- {
		if l.events[j].Before(secCutoff) {
			break
		}
		inSecond++
	}
	if inSecond >= l.perSecond {
		return false
	}

	l.events = append(l.events, now)
	return true
}

// Pending 当前分钟窗口内已占用的配额数。
func (l *SlidingLimiter) Pending(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-time.Minute)
	n := 0
	for _, t := range l.events {
		if !t.Before(cutoff) {
			n++
		}
	}
	return n
}
