package monitor

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-maker-core/order"
)

func TestThrottlerPerKey(t *testing.T) {
	th := NewThrottler(10 * time.Second)
	now := time.Now()

	assert.True(t, th.Allow("reject:price_band", now))
	assert.False(t, th.Allow("reject:price_band", now.Add(time.Second)))
	assert.True(t, th.Allow("reject:inventory", now.Add(time.Second)), "不同 key 互不影响")
	assert.True(t, th.Allow("reject:price_band", now.Add(11*time.Second)))

	th.Reset()
	assert.True(t, th.Allow("reject:price_band", now.Add(12*time.Second)))
}

func TestMarkoutAnalyzer(t *testing.T) {
	a := NewMarkoutAnalyzer(time.Second, 5*time.Second)
	t0 := time.Now()

	// 买入 50000，1s 后 mid=50050（+10bps）、5s 后 mid=49950（-10bps）
	a.OnFill(order.SideBuy, 50000, t0)
	a.Observe(50050, t0.Add(time.Second))
	a.Observe(49950, t0.Add(5*time.Second))

	stats := a.Stats()
	oneSec := stats[time.Second]
	require.Equal(t, 1, oneSec.Count)
	assert.InDelta(t, 10.0, oneSec.AvgBps(), 1e-9)
	assert.Zero(t, oneSec.Adverse)

	fiveSec := stats[5*time.Second]
	require.Equal(t, 1, fiveSec.Count)
	assert.InDelta(t, -10.0, fiveSec.AvgBps(), 1e-9)
	assert.Equal(t, 1, fiveSec.Adverse)
	assert.InDelta(t, 1.0, fiveSec.AdverseRate(), 1e-9)
}

func TestMarkoutSellSideSign(t *testing.T) {
	a := NewMarkoutAnalyzer(time.Second)
	t0 := time.Now()

	// 卖出 50000 后价格跌到 49950：对卖方是 +10bps
	a.OnFill(order.SideSell, 50000, t0)
	a.Observe(49950, t0.Add(2*time.Second))

	st := a.Stats()[time.Second]
	require.Equal(t, 1, st.Count)
	assert.InDelta(t, 10.0, st.AvgBps(), 1e-9)
}

// 未到期的观察点不结算，且每个观察期只结算一次。
func TestMarkoutHorizonTiming(t *testing.T) {
	a := NewMarkoutAnalyzer(5 * time.Second)
	t0 := time.Now()

	a.OnFill(order.SideBuy, 50000, t0)
	a.Observe(51000, t0.Add(time.Second)) // 太早
	assert.Zero(t, a.Stats()[5*time.Second].Count)

	a.Observe(50100, t0.Add(6*time.Second))
	a.Observe(52000, t0.Add(7*time.Second)) // 已结算，不重复
	st := a.Stats()[5*time.Second]
	assert.Equal(t, 1, st.Count)
	assert.InDelta(t, 20.0, st.AvgBps(), 1e-9)
}

func TestLogSinkDoesNotPanic(t *testing.T) {
	s := NewLogSink(nil)
	s.Emit(Event{
		Type:   EventKillSwitchTriggered,
		Symbol: "BTCUSDT",
		At:     time.Now(),
		Fields: map[string]interface{}{"reason": "DAILY_LOSS"},
	})
	MultiSink{s, NopSink{}}.Emit(Event{Type: EventFill, Symbol: "BTCUSDT", At: time.Now()})
}

func TestMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.QuotesComputed.WithLabelValues("BTCUSDT").Inc()
	m.OrdersRejected.WithLabelValues("BTCUSDT", "price_band").Inc()
	m.RiskMultiplier.WithLabelValues("BTCUSDT").Set(0.185)
	m.KillSwitchActive.WithLabelValues("BTCUSDT").Set(1)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
