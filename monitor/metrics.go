package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics Prometheus 指标集。按 symbol 打标签，一个进程可跑多个循环。
type Metrics struct {
	QuotesComputed  *prometheus.CounterVec
	OrdersSubmitted *prometheus.CounterVec
	OrdersCanceled  *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	OrdersDeferred  *prometheus.CounterVec
	Fills           *prometheus.CounterVec
	GatewayErrors   *prometheus.CounterVec

	Equity            *prometheus.GaugeVec
	InventoryNotional *prometheus.GaugeVec
	RiskMultiplier    *prometheus.GaugeVec
	SpreadBps         *prometheus.GaugeVec
	OpenOrders        *prometheus.GaugeVec
	KillSwitchActive  *prometheus.GaugeVec
	DailyRealizedPnL  *prometheus.GaugeVec
	CycleDuration     *prometheus.HistogramVec
}

// NewMetrics 在给定 registry 上注册全套指标。reg 为 nil 时用默认 registry。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		QuotesComputed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_quotes_computed_total", Help: "Quotes computed per symbol.",
		}, []string{"symbol"}),
		OrdersSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_orders_submitted_total", Help: "Orders acknowledged by the venue.",
		}, []string{"symbol", "side"}),
		OrdersCanceled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_orders_canceled_total", Help: "Orders canceled.",
		}, []string{"symbol"}),
		OrdersRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_orders_rejected_total", Help: "Intents rejected by admission control.",
		}, []string{"symbol", "reason"}),
		OrdersDeferred: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_orders_deferred_total", Help: "Intents deferred by rate limiting.",
		}, []string{"symbol"}),
		Fills: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_fills_total", Help: "Fills received.",
		}, []string{"symbol", "side"}),
		GatewayErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_gateway_errors_total", Help: "Gateway request failures.",
		}, []string{"symbol"}),
		Equity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mm_equity", Help: "Current account equity.",
		}, []string{"symbol"}),
		InventoryNotional: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mm_inventory_notional", Help: "Signed inventory notional.",
		}, []string{"symbol"}),
		RiskMultiplier: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mm_risk_multiplier", Help: "Current risk scaling multiplier.",
		}, []string{"symbol"}),
		SpreadBps: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mm_quote_spread_bps", Help: "Quoted spread in basis points.",
		}, []string{"symbol"}),
		OpenOrders: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mm_open_orders", Help: "Open orders tracked locally.",
		}, []string{"symbol"}),
		KillSwitchActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mm_kill_switch_active", Help: "1 when the kill switch is triggered.",
		}, []string{"symbol"}),
		DailyRealizedPnL: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mm_daily_realized_pnl", Help: "Realized PnL since day open.",
		}, []string{"symbol"}),
		CycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mm_cycle_duration_seconds",
			Help:    "Decision cycle wall time.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}, []string{"symbol"}),
	}
}

// ServeMetrics 在 addr 上暴露 /metrics。阻塞运行，通常放在独立 goroutine。
func ServeMetrics(addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	handler := promhttp.Handler()
	if reg != nil {
		handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
