// papertrade 在模拟撮合器上运行做市决策循环：GBM 合成行情、
// 概率成交、状态落盘、Prometheus 指标与配置热更新。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"market-maker-core/config"
	"market-maker-core/engine"
	"market-maker-core/exchange"
	"market-maker-core/inventory"
	"market-maker-core/logger"
	"market-maker-core/market"
	"market-maker-core/monitor"
	"market-maker-core/order"
	"market-maker-core/pricing"
	"market-maker-core/risk"
	"market-maker-core/sim"
	"market-maker-core/store"
)

type symbolRuntime struct {
	loop     *engine.Loop
	exchange *sim.Exchange
	pricing  *pricing.Engine
	coord    *order.Coordinator
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, *configPath, log); err != nil {
		log.Fatal("papertrade exited", zap.Error(err))
	}
}

func run(cfg config.AppConfig, configPath string, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 状态恢复：账本与未复位的熔断跨重启保持
	st, err := store.NewStore(cfg.StatePath)
	if err != nil {
		return err
	}
	var book *inventory.Book
	var restoredKill store.KillSwitchState
	if snap, ok, err := st.Load(); err != nil {
		return err
	} else if ok {
		book = inventory.RestoreBook(snap.Book)
		restoredKill = snap.KillSwitch
		log.Info("state restored",
			zap.Float64("equity", book.Equity()),
			zap.Bool("killSwitch", restoredKill.Triggered))
	} else {
		book = inventory.NewBook(cfg.EquityUSDT)
	}
	book.MaybeRollover(time.Now())

	registry := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(registry)
	go func() {
		if err := monitor.ServeMetrics(cfg.MetricsAddr, registry); err != nil {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	events := monitor.NewLogSink(log)
	throttle := monitor.NewThrottler(10 * time.Second)

	runtimes := make(map[string]*symbolRuntime, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		rt, err := buildSymbol(cfg, symbol, book, metrics, events, throttle, log)
		if err != nil {
			return fmt.Errorf("build %s: %w", symbol, err)
		}
		if restoredKill.Triggered {
			rt.loop.Guardian().KillSwitch().Restore(true,
				risk.ParseReason(restoredKill.Reason), restoredKill.Detail, restoredKill.TriggeredAt)
		}
		runtimes[symbol] = rt
	}

	// 配置热更新：只允许策略参数热生效，风控参数要求重启
	err = config.Watch(ctx, configPath, log, func(next config.AppConfig) {
		for _, rt := range runtimes {
			if err := rt.pricing.UpdateConfig(pricingConfig(next)); err != nil {
				log.Warn("strategy reload rejected", zap.Error(err))
				return
			}
			rt.coord.Update(order.CoordinatorConfig{
				PriceChangeTriggerBps: next.Strategy.PriceChangeTriggerBps,
				MaxQuoteAge:           next.MaxQuoteAge(),
			})
		}
		if next.Risk != cfg.Risk || next.Scaling != cfg.Scaling {
			log.Warn("risk/scaling params changed on disk; restart required to apply")
		}
	})
	if err != nil {
		log.Warn("config watcher disabled", zap.Error(err))
	}

	for symbol, rt := range runtimes {
		if err := rt.loop.Start(ctx); err != nil {
			return err
		}
		go driveMarket(ctx, rt, cfg.Sim.TickIntervalMs, log.With(zap.String("symbol", symbol)))
	}

	// 周期落盘 + 优雅退出
	saveState := func() {
		if err := st.Save(capture(book, runtimes)); err != nil {
			log.Warn("state save failed", zap.Error(err))
		}
	}
	saveTicker := time.NewTicker(30 * time.Second)
	defer saveTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("papertrade started",
		zap.Strings("symbols", cfg.Symbols),
		zap.Float64("equity", book.Equity()),
		zap.String("metrics", cfg.MetricsAddr))

	for {
		select {
		case <-saveTicker.C:
			saveState()
			for symbol, rt := range runtimes {
				s := rt.loop.Status()
				log.Info("status",
					zap.String("symbol", symbol),
					zap.Float64("equity", s.Equity),
					zap.Float64("position", s.Position.Qty),
					zap.Float64("riskMultiplier", s.RiskMultiplier),
					zap.Int("openOrders", s.OpenOrders),
					zap.String("killSwitch", s.KillSwitch))
			}
		case sig := <-sigCh:
			log.Info("shutting down", zap.String("signal", sig.String()))
			cancel()
			for _, rt := range runtimes {
				rt.loop.Stop()
			}
			saveState()
			return nil
		}
	}
}

func buildSymbol(cfg config.AppConfig, symbol string, book *inventory.Book,
	metrics *monitor.Metrics, events monitor.Sink, throttle *monitor.Throttler, log *zap.Logger) (*symbolRuntime, error) {

	pe, err := pricing.NewEngine(pricingConfig(cfg))
	if err != nil {
		return nil, err
	}
	bands, err := inventory.NewManager(cfg.Risk.InventorySoftBandPct, cfg.Risk.InventoryHardLimitPct)
	if err != nil {
		return nil, err
	}
	scaling, err := risk.NewScalingEngine(risk.ScalingConfig{
		ATRLength:        cfg.Scaling.ATRLength,
		DDLookback:       time.Duration(cfg.Scaling.DDLookbackHours) * time.Hour,
		VolLow:           cfg.Scaling.VolLow,
		VolHigh:          cfg.Scaling.VolHigh,
		DDSoft:           cfg.Scaling.DDSoft,
		DDHard:           cfg.Scaling.DDHard,
		RiskMin:          cfg.Scaling.RiskMin,
		RiskMax:          cfg.Scaling.RiskMax,
		RiskOffThreshold: cfg.Scaling.RiskOffThreshold,
	})
	if err != nil {
		return nil, err
	}
	guardian, err := risk.NewGuardian(risk.GuardianConfig{
		MinOrderNotional:      cfg.Risk.MinOrderNotional,
		MaxOrderNotionalPct:   cfg.Risk.MaxOrderNotionalPct,
		PriceBandPct:          cfg.Risk.PriceBandPct,
		InventoryHardLimitPct: cfg.Risk.InventoryHardLimitPct,
		DailyLossLimitPct:     cfg.Risk.DailyLossLimitPct,
		MaxDrawdownHardPct:    cfg.Risk.MaxDrawdownHardPct,
		MaxOrdersPerSecond:    cfg.Risk.MaxOrdersPerSecond,
		MaxOrdersPerMinute:    cfg.Risk.MaxOrdersPerMinute,
		GatewayErrorWindow:    time.Duration(cfg.Risk.GatewayErrorWindowSec) * time.Second,
		GatewayErrorThreshold: cfg.Risk.GatewayErrorThreshold,
		InventoryBreachCycles: cfg.Risk.InventoryBreachCycles,
		FlattenOnTrigger:      cfg.Risk.FlattenOnTrigger,
	}, nil, log)
	if err != nil {
		return nil, err
	}
	coord := order.NewCoordinator(order.CoordinatorConfig{
		PriceChangeTriggerBps: cfg.Strategy.PriceChangeTriggerBps,
		MaxQuoteAge:           cfg.MaxQuoteAge(),
	})

	var lp *engine.Loop
	ex, err := sim.New(sim.Config{
		Symbol:           symbol,
		StartPrice:       cfg.Sim.StartPrice,
		Drift:            cfg.Sim.Drift,
		Volatility:       cfg.Sim.Volatility,
		TickInterval:     time.Duration(cfg.Sim.TickIntervalMs) * time.Millisecond,
		SpreadBps:        cfg.Sim.SpreadBps,
		BaseFillRate:     cfg.Sim.BaseFillRate,
		MakerFeeBps:      cfg.Sim.MakerFeeBps,
		Seed:             cfg.Sim.Seed,
		SubmitRatePerSec: cfg.Sim.SubmitRatePerSec,
		SubmitBurst:      cfg.Sim.SubmitBurst,
	}, book, func(f exchange.Fill) { lp.OnFill(f) }, log)
	if err != nil {
		return nil, err
	}

	lp, err = engine.New(engine.Config{
		Symbol:              symbol,
		BaseRefreshInterval: cfg.RefreshInterval(),
		OrderNotionalPct:    cfg.Strategy.OrderNotionalPct,
	}, engine.Components{
		Pricing:     pe,
		Bands:       bands,
		Book:        book,
		Scaling:     scaling,
		Guardian:    guardian,
		Coordinator: coord,
		Gateway:     ex,
		Vol:         market.NewVolatilityCalculator(cfg.Strategy.VolatilityWindow),
		Markout:     monitor.NewMarkoutAnalyzer(),
		Events:      events,
		Metrics:     metrics,
		Throttle:    throttle,
		Log:         log,
	})
	if err != nil {
		return nil, err
	}
	return &symbolRuntime{loop: lp, exchange: ex, pricing: pe, coord: coord}, nil
}

func pricingConfig(cfg config.AppConfig) pricing.Config {
	return pricing.Config{
		BaseSpreadBps:   cfg.Strategy.BaseSpreadBps,
		MinSpreadBps:    cfg.Strategy.MinSpreadBps,
		MaxSpreadBps:    cfg.Strategy.MaxSpreadBps,
		VolSpreadFactor: cfg.Strategy.VolSpreadFactor,
		SkewStrength:    cfg.Strategy.SkewStrength,
	}
}

// driveMarket 按 tick 周期推进模拟撮合器并把盘口喂给循环。
func driveMarket(ctx context.Context, rt *symbolRuntime, tickMs int, log *zap.Logger) {
	ticker := time.NewTicker(time.Duration(tickMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rt.loop.OnMarketUpdate(rt.exchange.Step(now))
		}
	}
}

// capture 采集账本与（任一已触发的）熔断状态。
func capture(book *inventory.Book, runtimes map[string]*symbolRuntime) store.Snapshot {
	for _, rt := range runtimes {
		ks := rt.loop.Guardian().KillSwitch()
		if ks.IsTriggered() {
			return store.Capture(book, ks)
		}
	}
	return store.Capture(book, nil)
}
