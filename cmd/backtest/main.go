// backtest 用历史盘口 CSV 驱动决策循环做确定性回放，
// 结束后输出权益、持仓、成交与 markout 摘要。
//
// CSV 格式：ts_ms,bid,ask[,bidQty,askQty]，首行表头可选。
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

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
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	dataPath := flag.String("data", "", "盘口 CSV 文件路径")
	flag.Parse()

	if *dataPath == "" {
		fmt.Fprintln(os.Stderr, "backtest: -data is required")
		os.Exit(1)
	}

	cfg, err := config.LoadWithEnvOverrides(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: "warn", Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, *dataPath, log); err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.AppConfig, dataPath string, log *zap.Logger) error {
	symbol := cfg.Symbols[0]
	book := inventory.NewBook(cfg.EquityUSDT)

	pe, err := pricing.NewEngine(pricing.Config{
		BaseSpreadBps:   cfg.Strategy.BaseSpreadBps,
		MinSpreadBps:    cfg.Strategy.MinSpreadBps,
		MaxSpreadBps:    cfg.Strategy.MaxSpreadBps,
		VolSpreadFactor: cfg.Strategy.VolSpreadFactor,
		SkewStrength:    cfg.Strategy.SkewStrength,
	})
	if err != nil {
		return err
	}
	bands, err := inventory.NewManager(cfg.Risk.InventorySoftBandPct, cfg.Risk.InventoryHardLimitPct)
	if err != nil {
		return err
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
		return err
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
		return err
	}

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
		return err
	}

	lp, err = engine.New(engine.Config{
		Symbol:              symbol,
		BaseRefreshInterval: cfg.RefreshInterval(),
		OrderNotionalPct:    cfg.Strategy.OrderNotionalPct,
	}, engine.Components{
		Pricing: pe,
		Bands:   bands,
		Book:    book,
		Scaling: scaling,
		Guardian: guardian,
		Coordinator: order.NewCoordinator(order.CoordinatorConfig{
			PriceChangeTriggerBps: cfg.Strategy.PriceChangeTriggerBps,
			MaxQuoteAge:           cfg.MaxQuoteAge(),
		}),
		Gateway:  ex,
		Vol:      market.NewVolatilityCalculator(cfg.Strategy.VolatilityWindow),
		Markout:  monitor.NewMarkoutAnalyzer(),
		Events:   monitor.NopSink{},
		Throttle: monitor.NewThrottler(10 * time.Second),
		Log:      log,
	})
	if err != nil {
		return err
	}

	f, err := os.Open(dataPath)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx := context.Background()
	rows, skipped := 0, 0
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read csv: %w", err)
		}
		snap, ok := parseRow(record, symbol)
		if !ok {
			skipped++
			continue
		}
		// 先喂给撮合器（触发在途单成交），再驱动一个决策周期。
		ex.PushTick(snap)
		lp.Replay(ctx, snap)
		rows++
	}

	report(lp, book, scaling, ex, rows, skipped)
	return nil
}

// parseRow ts_ms,bid,ask[,bidQty,askQty]。解析失败（含表头行）返回 ok=false。
func parseRow(record []string, symbol string) (market.Snapshot, bool) {
	if len(record) < 3 {
		return market.Snapshot{}, false
	}
	tsMs, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return market.Snapshot{}, false
	}
	bid, err1 := strconv.ParseFloat(record[1], 64)
	ask, err2 := strconv.ParseFloat(record[2], 64)
	if err1 != nil || err2 != nil {
		return market.Snapshot{}, false
	}
	snap := market.Snapshot{
		Symbol:    symbol,
		BestBid:   bid,
		BestAsk:   ask,
		BidQty:    1,
		AskQty:    1,
		Timestamp: time.UnixMilli(tsMs).UTC(),
	}
	if len(record) >= 5 {
		if q, err := strconv.ParseFloat(record[3], 64); err == nil {
			snap.BidQty = q
		}
		if q, err := strconv.ParseFloat(record[4], 64); err == nil {
			snap.AskQty = q
		}
	}
	if snap.Validate() != nil {
		return market.Snapshot{}, false
	}
	return snap, true
}

func report(lp *engine.Loop, book *inventory.Book, scaling *risk.ScalingEngine, ex *sim.Exchange, rows, skipped int) {
	s := lp.Status()
	trades, _ := ex.GetTrades(context.Background(), s.Symbol, 0)

	fmt.Printf("==== backtest report: %s ====\n", s.Symbol)
	fmt.Printf("ticks processed      %d (skipped %d)\n", rows, skipped)
	fmt.Printf("final equity         %.2f\n", s.Equity)
	fmt.Printf("realized pnl total   %.4f\n", book.RealizedTotal())
	fmt.Printf("daily realized pnl   %.4f\n", s.DailyRealized)
	fmt.Printf("max drawdown         %.2f%%\n", scaling.MaxDrawdown()*100)
	fmt.Printf("final position       %.6f @ %.2f\n", s.Position.Qty, s.Position.EntryPrice)
	fmt.Printf("trades               %d\n", len(trades))
	fmt.Printf("cycles / cancels     %d / %d\n", s.Cycles, s.Cancels)
	fmt.Printf("cancel-to-trade      %.2f\n", s.CancelToTradeRatio)
	fmt.Printf("risk multiplier      %.3f (riskOff=%v)\n", s.RiskMultiplier, s.RiskOff)
	fmt.Printf("kill switch          %s", s.KillSwitch)
	if s.KillReason != "" {
		fmt.Printf(" (%s)", s.KillReason)
	}
	fmt.Println()

	stats := lp.MarkoutStats()
	horizons := make([]time.Duration, 0, len(stats))
	for h := range stats {
		horizons = append(horizons, h)
	}
	sort.Slice(horizons, func(i, j int) bool { return horizons[i] < horizons[j] })
	for _, h := range horizons {
		st := stats[h]
		fmt.Printf("markout %-6s        avg %+.2f bps, adverse %.0f%% (n=%d)\n",
			h, st.AvgBps(), st.AdverseRate()*100, st.Count)
	}
}
