// cmd/backtest runs strategy backtests over historical klines, imports
// klines into SQLite for offline runs, and lists journaled runs.
//
// Usage:
//
//	go run ./cmd/backtest --symbol=BTCUSDT --days=30 --strategy=hybrid --train
//	go run ./cmd/backtest import --symbols=BTCUSDT,ETHUSDT --days=180
//	go run ./cmd/backtest --source=sqlite --symbol=BTCUSDT --days=180
//	go run ./cmd/backtest runs --limit=10
//	go run ./cmd/backtest replay --symbols=BTCUSDT --days=7
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tradelab/config"
	"tradelab/internal/backtest"
	"tradelab/internal/classifier"
	"tradelab/internal/history"
	"tradelab/internal/indicator"
	"tradelab/internal/labeler"
	"tradelab/internal/logger"
	"tradelab/internal/marketdata/binance"
	"tradelab/internal/model"
	"tradelab/internal/service"
	"tradelab/internal/store/memory"
	sqlitestore "tradelab/internal/store/sqlite"
)

var (
	configPath string
	dbPath     string
	source     string

	symbol     string
	days       int
	strategyID string
	capital    float64
	train      bool
	showTrades bool
	asJSON     bool
)

var rootCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Backtest technical, ml and hybrid strategies on historical klines",
	Long: `Fetches historical klines (Binance or the local SQLite store), replays the
selected strategy bar by bar with a single long-or-flat position and prints the
trade statistics. Each run is journaled to SQLite.`,
	SilenceUsage: true,
	RunE:         runBacktest,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to YAML config (optional)")
	pf.StringVar(&dbPath, "db", "", "SQLite path (default from config)")
	pf.StringVar(&source, "source", "", "Kline source: binance or sqlite (default from config)")

	f := rootCmd.Flags()
	f.StringVar(&symbol, "symbol", "BTCUSDT", "Symbol to backtest")
	f.IntVar(&days, "days", 0, "Look-back window in days (default from config)")
	f.StringVar(&strategyID, "strategy", "", "Strategy: technical, ml or hybrid (default from config)")
	f.Float64Var(&capital, "capital", 0, "Initial capital (default from config)")
	f.BoolVar(&train, "train", false, "Train the classifier on the same window first")
	f.BoolVar(&showTrades, "trades", false, "Print the trade log")
	f.BoolVar(&asJSON, "json", false, "Print the full report as JSON")

	rootCmd.AddCommand(importCmd, runsCmd, replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env is the wiring shared by every subcommand.
type env struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   *sqlitestore.Store
	binance *binance.Client
	history *history.Service
	clf     *classifier.Classifier
	svc     *service.Service
}

func setup() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.SQLite.Path = dbPath
	}
	if source != "" {
		cfg.Backtest.Source = source
	}
	log := logger.Init(cfg.App.Service+"-backtest", cfg.App.LogLevel, "console")

	store, err := sqlitestore.Open(cfg.SQLite.Path, log)
	if err != nil {
		return nil, err
	}

	client := binance.NewClient(binance.Config{
		BaseURL:       cfg.Binance.RESTURL,
		Interval:      cfg.Binance.Interval,
		RatePerSecond: cfg.Binance.RatePerSecond,
		Timeout:       cfg.Binance.Timeout,
		MaxFailures:   cfg.Binance.MaxFailures,
		ResetTimeout:  cfg.Binance.ResetTimeout,
	}, log)

	var src model.BarSource = client
	switch cfg.Backtest.Source {
	case "sqlite":
		src = store
	case "binance":
	default:
		store.Close()
		return nil, fmt.Errorf("unknown source %q", cfg.Backtest.Source)
	}

	ind := indicator.Options{TrueMACDSignal: cfg.Indicators.TrueMACDSignal}
	hist := history.New(src, memory.NewCache(cfg.Redis.TTL), history.Config{
		Interval:   cfg.Binance.Interval,
		CacheTTL:   cfg.Redis.TTL,
		Policy:     labeler.Policy{Lookahead: cfg.Labeling.Lookahead, Threshold: cfg.Labeling.Threshold},
		Indicators: ind,
		SourceName: cfg.Backtest.Source,
	}, log)

	clf := classifier.New(classifier.Config{
		LearningRate:      cfg.Classifier.LearningRate,
		PredictionHistory: cfg.Classifier.PredictionHistory,
		TrainingHistory:   cfg.Classifier.TrainingHistory,
		Seed:              cfg.Classifier.Seed,
	}, classifier.NewRandomTrainer(cfg.Classifier.Seed, 0), log)

	svc := service.New(hist, clf, service.Config{
		Days:           cfg.Backtest.Days,
		InitialCapital: cfg.Backtest.InitialCapital,
		Strategy:       cfg.Backtest.Strategy,
		Backtest:       backtest.Options{Indicators: ind, PositionFraction: cfg.Backtest.PositionFraction},
		TrainTimeout:   cfg.Classifier.TrainTimeout,
	}, log)
	svc.SetJournal(store)
	svc.SetStateStore(store)

	return &env{cfg: cfg, log: log, store: store, binance: client, history: hist, clf: clf, svc: svc}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.log.Warn().Err(err).Msg("sqlite close")
	}
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if restored, err := e.svc.RestoreModel(ctx); err != nil {
		e.log.Warn().Err(err).Msg("stored model not restored")
	} else if restored {
		e.log.Info().Msg("restored stored model")
	}

	if train {
		ticket, err := e.svc.TrainModel(ctx, service.TrainRequest{Symbol: symbol, Days: days})
		if err != nil {
			return fmt.Errorf("train: %w", err)
		}
		e.svc.Wait()
		st := e.svc.ModelStatus()
		if !st.Trained {
			return fmt.Errorf("training %s did not complete", ticket.TraceID)
		}
		e.log.Info().Int("samples", ticket.Samples).Msg("model trained")
	}

	report, err := e.svc.RunBacktest(ctx, service.BacktestRequest{
		Symbol:         symbol,
		Days:           days,
		Strategy:       strategyID,
		InitialCapital: capital,
	})
	if err != nil && !errors.Is(err, model.ErrDataUnavailable) {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(report)
	if showTrades {
		printTrades(report.Result.Trades)
	}
	return nil
}

func printReport(r *service.BacktestReport) {
	res := r.Result
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║            BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Symbol:          %-22s ║\n", r.Symbol)
	fmt.Printf("║  Strategy:        %-22s ║\n", r.Strategy)
	fmt.Printf("║  Window:          %-22s ║\n", fmt.Sprintf("%dd / %d bars", r.Days, r.Bars))
	fmt.Printf("║  Initial capital: %-22.2f ║\n", res.InitialCapital)
	fmt.Printf("║  Final capital:   %-22.2f ║\n", res.FinalCapital)
	fmt.Printf("║  Total return:    %-22s ║\n", fmt.Sprintf("%.2f%%", res.TotalReturn*100))
	fmt.Printf("║  Trades:          %-22s ║\n", fmt.Sprintf("%d (%dW / %dL)", res.TotalTrades, res.WinningTrades, res.LosingTrades))
	fmt.Printf("║  Win rate:        %-22s ║\n", fmt.Sprintf("%.1f%%", res.WinRate*100))
	fmt.Printf("║  Max drawdown:    %-22s ║\n", fmt.Sprintf("%.2f%%", res.MaxDrawdown*100))
	fmt.Printf("║  Sharpe ratio:    %-22.4f ║\n", res.SharpeRatio)
	fmt.Printf("║  Profit factor:   %-22.2f ║\n", res.ProfitFactor)
	if r.RunID != "" {
		fmt.Printf("║  Run:             %-22s ║\n", shortID(r.RunID))
	}
	fmt.Println("╚══════════════════════════════════════════╝")
	if r.Warning != "" {
		fmt.Printf("  warning: %s\n", r.Warning)
	}
}

func printTrades(trades []model.Trade) {
	fmt.Println()
	for _, t := range trades {
		fmt.Printf("  %s  %-4s %6d @ %12.4f  pnl=%10.2f  %s\n",
			t.Timestamp.Format("2006-01-02 15:04"), t.Side, t.Quantity, t.Price, t.PnL, t.Reason)
	}
}
