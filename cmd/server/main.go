// cmd/server serves the backtest and model API, the live signal feed over
// WebSocket, /metrics and /healthz.
//
// Usage:
//
//	go run ./cmd/server --config=config.yaml
//	LIVE_ENABLED=true LIVE_SYMBOLS=BTCUSDT,ETHUSDT go run ./cmd/server
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tradelab/config"
	"tradelab/internal/api"
	"tradelab/internal/backtest"
	"tradelab/internal/classifier"
	"tradelab/internal/gateway"
	"tradelab/internal/history"
	"tradelab/internal/indicator"
	"tradelab/internal/labeler"
	"tradelab/internal/live"
	"tradelab/internal/logger"
	"tradelab/internal/marketdata/binance"
	"tradelab/internal/marketdata/bus"
	"tradelab/internal/marketdata/replay"
	"tradelab/internal/metrics"
	"tradelab/internal/model"
	"tradelab/internal/service"
	"tradelab/internal/store/memory"
	redisstore "tradelab/internal/store/redis"
	sqlitestore "tradelab/internal/store/sqlite"
)

var (
	configPath string
	addr       string
	liveFlag   bool
)

var rootCmd = &cobra.Command{
	Use:          "server",
	Short:        "Serve the backtest API and the live signal feed",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configPath, "config", "", "Path to YAML config (optional)")
	f.StringVar(&addr, "addr", "", "Listen address (default from config)")
	f.BoolVar(&liveFlag, "live", false, "Enable the live signal pipeline regardless of config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// trainingObserver forwards classifier events to metrics and health.
type trainingObserver struct {
	prom   *metrics.Metrics
	health *metrics.HealthStatus
}

func (o trainingObserver) ObservePrediction(action model.Action, source string) {
	o.prom.ObservePrediction(action, source)
}

func (o trainingObserver) ObserveTraining(outcome string, trained bool) {
	o.prom.ObserveTraining(outcome, trained)
	o.health.SetModelTrained(trained)
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if liveFlag {
		cfg.Live.Enabled = true
	}
	log := logger.Init(cfg.App.Service, cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().Str("addr", cfg.Server.Addr).Bool("live", cfg.Live.Enabled).Msg("starting")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ---- Metrics & health ----
	prom := metrics.New(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(cfg.Redis.Enabled, cfg.Live.Enabled && cfg.Live.Source == "stream")
	onBreaker := func(name, _, to string) { prom.ObserveBreaker(name, to) }

	// ---- SQLite ----
	store, err := sqlitestore.Open(cfg.SQLite.Path, log)
	if err != nil {
		return err
	}
	defer store.Close()

	// ---- Series cache: Redis when enabled, in-process otherwise ----
	var (
		cache model.SeriesCache = memory.NewCache(cfg.Redis.TTL)
		rdb   goredis.Cmdable
	)
	if cfg.Redis.Enabled {
		rcfg := redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
		}
		client, err := redisstore.NewClient(rcfg)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using in-process cache")
		} else {
			defer client.Close()
			rc := redisstore.NewSeriesCache(client, rcfg, log)
			rc.OnBreakerChange(onBreaker)
			cache, rdb = rc, client
			log.Info().Str("addr", cfg.Redis.Addr).Msg("redis series cache ready")
		}
	}
	health.StartLivenessChecker(ctx, rdb, store.DB(), cfg.Server.HealthInterval)

	// ---- Historical data ----
	client := binance.NewClient(binance.Config{
		BaseURL:       cfg.Binance.RESTURL,
		Interval:      cfg.Binance.Interval,
		RatePerSecond: cfg.Binance.RatePerSecond,
		Timeout:       cfg.Binance.Timeout,
		MaxFailures:   cfg.Binance.MaxFailures,
		ResetTimeout:  cfg.Binance.ResetTimeout,
	}, log)
	client.OnBreakerChange(onBreaker)

	var src model.BarSource = client
	if cfg.Backtest.Source == "sqlite" {
		src = store
	}
	ind := indicator.Options{TrueMACDSignal: cfg.Indicators.TrueMACDSignal}
	policy := labeler.Policy{Lookahead: cfg.Labeling.Lookahead, Threshold: cfg.Labeling.Threshold}
	hist := history.New(src, cache, history.Config{
		Interval:   cfg.Binance.Interval,
		CacheTTL:   cfg.Redis.TTL,
		Policy:     policy,
		Indicators: ind,
		SourceName: cfg.Backtest.Source,
	}, log)
	hist.SetRecorder(prom)

	// ---- Classifier & service ----
	clf := classifier.New(classifier.Config{
		LearningRate:      cfg.Classifier.LearningRate,
		PredictionHistory: cfg.Classifier.PredictionHistory,
		TrainingHistory:   cfg.Classifier.TrainingHistory,
		Seed:              cfg.Classifier.Seed,
	}, classifier.NewRandomTrainer(cfg.Classifier.Seed, cfg.Classifier.TrainingDelay), log)
	clf.SetObserver(trainingObserver{prom: prom, health: health})

	svc := service.New(hist, clf, service.Config{
		Days:           cfg.Backtest.Days,
		InitialCapital: cfg.Backtest.InitialCapital,
		Strategy:       cfg.Backtest.Strategy,
		Backtest:       backtest.Options{Indicators: ind, PositionFraction: cfg.Backtest.PositionFraction},
		TrainTimeout:   cfg.Classifier.TrainTimeout,
	}, log)
	svc.SetJournal(store)
	svc.SetStateStore(store)
	svc.SetRecorder(prom)
	if restored, err := svc.RestoreModel(ctx); err != nil {
		log.Warn().Err(err).Msg("stored model not restored")
	} else if restored {
		health.SetModelTrained(true)
		log.Info().Msg("restored stored model")
	}

	// ---- Signal hub ----
	hub := gateway.NewHub(log)
	hub.OnClientCount = func(n int) { prom.WSClientsConnected.Set(float64(n)) }

	opts := api.Options{
		Core:           svc,
		Bars:           hist,
		Replay:         hub,
		WS:             hub,
		Health:         health,
		Metrics:        promhttp.Handler(),
		RequestTimeout: cfg.Server.RequestTimeout,
		Log:            log,
	}

	// ---- Live pipeline ----
	if cfg.Live.Enabled {
		pipeline := startLive(ctx, cfg, log, clf, hist, store, hub, prom, health)
		opts.Live = pipeline
	}

	srv := api.NewServer(cfg.Server.Addr, api.NewRouter(opts), log)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received, cleaning up...")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	hub.Close()
	svc.Wait()
	log.Info().Msg("shutdown complete")
	return nil
}

// startLive seeds the live pipeline and connects it to the configured feed.
// Bars fan out to the signal pipeline and to the SQLite recorder.
func startLive(ctx context.Context, cfg *config.Config, log zerolog.Logger, clf *classifier.Classifier,
	hist *history.Service, store *sqlitestore.Store, hub *gateway.Hub, prom *metrics.Metrics, health *metrics.HealthStatus) *live.Service {

	var learner live.Learner
	if cfg.Live.UseModel || cfg.Live.Learn {
		learner = clf
	}
	pipeline := live.New(indicator.NewEngine(cfg.Indicators.LiveWindow, indicator.Options{TrueMACDSignal: cfg.Indicators.TrueMACDSignal}),
		learner, live.Config{
			Policy:   labeler.Policy{Lookahead: cfg.Labeling.Lookahead, Threshold: cfg.Labeling.Threshold},
			UseModel: cfg.Live.UseModel,
			Learn:    cfg.Live.Learn,
		}, log)
	pipeline.SetPublisher(hub)
	pipeline.SetRecorder(prom)

	if cfg.Live.SeedDays > 0 && cfg.Live.Source == "stream" {
		for _, sym := range cfg.Live.Symbols {
			bars, err := hist.Fetch(ctx, sym, cfg.Live.SeedDays)
			if err != nil {
				log.Warn().Err(err).Str("symbol", sym).Msg("seed failed, starting cold")
				continue
			}
			n := pipeline.Seed(sym, bars)
			log.Info().Str("symbol", sym).Int("bars", n).Msg("seeded")
		}
	}

	feed := make(chan model.BarEvent, 1024)
	fanout := bus.New[model.BarEvent](1024)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}
	signalCh := fanout.Subscribe()
	var recordCh <-chan model.BarEvent
	if cfg.Live.Source == "stream" {
		recordCh = fanout.Subscribe()
	}
	go fanout.Run(ctx, feed)
	go pipeline.Run(ctx, signalCh)

	if recordCh != nil {
		go recordBars(ctx, store, recordCh, health, log)
	}

	switch cfg.Live.Source {
	case "replay":
		go func() {
			n, err := replay.New(store, log).Run(ctx, cfg.Live.Symbols,
				model.RangeSpec{Days: cfg.Live.ReplayDays, Interval: cfg.Binance.Interval}, cfg.Live.ReplaySpeed, feed)
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("replay failed")
				return
			}
			log.Info().Int("bars", n).Msg("replay finished")
		}()
	default:
		stream := binance.NewStream(binance.StreamConfig{
			URL:      cfg.Binance.StreamURL,
			Symbols:  cfg.Live.Symbols,
			Interval: cfg.Binance.Interval,
		}, log)
		stream.OnReconnect = func() {
			prom.StreamReconnects.Inc()
			health.SetStreamConnected(false)
		}
		go func() {
			if err := stream.Run(ctx, feed); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("kline stream stopped")
			}
		}()
	}

	log.Info().Strs("symbols", cfg.Live.Symbols).Str("source", cfg.Live.Source).Msg("live pipeline started")
	return pipeline
}

// recordBars persists streamed bars so they can be backtested and replayed
// from SQLite later.
func recordBars(ctx context.Context, store model.BarWriter, in <-chan model.BarEvent, health *metrics.HealthStatus, log zerolog.Logger) {
	for ev := range in {
		health.SetStreamConnected(true)
		health.SetLastBarTime(ev.Bar.Timestamp)
		if _, err := store.WriteBars(ctx, ev.Symbol, []model.Bar{ev.Bar}); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("symbol", ev.Symbol).Msg("bar not recorded")
		}
	}
}
