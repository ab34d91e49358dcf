// Package metrics holds the Prometheus collectors for backtests, the
// classifier, the data pipeline and the live signal feed, plus the /healthz
// handler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tradelab/internal/model"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Backtests
	BacktestsTotal   *prometheus.CounterVec // labels: strategy, outcome
	BacktestDuration prometheus.Histogram
	BacktestTrades   *prometheus.CounterVec // labels: side

	// Classifier
	PredictionsTotal  *prometheus.CounterVec // labels: action, source
	TrainingRunsTotal *prometheus.CounterVec // labels: outcome
	ModelTrained      prometheus.Gauge

	// Data pipeline
	DataUnavailable prometheus.Counter
	FetchDuration   *prometheus.HistogramVec // labels: source
	CacheRequests   *prometheus.CounterVec   // labels: result

	// Live feed
	LiveSignalsTotal   *prometheus.CounterVec // labels: action
	LiveBarsTotal      prometheus.Counter
	StreamReconnects   prometheus.Counter
	FanoutDropsTotal   *prometheus.CounterVec // labels: subscriber
	BreakerState       *prometheus.GaugeVec   // labels: name; 0=closed, 1=open, 2=half-open
	WSClientsConnected prometheus.Gauge
}

// New creates all collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BacktestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradelab_backtests_total",
			Help: "Backtest runs by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		BacktestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradelab_backtest_duration_seconds",
			Help:    "Wall time of a backtest including data fetch",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		BacktestTrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradelab_backtest_trades_total",
			Help: "Simulated trades by side",
		}, []string{"side"}),

		PredictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradelab_predictions_total",
			Help: "Classifier predictions by action and source (model or fallback)",
		}, []string{"action", "source"}),
		TrainingRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradelab_training_runs_total",
			Help: "Training runs by outcome",
		}, []string{"outcome"}),
		ModelTrained: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradelab_model_trained",
			Help: "1 once the classifier has trained weights",
		}),

		DataUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradelab_data_unavailable_total",
			Help: "Requests that found no historical data",
		}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradelab_fetch_duration_seconds",
			Help:    "Historical data fetch latency by source",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradelab_cache_requests_total",
			Help: "Series cache lookups by result (hit, miss, error)",
		}, []string{"result"}),

		LiveSignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradelab_live_signals_total",
			Help: "Blended live signals by action",
		}, []string{"action"}),
		LiveBarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradelab_live_bars_total",
			Help: "Closed bars consumed by the live signal service",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradelab_stream_reconnects_total",
			Help: "Kline stream reconnection attempts",
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradelab_fanout_drops_total",
			Help: "Bar events dropped for a slow subscriber",
		}, []string{"subscriber"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradelab_circuit_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=open, 2=half-open",
		}, []string{"name"}),
		WSClientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradelab_ws_clients_connected",
			Help: "Websocket clients subscribed to live signals",
		}),
	}

	reg.MustRegister(
		m.BacktestsTotal,
		m.BacktestDuration,
		m.BacktestTrades,
		m.PredictionsTotal,
		m.TrainingRunsTotal,
		m.ModelTrained,
		m.DataUnavailable,
		m.FetchDuration,
		m.CacheRequests,
		m.LiveSignalsTotal,
		m.LiveBarsTotal,
		m.StreamReconnects,
		m.FanoutDropsTotal,
		m.BreakerState,
		m.WSClientsConnected,
	)
	return m
}

// ── Observer hooks ──

// ObservePrediction counts one classifier prediction.
func (m *Metrics) ObservePrediction(action model.Action, source string) {
	m.PredictionsTotal.WithLabelValues(string(action), source).Inc()
}

// ObserveTraining counts one training run and tracks the trained flag.
func (m *Metrics) ObserveTraining(outcome string, trained bool) {
	m.TrainingRunsTotal.WithLabelValues(outcome).Inc()
	if trained {
		m.ModelTrained.Set(1)
	} else {
		m.ModelTrained.Set(0)
	}
}

// ObserveCache counts one series cache lookup.
func (m *Metrics) ObserveCache(result string) {
	m.CacheRequests.WithLabelValues(result).Inc()
}

// ObserveFetch records a supplier fetch latency.
func (m *Metrics) ObserveFetch(source string, elapsed time.Duration) {
	m.FetchDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// ObserveBacktest records a finished backtest. outcome is "ok",
// "no_data" or "error"; result is ignored unless outcome is "ok".
func (m *Metrics) ObserveBacktest(strategy, outcome string, elapsed time.Duration, result model.BacktestResult) {
	m.BacktestsTotal.WithLabelValues(strategy, outcome).Inc()
	m.BacktestDuration.Observe(elapsed.Seconds())
	switch outcome {
	case "ok":
		for _, t := range result.Trades {
			m.BacktestTrades.WithLabelValues(string(t.Side)).Inc()
		}
	case "no_data":
		m.DataUnavailable.Inc()
	}
}

// ObserveSignal counts one blended live signal.
func (m *Metrics) ObserveSignal(action model.Action) {
	m.LiveBarsTotal.Inc()
	m.LiveSignalsTotal.WithLabelValues(string(action)).Inc()
}

// ObserveBreaker records a breaker transition.
func (m *Metrics) ObserveBreaker(name, state string) {
	v := 0.0
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 2
	}
	m.BreakerState.WithLabelValues(name).Set(v)
}
