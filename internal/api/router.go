// Package api serves the backtest, model and live-signal endpoints over
// HTTP and the signal feed over WebSocket.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"tradelab/internal/classifier"
	"tradelab/internal/live"
	"tradelab/internal/model"
	"tradelab/internal/service"
)

// Core is the application service behind the REST endpoints.
type Core interface {
	RunBacktest(ctx context.Context, req service.BacktestRequest) (*service.BacktestReport, error)
	TrainModel(ctx context.Context, req service.TrainRequest) (service.TrainTicket, error)
	Predict(features []float64) model.Prediction
	ModelStatus() classifier.Status
	TrainingHistory() []model.ClassificationMetrics
	RecentPredictions(n int) []classifier.PredictionRecord
	ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error)
	GetRun(ctx context.Context, id string) (model.RunRecord, error)
	Strategies() []string
}

// Signals is the live pipeline as seen by the API.
type Signals interface {
	Signals(symbol string) []live.Signal
	Latest(symbol string) (model.IndicatorSnapshot, bool)
	Symbols() []string
}

// Bars serves enriched historical bars.
type Bars interface {
	Enriched(ctx context.Context, symbol string, days int) ([]model.LabeledBar, error)
}

// Replay serves missed signal envelopes by sequence number.
type Replay interface {
	GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte
	GetChannelSeq(channel string) int64
}

// Options wires the router. Only Core is required; routes whose
// dependency is nil are not registered.
type Options struct {
	Core    Core
	Live    Signals
	Bars    Bars
	Replay  Replay
	WS      http.Handler // signal websocket
	Health  http.Handler
	Metrics http.Handler

	RequestTimeout time.Duration // REST requests only; 0 = 30s
	Log            zerolog.Logger
}

// NewRouter builds the route table.
func NewRouter(opts Options) *mux.Router {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	h := &handlers{
		core:   opts.Core,
		live:   opts.Live,
		bars:   opts.Bars,
		replay: opts.Replay,
		log:    opts.Log.With().Str("component", "api").Logger(),
	}

	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(h.loggingMiddleware)
	r.Use(corsMiddleware)

	if opts.Health != nil {
		r.Handle("/healthz", opts.Health).Methods(http.MethodGet)
	}
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	if opts.WS != nil {
		r.Handle("/ws/signals", opts.WS)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(timeoutMiddleware(opts.RequestTimeout))
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/strategies", h.strategies).Methods(http.MethodGet)
	api.HandleFunc("/backtest", h.runBacktest).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/backtests", h.listRuns).Methods(http.MethodGet)
	api.HandleFunc("/backtests/{id}", h.getRun).Methods(http.MethodGet)

	api.HandleFunc("/model/train", h.train).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/model/predict", h.predict).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/model/status", h.status).Methods(http.MethodGet)
	api.HandleFunc("/model/history", h.history).Methods(http.MethodGet)

	if h.bars != nil {
		api.HandleFunc("/bars/{symbol}", h.enrichedBars).Methods(http.MethodGet)
	}
	if h.live != nil {
		api.HandleFunc("/signals", h.signalSymbols).Methods(http.MethodGet)
		api.HandleFunc("/signals/{symbol}", h.signals).Methods(http.MethodGet)
	}
	if h.replay != nil {
		api.HandleFunc("/missed", h.missed).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(h.notFound)
	return r
}
