// Package service is the application layer: it combines the historical data
// service, the strategies, the backtest simulator, the shared classifier and
// the run journal into the operations exposed by the API and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradelab/internal/backtest"
	"tradelab/internal/classifier"
	"tradelab/internal/logger"
	"tradelab/internal/model"
	"tradelab/internal/performance"
	"tradelab/internal/strategy"
)

// Defaults applied to zero request fields.
const (
	DefaultDays           = 30
	DefaultInitialCapital = 10000.0
	DefaultStrategy       = strategy.NameTechnical
)

// ── Collaborators ──

// Series supplies historical bars. history.Service implements it.
type Series interface {
	Fetch(ctx context.Context, symbol string, days int) ([]model.Bar, error)
	Labeled(ctx context.Context, symbol string, days int) ([]model.LabeledBar, error)
}

// Journal stores backtest runs. sqlite.Store implements it.
type Journal interface {
	model.RunJournal
	Run(ctx context.Context, id string) (model.RunRecord, error)
}

// StateStore persists classifier snapshots. sqlite.Store implements it.
type StateStore interface {
	SaveModelState(ctx context.Context, st model.ModelState) error
	LoadModelState(ctx context.Context) (model.ModelState, bool, error)
}

// Recorder receives backtest observations. metrics.Metrics implements it.
type Recorder interface {
	ObserveBacktest(strategy, outcome string, elapsed time.Duration, result model.BacktestResult)
}

// ── Requests ──

// BacktestRequest asks for a backtest over the last Days of Symbol.
type BacktestRequest struct {
	Symbol         string  `json:"symbol" validate:"required,alphanum,max=20"`
	Days           int     `json:"days" validate:"gte=0,lte=1000"`
	Strategy       string  `json:"strategy" validate:"omitempty,oneof=technical ml hybrid"`
	InitialCapital float64 `json:"initial_capital" validate:"gte=0"`
}

// BacktestReport is the answer to a BacktestRequest. Warning is set when the
// series was unavailable and Result holds the default empty result.
type BacktestReport struct {
	RunID    string               `json:"run_id,omitempty"`
	TraceID  string               `json:"trace_id"`
	Symbol   string               `json:"symbol"`
	Strategy string               `json:"strategy"`
	Days     int                  `json:"days"`
	Bars     int                  `json:"bars"`
	Result   model.BacktestResult `json:"result"`
	Warning  string               `json:"warning,omitempty"`
}

// TrainRequest asks for a training run over the last Days of Symbol.
type TrainRequest struct {
	Symbol string `json:"symbol" validate:"required,alphanum,max=20"`
	Days   int    `json:"days" validate:"gte=0,lte=1000"`
}

// TrainTicket acknowledges an accepted training run.
type TrainTicket struct {
	TraceID string `json:"trace_id"`
	Samples int    `json:"samples"`
}

// Config tunes a Service.
type Config struct {
	Days           int
	InitialCapital float64
	Strategy       string
	Backtest       backtest.Options
	TrainTimeout   time.Duration // 0 = no limit
}

// Service runs backtests and owns the shared classifier. Safe for concurrent
// use.
type Service struct {
	series     Series
	classifier *classifier.Classifier
	registry   *strategy.Registry
	cfg        Config
	validate   *validator.Validate
	log        zerolog.Logger

	journal  Journal
	states   StateStore
	recorder Recorder

	wg sync.WaitGroup
}

// New creates a Service around the shared classifier. The default strategy
// registry is built on top of it.
func New(series Series, clf *classifier.Classifier, cfg Config, log zerolog.Logger) *Service {
	if cfg.Days <= 0 {
		cfg.Days = DefaultDays
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = DefaultInitialCapital
	}
	if cfg.Strategy == "" {
		cfg.Strategy = DefaultStrategy
	}
	return &Service{
		series:     series,
		classifier: clf,
		registry:   strategy.DefaultRegistry(clf),
		cfg:        cfg,
		validate:   validator.New(),
		log:        log.With().Str("component", "service").Logger(),
	}
}

// SetJournal enables run journaling.
func (s *Service) SetJournal(j Journal) { s.journal = j }

// SetStateStore enables model persistence after each successful training run.
func (s *Service) SetStateStore(st StateStore) { s.states = st }

// SetRecorder installs a metrics recorder.
func (s *Service) SetRecorder(r Recorder) { s.recorder = r }

// Strategies lists the registered strategy names.
func (s *Service) Strategies() []string { return s.registry.Names() }

// ────────────────────────────────────────────────────────────
// Backtesting
// ────────────────────────────────────────────────────────────

// RunBacktest fetches the series, replays the strategy over it and journals
// the run. An unavailable series is not fatal: the report carries the default
// result and a warning, and the returned error wraps model.ErrDataUnavailable.
func (s *Service) RunBacktest(ctx context.Context, req BacktestRequest) (*BacktestReport, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid backtest request: %w", err)
	}
	if req.Days == 0 {
		req.Days = s.cfg.Days
	}
	if req.Strategy == "" {
		req.Strategy = s.cfg.Strategy
	}
	if req.InitialCapital == 0 {
		req.InitialCapital = s.cfg.InitialCapital
	}

	traceID := logger.TraceID(ctx)
	if traceID == "" {
		traceID = logger.GenerateTraceID(req.Symbol, time.Now())
		ctx = logger.WithTraceID(ctx, traceID)
	}
	log := logger.FromContext(ctx, s.log)

	report := &BacktestReport{
		TraceID:  traceID,
		Symbol:   req.Symbol,
		Strategy: req.Strategy,
		Days:     req.Days,
	}

	bars, err := s.series.Fetch(ctx, req.Symbol, req.Days)
	if err == nil {
		report.Bars = len(bars)
		report.Result, err = s.Backtest(ctx, bars, req.InitialCapital, req.Strategy)
	} else if errors.Is(err, model.ErrDataUnavailable) && s.recorder != nil {
		s.recorder.ObserveBacktest(req.Strategy, "no_data", 0, model.BacktestResult{})
	}
	if errors.Is(err, model.ErrDataUnavailable) {
		log.Warn().Err(err).Msg("backtest skipped")
		report.Result = performance.Summarize(nil, req.InitialCapital, req.InitialCapital, 0)
		report.Warning = fmt.Sprintf("no historical data available for %s over %d days", req.Symbol, req.Days)
		return report, err
	}
	if err != nil {
		return nil, err
	}

	if s.journal != nil {
		rec := model.RunRecord{
			ID:       uuid.NewString(),
			Symbol:   req.Symbol,
			Strategy: req.Strategy,
			Bars:     report.Bars,
			Result:   report.Result,
		}
		if err := s.journal.SaveRun(ctx, rec); err != nil {
			log.Warn().Err(err).Msg("journal write failed")
		} else {
			report.RunID = rec.ID
		}
	}
	return report, nil
}

// Backtest replays the named strategy over bars. It does not fetch or
// journal anything.
func (s *Service) Backtest(ctx context.Context, bars []model.Bar, initialCapital float64, name string) (model.BacktestResult, error) {
	st, err := s.registry.Get(name)
	if err != nil {
		return model.BacktestResult{}, err
	}

	started := time.Now()
	res, err := backtest.New(st, s.cfg.Backtest, s.log).Run(ctx, bars, initialCapital)
	if s.recorder != nil {
		outcome := "ok"
		switch {
		case errors.Is(err, model.ErrDataUnavailable):
			outcome = "no_data"
		case err != nil:
			outcome = "error"
		}
		s.recorder.ObserveBacktest(name, outcome, time.Since(started), res)
	}
	return res, err
}

// ListRuns returns the newest journaled runs. Without a journal it returns
// an empty list.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if s.journal == nil {
		return []model.RunRecord{}, nil
	}
	return s.journal.ListRuns(ctx, limit)
}

// GetRun returns one journaled run with its trades.
func (s *Service) GetRun(ctx context.Context, id string) (model.RunRecord, error) {
	if s.journal == nil {
		return model.RunRecord{}, fmt.Errorf("%s: %w", id, model.ErrRunNotFound)
	}
	return s.journal.Run(ctx, id)
}

// ────────────────────────────────────────────────────────────
// Model
// ────────────────────────────────────────────────────────────

// TrainModel fetches and labels the series synchronously, then trains in
// the background. It fails fast with model.ErrTrainingInProgress while a run
// is in flight and with model.ErrDataUnavailable when there is nothing to
// learn from. Progress is observable through ModelStatus.
func (s *Service) TrainModel(ctx context.Context, req TrainRequest) (TrainTicket, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if err := s.validate.Struct(req); err != nil {
		return TrainTicket{}, fmt.Errorf("invalid train request: %w", err)
	}
	if req.Days == 0 {
		req.Days = s.cfg.Days
	}
	if s.classifier.IsTraining() {
		return TrainTicket{}, model.ErrTrainingInProgress
	}

	traceID := logger.GenerateTraceID("train-"+req.Symbol, time.Now())
	ctx = logger.WithTraceID(ctx, traceID)
	log := logger.FromContext(ctx, s.log)

	samples, err := s.series.Labeled(ctx, req.Symbol, req.Days)
	if err != nil {
		return TrainTicket{}, err
	}
	labeled := 0
	for _, lb := range samples {
		if lb.Labeled {
			labeled++
		}
	}
	if labeled == 0 {
		return TrainTicket{}, fmt.Errorf("train %s: no labeled samples: %w", req.Symbol, model.ErrDataUnavailable)
	}

	// The run outlives the request that started it.
	runCtx := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if s.cfg.TrainTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, s.cfg.TrainTimeout)
	}

	done, err := s.classifier.TrainAsync(runCtx, samples)
	if err != nil {
		cancel()
		return TrainTicket{}, err
	}
	log.Info().Str("symbol", req.Symbol).Int("samples", labeled).Msg("training accepted")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := <-done; err != nil {
			log.Warn().Err(err).Msg("training failed")
			return
		}
		s.persistState(runCtx, log)
	}()
	return TrainTicket{TraceID: traceID, Samples: labeled}, nil
}

func (s *Service) persistState(ctx context.Context, log zerolog.Logger) {
	if s.states == nil {
		return
	}
	if err := s.states.SaveModelState(ctx, s.classifier.State()); err != nil {
		log.Warn().Err(err).Msg("model state not saved")
	}
}

// RestoreModel loads the newest persisted model state, if any. It reports
// whether a state was applied.
func (s *Service) RestoreModel(ctx context.Context) (bool, error) {
	if s.states == nil {
		return false, nil
	}
	st, ok, err := s.states.LoadModelState(ctx)
	if err != nil || !ok {
		return false, err
	}
	if err := s.classifier.Restore(st); err != nil {
		return false, err
	}
	return st.Trained, nil
}

// Predict classifies a feature vector with the shared model, falling back to
// the heuristic while it is untrained.
func (s *Service) Predict(features []float64) model.Prediction {
	return s.classifier.Predict(features)
}

// ModelStatus reports whether the shared model is trained or training.
func (s *Service) ModelStatus() classifier.Status { return s.classifier.Status() }

// TrainingHistory returns the retained per-run training metrics.
func (s *Service) TrainingHistory() []model.ClassificationMetrics {
	return s.classifier.History()
}

// RecentPredictions returns up to n of the newest predictions.
func (s *Service) RecentPredictions(n int) []classifier.PredictionRecord {
	return s.classifier.RecentPredictions(n)
}

// Wait blocks until background training runs have finished.
func (s *Service) Wait() { s.wg.Wait() }
