// Package history fetches historical bars for a symbol, caches them by
// symbol and look-back window, and prepares them for backtesting (enriched)
// or training (enriched and labeled).
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tradelab/internal/indicator"
	"tradelab/internal/labeler"
	"tradelab/internal/logger"
	"tradelab/internal/model"
)

// DefaultInterval is the kline interval requested from suppliers.
const DefaultInterval = "1h"

// Recorder receives cache and fetch observations.
type Recorder interface {
	ObserveCache(result string)
	ObserveFetch(source string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCache(string)                {}
func (nopRecorder) ObserveFetch(string, time.Duration) {}

// Config tunes a Service.
type Config struct {
	Interval   string
	CacheTTL   time.Duration
	Policy     labeler.Policy
	Indicators indicator.Options
	SourceName string // label for fetch metrics, e.g. "binance"
}

// Service is the historical data entry point. The cache is optional.
type Service struct {
	source   model.BarSource
	cache    model.SeriesCache
	cfg      Config
	recorder Recorder
	log      zerolog.Logger
}

// New creates a Service. cache may be nil. A non-default MACD signal line is
// announced once here, so every binary reports it at startup.
func New(source model.BarSource, cache model.SeriesCache, cfg Config, log zerolog.Logger) *Service {
	if cfg.Interval == "" {
		cfg.Interval = DefaultInterval
	}
	if cfg.SourceName == "" {
		cfg.SourceName = "source"
	}
	s := &Service{
		source:   source,
		cache:    cache,
		cfg:      cfg,
		recorder: nopRecorder{},
		log:      log.With().Str("component", "history").Logger(),
	}
	if cfg.Indicators.TrueMACDSignal {
		s.log.Info().Bool("true_macd_signal", true).Msg("MACD signal line computed over the MACD series")
	}
	return s
}

// SetRecorder installs a metrics recorder.
func (s *Service) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	s.recorder = r
}

// CacheKey is "<symbol>_<days>".
func CacheKey(symbol string, days int) string {
	return fmt.Sprintf("%s_%d", symbol, days)
}

// Fetch returns days of bars for symbol, ascending and de-duplicated.
// An empty series is reported as model.ErrDataUnavailable. Cache failures are
// logged and bypassed.
func (s *Service) Fetch(ctx context.Context, symbol string, days int) ([]model.Bar, error) {
	log := logger.FromContext(ctx, s.log).With().Str("symbol", symbol).Int("days", days).Logger()
	key := CacheKey(symbol, days)

	if s.cache != nil {
		bars, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.recorder.ObserveCache("error")
			log.Warn().Err(err).Msg("cache read failed, falling back to source")
		case ok:
			s.recorder.ObserveCache("hit")
			log.Debug().Int("bars", len(bars)).Msg("using cached series")
			return bars, nil
		default:
			s.recorder.ObserveCache("miss")
		}
	}

	started := time.Now()
	raw, err := s.source.Fetch(ctx, symbol, model.RangeSpec{Days: days, Interval: s.cfg.Interval})
	s.recorder.ObserveFetch(s.cfg.SourceName, time.Since(started))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}

	bars := model.NormalizeBars(raw)
	if len(bars) == 0 {
		log.Warn().Msg("no historical data available")
		return nil, fmt.Errorf("fetch %s: %w", key, model.ErrDataUnavailable)
	}
	log.Info().Int("bars", len(bars)).Msg("fetched historical data")

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, bars, s.cfg.CacheTTL); err != nil {
			log.Warn().Err(err).Msg("cache write failed")
		}
	}
	return bars, nil
}

// Enriched fetches and attaches indicator snapshots.
func (s *Service) Enriched(ctx context.Context, symbol string, days int) ([]model.LabeledBar, error) {
	bars, err := s.Fetch(ctx, symbol, days)
	if err != nil {
		return nil, err
	}
	return indicator.Enrich(bars, s.cfg.Indicators), nil
}

// Labeled fetches, enriches and labels bars for training.
func (s *Service) Labeled(ctx context.Context, symbol string, days int) ([]model.LabeledBar, error) {
	enriched, err := s.Enriched(ctx, symbol, days)
	if err != nil {
		return nil, err
	}
	return labeler.Label(enriched, s.cfg.Policy), nil
}

// Policy returns the labeling policy in use.
func (s *Service) Policy() labeler.Policy { return s.cfg.Policy }
