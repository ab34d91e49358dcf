// Package live turns a feed of closed bars into blended trading signals.
//
// For each bar: update the per-symbol indicator window, compute the live
// technical signal and a classifier prediction, blend them and publish the
// result. Once Lookahead further bars have arrived, the earlier bar is
// labeled from its realized move and fed to the classifier as an
// incremental update. Labels only ever reach the learner, never a decision.
package live

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradelab/internal/classifier"
	"tradelab/internal/indicator"
	"tradelab/internal/labeler"
	"tradelab/internal/model"
	"tradelab/internal/ringbuf"
	"tradelab/internal/strategy"
)

// DefaultSignalHistory is the number of non-HOLD signals kept per symbol.
const DefaultSignalHistory = 10

// Signal is one blended live signal.
type Signal struct {
	Symbol     string                  `json:"symbol"`
	Timestamp  time.Time               `json:"timestamp"`
	Price      float64                 `json:"price"`
	Action     model.Action            `json:"action"`
	Confidence float64                 `json:"confidence"`
	Strength   string                  `json:"strength"`
	Reason     string                  `json:"reason"`
	Technical  strategy.Decision       `json:"technical"`
	Model      *model.Prediction       `json:"model,omitempty"`
	Indicators model.IndicatorSnapshot `json:"indicators"`
}

// Learner is the part of the classifier the live path needs.
type Learner interface {
	Predict(features []float64) model.Prediction
	IncrementalUpdate(sample model.LabeledBar) bool
}

// Publisher receives every signal (optional).
type Publisher interface {
	PublishSignal(sig Signal)
}

// Recorder receives signal observations (optional).
type Recorder interface {
	ObserveSignal(action model.Action)
}

// Config tunes a Service.
type Config struct {
	Policy        labeler.Policy // lookahead and threshold for incremental labels
	SignalHistory int
	UseModel      bool // blend classifier predictions in
	Learn         bool // feed matured bars to IncrementalUpdate
}

// Service is the live signal pipeline. Safe for concurrent use; Run
// processes bars sequentially.
type Service struct {
	engine  *indicator.Engine
	learner Learner
	cfg     Config
	log     zerolog.Logger

	publisher Publisher
	recorder  Recorder

	mu      sync.Mutex
	pending map[string]*ringbuf.Ring[model.LabeledBar]
	signals map[string]*ringbuf.Ring[Signal]
	updates int
}

// New creates a Service. learner may be nil, in which case only the
// technical signal is used.
func New(engine *indicator.Engine, learner Learner, cfg Config, log zerolog.Logger) *Service {
	if cfg.SignalHistory <= 0 {
		cfg.SignalHistory = DefaultSignalHistory
	}
	if cfg.Policy.Lookahead <= 0 {
		cfg.Policy = labeler.DefaultPolicy
	}
	return &Service{
		engine:  engine,
		learner: learner,
		cfg:     cfg,
		log:     log.With().Str("component", "live").Logger(),
		pending: make(map[string]*ringbuf.Ring[model.LabeledBar]),
		signals: make(map[string]*ringbuf.Ring[Signal]),
	}
}

// SetPublisher installs a signal publisher.
func (s *Service) SetPublisher(p Publisher) { s.publisher = p }

// SetRecorder installs a metrics recorder.
func (s *Service) SetRecorder(r Recorder) { s.recorder = r }

// Seed warms the indicator window for a symbol with historical bars.
func (s *Service) Seed(symbol string, bars []model.Bar) int {
	n := s.engine.Seed(symbol, bars)
	s.log.Info().Str("symbol", symbol).Int("bars", n).Msg("seeded indicator window")
	return n
}

// Run consumes bars until ctx is cancelled or in is closed.
func (s *Service) Run(ctx context.Context, in <-chan model.BarEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			s.OnBar(ev)
		}
	}
}

// OnBar processes one closed bar. ok is false if the bar was stale or a
// duplicate and was ignored.
func (s *Service) OnBar(ev model.BarEvent) (Signal, bool) {
	snap, ok := s.engine.Process(ev.Symbol, ev.Bar)
	if !ok {
		s.log.Debug().Str("symbol", ev.Symbol).Time("ts", ev.Bar.Timestamp).Msg("stale bar ignored")
		return Signal{}, false
	}
	lb := model.LabeledBar{Bar: ev.Bar, Indicators: snap}

	tech := strategy.LiveTechnical(ev.Bar.Close, snap)
	var pred *model.Prediction
	if s.cfg.UseModel && s.learner != nil {
		p := s.learner.Predict(classifier.DecisionFeatures(lb))
		pred = &p
	}
	blended := strategy.Blend(tech, pred)

	sig := Signal{
		Symbol:     ev.Symbol,
		Timestamp:  ev.Bar.Timestamp,
		Price:      ev.Bar.Close,
		Action:     blended.Action,
		Confidence: blended.Confidence,
		Strength:   strategy.Strength(blended.Confidence),
		Reason:     blended.Reason,
		Technical:  tech,
		Model:      pred,
		Indicators: snap,
	}

	s.mu.Lock()
	if sig.Action != model.ActionHold {
		ringFor(s.signals, ev.Symbol, s.cfg.SignalHistory).Push(sig)
	}
	matured, hasMatured := s.mature(ev.Symbol, lb)
	s.mu.Unlock()

	if hasMatured {
		s.learn(matured, ev.Bar.Close)
	}
	if s.recorder != nil {
		s.recorder.ObserveSignal(sig.Action)
	}
	if s.publisher != nil {
		s.publisher.PublishSignal(sig)
	}

	if sig.Action != model.ActionHold {
		s.log.Info().
			Str("symbol", sig.Symbol).
			Str("action", string(sig.Action)).
			Float64("confidence", sig.Confidence).
			Str("strength", sig.Strength).
			Float64("price", sig.Price).
			Msg(sig.Reason)
	}
	return sig, true
}

// mature pushes lb into the symbol's pending window and returns the bar that
// is now exactly Lookahead bars old, if any. Caller holds s.mu.
func (s *Service) mature(symbol string, lb model.LabeledBar) (model.LabeledBar, bool) {
	if !s.cfg.Learn || s.learner == nil {
		return model.LabeledBar{}, false
	}
	r := ringFor(s.pending, symbol, s.cfg.Policy.Lookahead+1)
	r.Push(lb)
	if r.Len() < r.Cap() {
		return model.LabeledBar{}, false
	}
	return r.Items()[0], true
}

func (s *Service) learn(old model.LabeledBar, futureClose float64) {
	old.Labeled = true
	old.Label, old.FutureReturn, old.Profitability = s.cfg.Policy.Classify(old.Close, futureClose)
	if !s.learner.IncrementalUpdate(old) {
		return
	}
	s.mu.Lock()
	s.updates++
	s.mu.Unlock()
	s.log.Debug().
		Time("ts", old.Timestamp).
		Str("label", string(old.Label)).
		Float64("future_return", old.FutureReturn).
		Msg("incremental update")
}

func ringFor[T any](m map[string]*ringbuf.Ring[T], symbol string, capacity int) *ringbuf.Ring[T] {
	r, ok := m[symbol]
	if !ok {
		r = ringbuf.New[T](capacity)
		m[symbol] = r
	}
	return r
}

// Signals returns the recent non-HOLD signals for symbol, oldest first.
func (s *Service) Signals(symbol string) []Signal {
	s.mu.Lock()
	r, ok := s.signals[symbol]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return r.Items()
}

// Latest returns the indicator snapshot for symbol.
func (s *Service) Latest(symbol string) (model.IndicatorSnapshot, bool) {
	return s.engine.Last(symbol)
}

// Symbols lists the symbols seen so far.
func (s *Service) Symbols() []string { return s.engine.Symbols() }

// Updates returns the number of incremental updates applied.
func (s *Service) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}
