// Package classifier implements the trainable scoring model behind the ml and
// hybrid strategies: a linear score squashed with tanh and mapped onto
// BUY/SELL/HOLD probabilities, plus a rule-based fallback used until the
// model has been trained.
//
// A Classifier is safe for concurrent use. Predictions read a consistent
// weight snapshot under a read lock; Train and IncrementalUpdate commit under
// the write lock. At most one training run is in flight at any time.
package classifier

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tradelab/internal/model"
	"tradelab/internal/performance"
	"tradelab/internal/ringbuf"
)

// Prediction sources.
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
)

// Defaults.
const (
	DefaultLearningRate      = 0.01
	DefaultPredictionHistory = 100
	DefaultTrainingHistory   = 50
)

// Observer receives classifier events. The metrics package implements it.
type Observer interface {
	ObservePrediction(action model.Action, source string)
	ObserveTraining(outcome string, trained bool)
}

type nopObserver struct{}

func (nopObserver) ObservePrediction(model.Action, string) {}
func (nopObserver) ObserveTraining(string, bool)           {}

// Config tunes a Classifier. Zero values take the defaults above.
type Config struct {
	LearningRate      float64
	PredictionHistory int
	TrainingHistory   int
	Seed              int64 // seeds the simulated evaluation returns
}

// PredictionRecord is one entry in the recent-predictions history.
type PredictionRecord struct {
	model.Prediction
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is a point-in-time view of the classifier.
type Status struct {
	Trained                bool                         `json:"trained"`
	Training               bool                         `json:"training"`
	TrainingHistorySize    int                          `json:"training_history_size"`
	RecentPredictionsCount int                          `json:"recent_predictions_count"`
	TrainingSampleCount    int                          `json:"training_sample_count"`
	TrainedAt              time.Time                    `json:"trained_at,omitempty"`
	LastMetrics            *model.ClassificationMetrics `json:"last_metrics,omitempty"`
}

// Classifier owns one ModelState.
type Classifier struct {
	mu       sync.RWMutex
	state    model.ModelState
	training atomic.Bool

	trainer Trainer
	lr      float64

	predictions *ringbuf.Ring[PredictionRecord]
	history     *ringbuf.Ring[model.ClassificationMetrics]

	rngMu sync.Mutex
	rng   *rand.Rand

	observer Observer
	now      func() time.Time
	log      zerolog.Logger
}

// New creates an untrained classifier. A nil trainer uses a RandomTrainer
// seeded from cfg.Seed.
func New(cfg Config, trainer Trainer, log zerolog.Logger) *Classifier {
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = DefaultLearningRate
	}
	if cfg.PredictionHistory <= 0 {
		cfg.PredictionHistory = DefaultPredictionHistory
	}
	if cfg.TrainingHistory <= 0 {
		cfg.TrainingHistory = DefaultTrainingHistory
	}
	if trainer == nil {
		trainer = NewRandomTrainer(cfg.Seed, 0)
	}
	return &Classifier{
		trainer:     trainer,
		lr:          cfg.LearningRate,
		predictions: ringbuf.New[PredictionRecord](cfg.PredictionHistory),
		history:     ringbuf.New[model.ClassificationMetrics](cfg.TrainingHistory),
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		observer:    nopObserver{},
		now:         time.Now,
		log:         log.With().Str("component", "classifier").Logger(),
	}
}

// SetObserver installs an event observer. Call before concurrent use.
func (c *Classifier) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	c.observer = o
}

// ────────────────────────────────────────────────────────────
// Training
// ────────────────────────────────────────────────────────────

// Train fits the model to the labeled samples and returns the evaluation on
// the training set. Only one training run may be in flight; a concurrent call
// fails with model.ErrTrainingInProgress. On error or cancellation the
// previous state is left untouched.
func (c *Classifier) Train(ctx context.Context, samples []model.LabeledBar) (model.ClassificationMetrics, error) {
	if !c.training.CompareAndSwap(false, true) {
		return model.ClassificationMetrics{}, model.ErrTrainingInProgress
	}
	defer c.training.Store(false)
	return c.train(ctx, samples)
}

// TrainAsync reserves the training slot synchronously and trains in the
// background. The returned channel yields the outcome once and is closed.
func (c *Classifier) TrainAsync(ctx context.Context, samples []model.LabeledBar) (<-chan error, error) {
	if !c.training.CompareAndSwap(false, true) {
		return nil, model.ErrTrainingInProgress
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)
		defer c.training.Store(false)
		_, err := c.train(ctx, samples)
		done <- err
	}()
	return done, nil
}

// train runs with the training flag held.
func (c *Classifier) train(ctx context.Context, samples []model.LabeledBar) (model.ClassificationMetrics, error) {
	start := c.now()
	X, y := dataset(samples)
	if len(X) == 0 {
		c.observer.ObserveTraining("no_data", c.isTrained())
		return model.ClassificationMetrics{}, fmt.Errorf("train: no labeled samples: %w", model.ErrDataUnavailable)
	}

	c.log.Info().Int("samples", len(X)).Msg("training started")

	weights, bias, err := c.trainer.Fit(ctx, X, y)
	if err == nil {
		err = ctx.Err()
	}
	if err == nil && len(weights) != FeatureCount {
		err = fmt.Errorf("trainer returned %d weights, want %d", len(weights), FeatureCount)
	}
	if err == nil && (!finite(weights...) || !finite(bias)) {
		err = fmt.Errorf("trainer returned non-finite weights")
	}
	if err != nil {
		outcome := "error"
		if ctx.Err() != nil {
			outcome = "cancelled"
		}
		c.observer.ObserveTraining(outcome, c.isTrained())
		c.log.Warn().Err(err).Str("outcome", outcome).Msg("training aborted")
		return model.ClassificationMetrics{}, fmt.Errorf("train: %w", err)
	}

	c.mu.Lock()
	c.state = model.ModelState{
		Weights:             weights,
		Bias:                bias,
		Trained:             true,
		TrainingSampleCount: len(X),
		TrainedAt:           c.now(),
	}
	c.mu.Unlock()

	metrics := c.evaluate(X, y)
	c.history.Push(metrics)
	c.observer.ObserveTraining("success", true)

	c.log.Info().
		Int("samples", len(X)).
		Float64("accuracy", metrics.Accuracy).
		Float64("f1", metrics.F1Score).
		Dur("elapsed", c.now().Sub(start)).
		Msg("training completed")
	return metrics, nil
}

// ────────────────────────────────────────────────────────────
// Prediction
// ────────────────────────────────────────────────────────────

// Predict classifies a feature vector. An untrained model answers with the
// fallback heuristic. Every prediction is appended to the recent history.
func (c *Classifier) Predict(features []float64) model.Prediction {
	p, source := c.predict(features)
	c.predictions.Push(PredictionRecord{Prediction: p, Source: source, Timestamp: c.now()})
	c.observer.ObservePrediction(p.Action, source)
	return p
}

func (c *Classifier) predict(features []float64) (model.Prediction, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.state.Trained {
		return Fallback(features), SourceFallback
	}
	return fromScore(score(c.state.Weights, c.state.Bias, features)), SourceModel
}

// score is tanh(bias + Σ wᵢfᵢ) over the common prefix of weights and features.
// A NaN sum (opposite infinities, NaN inputs) scores 0.
func score(weights []float64, bias float64, features []float64) float64 {
	s := bias
	n := len(weights)
	if len(features) < n {
		n = len(features)
	}
	for i := 0; i < n; i++ {
		s += weights[i] * features[i]
	}
	if math.IsNaN(s) {
		return 0
	}
	return math.Tanh(s)
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// fromScore maps a score onto softmax([s+0.1, s-0.1, s]) over BUY, SELL, HOLD.
// The first class wins ties.
func fromScore(s float64) model.Prediction {
	probs := softmax([]float64{s + 0.1, s - 0.1, s})
	actions := [...]model.Action{model.ActionBuy, model.ActionSell, model.ActionHold}

	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return model.Prediction{
		Action:     actions[best],
		Confidence: probs[best] * 100,
		Probabilities: model.Probabilities{
			Buy:  probs[0] * 100,
			Sell: probs[1] * 100,
			Hold: probs[2] * 100,
		},
	}
}

func softmax(xs []float64) []float64 {
	maxV := xs[0]
	for _, x := range xs[1:] {
		if x > maxV {
			maxV = x
		}
	}
	out := make([]float64, len(xs))
	var sum float64
	for i, x := range xs {
		out[i] = math.Exp(x - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Fallback is the heuristic used before training: oversold RSI with price
// above SMA20 → BUY@70, overbought RSI with price below SMA20 → SELL@70,
// otherwise HOLD@60. The other two classes share the remainder equally.
func Fallback(features []float64) model.Prediction {
	rsi, trend := 50.0, 0.0
	if len(features) > FeatRSI && features[FeatRSI] != 0 {
		rsi = features[FeatRSI]
	}
	if len(features) > FeatPriceVsSMA20 {
		trend = features[FeatPriceVsSMA20]
	}

	action, conf := model.ActionHold, 60.0
	switch {
	case rsi < 30 && trend > 0:
		action, conf = model.ActionBuy, 70
	case rsi > 70 && trend < 0:
		action, conf = model.ActionSell, 70
	}

	rest := (100 - conf) / 2
	p := model.Probabilities{Buy: rest, Sell: rest, Hold: rest}
	switch action {
	case model.ActionBuy:
		p.Buy = conf
	case model.ActionSell:
		p.Sell = conf
	default:
		p.Hold = conf
	}
	return model.Prediction{Action: action, Confidence: conf, Probabilities: p}
}

// ────────────────────────────────────────────────────────────
// Online learning & evaluation
// ────────────────────────────────────────────────────────────

// IncrementalUpdate nudges the weights toward a labeled sample with one
// gradient-like step. It is a no-op returning false when the sample is
// unlabeled, the model is untrained or a training run is in progress. A step
// that would leave a non-finite weight is discarded.
func (c *Classifier) IncrementalUpdate(sample model.LabeledBar) bool {
	if !sample.Labeled || c.training.Load() {
		return false
	}
	features := TrainingFeatures(sample)
	target := sample.Label.Target()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Trained || c.training.Load() {
		return false
	}

	errTerm := target - score(c.state.Weights, c.state.Bias, features)
	next := make([]float64, len(c.state.Weights))
	copy(next, c.state.Weights)
	for i := range next {
		if i < len(features) {
			next[i] += c.lr * errTerm * features[i]
		}
	}
	bias := c.state.Bias + c.lr*errTerm
	if !finite(next...) || !finite(bias) {
		c.log.Warn().Msg("incremental update skipped: non-finite weights")
		return false
	}
	c.state.Weights, c.state.Bias = next, bias
	return true
}

// Evaluate scores the classifier against labeled samples. An untrained
// classifier has nothing to evaluate and returns zero metrics. Evaluation
// predictions are not recorded in the recent-predictions history.
func (c *Classifier) Evaluate(samples []model.LabeledBar) model.ClassificationMetrics {
	if !c.isTrained() {
		return model.ClassificationMetrics{EvaluatedAt: c.now()}
	}
	X, y := dataset(samples)
	return c.evaluate(X, y)
}

// evaluate computes the confusion matrix over (X, y). ROI and WinRate are
// simulated: every non-HOLD prediction draws a return uniformly from
// [-5%, +5%) off the classifier's seeded source.
func (c *Classifier) evaluate(X [][]float64, y []float64) model.ClassificationMetrics {
	m := model.ClassificationMetrics{Samples: len(X), EvaluatedAt: c.now(), Simulated: true}
	if len(X) == 0 {
		return m
	}

	var conf performance.Confusion
	c.rngMu.Lock()
	for i, f := range X {
		p, _ := c.predict(f)
		conf.Add(model.ActionFromTarget(y[i]), p.Action)

		if p.Action != model.ActionHold {
			m.TotalTrades++
			r := c.rng.Float64()*0.1 - 0.05
			m.ROI += r
			if r > 0 {
				m.ProfitableTrades++
			}
		}
	}
	c.rngMu.Unlock()

	m.Accuracy = conf.Accuracy()
	m.Precision = conf.PrecisionByClass()
	m.Recall = conf.RecallByClass()
	m.F1Score = conf.F1()
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.ProfitableTrades) / float64(m.TotalTrades)
	}
	return m
}

// ────────────────────────────────────────────────────────────
// Introspection
// ────────────────────────────────────────────────────────────

// Status returns a point-in-time view.
func (c *Classifier) Status() Status {
	c.mu.RLock()
	st := Status{
		Trained:             c.state.Trained,
		TrainingSampleCount: c.state.TrainingSampleCount,
		TrainedAt:           c.state.TrainedAt,
	}
	c.mu.RUnlock()

	st.Training = c.training.Load()
	st.TrainingHistorySize = c.history.Len()
	st.RecentPredictionsCount = c.predictions.Len()
	if last, ok := c.history.Newest(); ok {
		st.LastMetrics = &last
	}
	return st
}

// IsTraining reports whether a training run is in flight.
func (c *Classifier) IsTraining() bool { return c.training.Load() }

func (c *Classifier) isTrained() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Trained
}

// History returns the training-history metrics, oldest first.
func (c *Classifier) History() []model.ClassificationMetrics {
	return c.history.Items()
}

// RecentPredictions returns up to n of the newest predictions, oldest first.
// n <= 0 returns all retained predictions.
func (c *Classifier) RecentPredictions(n int) []PredictionRecord {
	return c.predictions.Last(n)
}

// State returns a deep copy of the model state.
func (c *Classifier) State() model.ModelState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// Restore replaces the model state, e.g. to load a persisted or frozen model.
func (c *Classifier) Restore(state model.ModelState) error {
	if state.Trained && len(state.Weights) != FeatureCount {
		return fmt.Errorf("restore: %d weights, want %d", len(state.Weights), FeatureCount)
	}
	if !finite(state.Weights...) || !finite(state.Bias) {
		return fmt.Errorf("restore: non-finite weights")
	}
	if !c.training.CompareAndSwap(false, true) {
		return model.ErrTrainingInProgress
	}
	defer c.training.Store(false)

	c.mu.Lock()
	c.state = state.Clone()
	c.mu.Unlock()
	c.log.Info().Bool("trained", state.Trained).Int("samples", state.TrainingSampleCount).Msg("model state restored")
	return nil
}
