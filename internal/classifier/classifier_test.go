package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelab/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func sample(label model.Action, rsi, close float64) model.LabeledBar {
	return model.LabeledBar{
		Bar:        model.Bar{Timestamp: time.Unix(1700000000, 0), Close: close, Volume: 10},
		Indicators: model.IndicatorSnapshot{RSI: rsi, SMA20: close * 0.99, SMA50: close * 0.98},
		Labeled:    true,
		Label:      label,
	}
}

func zeroModel() FixedTrainer {
	return FixedTrainer{Weights: make([]float64, FeatureCount)}
}

func newTestClassifier(tr Trainer) *Classifier {
	return New(Config{Seed: 42}, tr, zerolog.Nop())
}

type blockingTrainer struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingTrainer() *blockingTrainer {
	return &blockingTrainer{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingTrainer) Fit(ctx context.Context, _ [][]float64, _ []float64) ([]float64, float64, error) {
	close(b.started)
	select {
	case <-b.release:
		return make([]float64, FeatureCount), 0, nil
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

type countingObserver struct {
	predictions map[string]int
	training    []string
}

func (o *countingObserver) ObservePrediction(_ model.Action, source string) {
	o.predictions[source]++
}

func (o *countingObserver) ObserveTraining(outcome string, _ bool) {
	o.training = append(o.training, outcome)
}

// ────────────────────────────────────────────────────────────
// Fallback
// ────────────────────────────────────────────────────────────

func TestPredict_UntrainedUsesFallback(t *testing.T) {
	c := newTestClassifier(nil)

	features := make([]float64, FeatureCount)
	features[FeatRSI] = 25
	features[FeatPriceVsSMA20] = 0.01
	p := c.Predict(features)
	assert.Equal(t, model.ActionBuy, p.Action)
	assert.Equal(t, 70.0, p.Confidence)
	assert.Equal(t, model.Probabilities{Buy: 70, Sell: 15, Hold: 15}, p.Probabilities)

	features[FeatRSI] = 75
	features[FeatPriceVsSMA20] = -0.01
	p = c.Predict(features)
	assert.Equal(t, model.ActionSell, p.Action)
	assert.Equal(t, model.Probabilities{Buy: 15, Sell: 70, Hold: 15}, p.Probabilities)

	p = c.Predict(make([]float64, FeatureCount))
	assert.Equal(t, model.ActionHold, p.Action)
	assert.Equal(t, model.Probabilities{Buy: 20, Sell: 20, Hold: 60}, p.Probabilities)

	recent := c.RecentPredictions(0)
	require.Len(t, recent, 3)
	for _, r := range recent {
		assert.Equal(t, SourceFallback, r.Source)
	}
}

func TestFallback_ShortVector(t *testing.T) {
	p := Fallback(nil)
	assert.Equal(t, model.ActionHold, p.Action)
	assert.Equal(t, 60.0, p.Confidence)
}

// ────────────────────────────────────────────────────────────
// Training
// ────────────────────────────────────────────────────────────

func TestTrain_NoLabeledSamples(t *testing.T) {
	c := newTestClassifier(zeroModel())

	unlabeled := sample(model.ActionBuy, 40, 100).Unlabeled()
	_, err := c.Train(context.Background(), []model.LabeledBar{unlabeled})

	require.ErrorIs(t, err, model.ErrDataUnavailable)
	assert.False(t, c.Status().Trained)
	assert.False(t, c.IsTraining())
}

func TestTrain_CommitsStateAndHistory(t *testing.T) {
	c := newTestClassifier(zeroModel())
	samples := []model.LabeledBar{
		sample(model.ActionBuy, 40, 100),
		sample(model.ActionSell, 60, 101),
		sample(model.ActionHold, 50, 102),
		sample(model.ActionBuy, 45, 99).Unlabeled(),
	}

	metrics, err := c.Train(context.Background(), samples)
	require.NoError(t, err)

	st := c.Status()
	assert.True(t, st.Trained)
	assert.False(t, st.Training)
	assert.Equal(t, 3, st.TrainingSampleCount)
	assert.Equal(t, 1, st.TrainingHistorySize)
	require.NotNil(t, st.LastMetrics)
	assert.Equal(t, metrics, *st.LastMetrics)
	assert.Equal(t, 3, metrics.Samples)
	assert.True(t, metrics.Simulated)
}

func TestPredict_TrainedSoftmax(t *testing.T) {
	c := newTestClassifier(zeroModel())
	_, err := c.Train(context.Background(), []model.LabeledBar{sample(model.ActionBuy, 40, 100)})
	require.NoError(t, err)

	p := c.Predict(make([]float64, FeatureCount))

	// s = tanh(0) = 0 → softmax([0.1, −0.1, 0])
	e1, e2, e3 := math.Exp(0.1), math.Exp(-0.1), 1.0
	sum := e1 + e2 + e3
	assert.Equal(t, model.ActionBuy, p.Action)
	assert.InDelta(t, e1/sum*100, p.Confidence, 1e-9)
	assert.InDelta(t, e2/sum*100, p.Probabilities.Sell, 1e-9)
	assert.InDelta(t, 100, p.Probabilities.Buy+p.Probabilities.Sell+p.Probabilities.Hold, 1e-9)

	recent := c.RecentPredictions(1)
	require.Len(t, recent, 1)
	assert.Equal(t, SourceModel, recent[0].Source)
}

func TestPredict_TrainedNeverExceedsMLThreshold(t *testing.T) {
	c := newTestClassifier(NewRandomTrainer(7, 0))
	_, err := c.Train(context.Background(), []model.LabeledBar{sample(model.ActionBuy, 40, 100)})
	require.NoError(t, err)

	for _, f := range [][]float64{
		make([]float64, FeatureCount),
		{90, 100, 90, 5, 5, 0, 1e6, 0.1, 0.1, 0},
		{10, 100, 120, -5, -5, 0, 1, -0.2, -0.3, 0},
	} {
		p := c.Predict(f)
		assert.Equal(t, model.ActionBuy, p.Action)
		assert.Less(t, p.Confidence, 40.0)
	}
}

func TestTrain_ConcurrentConflict(t *testing.T) {
	bt := newBlockingTrainer()
	c := newTestClassifier(bt)
	samples := []model.LabeledBar{sample(model.ActionBuy, 40, 100)}

	done, err := c.TrainAsync(context.Background(), samples)
	require.NoError(t, err)
	<-bt.started

	assert.True(t, c.Status().Training)
	_, err = c.Train(context.Background(), samples)
	assert.ErrorIs(t, err, model.ErrTrainingInProgress)
	_, err = c.TrainAsync(context.Background(), samples)
	assert.ErrorIs(t, err, model.ErrTrainingInProgress)
	assert.ErrorIs(t, c.Restore(model.ModelState{}), model.ErrTrainingInProgress)

	close(bt.release)
	require.NoError(t, <-done)
	assert.True(t, c.Status().Trained)
	assert.False(t, c.Status().Training)
}

func TestTrain_CancelLeavesStateUntouched(t *testing.T) {
	c := newTestClassifier(zeroModel())
	_, err := c.Train(context.Background(), []model.LabeledBar{sample(model.ActionBuy, 40, 100)})
	require.NoError(t, err)
	before := c.State()

	c.trainer = NewRandomTrainer(1, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done, err := c.TrainAsync(ctx, []model.LabeledBar{sample(model.ActionSell, 60, 100)})
	require.NoError(t, err)
	cancel()

	err = <-done
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, before, c.State())
	assert.Equal(t, 1, c.Status().TrainingHistorySize)
	assert.False(t, c.IsTraining())
}

func TestTrain_RejectsWrongWeightCount(t *testing.T) {
	c := newTestClassifier(FixedTrainer{Weights: []float64{1, 2}})
	_, err := c.Train(context.Background(), []model.LabeledBar{sample(model.ActionBuy, 40, 100)})
	require.Error(t, err)
	assert.False(t, c.Status().Trained)
}

func TestTrain_HistoryIsBounded(t *testing.T) {
	c := New(Config{TrainingHistory: 2}, zeroModel(), zerolog.Nop())
	for i := 0; i < 3; i++ {
		_, err := c.Train(context.Background(), []model.LabeledBar{sample(model.ActionBuy, 40, 100)})
		require.NoError(t, err)
	}
	assert.Len(t, c.History(), 2)
}

// ────────────────────────────────────────────────────────────
// Incremental update / evaluation / restore
// ────────────────────────────────────────────────────────────

func TestIncrementalUpdate(t *testing.T) {
	c := newTestClassifier(zeroModel())
	s := sample(model.ActionBuy, 40, 100)

	assert.False(t, c.IncrementalUpdate(s), "untrained")

	_, err := c.Train(context.Background(), []model.LabeledBar{s})
	require.NoError(t, err)

	assert.False(t, c.IncrementalUpdate(s.Unlabeled()), "unlabeled")
	require.True(t, c.IncrementalUpdate(s))

	// error = 1 − tanh(0) = 1, so wᵢ = 0.01·fᵢ and bias = 0.01.
	st := c.State()
	f := TrainingFeatures(s)
	for i := range f {
		assert.InDelta(t, 0.01*f[i], st.Weights[i], 1e-12)
	}
	assert.InDelta(t, 0.01, st.Bias, 1e-12)
}

func TestIncrementalUpdate_SkippedWhileTraining(t *testing.T) {
	c := newTestClassifier(zeroModel())
	s := sample(model.ActionBuy, 40, 100)
	_, err := c.Train(context.Background(), []model.LabeledBar{s})
	require.NoError(t, err)

	bt := newBlockingTrainer()
	c.trainer = bt
	done, err := c.TrainAsync(context.Background(), []model.LabeledBar{s})
	require.NoError(t, err)
	<-bt.started

	assert.False(t, c.IncrementalUpdate(s))
	close(bt.release)
	require.NoError(t, <-done)
}

func TestEvaluate_ConfusionAndSimulatedROI(t *testing.T) {
	samples := []model.LabeledBar{
		sample(model.ActionBuy, 40, 100),
		sample(model.ActionBuy, 40, 100),
		sample(model.ActionSell, 40, 100),
		sample(model.ActionHold, 40, 100),
	}

	run := func() model.ClassificationMetrics {
		c := newTestClassifier(zeroModel())
		_, err := c.Train(context.Background(), samples[:1])
		require.NoError(t, err)
		before := len(c.RecentPredictions(0))
		m := c.Evaluate(samples)
		assert.Len(t, c.RecentPredictions(0), before, "evaluation is not recorded")
		return m
	}
	m := run()

	// A zero-weight model always answers BUY.
	assert.Equal(t, 4, m.Samples)
	assert.InDelta(t, 0.5, m.Accuracy, 1e-12)
	assert.InDelta(t, 0.5, m.Precision.Buy, 1e-12)
	assert.InDelta(t, 1.0, m.Recall.Buy, 1e-12)
	assert.Zero(t, m.Recall.Sell)
	assert.Equal(t, 4, m.TotalTrades)
	assert.True(t, m.Simulated)
	assert.True(t, m.ROI >= -0.2 && m.ROI < 0.2)
	assert.True(t, m.WinRate >= 0 && m.WinRate <= 1)

	again := run()
	assert.Equal(t, m.ROI, again.ROI, "seeded evaluation is reproducible")
}

func TestIncrementalUpdate_DiscardsNonFiniteStep(t *testing.T) {
	c := newTestClassifier(zeroModel())
	s := sample(model.ActionBuy, 40, 100)
	_, err := c.Train(context.Background(), []model.LabeledBar{s})
	require.NoError(t, err)
	before := c.State()

	s.Volume = math.Inf(1)
	assert.False(t, c.IncrementalUpdate(s))
	assert.Equal(t, before.Weights, c.State().Weights)
	assert.Equal(t, before.Bias, c.State().Bias)
}

func TestEvaluate_UntrainedIsZero(t *testing.T) {
	c := newTestClassifier(nil)
	m := c.Evaluate([]model.LabeledBar{
		sample(model.ActionBuy, 20, 100),
		sample(model.ActionSell, 80, 100),
	})
	assert.Zero(t, m.Samples)
	assert.Zero(t, m.Accuracy)
	assert.Zero(t, m.TotalTrades)
	assert.Zero(t, m.ROI)
}

func TestEvaluate_Empty(t *testing.T) {
	c := newTestClassifier(nil)
	m := c.Evaluate(nil)
	assert.Zero(t, m.Samples)
	assert.Zero(t, m.Accuracy)
}

func TestRestore(t *testing.T) {
	c := newTestClassifier(nil)

	err := c.Restore(model.ModelState{Weights: []float64{1}, Trained: true})
	require.Error(t, err)

	w := make([]float64, FeatureCount)
	w[FeatRSI] = -1
	state := model.ModelState{Weights: w, Bias: 0.5, Trained: true, TrainingSampleCount: 12}
	require.NoError(t, c.Restore(state))

	w[FeatRSI] = 99 // caller mutation must not leak in
	got := c.State()
	assert.Equal(t, -1.0, got.Weights[FeatRSI])
	assert.Equal(t, 12, c.Status().TrainingSampleCount)
}

func TestRestore_RejectsNonFinite(t *testing.T) {
	c := newTestClassifier(nil)

	w := make([]float64, FeatureCount)
	w[FeatSMA20] = math.NaN()
	assert.Error(t, c.Restore(model.ModelState{Weights: w, Trained: true}))

	assert.Error(t, c.Restore(model.ModelState{Weights: make([]float64, FeatureCount), Bias: math.Inf(-1), Trained: true}))
	assert.False(t, c.Status().Trained)
}

func TestPredict_OppositeInfinitiesStayFinite(t *testing.T) {
	c := newTestClassifier(nil)
	w := make([]float64, FeatureCount)
	w[0], w[1] = 2, 2
	require.NoError(t, c.Restore(model.ModelState{Weights: w, Trained: true}))

	p := c.Predict([]float64{1e308, -1e308})
	assert.False(t, math.IsNaN(p.Confidence))
	assert.False(t, math.IsNaN(p.Probabilities.Buy+p.Probabilities.Sell+p.Probabilities.Hold))
	assert.InDelta(t, 100, p.Probabilities.Buy+p.Probabilities.Sell+p.Probabilities.Hold, 1e-9)
	assert.Equal(t, model.ActionBuy, p.Action, "a degenerate score behaves like 0")

	_, err := json.Marshal(p)
	assert.NoError(t, err)
}

func TestClassifier_ConcurrentUse(t *testing.T) {
	c := newTestClassifier(NewRandomTrainer(7, 0))
	samples := []model.LabeledBar{
		sample(model.ActionBuy, 25, 100),
		sample(model.ActionSell, 75, 101),
		sample(model.ActionHold, 50, 99),
	}
	_, err := c.Train(context.Background(), samples)
	require.NoError(t, err)

	var wg sync.WaitGroup
	run := func(fn func(i int)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				fn(i)
			}
		}()
	}
	run(func(i int) {
		p := c.Predict(DecisionFeatures(samples[i%len(samples)]))
		assert.InDelta(t, 100, p.Probabilities.Buy+p.Probabilities.Sell+p.Probabilities.Hold, 1e-6)
	})
	run(func(i int) { c.IncrementalUpdate(samples[i%len(samples)]) })
	run(func(int) { c.Evaluate(samples) })
	run(func(int) {
		st := c.Status()
		assert.True(t, st.Trained)
		assert.Len(t, c.State().Weights, FeatureCount)
	})
	run(func(int) {
		if _, err := c.Train(context.Background(), samples); err != nil {
			assert.ErrorIs(t, err, model.ErrTrainingInProgress)
		}
	})
	wg.Wait()

	assert.False(t, c.IsTraining())
	assert.Len(t, c.RecentPredictions(0), DefaultPredictionHistory)
}

func TestRecentPredictions_Bounded(t *testing.T) {
	c := newTestClassifier(nil)
	for i := 0; i < 150; i++ {
		c.Predict(make([]float64, FeatureCount))
	}
	assert.Len(t, c.RecentPredictions(0), DefaultPredictionHistory)
	assert.Len(t, c.RecentPredictions(10), 10)
	assert.Equal(t, DefaultPredictionHistory, c.Status().RecentPredictionsCount)
}

func TestObserver(t *testing.T) {
	obs := &countingObserver{predictions: map[string]int{}}
	c := newTestClassifier(zeroModel())
	c.SetObserver(obs)

	c.Predict(make([]float64, FeatureCount))
	_, _ = c.Train(context.Background(), nil)
	_, err := c.Train(context.Background(), []model.LabeledBar{sample(model.ActionBuy, 40, 100)})
	require.NoError(t, err)
	c.Predict(make([]float64, FeatureCount))

	assert.Equal(t, 1, obs.predictions[SourceFallback])
	assert.Equal(t, 1, obs.predictions[SourceModel])
	assert.Equal(t, []string{"no_data", "success"}, obs.training)
}

// ────────────────────────────────────────────────────────────
// Features
// ────────────────────────────────────────────────────────────

func TestExtract_Fallbacks(t *testing.T) {
	f := Extract(model.IndicatorSnapshot{}, 200, 5, 0.3)
	require.Len(t, f, FeatureCount)
	assert.Equal(t, 50.0, f[FeatRSI])
	assert.Equal(t, 200.0, f[FeatSMA20])
	assert.Equal(t, 200.0, f[FeatSMA50])
	assert.Zero(t, f[FeatPriceVsSMA20])
	assert.Zero(t, f[FeatSMA20VsSMA50])
	assert.Equal(t, 5.0, f[FeatVolume])
	assert.Equal(t, 0.3, f[FeatProfitability])
}

func TestExtract_Ratios(t *testing.T) {
	f := Extract(model.IndicatorSnapshot{RSI: 40, SMA20: 100, SMA50: 80}, 110, 1, 0)
	assert.InDelta(t, 0.1, f[FeatPriceVsSMA20], 1e-12)
	assert.InDelta(t, 0.25, f[FeatSMA20VsSMA50], 1e-12)
}

func TestDecisionFeatures_DropProfitability(t *testing.T) {
	s := sample(model.ActionBuy, 40, 100)
	s.Profitability = 0.05
	assert.Zero(t, DecisionFeatures(s)[FeatProfitability])
	assert.Equal(t, 0.05, TrainingFeatures(s)[FeatProfitability])
}
