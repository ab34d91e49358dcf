package classifier

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Trainer fits weights and a bias to a dataset.
type Trainer interface {
	Fit(ctx context.Context, X [][]float64, y []float64) (weights []float64, bias float64, err error)
}

// RandomTrainer is a placeholder trainer: it ignores the data and draws one
// weight per feature plus a bias uniformly from [-1, 1). Delay simulates
// training time and honours context cancellation.
type RandomTrainer struct {
	Delay time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomTrainer creates a RandomTrainer with a fixed seed.
func NewRandomTrainer(seed int64, delay time.Duration) *RandomTrainer {
	return &RandomTrainer{Delay: delay, rng: rand.New(rand.NewSource(seed))}
}

// Fit implements Trainer.
func (r *RandomTrainer) Fit(ctx context.Context, X [][]float64, _ []float64) ([]float64, float64, error) {
	if r.Delay > 0 {
		timer := time.NewTimer(r.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	n := FeatureCount
	if len(X) > 0 {
		n = len(X[0])
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = r.rng.Float64()*2 - 1
	}
	return weights, r.rng.Float64()*2 - 1, nil
}

// FixedTrainer returns preset weights. It is used to load a known model
// and in tests.
type FixedTrainer struct {
	Weights []float64
	Bias    float64
}

// Fit implements Trainer.
func (f FixedTrainer) Fit(ctx context.Context, _ [][]float64, _ []float64) ([]float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	w := make([]float64, len(f.Weights))
	copy(w, f.Weights)
	return w, f.Bias, nil
}
