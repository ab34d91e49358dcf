package model

import "time"

// Probabilities are percentages that sum to 100.
type Probabilities struct {
	Buy  float64 `json:"buy"`
	Sell float64 `json:"sell"`
	Hold float64 `json:"hold"`
}

// Prediction is the classifier's answer for one feature vector.
type Prediction struct {
	Action        Action        `json:"action"`
	Confidence    float64       `json:"confidence"` // 0..100
	Probabilities Probabilities `json:"probabilities"`
}

// PerClass carries one value per action class.
type PerClass struct {
	Buy  float64 `json:"buy"`
	Sell float64 `json:"sell"`
	Hold float64 `json:"hold"`
}

// ClassificationMetrics is the result of evaluating the classifier against
// labeled samples. ROI and WinRate are simulated stand-ins, never the outcome
// of a real backtest; Simulated is always true when they are populated.
type ClassificationMetrics struct {
	Accuracy         float64   `json:"accuracy"`
	Precision        PerClass  `json:"precision"`
	Recall           PerClass  `json:"recall"`
	F1Score          float64   `json:"f1_score"`
	ROI              float64   `json:"roi"`
	WinRate          float64   `json:"win_rate"`
	TotalTrades      int       `json:"total_trades"`
	ProfitableTrades int       `json:"profitable_trades"`
	Simulated        bool      `json:"simulated"`
	Samples          int       `json:"samples"`
	EvaluatedAt      time.Time `json:"evaluated_at"`
}

// ModelState is the classifier's trainable state.
type ModelState struct {
	Weights             []float64 `json:"weights"`
	Bias                float64   `json:"bias"`
	Trained             bool      `json:"trained"`
	TrainingSampleCount int       `json:"training_sample_count"`
	TrainedAt           time.Time `json:"trained_at"`
}

// Clone returns a deep copy.
func (s ModelState) Clone() ModelState {
	c := s
	if s.Weights != nil {
		c.Weights = make([]float64, len(s.Weights))
		copy(c.Weights, s.Weights)
	}
	return c
}
