package strategy

import (
	"fmt"

	"tradelab/internal/classifier"
	"tradelab/internal/model"
)

// DefaultMLThreshold is the confidence the ml strategy must exceed to act.
const DefaultMLThreshold = 70.0

// Model delegates to the classifier and acts only on confident predictions.
type Model struct {
	predictor Predictor
	threshold float64
}

// NewModel creates the ml strategy. Predictions with confidence at or below
// threshold become HOLD.
func NewModel(p Predictor, threshold float64) *Model {
	return &Model{predictor: p, threshold: threshold}
}

func (m *Model) Name() string { return NameML }

// Decide implements Strategy. prev is unused.
func (m *Model) Decide(cur, _ model.LabeledBar) Decision {
	p := m.predictor.Predict(classifier.DecisionFeatures(cur))
	if p.Confidence > m.threshold && p.Action != model.ActionHold {
		return Decision{
			Action:     p.Action,
			Confidence: p.Confidence,
			Reason:     fmt.Sprintf("model %s at %.1f%%", p.Action, p.Confidence),
		}
	}
	d := Hold(fmt.Sprintf("model %s at %.1f%% below threshold", p.Action, p.Confidence))
	d.Confidence = p.Confidence
	return d
}
