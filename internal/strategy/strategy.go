// Package strategy turns indicator-enriched bars into trading decisions.
//
// Three interchangeable strategies are provided: technical (rule-based),
// ml (classifier-based) and hybrid (both, with a conservative tie-break).
// Strategies only ever see the current and previous bar; they never receive
// labels, so no future information can influence a decision.
package strategy

import (
	"fmt"
	"sort"

	"tradelab/internal/model"
)

// Strategy names.
const (
	NameTechnical = "technical"
	NameML        = "ml"
	NameHybrid    = "hybrid"
)

// Decision is a strategy's answer for one bar.
type Decision struct {
	Action     model.Action `json:"action"`
	Confidence float64      `json:"confidence"` // 0..100, 0 when the strategy has no notion of confidence
	Reason     string       `json:"reason"`
}

// Hold is the no-op decision.
func Hold(reason string) Decision {
	return Decision{Action: model.ActionHold, Reason: reason}
}

// Strategy decides on the current bar given the previous one.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Decide returns the action for cur. prev is the bar immediately before it.
	Decide(cur, prev model.LabeledBar) Decision
}

// Predictor is the part of the classifier a strategy needs.
type Predictor interface {
	Predict(features []float64) model.Prediction
}

// Registry maps strategy names to implementations.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// DefaultRegistry registers technical, ml and hybrid around predictor.
func DefaultRegistry(predictor Predictor) *Registry {
	r := NewRegistry()
	tech := NewTechnical()
	ml := NewModel(predictor, DefaultMLThreshold)
	r.Register(tech)
	r.Register(ml)
	r.Register(NewHybrid(tech, ml))
	return r
}

// Register adds or replaces a strategy under its name.
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get returns the named strategy or an error wrapping model.ErrUnknownStrategy.
func (r *Registry) Get(name string) (Strategy, error) {
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", name, model.ErrUnknownStrategy)
	}
	return s, nil
}

// Names lists registered strategy names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
