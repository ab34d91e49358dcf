package strategy

import "tradelab/internal/model"

// Hybrid runs a technical and a model strategy and combines their actions.
type Hybrid struct {
	technical Strategy
	model     Strategy
}

// NewHybrid combines technical and model strategies.
func NewHybrid(technical, ml Strategy) *Hybrid {
	return &Hybrid{technical: technical, model: ml}
}

func (h *Hybrid) Name() string { return NameHybrid }

// Decide implements Strategy.
func (h *Hybrid) Decide(cur, prev model.LabeledBar) Decision {
	tech := h.technical.Decide(cur, prev)
	ml := h.model.Decide(cur, prev)

	action := Combine(tech.Action, ml.Action)
	switch {
	case action == model.ActionHold && tech.Action != model.ActionHold && ml.Action != model.ActionHold:
		return Hold("technical and model disagree")
	case action == model.ActionHold:
		return Hold("no signal")
	case action == tech.Action && action == ml.Action:
		return Decision{Action: action, Confidence: ml.Confidence, Reason: "technical and model agree: " + tech.Reason}
	case action == tech.Action:
		return tech
	default:
		return ml
	}
}

// Combine applies the hybrid tie-break: agreeing non-HOLD actions pass, a
// single non-HOLD action passes, conflicting directions become HOLD.
func Combine(tech, ml model.Action) model.Action {
	switch {
	case tech == ml:
		return tech
	case tech == model.ActionHold:
		return ml
	case ml == model.ActionHold:
		return tech
	default:
		return model.ActionHold
	}
}
