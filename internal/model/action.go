package model

import (
	"fmt"
	"strings"
)

// Action is a discrete trading decision.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction accepts BUY/SELL/HOLD in any case.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell, ActionHold:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Target maps an action onto the classifier's regression target:
// BUY=+1, SELL=-1, HOLD=0.
func (a Action) Target() float64 {
	switch a {
	case ActionBuy:
		return 1
	case ActionSell:
		return -1
	default:
		return 0
	}
}

// ActionFromTarget is the inverse of Target for the three canonical values.
func ActionFromTarget(v float64) Action {
	switch {
	case v > 0:
		return ActionBuy
	case v < 0:
		return ActionSell
	default:
		return ActionHold
	}
}

func (a Action) String() string { return string(a) }
