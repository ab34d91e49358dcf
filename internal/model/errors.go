package model

import "errors"

var (
	// ErrDataUnavailable reports an empty or unusable input series. Callers
	// recover by returning a default result and surfacing a warning.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrTrainingInProgress rejects a train request while another one runs.
	ErrTrainingInProgress = errors.New("training already in progress")

	// ErrUnknownStrategy is returned for an unregistered strategy name.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrRunNotFound is returned when a journaled backtest run does not exist.
	ErrRunNotFound = errors.New("backtest run not found")
)
