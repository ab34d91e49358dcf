// Package breaker guards calls to external dependencies (Redis, the exchange
// REST API) with a circuit breaker.
//
// After maxFailures consecutive failures the breaker opens and rejects all
// calls for resetTimeout. After the timeout it lets one probe through. A
// successful probe closes it; a failed probe reopens it.
package breaker

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrOpen is returned when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker wraps a gobreaker.CircuitBreaker with an error-only call shape.
type Breaker struct {
	cb *gobreaker.CircuitBreaker

	// OnStateChange is called on transitions (optional).
	OnStateChange func(name, from, to string)
}

// New creates a breaker. maxFailures < 1 is treated as 1.
func New(name string, maxFailures uint32, resetTimeout time.Duration, log zerolog.Logger) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	b := &Breaker{}
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(n string, from, to gobreaker.State) {
			log.Warn().
				Str("component", "breaker").
				Str("name", n).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("state change")
			if b.OnStateChange != nil {
				b.OnStateChange(n, from.String(), to.String())
			}
		},
	}
	b.cb = gobreaker.NewCircuitBreaker(st)
	return b
}

// Do runs fn through the breaker.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State is "closed", "half-open" or "open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}
