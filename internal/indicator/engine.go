package indicator

import (
	"sort"
	"sync"
	"time"

	"tradelab/internal/model"
	"tradelab/internal/ringbuf"
)

// DefaultWindow is the number of closes kept per symbol by the streaming engine.
const DefaultWindow = 1000

// symbolState holds the rolling close history for one symbol.
type symbolState struct {
	closes *ringbuf.Ring[float64]
	last   model.IndicatorSnapshot
	lastTS time.Time
	count  int
}

// Engine computes snapshots for closed bars arriving one at a time for many
// symbols. Each symbol keeps a bounded window of closes; indicators are
// recomputed from that window on every bar.
type Engine struct {
	mu     sync.Mutex
	window int
	opts   Options
	state  map[string]*symbolState
}

// NewEngine creates a streaming engine. window <= 0 uses DefaultWindow.
func NewEngine(window int, opts Options) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Engine{
		window: window,
		opts:   opts,
		state:  make(map[string]*symbolState, 16),
	}
}

// Seed warms a symbol with historical bars, oldest first. Bars at or before
// the last processed timestamp are ignored. Returns the number applied.
func (e *Engine) Seed(symbol string, bars []model.Bar) int {
	applied := 0
	for _, b := range bars {
		if _, ok := e.Process(symbol, b); ok {
			applied++
		}
	}
	return applied
}

// Process appends a closed bar and returns its snapshot. A bar whose
// timestamp is not after the previous bar for the symbol is rejected
// (ok=false) so reconnect replays cannot double count.
func (e *Engine) Process(symbol string, bar model.Bar) (model.IndicatorSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, exists := e.state[symbol]
	if !exists {
		st = &symbolState{closes: ringbuf.New[float64](e.window)}
		e.state[symbol] = st
	}
	if st.count > 0 && !bar.Timestamp.After(st.lastTS) {
		return st.last, false
	}

	st.closes.Push(bar.Close)
	st.last = Snapshot(st.closes.Items(), e.opts)
	st.lastTS = bar.Timestamp
	st.count++
	return st.last, true
}

// Peek computes the snapshot a bar closing at price would produce, without
// mutating state. Returns false if the symbol has not been seen yet.
func (e *Engine) Peek(symbol string, price float64) (model.IndicatorSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, exists := e.state[symbol]
	if !exists {
		return model.IndicatorSnapshot{}, false
	}
	closes := st.closes.Items()
	if len(closes) >= e.window {
		closes = closes[1:]
	}
	closes = append(closes, price)
	return Snapshot(closes, e.opts), true
}

// Last returns the snapshot of the most recent processed bar.
func (e *Engine) Last(symbol string) (model.IndicatorSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, exists := e.state[symbol]
	if !exists {
		return model.IndicatorSnapshot{}, false
	}
	return st.last, true
}

// Count returns how many bars have been processed for symbol.
func (e *Engine) Count(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.state[symbol]; ok {
		return st.count
	}
	return 0
}

// Symbols lists the tracked symbols, sorted.
func (e *Engine) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.state))
	for s := range e.state {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
