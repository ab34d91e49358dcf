// Package replay emits stored bars as a live feed at a configurable speed,
// so the live signal pipeline can run offline against SQLite data.
package replay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"tradelab/internal/model"
)

// maxGap caps a single simulated wait.
const maxGap = 5 * time.Second

// Replayer reads bars for several symbols from a BarSource and replays them
// interleaved by timestamp.
type Replayer struct {
	source model.BarSource
	log    zerolog.Logger
}

// New creates a Replayer.
func New(source model.BarSource, log zerolog.Logger) *Replayer {
	return &Replayer{source: source, log: log.With().Str("component", "replay").Logger()}
}

// Run replays every bar in rng for the symbols into out and returns the
// number emitted. speed controls the playback rate: 1.0 = real time,
// 10.0 = 10x, 0 = as fast as possible.
func (r *Replayer) Run(ctx context.Context, symbols []string, rng model.RangeSpec, speed float64, out chan<- model.BarEvent) (int, error) {
	var events []model.BarEvent
	for _, sym := range symbols {
		bars, err := r.source.Fetch(ctx, sym, rng)
		if err != nil {
			return 0, fmt.Errorf("replay load %s: %w", sym, err)
		}
		for _, b := range model.NormalizeBars(bars) {
			events = append(events, model.BarEvent{Symbol: sym, Bar: b})
		}
	}
	if len(events) == 0 {
		r.log.Warn().Strs("symbols", symbols).Msg("no bars to replay")
		return 0, nil
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Bar.Timestamp.Before(events[j].Bar.Timestamp)
	})
	r.log.Info().Int("bars", len(events)).Int("symbols", len(symbols)).Float64("speed", speed).Msg("replay loaded")

	var prev time.Time
	emitted := 0
	for _, ev := range events {
		if speed > 0 && !prev.IsZero() {
			if gap := ev.Bar.Timestamp.Sub(prev); gap > 0 {
				wait := time.Duration(float64(gap) / speed)
				if wait > maxGap {
					wait = maxGap
				}
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(wait):
				}
			}
		}
		prev = ev.Bar.Timestamp

		select {
		case <-ctx.Done():
			r.log.Info().Int("emitted", emitted).Msg("replay cancelled")
			return emitted, ctx.Err()
		case out <- ev:
			emitted++
		}
	}

	r.log.Info().Int("emitted", emitted).Msg("replay completed")
	return emitted, nil
}
