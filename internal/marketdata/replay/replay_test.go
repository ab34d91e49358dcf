package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelab/internal/model"
)

type mapSource map[string][]model.Bar

func (m mapSource) Fetch(_ context.Context, symbol string, _ model.RangeSpec) ([]model.Bar, error) {
	if symbol == "ERR" {
		return nil, errors.New("boom")
	}
	return m[symbol], nil
}

var t0 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func at(h int, close float64) model.Bar {
	return model.Bar{Timestamp: t0.Add(time.Duration(h) * time.Hour), Close: close}
}

func TestReplayer_InterleavesByTime(t *testing.T) {
	src := mapSource{
		"A": {at(2, 3), at(0, 1)},
		"B": {at(1, 20), at(3, 40)},
	}
	out := make(chan model.BarEvent, 10)

	n, err := New(src, zerolog.Nop()).Run(context.Background(), []string{"A", "B"}, model.RangeSpec{}, 0, out)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	close(out)

	var order []string
	for ev := range out {
		order = append(order, ev.Symbol)
	}
	assert.Equal(t, []string{"A", "B", "A", "B"}, order)
}

func TestReplayer_Empty(t *testing.T) {
	n, err := New(mapSource{}, zerolog.Nop()).Run(context.Background(), []string{"A"}, model.RangeSpec{}, 0, make(chan model.BarEvent))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReplayer_SourceError(t *testing.T) {
	_, err := New(mapSource{}, zerolog.Nop()).Run(context.Background(), []string{"ERR"}, model.RangeSpec{}, 0, make(chan model.BarEvent))
	assert.Error(t, err)
}

func TestReplayer_Cancel(t *testing.T) {
	src := mapSource{"A": {at(0, 1), at(1, 2), at(2, 3)}}
	out := make(chan model.BarEvent) // unbuffered, never read after the first
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan int, 1)
	go func() {
		n, _ := New(src, zerolog.Nop()).Run(ctx, []string{"A"}, model.RangeSpec{}, 0, out)
		done <- n
	}()

	<-out
	cancel()
	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("replay did not stop")
	}
}
