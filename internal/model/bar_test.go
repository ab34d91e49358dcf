package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeBars_SortsAndDedupes(t *testing.T) {
	t0 := time.Unix(1700000000, 0).UTC()
	in := []Bar{
		{Timestamp: t0.Add(2 * time.Hour), Close: 3},
		{Timestamp: t0, Close: 1},
		{Timestamp: t0.Add(time.Hour), Close: 2},
		{Timestamp: t0, Close: 1.5},
	}
	out := NormalizeBars(in)
	assert.Equal(t, []float64{1.5, 2, 3}, Closes(out))
	assert.Equal(t, 3.0, in[0].Close, "input untouched")
}

func TestNormalizeBars_DropsInvalidCloses(t *testing.T) {
	t0 := time.Unix(1700000000, 0).UTC()
	in := []Bar{
		{Timestamp: t0, Close: 100},
		{Timestamp: t0.Add(time.Hour), Close: math.NaN()},
		{Timestamp: t0.Add(2 * time.Hour), Close: math.Inf(1)},
		{Timestamp: t0.Add(3 * time.Hour), Close: 0},
		{Timestamp: t0.Add(4 * time.Hour), Close: -5},
		{Timestamp: t0.Add(5 * time.Hour), Close: 101},
	}
	assert.Equal(t, []float64{100, 101}, Closes(NormalizeBars(in)))

	assert.Nil(t, NormalizeBars([]Bar{{Timestamp: t0, Close: math.NaN()}}))
	assert.Nil(t, NormalizeBars(nil))
}
