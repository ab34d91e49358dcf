package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelab/internal/model"
)

func TestCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c := NewCache(0)

	_, ok, err := c.Get(ctx, "BTCUSDT_30")
	require.NoError(t, err)
	assert.False(t, ok)

	bars := []model.Bar{{Close: 1}, {Close: 2}}
	require.NoError(t, c.Set(ctx, "BTCUSDT_30", bars, 0))
	bars[0].Close = 99

	got, ok, err := c.Get(ctx, "BTCUSDT_30")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, got[0].Close, "stored copy is isolated from caller")

	got[1].Close = 42
	again, _, _ := c.Get(ctx, "BTCUSDT_30")
	assert.Equal(t, 2.0, again[1].Close, "returned copy is isolated from cache")
}

func TestCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache(time.Minute)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []model.Bar{{Close: 1}}, 0))
	now = now.Add(59 * time.Second)
	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestCache_ExplicitTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache(time.Hour)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", nil, time.Second))
	now = now.Add(2 * time.Second)
	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)
}
