package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFail = errors.New("fail")

func TestBreaker_StartsClosed(t *testing.T) {
	b := New("t", 3, 100*time.Millisecond, zerolog.Nop())
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b := New("t", 3, time.Minute, zerolog.Nop())

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, b.Do(func() error { return errFail }), errFail)
	}
	assert.Equal(t, "open", b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := New("t", 2, time.Minute, zerolog.Nop())

	b.Do(func() error { return errFail })
	require.NoError(t, b.Do(func() error { return nil }))
	b.Do(func() error { return errFail })

	assert.Equal(t, "closed", b.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := New("t", 2, 50*time.Millisecond, zerolog.Nop())
	var transitions []string
	b.OnStateChange = func(_, from, to string) { transitions = append(transitions, from+"->"+to) }

	for i := 0; i < 2; i++ {
		b.Do(func() error { return errFail })
	}
	require.Equal(t, "open", b.State())

	time.Sleep(60 * time.Millisecond)

	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, "closed", b.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreaker_HalfOpenFailure(t *testing.T) {
	b := New("t", 2, 50*time.Millisecond, zerolog.Nop())
	for i := 0; i < 2; i++ {
		b.Do(func() error { return errFail })
	}

	time.Sleep(60 * time.Millisecond)
	b.Do(func() error { return errFail })

	assert.Equal(t, "open", b.State())
}
