package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAndRecovers(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(2, time.Minute)
	b.now = func() time.Time { return now }

	fail := func(context.Context) (int, error) { return 0, errors.New("boom") }
	ok := func(context.Context) (int, error) { return 1, nil }
	ctx := context.Background()

	_, _ = Call(ctx, b, fail)
	assert.Equal(t, BreakerClosed, b.State())
	_, _ = Call(ctx, b, fail)
	assert.Equal(t, BreakerOpen, b.State())

	_, err := Call(ctx, b, ok)
	assert.ErrorIs(t, err, ErrBreakerOpen)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, BreakerHalfOpen, b.State())

	v, err := Call(ctx, b, ok)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(1, time.Second)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = Call(ctx, b, func(context.Context) (int, error) { return 0, errors.New("x") })
	assert.Equal(t, BreakerOpen, b.State())

	now = now.Add(2 * time.Second)
	_, _ = Call(ctx, b, func(context.Context) (int, error) { return 0, errors.New("still down") })
	assert.Equal(t, BreakerOpen, b.State())
	assert.Equal(t, "open", b.State().String())
}

func TestBreaker_CancelledCallDoesNotCount(t *testing.T) {
	t.Parallel()

	b := NewBreaker(1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Call(ctx, b, func(ctx context.Context) (int, error) { return 0, ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, BreakerClosed, b.State())
}
