package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLimiter_Bounds tests that the limiter caps concurrent holders
func TestLimiter_Bounds(t *testing.T) {
	l := NewLimiter(1)

	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	l.Release()
	require.NoError(t, l.Acquire(context.Background()))
	l.Release()
}

// TestLimiter_NilIsUnbounded tests that a nil limiter imposes no bound
func TestLimiter_NilIsUnbounded(t *testing.T) {
	var l *Limiter
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	l.Release()
}

// TestNewLimiter_MinimumOne tests the floor on the limit
func TestNewLimiter_MinimumOne(t *testing.T) {
	l := NewLimiter(0)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Acquire(ctx), "limit floored at one")
	l.Release()
}
