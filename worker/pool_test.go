package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolEach(t *testing.T) {
	p, err := NewPool("test", 4, nil)
	require.NoError(t, err)
	defer p.Release()

	var sum atomic.Int64
	err = p.Each(context.Background(), 100, func(ctx context.Context, i int) error {
		sum.Add(int64(i))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4950), sum.Load())
}

func TestPoolEach_FirstErrorWins(t *testing.T) {
	p, err := NewPool("test", 2, nil)
	require.NoError(t, err)
	defer p.Release()

	boom := errors.New("boom")
	err = p.Each(context.Background(), 20, func(ctx context.Context, i int) error {
		if i == 3 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestPoolEach_ParentCancelled(t *testing.T) {
	p, err := NewPool("test", 2, nil)
	require.NoError(t, err)
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	err = p.Each(ctx, 10, func(ctx context.Context, i int) error {
		calls.Add(1)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestPoolReleased(t *testing.T) {
	p, err := NewPool("test", 1, nil)
	require.NoError(t, err)
	p.Release()
	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
}
