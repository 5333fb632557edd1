package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counting(n int, calls *atomic.Int32) Func {
	return func(context.Context) (int, error) {
		calls.Add(1)
		return n, nil
	}
}

func TestRunOnceRecordsCheckpoint(t *testing.T) {
	store := badger.NewMemoryStore(t)
	clock := core.NewFakeClock(time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC))
	var calls atomic.Int32
	s, err := New(store, WithClock(clock), WithSweep(ExpireSessions, time.Hour, counting(3, &calls)))
	require.NoError(t, err)
	ctx := context.Background()

	cp, err := s.Checkpoint(ctx, ExpireSessions)
	require.NoError(t, err)
	assert.Nil(t, cp)

	n, err := s.RunOnce(ctx, ExpireSessions)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	clock.Advance(time.Minute)
	_, err = s.RunOnce(ctx, ExpireSessions)
	require.NoError(t, err)

	cp, err = s.Checkpoint(ctx, ExpireSessions)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(2), cp.TotalRuns)
	assert.Equal(t, 3, cp.LastCount)
	assert.True(t, clock.Now().Equal(cp.LastRunAt))
	assert.Equal(t, int32(2), calls.Load())

	_, err = s.RunOnce(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownSweep)
}

func TestRunAllJoinsErrors(t *testing.T) {
	store := badger.NewMemoryStore(t)
	var calls atomic.Int32
	boom := errors.New("boom")
	s, err := New(store,
		WithSweep(ExpireSessions, time.Hour, counting(1, &calls)),
		WithSweep(PurgeAudit, time.Hour, func(context.Context) (int, error) { return 0, boom }),
		WithSweep(ResumeDeletions, time.Hour, counting(2, &calls)),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{ExpireSessions, PurgeAudit, ResumeDeletions}, s.Names())

	counts, err := s.RunAll(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, map[string]int{ExpireSessions: 1, PurgeAudit: 0, ResumeDeletions: 2}, counts)
	assert.Equal(t, int32(2), calls.Load())

	cp, err := s.Checkpoint(context.Background(), PurgeAudit)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(1), cp.TotalRuns)
}

func TestStartRunsOverdueSweepsAndStops(t *testing.T) {
	store := badger.NewMemoryStore(t)
	var fast, slow atomic.Int32
	s, err := New(store,
		WithSweep(ExpireSessions, 10*time.Millisecond, counting(0, &fast)),
		WithSweep(PurgeAudit, time.Hour, counting(0, &slow)),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return fast.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	// Never ran before, so the hourly sweep ran once at startup.
	assert.Equal(t, int32(1), slow.Load())
}

func TestStartWaitsForRecentCheckpoint(t *testing.T) {
	store := badger.NewMemoryStore(t)
	clock := core.NewFakeClock(time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC))
	var calls atomic.Int32
	s, err := New(store, WithClock(clock), WithSweep(PurgeAudit, time.Hour, counting(0, &calls)))
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background(), PurgeAudit)
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrStoreRequired)

	store := badger.NewMemoryStore(t)
	noop := func(context.Context) (int, error) { return 0, nil }
	_, err = New(store, WithSweep("x", 0, noop))
	assert.Error(t, err)
	_, err = New(store, WithSweep("x", time.Second, noop), WithSweep("x", time.Second, noop))
	assert.Error(t, err)
	_, err = New(store, WithSweep("", time.Second, noop))
	assert.Error(t, err)
	_, err = New(store, WithClock(nil))
	assert.Error(t, err)
}
