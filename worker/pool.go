package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// Pool runs bounded fan-out work on an ants goroutine pool.
type Pool struct {
	name   string
	pool   *ants.Pool
	logger *slog.Logger
}

// DefaultPoolSize is half the CPUs, at least one.
func DefaultPoolSize() int {
	return max(runtime.NumCPU()/2, 1)
}

// NewPool creates a pool with size workers. Panics inside tasks are
// recovered and logged.
func NewPool(name string, size int, logger *slog.Logger) (*Pool, error) {
	if size < 1 {
		size = DefaultPoolSize()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("pool", name)
	p, err := ants.NewPool(size,
		ants.WithExpiryDuration(10*time.Second),
		ants.WithPanicHandler(func(v any) {
			logger.Error("worker panic recovered", "panic", v)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s pool: %w", name, err)
	}
	return &Pool{name: name, pool: p, logger: logger}, nil
}

// Cap is the pool size.
func (p *Pool) Cap() int { return p.pool.Cap() }

// Running is the number of busy workers.
func (p *Pool) Running() int { return p.pool.Running() }

// Submit schedules fn without waiting for it.
func (p *Pool) Submit(fn func()) error {
	if err := p.pool.Submit(fn); err != nil {
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return err
	}
	return nil
}

// Each runs fn for every index in [0,n) on the pool and waits for all of
// them. The first error cancels the context seen by the remaining calls and
// is returned.
func (p *Pool) Each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		i := i
		err := p.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			if err := fn(ctx, i); err != nil {
				fail(err)
			}
		})
		if err != nil {
			wg.Done()
			fail(err)
			break
		}
	}
	wg.Wait()
	if firstErr == nil {
		// parent cancellation surfaces as the parent's error
		return context.Cause(ctx)
	}
	return firstErr
}

// Release stops the pool.
func (p *Pool) Release() {
	p.pool.Release()
}
