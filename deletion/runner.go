package deletion

import (
	"context"
	"errors"
	"time"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/metrics"
	"github.com/poiesic/kbase/storage"
)

// Run polls the queue and processes open entries on the worker pool until
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("deletion worker started", "poll", e.pollInterval, "workers", e.pool.Cap())
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		if err := e.dispatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("deletion dispatch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			e.logger.Info("deletion worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Engine) dispatch(ctx context.Context) error {
	open, err := e.openEntries(ctx)
	if err != nil {
		return err
	}
	for _, entry := range open {
		if !e.acquire(entry.ID) {
			continue
		}
		id := entry.ID
		err := e.pool.Submit(func() {
			defer e.releaseEntry(id)
			if err := e.ProcessEntry(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Warn("deletion entry not finished", "entry", id, "error", err)
			}
		})
		if err != nil {
			e.releaseEntry(id)
			return err
		}
	}
	return nil
}

// Resume processes every pending or processing entry once, in queue order.
// It is used at startup and by the sweeper to finish interrupted work.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	open, err := e.openEntries(ctx)
	if err != nil {
		return 0, err
	}
	var (
		errs []error
		done int
	)
	for _, entry := range open {
		if !e.acquire(entry.ID) {
			continue
		}
		err := e.ProcessEntry(ctx, entry.ID)
		e.releaseEntry(entry.ID)
		if err != nil {
			if ctx.Err() != nil {
				return done, ctx.Err()
			}
			errs = append(errs, err)
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

// openEntries lists pending and processing entries and refreshes the queue
// depth gauges.
func (e *Engine) openEntries(ctx context.Context) ([]*core.DeletionQueueEntry, error) {
	var pending, processing []*core.DeletionQueueEntry
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		if processing, err = tx.Queue().ListByStatus(core.QueueProcessing); err != nil {
			return err
		}
		pending, err = tx.Queue().ListByStatus(core.QueuePending)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.SetQueueDepth(string(core.QueuePending), len(pending))
	metrics.SetQueueDepth(string(core.QueueProcessing), len(processing))
	return append(processing, pending...), nil
}

func (e *Engine) acquire(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[id] {
		return false
	}
	e.inflight[id] = true
	return true
}

func (e *Engine) releaseEntry(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, id)
}
