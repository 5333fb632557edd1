package reembed

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
	"github.com/poiesic/kbase/vectorstore"
	"github.com/poiesic/kbase/worker"
)

// BatchProcessor upserts batches of chunks and records their vector ids.
type BatchProcessor struct {
	store   storage.Store
	vectors vectorstore.Store
	pool    *worker.Pool
	retry   worker.Policy
}

// NewBatchProcessor creates a new batch processor that fans upserts out
// over pool.
func NewBatchProcessor(store storage.Store, vectors vectorstore.Store, pool *worker.Pool, retry worker.Policy) *BatchProcessor {
	return &BatchProcessor{
		store:   store,
		vectors: vectors,
		pool:    pool,
		retry:   retry,
	}
}

// Process upserts every chunk and writes back changed RagEntryIDs. Chunks
// deleted while the batch was in flight are left deleted.
func (bp *BatchProcessor) Process(ctx context.Context, chunks []*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	err := bp.pool.Each(ctx, len(chunks), func(ctx context.Context, i int) error {
		c := chunks[i]
		ns := c.RagNamespace
		if ns == "" {
			ns = c.AgentID
		}
		return worker.Retry(ctx, bp.retry, func() error {
			id, err := bp.vectors.Upsert(ctx, ns, c.ID, c.Text)
			if errors.Is(err, vectorstore.ErrEmptyText) {
				return worker.Permanent(err)
			}
			ids[i] = id
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("%w: upsert batch: %w", core.ErrExternalDependency, err)
	}

	err = bp.store.Update(ctx, func(tx storage.Tx) error {
		for i, c := range chunks {
			current, err := tx.Chunks().Get(c.ID)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if current.RagEntryID == ids[i] {
				continue
			}
			current.RagEntryID = ids[i]
			if err := tx.Chunks().Put(current); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update chunks: %w", err)
	}
	return nil
}
