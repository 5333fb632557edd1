package deletion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/metrics"
	"github.com/poiesic/kbase/storage"
	"github.com/poiesic/kbase/vectorstore"
	"github.com/poiesic/kbase/worker"
)

const conflictRetries = 5

// ProcessEntry drives one queue entry to a terminal status, or until ctx
// ends or a batch cannot be removed from the vector store. Calling it on a
// terminal entry does nothing. A batch that exhausts its retries leaves the
// entry processing at its last checkpoint and returns
// core.ErrDeletionPartialFailure.
func (e *Engine) ProcessEntry(ctx context.Context, id string) error {
	entry, err := e.claim(ctx, id)
	if errors.Is(err, errLostClaim) {
		e.logger.Debug("deletion claimed elsewhere", "entry", id)
		return nil
	}
	if err != nil || entry == nil {
		return err
	}

	metrics.IncrementActiveDeletionWorkers()
	defer metrics.DecrementActiveDeletionWorkers()

	var tracker *worker.ProgressTracker
	if e.progress != nil {
		tracker = worker.NewProgressTracker(e.progress, "deleting "+string(entry.DeletionType), entry.TotalItems, int64(entry.BatchSize))
		tracker.Start()
		tracker.Update(entry.ProcessedItems)
		defer tracker.Finish()
	}

	e.logger.Info("processing deletion", "entry", id, "agent", entry.AgentID, "type", entry.DeletionType,
		"processed", entry.ProcessedItems, "total", entry.TotalItems)

	for {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		entry, batch, err := e.nextBatch(ctx, id)
		if err != nil {
			return err
		}
		if entry.Status != core.QueueProcessing {
			return nil
		}
		if len(batch) == 0 {
			return e.complete(ctx, id)
		}

		if err := e.removeVectors(ctx, entry, batch); err != nil {
			metrics.DeletionBatch(false)
			if errors.Is(err, core.ErrInvalidInput) || errors.Is(err, core.ErrNotFound) {
				e.markFailed(ctx, id, err)
				return fmt.Errorf("delete vectors for %s: %w", id, err)
			}
			e.logger.Warn("deletion batch failed", "entry", id, "checkpoint", entry.Checkpoint, "error", err)
			return fmt.Errorf("%w: entry %s stopped at %d/%d: %w", core.ErrDeletionPartialFailure, id,
				entry.ProcessedItems, entry.TotalItems, err)
		}

		updated, err := e.commitBatch(ctx, entry.Checkpoint, id, batch)
		if err != nil {
			metrics.DeletionBatch(false)
			return err
		}
		if updated == nil {
			e.logger.Debug("deletion batch committed elsewhere", "entry", id)
			return nil
		}
		metrics.DeletionBatch(true)
		metrics.ItemsDeleted(string(updated.DeletionType), len(batch))
		if tracker != nil {
			tracker.SetTotal(updated.TotalItems)
			tracker.Update(updated.ProcessedItems)
		}
		e.logger.Debug("deletion batch committed", "entry", id, "processed", updated.ProcessedItems,
			"total", updated.TotalItems, "checkpoint", updated.Checkpoint)
		if updated.Status != core.QueueProcessing {
			e.logger.Info("deletion stopped", "entry", id, "status", updated.Status)
			return nil
		}
	}
}

// claim moves a pending entry to processing. It returns nil for terminal
// entries.
func (e *Engine) claim(ctx context.Context, id string) (*core.DeletionQueueEntry, error) {
	var entry *core.DeletionQueueEntry
	err := e.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		entry, err = tx.Queue().Get(id)
		if err != nil {
			return err
		}
		if entry.Status.IsTerminal() {
			entry = nil
			return nil
		}
		if entry.Status == core.QueuePending {
			entry.Status = core.QueueProcessing
			entry.StartedAt = e.clock.Now()
			return tx.Queue().Put(entry)
		}
		return nil
	})
	if errors.Is(err, storage.ErrConflict) {
		return nil, errLostClaim
	}
	return entry, err
}

// nextBatch reads the entry and the chunks after its checkpoint.
func (e *Engine) nextBatch(ctx context.Context, id string) (*core.DeletionQueueEntry, []*core.Chunk, error) {
	var (
		entry *core.DeletionQueueEntry
		batch []*core.Chunk
	)
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		entry, err = tx.Queue().Get(id)
		if err != nil {
			return err
		}
		if entry.Status != core.QueueProcessing {
			return nil
		}
		batch, err = selectBatch(tx, entry)
		return err
	})
	return entry, batch, err
}

func selectBatch(tx storage.Tx, entry *core.DeletionQueueEntry) ([]*core.Chunk, error) {
	switch entry.DeletionType {
	case core.DeleteFullNamespace:
		return tx.Chunks().ScanAgent(entry.AgentID, entry.Checkpoint, entry.BatchSize, nil)
	case core.DeleteCleanupOrphans:
		return tx.Chunks().ScanAgent(entry.AgentID, entry.Checkpoint, entry.BatchSize, orphanFilter(tx))
	case core.DeleteSpecificDocuments:
		ids, err := scopeChunkIDs(tx, entry)
		if err != nil {
			return nil, err
		}
		var batch []*core.Chunk
		for _, id := range ids {
			if id <= entry.Checkpoint {
				continue
			}
			c, err := tx.Chunks().Get(id)
			if err != nil {
				return nil, err
			}
			batch = append(batch, c)
			if len(batch) == entry.BatchSize {
				break
			}
		}
		return batch, nil
	}
	return nil, core.ValidateDeletionType(entry.DeletionType)
}

// removeVectors deletes the batch's vectors with one call, retrying
// transient failures. A namespace the vector store never saw has nothing to
// remove.
func (e *Engine) removeVectors(ctx context.Context, entry *core.DeletionQueueEntry, batch []*core.Chunk) error {
	ids := make([]string, 0, len(batch))
	for _, c := range batch {
		ns := c.RagNamespace
		if ns == "" {
			ns = entry.AgentID
		}
		if c.RagEntryID != "" {
			ids = append(ids, c.RagEntryID)
		} else {
			ids = append(ids, vectorstore.RagEntryID(ns, c.ID))
		}
	}
	return worker.Retry(ctx, e.retry, func() error {
		start := time.Now()
		err := e.vectors.Delete(ctx, entry.AgentID, ids...)
		metrics.CaptureDependency("vectorstore_delete", time.Since(start))
		switch {
		case err == nil, errors.Is(err, vectorstore.ErrNamespaceNotFound):
			return nil
		case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrNotFound):
			return worker.Permanent(err)
		}
		return err
	})
}

// commitBatch deletes the batch's rows and advances the entry, provided the
// checkpoint is still the one the batch was selected from. It returns nil
// when another worker already advanced the entry. A cancelled entry still
// records the batch whose vectors are gone.
func (e *Engine) commitBatch(ctx context.Context, from, id string, batch []*core.Chunk) (*core.DeletionQueueEntry, error) {
	var entry *core.DeletionQueueEntry
	err := e.update(ctx, func(tx storage.Tx) error {
		var err error
		entry, err = tx.Queue().Get(id)
		if err != nil {
			return err
		}
		if entry.Checkpoint != from || entry.Status == core.QueueCompleted || entry.Status == core.QueueFailed {
			entry = nil
			return nil
		}
		for _, c := range batch {
			if err := tx.Chunks().Delete(c.ID); err != nil {
				return fmt.Errorf("delete chunk %s: %w", c.ID, err)
			}
		}
		entry.ProcessedItems += int64(len(batch))
		entry.Checkpoint = batch[len(batch)-1].ID
		entry.TotalItems = max(entry.TotalItems, entry.ProcessedItems)
		if err := tx.Queue().Put(entry); err != nil {
			return err
		}
		if entry.Status == core.QueueCancelled {
			_, err = e.meta.Recompute(tx, entry.AgentID, entry.OrganizationID, e.clock.Now())
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// complete finalizes the entry: emptied documents get an audit record and
// leave the registry, the agent rollup is recomputed and a namespace wipe
// releases or retires the agent.
func (e *Engine) complete(ctx context.Context, id string) error {
	var (
		entry   *core.DeletionQueueEntry
		removed int
	)
	err := e.update(ctx, func(tx storage.Tx) error {
		removed = 0
		var err error
		entry, err = tx.Queue().Get(id)
		if err != nil {
			return err
		}
		if entry.Status != core.QueueProcessing {
			entry = nil
			return nil
		}
		now := e.clock.Now()

		docs, err := emptiedDocuments(tx, entry)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if _, err := e.audit.RecordDeletion(tx, doc, entry.RequestedBy, entry.Reason, now); err != nil {
				return err
			}
			if err := tx.Documents().Delete(doc.ID); err != nil {
				return err
			}
			removed++
		}

		meta, err := e.meta.Recompute(tx, entry.AgentID, entry.OrganizationID, now)
		if err != nil {
			return err
		}
		if entry.DeletionType == core.DeleteFullNamespace {
			status := core.AgentActive
			if entry.RemoveAgent && meta.TotalChunks == 0 {
				status = core.AgentDeleted
			}
			if err := e.meta.SetStatusTx(tx, entry.AgentID, entry.OrganizationID, status, now); err != nil {
				return err
			}
		}

		entry.Status = core.QueueCompleted
		entry.CompletedAt = now
		entry.TotalItems = entry.ProcessedItems
		return tx.Queue().Put(entry)
	})
	if err != nil || entry == nil {
		return err
	}
	e.logger.Info("deletion completed", "entry", id, "agent", entry.AgentID, "chunks", entry.ProcessedItems, "documents", removed)
	return nil
}

// emptiedDocuments lists the documents the entry removes once its chunks
// are gone.
func emptiedDocuments(tx storage.Tx, entry *core.DeletionQueueEntry) ([]*core.Document, error) {
	var candidates []*core.Document
	switch entry.DeletionType {
	case core.DeleteFullNamespace:
		return tx.Documents().ListByAgent(entry.AgentID)
	case core.DeleteSpecificDocuments:
		for _, id := range entry.DocumentIDs {
			doc, err := tx.Documents().Get(id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, doc)
		}
	case core.DeleteCleanupOrphans:
		docs, err := tx.Documents().ListByAgent(entry.AgentID)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			if doc.Status == core.DocumentFailed {
				candidates = append(candidates, doc)
			}
		}
	}
	var out []*core.Document
	for _, doc := range candidates {
		n, err := tx.Chunks().CountByDocument(doc.ID)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			out = append(out, doc)
		}
	}
	return out, nil
}

// markFailed records a permanent failure on the entry. A failed namespace
// wipe returns the agent to active.
func (e *Engine) markFailed(ctx context.Context, id string, cause error) {
	err := e.update(context.WithoutCancel(ctx), func(tx storage.Tx) error {
		entry, err := tx.Queue().Get(id)
		if err != nil {
			return err
		}
		if entry.Status.IsTerminal() {
			return nil
		}
		now := e.clock.Now()
		entry.Status = core.QueueFailed
		entry.ErrorMessage = cause.Error()
		entry.CompletedAt = now
		if err := tx.Queue().Put(entry); err != nil {
			return err
		}
		if entry.DeletionType == core.DeleteFullNamespace {
			if err := e.meta.SetStatusTx(tx, entry.AgentID, entry.OrganizationID, core.AgentActive, now); err != nil {
				return err
			}
		}
		_, err = e.meta.Recompute(tx, entry.AgentID, entry.OrganizationID, now)
		return err
	})
	if err != nil {
		e.logger.Error("failed to mark deletion failed", "entry", id, "error", err)
		return
	}
	e.logger.Error("deletion failed", "entry", id, "error", cause)
}

// update retries fn when a concurrent transaction wins.
func (e *Engine) update(ctx context.Context, fn func(tx storage.Tx) error) error {
	var err error
	for range conflictRetries {
		err = e.store.Update(ctx, fn)
		if !errors.Is(err, storage.ErrConflict) {
			return err
		}
	}
	return err
}
