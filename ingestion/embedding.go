package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/kbase/agentmeta"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/metrics"
	"github.com/poiesic/kbase/storage"
	"github.com/poiesic/kbase/worker"
)

// embed upserts every chunk into the vector store on the embedding pool
// and completes the document. Any failure rolls the document back.
func (m *Manager) embed(ctx context.Context, s *core.IngestionSession, doc *core.Document, chunks []*core.Chunk) (*core.IngestionSession, error) {
	s, err := m.transition(ctx, s.ID, core.StageEmbedding)
	if err != nil {
		return nil, err
	}

	m.logger.Info("embedding chunks", "session", s.ID, "document", doc.ID, "chunks", len(chunks))
	start := time.Now()
	ragIDs := make([]string, len(chunks))
	err = m.pool.Each(ctx, len(chunks), func(ctx context.Context, i int) error {
		c := chunks[i]
		return worker.Retry(ctx, m.retry, func() error {
			id, err := m.vectors.Upsert(ctx, c.RagNamespace, c.ID, c.Text)
			if err != nil {
				return err
			}
			ragIDs[i] = id
			return nil
		})
	})
	metrics.CaptureDependency("vector_upsert", time.Since(start))
	if err != nil {
		return m.rollback(ctx, s.ID, fmt.Errorf("%w: embedding failed: %w", core.ErrExternalDependency, err))
	}

	err = m.update(ctx, func(tx storage.Tx) error {
		var err error
		s, err = tx.Sessions().Get(s.ID)
		if err != nil {
			return err
		}
		// A namespace wipe may have removed the document while it embedded.
		if _, err := tx.Documents().Get(doc.ID); err != nil {
			return fmt.Errorf("document %s: %w", doc.ID, err)
		}
		if meta, err := agentmeta.Load(tx, s.AgentID); err != nil {
			return err
		} else if meta.Status == core.AgentDeleting {
			return core.ErrAgentDeleting
		}
		now := m.clock.Now()
		for i, c := range chunks {
			c.RagEntryID = ragIDs[i]
			if err := tx.Chunks().Put(c); err != nil {
				return err
			}
		}
		doc.RagEntryIDs = ragIDs
		doc.Status = core.DocumentCompleted
		doc.ProcessedAt = now
		if err := tx.Documents().Put(doc); err != nil {
			return err
		}
		if _, err := m.meta.RecordIngest(tx, s.AgentID, s.OrganizationID, now); err != nil {
			return err
		}
		if err := m.advance(s, core.StageCompleted, now); err != nil {
			return err
		}
		return tx.Sessions().Put(s)
	})
	if err != nil {
		return m.rollback(ctx, s.ID, fmt.Errorf("complete document: %w", err))
	}
	metrics.ChunksPersisted(len(chunks))
	m.logger.Info("document completed", "session", s.ID, "document", doc.ID, "chunks", len(chunks))
	return s, nil
}

// rollback undoes a confirmed document after a failure and fails the
// session with cause.
func (m *Manager) rollback(ctx context.Context, id string, cause error) (*core.IngestionSession, error) {
	m.logger.Error("rolling back document", "session", id, "err", cause)
	s, err := m.Fail(context.WithoutCancel(ctx), id, cause)
	if err != nil {
		return nil, fmt.Errorf("%w (rollback failed: %v)", cause, err)
	}
	return s, cause
}
