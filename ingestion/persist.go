package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/kbase/agentmeta"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
	"github.com/poiesic/kbase/vectorstore"
)

// persistTx writes the document and one chunk row per preview chunk, moves
// the session to persisting and recomputes the agent rollup, all within tx.
// An agent retired by a namespace wipe becomes active again.
func (m *Manager) persistTx(tx storage.Tx, s *core.IngestionSession, preview []core.PreviewChunk, now time.Time) (*core.Document, []*core.Chunk, error) {
	doc := &core.Document{
		ID:             core.NewULID(now),
		OrganizationID: s.OrganizationID,
		AgentID:        s.AgentID,
		FileName:       s.FileName,
		FileType:       s.FileType,
		FileSize:       s.FileSize,
		SourceType:     s.SourceType,
		Status:         core.DocumentProcessing,
		ChunkCount:     len(preview),
		UploadedAt:     s.UploadedAt,
	}

	ids := make([]string, len(preview))
	for i := range preview {
		ids[i] = core.NewULID(now)
	}
	chunks := make([]*core.Chunk, len(preview))
	seen := make(map[string]bool, len(preview))
	for i, p := range preview {
		c := &core.Chunk{
			ID:             ids[i],
			DocumentID:     doc.ID,
			AgentID:        s.AgentID,
			OrganizationID: s.OrganizationID,
			Text:           p.Text,
			TokenCount:     p.TokenCount,
			ChunkIndex:     i,
			TotalChunks:    len(preview),
			PageNumber:     p.Metadata.PageNumber,
			SectionTitle:   p.Metadata.SectionTitle,
			HierarchyLevel: p.Metadata.HierarchyLevel,
			RagNamespace:   s.AgentID,
			CreatedAt:      now,
		}
		if pi := p.Metadata.ParentIndex; pi != nil && *pi >= 0 && *pi < len(ids) {
			c.ParentChunkID = ids[*pi]
		}
		c.Quality = m.quality(p.Text, seen)
		chunks[i] = c
	}

	if err := tx.Documents().Put(doc); err != nil {
		return nil, nil, err
	}
	for _, c := range chunks {
		if err := tx.Chunks().Put(c); err != nil {
			return nil, nil, err
		}
	}
	meta, err := m.meta.Recompute(tx, s.AgentID, s.OrganizationID, now)
	if err != nil {
		return nil, nil, err
	}
	if meta.Status == core.AgentDeleted {
		// new content brings a retired agent back
		if err := m.meta.SetStatusTx(tx, s.AgentID, s.OrganizationID, core.AgentActive, now); err != nil {
			return nil, nil, err
		}
		m.logger.Info("reactivating retired agent", "agent", s.AgentID, "session", s.ID)
	}

	s.DocumentID = doc.ID
	s.ChunkCount = len(chunks)
	if err := m.advance(s, core.StagePersisting, now); err != nil {
		return nil, nil, err
	}
	if err := tx.Sessions().Put(s); err != nil {
		return nil, nil, err
	}
	return doc, chunks, nil
}

// quality computes the advisory flags for one chunk. seen collects the
// content hashes of earlier chunks in the same document.
func (m *Manager) quality(text string, seen map[string]bool) core.QualityFlags {
	hash := core.ContentHash(text)
	flags := core.QualityFlags{
		ContentHash:  hash,
		IsDuplicate:  seen[hash],
		IsLowQuality: len(strings.TrimSpace(text)) < m.minChunkChars,
	}
	seen[hash] = true
	return flags
}

// persistDirect is confirm without the preview gate.
func (m *Manager) persistDirect(ctx context.Context, id string, preview []core.PreviewChunk) (*core.IngestionSession, error) {
	var (
		session  *core.IngestionSession
		doc      *core.Document
		chunks   []*core.Chunk
		deleting bool
	)
	err := m.update(ctx, func(tx storage.Tx) error {
		var err error
		deleting = false
		session, err = tx.Sessions().Get(id)
		if err != nil {
			return err
		}
		now := m.clock.Now()
		meta, err := agentmeta.Load(tx, session.AgentID)
		if err != nil {
			return err
		}
		if meta.Status == core.AgentDeleting {
			deleting = true
			session.ErrorMessage = core.ErrAgentDeleting.Error()
			if err := m.advance(session, core.StageFailed, now); err != nil {
				return err
			}
			return tx.Sessions().Put(session)
		}
		doc, chunks, err = m.persistTx(tx, session, preview, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if deleting {
		return session, fmt.Errorf("%w: agent %s", core.ErrAgentDeleting, session.AgentID)
	}
	return m.embed(ctx, session, doc, chunks)
}

// removeDocumentTx deletes the session's document and chunks within tx and
// returns the removed chunks.
func (m *Manager) removeDocumentTx(tx storage.Tx, s *core.IngestionSession, now time.Time) ([]*core.Chunk, error) {
	chunks, err := tx.Chunks().ListByDocument(s.DocumentID)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if err := tx.Chunks().Delete(c.ID); err != nil {
			return nil, err
		}
	}
	if err := tx.Documents().Delete(s.DocumentID); err != nil {
		return nil, err
	}
	if _, err := m.meta.Recompute(tx, s.AgentID, s.OrganizationID, now); err != nil {
		return nil, err
	}
	s.DocumentID = ""
	return chunks, nil
}

// deleteVectors removes any vectors the chunks may have. Rag entry ids are
// derived from the chunk id, so entries whose upsert raced the failure are
// covered too.
func (m *Manager) deleteVectors(ctx context.Context, agentID string, chunks []*core.Chunk) {
	if len(chunks) == 0 {
		return
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = vectorstore.RagEntryID(agentID, c.ID)
	}
	err := m.vectors.Delete(context.WithoutCancel(ctx), agentID, ids...)
	if err != nil && !errors.Is(err, vectorstore.ErrNamespaceNotFound) {
		m.logger.Error("failed to remove vectors of rolled back chunks", "agent", agentID, "count", len(ids), "err", err)
	}
}
