package reembed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
	"github.com/poiesic/kbase/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedChunks stores n chunks of one completed document for agentID.
func seedChunks(t *testing.T, store storage.Store, agentID string, n int) (*core.Document, []*core.Chunk) {
	t.Helper()
	now := time.Now()
	doc := &core.Document{
		ID:         core.NewULID(now),
		AgentID:    agentID,
		FileName:   "notes.txt",
		FileType:   "txt",
		Status:     core.DocumentCompleted,
		ChunkCount: n,
	}
	chunks := make([]*core.Chunk, n)
	for i := range chunks {
		chunks[i] = &core.Chunk{
			ID:           core.NewULID(now),
			DocumentID:   doc.ID,
			AgentID:      agentID,
			Text:         fmt.Sprintf("test chunk %d", i),
			ChunkIndex:   i,
			TotalChunks:  n,
			RagNamespace: agentID,
		}
	}
	err := store.Update(context.Background(), func(tx storage.Tx) error {
		if err := tx.Documents().Put(doc); err != nil {
			return err
		}
		for _, c := range chunks {
			if err := tx.Chunks().Put(c); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return doc, chunks
}

func TestChunkIterator_Basic(t *testing.T) {
	store := badger.NewMemoryStore(t)
	_, chunks := seedChunks(t, store, "agent-1", 7)
	seedChunks(t, store, "agent-2", 3)

	var batches [][]*core.Chunk
	err := NewChunkIterator(store, "agent-1", 3).ForEach(context.Background(), func(batch []*core.Chunk) error {
		batches = append(batches, batch)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 3)
	assert.Len(t, batches[2], 1)

	var seen []string
	for _, b := range batches {
		for _, c := range b {
			assert.Equal(t, "agent-1", c.AgentID)
			seen = append(seen, c.ID)
		}
	}
	for i, c := range chunks {
		assert.Equal(t, c.ID, seen[i])
	}
}

func TestChunkIterator_Empty(t *testing.T) {
	store := badger.NewMemoryStore(t)
	calls := 0
	err := NewChunkIterator(store, "agent-1", 0).ForEach(context.Background(), func([]*core.Chunk) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestChunkIterator_ExactMultipleAndErrors(t *testing.T) {
	store := badger.NewMemoryStore(t)
	seedChunks(t, store, "agent-1", 4)

	calls := 0
	err := NewChunkIterator(store, "agent-1", 2).ForEach(context.Background(), func([]*core.Chunk) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	boom := fmt.Errorf("boom")
	err = NewChunkIterator(store, "agent-1", 2).ForEach(context.Background(), func([]*core.Chunk) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewChunkIterator(store, "agent-1", 2).ForEach(ctx, func([]*core.Chunk) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
