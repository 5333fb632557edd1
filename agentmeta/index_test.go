package agentmeta

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

func seed(t *testing.T, store storage.Store, agentID, docID string, size int64, chunks int) {
	t.Helper()
	err := store.Update(context.Background(), func(tx storage.Tx) error {
		if err := tx.Documents().Put(&core.Document{
			ID: docID, AgentID: agentID, OrganizationID: "org", FileSize: size, Status: core.DocumentCompleted,
		}); err != nil {
			return err
		}
		for i := 0; i < chunks; i++ {
			if err := tx.Chunks().Put(&core.Chunk{
				ID: fmt.Sprintf("%s-%03d", docID, i), DocumentID: docID, AgentID: agentID,
				Text: "text", ChunkIndex: i, TotalChunks: chunks, RagNamespace: agentID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestGetStatsDefault(t *testing.T) {
	idx, err := NewIndex(badger.NewMemoryStore(t))
	require.NoError(t, err)

	meta, err := idx.GetStats(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, core.AgentActive, meta.Status)
	assert.Zero(t, meta.TotalChunks)
	assert.Zero(t, meta.DocumentCount)

	meta, err = idx.GetStats(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Equal(t, "never-seen", meta.AgentID)

	_, err = idx.GetStats(context.Background(), "")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = idx.GetStats(context.Background(), "a:b")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestNewIndexRequiresStore(t *testing.T) {
	_, err := NewIndex(nil)
	assert.ErrorIs(t, err, ErrStoreRequired)
}

func TestRecompute(t *testing.T) {
	store := badger.NewMemoryStore(t)
	clock := core.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	idx, err := NewIndex(store, WithClock(clock), WithChunkKeysCacheSize(2))
	require.NoError(t, err)

	seed(t, store, "agent-1", "doc-a", 1000, 3)
	seed(t, store, "agent-1", "doc-b", 500, 2)
	seed(t, store, "agent-2", "doc-c", 42, 7)

	err = store.Update(context.Background(), func(tx storage.Tx) error {
		_, err := idx.RecordIngest(tx, "agent-1", "org", clock.Now())
		return err
	})
	require.NoError(t, err)

	meta, err := idx.GetStats(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), meta.TotalChunks)
	assert.Equal(t, int64(2), meta.DocumentCount)
	assert.Equal(t, int64(1500), meta.TotalSizeBytes)
	assert.Equal(t, "org", meta.OrganizationID)
	assert.Equal(t, clock.Now(), meta.LastIngestedAt)
	assert.Equal(t, []string{"doc-a-000", "doc-a-001"}, meta.ChunkKeysCache)

	// removing rows and recomputing brings the counts back down
	err = store.Update(context.Background(), func(tx storage.Tx) error {
		for i := 0; i < 3; i++ {
			if err := tx.Chunks().Delete(fmt.Sprintf("doc-a-%03d", i)); err != nil {
				return err
			}
		}
		if err := tx.Documents().Delete("doc-a"); err != nil {
			return err
		}
		_, err := idx.Recompute(tx, "agent-1", "", clock.Now())
		return err
	})
	require.NoError(t, err)

	meta, err = idx.GetStats(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), meta.TotalChunks)
	assert.Equal(t, int64(1), meta.DocumentCount)
	assert.Equal(t, int64(500), meta.TotalSizeBytes)
	assert.Equal(t, "org", meta.OrganizationID, "org is kept when not supplied")
}

func TestSetStatus(t *testing.T) {
	idx, err := NewIndex(badger.NewMemoryStore(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, idx.SetStatus(ctx, "agent-1", "org", core.AgentDeleting))
	meta, err := idx.GetStats(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, core.AgentDeleting, meta.Status)

	err = idx.SetStatus(ctx, "agent-1", "org", core.AgentStatus("paused"))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestRecordSearchRunningAverages(t *testing.T) {
	clock := core.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	idx, err := NewIndex(badger.NewMemoryStore(t), WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, idx.RecordSearch(ctx, "agent-1", 100*time.Millisecond, true))
	require.NoError(t, idx.RecordSearch(ctx, "agent-1", 200*time.Millisecond, false))
	clock.Advance(time.Minute)
	require.NoError(t, idx.RecordSearch(ctx, "agent-1", 300*time.Millisecond, false))

	meta, err := idx.GetStats(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta.SearchCount)
	assert.InDelta(t, 200.0, meta.AvgSearchLatencyMs, 0.001)
	assert.InDelta(t, 1.0/3.0, meta.SearchCacheHitRate, 0.001)
	assert.Equal(t, clock.Now(), meta.LastSearchedAt)
}

func TestRefreshChunkKeysCache(t *testing.T) {
	store := badger.NewMemoryStore(t)
	idx, err := NewIndex(store, WithChunkKeysCacheSize(3))
	require.NoError(t, err)
	seed(t, store, "agent-1", "doc-a", 10, 5)

	keys, err := idx.RefreshChunkKeysCache(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-a-000", "doc-a-001", "doc-a-002"}, keys)

	meta, err := idx.GetStats(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, keys, meta.ChunkKeysCache)
}
