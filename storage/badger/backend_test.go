package badger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
	assert.NoError(t, backend.RunGC(0.5))
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := t.TempDir()
	backend, err := OpenBackend(tmpDir+"/kb", false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	err = backend.View(context.Background(), func(tx storage.Tx) error { return nil })
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestUpdate_CancelledContext(t *testing.T) {
	backend := NewMemoryStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := backend.Update(ctx, func(tx storage.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestUpdate_ConflictingClaims(t *testing.T) {
	backend := NewMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, backend.Update(ctx, func(tx storage.Tx) error {
		return tx.Queue().Put(&core.DeletionQueueEntry{ID: "q1", AgentID: "a1", Status: core.QueuePending})
	}))

	// Two workers read the same pending entry; only the first commit wins.
	claim := func(tx storage.Tx) error {
		e, err := tx.Queue().Get("q1")
		if err != nil {
			return err
		}
		e.Status = core.QueueProcessing
		return tx.Queue().Put(e)
	}

	first := backend.db.NewTransaction(true)
	defer first.Discard()
	second := backend.db.NewTransaction(true)
	defer second.Discard()

	require.NoError(t, claim(&txn{tx: first}))
	require.NoError(t, claim(&txn{tx: second}))
	require.NoError(t, first.Commit())
	err := mapError(second.Commit())
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestChunkStore_ScanAgentAfterCheckpoint(t *testing.T) {
	backend := NewMemoryStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	require.NoError(t, backend.Update(ctx, func(tx storage.Tx) error {
		for i := 0; i < 10; i++ {
			c := &core.Chunk{
				ID:         core.NewULID(ts),
				DocumentID: fmt.Sprintf("doc%d", i%2),
				AgentID:    "agent",
				Text:       fmt.Sprintf("chunk %d", i),
				ChunkIndex: i / 2,
				RagEntryID: fmt.Sprintf("rag-%d", i),
			}
			ids = append(ids, c.ID)
			if err := tx.Chunks().Put(c); err != nil {
				return err
			}
		}
		// another agent's chunk must not leak into the scan
		return tx.Chunks().Put(&core.Chunk{ID: core.NewULID(ts), DocumentID: "x", AgentID: "agent2", Text: "other"})
	}))

	require.NoError(t, backend.View(ctx, func(tx storage.Tx) error {
		page, err := tx.Chunks().ScanAgent("agent", "", 4, nil)
		require.NoError(t, err)
		require.Len(t, page, 4)
		assert.Equal(t, ids[0], page[0].ID)

		page, err = tx.Chunks().ScanAgent("agent", page[3].ID, 4, nil)
		require.NoError(t, err)
		require.Len(t, page, 4)
		assert.Equal(t, ids[4], page[0].ID)

		onlyDoc1, err := tx.Chunks().ScanAgent("agent", "", 0, func(c *core.Chunk) (bool, error) {
			return c.DocumentID == "doc1", nil
		})
		require.NoError(t, err)
		assert.Len(t, onlyDoc1, 5)

		n, err := tx.Chunks().CountByAgent("agent")
		require.NoError(t, err)
		assert.Equal(t, int64(10), n)

		n, err = tx.Chunks().CountByDocument("doc0")
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)

		byRag, err := tx.Chunks().GetByRagEntry("rag-3")
		require.NoError(t, err)
		assert.Equal(t, ids[3], byRag.ID)
		return nil
	}))

	require.NoError(t, backend.Update(ctx, func(tx storage.Tx) error {
		return tx.Chunks().Delete(ids[3])
	}))
	require.NoError(t, backend.View(ctx, func(tx storage.Tx) error {
		_, err := tx.Chunks().GetByRagEntry("rag-3")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		n, err := tx.Chunks().CountByDocument("doc1")
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
		return nil
	}))
}

func TestSessionStore_ExpiryIndex(t *testing.T) {
	backend := NewMemoryStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, backend.Update(ctx, func(tx storage.Tx) error {
		for i, stage := range []core.Stage{core.StagePreviewReady, core.StagePreviewReady, core.StageCompleted} {
			err := tx.Sessions().Put(&core.IngestionSession{
				ID:        fmt.Sprintf("s%d", i),
				Stage:     stage,
				ExpiresAt: now.Add(time.Duration(i) * time.Hour),
			})
			if err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, backend.View(ctx, func(tx storage.Tx) error {
		expired, err := tx.Sessions().ListExpired(now.Add(90*time.Minute), 0)
		require.NoError(t, err)
		require.Len(t, expired, 2)
		assert.Equal(t, "s0", expired[0].ID)
		assert.Equal(t, "s1", expired[1].ID)
		return nil
	}))

	// Leaving preview_ready removes the session from the index.
	require.NoError(t, backend.Update(ctx, func(tx storage.Tx) error {
		s, err := tx.Sessions().Get("s0")
		if err != nil {
			return err
		}
		s.Stage = core.StageCancelled
		return tx.Sessions().Put(s)
	}))
	require.NoError(t, backend.View(ctx, func(tx storage.Tx) error {
		expired, err := tx.Sessions().ListExpired(now.Add(48*time.Hour), 0)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, "s1", expired[0].ID)
		return nil
	}))
}

func TestQueueStore_StatusIndex(t *testing.T) {
	backend := NewMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, backend.Update(ctx, func(tx storage.Tx) error {
		if err := tx.Queue().Put(&core.DeletionQueueEntry{ID: "q1", AgentID: "a", Status: core.QueuePending}); err != nil {
			return err
		}
		return tx.Queue().Put(&core.DeletionQueueEntry{ID: "q2", AgentID: "a", Status: core.QueuePending})
	}))
	require.NoError(t, backend.Update(ctx, func(tx storage.Tx) error {
		e, err := tx.Queue().Get("q1")
		if err != nil {
			return err
		}
		e.Status = core.QueueCompleted
		return tx.Queue().Put(e)
	}))

	require.NoError(t, backend.View(ctx, func(tx storage.Tx) error {
		pending, err := tx.Queue().ListByStatus(core.QueuePending)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "q2", pending[0].ID)

		all, err := tx.Queue().ListByAgent("a")
		require.NoError(t, err)
		assert.Len(t, all, 2)
		return nil
	}))
}

func TestAuditStore_ListDue(t *testing.T) {
	backend := NewMemoryStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, backend.Update(ctx, func(tx storage.Tx) error {
		for i := 0; i < 3; i++ {
			err := tx.Audit().Put(&core.DeletedFileRecord{
				ID:      fmt.Sprintf("r%d", i),
				AgentID: "a",
				PurgeAt: now.Add(time.Duration(i) * 24 * time.Hour),
			})
			if err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, backend.View(ctx, func(tx storage.Tx) error {
		due, err := tx.Audit().ListDue(now.Add(24*time.Hour), 0)
		require.NoError(t, err)
		assert.Len(t, due, 2, "PurgeAt equal to the cutoff is due")
		return nil
	}))
}

func TestCheckpointStore(t *testing.T) {
	backend := NewMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, backend.View(ctx, func(tx storage.Tx) error {
		cp, err := tx.Checkpoints().Load("expire")
		require.NoError(t, err)
		assert.Nil(t, cp)
		return nil
	}))

	require.NoError(t, backend.Update(ctx, func(tx storage.Tx) error {
		return tx.Checkpoints().Save(&core.SweepCheckpoint{Name: "expire", LastCount: 3, TotalRuns: 1})
	}))

	require.NoError(t, backend.View(ctx, func(tx storage.Tx) error {
		cp, err := tx.Checkpoints().Load("expire")
		require.NoError(t, err)
		require.NotNil(t, cp)
		assert.Equal(t, 3, cp.LastCount)
		return nil
	}))
}

func TestAccessLogStore_ScanAcrossAgents(t *testing.T) {
	backend := NewMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, backend.Update(ctx, func(tx storage.Tx) error {
		for _, e := range []*core.ChunkAccessLogEntry{
			{AgentID: "b", ChunkKey: "c1", AccessCount: 1},
			{AgentID: "a", ChunkKey: "c2", AccessCount: 1},
			{AgentID: "a", ChunkKey: "c1", AccessCount: 1},
		} {
			if err := tx.AccessLog().Put(e); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, backend.View(ctx, func(tx storage.Tx) error {
		page, err := tx.AccessLog().Scan("", 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "a:c1", storage.AccessCursor(page[0]))
		assert.Equal(t, "a:c2", storage.AccessCursor(page[1]))

		rest, err := tx.AccessLog().Scan(storage.AccessCursor(page[1]), 2)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, "b", rest[0].AgentID)
		return nil
	}))
}
