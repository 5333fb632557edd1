package deletion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/kbase/accesslog"
	"github.com/poiesic/kbase/agentmeta"
	"github.com/poiesic/kbase/audit"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
	"github.com/poiesic/kbase/storage/badger"
	"github.com/poiesic/kbase/vectorstore/mock"
	"github.com/poiesic/kbase/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store   *badger.Backend
	vectors *mock.MockStore
	meta    *agentmeta.Index
	audit   *audit.Log
	access  *accesslog.Log
	clock   *core.FakeClock
	engine  *Engine
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:   badger.NewMemoryStore(t),
		vectors: mock.NewMockStore(),
		clock:   core.NewFakeClock(time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)),
	}
	var err error
	h.meta, err = agentmeta.NewIndex(h.store, agentmeta.WithClock(h.clock))
	require.NoError(t, err)
	h.audit, err = audit.NewLog(h.store, audit.WithClock(h.clock))
	require.NoError(t, err)
	h.access, err = accesslog.NewLog(h.store, accesslog.WithClock(h.clock))
	require.NoError(t, err)
	h.engine = h.newEngine(t, opts...)
	return h
}

func (h *harness) newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithClock(h.clock),
		WithPoolSize(2),
		WithRetryPolicy(worker.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}),
	}
	e, err := NewEngine(h.store, h.vectors, h.meta, h.audit, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(e.Release)
	return e
}

// seed stores a completed document with n embedded chunks.
func (h *harness) seed(t *testing.T, agentID string, n int, status core.DocumentStatus) *core.Document {
	t.Helper()
	ctx := context.Background()
	now := h.clock.Now()
	doc := &core.Document{
		ID:             core.NewULID(now),
		OrganizationID: "org-1",
		AgentID:        agentID,
		FileName:       fmt.Sprintf("doc-%d.txt", n),
		FileType:       "txt",
		FileSize:       int64(n * 10),
		SourceType:     "upload",
		Status:         status,
		ChunkCount:     n,
		UploadedAt:     now,
	}
	chunks := make([]*core.Chunk, n)
	for i := range chunks {
		c := &core.Chunk{
			ID:             core.NewULID(now),
			DocumentID:     doc.ID,
			AgentID:        agentID,
			OrganizationID: "org-1",
			Text:           fmt.Sprintf("chunk %d of %s", i, doc.ID),
			TokenCount:     4,
			ChunkIndex:     i,
			TotalChunks:    n,
			RagNamespace:   agentID,
			CreatedAt:      now,
		}
		ragID, err := h.vectors.Inner.Upsert(ctx, agentID, c.ID, c.Text)
		require.NoError(t, err)
		c.RagEntryID = ragID
		doc.RagEntryIDs = append(doc.RagEntryIDs, ragID)
		chunks[i] = c
	}
	err := h.store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.Documents().Put(doc); err != nil {
			return err
		}
		for _, c := range chunks {
			if err := tx.Chunks().Put(c); err != nil {
				return err
			}
		}
		_, err := h.meta.RecordIngest(tx, agentID, "org-1", now)
		return err
	})
	require.NoError(t, err)
	return doc
}

func (h *harness) chunkCount(t *testing.T, agentID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.store.View(context.Background(), func(tx storage.Tx) error {
		var err error
		n, err = tx.Chunks().CountByAgent(agentID)
		return err
	}))
	return n
}

func TestNewEngineRequirements(t *testing.T) {
	h := newHarness(t)
	_, err := NewEngine(nil, h.vectors, h.meta, h.audit)
	assert.ErrorIs(t, err, ErrStoreRequired)
	_, err = NewEngine(h.store, nil, h.meta, h.audit)
	assert.ErrorIs(t, err, ErrVectorStoreRequired)
	_, err = NewEngine(h.store, h.vectors, nil, h.audit)
	assert.ErrorIs(t, err, ErrMetadataIndexRequired)
	_, err = NewEngine(h.store, h.vectors, h.meta, nil)
	assert.ErrorIs(t, err, ErrAuditLogRequired)
	_, err = NewEngine(h.store, h.vectors, h.meta, h.audit, WithBatchSize(0))
	assert.Error(t, err)
}

func TestBatchedNamespaceDeletionAdvancesProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "agent-1", 150, core.DocumentCompleted)
	h.seed(t, "agent-1", 100, core.DocumentCompleted)

	entry, err := h.engine.DeleteAgentNamespace(ctx, "agent-1", "org-1", false, "user-1", "reset")
	require.NoError(t, err)
	assert.Equal(t, int64(250), entry.TotalItems)
	assert.Equal(t, DefaultBatchSize, entry.BatchSize)

	stats, err := h.meta.GetStats(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, core.AgentDeleting, stats.Status)

	var (
		mu   sync.Mutex
		seen []int64
	)
	h.vectors.SetDeleteFunc(func(ctx context.Context, ns string, ids ...string) error {
		current, err := h.engine.Get(ctx, entry.ID)
		if err != nil {
			return err
		}
		mu.Lock()
		seen = append(seen, current.ProcessedItems)
		mu.Unlock()
		return h.vectors.Inner.Delete(ctx, ns, ids...)
	})

	require.NoError(t, h.engine.ProcessEntry(ctx, entry.ID))

	assert.Equal(t, []int64{0, 100, 200}, seen)
	calls := h.vectors.DeleteCalls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[0], 100)
	assert.Len(t, calls[1], 100)
	assert.Len(t, calls[2], 50)

	done, err := h.engine.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, core.QueueCompleted, done.Status)
	assert.Equal(t, int64(250), done.ProcessedItems)
	assert.Equal(t, 100, done.Progress())
	assert.Zero(t, h.vectors.Inner.Len("agent-1"))
	assert.Zero(t, h.chunkCount(t, "agent-1"))

	stats, err = h.meta.GetStats(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, core.AgentActive, stats.Status)
	assert.Zero(t, stats.TotalChunks)
	assert.Zero(t, stats.DocumentCount)
	assert.Zero(t, stats.TotalSizeBytes)

	records, err := h.audit.List(ctx, "agent-1")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	// A finished entry is left alone.
	require.NoError(t, h.engine.ProcessEntry(ctx, entry.ID))
	assert.Len(t, h.vectors.DeleteCalls(), 3)
}

func TestRemoveAgentRetiresAgent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "agent-1", 5, core.DocumentCompleted)

	entry, err := h.engine.DeleteAgentNamespace(ctx, "agent-1", "org-1", true, "user-1", "offboard")
	require.NoError(t, err)
	require.NoError(t, h.engine.ProcessEntry(ctx, entry.ID))

	stats, err := h.meta.GetStats(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, core.AgentDeleted, stats.Status)
	assert.Zero(t, stats.TotalChunks)
}

func TestDuplicateNamespaceRequestReturnsExistingEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "agent-1", 3, core.DocumentCompleted)

	first, err := h.engine.DeleteAgentNamespace(ctx, "agent-1", "org-1", false, "u", "")
	require.NoError(t, err)
	second, err := h.engine.DeleteAgentNamespace(ctx, "agent-1", "org-1", false, "u", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	entries, err := h.engine.List(ctx, "agent-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDeleteSpecificDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doomed := h.seed(t, "agent-1", 4, core.DocumentCompleted)
	kept := h.seed(t, "agent-1", 3, core.DocumentCompleted)

	var doomedChunks []*core.Chunk
	require.NoError(t, h.store.View(ctx, func(tx storage.Tx) error {
		var err error
		doomedChunks, err = tx.Chunks().ListByDocument(doomed.ID)
		return err
	}))
	_, err := h.access.RecordAccess(ctx, "agent-1", doomedChunks[0].ID, 0.9)
	require.NoError(t, err)

	entry, err := h.engine.DeleteDocument(ctx, "agent-1", "org-1", doomed.ID, "user-1", "outdated")
	require.NoError(t, err)
	assert.Equal(t, int64(4), entry.TotalItems)
	require.NoError(t, h.engine.ProcessEntry(ctx, entry.ID))

	assert.Equal(t, int64(3), h.chunkCount(t, "agent-1"))
	assert.Equal(t, 3, h.vectors.Inner.Len("agent-1"))
	for _, id := range kept.RagEntryIDs {
		assert.True(t, h.vectors.Inner.Has("agent-1", id))
	}

	var docs []*core.Document
	require.NoError(t, h.store.View(ctx, func(tx storage.Tx) error {
		var err error
		docs, err = tx.Documents().ListByAgent("agent-1")
		return err
	}))
	require.Len(t, docs, 1)
	assert.Equal(t, kept.ID, docs[0].ID)

	records, err := h.audit.List(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, doomed.ID, records[0].DocumentID)
	assert.Equal(t, "user-1", records[0].DeletedBy)
	assert.Equal(t, "outdated", records[0].DeletionReason)

	// access counters outlive the chunk until the log prunes them
	_, err = h.access.Get(ctx, "agent-1", doomedChunks[0].ID)
	require.NoError(t, err)
	pruned, err := h.access.PruneMissing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	_, err = h.access.Get(ctx, "agent-1", doomedChunks[0].ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	stats, err := h.meta.GetStats(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalChunks)
	assert.Equal(t, int64(1), stats.DocumentCount)
	assert.Equal(t, core.AgentActive, stats.Status)
}

func TestEnqueueValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "agent-1", 2, core.DocumentCompleted)
	other := h.seed(t, "agent-2", 2, core.DocumentCompleted)

	_, err := h.engine.DeleteDocument(ctx, "agent-1", "org-1", "missing", "u", "")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = h.engine.DeleteDocument(ctx, "agent-1", "org-1", other.ID, "u", "")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = h.engine.DeleteAgentNamespace(ctx, "ghost", "org-1", false, "u", "")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = h.engine.Enqueue(ctx, EnqueueRequest{AgentID: "agent-1", OrganizationID: "org-1", Type: "everything"})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = h.engine.Enqueue(ctx, EnqueueRequest{AgentID: "agent-1", OrganizationID: "org-1", Type: core.DeleteSpecificDocuments})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = h.engine.Enqueue(ctx, EnqueueRequest{AgentID: "agent-1", OrganizationID: "org-1", Type: core.DeleteFullNamespace, BatchSize: MaxBatchSize + 1})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = h.engine.Enqueue(ctx, EnqueueRequest{AgentID: "a:b", OrganizationID: "org-1", Type: core.DeleteFullNamespace})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestPartialFailureKeepsCheckpointAndResumes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "agent-1", 250, core.DocumentCompleted)

	entry, err := h.engine.Enqueue(ctx, EnqueueRequest{
		AgentID: "agent-1", OrganizationID: "org-1", Type: core.DeleteFullNamespace,
	})
	require.NoError(t, err)

	calls := 0
	h.vectors.SetDeleteFunc(func(ctx context.Context, ns string, ids ...string) error {
		calls++
		if calls > 1 {
			return errors.New("vector store unavailable")
		}
		return h.vectors.Inner.Delete(ctx, ns, ids...)
	})

	err = h.engine.ProcessEntry(ctx, entry.ID)
	require.ErrorIs(t, err, core.ErrDeletionPartialFailure)

	stuck, err := h.engine.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, core.QueueProcessing, stuck.Status)
	assert.Equal(t, int64(100), stuck.ProcessedItems)
	assert.NotEmpty(t, stuck.Checkpoint)
	assert.Equal(t, int64(150), h.chunkCount(t, "agent-1"))

	status, err := h.engine.GetStatus(ctx, "agent-1")
	require.NoError(t, err)
	assert.True(t, status.InProgress)
	assert.Equal(t, 40, status.Progress)

	// A fresh engine over the same store picks up where the last one stopped.
	h.vectors.SetDeleteFunc(nil)
	restarted := h.newEngine(t)
	done, err := restarted.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, done)

	finished, err := restarted.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, core.QueueCompleted, finished.Status)
	assert.Equal(t, int64(250), finished.ProcessedItems)
	assert.Zero(t, h.chunkCount(t, "agent-1"))
	assert.Zero(t, h.vectors.Inner.Len("agent-1"))
}

func TestPermanentVectorErrorFailsEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "agent-1", 10, core.DocumentCompleted)

	entry, err := h.engine.DeleteAgentNamespace(ctx, "agent-1", "org-1", false, "u", "")
	require.NoError(t, err)
	h.vectors.SetDeleteFunc(func(context.Context, string, ...string) error {
		return fmt.Errorf("%w: malformed id", core.ErrInvalidInput)
	})

	err = h.engine.ProcessEntry(ctx, entry.ID)
	require.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Len(t, h.vectors.DeleteCalls(), 1)

	failed, err := h.engine.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, core.QueueFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, "malformed id")

	stats, err := h.meta.GetStats(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, core.AgentActive, stats.Status)
	assert.Equal(t, int64(10), stats.TotalChunks)
}

func TestCancelStopsAfterCurrentBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "agent-1", 250, core.DocumentCompleted)

	entry, err := h.engine.DeleteAgentNamespace(ctx, "agent-1", "org-1", false, "u", "")
	require.NoError(t, err)

	h.vectors.SetDeleteFunc(func(ctx context.Context, ns string, ids ...string) error {
		if _, err := h.engine.Cancel(ctx, entry.ID); err != nil {
			return err
		}
		return h.vectors.Inner.Delete(ctx, ns, ids...)
	})
	require.NoError(t, h.engine.ProcessEntry(ctx, entry.ID))

	cancelled, err := h.engine.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, core.QueueCancelled, cancelled.Status)
	assert.Equal(t, int64(100), cancelled.ProcessedItems)
	assert.Len(t, h.vectors.DeleteCalls(), 1)

	stats, err := h.meta.GetStats(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, core.AgentActive, stats.Status)
	assert.Equal(t, int64(150), stats.TotalChunks)

	_, err = h.engine.Cancel(ctx, entry.ID)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestCleanupOrphans(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "agent-1", 3, core.DocumentCompleted)
	broken := h.seed(t, "agent-1", 2, core.DocumentFailed)

	entry, err := h.engine.CleanupOrphans(ctx, "agent-1", "org-1", "sweeper")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.TotalItems)
	require.NoError(t, h.engine.ProcessEntry(ctx, entry.ID))

	assert.Equal(t, int64(3), h.chunkCount(t, "agent-1"))
	records, err := h.audit.List(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, broken.ID, records[0].DocumentID)
}

func TestGetStatusWithoutEntries(t *testing.T) {
	h := newHarness(t)
	status, err := h.engine.GetStatus(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.False(t, status.InProgress)
	assert.Empty(t, status.EntryID)
}

func TestRunProcessesQueue(t *testing.T) {
	h := newHarness(t)
	var progress bytes.Buffer
	h.engine = h.newEngine(t, WithPollInterval(10*time.Millisecond), WithBatchSize(5), WithProgress(&progress))
	h.seed(t, "agent-1", 12, core.DocumentCompleted)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	entry, err := h.engine.DeleteAgentNamespace(ctx, "agent-1", "org-1", false, "u", "")
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() { runDone <- h.engine.Run(ctx) }()

	require.Eventually(t, func() bool {
		e, err := h.engine.Get(context.Background(), entry.ID)
		return err == nil && e.Status == core.QueueCompleted
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-runDone)

	assert.Len(t, h.vectors.DeleteCalls(), 3)
	assert.Zero(t, h.chunkCount(t, "agent-1"))
}

func TestTwoWorkersShareOneEntry(t *testing.T) {
	h := newHarness(t, WithBatchSize(10))
	other := h.newEngine(t, WithBatchSize(10))
	ctx := context.Background()
	for range 5 {
		h.seed(t, "agent-1", 50, core.DocumentCompleted)
	}

	entry, err := h.engine.DeleteAgentNamespace(ctx, "agent-1", "org-1", false, "u", "")
	require.NoError(t, err)
	require.Equal(t, int64(250), entry.TotalItems)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, e := range []*Engine{h.engine, other} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = e.ProcessEntry(ctx, entry.ID)
		}()
	}
	wg.Wait()
	require.NoError(t, errors.Join(errs...))

	entry, err = h.engine.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, core.QueueCompleted, entry.Status)
	assert.Equal(t, int64(250), entry.ProcessedItems)
	assert.Equal(t, int64(250), entry.TotalItems)
	assert.Zero(t, h.chunkCount(t, "agent-1"))
	assert.Zero(t, h.vectors.Inner.Len("agent-1"))

	stats, err := h.meta.GetStats(ctx, "agent-1")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalChunks)
	assert.Equal(t, core.AgentActive, stats.Status)
}

func TestRunProcessesAgentsConcurrently(t *testing.T) {
	h := newHarness(t)
	h.engine = h.newEngine(t, WithPollInterval(10*time.Millisecond), WithBatchSize(5), WithPoolSize(2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.seed(t, "agent-1", 30, core.DocumentCompleted)
	doomed := h.seed(t, "agent-2", 20, core.DocumentCompleted)
	kept := h.seed(t, "agent-2", 10, core.DocumentCompleted)

	wipe, err := h.engine.DeleteAgentNamespace(ctx, "agent-1", "org-1", true, "u", "")
	require.NoError(t, err)
	single, err := h.engine.DeleteDocument(ctx, "agent-2", "org-1", doomed.ID, "u", "")
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() { runDone <- h.engine.Run(ctx) }()

	require.Eventually(t, func() bool {
		a, errA := h.engine.Get(context.Background(), wipe.ID)
		b, errB := h.engine.Get(context.Background(), single.ID)
		return errA == nil && errB == nil && a.Status == core.QueueCompleted && b.Status == core.QueueCompleted
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-runDone)

	wipe, err = h.engine.Get(context.Background(), wipe.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), wipe.ProcessedItems)
	single, err = h.engine.Get(context.Background(), single.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), single.ProcessedItems)

	assert.Zero(t, h.chunkCount(t, "agent-1"))
	assert.Equal(t, int64(10), h.chunkCount(t, "agent-2"))
	for _, id := range kept.RagEntryIDs {
		assert.True(t, h.vectors.Inner.Has("agent-2", id))
	}

	stats, err := h.meta.GetStats(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, core.AgentDeleted, stats.Status)
	stats, err = h.meta.GetStats(context.Background(), "agent-2")
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.TotalChunks)
	assert.Equal(t, core.AgentActive, stats.Status)
}

// racingStore commits interfere between fn and the commit of the next
// races updates.
type racingStore struct {
	storage.Store
	races     int
	interfere func()
}

func (s *racingStore) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.Store.Update(ctx, func(tx storage.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		if s.races > 0 {
			s.races--
			s.interfere()
		}
		return nil
	})
}

func TestEnqueueRetriesAfterConcurrentSearch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "agent-1", 3, core.DocumentCompleted)

	racing := &racingStore{Store: h.store, races: 2, interfere: func() {
		require.NoError(t, h.meta.RecordSearch(ctx, "agent-1", time.Millisecond, false))
	}}
	e, err := NewEngine(racing, h.vectors, h.meta, h.audit, WithClock(h.clock))
	require.NoError(t, err)
	t.Cleanup(e.Release)

	entry, err := e.DeleteAgentNamespace(ctx, "agent-1", "org-1", false, "u", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), entry.TotalItems)
	assert.Zero(t, racing.races)

	entries, err := h.engine.List(ctx, "agent-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	stats, err := h.meta.GetStats(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, core.AgentDeleting, stats.Status)
	assert.Equal(t, int64(2), stats.SearchCount)
}
