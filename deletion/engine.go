package deletion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/poiesic/kbase/agentmeta"
	"github.com/poiesic/kbase/audit"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
	"github.com/poiesic/kbase/vectorstore"
	"github.com/poiesic/kbase/worker"
	"golang.org/x/time/rate"
)

const (
	DefaultBatchSize    = 100
	MaxBatchSize        = 1000
	DefaultPollInterval = 5 * time.Second
)

// EnqueueRequest describes a deletion.
type EnqueueRequest struct {
	AgentID        string
	OrganizationID string
	Type           core.DeletionType
	// TargetKeys lists individual chunk ids to remove.
	TargetKeys  []string
	DocumentIDs []string
	// RemoveAgent marks the agent deleted once a namespace wipe finishes.
	RemoveAgent bool
	RequestedBy string
	Reason      string
	BatchSize   int
}

// Engine owns the deletion queue.
type Engine struct {
	store   storage.Store
	vectors vectorstore.Store
	meta    *agentmeta.Index
	audit   *audit.Log
	pool    *worker.Pool
	clock   core.Clock
	logger  *slog.Logger

	poolSize     int
	batchSize    int
	pollInterval time.Duration
	retry        worker.Policy
	limiter      *rate.Limiter
	progress     io.Writer

	mu       sync.Mutex
	inflight map[string]bool
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// WithClock sets the time source.
func WithClock(clock core.Clock) Option {
	return func(e *Engine) error {
		if clock == nil {
			return errors.New("clock must not be nil")
		}
		e.clock = clock
		return nil
	}
}

// WithPoolSize sets how many entries Run processes concurrently.
func WithPoolSize(size int) Option {
	return func(e *Engine) error {
		e.poolSize = size
		return nil
	}
}

// WithBatchSize sets the default batch size for new entries.
func WithBatchSize(n int) Option {
	return func(e *Engine) error {
		if n < 1 || n > MaxBatchSize {
			return fmt.Errorf("batch size must be in [1, %d], got %d", MaxBatchSize, n)
		}
		e.batchSize = n
		return nil
	}
}

// WithPollInterval sets how often Run looks for work.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) error {
		if d <= 0 {
			return fmt.Errorf("poll interval must be positive, got %s", d)
		}
		e.pollInterval = d
		return nil
	}
}

// WithRetryPolicy sets the retry policy for vector deletes.
func WithRetryPolicy(p worker.Policy) Option {
	return func(e *Engine) error {
		if p.MaxAttempts <= 0 {
			return worker.ErrInvalidMaxAttempts
		}
		e.retry = p
		return nil
	}
}

// WithBatchRate paces batches across all entries. Zero means unlimited.
func WithBatchRate(perSecond float64, burst int) Option {
	return func(e *Engine) error {
		if perSecond <= 0 {
			e.limiter = rate.NewLimiter(rate.Inf, 0)
			return nil
		}
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		return nil
	}
}

// WithProgress reports batch progress of ProcessEntry to w.
func WithProgress(w io.Writer) Option {
	return func(e *Engine) error {
		e.progress = w
		return nil
	}
}

// NewEngine creates a deletion engine.
func NewEngine(store storage.Store, vectors vectorstore.Store, meta *agentmeta.Index, auditLog *audit.Log, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if meta == nil {
		return nil, ErrMetadataIndexRequired
	}
	if auditLog == nil {
		return nil, ErrAuditLogRequired
	}
	e := &Engine{
		store:        store,
		vectors:      vectors,
		meta:         meta,
		audit:        auditLog,
		clock:        core.SystemClock{},
		logger:       slog.Default(),
		poolSize:     worker.DefaultPoolSize(),
		batchSize:    DefaultBatchSize,
		pollInterval: DefaultPollInterval,
		retry:        worker.DefaultPolicy,
		limiter:      rate.NewLimiter(rate.Inf, 0),
		inflight:     make(map[string]bool),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "deletion")
	pool, err := worker.NewPool("deletion", e.poolSize, e.logger)
	if err != nil {
		return nil, err
	}
	e.pool = pool
	return e, nil
}

// Release stops the worker pool.
func (e *Engine) Release() {
	e.pool.Release()
}

// Enqueue records a deletion request. A namespace wipe marks the agent
// deleting until it completes or is cancelled; a second wipe request while
// one is in flight returns the existing entry.
func (e *Engine) Enqueue(ctx context.Context, req EnqueueRequest) (*core.DeletionQueueEntry, error) {
	if err := core.ValidateID("agentId", req.AgentID); err != nil {
		return nil, err
	}
	if err := core.ValidateID("organizationId", req.OrganizationID); err != nil {
		return nil, err
	}
	if err := core.ValidateDeletionType(req.Type); err != nil {
		return nil, err
	}
	if req.Type == core.DeleteSpecificDocuments && len(req.DocumentIDs) == 0 && len(req.TargetKeys) == 0 {
		return nil, fmt.Errorf("%w: specific_documents needs document ids or target keys", core.ErrInvalidInput)
	}
	for _, id := range append(slices.Clone(req.DocumentIDs), req.TargetKeys...) {
		if err := core.ValidateID("id", id); err != nil {
			return nil, err
		}
	}
	batch := req.BatchSize
	if batch == 0 {
		batch = e.batchSize
	}
	if batch < 1 || batch > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch size must be in [1, %d], got %d", core.ErrInvalidInput, MaxBatchSize, batch)
	}

	var entry *core.DeletionQueueEntry
	err := e.update(ctx, func(tx storage.Tx) error {
		now := e.clock.Now()
		if existing, err := e.findDuplicate(tx, req); err != nil || existing != nil {
			entry = existing
			return err
		}

		entry = &core.DeletionQueueEntry{
			ID:             core.NewULID(now),
			AgentID:        req.AgentID,
			OrganizationID: req.OrganizationID,
			DeletionType:   req.Type,
			TargetKeys:     dedupe(req.TargetKeys),
			DocumentIDs:    dedupe(req.DocumentIDs),
			Status:         core.QueuePending,
			BatchSize:      batch,
			RemoveAgent:    req.RemoveAgent,
			RequestedBy:    req.RequestedBy,
			Reason:         req.Reason,
			CreatedAt:      now,
		}
		total, err := e.countScope(tx, entry)
		if err != nil {
			return err
		}
		entry.TotalItems = total

		if req.Type == core.DeleteFullNamespace {
			if err := e.meta.SetStatusTx(tx, req.AgentID, req.OrganizationID, core.AgentDeleting, now); err != nil {
				return err
			}
		}
		return tx.Queue().Put(entry)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("deletion enqueued", "entry", entry.ID, "agent", entry.AgentID, "type", entry.DeletionType, "items", entry.TotalItems)
	return entry, nil
}

// DeleteDocument enqueues removal of one document.
func (e *Engine) DeleteDocument(ctx context.Context, agentID, orgID, documentID, requestedBy, reason string) (*core.DeletionQueueEntry, error) {
	return e.Enqueue(ctx, EnqueueRequest{
		AgentID:        agentID,
		OrganizationID: orgID,
		Type:           core.DeleteSpecificDocuments,
		DocumentIDs:    []string{documentID},
		RequestedBy:    requestedBy,
		Reason:         reason,
	})
}

// DeleteAgentNamespace enqueues a wipe of everything the agent knows.
func (e *Engine) DeleteAgentNamespace(ctx context.Context, agentID, orgID string, removeAgent bool, requestedBy, reason string) (*core.DeletionQueueEntry, error) {
	return e.Enqueue(ctx, EnqueueRequest{
		AgentID:        agentID,
		OrganizationID: orgID,
		Type:           core.DeleteFullNamespace,
		RemoveAgent:    removeAgent,
		RequestedBy:    requestedBy,
		Reason:         reason,
	})
}

// CleanupOrphans enqueues removal of chunks whose document is gone or failed.
func (e *Engine) CleanupOrphans(ctx context.Context, agentID, orgID, requestedBy string) (*core.DeletionQueueEntry, error) {
	return e.Enqueue(ctx, EnqueueRequest{
		AgentID:        agentID,
		OrganizationID: orgID,
		Type:           core.DeleteCleanupOrphans,
		RequestedBy:    requestedBy,
		Reason:         "orphan cleanup",
	})
}

// Cancel stops a pending or processing entry after its current batch.
func (e *Engine) Cancel(ctx context.Context, id string) (*core.DeletionQueueEntry, error) {
	var entry *core.DeletionQueueEntry
	err := e.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		entry, err = tx.Queue().Get(id)
		if err != nil {
			return err
		}
		if entry.Status.IsTerminal() {
			return fmt.Errorf("%w: deletion %s is %s", core.ErrInvalidState, id, entry.Status)
		}
		now := e.clock.Now()
		entry.Status = core.QueueCancelled
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
	if errors.Is(err, storage.ErrConflict) {
		return nil, fmt.Errorf("%w: deletion %s was modified concurrently", core.ErrInvalidState, id)
	}
	if err != nil {
		return nil, err
	}
	e.logger.Info("deletion cancelled", "entry", id, "processed", entry.ProcessedItems, "total", entry.TotalItems)
	return entry, nil
}

// Get returns one entry.
func (e *Engine) Get(ctx context.Context, id string) (*core.DeletionQueueEntry, error) {
	var entry *core.DeletionQueueEntry
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		entry, err = tx.Queue().Get(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns the agent's entries, oldest first.
func (e *Engine) List(ctx context.Context, agentID string) ([]*core.DeletionQueueEntry, error) {
	if err := core.ValidateID("agentId", agentID); err != nil {
		return nil, err
	}
	var entries []*core.DeletionQueueEntry
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		entries, err = tx.Queue().ListByAgent(agentID)
		return err
	})
	return entries, err
}

// GetStatus reports the agent's latest in-flight deletion, or its latest
// finished one, or nothing.
func (e *Engine) GetStatus(ctx context.Context, agentID string) (core.DeletionStatus, error) {
	entries, err := e.List(ctx, agentID)
	if err != nil {
		return core.DeletionStatus{}, err
	}
	if len(entries) == 0 {
		return core.DeletionStatus{}, nil
	}
	pick := entries[len(entries)-1]
	for i := len(entries) - 1; i >= 0; i-- {
		if !entries[i].Status.IsTerminal() {
			pick = entries[i]
			break
		}
	}
	return core.DeletionStatus{
		EntryID:        pick.ID,
		Status:         pick.Status,
		InProgress:     !pick.Status.IsTerminal(),
		Progress:       pick.Progress(),
		ProcessedItems: pick.ProcessedItems,
		TotalItems:     pick.TotalItems,
		Error:          pick.ErrorMessage,
	}, nil
}

// findDuplicate returns an in-flight entry that already covers req.
func (e *Engine) findDuplicate(tx storage.Tx, req EnqueueRequest) (*core.DeletionQueueEntry, error) {
	if req.Type == core.DeleteCleanupOrphans || len(req.TargetKeys) > 0 {
		return nil, nil
	}
	entries, err := tx.Queue().ListByAgent(req.AgentID)
	if err != nil {
		return nil, err
	}
	for _, existing := range entries {
		if existing.Status.IsTerminal() || existing.DeletionType != req.Type {
			continue
		}
		if req.Type == core.DeleteFullNamespace {
			return existing, nil
		}
		if slices.Equal(dedupe(req.DocumentIDs), existing.DocumentIDs) {
			return existing, nil
		}
	}
	return nil, nil
}

// countScope validates the entry's scope and counts the chunks in it.
func (e *Engine) countScope(tx storage.Tx, entry *core.DeletionQueueEntry) (int64, error) {
	switch entry.DeletionType {
	case core.DeleteFullNamespace:
		n, err := tx.Chunks().CountByAgent(entry.AgentID)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			docs, _, err := tx.Documents().Totals(entry.AgentID)
			if err != nil {
				return 0, err
			}
			if _, err := tx.Metadata().Get(entry.AgentID); errors.Is(err, storage.ErrNotFound) && docs == 0 {
				return 0, fmt.Errorf("%w: agent %s has no knowledge", core.ErrNotFound, entry.AgentID)
			}
		}
		return n, nil
	case core.DeleteSpecificDocuments:
		for _, id := range entry.DocumentIDs {
			doc, err := tx.Documents().Get(id)
			if errors.Is(err, storage.ErrNotFound) {
				return 0, fmt.Errorf("%w: document %s", core.ErrNotFound, id)
			}
			if err != nil {
				return 0, err
			}
			if doc.AgentID != entry.AgentID {
				return 0, fmt.Errorf("%w: document %s does not belong to agent %s", core.ErrNotFound, id, entry.AgentID)
			}
		}
		ids, err := scopeChunkIDs(tx, entry)
		if err != nil {
			return 0, err
		}
		return int64(len(ids)), nil
	case core.DeleteCleanupOrphans:
		orphans, err := tx.Chunks().ScanAgent(entry.AgentID, "", 0, orphanFilter(tx))
		if err != nil {
			return 0, err
		}
		return int64(len(orphans)), nil
	}
	return 0, core.ValidateDeletionType(entry.DeletionType)
}

// scopeChunkIDs lists the chunk ids named by a specific_documents entry,
// sorted and unique.
func scopeChunkIDs(tx storage.Tx, entry *core.DeletionQueueEntry) ([]string, error) {
	set := make(map[string]bool)
	for _, docID := range entry.DocumentIDs {
		chunks, err := tx.Chunks().ListByDocument(docID)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			set[c.ID] = true
		}
	}
	for _, key := range entry.TargetKeys {
		c, err := tx.Chunks().Get(key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if c.AgentID == entry.AgentID {
			set[c.ID] = true
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// orphanFilter accepts chunks whose document is missing or failed.
func orphanFilter(tx storage.Tx) storage.ChunkFilter {
	docs := make(map[string]bool)
	return func(c *core.Chunk) (bool, error) {
		orphan, ok := docs[c.DocumentID]
		if ok {
			return orphan, nil
		}
		doc, err := tx.Documents().Get(c.DocumentID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			orphan = true
		case err != nil:
			return false, err
		default:
			orphan = doc.Status == core.DocumentFailed
		}
		docs[c.DocumentID] = orphan
		return orphan, nil
	}
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
