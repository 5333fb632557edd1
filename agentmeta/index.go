// Package agentmeta maintains the per-agent knowledge rollup. Counts are
// recomputed from the chunk store and document registry on every write.
package agentmeta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

// DefaultChunkKeysCacheSize bounds the cached chunk key list.
const DefaultChunkKeysCacheSize = 1000

// ErrStoreRequired is returned when no store is provided.
var ErrStoreRequired = errors.New("store required")

// Index reads and maintains AgentKnowledgeMetadata rows.
type Index struct {
	store     storage.Store
	clock     core.Clock
	cacheSize int
	logger    *slog.Logger
}

// Option configures an Index.
type Option func(*Index) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) error {
		if logger == nil {
			logger = slog.Default()
		}
		i.logger = logger
		return nil
	}
}

// WithClock sets the time source.
func WithClock(clock core.Clock) Option {
	return func(i *Index) error {
		if clock == nil {
			return errors.New("clock must not be nil")
		}
		i.clock = clock
		return nil
	}
}

// WithChunkKeysCacheSize bounds ChunkKeysCache. Zero disables the cache.
func WithChunkKeysCacheSize(n int) Option {
	return func(i *Index) error {
		if n < 0 {
			return fmt.Errorf("chunk keys cache size must not be negative, got %d", n)
		}
		i.cacheSize = n
		return nil
	}
}

// NewIndex creates a metadata index over store.
func NewIndex(store storage.Store, opts ...Option) (*Index, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	i := &Index{
		store:     store,
		clock:     core.SystemClock{},
		cacheSize: DefaultChunkKeysCacheSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	i.logger = i.logger.With("component", "agentmeta")
	return i, nil
}

// GetStats returns the agent's rollup, or the default projection when the
// agent has no knowledge yet. An unknown agent is never an error; a blank or
// malformed agent id is not an agent and fails with core.ErrInvalidInput.
func (i *Index) GetStats(ctx context.Context, agentID string) (*core.AgentKnowledgeMetadata, error) {
	if err := core.ValidateID("agentId", agentID); err != nil {
		return nil, err
	}
	var meta *core.AgentKnowledgeMetadata
	err := i.store.View(ctx, func(tx storage.Tx) error {
		var err error
		meta, err = Load(tx, agentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// List returns every stored rollup.
func (i *Index) List(ctx context.Context) ([]*core.AgentKnowledgeMetadata, error) {
	var out []*core.AgentKnowledgeMetadata
	err := i.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.Metadata().List()
		return err
	})
	return out, err
}

// Load reads the agent's row within tx, falling back to the default
// projection.
func Load(tx storage.Tx, agentID string) (*core.AgentKnowledgeMetadata, error) {
	meta, err := tx.Metadata().Get(agentID)
	if errors.Is(err, storage.ErrNotFound) {
		return core.DefaultAgentMetadata(agentID), nil
	}
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// Recompute recounts the agent's chunks, documents and stored bytes within
// tx and writes the row. Search signals and status are preserved.
func (i *Index) Recompute(tx storage.Tx, agentID, orgID string, now time.Time) (*core.AgentKnowledgeMetadata, error) {
	meta, err := Load(tx, agentID)
	if err != nil {
		return nil, err
	}
	if orgID != "" {
		meta.OrganizationID = orgID
	}

	chunks, err := tx.Chunks().CountByAgent(agentID)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	docs, size, err := tx.Documents().Totals(agentID)
	if err != nil {
		return nil, fmt.Errorf("document totals: %w", err)
	}
	meta.TotalChunks = chunks
	meta.DocumentCount = docs
	meta.TotalSizeBytes = size
	meta.UpdatedAt = now

	if i.cacheSize > 0 {
		keys, err := tx.Chunks().KeysByAgent(agentID, i.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("chunk keys: %w", err)
		}
		meta.ChunkKeysCache = keys
	} else {
		meta.ChunkKeysCache = nil
	}

	if err := tx.Metadata().Put(meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// RecordIngest recomputes the rollup and stamps LastIngestedAt.
func (i *Index) RecordIngest(tx storage.Tx, agentID, orgID string, now time.Time) (*core.AgentKnowledgeMetadata, error) {
	meta, err := i.Recompute(tx, agentID, orgID, now)
	if err != nil {
		return nil, err
	}
	meta.LastIngestedAt = now
	return meta, tx.Metadata().Put(meta)
}

// SetStatusTx changes the agent's status within tx.
func (i *Index) SetStatusTx(tx storage.Tx, agentID, orgID string, status core.AgentStatus, now time.Time) error {
	meta, err := Load(tx, agentID)
	if err != nil {
		return err
	}
	if orgID != "" {
		meta.OrganizationID = orgID
	}
	meta.Status = status
	meta.UpdatedAt = now
	return tx.Metadata().Put(meta)
}

// SetStatus changes the agent's status in its own transaction.
func (i *Index) SetStatus(ctx context.Context, agentID, orgID string, status core.AgentStatus) error {
	if err := core.ValidateID("agentId", agentID); err != nil {
		return err
	}
	switch status {
	case core.AgentActive, core.AgentDeleting, core.AgentDeleted:
	default:
		return fmt.Errorf("%w: unknown agent status %q", core.ErrInvalidInput, status)
	}
	err := i.update(ctx, func(tx storage.Tx) error {
		return i.SetStatusTx(tx, agentID, orgID, status, i.clock.Now())
	})
	if err == nil {
		i.logger.Info("agent status changed", "agent", agentID, "status", status)
	}
	return err
}

// RecordSearch folds one search into the agent's running latency and
// cache-hit averages.
func (i *Index) RecordSearch(ctx context.Context, agentID string, latency time.Duration, cacheHit bool) error {
	return i.update(ctx, func(tx storage.Tx) error {
		meta, err := Load(tx, agentID)
		if err != nil {
			return err
		}
		n := float64(meta.SearchCount)
		ms := float64(latency) / float64(time.Millisecond)
		hit := 0.0
		if cacheHit {
			hit = 1.0
		}
		meta.AvgSearchLatencyMs = (meta.AvgSearchLatencyMs*n + ms) / (n + 1)
		meta.SearchCacheHitRate = (meta.SearchCacheHitRate*n + hit) / (n + 1)
		meta.SearchCount++
		now := i.clock.Now()
		meta.LastSearchedAt = now
		meta.UpdatedAt = now
		return tx.Metadata().Put(meta)
	})
}

// RefreshChunkKeysCache reloads the bounded chunk key list used to seed bulk
// deletes.
func (i *Index) RefreshChunkKeysCache(ctx context.Context, agentID string) ([]string, error) {
	var keys []string
	err := i.update(ctx, func(tx storage.Tx) error {
		meta, err := Load(tx, agentID)
		if err != nil {
			return err
		}
		if i.cacheSize > 0 {
			keys, err = tx.Chunks().KeysByAgent(agentID, i.cacheSize)
			if err != nil {
				return err
			}
		}
		meta.ChunkKeysCache = keys
		meta.UpdatedAt = i.clock.Now()
		return tx.Metadata().Put(meta)
	})
	return keys, err
}

// update retries fn on write conflicts.
func (i *Index) update(ctx context.Context, fn func(tx storage.Tx) error) error {
	const attempts = 5
	var err error
	for n := 0; n < attempts; n++ {
		err = i.store.Update(ctx, fn)
		if !errors.Is(err, storage.ErrConflict) {
			return err
		}
		i.logger.Debug("metadata write conflict, retrying", "attempt", n+1)
	}
	return err
}
