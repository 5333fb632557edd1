package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/poiesic/kbase/accesslog"
	"github.com/poiesic/kbase/agentmeta"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/metrics"
	"github.com/poiesic/kbase/storage"
	"github.com/poiesic/kbase/vectorstore"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100

	// DefaultVerbatimBoost is added to the score of a chunk that contains
	// every query term.
	DefaultVerbatimBoost float32 = 0.3
)

// Searcher answers retrieval queries over an agent's chunks.
type Searcher struct {
	store    storage.Store
	vectors  vectorstore.Store
	meta     *agentmeta.Index
	access   *accesslog.Log
	logger   *slog.Logger
	boost    float32
	maxLimit int
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithVerbatimBoost sets the score bonus for chunks containing every query
// term. Zero disables it.
func WithVerbatimBoost(boost float32) Option {
	return func(s *Searcher) error {
		if boost < 0 {
			return fmt.Errorf("verbatim boost must not be negative, got %v", boost)
		}
		s.boost = boost
		return nil
	}
}

// WithMaxLimit caps the number of results a caller may ask for.
func WithMaxLimit(n int) Option {
	return func(s *Searcher) error {
		if n < 1 {
			return fmt.Errorf("max limit must be positive, got %d", n)
		}
		s.maxLimit = n
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(
	store storage.Store,
	vectors vectorstore.Store,
	meta *agentmeta.Index,
	access *accesslog.Log,
	opts ...Option,
) (*Searcher, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if meta == nil {
		return nil, ErrMetadataIndexRequired
	}
	if access == nil {
		return nil, ErrAccessLogRequired
	}

	s := &Searcher{
		store:    store,
		vectors:  vectors,
		meta:     meta,
		access:   access,
		logger:   slog.Default(),
		boost:    DefaultVerbatimBoost,
		maxLimit: MaxLimit,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "search")
	return s, nil
}

// Search returns up to limit of the agent's chunks ranked by relevance.
// A limit of zero selects DefaultLimit.
func (s *Searcher) Search(ctx context.Context, agentID, query string, limit int) ([]*core.SearchResult, error) {
	return s.SearchWithMonitor(ctx, agentID, query, limit, nil)
}

// SearchWithMonitor is Search with callbacks at each stage.
func (s *Searcher) SearchWithMonitor(ctx context.Context, agentID, query string, limit int, monitor Monitor) ([]*core.SearchResult, error) {
	if err := core.ValidateID("agentId", agentID); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query: %w", core.ErrInvalidInput, core.ErrEmptyField)
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 0 || limit > s.maxLimit {
		return nil, fmt.Errorf("%w: limit must be in [1, %d], got %d", core.ErrInvalidInput, s.maxLimit, limit)
	}
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	start := time.Now()
	monitor.Start(agentID, query)

	hits, err := s.vectors.Search(ctx, agentID, query, limit)
	metrics.CaptureDependency("vectorstore_search", time.Since(start))
	switch {
	case errors.Is(err, vectorstore.ErrNamespaceNotFound):
		hits = nil
	case err != nil:
		s.logger.Error("vector search failed", "agent", agentID, "err", err)
		return nil, fmt.Errorf("%w: vector search: %w", core.ErrExternalDependency, err)
	}
	monitor.AfterVectorSearch(hits)

	results, err := s.hydrate(ctx, agentID, hits, monitor)
	if err != nil {
		return nil, err
	}

	queryTerms := terms(query)
	for _, r := range results {
		if s.boost > 0 && containsAll(r.Chunk.Text, queryTerms) {
			r.Score += s.boost
			monitor.VerbatimHit(r.Chunk)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}

	keys := make([]string, len(results))
	accesses := make([]accesslog.Access, len(results))
	for i, r := range results {
		keys[i] = r.Chunk.ID
		accesses[i] = accesslog.Access{ChunkKey: r.Chunk.ID, Score: r.Score}
	}
	cacheHit, err := s.access.AllHot(ctx, agentID, keys)
	if err != nil {
		s.logger.Warn("hot set lookup failed", "agent", agentID, "err", err)
		cacheHit = false
	}
	if len(accesses) > 0 {
		if _, err := s.access.RecordBatch(ctx, agentID, accesses); err != nil {
			s.logger.Warn("failed to record chunk access", "agent", agentID, "err", err)
		}
	}

	elapsed := time.Since(start)
	if err := s.meta.RecordSearch(ctx, agentID, elapsed, cacheHit); err != nil {
		s.logger.Warn("failed to record search", "agent", agentID, "err", err)
	}
	metrics.ObserveSearch(elapsed)
	monitor.Finish(results, cacheHit)

	s.logger.Debug("search finished", "agent", agentID, "hits", len(hits), "results", len(results),
		"cacheHit", cacheHit, "elapsed", elapsed)
	return results, nil
}

// hydrate loads the chunk row behind each hit and fills in its access
// counters. Hits whose chunk is gone are skipped.
func (s *Searcher) hydrate(ctx context.Context, agentID string, hits []vectorstore.Hit, monitor Monitor) ([]*core.SearchResult, error) {
	results := make([]*core.SearchResult, 0, len(hits))
	var stale []vectorstore.Hit
	err := s.store.View(ctx, func(tx storage.Tx) error {
		seen := make(map[string]bool, len(hits))
		for _, hit := range hits {
			chunk, err := lookup(tx, hit)
			if errors.Is(err, storage.ErrNotFound) || (err == nil && chunk.AgentID != agentID) {
				stale = append(stale, hit)
				continue
			}
			if err != nil {
				return err
			}
			if seen[chunk.ID] {
				continue
			}
			seen[chunk.ID] = true

			entry, err := tx.AccessLog().Get(agentID, chunk.ID)
			switch {
			case err == nil:
				chunk.AccessCount = entry.AccessCount
				chunk.AvgRelevanceScore = entry.AvgRelevanceScore
				chunk.LastAccessedAt = entry.LastAccessedAt
			case !errors.Is(err, storage.ErrNotFound):
				return err
			}
			results = append(results, &core.SearchResult{Chunk: chunk, Score: hit.Score})
		}
		return nil
	})
	if err != nil {
		s.logger.Error("error hydrating search hits", "agent", agentID, "hits", len(hits), "err", err)
		return nil, err
	}
	for _, hit := range stale {
		s.logger.Debug("vector hit without chunk", "agent", agentID, "ragEntry", hit.RagEntryID)
		monitor.StaleHit(hit)
	}

	chunks := make([]*core.Chunk, len(results))
	for i, r := range results {
		chunks[i] = r.Chunk
	}
	monitor.AfterHydration(chunks)
	return results, nil
}

func lookup(tx storage.Tx, hit vectorstore.Hit) (*core.Chunk, error) {
	if hit.RagEntryID != "" {
		chunk, err := tx.Chunks().GetByRagEntry(hit.RagEntryID)
		if !errors.Is(err, storage.ErrNotFound) || hit.ChunkID == "" {
			return chunk, err
		}
	}
	if hit.ChunkID == "" {
		return nil, storage.ErrNotFound
	}
	return tx.Chunks().Get(hit.ChunkID)
}
