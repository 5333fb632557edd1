// Package accesslog counts how often each chunk is returned by search. The
// counters live in their own rows keyed by agent and chunk; chunk rows are
// never rewritten on read. Ingestion and deletion never touch the counters;
// rows of removed chunks are dropped by PruneMissing.
package accesslog

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

// ErrStoreRequired is returned when no store is provided.
var ErrStoreRequired = errors.New("store required")

const pruneBatch = 500

// Access is one retrieval of a chunk with its relevance score.
type Access struct {
	ChunkKey string
	Score    float32
}

// Log records chunk retrievals.
type Log struct {
	store  storage.Store
	hot    HotSet
	clock  core.Clock
	logger *slog.Logger
}

// Option configures a Log.
type Option func(*Log) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) error {
		if logger == nil {
			logger = slog.Default()
		}
		l.logger = logger
		return nil
	}
}

// WithClock sets the time source.
func WithClock(clock core.Clock) Option {
	return func(l *Log) error {
		if clock == nil {
			return errors.New("clock must not be nil")
		}
		l.clock = clock
		return nil
	}
}

// WithHotSet mirrors access counts into a shared hot set.
func WithHotSet(hot HotSet) Option {
	return func(l *Log) error {
		l.hot = hot
		return nil
	}
}

// NewLog creates an access log over store.
func NewLog(store storage.Store, opts ...Option) (*Log, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	l := &Log{
		store:  store,
		clock:  core.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	l.logger = l.logger.With("component", "accesslog")
	return l, nil
}

// RecordAccess counts one retrieval of chunkKey.
func (l *Log) RecordAccess(ctx context.Context, agentID, chunkKey string, score float32) (*core.ChunkAccessLogEntry, error) {
	entries, err := l.RecordBatch(ctx, agentID, []Access{{ChunkKey: chunkKey, Score: score}})
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// RecordBatch counts the retrievals of one search in a single transaction.
func (l *Log) RecordBatch(ctx context.Context, agentID string, accesses []Access) ([]*core.ChunkAccessLogEntry, error) {
	if err := core.ValidateID("agentId", agentID); err != nil {
		return nil, err
	}
	for _, a := range accesses {
		if err := core.ValidateID("chunkKey", a.ChunkKey); err != nil {
			return nil, err
		}
	}
	if len(accesses) == 0 {
		return nil, nil
	}

	var entries []*core.ChunkAccessLogEntry
	const attempts = 5
	var err error
	for n := 0; n < attempts; n++ {
		err = l.store.Update(ctx, func(tx storage.Tx) error {
			entries = entries[:0]
			now := l.clock.Now()
			for _, a := range accesses {
				e, err := apply(tx, agentID, a, now)
				if err != nil {
					return err
				}
				entries = append(entries, e)
			}
			return nil
		})
		if !errors.Is(err, storage.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	if l.hot != nil {
		keys := make([]string, len(accesses))
		for i, a := range accesses {
			keys[i] = a.ChunkKey
		}
		if err := l.hot.Incr(ctx, agentID, keys...); err != nil {
			// the durable counters are authoritative
			l.logger.Warn("hot set update failed", "agent", agentID, "err", err)
		}
	}
	return entries, nil
}

func apply(tx storage.Tx, agentID string, a Access, now time.Time) (*core.ChunkAccessLogEntry, error) {
	e, err := tx.AccessLog().Get(agentID, a.ChunkKey)
	if errors.Is(err, storage.ErrNotFound) {
		e = &core.ChunkAccessLogEntry{AgentID: agentID, ChunkKey: a.ChunkKey, FirstAccessedAt: now}
	} else if err != nil {
		return nil, err
	}
	n := float64(e.AccessCount)
	e.AvgRelevanceScore = (e.AvgRelevanceScore*n + float64(a.Score)) / (n + 1)
	e.AccessCount++
	e.LastAccessedAt = now
	if err := tx.AccessLog().Put(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Get returns the counters of one chunk.
func (l *Log) Get(ctx context.Context, agentID, chunkKey string) (*core.ChunkAccessLogEntry, error) {
	var e *core.ChunkAccessLogEntry
	err := l.store.View(ctx, func(tx storage.Tx) error {
		var err error
		e, err = tx.AccessLog().Get(agentID, chunkKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Hot returns the agent's most retrieved chunks, most frequent first.
func (l *Log) Hot(ctx context.Context, agentID string, limit int) ([]*core.ChunkAccessLogEntry, error) {
	entries, err := l.list(ctx, agentID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].AccessCount != entries[j].AccessCount {
			return entries[i].AccessCount > entries[j].AccessCount
		}
		return entries[i].LastAccessedAt.After(entries[j].LastAccessedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Cold returns the agent's chunks not retrieved since olderThan, least
// frequent first.
func (l *Log) Cold(ctx context.Context, agentID string, olderThan time.Time) ([]*core.ChunkAccessLogEntry, error) {
	entries, err := l.list(ctx, agentID)
	if err != nil {
		return nil, err
	}
	cold := entries[:0]
	for _, e := range entries {
		if e.LastAccessedAt.Before(olderThan) {
			cold = append(cold, e)
		}
	}
	sort.SliceStable(cold, func(i, j int) bool {
		return cold[i].AccessCount < cold[j].AccessCount
	})
	return cold, nil
}

// AllHot reports whether every key has been retrieved before. With a hot
// set configured the shared set answers; otherwise the durable counters do.
func (l *Log) AllHot(ctx context.Context, agentID string, keys []string) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}
	if l.hot != nil {
		return l.hot.Contains(ctx, agentID, keys...)
	}
	all := true
	err := l.store.View(ctx, func(tx storage.Tx) error {
		for _, k := range keys {
			_, err := tx.AccessLog().Get(agentID, k)
			if errors.Is(err, storage.ErrNotFound) {
				all = false
				return nil
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return all && err == nil, err
}

// PruneMissing drops the counters of chunks that no longer exist and
// removes them from the hot set. It returns how many rows were dropped.
func (l *Log) PruneMissing(ctx context.Context) (int, error) {
	pruned := 0
	cursor := ""
	for {
		var (
			page  []*core.ChunkAccessLogEntry
			stale []*core.ChunkAccessLogEntry
		)
		err := l.store.View(ctx, func(tx storage.Tx) error {
			var err error
			page, err = tx.AccessLog().Scan(cursor, pruneBatch)
			if err != nil {
				return err
			}
			for _, e := range page {
				_, err := tx.Chunks().Get(e.ChunkKey)
				if errors.Is(err, storage.ErrNotFound) {
					stale = append(stale, e)
				} else if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return pruned, err
		}
		if len(page) == 0 {
			return pruned, nil
		}
		cursor = storage.AccessCursor(page[len(page)-1])
		if len(stale) == 0 {
			continue
		}

		var dropped []*core.ChunkAccessLogEntry
		err = l.store.Update(ctx, func(tx storage.Tx) error {
			dropped = dropped[:0]
			for _, e := range stale {
				// recheck under the write transaction
				_, err := tx.Chunks().Get(e.ChunkKey)
				if err == nil {
					continue
				}
				if !errors.Is(err, storage.ErrNotFound) {
					return err
				}
				if err := tx.AccessLog().Delete(e.AgentID, e.ChunkKey); err != nil {
					return err
				}
				dropped = append(dropped, e)
			}
			return nil
		})
		if errors.Is(err, storage.ErrConflict) {
			// a concurrent search touched the page; the next run picks it up
			l.logger.Debug("access log prune conflicted", "cursor", cursor)
			continue
		}
		if err != nil {
			return pruned, err
		}
		pruned += len(dropped)
		l.evict(ctx, dropped)
	}
}

func (l *Log) evict(ctx context.Context, entries []*core.ChunkAccessLogEntry) {
	if l.hot == nil || len(entries) == 0 {
		return
	}
	byAgent := make(map[string][]string)
	for _, e := range entries {
		byAgent[e.AgentID] = append(byAgent[e.AgentID], e.ChunkKey)
	}
	for agentID, keys := range byAgent {
		if err := l.hot.Remove(ctx, agentID, keys...); err != nil {
			l.logger.Warn("hot set eviction failed", "agent", agentID, "err", err)
		}
	}
}

func (l *Log) list(ctx context.Context, agentID string) ([]*core.ChunkAccessLogEntry, error) {
	if err := core.ValidateID("agentId", agentID); err != nil {
		return nil, err
	}
	var entries []*core.ChunkAccessLogEntry
	err := l.store.View(ctx, func(tx storage.Tx) error {
		var err error
		entries, err = tx.AccessLog().ListByAgent(agentID)
		return err
	})
	return entries, err
}
