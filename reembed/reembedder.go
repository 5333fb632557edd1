// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/kbase/agentmeta"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
	"github.com/poiesic/kbase/vectorstore"
	"github.com/poiesic/kbase/worker"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of chunks to process in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// MaxRetries is the maximum number of attempts per upsert
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// Workers bounds concurrent upserts within a batch
	Workers int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
		Workers:        worker.DefaultPoolSize(),
	}
}

// Reembedder rebuilds the vectors of one agent at a time.
type Reembedder struct {
	store    storage.Store
	vectors  vectorstore.Store
	config   *Config
	progress io.Writer
	logger   *slog.Logger
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(store storage.Store, vectors vectorstore.Store, config *Config, progress io.Writer, logger *slog.Logger) (*Reembedder, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRetries <= 0 {
		return nil, worker.ErrInvalidMaxAttempts
	}
	if progress == nil {
		progress = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reembedder{
		store:    store,
		vectors:  vectors,
		config:   config,
		progress: progress,
		logger:   logger.With("component", "reembed"),
	}, nil
}

// Run reembeds every chunk of agentID and returns how many were processed.
// Agents whose knowledge is being deleted are refused.
func (r *Reembedder) Run(ctx context.Context, agentID string) (int, error) {
	if err := core.ValidateID("agentId", agentID); err != nil {
		return 0, err
	}

	var total int64
	err := r.store.View(ctx, func(tx storage.Tx) error {
		meta, err := agentmeta.Load(tx, agentID)
		if err != nil {
			return err
		}
		if meta.Status == core.AgentDeleting {
			return core.ErrAgentDeleting
		}
		total, err = tx.Chunks().CountByAgent(agentID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No chunks found for agent %s (0 chunks)\n", agentID)
		return 0, nil
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d chunks for agent %s (batch size: %d)\n",
		total, agentID, r.config.BatchSize)

	pool, err := worker.NewPool("reembed", r.config.Workers, r.logger)
	if err != nil {
		return 0, err
	}
	defer pool.Release()

	processor := NewBatchProcessor(r.store, r.vectors, pool, worker.Policy{
		MaxAttempts: r.config.MaxRetries,
		BaseDelay:   r.config.RetryDelay,
	})
	tracker := worker.NewProgressTracker(r.progress, "reembed "+agentID, total, int64(r.config.ReportInterval))
	tracker.Start()

	processed := 0
	err = NewChunkIterator(r.store, agentID, r.config.BatchSize).ForEach(ctx, func(chunks []*core.Chunk) error {
		if err := processor.Process(ctx, chunks); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		processed += len(chunks)
		tracker.Update(int64(processed))
		return nil
	})
	if err != nil {
		r.logger.Error("reembed stopped", "agent", agentID, "processed", processed, "err", err)
		return processed, err
	}
	tracker.Finish()

	if err := r.refreshDocuments(ctx, agentID); err != nil {
		return processed, err
	}

	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d chunks in %v (%.1f chunks/sec)\n",
		processed, elapsed.Round(time.Second), float64(processed)/max(elapsed.Seconds(), 1e-9))
	r.logger.Info("reembed finished", "agent", agentID, "chunks", processed)
	return processed, nil
}

// refreshDocuments rebuilds each completed document's RagEntryIDs from its
// chunks.
func (r *Reembedder) refreshDocuments(ctx context.Context, agentID string) error {
	return r.store.Update(ctx, func(tx storage.Tx) error {
		docs, err := tx.Documents().ListByAgent(agentID)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if doc.Status != core.DocumentCompleted {
				continue
			}
			chunks, err := tx.Chunks().ListByDocument(doc.ID)
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(chunks))
			for _, c := range chunks {
				if c.RagEntryID != "" {
					ids = append(ids, c.RagEntryID)
				}
			}
			doc.RagEntryIDs = ids
			if err := tx.Documents().Put(doc); err != nil {
				return err
			}
		}
		return nil
	})
}
