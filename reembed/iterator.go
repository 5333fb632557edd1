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

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

const (
	// DefaultBatchSize is the default number of chunks to fetch in each batch
	DefaultBatchSize = 100
)

// ChunkIterator pages through one agent's chunks in id order.
type ChunkIterator struct {
	store     storage.Store
	agentID   string
	batchSize int
}

// NewChunkIterator creates a new chunk iterator.
// batchSize: number of chunks to fetch in each batch (must be > 0)
func NewChunkIterator(store storage.Store, agentID string, batchSize int) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ChunkIterator{
		store:     store,
		agentID:   agentID,
		batchSize: batchSize,
	}
}

// ForEach calls fn for each batch of chunks. Every batch is read in its own
// transaction, so fn may write. Iteration stops on the first error from fn.
func (it *ChunkIterator) ForEach(ctx context.Context, fn func([]*core.Chunk) error) error {
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var batch []*core.Chunk
		err := it.store.View(ctx, func(tx storage.Tx) error {
			var err error
			batch, err = tx.Chunks().ScanAgent(it.agentID, after, it.batchSize, nil)
			return err
		})
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		if err := fn(batch); err != nil {
			return err
		}
		after = batch[len(batch)-1].ID
		if len(batch) < it.batchSize {
			return nil
		}
	}
}
