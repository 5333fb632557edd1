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

package storage

import (
	"context"
	"time"

	"github.com/poiesic/kbase/core"
)

// Store is the transactional entry point to persisted knowledge state.
type Store interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error

	// Update runs fn in a read-write transaction and commits it when fn
	// returns nil. If another transaction committed a conflicting write
	// first, Update returns ErrConflict and nothing is written.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// Tx exposes the per-entity stores bound to one transaction.
type Tx interface {
	Sessions() SessionStore
	Documents() DocumentStore
	Chunks() ChunkStore
	Metadata() MetadataStore
	Queue() QueueStore
	Audit() AuditStore
	AccessLog() AccessLogStore
	Checkpoints() CheckpointStore
}

// SessionStore persists ingestion sessions. Preview chunks are encoded
// inside the session row.
type SessionStore interface {
	// Get returns ErrNotFound if the session doesn't exist.
	Get(id string) (*core.IngestionSession, error)

	// Put inserts or replaces a session and maintains the expiry index,
	// which only covers sessions in preview_ready.
	Put(session *core.IngestionSession) error

	Delete(id string) error

	// ListExpired returns preview_ready sessions whose ExpiresAt is before
	// the given time, oldest first, up to limit.
	ListExpired(before time.Time, limit int) ([]*core.IngestionSession, error)
}

// DocumentStore is the document registry.
type DocumentStore interface {
	// Get returns ErrNotFound if the document doesn't exist.
	Get(id string) (*core.Document, error)

	Put(doc *core.Document) error

	// Delete removes the document row and its agent index entry.
	// Deleting a missing document is not an error.
	Delete(id string) error

	// ListByAgent returns the agent's documents ordered by document id.
	ListByAgent(agentID string) ([]*core.Document, error)

	// Totals returns the agent's document count and summed FileSize.
	Totals(agentID string) (count int64, sizeBytes int64, err error)
}

// ChunkFilter decides whether a chunk belongs to a scan's scope.
type ChunkFilter func(chunk *core.Chunk) (bool, error)

// ChunkStore is the source of truth for chunk counts.
type ChunkStore interface {
	// Get returns ErrNotFound if the chunk doesn't exist.
	Get(id string) (*core.Chunk, error)

	// Put inserts or replaces a chunk and maintains the agent, document and
	// rag-entry indexes.
	Put(chunk *core.Chunk) error

	// Delete removes a chunk and all of its index entries.
	// Deleting a missing chunk is not an error.
	Delete(id string) error

	// GetByRagEntry resolves a vector store reference to its chunk.
	GetByRagEntry(ragEntryID string) (*core.Chunk, error)

	// ListByDocument returns the document's chunks ordered by chunk id.
	ListByDocument(documentID string) ([]*core.Chunk, error)

	// ScanAgent returns up to limit of the agent's chunks whose id sorts
	// strictly after the given id, in chunk id order. When keep is non-nil
	// only chunks it accepts are returned and counted toward limit.
	ScanAgent(agentID, after string, limit int, keep ChunkFilter) ([]*core.Chunk, error)

	// CountByAgent counts the agent's chunks with a key-only scan.
	CountByAgent(agentID string) (int64, error)

	// CountByDocument counts the document's chunks with a key-only scan.
	CountByDocument(documentID string) (int64, error)

	// KeysByAgent returns up to limit chunk ids of the agent in id order.
	KeysByAgent(agentID string, limit int) ([]string, error)
}

// MetadataStore persists the per-agent knowledge rollup.
type MetadataStore interface {
	// Get returns ErrNotFound if the agent has no metadata row.
	Get(agentID string) (*core.AgentKnowledgeMetadata, error)
	Put(meta *core.AgentKnowledgeMetadata) error
	Delete(agentID string) error
	List() ([]*core.AgentKnowledgeMetadata, error)
}

// QueueStore persists deletion queue entries with status and agent indexes.
type QueueStore interface {
	// Get returns ErrNotFound if the entry doesn't exist.
	Get(id string) (*core.DeletionQueueEntry, error)

	// Put inserts or replaces an entry and moves its status index entry.
	Put(entry *core.DeletionQueueEntry) error

	// ListByStatus returns entries with the given status ordered by id.
	ListByStatus(status core.QueueStatus) ([]*core.DeletionQueueEntry, error)

	// ListByAgent returns the agent's entries ordered by id.
	ListByAgent(agentID string) ([]*core.DeletionQueueEntry, error)
}

// AuditStore persists deleted-file records with purge-time and agent indexes.
type AuditStore interface {
	// Get returns ErrNotFound if the record doesn't exist.
	Get(id string) (*core.DeletedFileRecord, error)
	Put(record *core.DeletedFileRecord) error
	Delete(id string) error

	// ListDue returns records with PurgeAt at or before the given time,
	// ordered by PurgeAt, up to limit.
	ListDue(at time.Time, limit int) ([]*core.DeletedFileRecord, error)

	// ListByAgent returns the agent's records ordered by id.
	ListByAgent(agentID string) ([]*core.DeletedFileRecord, error)
}

// AccessLogStore persists chunk retrieval counters keyed by agent and chunk.
type AccessLogStore interface {
	// Get returns ErrNotFound if the chunk was never accessed.
	Get(agentID, chunkKey string) (*core.ChunkAccessLogEntry, error)
	Put(entry *core.ChunkAccessLogEntry) error
	Delete(agentID, chunkKey string) error
	ListByAgent(agentID string) ([]*core.ChunkAccessLogEntry, error)

	// Scan returns up to limit rows of every agent in key order, starting
	// after the cursor returned by AccessCursor. An empty cursor starts at
	// the beginning.
	Scan(after string, limit int) ([]*core.ChunkAccessLogEntry, error)
}

// AccessCursor is the Scan position of an access log row.
func AccessCursor(e *core.ChunkAccessLogEntry) string {
	return e.AgentID + ":" + e.ChunkKey
}

// CheckpointStore persists sweep checkpoints.
type CheckpointStore interface {
	// Load returns nil, nil if no checkpoint exists.
	Load(name string) (*core.SweepCheckpoint, error)
	Save(checkpoint *core.SweepCheckpoint) error
}
