// Package vectorstore defines the external vector index the knowledge base
// writes chunk embeddings to. Every operation is scoped to a namespace, which
// is the owning agent's id.
package vectorstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNamespaceNotFound indicates the namespace has never been written.
	ErrNamespaceNotFound = errors.New("vector namespace not found")

	// ErrEmptyText indicates an upsert or query with no text.
	ErrEmptyText = errors.New("empty text")
)

// Hit is one vector search match.
type Hit struct {
	RagEntryID string
	ChunkID    string
	Score      float32
}

// Store is the vector index used for retrieval.
type Store interface {
	// Upsert embeds text and stores it for chunkID. Repeating the call for
	// the same namespace and chunk replaces the entry and returns the same
	// rag entry id.
	Upsert(ctx context.Context, namespace, chunkID, text string) (string, error)

	// Delete removes entries by rag entry id. Unknown ids are ignored.
	Delete(ctx context.Context, namespace string, ragEntryIDs ...string) error

	// Search returns up to limit entries of the namespace most similar to
	// query, best first.
	Search(ctx context.Context, namespace, query string, limit int) ([]Hit, error)
}

// RagEntryID derives the stable vector id of a chunk in a namespace.
func RagEntryID(namespace, chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(namespace+":"+chunkID)).String()
}
