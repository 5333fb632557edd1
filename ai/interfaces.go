package ai

import "context"

// Embedder turns chunk text into vectors for the vector store.
// Implementations must be thread-safe; the ingestion manager embeds chunks
// of one document concurrently.
type Embedder interface {
	// EmbedText embeds a single chunk or query string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts embeds several strings in one request. The result has one
	// vector per input, in input order. Any failure fails the whole batch.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// AIProvider owns the AI services the knowledge base depends on.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Close releases resources held by the provider.
	Close() error
}
