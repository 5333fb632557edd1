// Package qdrant stores chunk embeddings in a Qdrant collection. All agents
// share one collection; each point carries its namespace in the payload and
// every query filters on it.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/kbase/ai"
	"github.com/poiesic/kbase/vectorstore"
	"github.com/qdrant/go-client/qdrant"
)

const (
	payloadNamespace = "namespace"
	payloadChunkID   = "chunk_id"
	payloadContent   = "content"
)

// Config holds connection details for a Qdrant server.
type Config struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	UseTLS     bool   `yaml:"use_tls"`
	APIKey     string `yaml:"api_key"`
	PoolSize   uint   `yaml:"pool_size"`
	Collection string `yaml:"collection"`
}

// Store implements vectorstore.Store on Qdrant.
type Store struct {
	client     *qdrant.Client
	embedder   ai.Embedder
	collection string
	dimensions uint64
	logger     *slog.Logger
}

var _ vectorstore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With("component", "qdrant")
	}
}

// New connects to Qdrant and creates the collection if it doesn't exist.
func New(ctx context.Context, cfg Config, embedder ai.Embedder, dimensions int, opts ...Option) (*Store, error) {
	if cfg.Collection == "" {
		return nil, errors.New("qdrant: empty collection name")
	}
	if embedder == nil {
		return nil, errors.New("qdrant: embedder is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("qdrant: invalid vector size %d", dimensions)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		UseTLS:   cfg.UseTLS,
		APIKey:   cfg.APIKey,
		PoolSize: cfg.PoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}

	s := &Store{
		client:     client,
		embedder:   embedder,
		collection: cfg.Collection,
		dimensions: uint64(dimensions),
		logger:     slog.Default().With("component", "qdrant"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection %s: %w", s.collection, err)
	}
	if exists {
		return nil
	}
	s.logger.Info("creating collection", "collection", s.collection, "size", s.dimensions)
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dimensions,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", s.collection, err)
	}
	return nil
}

// Upsert embeds text and writes one point whose id is derived from the
// namespace and chunk id, so retries overwrite instead of duplicating.
func (s *Store) Upsert(ctx context.Context, namespace, chunkID, text string) (string, error) {
	if text == "" {
		return "", vectorstore.ErrEmptyText
	}
	vector, err := s.embedder.EmbedText(ctx, text)
	if err != nil {
		return "", fmt.Errorf("qdrant: embed chunk %s: %w", chunkID, err)
	}

	id := vectorstore.RagEntryID(namespace, chunkID)
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadNamespace: namespace,
				payloadChunkID:   chunkID,
				payloadContent:   text,
			}),
		}},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return "", fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return id, nil
}

// Delete removes points by id in a single request.
func (s *Store) Delete(ctx context.Context, namespace string, ragEntryIDs ...string) error {
	if len(ragEntryIDs) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, len(ragEntryIDs))
	for i, id := range ragEntryIDs {
		ids[i] = qdrant.NewID(id)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(ids...),
	})
	if err != nil {
		s.logger.Error("delete failed", "namespace", namespace, "count", len(ids), "err", err)
		return fmt.Errorf("qdrant delete failed: %w", err)
	}
	return nil
}

// Search embeds the query and returns the nearest points of the namespace.
func (s *Store) Search(ctx context.Context, namespace, query string, limit int) ([]vectorstore.Hit, error) {
	if query == "" {
		return nil, vectorstore.ErrEmptyText
	}
	if limit <= 0 {
		limit = 10
	}
	vector, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("qdrant: embed query: %w", err)
	}

	result, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(payloadNamespace, namespace)},
		},
		Limit:       qdrant.PtrOf(uint64(limit)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query failed: %w", err)
	}

	hits := make([]vectorstore.Hit, 0, len(result))
	for _, p := range result {
		hits = append(hits, vectorstore.Hit{
			RagEntryID: p.GetId().GetUuid(),
			ChunkID:    p.GetPayload()[payloadChunkID].GetStringValue(),
			Score:      p.GetScore(),
		})
	}
	return hits, nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}
