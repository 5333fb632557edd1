// Package memory is an in-process vector store. Without an embedder it
// scores with bag-of-words cosine similarity, which needs no model server and
// keeps tests deterministic.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/poiesic/kbase/ai"
	"github.com/poiesic/kbase/vectorstore"
)

type entry struct {
	chunkID string
	terms   map[string]float64
	vector  []float32
}

// Store keeps vectors in a map per namespace.
type Store struct {
	mu         sync.RWMutex
	embedder   ai.Embedder
	namespaces map[string]map[string]*entry
}

var _ vectorstore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithEmbedder scores with embeddings instead of term vectors.
func WithEmbedder(e ai.Embedder) Option {
	return func(s *Store) {
		s.embedder = e
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{namespaces: make(map[string]map[string]*entry)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Upsert(ctx context.Context, namespace, chunkID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", vectorstore.ErrEmptyText
	}
	e := &entry{chunkID: chunkID}
	if s.embedder != nil {
		vec, err := s.embedder.EmbedText(ctx, text)
		if err != nil {
			return "", fmt.Errorf("embed chunk %s: %w", chunkID, err)
		}
		e.vector = vectorstore.Normalize(vec)
	} else {
		e.terms = termVector(text)
	}

	id := vectorstore.RagEntryID(namespace, chunkID)
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]*entry)
		s.namespaces[namespace] = ns
	}
	ns[id] = e
	return id, nil
}

func (s *Store) Delete(ctx context.Context, namespace string, ragEntryIDs ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.namespaces[namespace]
	for _, id := range ragEntryIDs {
		delete(ns, id)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, namespace, query string, limit int) ([]vectorstore.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, vectorstore.ErrEmptyText
	}
	var (
		qTerms map[string]float64
		qVec   []float32
	)
	if s.embedder != nil {
		vec, err := s.embedder.EmbedText(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		qVec = vectorstore.Normalize(vec)
	} else {
		qTerms = termVector(query)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return nil, nil
	}
	hits := make([]vectorstore.Hit, 0, len(ns))
	for id, e := range ns {
		var score float32
		if qVec != nil {
			score = dot(qVec, e.vector)
		} else {
			score = float32(sparseCosine(qTerms, e.terms))
		}
		if score <= 0 {
			continue
		}
		hits = append(hits, vectorstore.Hit{RagEntryID: id, ChunkID: e.chunkID, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Len returns the number of entries stored for namespace.
func (s *Store) Len(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[namespace])
}

// Has reports whether ragEntryID is stored for namespace.
func (s *Store) Has(namespace, ragEntryID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.namespaces[namespace][ragEntryID]
	return ok
}

// termVector builds an L2-normalized term frequency vector.
func termVector(text string) map[string]float64 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tf := make(map[string]float64, len(words))
	for _, w := range words {
		tf[w]++
	}
	var norm float64
	for _, v := range tf {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for k := range tf {
			tf[k] /= norm
		}
	}
	return tf
}

func sparseCosine(a, b map[string]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var sum float64
	for k, v := range a {
		sum += v * b[k]
	}
	return sum
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
