// Package mock provides a vectorstore.Store test double.
package mock

import (
	"context"
	"sync"

	"github.com/poiesic/kbase/vectorstore"
	"github.com/poiesic/kbase/vectorstore/memory"
)

// MockStore forwards to an in-memory store unless a func field overrides
// the call. It counts calls and records every Delete batch.
type MockStore struct {
	UpsertFunc func(ctx context.Context, namespace, chunkID, text string) (string, error)
	DeleteFunc func(ctx context.Context, namespace string, ragEntryIDs ...string) error
	SearchFunc func(ctx context.Context, namespace, query string, limit int) ([]vectorstore.Hit, error)

	Inner *memory.Store

	mu           sync.Mutex
	upserts      int
	deleteCalls  [][]string
	searchCalled int
}

var _ vectorstore.Store = (*MockStore)(nil)

// NewMockStore creates a MockStore backed by a fresh memory store.
func NewMockStore() *MockStore {
	return &MockStore{Inner: memory.New()}
}

func (m *MockStore) Upsert(ctx context.Context, namespace, chunkID, text string) (string, error) {
	m.mu.Lock()
	m.upserts++
	fn := m.UpsertFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, namespace, chunkID, text)
	}
	return m.Inner.Upsert(ctx, namespace, chunkID, text)
}

func (m *MockStore) Delete(ctx context.Context, namespace string, ragEntryIDs ...string) error {
	m.mu.Lock()
	m.deleteCalls = append(m.deleteCalls, append([]string(nil), ragEntryIDs...))
	fn := m.DeleteFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, namespace, ragEntryIDs...)
	}
	return m.Inner.Delete(ctx, namespace, ragEntryIDs...)
}

func (m *MockStore) Search(ctx context.Context, namespace, query string, limit int) ([]vectorstore.Hit, error) {
	m.mu.Lock()
	m.searchCalled++
	fn := m.SearchFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, namespace, query, limit)
	}
	return m.Inner.Search(ctx, namespace, query, limit)
}

// SetDeleteFunc swaps the Delete override while workers may be running.
func (m *MockStore) SetDeleteFunc(fn func(ctx context.Context, namespace string, ragEntryIDs ...string) error) {
	m.mu.Lock()
	m.DeleteFunc = fn
	m.mu.Unlock()
}

// SetUpsertFunc swaps the Upsert override while workers may be running.
func (m *MockStore) SetUpsertFunc(fn func(ctx context.Context, namespace, chunkID, text string) (string, error)) {
	m.mu.Lock()
	m.UpsertFunc = fn
	m.mu.Unlock()
}

// UpsertCount returns the number of Upsert calls.
func (m *MockStore) UpsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

// DeleteCalls returns a copy of the id batches passed to Delete.
func (m *MockStore) DeleteCalls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.deleteCalls))
	copy(out, m.deleteCalls)
	return out
}
