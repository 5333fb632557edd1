package badger

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

type queueStore struct {
	tx *badger.Txn
}

func (s queueStore) Get(id string) (*core.DeletionQueueEntry, error) {
	return getRow(s.tx, makeQueueKey(id), storage.UnmarshalQueueEntry)
}

func (s queueStore) Put(entry *core.DeletionQueueEntry) error {
	old, err := s.Get(entry.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if old != nil && old.Status != entry.Status {
		if err := deleteKey(s.tx, makeQueueStatusKey(string(old.Status), old.ID)); err != nil {
			return err
		}
	}
	if err := s.tx.Set(makeQueueKey(entry.ID), storage.MarshalQueueEntry(entry)); err != nil {
		return err
	}
	if err := s.tx.Set(makeQueueStatusKey(string(entry.Status), entry.ID), nil); err != nil {
		return err
	}
	return s.tx.Set(makeQueueAgentKey(entry.AgentID, entry.ID), nil)
}

func (s queueStore) ListByStatus(status core.QueueStatus) ([]*core.DeletionQueueEntry, error) {
	return indexedRows(s.tx, scanPrefix(queueStatusPrefix, string(status)), makeQueueKey, storage.UnmarshalQueueEntry)
}

func (s queueStore) ListByAgent(agentID string) ([]*core.DeletionQueueEntry, error) {
	return indexedRows(s.tx, scanPrefix(queueAgentPrefix, agentID), makeQueueKey, storage.UnmarshalQueueEntry)
}
