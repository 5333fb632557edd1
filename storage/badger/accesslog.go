package badger

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

type accessLogStore struct {
	tx *badger.Txn
}

func (s accessLogStore) Get(agentID, chunkKey string) (*core.ChunkAccessLogEntry, error) {
	return getRow(s.tx, makeAccessKey(agentID, chunkKey), storage.UnmarshalAccessEntry)
}

func (s accessLogStore) Put(entry *core.ChunkAccessLogEntry) error {
	return s.tx.Set(makeAccessKey(entry.AgentID, entry.ChunkKey), storage.MarshalAccessEntry(entry))
}

func (s accessLogStore) Delete(agentID, chunkKey string) error {
	return deleteKey(s.tx, makeAccessKey(agentID, chunkKey))
}

func (s accessLogStore) ListByAgent(agentID string) ([]*core.ChunkAccessLogEntry, error) {
	return scanRows(s.tx, scanPrefix(accessPrefix, agentID), storage.UnmarshalAccessEntry)
}

func (s accessLogStore) Scan(after string, limit int) ([]*core.ChunkAccessLogEntry, error) {
	prefix := []byte(accessPrefix)
	var keys [][]byte
	err := scanKeys(s.tx, prefix, after, func(key []byte, _ *badger.Item) (bool, error) {
		keys = append(keys, key)
		return limit <= 0 || len(keys) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*core.ChunkAccessLogEntry, 0, len(keys))
	for _, key := range keys {
		e, err := getRow(s.tx, key, storage.UnmarshalAccessEntry)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
