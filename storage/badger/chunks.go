package badger

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

type chunkStore struct {
	tx *badger.Txn
}

func (s chunkStore) Get(id string) (*core.Chunk, error) {
	return getRow(s.tx, makeChunkKey(id), storage.UnmarshalChunk)
}

func (s chunkStore) Put(chunk *core.Chunk) error {
	old, err := s.Get(chunk.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if old != nil && old.RagEntryID != "" && old.RagEntryID != chunk.RagEntryID {
		if err := deleteKey(s.tx, makeChunkRagKey(old.RagEntryID)); err != nil {
			return err
		}
	}

	if err := s.tx.Set(makeChunkKey(chunk.ID), storage.MarshalChunk(chunk)); err != nil {
		return err
	}
	if err := s.tx.Set(makeChunkAgentKey(chunk.AgentID, chunk.ID), nil); err != nil {
		return err
	}
	if err := s.tx.Set(makeChunkDocKey(chunk.DocumentID, chunk.ID), nil); err != nil {
		return err
	}
	if chunk.RagEntryID != "" {
		return s.tx.Set(makeChunkRagKey(chunk.RagEntryID), []byte(chunk.ID))
	}
	return nil
}

func (s chunkStore) Delete(id string) error {
	chunk, err := s.Get(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if chunk.RagEntryID != "" {
		if err := deleteKey(s.tx, makeChunkRagKey(chunk.RagEntryID)); err != nil {
			return err
		}
	}
	if err := deleteKey(s.tx, makeChunkDocKey(chunk.DocumentID, id)); err != nil {
		return err
	}
	if err := deleteKey(s.tx, makeChunkAgentKey(chunk.AgentID, id)); err != nil {
		return err
	}
	return deleteKey(s.tx, makeChunkKey(id))
}

func (s chunkStore) GetByRagEntry(ragEntryID string) (*core.Chunk, error) {
	item, err := s.tx.Get(makeChunkRagKey(ragEntryID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	chunkID, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return s.Get(string(chunkID))
}

func (s chunkStore) ListByDocument(documentID string) ([]*core.Chunk, error) {
	return indexedRows(s.tx, scanPrefix(chunkDocPrefix, documentID), makeChunkKey, storage.UnmarshalChunk)
}

func (s chunkStore) ScanAgent(agentID, after string, limit int, keep storage.ChunkFilter) ([]*core.Chunk, error) {
	prefix := scanPrefix(chunkAgentPrefix, agentID)
	var out []*core.Chunk
	for {
		// Walk the key-only index in pages so filters never run while an
		// iterator is open.
		var ids []string
		err := scanKeys(s.tx, prefix, after, func(key []byte, _ *badger.Item) (bool, error) {
			ids = append(ids, lastSegment(key))
			return len(ids) < scanPageSize(limit), nil
		})
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return out, nil
		}
		for _, id := range ids {
			after = id
			chunk, err := s.Get(id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if keep != nil {
				ok, err := keep(chunk)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
			}
			out = append(out, chunk)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
}

func (s chunkStore) CountByAgent(agentID string) (int64, error) {
	return countKeys(s.tx, scanPrefix(chunkAgentPrefix, agentID))
}

func (s chunkStore) CountByDocument(documentID string) (int64, error) {
	return countKeys(s.tx, scanPrefix(chunkDocPrefix, documentID))
}

func (s chunkStore) KeysByAgent(agentID string, limit int) ([]string, error) {
	var ids []string
	err := scanKeys(s.tx, scanPrefix(chunkAgentPrefix, agentID), "", func(key []byte, _ *badger.Item) (bool, error) {
		ids = append(ids, lastSegment(key))
		return limit <= 0 || len(ids) < limit, nil
	})
	return ids, err
}

func scanPageSize(limit int) int {
	if limit <= 0 || limit > 256 {
		return 256
	}
	return limit
}
