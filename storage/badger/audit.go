package badger

import (
	"bytes"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

type auditStore struct {
	tx *badger.Txn
}

func (s auditStore) Get(id string) (*core.DeletedFileRecord, error) {
	return getRow(s.tx, makeAuditKey(id), storage.UnmarshalDeletedFile)
}

func (s auditStore) Put(rec *core.DeletedFileRecord) error {
	old, err := s.Get(rec.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if old != nil && !old.PurgeAt.Equal(rec.PurgeAt) {
		if err := deleteKey(s.tx, makeAuditPurgeKey(old.PurgeAt, old.ID)); err != nil {
			return err
		}
	}
	if err := s.tx.Set(makeAuditKey(rec.ID), storage.MarshalDeletedFile(rec)); err != nil {
		return err
	}
	if err := s.tx.Set(makeAuditPurgeKey(rec.PurgeAt, rec.ID), nil); err != nil {
		return err
	}
	return s.tx.Set(makeAuditAgentKey(rec.AgentID, rec.ID), nil)
}

func (s auditStore) Delete(id string) error {
	rec, err := s.Get(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := deleteKey(s.tx, makeAuditPurgeKey(rec.PurgeAt, id)); err != nil {
		return err
	}
	if err := deleteKey(s.tx, makeAuditAgentKey(rec.AgentID, id)); err != nil {
		return err
	}
	return deleteKey(s.tx, makeAuditKey(id))
}

func (s auditStore) ListDue(at time.Time, limit int) ([]*core.DeletedFileRecord, error) {
	var ids []string
	// PurgeAt <= at, so stop at the first key stamped one microsecond later
	end := makeTimePrefix(auditPurgePrefix, at.Add(time.Microsecond))
	err := scanKeys(s.tx, []byte(auditPurgePrefix), "", func(key []byte, _ *badger.Item) (bool, error) {
		if bytes.Compare(key[:len(end)], end) >= 0 {
			return false, nil
		}
		ids = append(ids, lastSegment(key))
		return limit <= 0 || len(ids) < limit, nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]*core.DeletedFileRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s auditStore) ListByAgent(agentID string) ([]*core.DeletedFileRecord, error) {
	return indexedRows(s.tx, scanPrefix(auditAgentPrefix, agentID), makeAuditKey, storage.UnmarshalDeletedFile)
}
