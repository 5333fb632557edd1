package badger

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

type documentStore struct {
	tx *badger.Txn
}

func (s documentStore) Get(id string) (*core.Document, error) {
	return getRow(s.tx, makeDocumentKey(id), storage.UnmarshalDocument)
}

func (s documentStore) Put(doc *core.Document) error {
	if err := s.tx.Set(makeDocumentKey(doc.ID), storage.MarshalDocument(doc)); err != nil {
		return err
	}
	return s.tx.Set(makeDocumentAgentKey(doc.AgentID, doc.ID), nil)
}

func (s documentStore) Delete(id string) error {
	doc, err := s.Get(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := deleteKey(s.tx, makeDocumentAgentKey(doc.AgentID, id)); err != nil {
		return err
	}
	return deleteKey(s.tx, makeDocumentKey(id))
}

func (s documentStore) ListByAgent(agentID string) ([]*core.Document, error) {
	return indexedRows(s.tx, scanPrefix(documentAgentPrefix, agentID), makeDocumentKey, storage.UnmarshalDocument)
}

func (s documentStore) Totals(agentID string) (int64, int64, error) {
	docs, err := s.ListByAgent(agentID)
	if err != nil {
		return 0, 0, err
	}
	var size int64
	for _, d := range docs {
		size += d.FileSize
	}
	return int64(len(docs)), size, nil
}
