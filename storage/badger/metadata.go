package badger

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

type metadataStore struct {
	tx *badger.Txn
}

func (s metadataStore) Get(agentID string) (*core.AgentKnowledgeMetadata, error) {
	return getRow(s.tx, makeMetadataKey(agentID), storage.UnmarshalAgentMetadata)
}

func (s metadataStore) Put(meta *core.AgentKnowledgeMetadata) error {
	return s.tx.Set(makeMetadataKey(meta.AgentID), storage.MarshalAgentMetadata(meta))
}

func (s metadataStore) Delete(agentID string) error {
	return deleteKey(s.tx, makeMetadataKey(agentID))
}

func (s metadataStore) List() ([]*core.AgentKnowledgeMetadata, error) {
	return scanRows(s.tx, []byte(metadataPrefix), storage.UnmarshalAgentMetadata)
}
