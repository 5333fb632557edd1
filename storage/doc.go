// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage provides the storage abstraction layer for kbase.
//
// The package defines a transactional Store whose transactions expose one
// store per entity: ingestion sessions, the document registry, the chunk
// store, agent metadata, the deletion queue, the deleted-file audit log, the
// chunk access log and sweep checkpoints. Rows are encoded with mus-go in
// this package; backends only move bytes.
//
// # Usage
//
//	store, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	err = store.Update(ctx, func(tx storage.Tx) error {
//	    return tx.Documents().Put(doc)
//	})
//
// # Transactions
//
// Update commits only if no key it read was changed by a transaction that
// committed in the meantime; otherwise it returns ErrConflict and writes
// nothing. The deletion queue relies on this to claim batches.
//
// # Keys
//
// Caller-supplied identifiers must not contain ':'; core.ValidateID rejects
// them before they reach storage.
package storage
