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

package badger

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

type checkpointStore struct {
	tx *badger.Txn
}

// Save persists the checkpoint for a sweep.
func (s checkpointStore) Save(checkpoint *core.SweepCheckpoint) error {
	return s.tx.Set(makeCheckpointKey(checkpoint.Name), storage.MarshalCheckpoint(checkpoint))
}

// Load retrieves the checkpoint for a sweep.
// Returns nil, nil if no checkpoint exists.
func (s checkpointStore) Load(name string) (*core.SweepCheckpoint, error) {
	checkpoint, err := getRow(s.tx, makeCheckpointKey(name), storage.UnmarshalCheckpoint)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return checkpoint, err
}
