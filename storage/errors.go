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

package storage

import (
	"errors"

	"github.com/poiesic/kbase/core"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	// It is the domain error so callers can classify storage misses directly.
	ErrNotFound = core.ErrNotFound

	// ErrConflict indicates a concurrent transaction committed a conflicting write.
	ErrConflict = errors.New("transaction conflict")

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrTruncatedData indicates that data was truncated during reading.
	ErrTruncatedData = errors.New("truncated data")

	// ErrUnknownVersion indicates a row written by an unsupported encoder version.
	ErrUnknownVersion = errors.New("unknown row version")
)
