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

package core

import (
	"fmt"
	"strings"
)

// maxIDLength bounds caller-supplied identifiers.
const maxIDLength = 128

// ValidateID checks a caller-supplied identifier.
//
// Validation rules:
//   - must not be empty
//   - must not exceed 128 bytes
//   - must not contain ':' (reserved as the storage key separator)
func ValidateID(field, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s: %w", ErrInvalidInput, field, ErrEmptyField)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidInput, field, maxIDLength)
	}
	if strings.ContainsRune(id, ':') {
		return fmt.Errorf("%w: %s must not contain ':'", ErrInvalidInput, field)
	}
	return nil
}

// ValidatePreviewChunks checks a chunker's output before it is attached to a
// session.
//
// Validation rules:
//   - at least one chunk
//   - indexes are exactly 0..n-1 in order
//   - text is not blank
//   - ParentIndex, when set, refers to an earlier chunk
func ValidatePreviewChunks(chunks []PreviewChunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: chunker produced no chunks", ErrInvalidInput)
	}
	for i, c := range chunks {
		if c.Index != i {
			return fmt.Errorf("%w: chunk at position %d has index %d", ErrInvalidInput, i, c.Index)
		}
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("%w: chunk %d text: %w", ErrInvalidInput, i, ErrEmptyField)
		}
		if p := c.Metadata.ParentIndex; p != nil && (*p < 0 || *p >= i) {
			return fmt.Errorf("%w: chunk %d has parent index %d", ErrInvalidInput, i, *p)
		}
	}
	return nil
}

// ValidateDeletionType checks that t is a known deletion scope.
func ValidateDeletionType(t DeletionType) error {
	switch t {
	case DeleteFullNamespace, DeleteSpecificDocuments, DeleteCleanupOrphans:
		return nil
	}
	return fmt.Errorf("%w: unknown deletion type %q", ErrInvalidInput, t)
}
