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
	"errors"
	"fmt"
)

// Domain errors. Callers classify failures with errors.Is.
var (
	// ErrInvalidInput indicates a request was rejected before any state change.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidState indicates the operation is not valid for the current stage or status.
	ErrInvalidState = errors.New("invalid state")

	// ErrExpiredSession indicates the preview window elapsed.
	ErrExpiredSession = errors.New("session expired")

	// ErrExternalDependency indicates a parser, chunker, embedder or vector store failed.
	ErrExternalDependency = errors.New("external dependency failure")

	// ErrDeletionPartialFailure indicates a batch's external delete failed.
	// Local rows of that batch are kept.
	ErrDeletionPartialFailure = errors.New("deletion partially failed")

	// ErrNotFound indicates an unknown session, document, agent or queue entry.
	ErrNotFound = errors.New("not found")

	// ErrAgentDeleting indicates the agent namespace is being wiped.
	ErrAgentDeleting = fmt.Errorf("%w: agent knowledge is being deleted", ErrInvalidState)

	// ErrEmptyField indicates a required field was empty.
	ErrEmptyField = errors.New("required field is empty")
)
