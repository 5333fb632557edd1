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

// Package ingestion drives uploaded files through parsing, chunking, an
// optional human preview gate, persistence and embedding.
//
// A session moves through a closed set of stages:
//
//	uploading → parsing → chunking → preview_ready → confirming → persisting → embedding → completed
//
// Organizations with preview disabled skip straight from chunking to
// persisting. Previews expire after a TTL and are cancelled by ExpireStale.
// Confirm writes the document and all of its chunks in one transaction;
// if embedding later fails, those rows are removed again and the session
// fails, so a document is never completed without all of its vectors.
package ingestion
