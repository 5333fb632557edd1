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

// Package search retrieves an agent's chunks for a query.
//
// A search runs in stages:
//   - vector search in the agent's namespace
//   - hydration of the matching chunk rows and their access counters
//   - a small boost for chunks containing every query term
//
// Every returned chunk is recorded in the access log and the search folds
// into the agent's latency and cache-hit averages.
package search
