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

// Package ai provides the embedding abstraction used by kbase vector stores.
//
// Implementation packages:
//
//   - ai/openai: OpenAI-compatible embeddings through langchaingo
//   - ai/mock: test doubles with injectable behavior
//
// Public constructors return interfaces. Mock constructors return concrete
// types so tests can inject behavior and inspect call counts.
//
//	provider, err := openai.NewProvider(ai.NewConfig(ai.WithEmbeddingModel("nomic-embed-text")))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vec, err := provider.Embedder().EmbedText(ctx, "refund policy")
package ai
