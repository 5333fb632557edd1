// Package mock provides test doubles for the ai package interfaces.
//
// Inject behavior through the exported function fields:
//
//	embedder := mock.NewMockEmbedder()
//	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
//	    return nil, errors.New("model offline")
//	}
//
//	// Check call counts
//	count := embedder.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: returns deterministic unit vectors derived from a text hash
//   - MockProvider: wraps a MockEmbedder and records Close
package mock
