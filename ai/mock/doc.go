// Package mock provides test double implementations of AI service interfaces.
//
// MockEmbedder, MockGenerator and MockProvider let tests run without a model
// server and give deterministic results.
//
//	embedder := mock.NewMockEmbedder()
//	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, context.DeadlineExceeded
//	}
//
// # Default Behavior
//
//   - MockEmbedder: returns deterministic unit vectors derived from a text hash
//   - MockGenerator: returns a fixed answer and records each prompt
//   - MockProvider: aggregates a mock embedder and generator
package mock
