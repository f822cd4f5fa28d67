package ai

import "context"

// Embedding is the contract the knowledge engine depends on. The output
// dimensionality is fixed per deployed model.
type Embedding interface {
	Embedding(ctx context.Context, input string, model string) ([]float64, error)
	Embeddings(ctx context.Context, inputs []string, model string) ([][]float64, error)
}
