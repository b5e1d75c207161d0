package catalog

import (
	"context"
)

// EmbeddingGenerator turns tool text (name + description, or a query
// string) into a fixed-length vector. Swappable so the retriever can run
// fast-mode with NoopEmbeddingGenerator and upgrade to a real backend
// without touching store or retriever logic.
type EmbeddingGenerator interface {
	// Embed returns one vector per input text, in the same order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the fixed vector length this generator produces.
	Dimensions() int
}

// NoopEmbeddingGenerator produces no vectors; used when a deployment has
// no embedding backend configured and relies on full-text search alone.
type NoopEmbeddingGenerator struct{}

func (NoopEmbeddingGenerator) Embed(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

func (NoopEmbeddingGenerator) Dimensions() int { return 0 }
