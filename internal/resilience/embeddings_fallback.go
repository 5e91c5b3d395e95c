package resilience

import (
	"context"

	"github.com/MrWong99/fabula/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] with automatic failover
// across multiple embedding backends.
//
// Mixing backends with different output dimensions makes their vectors
// incomparable, so register fallbacks that serve the same model family — or
// accept that records embedded during a failover window only match each
// other.
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]
}

// Compile-time interface check.
var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] preferring primary.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, breakerCfg BreakerConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{group: NewFallbackGroup(primary, primaryName, breakerCfg)}
}

// AddFallback registers a further embedding backend.
func (f *EmbeddingsFallback) AddFallback(name string, provider embeddings.Provider) {
	f.group.AddFallback(name, provider)
}

// Embed returns the embedding of text from the first healthy backend.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return DoWithResult(f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch returns embeddings for texts from the first healthy backend.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return DoWithResult(f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions reports the primary backend's output dimension. Static metadata
// does not participate in failover.
func (f *EmbeddingsFallback) Dimensions() int {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].backend.Dimensions()
	}
	return 0
}

// ModelID reports the primary backend's model identifier.
func (f *EmbeddingsFallback) ModelID() string {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].backend.ModelID()
	}
	return ""
}
