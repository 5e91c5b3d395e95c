package resilience

import (
	"context"

	"github.com/MrWong99/fabula/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across
// multiple model backends. Each backend sits behind its own breaker; when the
// primary fails or its breaker is open, the next healthy fallback serves the
// call.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface check.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] preferring primary.
func NewLLMFallback(primary llm.Provider, primaryName string, breakerCfg BreakerConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, breakerCfg)}
}

// AddFallback registers a further LLM backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete serves the request from the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return DoWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a stream from the first healthy backend. Only the
// initial connection participates in failover; once a stream is established,
// mid-stream errors surface as chunks with FinishReason "error".
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return DoWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// ModelID reports the primary backend's model identifier. Static metadata
// does not participate in failover.
func (f *LLMFallback) ModelID() string {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].backend.ModelID()
	}
	return ""
}
