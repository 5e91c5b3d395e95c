// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider to return pre-canned completions without a live model and to
// verify the requests submitted by the code under test.
//
// Example:
//
//	p := &mock.Provider{
//	    CompleteResult: &llm.CompletionResponse{Content: "Chapter text."},
//	}
//	resp, _ := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/fabula/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the request passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// CompleteResult is returned by Complete when CompleteFn is nil.
	// If nil, an empty response is returned.
	CompleteResult *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// CompleteFn, when set, is consulted per call and takes precedence over
	// CompleteResult/CompleteErr. Useful for returning different responses on
	// successive calls (e.g., malformed output then valid output).
	CompleteFn func(req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// StreamChunks are emitted in order by StreamCompletion.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned as the error from StreamCompletion
	// before any chunk is emitted.
	StreamErr error

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// --- Call records ---

	// CompleteCalls records every call to Complete in order.
	CompleteCalls []CompleteCall

	// StreamCalls records every request passed to StreamCompletion in order.
	StreamCalls []llm.CompletionRequest
}

// Complete records the call and returns the configured response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn := p.CompleteFn
	result, errv := p.CompleteResult, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	if errv != nil {
		return nil, errv
	}
	if result == nil {
		return &llm.CompletionResponse{}, nil
	}
	return result, nil
}

// StreamCompletion records the call and emits StreamChunks on the returned
// channel. The channel is closed when all chunks are delivered or ctx is done.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, req)
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	errv := p.StreamErr
	p.mu.Unlock()

	if errv != nil {
		return nil, errv
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.StreamCalls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
