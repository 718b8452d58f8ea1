package clinic

import (
	"context"
	"errors"
	"sync"

	"github.com/DineshTeja/aria/internal/llm"
)

// fakeLLM is a scriptable llm.Client for tests. Unset hooks fail the call.
type fakeLLM struct {
	mu       sync.Mutex
	calls    []llm.Request
	complete func(req llm.Request) (string, error)
	stream   func(req llm.Request, onChunk func(string)) (string, error)
	embed    func(model, input string) ([]float32, error)
	describe func(model, instruction, imageDataURL string) (string, error)
}

func (f *fakeLLM) record(req llm.Request) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.record(req)
	if f.complete == nil {
		return "", errors.New("unexpected Complete call")
	}
	return f.complete(req)
}

func (f *fakeLLM) Stream(_ context.Context, req llm.Request, onChunk func(string)) (string, error) {
	f.record(req)
	if f.stream == nil {
		return "", errors.New("unexpected Stream call")
	}
	return f.stream(req, onChunk)
}

func (f *fakeLLM) Embed(_ context.Context, model, input string) ([]float32, error) {
	if f.embed == nil {
		return nil, errors.New("unexpected Embed call")
	}
	return f.embed(model, input)
}

func (f *fakeLLM) DescribeImage(_ context.Context, model, instruction, imageDataURL string) (string, error) {
	if f.describe == nil {
		return "", errors.New("unexpected DescribeImage call")
	}
	return f.describe(model, instruction, imageDataURL)
}
