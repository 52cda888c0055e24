package llm

import (
	"context"
	"sync"
)

// FakeProvider is a scripted Provider for tests. Responses are returned in
// order; when the script is exhausted the last response repeats. Thread-safe.
type FakeProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     [][]Message
}

// NewFakeProvider builds a fake returning the given responses in order.
func NewFakeProvider(responses ...string) *FakeProvider {
	return &FakeProvider{responses: responses}
}

// FailWith makes all subsequent calls return err.
func (f *FakeProvider) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Invoke implements Provider.
func (f *FakeProvider) Invoke(ctx context.Context, messages []Message, _ Options) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return nil, ErrEmptyCompletion
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	if resp == "" {
		return nil, ErrEmptyCompletion
	}
	return &Completion{Content: resp, Usage: &Usage{InputTokens: 100, OutputTokens: 50}}, nil
}

// Calls returns the recorded conversations, most recent last.
func (f *FakeProvider) Calls() [][]Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]Message, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many times Invoke was called.
func (f *FakeProvider) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
