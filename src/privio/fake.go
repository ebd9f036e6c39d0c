package privio

import (
	"context"
	"sync"
)

// FakeShell is a test double that records queued batches and returns scripted output.
type FakeShell struct {
	mu sync.Mutex

	// Outputs maps a script to the lines Run returns for it.
	Outputs map[string][]string
	// RunError, if set, is returned by every Run call.
	RunError error

	ran    []string
	queued [][]string
}

func NewFakeShell() *FakeShell {
	return &FakeShell{Outputs: make(map[string][]string)}
}

func (f *FakeShell) Run(_ context.Context, script string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, script)
	if f.RunError != nil {
		return nil, f.RunError
	}
	return f.Outputs[script], nil
}

func (f *FakeShell) Queue(scripts ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, append([]string(nil), scripts...))
}

// Ran returns every script passed to Run.
func (f *FakeShell) Ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ran...)
}

// Queued returns every batch passed to Queue.
func (f *FakeShell) Queued() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.queued...)
}
