package infra

import (
	"context"
	"strings"
	"sync"
)

// fakeRunner records invocations and replays queued outputs.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	outputs []fakeOutput
	runErr  error
}

type fakeOutput struct {
	out string
	err error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.Join(append([]string{name}, args...), " "))
	return f.runErr
}

// Output pops the next queued result; once drained it repeats the last one.
func (f *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if len(f.outputs) == 0 {
		return nil, nil
	}
	next := f.outputs[0]
	if len(f.outputs) > 1 {
		f.outputs = f.outputs[1:]
	}
	return []byte(next.out), next.err
}

func (f *fakeRunner) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
