package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// WorkFunc is the unit of work behind a job's function_name. The payload is a
// private copy; the returned map becomes the execution log output.
type WorkFunc func(ctx context.Context, payload map[string]any) (map[string]any, error)

// Registry maps function names to work functions.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]WorkFunc
}

func NewRegistry() *Registry {
	return &Registry{fns: map[string]WorkFunc{}}
}

// Register adds fn under name. Registering a name twice is an error.
func (r *Registry) Register(name string, fn WorkFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("register %q: name and function are required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fns[name]; ok {
		return fmt.Errorf("register %q: already registered", name)
	}
	r.fns[name] = fn
	return nil
}

func (r *Registry) Lookup(name string) (WorkFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	return fn, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.fns))
	for n := range r.fns {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
