package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry is a Registry inside one process. TTLs are ignored.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]Instance // name → path → instance
	watchers map[string][]chan []Instance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string]map[string]Instance),
		watchers: make(map[string][]chan []Instance),
	}
}

func (r *MemoryRegistry) Register(_ context.Context, name string, instance Instance, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.services[name] == nil {
		r.services[name] = make(map[string]Instance)
	}
	r.services[name][instance.Path] = instance
	r.notify(name)
	return nil
}

func (r *MemoryRegistry) Deregister(_ context.Context, name string, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services[name], path)
	r.notify(name)
	return nil
}

func (r *MemoryRegistry) Discover(_ context.Context, name string) ([]Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(name), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context, name string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	r.mu.Lock()
	r.watchers[name] = append(r.watchers[name], ch)
	r.mu.Unlock()

	context.AfterFunc(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.watchers[name]
		for i, w := range list {
			if w == ch {
				r.watchers[name] = append(list[:i], list[i+1:]...)
				close(ch)
				return
			}
		}
	})
	return ch
}

// list returns instances sorted by path. r.mu must be held.
func (r *MemoryRegistry) list(name string) []Instance {
	out := make([]Instance, 0, len(r.services[name]))
	for _, inst := range r.services[name] {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// notify hands watchers the latest list, replacing one they have not read
// yet. r.mu must be held.
func (r *MemoryRegistry) notify(name string) {
	list := r.list(name)
	for _, ch := range r.watchers[name] {
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}
