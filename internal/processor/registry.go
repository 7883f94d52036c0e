package processor

import (
	"sync"

	"github.com/abdul-hamid-achik/ppescan/internal/media"
)

// Registry holds the processors the adapter chains per media kind. A kind's
// chain runs in registration order: the first processor detects on the
// original, each later one post-processes the previous output.
type Registry struct {
	mu    sync.RWMutex
	order []Processor
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends p to the chains of its kinds. A processor registered again
// under the same name replaces the earlier one in place.
func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.order {
		if existing.Name() == p.Name() {
			r.order[i] = p
			return
		}
	}
	r.order = append(r.order, p)
}

// ForKind returns the chain for kind, empty when nothing handles it.
func (r *Registry) ForKind(kind media.Kind) []Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var chain []Processor
	for _, p := range r.order {
		if supports(p, kind) {
			chain = append(chain, p)
		}
	}
	return chain
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.order))
	for _, p := range r.order {
		names = append(names, p.Name())
	}
	return names
}

func (r *Registry) all() []Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Processor(nil), r.order...)
}
