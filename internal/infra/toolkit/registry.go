package toolkit

import (
	"time"
)

// Registry is an immutable name-keyed set of wrappers built from one discovery.
// Rediscovery builds a new Registry and swaps it in whole.
type Registry struct {
	etag         string
	discoveredAt time.Time
	order        []string
	byName       map[string]*Wrapper
}

var emptyRegistry = &Registry{byName: map[string]*Wrapper{}}

func newRegistry(etag string, discoveredAt time.Time, wrappers []*Wrapper) *Registry {
	reg := &Registry{
		etag:         etag,
		discoveredAt: discoveredAt,
		order:        make([]string, 0, len(wrappers)),
		byName:       make(map[string]*Wrapper, len(wrappers)),
	}
	for _, w := range wrappers {
		if _, exists := reg.byName[w.Name()]; exists {
			continue
		}
		reg.order = append(reg.order, w.Name())
		reg.byName[w.Name()] = w
	}
	return reg
}

func (r *Registry) Lookup(name string) (*Wrapper, bool) {
	w, ok := r.byName[name]
	return w, ok
}

// List returns wrappers in advertised order.
func (r *Registry) List() []*Wrapper {
	out := make([]*Wrapper, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	return len(r.order)
}

func (r *Registry) ETag() string {
	return r.etag
}

func (r *Registry) DiscoveredAt() time.Time {
	return r.discoveredAt
}
