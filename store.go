package flexdi

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

// store holds constructed instances and the release callbacks collected
// while constructing them. Lookups read through to the parent store so a
// request-level store sees application-level instances, while writes
// stay local to the level that constructed them.
type store struct {
	mu        sync.RWMutex
	parent    *store
	locks     map[*provider]*sync.Mutex
	instances map[*provider]any
	releasers []func(context.Context) error
}

func newStore() *store {
	return &store{
		locks:     make(map[*provider]*sync.Mutex),
		instances: make(map[*provider]any),
	}
}

func (s *store) chain() *store {
	c := newStore()
	c.parent = s
	return c
}

// lock returns the per-provider construction mutex, creating it on first
// use. Holding it while constructing gives single-flight semantics:
// concurrent resolutions of the same provider block until the first
// finishes, then read the memoized instance.
func (s *store) lock(p *provider) *sync.Mutex {
	s.mu.RLock()
	l, ok := s.locks[p]
	s.mu.RUnlock()
	if ok {
		return l
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.locks[p]; !ok {
		l = &sync.Mutex{}
		s.locks[p] = l
	}
	return l
}

func (s *store) get(p *provider) (any, bool) {
	for c := s; c != nil; c = c.parent {
		c.mu.RLock()
		v, ok := c.instances[p]
		c.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// create invokes the provider and memoizes the result. The release
// callback, when the provider yields one, is appended after the value is
// produced so teardown order is the exact reverse of construction order.
func (s *store) create(ctx context.Context, p *provider, args []reflect.Value) (any, error) {
	v, release, err := p.invoke(ctx, args)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.instances[p] = v
	if release != nil {
		s.releasers = append(s.releasers, release)
	}
	s.mu.Unlock()
	return v, nil
}

// close runs the collected release callbacks in reverse order, so every
// instance is torn down before the dependencies it was built from. All
// releasers run even when earlier ones fail; their errors are joined.
func (s *store) close(ctx context.Context) error {
	s.mu.Lock()
	releasers := s.releasers
	s.releasers = nil
	s.instances = make(map[*provider]any)
	s.mu.Unlock()

	var errs []error
	for i := len(releasers) - 1; i >= 0; i-- {
		if err := releasers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
