package flexdi

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// scope is the shared machinery behind ApplicationScope and
// RequestScope. A scope is responsible for the providers whose policy
// names one of its scope names; anything else is delegated up the parent
// chain so the instance lands in the store that owns its lifetime.
type scope struct {
	rules  *rules
	store  *store
	parent *scope
	names  []ScopeName
	logger *zap.Logger

	mu     sync.Mutex
	opened bool
	closed bool
}

func (s *scope) responsible(name ScopeName) bool {
	for _, n := range s.names {
		if n == name {
			return true
		}
	}
	return false
}

// open marks the scope live and constructs every eager provider this
// scope is responsible for. If an eager provider fails, everything built
// so far is released before the error is returned.
func (s *scope) open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return SetupError{Reason: "scope is closed and cannot be reopened"}
	}
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.opened = true
	s.mu.Unlock()

	for p, pol := range s.rules.policiesSnapshot() {
		if !pol.eager || !s.responsible(pol.scope) {
			continue
		}
		if _, err := s.resolveProvider(ctx, p); err != nil {
			return errors.Join(err, s.close(ctx))
		}
	}
	return nil
}

// close releases this scope's instances in reverse construction order.
// Closing is terminal; a closed scope never reopens. Closing a scope
// that was never opened releases nothing.
func (s *scope) close(ctx context.Context) error {
	s.mu.Lock()
	wasOpened := s.opened
	s.opened = false
	s.closed = true
	s.mu.Unlock()

	if !wasOpened {
		return nil
	}
	s.logger.Debug("closing scope", zap.Any("names", s.names))
	return s.store.close(ctx)
}

// resolveProvider returns the memoized instance for p, constructing it
// on first use. Construction for a given provider is single-flight: the
// per-provider lock serializes concurrent first resolutions, and the
// store check inside the lock turns the losers into cache reads.
func (s *scope) resolveProvider(ctx context.Context, p *provider) (any, error) {
	pol := s.rules.policyFor(p)
	if !s.responsible(pol.scope) {
		if s.parent == nil {
			return nil, SetupError{Reason: fmt.Sprintf("no %s scope available to construct %s", pol.scope, p.name)}
		}
		return s.parent.resolveProvider(ctx, p)
	}

	l := s.store.lock(p)
	l.Lock()
	defer l.Unlock()

	if v, ok := s.store.get(p); ok {
		return v, nil
	}

	d, err := s.rules.deps.resolve(p, s.rules)
	if err != nil {
		return nil, err
	}

	args := make([]reflect.Value, 0, len(d.args))
	for i, a := range d.args {
		v, err := s.resolveProvider(ctx, a.node.prov)
		if err != nil {
			return nil, err
		}
		args = append(args, argValue(p.args[i].typ, v))
	}

	v, err := s.store.create(ctx, p, args)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("constructed instance",
		zap.String("provider", p.name),
		zap.String("scope", string(pol.scope)))
	return v, nil
}

// resolveTarget resolves a target type, self-binding it first when no
// provider was registered for it.
func (s *scope) resolveTarget(ctx context.Context, t reflect.Type) (any, error) {
	p, ok := s.rules.providerFor(t)
	if !ok {
		var err error
		if p, err = s.rules.selfBindTarget(t); err != nil {
			return nil, err
		}
	}
	return s.resolveProvider(ctx, p)
}

// resolveTransient invokes a one-off callable with its arguments
// resolved from the scope. The callable is never entered into the
// binding map, but any release it yields is still tracked by this
// scope's store.
func (s *scope) resolveTransient(ctx context.Context, p *provider) (any, error) {
	if err := s.rules.registerTransient(p); err != nil {
		return nil, err
	}
	d, err := s.rules.deps.resolve(p, s.rules)
	if err != nil {
		return nil, err
	}

	args := make([]reflect.Value, 0, len(d.args))
	for i, a := range d.args {
		v, err := s.resolveProvider(ctx, a.node.prov)
		if err != nil {
			return nil, err
		}
		args = append(args, argValue(p.args[i].typ, v))
	}
	return s.store.create(ctx, p, args)
}

func (s *scope) isOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// ── ApplicationScope ──────────────────────────────────────────────────────────

// ApplicationScope owns application-lifetime instances. It is created
// and opened by Graph.Open; request scopes spawned from it share its
// store through read-through chaining.
type ApplicationScope struct {
	scope
}

func newApplicationScope(r *rules, st *store, logger *zap.Logger) *ApplicationScope {
	if st == nil {
		st = newStore()
	}
	return &ApplicationScope{scope{
		rules:  r,
		store:  st,
		names:  []ScopeName{ScopeApplication},
		logger: logger,
	}}
}

// Open constructs the eager application-scoped providers. Opening an
// already-open scope is a no-op; opening a closed scope is an error.
func (a *ApplicationScope) Open(ctx context.Context) error {
	return a.open(ctx)
}

// Close releases application-scoped instances in reverse construction
// order. The scope cannot be reopened afterwards.
func (a *ApplicationScope) Close(ctx context.Context) error {
	return a.close(ctx)
}

// RequestScope spawns a child scope for request-lifetime instances. The
// child sees application instances through its chained store but keeps
// its own constructions and teardown separate from any sibling.
func (a *ApplicationScope) RequestScope() (*RequestScope, error) {
	if !a.isOpened() {
		return nil, SetupError{Reason: "request scopes require an opened application scope"}
	}
	return &RequestScope{scope{
		rules:  a.rules,
		store:  a.store.chain(),
		parent: &a.scope,
		names:  []ScopeName{ScopeRequest},
		logger: a.logger,
	}}, nil
}

// ResolveType resolves a target through a fresh request scope, which is
// opened and closed around the single resolution. Request-scoped
// resources created along the way are released before this returns.
func (a *ApplicationScope) ResolveType(ctx context.Context, t reflect.Type) (any, error) {
	if a.isOpened() {
		rs, err := a.RequestScope()
		if err != nil {
			return nil, err
		}
		return rs.ResolveType(ctx, t)
	}

	if err := a.Open(ctx); err != nil {
		return nil, err
	}
	v, err := func() (any, error) {
		rs, err := a.RequestScope()
		if err != nil {
			return nil, err
		}
		return rs.ResolveType(ctx, t)
	}()
	if cerr := a.Close(ctx); cerr != nil || err != nil {
		return nil, errors.Join(err, cerr)
	}
	return v, nil
}

// ResolveFunc invokes fn with its arguments resolved through a fresh
// request scope, opened and closed around the single invocation.
func (a *ApplicationScope) ResolveFunc(ctx context.Context, fn any) (any, error) {
	if a.isOpened() {
		rs, err := a.RequestScope()
		if err != nil {
			return nil, err
		}
		return rs.ResolveFunc(ctx, fn)
	}

	if err := a.Open(ctx); err != nil {
		return nil, err
	}
	v, err := func() (any, error) {
		rs, err := a.RequestScope()
		if err != nil {
			return nil, err
		}
		return rs.ResolveFunc(ctx, fn)
	}()
	if cerr := a.Close(ctx); cerr != nil || err != nil {
		return nil, errors.Join(err, cerr)
	}
	return v, nil
}

// ── RequestScope ──────────────────────────────────────────────────────────────

// RequestScope owns request-lifetime instances. Open it for the duration
// of a unit of work (an HTTP request, a task) and Close it when done; or
// call ResolveType on an unopened scope for a one-shot resolution that
// opens and closes around it.
type RequestScope struct {
	scope
}

// Open constructs the eager request-scoped providers.
func (r *RequestScope) Open(ctx context.Context) error {
	return r.open(ctx)
}

// Close releases request-scoped instances in reverse construction order.
// Application-scoped instances are untouched.
func (r *RequestScope) Close(ctx context.Context) error {
	return r.close(ctx)
}

// ResolveType resolves a target type in this scope. On an opened scope
// the instance lives until Close; on an unopened scope the resolution is
// one-shot and everything request-scoped is released before returning.
func (r *RequestScope) ResolveType(ctx context.Context, t reflect.Type) (any, error) {
	if r.isOpened() {
		return r.resolveTarget(ctx, t)
	}
	if err := r.Open(ctx); err != nil {
		return nil, err
	}
	v, err := r.resolveTarget(ctx, t)
	if cerr := r.Close(ctx); cerr != nil || err != nil {
		return nil, errors.Join(err, cerr)
	}
	return v, nil
}

// ResolveFunc invokes fn with its arguments resolved from this scope and
// returns fn's result. Lifetimes follow the same rules as ResolveType.
func (r *RequestScope) ResolveFunc(ctx context.Context, fn any) (any, error) {
	p, err := newCallProvider(fn)
	if err != nil {
		return nil, err
	}
	if r.isOpened() {
		return r.resolveTransient(ctx, p)
	}
	if err := r.Open(ctx); err != nil {
		return nil, err
	}
	v, err := r.resolveTransient(ctx, p)
	if cerr := r.Close(ctx); cerr != nil || err != nil {
		return nil, errors.Join(err, cerr)
	}
	return v, nil
}
