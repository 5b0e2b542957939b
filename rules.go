package flexdi

import (
	"fmt"
	"reflect"
	"sync"
)

// ── Scopes & policies ─────────────────────────────────────────────────────────

// ScopeName identifies the lifetime a provider may be assigned to.
type ScopeName string

const (
	// ScopeApplication holds instances for the lifetime of the opened
	// graph, shared across every request scope spawned from it.
	ScopeApplication ScopeName = "application"

	// ScopeRequest is the default: instances live for a single request
	// scope, or a single resolution when no scope is held open.
	ScopeRequest ScopeName = "request"
)

func validScope(s ScopeName) bool {
	return s == ScopeApplication || s == ScopeRequest
}

// policy is the per-provider lifetime configuration.
type policy struct {
	scope ScopeName
	eager bool
}

var defaultPolicy = policy{scope: ScopeRequest}

// ── Binding rules ─────────────────────────────────────────────────────────────

// edge is one entry in the binding map: a target type resolves either to
// a terminal provider or to another target type (an alias).
type edge struct {
	provider *provider
	alias    reflect.Type
}

// rules tracks the bindings and policies that scopes consult when
// constructing objects. Clones are copy-on-write: reads fall through to
// the parent layer, writes land in the local maps only, so overrides and
// chained graphs never mutate parent-visible state. The mutex is shared
// across the whole clone chain.
type rules struct {
	mu *sync.RWMutex

	parent   *rules
	bindings map[reflect.Type]edge
	policies map[*provider]policy

	// deps memoizes dependant trees built against this exact layer.
	// Trees bake in resolved argument providers, so the map never
	// crosses layers: a clone that shadows a binding must not see trees
	// built against the binding it shadows.
	deps *dependantMap

	validated bool
}

func newRules() *rules {
	return &rules{
		mu:       &sync.RWMutex{},
		bindings: make(map[reflect.Type]edge),
		policies: make(map[*provider]policy),
		deps:     newDependantMap(),
	}
}

// clone validates the current rules and returns a copy-on-write child
// layer. This is how override and chain semantics are implemented
// without deep-copying all bindings.
func (r *rules) clone() (*rules, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return &rules{
		mu:        r.mu,
		parent:    r,
		bindings:  make(map[reflect.Type]edge),
		policies:  make(map[*provider]policy),
		deps:      newDependantMap(),
		validated: true,
	}, nil
}

// ── Registration ──────────────────────────────────────────────────────────────

// addBinding maps each target to the provider. With no explicit targets
// the provider's declared output type is used.
func (r *rules) addBinding(p *provider, targets ...reflect.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(targets) == 0 {
		if p.out == nil {
			return UntypedError{Provider: p.name}
		}
		targets = []reflect.Type{p.out}
	}
	for _, t := range targets {
		r.setBinding(t, edge{provider: p})
	}
	return nil
}

// addAlias maps one target type to another. Chains of aliases are
// collapsed (and cycle-checked) during validation.
func (r *rules) addAlias(alias, target reflect.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if alias == target {
		return SetupError{Reason: fmt.Sprintf("%s is aliased to itself", alias)}
	}
	r.setBinding(alias, edge{alias: target})
	return nil
}

func (r *rules) addPolicy(p *provider, scope ScopeName, eager bool) error {
	if !validScope(scope) {
		return SetupError{Reason: fmt.Sprintf("invalid scope name %q", scope)}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setPolicy(p, policy{scope: scope, eager: eager})
	return nil
}

// ── Lookups ───────────────────────────────────────────────────────────────────

func (r *rules) providerFor(t reflect.Type) (*provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getProvider(t)
}

func (r *rules) policyFor(p *provider) policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getPolicy(p)
}

// policiesSnapshot returns the effective policy for every bound provider.
func (r *rules) policiesSnapshot() map[*provider]policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allPolicies()
}

// The unexported lookup helpers below assume the caller holds mu.

func (r *rules) getEdge(t reflect.Type) (edge, bool) {
	for s := r; s != nil; s = s.parent {
		if e, ok := s.bindings[t]; ok {
			return e, true
		}
	}
	return edge{}, false
}

func (r *rules) getProvider(t reflect.Type) (*provider, bool) {
	e, ok := r.getEdge(t)
	if !ok || e.provider == nil {
		return nil, false
	}
	return e.provider, true
}

func (r *rules) getPolicy(p *provider) policy {
	for s := r; s != nil; s = s.parent {
		if pol, ok := s.policies[p]; ok {
			return pol
		}
	}
	return defaultPolicy
}

func (r *rules) setBinding(t reflect.Type, e edge) {
	r.bindings[t] = e
	r.validated = false
}

func (r *rules) setPolicy(p *provider, pol policy) {
	r.policies[p] = pol
	r.validated = false
}

// allBindings flattens the layer chain, parent-first so local entries
// shadow inherited ones.
func (r *rules) allBindings() map[reflect.Type]edge {
	var layers []*rules
	for s := r; s != nil; s = s.parent {
		layers = append(layers, s)
	}
	out := make(map[reflect.Type]edge)
	for i := len(layers) - 1; i >= 0; i-- {
		for t, e := range layers[i].bindings {
			out[t] = e
		}
	}
	return out
}

func (r *rules) allProviders() map[*provider]struct{} {
	out := make(map[*provider]struct{})
	for _, e := range r.allBindings() {
		if e.provider != nil {
			out[e.provider] = struct{}{}
		}
	}
	return out
}

func (r *rules) allPolicies() map[*provider]policy {
	out := make(map[*provider]policy)
	for p := range r.allProviders() {
		out[p] = r.getPolicy(p)
	}
	return out
}

// ── Validation ────────────────────────────────────────────────────────────────

func (r *rules) validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.validateLocked()
}

func (r *rules) validateLocked() error {
	if r.validated {
		return nil
	}
	if err := r.reduceBindings(); err != nil {
		return err
	}
	if err := r.validateBindings(); err != nil {
		return err
	}
	if err := r.validateAcyclic(); err != nil {
		return err
	}
	r.upgradeScopes()
	r.validated = true
	return nil
}

// reduceBindings collapses alias chains into direct target→provider
// edges, e.g.
//
//	Before: (a -> b), (b -> c), (c -> P)
//	After:  (a -> P), (b -> P), (c -> P)
//
// Revisiting a target already seen on the current chain is a CycleError
// carrying the full chain.
func (r *rules) reduceBindings() error {
	for t := range r.allBindings() {
		e, _ := r.getEdge(t)
		if e.provider != nil {
			continue
		}
		chain := []string{typeName(t)}
		seen := map[reflect.Type]bool{t: true}
		var final *provider
		for {
			next := e.alias
			chain = append(chain, typeName(next))
			if seen[next] {
				return CycleError{Chain: chain}
			}
			seen[next] = true

			ne, ok := r.getEdge(next)
			if !ok {
				// Alias tail with no provider of its own: self-bind the
				// terminal type when it opted in.
				if !isImplicitBinding(next) {
					return ImplicitBindingError{
						Arg:      "alias target",
						Type:     typeName(next),
						Provider: typeName(t),
					}
				}
				p, err := newStructProvider(next)
				if err != nil {
					return err
				}
				r.setBinding(next, edge{provider: p})
				final = p
				break
			}
			if ne.provider != nil {
				final = ne.provider
				break
			}
			e = ne
		}
		r.setBinding(t, edge{provider: final})
	}
	return nil
}

// validateBindings asserts that every argument declared by the bound
// providers can be resolved. Unbound argument types must be
// implicit-binding eligible; eligible types are self-bound and queued
// for the same check recursively.
func (r *rules) validateBindings() error {
	var queue []*provider
	seen := make(map[*provider]bool)
	for p := range r.allProviders() {
		seen[p] = true
		queue = append(queue, p)
	}
	for len(queue) > 0 {
		p := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		for _, a := range p.args {
			if _, ok := r.getEdge(a.typ); ok {
				continue
			}
			if !isImplicitBinding(a.typ) {
				return ImplicitBindingError{Arg: a.name, Type: typeName(a.typ), Provider: p.name}
			}
			np, err := newStructProvider(a.typ)
			if err != nil {
				return err
			}
			r.setBinding(a.typ, edge{provider: np})
			if !seen[np] {
				seen[np] = true
				queue = append(queue, np)
			}
		}
	}
	return nil
}

// validateAcyclic asserts the provider-argument graph has no cycles,
// tracking an active-visit set apart from the fully-validated set so the
// error can carry the whole provider chain.
func (r *rules) validateAcyclic() error {
	validated := make(map[*provider]bool)
	calculating := make(map[*provider]bool)
	var stack []string

	var visit func(p *provider) error
	visit = func(p *provider) error {
		stack = append(stack, p.name)
		defer func() { stack = stack[:len(stack)-1] }()

		if validated[p] {
			return nil
		}
		if calculating[p] {
			return CycleError{Chain: append([]string(nil), stack...)}
		}
		calculating[p] = true

		for _, a := range p.args {
			cp, ok := r.getProvider(a.typ)
			if !ok {
				return SetupError{Reason: fmt.Sprintf("no provider for %s required by %s", a.typ, p.name)}
			}
			if err := visit(cp); err != nil {
				return err
			}
		}

		validated[p] = true
		return nil
	}

	for p := range r.allProviders() {
		if err := visit(p); err != nil {
			return err
		}
	}
	return nil
}

// upgradeScopes promotes every provider transitively depended upon by an
// application-scoped provider to application scope. A narrower-scoped
// sub-dependency cannot outlive the scope that depends on it, so it must
// be owned by the same store.
func (r *rules) upgradeScopes() {
	done := make(map[*provider]bool)

	var force func(p *provider)
	force = func(p *provider) {
		if done[p] {
			return
		}
		done[p] = true

		pol := r.getPolicy(p)
		pol.scope = ScopeApplication
		r.setPolicy(p, pol)

		for _, a := range p.args {
			if cp, ok := r.getProvider(a.typ); ok {
				force(cp)
			}
		}
	}

	for p, pol := range r.allPolicies() {
		if pol.scope == ScopeApplication {
			force(p)
		}
	}
}

// ── Transient registration ────────────────────────────────────────────────────

// selfBindTarget registers t as its own provider when an unbound type is
// resolved directly, then re-validates.
func (r *rules) selfBindTarget(t reflect.Type) (*provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.getProvider(t); ok {
		return p, nil
	}
	p, err := newStructProvider(t)
	if err != nil {
		return nil, err
	}
	r.setBinding(t, edge{provider: p})
	if err := r.validateLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

// registerTransient validates an unregistered callable's arguments
// without entering the callable itself into the binding map, so one-off
// invocations never shadow type resolutions.
func (r *rules) registerTransient(p *provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range p.args {
		if _, ok := r.getEdge(a.typ); ok {
			continue
		}
		if !isImplicitBinding(a.typ) {
			return ImplicitBindingError{Arg: a.name, Type: typeName(a.typ), Provider: p.name}
		}
		np, err := newStructProvider(a.typ)
		if err != nil {
			return err
		}
		r.setBinding(a.typ, edge{provider: np})
	}
	return r.validateLocked()
}
