package flexdi

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Graph owns the binding rules and spawns the scopes that construct and
// memoize instances. Register providers with Bind, BindInstance and
// BindAlias, then either Open the graph for its application lifetime or
// resolve directly for one-shot use.
type Graph struct {
	mu     sync.Mutex
	rules  *rules
	logger *zap.Logger

	scope     *ApplicationScope
	seedStore *store
}

// GraphOption configures a Graph at construction.
type GraphOption func(*Graph)

// WithLogger attaches a logger for registration and lifecycle events.
// The default logger discards everything.
func WithLogger(l *zap.Logger) GraphOption {
	return func(g *Graph) {
		g.logger = l
	}
}

// New returns an empty graph.
func New(opts ...GraphOption) *Graph {
	g := &Graph{
		rules:  newRules(),
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// TypeOf returns the reflect.Type of T, including interface types that
// reflect.TypeOf on a value cannot name.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// ── Registration ──────────────────────────────────────────────────────────────

// Bind registers a provider function. The function may accept a leading
// context.Context plus any number of dependency arguments, and must
// return its instance, optionally followed by a release callback and an
// error. Binding is rejected once the graph is open.
func (g *Graph) Bind(fn any, opts ...BindOption) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.scope != nil {
		return SetupError{Reason: "cannot bind providers on an opened graph"}
	}

	p, err := newFuncProvider(fn)
	if err != nil {
		return err
	}
	cfg := bindConfig{scope: ScopeRequest}
	for _, o := range opts {
		o(&cfg)
	}
	if err := g.rules.addPolicy(p, cfg.scope, cfg.eager); err != nil {
		return err
	}
	if err := g.rules.addBinding(p, cfg.targets...); err != nil {
		return err
	}
	g.logger.Debug("bound provider",
		zap.String("provider", p.name),
		zap.String("scope", string(cfg.scope)),
		zap.Bool("eager", cfg.eager))
	return nil
}

// BindInstance registers an already-constructed value. Instances are
// application-scoped and eager, since the value exists regardless of
// whether anything resolves it.
func (g *Graph) BindInstance(v any, opts ...BindOption) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.scope != nil {
		return SetupError{Reason: "cannot bind instances on an opened graph"}
	}

	p, err := newInstanceProvider(v)
	if err != nil {
		return err
	}
	cfg := bindConfig{scope: ScopeApplication, eager: true}
	for _, o := range opts {
		o(&cfg)
	}
	if err := g.rules.addPolicy(p, cfg.scope, cfg.eager); err != nil {
		return err
	}
	if err := g.rules.addBinding(p, cfg.targets...); err != nil {
		return err
	}
	g.logger.Debug("bound instance", zap.String("provider", p.name))
	return nil
}

// BindAlias maps one target type to another, so resolving alias yields
// whatever target resolves to. Chains of aliases collapse at open time.
func (g *Graph) BindAlias(alias, target reflect.Type) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.scope != nil {
		return SetupError{Reason: "cannot bind aliases on an opened graph"}
	}
	if err := g.rules.addAlias(alias, target); err != nil {
		return err
	}
	g.logger.Debug("bound alias",
		zap.String("alias", typeName(alias)),
		zap.String("target", typeName(target)))
	return nil
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Open validates the bindings and constructs every eager
// application-scoped provider. Opening an already-open graph is a no-op.
func (g *Graph) Open(ctx context.Context) error {
	g.mu.Lock()
	if g.scope != nil {
		g.mu.Unlock()
		return nil
	}
	r, err := g.rules.clone()
	if err != nil {
		g.mu.Unlock()
		return err
	}
	sc := newApplicationScope(r, g.seedStore, g.logger)
	g.scope = sc
	g.mu.Unlock()

	if err := sc.Open(ctx); err != nil {
		g.mu.Lock()
		g.scope = nil
		g.mu.Unlock()
		return err
	}
	g.logger.Info("graph opened")
	return nil
}

// Close releases application-scoped instances in reverse construction
// order. The graph may be opened again afterwards; a fresh application
// scope rebuilds everything.
func (g *Graph) Close(ctx context.Context) error {
	g.mu.Lock()
	sc := g.scope
	g.scope = nil
	g.mu.Unlock()
	if sc == nil {
		return nil
	}
	err := sc.Close(ctx)
	g.logger.Info("graph closed")
	return err
}

// ApplicationScope returns the scope created by Open, or an error when
// the graph is not open.
func (g *Graph) ApplicationScope() (*ApplicationScope, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.scope == nil {
		return nil, SetupError{Reason: "graph is not open"}
	}
	return g.scope, nil
}

// ── Resolution ────────────────────────────────────────────────────────────────

// ResolveType resolves a target type. On an open graph the resolution
// runs in a fresh request scope closed before returning; on an unopened
// graph a temporary application scope is opened and closed around it, so
// every resource involved is released again by the time this returns.
func (g *Graph) ResolveType(ctx context.Context, t reflect.Type) (any, error) {
	if sc := g.openScope(); sc != nil {
		return sc.ResolveType(ctx, t)
	}
	sc, err := g.tempScope()
	if err != nil {
		return nil, err
	}
	return sc.ResolveType(ctx, t)
}

// ResolveFunc invokes fn with its arguments resolved from the graph and
// returns fn's result. Scope lifetimes follow the same rules as
// ResolveType.
func (g *Graph) ResolveFunc(ctx context.Context, fn any) (any, error) {
	if sc := g.openScope(); sc != nil {
		return sc.ResolveFunc(ctx, fn)
	}
	sc, err := g.tempScope()
	if err != nil {
		return nil, err
	}
	return sc.ResolveFunc(ctx, fn)
}

func (g *Graph) openScope() *ApplicationScope {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.scope
}

func (g *Graph) tempScope() (*ApplicationScope, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, err := g.rules.clone()
	if err != nil {
		return nil, err
	}
	return newApplicationScope(r, g.seedStore, g.logger), nil
}

// Resolve resolves T from the graph.
func Resolve[T any](ctx context.Context, g *Graph) (T, error) {
	var zero T
	v, err := g.ResolveType(ctx, TypeOf[T]())
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, SetupError{Reason: fmt.Sprintf("provider for %s produced %T", TypeOf[T](), v)}
	}
	return out, nil
}

// Call invokes fn with its arguments resolved from the graph and returns
// its result as T.
func Call[T any](ctx context.Context, g *Graph, fn any) (T, error) {
	var zero T
	v, err := g.ResolveFunc(ctx, fn)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, SetupError{Reason: fmt.Sprintf("%T produced %T", fn, v)}
	}
	return out, nil
}

// ── Override & chaining ───────────────────────────────────────────────────────

// Override pushes a copy-on-write rules layer onto the graph. Bindings
// registered afterwards shadow existing ones without mutating them; the
// returned restore function pops the layer, reverting every override.
// Intended for tests substituting fakes.
func (g *Graph) Override() (restore func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.scope != nil {
		return nil, SetupError{Reason: "cannot override an opened graph"}
	}
	orig := g.rules
	layer, err := orig.clone()
	if err != nil {
		return nil, err
	}
	g.rules = layer
	return func() {
		g.mu.Lock()
		g.rules = orig
		g.mu.Unlock()
	}, nil
}

// Chain derives a new unopened graph from an open one. The child shares
// the parent's constructed application instances read-only and may add
// or shadow bindings before its own Open; closing the child never
// releases parent-owned instances.
func (g *Graph) Chain() (*Graph, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.scope == nil {
		return nil, SetupError{Reason: "chaining requires an opened graph"}
	}
	r, err := g.scope.rules.clone()
	if err != nil {
		return nil, err
	}
	return &Graph{
		rules:     r,
		logger:    g.logger,
		seedStore: g.scope.store.chain(),
	}, nil
}
