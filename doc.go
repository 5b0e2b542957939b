// Package flexdi is a dependency injection graph with scoped lifetimes
// and deterministic teardown.
//
// # Overview
//
// A Graph maps target types to provider functions. Resolving a target
// walks the dependency graph, constructing each provider at most once
// per scope and memoizing the result. Providers may yield a release
// callback alongside their value; when a scope closes, releases run in
// the exact reverse of construction order, so nothing is torn down
// before the things built on top of it.
//
// # Graph Lifecycle
//
//  1. Create: g := flexdi.New()
//  2. Register: g.Bind(NewDatabase, flexdi.WithScope(flexdi.ScopeApplication))
//  3. Open: g.Open(ctx) — validates bindings, builds eager providers
//  4. Resolve: db, err := flexdi.Resolve[*Database](ctx, g)
//  5. Close: g.Close(ctx) — releases everything, newest first
//
// # Providers
//
// A provider is any non-variadic function returning an instance,
// optionally followed by a release callback and an error. It may take a
// leading context.Context plus any dependencies, which are resolved
// recursively:
//
//	// Plain value
//	g.Bind(func(cfg *Config) *Client { return NewClient(cfg.Addr) })
//
//	// Fallible, with release
//	g.Bind(func(ctx context.Context, cfg *Config) (*sql.DB, func(), error) {
//	    db, err := sql.Open("postgres", cfg.DSN)
//	    if err != nil {
//	        return nil, nil, err
//	    }
//	    return db, func() { db.Close() }, nil
//	}, flexdi.WithScope(flexdi.ScopeApplication))
//
//	// Pre-built value
//	g.BindInstance(cfg)
//
//	// Interface binding
//	g.Bind(NewPostgresStore, flexdi.As[Store]())
//
// # Scopes
//
// Application-scoped instances live from Open to Close and are shared by
// every request scope. Request-scoped instances (the default) live for
// one request scope, spawned per unit of work:
//
//	scope, _ := appScope.RequestScope()
//	scope.Open(ctx)
//	defer scope.Close(ctx)
//
// Resolving on an unopened scope opens and closes it around the single
// resolution, so one-shot use needs no explicit lifecycle at all.
//
// Dependencies of an application-scoped provider are promoted to
// application scope, since they must outlive everything built on them.
//
// # Struct Providers
//
// Types embedding the ImplicitBinding marker may be constructed without
// an explicit provider: exported fields are treated as dependencies and
// filled by resolution.
package flexdi
