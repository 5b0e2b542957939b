package flexdi

import (
	"context"
	"errors"
)

// Entrypoint wraps a function whose arguments resolve from a graph. Each
// run opens the graph, invokes the function, then closes the graph, so a
// main function can be reduced to declaring its dependencies:
//
//	ep, err := g.Entrypoint(func(srv *Server) error { return srv.Serve() })
//	if err != nil {
//		log.Fatal(err)
//	}
//	if _, err := ep.Run(); err != nil {
//		log.Fatal(err)
//	}
type Entrypoint struct {
	g *Graph
	p *provider
}

// Entrypoint wraps fn for repeated runs against this graph. The graph
// must not be open: every run owns the full open/close cycle.
func (g *Graph) Entrypoint(fn any) (*Entrypoint, error) {
	if g.openScope() != nil {
		return nil, SetupError{Reason: "cannot create an entrypoint on an opened graph"}
	}
	p, err := newCallProvider(fn)
	if err != nil {
		return nil, err
	}
	return &Entrypoint{g: g, p: p}, nil
}

// Run invokes the entrypoint with a background context.
func (e *Entrypoint) Run() (any, error) {
	return e.RunContext(context.Background())
}

// RunContext opens the graph, invokes the wrapped function with its
// arguments resolved, and closes the graph. Resources are released in
// reverse construction order even when the function fails.
func (e *Entrypoint) RunContext(ctx context.Context) (any, error) {
	if e.g.openScope() != nil {
		return nil, SetupError{Reason: "entrypoint run on an already-opened graph"}
	}
	if err := e.g.Open(ctx); err != nil {
		return nil, err
	}

	v, err := func() (any, error) {
		sc, err := e.g.ApplicationScope()
		if err != nil {
			return nil, err
		}
		rs, err := sc.RequestScope()
		if err != nil {
			return nil, err
		}
		if err := rs.Open(ctx); err != nil {
			return nil, err
		}
		v, err := rs.resolveTransient(ctx, e.p)
		if cerr := rs.Close(ctx); cerr != nil || err != nil {
			return nil, errors.Join(err, cerr)
		}
		return v, nil
	}()

	if cerr := e.g.Close(ctx); cerr != nil || err != nil {
		return nil, errors.Join(err, cerr)
	}
	return v, nil
}
