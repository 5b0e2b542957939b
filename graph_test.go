package flexdi_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cal-pratt/flexdi"
)

// ── fixtures ──────────────────────────────────────────────────────────────────

type conn struct{ id int }

type repo struct{ c *conn }

type service struct{ r *repo }

type reader interface{ read() string }

type writer interface{ write(string) }

type db struct{ data string }

func (d *db) read() string   { return d.data }
func (d *db) write(s string) { d.data = s }

// recorder collects lifecycle events so tests can assert ordering.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// ── Binding & resolution ──────────────────────────────────────────────────────

func TestGraph_ResolveChain(t *testing.T) {
	g := flexdi.New()
	require.NoError(t, g.Bind(func() *conn { return &conn{id: 1} }))
	require.NoError(t, g.Bind(func(c *conn) *repo { return &repo{c: c} }))
	require.NoError(t, g.Bind(func(r *repo) *service { return &service{r: r} }))

	ctx := context.Background()
	require.NoError(t, g.Open(ctx))
	defer g.Close(ctx)

	svc, err := flexdi.Resolve[*service](ctx, g)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.r.c.id)
}

func TestGraph_MemoizedWithinResolution(t *testing.T) {
	calls := 0
	g := flexdi.New()
	require.NoError(t, g.Bind(func() *conn { calls++; return &conn{id: calls} }))
	require.NoError(t, g.Bind(func(c *conn) *repo { return &repo{c: c} }))
	// Both arguments must see the same conn within one resolution.
	require.NoError(t, g.Bind(func(c *conn, r *repo) *service {
		if c != r.c {
			t.Error("conn not shared within a single resolution")
		}
		return &service{r: r}
	}))

	ctx := context.Background()
	require.NoError(t, g.Open(ctx))
	defer g.Close(ctx)

	_, err := flexdi.Resolve[*service](ctx, g)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGraph_BindInstance(t *testing.T) {
	c := &conn{id: 42}
	g := flexdi.New()
	require.NoError(t, g.BindInstance(c))

	ctx := context.Background()
	require.NoError(t, g.Open(ctx))
	defer g.Close(ctx)

	got, err := flexdi.Resolve[*conn](ctx, g)
	require.NoError(t, err)
	assert.Same(t, c, got)
}

func TestGraph_BindAs(t *testing.T) {
	g := flexdi.New()
	require.NoError(t, g.Bind(func() *db { return &db{data: "x"} }, flexdi.As[reader]()))

	ctx := context.Background()
	require.NoError(t, g.Open(ctx))
	defer g.Close(ctx)

	r, err := flexdi.Resolve[reader](ctx, g)
	require.NoError(t, err)
	assert.Equal(t, "x", r.read())
}

func TestGraph_AliasFanInSharesInstance(t *testing.T) {
	g := flexdi.New()
	require.NoError(t, g.Bind(func() *db { return &db{} },
		flexdi.WithScope(flexdi.ScopeApplication)))
	require.NoError(t, g.BindAlias(flexdi.TypeOf[reader](), flexdi.TypeOf[*db]()))
	require.NoError(t, g.BindAlias(flexdi.TypeOf[writer](), flexdi.TypeOf[*db]()))

	ctx := context.Background()
	require.NoError(t, g.Open(ctx))
	defer g.Close(ctx)

	w, err := flexdi.Resolve[writer](ctx, g)
	require.NoError(t, err)
	w.write("shared")

	r, err := flexdi.Resolve[reader](ctx, g)
	require.NoError(t, err)
	assert.Equal(t, "shared", r.read(), "aliases must resolve to one instance")
}

func TestGraph_SelfBindsDirectStructTarget(t *testing.T) {
	g := flexdi.New()
	require.NoError(t, g.Bind(func() *conn { return &conn{id: 5} }))

	type openRepo struct{ C *conn }
	ctx := context.Background()
	v, err := g.ResolveType(ctx, flexdi.TypeOf[*openRepo]())
	require.NoError(t, err)
	assert.Equal(t, 5, v.(*openRepo).C.id)
}

func TestGraph_SelfBindRejectsUnboundField(t *testing.T) {
	type needsReader struct{ R reader }
	g := flexdi.New()
	_, err := g.ResolveType(context.Background(), flexdi.TypeOf[*needsReader]())
	var ibe flexdi.ImplicitBindingError
	assert.ErrorAs(t, err, &ibe)
}

func TestGraph_UnboundInterfaceFails(t *testing.T) {
	g := flexdi.New()
	_, err := flexdi.Resolve[reader](context.Background(), g)
	assert.Error(t, err)
}

func TestGraph_Call(t *testing.T) {
	g := flexdi.New()
	require.NoError(t, g.Bind(func() *conn { return &conn{id: 3} }))

	ctx := context.Background()
	require.NoError(t, g.Open(ctx))
	defer g.Close(ctx)

	id, err := flexdi.Call[int](ctx, g, func(c *conn) int { return c.id })
	require.NoError(t, err)
	assert.Equal(t, 3, id)
}

// ── Setup errors ──────────────────────────────────────────────────────────────

func TestGraph_BindAfterOpen(t *testing.T) {
	g := flexdi.New()
	ctx := context.Background()
	require.NoError(t, g.Open(ctx))
	defer g.Close(ctx)

	var se flexdi.SetupError
	assert.ErrorAs(t, g.Bind(func() *conn { return nil }), &se)
	assert.ErrorAs(t, g.BindInstance(&conn{}), &se)
	assert.ErrorAs(t, g.BindAlias(flexdi.TypeOf[reader](), flexdi.TypeOf[*db]()), &se)
}

func TestGraph_OpenReportsCycle(t *testing.T) {
	g := flexdi.New()
	require.NoError(t, g.Bind(func(r *repo) *conn { return nil }))
	require.NoError(t, g.Bind(func(c *conn) *repo { return nil }))

	err := g.Open(context.Background())
	var ce flexdi.CycleError
	require.ErrorAs(t, err, &ce)
}

func TestGraph_OpenReportsMissingBinding(t *testing.T) {
	g := flexdi.New()
	require.NoError(t, g.Bind(func(r reader) *service { return nil }))

	err := g.Open(context.Background())
	var ibe flexdi.ImplicitBindingError
	require.ErrorAs(t, err, &ibe)
}

// ── Teardown ordering ─────────────────────────────────────────────────────────

func TestGraph_CloseReleasesReverseOfConstruction(t *testing.T) {
	rec := &recorder{}
	g := flexdi.New()
	require.NoError(t, g.Bind(func() (*conn, func()) {
		rec.add("open conn")
		return &conn{}, func() { rec.add("close conn") }
	}, flexdi.WithScope(flexdi.ScopeApplication)))
	require.NoError(t, g.Bind(func(c *conn) (*repo, func()) {
		rec.add("open repo")
		return &repo{c: c}, func() { rec.add("close repo") }
	}, flexdi.WithScope(flexdi.ScopeApplication)))

	ctx := context.Background()
	require.NoError(t, g.Open(ctx))
	_, err := flexdi.Resolve[*repo](ctx, g)
	require.NoError(t, err)
	require.NoError(t, g.Close(ctx))

	assert.Equal(t, []string{
		"open conn", "open repo",
		"close repo", "close conn",
	}, rec.all())
}

func TestGraph_CallTeardownEventOrder(t *testing.T) {
	rec := &recorder{}
	g := flexdi.New()
	require.NoError(t, g.Bind(func() (*conn, func()) {
		rec.add("1")
		return &conn{}, func() { rec.add("5") }
	}))
	require.NoError(t, g.Bind(func(c *conn) (*repo, func()) {
		rec.add("2")
		return &repo{c: c}, func() { rec.add("4") }
	}))

	// One-shot invocation on an unopened graph: construction, the call
	// body, then releases in reverse construction order.
	_, err := g.ResolveFunc(context.Background(), func(r *repo) {
		rec.add("3")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, rec.all())
}

func TestGraph_ReopenRebuildsInstances(t *testing.T) {
	g := flexdi.New()
	require.NoError(t, g.Bind(func() *conn { return &conn{} },
		flexdi.WithScope(flexdi.ScopeApplication)))

	ctx := context.Background()
	require.NoError(t, g.Open(ctx))
	a, err := flexdi.Resolve[*conn](ctx, g)
	require.NoError(t, err)
	b, err := flexdi.Resolve[*conn](ctx, g)
	require.NoError(t, err)
	assert.Same(t, a, b)
	require.NoError(t, g.Close(ctx))

	require.NoError(t, g.Open(ctx))
	defer g.Close(ctx)
	c, err := flexdi.Resolve[*conn](ctx, g)
	require.NoError(t, err)
	assert.NotSame(t, a, c, "a reopened graph rebuilds from scratch")
}

// ── Override ──────────────────────────────────────────────────────────────────

func TestGraph_OverrideIsTransactional(t *testing.T) {
	g := flexdi.New()
	require.NoError(t, g.Bind(func() *db { return &db{data: "real"} }, flexdi.As[reader]()))

	restore, err := g.Override()
	require.NoError(t, err)
	require.NoError(t, g.Bind(func() *db { return &db{data: "fake"} }, flexdi.As[reader]()))

	ctx := context.Background()
	r, err := flexdi.Resolve[reader](ctx, g)
	require.NoError(t, err)
	assert.Equal(t, "fake", r.read())

	restore()

	r, err = flexdi.Resolve[reader](ctx, g)
	require.NoError(t, err)
	assert.Equal(t, "real", r.read())
}

func TestGraph_OverrideRevertsDependentResolution(t *testing.T) {
	g := flexdi.New()
	require.NoError(t, g.Bind(func() *db { return &db{data: "real"} }, flexdi.As[reader]()))
	// report depends on reader, so its memoized dependency tree must not
	// survive the override layer it was built against.
	type report struct{ data string }
	require.NoError(t, g.Bind(func(r reader) *report { return &report{data: r.read()} }))

	ctx := context.Background()
	resolveReport := func() string {
		v, err := g.ResolveType(ctx, flexdi.TypeOf[*report]())
		require.NoError(t, err)
		return v.(*report).data
	}

	assert.Equal(t, "real", resolveReport())

	restore, err := g.Override()
	require.NoError(t, err)
	require.NoError(t, g.Bind(func() *db { return &db{data: "fake"} }, flexdi.As[reader]()))
	assert.Equal(t, "fake", resolveReport())

	restore()
	assert.Equal(t, "real", resolveReport())
}

func TestGraph_RebindAfterCloseTakesEffect(t *testing.T) {
	g := flexdi.New()
	require.NoError(t, g.Bind(func() *db { return &db{data: "v1"} }, flexdi.As[reader]()))
	type report struct{ data string }
	require.NoError(t, g.Bind(func(r reader) *report { return &report{data: r.read()} }))

	ctx := context.Background()
	require.NoError(t, g.Open(ctx))
	v, err := g.ResolveType(ctx, flexdi.TypeOf[*report]())
	require.NoError(t, err)
	assert.Equal(t, "v1", v.(*report).data)
	require.NoError(t, g.Close(ctx))

	// Rebinding between opens must reach dependents too.
	require.NoError(t, g.Bind(func() *db { return &db{data: "v2"} }, flexdi.As[reader]()))
	require.NoError(t, g.Open(ctx))
	defer g.Close(ctx)
	v, err = g.ResolveType(ctx, flexdi.TypeOf[*report]())
	require.NoError(t, err)
	assert.Equal(t, "v2", v.(*report).data)
}

func TestGraph_OverrideRejectedWhenOpen(t *testing.T) {
	g := flexdi.New()
	ctx := context.Background()
	require.NoError(t, g.Open(ctx))
	defer g.Close(ctx)

	_, err := g.Override()
	var se flexdi.SetupError
	assert.ErrorAs(t, err, &se)
}

// ── Chaining ──────────────────────────────────────────────────────────────────

func TestGraph_ChainSharesParentInstances(t *testing.T) {
	rec := &recorder{}
	g := flexdi.New()
	require.NoError(t, g.Bind(func() (*conn, func()) {
		rec.add("open conn")
		return &conn{id: 1}, func() { rec.add("close conn") }
	}, flexdi.WithScope(flexdi.ScopeApplication), flexdi.Eager()))

	ctx := context.Background()
	require.NoError(t, g.Open(ctx))

	child, err := g.Chain()
	require.NoError(t, err)
	require.NoError(t, child.Bind(func(c *conn) *repo { return &repo{c: c} },
		flexdi.WithScope(flexdi.ScopeApplication)))
	require.NoError(t, child.Open(ctx))

	parentConn, err := flexdi.Resolve[*conn](ctx, g)
	require.NoError(t, err)
	childRepo, err := flexdi.Resolve[*repo](ctx, child)
	require.NoError(t, err)
	assert.Same(t, parentConn, childRepo.c, "child must reuse the parent's instance")

	// Closing the child must not release the parent's conn.
	require.NoError(t, child.Close(ctx))
	assert.Equal(t, []string{"open conn"}, rec.all())

	require.NoError(t, g.Close(ctx))
	assert.Equal(t, []string{"open conn", "close conn"}, rec.all())
}

func TestGraph_ChainRequiresOpenParent(t *testing.T) {
	g := flexdi.New()
	_, err := g.Chain()
	var se flexdi.SetupError
	assert.ErrorAs(t, err, &se)
}

func TestGraph_ChainCanShadowBindings(t *testing.T) {
	g := flexdi.New()
	require.NoError(t, g.Bind(func() *db { return &db{data: "parent"} }, flexdi.As[reader]()))

	ctx := context.Background()
	require.NoError(t, g.Open(ctx))
	defer g.Close(ctx)

	child, err := g.Chain()
	require.NoError(t, err)
	require.NoError(t, child.Bind(func() *db { return &db{data: "child"} }, flexdi.As[reader]()))
	require.NoError(t, child.Open(ctx))
	defer child.Close(ctx)

	r, err := flexdi.Resolve[reader](ctx, child)
	require.NoError(t, err)
	assert.Equal(t, "child", r.read())

	r, err = flexdi.Resolve[reader](ctx, g)
	require.NoError(t, err)
	assert.Equal(t, "parent", r.read())
}
