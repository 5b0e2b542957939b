package flexdi

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct{ n int }

type gadget struct {
	W *widget
}

// ── Constructor shapes ────────────────────────────────────────────────────────

func TestNewFuncProvider_Value(t *testing.T) {
	p, err := newFuncProvider(func() *widget { return &widget{n: 1} })
	require.NoError(t, err)
	assert.Equal(t, kindValue, p.kind)
	assert.Equal(t, TypeOf[*widget](), p.out)
	assert.Empty(t, p.args)

	v, release, err := p.invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, release)
	assert.Equal(t, 1, v.(*widget).n)
}

func TestNewFuncProvider_Fallible(t *testing.T) {
	boom := errors.New("boom")
	p, err := newFuncProvider(func() (*widget, error) { return nil, boom })
	require.NoError(t, err)
	assert.Equal(t, kindFallible, p.kind)

	_, _, err = p.invoke(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
}

func TestNewFuncProvider_SyncRelease(t *testing.T) {
	released := false
	p, err := newFuncProvider(func() (*widget, func()) {
		return &widget{}, func() { released = true }
	})
	require.NoError(t, err)
	assert.Equal(t, kindScopedSync, p.kind)

	_, release, err := p.invoke(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, release)
	require.NoError(t, release(context.Background()))
	assert.True(t, released)
}

func TestNewFuncProvider_AsyncRelease(t *testing.T) {
	p, err := newFuncProvider(func(ctx context.Context) (*widget, func(context.Context) error, error) {
		return &widget{}, func(context.Context) error { return nil }, nil
	})
	require.NoError(t, err)
	assert.Equal(t, kindScopedAsync, p.kind)
	assert.True(t, p.ctxIn)
	assert.Empty(t, p.args)
}

func TestNewFuncProvider_ArgsRecorded(t *testing.T) {
	p, err := newFuncProvider(func(w *widget, n int) string { return "" })
	require.NoError(t, err)
	require.Len(t, p.args, 2)
	assert.Equal(t, TypeOf[*widget](), p.args[0].typ)
	assert.Equal(t, TypeOf[int](), p.args[1].typ)
}

func TestNewFuncProvider_Rejections(t *testing.T) {
	cases := map[string]any{
		"nil":            nil,
		"not a function": 42,
		"variadic":       func(ws ...*widget) *widget { return nil },
		"ctx not first":  func(w *widget, ctx context.Context) *widget { return nil },
		"error first":    func() (error, *widget) { return nil, nil },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newFuncProvider(fn)
			assert.Error(t, err)
		})
	}
}

func TestNewFuncProvider_UnitRejectedForBinding(t *testing.T) {
	_, err := newFuncProvider(func() {})
	var ute UntypedError
	assert.ErrorAs(t, err, &ute)

	_, err = newFuncProvider(func() error { return nil })
	assert.ErrorAs(t, err, &ute)
}

func TestNewCallProvider_UnitAllowed(t *testing.T) {
	p, err := newCallProvider(func() {})
	require.NoError(t, err)
	assert.Nil(t, p.out)

	v, _, err := p.invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

// ── Instances & structs ───────────────────────────────────────────────────────

func TestNewInstanceProvider(t *testing.T) {
	w := &widget{n: 7}
	p, err := newInstanceProvider(w)
	require.NoError(t, err)
	assert.Equal(t, kindInstance, p.kind)
	assert.Equal(t, TypeOf[*widget](), p.out)

	v, release, err := p.invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, release)
	assert.Same(t, w, v)
}

func TestNewInstanceProvider_Nil(t *testing.T) {
	_, err := newInstanceProvider(nil)
	assert.Error(t, err)
}

func TestNewStructProvider_Pointer(t *testing.T) {
	p, err := newStructProvider(TypeOf[*gadget]())
	require.NoError(t, err)
	require.Len(t, p.args, 1)
	assert.Equal(t, TypeOf[*widget](), p.args[0].typ)
	assert.Equal(t, "W", p.args[0].name)

	w := &widget{n: 3}
	v, _, err := p.invoke(context.Background(), []reflect.Value{reflect.ValueOf(w)})
	require.NoError(t, err)
	assert.Same(t, w, v.(*gadget).W)
}

func TestNewStructProvider_Value(t *testing.T) {
	p, err := newStructProvider(TypeOf[gadget]())
	require.NoError(t, err)

	w := &widget{n: 3}
	v, _, err := p.invoke(context.Background(), []reflect.Value{reflect.ValueOf(w)})
	require.NoError(t, err)
	assert.Same(t, w, v.(gadget).W)
}

func TestNewStructProvider_NotAStruct(t *testing.T) {
	_, err := newStructProvider(TypeOf[int]())
	assert.Error(t, err)
}
