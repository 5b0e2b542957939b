package flexdi

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
)

// ── Provider kinds ────────────────────────────────────────────────────────────

// providerKind is the closed set of constructor shapes the graph accepts.
type providerKind int

const (
	// kindValue is a plain constructor: func(deps...) T.
	kindValue providerKind = iota

	// kindFallible returns an error alongside the value:
	// func(deps...) (T, error). With a leading context.Context argument
	// this is the context-aware (async) form.
	kindFallible

	// kindScopedSync additionally returns a release closure, run when the
	// owning scope closes: func(deps...) (T, func()) or
	// func(deps...) (T, func(), error).
	kindScopedSync

	// kindScopedAsync returns a context-aware release closure:
	// func(deps...) (T, func(context.Context) error) or the three-result
	// form with a trailing error.
	kindScopedAsync

	// kindInstance wraps a pre-built value bound via BindInstance.
	kindInstance

	// kindStruct self-binds a struct type; its exported fields are the
	// dependency list and the instance is built by populating them.
	kindStruct
)

var (
	ctxType          = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType          = reflect.TypeOf((*error)(nil)).Elem()
	syncReleaseType  = reflect.TypeOf((func())(nil))
	asyncReleaseType = reflect.TypeOf((func(context.Context) error)(nil))
)

// arg is one declared dependency of a provider: a display name (argN for
// functions, the field name for self-bound structs) and the target type.
type arg struct {
	name string
	typ  reflect.Type
}

// provider holds everything needed to invoke one registered constructor:
// its classified kind, produced type, and typed argument list. Identity
// is the *provider pointer — registering the same function twice yields
// two distinct providers.
type provider struct {
	name  string
	kind  providerKind
	out   reflect.Type // nil for invocation-only callables
	args  []arg
	ctxIn bool

	fn         reflect.Value // function kinds
	value      reflect.Value // kindInstance
	structType reflect.Type  // kindStruct: the element struct type
	ptrOut     bool          // kindStruct: produce *T rather than T

	valIdx, relIdx, errIdx int
}

func (p *provider) String() string { return p.name }

// ── Constructor inspection ────────────────────────────────────────────────────

// newFuncProvider classifies a constructor function for binding. The
// function must produce a value; use newCallProvider for invocation-only
// callables (entrypoints) that may return nothing or only an error.
func newFuncProvider(fn any) (*provider, error) {
	return describeFunc(fn, false)
}

// newCallProvider classifies a callable used as an invocation target.
func newCallProvider(fn any) (*provider, error) {
	return describeFunc(fn, true)
}

func describeFunc(fn any, allowUnit bool) (*provider, error) {
	if fn == nil {
		return nil, SetupError{Reason: "provider must be a function, got nil"}
	}
	rv := reflect.ValueOf(fn)
	rt := rv.Type()
	if rt.Kind() != reflect.Func {
		return nil, SetupError{Reason: fmt.Sprintf("provider must be a function, got %T", fn)}
	}
	if rt.IsVariadic() {
		return nil, SetupError{Reason: "variadic providers are not supported: " + funcName(rv)}
	}

	p := &provider{
		name:   funcName(rv),
		fn:     rv,
		valIdx: -1,
		relIdx: -1,
		errIdx: -1,
	}

	start := 0
	if rt.NumIn() > 0 && rt.In(0) == ctxType {
		p.ctxIn = true
		start = 1
	}
	for i := start; i < rt.NumIn(); i++ {
		if rt.In(i) == ctxType {
			return nil, SetupError{Reason: "context.Context must be the first argument of " + p.name}
		}
		p.args = append(p.args, arg{name: fmt.Sprintf("arg%d", i), typ: rt.In(i)})
	}

	switch rt.NumOut() {
	case 0:
		if !allowUnit {
			return nil, UntypedError{Provider: p.name}
		}
		p.kind = kindValue

	case 1:
		if rt.Out(0) == errType {
			if !allowUnit {
				return nil, UntypedError{Provider: p.name}
			}
			p.kind = kindFallible
			p.errIdx = 0
		} else {
			p.kind = kindValue
			p.out = rt.Out(0)
			p.valIdx = 0
		}

	case 2:
		if rt.Out(0) == errType {
			return nil, SetupError{Reason: "error must be the last result of " + p.name}
		}
		p.out = rt.Out(0)
		p.valIdx = 0
		p.relIdx = 1
		switch rt.Out(1) {
		case errType:
			p.kind = kindFallible
			p.relIdx = -1
			p.errIdx = 1
		case syncReleaseType:
			p.kind = kindScopedSync
		case asyncReleaseType:
			p.kind = kindScopedAsync
		default:
			return nil, SetupError{Reason: fmt.Sprintf(
				"unsupported constructor shape for %s: second result must be error or a release func", p.name)}
		}

	case 3:
		p.out = rt.Out(0)
		p.valIdx = 0
		p.relIdx = 1
		p.errIdx = 2
		switch rt.Out(1) {
		case syncReleaseType:
			p.kind = kindScopedSync
		case asyncReleaseType:
			p.kind = kindScopedAsync
		default:
			return nil, SetupError{Reason: fmt.Sprintf(
				"unsupported constructor shape for %s: second result must be a release func", p.name)}
		}
		if rt.Out(2) != errType {
			return nil, SetupError{Reason: "error must be the last result of " + p.name}
		}

	default:
		return nil, SetupError{Reason: fmt.Sprintf(
			"unsupported constructor shape for %s: too many results", p.name)}
	}

	return p, nil
}

// newInstanceProvider wraps an already-built value.
func newInstanceProvider(v any) (*provider, error) {
	if v == nil {
		return nil, SetupError{Reason: "cannot bind a nil instance"}
	}
	rv := reflect.ValueOf(v)
	return &provider{
		name:   fmt.Sprintf("instance(%s)", rv.Type()),
		kind:   kindInstance,
		out:    rv.Type(),
		value:  rv,
		valIdx: -1,
		relIdx: -1,
		errIdx: -1,
	}, nil
}

// newStructProvider self-binds a struct (or pointer-to-struct) type. The
// dependency list is the exported fields, in declaration order.
func newStructProvider(t reflect.Type) (*provider, error) {
	st := t
	ptr := false
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
		ptr = true
	}
	if st.Kind() != reflect.Struct {
		return nil, SetupError{Reason: fmt.Sprintf("cannot self-bind %s: not a struct type", t)}
	}

	p := &provider{
		name:       t.String(),
		kind:       kindStruct,
		out:        t,
		structType: st,
		ptrOut:     ptr,
		valIdx:     -1,
		relIdx:     -1,
		errIdx:     -1,
	}
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() {
			continue
		}
		p.args = append(p.args, arg{name: f.Name, typ: f.Type})
	}
	return p, nil
}

// ── Invocation ────────────────────────────────────────────────────────────────

// invoke calls the provider with resolved arguments. The returned release
// closure, if any, must be pushed onto the owning store's release stack
// at the moment of successful acquisition.
func (p *provider) invoke(ctx context.Context, args []reflect.Value) (any, func(context.Context) error, error) {
	switch p.kind {
	case kindInstance:
		return p.value.Interface(), nil, nil

	case kindStruct:
		v := reflect.New(p.structType)
		next := 0
		for i := 0; i < p.structType.NumField(); i++ {
			if !p.structType.Field(i).IsExported() {
				continue
			}
			v.Elem().Field(i).Set(args[next])
			next++
		}
		if p.ptrOut {
			return v.Interface(), nil, nil
		}
		return v.Elem().Interface(), nil, nil
	}

	in := args
	if p.ctxIn {
		in = append([]reflect.Value{reflect.ValueOf(ctx)}, args...)
	}
	results := p.fn.Call(in)

	if p.errIdx >= 0 && !results[p.errIdx].IsNil() {
		return nil, nil, results[p.errIdx].Interface().(error)
	}

	var instance any
	if p.valIdx >= 0 {
		instance = results[p.valIdx].Interface()
	}

	var release func(context.Context) error
	if p.relIdx >= 0 && !results[p.relIdx].IsNil() {
		if p.kind == kindScopedAsync {
			release = results[p.relIdx].Interface().(func(context.Context) error)
		} else {
			done := results[p.relIdx].Interface().(func())
			release = func(context.Context) error {
				done()
				return nil
			}
		}
	}

	return instance, release, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func funcName(rv reflect.Value) string {
	if f := runtime.FuncForPC(rv.Pointer()); f != nil {
		return f.Name()
	}
	return rv.Type().String()
}

// argValue adapts a resolved instance to a call argument of type t,
// mapping untyped nils to the type's zero value.
func argValue(t reflect.Type, v any) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}
	return reflect.ValueOf(v)
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
