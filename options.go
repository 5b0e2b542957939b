package flexdi

import "reflect"

type bindConfig struct {
	targets []reflect.Type
	scope   ScopeName
	eager   bool
}

// BindOption configures a Bind or BindInstance call.
type BindOption func(*bindConfig)

// As registers the provider under T instead of its declared output type.
// Repeat to register under several targets, typically interfaces the
// concrete output satisfies:
//
//	g.Bind(NewPostgres, flexdi.As[Database](), flexdi.As[HealthChecker]())
func As[T any]() BindOption {
	return func(c *bindConfig) {
		c.targets = append(c.targets, TypeOf[T]())
	}
}

// WithScope assigns the provider's lifetime. The default is
// ScopeRequest.
func WithScope(s ScopeName) BindOption {
	return func(c *bindConfig) {
		c.scope = s
	}
}

// Eager marks the provider for construction when its scope opens rather
// than on first resolution.
func Eager() BindOption {
	return func(c *bindConfig) {
		c.eager = true
	}
}
