package flexdi

import "reflect"

// ImplicitBinding marks a type as safe to resolve without an explicit
// binding. Types you own can opt in by implementing the marker method;
// the graph will then self-bind them, populating exported fields from
// other bindings:
//
//	type Config struct {
//		DB *Database
//	}
//
//	func (Config) FlexImplicitBinding() {}
//
// Unmarked types encountered as unbound provider arguments fail
// validation with an [ImplicitBindingError].
type ImplicitBinding interface {
	FlexImplicitBinding()
}

var implicitType = reflect.TypeOf((*ImplicitBinding)(nil)).Elem()

// isImplicitBinding reports whether t opted in to implicit resolution,
// checking both the type itself and its pointer method set.
func isImplicitBinding(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if t.Implements(implicitType) {
		return true
	}
	return t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(implicitType)
}
