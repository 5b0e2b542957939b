package flexdi

import "strings"

// SetupError reports structural misuse of the graph: binding after the
// graph has been opened, chaining a graph that was never opened, using an
// unrecognized scope name, or re-running an entrypoint on an already-open
// graph. It is always returned synchronously from the offending call.
type SetupError struct {
	Reason string
}

func (e SetupError) Error() string {
	return "flexdi: " + e.Reason
}

// CycleError reports a cycle found either in the alias chain between
// binding targets or in the provider-parameter dependency graph. Chain
// holds the full path that revisited a node, in traversal order.
type CycleError struct {
	Chain []string
}

func (e CycleError) Error() string {
	var b strings.Builder
	b.WriteString("flexdi: cycle detected in dependencies:")
	for _, s := range e.Chain {
		b.WriteString("\n  ")
		b.WriteString(s)
	}
	return b.String()
}

// ImplicitBindingError reports a provider argument whose type has no
// registered binding and is not marked as implicit-binding eligible.
type ImplicitBindingError struct {
	Arg      string
	Type     string
	Provider string
}

func (e ImplicitBindingError) Error() string {
	return "flexdi: unable to determine provider for argument " +
		e.Arg + ": " + e.Type + " while evaluating " + e.Provider
}

// UntypedError reports a provider whose produced type could not be
// determined from its signature and was not supplied explicitly.
type UntypedError struct {
	Provider string
}

func (e UntypedError) Error() string {
	return "flexdi: could not determine provided type for " + e.Provider
}
