package flexdi

// Pack groups related bindings so libraries can ship reusable wiring. A
// pack's Register typically calls Bind a handful of times:
//
//	type SQLPack struct{ DSN string }
//
//	func (p SQLPack) Register(g *flexdi.Graph) error {
//		return g.Bind(p.openDB, flexdi.WithScope(flexdi.ScopeApplication))
//	}
type Pack interface {
	Register(g *Graph) error
}

// Install registers each pack's bindings in order, stopping at the first
// error.
func (g *Graph) Install(packs ...Pack) error {
	if g.openScope() != nil {
		return SetupError{Reason: "cannot install packs on an opened graph"}
	}
	for _, p := range packs {
		if err := p.Register(g); err != nil {
			return err
		}
	}
	return nil
}
