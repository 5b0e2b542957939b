package flexdi

import "sync"

// dependant is a provider whose arguments have been resolved into other
// dependants. Building the tree once memoizes all binding lookups so
// repeated resolutions skip the rules maps entirely.
type dependant struct {
	prov *provider
	args []dependantArg
}

type dependantArg struct {
	name string
	node *dependant
}

// dependantMap memoizes dependant trees per provider. Trees bake in the
// argument providers they were resolved against, so each map belongs to
// exactly one rules layer and is discarded with it; a layer that shadows
// a binding starts from an empty map rather than inheriting trees built
// against the old binding.
type dependantMap struct {
	mu    sync.Mutex
	local map[*provider]*dependant
}

func newDependantMap() *dependantMap {
	return &dependantMap{local: make(map[*provider]*dependant)}
}

// resolve returns the memoized dependant tree for p, building it from
// the rules if needed. A provider re-entered while its own tree is under
// construction is a cycle; rules validation normally catches these
// first, but transient callables can still introduce one.
func (m *dependantMap) resolve(p *provider, r *rules) (*dependant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.build(p, r, make(map[*provider]bool), nil)
}

func (m *dependantMap) build(p *provider, r *rules, constructing map[*provider]bool, path []string) (*dependant, error) {
	if d, ok := m.local[p]; ok {
		return d, nil
	}
	path = append(path, p.name)
	if constructing[p] {
		return nil, CycleError{Chain: path}
	}
	constructing[p] = true
	defer delete(constructing, p)

	d := &dependant{prov: p, args: make([]dependantArg, 0, len(p.args))}
	for _, a := range p.args {
		cp, ok := r.providerFor(a.typ)
		if !ok {
			return nil, ImplicitBindingError{Arg: a.name, Type: typeName(a.typ), Provider: p.name}
		}
		cd, err := m.build(cp, r, constructing, path)
		if err != nil {
			return nil, err
		}
		d.args = append(d.args, dependantArg{name: a.name, node: cd})
	}

	m.local[p] = d
	return d, nil
}
