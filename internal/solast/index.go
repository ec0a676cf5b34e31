package solast

import "sort"

// Index is the symbol table over every unit of one compilation. solc node ids
// are unique within a compilation, so declarations are keyed by id alone.
type Index struct {
	units     []*SourceUnit
	nodes     map[int64]Node
	owner     map[int64]*ContractDefinition
	unitOf    map[int64]*SourceUnit
	enumOf    map[int64]*EnumDefinition
	contracts []*ContractDefinition
	byName    map[string][]*ContractDefinition
}

// NewIndex indexes the given units. Units are kept in the order passed in.
func NewIndex(units ...*SourceUnit) *Index {
	idx := &Index{
		units:  units,
		nodes:  make(map[int64]Node),
		owner:  make(map[int64]*ContractDefinition),
		unitOf: make(map[int64]*SourceUnit),
		enumOf: make(map[int64]*EnumDefinition),
		byName: make(map[string][]*ContractDefinition),
	}
	for _, u := range units {
		idx.addUnit(u)
	}
	return idx
}

func (idx *Index) addUnit(u *SourceUnit) {
	if u == nil {
		return
	}
	idx.nodes[u.ID()] = u
	idx.unitOf[u.ID()] = u
	for _, top := range u.Nodes {
		c, _ := top.(*ContractDefinition)
		if c != nil {
			idx.contracts = append(idx.contracts, c)
			idx.byName[c.Name] = append(idx.byName[c.Name], c)
		}
		Walk(top, func(n Node) bool {
			idx.nodes[n.ID()] = n
			idx.unitOf[n.ID()] = u
			if c != nil && n != Node(c) {
				idx.owner[n.ID()] = c
			}
			if e, ok := n.(*EnumDefinition); ok {
				for _, v := range e.Members {
					idx.enumOf[v.ID()] = e
				}
			}
			return true
		})
	}
}

// Units returns the indexed units.
func (idx *Index) Units() []*SourceUnit {
	return idx.units
}

// Node returns the node with the given id.
func (idx *Index) Node(id int64) (Node, bool) {
	if id < 0 {
		return nil, false
	}
	n, ok := idx.nodes[id]
	return n, ok
}

// Contract returns the contract definition with the given id.
func (idx *Index) Contract(id int64) (*ContractDefinition, bool) {
	n, ok := idx.Node(id)
	if !ok {
		return nil, false
	}
	c, ok := n.(*ContractDefinition)
	return c, ok
}

// Function returns the function definition with the given id.
func (idx *Index) Function(id int64) (*FunctionDefinition, bool) {
	n, ok := idx.Node(id)
	if !ok {
		return nil, false
	}
	f, ok := n.(*FunctionDefinition)
	return f, ok
}

// Owner returns the contract a node is declared in, or nil for file-level nodes.
func (idx *Index) Owner(id int64) *ContractDefinition {
	return idx.owner[id]
}

// Unit returns the source unit a node belongs to.
func (idx *Index) Unit(id int64) *SourceUnit {
	return idx.unitOf[id]
}

// EnumOf returns the enum declaring the given enum value.
func (idx *Index) EnumOf(valueID int64) *EnumDefinition {
	return idx.enumOf[valueID]
}

// Contracts returns every contract definition in unit order.
func (idx *Index) Contracts() []*ContractDefinition {
	return idx.contracts
}

// ContractsByName returns contracts with the given name (there may be several
// across files).
func (idx *Index) ContractsByName(name string) []*ContractDefinition {
	return idx.byName[name]
}

// Linearization returns the C3 linearization of c, most derived first. Ids the
// index cannot resolve are skipped. A contract without linearization data is
// its own linearization.
func (idx *Index) Linearization(c *ContractDefinition) []*ContractDefinition {
	if len(c.LinearizedBaseContracts) == 0 {
		return []*ContractDefinition{c}
	}
	out := make([]*ContractDefinition, 0, len(c.LinearizedBaseContracts))
	for _, id := range c.LinearizedBaseContracts {
		if id == c.ID() {
			out = append(out, c)
			continue
		}
		if base, ok := idx.Contract(id); ok {
			out = append(out, base)
		}
	}
	if len(out) == 0 || out[0] != c {
		out = append([]*ContractDefinition{c}, out...)
	}
	return out
}

// FreeFunctions returns the file-level functions of a unit, ordered by source.
func FreeFunctions(u *SourceUnit) []*FunctionDefinition {
	var out []*FunctionDefinition
	for _, n := range u.Nodes {
		if f, ok := n.(*FunctionDefinition); ok {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Src().Start < out[j].Src().Start })
	return out
}
