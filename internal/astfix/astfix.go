// Package astfix builds solc compact-AST build artifacts programmatically.
//
// Declarations are described with a small builder API; Artifact renders them to
// the JSON shape produced by `forge build --build-info` together with matching
// source text, so src offsets in the AST point at real characters.
//
//	g := astfix.New()
//	v := g.Unit("src/Vault.sol").Contract("Vault")
//	tr := v.Func("_transfer", "nonpayable", "internal")
//	v.Func("withdraw", "nonpayable", "external").Calls(tr)
//	data := g.Artifact()
package astfix

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Gen owns every unit of one synthetic compilation.
type Gen struct {
	next  int64
	units []*Unit
}

// New returns an empty generator.
func New() *Gen {
	return &Gen{next: 1}
}

func (g *Gen) id() int64 {
	id := g.next
	g.next++
	return id
}

// Unit adds a source file at path (as the compiler reports it).
func (g *Gen) Unit(path string) *Unit {
	u := &Unit{scope: scope{g: g}, Path: path, ID: g.id()}
	g.units = append(g.units, u)
	return u
}

// Artifact renders the build-info JSON. Rendering is deterministic.
func (g *Gen) Artifact() []byte {
	sources, _ := g.render()
	doc := map[string]any{
		"_format":     "hh-sol-build-info-1",
		"solcVersion": "0.8.24",
		"output": map[string]any{
			"sources":   sources,
			"contracts": map[string]any{},
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("astfix: marshal artifact: %v", err))
	}
	return data
}

// UnitAST renders the "ast" object of a single unit.
func (g *Gen) UnitAST(path string) []byte {
	sources, _ := g.render()
	entry, ok := sources[path].(map[string]any)
	if !ok {
		return nil
	}
	data, err := json.Marshal(entry["ast"])
	if err != nil {
		panic(fmt.Sprintf("astfix: marshal unit: %v", err))
	}
	return data
}

// Sources returns the generated source text keyed by unit path.
func (g *Gen) Sources() map[string]string {
	_, text := g.render()
	return text
}

// WriteArtifact writes the artifact to dir/name and returns the file path.
func (g *Gen) WriteArtifact(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, g.Artifact(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// WriteSources writes each unit's source text below root.
func (g *Gen) WriteSources(root string) error {
	for path, text := range g.Sources() {
		full := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(full, []byte(text), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gen) render() (map[string]any, map[string]string) {
	sources := make(map[string]any, len(g.units))
	text := make(map[string]string, len(g.units))
	r := &renderer{next: g.next}
	for i, u := range g.units {
		r.file = i
		r.buf.Reset()
		ast := r.unit(u)
		sources[u.Path] = map[string]any{"id": i, "ast": ast}
		text[u.Path] = r.buf.String()
	}
	return sources, text
}

type declKind int

const (
	declEvent declKind = iota
	declError
	declStruct
	declEnum
	declUserType
)

// Decl is an event, error, struct, enum or user-defined value type.
type Decl struct {
	ID     int64
	Name   string
	kind   declKind
	types  []string
	values []enumValue
}

type enumValue struct {
	id   int64
	name string
}

// ValueID returns the id of the named enum member, or 0.
func (d *Decl) ValueID(name string) int64 {
	for _, v := range d.values {
		if v.name == name {
			return v.id
		}
	}
	return 0
}

// scope holds declarations shared by units and contracts.
type scope struct {
	g     *Gen
	decls []*Decl
}

func (s *scope) add(kind declKind, name string, types []string) *Decl {
	d := &Decl{ID: s.g.id(), Name: name, kind: kind, types: types}
	s.decls = append(s.decls, d)
	return d
}

// Event declares an event with the given parameter types.
func (s *scope) Event(name string, params ...string) *Decl {
	return s.add(declEvent, name, params)
}

// Error declares a custom error.
func (s *scope) Error(name string, params ...string) *Decl {
	return s.add(declError, name, params)
}

// Struct declares a struct with members of the given types.
func (s *scope) Struct(name string, members ...string) *Decl {
	return s.add(declStruct, name, members)
}

// Enum declares an enum with the given members.
func (s *scope) Enum(name string, values ...string) *Decl {
	d := s.add(declEnum, name, nil)
	for _, v := range values {
		d.values = append(d.values, enumValue{id: s.g.id(), name: v})
	}
	return d
}

// UserType declares `type name is underlying`.
func (s *scope) UserType(name, underlying string) *Decl {
	return s.add(declUserType, name, []string{underlying})
}

// Unit is one source file.
type Unit struct {
	scope
	Path      string
	ID        int64
	imports   []*Unit
	funcs     []*Func
	contracts []*Contract
}

// Import records `import "<other>";`.
func (u *Unit) Import(other *Unit) *Unit {
	u.imports = append(u.imports, other)
	return u
}

// Contract adds a contract of kind "contract".
func (u *Unit) Contract(name string) *Contract {
	c := &Contract{scope: scope{g: u.g}, unit: u, ID: u.g.id(), Name: name, kind: "contract"}
	u.contracts = append(u.contracts, c)
	return c
}

// Interface adds an interface.
func (u *Unit) Interface(name string) *Contract {
	return u.Contract(name).Kind("interface")
}

// Library adds a library.
func (u *Unit) Library(name string) *Contract {
	return u.Contract(name).Kind("library")
}

// Func adds a file-level (free) function.
func (u *Unit) Func(name string) *Func {
	f := &Func{ID: u.g.id(), Name: name, kind: "freeFunction", mutability: "nonpayable", visibility: "internal", unit: u}
	u.funcs = append(u.funcs, f)
	return f
}

// Contract is a contract, interface or library.
type Contract struct {
	scope
	ID        int64
	Name      string
	unit      *Unit
	kind      string
	abstract  bool
	bases     []*Contract
	funcs     []*Func
	modifiers []*Func
	using     []*Contract
	vars      []*stateVar
}

type stateVar struct {
	id   int64
	name string
	of   *Contract
}

// Kind sets the contract kind (contract, interface, library).
func (c *Contract) Kind(kind string) *Contract {
	c.kind = kind
	return c
}

// Abstract marks the contract abstract.
func (c *Contract) Abstract() *Contract {
	c.abstract = true
	return c
}

// Inherits appends base contracts in `is` order.
func (c *Contract) Inherits(bases ...*Contract) *Contract {
	c.bases = append(c.bases, bases...)
	return c
}

// Using adds `using lib for *;` unless already present.
func (c *Contract) Using(lib *Contract) *Contract {
	for _, l := range c.using {
		if l == lib {
			return c
		}
	}
	c.using = append(c.using, lib)
	return c
}

// Func adds a function.
func (c *Contract) Func(name, mutability, visibility string) *Func {
	f := &Func{ID: c.g.id(), Name: name, kind: "function", mutability: mutability, visibility: visibility, contract: c, unit: c.unit}
	c.funcs = append(c.funcs, f)
	return f
}

// Constructor adds a constructor.
func (c *Contract) Constructor() *Func {
	f := c.Func("", "nonpayable", "public")
	f.kind = "constructor"
	return f
}

// Receive adds a receive function.
func (c *Contract) Receive() *Func {
	f := c.Func("", "payable", "external")
	f.kind = "receive"
	return f
}

// Fallback adds a fallback function.
func (c *Contract) Fallback() *Func {
	f := c.Func("", "nonpayable", "external")
	f.kind = "fallback"
	return f
}

// Modifier adds a modifier definition; its body ends with the placeholder.
func (c *Contract) Modifier(name string) *Func {
	m := &Func{ID: c.g.id(), Name: name, kind: "modifier", contract: c, unit: c.unit, modifier: true}
	c.modifiers = append(c.modifiers, m)
	return m
}

func (c *Contract) stateVarFor(target *Contract) *stateVar {
	for _, v := range c.vars {
		if v.of == target {
			return v
		}
	}
	name := lowerFirst(target.Name)
	v := &stateVar{id: c.g.id(), name: name, of: target}
	c.vars = append(c.vars, v)
	return v
}

// linearization approximates C3 for the hierarchies tests build: the
// contract first, then bases right to left, each followed by its own bases.
func (c *Contract) linearization() []*Contract {
	out := []*Contract{c}
	seen := map[*Contract]bool{c: true}
	for i := len(c.bases) - 1; i >= 0; i-- {
		for _, b := range c.bases[i].linearization() {
			if !seen[b] {
				seen[b] = true
				out = append(out, b)
			}
		}
	}
	return out
}

type stmtOp int

const (
	opCall stmtOp = iota
	opSuper
	opBase
	opThis
	opExternal
	opLibrary
	opUsing
	opUsingUnresolved
	opLowLevel
	opEmit
	opRevert
	opConstruct
	opCast
	opEnum
	opWrap
	opRequire
)

type stmt struct {
	op     stmtOp
	fn     *Func
	via    *Contract
	decl   *Decl
	member string
}

// Func is a function or modifier definition.
type Func struct {
	ID            int64
	Name          string
	kind          string
	mutability    string
	visibility    string
	virtual       bool
	unimplemented bool
	doc           string
	params        []string
	contract      *Contract
	unit          *Unit
	modifier      bool
	mods          []*Func
	body          []stmt
}

// Params sets parameter types.
func (f *Func) Params(types ...string) *Func {
	f.params = types
	return f
}

// Virtual marks the function virtual.
func (f *Func) Virtual() *Func {
	f.virtual = true
	return f
}

// Unimplemented drops the body.
func (f *Func) Unimplemented() *Func {
	f.unimplemented = true
	return f
}

// Doc attaches NatSpec text.
func (f *Func) Doc(text string) *Func {
	f.doc = text
	return f
}

// With attaches modifier invocations.
func (f *Func) With(mods ...*Func) *Func {
	f.mods = append(f.mods, mods...)
	return f
}

func (f *Func) push(s stmt) *Func {
	f.body = append(f.body, s)
	return f
}

// Calls adds plain `target()` calls, one statement each.
func (f *Func) Calls(targets ...*Func) *Func {
	for _, t := range targets {
		f.push(stmt{op: opCall, fn: t})
	}
	return f
}

// CallsSuper adds `super.target()`.
func (f *Func) CallsSuper(target *Func) *Func {
	return f.push(stmt{op: opSuper, fn: target})
}

// CallsBase adds `Base.target()`.
func (f *Func) CallsBase(target *Func) *Func {
	return f.push(stmt{op: opBase, fn: target, via: target.contract})
}

// CallsThis adds `this.target()`.
func (f *Func) CallsThis(target *Func) *Func {
	return f.push(stmt{op: opThis, fn: target})
}

// CallsExternal adds `x.target()` where x is a state variable typed as the
// target's contract. The variable is declared on f's contract.
func (f *Func) CallsExternal(target *Func) *Func {
	if f.contract != nil {
		f.contract.stateVarFor(target.contract)
	}
	return f.push(stmt{op: opExternal, fn: target, via: target.contract})
}

// CallsLibrary adds `Lib.target()`.
func (f *Func) CallsLibrary(target *Func) *Func {
	return f.push(stmt{op: opLibrary, fn: target, via: target.contract})
}

// CallsUsing adds `value.target()` through a using-for directive on f's contract.
func (f *Func) CallsUsing(target *Func) *Func {
	if f.contract != nil {
		f.contract.Using(target.contract)
	}
	return f.push(stmt{op: opUsing, fn: target, via: target.contract})
}

// CallsUsingUnresolved is CallsUsing without a referencedDeclaration on the
// member access, the way some compiler versions emit overloaded members.
func (f *Func) CallsUsingUnresolved(target *Func) *Func {
	if f.contract != nil {
		f.contract.Using(target.contract)
	}
	return f.push(stmt{op: opUsingUnresolved, fn: target, via: target.contract})
}

// CallsLowLevel adds `to.<member>(...)` on an address (call, delegatecall,
// staticcall, send, transfer).
func (f *Func) CallsLowLevel(member string) *Func {
	return f.push(stmt{op: opLowLevel, member: member})
}

// Emits adds `emit Event()`.
func (f *Func) Emits(event *Decl) *Func {
	return f.push(stmt{op: opEmit, decl: event})
}

// Reverts adds `revert Error()`.
func (f *Func) Reverts(err *Decl) *Func {
	return f.push(stmt{op: opRevert, decl: err})
}

// Constructs adds a struct constructor call.
func (f *Func) Constructs(st *Decl) *Func {
	return f.push(stmt{op: opConstruct, decl: st})
}

// Casts adds a type conversion `C(address(0))`, which is not a call.
func (f *Func) Casts(c *Contract) *Func {
	return f.push(stmt{op: opCast, via: c})
}

// UsesEnum adds `Enum.value;`.
func (f *Func) UsesEnum(enum *Decl, value string) *Func {
	return f.push(stmt{op: opEnum, decl: enum, member: value})
}

// Wraps adds `Type.wrap(0)` for a user-defined value type.
func (f *Func) Wraps(udvt *Decl) *Func {
	return f.push(stmt{op: opWrap, decl: udvt})
}

// Requires adds `require(true)`, a builtin call.
func (f *Func) Requires() *Func {
	return f.push(stmt{op: opRequire})
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
