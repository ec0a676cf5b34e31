package graph

import (
	"sort"
	"strconv"
	"strings"

	"github.com/zheng/argus/internal/solast"
)

// Builtin declaration ids assigned by solc.
const (
	builtinSuper int64 = -25
	builtinThis  int64 = -28
)

var lowLevelMembers = map[string]bool{
	"call":         true,
	"delegatecall": true,
	"staticcall":   true,
	"send":         true,
	"transfer":     true,
}

// Call is one resolved call site of a function or modifier body.
type Call struct {
	// Target is the dispatched declaration, nil for leaves without one
	// (low-level calls, getters, unresolved members).
	Target solast.Node
	// Context is the contract whose linearization dispatches calls made
	// inside Target.
	Context *solast.ContractDefinition
	Type    CallType
	Offset  int

	// Name, Contract and Kind describe targets without a declaration.
	Name     string
	Contract string
	Kind     string

	Modifier bool
}

func (c Call) key() string {
	if c.Target != nil {
		return strconv.FormatInt(c.Target.ID(), 10) + "/" + string(c.Type)
	}
	return c.Kind + ":" + c.Contract + "." + c.Name + "/" + string(c.Type)
}

// Calls returns the call sites of decl as executed in ctx: invoked modifiers
// first, then every function call of the body, ordered by source offset and
// de-duplicated.
func (b *Builder) Calls(ctx *solast.ContractDefinition, decl solast.Node) []Call {
	var calls []Call
	if fn, ok := decl.(*solast.FunctionDefinition); ok {
		for _, inv := range fn.Modifiers {
			if call, ok := b.modifierCall(ctx, inv); ok {
				calls = append(calls, call)
			}
		}
	}

	solast.Walk(bodyOf(decl), func(n solast.Node) bool {
		fc, ok := n.(*solast.FunctionCall)
		if !ok || fc.Kind != solast.CallKindFunctionCall {
			return true
		}
		if call, ok := b.classify(ctx, decl, fc); ok {
			calls = append(calls, call)
		}
		return true
	})

	sort.SliceStable(calls, func(i, j int) bool { return calls[i].Offset < calls[j].Offset })

	seen := make(map[string]bool, len(calls))
	out := calls[:0]
	for _, c := range calls {
		k := c.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

func (b *Builder) modifierCall(ctx *solast.ContractDefinition, inv *solast.ModifierInvocation) (Call, bool) {
	n, ok := b.idx.Node(inv.ModifierID)
	if !ok {
		return Call{}, false
	}
	mod, ok := n.(*solast.ModifierDefinition)
	if !ok {
		// base constructor specifier
		return Call{}, false
	}
	if ctx != nil {
		for _, c := range b.idx.Linearization(ctx) {
			if m := findModifier(c, mod.Name); m != nil {
				mod = m
				break
			}
		}
	}
	return Call{
		Target:   mod,
		Context:  ctx,
		Type:     b.relation(ctx, b.idx.Owner(mod.ID())),
		Offset:   inv.Src().Start,
		Kind:     KindModifier,
		Modifier: true,
	}, true
}

func findModifier(c *solast.ContractDefinition, name string) *solast.ModifierDefinition {
	for _, m := range c.Modifiers() {
		if m.Name == name && m.Body != nil {
			return m
		}
	}
	return nil
}

// classify resolves one call site. The second result is false when the
// expression is not a call into user code (events, errors, builtins, casts).
func (b *Builder) classify(ctx *solast.ContractDefinition, caller solast.Node, fc *solast.FunctionCall) (Call, bool) {
	callee := fc.Expression
	if opts, ok := callee.(*solast.FunctionCallOptions); ok {
		callee = opts.Expression
	}
	offset := fc.Src().Start

	switch e := callee.(type) {
	case *solast.Identifier:
		fn, ok := b.idx.Function(e.ReferencedDeclaration)
		if !ok {
			return Call{}, false
		}
		owner := b.idx.Owner(fn.ID())
		call := Call{Context: ctx, Offset: offset, Kind: KindFunction}
		if owner != nil && owner.IsLibrary() {
			call.Context = owner
		} else {
			fn = b.dispatch(ctx, fn, nil)
			owner = b.idx.Owner(fn.ID())
		}
		call.Target = fn
		call.Type = b.relation(ctx, owner)
		return call, true

	case *solast.MemberAccess:
		return b.classifyMember(ctx, caller, e, offset)
	}
	return Call{}, false
}

func (b *Builder) classifyMember(ctx *solast.ContractDefinition, caller solast.Node, m *solast.MemberAccess, offset int) (Call, bool) {
	recv, _ := m.Expression.(*solast.Identifier)
	call := Call{Context: ctx, Offset: offset, Name: m.MemberName, Kind: KindFunction}

	if recv != nil && (recv.ReferencedDeclaration == builtinSuper || recv.Name == "super") {
		target := b.superTarget(ctx, caller, m)
		if target == nil {
			return Call{}, false
		}
		call.Target, call.Type = target, CallInherited
		return call, true
	}

	if recv != nil && (recv.ReferencedDeclaration == builtinThis || recv.Name == "this") {
		fn, ok := b.idx.Function(m.ReferencedDeclaration)
		if !ok {
			fn = b.lookup(ctx, m.MemberName)
		}
		if fn == nil {
			return Call{}, false
		}
		call.Target, call.Type = b.dispatch(ctx, fn, nil), CallExternal
		return call, true
	}

	if ref, ok := b.idx.Node(m.ReferencedDeclaration); ok {
		switch d := ref.(type) {
		case *solast.FunctionDefinition:
			owner := b.idx.Owner(d.ID())
			call.Target = d
			switch {
			case owner == nil:
				call.Type = CallInternal
			case owner.IsLibrary():
				call.Context = owner
				call.Type = b.relation(ctx, owner)
			case recv != nil && b.inLinearization(ctx, b.contractRef(recv)):
				// Base.f() bypasses virtual dispatch
				call.Type = b.relation(ctx, owner)
			default:
				call.Context = owner
				if owner.ContractKind == solast.KindContract {
					call.Target = b.dispatch(owner, d, nil)
				}
				call.Type = CallExternal
			}
			return call, true
		case *solast.VariableDeclaration:
			call.Kind = KindGetter
			call.Type = CallExternal
			if owner := b.idx.Owner(d.ID()); owner != nil {
				call.Contract = owner.Name
			}
			return call, true
		}
		return Call{}, false
	}

	return b.heuristic(ctx, m, call)
}

// heuristic classifies a member call solc left without a declaration,
// going by the receiver's type string and the using-for directives in scope.
func (b *Builder) heuristic(ctx *solast.ContractDefinition, m *solast.MemberAccess, call Call) (Call, bool) {
	ts := typeString(m.Expression)

	if strings.HasPrefix(ts, "address") && lowLevelMembers[m.MemberName] {
		call.Kind = KindLowLevel
		call.Type = CallExternal
		return call, true
	}

	if fn, lib := b.usingFor(ctx, m.MemberName); fn != nil {
		call.Target, call.Context = fn, lib
		call.Type = b.relation(ctx, lib)
		return call, true
	}

	if name, ok := strings.CutPrefix(ts, "type(library "); ok {
		name = strings.TrimSuffix(name, ")")
		for _, lib := range b.idx.ContractsByName(name) {
			if fn := findFunction(lib, m.MemberName); fn != nil {
				call.Target, call.Context = fn, lib
				call.Type = b.relation(ctx, lib)
				return call, true
			}
		}
		call.Contract, call.Type = name, CallLibrary
		return call, true
	}

	name, isType := strings.CutPrefix(ts, "type(contract ")
	if isType {
		name = strings.TrimSuffix(name, ")")
	} else if rest, ok := strings.CutPrefix(ts, "contract "); ok {
		name = rest
	} else {
		return Call{}, false
	}
	for _, c := range b.idx.ContractsByName(name) {
		fn := b.lookup(c, m.MemberName)
		if fn == nil {
			continue
		}
		call.Target = fn
		if isType && b.inLinearization(ctx, c) {
			call.Type = b.relation(ctx, b.idx.Owner(fn.ID()))
			return call, true
		}
		call.Context, call.Type = c, CallExternal
		return call, true
	}
	call.Contract, call.Type = name, CallExternal
	return call, true
}

// superTarget finds the implementation a super call reaches: the first
// contract after the caller's owner in the linearization of ctx.
func (b *Builder) superTarget(ctx *solast.ContractDefinition, caller solast.Node, m *solast.MemberAccess) *solast.FunctionDefinition {
	if ctx == nil {
		return nil
	}
	after := b.idx.Owner(caller.ID())
	if fn, ok := b.idx.Function(m.ReferencedDeclaration); ok {
		if after == nil {
			return fn
		}
		return b.dispatch(ctx, fn, after)
	}
	lin := b.idx.Linearization(ctx)
	for i, c := range lin {
		if c != after {
			continue
		}
		for _, base := range lin[i+1:] {
			if fn := findFunction(base, m.MemberName); fn != nil {
				return fn
			}
		}
	}
	return nil
}

// dispatch returns the implementation of fn that a call in ctx reaches: the
// first implemented function with the same name and parameter types in the
// linearization of ctx, starting after the contract after when it is set.
// fn itself is returned when nothing overrides it.
func (b *Builder) dispatch(ctx *solast.ContractDefinition, fn *solast.FunctionDefinition, after *solast.ContractDefinition) *solast.FunctionDefinition {
	if ctx == nil {
		return fn
	}
	owner := b.idx.Owner(fn.ID())
	if owner == nil || owner.IsLibrary() {
		return fn
	}
	sig := normalizedSignature(fn)
	lin := b.idx.Linearization(ctx)
	if after != nil {
		i := 0
		for i < len(lin) && lin[i] != after {
			i++
		}
		if i == len(lin) {
			return fn
		}
		lin = lin[i+1:]
	}
	for _, c := range lin {
		for _, cand := range c.Functions() {
			if cand.Implemented && cand.Body != nil && normalizedSignature(cand) == sig {
				return cand
			}
		}
	}
	return fn
}

// lookup finds an implemented function by name in the linearization of c.
func (b *Builder) lookup(c *solast.ContractDefinition, name string) *solast.FunctionDefinition {
	if c == nil {
		return nil
	}
	var declared *solast.FunctionDefinition
	for _, base := range b.idx.Linearization(c) {
		for _, fn := range base.Functions() {
			if fn.Name != name {
				continue
			}
			if fn.Implemented {
				return fn
			}
			if declared == nil {
				declared = fn
			}
		}
	}
	return declared
}

// usingFor finds a library function attached by a using-for directive of ctx,
// its bases or its unit.
func (b *Builder) usingFor(ctx *solast.ContractDefinition, member string) (*solast.FunctionDefinition, *solast.ContractDefinition) {
	if ctx == nil {
		return nil, nil
	}
	var directives []*solast.UsingForDirective
	for _, c := range b.idx.Linearization(ctx) {
		directives = append(directives, c.UsingFor()...)
	}
	if u := b.idx.Unit(ctx.ID()); u != nil {
		for _, n := range u.Nodes {
			if d, ok := n.(*solast.UsingForDirective); ok {
				directives = append(directives, d)
			}
		}
	}

	for _, d := range directives {
		if lib, ok := b.idx.Contract(d.LibraryID); ok {
			if fn := findFunction(lib, member); fn != nil {
				return fn, lib
			}
		}
		for _, id := range d.FunctionIDs {
			if fn, ok := b.idx.Function(id); ok && fn.Name == member {
				return fn, b.idx.Owner(fn.ID())
			}
		}
	}
	return nil, nil
}

func findFunction(c *solast.ContractDefinition, name string) *solast.FunctionDefinition {
	for _, fn := range c.Functions() {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// relation classifies a call from ctx into a declaration owned by owner.
func (b *Builder) relation(ctx, owner *solast.ContractDefinition) CallType {
	switch {
	case owner == nil || owner == ctx:
		return CallInternal
	case owner.IsLibrary():
		return CallLibrary
	case b.inLinearization(ctx, owner):
		return CallInherited
	}
	return CallExternal
}

func (b *Builder) inLinearization(ctx, c *solast.ContractDefinition) bool {
	if ctx == nil || c == nil {
		return false
	}
	for _, base := range b.idx.Linearization(ctx) {
		if base == c {
			return true
		}
	}
	return false
}

func (b *Builder) contractRef(id *solast.Identifier) *solast.ContractDefinition {
	c, _ := b.idx.Contract(id.ReferencedDeclaration)
	return c
}

// normalizedSignature drops data locations so an external calldata override
// matches a public memory declaration.
func normalizedSignature(fn *solast.FunctionDefinition) string {
	types := make([]string, 0, len(fn.Parameters))
	for _, p := range fn.Parameters {
		t := p.TypeString
		for _, loc := range []string{" memory", " calldata", " storage pointer", " storage ref", " storage"} {
			t = strings.ReplaceAll(t, loc, "")
		}
		types = append(types, t)
	}
	return fn.Name + "(" + strings.Join(types, ",") + ")"
}

func typeString(n solast.Node) string {
	switch e := n.(type) {
	case *solast.Identifier:
		return e.TypeString
	case *solast.MemberAccess:
		return e.TypeString
	case *solast.FunctionCall:
		return e.TypeString
	case *solast.Generic:
		return e.TypeString
	}
	return ""
}
