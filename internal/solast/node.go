package solast

import (
	"math"
	"strconv"
	"strings"
)

// NodeType is the solc "nodeType" discriminator of a compact-JSON AST node.
type NodeType string

const (
	TypeSourceUnit           NodeType = "SourceUnit"
	TypeImportDirective      NodeType = "ImportDirective"
	TypeContractDefinition   NodeType = "ContractDefinition"
	TypeInheritanceSpecifier NodeType = "InheritanceSpecifier"
	TypeUsingForDirective    NodeType = "UsingForDirective"
	TypeFunctionDefinition   NodeType = "FunctionDefinition"
	TypeModifierDefinition   NodeType = "ModifierDefinition"
	TypeModifierInvocation   NodeType = "ModifierInvocation"
	TypeEventDefinition      NodeType = "EventDefinition"
	TypeErrorDefinition      NodeType = "ErrorDefinition"
	TypeStructDefinition     NodeType = "StructDefinition"
	TypeEnumDefinition       NodeType = "EnumDefinition"
	TypeEnumValue            NodeType = "EnumValue"
	TypeUserDefinedValueType NodeType = "UserDefinedValueTypeDefinition"
	TypeVariableDeclaration  NodeType = "VariableDeclaration"
	TypeFunctionCall         NodeType = "FunctionCall"
	TypeFunctionCallOptions  NodeType = "FunctionCallOptions"
	TypeMemberAccess         NodeType = "MemberAccess"
	TypeIdentifier           NodeType = "Identifier"
	TypeEmitStatement        NodeType = "EmitStatement"
	TypeRevertStatement      NodeType = "RevertStatement"
)

// Contract kinds.
const (
	KindContract  = "contract"
	KindInterface = "interface"
	KindLibrary   = "library"
)

// FunctionCall kinds as emitted by solc.
const (
	CallKindFunctionCall    = "functionCall"
	CallKindTypeConversion  = "typeConversion"
	CallKindStructConstruct = "structConstructorCall"
)

// NoDeclaration marks a missing referencedDeclaration. Builtins use other
// negative ids, so any negative value never resolves.
const NoDeclaration int64 = math.MinInt64

// SrcLocation is a parsed solc "start:length:fileIndex" triple.
type SrcLocation struct {
	Start  int
	Length int
	File   int
}

// ParseSrc parses a solc source location. Malformed input yields Start -1.
func ParseSrc(s string) SrcLocation {
	loc := SrcLocation{Start: -1, File: -1}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return loc
	}
	start, err1 := strconv.Atoi(parts[0])
	length, err2 := strconv.Atoi(parts[1])
	file, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return loc
	}
	return SrcLocation{Start: start, Length: length, File: file}
}

// Valid reports whether the location points into a source file.
func (l SrcLocation) Valid() bool {
	return l.Start >= 0 && l.Length >= 0
}

// End returns the exclusive end offset.
func (l SrcLocation) End() int {
	return l.Start + l.Length
}

// Node is one AST node. The set of implementations is closed: every kind has
// to provide Children, so traversal never silently skips a new kind.
type Node interface {
	ID() int64
	Type() NodeType
	Src() SrcLocation
	Children() []Node
	node()
}

type base struct {
	id  int64
	src SrcLocation
}

func (b base) ID() int64        { return b.id }
func (b base) Src() SrcLocation { return b.src }
func (base) node()              {}

// SourceUnit is the root of one compiled file.
type SourceUnit struct {
	base
	AbsolutePath string
	Nodes        []Node
}

func (*SourceUnit) Type() NodeType     { return TypeSourceUnit }
func (u *SourceUnit) Children() []Node { return u.Nodes }

// Contracts returns the contract, interface and library definitions of the unit.
func (u *SourceUnit) Contracts() []*ContractDefinition {
	var out []*ContractDefinition
	for _, n := range u.Nodes {
		if c, ok := n.(*ContractDefinition); ok {
			out = append(out, c)
		}
	}
	return out
}

// Imports returns the import directives of the unit.
func (u *SourceUnit) Imports() []*ImportDirective {
	var out []*ImportDirective
	for _, n := range u.Nodes {
		if imp, ok := n.(*ImportDirective); ok {
			out = append(out, imp)
		}
	}
	return out
}

type ImportDirective struct {
	base
	AbsolutePath string
	File         string
	SourceUnitID int64
}

func (*ImportDirective) Type() NodeType   { return TypeImportDirective }
func (*ImportDirective) Children() []Node { return nil }

type ContractDefinition struct {
	base
	Name                    string
	ContractKind            string
	Abstract                bool
	FullyImplemented        bool
	BaseContracts           []*InheritanceSpecifier
	LinearizedBaseContracts []int64
	Nodes                   []Node
	// DecodeErr is set when some members could not be decoded; they are
	// missing from Nodes and BaseContracts.
	DecodeErr error
}

func (*ContractDefinition) Type() NodeType { return TypeContractDefinition }

func (c *ContractDefinition) Children() []Node {
	out := make([]Node, 0, len(c.BaseContracts)+len(c.Nodes))
	for _, b := range c.BaseContracts {
		out = append(out, b)
	}
	return append(out, c.Nodes...)
}

func (c *ContractDefinition) IsLibrary() bool   { return c.ContractKind == KindLibrary }
func (c *ContractDefinition) IsInterface() bool { return c.ContractKind == KindInterface }

// Functions returns the function definitions declared directly in the contract.
func (c *ContractDefinition) Functions() []*FunctionDefinition {
	var out []*FunctionDefinition
	for _, n := range c.Nodes {
		if fn, ok := n.(*FunctionDefinition); ok {
			out = append(out, fn)
		}
	}
	return out
}

// Modifiers returns the modifier definitions declared directly in the contract.
func (c *ContractDefinition) Modifiers() []*ModifierDefinition {
	var out []*ModifierDefinition
	for _, n := range c.Nodes {
		if m, ok := n.(*ModifierDefinition); ok {
			out = append(out, m)
		}
	}
	return out
}

// UsingFor returns the using-for directives declared in the contract.
func (c *ContractDefinition) UsingFor() []*UsingForDirective {
	var out []*UsingForDirective
	for _, n := range c.Nodes {
		if u, ok := n.(*UsingForDirective); ok {
			out = append(out, u)
		}
	}
	return out
}

type InheritanceSpecifier struct {
	base
	BaseName string
	BaseID   int64
}

func (*InheritanceSpecifier) Type() NodeType   { return TypeInheritanceSpecifier }
func (*InheritanceSpecifier) Children() []Node { return nil }

type UsingForDirective struct {
	base
	LibraryName string
	LibraryID   int64
	FunctionIDs []int64
}

func (*UsingForDirective) Type() NodeType   { return TypeUsingForDirective }
func (*UsingForDirective) Children() []Node { return nil }

// Function kinds.
const (
	FuncKindFunction    = "function"
	FuncKindConstructor = "constructor"
	FuncKindReceive     = "receive"
	FuncKindFallback    = "fallback"
	FuncKindFree        = "freeFunction"
)

type FunctionDefinition struct {
	base
	Name            string
	Kind            string
	StateMutability string
	Visibility      string
	Virtual         bool
	Implemented     bool
	Documentation   string
	Parameters      []*VariableDeclaration
	Modifiers       []*ModifierInvocation
	Body            Node
}

func (*FunctionDefinition) Type() NodeType { return TypeFunctionDefinition }

func (f *FunctionDefinition) Children() []Node {
	out := make([]Node, 0, len(f.Parameters)+len(f.Modifiers)+1)
	for _, p := range f.Parameters {
		out = append(out, p)
	}
	for _, m := range f.Modifiers {
		out = append(out, m)
	}
	if f.Body != nil {
		out = append(out, f.Body)
	}
	return out
}

// DisplayName returns the function name, or its kind for the unnamed special
// functions (receive, fallback, constructor).
func (f *FunctionDefinition) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	if f.Kind == "" {
		return FuncKindFunction
	}
	return f.Kind
}

// Signature returns name(paramType,...) built from parameter type strings.
func (f *FunctionDefinition) Signature() string {
	return signature(f.DisplayName(), f.Parameters)
}

type ModifierDefinition struct {
	base
	Name          string
	Virtual       bool
	Documentation string
	Parameters    []*VariableDeclaration
	Body          Node
}

func (*ModifierDefinition) Type() NodeType { return TypeModifierDefinition }

func (m *ModifierDefinition) Children() []Node {
	out := make([]Node, 0, len(m.Parameters)+1)
	for _, p := range m.Parameters {
		out = append(out, p)
	}
	if m.Body != nil {
		out = append(out, m.Body)
	}
	return out
}

func (m *ModifierDefinition) Signature() string {
	return signature(m.Name, m.Parameters)
}

type ModifierInvocation struct {
	base
	ModifierName string
	ModifierID   int64
	Kind         string
	Arguments    []Node
}

func (*ModifierInvocation) Type() NodeType     { return TypeModifierInvocation }
func (m *ModifierInvocation) Children() []Node { return m.Arguments }

type EventDefinition struct {
	base
	Name       string
	Parameters []*VariableDeclaration
}

func (*EventDefinition) Type() NodeType     { return TypeEventDefinition }
func (e *EventDefinition) Children() []Node { return varNodes(e.Parameters) }

type ErrorDefinition struct {
	base
	Name       string
	Parameters []*VariableDeclaration
}

func (*ErrorDefinition) Type() NodeType     { return TypeErrorDefinition }
func (e *ErrorDefinition) Children() []Node { return varNodes(e.Parameters) }

type StructDefinition struct {
	base
	Name    string
	Members []*VariableDeclaration
}

func (*StructDefinition) Type() NodeType     { return TypeStructDefinition }
func (s *StructDefinition) Children() []Node { return varNodes(s.Members) }

type EnumDefinition struct {
	base
	Name    string
	Members []*EnumValue
}

func (*EnumDefinition) Type() NodeType { return TypeEnumDefinition }

func (e *EnumDefinition) Children() []Node {
	out := make([]Node, 0, len(e.Members))
	for _, m := range e.Members {
		out = append(out, m)
	}
	return out
}

type EnumValue struct {
	base
	Name string
}

func (*EnumValue) Type() NodeType   { return TypeEnumValue }
func (*EnumValue) Children() []Node { return nil }

type UserDefinedValueTypeDefinition struct {
	base
	Name       string
	Underlying string
}

func (*UserDefinedValueTypeDefinition) Type() NodeType   { return TypeUserDefinedValueType }
func (*UserDefinedValueTypeDefinition) Children() []Node { return nil }

type VariableDeclaration struct {
	base
	Name          string
	StateVariable bool
	TypeString    string
	TypeName      Node
	Value         Node
}

func (*VariableDeclaration) Type() NodeType { return TypeVariableDeclaration }

func (v *VariableDeclaration) Children() []Node {
	var out []Node
	if v.TypeName != nil {
		out = append(out, v.TypeName)
	}
	if v.Value != nil {
		out = append(out, v.Value)
	}
	return out
}

type FunctionCall struct {
	base
	Kind       string
	Expression Node
	Arguments  []Node
	TypeString string
	TryCall    bool
}

func (*FunctionCall) Type() NodeType { return TypeFunctionCall }

func (c *FunctionCall) Children() []Node {
	out := make([]Node, 0, len(c.Arguments)+1)
	if c.Expression != nil {
		out = append(out, c.Expression)
	}
	return append(out, c.Arguments...)
}

// FunctionCallOptions wraps the callee of calls such as addr.call{value: v}(...).
type FunctionCallOptions struct {
	base
	Expression Node
	Options    []Node
}

func (*FunctionCallOptions) Type() NodeType { return TypeFunctionCallOptions }

func (o *FunctionCallOptions) Children() []Node {
	out := make([]Node, 0, len(o.Options)+1)
	if o.Expression != nil {
		out = append(out, o.Expression)
	}
	return append(out, o.Options...)
}

type MemberAccess struct {
	base
	MemberName            string
	Expression            Node
	ReferencedDeclaration int64
	TypeString            string
}

func (*MemberAccess) Type() NodeType { return TypeMemberAccess }

func (m *MemberAccess) Children() []Node {
	if m.Expression == nil {
		return nil
	}
	return []Node{m.Expression}
}

type Identifier struct {
	base
	Name                  string
	ReferencedDeclaration int64
	TypeString            string
}

func (*Identifier) Type() NodeType   { return TypeIdentifier }
func (*Identifier) Children() []Node { return nil }

type EmitStatement struct {
	base
	EventCall Node
}

func (*EmitStatement) Type() NodeType { return TypeEmitStatement }

func (e *EmitStatement) Children() []Node {
	if e.EventCall == nil {
		return nil
	}
	return []Node{e.EventCall}
}

type RevertStatement struct {
	base
	ErrorCall Node
}

func (*RevertStatement) Type() NodeType { return TypeRevertStatement }

func (r *RevertStatement) Children() []Node {
	if r.ErrorCall == nil {
		return nil
	}
	return []Node{r.ErrorCall}
}

// Generic covers every node kind the analyzer only needs to descend through
// (statements, operators, type names, Yul). Children are ordered by source offset.
type Generic struct {
	base
	Kind                  NodeType
	Name                  string
	ReferencedDeclaration int64
	TypeString            string
	Kids                  []Node
}

func (g *Generic) Type() NodeType   { return g.Kind }
func (g *Generic) Children() []Node { return g.Kids }

func varNodes(vars []*VariableDeclaration) []Node {
	out := make([]Node, 0, len(vars))
	for _, v := range vars {
		out = append(out, v)
	}
	return out
}

func signature(name string, params []*VariableDeclaration) string {
	types := make([]string, 0, len(params))
	for _, p := range params {
		types = append(types, p.TypeString)
	}
	return name + "(" + strings.Join(types, ",") + ")"
}
