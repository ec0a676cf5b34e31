package graph

// CallType classifies how a call site reaches its target.
type CallType string

const (
	CallInternal  CallType = "internal"
	CallExternal  CallType = "external"
	CallInherited CallType = "inherited"
	CallLibrary   CallType = "library"
)

// Dependency reports whether includeDeps governs expansion of this call type.
func (t CallType) Dependency() bool {
	return t == CallExternal || t == CallLibrary
}

// Function node kinds. Solidity function kinds are used as-is, modifiers get
// their own kind.
const (
	KindFunction = "function"
	KindModifier = "modifier"
	KindReceive  = "receive"
	KindFallback = "fallback"
	KindLowLevel = "lowlevel"
	KindGetter   = "getter"
)

// FunctionNode is one function in a contract's call tree. Nodes are built per
// generation and never mutated afterwards.
type FunctionNode struct {
	// Key identifies the callee: the declaration id, or a name for targets
	// without a declaration.
	Key        string          `json:"key"`
	DeclID     int64           `json:"declId,omitempty"`
	Name       string          `json:"name"`
	Contract   string          `json:"contract,omitempty"`
	Kind       string          `json:"kind"`
	Signature  string          `json:"signature,omitempty"`
	Mutability string          `json:"mutability,omitempty"`
	Visibility string          `json:"visibility,omitempty"`
	CallType   CallType        `json:"callType"`
	Children   []*FunctionNode `json:"children,omitempty"`
	References []Reference     `json:"references,omitempty"`
	Snippet    string          `json:"snippet,omitempty"`
	File       string          `json:"file,omitempty"`
	Line       int             `json:"line,omitempty"`

	// BackRef marks a repeat of a function already on the active call path.
	BackRef bool `json:"backRef,omitempty"`
	// Elided marks an external or library call not expanded because
	// dependencies are excluded.
	Elided bool `json:"elided,omitempty"`
	// Truncated marks a node whose callees were cut at the depth limit.
	Truncated  bool `json:"truncated,omitempty"`
	Unresolved bool `json:"unresolved,omitempty"`
}

// ReadOnly reports whether the function is view or pure.
func (n *FunctionNode) ReadOnly() bool {
	return n.Mutability == "view" || n.Mutability == "pure"
}

// Expandable reports whether the node has children to show.
func (n *FunctionNode) Expandable() bool {
	return len(n.Children) > 0
}

// Count returns the number of nodes in the subtree rooted at n.
func (n *FunctionNode) Count() int {
	total := 1
	for _, c := range n.Children {
		total += c.Count()
	}
	return total
}

// DeclKind is the kind of a user-defined declaration.
type DeclKind string

const (
	DeclEvent    DeclKind = "event"
	DeclStruct   DeclKind = "struct"
	DeclError    DeclKind = "error"
	DeclEnum     DeclKind = "enum"
	DeclUserType DeclKind = "type"
)

// DeclKinds lists declaration kinds in display order.
var DeclKinds = []DeclKind{DeclEvent, DeclStruct, DeclError, DeclEnum, DeclUserType}

// Plural returns the group heading for the kind.
func (k DeclKind) Plural() string {
	switch k {
	case DeclEvent:
		return "Events"
	case DeclStruct:
		return "Structs"
	case DeclError:
		return "Errors"
	case DeclEnum:
		return "Enums"
	case DeclUserType:
		return "User-defined value types"
	}
	return string(k)
}

// Reference is a declaration used in a function body.
type Reference struct {
	Kind      DeclKind `json:"kind"`
	Name      string   `json:"name"`
	Qualified string   `json:"qualified"`
}

// Declaration is one event, struct, error, enum or user-defined value type.
type Declaration struct {
	Kind DeclKind `json:"kind"`
	Name string   `json:"name"`
	// Qualified is Contract.Name, or Name for file-level declarations.
	Qualified string `json:"qualified"`
	Contract  string `json:"contract,omitempty"`
	Snippet   string `json:"snippet,omitempty"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

// DeclarationSummary lists the declarations visible to a contract, per kind.
type DeclarationSummary struct {
	Events    []Declaration `json:"events"`
	Structs   []Declaration `json:"structs"`
	Errors    []Declaration `json:"errors"`
	Enums     []Declaration `json:"enums"`
	UserTypes []Declaration `json:"userTypes"`
}

// Of returns the declarations of one kind.
func (s *DeclarationSummary) Of(kind DeclKind) []Declaration {
	switch kind {
	case DeclEvent:
		return s.Events
	case DeclStruct:
		return s.Structs
	case DeclError:
		return s.Errors
	case DeclEnum:
		return s.Enums
	case DeclUserType:
		return s.UserTypes
	}
	return nil
}

// Count returns the number of declarations of one kind.
func (s *DeclarationSummary) Count(kind DeclKind) int {
	return len(s.Of(kind))
}

// Total returns the number of declarations of every kind.
func (s *DeclarationSummary) Total() int {
	n := 0
	for _, k := range DeclKinds {
		n += s.Count(k)
	}
	return n
}

func (s *DeclarationSummary) add(d Declaration) {
	switch d.Kind {
	case DeclEvent:
		s.Events = append(s.Events, d)
	case DeclStruct:
		s.Structs = append(s.Structs, d)
	case DeclError:
		s.Errors = append(s.Errors, d)
	case DeclEnum:
		s.Enums = append(s.Enums, d)
	case DeclUserType:
		s.UserTypes = append(s.UserTypes, d)
	}
}

// ContractGraph is the call forest and declaration summary of one contract.
type ContractGraph struct {
	Name         string             `json:"name"`
	File         string             `json:"file"`
	Functions    []*FunctionNode    `json:"functions"`
	Declarations DeclarationSummary `json:"declarations"`
}
