package solast

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrMalformedNode is returned when a JSON value does not have the shape of a
// solc compact AST node.
var ErrMalformedNode = errors.New("malformed AST node")

// fields is one JSON object split into its members. Every node is unmarshaled
// into fields exactly once; typed decoders then read only the members they
// need.
type fields map[string]json.RawMessage

// get unmarshals member key into dst. Absent and null members leave dst
// untouched.
func (f fields) get(key string, dst any) error {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// list returns the elements of array member key.
func (f fields) list(key string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	err := f.get(key, &items)
	return items, err
}

// has reports whether member key is present with a non-null value.
func (f fields) has(key string) bool {
	raw, ok := f[key]
	return ok && !isNull(raw)
}

type header struct {
	ID                    int64
	NodeType              string
	Src                   string
	Name                  string
	ReferencedDeclaration *int64
	TypeDescriptions      typeDescriptions
}

type typeDescriptions struct {
	TypeString     string `json:"typeString"`
	TypeIdentifier string `json:"typeIdentifier"`
}

type nameRef struct {
	Name                  string `json:"name"`
	ReferencedDeclaration *int64 `json:"referencedDeclaration"`
}

func readHeader(f fields) (header, error) {
	var h header
	for _, m := range []struct {
		key string
		dst any
	}{
		{"id", &h.ID},
		{"nodeType", &h.NodeType},
		{"src", &h.Src},
		{"name", &h.Name},
		{"referencedDeclaration", &h.ReferencedDeclaration},
		{"typeDescriptions", &h.TypeDescriptions},
	} {
		if err := f.get(m.key, m.dst); err != nil {
			return h, err
		}
	}
	if h.NodeType == "" {
		return h, errors.New("missing nodeType")
	}
	return h, nil
}

// genericSkip lists object keys that never hold child nodes.
var genericSkip = map[string]bool{
	"id":               true,
	"nodeType":         true,
	"src":              true,
	"typeDescriptions": true,
	"nameLocation":     true,
}

// DecodeSourceUnit decodes a solc "ast" object and requires it to be a SourceUnit.
func DecodeSourceUnit(data []byte) (*SourceUnit, error) {
	n, err := Decode(data)
	if err != nil {
		return nil, err
	}
	unit, ok := n.(*SourceUnit)
	if !ok {
		return nil, fmt.Errorf("%w: root is %s, want SourceUnit", ErrMalformedNode, n.Type())
	}
	return unit, nil
}

// Decode decodes one compact-JSON AST node and its subtree.
func Decode(data []byte) (Node, error) {
	var f fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNode, err)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: null node", ErrMalformedNode)
	}
	return decodeFields(f)
}

func decodeFields(f fields) (Node, error) {
	h, err := readHeader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNode, err)
	}

	b := base{id: h.ID, src: ParseSrc(h.Src)}

	var n Node
	switch NodeType(h.NodeType) {
	case TypeSourceUnit:
		n, err = decodeSourceUnit(b, f)
	case TypeImportDirective:
		n, err = decodeImport(b, f)
	case TypeContractDefinition:
		n, err = decodeContract(b, h, f)
	case TypeInheritanceSpecifier:
		n, err = decodeInheritance(b, f)
	case TypeUsingForDirective:
		n, err = decodeUsingFor(b, f)
	case TypeFunctionDefinition:
		n, err = decodeFunction(b, h, f)
	case TypeModifierDefinition:
		n, err = decodeModifier(b, h, f)
	case TypeModifierInvocation:
		n, err = decodeModifierInvocation(b, f)
	case TypeEventDefinition:
		n, err = decodeEvent(b, h, f)
	case TypeErrorDefinition:
		n, err = decodeError(b, h, f)
	case TypeStructDefinition:
		n, err = decodeStruct(b, h, f)
	case TypeEnumDefinition:
		n, err = decodeEnum(b, h, f)
	case TypeEnumValue:
		n = &EnumValue{base: b, Name: h.Name}
	case TypeUserDefinedValueType:
		n, err = decodeUserType(b, h, f)
	case TypeVariableDeclaration:
		n, err = decodeVariable(b, h, f)
	case TypeFunctionCall:
		n, err = decodeCall(b, h, f)
	case TypeFunctionCallOptions:
		n, err = decodeCallOptions(b, f)
	case TypeMemberAccess:
		n, err = decodeMemberAccess(b, h, f)
	case TypeIdentifier:
		n = &Identifier{
			base:                  b,
			Name:                  h.Name,
			ReferencedDeclaration: refOrNone(h.ReferencedDeclaration),
			TypeString:            h.TypeDescriptions.TypeString,
		}
	case TypeEmitStatement:
		n, err = decodeEmit(b, f)
	case TypeRevertStatement:
		n, err = decodeRevert(b, f)
	default:
		n, err = decodeGeneric(b, h, f)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %d: %w", h.NodeType, h.ID, malformed(err))
	}
	return n, nil
}

func malformed(err error) error {
	if errors.Is(err, ErrMalformedNode) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMalformedNode, err)
}

func decodeSourceUnit(b base, f fields) (Node, error) {
	u := &SourceUnit{base: b}
	if err := f.get("absolutePath", &u.AbsolutePath); err != nil {
		return nil, err
	}
	raws, err := f.list("nodes")
	if err != nil {
		return nil, err
	}
	if u.Nodes, err = decodeList(raws); err != nil {
		return nil, err
	}
	return u, nil
}

func decodeImport(b base, f fields) (Node, error) {
	imp := &ImportDirective{base: b}
	for key, dst := range map[string]any{
		"absolutePath": &imp.AbsolutePath,
		"file":         &imp.File,
		"sourceUnit":   &imp.SourceUnitID,
	} {
		if err := f.get(key, dst); err != nil {
			return nil, err
		}
	}
	return imp, nil
}

// decodeContract keeps a contract whose members fail to decode: the broken
// members are dropped and their errors recorded in DecodeErr, so one bad
// contract does not take the rest of its file down with it.
func decodeContract(b base, h header, f fields) (Node, error) {
	var fullyImplemented *bool
	c := &ContractDefinition{base: b, Name: h.Name}
	for key, dst := range map[string]any{
		"contractKind":            &c.ContractKind,
		"abstract":                &c.Abstract,
		"fullyImplemented":        &fullyImplemented,
		"linearizedBaseContracts": &c.LinearizedBaseContracts,
	} {
		if err := f.get(key, dst); err != nil {
			return nil, err
		}
	}
	c.FullyImplemented = fullyImplemented == nil || *fullyImplemented

	var errs []error
	bases, err := f.list("baseContracts")
	if err != nil {
		errs = append(errs, err)
	}
	for _, raw := range bases {
		n, err := Decode(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		spec, ok := n.(*InheritanceSpecifier)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: base contract is %s", ErrMalformedNode, n.Type()))
			continue
		}
		c.BaseContracts = append(c.BaseContracts, spec)
	}

	members, err := f.list("nodes")
	if err != nil {
		errs = append(errs, err)
	}
	for _, raw := range members {
		n, err := decodeOptional(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if n != nil {
			c.Nodes = append(c.Nodes, n)
		}
	}
	if len(errs) > 0 {
		c.DecodeErr = malformed(errors.Join(errs...))
	}
	return c, nil
}

func decodeInheritance(b base, f fields) (Node, error) {
	var name nameRef
	if err := f.get("baseName", &name); err != nil {
		return nil, err
	}
	return &InheritanceSpecifier{base: b, BaseName: name.Name, BaseID: refOrNone(name.ReferencedDeclaration)}, nil
}

func decodeUsingFor(b base, f fields) (Node, error) {
	var lib *nameRef
	var list []struct {
		Function *nameRef `json:"function"`
	}
	if err := f.get("libraryName", &lib); err != nil {
		return nil, err
	}
	if err := f.get("functionList", &list); err != nil {
		return nil, err
	}
	u := &UsingForDirective{base: b, LibraryID: NoDeclaration}
	if lib != nil {
		u.LibraryName = lib.Name
		u.LibraryID = refOrNone(lib.ReferencedDeclaration)
	}
	for _, item := range list {
		if item.Function != nil {
			u.FunctionIDs = append(u.FunctionIDs, refOrNone(item.Function.ReferencedDeclaration))
		}
	}
	return u, nil
}

func decodeFunction(b base, h header, f fields) (Node, error) {
	var implemented *bool
	fn := &FunctionDefinition{base: b, Name: h.Name}
	for key, dst := range map[string]any{
		"kind":            &fn.Kind,
		"stateMutability": &fn.StateMutability,
		"visibility":      &fn.Visibility,
		"virtual":         &fn.Virtual,
		"implemented":     &implemented,
	} {
		if err := f.get(key, dst); err != nil {
			return nil, err
		}
	}
	fn.Documentation = documentationText(f["documentation"])

	var err error
	if fn.Parameters, err = decodeParams(f); err != nil {
		return nil, err
	}
	mods, err := f.list("modifiers")
	if err != nil {
		return nil, err
	}
	for _, raw := range mods {
		n, err := Decode(raw)
		if err != nil {
			return nil, err
		}
		inv, ok := n.(*ModifierInvocation)
		if !ok {
			return nil, fmt.Errorf("%w: modifier is %s", ErrMalformedNode, n.Type())
		}
		fn.Modifiers = append(fn.Modifiers, inv)
	}
	if fn.Body, err = decodeOptional(f["body"]); err != nil {
		return nil, err
	}
	if implemented != nil {
		fn.Implemented = *implemented
	} else {
		fn.Implemented = fn.Body != nil
	}
	return fn, nil
}

func decodeModifier(b base, h header, f fields) (Node, error) {
	m := &ModifierDefinition{base: b, Name: h.Name, Documentation: documentationText(f["documentation"])}
	if err := f.get("virtual", &m.Virtual); err != nil {
		return nil, err
	}
	var err error
	if m.Parameters, err = decodeParams(f); err != nil {
		return nil, err
	}
	if m.Body, err = decodeOptional(f["body"]); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeModifierInvocation(b base, f fields) (Node, error) {
	var name nameRef
	inv := &ModifierInvocation{base: b}
	if err := f.get("modifierName", &name); err != nil {
		return nil, err
	}
	if err := f.get("kind", &inv.Kind); err != nil {
		return nil, err
	}
	inv.ModifierName = name.Name
	inv.ModifierID = refOrNone(name.ReferencedDeclaration)

	args, err := f.list("arguments")
	if err != nil {
		return nil, err
	}
	if inv.Arguments, err = decodeList(args); err != nil {
		return nil, err
	}
	return inv, nil
}

func decodeEvent(b base, h header, f fields) (Node, error) {
	params, err := decodeParams(f)
	if err != nil {
		return nil, err
	}
	return &EventDefinition{base: b, Name: h.Name, Parameters: params}, nil
}

func decodeError(b base, h header, f fields) (Node, error) {
	params, err := decodeParams(f)
	if err != nil {
		return nil, err
	}
	return &ErrorDefinition{base: b, Name: h.Name, Parameters: params}, nil
}

func decodeStruct(b base, h header, f fields) (Node, error) {
	raws, err := f.list("members")
	if err != nil {
		return nil, err
	}
	members, err := decodeVariables(raws)
	if err != nil {
		return nil, err
	}
	return &StructDefinition{base: b, Name: h.Name, Members: members}, nil
}

func decodeEnum(b base, h header, f fields) (Node, error) {
	raws, err := f.list("members")
	if err != nil {
		return nil, err
	}
	e := &EnumDefinition{base: b, Name: h.Name}
	for _, raw := range raws {
		n, err := Decode(raw)
		if err != nil {
			return nil, err
		}
		v, ok := n.(*EnumValue)
		if !ok {
			return nil, fmt.Errorf("%w: enum member is %s", ErrMalformedNode, n.Type())
		}
		e.Members = append(e.Members, v)
	}
	return e, nil
}

func decodeUserType(b base, h header, f fields) (Node, error) {
	var underlying struct {
		TypeDescriptions typeDescriptions `json:"typeDescriptions"`
		Name             string           `json:"name"`
	}
	if err := f.get("underlyingType", &underlying); err != nil {
		return nil, err
	}
	name := underlying.TypeDescriptions.TypeString
	if name == "" {
		name = underlying.Name
	}
	return &UserDefinedValueTypeDefinition{base: b, Name: h.Name, Underlying: name}, nil
}

func decodeVariable(b base, h header, f fields) (Node, error) {
	v := &VariableDeclaration{base: b, Name: h.Name, TypeString: h.TypeDescriptions.TypeString}
	if err := f.get("stateVariable", &v.StateVariable); err != nil {
		return nil, err
	}
	var err error
	if v.TypeName, err = decodeOptional(f["typeName"]); err != nil {
		return nil, err
	}
	if v.Value, err = decodeOptional(f["value"]); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeCall(b base, h header, f fields) (Node, error) {
	c := &FunctionCall{base: b, TypeString: h.TypeDescriptions.TypeString}
	if err := f.get("kind", &c.Kind); err != nil {
		return nil, err
	}
	if err := f.get("tryCall", &c.TryCall); err != nil {
		return nil, err
	}
	var err error
	if c.Expression, err = decodeOptional(f["expression"]); err != nil {
		return nil, err
	}
	args, err := f.list("arguments")
	if err != nil {
		return nil, err
	}
	if c.Arguments, err = decodeList(args); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeCallOptions(b base, f fields) (Node, error) {
	o := &FunctionCallOptions{base: b}
	var err error
	if o.Expression, err = decodeOptional(f["expression"]); err != nil {
		return nil, err
	}
	opts, err := f.list("options")
	if err != nil {
		return nil, err
	}
	if o.Options, err = decodeList(opts); err != nil {
		return nil, err
	}
	return o, nil
}

func decodeMemberAccess(b base, h header, f fields) (Node, error) {
	m := &MemberAccess{
		base:                  b,
		ReferencedDeclaration: refOrNone(h.ReferencedDeclaration),
		TypeString:            h.TypeDescriptions.TypeString,
	}
	if err := f.get("memberName", &m.MemberName); err != nil {
		return nil, err
	}
	var err error
	if m.Expression, err = decodeOptional(f["expression"]); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeEmit(b base, f fields) (Node, error) {
	call, err := decodeOptional(f["eventCall"])
	if err != nil {
		return nil, err
	}
	return &EmitStatement{base: b, EventCall: call}, nil
}

func decodeRevert(b base, f fields) (Node, error) {
	call, err := decodeOptional(f["errorCall"])
	if err != nil {
		return nil, err
	}
	return &RevertStatement{base: b, ErrorCall: call}, nil
}

// decodeGeneric descends into every field that holds a node or a list of nodes.
func decodeGeneric(b base, h header, f fields) (Node, error) {
	keys := make([]string, 0, len(f))
	for k := range f {
		if !genericSkip[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	g := &Generic{
		base:                  b,
		Kind:                  NodeType(h.NodeType),
		Name:                  h.Name,
		ReferencedDeclaration: refOrNone(h.ReferencedDeclaration),
		TypeString:            h.TypeDescriptions.TypeString,
	}
	for _, k := range keys {
		raw := bytes.TrimSpace(f[k])
		if len(raw) == 0 {
			continue
		}
		switch raw[0] {
		case '{':
			n, err := nodeObject(raw)
			if err != nil {
				return nil, err
			}
			if n != nil {
				g.Kids = append(g.Kids, n)
			}
		case '[':
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, err
			}
			for _, item := range items {
				item = bytes.TrimSpace(item)
				if len(item) == 0 || item[0] != '{' {
					continue
				}
				n, err := nodeObject(item)
				if err != nil {
					return nil, err
				}
				if n != nil {
					g.Kids = append(g.Kids, n)
				}
			}
		}
	}
	sort.SliceStable(g.Kids, func(i, j int) bool {
		return g.Kids[i].Src().Start < g.Kids[j].Src().Start
	})
	return g, nil
}

// nodeObject decodes an object that may or may not be a node. Objects
// without a nodeType yield nil.
func nodeObject(raw []byte) (Node, error) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if !f.has("nodeType") {
		return nil, nil
	}
	return decodeFields(f)
}

func decodeParams(f fields) ([]*VariableDeclaration, error) {
	var params struct {
		Parameters []json.RawMessage `json:"parameters"`
	}
	if err := f.get("parameters", &params); err != nil {
		return nil, err
	}
	return decodeVariables(params.Parameters)
}

func decodeVariables(raws []json.RawMessage) ([]*VariableDeclaration, error) {
	out := make([]*VariableDeclaration, 0, len(raws))
	for _, raw := range raws {
		n, err := Decode(raw)
		if err != nil {
			return nil, err
		}
		v, ok := n.(*VariableDeclaration)
		if !ok {
			return nil, fmt.Errorf("%w: expected VariableDeclaration, got %s", ErrMalformedNode, n.Type())
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeList(raws []json.RawMessage) ([]Node, error) {
	out := make([]Node, 0, len(raws))
	for _, raw := range raws {
		n, err := decodeOptional(raw)
		if err != nil {
			return nil, err
		}
		if n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

func decodeOptional(raw json.RawMessage) (Node, error) {
	if isNull(raw) {
		return nil, nil
	}
	return Decode(raw)
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// documentationText accepts both StructuredDocumentation objects and the plain
// strings emitted by older compilers.
func documentationText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '{':
		var doc struct {
			Text string `json:"text"`
		}
		if json.Unmarshal(raw, &doc) == nil {
			return doc.Text
		}
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	}
	return ""
}

func refOrNone(ref *int64) int64 {
	if ref == nil {
		return NoDeclaration
	}
	return *ref
}
