package astfix

import (
	"fmt"
	"strings"
)

// Builtin declaration ids as solc assigns them.
const (
	builtinRequire int64 = -18
	builtinSuper   int64 = -25
	builtinThis    int64 = -28
)

type renderer struct {
	next int64
	file int
	buf  strings.Builder
}

type obj = map[string]any

func (r *renderer) id() int64 {
	id := r.next
	r.next++
	return id
}

func (r *renderer) pos() int { return r.buf.Len() }

func (r *renderer) src(start int) string {
	return r.span(start, r.pos()-start)
}

func (r *renderer) span(start, length int) string {
	return fmt.Sprintf("%d:%d:%d", start, length, r.file)
}

func (r *renderer) write(parts ...string) {
	for _, p := range parts {
		r.buf.WriteString(p)
	}
}

func (r *renderer) unit(u *Unit) obj {
	start := r.pos()
	r.write("// SPDX-License-Identifier: MIT\npragma solidity ^0.8.24;\n\n")
	nodes := []any{}
	for _, imp := range u.imports {
		s := r.pos()
		r.write(`import "`, imp.Path, "\";\n")
		nodes = append(nodes, obj{
			"id": r.id(), "nodeType": "ImportDirective", "src": r.src(s),
			"absolutePath": imp.Path, "file": imp.Path, "sourceUnit": imp.ID,
		})
	}
	if len(u.imports) > 0 {
		r.write("\n")
	}
	for _, d := range u.decls {
		nodes = append(nodes, r.decl(d, ""))
	}
	for _, f := range u.funcs {
		nodes = append(nodes, r.function(f, ""))
	}
	for _, c := range u.contracts {
		nodes = append(nodes, r.contract(c))
	}
	return obj{
		"id": u.ID, "nodeType": "SourceUnit", "src": r.src(start),
		"absolutePath": u.Path, "nodes": nodes,
	}
}

func (r *renderer) contract(c *Contract) obj {
	start := r.pos()
	if c.abstract {
		r.write("abstract ")
	}
	r.write(c.kind, " ", c.Name)
	bases := []any{}
	if len(c.bases) > 0 {
		r.write(" is ")
		for i, b := range c.bases {
			if i > 0 {
				r.write(", ")
			}
			s := r.pos()
			r.write(b.Name)
			bases = append(bases, obj{
				"id": r.id(), "nodeType": "InheritanceSpecifier", "src": r.src(s),
				"baseName": obj{
					"id": r.id(), "nodeType": "IdentifierPath", "src": r.src(s),
					"name": b.Name, "referencedDeclaration": b.ID,
				},
			})
		}
	}
	r.write(" {\n")

	nodes := []any{}
	for _, lib := range c.using {
		s := r.pos()
		r.write("    using ", lib.Name, " for *;\n")
		nodes = append(nodes, obj{
			"id": r.id(), "nodeType": "UsingForDirective", "src": r.src(s),
			"libraryName": obj{
				"id": r.id(), "nodeType": "IdentifierPath", "src": r.span(s+10, len(lib.Name)),
				"name": lib.Name, "referencedDeclaration": lib.ID,
			},
		})
	}
	for _, v := range c.vars {
		s := r.pos()
		r.write("    ", v.of.Name, " internal ", v.name, ";\n")
		typ := "contract " + v.of.Name
		nodes = append(nodes, obj{
			"id": v.id, "nodeType": "VariableDeclaration", "src": r.src(s),
			"name": v.name, "stateVariable": true, "visibility": "internal",
			"typeDescriptions": obj{"typeString": typ},
			"typeName": obj{
				"id": r.id(), "nodeType": "UserDefinedTypeName", "src": r.span(s+4, len(v.of.Name)),
				"referencedDeclaration": v.of.ID, "typeDescriptions": obj{"typeString": typ},
			},
		})
	}
	for _, d := range c.decls {
		nodes = append(nodes, r.decl(d, "    "))
	}
	for _, m := range c.modifiers {
		nodes = append(nodes, r.function(m, "    "))
	}
	for _, f := range c.funcs {
		nodes = append(nodes, r.function(f, "    "))
	}
	r.write("}\n\n")

	lin := []any{}
	for _, b := range c.linearization() {
		lin = append(lin, b.ID)
	}
	fully := !c.abstract && c.kind != "interface"
	for _, f := range c.funcs {
		if f.unimplemented {
			fully = false
		}
	}
	return obj{
		"id": c.ID, "nodeType": "ContractDefinition", "src": r.src(start),
		"name": c.Name, "contractKind": c.kind, "abstract": c.abstract,
		"fullyImplemented": fully, "baseContracts": bases,
		"linearizedBaseContracts": lin, "nodes": nodes,
	}
}

func (r *renderer) decl(d *Decl, indent string) obj {
	start := r.pos()
	r.write(indent)
	n := obj{"id": d.ID, "name": d.Name}
	switch d.kind {
	case declEvent, declError:
		keyword, nodeType := "event", "EventDefinition"
		if d.kind == declError {
			keyword, nodeType = "error", "ErrorDefinition"
		}
		r.write(keyword, " ", d.Name, "(")
		n["nodeType"] = nodeType
		n["parameters"] = r.params(d.types)
		r.write(");\n")
	case declStruct:
		r.write("struct ", d.Name, " {\n")
		members := []any{}
		for i, t := range d.types {
			s := r.pos()
			name := fmt.Sprintf("m%d", i)
			r.write(indent, "    ", t, " ", name, ";\n")
			members = append(members, r.variable(t, name, s, r.pos()-s-1))
		}
		r.write(indent, "}\n")
		n["nodeType"] = "StructDefinition"
		n["members"] = members
	case declEnum:
		r.write("enum ", d.Name, " { ")
		members := []any{}
		for i, v := range d.values {
			if i > 0 {
				r.write(", ")
			}
			s := r.pos()
			r.write(v.name)
			members = append(members, obj{"id": v.id, "nodeType": "EnumValue", "src": r.src(s), "name": v.name})
		}
		r.write(" }\n")
		n["nodeType"] = "EnumDefinition"
		n["members"] = members
	case declUserType:
		underlying := d.types[0]
		r.write("type ", d.Name, " is ")
		s := r.pos()
		r.write(underlying, ";\n")
		n["nodeType"] = "UserDefinedValueTypeDefinition"
		n["underlyingType"] = obj{
			"id": r.id(), "nodeType": "ElementaryTypeName", "src": r.span(s, len(underlying)),
			"name": underlying, "typeDescriptions": obj{"typeString": underlying},
		}
	}
	n["src"] = r.span(start, r.pos()-start-1)
	return n
}

func (r *renderer) params(types []string) obj {
	start := r.pos()
	list := []any{}
	for i, t := range types {
		if i > 0 {
			r.write(", ")
		}
		s := r.pos()
		name := fmt.Sprintf("a%d", i)
		r.write(t, " ", name)
		list = append(list, r.variable(t, name, s, r.pos()-s))
	}
	return obj{"id": r.id(), "nodeType": "ParameterList", "src": r.src(start), "parameters": list}
}

func (r *renderer) variable(typ, name string, start, length int) obj {
	return obj{
		"id": r.id(), "nodeType": "VariableDeclaration", "src": r.span(start, length),
		"name": name, "stateVariable": false,
		"typeDescriptions": obj{"typeString": typ},
		"typeName": obj{
			"id": r.id(), "nodeType": "ElementaryTypeName", "src": r.span(start, len(typ)),
			"name": typ, "typeDescriptions": obj{"typeString": typ},
		},
	}
}

func (r *renderer) function(f *Func, indent string) obj {
	start := r.pos()
	r.write(indent)
	switch f.kind {
	case "constructor", "receive", "fallback":
		r.write(f.kind, "(")
	case "modifier":
		r.write("modifier ", f.Name, "(")
	default:
		r.write("function ", f.Name, "(")
	}
	params := r.params(f.params)
	r.write(")")
	if !f.modifier && f.kind != "constructor" && f.kind != "freeFunction" {
		r.write(" ", f.visibility)
	}
	if !f.modifier && f.mutability != "nonpayable" {
		r.write(" ", f.mutability)
	}
	if f.virtual {
		r.write(" virtual")
	}
	mods := []any{}
	for _, m := range f.mods {
		r.write(" ")
		s := r.pos()
		r.write(m.Name)
		mods = append(mods, obj{
			"id": r.id(), "nodeType": "ModifierInvocation", "src": r.src(s),
			"kind": "modifierInvocation",
			"modifierName": obj{
				"id": r.id(), "nodeType": "IdentifierPath", "src": r.src(s),
				"name": m.Name, "referencedDeclaration": m.ID,
			},
		})
	}

	implemented := !f.unimplemented && (f.contract == nil || f.contract.kind != "interface")
	var body any
	if implemented {
		r.write(" ")
		body = r.block(f, indent)
	} else {
		r.write(";")
	}
	n := obj{
		"id": f.ID, "src": r.src(start), "name": f.Name,
		"parameters": params, "virtual": f.virtual, "body": body,
	}
	r.write("\n")
	if f.doc != "" {
		n["documentation"] = obj{"id": r.id(), "nodeType": "StructuredDocumentation", "src": r.span(start, 0), "text": f.doc}
	}
	if f.modifier {
		n["nodeType"] = "ModifierDefinition"
		return n
	}
	n["nodeType"] = "FunctionDefinition"
	n["kind"] = f.kind
	n["stateMutability"] = f.mutability
	n["visibility"] = f.visibility
	n["implemented"] = implemented
	n["modifiers"] = mods
	n["returnParameters"] = obj{"id": r.id(), "nodeType": "ParameterList", "src": r.span(start, 0), "parameters": []any{}}
	return n
}

func (r *renderer) block(f *Func, indent string) obj {
	start := r.pos()
	r.write("{\n")
	stmts := []any{}
	for _, s := range f.body {
		stmts = append(stmts, r.statement(f, s, indent+"    "))
	}
	if f.modifier {
		s := r.pos()
		r.write(indent, "    _;\n")
		stmts = append(stmts, obj{"id": r.id(), "nodeType": "PlaceholderStatement", "src": r.span(s+len(indent)+4, 2)})
	}
	r.write(indent, "}")
	return obj{"id": r.id(), "nodeType": "Block", "src": r.src(start), "statements": stmts}
}

func (r *renderer) statement(f *Func, s stmt, indent string) obj {
	r.write(indent)
	start := r.pos()
	var n obj
	switch s.op {
	case opEmit:
		r.write("emit ")
		call := r.call(s.decl.Name+"()", "functionCall", r.ident(s.decl.Name, s.decl.ID, "function ()", r.pos()), nil)
		n = obj{"id": r.id(), "nodeType": "EmitStatement", "eventCall": call}
	case opRevert:
		r.write("revert ")
		call := r.call(s.decl.Name+"()", "functionCall", r.ident(s.decl.Name, s.decl.ID, "function () pure", r.pos()), nil)
		n = obj{"id": r.id(), "nodeType": "RevertStatement", "errorCall": call}
	default:
		n = obj{"id": r.id(), "nodeType": "ExpressionStatement", "expression": r.expression(f, s)}
	}
	n["src"] = r.src(start)
	r.write(";\n")
	return n
}

// expression writes the statement text and returns its expression node.
func (r *renderer) expression(f *Func, s stmt) obj {
	p := r.pos()
	switch s.op {
	case opCall:
		return r.call(s.fn.Name+"()", "functionCall", r.ident(s.fn.Name, s.fn.ID, funcType(s.fn), p), nil)
	case opSuper:
		recv := r.ident("super", builtinSuper, "type(contract super "+contractName(f)+")", p)
		return r.call("super."+s.fn.Name+"()", "functionCall", r.member(recv, s.fn.Name, s.fn.ID, funcType(s.fn), p), nil)
	case opBase:
		recv := r.ident(s.via.Name, s.via.ID, "type(contract "+s.via.Name+")", p)
		return r.call(s.via.Name+"."+s.fn.Name+"()", "functionCall", r.member(recv, s.fn.Name, s.fn.ID, funcType(s.fn), p), nil)
	case opThis:
		recv := r.ident("this", builtinThis, "contract "+contractName(f), p)
		return r.call("this."+s.fn.Name+"()", "functionCall", r.member(recv, s.fn.Name, s.fn.ID, funcType(s.fn), p), nil)
	case opExternal:
		name, ref := lowerFirst(s.via.Name), int64(0)
		if f.contract != nil {
			v := f.contract.stateVarFor(s.via)
			name, ref = v.name, v.id
		}
		recv := r.ident(name, ref, "contract "+s.via.Name, p)
		return r.call(name+"."+s.fn.Name+"()", "functionCall", r.member(recv, s.fn.Name, s.fn.ID, funcType(s.fn), p), nil)
	case opLibrary:
		recv := r.ident(s.via.Name, s.via.ID, "type(library "+s.via.Name+")", p)
		return r.call(s.via.Name+"."+s.fn.Name+"()", "functionCall", r.member(recv, s.fn.Name, s.fn.ID, funcType(s.fn), p), nil)
	case opUsing, opUsingUnresolved:
		ref := s.fn.ID
		if s.op == opUsingUnresolved {
			ref = 0
		}
		recv := r.ident("value", 0, "uint256", p)
		return r.call("value."+s.fn.Name+"()", "functionCall", r.member(recv, s.fn.Name, ref, funcType(s.fn), p), nil)
	case opLowLevel:
		recv := r.ident("to", 0, "address payable", p)
		callee := r.member(recv, s.member, 0, "function (bytes memory) payable returns (bool,bytes memory)", p)
		text := "to." + s.member + "(\"\")"
		if s.member == "call" {
			text = "to.call{value: 0}(\"\")"
			callee = obj{
				"id": r.id(), "nodeType": "FunctionCallOptions", "src": r.span(p, len("to.call{value: 0}")),
				"expression": callee, "names": []any{"value"},
				"options": []any{r.literal("0", p+len("to.call{value: "))},
			}
		}
		return r.call(text, "functionCall", callee, nil)
	case opConstruct:
		return r.call(s.decl.Name+"()", "structConstructorCall", r.ident(s.decl.Name, s.decl.ID, "type(struct "+s.decl.Name+" storage pointer)", p), nil)
	case opCast:
		inner := r.elementaryCast("address", "0", p+len(s.via.Name)+1)
		return r.call(s.via.Name+"(address(0))", "typeConversion", r.ident(s.via.Name, s.via.ID, "type(contract "+s.via.Name+")", p), []any{inner})
	case opEnum:
		recv := r.ident(s.decl.Name, s.decl.ID, "type(enum "+s.decl.Name+")", p)
		r.write(s.decl.Name, ".", s.member)
		return r.member(recv, s.member, s.decl.ValueID(s.member), "enum "+s.decl.Name, p)
	case opWrap:
		recv := r.ident(s.decl.Name, s.decl.ID, "type("+s.decl.Name+")", p)
		return r.call(s.decl.Name+".wrap(0)", "functionCall", r.member(recv, "wrap", 0, "function ("+s.decl.types[0]+") pure returns ("+s.decl.Name+")", p), nil)
	case opRequire:
		return r.call("require(true)", "functionCall", r.ident("require", builtinRequire, "function (bool) pure", p), nil)
	}
	panic(fmt.Sprintf("astfix: unknown statement op %d", s.op))
}

// call writes text and wraps callee into a FunctionCall spanning it.
func (r *renderer) call(text, kind string, callee obj, args []any) obj {
	start := r.pos()
	r.write(text)
	if args == nil {
		args = []any{}
	}
	return obj{
		"id": r.id(), "nodeType": "FunctionCall", "src": r.src(start),
		"kind": kind, "expression": callee, "arguments": args, "tryCall": false,
		"typeDescriptions": obj{"typeString": "tuple()"},
	}
}

func (r *renderer) ident(name string, ref int64, typ string, at int) obj {
	n := obj{
		"id": r.id(), "nodeType": "Identifier", "src": r.span(at, len(name)),
		"name": name, "typeDescriptions": obj{"typeString": typ},
	}
	if ref != 0 {
		n["referencedDeclaration"] = ref
	}
	return n
}

func (r *renderer) member(recv obj, name string, ref int64, typ string, at int) obj {
	recvName, _ := recv["name"].(string)
	n := obj{
		"id": r.id(), "nodeType": "MemberAccess", "src": r.span(at, len(recvName)+1+len(name)),
		"memberName": name, "expression": recv, "typeDescriptions": obj{"typeString": typ},
	}
	if ref != 0 {
		n["referencedDeclaration"] = ref
	}
	return n
}

func (r *renderer) literal(value string, at int) obj {
	return obj{
		"id": r.id(), "nodeType": "Literal", "src": r.span(at, len(value)),
		"kind": "number", "value": value, "typeDescriptions": obj{"typeString": "int_const " + value},
	}
}

func (r *renderer) elementaryCast(typ, value string, at int) obj {
	return obj{
		"id": r.id(), "nodeType": "FunctionCall", "src": r.span(at, len(typ)+len(value)+2),
		"kind": "typeConversion",
		"expression": obj{
			"id": r.id(), "nodeType": "ElementaryTypeNameExpression", "src": r.span(at, len(typ)),
			"typeName": obj{"id": r.id(), "nodeType": "ElementaryTypeName", "src": r.span(at, len(typ)), "name": typ},
		},
		"arguments":        []any{r.literal(value, at+len(typ)+1)},
		"typeDescriptions": obj{"typeString": typ},
	}
}

func funcType(f *Func) string {
	t := "function (" + strings.Join(f.params, ",") + ")"
	switch f.mutability {
	case "view", "pure", "payable":
		t += " " + f.mutability
	}
	if f.visibility == "external" {
		t += " external"
	}
	return t
}

func contractName(f *Func) string {
	if f.contract == nil {
		return ""
	}
	return f.contract.Name
}
