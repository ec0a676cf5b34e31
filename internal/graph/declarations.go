package graph

import (
	"github.com/zheng/argus/internal/solast"
)

// Declarations summarizes the user-defined types visible to c: those of c and
// its linearized bases, then the file-level ones of its unit. Entries are
// de-duplicated by kind and qualified name.
func (b *Builder) Declarations(c *solast.ContractDefinition) DeclarationSummary {
	var sum DeclarationSummary
	seen := make(map[string]bool)
	add := func(n solast.Node) {
		d, ok := b.declaration(n)
		if !ok {
			return
		}
		k := string(d.Kind) + ":" + d.Qualified
		if seen[k] {
			return
		}
		seen[k] = true
		sum.add(d)
	}

	for _, base := range b.idx.Linearization(c) {
		for _, n := range base.Nodes {
			add(n)
		}
	}
	if u := b.idx.Unit(c.ID()); u != nil {
		for _, n := range u.Nodes {
			add(n)
		}
	}
	return sum
}

func (b *Builder) declaration(n solast.Node) (Declaration, bool) {
	kind, name, ok := declKind(n)
	if !ok {
		return Declaration{}, false
	}
	d := Declaration{Kind: kind, Name: name, Qualified: name}
	if owner := b.idx.Owner(n.ID()); owner != nil {
		d.Contract = owner.Name
		d.Qualified = owner.Name + "." + name
	}
	d.File = b.unitPath(n.ID())
	d.Snippet = b.src.snippet(d.File, n.Src())
	d.Line = b.src.line(d.File, n.Src().Start)
	return d, true
}

func declKind(n solast.Node) (DeclKind, string, bool) {
	switch d := n.(type) {
	case *solast.EventDefinition:
		return DeclEvent, d.Name, true
	case *solast.StructDefinition:
		return DeclStruct, d.Name, true
	case *solast.ErrorDefinition:
		return DeclError, d.Name, true
	case *solast.EnumDefinition:
		return DeclEnum, d.Name, true
	case *solast.UserDefinedValueTypeDefinition:
		return DeclUserType, d.Name, true
	}
	return "", "", false
}

// references lists the declarations a body uses, in order of first use.
func (b *Builder) references(body solast.Node) []Reference {
	var (
		out  []Reference
		seen = make(map[string]bool)
	)
	solast.Walk(body, func(n solast.Node) bool {
		ref := solast.NoDeclaration
		switch e := n.(type) {
		case *solast.Identifier:
			ref = e.ReferencedDeclaration
		case *solast.MemberAccess:
			ref = e.ReferencedDeclaration
		case *solast.Generic:
			ref = e.ReferencedDeclaration
		}
		target, ok := b.idx.Node(ref)
		if !ok {
			return true
		}
		if v, ok := target.(*solast.EnumValue); ok {
			if e := b.idx.EnumOf(v.ID()); e != nil {
				target = e
			}
		}
		kind, name, ok := declKind(target)
		if !ok {
			return true
		}
		r := Reference{Kind: kind, Name: name, Qualified: name}
		if owner := b.idx.Owner(target.ID()); owner != nil {
			r.Qualified = owner.Name + "." + name
		}
		if k := string(kind) + ":" + r.Qualified; !seen[k] {
			seen[k] = true
			out = append(out, r)
		}
		return true
	})
	return out
}
