package argus

import (
	"github.com/zheng/argus/internal/graph"
	"github.com/zheng/argus/internal/render"
)

// ProblemKind classifies what went wrong in a generation.
type ProblemKind string

const (
	ProblemMissing    ProblemKind = "missing"
	ProblemMalformed  ProblemKind = "malformed"
	ProblemUnresolved ProblemKind = "unresolved"
	ProblemContract   ProblemKind = "contract"
	ProblemCanceled   ProblemKind = "canceled"
	ProblemRender     ProblemKind = "render"
)

// Problem is a user-facing failure together with the action that may fix it.
type Problem struct {
	Kind    ProblemKind `json:"kind"`
	Message string      `json:"message"`
	Detail  string      `json:"detail,omitempty"`
	// Action is a render action name (rebuild, pick-file) or empty.
	Action string `json:"action,omitempty"`
	// Contract is set for per-contract failures.
	Contract string `json:"contract,omitempty"`
}

func (p Problem) panel() render.Panel {
	return render.Panel{Kind: string(p.Kind), Message: p.Message, Detail: p.Detail, Action: p.Action}
}

// ContractView is the structured form of one rendered contract.
type ContractView struct {
	Name         string                   `json:"name"`
	File         string                   `json:"file"`
	Functions    []*graph.FunctionNode    `json:"functions"`
	Declarations graph.DeclarationSummary `json:"declarations"`
}

// Roots returns the names of the root functions.
func (v ContractView) Roots() []string {
	names := make([]string, 0, len(v.Functions))
	for _, fn := range v.Functions {
		names = append(names, fn.Name)
	}
	return names
}

// Result is the output of one generation. It is never mutated after
// Generate returns.
type Result struct {
	Token     uint64         `json:"token"`
	HTML      string         `json:"html"`
	Contracts []ContractView `json:"contracts"`
	Errors    []Problem      `json:"errors"`
	// Empty is set when no contract could be rendered and nothing failed.
	Empty bool `json:"empty"`
	// PrimaryContract names the first rendered contract, used for export
	// file names.
	PrimaryContract string `json:"primaryContract,omitempty"`
	// Target is the unit path the target resolved to.
	Target string `json:"target,omitempty"`
}

// Contract returns the view with the given name.
func (r *Result) Contract(name string) (ContractView, bool) {
	for _, c := range r.Contracts {
		if c.Name == name {
			return c, true
		}
	}
	return ContractView{}, false
}
