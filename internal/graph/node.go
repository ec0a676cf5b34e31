package graph

// NodeKind represents the kind of an indexed declaration
type NodeKind string

const (
	NodeKindFunction NodeKind = "function"
	NodeKindModifier NodeKind = "modifier"
)

// Node is a function or modifier stored in the call index
type Node struct {
	ID         int64    `json:"id"`
	Kind       NodeKind `json:"kind"`
	Key        string   `json:"key"`       // file:Contract.signature, unique per declaration
	Name       string   `json:"name"`      // Contract.function
	Contract   string   `json:"contract"`  // 所属合约
	File       string   `json:"file"`      // 源文件路径
	Line       int      `json:"line"`      // 起始行号
	Signature  string   `json:"signature"` // name(type,...)
	Mutability string   `json:"mutability"`
	Visibility string   `json:"visibility"`
	Entry      bool     `json:"entry"` // public/external entry point of a deployable contract
	Doc        string   `json:"doc"`   // NatSpec
}

// ShortName returns the function name without its contract prefix
func (n *Node) ShortName() string {
	for i := len(n.Name) - 1; i >= 0; i-- {
		if n.Name[i] == '.' {
			return n.Name[i+1:]
		}
	}
	return n.Name
}
