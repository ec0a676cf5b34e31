package solast

// Walk visits n and its descendants in pre-order. Returning false from visit
// skips the children of the current node.
func Walk(n Node, visit func(Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for _, c := range n.Children() {
		Walk(c, visit)
	}
}

// Find returns the first descendant of n (including n) for which match is true.
func Find(n Node, match func(Node) bool) Node {
	var found Node
	Walk(n, func(cur Node) bool {
		if found != nil {
			return false
		}
		if match(cur) {
			found = cur
			return false
		}
		return true
	})
	return found
}
