package node

// Handler gives read access to the structure a node belongs to. Nodes do
// not know their parents; a handler derives that from a snapshot.
type Handler interface {
	// Root returns the root of the structure.
	Root() *Node

	// Parent returns the parent of n, or nil for the root and for nodes
	// that are not part of the structure.
	Parent(n *Node) *Node
}

// Visitor receives callbacks during a depth-first walk.
type Visitor interface {
	// VisitBefore is called before the children of n are visited.
	VisitBefore(n *Node)

	// VisitAfter is called after all children of n were visited.
	VisitAfter(n *Node)

	// Terminate is polled between callbacks; returning true ends the walk.
	Terminate() bool
}

// VisitorFunc adapts a function to a Visitor that only uses VisitBefore.
type VisitorFunc func(n *Node)

func (f VisitorFunc) VisitBefore(n *Node) { f(n) }
func (f VisitorFunc) VisitAfter(*Node)    {}
func (f VisitorFunc) Terminate() bool     { return false }

// WalkBFS visits root and all its descendants level by level. Returning
// false from fn stops the walk.
//
// The walk uses an explicit queue so arbitrarily deep trees are safe.
func WalkBFS(root *Node, fn func(n *Node) bool) {
	if root == nil {
		return
	}
	queue := []*Node{root}
	for len(queue) > 0 {
		n := queue[0]
		queue[0] = nil
		queue = queue[1:]
		if !fn(n) {
			return
		}
		queue = append(queue, n.children...)
	}
}

type dfsFrame struct {
	node      *Node
	nextChild int
}

// WalkDFS performs a depth-first walk, calling VisitBefore on the way
// down and VisitAfter on the way up. An explicit stack replaces
// recursion.
func WalkDFS(root *Node, v Visitor) {
	if root == nil || v.Terminate() {
		return
	}
	v.VisitBefore(root)
	stack := []dfsFrame{{node: root}}
	for len(stack) > 0 {
		if v.Terminate() {
			return
		}
		top := &stack[len(stack)-1]
		if top.nextChild < len(top.node.children) {
			child := top.node.children[top.nextChild]
			top.nextChild++
			v.VisitBefore(child)
			stack = append(stack, dfsFrame{node: child})
			continue
		}
		v.VisitAfter(top.node)
		stack = stack[:len(stack)-1]
	}
}
