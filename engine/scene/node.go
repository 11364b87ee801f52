package scene

import (
	"slices"

	"github.com/go-gl/mathgl/mgl32"
)

// Node is one element of the scene graph. A node owns its children and renderable; its
// parent pointer is a back reference. World transforms are cached and recomputed lazily
// by the owning Graph.
type Node struct {
	name       string
	local      mgl32.Mat4
	world      mgl32.Mat4
	dirty      bool
	parent     *Node
	children   []*Node
	renderable *Renderable
	graph      *graph
}

func newNode(name string) *Node {
	return &Node{name: name, local: mgl32.Ident4(), world: mgl32.Ident4(), dirty: true}
}

// Name returns the node's name.
func (n *Node) Name() string {
	return n.name
}

// Parent returns the node's parent, or nil for the root and detached nodes.
func (n *Node) Parent() *Node {
	return n.parent
}

// Children returns a copy of the node's children in insertion order.
func (n *Node) Children() []*Node {
	return slices.Clone(n.children)
}

// LocalTransform returns the node's transform relative to its parent.
func (n *Node) LocalTransform() mgl32.Mat4 {
	return n.local
}

// Dirty reports whether the cached world transform is out of date.
func (n *Node) Dirty() bool {
	return n.dirty
}

// Renderable returns the node's renderable, or nil.
func (n *Node) Renderable() *Renderable {
	return n.renderable
}

// isAncestorOf reports whether n is other or one of its ancestors.
func (n *Node) isAncestorOf(other *Node) bool {
	for p := other; p != nil; p = p.parent {
		if p == n {
			return true
		}
	}
	return false
}

// markDirty flags n and its descendants. A dirty node's descendants are always dirty, so
// the walk stops at subtrees that are already flagged.
func (n *Node) markDirty() {
	if n.dirty {
		return
	}
	n.dirty = true
	for _, c := range n.children {
		c.markDirty()
	}
}

func (n *Node) detach() {
	if n.parent == nil {
		return
	}
	p := n.parent
	p.children = slices.DeleteFunc(p.children, func(c *Node) bool { return c == n })
	n.parent = nil
}

// walk visits n and its subtree depth first, skipping the children of nodes for which fn
// returns false.
func (n *Node) walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.walk(fn)
	}
}
