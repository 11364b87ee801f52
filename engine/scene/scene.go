package scene

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-gles/common"
	"github.com/Carmen-Shannon/oxy-gles/engine/logger"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

var (
	// ErrForeignNode is returned when a node belongs to a different graph.
	ErrForeignNode = errors.New("node belongs to another scene graph")

	// ErrCycle is returned when a re-parent would make a node its own ancestor.
	ErrCycle = errors.New("scene graph cycle")

	// ErrRootNode is returned when an operation would move or remove the root.
	ErrRootNode = errors.New("operation not allowed on the root node")
)

// graph is the implementation of the Graph interface.
type graph struct {
	name           string
	active         bool
	root           *Node
	manager        resource.Manager
	log            *zap.Logger
	recomputations int
}

// Graph is a tree of nodes with local transforms and cached world transforms. World
// transforms are pulled lazily: setting a local transform only flags the subtree, and the
// product of ancestor transforms is recomputed when WorldTransform is next asked for it.
//
// The graph holds the resource references of every renderable attached to it and gives
// them back to the resource manager when nodes are removed. Graphs can be hot-swapped
// via the Active flag. A Graph belongs to the rendering thread.
type Graph interface {
	// Name returns the graph's identifier.
	Name() string

	// Active reports whether the graph is the one being rendered.
	Active() bool

	// SetActive sets whether the graph is rendered.
	//
	// Parameters:
	//   - active: the new state
	SetActive(active bool)

	// Root returns the root node. The root has an identity local transform.
	//
	// Returns:
	//   - *Node: the root
	Root() *Node

	// NewNode creates a detached node owned by this graph.
	//
	// Parameters:
	//   - name: the node name
	//
	// Returns:
	//   - *Node: the new node
	NewNode(name string) *Node

	// AddChild attaches child to parent, detaching it from its previous parent first. The
	// child's subtree is flagged dirty.
	//
	// Parameters:
	//   - parent: the new parent
	//   - child: the node to attach
	//
	// Returns:
	//   - error: ErrForeignNode, ErrRootNode or ErrCycle
	AddChild(parent, child *Node) error

	// Remove detaches node and releases every resource held by renderables in its subtree.
	//
	// Parameters:
	//   - node: the node to remove
	//
	// Returns:
	//   - error: ErrRootNode, ErrForeignNode, or a joined release error
	Remove(node *Node) error

	// SetLocalTransform replaces the node's local transform and flags it and its
	// descendants dirty.
	//
	// Parameters:
	//   - node: the node
	//   - m: the transform relative to the parent
	SetLocalTransform(node *Node, m mgl32.Mat4)

	// SetLocalTRS is SetLocalTransform with a transform composed as T * R * S.
	//
	// Parameters:
	//   - node: the node
	//   - t: the translation
	//   - r: the rotation
	//   - s: the scale
	SetLocalTRS(node *Node, t mgl32.Vec3, r mgl32.Quat, s mgl32.Vec3)

	// WorldTransform returns the product of the node's ancestor transforms and its own,
	// recomputing only the dirty part of the ancestor chain.
	//
	// Parameters:
	//   - node: the node
	//
	// Returns:
	//   - mgl32.Mat4: the world transform
	WorldTransform(node *Node) mgl32.Mat4

	// Recomputations returns how many world transforms have been recomputed.
	//
	// Returns:
	//   - int: the recompute counter
	Recomputations() int

	// AttachRenderable sets the node's renderable. The node takes over the caller's
	// references to the mesh handles and the material. A previous renderable is released.
	//
	// Parameters:
	//   - node: the node
	//   - r: the renderable
	//
	// Returns:
	//   - error: an error if releasing the previous renderable failed
	AttachRenderable(node *Node, r *Renderable) error

	// DetachRenderable removes the node's renderable and hands its references back to the
	// caller without releasing them.
	//
	// Parameters:
	//   - node: the node
	//
	// Returns:
	//   - *Renderable: the removed renderable, or nil
	DetachRenderable(node *Node) *Renderable

	// Walk visits the graph depth first from the root. Returning false from fn skips the
	// node's children.
	//
	// Parameters:
	//   - fn: the visitor
	Walk(fn func(n *Node) bool)

	// Find returns the first node with the given name in depth-first order.
	//
	// Parameters:
	//   - name: the node name
	//
	// Returns:
	//   - *Node: the node, or nil
	Find(name string) *Node

	// Len returns the number of nodes reachable from the root, including the root.
	//
	// Returns:
	//   - int: the node count
	Len() int

	// RemapHandles rewrites every renderable's handles after a context rebuild.
	//
	// Parameters:
	//   - remap: the old to new handle mapping returned by RebuildAll
	RemapHandles(remap resource.Remap)
}

var _ Graph = &graph{}

// NewGraph creates an empty scene graph whose renderables are released through manager.
//
// Parameters:
//   - manager: the resource manager holding renderable resources
//   - options: variadic list of GraphBuilderOption functions
//
// Returns:
//   - Graph: the new graph
func NewGraph(manager resource.Manager, options ...GraphBuilderOption) Graph {
	g := &graph{
		name:    "scene",
		active:  true,
		manager: manager,
		log:     logger.Named("scene"),
	}
	g.root = g.NewNode("root")
	for _, opt := range options {
		opt(g)
	}
	return g
}

func (g *graph) Name() string {
	return g.name
}

func (g *graph) Active() bool {
	return g.active
}

func (g *graph) SetActive(active bool) {
	g.active = active
}

func (g *graph) Root() *Node {
	return g.root
}

func (g *graph) NewNode(name string) *Node {
	n := newNode(name)
	n.graph = g
	return n
}

func (g *graph) AddChild(parent, child *Node) error {
	if parent.graph != g || child.graph != g {
		return ErrForeignNode
	}
	if child == g.root {
		return ErrRootNode
	}
	if child.isAncestorOf(parent) {
		return fmt.Errorf("add %q under %q: %w", child.name, parent.name, ErrCycle)
	}

	child.detach()
	child.parent = parent
	parent.children = append(parent.children, child)

	// the subtree may have been clean under its old parent
	child.dirty = false
	child.markDirty()
	return nil
}

func (g *graph) Remove(node *Node) error {
	if node.graph != g {
		return ErrForeignNode
	}
	if node == g.root {
		return ErrRootNode
	}
	node.detach()

	var errs []error
	released := 0
	node.walk(func(n *Node) bool {
		if n.renderable != nil {
			errs = append(errs, g.release(n.renderable))
			n.renderable = nil
			released++
		}
		n.graph = nil
		return true
	})
	g.log.Debug("subtree removed", zap.String("node", node.name), zap.Int("renderables", released))
	return errors.Join(errs...)
}

func (g *graph) SetLocalTransform(node *Node, m mgl32.Mat4) {
	node.local = m
	node.dirty = false
	node.markDirty()
}

func (g *graph) SetLocalTRS(node *Node, t mgl32.Vec3, r mgl32.Quat, s mgl32.Vec3) {
	g.SetLocalTransform(node, common.ComposeTRS(t, r, s))
}

func (g *graph) WorldTransform(node *Node) mgl32.Mat4 {
	if !node.dirty {
		return node.world
	}
	if node.parent == nil {
		node.world = node.local
	} else {
		node.world = g.WorldTransform(node.parent).Mul4(node.local)
	}
	node.dirty = false
	g.recomputations++
	return node.world
}

func (g *graph) Recomputations() int {
	return g.recomputations
}

func (g *graph) AttachRenderable(node *Node, r *Renderable) error {
	var err error
	if node.renderable != nil {
		err = g.release(node.renderable)
	}
	node.renderable = r
	return err
}

func (g *graph) DetachRenderable(node *Node) *Renderable {
	r := node.renderable
	node.renderable = nil
	return r
}

func (g *graph) Walk(fn func(n *Node) bool) {
	g.root.walk(fn)
}

func (g *graph) Find(name string) *Node {
	var found *Node
	g.Walk(func(n *Node) bool {
		if found != nil {
			return false
		}
		if n.name == name {
			found = n
			return false
		}
		return true
	})
	return found
}

func (g *graph) Len() int {
	count := 0
	g.Walk(func(*Node) bool {
		count++
		return true
	})
	return count
}

func (g *graph) RemapHandles(remap resource.Remap) {
	seen := make(map[material.Material]bool)
	g.Walk(func(n *Node) bool {
		if r := n.renderable; r != nil {
			r.remap(remap)
			if r.Material != nil && !seen[r.Material] {
				seen[r.Material] = true
				r.Material.RemapHandles(remap)
			}
		}
		return true
	})
}

// release gives a renderable's mesh references and its material reference back.
func (g *graph) release(r *Renderable) error {
	var errs []error
	for _, h := range r.Handles() {
		if h.IsZero() {
			continue
		}
		if err := g.manager.Release(h); err != nil {
			errs = append(errs, err)
		}
	}
	if r.Material != nil {
		if err := r.Material.Release(g.manager); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
