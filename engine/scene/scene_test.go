package scene

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-gles/common"
	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func translate(x, y, z float32) mgl32.Mat4 {
	return mgl32.Translate3D(x, y, z)
}

// chain builds root -> a -> b -> c and returns the nodes below the root.
func chain(t *testing.T, g Graph) (a, b, c *Node) {
	t.Helper()
	a, b, c = g.NewNode("a"), g.NewNode("b"), g.NewNode("c")
	require.NoError(t, g.AddChild(g.Root(), a))
	require.NoError(t, g.AddChild(a, b))
	require.NoError(t, g.AddChild(b, c))
	return a, b, c
}

func TestWorldTransformComposesAncestors(t *testing.T) {
	g := NewGraph(resource.NewManager(gpu.NewSoftwareDevice()))
	a, b, c := chain(t, g)
	g.SetLocalTransform(a, translate(1, 0, 0))
	g.SetLocalTransform(b, translate(0, 2, 0))
	g.SetLocalTransform(c, mgl32.Scale3D(2, 2, 2))

	w := g.WorldTransform(c)
	assert.Equal(t, mgl32.Vec3{1, 2, 0}, w.Col(3).Vec3())
	assert.InDelta(t, 2, w.At(0, 0), 1e-6)
	assert.Equal(t, g.WorldTransform(a).Mul4(b.LocalTransform()).Mul4(c.LocalTransform()), w)
}

func TestWorldTransformIsLazy(t *testing.T) {
	g := NewGraph(resource.NewManager(gpu.NewSoftwareDevice()))
	a, b, c := chain(t, g)
	g.WorldTransform(c)
	base := g.Recomputations()

	// a clean query recomputes nothing
	g.WorldTransform(c)
	assert.Equal(t, base, g.Recomputations())

	g.SetLocalTransform(a, translate(5, 0, 0))
	assert.True(t, a.Dirty())
	assert.True(t, b.Dirty())
	assert.True(t, c.Dirty())

	// querying the middle node leaves the unqueried leaf dirty
	assert.Equal(t, mgl32.Vec3{5, 0, 0}, g.WorldTransform(b).Col(3).Vec3())
	assert.Equal(t, base+2, g.Recomputations())
	assert.True(t, c.Dirty())

	assert.Equal(t, mgl32.Vec3{5, 0, 0}, g.WorldTransform(c).Col(3).Vec3())
	assert.Equal(t, base+3, g.Recomputations())
}

func TestSetLocalTransformOnLeafKeepsSiblingsClean(t *testing.T) {
	g := NewGraph(resource.NewManager(gpu.NewSoftwareDevice()))
	a := g.NewNode("a")
	left, right := g.NewNode("left"), g.NewNode("right")
	require.NoError(t, g.AddChild(g.Root(), a))
	require.NoError(t, g.AddChild(a, left))
	require.NoError(t, g.AddChild(a, right))
	g.WorldTransform(left)
	g.WorldTransform(right)

	g.SetLocalTRS(left, mgl32.Vec3{0, 0, 3}, mgl32.QuatIdent(), mgl32.Vec3{1, 1, 1})
	assert.True(t, left.Dirty())
	assert.False(t, right.Dirty())
	assert.False(t, a.Dirty())
	assert.Equal(t, mgl32.Vec3{0, 0, 3}, g.WorldTransform(left).Col(3).Vec3())
}

func TestReparentMarksSubtreeDirty(t *testing.T) {
	g := NewGraph(resource.NewManager(gpu.NewSoftwareDevice()))
	a, b, c := chain(t, g)
	other := g.NewNode("other")
	require.NoError(t, g.AddChild(g.Root(), other))
	g.SetLocalTransform(other, translate(0, 0, 9))
	g.SetLocalTransform(a, translate(1, 0, 0))
	g.WorldTransform(c)

	require.NoError(t, g.AddChild(other, b))
	assert.True(t, b.Dirty())
	assert.True(t, c.Dirty())
	assert.Empty(t, a.Children())
	assert.Equal(t, other, b.Parent())
	assert.Equal(t, mgl32.Vec3{0, 0, 9}, g.WorldTransform(c).Col(3).Vec3())
}

func TestAddChildRejectsCyclesAndForeignNodes(t *testing.T) {
	g := NewGraph(resource.NewManager(gpu.NewSoftwareDevice()))
	a, _, c := chain(t, g)

	assert.ErrorIs(t, g.AddChild(c, a), ErrCycle)
	assert.ErrorIs(t, g.AddChild(a, a), ErrCycle)
	assert.ErrorIs(t, g.AddChild(a, g.Root()), ErrRootNode)
	assert.ErrorIs(t, g.Remove(g.Root()), ErrRootNode)

	other := NewGraph(resource.NewManager(gpu.NewSoftwareDevice()))
	assert.ErrorIs(t, g.AddChild(a, other.NewNode("x")), ErrForeignNode)
}

func TestWalkAndFind(t *testing.T) {
	g := NewGraph(resource.NewManager(gpu.NewSoftwareDevice()), WithName("level"))
	a, b, _ := chain(t, g)
	d := g.NewNode("d")
	require.NoError(t, g.AddChild(a, d))

	var order []string
	g.Walk(func(n *Node) bool {
		order = append(order, n.Name())
		return n != b
	})
	assert.Equal(t, []string{"root", "a", "b", "d"}, order)
	assert.Equal(t, d, g.Find("d"))
	assert.Nil(t, g.Find("nope"))
	assert.Equal(t, 5, g.Len())
	assert.Equal(t, "level", g.Name())
}

func acquireMesh(t *testing.T, m resource.Manager, seed byte) MeshRef {
	t.Helper()
	vb, err := m.Acquire(resource.BufferDescriptor{Target: gpu.BufferVertex, Data: []byte{seed, 1, 2, 3}})
	require.NoError(t, err)
	ib, err := m.Acquire(resource.BufferDescriptor{Target: gpu.BufferIndex, Data: []byte{seed, 0, 1, 0}})
	require.NoError(t, err)
	return MeshRef{Vertex: vb, Index: ib, IndexCount: 2, IndexType: gpu.IndexUint16}
}

func TestRemoveReleasesSubtreeResources(t *testing.T) {
	dev := gpu.NewSoftwareDevice()
	m := resource.NewManager(dev)
	g := NewGraph(m)
	a, b, c := chain(t, g)

	tex, err := m.Acquire(resource.TextureDescriptor{Width: 1, Height: 1, Format: common.PixelFormatRGBA8, Pixels: []byte{1, 2, 3, 4}})
	require.NoError(t, err)
	mat := material.NewMaterial(material.WithName("shared"), material.WithTexture("u_base_color_texture", tex, resource.Handle{}))
	mat.Retain()

	require.NoError(t, g.AttachRenderable(b, &Renderable{Meshes: []MeshRef{acquireMesh(t, m, 1)}, Material: mat}))
	require.NoError(t, g.AttachRenderable(c, &Renderable{Meshes: []MeshRef{acquireMesh(t, m, 2)}, Material: mat}))
	keep := acquireMesh(t, m, 3)
	require.NoError(t, g.AttachRenderable(a, &Renderable{Meshes: []MeshRef{keep}}))
	assert.Equal(t, 7, m.Len())

	require.NoError(t, g.Remove(b))
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 4, dev.Deletes(gpu.ObjectBuffer))
	assert.Equal(t, 1, dev.Deletes(gpu.ObjectTexture))
	assert.Zero(t, mat.RefCount())
	assert.Nil(t, g.Find("c"))
	assert.Equal(t, 2, g.Len())

	r := g.DetachRenderable(a)
	require.NotNil(t, r)
	assert.Equal(t, 2, m.Len(), "detach hands references back without releasing")
}

func TestRemapHandles(t *testing.T) {
	dev := gpu.NewSoftwareDevice()
	m := resource.NewManager(dev)
	g := NewGraph(m)
	n := g.NewNode("mesh")
	require.NoError(t, g.AddChild(g.Root(), n))
	mesh := acquireMesh(t, m, 1)
	require.NoError(t, g.AttachRenderable(n, &Renderable{Meshes: []MeshRef{mesh}}))

	dev.LoseContext()
	m.InvalidateAll()
	dev.RestoreContext()
	remap, err := m.RebuildAll()
	require.NoError(t, err)
	g.RemapHandles(remap)

	got := n.Renderable().Meshes[0]
	assert.Equal(t, remap.Apply(mesh.Vertex), got.Vertex)
	assert.NotEqual(t, mesh.Vertex, got.Vertex)
	_, err = m.Resolve(got.Index)
	assert.NoError(t, err)
}
