package renderer

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-gles/common"
	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-gles/engine/rendergraph"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
	"github.com/Carmen-Shannon/oxy-gles/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	dev      *gpu.SoftwareDevice
	manager  resource.Manager
	shaders  shader.Cache
	renderer Renderer
	graph    scene.Graph
	unlit    shader.Source
}

func newFixture(t *testing.T, options ...RendererBuilderOption) *fixture {
	t.Helper()
	dev := gpu.NewSoftwareDevice()
	m := resource.NewManager(dev)
	cache := shader.NewCache(m)
	src, err := shader.LibrarySource(shader.LibraryUnlit)
	require.NoError(t, err)
	return &fixture{
		dev:      dev,
		manager:  m,
		shaders:  cache,
		renderer: NewRenderer(dev, m, cache, options...),
		graph:    scene.NewGraph(m),
		unlit:    src,
	}
}

func testView() View {
	return View{
		View:       mgl32.LookAtV(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0}),
		Projection: mgl32.Perspective(mgl32.DegToRad(60), 1, 0.1, 100),
		Viewport:   gpu.Viewport{Width: 64, Height: 64},
		Time:       1.5,
	}
}

// mesh uploads a unit triangle. With uv the layout carries a_uv as well.
func (f *fixture) mesh(t *testing.T, name string, uv bool) scene.MeshRef {
	t.Helper()
	layout := gpu.VertexLayout{Stride: 12, Attributes: []gpu.VertexAttribute{{Name: "a_position", Components: 3}}}
	if uv {
		layout = gpu.VertexLayout{Stride: 20, Attributes: []gpu.VertexAttribute{
			{Name: "a_position", Components: 3},
			{Name: "a_uv", Components: 2, Offset: 12},
		}}
	}
	floats := layout.Stride / 4
	vertices := make([]byte, 0, 3*layout.Stride)
	for i, p := range [][3]float32{{-1, -1, 0}, {1, -1, 0}, {0, 1, 0}} {
		for c := range floats {
			v := float32(i)
			if c < 3 {
				v = p[c]
			}
			vertices = binary.LittleEndian.AppendUint32(vertices, math.Float32bits(v))
		}
	}
	vb, err := f.manager.Acquire(resource.BufferDescriptor{Target: gpu.BufferVertex, Data: vertices})
	require.NoError(t, err)
	ib, err := f.manager.Acquire(resource.BufferDescriptor{Target: gpu.BufferIndex, Data: []byte{0, 0, 1, 0, 2, 0}})
	require.NoError(t, err)
	return scene.MeshRef{
		Name:       name,
		Vertex:     vb,
		Index:      ib,
		IndexCount: 3,
		IndexType:  gpu.IndexUint16,
		Layout:     layout,
		BoundsMin:  mgl32.Vec3{-1, -1, 0},
		BoundsMax:  mgl32.Vec3{1, 1, 0},
	}
}

func (f *fixture) node(t *testing.T, name string, at mgl32.Vec3, mesh scene.MeshRef, m material.Material) *scene.Node {
	t.Helper()
	n := f.graph.NewNode(name)
	require.NoError(t, f.graph.AddChild(f.graph.Root(), n))
	f.graph.SetLocalTransform(n, mgl32.Translate3D(at.X(), at.Y(), at.Z()))
	require.NoError(t, f.graph.AttachRenderable(n, &scene.Renderable{Meshes: []scene.MeshRef{mesh}, Material: m}))
	return n
}

func (f *fixture) texture(t *testing.T) (resource.Handle, resource.Handle) {
	t.Helper()
	tex, err := f.manager.Acquire(resource.TextureDescriptor{Width: 1, Height: 1, Format: common.PixelFormatRGBA8, Pixels: []byte{255, 255, 255, 255}})
	require.NoError(t, err)
	smp, err := f.manager.Acquire(resource.SamplerDescriptor{Settings: common.DefaultSamplerSettings()})
	require.NoError(t, err)
	return tex, smp
}

func (f *fixture) runScenePass(t *testing.T, cfg ScenePassConfig) error {
	t.Helper()
	g := rendergraph.NewGraph(f.manager)
	require.NoError(t, g.DeclarePass(f.renderer.ScenePass(cfg)))
	return g.ExecuteFrame(context.Background())
}

func uniformAt(t *testing.T, cmd gpu.DrawCommand, location int32) gpu.UniformValue {
	t.Helper()
	for _, u := range cmd.Uniforms {
		if u.Location == location {
			return u
		}
	}
	require.Failf(t, "uniform not set", "location %d", location)
	return gpu.UniformValue{}
}

func TestScenePassDrawsVisibleMeshesAndCullsTheRest(t *testing.T) {
	f := newFixture(t)
	red := material.NewMaterial(material.WithName("red"), material.WithVariant(f.unlit), material.WithVec4("u_base_color", mgl32.Vec4{1, 0, 0, 1}))
	red.Retain()
	f.node(t, "visible", mgl32.Vec3{0.5, 0, 0}, f.mesh(t, "tri", false), red)
	f.node(t, "offscreen", mgl32.Vec3{500, 0, 0}, f.mesh(t, "tri", false), red)

	view := testView()
	require.NoError(t, f.runScenePass(t, ScenePassConfig{Graph: f.graph, View: view, Clear: &[4]float32{0, 0, 0, 1}}))

	assert.Equal(t, []uint32{0}, f.dev.Passes())
	require.Len(t, f.dev.Draws(), 1)
	stats := f.renderer.Stats()
	assert.Equal(t, 1, stats.Collected)
	assert.Equal(t, 1, stats.Culled)
	assert.Equal(t, 1, stats.Drawn)
	assert.Zero(t, stats.Skipped)
	assert.Empty(t, f.renderer.Diagnostics())

	cmd := f.dev.Draws()[0]
	assert.True(t, cmd.CullFace)
	assert.Equal(t, 3, cmd.IndexCount)

	v, err := red.Variant(f.shaders)
	require.NoError(t, err)
	model, ok := v.Bindings.Uniform(shader.BuiltinModel)
	require.True(t, ok)
	want := mgl32.Translate3D(0.5, 0, 0)
	assert.Equal(t, want[:], uniformAt(t, cmd, model.Location).Floats)

	viewProj, ok := v.Bindings.Uniform(shader.BuiltinViewProj)
	require.True(t, ok)
	vp := view.ViewProjection()
	assert.Equal(t, vp[:], uniformAt(t, cmd, viewProj.Location).Floats)

	viewport, ok := v.Bindings.Uniform(shader.BuiltinViewport)
	require.True(t, ok)
	assert.Equal(t, []float32{0, 0, 64, 64}, uniformAt(t, cmd, viewport.Location).Floats)

	tm, ok := v.Bindings.Uniform(shader.BuiltinTime)
	require.True(t, ok)
	assert.Equal(t, []float32{1.5, 0, 0, 0}, uniformAt(t, cmd, tm.Location).Floats)

	color, ok := v.Bindings.Uniform("u_base_color")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0, 0, 1}, uniformAt(t, cmd, color.Location).Floats)
}

func TestCullingCanBeDisabled(t *testing.T) {
	f := newFixture(t, WithCulling(false))
	m := material.NewMaterial(material.WithName("plain"), material.WithVariant(f.unlit))
	f.node(t, "offscreen", mgl32.Vec3{500, 0, 0}, f.mesh(t, "tri", false), m)

	require.NoError(t, f.runScenePass(t, ScenePassConfig{Graph: f.graph, View: testView()}))
	assert.Len(t, f.dev.Draws(), 1)
	assert.Zero(t, f.renderer.Stats().Culled)
}

func TestTexturedDrawBindsUnitsAndSamplers(t *testing.T) {
	f := newFixture(t)
	tex, smp := f.texture(t)
	m := material.NewMaterial(
		material.WithName("crate"),
		material.WithVariant(f.unlit, shader.FeatureUV, shader.FeatureBaseColorTexture),
		material.WithTexture("u_base_color_texture", tex, smp),
		material.WithDoubleSided(true),
	)
	f.node(t, "crate", mgl32.Vec3{}, f.mesh(t, "tri", true), m)

	require.NoError(t, f.runScenePass(t, ScenePassConfig{Graph: f.graph, View: testView()}))
	require.Len(t, f.dev.Draws(), 1)
	cmd := f.dev.Draws()[0]
	assert.False(t, cmd.CullFace)
	require.Len(t, cmd.Textures, 1)

	texID, err := f.manager.Resolve(tex)
	require.NoError(t, err)
	smpID, err := f.manager.Resolve(smp)
	require.NoError(t, err)
	assert.Equal(t, texID, cmd.Textures[0].Texture)
	assert.Equal(t, smpID, cmd.Textures[0].Sampler)

	v, err := m.Variant(f.shaders)
	require.NoError(t, err)
	slot, ok := v.Bindings.Uniform("u_base_color_texture")
	require.True(t, ok)
	assert.Equal(t, int32(cmd.Textures[0].Unit), uniformAt(t, cmd, slot.Location).Int)
}

func TestMissingBindingSkipsOnlyThatDraw(t *testing.T) {
	f := newFixture(t)
	untextured := material.NewMaterial(
		material.WithName("no_texture"),
		material.WithVariant(f.unlit, shader.FeatureUV, shader.FeatureBaseColorTexture),
	)
	plain := material.NewMaterial(material.WithName("plain"), material.WithVariant(f.unlit))
	f.node(t, "broken", mgl32.Vec3{}, f.mesh(t, "tri", true), untextured)
	f.node(t, "fine", mgl32.Vec3{}, f.mesh(t, "tri", false), plain)

	require.NoError(t, f.runScenePass(t, ScenePassConfig{Graph: f.graph, View: testView()}))
	assert.Len(t, f.dev.Draws(), 1)
	assert.Equal(t, 1, f.renderer.Stats().Skipped)

	diags := f.renderer.Diagnostics()
	require.Len(t, diags, 1)
	assert.Equal(t, "broken", diags[0].Node)
	assert.Equal(t, "no_texture", diags[0].Material)
	var mb *material.MissingBindingError
	require.ErrorAs(t, diags[0].Err, &mb)
	assert.Contains(t, mb.Slots, "u_base_color_texture")

	assert.Empty(t, f.renderer.Diagnostics(), "diagnostics are cleared once read")
}

func TestDrawSkipsStaleHandles(t *testing.T) {
	f := newFixture(t)
	m := material.NewMaterial(material.WithName("plain"), material.WithVariant(f.unlit))
	mesh := f.mesh(t, "tri", false)
	require.NoError(t, f.manager.Release(mesh.Vertex))

	item := DrawItem{Node: f.graph.NewNode("ghost"), Mesh: mesh, Material: m, Model: mgl32.Ident4()}
	require.NoError(t, f.renderer.Draw(item, testView()))
	assert.Empty(t, f.dev.Draws())

	diags := f.renderer.Diagnostics()
	require.Len(t, diags, 1)
	assert.ErrorIs(t, diags[0].Err, resource.ErrStaleHandle)
	assert.Equal(t, "ghost", diags[0].Node)
}

func TestDrawSkipsMeshWithoutRequiredAttributes(t *testing.T) {
	f := newFixture(t)
	m := material.NewMaterial(material.WithName("uv"), material.WithVariant(f.unlit, shader.FeatureUV))
	item := DrawItem{Node: f.graph.NewNode("flat"), Mesh: f.mesh(t, "tri", false), Material: m, Model: mgl32.Ident4()}

	require.NoError(t, f.renderer.Draw(item, testView()))
	assert.Empty(t, f.dev.Draws())

	diags := f.renderer.Diagnostics()
	require.Len(t, diags, 1)
	var am *AttributeMismatchError
	require.ErrorAs(t, diags[0].Err, &am)
	assert.Equal(t, []string{"a_uv"}, am.Attributes)
}

func TestDrawReportsContextLoss(t *testing.T) {
	f := newFixture(t)
	m := material.NewMaterial(material.WithName("plain"), material.WithVariant(f.unlit))
	item := DrawItem{Node: f.graph.NewNode("n"), Mesh: f.mesh(t, "tri", false), Material: m, Model: mgl32.Ident4()}

	f.dev.LoseContext()
	assert.ErrorIs(t, f.renderer.Draw(item, testView()), gpu.ErrContextLost)
	assert.Empty(t, f.renderer.Diagnostics())
}

func TestScenePassDropsFrameWhenNoDrawCompiles(t *testing.T) {
	f := newFixture(t)
	broken := shader.Source{Name: "broken", Vertex: "void main() {}", Fragment: "#error unsupported path\nvoid main() {}"}
	m := material.NewMaterial(material.WithName("broken"), material.WithVariant(broken))
	m.Retain()
	f.node(t, "a", mgl32.Vec3{}, f.mesh(t, "tri", false), m)
	f.node(t, "b", mgl32.Vec3{}, f.mesh(t, "tri", false), m)

	err := f.runScenePass(t, ScenePassConfig{Graph: f.graph, View: testView()})
	var pe *rendergraph.PassError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "scene", pe.Pass)
	assert.ErrorIs(t, err, ErrNoDrawCompiled)
	var ce *shader.CompileError
	assert.ErrorAs(t, err, &ce)
	assert.Len(t, f.renderer.Diagnostics(), 2)

	// one good draw keeps the frame alive
	f.node(t, "c", mgl32.Vec3{}, f.mesh(t, "tri", false), material.NewMaterial(material.WithName("plain"), material.WithVariant(f.unlit)))
	f.renderer.BeginFrame()
	require.NoError(t, f.runScenePass(t, ScenePassConfig{Graph: f.graph, View: testView()}))
	assert.Equal(t, 1, f.renderer.Stats().Drawn)
	assert.Equal(t, 2, f.renderer.Stats().Skipped)
}

func TestBrokenVariantCompilesOncePerKey(t *testing.T) {
	f := newFixture(t)
	broken := shader.Source{Name: "broken", Vertex: "void main() {}", Fragment: "#error unsupported path\nvoid main() {}"}
	for _, name := range []string{"a", "b", "c", "d"} {
		f.node(t, name, mgl32.Vec3{}, f.mesh(t, "tri", false), material.NewMaterial(material.WithName(name), material.WithVariant(broken)))
	}
	f.node(t, "good", mgl32.Vec3{}, f.mesh(t, "tri", false), material.NewMaterial(material.WithName("plain"), material.WithVariant(f.unlit)))

	for range 3 {
		f.renderer.BeginFrame()
		require.NoError(t, f.runScenePass(t, ScenePassConfig{Graph: f.graph, View: testView()}))
		assert.Len(t, f.renderer.Diagnostics(), 4, "every frame still reports the skipped draws")
	}

	s := f.shaders.Stats()
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, 2, s.Misses)
	assert.Len(t, f.dev.Draws(), 3)
}

func TestCollectDrawItemsGroupsByVariant(t *testing.T) {
	f := newFixture(t)
	plainA := material.NewMaterial(material.WithName("a"), material.WithVariant(f.unlit))
	uv := material.NewMaterial(material.WithName("uv"), material.WithVariant(f.unlit, shader.FeatureUV))
	plainB := material.NewMaterial(material.WithName("b"), material.WithVariant(f.unlit))
	f.node(t, "first", mgl32.Vec3{}, f.mesh(t, "tri", false), plainA)
	f.node(t, "second", mgl32.Vec3{}, f.mesh(t, "tri", true), uv)
	f.node(t, "third", mgl32.Vec3{}, f.mesh(t, "tri", false), plainB)

	items := f.renderer.CollectDrawItems(f.graph, nil)
	require.Len(t, items, 3)

	var names []string
	for _, it := range items {
		names = append(names, it.Node.Name())
	}
	if plainA.VariantKey() < uv.VariantKey() {
		assert.Equal(t, []string{"first", "third", "second"}, names)
	} else {
		assert.Equal(t, []string{"second", "first", "third"}, names)
	}

	f.graph.SetActive(false)
	assert.Empty(t, f.renderer.CollectDrawItems(f.graph, nil))
}

func TestScenePassDrawsIntoTransient(t *testing.T) {
	f := newFixture(t)
	m := material.NewMaterial(material.WithName("plain"), material.WithVariant(f.unlit))
	f.node(t, "n", mgl32.Vec3{}, f.mesh(t, "tri", false), m)

	target := &rendergraph.Transient{
		ID:         rendergraph.Named("offscreen"),
		Descriptor: resource.FramebufferDescriptor{Name: "offscreen", FramebufferSpec: gpu.FramebufferSpec{Width: 64, Height: 64, Color: common.PixelFormatRGBA8}},
	}
	p := f.renderer.ScenePass(ScenePassConfig{Name: "offscreen_scene", Graph: f.graph, View: testView(), Transient: target})
	assert.Contains(t, p.Writes, rendergraph.Named("color"))

	g := rendergraph.NewGraph(f.manager)
	require.NoError(t, g.DeclarePass(p))
	require.NoError(t, g.ExecuteFrame(context.Background()))

	require.Len(t, f.dev.Passes(), 1)
	assert.NotZero(t, f.dev.Passes()[0])
	assert.Len(t, f.dev.Draws(), 1)
	assert.Zero(t, f.dev.Live(gpu.ObjectFramebuffer))
}

func TestScenePassWritesItsFramebuffer(t *testing.T) {
	f := newFixture(t)
	m := material.NewMaterial(material.WithName("plain"), material.WithVariant(f.unlit))
	f.node(t, "n", mgl32.Vec3{}, f.mesh(t, "tri", false), m)
	fb, err := f.manager.Acquire(resource.FramebufferDescriptor{Name: "offscreen", FramebufferSpec: gpu.FramebufferSpec{Width: 64, Height: 64, Color: common.PixelFormatRGBA8}})
	require.NoError(t, err)

	scene := f.renderer.ScenePass(ScenePassConfig{Name: "offscreen", Graph: f.graph, View: testView(), Target: rendergraph.Named("offscreen_color"), Framebuffer: fb})
	assert.Contains(t, scene.Writes, rendergraph.HandleID(fb))
	assert.NotContains(t, scene.Reads, rendergraph.HandleID(fb))

	g := rendergraph.NewGraph(f.manager)
	// declared first, yet it samples what the scene pass renders
	require.NoError(t, g.DeclarePass(rendergraph.Pass{
		Name:    "post",
		Reads:   []rendergraph.ResourceID{rendergraph.HandleID(fb)},
		Writes:  []rendergraph.ResourceID{rendergraph.Named("color")},
		Execute: func(*rendergraph.PassContext) error { return nil },
	}))
	require.NoError(t, g.DeclarePass(scene))
	require.NoError(t, g.ExecuteFrame(context.Background()))
	assert.Equal(t, []string{"offscreen", "post"}, g.LastOrder())
	assert.Len(t, f.dev.Draws(), 1)
}

func TestBlendedItemsDrawLastBackToFront(t *testing.T) {
	f := newFixture(t)
	glass := func(name string) material.Material {
		return material.NewMaterial(material.WithName(name), material.WithVariant(f.unlit), material.WithAlphaMode(common.AlphaBlend))
	}
	f.node(t, "near", mgl32.Vec3{0, 0, 2}, f.mesh(t, "tri", false), glass("near"))
	f.node(t, "solid", mgl32.Vec3{}, f.mesh(t, "tri", false), material.NewMaterial(material.WithName("solid"), material.WithVariant(f.unlit)))
	f.node(t, "far", mgl32.Vec3{0, 0, -3}, f.mesh(t, "tri", false), glass("far"))
	f.node(t, "cutout", mgl32.Vec3{}, f.mesh(t, "tri", false), material.NewMaterial(
		material.WithName("cutout"),
		material.WithVariant(f.unlit, shader.FeatureAlphaMask),
		material.WithFloat("u_alpha_cutoff", 0.3),
		material.WithAlphaMode(common.AlphaMask),
	))

	names := func(items []DrawItem) []string {
		var out []string
		for _, it := range items {
			out = append(out, it.Node.Name())
		}
		return out
	}
	items := f.renderer.CollectDrawItems(f.graph, nil)
	require.Len(t, items, 4)
	assert.ElementsMatch(t, []string{"solid", "cutout"}, names(items[:2]), "masked items stay in the opaque queue")
	assert.Equal(t, []string{"near", "far"}, names(items[2:]))

	sortBackToFront(items, testView().View)
	assert.Equal(t, []string{"far", "near"}, names(items[2:]))

	require.NoError(t, f.runScenePass(t, ScenePassConfig{Graph: f.graph, View: testView()}))
	assert.Empty(t, f.renderer.Diagnostics())
	var blend []bool
	for _, cmd := range f.dev.Draws() {
		blend = append(blend, cmd.Blend)
	}
	assert.Equal(t, []bool{false, false, true, true}, blend)
}
