package renderer

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Carmen-Shannon/oxy-gles/common"
	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/Carmen-Shannon/oxy-gles/engine/logger"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-gles/engine/rendergraph"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
	"github.com/Carmen-Shannon/oxy-gles/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// View is the camera state a frame is drawn with.
type View struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
	Viewport   gpu.Viewport

	// Time is the elapsed time in seconds, written to u_time.x.
	Time float32
}

// ViewProjection returns Projection * View.
func (v View) ViewProjection() mgl32.Mat4 {
	return v.Projection.Mul4(v.View)
}

// DrawItem is one mesh of a renderable, ready to draw.
type DrawItem struct {
	Node     *scene.Node
	Mesh     scene.MeshRef
	Material material.Material
	Model    mgl32.Mat4

	key         shader.VariantKey
	transparent bool
}

// Diagnostic records a draw that was skipped and why.
type Diagnostic struct {
	Node     string
	Mesh     string
	Material string
	Err      error
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("draw of %s/%s with %q skipped: %v", d.Node, d.Mesh, d.Material, d.Err)
}

// FrameStats counts the work of the current frame.
type FrameStats struct {
	Collected int
	Culled    int
	Drawn     int
	Skipped   int
	Warnings  int
}

// AttributeMismatchError reports vertex attributes a variant reads that the mesh does not
// provide. The draw is skipped.
type AttributeMismatchError struct {
	Mesh       string
	Variant    shader.VariantKey
	Attributes []string
}

func (e *AttributeMismatchError) Error() string {
	return fmt.Sprintf("mesh %q lacks attributes %s read by variant %s", e.Mesh, strings.Join(e.Attributes, ", "), e.Variant)
}

// renderer is the implementation of the Renderer interface.
type renderer struct {
	device  gpu.Device
	manager resource.Manager
	shaders shader.Cache
	log     *zap.Logger
	culling bool

	stats       FrameStats
	diagnostics []Diagnostic
	warned      map[string]bool
}

// Renderer draws scene graphs through a GL ES device. It turns renderables into draw items,
// binds their materials against compiled shader variants and issues the draws. Failures
// that concern a single draw skip that draw and are recorded as diagnostics; the frame
// continues. The renderer belongs to the render thread.
type Renderer interface {
	// CollectDrawItems walks an active graph and returns one item per renderable mesh.
	// Opaque and masked items come first, ordered by shader variant; items of blended
	// materials follow in scene order. Meshes whose world bounds fall outside frustum are
	// culled; a nil frustum disables culling.
	//
	// Parameters:
	//   - g: the scene graph
	//   - frustum: the view frustum, or nil
	//
	// Returns:
	//   - []DrawItem: the visible draw items
	CollectDrawItems(g scene.Graph, frustum *common.Frustum) []DrawItem

	// Draw compiles the item's variant, binds its material, fills the built-in uniforms and
	// issues the draw. A skipped draw is recorded as a Diagnostic and reported as nil.
	//
	// Parameters:
	//   - item: the draw item
	//   - view: the camera state
	//
	// Returns:
	//   - error: gpu.ErrContextLost when the context is gone, otherwise nil
	Draw(item DrawItem, view View) error

	// ScenePass returns a render graph pass drawing a scene graph.
	//
	// Parameters:
	//   - cfg: the pass configuration
	//
	// Returns:
	//   - rendergraph.Pass: the pass, to be declared on a render graph
	ScenePass(cfg ScenePassConfig) rendergraph.Pass

	// BeginFrame resets the frame statistics.
	BeginFrame()

	// Stats returns the statistics of the current frame.
	Stats() FrameStats

	// Diagnostics returns the diagnostics recorded since the last call and clears them.
	Diagnostics() []Diagnostic

	// Shaders returns the variant cache draws compile through.
	Shaders() shader.Cache
}

var _ Renderer = &renderer{}

// NewRenderer creates a renderer issuing draws on device.
//
// Parameters:
//   - device: the GL ES device
//   - manager: the resource manager resolving handles
//   - shaders: the variant cache materials compile through
//   - options: variadic list of RendererBuilderOption functions
//
// Returns:
//   - Renderer: the renderer
func NewRenderer(device gpu.Device, manager resource.Manager, shaders shader.Cache, options ...RendererBuilderOption) Renderer {
	r := &renderer{
		device:  device,
		manager: manager,
		shaders: shaders,
		log:     logger.Named("renderer"),
		culling: true,
		warned:  make(map[string]bool),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *renderer) Shaders() shader.Cache {
	return r.shaders
}

func (r *renderer) BeginFrame() {
	r.stats = FrameStats{}
}

func (r *renderer) Stats() FrameStats {
	return r.stats
}

func (r *renderer) Diagnostics() []Diagnostic {
	out := r.diagnostics
	r.diagnostics = nil
	return out
}

func (r *renderer) CollectDrawItems(g scene.Graph, frustum *common.Frustum) []DrawItem {
	if !g.Active() {
		return nil
	}

	keys := make(map[material.Material]shader.VariantKey)
	var items []DrawItem
	g.Walk(func(n *scene.Node) bool {
		rend := n.Renderable()
		if rend == nil || rend.Material == nil {
			return true
		}
		model := g.WorldTransform(n)
		key, ok := keys[rend.Material]
		if !ok {
			key = rend.Material.VariantKey()
			keys[rend.Material] = key
		}
		for _, mesh := range rend.Meshes {
			if frustum != nil && mesh.BoundsMin != mesh.BoundsMax {
				lo, hi := common.TransformAABB(model, mesh.BoundsMin, mesh.BoundsMax)
				if !frustum.IntersectsAABB(lo, hi) {
					r.stats.Culled++
					continue
				}
			}
			items = append(items, DrawItem{
				Node:        n,
				Mesh:        mesh,
				Material:    rend.Material,
				Model:       model,
				key:         key,
				transparent: rend.Material.AlphaMode() == common.AlphaBlend,
			})
		}
		return true
	})

	// grouping by variant keeps program switches down; the sort is stable so scene order
	// holds within a variant. Blended items must not be reordered by variant.
	slices.SortStableFunc(items, func(a, b DrawItem) int {
		switch {
		case a.transparent != b.transparent:
			if a.transparent {
				return 1
			}
			return -1
		case a.transparent:
			return 0
		}
		return strings.Compare(string(a.key), string(b.key))
	})
	r.stats.Collected += len(items)
	return items
}

func (r *renderer) Draw(item DrawItem, view View) error {
	_, err := r.draw(item, view)
	return err
}

// draw issues one draw. It returns the reason a skipped draw was skipped, and an error only
// when the whole frame is affected.
func (r *renderer) draw(item DrawItem, view View) (skipped error, err error) {
	if r.device.ContextLost() {
		return nil, gpu.ErrContextLost
	}

	variant, err := item.Material.Variant(r.shaders)
	if err != nil {
		return r.skip(item, err)
	}

	binding, err := material.Bind(item.Material, variant)
	r.warn(item.Material, binding.Warnings)
	if err != nil {
		return r.skip(item, err)
	}

	if missing := missingAttributes(variant, item.Mesh.Layout); len(missing) > 0 {
		return r.skip(item, &AttributeMismatchError{Mesh: item.Mesh.Name, Variant: variant.Key, Attributes: missing})
	}

	cmd, err := r.command(item, binding, view)
	if err != nil {
		return r.skip(item, err)
	}
	if err := r.device.Draw(cmd); err != nil {
		return r.skip(item, err)
	}
	r.stats.Drawn++
	return nil, nil
}

// command resolves every handle of a bound draw into a device command.
func (r *renderer) command(item DrawItem, b material.Binding, view View) (gpu.DrawCommand, error) {
	program, err := r.manager.Resolve(b.Variant.Program)
	if err != nil {
		return gpu.DrawCommand{}, fmt.Errorf("program: %w", err)
	}
	vertices, err := r.manager.Resolve(item.Mesh.Vertex)
	if err != nil {
		return gpu.DrawCommand{}, fmt.Errorf("vertex buffer: %w", err)
	}
	indices, err := r.manager.Resolve(item.Mesh.Index)
	if err != nil {
		return gpu.DrawCommand{}, fmt.Errorf("index buffer: %w", err)
	}

	cmd := gpu.DrawCommand{
		Program:    program,
		Vertices:   vertices,
		Indices:    indices,
		IndexCount: item.Mesh.IndexCount,
		IndexType:  item.Mesh.IndexType,
		Layout:     item.Mesh.Layout,
		CullFace:   !item.Material.DoubleSided(),
		Blend:      item.transparent,
	}
	for _, v := range b.Values {
		cmd.Uniforms = append(cmd.Uniforms, gpu.UniformValue{Location: v.Slot.Location, Type: v.Slot.Type, Floats: v.Values})
	}
	for _, t := range b.Textures {
		tex, err := r.manager.Resolve(t.Texture)
		if err != nil {
			return gpu.DrawCommand{}, fmt.Errorf("texture %s: %w", t.Slot.Name, err)
		}
		var sampler uint32
		if !t.Sampler.IsZero() {
			if sampler, err = r.manager.Resolve(t.Sampler); err != nil {
				return gpu.DrawCommand{}, fmt.Errorf("sampler %s: %w", t.Slot.Name, err)
			}
		}
		cmd.Textures = append(cmd.Textures, gpu.TextureBinding{Unit: t.Unit, Texture: tex, Sampler: sampler})
		cmd.Uniforms = append(cmd.Uniforms, gpu.UniformValue{Location: t.Slot.Location, Type: t.Slot.Type, Int: int32(t.Unit)})
	}
	cmd.Uniforms = append(cmd.Uniforms, builtinUniforms(b.Variant, item.Model, view)...)
	return cmd, nil
}

// builtinUniforms fills the renderer-owned uniforms the variant declares.
func builtinUniforms(v *shader.Variant, model mgl32.Mat4, view View) []gpu.UniformValue {
	var out []gpu.UniformValue
	for _, slot := range v.Bindings.Uniforms {
		var value []float32
		switch slot.Name {
		case shader.BuiltinModel:
			value = model[:]
		case shader.BuiltinView:
			value = view.View[:]
		case shader.BuiltinProj:
			value = view.Projection[:]
		case shader.BuiltinViewProj:
			vp := view.ViewProjection()
			value = vp[:]
		case shader.BuiltinViewport:
			vp := view.Viewport
			value = []float32{float32(vp.X), float32(vp.Y), float32(vp.Width), float32(vp.Height)}
		case shader.BuiltinTime:
			value = []float32{view.Time, 0, 0, 0}
		default:
			continue
		}
		out = append(out, gpu.UniformValue{Location: slot.Location, Type: slot.Type, Floats: value})
	}
	return out
}

func missingAttributes(v *shader.Variant, layout gpu.VertexLayout) []string {
	var missing []string
	for _, a := range v.Bindings.Attributes {
		if !slices.ContainsFunc(layout.Attributes, func(la gpu.VertexAttribute) bool { return la.Name == a.Name }) {
			missing = append(missing, a.Name)
		}
	}
	return missing
}

// skip records a skipped draw. Context loss is the only error that escapes, because it
// concerns every draw of the frame.
func (r *renderer) skip(item DrawItem, err error) (error, error) {
	if errors.Is(err, gpu.ErrContextLost) {
		return nil, err
	}
	d := Diagnostic{Node: item.Node.Name(), Mesh: item.Mesh.Name, Material: item.Material.Name(), Err: err}
	r.diagnostics = append(r.diagnostics, d)
	r.stats.Skipped++
	r.log.Debug("draw skipped", zap.String("node", d.Node), zap.String("mesh", d.Mesh), zap.String("material", d.Material), zap.Error(err))
	return err, nil
}

// warn logs each unbound parameter once per material and parameter name.
func (r *renderer) warn(m material.Material, warnings []material.UnboundParameter) {
	for _, w := range warnings {
		r.stats.Warnings++
		key := m.Name() + "\x00" + w.Param
		if r.warned[key] {
			continue
		}
		r.warned[key] = true
		r.log.Warn("unbound material parameter", zap.String("material", w.Material), zap.String("param", w.Param), zap.String("reason", w.Reason))
	}
}
