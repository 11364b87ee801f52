package renderer

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/oxy-gles/common"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-gles/engine/rendergraph"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
	"github.com/Carmen-Shannon/oxy-gles/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// ErrNoDrawCompiled is returned by a scene pass when every one of its draws failed shader
// compilation. The frame is dropped.
var ErrNoDrawCompiled = errors.New("no draw of the pass compiled")

// ScenePassConfig describes a pass drawing a scene graph.
type ScenePassConfig struct {
	// Name is the pass name, "scene" when empty.
	Name  string
	Graph scene.Graph
	View  View

	// Target is the resource the pass writes, "color" when empty.
	Target rendergraph.ResourceID

	// Framebuffer is drawn into; the zero handle draws to the default surface. When
	// Transient is set the pass draws into the transient instead.
	Framebuffer resource.Handle
	Transient   *rendergraph.Transient

	// Clear, when set, clears the color target first.
	Clear *[4]float32

	// Reads are extra resources the pass samples, such as a shadow map.
	Reads []rendergraph.ResourceID
}

func (r *renderer) ScenePass(cfg ScenePassConfig) rendergraph.Pass {
	if cfg.Name == "" {
		cfg.Name = "scene"
	}
	if cfg.Target == "" {
		cfg.Target = rendergraph.Named("color")
	}

	p := rendergraph.Pass{
		Name:   cfg.Name,
		Reads:  cfg.Reads,
		Writes: []rendergraph.ResourceID{cfg.Target},
	}
	if cfg.Transient != nil {
		p.Transients = []rendergraph.Transient{*cfg.Transient}
	}
	if !cfg.Framebuffer.IsZero() {
		// passes sampling the framebuffer must run after the scene is drawn into it
		p.Writes = append(p.Writes, rendergraph.HandleID(cfg.Framebuffer))
	}

	// the callback only records; the graph and device are touched when the command is
	// submitted, which is always on the render thread
	p.Execute = func(pc *rendergraph.PassContext) error {
		target := cfg.Framebuffer
		if cfg.Transient != nil {
			h, ok := pc.Transient(cfg.Transient.ID)
			if !ok {
				return fmt.Errorf("transient %s not acquired", cfg.Transient.ID)
			}
			target = h
		}
		pc.Commands.Record(func() error {
			return r.drawScene(pc.Manager(), cfg, target)
		})
		return nil
	}
	return p
}

func (r *renderer) drawScene(manager resource.Manager, cfg ScenePassConfig, target resource.Handle) error {
	var fb uint32
	if !target.IsZero() {
		var err error
		if fb, err = manager.Resolve(target); err != nil {
			return fmt.Errorf("framebuffer: %w", err)
		}
	}
	r.device.BeginPass(fb, cfg.View.Viewport, cfg.Clear)

	var frustum *common.Frustum
	if r.culling {
		f := common.ExtractFrustum(cfg.View.ViewProjection())
		frustum = &f
	}
	items := r.CollectDrawItems(cfg.Graph, frustum)
	sortBackToFront(items, cfg.View.View)

	var compileErr error
	compileFailures := 0
	for _, item := range items {
		reason, err := r.draw(item, cfg.View)
		if err != nil {
			return err
		}
		var ce *shader.CompileError
		if errors.As(reason, &ce) {
			compileFailures++
			if compileErr == nil {
				compileErr = ce
			}
		}
	}
	if len(items) > 0 && compileFailures == len(items) {
		r.log.Error("scene pass lost every draw to shader compilation", zap.String("pass", cfg.Name), zap.Error(compileErr))
		return fmt.Errorf("%w: %w", ErrNoDrawCompiled, compileErr)
	}
	return nil
}

// sortBackToFront orders the trailing transparent items from the farthest to the nearest,
// measured at the center of each mesh's bounds in view space.
func sortBackToFront(items []DrawItem, view mgl32.Mat4) {
	first := slices.IndexFunc(items, func(it DrawItem) bool { return it.transparent })
	if first < 0 {
		return
	}
	depth := func(it DrawItem) float32 {
		center := it.Mesh.BoundsMin.Add(it.Mesh.BoundsMax).Mul(0.5)
		return view.Mul4(it.Model).Mul4x1(center.Vec4(1)).Z()
	}
	slices.SortStableFunc(items[first:], func(a, b DrawItem) int {
		// view space looks down -z, so the farthest item has the smallest z
		return cmp.Compare(depth(a), depth(b))
	})
}
