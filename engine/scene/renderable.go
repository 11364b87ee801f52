package scene

import (
	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
	"github.com/go-gl/mathgl/mgl32"
)

// MeshRef references one indexed mesh primitive held by the resource manager.
type MeshRef struct {
	Name       string
	Vertex     resource.Handle
	Index      resource.Handle
	IndexCount int
	IndexType  gpu.IndexType
	Layout     gpu.VertexLayout

	// BoundsMin and BoundsMax are the object space bounds of the vertex positions.
	BoundsMin mgl32.Vec3
	BoundsMax mgl32.Vec3
}

// Renderable is the drawable component of a node: meshes drawn with one material. A node
// holding a renderable owns one reference to every mesh handle and to the material.
type Renderable struct {
	Meshes   []MeshRef
	Material material.Material
}

// Handles returns every resource handle the renderable's meshes reference.
func (r *Renderable) Handles() []resource.Handle {
	out := make([]resource.Handle, 0, len(r.Meshes)*2)
	for _, m := range r.Meshes {
		out = append(out, m.Vertex, m.Index)
	}
	return out
}

func (r *Renderable) remap(remap resource.Remap) {
	for i := range r.Meshes {
		r.Meshes[i].Vertex = remap.Apply(r.Meshes[i].Vertex)
		r.Meshes[i].Index = remap.Apply(r.Meshes[i].Index)
	}
}
