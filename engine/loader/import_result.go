package loader

import (
	"encoding/binary"
	"fmt"

	"github.com/Carmen-Shannon/oxy-gles/common"
	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/go-gl/mathgl/mgl32"
)

// Vertex attribute names the importer writes into interleaved vertex buffers. They match
// the inputs of the built-in shader library.
const (
	AttributePosition = "a_position"
	AttributeNormal   = "a_normal"
	AttributeUV       = "a_uv"
	AttributeTangent  = "a_tangent"
)

// ImportResult is the decoded payload of one asset. It is produced without touching the
// GPU or the resource manager and is never mutated after Decode returns, so it may cross
// goroutines freely.
type ImportResult struct {
	// Name identifies the asset: the default scene name or the file name without extension.
	Name string

	Meshes    []ImportedMesh
	Materials []common.ImportedMaterial
	Nodes     []ImportedNode

	// Roots are the indices of the top level nodes, in scene order.
	Roots []int
}

// ImportedMesh is a glTF mesh: a list of primitives drawn with the same transform.
type ImportedMesh struct {
	Name       string
	Primitives []ImportedPrimitive
}

// ImportedPrimitive is one draw worth of interleaved geometry.
type ImportedPrimitive struct {
	Name string

	// Vertices holds interleaved float32 attributes described by Layout.
	Vertices []byte
	Layout   gpu.VertexLayout

	// Indices holds IndexCount little endian indices of IndexType.
	Indices    []byte
	IndexCount int
	IndexType  gpu.IndexType

	// Material indexes ImportResult.Materials, -1 for the default material.
	Material int

	BoundsMin mgl32.Vec3
	BoundsMax mgl32.Vec3

	// HasUV reports whether Layout carries a_uv and a_tangent.
	HasUV bool
}

// ImportedNode is one node of the asset hierarchy.
type ImportedNode struct {
	Name  string
	Local mgl32.Mat4

	// Mesh indexes ImportResult.Meshes, -1 for a pure transform node.
	Mesh     int
	Children []int
}

// VertexCount returns the number of vertices in the primitive.
func (p *ImportedPrimitive) VertexCount() int {
	if p.Layout.Stride == 0 {
		return 0
	}
	return len(p.Vertices) / p.Layout.Stride
}

// validate checks every cross reference and byte range of the result, so that Commit can
// fail before it acquires anything.
func (r *ImportResult) validate() error {
	for mi := range r.Meshes {
		for pi := range r.Meshes[mi].Primitives {
			where := fmt.Sprintf("meshes[%d].primitives[%d]", mi, pi)
			p := &r.Meshes[mi].Primitives[pi]
			if err := p.validate(where); err != nil {
				return err
			}
			if p.Material < -1 || p.Material >= len(r.Materials) {
				return malformed(where, "material %d out of range", p.Material)
			}
		}
	}

	for i, m := range r.Materials {
		if tex := m.DiffuseTexture; tex != nil {
			img := tex.Image
			if img == nil {
				return malformed(fmt.Sprintf("materials[%d]", i), "texture %q is not decoded", tex.Name)
			}
			if img.Width <= 0 || img.Height <= 0 || len(img.Pixels) != img.ByteSize() {
				return malformed(fmt.Sprintf("materials[%d]", i), "texture %q has %d bytes for %dx%d %s", tex.Name, len(img.Pixels), img.Width, img.Height, img.Format)
			}
		}
	}

	for i, n := range r.Nodes {
		where := fmt.Sprintf("nodes[%d]", i)
		if n.Mesh < -1 || n.Mesh >= len(r.Meshes) {
			return malformed(where, "mesh %d out of range", n.Mesh)
		}
		for _, c := range n.Children {
			if c < 0 || c >= len(r.Nodes) {
				return malformed(where, "child %d out of range", c)
			}
		}
	}

	// every node is reachable from at most one place
	seen := make([]bool, len(r.Nodes))
	var visit func(i int) error
	visit = func(i int) error {
		if seen[i] {
			return malformed(fmt.Sprintf("nodes[%d]", i), "node is reachable twice")
		}
		seen[i] = true
		for _, c := range r.Nodes[i].Children {
			if err := visit(c); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range r.Roots {
		if root < 0 || root >= len(r.Nodes) {
			return malformed("roots", "node %d out of range", root)
		}
		if err := visit(root); err != nil {
			return err
		}
	}
	return nil
}

func (p *ImportedPrimitive) validate(where string) error {
	stride := p.Layout.Stride
	if stride <= 0 || len(p.Vertices)%stride != 0 {
		return malformed(where, "%d vertex bytes do not fit stride %d", len(p.Vertices), stride)
	}
	hasPosition := false
	for _, a := range p.Layout.Attributes {
		if a.Offset < 0 || a.Components < 1 || a.Offset+a.Components*4 > stride {
			return malformed(where, "attribute %s exceeds the vertex stride", a.Name)
		}
		if a.Name == AttributePosition && a.Components == 3 {
			hasPosition = true
		}
	}
	if !hasPosition {
		return malformed(where, "layout has no 3 component %s", AttributePosition)
	}

	size := 2
	if p.IndexType == gpu.IndexUint32 {
		size = 4
	}
	if p.IndexCount%3 != 0 || len(p.Indices) != p.IndexCount*size {
		return malformed(where, "%d index bytes for %d indices", len(p.Indices), p.IndexCount)
	}
	vertexCount := p.VertexCount()
	for i := range p.IndexCount {
		var idx uint32
		if size == 2 {
			idx = uint32(binary.LittleEndian.Uint16(p.Indices[2*i:]))
		} else {
			idx = binary.LittleEndian.Uint32(p.Indices[4*i:])
		}
		if int(idx) >= vertexCount {
			return malformed(where, "index %d out of range for %d vertices", idx, vertexCount)
		}
	}
	return nil
}
