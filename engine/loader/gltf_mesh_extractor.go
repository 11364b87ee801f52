package loader

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-gles/common"
	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/go-gl/mathgl/mgl32"
)

// gltfMeshExtractorImpl is the implementation of the gltfMeshExtractor interface.
type gltfMeshExtractorImpl struct {
	parser gltfParser
}

// gltfMeshExtractor converts glTF meshes into interleaved, GPU ready primitives.
type gltfMeshExtractor interface {
	// ExtractMesh extracts every primitive of a glTF mesh.
	//
	// Parameters:
	//   - meshIndex: the index of the mesh in the glTF document
	//
	// Returns:
	//   - ImportedMesh: the mesh and its primitives
	//   - error: a *MalformedAssetError
	ExtractMesh(meshIndex int) (ImportedMesh, error)

	// ExtractAllMeshes extracts every mesh in document order.
	//
	// Returns:
	//   - []ImportedMesh: one entry per glTF mesh
	//   - error: a *MalformedAssetError for the first bad mesh
	ExtractAllMeshes() ([]ImportedMesh, error)
}

var _ gltfMeshExtractor = &gltfMeshExtractorImpl{}

func newGLTFMeshExtractor(parser gltfParser) gltfMeshExtractor {
	return &gltfMeshExtractorImpl{parser: parser}
}

func (e *gltfMeshExtractorImpl) ExtractMesh(meshIndex int) (ImportedMesh, error) {
	doc := e.parser.Document()
	if doc == nil {
		return ImportedMesh{}, fmt.Errorf("no document loaded")
	}
	if meshIndex < 0 || meshIndex >= len(doc.Meshes) {
		return ImportedMesh{}, malformed(fmt.Sprintf("meshes[%d]", meshIndex), "mesh out of range")
	}

	mesh := &doc.Meshes[meshIndex]
	name := common.Coalesce(mesh.Name, fmt.Sprintf("mesh_%d", meshIndex))
	result := ImportedMesh{Name: name, Primitives: make([]ImportedPrimitive, 0, len(mesh.Primitives))}
	for primIdx := range mesh.Primitives {
		prim, err := e.extractPrimitive(&mesh.Primitives[primIdx], fmt.Sprintf("meshes[%d].primitives[%d]", meshIndex, primIdx))
		if err != nil {
			return ImportedMesh{}, err
		}
		prim.Name = name
		if primIdx > 0 {
			prim.Name = fmt.Sprintf("%s_prim%d", name, primIdx)
		}
		result.Primitives = append(result.Primitives, prim)
	}
	return result, nil
}

func (e *gltfMeshExtractorImpl) ExtractAllMeshes() ([]ImportedMesh, error) {
	doc := e.parser.Document()
	if doc == nil {
		return nil, fmt.Errorf("no document loaded")
	}

	meshes := make([]ImportedMesh, 0, len(doc.Meshes))
	for i := range doc.Meshes {
		m, err := e.ExtractMesh(i)
		if err != nil {
			return nil, err
		}
		meshes = append(meshes, m)
	}
	return meshes, nil
}

// extractPrimitive reads the attributes of one triangle primitive, fills in missing normals
// and tangents and interleaves the result.
func (e *gltfMeshExtractorImpl) extractPrimitive(prim *gltfPrimitive, where string) (ImportedPrimitive, error) {
	if prim.Mode != nil && *prim.Mode != gltfPrimitiveModeTriangles {
		return ImportedPrimitive{}, malformed(where, "unsupported primitive mode %d, only triangles are supported", *prim.Mode)
	}

	posAccessor, ok := prim.Attributes["POSITION"]
	if !ok {
		return ImportedPrimitive{}, malformed(where, "primitive has no POSITION attribute")
	}

	positions, err := e.readVec3(posAccessor)
	if err != nil {
		return ImportedPrimitive{}, err
	}
	vertexCount := len(positions)

	var normals []mgl32.Vec3
	if acc, ok := prim.Attributes["NORMAL"]; ok {
		if normals, err = e.readVec3(acc); err != nil {
			return ImportedPrimitive{}, err
		}
		if len(normals) != vertexCount {
			return ImportedPrimitive{}, malformed(where, "NORMAL has %d elements, POSITION has %d", len(normals), vertexCount)
		}
	}

	var uvs []mgl32.Vec2
	if acc, ok := prim.Attributes["TEXCOORD_0"]; ok {
		flat, _, err := e.parser.ReadFloats(acc, gltfAccessorTypeVec2)
		if err != nil {
			return ImportedPrimitive{}, err
		}
		uvs = make([]mgl32.Vec2, len(flat)/2)
		for i := range uvs {
			uvs[i] = mgl32.Vec2{flat[2*i], flat[2*i+1]}
		}
		if len(uvs) != vertexCount {
			return ImportedPrimitive{}, malformed(where, "TEXCOORD_0 has %d elements, POSITION has %d", len(uvs), vertexCount)
		}
	}

	var tangents []mgl32.Vec4
	if acc, ok := prim.Attributes["TANGENT"]; ok && uvs != nil {
		flat, _, err := e.parser.ReadFloats(acc, gltfAccessorTypeVec4)
		if err != nil {
			return ImportedPrimitive{}, err
		}
		tangents = make([]mgl32.Vec4, len(flat)/4)
		for i := range tangents {
			tangents[i] = mgl32.Vec4{flat[4*i], flat[4*i+1], flat[4*i+2], flat[4*i+3]}
		}
		if len(tangents) != vertexCount {
			return ImportedPrimitive{}, malformed(where, "TANGENT has %d elements, POSITION has %d", len(tangents), vertexCount)
		}
	}

	var indices []uint32
	if prim.Indices != nil {
		if indices, err = e.parser.ReadIndices(*prim.Indices); err != nil {
			return ImportedPrimitive{}, err
		}
	} else {
		indices = make([]uint32, vertexCount)
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	if len(indices)%3 != 0 {
		return ImportedPrimitive{}, malformed(where, "%d indices do not form whole triangles", len(indices))
	}
	for _, idx := range indices {
		if int(idx) >= vertexCount {
			return ImportedPrimitive{}, malformed(where, "index %d out of range for %d vertices", idx, vertexCount)
		}
	}

	if normals == nil {
		normals = generateNormals(positions, indices)
	}
	if uvs != nil && tangents == nil {
		tangents = generateTangents(positions, normals, uvs, indices)
	}

	material := -1
	if prim.Material != nil {
		material = *prim.Material
	}

	out := ImportedPrimitive{Material: material, HasUV: uvs != nil}
	out.Layout, out.Vertices = interleave(positions, normals, uvs, tangents)
	out.Indices, out.IndexType = packIndices(indices, vertexCount)
	out.IndexCount = len(indices)
	out.BoundsMin, out.BoundsMax = calculateBoundingBox(positions)
	return out, nil
}

func (e *gltfMeshExtractorImpl) readVec3(accessorIndex int) ([]mgl32.Vec3, error) {
	flat, _, err := e.parser.ReadFloats(accessorIndex, gltfAccessorTypeVec3)
	if err != nil {
		return nil, err
	}
	out := make([]mgl32.Vec3, len(flat)/3)
	for i := range out {
		out[i] = mgl32.Vec3{flat[3*i], flat[3*i+1], flat[3*i+2]}
	}
	return out, nil
}

// interleave packs the attributes as position, normal[, uv, tangent] float32 vertices.
func interleave(positions, normals []mgl32.Vec3, uvs []mgl32.Vec2, tangents []mgl32.Vec4) (gpu.VertexLayout, []byte) {
	layout := gpu.VertexLayout{Attributes: []gpu.VertexAttribute{
		{Name: AttributePosition, Components: 3, Offset: 0},
		{Name: AttributeNormal, Components: 3, Offset: 12},
	}}
	floats := 6
	if uvs != nil {
		layout.Attributes = append(layout.Attributes,
			gpu.VertexAttribute{Name: AttributeUV, Components: 2, Offset: 24},
			gpu.VertexAttribute{Name: AttributeTangent, Components: 4, Offset: 32},
		)
		floats = 12
	}
	layout.Stride = floats * 4

	data := make([]float32, 0, len(positions)*floats)
	for i, p := range positions {
		data = append(data, p[0], p[1], p[2])
		data = append(data, normals[i][0], normals[i][1], normals[i][2])
		if uvs != nil {
			data = append(data, uvs[i][0], uvs[i][1])
			data = append(data, tangents[i][0], tangents[i][1], tangents[i][2], tangents[i][3])
		}
	}
	return layout, common.CopyToBytes(data)
}

// packIndices encodes indices as uint16 when every vertex is addressable with 16 bits.
func packIndices(indices []uint32, vertexCount int) ([]byte, gpu.IndexType) {
	if vertexCount <= math.MaxUint16+1 {
		out := make([]byte, 2*len(indices))
		for i, idx := range indices {
			binary.LittleEndian.PutUint16(out[2*i:], uint16(idx))
		}
		return out, gpu.IndexUint16
	}
	out := make([]byte, 4*len(indices))
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(out[4*i:], idx)
	}
	return out, gpu.IndexUint32
}

func calculateBoundingBox(positions []mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	if len(positions) == 0 {
		return mgl32.Vec3{}, mgl32.Vec3{}
	}
	bmin, bmax := positions[0], positions[0]
	for _, p := range positions[1:] {
		for j := range 3 {
			bmin[j] = min(bmin[j], p[j])
			bmax[j] = max(bmax[j], p[j])
		}
	}
	return bmin, bmax
}

// generateNormals computes smooth per-vertex normals by accumulating area weighted face
// normals. Vertices touched by no triangle get +Y.
func generateNormals(positions []mgl32.Vec3, indices []uint32) []mgl32.Vec3 {
	accum := make([]mgl32.Vec3, len(positions))
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]
		p0 := positions[i0]
		face := positions[i1].Sub(p0).Cross(positions[i2].Sub(p0))
		accum[i0] = accum[i0].Add(face)
		accum[i1] = accum[i1].Add(face)
		accum[i2] = accum[i2].Add(face)
	}
	for i, n := range accum {
		if n.Len() < 1e-6 {
			accum[i] = mgl32.Vec3{0, 1, 0}
			continue
		}
		accum[i] = n.Normalize()
	}
	return accum
}

// generateTangents computes per-vertex tangents from UV gradients, Gram-Schmidt
// orthogonalized against the normal, with handedness in W.
func generateTangents(positions, normals []mgl32.Vec3, uvs []mgl32.Vec2, indices []uint32) []mgl32.Vec4 {
	tan := make([]mgl32.Vec3, len(positions))
	btan := make([]mgl32.Vec3, len(positions))
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]
		edge1 := positions[i1].Sub(positions[i0])
		edge2 := positions[i2].Sub(positions[i0])
		duv1 := uvs[i1].Sub(uvs[i0])
		duv2 := uvs[i2].Sub(uvs[i0])

		det := duv1[0]*duv2[1] - duv1[1]*duv2[0]
		if det == 0 {
			continue
		}
		r := 1 / det
		t := edge1.Mul(duv2[1]).Sub(edge2.Mul(duv1[1])).Mul(r)
		b := edge2.Mul(duv1[0]).Sub(edge1.Mul(duv2[0])).Mul(r)
		for _, idx := range [3]uint32{i0, i1, i2} {
			tan[idx] = tan[idx].Add(t)
			btan[idx] = btan[idx].Add(b)
		}
	}

	out := make([]mgl32.Vec4, len(positions))
	for i, n := range normals {
		t := tan[i].Sub(n.Mul(n.Dot(tan[i])))
		if t.Len() < 1e-6 {
			// any vector perpendicular to the normal
			t = n.Cross(mgl32.Vec3{1, 0, 0})
			if t.Len() < 1e-6 {
				t = n.Cross(mgl32.Vec3{0, 0, 1})
			}
		}
		t = t.Normalize()
		w := float32(1)
		if n.Cross(t).Dot(btan[i]) < 0 {
			w = -1
		}
		out[i] = t.Vec4(w)
	}
	return out
}
