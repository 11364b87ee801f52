package loader

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// gltfParserImpl is the implementation of the gltfParser interface.
type gltfParserImpl struct {
	baseDir        string
	document       *gltfDocument
	glbBinaryChunk []byte
}

// gltfParser loads a glTF or GLB document and reads its accessors with bounds checking.
// Every schema violation surfaces as a *MalformedAssetError.
type gltfParser interface {
	// Parse loads and parses a glTF/GLB file from the given path. The format is detected from
	// the extension or the GLB magic.
	//
	// Parameters:
	//   - path: path to the glTF or GLB file
	//
	// Returns:
	//   - error: the read error, or a *MalformedAssetError
	Parse(path string) error

	// ParseReader parses a glTF document from a reader. External buffers and images
	// resolve against the parser's base directory.
	//
	// Parameters:
	//   - r: reader containing glTF JSON or GLB data
	//   - isGLB: true if the data is in GLB format
	//
	// Returns:
	//   - error: the read error, or a *MalformedAssetError
	ParseReader(r io.Reader, isGLB bool) error

	// Document returns the parsed document, nil before a successful parse.
	Document() *gltfDocument

	// BaseDir returns the directory relative URIs resolve against.
	BaseDir() string

	// ReadFloats reads an accessor as tightly packed float32 components, converting
	// normalized integer components.
	//
	// Parameters:
	//   - accessorIndex: the index of the accessor
	//   - types: the accepted accessor types
	//
	// Returns:
	//   - []float32: Count * components values
	//   - int: the number of components per element
	//   - error: a *MalformedAssetError
	ReadFloats(accessorIndex int, types ...string) ([]float32, int, error)

	// ReadIndices reads a SCALAR unsigned accessor as uint32 indices.
	//
	// Parameters:
	//   - accessorIndex: the index of the accessor
	//
	// Returns:
	//   - []uint32: the indices
	//   - error: a *MalformedAssetError
	ReadIndices(accessorIndex int) ([]uint32, error)

	// ImageData returns the encoded bytes of an image, or the path of an external image file.
	//
	// Parameters:
	//   - imageIndex: the index of the image
	//
	// Returns:
	//   - []byte: the embedded bytes, nil for external images
	//   - string: the resolved path of an external image
	//   - error: a *MalformedAssetError
	ImageData(imageIndex int) ([]byte, string, error)
}

var _ gltfParser = &gltfParserImpl{}

// newGLTFParser creates a parser resolving relative URIs against baseDir.
func newGLTFParser(baseDir string) gltfParser {
	return &gltfParserImpl{baseDir: baseDir}
}

func (p *gltfParserImpl) Document() *gltfDocument {
	return p.document
}

func (p *gltfParserImpl) BaseDir() string {
	return p.baseDir
}

func (p *gltfParserImpl) Parse(path string) error {
	p.baseDir = filepath.Dir(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".glb" || (len(data) >= 4 && binary.LittleEndian.Uint32(data[:4]) == gltfGLBMagic) {
		return p.parseGLB(data)
	}
	return p.parseGLTF(data)
}

func (p *gltfParserImpl) ParseReader(r io.Reader, isGLB bool) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}

	if isGLB {
		return p.parseGLB(data)
	}
	return p.parseGLTF(data)
}

func (p *gltfParserImpl) parseGLTF(data []byte) error {
	var doc gltfDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return malformedErr("", err, "invalid glTF JSON")
	}
	return p.finish(&doc)
}

// parseGLB parses a GLB container: a 12 byte header followed by a JSON chunk and an
// optional BIN chunk.
func (p *gltfParserImpl) parseGLB(data []byte) error {
	if len(data) < 12 {
		return malformed("", "GLB file too small")
	}

	r := bytes.NewReader(data)

	var header gltfGLBHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return malformedErr("", err, "failed to read GLB header")
	}
	if header.Magic != gltfGLBMagic {
		return malformedErr("", errInvalidGLBMagic, "bad header")
	}
	if header.Version != gltfGLBVersion {
		return malformedErr("", errInvalidGLBVersion, "bad header")
	}

	var jsonData, binData []byte
	for {
		var chunkHeader gltfGLBChunkHeader
		if err := binary.Read(r, binary.LittleEndian, &chunkHeader); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return malformedErr("", err, "failed to read chunk header")
		}
		if int64(chunkHeader.ChunkLength) > int64(r.Len()) {
			return malformed("", "chunk of %d bytes exceeds the file", chunkHeader.ChunkLength)
		}

		chunkData := make([]byte, chunkHeader.ChunkLength)
		if _, err := io.ReadFull(r, chunkData); err != nil {
			return malformedErr("", err, "failed to read chunk data")
		}

		switch chunkHeader.ChunkType {
		case gltfGLBChunkJSON:
			jsonData = chunkData
		case gltfGLBChunkBIN:
			binData = chunkData
		}
	}

	if jsonData == nil {
		return malformedErr("", errMissingJSONChunk, "bad container")
	}
	p.glbBinaryChunk = binData

	var doc gltfDocument
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return malformedErr("", err, "invalid glTF JSON")
	}
	return p.finish(&doc)
}

// finish validates the document header, loads its buffers and checks every cross reference.
func (p *gltfParserImpl) finish(doc *gltfDocument) error {
	if !strings.HasPrefix(doc.Asset.Version, "2.") {
		return malformedErr("asset.version", errInvalidGLTFVersion, "got %q", doc.Asset.Version)
	}
	if len(doc.ExtensionsRequired) > 0 {
		return malformed("extensionsRequired", "unsupported required extensions %v", doc.ExtensionsRequired)
	}
	if err := p.loadBuffers(doc); err != nil {
		return err
	}
	if err := validateDocument(doc); err != nil {
		return err
	}
	p.document = doc
	return nil
}

// loadBuffers loads all buffer data from URIs, data URIs or the GLB binary chunk.
func (p *gltfParserImpl) loadBuffers(doc *gltfDocument) error {
	for i := range doc.Buffers {
		buf := &doc.Buffers[i]
		where := fmt.Sprintf("buffers[%d]", i)

		if buf.URI == "" {
			if i != 0 || p.glbBinaryChunk == nil {
				return malformed(where, "no URI and no GLB binary chunk")
			}
			buf.Data = p.glbBinaryChunk
		} else {
			data, err := p.loadURI(buf.URI)
			if err != nil {
				return malformedErr(where, err, "failed to load %q", truncateURI(buf.URI))
			}
			buf.Data = data
		}

		if len(buf.Data) < buf.ByteLength {
			return malformedErr(where, errBufferSizeMismatch, "%d bytes, byteLength %d", len(buf.Data), buf.ByteLength)
		}
	}
	return nil
}

// loadURI loads bytes from a data URI or a file relative to the base directory.
func (p *gltfParserImpl) loadURI(uri string) ([]byte, error) {
	if strings.HasPrefix(uri, "data:") {
		return decodeDataURI(uri)
	}
	return os.ReadFile(filepath.Join(p.baseDir, filepath.FromSlash(uri)))
}

// decodeDataURI decodes a base64 data URI of the form data:[<mediatype>][;base64],<data>.
func decodeDataURI(uri string) ([]byte, error) {
	header, payload, ok := strings.Cut(uri[len("data:"):], ",")
	if !ok {
		return nil, errInvalidBufferURI
	}
	if !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("unsupported data URI encoding %q: %w", header, errInvalidBufferURI)
	}
	return base64.StdEncoding.DecodeString(payload)
}

func truncateURI(uri string) string {
	if len(uri) > 48 {
		return uri[:48] + "..."
	}
	return uri
}

// validateDocument checks every index reference of the document so extraction can index
// freely afterwards. Accessor contents are checked when read.
func validateDocument(doc *gltfDocument) error {
	inRange := func(i, n int) bool { return i >= 0 && i < n }

	for i, bv := range doc.BufferViews {
		where := fmt.Sprintf("bufferViews[%d]", i)
		if !inRange(bv.Buffer, len(doc.Buffers)) {
			return malformed(where, "buffer %d out of range", bv.Buffer)
		}
		if bv.ByteOffset < 0 || bv.ByteLength < 0 || bv.ByteOffset+bv.ByteLength > len(doc.Buffers[bv.Buffer].Data) {
			return malformedErr(where, errBufferSizeMismatch, "range [%d, %d) exceeds buffer %d", bv.ByteOffset, bv.ByteOffset+bv.ByteLength, bv.Buffer)
		}
	}
	for i, acc := range doc.Accessors {
		if acc.BufferView != nil && !inRange(*acc.BufferView, len(doc.BufferViews)) {
			return malformed(fmt.Sprintf("accessors[%d]", i), "bufferView %d out of range", *acc.BufferView)
		}
	}
	for i, img := range doc.Images {
		if img.BufferView != nil && !inRange(*img.BufferView, len(doc.BufferViews)) {
			return malformed(fmt.Sprintf("images[%d]", i), "bufferView %d out of range", *img.BufferView)
		}
	}
	for i, tex := range doc.Textures {
		where := fmt.Sprintf("textures[%d]", i)
		if tex.Source != nil && !inRange(*tex.Source, len(doc.Images)) {
			return malformed(where, "image %d out of range", *tex.Source)
		}
		if tex.Sampler != nil && !inRange(*tex.Sampler, len(doc.Samplers)) {
			return malformed(where, "sampler %d out of range", *tex.Sampler)
		}
	}
	for i, mat := range doc.Materials {
		if pbr := mat.PbrMetallicRoughness; pbr != nil && pbr.BaseColorTexture != nil && !inRange(pbr.BaseColorTexture.Index, len(doc.Textures)) {
			return malformed(fmt.Sprintf("materials[%d]", i), "texture %d out of range", pbr.BaseColorTexture.Index)
		}
	}
	for mi, mesh := range doc.Meshes {
		for pi, prim := range mesh.Primitives {
			where := fmt.Sprintf("meshes[%d].primitives[%d]", mi, pi)
			for semantic, idx := range prim.Attributes {
				if !inRange(idx, len(doc.Accessors)) {
					return malformed(where, "attribute %s accessor %d out of range", semantic, idx)
				}
			}
			if prim.Indices != nil && !inRange(*prim.Indices, len(doc.Accessors)) {
				return malformed(where, "indices accessor %d out of range", *prim.Indices)
			}
			if prim.Material != nil && !inRange(*prim.Material, len(doc.Materials)) {
				return malformed(where, "material %d out of range", *prim.Material)
			}
		}
	}

	parents := make([]int, len(doc.Nodes))
	for i := range parents {
		parents[i] = -1
	}
	for i, node := range doc.Nodes {
		where := fmt.Sprintf("nodes[%d]", i)
		if node.Mesh != nil && !inRange(*node.Mesh, len(doc.Meshes)) {
			return malformed(where, "mesh %d out of range", *node.Mesh)
		}
		for _, c := range node.Children {
			if !inRange(c, len(doc.Nodes)) {
				return malformed(where, "child %d out of range", c)
			}
			if parents[c] != -1 || c == i {
				return malformed(where, "node %d has more than one parent", c)
			}
			parents[c] = i
		}
	}
	// a parent chain longer than the node count is a cycle
	for i := range doc.Nodes {
		steps := 0
		for n := parents[i]; n != -1; n = parents[n] {
			if steps++; steps > len(doc.Nodes) {
				return malformed(fmt.Sprintf("nodes[%d]", i), "node hierarchy has a cycle")
			}
		}
	}

	if doc.Scene != nil && !inRange(*doc.Scene, len(doc.Scenes)) {
		return malformed("scene", "scene %d out of range", *doc.Scene)
	}
	for si, sc := range doc.Scenes {
		for _, n := range sc.Nodes {
			if !inRange(n, len(doc.Nodes)) {
				return malformed(fmt.Sprintf("scenes[%d]", si), "node %d out of range", n)
			}
		}
	}
	return nil
}

// accessorBytes returns the strided source bytes of an accessor along with its element
// size and stride, after checking that every element lies inside its bufferView.
func (p *gltfParserImpl) accessorBytes(accessorIndex int) (data []byte, elemSize, stride int, err error) {
	where := fmt.Sprintf("accessors[%d]", accessorIndex)
	if p.document == nil {
		return nil, 0, 0, errors.New("no document loaded")
	}
	if accessorIndex < 0 || accessorIndex >= len(p.document.Accessors) {
		return nil, 0, 0, malformed(where, "accessor out of range")
	}

	acc := &p.document.Accessors[accessorIndex]
	if acc.Sparse != nil {
		return nil, 0, 0, malformed(where, "sparse accessors are not supported")
	}
	if acc.BufferView == nil {
		return nil, 0, 0, malformed(where, "accessor has no bufferView")
	}

	componentSize := gltfComponentTypeSize(acc.ComponentType)
	componentCount := gltfAccessorTypeComponentCount(acc.Type)
	if componentSize == 0 || componentCount == 0 {
		return nil, 0, 0, malformed(where, "unknown layout %s/%d", acc.Type, acc.ComponentType)
	}
	if acc.Count < 0 || acc.ByteOffset < 0 {
		return nil, 0, 0, malformed(where, "negative count or offset")
	}

	elemSize = componentSize * componentCount
	bv := &p.document.BufferViews[*acc.BufferView]
	stride = elemSize
	if bv.ByteStride != nil && *bv.ByteStride > 0 {
		stride = *bv.ByteStride
		if stride < elemSize {
			return nil, 0, 0, malformed(where, "byteStride %d smaller than element size %d", stride, elemSize)
		}
	}

	view := p.document.Buffers[bv.Buffer].Data[bv.ByteOffset : bv.ByteOffset+bv.ByteLength]
	if acc.Count == 0 {
		return nil, elemSize, stride, nil
	}
	end := acc.ByteOffset + (acc.Count-1)*stride + elemSize
	if end > len(view) {
		return nil, 0, 0, malformedErr(where, errBufferSizeMismatch, "needs %d bytes, bufferView %d has %d", end, *acc.BufferView, len(view))
	}
	return view[acc.ByteOffset:end], elemSize, stride, nil
}

func (p *gltfParserImpl) ReadFloats(accessorIndex int, types ...string) ([]float32, int, error) {
	data, _, stride, err := p.accessorBytes(accessorIndex)
	if err != nil {
		return nil, 0, err
	}

	acc := &p.document.Accessors[accessorIndex]
	where := fmt.Sprintf("accessors[%d]", accessorIndex)
	if len(types) > 0 && !slices.Contains(types, acc.Type) {
		return nil, 0, malformed(where, "type %s, want one of %v", acc.Type, types)
	}
	if acc.ComponentType != gltfComponentTypeFloat && !acc.Normalized {
		return nil, 0, malformed(where, "component type %d is neither FLOAT nor normalized", acc.ComponentType)
	}

	comps := gltfAccessorTypeComponentCount(acc.Type)
	size := gltfComponentTypeSize(acc.ComponentType)
	out := make([]float32, 0, acc.Count*comps)
	for i := range acc.Count {
		elem := data[i*stride:]
		for c := range comps {
			out = append(out, readComponent(elem[c*size:], acc.ComponentType))
		}
	}
	return out, comps, nil
}

func (p *gltfParserImpl) ReadIndices(accessorIndex int) ([]uint32, error) {
	data, _, stride, err := p.accessorBytes(accessorIndex)
	if err != nil {
		return nil, err
	}

	acc := &p.document.Accessors[accessorIndex]
	where := fmt.Sprintf("accessors[%d]", accessorIndex)
	if acc.Type != gltfAccessorTypeScalar {
		return nil, malformed(where, "index accessor is %s, want SCALAR", acc.Type)
	}

	result := make([]uint32, acc.Count)
	for i := range acc.Count {
		elem := data[i*stride:]
		switch acc.ComponentType {
		case gltfComponentTypeUnsignedByte:
			result[i] = uint32(elem[0])
		case gltfComponentTypeUnsignedShort:
			result[i] = uint32(binary.LittleEndian.Uint16(elem))
		case gltfComponentTypeUnsignedInt:
			result[i] = binary.LittleEndian.Uint32(elem)
		default:
			return nil, malformed(where, "unsupported index component type %d", acc.ComponentType)
		}
	}
	return result, nil
}

func (p *gltfParserImpl) ImageData(imageIndex int) ([]byte, string, error) {
	where := fmt.Sprintf("images[%d]", imageIndex)
	if p.document == nil || imageIndex < 0 || imageIndex >= len(p.document.Images) {
		return nil, "", malformed(where, "image out of range")
	}

	img := &p.document.Images[imageIndex]
	switch {
	case img.BufferView != nil:
		bv := &p.document.BufferViews[*img.BufferView]
		return p.document.Buffers[bv.Buffer].Data[bv.ByteOffset : bv.ByteOffset+bv.ByteLength], "", nil
	case strings.HasPrefix(img.URI, "data:"):
		data, err := decodeDataURI(img.URI)
		if err != nil {
			return nil, "", malformedErr(where, err, "bad data URI")
		}
		return data, "", nil
	case img.URI != "":
		return nil, filepath.Join(p.baseDir, filepath.FromSlash(img.URI)), nil
	}
	return nil, "", malformed(where, "image has neither bufferView nor URI")
}

// readComponent decodes one little endian component, normalizing integer types to
// [0, 1] or [-1, 1].
func readComponent(b []byte, componentType int) float32 {
	switch componentType {
	case gltfComponentTypeFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case gltfComponentTypeUnsignedByte:
		return float32(b[0]) / 255
	case gltfComponentTypeByte:
		return max(float32(int8(b[0]))/127, -1)
	case gltfComponentTypeUnsignedShort:
		return float32(binary.LittleEndian.Uint16(b)) / 65535
	case gltfComponentTypeShort:
		return max(float32(int16(binary.LittleEndian.Uint16(b)))/32767, -1)
	case gltfComponentTypeUnsignedInt:
		return float32(binary.LittleEndian.Uint32(b)) / math.MaxUint32
	}
	return 0
}

// gltfComponentTypeSize returns the byte size of a component type.
func gltfComponentTypeSize(componentType int) int {
	switch componentType {
	case gltfComponentTypeByte, gltfComponentTypeUnsignedByte:
		return 1
	case gltfComponentTypeShort, gltfComponentTypeUnsignedShort:
		return 2
	case gltfComponentTypeUnsignedInt, gltfComponentTypeFloat:
		return 4
	default:
		return 0
	}
}

// gltfAccessorTypeComponentCount returns the number of components for an accessor type.
func gltfAccessorTypeComponentCount(accessorType string) int {
	switch accessorType {
	case gltfAccessorTypeScalar:
		return 1
	case gltfAccessorTypeVec2:
		return 2
	case gltfAccessorTypeVec3:
		return 3
	case gltfAccessorTypeVec4, gltfAccessorTypeMat2:
		return 4
	case gltfAccessorTypeMat3:
		return 9
	case gltfAccessorTypeMat4:
		return 16
	default:
		return 0
	}
}
