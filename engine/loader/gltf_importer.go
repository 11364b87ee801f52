package loader

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/Carmen-Shannon/oxy-gles/common"
	"github.com/go-gl/mathgl/mgl32"
)

// gltfImporterImpl is the implementation of the gltfImporter interface.
type gltfImporterImpl struct {
	baseDir string
}

// gltfImporter runs the parser and every extractor over one glTF document and produces an
// ImportResult. It never touches the GPU and is safe to run on worker goroutines.
type gltfImporter interface {
	// Import loads a glTF/GLB file and extracts meshes, materials and the node hierarchy.
	//
	// Parameters:
	//   - path: the file path to the glTF or GLB file
	//
	// Returns:
	//   - *ImportResult: the decoded asset
	//   - error: the read error, or a *MalformedAssetError
	Import(path string) (*ImportResult, error)

	// ImportReader decodes a glTF document from a reader. Relative URIs resolve against the
	// importer's base directory.
	//
	// Parameters:
	//   - name: the name the result and its errors carry
	//   - r: the reader providing glTF/GLB data
	//   - isGLB: true if the reader provides GLB binary data, false for glTF JSON
	//
	// Returns:
	//   - *ImportResult: the decoded asset
	//   - error: the read error, or a *MalformedAssetError
	ImportReader(name string, r io.Reader, isGLB bool) (*ImportResult, error)
}

var _ gltfImporter = &gltfImporterImpl{}

// newGLTFImporter creates a glTF importer resolving reader-relative URIs against baseDir.
func newGLTFImporter(baseDir string) gltfImporter {
	return &gltfImporterImpl{baseDir: baseDir}
}

func (imp *gltfImporterImpl) Import(path string) (*ImportResult, error) {
	parser := newGLTFParser(filepath.Dir(path))
	if err := parser.Parse(path); err != nil {
		return nil, nameAsset(fmt.Errorf("failed to parse %s: %w", path, err), path)
	}
	res, err := imp.importFromParser(parser, path)
	return res, nameAsset(err, path)
}

func (imp *gltfImporterImpl) ImportReader(name string, r io.Reader, isGLB bool) (*ImportResult, error) {
	parser := newGLTFParser(imp.baseDir)
	if err := parser.ParseReader(r, isGLB); err != nil {
		return nil, nameAsset(fmt.Errorf("failed to parse from reader: %w", err), name)
	}
	res, err := imp.importFromParser(parser, name)
	return res, nameAsset(err, name)
}

// importFromParser extracts an ImportResult from a parser that has already loaded a document.
func (imp *gltfImporterImpl) importFromParser(parser gltfParser, fallbackName string) (*ImportResult, error) {
	doc := parser.Document()
	if doc == nil {
		return nil, fmt.Errorf("no document after parsing")
	}

	meshes, err := newGLTFMeshExtractor(parser).ExtractAllMeshes()
	if err != nil {
		return nil, fmt.Errorf("mesh extraction failed: %w", err)
	}

	materials, err := newGLTFMaterialExtractor(parser).ExtractAllMaterials()
	if err != nil {
		return nil, fmt.Errorf("material extraction failed: %w", err)
	}

	nodes, roots := gltfExtractNodes(doc, meshes)
	return &ImportResult{
		Name:      gltfExtractModelName(doc, fallbackName),
		Meshes:    meshes,
		Materials: materials,
		Nodes:     nodes,
		Roots:     roots,
	}, nil
}

// gltfExtractNodes converts the node hierarchy. Roots are the default scene's nodes, or
// every parentless node when the document has no scenes. A document with meshes but no
// nodes gets one root node per mesh.
func gltfExtractNodes(doc *gltfDocument, meshes []ImportedMesh) ([]ImportedNode, []int) {
	if len(doc.Nodes) == 0 {
		nodes := make([]ImportedNode, len(meshes))
		roots := make([]int, len(meshes))
		for i, m := range meshes {
			nodes[i] = ImportedNode{Name: m.Name, Local: mgl32.Ident4(), Mesh: i}
			roots[i] = i
		}
		return nodes, roots
	}

	nodes := make([]ImportedNode, len(doc.Nodes))
	hasParent := make([]bool, len(doc.Nodes))
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		nodes[i] = ImportedNode{
			Name:     common.Coalesce(n.Name, fmt.Sprintf("node_%d", i)),
			Local:    gltfNodeTransform(n),
			Mesh:     -1,
			Children: append([]int(nil), n.Children...),
		}
		if n.Mesh != nil {
			nodes[i].Mesh = *n.Mesh
		}
		for _, c := range n.Children {
			hasParent[c] = true
		}
	}

	var roots []int
	switch {
	case doc.Scene != nil:
		roots = append(roots, doc.Scenes[*doc.Scene].Nodes...)
	case len(doc.Scenes) > 0:
		roots = append(roots, doc.Scenes[0].Nodes...)
	default:
		for i := range nodes {
			if !hasParent[i] {
				roots = append(roots, i)
			}
		}
	}
	return nodes, roots
}

// gltfNodeTransform returns the node's local matrix, composing TRS when no matrix is given.
func gltfNodeTransform(n *gltfNode) mgl32.Mat4 {
	if n.Matrix != nil {
		return mgl32.Mat4(*n.Matrix)
	}

	t := mgl32.Vec3{}
	r := mgl32.QuatIdent()
	s := mgl32.Vec3{1, 1, 1}
	if n.Translation != nil {
		t = mgl32.Vec3(*n.Translation)
	}
	if n.Rotation != nil {
		// glTF stores quaternions as (x, y, z, w)
		r = mgl32.Quat{W: n.Rotation[3], V: mgl32.Vec3{n.Rotation[0], n.Rotation[1], n.Rotation[2]}}
	}
	if n.Scale != nil {
		s = mgl32.Vec3(*n.Scale)
	}
	return common.ComposeTRS(t, r, s)
}

// gltfExtractModelName derives a model name from the default scene or a fallback.
func gltfExtractModelName(doc *gltfDocument, fallback string) string {
	if doc.Scene != nil {
		if name := doc.Scenes[*doc.Scene].Name; name != "" {
			return name
		}
	}
	if fallback != "" {
		return strings.TrimSuffix(filepath.Base(fallback), filepath.Ext(fallback))
	}
	return "unnamed_model"
}

// nameAsset fills the asset name into a *MalformedAssetError carried by err.
func nameAsset(err error, name string) error {
	var mae *MalformedAssetError
	if errors.As(err, &mae) && mae.Asset == "" {
		mae.Asset = name
	}
	return err
}
