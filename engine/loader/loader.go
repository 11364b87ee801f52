package loader

import (
	"errors"
	"fmt"
	"io"

	"github.com/Carmen-Shannon/oxy-gles/common"
	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/Carmen-Shannon/oxy-gles/engine/logger"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
	"github.com/Carmen-Shannon/oxy-gles/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// Material parameter names written by Commit. They match the lit library program.
const (
	ParamBaseColor        = "u_base_color"
	ParamBaseColorTexture = "u_base_color_texture"
	ParamMetallic         = "u_metallic"
	ParamRoughness        = "u_roughness"
	ParamAlphaCutoff      = "u_alpha_cutoff"
)

// importer is the implementation of the Importer interface.
type importer struct {
	manager  resource.Manager
	graph    scene.Graph
	log      *zap.Logger
	backends []loaderBackend
	baseDir  string
	source   *shader.Source

	// noMipmaps samples imported textures from their base level only.
	noMipmaps bool
}

// Importer is the asset import bridge. Decoding is pure and may run on any goroutine;
// Commit and the Import* helpers touch the resource manager and the scene graph and belong
// to the render thread.
type Importer interface {
	// Decode parses a glTF document from a reader without touching the GPU.
	//
	// Parameters:
	//   - r: the reader providing glTF JSON or GLB data
	//   - isGLB: true for GLB data
	//
	// Returns:
	//   - *ImportResult: the decoded asset
	//   - error: a *MalformedAssetError on schema violations
	Decode(r io.Reader, isGLB bool) (*ImportResult, error)

	// DecodeFile parses the asset file at path without touching the GPU. The path is used as
	// is; resolve relative names with Locate on the render thread first.
	//
	// Parameters:
	//   - path: the asset path
	//
	// Returns:
	//   - *ImportResult: the decoded asset
	//   - error: the read error, or a *MalformedAssetError
	DecodeFile(path string) (*ImportResult, error)

	// Commit turns a decoded asset into GPU resources and scene nodes. The asset's nodes are
	// placed under one new node named after the asset, attached to the graph root. Commit is
	// atomic: on failure every reference it acquired is released and the graph is unchanged.
	//
	// Parameters:
	//   - res: the decoded asset
	//
	// Returns:
	//   - *scene.Node: the node holding the asset
	//   - error: a *MalformedAssetError, or the manager error that stopped the commit
	Commit(res *ImportResult) (*scene.Node, error)

	// ImportScene decodes and commits an asset from a reader.
	ImportScene(r io.Reader, isGLB bool) (*scene.Node, error)

	// ImportFile locates, decodes and commits an asset file.
	ImportFile(name string) (*scene.Node, error)

	// Locate resolves an asset name against the manager's search paths.
	Locate(name string) (string, error)

	// Graph returns the scene graph assets are committed into.
	Graph() scene.Graph
}

var _ Importer = &importer{}

// NewImporter creates an import bridge committing into graph through manager.
//
// Parameters:
//   - manager: the resource manager owning every GPU object the imports create
//   - graph: the scene graph receiving imported nodes
//   - options: variadic list of ImporterBuilderOption functions
//
// Returns:
//   - Importer: the import bridge
func NewImporter(manager resource.Manager, graph scene.Graph, options ...ImporterBuilderOption) Importer {
	imp := &importer{
		manager: manager,
		graph:   graph,
		log:     logger.Named("loader"),
	}
	for _, opt := range options {
		opt(imp)
	}
	imp.backends = append(imp.backends, newGLTFLoaderBackend(imp.baseDir))
	return imp
}

func (imp *importer) Graph() scene.Graph {
	return imp.graph
}

func (imp *importer) Locate(name string) (string, error) {
	return imp.manager.LocateFile(name)
}

func (imp *importer) Decode(r io.Reader, isGLB bool) (*ImportResult, error) {
	return imp.backends[0].DecodeReader("", r, isGLB)
}

func (imp *importer) DecodeFile(path string) (*ImportResult, error) {
	b, ok := backendFor(imp.backends, path)
	if !ok {
		return nil, nameAsset(malformed("", "no backend reads this file type"), path)
	}
	return b.Decode(path)
}

func (imp *importer) ImportScene(r io.Reader, isGLB bool) (*scene.Node, error) {
	res, err := imp.Decode(r, isGLB)
	if err != nil {
		return nil, err
	}
	return imp.Commit(res)
}

func (imp *importer) ImportFile(name string) (*scene.Node, error) {
	path, err := imp.Locate(name)
	if err != nil {
		return nil, err
	}
	res, err := imp.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return imp.Commit(res)
}

func (imp *importer) Commit(res *ImportResult) (*scene.Node, error) {
	if res == nil {
		return nil, errors.New("commit of a nil import result")
	}
	if err := res.validate(); err != nil {
		return nil, nameAsset(err, res.Name)
	}

	src, err := imp.materialSource()
	if err != nil {
		return nil, err
	}

	c := &commit{
		importer:  imp,
		res:       res,
		src:       src,
		meshes:    make(map[[2]int]scene.MeshRef),
		textures:  make(map[*common.ImportedTexture]resource.Handle),
		samplers:  make(map[common.SamplerSettings]resource.Handle),
		materials: make(map[materialKey]material.Material),
	}
	top := imp.graph.NewNode(common.Coalesce(res.Name, "asset"))

	err = c.build(top)
	// the commit's own references are dropped on both paths; renderables hold their own
	releaseErr := c.releaseStaging()
	if err != nil {
		if rmErr := imp.graph.Remove(top); rmErr != nil {
			releaseErr = errors.Join(releaseErr, rmErr)
		}
		if releaseErr != nil {
			imp.log.Error("rollback incomplete", zap.String("asset", res.Name), zap.Error(releaseErr))
		}
		return nil, fmt.Errorf("commit %s: %w", res.Name, err)
	}
	if releaseErr != nil {
		imp.log.Warn("staging release failed", zap.String("asset", res.Name), zap.Error(releaseErr))
	}

	if err := imp.graph.AddChild(imp.graph.Root(), top); err != nil {
		_ = imp.graph.Remove(top)
		return nil, err
	}
	imp.log.Info("asset committed",
		zap.String("asset", res.Name),
		zap.Int("nodes", len(res.Nodes)),
		zap.Int("meshes", len(c.meshes)),
		zap.Int("textures", len(c.textures)),
		zap.Int("records", imp.manager.Len()),
	)
	return top, nil
}

func (imp *importer) materialSource() (shader.Source, error) {
	if imp.source != nil {
		return *imp.source, nil
	}
	return shader.LibrarySource(shader.LibraryLit)
}

// materialKey identifies one engine material of a commit: the asset material index and
// whether the primitives drawing with it carry texture coordinates.
type materialKey struct {
	index int
	hasUV bool
}

// commit holds the state of one Commit call. Every map value carries exactly one reference
// owned by the commit itself, released by releaseStaging once renderables hold their own.
type commit struct {
	*importer
	res *ImportResult
	src shader.Source

	meshes    map[[2]int]scene.MeshRef
	textures  map[*common.ImportedTexture]resource.Handle
	samplers  map[common.SamplerSettings]resource.Handle
	materials map[materialKey]material.Material
	acquired  []resource.Handle
}

// build creates the node tree below top. Nodes stay detached from the graph root until the
// whole asset succeeded.
func (c *commit) build(top *scene.Node) error {
	var place func(parent *scene.Node, index int) error
	place = func(parent *scene.Node, index int) error {
		in := &c.res.Nodes[index]
		node := c.graph.NewNode(in.Name)
		if err := c.graph.AddChild(parent, node); err != nil {
			return err
		}
		c.graph.SetLocalTransform(node, in.Local)
		if in.Mesh >= 0 {
			if err := c.attachMesh(node, in.Mesh); err != nil {
				return err
			}
		}
		for _, child := range in.Children {
			if err := place(node, child); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range c.res.Roots {
		if err := place(top, root); err != nil {
			return err
		}
	}
	return nil
}

// attachMesh gives node the renderables of a mesh. Primitives are grouped by material; the
// first group goes on node itself and every further group on a child node.
func (c *commit) attachMesh(node *scene.Node, meshIndex int) error {
	mesh := &c.res.Meshes[meshIndex]

	var order []materialKey
	groups := make(map[materialKey][]int)
	for pi, p := range mesh.Primitives {
		key := materialKey{index: p.Material, hasUV: p.HasUV}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], pi)
	}

	for gi, key := range order {
		target := node
		if gi > 0 {
			target = c.graph.NewNode(fmt.Sprintf("%s#%d", node.Name(), gi))
			if err := c.graph.AddChild(node, target); err != nil {
				return err
			}
		}

		mat, err := c.material(key)
		if err != nil {
			return err
		}

		r := &scene.Renderable{}
		for _, pi := range groups[key] {
			ref, err := c.mesh(meshIndex, pi)
			if err != nil {
				c.releaseRefs(r.Handles())
				return err
			}
			if err := c.retain(ref.Vertex, ref.Index); err != nil {
				c.releaseRefs(r.Handles())
				return err
			}
			r.Meshes = append(r.Meshes, ref)
		}
		mat.Retain()
		r.Material = mat
		if err := c.graph.AttachRenderable(target, r); err != nil {
			c.releaseRefs(r.Handles())
			_ = mat.Release(c.manager)
			return err
		}
	}
	return nil
}

// mesh returns the staged buffers of a primitive, acquiring them on first use.
func (c *commit) mesh(meshIndex, primIndex int) (scene.MeshRef, error) {
	key := [2]int{meshIndex, primIndex}
	if ref, ok := c.meshes[key]; ok {
		return ref, nil
	}

	p := &c.res.Meshes[meshIndex].Primitives[primIndex]
	vb, err := c.acquire(resource.BufferDescriptor{Target: gpu.BufferVertex, Usage: gpu.UsageStatic, Data: p.Vertices})
	if err != nil {
		return scene.MeshRef{}, fmt.Errorf("vertex buffer of %s: %w", p.Name, err)
	}
	ib, err := c.acquire(resource.BufferDescriptor{Target: gpu.BufferIndex, Usage: gpu.UsageStatic, Data: p.Indices})
	if err != nil {
		return scene.MeshRef{}, fmt.Errorf("index buffer of %s: %w", p.Name, err)
	}

	ref := scene.MeshRef{
		Name:       p.Name,
		Vertex:     vb,
		Index:      ib,
		IndexCount: p.IndexCount,
		IndexType:  p.IndexType,
		Layout:     p.Layout,
		BoundsMin:  p.BoundsMin,
		BoundsMax:  p.BoundsMax,
	}
	c.meshes[key] = ref
	return ref, nil
}

// material returns the engine material for a key, creating it on first use. The material's
// creator reference belongs to the commit.
func (c *commit) material(key materialKey) (material.Material, error) {
	if m, ok := c.materials[key]; ok {
		return m, nil
	}

	in := defaultImportedMaterial("default")
	if key.index >= 0 {
		in = c.res.Materials[key.index]
	}

	features := []string{}
	if key.hasUV {
		features = append(features, shader.FeatureUV)
	}
	opts := []material.MaterialBuilderOption{
		material.WithName(in.Name),
		material.WithVec4(ParamBaseColor, mgl32.Vec4(in.BaseColor)),
		material.WithFloat(ParamMetallic, in.Metallic),
		material.WithFloat(ParamRoughness, in.Roughness),
		material.WithDoubleSided(in.DoubleSided),
		material.WithAlphaMode(in.AlphaMode),
	}
	if in.AlphaMode == common.AlphaMask {
		features = append(features, shader.FeatureAlphaMask)
		opts = append(opts, material.WithFloat(ParamAlphaCutoff, in.AlphaCutoff))
	}

	if tex := in.DiffuseTexture; tex != nil && key.hasUV {
		th, sh, err := c.texture(tex)
		if err != nil {
			return nil, fmt.Errorf("material %s: %w", in.Name, err)
		}
		// the material owns one reference to each of its handles
		if err := c.retain(th, sh); err != nil {
			return nil, err
		}
		features = append(features, shader.FeatureBaseColorTexture)
		opts = append(opts, material.WithTexture(ParamBaseColorTexture, th, sh))
	}
	opts = append(opts, material.WithVariant(c.src, features...))

	m := material.NewMaterial(opts...)
	c.materials[key] = m
	return m, nil
}

// texture returns the staged texture and sampler of an imported texture.
func (c *commit) texture(tex *common.ImportedTexture) (resource.Handle, resource.Handle, error) {
	settings := common.DefaultSamplerSettings()
	if tex.Sampler != nil {
		settings = *tex.Sampler
	}
	if c.noMipmaps {
		settings.MinFilter = settings.MinFilter.WithoutMipmaps()
	}

	th, ok := c.textures[tex]
	if !ok {
		var err error
		th, err = c.acquire(resource.TextureFromImage(tex.Image, settings.MinFilter.UsesMipmaps()))
		if err != nil {
			return resource.Handle{}, resource.Handle{}, fmt.Errorf("texture %s: %w", tex.Name, err)
		}
		c.textures[tex] = th
	}

	sh, ok := c.samplers[settings]
	if !ok {
		var err error
		sh, err = c.acquire(resource.SamplerDescriptor{Settings: settings})
		if err != nil {
			return resource.Handle{}, resource.Handle{}, fmt.Errorf("sampler for %s: %w", tex.Name, err)
		}
		c.samplers[settings] = sh
	}
	return th, sh, nil
}

// acquire acquires a descriptor on behalf of the commit.
func (c *commit) acquire(desc resource.Descriptor) (resource.Handle, error) {
	h, err := c.manager.Acquire(desc)
	if err != nil {
		return resource.Handle{}, err
	}
	c.acquired = append(c.acquired, h)
	return h, nil
}

// retain adds one reference per handle, undoing the ones it made if any fails.
func (c *commit) retain(handles ...resource.Handle) error {
	for i, h := range handles {
		if err := c.manager.Retain(h); err != nil {
			c.releaseRefs(handles[:i])
			return err
		}
	}
	return nil
}

func (c *commit) releaseRefs(handles []resource.Handle) {
	for _, h := range handles {
		if err := c.manager.Release(h); err != nil {
			c.log.Warn("release failed", zap.Stringer("handle", h), zap.Error(err))
		}
	}
}

// releaseStaging drops the references the commit itself holds: one per acquire and the
// creator reference of every material.
func (c *commit) releaseStaging() error {
	var errs []error
	for _, m := range c.materials {
		if err := m.Release(c.manager); err != nil {
			errs = append(errs, err)
		}
	}
	for _, h := range c.acquired {
		if err := c.manager.Release(h); err != nil {
			errs = append(errs, err)
		}
	}
	c.acquired = nil
	return errors.Join(errs...)
}
