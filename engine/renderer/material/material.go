package material

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/oxy-gles/common"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
)

// ParamKind classifies the value a material parameter carries.
type ParamKind uint8

const (
	// ParamValue is a float, vector or matrix value.
	ParamValue ParamKind = iota

	// ParamTexture is a texture plus an optional sampler.
	ParamTexture
)

// Param is one named material parameter.
type Param struct {
	Name    string
	Kind    ParamKind
	Value   []float32
	Texture resource.Handle
	Sampler resource.Handle
}

// material is the implementation of the Material interface.
type material struct {
	name        string
	source      shader.Source
	features    []string
	params      []Param
	replaced    []resource.Handle
	doubleSided bool
	alphaMode   common.AlphaMode
	refs        int
}

// Material defines the interface for a render material: the shader source and feature
// flags that select its variant, plus an ordered list of parameters bound to the
// variant's uniform slots at draw time.
//
// A material holds one reference to every texture and sampler it names. Materials are
// shared between renderables and reference counted through Retain and Release; the last
// Release hands the texture references back to the resource manager.
type Material interface {
	// Name retrieves the material identifier.
	//
	// Returns:
	//   - string: the name of the material
	Name() string

	// Source retrieves the shader source the material renders with.
	//
	// Returns:
	//   - shader.Source: the shader source
	Source() shader.Source

	// Features retrieves the normalized feature flags selecting the shader variant.
	//
	// Returns:
	//   - []string: the feature flags
	Features() []string

	// VariantKey retrieves the key of the variant this material renders with.
	//
	// Returns:
	//   - shader.VariantKey: the variant key
	VariantKey() shader.VariantKey

	// Variant compiles or looks up the material's variant in cache.
	//
	// Parameters:
	//   - cache: the shader variant cache
	//
	// Returns:
	//   - *shader.Variant: the variant
	//   - error: a *shader.CompileError if the variant is rejected
	Variant(cache shader.Cache) (*shader.Variant, error)

	// Params retrieves a copy of the parameters in declaration order.
	//
	// Returns:
	//   - []Param: the parameters
	Params() []Param

	// Param retrieves a parameter by name.
	//
	// Parameters:
	//   - name: the parameter name
	//
	// Returns:
	//   - Param: the parameter
	//   - bool: true if the parameter exists
	Param(name string) (Param, bool)

	// SetValue sets or adds a value parameter. Existing parameters keep their position.
	//
	// Parameters:
	//   - name: the uniform name
	//   - value: the float components
	SetValue(name string, value ...float32)

	// DoubleSided reports whether back-face culling is disabled for the material.
	//
	// Returns:
	//   - bool: true for double-sided materials
	DoubleSided() bool

	// AlphaMode reports how the material's alpha is applied. Blended materials draw in the
	// transparent queue.
	//
	// Returns:
	//   - common.AlphaMode: the alpha mode
	AlphaMode() common.AlphaMode

	// Retain adds a reference to the material.
	Retain()

	// Release drops a reference. The last release releases every texture and sampler
	// handle through manager.
	//
	// Parameters:
	//   - manager: the resource manager owning the handles
	//
	// Returns:
	//   - error: a joined error for handles that could not be released
	Release(manager resource.Manager) error

	// RefCount retrieves the number of live references.
	//
	// Returns:
	//   - int: the reference count
	RefCount() int

	// Handles retrieves every texture and sampler handle the material references,
	// including those of texture parameters that were since replaced.
	//
	// Returns:
	//   - []resource.Handle: the handles
	Handles() []resource.Handle

	// RemapHandles rewrites texture and sampler handles after a context rebuild.
	//
	// Parameters:
	//   - remap: the old to new handle mapping returned by RebuildAll
	RemapHandles(remap resource.Remap)
}

var _ Material = &material{}

// NewMaterial creates a new Material instance configured with the provided options. The
// caller holds the first reference.
//
// Parameters:
//   - options: variadic list of MaterialBuilderOption functions to configure the material
//
// Returns:
//   - Material: a new Material instance
func NewMaterial(options ...MaterialBuilderOption) Material {
	m := &material{refs: 1}
	for _, opt := range options {
		opt(m)
	}
	m.features = shader.NormalizeFeatures(m.features)
	return m
}

func (m *material) Name() string {
	return m.name
}

func (m *material) Source() shader.Source {
	return m.source
}

func (m *material) Features() []string {
	return slices.Clone(m.features)
}

func (m *material) VariantKey() shader.VariantKey {
	return shader.KeyFor(m.source, m.features)
}

func (m *material) Variant(cache shader.Cache) (*shader.Variant, error) {
	return cache.Compile(m.source, m.features...)
}

func (m *material) Params() []Param {
	out := make([]Param, len(m.params))
	for i, p := range m.params {
		p.Value = slices.Clone(p.Value)
		out[i] = p
	}
	return out
}

func (m *material) Param(name string) (Param, bool) {
	i := m.index(name)
	if i < 0 {
		return Param{}, false
	}
	return m.params[i], true
}

func (m *material) SetValue(name string, value ...float32) {
	m.set(Param{Name: name, Kind: ParamValue, Value: slices.Clone(value)})
}

func (m *material) DoubleSided() bool {
	return m.doubleSided
}

func (m *material) AlphaMode() common.AlphaMode {
	return m.alphaMode
}

func (m *material) Retain() {
	m.refs++
}

func (m *material) Release(manager resource.Manager) error {
	if m.refs <= 0 {
		return fmt.Errorf("material %q released too many times", m.name)
	}
	m.refs--
	if m.refs > 0 {
		return nil
	}

	var errs []error
	for _, h := range m.Handles() {
		if err := manager.Release(h); err != nil {
			errs = append(errs, fmt.Errorf("material %q: %w", m.name, err))
		}
	}
	for i := range m.params {
		m.params[i].Texture = resource.Handle{}
		m.params[i].Sampler = resource.Handle{}
	}
	m.replaced = nil
	return errors.Join(errs...)
}

func (m *material) RefCount() int {
	return m.refs
}

func (m *material) Handles() []resource.Handle {
	var out []resource.Handle
	for _, p := range m.params {
		if p.Kind != ParamTexture {
			continue
		}
		if !p.Texture.IsZero() {
			out = append(out, p.Texture)
		}
		if !p.Sampler.IsZero() {
			out = append(out, p.Sampler)
		}
	}
	return append(out, m.replaced...)
}

func (m *material) RemapHandles(remap resource.Remap) {
	for i := range m.params {
		m.params[i].Texture = remap.Apply(m.params[i].Texture)
		m.params[i].Sampler = remap.Apply(m.params[i].Sampler)
	}
	for i, h := range m.replaced {
		m.replaced[i] = remap.Apply(h)
	}
}

func (m *material) index(name string) int {
	return slices.IndexFunc(m.params, func(p Param) bool { return p.Name == name })
}

// set replaces a parameter in place or appends it, preserving declaration order. The
// references of a replaced texture parameter are kept until the last Release.
func (m *material) set(p Param) {
	if i := m.index(p.Name); i >= 0 {
		if old := m.params[i]; old.Kind == ParamTexture {
			for _, h := range []resource.Handle{old.Texture, old.Sampler} {
				if !h.IsZero() {
					m.replaced = append(m.replaced, h)
				}
			}
		}
		m.params[i] = p
		return
	}
	m.params = append(m.params, p)
}
