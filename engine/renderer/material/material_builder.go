package material

import (
	"github.com/Carmen-Shannon/oxy-gles/common"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
	"github.com/go-gl/mathgl/mgl32"
)

// MaterialBuilderOption is a function that configures a material instance during construction.
type MaterialBuilderOption func(*material)

// WithName is an option builder that sets the name of the material.
//
// Parameters:
//   - name: the identifier for the material
//
// Returns:
//   - MaterialBuilderOption: a function that applies the name option to a material
func WithName(name string) MaterialBuilderOption {
	return func(m *material) {
		m.name = name
	}
}

// WithVariant is an option builder that selects the shader source and feature flags.
//
// Parameters:
//   - src: the shader source
//   - features: feature flags, NAME or NAME=VALUE
//
// Returns:
//   - MaterialBuilderOption: a function that applies the variant option to a material
func WithVariant(src shader.Source, features ...string) MaterialBuilderOption {
	return func(m *material) {
		m.source = src
		m.features = append(m.features, features...)
	}
}

// WithFeature is an option builder that adds feature flags to the material's variant.
//
// Parameters:
//   - features: feature flags, NAME or NAME=VALUE
//
// Returns:
//   - MaterialBuilderOption: a function that applies the feature option to a material
func WithFeature(features ...string) MaterialBuilderOption {
	return func(m *material) {
		m.features = append(m.features, features...)
	}
}

// WithFloat is an option builder that sets a float parameter.
//
// Parameters:
//   - name: the uniform name
//   - v: the value
//
// Returns:
//   - MaterialBuilderOption: a function that applies the parameter to a material
func WithFloat(name string, v float32) MaterialBuilderOption {
	return func(m *material) {
		m.set(Param{Name: name, Kind: ParamValue, Value: []float32{v}})
	}
}

// WithVec3 is an option builder that sets a vec3 parameter.
func WithVec3(name string, v mgl32.Vec3) MaterialBuilderOption {
	return func(m *material) {
		m.set(Param{Name: name, Kind: ParamValue, Value: v[:]})
	}
}

// WithVec4 is an option builder that sets a vec4 parameter.
func WithVec4(name string, v mgl32.Vec4) MaterialBuilderOption {
	return func(m *material) {
		m.set(Param{Name: name, Kind: ParamValue, Value: v[:]})
	}
}

// WithMat4 is an option builder that sets a mat4 parameter, column major.
func WithMat4(name string, v mgl32.Mat4) MaterialBuilderOption {
	return func(m *material) {
		m.set(Param{Name: name, Kind: ParamValue, Value: v[:]})
	}
}

// WithTexture is an option builder that binds a texture and sampler to a sampler uniform.
// The material takes ownership of one reference to each handle.
//
// Parameters:
//   - name: the sampler uniform name
//   - texture: the texture handle
//   - sampler: the sampler handle, or the zero handle for the texture's own state
//
// Returns:
//   - MaterialBuilderOption: a function that applies the texture to a material
func WithTexture(name string, texture, sampler resource.Handle) MaterialBuilderOption {
	return func(m *material) {
		m.set(Param{Name: name, Kind: ParamTexture, Texture: texture, Sampler: sampler})
	}
}

// WithDoubleSided is an option builder that disables back-face culling for the material.
func WithDoubleSided(doubleSided bool) MaterialBuilderOption {
	return func(m *material) {
		m.doubleSided = doubleSided
	}
}

// WithAlphaMode is an option builder that sets how the material's alpha is applied. The
// shader side of a mask, such as a cutoff feature flag, is configured separately.
func WithAlphaMode(mode common.AlphaMode) MaterialBuilderOption {
	return func(m *material) {
		m.alphaMode = mode
	}
}
