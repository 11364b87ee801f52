package shader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, opts ...CacheBuilderOption) (*gpu.SoftwareDevice, resource.Manager, Cache) {
	t.Helper()
	dev := gpu.NewSoftwareDevice()
	m := resource.NewManager(dev)
	return dev, m, NewCache(m, opts...)
}

func librarySource(t *testing.T, name string) Source {
	t.Helper()
	src, err := LibrarySource(name)
	require.NoError(t, err)
	return src
}

func TestCompileOncePerVariantKey(t *testing.T) {
	dev, _, c := newTestCache(t)
	src := librarySource(t, LibraryUnlit)

	a, err := c.Compile(src, FeatureUV, FeatureBaseColorTexture)
	require.NoError(t, err)
	b, err := c.Compile(src, FeatureBaseColorTexture, FeatureUV, FeatureUV)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, KeyFor(src, []string{FeatureUV, FeatureBaseColorTexture}), a.Key)
	assert.Equal(t, []string{FeatureBaseColorTexture, FeatureUV}, a.Features)
	assert.Equal(t, 1, dev.Creates(gpu.ObjectProgram))

	plain, err := c.Compile(src)
	require.NoError(t, err)
	assert.NotEqual(t, a.Key, plain.Key)
	assert.Equal(t, 2, dev.Creates(gpu.ObjectProgram))

	s := c.Stats()
	assert.Equal(t, 1, s.Hits)
	assert.Equal(t, 2, s.Misses)
	assert.Equal(t, 2, s.Variants)
	assert.Zero(t, s.Failures)
}

func TestVariantBindingTable(t *testing.T) {
	_, _, c := newTestCache(t)
	src := librarySource(t, LibraryUnlit)

	v, err := c.Compile(src, FeatureUV, FeatureBaseColorTexture)
	require.NoError(t, err)

	tex, ok := v.Bindings.Uniform("u_base_color_texture")
	require.True(t, ok)
	assert.True(t, tex.Required)
	assert.Equal(t, gpu.TypeSampler2D, tex.Type)

	color, ok := v.Bindings.Uniform("u_base_color")
	require.True(t, ok)
	assert.False(t, color.Required)
	assert.Equal(t, []float32{1, 1, 1, 1}, color.Default)

	model, ok := v.Bindings.Uniform(BuiltinModel)
	require.True(t, ok)
	assert.False(t, model.Required)

	_, ok = v.Bindings.Attribute("a_uv")
	assert.True(t, ok)

	plain, err := c.Compile(src)
	require.NoError(t, err)
	_, ok = plain.Bindings.Uniform("u_base_color_texture")
	assert.False(t, ok)
	_, ok = plain.Bindings.Attribute("a_uv")
	assert.False(t, ok)
}

func TestLibraryProgramsCompile(t *testing.T) {
	_, _, c := newTestCache(t)
	for _, name := range []string{LibraryUnlit, LibraryLit, LibraryDepth} {
		v, err := c.Compile(librarySource(t, name))
		require.NoError(t, err, name)
		for _, u := range v.Bindings.Uniforms {
			assert.False(t, u.Required, "%s: %s", name, u.Name)
		}
	}

	for _, name := range []string{LibraryUnlit, LibraryLit} {
		v, err := c.Compile(librarySource(t, name), FeatureAlphaMask)
		require.NoError(t, err, name)
		cutoff, ok := v.Bindings.Uniform("u_alpha_cutoff")
		require.True(t, ok, name)
		assert.False(t, cutoff.Required)
		assert.Equal(t, []float32{0.5}, cutoff.Default)
	}

	_, err := LibrarySource("missing")
	assert.Error(t, err)
}

func TestCompileErrorCarriesDiagnosticsAndIsRemembered(t *testing.T) {
	dev, m, c := newTestCache(t)
	src := Source{Name: "broken", Vertex: "void main() {}", Fragment: "#error unsupported path\nvoid main() {}"}

	for range 3 {
		v, err := c.Compile(src)
		assert.Nil(t, v)
		var ce *CompileError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, gpu.StageFragment, ce.Stage)
		assert.Equal(t, "broken", ce.Name)
		require.NotEmpty(t, ce.Diagnostics)
		assert.Contains(t, ce.Diagnostics[0], "unsupported path")
	}

	s := c.Stats()
	assert.Equal(t, 1, s.Misses, "a rejected key is compiled once")
	assert.Equal(t, 2, s.Hits)
	assert.Equal(t, 1, s.Failures)
	assert.Zero(t, s.Variants)
	assert.Zero(t, m.Len())
	assert.Zero(t, dev.Creates(gpu.ObjectProgram))

	key := KeyFor(src, nil)
	require.NoError(t, c.Release(key))
	_, err := c.Compile(src)
	assert.Error(t, err)
	assert.Equal(t, 2, c.Stats().Misses, "release forgets the rejection")

	c.Clear()
	_, err = c.Compile(src)
	assert.Error(t, err)
	assert.Equal(t, 3, c.Stats().Misses)

	src.Fragment = "void main() {}"
	_, err = c.Compile(src)
	assert.NoError(t, err, "a corrected source has its own key")
}

func TestDriverRejectionIsRemembered(t *testing.T) {
	dev, _, c := newTestCache(t)
	src := Source{Name: "typo", Vertex: "void main() {}", Fragment: "void mian() {}"}

	_, err := c.Compile(src)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	creates := dev.Creates(gpu.ObjectProgram)

	_, err = c.Compile(src)
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, creates, dev.Creates(gpu.ObjectProgram))
	assert.Equal(t, 1, c.Stats().Failures)
}

func TestPreProcessFailureIsCompileError(t *testing.T) {
	_, _, c := newTestCache(t, WithInclude("loop.glsl", `#include "loop.glsl"`))

	_, err := c.Compile(Source{Name: "loop", Vertex: "#include \"loop.glsl\"\nvoid main() {}", Fragment: "void main() {}"})
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, gpu.StageVertex, ce.Stage)
	assert.Contains(t, ce.Diagnostics[0], "include depth")

	_, err = c.Compile(Source{Name: "missing", Vertex: "void main() {}", Fragment: "#include \"nowhere.glsl\"\nvoid main() {}"})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, gpu.StageFragment, ce.Stage)
}

func TestIncludesResolveThroughSearchPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.glsl"), []byte("uniform float u_extra;\n"), 0o644))

	dev := gpu.NewSoftwareDevice()
	m := resource.NewManager(dev, resource.WithSearchPaths(dir))
	c := NewCache(m, WithInclude("inline.glsl", "uniform vec4 u_inline;"))

	v, err := c.Compile(Source{
		Name:     "includes",
		Vertex:   "void main() {}",
		Fragment: "#include \"extra.glsl\"\n#include \"inline.glsl\"\n#include \"common.glsl\"\nvoid main() {}",
	})
	require.NoError(t, err)

	extra, ok := v.Bindings.Uniform("u_extra")
	require.True(t, ok)
	assert.True(t, extra.Required)
	_, ok = v.Bindings.Uniform("u_inline")
	assert.True(t, ok)
}

func TestRemapHandlesAfterContextLoss(t *testing.T) {
	dev, m, c := newTestCache(t)
	v, err := c.Compile(librarySource(t, LibraryLit), FeatureUV)
	require.NoError(t, err)
	old := v.Program

	dev.LoseContext()
	m.InvalidateAll()
	dev.RestoreContext()
	remap, err := m.RebuildAll()
	require.NoError(t, err)

	require.NoError(t, c.RemapHandles(remap))
	assert.Equal(t, remap.Apply(old), v.Program)
	assert.NotEqual(t, old, v.Program)
	_, err = m.Resolve(v.Program)
	assert.NoError(t, err)
	_, ok := v.Bindings.Attribute("a_uv")
	assert.True(t, ok)
}

func TestReleaseAndClear(t *testing.T) {
	dev, m, c := newTestCache(t)
	src := librarySource(t, LibraryUnlit)

	a, err := c.Compile(src)
	require.NoError(t, err)
	_, err = c.Compile(src, FeatureUV)
	require.NoError(t, err)

	require.NoError(t, c.Release(a.Key))
	_, ok := c.Lookup(a.Key)
	assert.False(t, ok)
	assert.Equal(t, 1, dev.Deletes(gpu.ObjectProgram))
	assert.NoError(t, c.Release(a.Key))

	c.Clear()
	assert.Empty(t, c.Variants())
	assert.Equal(t, 2, dev.Deletes(gpu.ObjectProgram))
	assert.Zero(t, m.Len())
}
