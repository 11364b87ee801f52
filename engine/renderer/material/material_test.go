package material

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-gles/common"
	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	dev     *gpu.SoftwareDevice
	manager resource.Manager
	cache   shader.Cache
	unlit   shader.Source
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dev := gpu.NewSoftwareDevice()
	m := resource.NewManager(dev)
	src, err := shader.LibrarySource(shader.LibraryUnlit)
	require.NoError(t, err)
	return fixture{dev: dev, manager: m, cache: shader.NewCache(m), unlit: src}
}

func (f fixture) texture(t *testing.T) (resource.Handle, resource.Handle) {
	t.Helper()
	tex, err := f.manager.Acquire(resource.TextureDescriptor{Width: 1, Height: 1, Format: common.PixelFormatRGBA8, Pixels: []byte{255, 0, 0, 255}})
	require.NoError(t, err)
	smp, err := f.manager.Acquire(resource.SamplerDescriptor{Settings: common.DefaultSamplerSettings()})
	require.NoError(t, err)
	return tex, smp
}

func TestParamsKeepDeclarationOrder(t *testing.T) {
	m := NewMaterial(
		WithName("ordered"),
		WithFloat("u_b", 1),
		WithVec4("u_a", mgl32.Vec4{1, 2, 3, 4}),
		WithFloat("u_c", 3),
		WithFloat("u_b", 2),
	)
	m.SetValue("u_d", 4)

	var names []string
	for _, p := range m.Params() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"u_b", "u_a", "u_c", "u_d"}, names)

	p, ok := m.Param("u_b")
	require.True(t, ok)
	assert.Equal(t, []float32{2}, p.Value)
}

func TestBindMatchesSlotsAndWarnsOnUnbound(t *testing.T) {
	f := newFixture(t)
	tex, smp := f.texture(t)
	m := NewMaterial(
		WithName("crate"),
		WithVariant(f.unlit, shader.FeatureUV, shader.FeatureBaseColorTexture),
		WithVec4("u_base_color", mgl32.Vec4{0.5, 0.5, 0.5, 1}),
		WithTexture("u_base_color_texture", tex, smp),
		WithFloat("u_glossiness", 0.3),
		WithVec3("u_model", mgl32.Vec3{}),
	)

	v, err := m.Variant(f.cache)
	require.NoError(t, err)
	assert.Equal(t, v.Key, m.VariantKey())

	b, err := Bind(m, v)
	require.NoError(t, err)
	require.Len(t, b.Warnings, 2)
	assert.Equal(t, "u_glossiness", b.Warnings[0].Param)
	assert.Equal(t, "u_model", b.Warnings[1].Param)

	require.Len(t, b.Values, 1)
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 1}, b.Values[0].Values)
	assert.False(t, b.Values[0].Default)

	require.Len(t, b.Textures, 1)
	assert.Equal(t, tex, b.Textures[0].Texture)
	assert.Equal(t, smp, b.Textures[0].Sampler)
	assert.Equal(t, 0, b.Textures[0].Unit)
}

func TestBindMissingRequiredSlot(t *testing.T) {
	f := newFixture(t)
	m := NewMaterial(WithName("untextured"), WithVariant(f.unlit, shader.FeatureUV, shader.FeatureBaseColorTexture))
	v, err := m.Variant(f.cache)
	require.NoError(t, err)

	_, err = Bind(m, v)
	var mb *MissingBindingError
	require.ErrorAs(t, err, &mb)
	assert.Equal(t, []string{"u_base_color_texture"}, mb.Slots)
	assert.Equal(t, v.Key, mb.Variant)
}

func TestBindFillsOptionalDefaults(t *testing.T) {
	f := newFixture(t)
	m := NewMaterial(WithName("plain"), WithVariant(f.unlit))
	v, err := m.Variant(f.cache)
	require.NoError(t, err)

	b, err := Bind(m, v)
	require.NoError(t, err)
	assert.Empty(t, b.Warnings)
	require.Len(t, b.Values, 1)
	assert.Equal(t, "u_base_color", b.Values[0].Slot.Name)
	assert.Equal(t, []float32{1, 1, 1, 1}, b.Values[0].Values)
	assert.True(t, b.Values[0].Default)

	lit, err := shader.LibrarySource(shader.LibraryLit)
	require.NoError(t, err)
	lv, err := f.cache.Compile(lit)
	require.NoError(t, err)
	b, err = Bind(NewMaterial(WithName("lit")), lv)
	require.NoError(t, err)
	for _, bv := range b.Values {
		if bv.Slot.Name == "u_light_dir" {
			assert.Equal(t, []float32{0, -1, 0}, bv.Values)
		}
	}
}

func TestBindWarnsOnShapeMismatch(t *testing.T) {
	f := newFixture(t)
	tex, smp := f.texture(t)
	m := NewMaterial(
		WithName("mismatch"),
		WithVariant(f.unlit),
		WithFloat("u_base_color", 1),
	)
	v, err := m.Variant(f.cache)
	require.NoError(t, err)

	b, err := Bind(m, v)
	require.NoError(t, err)
	require.Len(t, b.Warnings, 1)
	assert.Contains(t, b.Warnings[0].Reason, "components")
	// the mismatched parameter leaves the optional slot to its default
	require.Len(t, b.Values, 1)
	assert.True(t, b.Values[0].Default)

	m2 := NewMaterial(WithName("tex-on-vec"), WithVariant(f.unlit), WithTexture("u_base_color", tex, smp))
	b, err = Bind(m2, v)
	require.NoError(t, err)
	require.Len(t, b.Warnings, 1)
	assert.Contains(t, b.Warnings[0].String(), "non-sampler")
}

func TestReleaseReturnsHandlesOnLastReference(t *testing.T) {
	f := newFixture(t)
	tex, smp := f.texture(t)
	m := NewMaterial(WithName("shared"), WithTexture("u_base_color_texture", tex, smp))
	assert.Equal(t, []resource.Handle{tex, smp}, m.Handles())

	m.Retain()
	require.NoError(t, m.Release(f.manager))
	assert.Equal(t, 1, f.manager.RefCount(tex))

	require.NoError(t, m.Release(f.manager))
	assert.Zero(t, f.manager.Len())
	assert.Empty(t, m.Handles())
	assert.Error(t, m.Release(f.manager))
}

func TestReplacedTextureReferencesAreReleased(t *testing.T) {
	f := newFixture(t)
	tex, smp := f.texture(t)
	again, againSmp := f.texture(t)
	other, err := f.manager.Acquire(resource.TextureDescriptor{Width: 1, Height: 1, Format: common.PixelFormatRGBA8, Pixels: []byte{0, 0, 255, 255}})
	require.NoError(t, err)
	require.Equal(t, tex, again, "identical textures deduplicate")
	require.Equal(t, 2, f.manager.RefCount(tex))

	m := NewMaterial(
		WithName("replaced"),
		WithTexture("u_base_color_texture", tex, smp),
		WithTexture("u_base_color_texture", again, againSmp),
		WithTexture("u_emissive_texture", other, resource.Handle{}),
	)
	m.SetValue("u_emissive_texture", 1)

	p, ok := m.Param("u_base_color_texture")
	require.True(t, ok)
	assert.Equal(t, again, p.Texture)
	assert.Len(t, m.Handles(), 5, "replaced references stay owned")

	require.NoError(t, m.Release(f.manager))
	assert.Zero(t, f.manager.Len())
	assert.Zero(t, f.dev.Live(gpu.ObjectTexture))
	assert.Zero(t, f.dev.Live(gpu.ObjectSampler))
}

func TestRemapHandles(t *testing.T) {
	f := newFixture(t)
	tex, smp := f.texture(t)
	m := NewMaterial(WithName("remapped"), WithTexture("u_base_color_texture", tex, smp))

	f.dev.LoseContext()
	f.manager.InvalidateAll()
	f.dev.RestoreContext()
	remap, err := f.manager.RebuildAll()
	require.NoError(t, err)

	m.RemapHandles(remap)
	p, ok := m.Param("u_base_color_texture")
	require.True(t, ok)
	assert.Equal(t, remap.Apply(tex), p.Texture)
	assert.Equal(t, remap.Apply(smp), p.Sampler)
	_, err = f.manager.Resolve(p.Texture)
	assert.NoError(t, err)
}
