// package common contains common types that are used throughout this engine. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

// PixelFormat identifies the layout of a pixel buffer handed to the GPU.
type PixelFormat uint8

const (
	// PixelFormatRGBA8 is 8 bits per channel, linear RGBA.
	PixelFormatRGBA8 PixelFormat = iota

	// PixelFormatSRGBA8 is 8 bits per channel RGBA with sRGB encoded color channels.
	PixelFormatSRGBA8

	// PixelFormatRGB8 is 8 bits per channel, linear RGB.
	PixelFormatRGB8

	// PixelFormatR8 is a single 8 bit channel, used for masks and grayscale vision inputs.
	PixelFormatR8

	// PixelFormatDepth24 is a 24 bit depth attachment format.
	PixelFormatDepth24

	// PixelFormatDepth24Stencil8 is a packed depth/stencil attachment format.
	PixelFormatDepth24Stencil8
)

// BytesPerPixel returns the size in bytes of a single pixel of the format.
//
// Returns:
//   - int: bytes per pixel
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatRGB8:
		return 3
	case PixelFormatR8:
		return 1
	default:
		return 4
	}
}

// IsDepth reports whether the format is a depth or depth/stencil format.
func (f PixelFormat) IsDepth() bool {
	return f == PixelFormatDepth24 || f == PixelFormatDepth24Stencil8
}

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGBA8:
		return "rgba8"
	case PixelFormatSRGBA8:
		return "srgba8"
	case PixelFormatRGB8:
		return "rgb8"
	case PixelFormatR8:
		return "r8"
	case PixelFormatDepth24:
		return "depth24"
	case PixelFormatDepth24Stencil8:
		return "depth24stencil8"
	}
	return "unknown"
}

// FilterMode mirrors the GL ES texture filtering enums.
type FilterMode uint8

const (
	FilterLinear FilterMode = iota
	FilterNearest
	FilterNearestMipmapNearest
	FilterLinearMipmapNearest
	FilterNearestMipmapLinear
	FilterLinearMipmapLinear
)

// UsesMipmaps reports whether the filter samples from the mip chain.
func (f FilterMode) UsesMipmaps() bool {
	return f >= FilterNearestMipmapNearest
}

// WithoutMipmaps returns the filter sampling only the base level.
func (f FilterMode) WithoutMipmaps() FilterMode {
	switch f {
	case FilterNearestMipmapNearest, FilterNearestMipmapLinear:
		return FilterNearest
	case FilterLinearMipmapNearest, FilterLinearMipmapLinear:
		return FilterLinear
	default:
		return f
	}
}

// WrapMode mirrors the GL ES texture wrap enums.
type WrapMode uint8

const (
	WrapRepeat WrapMode = iota
	WrapClampToEdge
	WrapMirroredRepeat
)

// SamplerSettings holds the configuration for a sampler object pending GPU creation.
type SamplerSettings struct {
	// MinFilter and MagFilter specify the filtering mode for minification and magnification.
	MinFilter, MagFilter FilterMode
	// WrapS and WrapT specify the addressing mode for texture coordinates outside the [0, 1] range.
	WrapS, WrapT WrapMode
}

// DefaultSamplerSettings returns the linear/repeat sampler used when an asset does not specify one.
//
// Returns:
//   - SamplerSettings: trilinear filtering with repeat wrapping
func DefaultSamplerSettings() SamplerSettings {
	return SamplerSettings{
		MinFilter: FilterLinearMipmapLinear,
		MagFilter: FilterLinear,
		WrapS:     WrapRepeat,
		WrapT:     WrapRepeat,
	}
}

// AlphaMode selects how a material's alpha channel is interpreted.
type AlphaMode uint8

const (
	// AlphaOpaque ignores alpha; the surface is fully opaque.
	AlphaOpaque AlphaMode = iota

	// AlphaMask discards fragments whose alpha is below the material's cutoff.
	AlphaMask

	// AlphaBlend blends the surface over what is behind it. Such surfaces draw after
	// opaque ones, back to front, without writing depth.
	AlphaBlend
)

// DefaultAlphaCutoff is the mask threshold used when an asset does not give one.
const DefaultAlphaCutoff float32 = 0.5

// String returns the glTF spelling of the mode.
func (m AlphaMode) String() string {
	switch m {
	case AlphaMask:
		return "MASK"
	case AlphaBlend:
		return "BLEND"
	default:
		return "OPAQUE"
	}
}

// ImportedMaterial represents material properties from an imported model file.
type ImportedMaterial struct {
	// Name is the material identifier.
	Name string

	// BaseColor is the albedo/diffuse color (RGBA).
	BaseColor [4]float32

	// Metallic factor (0.0 = dielectric, 1.0 = metal).
	Metallic float32

	// Roughness factor (0.0 = smooth, 1.0 = rough).
	Roughness float32

	// DoubleSided disables back face culling for this material.
	DoubleSided bool

	// AlphaMode selects opaque, masked or blended rendering.
	AlphaMode AlphaMode

	// AlphaCutoff is the mask threshold, used only with AlphaMask.
	AlphaCutoff float32

	// DiffuseTexture holds the base color texture (if present). Materials referencing the
	// same glTF texture share one *ImportedTexture.
	DiffuseTexture *ImportedTexture
}

// ImportedTexture represents texture data extracted from a model file.
// For embedded textures (GLB, data URIs), the Data field contains raw image bytes.
// For external textures, the Path field contains the file path.
type ImportedTexture struct {
	// Name is an identifier for this texture (e.g., "diffuse", "normal").
	Name string

	// Path is the file path for external textures (empty for embedded).
	Path string

	// Data contains raw encoded image bytes.
	Data []byte

	// MimeType indicates the image format (e.g., "image/png", "image/jpeg").
	MimeType string

	// SRGB marks color textures whose texels are sRGB encoded.
	SRGB bool

	// Sampler holds sampler parameters extracted from the model file.
	// When nil, DefaultSamplerSettings applies.
	Sampler *SamplerSettings

	// Image is populated by Decode.
	Image *DecodedImage
}
