package gpu

import (
	"github.com/Carmen-Shannon/oxy-gles/common"
)

// ObjectKind identifies the class of a GPU object.
type ObjectKind uint8

const (
	ObjectBuffer ObjectKind = iota
	ObjectTexture
	ObjectSampler
	ObjectProgram
	ObjectFramebuffer
)

// ObjectKinds lists every kind in declaration order.
var ObjectKinds = [...]ObjectKind{ObjectBuffer, ObjectTexture, ObjectSampler, ObjectProgram, ObjectFramebuffer}

func (k ObjectKind) String() string {
	switch k {
	case ObjectBuffer:
		return "buffer"
	case ObjectTexture:
		return "texture"
	case ObjectSampler:
		return "sampler"
	case ObjectProgram:
		return "program"
	case ObjectFramebuffer:
		return "framebuffer"
	}
	return "unknown"
}

// BufferTarget is the binding point a buffer is created for.
type BufferTarget uint8

const (
	BufferVertex BufferTarget = iota
	BufferIndex
	BufferUniform
)

// BufferUsage is the GL ES usage hint for buffer storage.
type BufferUsage uint8

const (
	UsageStatic BufferUsage = iota
	UsageDynamic
	UsageStream
)

// TextureSpec describes a 2D texture and its initial contents.
type TextureSpec struct {
	Width  int
	Height int
	Format common.PixelFormat

	// Levels holds the pixel data per mip level, level 0 first. A nil Levels allocates
	// uninitialized storage, as render targets do.
	Levels [][]byte

	// GenerateMipmaps asks the driver to build the chain from level 0 when only one level is supplied.
	GenerateMipmaps bool
}

// FramebufferSpec describes an offscreen render target with a color and optional depth attachment.
type FramebufferSpec struct {
	Width  int
	Height int
	Color  common.PixelFormat

	// Depth adds a depth renderbuffer of DepthFormat.
	Depth       bool
	DepthFormat common.PixelFormat

	// DepthOnly omits the color attachment, as used by shadow map passes.
	DepthOnly bool
}

// Stage names the shader stage a compile diagnostic belongs to.
type Stage uint8

const (
	StageVertex Stage = iota
	StageFragment
	StageLink
)

func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	case StageLink:
		return "link"
	}
	return "unknown"
}

// DataType is a GLSL ES uniform or attribute type.
type DataType uint8

const (
	TypeFloat DataType = iota
	TypeVec2
	TypeVec3
	TypeVec4
	TypeInt
	TypeMat3
	TypeMat4
	TypeSampler2D
	TypeSamplerCube
)

// IsSampler reports whether values of the type are texture units.
func (t DataType) IsSampler() bool {
	return t == TypeSampler2D || t == TypeSamplerCube
}

// Components returns the number of float components a value of the type occupies.
func (t DataType) Components() int {
	switch t {
	case TypeVec2:
		return 2
	case TypeVec3:
		return 3
	case TypeVec4:
		return 4
	case TypeMat3:
		return 9
	case TypeMat4:
		return 16
	default:
		return 1
	}
}

// Slot is one active uniform or attribute of a linked program.
type Slot struct {
	Name     string
	Type     DataType
	Size     int
	Location int32
}

// ProgramInfo is the reflection data of a linked program.
type ProgramInfo struct {
	Uniforms   []Slot
	Attributes []Slot
}

// VertexAttribute places a named attribute inside an interleaved vertex buffer.
type VertexAttribute struct {
	Name       string
	Components int
	Offset     int
}

// VertexLayout describes an interleaved vertex buffer.
type VertexLayout struct {
	Stride     int
	Attributes []VertexAttribute
}

// IndexType is the element type of an index buffer.
type IndexType uint8

const (
	IndexUint16 IndexType = iota
	IndexUint32
)

// UniformValue is a value bound to a program uniform location for one draw.
type UniformValue struct {
	Location int32
	Type     DataType
	Floats   []float32
	Int      int32
}

// TextureBinding attaches a texture and sampler to a texture unit.
type TextureBinding struct {
	Unit    int
	Texture uint32
	Sampler uint32
}

// DrawCommand is a single indexed draw on the currently bound framebuffer.
type DrawCommand struct {
	Program    uint32
	Vertices   uint32
	Indices    uint32
	IndexCount int
	IndexType  IndexType
	Layout     VertexLayout
	Uniforms   []UniformValue
	Textures   []TextureBinding
	CullFace   bool

	// Blend enables source-alpha blending and disables depth writes for the draw.
	Blend bool
}

// Viewport is a framebuffer region in pixels.
type Viewport struct {
	X, Y          int
	Width, Height int
}
