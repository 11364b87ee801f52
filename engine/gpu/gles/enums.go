package gles

import (
	"github.com/Carmen-Shannon/oxy-gles/common"
	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	gl "github.com/go-gl/gl/v3.0/gles2"
)

func bufferTarget(t gpu.BufferTarget) uint32 {
	switch t {
	case gpu.BufferIndex:
		return gl.ELEMENT_ARRAY_BUFFER
	case gpu.BufferUniform:
		return gl.UNIFORM_BUFFER
	default:
		return gl.ARRAY_BUFFER
	}
}

func bufferUsage(u gpu.BufferUsage) uint32 {
	switch u {
	case gpu.UsageDynamic:
		return gl.DYNAMIC_DRAW
	case gpu.UsageStream:
		return gl.STREAM_DRAW
	default:
		return gl.STATIC_DRAW
	}
}

// textureFormat returns the sized internal format, the pixel transfer format and the transfer type.
func textureFormat(f common.PixelFormat) (internal, format, xtype uint32) {
	switch f {
	case common.PixelFormatSRGBA8:
		return gl.SRGB8_ALPHA8, gl.RGBA, gl.UNSIGNED_BYTE
	case common.PixelFormatRGB8:
		return gl.RGB8, gl.RGB, gl.UNSIGNED_BYTE
	case common.PixelFormatR8:
		return gl.R8, gl.RED, gl.UNSIGNED_BYTE
	case common.PixelFormatDepth24:
		return gl.DEPTH_COMPONENT24, gl.DEPTH_COMPONENT, gl.UNSIGNED_INT
	case common.PixelFormatDepth24Stencil8:
		return gl.DEPTH24_STENCIL8, gl.DEPTH_STENCIL, gl.UNSIGNED_INT_24_8
	default:
		return gl.RGBA8, gl.RGBA, gl.UNSIGNED_BYTE
	}
}

func filterMode(f common.FilterMode) uint32 {
	switch f {
	case common.FilterNearest:
		return gl.NEAREST
	case common.FilterNearestMipmapNearest:
		return gl.NEAREST_MIPMAP_NEAREST
	case common.FilterLinearMipmapNearest:
		return gl.LINEAR_MIPMAP_NEAREST
	case common.FilterNearestMipmapLinear:
		return gl.NEAREST_MIPMAP_LINEAR
	case common.FilterLinearMipmapLinear:
		return gl.LINEAR_MIPMAP_LINEAR
	default:
		return gl.LINEAR
	}
}

func wrapMode(w common.WrapMode) uint32 {
	switch w {
	case common.WrapClampToEdge:
		return gl.CLAMP_TO_EDGE
	case common.WrapMirroredRepeat:
		return gl.MIRRORED_REPEAT
	default:
		return gl.REPEAT
	}
}

func dataType(t uint32) gpu.DataType {
	switch t {
	case gl.FLOAT_VEC2:
		return gpu.TypeVec2
	case gl.FLOAT_VEC3:
		return gpu.TypeVec3
	case gl.FLOAT_VEC4:
		return gpu.TypeVec4
	case gl.INT, gl.BOOL:
		return gpu.TypeInt
	case gl.FLOAT_MAT3:
		return gpu.TypeMat3
	case gl.FLOAT_MAT4:
		return gpu.TypeMat4
	case gl.SAMPLER_2D:
		return gpu.TypeSampler2D
	case gl.SAMPLER_CUBE:
		return gpu.TypeSamplerCube
	default:
		return gpu.TypeFloat
	}
}
