// Package gpu defines the GL ES device contract the rendering core talks to and an
// in-memory software implementation of it. The concrete GL ES binding lives in the
// gles sub-package so that packages above this one never link against cgo.
//
// A Device is owned by the rendering thread. None of its methods are safe for
// concurrent use, matching the single-threaded nature of a GL ES context.
package gpu

import (
	"github.com/Carmen-Shannon/oxy-gles/common"
)

// Device is the set of GL ES operations the resource manager and renderer need. Object
// identifiers returned by a Device are raw GL names and must only be handed out through
// the resource manager.
type Device interface {
	// CreateBuffer allocates a buffer object and uploads data into it.
	//
	// Parameters:
	//   - target: the binding point the buffer is created for
	//   - usage: the storage usage hint
	//   - data: the initial contents
	//
	// Returns:
	//   - uint32: the GL buffer name
	//   - error: ErrContextLost while the context is gone
	CreateBuffer(target BufferTarget, usage BufferUsage, data []byte) (uint32, error)

	// CreateTexture allocates a 2D texture and uploads every supplied mip level.
	//
	// Parameters:
	//   - spec: dimensions, format and pixel data
	//
	// Returns:
	//   - uint32: the GL texture name
	//   - error: ErrContextLost while the context is gone
	CreateTexture(spec TextureSpec) (uint32, error)

	// CreateSampler creates a sampler object with the given filtering and wrap state.
	//
	// Parameters:
	//   - settings: the sampler state
	//
	// Returns:
	//   - uint32: the GL sampler name
	//   - error: ErrContextLost while the context is gone
	CreateSampler(settings common.SamplerSettings) (uint32, error)

	// CreateProgram compiles both stages, links them and reflects the active uniforms and attributes.
	//
	// Parameters:
	//   - vertex: the vertex stage GLSL ES source
	//   - fragment: the fragment stage GLSL ES source
	//
	// Returns:
	//   - uint32: the GL program name
	//   - ProgramInfo: the reflected uniform and attribute slots
	//   - error: *CompileFailure with the driver log when a stage or the link is rejected
	CreateProgram(vertex, fragment string) (uint32, ProgramInfo, error)

	// CreateFramebuffer creates a framebuffer with its own color texture and optional depth renderbuffer.
	//
	// Parameters:
	//   - spec: the attachment layout
	//
	// Returns:
	//   - uint32: the GL framebuffer name
	//   - error: error if the framebuffer is incomplete or the context is gone
	CreateFramebuffer(spec FramebufferSpec) (uint32, error)

	// FramebufferTexture returns the color texture owned by a framebuffer so later passes can sample it.
	//
	// Parameters:
	//   - framebuffer: the GL framebuffer name
	//
	// Returns:
	//   - uint32: the GL texture name of the color attachment
	//   - error: ErrUnknownObject if the framebuffer does not exist or has no color attachment
	FramebufferTexture(framebuffer uint32) (uint32, error)

	// Delete destroys an object previously created by this device. Deleting an unknown
	// name is a no-op, as it is in GL.
	//
	// Parameters:
	//   - kind: the object kind
	//   - id: the GL name
	Delete(kind ObjectKind, id uint32)

	// ReadBuffer copies a buffer's contents back to the CPU.
	//
	// Parameters:
	//   - id: the GL buffer name
	//
	// Returns:
	//   - []byte: the buffer contents
	//   - error: ErrUnknownObject or ErrContextLost
	ReadBuffer(id uint32) ([]byte, error)

	// ReadTexture copies level 0 of a texture back to the CPU.
	//
	// Parameters:
	//   - id: the GL texture name
	//
	// Returns:
	//   - *common.DecodedImage: the level 0 pixels
	//   - error: ErrUnknownObject or ErrContextLost
	ReadTexture(id uint32) (*common.DecodedImage, error)

	// BeginPass binds a framebuffer (0 for the default surface), sets the viewport and clears it.
	//
	// Parameters:
	//   - framebuffer: the GL framebuffer name, or 0
	//   - viewport: the region to render into
	//   - clear: the clear color, or nil to keep the existing contents
	BeginPass(framebuffer uint32, viewport Viewport, clear *[4]float32)

	// Draw issues one indexed draw on the framebuffer bound by BeginPass.
	//
	// Parameters:
	//   - cmd: the draw command
	//
	// Returns:
	//   - error: error if an object named by the command does not exist
	Draw(cmd DrawCommand) error

	// ContextLost reports whether the underlying context has been lost since the last RestoreContext.
	//
	// Returns:
	//   - bool: true while every object name is invalid
	ContextLost() bool

	// RestoreContext marks a freshly recreated context as usable again.
	RestoreContext()
}

// ContextLossNotifier is implemented by devices that accept a loss report from the layer
// owning the surface, for example an embedder whose surface was destroyed. After
// MarkContextLost the device fails every call with ErrContextLost until RestoreContext.
type ContextLossNotifier interface {
	// MarkContextLost records that the context and every object in it are gone.
	MarkContextLost()
}
