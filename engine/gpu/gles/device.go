// Package gles implements gpu.Device on top of an OpenGL ES 3.0 context through go-gl.
// The context must be current on the calling thread for every method.
package gles

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-gles/common"
	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/Carmen-Shannon/oxy-gles/engine/logger"
	gl "github.com/go-gl/gl/v3.0/gles2"
	"go.uber.org/zap"
)

// textureInfo remembers what a texture was allocated with, GL ES has no texture level queries.
type textureInfo struct {
	width, height int
	format        common.PixelFormat
}

// framebufferInfo tracks the attachments owned by a framebuffer so Delete can free them.
type framebufferInfo struct {
	color       uint32
	depth       uint32
	colorFormat common.PixelFormat
	width       int
	height      int
}

// device is the go-gl implementation of gpu.Device.
type device struct {
	log *zap.Logger

	textures     map[uint32]textureInfo
	framebuffers map[uint32]framebufferInfo
	readFBO      uint32
	lost         bool
}

var (
	_ gpu.Device              = &device{}
	_ gpu.ContextLossNotifier = &device{}
)

// NewDevice loads the GL ES entry points for the current context and returns a device bound to it.
//
// Returns:
//   - gpu.Device: the device
//   - error: gpu.ErrContextCreation if the entry points cannot be loaded
func NewDevice() (gpu.Device, error) {
	if err := gl.Init(); err != nil {
		logger.Log.Error("GL ES initialization failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", gpu.ErrContextCreation, err)
	}
	d := &device{
		log:          logger.Named("gles"),
		textures:     make(map[uint32]textureInfo),
		framebuffers: make(map[uint32]framebufferInfo),
	}
	gl.Enable(gl.DEPTH_TEST)
	d.log.Info("GL ES device initialized")
	return d, nil
}

func (d *device) CreateBuffer(target gpu.BufferTarget, usage gpu.BufferUsage, data []byte) (uint32, error) {
	if d.lost {
		return 0, gpu.ErrContextLost
	}
	var id uint32
	gl.GenBuffers(1, &id)
	t := bufferTarget(target)
	gl.BindBuffer(t, id)
	var ptr unsafe.Pointer
	if len(data) > 0 {
		ptr = gl.Ptr(data)
	}
	gl.BufferData(t, len(data), ptr, bufferUsage(usage))
	gl.BindBuffer(t, 0)
	return id, d.check("create buffer")
}

func (d *device) CreateTexture(spec gpu.TextureSpec) (uint32, error) {
	if d.lost {
		return 0, gpu.ErrContextLost
	}
	internal, format, xtype := textureFormat(spec.Format)

	var id uint32
	gl.GenTextures(1, &id)
	gl.BindTexture(gl.TEXTURE_2D, id)

	if len(spec.Levels) == 0 {
		gl.TexImage2D(gl.TEXTURE_2D, 0, int32(internal), int32(spec.Width), int32(spec.Height), 0, format, xtype, nil)
	}
	w, h := spec.Width, spec.Height
	for level, pixels := range spec.Levels {
		gl.TexImage2D(gl.TEXTURE_2D, int32(level), int32(internal), int32(w), int32(h), 0, format, xtype, gl.Ptr(pixels))
		w, h = max(1, w/2), max(1, h/2)
	}
	if spec.GenerateMipmaps && len(spec.Levels) == 1 {
		gl.GenerateMipmap(gl.TEXTURE_2D)
	}
	gl.BindTexture(gl.TEXTURE_2D, 0)

	if err := d.check("create texture"); err != nil {
		gl.DeleteTextures(1, &id)
		return 0, err
	}
	d.textures[id] = textureInfo{width: spec.Width, height: spec.Height, format: spec.Format}
	return id, nil
}

func (d *device) CreateSampler(s common.SamplerSettings) (uint32, error) {
	if d.lost {
		return 0, gpu.ErrContextLost
	}
	var id uint32
	gl.GenSamplers(1, &id)
	gl.SamplerParameteri(id, gl.TEXTURE_MIN_FILTER, int32(filterMode(s.MinFilter)))
	gl.SamplerParameteri(id, gl.TEXTURE_MAG_FILTER, int32(filterMode(s.MagFilter)))
	gl.SamplerParameteri(id, gl.TEXTURE_WRAP_S, int32(wrapMode(s.WrapS)))
	gl.SamplerParameteri(id, gl.TEXTURE_WRAP_T, int32(wrapMode(s.WrapT)))
	return id, d.check("create sampler")
}

func (d *device) CreateProgram(vertex, fragment string) (uint32, gpu.ProgramInfo, error) {
	if d.lost {
		return 0, gpu.ProgramInfo{}, gpu.ErrContextLost
	}
	vs, err := compileStage(gpu.StageVertex, vertex)
	if err != nil {
		d.log.Error("failed to compile", zap.Stringer("stage", gpu.StageVertex), zap.Error(err))
		return 0, gpu.ProgramInfo{}, err
	}
	defer gl.DeleteShader(vs)
	fs, err := compileStage(gpu.StageFragment, fragment)
	if err != nil {
		d.log.Error("failed to compile", zap.Stringer("stage", gpu.StageFragment), zap.Error(err))
		return 0, gpu.ProgramInfo{}, err
	}
	defer gl.DeleteShader(fs)

	program := gl.CreateProgram()
	gl.AttachShader(program, vs)
	gl.AttachShader(program, fs)
	gl.LinkProgram(program)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetProgramInfoLog(program, logLength, nil, gl.Str(log))
		gl.DeleteProgram(program)

		d.log.Error("failed to link program", zap.String("log", log))
		return 0, gpu.ProgramInfo{}, &gpu.CompileFailure{Stage: gpu.StageLink, Log: strings.TrimRight(log, "\x00")}
	}
	gl.DetachShader(program, vs)
	gl.DetachShader(program, fs)

	return program, reflectProgram(program), nil
}

func (d *device) CreateFramebuffer(spec gpu.FramebufferSpec) (uint32, error) {
	if d.lost {
		return 0, gpu.ErrContextLost
	}
	if !spec.DepthOnly && spec.Color.IsDepth() {
		return 0, fmt.Errorf("framebuffer incomplete: %s is not a color format", spec.Color)
	}
	var fbo uint32
	gl.GenFramebuffers(1, &fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, fbo)

	info := framebufferInfo{colorFormat: spec.Color, width: spec.Width, height: spec.Height}
	if !spec.DepthOnly {
		color, err := d.CreateTexture(gpu.TextureSpec{Width: spec.Width, Height: spec.Height, Format: spec.Color})
		if err != nil {
			gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
			gl.DeleteFramebuffers(1, &fbo)
			return 0, err
		}
		info.color = color
		gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, color, 0)
	} else {
		none := uint32(gl.NONE)
		gl.DrawBuffers(1, &none)
		gl.ReadBuffer(gl.NONE)
	}
	if spec.Depth {
		gl.GenRenderbuffers(1, &info.depth)
		gl.BindRenderbuffer(gl.RENDERBUFFER, info.depth)
		attachment := uint32(gl.DEPTH_ATTACHMENT)
		internal := uint32(gl.DEPTH_COMPONENT24)
		if spec.DepthFormat == common.PixelFormatDepth24Stencil8 {
			attachment, internal = gl.DEPTH_STENCIL_ATTACHMENT, gl.DEPTH24_STENCIL8
		}
		gl.RenderbufferStorage(gl.RENDERBUFFER, internal, int32(spec.Width), int32(spec.Height))
		gl.FramebufferRenderbuffer(gl.FRAMEBUFFER, attachment, gl.RENDERBUFFER, info.depth)
	}

	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	d.framebuffers[fbo] = info
	if status != gl.FRAMEBUFFER_COMPLETE {
		d.Delete(gpu.ObjectFramebuffer, fbo)
		return 0, fmt.Errorf("framebuffer incomplete: status 0x%x", status)
	}
	return fbo, nil
}

func (d *device) FramebufferTexture(framebuffer uint32) (uint32, error) {
	info, ok := d.framebuffers[framebuffer]
	if !ok || info.color == 0 {
		return 0, fmt.Errorf("framebuffer %d has no color attachment: %w", framebuffer, gpu.ErrUnknownObject)
	}
	return info.color, nil
}

func (d *device) Delete(kind gpu.ObjectKind, id uint32) {
	if d.lost || id == 0 {
		return
	}
	switch kind {
	case gpu.ObjectBuffer:
		gl.DeleteBuffers(1, &id)
	case gpu.ObjectTexture:
		gl.DeleteTextures(1, &id)
		delete(d.textures, id)
	case gpu.ObjectSampler:
		gl.DeleteSamplers(1, &id)
	case gpu.ObjectProgram:
		gl.DeleteProgram(id)
	case gpu.ObjectFramebuffer:
		info := d.framebuffers[id]
		if info.color != 0 {
			d.Delete(gpu.ObjectTexture, info.color)
		}
		if info.depth != 0 {
			gl.DeleteRenderbuffers(1, &info.depth)
		}
		gl.DeleteFramebuffers(1, &id)
		delete(d.framebuffers, id)
	}
}

func (d *device) ReadBuffer(id uint32) ([]byte, error) {
	if d.lost {
		return nil, gpu.ErrContextLost
	}
	gl.BindBuffer(gl.COPY_READ_BUFFER, id)
	defer gl.BindBuffer(gl.COPY_READ_BUFFER, 0)

	var size int32
	gl.GetBufferParameteriv(gl.COPY_READ_BUFFER, gl.BUFFER_SIZE, &size)
	if err := d.check("read buffer"); err != nil {
		return nil, fmt.Errorf("buffer %d: %w", id, gpu.ErrUnknownObject)
	}
	out := make([]byte, size)
	if size == 0 {
		return out, nil
	}
	ptr := gl.MapBufferRange(gl.COPY_READ_BUFFER, 0, int(size), gl.MAP_READ_BIT)
	if ptr == nil {
		return nil, fmt.Errorf("failed to map buffer %d", id)
	}
	copy(out, unsafe.Slice((*byte)(ptr), size))
	gl.UnmapBuffer(gl.COPY_READ_BUFFER)
	return out, nil
}

func (d *device) ReadTexture(id uint32) (*common.DecodedImage, error) {
	if d.lost {
		return nil, gpu.ErrContextLost
	}
	info, ok := d.textures[id]
	if !ok {
		return nil, fmt.Errorf("texture %d: %w", id, gpu.ErrUnknownObject)
	}
	if d.readFBO == 0 {
		gl.GenFramebuffers(1, &d.readFBO)
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, d.readFBO)
	defer gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, id, 0)

	// RGBA/UNSIGNED_BYTE is the one readback combination every GL ES implementation supports
	img := &common.DecodedImage{Width: info.width, Height: info.height, Format: common.PixelFormatRGBA8}
	img.Pixels = make([]byte, info.width*info.height*4)
	gl.ReadPixels(0, 0, int32(info.width), int32(info.height), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(img.Pixels))
	if info.format == common.PixelFormatSRGBA8 {
		img.Format = common.PixelFormatSRGBA8
	}
	return img, d.check("read texture")
}

func (d *device) BeginPass(framebuffer uint32, viewport gpu.Viewport, clear *[4]float32) {
	gl.BindFramebuffer(gl.FRAMEBUFFER, framebuffer)
	gl.Viewport(int32(viewport.X), int32(viewport.Y), int32(viewport.Width), int32(viewport.Height))
	if clear != nil {
		gl.ClearColor(clear[0], clear[1], clear[2], clear[3])
		gl.ClearDepthf(1)
		// a blended draw may have left depth writes off, which would mask the clear
		gl.DepthMask(true)
		gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)
	}
}

func (d *device) Draw(cmd gpu.DrawCommand) error {
	gl.UseProgram(cmd.Program)

	gl.BindBuffer(gl.ARRAY_BUFFER, cmd.Vertices)
	locations := make([]uint32, 0, len(cmd.Layout.Attributes))
	for _, a := range cmd.Layout.Attributes {
		loc := gl.GetAttribLocation(cmd.Program, gl.Str(a.Name+"\x00"))
		if loc < 0 {
			continue
		}
		gl.EnableVertexAttribArray(uint32(loc))
		gl.VertexAttribPointer(uint32(loc), int32(a.Components), gl.FLOAT, false, int32(cmd.Layout.Stride), gl.PtrOffset(a.Offset))
		locations = append(locations, uint32(loc))
	}

	for _, u := range cmd.Uniforms {
		setUniform(u)
	}
	for _, tb := range cmd.Textures {
		gl.ActiveTexture(gl.TEXTURE0 + uint32(tb.Unit))
		gl.BindTexture(gl.TEXTURE_2D, tb.Texture)
		gl.BindSampler(uint32(tb.Unit), tb.Sampler)
	}

	if cmd.CullFace {
		gl.Enable(gl.CULL_FACE)
	} else {
		gl.Disable(gl.CULL_FACE)
	}
	if cmd.Blend {
		gl.Enable(gl.BLEND)
		gl.BlendFunc(gl.SRC_ALPHA, gl.ONE_MINUS_SRC_ALPHA)
		gl.DepthMask(false)
	} else {
		gl.Disable(gl.BLEND)
		gl.DepthMask(true)
	}

	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, cmd.Indices)
	indexType := uint32(gl.UNSIGNED_SHORT)
	if cmd.IndexType == gpu.IndexUint32 {
		indexType = gl.UNSIGNED_INT
	}
	gl.DrawElements(gl.TRIANGLES, int32(cmd.IndexCount), indexType, nil)

	for _, loc := range locations {
		gl.DisableVertexAttribArray(loc)
	}
	return d.check("draw")
}

func (d *device) ContextLost() bool {
	return d.lost
}

// MarkContextLost records that the surface and its context were destroyed. The platform
// host calls it through gpu.ContextLossNotifier; check calls it on a driver reset.
func (d *device) MarkContextLost() {
	d.lost = true
	clear(d.textures)
	clear(d.framebuffers)
	d.readFBO = 0
}

func (d *device) RestoreContext() {
	d.lost = false
}

func compileStage(stage gpu.Stage, source string) (uint32, error) {
	xtype := uint32(gl.VERTEX_SHADER)
	if stage == gpu.StageFragment {
		xtype = gl.FRAGMENT_SHADER
	}
	shader := gl.CreateShader(xtype)
	cSources, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, cSources, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetShaderInfoLog(shader, logLength, nil, gl.Str(log))
		gl.DeleteShader(shader)
		return 0, &gpu.CompileFailure{Stage: stage, Log: strings.TrimRight(log, "\x00")}
	}
	return shader, nil
}

func reflectProgram(program uint32) gpu.ProgramInfo {
	var info gpu.ProgramInfo
	name := make([]uint8, 256)

	var count int32
	gl.GetProgramiv(program, gl.ACTIVE_UNIFORMS, &count)
	for i := range uint32(count) {
		var length, size int32
		var xtype uint32
		gl.GetActiveUniform(program, i, int32(len(name)), &length, &size, &xtype, &name[0])
		n := strings.TrimSuffix(string(name[:length]), "[0]")
		info.Uniforms = append(info.Uniforms, gpu.Slot{
			Name:     n,
			Type:     dataType(xtype),
			Size:     int(size),
			Location: gl.GetUniformLocation(program, gl.Str(n+"\x00")),
		})
	}

	gl.GetProgramiv(program, gl.ACTIVE_ATTRIBUTES, &count)
	for i := range uint32(count) {
		var length, size int32
		var xtype uint32
		gl.GetActiveAttrib(program, i, int32(len(name)), &length, &size, &xtype, &name[0])
		n := string(name[:length])
		info.Attributes = append(info.Attributes, gpu.Slot{
			Name:     n,
			Type:     dataType(xtype),
			Size:     int(size),
			Location: gl.GetAttribLocation(program, gl.Str(n+"\x00")),
		})
	}
	return info
}

func setUniform(u gpu.UniformValue) {
	switch u.Type {
	case gpu.TypeFloat:
		gl.Uniform1fv(u.Location, int32(max(1, len(u.Floats))), ptrOrNil(u.Floats))
	case gpu.TypeVec2:
		gl.Uniform2fv(u.Location, int32(max(1, len(u.Floats)/2)), ptrOrNil(u.Floats))
	case gpu.TypeVec3:
		gl.Uniform3fv(u.Location, int32(max(1, len(u.Floats)/3)), ptrOrNil(u.Floats))
	case gpu.TypeVec4:
		gl.Uniform4fv(u.Location, int32(max(1, len(u.Floats)/4)), ptrOrNil(u.Floats))
	case gpu.TypeMat3:
		gl.UniformMatrix3fv(u.Location, int32(max(1, len(u.Floats)/9)), false, ptrOrNil(u.Floats))
	case gpu.TypeMat4:
		gl.UniformMatrix4fv(u.Location, int32(max(1, len(u.Floats)/16)), false, ptrOrNil(u.Floats))
	case gpu.TypeInt, gpu.TypeSampler2D, gpu.TypeSamplerCube:
		gl.Uniform1i(u.Location, u.Int)
	}
}

func ptrOrNil(f []float32) *float32 {
	if len(f) == 0 {
		var zero [16]float32
		return &zero[0]
	}
	return &f[0]
}

// glContextLost is GL_CONTEXT_LOST from KHR_robustness, absent from the ES 3.0 headers.
const glContextLost = 0x0507

// check turns the pending GL error into a Go error and marks the device lost when the
// driver reports a reset.
func (d *device) check(op string) error {
	err := checkError(op)
	if errors.Is(err, gpu.ErrContextLost) {
		d.log.Warn("driver reported context loss", zap.String("op", op))
		d.MarkContextLost()
	}
	return err
}

func checkError(op string) error {
	switch code := gl.GetError(); code {
	case gl.NO_ERROR:
	case gl.OUT_OF_MEMORY:
		return fmt.Errorf("%s: %w", op, gpu.ErrOutOfMemory)
	case glContextLost:
		return fmt.Errorf("%s: %w", op, gpu.ErrContextLost)
	default:
		return fmt.Errorf("%s: gl error 0x%x", op, code)
	}
	return nil
}
