package gpu

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-gles/common"
)

// softwareObject is the CPU-side stand-in for one GL object.
type softwareObject struct {
	kind    ObjectKind
	target  BufferTarget
	data    []byte
	image   *common.DecodedImage
	levels  int
	sampler common.SamplerSettings
	info    ProgramInfo
	fb      FramebufferSpec

	// color is the attachment texture of a framebuffer; attachments are owned by their
	// framebuffer and are not counted as standalone textures.
	color    uint32
	attached bool
}

// SoftwareDevice is a Device that keeps every object in memory. It validates inputs the
// way a GL ES driver would, reflects GLSL declarations, records draws and can simulate
// context loss. Headless hosts and tests render through it.
type SoftwareDevice struct {
	nextID  uint32
	objects map[uint32]*softwareObject
	lost    bool

	// failAfter counts the allocations left before ErrOutOfMemory, negative for never.
	failAfter int
	// loseAfter counts the allocations left before the context is lost, negative for never.
	loseAfter int

	creates map[ObjectKind]int
	deletes map[ObjectKind]int

	framebuffer uint32
	draws       []DrawCommand
	passes      []uint32
}

var (
	_ Device              = &SoftwareDevice{}
	_ ContextLossNotifier = &SoftwareDevice{}
)

// NewSoftwareDevice creates an empty software device with a live context.
//
// Returns:
//   - *SoftwareDevice: the device
func NewSoftwareDevice() *SoftwareDevice {
	return &SoftwareDevice{
		objects:   make(map[uint32]*softwareObject),
		failAfter: -1,
		loseAfter: -1,
		creates:   make(map[ObjectKind]int),
		deletes:   make(map[ObjectKind]int),
	}
}

func (d *SoftwareDevice) alloc(obj *softwareObject) (uint32, error) {
	if d.loseAfter == 0 {
		d.loseAfter = -1
		d.LoseContext()
	}
	if d.lost {
		return 0, ErrContextLost
	}
	if d.loseAfter > 0 {
		d.loseAfter--
	}
	if d.failAfter == 0 {
		return 0, fmt.Errorf("%s allocation: %w", obj.kind, ErrOutOfMemory)
	}
	if d.failAfter > 0 {
		d.failAfter--
	}
	d.nextID++
	d.objects[d.nextID] = obj
	if !obj.attached {
		d.creates[obj.kind]++
	}
	return d.nextID, nil
}

func (d *SoftwareDevice) lookup(kind ObjectKind, id uint32) (*softwareObject, error) {
	if d.lost {
		return nil, ErrContextLost
	}
	obj, ok := d.objects[id]
	if !ok || obj.kind != kind {
		return nil, fmt.Errorf("%s %d: %w", kind, id, ErrUnknownObject)
	}
	return obj, nil
}

func (d *SoftwareDevice) CreateBuffer(target BufferTarget, usage BufferUsage, data []byte) (uint32, error) {
	return d.alloc(&softwareObject{kind: ObjectBuffer, target: target, data: append([]byte(nil), data...)})
}

func (d *SoftwareDevice) CreateTexture(spec TextureSpec) (uint32, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return 0, fmt.Errorf("invalid texture size %dx%d", spec.Width, spec.Height)
	}
	img := &common.DecodedImage{Width: spec.Width, Height: spec.Height, Format: spec.Format}
	if len(spec.Levels) > 0 {
		want := spec.Width * spec.Height * spec.Format.BytesPerPixel()
		if len(spec.Levels[0]) != want {
			return 0, fmt.Errorf("texture level 0 has %d bytes, want %d", len(spec.Levels[0]), want)
		}
		img.Pixels = append([]byte(nil), spec.Levels[0]...)
	} else {
		img.Pixels = make([]byte, spec.Width*spec.Height*spec.Format.BytesPerPixel())
	}
	levels := max(1, len(spec.Levels))
	if spec.GenerateMipmaps && levels == 1 {
		levels = mipLevelCount(spec.Width, spec.Height)
	}
	return d.alloc(&softwareObject{kind: ObjectTexture, image: img, levels: levels})
}

func (d *SoftwareDevice) CreateSampler(settings common.SamplerSettings) (uint32, error) {
	return d.alloc(&softwareObject{kind: ObjectSampler, sampler: settings})
}

func (d *SoftwareDevice) CreateProgram(vertex, fragment string) (uint32, ProgramInfo, error) {
	if d.lost {
		return 0, ProgramInfo{}, ErrContextLost
	}
	vu, attrs, err := scanStage(StageVertex, vertex)
	if err != nil {
		return 0, ProgramInfo{}, err
	}
	fu, _, err := scanStage(StageFragment, fragment)
	if err != nil {
		return 0, ProgramInfo{}, err
	}
	info, err := linkStages(vu, fu, attrs)
	if err != nil {
		return 0, ProgramInfo{}, err
	}
	id, err := d.alloc(&softwareObject{kind: ObjectProgram, info: info})
	return id, info, err
}

func (d *SoftwareDevice) CreateFramebuffer(spec FramebufferSpec) (uint32, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return 0, fmt.Errorf("invalid framebuffer size %dx%d", spec.Width, spec.Height)
	}
	if spec.DepthOnly && !spec.Depth {
		return 0, fmt.Errorf("framebuffer incomplete: depth-only target without a depth attachment")
	}
	if !spec.DepthOnly && spec.Color.IsDepth() {
		return 0, fmt.Errorf("framebuffer incomplete: %s is not a color format", spec.Color)
	}
	obj := &softwareObject{kind: ObjectFramebuffer, fb: spec}
	if !spec.DepthOnly {
		img := &common.DecodedImage{Width: spec.Width, Height: spec.Height, Format: spec.Color}
		img.Pixels = make([]byte, spec.Width*spec.Height*spec.Color.BytesPerPixel())
		color, err := d.alloc(&softwareObject{kind: ObjectTexture, image: img, levels: 1, attached: true})
		if err != nil {
			return 0, err
		}
		obj.color = color
	}
	return d.alloc(obj)
}

func (d *SoftwareDevice) FramebufferTexture(framebuffer uint32) (uint32, error) {
	obj, err := d.lookup(ObjectFramebuffer, framebuffer)
	if err != nil {
		return 0, err
	}
	if obj.color == 0 {
		return 0, fmt.Errorf("framebuffer %d has no color attachment: %w", framebuffer, ErrUnknownObject)
	}
	return obj.color, nil
}

func (d *SoftwareDevice) Delete(kind ObjectKind, id uint32) {
	if d.lost {
		return
	}
	obj, ok := d.objects[id]
	if !ok || obj.kind != kind || obj.attached {
		return
	}
	delete(d.objects, id)
	d.deletes[kind]++
	if kind == ObjectFramebuffer && obj.color != 0 {
		delete(d.objects, obj.color)
	}
}

func (d *SoftwareDevice) ReadBuffer(id uint32) ([]byte, error) {
	obj, err := d.lookup(ObjectBuffer, id)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), obj.data...), nil
}

func (d *SoftwareDevice) ReadTexture(id uint32) (*common.DecodedImage, error) {
	obj, err := d.lookup(ObjectTexture, id)
	if err != nil {
		return nil, err
	}
	img := *obj.image
	img.Pixels = append([]byte(nil), obj.image.Pixels...)
	return &img, nil
}

func (d *SoftwareDevice) BeginPass(framebuffer uint32, viewport Viewport, clear *[4]float32) {
	d.framebuffer = framebuffer
	d.passes = append(d.passes, framebuffer)
}

func (d *SoftwareDevice) Draw(cmd DrawCommand) error {
	if _, err := d.lookup(ObjectProgram, cmd.Program); err != nil {
		return err
	}
	if _, err := d.lookup(ObjectBuffer, cmd.Vertices); err != nil {
		return err
	}
	if _, err := d.lookup(ObjectBuffer, cmd.Indices); err != nil {
		return err
	}
	for _, tb := range cmd.Textures {
		if _, err := d.lookup(ObjectTexture, tb.Texture); err != nil {
			return err
		}
		if tb.Sampler != 0 {
			if _, err := d.lookup(ObjectSampler, tb.Sampler); err != nil {
				return err
			}
		}
	}
	d.draws = append(d.draws, cmd)
	return nil
}

func (d *SoftwareDevice) ContextLost() bool {
	return d.lost
}

func (d *SoftwareDevice) RestoreContext() {
	d.lost = false
}

// LoseContext simulates a platform context loss: every object name becomes invalid
// without being deleted through the device.
func (d *SoftwareDevice) LoseContext() {
	d.lost = true
	clear(d.objects)
}

// MarkContextLost reports a loss from outside the device, as a host would on surface
// destruction. It behaves like LoseContext.
func (d *SoftwareDevice) MarkContextLost() {
	d.LoseContext()
}

// LoseContextAfter lets the next n allocations succeed and loses the context on the one
// after. A negative n turns it off.
func (d *SoftwareDevice) LoseContextAfter(n int) {
	d.loseAfter = n
}

// FailAfter lets the next n allocations succeed and fails every later one with
// ErrOutOfMemory. A negative n turns the failure off.
func (d *SoftwareDevice) FailAfter(n int) {
	d.failAfter = n
}

// Creates returns how many objects of a kind have been created.
func (d *SoftwareDevice) Creates(kind ObjectKind) int {
	return d.creates[kind]
}

// Deletes returns how many objects of a kind have been explicitly deleted.
func (d *SoftwareDevice) Deletes(kind ObjectKind) int {
	return d.deletes[kind]
}

// Live returns how many objects of a kind currently exist.
func (d *SoftwareDevice) Live(kind ObjectKind) int {
	n := 0
	for _, obj := range d.objects {
		if obj.kind == kind && !obj.attached {
			n++
		}
	}
	return n
}

// MipLevels returns the number of mip levels allocated for a texture, or 0 if it does not exist.
func (d *SoftwareDevice) MipLevels(id uint32) int {
	if obj, ok := d.objects[id]; ok && obj.kind == ObjectTexture {
		return obj.levels
	}
	return 0
}

// Draws returns every draw recorded since the last ResetDraws.
func (d *SoftwareDevice) Draws() []DrawCommand {
	return d.draws
}

// Passes returns the framebuffer bound by each BeginPass since the last ResetDraws.
func (d *SoftwareDevice) Passes() []uint32 {
	return d.passes
}

// ResetDraws clears the draw and pass logs.
func (d *SoftwareDevice) ResetDraws() {
	d.draws = d.draws[:0]
	d.passes = d.passes[:0]
}

func mipLevelCount(w, h int) int {
	n := 1
	for w > 1 || h > 1 {
		w = max(1, w/2)
		h = max(1, h/2)
		n++
	}
	return n
}
