package resource

import (
	"encoding/binary"
	"encoding/hex"
	"hash"

	"github.com/Carmen-Shannon/oxy-gles/common"
	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"golang.org/x/crypto/blake2b"
)

// Fingerprint is the BLAKE2b-256 digest of a descriptor's defining content.
type Fingerprint [blake2b.Size256]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:6])
}

// created is what a descriptor hands back to the manager after building its GPU object.
type created struct {
	id   uint32
	info gpu.ProgramInfo
}

// Descriptor is the full, replayable description of a GPU object. The manager keeps
// descriptors for the lifetime of their record so objects can be rebuilt after context loss.
type Descriptor interface {
	// Kind returns the class of object the descriptor creates.
	Kind() Kind

	// Fingerprint returns the content digest used for deduplication.
	Fingerprint() Fingerprint

	// ByteSize estimates the GPU memory the object occupies.
	ByteSize() int

	create(dev gpu.Device) (created, error)
}

// fingerprinter feeds a canonical little-endian encoding of descriptor fields into BLAKE2b.
type fingerprinter struct {
	h   hash.Hash
	buf [8]byte
}

func newFingerprinter(kind Kind) *fingerprinter {
	h, _ := blake2b.New256(nil)
	f := &fingerprinter{h: h}
	f.u64(uint64(kind))
	return f
}

func (f *fingerprinter) u64(v uint64) *fingerprinter {
	binary.LittleEndian.PutUint64(f.buf[:], v)
	f.h.Write(f.buf[:])
	return f
}

func (f *fingerprinter) bytes(b []byte) *fingerprinter {
	f.u64(uint64(len(b)))
	f.h.Write(b)
	return f
}

func (f *fingerprinter) str(s string) *fingerprinter {
	return f.bytes([]byte(s))
}

func (f *fingerprinter) flag(b bool) *fingerprinter {
	if b {
		return f.u64(1)
	}
	return f.u64(0)
}

func (f *fingerprinter) sum() Fingerprint {
	var out Fingerprint
	f.h.Sum(out[:0])
	return out
}

// BufferDescriptor describes a vertex, index or uniform buffer.
type BufferDescriptor struct {
	Target gpu.BufferTarget
	Usage  gpu.BufferUsage
	Data   []byte
}

func (d BufferDescriptor) Kind() Kind { return KindBuffer }

func (d BufferDescriptor) Fingerprint() Fingerprint {
	return newFingerprinter(KindBuffer).u64(uint64(d.Target)).u64(uint64(d.Usage)).bytes(d.Data).sum()
}

func (d BufferDescriptor) ByteSize() int { return len(d.Data) }

func (d BufferDescriptor) create(dev gpu.Device) (created, error) {
	id, err := dev.CreateBuffer(d.Target, d.Usage, d.Data)
	return created{id: id}, err
}

// TextureDescriptor describes a 2D texture by its dimensions, format and level 0 pixels.
type TextureDescriptor struct {
	Width  int
	Height int
	Format common.PixelFormat
	Pixels []byte

	// Mipmaps builds the full mip chain on upload.
	Mipmaps bool
}

// TextureFromImage builds a descriptor for a decoded image.
func TextureFromImage(img *common.DecodedImage, mipmaps bool) TextureDescriptor {
	return TextureDescriptor{Width: img.Width, Height: img.Height, Format: img.Format, Pixels: img.Pixels, Mipmaps: mipmaps}
}

func (d TextureDescriptor) Kind() Kind { return KindTexture }

func (d TextureDescriptor) Fingerprint() Fingerprint {
	return newFingerprinter(KindTexture).
		u64(uint64(d.Width)).u64(uint64(d.Height)).u64(uint64(d.Format)).
		flag(d.Mipmaps).bytes(d.Pixels).sum()
}

func (d TextureDescriptor) ByteSize() int {
	base := d.Width * d.Height * d.Format.BytesPerPixel()
	if d.Mipmaps {
		// a full chain adds one third of the base level
		return base + base/3
	}
	return base
}

func (d TextureDescriptor) create(dev gpu.Device) (created, error) {
	spec := gpu.TextureSpec{Width: d.Width, Height: d.Height, Format: d.Format}
	if d.Pixels != nil {
		spec.Levels = [][]byte{d.Pixels}
	}
	if d.Mipmaps && d.Pixels != nil && (d.Format == common.PixelFormatRGBA8 || d.Format == common.PixelFormatSRGBA8) {
		base := &common.DecodedImage{Width: d.Width, Height: d.Height, Format: d.Format, Pixels: d.Pixels}
		for _, level := range common.GenerateMipChain(base) {
			spec.Levels = append(spec.Levels, level.Pixels)
		}
	} else if d.Mipmaps {
		spec.GenerateMipmaps = true
	}
	id, err := dev.CreateTexture(spec)
	return created{id: id}, err
}

// SamplerDescriptor describes a sampler object.
type SamplerDescriptor struct {
	Settings common.SamplerSettings
}

func (d SamplerDescriptor) Kind() Kind { return KindSampler }

func (d SamplerDescriptor) Fingerprint() Fingerprint {
	s := d.Settings
	return newFingerprinter(KindSampler).
		u64(uint64(s.MinFilter)).u64(uint64(s.MagFilter)).u64(uint64(s.WrapS)).u64(uint64(s.WrapT)).sum()
}

func (d SamplerDescriptor) ByteSize() int { return 0 }

func (d SamplerDescriptor) create(dev gpu.Device) (created, error) {
	id, err := dev.CreateSampler(d.Settings)
	return created{id: id}, err
}

// ProgramDescriptor describes a linked program by its fully pre-processed stage sources.
type ProgramDescriptor struct {
	Vertex   string
	Fragment string

	// Label names the program in logs and is not part of its identity.
	Label string
}

func (d ProgramDescriptor) Kind() Kind { return KindProgram }

func (d ProgramDescriptor) Fingerprint() Fingerprint {
	return newFingerprinter(KindProgram).str(d.Vertex).str(d.Fragment).sum()
}

func (d ProgramDescriptor) ByteSize() int { return 0 }

func (d ProgramDescriptor) create(dev gpu.Device) (created, error) {
	id, info, err := dev.CreateProgram(d.Vertex, d.Fragment)
	return created{id: id, info: info}, err
}

// FramebufferDescriptor describes an offscreen render target. Render targets have no
// content to fingerprint, so Name is part of their identity.
type FramebufferDescriptor struct {
	Name string
	gpu.FramebufferSpec
}

func (d FramebufferDescriptor) Kind() Kind { return KindFramebuffer }

func (d FramebufferDescriptor) Fingerprint() Fingerprint {
	return newFingerprinter(KindFramebuffer).str(d.Name).
		u64(uint64(d.Width)).u64(uint64(d.Height)).u64(uint64(d.Color)).
		flag(d.Depth).u64(uint64(d.DepthFormat)).flag(d.DepthOnly).sum()
}

func (d FramebufferDescriptor) ByteSize() int {
	size := 0
	if !d.DepthOnly {
		size += d.Width * d.Height * d.Color.BytesPerPixel()
	}
	if d.Depth {
		size += d.Width * d.Height * 4
	}
	return size
}

func (d FramebufferDescriptor) create(dev gpu.Device) (created, error) {
	id, err := dev.CreateFramebuffer(d.FramebufferSpec)
	return created{id: id}, err
}
