package common

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	stddraw "image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedCodec is returned when image bytes do not match any registered decoder.
var ErrUnsupportedCodec = errors.New("unsupported image codec")

// DecodedImage is a CPU-side pixel buffer ready for texture upload.
type DecodedImage struct {
	Width  int
	Height int
	Format PixelFormat
	Pixels []byte
}

// ByteSize returns the size of the pixel buffer in bytes.
func (d *DecodedImage) ByteSize() int {
	return d.Width * d.Height * d.Format.BytesPerPixel()
}

// DecodeImage decodes PNG, JPEG, BMP, TIFF or WebP bytes into tightly packed RGBA8 pixels.
//
// Parameters:
//   - data: the encoded image bytes
//
// Returns:
//   - *DecodedImage: the decoded RGBA image
//   - error: ErrUnsupportedCodec if no decoder matches, or the decoder error on malformed input
func DecodeImage(data []byte) (*DecodedImage, error) {
	return decodeFrom(bytes.NewReader(data))
}

// DecodeImageFile opens a file from disk and decodes it like DecodeImage.
//
// Parameters:
//   - path: the path to the image file
//
// Returns:
//   - *DecodedImage: the decoded RGBA image
//   - error: error if the file cannot be opened or decoded
func DecodeImageFile(path string) (*DecodedImage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file %s: %w", path, err)
	}
	defer file.Close()

	img, err := decodeFrom(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func decodeFrom(r io.Reader) (*DecodedImage, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, ErrUnsupportedCodec
		}
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	rgba := ToRGBA(img)
	return &DecodedImage{
		Width:  rgba.Rect.Dx(),
		Height: rgba.Rect.Dy(),
		Format: PixelFormatRGBA8,
		Pixels: rgba.Pix,
	}, nil
}

// ToRGBA converts any image into a zero-origin *image.RGBA with stride == 4*width.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) && rgba.Stride == 4*rgba.Rect.Dx() {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	stddraw.Draw(rgba, rgba.Rect, img, bounds.Min, stddraw.Src)
	return rgba
}

// Decode decodes the texture into Image using either the embedded Data bytes or the file at Path.
// Calling Decode on an already decoded texture is a no-op.
//
// Returns:
//   - error: error if decoding fails or the texture has no source
func (t *ImportedTexture) Decode() error {
	if t == nil {
		return fmt.Errorf("texture is nil")
	}
	if t.Image != nil {
		return nil
	}

	var (
		img *DecodedImage
		err error
	)
	switch {
	case len(t.Data) > 0:
		img, err = DecodeImage(t.Data)
	case t.Path != "":
		img, err = DecodeImageFile(t.Path)
	default:
		return fmt.Errorf("texture %q has neither data nor path", t.Name)
	}
	if err != nil {
		return err
	}

	if t.SRGB {
		img.Format = PixelFormatSRGBA8
	}
	t.Image = img
	return nil
}

// GenerateMipChain builds the full mip chain below a base RGBA level, halving each
// dimension until both reach 1. Levels are filtered with an approximate bilinear kernel.
//
// Parameters:
//   - base: the level 0 image
//
// Returns:
//   - []*DecodedImage: levels 1..n, empty when the base is already 1x1
func GenerateMipChain(base *DecodedImage) []*DecodedImage {
	if base == nil || base.Width <= 1 && base.Height <= 1 {
		return nil
	}

	src := &image.RGBA{
		Pix:    base.Pixels,
		Stride: base.Width * 4,
		Rect:   image.Rect(0, 0, base.Width, base.Height),
	}

	var levels []*DecodedImage
	w, h := base.Width, base.Height
	for w > 1 || h > 1 {
		w = max(1, w/2)
		h = max(1, h/2)
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Rect, src, src.Rect, draw.Src, nil)
		levels = append(levels, &DecodedImage{Width: w, Height: h, Format: base.Format, Pixels: dst.Pix})
		src = dst
	}
	return levels
}
