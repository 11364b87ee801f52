package common

import (
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// SliceToBytes converts any slice to a byte slice for GPU buffer uploads.
// Uses unsafe pointer operations to create a view into the original data.
// WARNING: The returned slice shares memory with the input - do not modify.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte slice view of the input data, or nil if input is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	totalBytes := int(size) * len(data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), totalBytes)
}

// CopyToBytes is SliceToBytes followed by a copy, for payloads that must outlive their source slice.
func CopyToBytes[T any](data []T) []byte {
	view := SliceToBytes(data)
	if view == nil {
		return nil
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out
}

// ComposeTRS builds a local transform from translation, rotation and scale, applied as T * R * S.
//
// Parameters:
//   - t: the translation
//   - r: the rotation quaternion
//   - s: the per-axis scale
//
// Returns:
//   - mgl32.Mat4: the composed column-major matrix
func ComposeTRS(t mgl32.Vec3, r mgl32.Quat, s mgl32.Vec3) mgl32.Mat4 {
	return mgl32.Translate3D(t[0], t[1], t[2]).
		Mul4(r.Normalize().Mat4()).
		Mul4(mgl32.Scale3D(s[0], s[1], s[2]))
}

// TransformAABB transforms an axis-aligned box by m and returns the axis-aligned box enclosing the result.
//
// Parameters:
//   - m: the transform to apply
//   - lo: the minimum corner
//   - hi: the maximum corner
//
// Returns:
//   - mgl32.Vec3: the new minimum corner
//   - mgl32.Vec3: the new maximum corner
func TransformAABB(m mgl32.Mat4, lo, hi mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	var outLo, outHi mgl32.Vec3
	for i := range 8 {
		corner := mgl32.Vec3{lo[0], lo[1], lo[2]}
		if i&1 != 0 {
			corner[0] = hi[0]
		}
		if i&2 != 0 {
			corner[1] = hi[1]
		}
		if i&4 != 0 {
			corner[2] = hi[2]
		}
		p := mgl32.TransformCoordinate(corner, m)
		if i == 0 {
			outLo, outHi = p, p
			continue
		}
		for a := range 3 {
			outLo[a] = min(outLo[a], p[a])
			outHi[a] = max(outHi[a], p[a])
		}
	}
	return outLo, outHi
}
