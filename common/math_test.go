package common

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestComposeTRS(t *testing.T) {
	m := ComposeTRS(mgl32.Vec3{1, 2, 3}, mgl32.QuatIdent(), mgl32.Vec3{2, 2, 2})
	p := mgl32.TransformCoordinate(mgl32.Vec3{1, 0, 0}, m)
	assert.True(t, p.ApproxEqual(mgl32.Vec3{3, 2, 3}), "got %v", p)
}

func TestTransformAABB(t *testing.T) {
	lo, hi := TransformAABB(mgl32.Translate3D(10, 0, 0), mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})
	assert.True(t, lo.ApproxEqual(mgl32.Vec3{9, -1, -1}))
	assert.True(t, hi.ApproxEqual(mgl32.Vec3{11, 1, 1}))
}

func TestFrustumIntersectsAABB(t *testing.T) {
	proj := mgl32.Perspective(mgl32.DegToRad(60), 1, 0.1, 100)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
	f := ExtractFrustum(proj.Mul4(view))

	assert.True(t, f.IntersectsAABB(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1}))
	assert.False(t, f.IntersectsAABB(mgl32.Vec3{-1, -1, 10}, mgl32.Vec3{1, 1, 12}), "behind the camera")
	assert.False(t, f.IntersectsAABB(mgl32.Vec3{500, 0, 0}, mgl32.Vec3{501, 1, 1}), "far to the right")
}

func TestCopyToBytes(t *testing.T) {
	src := []uint16{1, 2}
	out := CopyToBytes(src)
	assert.Len(t, out, 4)
	src[0] = 9
	assert.Equal(t, byte(1), out[0])
	assert.Nil(t, CopyToBytes[uint16](nil))
}
