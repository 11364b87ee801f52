package camera

import (
	"github.com/go-gl/mathgl/mgl32"
)

// CameraController owns the positional state of a camera. The camera reads Position and
// Target from it on Update. The controller orbits a target using spherical coordinates
// (radius, azimuth, elevation) and pans along the camera's local axes; panning moves the
// position and the target together so the orbit is preserved.
type CameraController interface {
	// Position returns the camera's world-space position.
	//
	// Returns:
	//   - mgl32.Vec3: world-space camera position
	Position() mgl32.Vec3

	// Target returns the look-at point.
	//
	// Returns:
	//   - mgl32.Vec3: world-space target position
	Target() mgl32.Vec3

	// SetTarget sets the look-at/pivot point and recomputes the position.
	//
	// Parameters:
	//   - target: world-space coordinates
	SetTarget(target mgl32.Vec3)

	// Orbit rotates the camera around the target. Elevation is clamped to its bounds.
	//
	// Parameters:
	//   - dAzimuth: horizontal change in radians
	//   - dElevation: vertical change in radians
	Orbit(dAzimuth, dElevation float32)

	// Zoom moves the camera toward the target; positive delta zooms in. The radius is
	// clamped to its bounds.
	//
	// Parameters:
	//   - delta: zoom amount scaled by the zoom speed
	Zoom(delta float32)

	// Pan translates position and target along the camera's right and up axes.
	//
	// Parameters:
	//   - right: movement along the right axis, scaled by the pan speed
	//   - up: movement along the up axis, scaled by the pan speed
	Pan(right, up float32)

	// Radius returns the distance from the target.
	//
	// Returns:
	//   - float32: current orbit radius
	Radius() float32

	// Azimuth returns the horizontal angle around the Y axis.
	//
	// Returns:
	//   - float32: azimuth in radians
	Azimuth() float32

	// Elevation returns the vertical angle from the horizontal plane.
	//
	// Returns:
	//   - float32: elevation in radians
	Elevation() float32
}
