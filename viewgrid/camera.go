package viewgrid

import (
	"math"

	"github.com/unixpickle/model3d/model3d"
)

// A CameraPose is a camera on an orbit around the origin.
type CameraPose struct {
	Eye    model3d.Coord3D
	LookAt model3d.Coord3D

	// Up is the world up direction used to orient the camera, not the
	// camera's own up axis.
	Up model3d.Coord3D

	FovDeg float64
	Aspect float64

	AzimuthDeg   float64
	ElevationDeg float64
	Radius       float64
}

// CameraPoses returns the poses of the four grid cells, in cell order.
func CameraPoses() [4]CameraPose {
	var res [4]CameraPose
	for i, azimuth := range GridAzimuths {
		res[i] = NewOrbitPose(azimuth, CameraElevation, CameraRadius, CameraFovDeg)
	}
	return res
}

// NewOrbitPose creates a camera looking at the origin from the given
// azimuth and elevation, both in degrees.
//
// Negative elevations place the camera above the XZ plane, looking down.
func NewOrbitPose(azimuthDeg, elevationDeg, radius, fovDeg float64) CameraPose {
	theta := azimuthDeg * math.Pi / 180
	phi := elevationDeg * math.Pi / 180
	return CameraPose{
		Eye: model3d.XYZ(
			radius*math.Cos(phi)*math.Sin(theta),
			-radius*math.Sin(phi),
			radius*math.Cos(phi)*math.Cos(theta),
		),
		LookAt:       model3d.Origin,
		Up:           model3d.Y(1),
		FovDeg:       fovDeg,
		Aspect:       1,
		AzimuthDeg:   azimuthDeg,
		ElevationDeg: elevationDeg,
		Radius:       radius,
	}
}

// Basis returns the unit axes of the camera frame in world coordinates.
// Image x grows along right, image y grows along down, and depth grows along
// forward.
func (c CameraPose) Basis() (right, down, forward model3d.Coord3D) {
	forward = c.LookAt.Sub(c.Eye).Normalize()
	right = forward.Cross(c.Up).Normalize()
	up := right.Cross(forward)
	return right, up.Scale(-1), forward
}

// Rotation returns the world-to-camera rotation, whose rows are the axes
// from Basis().
func (c CameraPose) Rotation() model3d.Matrix3 {
	right, down, forward := c.Basis()
	return model3d.Matrix3{
		right.X, right.Y, right.Z,
		down.X, down.Y, down.Z,
		forward.X, forward.Y, forward.Z,
	}
}

// ToCamera maps a world point into camera coordinates, where Z is the depth
// along the view direction.
func (c CameraPose) ToCamera(p model3d.Coord3D) model3d.Coord3D {
	rot := c.Rotation()
	return rot.MulColumn(p.Sub(c.Eye))
}

// Intrinsics are pinhole camera parameters for an image of a given size.
type Intrinsics struct {
	Width  int
	Height int

	// Focal is the focal length in pixels.
	Focal float64

	// CX and CY are the principal point in pixels.
	CX float64
	CY float64
}

// Intrinsics computes the pinhole parameters for a width x height image.
// The field of view is vertical.
func (c CameraPose) Intrinsics(width, height int) Intrinsics {
	return Intrinsics{
		Width:  width,
		Height: height,
		Focal:  float64(height) / 2 / math.Tan(c.FovDeg*math.Pi/360),
		CX:     float64(width) / 2,
		CY:     float64(height) / 2,
	}
}

// TanHalfFov returns the tangents of the horizontal and vertical half field
// of view.
func (i Intrinsics) TanHalfFov() (x, y float64) {
	return float64(i.Width) / 2 / i.Focal, float64(i.Height) / 2 / i.Focal
}

// Project maps a camera-space point to pixel coordinates. Pixel (i, j)
// covers [i, i+1) x [j, j+1).
func (i Intrinsics) Project(cam model3d.Coord3D) (x, y float64) {
	return i.CX + i.Focal*cam.X/cam.Z, i.CY + i.Focal*cam.Y/cam.Z
}

// Project maps a world point to pixel coordinates and its depth along the
// view direction for a width x height image.
func (c CameraPose) Project(p model3d.Coord3D, width, height int) (x, y, depth float64) {
	cam := c.ToCamera(p)
	x, y = c.Intrinsics(width, height).Project(cam)
	return x, y, cam.Z
}
