package viewgrid

// Fixed parameters of the rendered grid. Every backend uses the same values,
// so changing any of them changes what a grid looks like.
const (
	ImageWidth  = 518
	ImageHeight = 518

	CameraRadius    = 2.5
	CameraFovDeg    = 49.1
	CameraElevation = -15.0

	// RefBBoxSize is the length of the largest bounding box axis after
	// normalization.
	RefBBoxSize = 1.5

	// GridViewGap is the number of background pixels between grid cells.
	GridViewGap = 5

	// Supersample is the linear supersampling factor of the mesh backend.
	Supersample = 2
)

// GridAzimuths are the camera azimuths, in degrees, for grid cells 0 (top
// left), 1 (top right), 2 (bottom left) and 3 (bottom right).
var GridAzimuths = [4]float64{22.5, 112.5, 202.5, 292.5}

// DegenerateExtent is the largest bounding box extent treated as zero by
// the normalizer.
const DegenerateExtent = 1e-6

// Mesh shading terms. A surface facing the camera is shaded with its full
// base color, and a surface seen edge-on keeps the ambient fraction.
const (
	MeshAmbient = 0.3
	MeshDiffuse = 0.7
)
