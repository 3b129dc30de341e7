package viewgrid

import "image"

// A Rasterizer renders a prepared, normalized asset from a camera pose.
//
// Implementations must be safe to call concurrently for different poses.
type Rasterizer interface {
	Render(pose CameraPose, width, height int) (*image.NRGBA, error)
}
