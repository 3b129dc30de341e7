package viewgrid

import (
	"image"
	"math"
	"time"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/model3d/render3d"
)

// A splatCompositor blends a binned splatFrame into an image.
type splatCompositor interface {
	Composite(frame *splatFrame) (*image.NRGBA, error)
}

// A SplatRasterizer renders Gaussian splats with EWA splatting.
type SplatRasterizer struct {
	Splats *ActiveSplats

	concurrency int
	compositor  splatCompositor
}

// NewSplatRasterizer normalizes a splat cloud and prepares it for CPU
// rendering.
//
// A cloud without splats, or without any finite splat position, is a
// *RenderError.
func NewSplatRasterizer(cloud *SplatCloud) (*SplatRasterizer, error) {
	return newSplatRasterizer(cloud, nil, 0)
}

func newSplatRasterizer(cloud *SplatCloud, gpu splatCompositor,
	concurrency int) (*SplatRasterizer, error) {
	if cloud.Len() == 0 {
		return nil, renderErrorf("splat cloud is empty")
	}
	bounds := BoundsOf(cloud.Positions)
	transform, err := NewNormalization(bounds)
	if err != nil {
		return nil, err
	}
	if bounds.Skipped > 0 {
		Logger().Warn("ignoring non-finite splat positions", "count", bounds.Skipped)
	}
	res := &SplatRasterizer{
		Splats:      cloud.Activate(transform),
		concurrency: concurrency,
		compositor:  gpu,
	}
	if res.compositor == nil {
		res.compositor = &cpuSplatCompositor{Concurrency: concurrency}
	}
	return res, nil
}

// Render projects, sorts and composites the splats for one view.
func (s *SplatRasterizer) Render(pose CameraPose, width, height int) (*image.NRGBA, error) {
	start := time.Now()
	frame, err := projectSplats(s.Splats, pose, width, height, s.concurrency)
	if err != nil {
		return nil, err
	}
	img, err := s.compositor.Composite(frame)
	if err != nil {
		return nil, err
	}
	Logger().Debug("rendered splat view", "azimuth", pose.AzimuthDeg,
		"visible", len(frame.Splats), "duration", time.Since(start))
	return img, nil
}

type cpuSplatCompositor struct {
	Concurrency int
}

func (c *cpuSplatCompositor) Composite(frame *splatFrame) (*image.NRGBA, error) {
	img := image.NewNRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	essentials.ConcurrentMap(c.Concurrency, frame.TilesX*frame.TilesY, func(tile int) {
		indices := frame.TileRange(tile)
		minX := (tile % frame.TilesX) * splatTileSize
		minY := (tile / frame.TilesX) * splatTileSize
		maxX := essentials.MinInt(minX+splatTileSize, frame.Width)
		maxY := essentials.MinInt(minY+splatTileSize, frame.Height)
		for y := minY; y < maxY; y++ {
			for x := minX; x < maxX; x++ {
				c := compositePixel(frame.Splats, indices, float64(x)+0.5, float64(y)+0.5)
				img.SetNRGBA(x, y, opaqueColor(c))
			}
		}
	})
	return img, nil
}

// compositePixel blends splats front to back at a pixel center and puts the
// remaining transmittance onto the background.
func compositePixel(splats []projectedSplat, indices []int32, px, py float64) render3d.Color {
	var color render3d.Color
	transmittance := 1.0
	for _, idx := range indices {
		s := &splats[idx]
		dx, dy := px-s.MeanX, py-s.MeanY
		power := -0.5*(s.ConicA*dx*dx+s.ConicC*dy*dy) - s.ConicB*dx*dy
		if power > 0 {
			continue
		}
		alpha := math.Min(splatMaxAlpha, s.Opacity*math.Exp(power))
		if alpha < splatMinAlpha {
			continue
		}
		color = color.Add(s.Color.Scale(alpha * transmittance))
		transmittance *= 1 - alpha
		if transmittance < splatMinTransmittance {
			break
		}
	}
	return color.Add(Background.Scale(transmittance))
}
