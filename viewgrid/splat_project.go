package viewgrid

import (
	"math"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/model3d/model3d"
	"github.com/unixpickle/model3d/render3d"
	"golang.org/x/exp/slices"
)

const (
	splatTileSize         = 16
	splatNearPlane        = 0.01
	splatLowPass          = 0.3
	splatFrustumSlack     = 1.3
	splatMinAlpha         = 1.0 / 255
	splatMaxAlpha         = 0.99
	splatMinTransmittance = 1e-4
)

// A projectedSplat is a splat in screen space.
type projectedSplat struct {
	MeanX, MeanY float64

	// ConicA, ConicB, ConicC are the entries of the inverse 2D covariance
	// [[A, B], [B, C]].
	ConicA, ConicB, ConicC float64

	Color   render3d.Color
	Opacity float64
	Depth   float64
	Radius  float64
}

// A splatFrame holds depth-sorted screen-space splats for one view, binned
// into square tiles.
type splatFrame struct {
	Width  int
	Height int
	TilesX int
	TilesY int

	// Splats are sorted front to back.
	Splats []projectedSplat

	// TileStarts has TilesX*TilesY+1 entries, and the splats overlapping
	// tile i are TileSplats[TileStarts[i]:TileStarts[i+1]], front to back.
	TileStarts []int32
	TileSplats []int32
}

func (s *splatFrame) TileRange(tile int) []int32 {
	return s.TileSplats[s.TileStarts[tile]:s.TileStarts[tile+1]]
}

// projectSplats projects splats into one view and bins them.
//
// Splats with non-finite positions, splats behind the near plane and
// splats which cannot reach the minimum alpha are culled. A non-finite
// projected covariance of any other splat is a *RenderError.
func projectSplats(s *ActiveSplats, pose CameraPose, width, height, concurrency int) (*splatFrame,
	error) {
	intr := pose.Intrinsics(width, height)
	rot := pose.Rotation()
	limX, limY := intr.TanHalfFov()
	limX *= splatFrustumSlack
	limY *= splatFrustumSlack

	frame := &splatFrame{
		Width:  width,
		Height: height,
		TilesX: (width + splatTileSize - 1) / splatTileSize,
		TilesY: (height + splatTileSize - 1) / splatTileSize,
	}

	projected := make([]projectedSplat, s.Len())
	visible := make([]bool, s.Len())
	invalid := make([]bool, s.Len())
	essentials.ConcurrentMap(concurrency, s.Len(), func(i int) {
		p := s.Positions[i]
		opacity := s.Opacities[i]
		if !isFiniteCoord(p) || !(opacity >= splatMinAlpha) {
			return
		}
		t := rot.MulColumn(p.Sub(pose.Eye))
		if t.Z < splatNearPlane {
			return
		}

		tx := clamp(t.X/t.Z, -limX, limX) * t.Z
		ty := clamp(t.Y/t.Z, -limY, limY) * t.Z
		f := intr.Focal
		jacobian := model3d.Matrix3{
			f / t.Z, 0, -f * tx / (t.Z * t.Z),
			0, f / t.Z, -f * ty / (t.Z * t.Z),
			0, 0, 0,
		}
		cov3 := s.Covariance(i)
		proj := jacobian.Mul(&rot)
		cov2 := proj.Mul(&cov3).Mul(proj.Transpose())
		a := cov2[0] + splatLowPass
		b := cov2[1]
		c := cov2[4] + splatLowPass
		if math.IsNaN(a+b+c) || math.IsInf(a+b+c, 0) {
			invalid[i] = true
			return
		}
		det := a*c - b*b
		if det <= 0 {
			return
		}

		mid := (a + c) / 2
		lambda := mid + math.Sqrt(math.Max(0.1, mid*mid-det))
		radius := math.Ceil(3 * math.Sqrt(lambda))
		meanX, meanY := intr.Project(t)
		if meanX+radius <= 0 || meanY+radius <= 0 ||
			meanX-radius >= float64(width) || meanY-radius >= float64(height) {
			return
		}

		projected[i] = projectedSplat{
			MeanX:   meanX,
			MeanY:   meanY,
			ConicA:  c / det,
			ConicB:  -b / det,
			ConicC:  a / det,
			Color:   evalSH(s.SHDegree, s.Coeffs(i), p.Sub(pose.Eye).Normalize()),
			Opacity: opacity,
			Depth:   t.Z,
			Radius:  radius,
		}
		visible[i] = true
	})

	for i, bad := range invalid {
		if bad {
			return nil, renderErrorf("non-finite projected covariance for splat %d", i)
		}
	}

	for i, ok := range visible {
		if ok {
			frame.Splats = append(frame.Splats, projected[i])
		}
	}
	slices.SortStableFunc(frame.Splats, func(x, y projectedSplat) bool {
		return x.Depth < y.Depth
	})
	frame.bin()
	return frame, nil
}

// tileBounds returns the inclusive range of tiles touched by s.
func (s *splatFrame) tileBounds(p *projectedSplat) (minX, minY, maxX, maxY int) {
	clampTile := func(v float64, count int) int {
		return int(clamp(math.Floor(v/splatTileSize), 0, float64(count-1)))
	}
	minX = clampTile(p.MeanX-p.Radius, s.TilesX)
	maxX = clampTile(p.MeanX+p.Radius, s.TilesX)
	minY = clampTile(p.MeanY-p.Radius, s.TilesY)
	maxY = clampTile(p.MeanY+p.Radius, s.TilesY)
	return
}

func (s *splatFrame) bin() {
	numTiles := s.TilesX * s.TilesY
	counts := make([]int32, numTiles+1)
	for i := range s.Splats {
		minX, minY, maxX, maxY := s.tileBounds(&s.Splats[i])
		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				counts[y*s.TilesX+x+1]++
			}
		}
	}
	for i := 1; i < len(counts); i++ {
		counts[i] += counts[i-1]
	}
	s.TileStarts = counts
	s.TileSplats = make([]int32, counts[numTiles])

	next := append([]int32{}, counts[:numTiles]...)
	for i := range s.Splats {
		minX, minY, maxX, maxY := s.tileBounds(&s.Splats[i])
		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				tile := y*s.TilesX + x
				s.TileSplats[next[tile]] = int32(i)
				next[tile]++
			}
		}
	}
}
