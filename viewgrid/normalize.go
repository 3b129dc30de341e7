package viewgrid

import (
	"math"

	"github.com/unixpickle/model3d/model3d"
)

// Bounds is an axis-aligned bounding box over the finite points of an asset.
type Bounds struct {
	Min model3d.Coord3D
	Max model3d.Coord3D

	// Count is the number of finite points inside the bounds.
	Count int

	// Skipped is the number of points ignored for having NaN or infinite
	// components.
	Skipped int
}

// BoundsOf computes the bounds of all finite points in ps.
func BoundsOf(ps []model3d.Coord3D) Bounds {
	var b Bounds
	for _, p := range ps {
		b.Add(p)
	}
	return b
}

// Add expands the bounds to contain p if p is finite.
func (b *Bounds) Add(p model3d.Coord3D) {
	if !isFiniteCoord(p) {
		b.Skipped++
		return
	}
	if b.Count == 0 {
		b.Min, b.Max = p, p
	} else {
		b.Min = b.Min.Min(p)
		b.Max = b.Max.Max(p)
	}
	b.Count++
}

// Empty returns true if no finite point was added.
func (b Bounds) Empty() bool {
	return b.Count == 0
}

// MaxExtent returns the length of the largest axis of the bounds.
func (b Bounds) MaxExtent() float64 {
	return b.Max.Sub(b.Min).Abs().MaxCoord()
}

// A NormalizationTransform maps asset coordinates into the canonical frame,
// first translating and then scaling.
type NormalizationTransform struct {
	Translate model3d.Coord3D
	Scale     float64
}

// NewNormalization computes the transform which centers b at the origin and
// makes its largest axis RefBBoxSize long.
//
// If the largest axis is shorter than DegenerateExtent, the asset is only
// centered and the scale is 1.
func NewNormalization(b Bounds) (NormalizationTransform, error) {
	if b.Empty() {
		return NormalizationTransform{}, renderErrorf("no finite points to normalize")
	}
	scale := 1.0
	if extent := b.MaxExtent(); extent >= DegenerateExtent {
		scale = RefBBoxSize / extent
	}
	return NormalizationTransform{
		Translate: b.Max.Mid(b.Min).Scale(-1),
		Scale:     scale,
	}, nil
}

// Apply maps c into the normalized frame.
func (n NormalizationTransform) Apply(c model3d.Coord3D) model3d.Coord3D {
	return c.Add(n.Translate).Scale(n.Scale)
}

func isFiniteCoord(c model3d.Coord3D) bool {
	for _, x := range c.Array() {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
