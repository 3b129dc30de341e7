package viewgrid

import (
	"math"

	"github.com/unixpickle/model3d/model3d"
)

// A SplatCloud stores Gaussian splats exactly as they appear in a PLY file,
// before any activation functions are applied.
//
// All slices have one entry per splat, except Features which has
// NumCoeffs()*3 entries per splat.
type SplatCloud struct {
	Positions []model3d.Coord3D

	// LogScales must be exponentiated before use.
	LogScales []model3d.Coord3D

	// Rotations are (w, x, y, z) quaternions which are not necessarily
	// normalized.
	Rotations [][4]float64

	// OpacityLogits must pass through a sigmoid before use.
	OpacityLogits []float64

	// Features holds spherical harmonics coefficients ordered by splat, then
	// by coefficient, then by color channel. Coefficient 0 is the DC term.
	Features []float64

	SHDegree int
}

// Len returns the number of splats.
func (s *SplatCloud) Len() int {
	return len(s.Positions)
}

// NumCoeffs returns the number of SH coefficients per color channel.
func (s *SplatCloud) NumCoeffs() int {
	return shNumCoeffs(s.SHDegree)
}

// Coeffs returns the feature slice of splat i.
func (s *SplatCloud) Coeffs(i int) []float64 {
	k := s.NumCoeffs() * 3
	return s.Features[i*k : (i+1)*k]
}

func (s *SplatCloud) checkLengths() error {
	n := len(s.Positions)
	if len(s.LogScales) != n || len(s.Rotations) != n || len(s.OpacityLogits) != n ||
		len(s.Features) != n*s.NumCoeffs()*3 {
		return parseErrorf("mismatched splat attribute lengths")
	}
	return nil
}

// Activate applies activation functions and the normalization transform,
// producing splats which are ready for projection.
func (s *SplatCloud) Activate(t NormalizationTransform) *ActiveSplats {
	n := s.Len()
	res := &ActiveSplats{
		Positions: make([]model3d.Coord3D, n),
		Scales:    make([]model3d.Coord3D, n),
		Rotations: make([]model3d.Matrix3, n),
		Opacities: make([]float64, n),
		Features:  s.Features,
		SHDegree:  s.SHDegree,
	}
	for i := 0; i < n; i++ {
		res.Positions[i] = t.Apply(s.Positions[i])
		ls := s.LogScales[i]
		res.Scales[i] = model3d.XYZ(math.Exp(ls.X), math.Exp(ls.Y), math.Exp(ls.Z)).Scale(t.Scale)
		res.Rotations[i] = quaternionMatrix(s.Rotations[i])
		res.Opacities[i] = sigmoid(s.OpacityLogits[i])
	}
	return res
}

// ActiveSplats are normalized splats with activated scales, rotations and
// opacities.
type ActiveSplats struct {
	Positions []model3d.Coord3D
	Scales    []model3d.Coord3D
	Rotations []model3d.Matrix3
	Opacities []float64
	Features  []float64
	SHDegree  int
}

func (a *ActiveSplats) Len() int {
	return len(a.Positions)
}

func (a *ActiveSplats) Coeffs(i int) []float64 {
	k := shNumCoeffs(a.SHDegree) * 3
	return a.Features[i*k : (i+1)*k]
}

// Covariance computes the world-space covariance R*S*S^T*R^T of splat i.
func (a *ActiveSplats) Covariance(i int) model3d.Matrix3 {
	s := a.Scales[i]
	m := a.Rotations[i].Mul(&model3d.Matrix3{
		s.X, 0, 0,
		0, s.Y, 0,
		0, 0, s.Z,
	})
	mt := m.Transpose()
	return *m.Mul(mt)
}

// quaternionMatrix normalizes a (w, x, y, z) quaternion and converts it to a
// rotation matrix. Degenerate quaternions yield the identity.
func quaternionMatrix(q [4]float64) model3d.Matrix3 {
	norm := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return model3d.Matrix3{1, 0, 0, 0, 1, 0, 0, 0, 1}
	}
	w, x, y, z := q[0]/norm, q[1]/norm, q[2]/norm, q[3]/norm
	return model3d.Matrix3{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
