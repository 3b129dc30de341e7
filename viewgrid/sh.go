package viewgrid

import (
	"github.com/unixpickle/model3d/model3d"
	"github.com/unixpickle/model3d/render3d"
)

const maxSHDegree = 3

const (
	shC0 = 0.28209479177387814
	shC1 = 0.4886025119029199
)

var shC2 = [5]float64{
	1.0925484305920792,
	-1.0925484305920792,
	0.31539156525252005,
	-1.0925484305920792,
	0.5462742152960396,
}

var shC3 = [7]float64{
	-0.5900435899266435,
	2.890611442640554,
	-0.4570457994644658,
	0.3731763325901154,
	-0.4570457994644658,
	1.445305721320277,
	-0.5900435899266435,
}

func shNumCoeffs(degree int) int {
	return (degree + 1) * (degree + 1)
}

// evalSH computes the RGB color of real spherical harmonics coefficients in
// the unit direction dir.
//
// The coefficients are ordered by coefficient and then by channel. The DC
// term is offset by 0.5 and the result is clamped to be non-negative.
func evalSH(degree int, coeffs []float64, dir model3d.Coord3D) render3d.Color {
	basis := shBasis(degree, dir)
	var res render3d.Color
	for k, b := range basis[:shNumCoeffs(degree)] {
		res = res.Add(linearRGB(coeffs[k*3], coeffs[k*3+1], coeffs[k*3+2]).Scale(b))
	}
	return res.Add(render3d.NewColor(0.5)).Max(render3d.Color{})
}

func shBasis(degree int, dir model3d.Coord3D) [16]float64 {
	var res [16]float64
	res[0] = shC0
	if degree < 1 {
		return res
	}
	x, y, z := dir.X, dir.Y, dir.Z
	res[1] = -shC1 * y
	res[2] = shC1 * z
	res[3] = -shC1 * x
	if degree < 2 {
		return res
	}
	xx, yy, zz := x*x, y*y, z*z
	xy, yz, xz := x*y, y*z, x*z
	res[4] = shC2[0] * xy
	res[5] = shC2[1] * yz
	res[6] = shC2[2] * (2*zz - xx - yy)
	res[7] = shC2[3] * xz
	res[8] = shC2[4] * (xx - yy)
	if degree < 3 {
		return res
	}
	res[9] = shC3[0] * y * (3*xx - yy)
	res[10] = shC3[1] * xy * z
	res[11] = shC3[2] * y * (4*zz - xx - yy)
	res[12] = shC3[3] * z * (2*zz - 3*xx - 3*yy)
	res[13] = shC3[4] * x * (4*zz - xx - yy)
	res[14] = shC3[5] * z * (xx - yy)
	res[15] = shC3[6] * x * (xx - 3*yy)
	return res
}
