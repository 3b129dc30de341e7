package viewgrid

import (
	"image"
	"image/color"

	"github.com/unixpickle/model3d/render3d"
	"golang.org/x/exp/constraints"
)

// Background is the color behind every asset and between grid cells.
var Background = render3d.NewColor(1)

// linearRGB builds a color from linear components, without the sRGB
// expansion applied by render3d.NewColorRGB.
func linearRGB(r, g, b float64) render3d.Color {
	return render3d.Color{X: r, Y: g, Z: b}
}

func clamp[F constraints.Float](x, min, max F) F {
	if x < min {
		return min
	} else if x > max {
		return max
	}
	return x
}

// unitToByte maps [0, 1] to [0, 255], treating NaN as 0.
func unitToByte[F constraints.Float](x F) uint8 {
	if !(x > 0) {
		return 0
	} else if x >= 1 {
		return 255
	}
	return uint8(x*255 + 0.5)
}

func opaqueColor(c render3d.Color) color.NRGBA {
	return color.NRGBA{
		R: unitToByte(c.X),
		G: unitToByte(c.Y),
		B: unitToByte(c.Z),
		A: 255,
	}
}

func newBackgroundTile(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	bg := opaqueColor(Background)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = bg.R
		img.Pix[i+1] = bg.G
		img.Pix[i+2] = bg.B
		img.Pix[i+3] = bg.A
	}
	return img
}
