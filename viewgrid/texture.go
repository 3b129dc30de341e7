package viewgrid

import (
	"image"
	"math"

	"github.com/unixpickle/model3d/model2d"
	"github.com/unixpickle/model3d/render3d"
)

// A Texture is a decoded base color image with components in [0, 1].
type Texture struct {
	Width  int
	Height int
	Pixels []render3d.Color
}

// NewTexture converts an image into a texture, dropping alpha.
func NewTexture(img image.Image) *Texture {
	b := img.Bounds()
	res := &Texture{
		Width:  b.Dx(),
		Height: b.Dy(),
		Pixels: make([]render3d.Color, 0, b.Dx()*b.Dy()),
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			var c render3d.Color
			if a != 0 {
				// Undo premultiplication.
				c = linearRGB(float64(r), float64(g), float64(bl)).Scale(1 / float64(a))
			}
			res.Pixels = append(res.Pixels, c)
		}
	}
	return res
}

// Sample reads the texture with bilinear filtering and repeat wrapping.
// The UV origin is the top-left corner of the image.
func (t *Texture) Sample(uv model2d.Coord) render3d.Color {
	if t.Width == 0 || t.Height == 0 || !isFiniteUV(uv) {
		return render3d.NewColor(1)
	}
	x := uv.X*float64(t.Width) - 0.5
	y := uv.Y*float64(t.Height) - 0.5
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := x-x0, y-y0
	ix, iy := int(x0), int(y0)

	c00 := t.at(ix, iy)
	c10 := t.at(ix+1, iy)
	c01 := t.at(ix, iy+1)
	c11 := t.at(ix+1, iy+1)
	top := c00.Scale(1 - fx).Add(c10.Scale(fx))
	bottom := c01.Scale(1 - fx).Add(c11.Scale(fx))
	return top.Scale(1 - fy).Add(bottom.Scale(fy))
}

func (t *Texture) at(x, y int) render3d.Color {
	x %= t.Width
	if x < 0 {
		x += t.Width
	}
	y %= t.Height
	if y < 0 {
		y += t.Height
	}
	return t.Pixels[y*t.Width+x]
}

func isFiniteUV(c model2d.Coord) bool {
	return !math.IsNaN(c.X) && !math.IsInf(c.X, 0) && !math.IsNaN(c.Y) && !math.IsInf(c.Y, 0)
}
