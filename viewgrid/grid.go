package viewgrid

import (
	"bytes"
	"image"
	"image/png"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// ComposeGrid arranges four equally sized square tiles into a 2x2 grid
// separated by GridViewGap background pixels. Tile i goes to cell i, in
// the order top left, top right, bottom left, bottom right.
func ComposeGrid(tiles []*image.NRGBA) (*image.NRGBA, error) {
	if len(tiles) != 4 {
		return nil, renderErrorf("expected 4 tiles but got %d", len(tiles))
	}
	for i, t := range tiles {
		if t == nil {
			return nil, renderErrorf("tile %d is missing", i)
		}
	}
	size := tiles[0].Bounds().Dx()
	for i, t := range tiles {
		if b := t.Bounds(); b.Dx() != size || b.Dy() != size {
			return nil, renderErrorf("tile %d is %dx%d but expected %dx%d", i, b.Dx(), b.Dy(),
				size, size)
		}
	}
	step := size + GridViewGap
	grid := newBackgroundTile(2*size+GridViewGap, 2*size+GridViewGap)
	for i, t := range tiles {
		offset := image.Pt((i%2)*step, (i/2)*step)
		dst := image.Rectangle{Min: offset, Max: offset.Add(image.Pt(size, size))}
		draw.Draw(grid, dst, t, t.Bounds().Min, draw.Src)
	}
	return grid, nil
}

// EncodePNG losslessly encodes an image.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "encode png")
	}
	return buf.Bytes(), nil
}
