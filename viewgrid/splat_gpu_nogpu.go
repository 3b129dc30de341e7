//go:build nogpu

package viewgrid

import (
	"image"

	"github.com/pkg/errors"
)

type gpuAccelerator struct{}

func newGPUAccelerator() (*gpuAccelerator, error) {
	return nil, errors.New("built without gpu support")
}

func (a *gpuAccelerator) Name() string {
	return "none"
}

func (a *gpuAccelerator) Close() {
}

func (a *gpuAccelerator) Composite(frame *splatFrame) (*image.NRGBA, error) {
	return nil, renderErrorf("built without gpu support")
}
