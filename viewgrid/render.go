package viewgrid

import (
	"image"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/model3d/model3d"
)

// MaxPayloadSize is the largest asset ReadPayload accepts.
const MaxPayloadSize = 200 << 20

// An AssetKind selects the loader and rasterizer for a payload.
type AssetKind int

const (
	KindSplat AssetKind = iota
	KindMesh
)

func (a AssetKind) String() string {
	switch a {
	case KindSplat:
		return "splat"
	case KindMesh:
		return "mesh"
	default:
		return "unknown"
	}
}

// ParseAssetKind parses "splat" (or "ply") and "mesh" (or "glb", "gltf").
func ParseAssetKind(s string) (AssetKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "splat", "ply":
		return KindSplat, nil
	case "mesh", "glb", "gltf":
		return KindMesh, nil
	default:
		return 0, invalidInputf("unknown asset kind: %q", s)
	}
}

// KindFromFilename infers the asset kind from a file extension.
func KindFromFilename(name string) (AssetKind, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ply":
		return KindSplat, nil
	case ".glb", ".gltf":
		return KindMesh, nil
	default:
		return 0, invalidInputf("unsupported file extension: %q", name)
	}
}

// ReadPayload reads an entire asset, failing with an *InvalidInputError as
// soon as more than maxSize bytes arrive.
func ReadPayload(r io.Reader, maxSize int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "read payload")
	}
	if int64(len(data)) > maxSize {
		return nil, invalidInputf("payload exceeds %d bytes", maxSize)
	}
	return data, nil
}

// An Option configures a Renderer.
type Option func(r *Renderer)

// WithConcurrency sets the number of goroutines used for CPU rendering.
// Zero means GOMAXPROCS.
func WithConcurrency(n int) Option {
	return func(r *Renderer) {
		r.concurrency = n
	}
}

// WithGPU enables or disables the GPU accelerator. It is enabled by
// default.
func WithGPU(enabled bool) Option {
	return func(r *Renderer) {
		r.gpuEnabled = enabled
	}
}

// WithLogger calls SetLogger(l) when the Renderer is created.
//
// The logger is package-wide rather than per Renderer: it replaces the
// logger of every Renderer in the process, including ones created earlier.
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) {
		SetLogger(l)
	}
}

// A Renderer turns asset payloads into grid images.
//
// A Renderer may be used from multiple goroutines. The GPU accelerator is
// created lazily on first use (or by Warmup) and shared by all requests.
type Renderer struct {
	concurrency int
	gpuEnabled  bool

	gpuOnce sync.Once
	gpu     *gpuAccelerator
	gpuErr  error
}

// NewRenderer creates a renderer with the given options.
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{gpuEnabled: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Renderer) accelerator() (*gpuAccelerator, error) {
	r.gpuOnce.Do(func() {
		if !r.gpuEnabled {
			r.gpuErr = errors.New("gpu disabled")
			return
		}
		r.gpu, r.gpuErr = newGPUAccelerator()
	})
	return r.gpu, r.gpuErr
}

// Warmup initializes the GPU accelerator and pushes a tiny frame through
// it, so that the first request does not pay for pipeline creation.
//
// An error means GPU requests will fail and automatic requests will use
// the CPU.
func (r *Renderer) Warmup() error {
	start := time.Now()
	gpu, err := r.accelerator()
	if err != nil {
		Logger().Warn("warmup: gpu unavailable", "error", err)
		return &RenderError{Reason: "gpu unavailable", Err: err}
	}
	cloud := &SplatCloud{
		Positions:     []model3d.Coord3D{{}},
		LogScales:     []model3d.Coord3D{{}},
		Rotations:     [][4]float64{{1, 0, 0, 0}},
		OpacityLogits: []float64{0},
		Features:      []float64{0, 0, 0},
	}
	rast, err := newSplatRasterizer(cloud, gpu, r.concurrency)
	if err != nil {
		return err
	}
	if _, err := rast.Render(CameraPoses()[0], splatTileSize*2, splatTileSize*2); err != nil {
		Logger().Warn("warmup: gpu render failed", "error", err)
		return err
	}
	Logger().Info("warmup complete", "device", gpu.Name(), "duration", time.Since(start))
	return nil
}

// Close releases the GPU accelerator, if one was created.
func (r *Renderer) Close() {
	r.gpuOnce.Do(func() {
		r.gpuErr = errors.New("renderer closed")
	})
	if r.gpu != nil {
		r.gpu.Close()
	}
}

// Render renders a payload into a PNG-encoded grid.
func (r *Renderer) Render(data []byte, kind AssetKind, device Device) ([]byte, error) {
	img, err := r.RenderImage(data, kind, device)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	encoded, err := EncodePNG(img)
	if err != nil {
		return nil, &RenderError{Reason: "encode grid", Err: err}
	}
	Logger().Debug("encoded grid", "bytes", len(encoded), "duration", time.Since(start))
	return encoded, nil
}

// RenderImage renders a payload into a grid image.
//
// Empty payloads and unknown kinds or devices fail with an
// *InvalidInputError before any parsing. Malformed assets fail with a
// *ParseError, and everything after loading fails with a *RenderError.
func (r *Renderer) RenderImage(data []byte, kind AssetKind, device Device) (*image.NRGBA, error) {
	if len(data) == 0 {
		return nil, invalidInputf("empty payload")
	}
	if device != DeviceAuto && device != DeviceGPU && device != DeviceCPU {
		return nil, invalidInputf("unknown device: %d", int(device))
	}
	start := time.Now()
	var rast Rasterizer
	var viewConcurrency int
	switch kind {
	case KindSplat:
		resolved := DeviceCPU
		var gpu *gpuAccelerator
		if device != DeviceCPU {
			var gpuErr error
			gpu, gpuErr = r.accelerator()
			var err error
			resolved, err = ResolveDevice(device, gpuErr == nil, gpuErr)
			if err != nil {
				return nil, err
			}
		}
		cloud, err := LoadSplatPLY(data)
		if err != nil {
			return nil, err
		}
		Logger().Debug("loaded splats", "bytes", len(data), "splats", cloud.Len(),
			"sh_degree", cloud.SHDegree, "device", resolved)
		var compositor splatCompositor
		if resolved == DeviceGPU {
			compositor = gpu
			// The accelerator serializes views anyway.
			viewConcurrency = 1
		}
		rast, err = newSplatRasterizer(cloud, compositor, r.concurrency)
		if err != nil {
			return nil, err
		}
	case KindMesh:
		mesh, err := LoadMeshGLB(data)
		if err != nil {
			return nil, err
		}
		Logger().Debug("loaded mesh", "bytes", len(data), "triangles", mesh.NumTriangles(),
			"materials", len(mesh.Materials))
		rast, err = NewMeshRasterizer(mesh)
		if err != nil {
			return nil, err
		}
	default:
		return nil, invalidInputf("unknown asset kind: %d", int(kind))
	}

	poses := CameraPoses()
	tiles, err := renderViews(rast, poses[:], ImageWidth, ImageHeight, viewConcurrency)
	if err != nil {
		return nil, err
	}
	grid, err := ComposeGrid(tiles)
	if err != nil {
		return nil, err
	}
	Logger().Info("rendered grid", "kind", kind, "duration", time.Since(start))
	return grid, nil
}

// renderViews renders every pose concurrently with r.
func renderViews(r Rasterizer, poses []CameraPose, width, height, concurrency int) ([]*image.NRGBA,
	error) {
	images := make([]*image.NRGBA, len(poses))
	errs := make([]error, len(poses))
	essentials.ConcurrentMap(concurrency, len(poses), func(i int) {
		images[i], errs[i] = r.Render(poses[i], width, height)
	})
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return images, nil
}
