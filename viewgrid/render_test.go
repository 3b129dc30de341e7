package viewgrid

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"testing"

	"github.com/unixpickle/model3d/model3d"
)

func TestRendererEmptyPayload(t *testing.T) {
	r := NewRenderer(WithGPU(false))
	defer r.Close()
	for _, kind := range []AssetKind{KindSplat, KindMesh, AssetKind(17)} {
		for _, device := range []Device{DeviceAuto, DeviceGPU, DeviceCPU} {
			_, err := r.Render(nil, kind, device)
			var inputErr *InvalidInputError
			if !errors.As(err, &inputErr) {
				t.Errorf("kind %v device %v: expected invalid input but got %v", kind, device, err)
			}
		}
	}
}

func TestRendererSplatGrid(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var buf bytes.Buffer
	if err := WriteSplatPLY(&buf, testingSplatCloud(rng, 200, 1)); err != nil {
		t.Fatal(err)
	}
	r := NewRenderer(WithGPU(false))
	defer r.Close()
	data, err := r.Render(buf.Bytes(), KindSplat, DeviceAuto)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	gridSize := 2*ImageWidth + GridViewGap
	if img.Bounds() != image.Rect(0, 0, gridSize, gridSize) {
		t.Fatalf("unexpected grid bounds: %v", img.Bounds())
	}

	again, err := r.Render(buf.Bytes(), KindSplat, DeviceCPU)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Error("repeated renders differ")
	}
}

func TestRendererSingleSplatGrid(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSplatPLY(&buf, singleSplatCloud(model3d.Origin, 1, 0, 0)); err != nil {
		t.Fatal(err)
	}
	r := NewRenderer(WithGPU(false))
	defer r.Close()
	grid, err := r.RenderImage(buf.Bytes(), KindSplat, DeviceAuto)
	if err != nil {
		t.Fatal(err)
	}
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	for i := 0; i < 4; i++ {
		x0 := (i % 2) * (ImageWidth + GridViewGap)
		y0 := (i / 2) * (ImageHeight + GridViewGap)
		c := grid.NRGBAAt(x0+ImageWidth/2, y0+ImageHeight/2)
		if c.R < 250 || c.G > 10 || c.B > 10 || c.A != 255 {
			t.Errorf("cell %d: expected a red center but got %v", i, c)
		}
		corners := []image.Point{
			{x0, y0},
			{x0 + ImageWidth - 1, y0},
			{x0, y0 + ImageHeight - 1},
			{x0 + ImageWidth - 1, y0 + ImageHeight - 1},
		}
		for _, p := range corners {
			if c := grid.NRGBAAt(p.X, p.Y); c != white {
				t.Errorf("cell %d: expected white corner at %v but got %v", i, p, c)
			}
		}
	}
}

func TestRendererMeshGrid(t *testing.T) {
	r := NewRenderer(WithGPU(false), WithConcurrency(2))
	defer r.Close()
	grid, err := r.RenderImage(testingQuadGLB(t, testingGLBOptions{}), KindMesh, DeviceGPU)
	if err != nil {
		t.Fatal(err)
	}
	gridSize := 2*ImageWidth + GridViewGap
	if grid.Bounds() != image.Rect(0, 0, gridSize, gridSize) {
		t.Fatalf("unexpected grid bounds: %v", grid.Bounds())
	}
	// Every cell sees the quad at its center, and the gaps stay white.
	for i := 0; i < 4; i++ {
		x := (i%2)*(ImageWidth+GridViewGap) + ImageWidth/2
		y := (i/2)*(ImageWidth+GridViewGap) + ImageHeight/2
		if c := grid.NRGBAAt(x, y); c.R == 255 {
			t.Errorf("cell %d: expected the quad at the center but got %v", i, c)
		}
	}
	if c := grid.NRGBAAt(ImageWidth+2, ImageHeight/2); c.R != 255 || c.G != 255 || c.B != 255 {
		t.Errorf("expected a white gap but got %v", c)
	}
}

func TestRendererErrors(t *testing.T) {
	r := NewRenderer(WithGPU(false))
	defer r.Close()

	var parseErr *ParseError
	if _, err := r.Render([]byte("ply\nnonsense\n"), KindSplat, DeviceCPU); !errors.As(err, &parseErr) {
		t.Errorf("expected parse error but got %v", err)
	}
	if _, err := r.Render([]byte("not a mesh"), KindMesh, DeviceCPU); !errors.As(err, &parseErr) {
		t.Errorf("expected parse error but got %v", err)
	}

	var renderErr *RenderError
	var empty bytes.Buffer
	if err := WriteSplatPLY(&empty, &SplatCloud{}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Render(empty.Bytes(), KindSplat, DeviceCPU); !errors.As(err, &renderErr) {
		t.Errorf("expected render error for empty cloud but got %v", err)
	}
	points := testingQuadGLB(t, testingGLBOptions{Points: true})
	if _, err := r.Render(points, KindMesh, DeviceAuto); !errors.As(err, &renderErr) {
		t.Errorf("expected render error for zero triangles but got %v", err)
	}

	var ply bytes.Buffer
	WriteSplatPLY(&ply, singleSplatCloud(CameraPoses()[0].LookAt, 1, 0, 0))
	if _, err := r.Render(ply.Bytes(), KindSplat, DeviceGPU); !errors.As(err, &renderErr) {
		t.Errorf("expected render error for unavailable gpu but got %v", err)
	}
	if _, err := r.Render(ply.Bytes(), KindSplat, DeviceAuto); err != nil {
		t.Errorf("automatic device should fall back to cpu: %v", err)
	}

	var inputErr *InvalidInputError
	if _, err := r.Render(ply.Bytes(), KindSplat, Device(9)); !errors.As(err, &inputErr) {
		t.Errorf("expected invalid input for bad device but got %v", err)
	}
	if err := r.Warmup(); !errors.As(err, &renderErr) {
		t.Errorf("expected warmup to fail without a gpu but got %v", err)
	}
}

func TestWithLoggerSetsPackageLogger(t *testing.T) {
	prev := Logger()
	defer SetLogger(prev)

	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRenderer(WithGPU(false), WithLogger(l))
	defer r.Close()
	if Logger() != l {
		t.Error("expected the renderer's logger to become the package logger")
	}
}

func TestParseNames(t *testing.T) {
	devices := map[string]Device{"": DeviceAuto, "auto": DeviceAuto, "GPU": DeviceGPU,
		"cuda": DeviceGPU, " cpu ": DeviceCPU}
	for name, expected := range devices {
		if actual, err := ParseDevice(name); err != nil || actual != expected {
			t.Errorf("device %q: expected %v but got %v (%v)", name, expected, actual, err)
		}
	}
	kinds := map[string]AssetKind{"splat": KindSplat, "ply": KindSplat, "Mesh": KindMesh,
		"glb": KindMesh}
	for name, expected := range kinds {
		if actual, err := ParseAssetKind(name); err != nil || actual != expected {
			t.Errorf("kind %q: expected %v but got %v (%v)", name, expected, actual, err)
		}
	}
	files := map[string]AssetKind{"a/b/scene.PLY": KindSplat, "model.glb": KindMesh,
		"x.gltf": KindMesh}
	for name, expected := range files {
		if actual, err := KindFromFilename(name); err != nil || actual != expected {
			t.Errorf("file %q: expected %v but got %v (%v)", name, expected, actual, err)
		}
	}

	var inputErr *InvalidInputError
	if _, err := ParseDevice("tpu"); !errors.As(err, &inputErr) {
		t.Errorf("expected invalid input but got %v", err)
	}
	if _, err := ParseAssetKind("voxels"); !errors.As(err, &inputErr) {
		t.Errorf("expected invalid input but got %v", err)
	}
	if _, err := KindFromFilename("model.obj"); !errors.As(err, &inputErr) {
		t.Errorf("expected invalid input but got %v", err)
	}
}

func TestResolveDevice(t *testing.T) {
	if d, err := ResolveDevice(DeviceAuto, true, nil); err != nil || d != DeviceGPU {
		t.Errorf("expected gpu but got %v (%v)", d, err)
	}
	if d, err := ResolveDevice(DeviceAuto, false, errors.New("no gpu")); err != nil ||
		d != DeviceCPU {
		t.Errorf("expected cpu but got %v (%v)", d, err)
	}
	if d, err := ResolveDevice(DeviceCPU, true, nil); err != nil || d != DeviceCPU {
		t.Errorf("expected cpu but got %v (%v)", d, err)
	}
	var renderErr *RenderError
	if _, err := ResolveDevice(DeviceGPU, false, errors.New("no gpu")); !errors.As(err, &renderErr) {
		t.Errorf("expected render error but got %v", err)
	}
}

func TestReadPayload(t *testing.T) {
	data, err := ReadPayload(strings.NewReader("hello"), 5)
	if err != nil || string(data) != "hello" {
		t.Errorf("unexpected result %q (%v)", data, err)
	}
	var inputErr *InvalidInputError
	if _, err := ReadPayload(strings.NewReader("hello!"), 5); !errors.As(err, &inputErr) {
		t.Errorf("expected invalid input but got %v", err)
	}
}
