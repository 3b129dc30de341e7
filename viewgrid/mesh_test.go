package viewgrid

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/unixpickle/model3d/model3d"
)

func TestLoadMeshGLB(t *testing.T) {
	data := testingQuadGLB(t, testingGLBOptions{})
	mesh, err := LoadMeshGLB(data)
	if err != nil {
		t.Fatal(err)
	}
	if mesh.NumTriangles() != 2 {
		t.Fatalf("expected 2 triangles but got %d", mesh.NumTriangles())
	}
	for _, f := range mesh.Faces {
		for _, v := range f.Vertices {
			if v.Normal.Dist(model3d.Z(1)) > 1e-8 {
				t.Errorf("expected generated +Z normal but got %v", v.Normal)
			}
			if v.Color != Background {
				t.Errorf("expected white vertex color but got %v", v.Color)
			}
		}
	}
	b := mesh.Bounds()
	if b.Min != model3d.XYZ(-0.5, -0.5, 0) || b.Max != model3d.XYZ(0.5, 0.5, 0) {
		t.Errorf("unexpected bounds %v %v", b.Min, b.Max)
	}
}

func TestLoadMeshGLBNodeTransform(t *testing.T) {
	data := testingQuadGLB(t, testingGLBOptions{
		Node: map[string]any{
			"translation": []float64{1, 2, 3},
			"rotation":    []float64{0, 0, math.Sin(math.Pi / 4), math.Cos(math.Pi / 4)},
			"scale":       []float64{2, 4, 1},
		},
	})
	mesh, err := LoadMeshGLB(data)
	if err != nil {
		t.Fatal(err)
	}
	b := mesh.Bounds()

	// The quad is scaled to 2x4, then rotated 90 degrees about Z into 4x2.
	if b.Min.Dist(model3d.XYZ(-1, 1, 3)) > 1e-8 || b.Max.Dist(model3d.XYZ(3, 3, 3)) > 1e-8 {
		t.Errorf("unexpected bounds %v %v", b.Min, b.Max)
	}

	matrixData := testingQuadGLB(t, testingGLBOptions{
		Node: map[string]any{
			"matrix": []float64{
				2, 0, 0, 0,
				0, 2, 0, 0,
				0, 0, 2, 0,
				5, 0, 0, 1,
			},
		},
	})
	mesh, err = LoadMeshGLB(matrixData)
	if err != nil {
		t.Fatal(err)
	}
	b = mesh.Bounds()
	if b.Min.Dist(model3d.XYZ(4, -1, 0)) > 1e-8 || b.Max.Dist(model3d.XYZ(6, 1, 0)) > 1e-8 {
		t.Errorf("unexpected bounds %v %v", b.Min, b.Max)
	}
}

func TestLoadMeshGLBMaterial(t *testing.T) {
	data := testingQuadGLB(t, testingGLBOptions{
		Material: map[string]any{
			"pbrMetallicRoughness": map[string]any{
				"baseColorFactor": []float64{1, 0.5, 0.25, 1},
			},
		},
	})
	mesh, err := LoadMeshGLB(data)
	if err != nil {
		t.Fatal(err)
	}
	mat := mesh.Materials[mesh.Faces[0].Material]
	if mat.BaseColor.Dist(model3d.XYZ(1, 0.5, 0.25)) > 1e-8 {
		t.Errorf("unexpected base color %v", mat.BaseColor)
	}
	if mat.BaseTexture != nil {
		t.Error("unexpected texture")
	}
}

func TestLoadMeshGLBVertexColors(t *testing.T) {
	data := testingQuadGLB(t, testingGLBOptions{
		Colors: [][4]uint8{
			{255, 0, 0, 255},
			{0, 255, 0, 255},
			{0, 0, 255, 255},
			{51, 102, 204, 255},
		},
	})
	mesh, err := LoadMeshGLB(data)
	if err != nil {
		t.Fatal(err)
	}
	expected := map[model3d.Coord3D]model3d.Coord3D{
		model3d.XYZ(-0.5, -0.5, 0): model3d.XYZ(1, 0, 0),
		model3d.XYZ(0.5, -0.5, 0):  model3d.XYZ(0, 1, 0),
		model3d.XYZ(0.5, 0.5, 0):   model3d.XYZ(0, 0, 1),
		model3d.XYZ(-0.5, 0.5, 0):  model3d.XYZ(0.2, 0.4, 0.8),
	}
	for _, f := range mesh.Faces {
		for _, v := range f.Vertices {
			if c := expected[v.Position]; v.Color.Dist(c) > 1e-8 {
				t.Errorf("vertex %v: expected color %v but got %v", v.Position, c, v.Color)
			}
		}
	}
}

func TestLoadMeshGLBErrors(t *testing.T) {
	var parseErr *ParseError
	if _, err := LoadMeshGLB([]byte("definitely not a glb")); !errors.As(err, &parseErr) {
		t.Errorf("expected parse error but got %v", err)
	}

	data := testingQuadGLB(t, testingGLBOptions{Node: map[string]any{"children": []int{0}}})
	if _, err := LoadMeshGLB(data); !errors.As(err, &parseErr) {
		t.Errorf("expected parse error for cyclic nodes but got %v", err)
	}
}

func TestMeshRasterizerQuad(t *testing.T) {
	mesh, err := LoadMeshGLB(testingQuadGLB(t, testingGLBOptions{}))
	if err != nil {
		t.Fatal(err)
	}
	rast, err := NewMeshRasterizer(mesh)
	if err != nil {
		t.Fatal(err)
	}
	pose := CameraPoses()[0]
	img, err := rast.Render(pose, 64, 64)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 64 {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}

	_, _, forward := pose.Basis()
	shade := MeshAmbient + MeshDiffuse*math.Abs(forward.Z)
	expected := unitToByte(shade)
	c := img.NRGBAAt(32, 32)
	if absDiff(c.R, expected) > 1 || c.R != c.G || c.G != c.B || c.A != 255 {
		t.Errorf("expected gray level %d at the center but got %v", expected, c)
	}
	if c := img.NRGBAAt(0, 0); c.R != 255 || c.G != 255 || c.B != 255 {
		t.Errorf("expected background in the corner but got %v", c)
	}

	// Rendering from behind shows the same shade since lighting is
	// two-sided.
	img, err = rast.Render(CameraPoses()[2], 64, 64)
	if err != nil {
		t.Fatal(err)
	}
	if c := img.NRGBAAt(32, 32); absDiff(c.R, expected) > 1 {
		t.Errorf("expected gray level %d from behind but got %v", expected, c)
	}
}

func TestMeshRasterizerEmpty(t *testing.T) {
	var renderErr *RenderError
	if _, err := NewMeshRasterizer(&MeshAsset{}); !errors.As(err, &renderErr) {
		t.Errorf("expected render error but got %v", err)
	}

	mesh, err := LoadMeshGLB(testingQuadGLB(t, testingGLBOptions{Points: true}))
	if err != nil {
		t.Fatal(err)
	}
	if mesh.NumTriangles() != 0 {
		t.Fatalf("expected points to be skipped")
	}
	if _, err := NewMeshRasterizer(mesh); !errors.As(err, &renderErr) {
		t.Errorf("expected render error but got %v", err)
	}
}

func TestFrameBufferDownsample(t *testing.T) {
	fb := newFrameBuffer(4, 2)
	for i := 0; i < 4; i++ {
		fb.Covered[i] = true
	}
	fb.Color[0] = model3d.XYZ(0, 0, 0)
	fb.Color[1] = model3d.XYZ(0, 0, 0)
	fb.Color[2] = model3d.XYZ(1, 0, 0)
	fb.Color[3] = model3d.XYZ(1, 0, 0)
	img := fb.Downsample(2)
	if c := img.NRGBAAt(0, 0); c.R != 128 || c.G != 128 || c.B != 128 || c.A != 255 {
		t.Errorf("expected half coverage of black over white but got %v", c)
	}
	if c := img.NRGBAAt(1, 0); c.R != 255 || c.G != 128 || c.B != 128 {
		t.Errorf("expected half coverage of red over white but got %v", c)
	}
}

type testingGLBOptions struct {
	// Node holds extra fields for the single scene node.
	Node map[string]any

	// Material, if set, is attached to the primitive.
	Material map[string]any

	// Points uses POINTS mode instead of TRIANGLES.
	Points bool

	// Colors, if set, are stored as a normalized unsigned byte COLOR_0
	// attribute, one per corner.
	Colors [][4]uint8
}

// testingQuadGLB encodes a unit square in the XY plane, centered at the
// origin and facing +Z, as a binary glTF file.
func testingQuadGLB(t *testing.T, opts testingGLBOptions) []byte {
	var bin bytes.Buffer
	positions := []float32{
		-0.5, -0.5, 0,
		0.5, -0.5, 0,
		0.5, 0.5, 0,
		-0.5, 0.5, 0,
	}
	indices := []uint32{0, 1, 2, 0, 2, 3}
	binary.Write(&bin, binary.LittleEndian, positions)
	binary.Write(&bin, binary.LittleEndian, indices)
	if opts.Colors != nil {
		binary.Write(&bin, binary.LittleEndian, opts.Colors)
	}

	node := map[string]any{"mesh": 0}
	for k, v := range opts.Node {
		node[k] = v
	}
	primitive := map[string]any{
		"attributes": map[string]int{"POSITION": 0},
		"indices":    1,
	}
	if opts.Points {
		primitive["mode"] = 0
	}
	doc := map[string]any{
		"asset":  map[string]any{"version": "2.0"},
		"scene":  0,
		"scenes": []any{map[string]any{"nodes": []int{0}}},
		"nodes":  []any{node},
		"meshes": []any{map[string]any{"primitives": []any{primitive}}},
		"buffers": []any{
			map[string]any{"byteLength": bin.Len()},
		},
		"bufferViews": []any{
			map[string]any{"buffer": 0, "byteOffset": 0, "byteLength": 48, "target": 34962},
			map[string]any{"buffer": 0, "byteOffset": 48, "byteLength": 24, "target": 34963},
		},
		"accessors": []any{
			map[string]any{
				"bufferView": 0, "componentType": 5126, "count": 4, "type": "VEC3",
				"min": []float64{-0.5, -0.5, 0}, "max": []float64{0.5, 0.5, 0},
			},
			map[string]any{
				"bufferView": 1, "componentType": 5125, "count": 6, "type": "SCALAR",
			},
		},
	}
	if opts.Colors != nil {
		primitive["attributes"].(map[string]int)["COLOR_0"] = 2
		doc["bufferViews"] = append(doc["bufferViews"].([]any), map[string]any{
			"buffer": 0, "byteOffset": 72, "byteLength": 4 * len(opts.Colors), "target": 34962,
		})
		doc["accessors"] = append(doc["accessors"].([]any), map[string]any{
			"bufferView": 2, "componentType": 5121, "normalized": true,
			"count": len(opts.Colors), "type": "VEC4",
		})
	}
	if opts.Material != nil {
		doc["materials"] = []any{opts.Material}
		primitive["material"] = 0
	}
	jsonData, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	return encodeGLB(jsonData, bin.Bytes())
}

func encodeGLB(jsonData, binData []byte) []byte {
	const (
		magic     = 0x46546c67
		typeJSON  = 0x4e4f534a
		typeBIN   = 0x004e4942
		headerLen = 12
		chunkLen  = 8
	)
	for len(jsonData)%4 != 0 {
		jsonData = append(jsonData, ' ')
	}
	for len(binData)%4 != 0 {
		binData = append(binData, 0)
	}
	total := headerLen + chunkLen + len(jsonData) + chunkLen + len(binData)

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, [3]uint32{magic, 2, uint32(total)})
	binary.Write(&buf, binary.LittleEndian, [2]uint32{uint32(len(jsonData)), typeJSON})
	buf.Write(jsonData)
	binary.Write(&buf, binary.LittleEndian, [2]uint32{uint32(len(binData)), typeBIN})
	buf.Write(binData)
	return buf.Bytes()
}
