package viewgrid

import (
	"math"
	"testing"

	"github.com/unixpickle/model3d/model2d"
	"github.com/unixpickle/model3d/model3d"
)

func TestSplitFaceBasic(t *testing.T) {
	face := testingFace(
		model3d.XYZ(-1, -1, 0.0),
		model3d.XYZ(1, -1, 0.1),
		model3d.XYZ(1, 1, -0.1),
	)
	axis := model3d.XYZ(0.01, 0.9, 0.01).Normalize()
	threshold := 0.1

	lt, ge := splitFace(face, axis, threshold)
	if len(lt) != 2 || len(ge) != 1 {
		t.Fatalf("expected two less-than and one greater-equal but got %d %d", len(lt), len(ge))
	}

	normal := face.GeometricNormal()
	totalArea := 0.0
	for _, f := range append(append([]*MeshFace{}, lt...), ge...) {
		if f.GeometricNormal().Dot(normal) < 1-1e-5 {
			t.Fatalf("face normal should be %v but got %v", normal, f.GeometricNormal())
		}
		totalArea += faceArea(f)
		for _, v := range f.Vertices {
			// Attributes are affine functions of the position, so
			// interpolation must preserve them exactly.
			if expected := testingAttributes(v.Position); v.Color.Dist(expected.Color) > 1e-8 ||
				v.UV.Dist(expected.UV) > 1e-8 {
				t.Fatalf("bad attributes at %v", v.Position)
			}
		}
	}
	if math.Abs(totalArea-faceArea(face)) > 1e-5 {
		t.Fatalf("total area should be %f but got %f", faceArea(face), totalArea)
	}
	for _, f := range ge {
		for _, v := range f.Vertices {
			if axis.Dot(v.Position) < threshold-1e-8 {
				t.Fatalf("vertex %v is on the wrong side", v.Position)
			}
		}
	}

	// Permutations yield the same areas.
	for i := 0; i < 2; i++ {
		v := &face.Vertices
		v[0], v[1], v[2] = v[1], v[2], v[0]
		lt1, ge1 := splitFace(face, axis, threshold)
		for j, pair := range [2][2][]*MeshFace{{lt, lt1}, {ge, ge1}} {
			if len(pair[0]) != len(pair[1]) {
				t.Fatalf("invalid pair: %d %d", i, j)
			}
			area1, area2 := 0.0, 0.0
			for _, f := range pair[0] {
				area1 += faceArea(f)
			}
			for _, f := range pair[1] {
				area2 += faceArea(f)
			}
			if math.Abs(area1-area2) > 1e-5 {
				t.Fatalf("mismatched area: %d %d %f %f", i, j, area1, area2)
			}
		}
	}
}

func TestClipNear(t *testing.T) {
	behind := testingFace(model3d.XYZ(0, 0, -1), model3d.XYZ(1, 0, -1), model3d.XYZ(0, 1, -2))
	if res := clipNear(behind, 0.5); len(res) != 0 {
		t.Errorf("expected face behind the camera to be dropped but got %d faces", len(res))
	}

	front := testingFace(model3d.XYZ(0, 0, 1), model3d.XYZ(1, 0, 1), model3d.XYZ(0, 1, 2))
	if res := clipNear(front, 0.5); len(res) != 1 || res[0] != front {
		t.Errorf("expected face in front of the camera to be kept")
	}

	crossing := testingFace(model3d.XYZ(0, 0, -1), model3d.XYZ(1, 0, 1), model3d.XYZ(0, 1, 1))
	res := clipNear(crossing, 0.5)
	if len(res) != 2 {
		t.Fatalf("expected 2 faces but got %d", len(res))
	}
	for _, f := range res {
		if f.Material != crossing.Material {
			t.Errorf("material was not preserved")
		}
		for _, v := range f.Vertices {
			if v.Position.Z < 0.5-1e-8 {
				t.Errorf("vertex %v is behind the near plane", v.Position)
			}
		}
	}
}

func testingFace(p1, p2, p3 model3d.Coord3D) *MeshFace {
	return &MeshFace{
		Vertices: [3]MeshVertex{testingAttributes(p1), testingAttributes(p2), testingAttributes(p3)},
		Material: 3,
	}
}

func testingAttributes(p model3d.Coord3D) MeshVertex {
	return MeshVertex{
		Position: p,
		Normal:   model3d.Z(1),
		UV:       model2d.XY(p.X+2*p.Y, p.Z-1),
		Color:    linearRGB(p.X, 0.5*p.Y, 1-p.Z),
	}
}

func faceArea(f *MeshFace) float64 {
	v := f.Vertices
	return v[1].Position.Sub(v[0].Position).Cross(v[2].Position.Sub(v[0].Position)).Norm() / 2
}
