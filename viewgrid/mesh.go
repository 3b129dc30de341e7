package viewgrid

import (
	"github.com/unixpickle/model3d/model2d"
	"github.com/unixpickle/model3d/model3d"
	"github.com/unixpickle/model3d/render3d"
)

// A MeshVertex is one corner of a MeshFace.
type MeshVertex struct {
	Position model3d.Coord3D
	Normal   model3d.Coord3D
	UV       model2d.Coord
	Color    render3d.Color
}

// Lerp interpolates every attribute between v and other.
func (v MeshVertex) Lerp(other MeshVertex, t float64) MeshVertex {
	return MeshVertex{
		Position: v.Position.Scale(1 - t).Add(other.Position.Scale(t)),
		Normal:   v.Normal.Scale(1 - t).Add(other.Normal.Scale(t)),
		UV:       v.UV.Scale(1 - t).Add(other.UV.Scale(t)),
		Color:    v.Color.Scale(1 - t).Add(other.Color.Scale(t)),
	}
}

// A MeshFace is a triangle with per-vertex attributes.
type MeshFace struct {
	Vertices [3]MeshVertex

	// Material indexes MeshAsset.Materials.
	Material int
}

// GeometricNormal returns the unit normal implied by the winding order, or
// the zero vector for degenerate faces.
func (m *MeshFace) GeometricNormal() model3d.Coord3D {
	v := m.Vertices
	n := v[1].Position.Sub(v[0].Position).Cross(v[2].Position.Sub(v[0].Position))
	norm := n.Norm()
	if norm == 0 {
		return model3d.Coord3D{}
	}
	return n.Scale(1 / norm)
}

// A MeshMaterial is the subset of a PBR material used for shading.
type MeshMaterial struct {
	BaseColor render3d.Color

	// BaseTexture is nil when the material has no base color texture.
	BaseTexture *Texture
}

// BaseColorAt computes the unlit color of a surface point.
func (m *MeshMaterial) BaseColorAt(uv model2d.Coord, vertexColor render3d.Color) render3d.Color {
	c := m.BaseColor.Mul(vertexColor)
	if m.BaseTexture != nil {
		c = c.Mul(m.BaseTexture.Sample(uv))
	}
	return c
}

// A MeshAsset is a flattened triangle mesh with all node transforms applied.
type MeshAsset struct {
	Faces []*MeshFace

	// Materials always has at least one entry.
	Materials []*MeshMaterial
}

// NumTriangles returns the number of faces.
func (m *MeshAsset) NumTriangles() int {
	return len(m.Faces)
}

// Bounds computes the bounding box of all finite vertex positions.
func (m *MeshAsset) Bounds() Bounds {
	var b Bounds
	for _, f := range m.Faces {
		for _, v := range f.Vertices {
			b.Add(v.Position)
		}
	}
	return b
}

// Transformed returns a copy of the mesh with t applied to every position.
// Normals are unaffected since t is a uniform scale and a translation.
func (m *MeshAsset) Transformed(t NormalizationTransform) *MeshAsset {
	res := &MeshAsset{
		Faces:     make([]*MeshFace, len(m.Faces)),
		Materials: m.Materials,
	}
	for i, f := range m.Faces {
		f1 := *f
		for j := range f1.Vertices {
			f1.Vertices[j].Position = t.Apply(f1.Vertices[j].Position)
		}
		res.Faces[i] = &f1
	}
	return res
}

func defaultMaterial() *MeshMaterial {
	return &MeshMaterial{BaseColor: render3d.NewColor(1)}
}
