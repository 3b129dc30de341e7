package viewgrid

import (
	"image"
	"math"
	"time"

	"github.com/unixpickle/model3d/model2d"
	"github.com/unixpickle/model3d/model3d"
	"github.com/unixpickle/model3d/render3d"
)

const meshNearPlane = 0.01

// A MeshRasterizer renders a triangle mesh with a z-buffer at Supersample
// times the output resolution, then box filters down to the output size.
type MeshRasterizer struct {
	Mesh *MeshAsset
}

// NewMeshRasterizer normalizes a mesh and prepares it for rendering.
//
// A mesh without triangles, or without any finite vertex, is a
// *RenderError.
func NewMeshRasterizer(mesh *MeshAsset) (*MeshRasterizer, error) {
	if mesh.NumTriangles() == 0 {
		return nil, renderErrorf("mesh has no triangles")
	}
	bounds := mesh.Bounds()
	transform, err := NewNormalization(bounds)
	if err != nil {
		return nil, err
	}
	if bounds.Skipped > 0 {
		Logger().Warn("ignoring non-finite mesh vertices", "count", bounds.Skipped)
	}
	return &MeshRasterizer{Mesh: mesh.Transformed(transform)}, nil
}

// Render draws the mesh from one pose.
func (m *MeshRasterizer) Render(pose CameraPose, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, renderErrorf("invalid frame size %dx%d", width, height)
	}
	start := time.Now()
	fb := newFrameBuffer(width*Supersample, height*Supersample)
	r := &meshViewRenderer{
		fb:      fb,
		pose:    pose,
		rot:     pose.Rotation(),
		intr:    pose.Intrinsics(fb.Width, fb.Height),
		forward: pose.LookAt.Sub(pose.Eye).Normalize(),
		mesh:    m.Mesh,
	}
	for _, f := range m.Mesh.Faces {
		r.drawFace(f)
	}
	img := fb.Downsample(Supersample)
	Logger().Debug("rendered mesh view", "azimuth", pose.AzimuthDeg,
		"covered", fb.CoveredCount(), "duration", time.Since(start))
	return img, nil
}

type meshViewRenderer struct {
	fb      *frameBuffer
	pose    CameraPose
	rot     model3d.Matrix3
	intr    Intrinsics
	forward model3d.Coord3D
	mesh    *MeshAsset
}

func (m *meshViewRenderer) drawFace(f *MeshFace) {
	camFace := &MeshFace{Material: f.Material}
	for i, v := range f.Vertices {
		if !isFiniteCoord(v.Position) {
			return
		}
		camFace.Vertices[i] = v
		camFace.Vertices[i].Position = m.rot.MulColumn(v.Position.Sub(m.pose.Eye))
	}
	// The geometric normal stands in for missing vertex normals.
	worldNormal := f.GeometricNormal()
	for _, clipped := range clipNear(camFace, meshNearPlane) {
		m.rasterize(clipped, worldNormal)
	}
}

func (m *meshViewRenderer) rasterize(f *MeshFace, faceNormal model3d.Coord3D) {
	var screen [3]model2d.Coord
	var invDepth [3]float64
	for i, v := range f.Vertices {
		x, y := m.intr.Project(v.Position)
		screen[i] = model2d.XY(x, y)
		invDepth[i] = 1 / v.Position.Z
	}

	area := edgeFunction(screen[0], screen[1], screen[2])
	if area == 0 || math.IsNaN(area) {
		return
	}

	lo := screen[0].Min(screen[1]).Min(screen[2])
	hi := screen[0].Max(screen[1]).Max(screen[2])
	minX := int(math.Max(0, math.Floor(lo.X)))
	minY := int(math.Max(0, math.Floor(lo.Y)))
	maxX := int(math.Min(float64(m.fb.Width-1), math.Ceil(hi.X)))
	maxY := int(math.Min(float64(m.fb.Height-1), math.Ceil(hi.Y)))

	material := m.mesh.Materials[f.Material]
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			p := model2d.XY(float64(x)+0.5, float64(y)+0.5)
			w0 := edgeFunction(screen[1], screen[2], p) / area
			w1 := edgeFunction(screen[2], screen[0], p) / area
			w2 := edgeFunction(screen[0], screen[1], p) / area
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}

			// Perspective-correct weights.
			b0, b1, b2 := w0*invDepth[0], w1*invDepth[1], w2*invDepth[2]
			depth := 1 / (b0 + b1 + b2)
			idx := y*m.fb.Width + x
			if !(depth < m.fb.Depth[idx]) {
				continue
			}
			b0, b1, b2 = b0*depth, b1*depth, b2*depth

			v := f.Vertices
			normal := v[0].Normal.Scale(b0).Add(v[1].Normal.Scale(b1)).Add(v[2].Normal.Scale(b2))
			normal = safeNormalize(normal)
			if normal == (model3d.Coord3D{}) {
				normal = faceNormal
			}
			uv := v[0].UV.Scale(b0).Add(v[1].UV.Scale(b1)).Add(v[2].UV.Scale(b2))
			vertColor := v[0].Color.Scale(b0).Add(v[1].Color.Scale(b1)).Add(v[2].Color.Scale(b2))

			base := material.BaseColorAt(uv, vertColor)
			shade := MeshAmbient + MeshDiffuse*math.Abs(normal.Dot(m.forward))
			m.fb.Depth[idx] = depth
			m.fb.Color[idx] = base.Scale(shade)
			m.fb.Covered[idx] = true
		}
	}
}

func edgeFunction(a, b, p model2d.Coord) float64 {
	return (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
}

type frameBuffer struct {
	Width   int
	Height  int
	Depth   []float64
	Color   []render3d.Color
	Covered []bool
}

func newFrameBuffer(width, height int) *frameBuffer {
	fb := &frameBuffer{
		Width:   width,
		Height:  height,
		Depth:   make([]float64, width*height),
		Color:   make([]render3d.Color, width*height),
		Covered: make([]bool, width*height),
	}
	for i := range fb.Depth {
		fb.Depth[i] = math.Inf(1)
	}
	return fb
}

func (f *frameBuffer) CoveredCount() int {
	var n int
	for _, c := range f.Covered {
		if c {
			n++
		}
	}
	return n
}

// Downsample averages factor x factor blocks. Uncovered samples contribute
// the background, and the result is opaque.
func (f *frameBuffer) Downsample(factor int) *image.NRGBA {
	width, height := f.Width/factor, f.Height/factor
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	scale := 1 / float64(factor*factor)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var sum render3d.Color
			for dy := 0; dy < factor; dy++ {
				for dx := 0; dx < factor; dx++ {
					idx := (y*factor+dy)*f.Width + x*factor + dx
					if f.Covered[idx] {
						sum = sum.Add(f.Color[idx])
					} else {
						sum = sum.Add(Background)
					}
				}
			}
			img.SetNRGBA(x, y, opaqueColor(sum.Scale(scale)))
		}
	}
	return img
}
