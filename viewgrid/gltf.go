package viewgrid

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/unixpickle/model3d/model2d"
	"github.com/unixpickle/model3d/model3d"
	"github.com/unixpickle/model3d/render3d"
	_ "golang.org/x/image/webp"
)

// LoadMeshGLB decodes a binary glTF (or a self-contained JSON glTF) and
// flattens the triangles of its default scene into a MeshAsset.
//
// If the document has no default scene, every scene is used, and if it has
// no scenes at all, every mesh is used with an identity transform. Only
// triangle-list primitives are loaded. Missing normals are replaced with
// smooth vertex normals.
func LoadMeshGLB(data []byte) (*MeshAsset, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, &ParseError{Reason: "decode gltf", Err: err}
	}
	loader := &meshLoader{
		doc:       doc,
		asset:     &MeshAsset{Materials: []*MeshMaterial{defaultMaterial()}},
		materials: map[int]int{},
		visiting:  map[int]bool{},
	}
	if err := loader.load(); err != nil {
		return nil, err
	}
	return loader.asset, nil
}

type meshLoader struct {
	doc   *gltf.Document
	asset *MeshAsset

	// materials maps glTF material indices to asset material indices.
	materials map[int]int

	visiting map[int]bool
}

func (m *meshLoader) load() error {
	doc := m.doc
	if len(doc.Scenes) == 0 {
		for i := range doc.Meshes {
			if err := m.addMesh(i, identityAffine()); err != nil {
				return err
			}
		}
		return nil
	}
	scenes := doc.Scenes
	if doc.Scene != nil {
		if *doc.Scene < 0 || *doc.Scene >= len(doc.Scenes) {
			return parseErrorf("default scene %d out of range", *doc.Scene)
		}
		scenes = scenes[*doc.Scene : *doc.Scene+1]
	}
	for _, scene := range scenes {
		for _, node := range scene.Nodes {
			if err := m.addNode(node, identityAffine()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *meshLoader) addNode(index int, parent affine) error {
	if index < 0 || index >= len(m.doc.Nodes) {
		return parseErrorf("node %d out of range", index)
	}
	if m.visiting[index] {
		return parseErrorf("node %d is its own ancestor", index)
	}
	m.visiting[index] = true
	defer delete(m.visiting, index)

	node := m.doc.Nodes[index]
	xf := parent.Compose(nodeAffine(node))
	if node.Mesh != nil {
		if err := m.addMesh(*node.Mesh, xf); err != nil {
			return err
		}
	}
	for _, child := range node.Children {
		if err := m.addNode(child, xf); err != nil {
			return err
		}
	}
	return nil
}

func (m *meshLoader) addMesh(index int, xf affine) error {
	if index < 0 || index >= len(m.doc.Meshes) {
		return parseErrorf("mesh %d out of range", index)
	}
	for i, prim := range m.doc.Meshes[index].Primitives {
		if prim.Mode != gltf.PrimitiveTriangles {
			Logger().Warn("skipping non-triangle primitive", "mesh", index, "primitive", i,
				"mode", prim.Mode)
			continue
		}
		if err := m.addPrimitive(prim, xf); err != nil {
			return errors.Wrapf(err, "mesh %d primitive %d", index, i)
		}
	}
	return nil
}

func (m *meshLoader) accessor(index int) (*gltf.Accessor, error) {
	if index < 0 || index >= len(m.doc.Accessors) {
		return nil, parseErrorf("accessor %d out of range", index)
	}
	return m.doc.Accessors[index], nil
}

func (m *meshLoader) addPrimitive(prim *gltf.Primitive, xf affine) error {
	posIndex, ok := prim.Attributes["POSITION"]
	if !ok {
		return parseErrorf("primitive has no POSITION attribute")
	}
	acr, err := m.accessor(posIndex)
	if err != nil {
		return err
	}
	positions, err := modeler.ReadPosition(m.doc, acr, nil)
	if err != nil {
		return &ParseError{Reason: "read positions", Err: err}
	}
	numVerts := len(positions)

	var normals [][3]float32
	if idx, ok := prim.Attributes["NORMAL"]; ok {
		if acr, err := m.accessor(idx); err != nil {
			return err
		} else if normals, err = modeler.ReadNormal(m.doc, acr, nil); err != nil {
			return &ParseError{Reason: "read normals", Err: err}
		}
		if len(normals) != numVerts {
			Logger().Warn("ignoring normals with mismatched count")
			normals = nil
		}
	}
	var uvs [][2]float32
	if idx, ok := prim.Attributes["TEXCOORD_0"]; ok {
		if acr, err := m.accessor(idx); err != nil {
			return err
		} else if uvs, err = modeler.ReadTextureCoord(m.doc, acr, nil); err != nil {
			return &ParseError{Reason: "read texture coordinates", Err: err}
		}
		if len(uvs) != numVerts {
			uvs = nil
		}
	}
	var colors [][4]uint8
	if idx, ok := prim.Attributes["COLOR_0"]; ok {
		if acr, err := m.accessor(idx); err != nil {
			return err
		} else if colors, err = modeler.ReadColor(m.doc, acr, nil); err != nil {
			return &ParseError{Reason: "read vertex colors", Err: err}
		}
		if len(colors) != numVerts {
			colors = nil
		}
	}

	var indices []uint32
	if prim.Indices != nil {
		acr, err := m.accessor(*prim.Indices)
		if err != nil {
			return err
		}
		if indices, err = modeler.ReadIndices(m.doc, acr, nil); err != nil {
			return &ParseError{Reason: "read indices", Err: err}
		}
	} else {
		indices = make([]uint32, numVerts)
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	if len(indices)%3 != 0 {
		return parseErrorf("index count %d is not a multiple of 3", len(indices))
	}
	for _, idx := range indices {
		if int(idx) >= numVerts {
			return parseErrorf("index %d out of range for %d vertices", idx, numVerts)
		}
	}

	material, err := m.material(prim.Material)
	if err != nil {
		return err
	}

	verts := make([]MeshVertex, numVerts)
	normalMatrix := xf.NormalMatrix()
	for i, p := range positions {
		v := &verts[i]
		v.Position = xf.Apply(model3d.XYZ(float64(p[0]), float64(p[1]), float64(p[2])))
		v.Color = render3d.NewColor(1)
		if normals != nil {
			n := normals[i]
			v.Normal = safeNormalize(normalMatrix.MulColumn(
				model3d.XYZ(float64(n[0]), float64(n[1]), float64(n[2])),
			))
		}
		if uvs != nil {
			v.UV = model2d.XY(float64(uvs[i][0]), float64(uvs[i][1]))
		}
		if colors != nil {
			c := colors[i]
			v.Color = linearRGB(float64(c[0]), float64(c[1]), float64(c[2])).Scale(1.0 / 255)
		}
	}
	if normals == nil {
		smoothNormals(verts, indices)
	}

	for i := 0; i < len(indices); i += 3 {
		m.asset.Faces = append(m.asset.Faces, &MeshFace{
			Vertices: [3]MeshVertex{verts[indices[i]], verts[indices[i+1]], verts[indices[i+2]]},
			Material: material,
		})
	}
	return nil
}

func (m *meshLoader) material(index *int) (int, error) {
	if index == nil {
		return 0, nil
	}
	if res, ok := m.materials[*index]; ok {
		return res, nil
	}
	if *index < 0 || *index >= len(m.doc.Materials) {
		return 0, parseErrorf("material %d out of range", *index)
	}
	src := m.doc.Materials[*index]
	mat := defaultMaterial()
	if pbr := src.PBRMetallicRoughness; pbr != nil {
		factor := pbr.BaseColorFactorOrDefault()
		mat.BaseColor = linearRGB(factor[0], factor[1], factor[2])
		if pbr.BaseColorTexture != nil {
			tex, err := m.texture(pbr.BaseColorTexture.Index)
			if err != nil {
				return 0, errors.Wrapf(err, "material %d", *index)
			}
			mat.BaseTexture = tex
		}
	}
	m.asset.Materials = append(m.asset.Materials, mat)
	m.materials[*index] = len(m.asset.Materials) - 1
	return len(m.asset.Materials) - 1, nil
}

// texture decodes an embedded base color image. Textures stored in
// external files cannot be resolved and are skipped.
func (m *meshLoader) texture(index int) (*Texture, error) {
	if index < 0 || index >= len(m.doc.Textures) {
		return nil, parseErrorf("texture %d out of range", index)
	}
	source := m.doc.Textures[index].Source
	if source == nil {
		return nil, nil
	}
	if *source < 0 || *source >= len(m.doc.Images) {
		return nil, parseErrorf("image %d out of range", *source)
	}
	img := m.doc.Images[*source]

	var data []byte
	if img.BufferView != nil {
		var err error
		data, err = m.bufferViewData(*img.BufferView)
		if err != nil {
			return nil, err
		}
	} else if img.IsEmbeddedResource() {
		var err error
		data, err = img.MarshalData()
		if err != nil {
			return nil, &ParseError{Reason: "decode image data uri", Err: err}
		}
	} else {
		Logger().Warn("skipping external texture", "uri", img.URI)
		return nil, nil
	}

	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Reason: "decode texture image", Err: err}
	}
	Logger().Debug("decoded texture", "format", format, "bounds", decoded.Bounds())
	return NewTexture(decoded), nil
}

func (m *meshLoader) bufferViewData(index int) ([]byte, error) {
	if index < 0 || index >= len(m.doc.BufferViews) {
		return nil, parseErrorf("buffer view %d out of range", index)
	}
	bv := m.doc.BufferViews[index]
	if bv.Buffer < 0 || bv.Buffer >= len(m.doc.Buffers) {
		return nil, parseErrorf("buffer %d out of range", bv.Buffer)
	}
	data := m.doc.Buffers[bv.Buffer].Data
	if bv.ByteOffset < 0 || bv.ByteLength < 0 || bv.ByteOffset+bv.ByteLength > len(data) {
		return nil, parseErrorf("buffer view %d exceeds its buffer", index)
	}
	return data[bv.ByteOffset : bv.ByteOffset+bv.ByteLength], nil
}

// smoothNormals sets each vertex normal to the normalized sum of the
// area-weighted normals of the faces using it.
func smoothNormals(verts []MeshVertex, indices []uint32) {
	sums := make([]model3d.Coord3D, len(verts))
	for i := 0; i < len(indices); i += 3 {
		a, b, c := indices[i], indices[i+1], indices[i+2]
		p0 := verts[a].Position
		n := verts[b].Position.Sub(p0).Cross(verts[c].Position.Sub(p0))
		if !isFiniteCoord(n) {
			continue
		}
		sums[a] = sums[a].Add(n)
		sums[b] = sums[b].Add(n)
		sums[c] = sums[c].Add(n)
	}
	for i, n := range sums {
		verts[i].Normal = safeNormalize(n)
	}
}

func safeNormalize(c model3d.Coord3D) model3d.Coord3D {
	norm := c.Norm()
	if norm == 0 || !isFiniteCoord(c) {
		return model3d.Coord3D{}
	}
	return c.Scale(1 / norm)
}

// An affine transform maps p to Linear*p + Offset.
type affine struct {
	Linear model3d.Matrix3
	Offset model3d.Coord3D
}

func identityAffine() affine {
	return affine{Linear: model3d.Matrix3{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// nodeAffine reads a node's local transform, from either its matrix or its
// translation, rotation and scale.
func nodeAffine(n *gltf.Node) affine {
	var zero [16]float64
	if n.Matrix != zero && n.Matrix != gltf.DefaultMatrix {
		m := n.Matrix

		// glTF matrices are column-major.
		return affine{
			Linear: model3d.Matrix3{
				m[0], m[4], m[8],
				m[1], m[5], m[9],
				m[2], m[6], m[10],
			},
			Offset: model3d.XYZ(m[12], m[13], m[14]),
		}
	}
	t := n.TranslationOrDefault()
	r := n.RotationOrDefault()
	s := n.ScaleOrDefault()
	rot := quaternionMatrix([4]float64{r[3], r[0], r[1], r[2]})
	return affine{
		Linear: *rot.Mul(&model3d.Matrix3{s[0], 0, 0, 0, s[1], 0, 0, 0, s[2]}),
		Offset: model3d.XYZ(t[0], t[1], t[2]),
	}
}

// Compose returns the transform applying child and then a.
func (a affine) Compose(child affine) affine {
	return affine{
		Linear: *a.Linear.Mul(&child.Linear),
		Offset: a.Linear.MulColumn(child.Offset).Add(a.Offset),
	}
}

func (a affine) Apply(p model3d.Coord3D) model3d.Coord3D {
	return a.Linear.MulColumn(p).Add(a.Offset)
}

// NormalMatrix returns the inverse transpose of the linear part, falling
// back to the linear part itself when it is singular.
func (a affine) NormalMatrix() model3d.Matrix3 {
	if a.Linear.Det() == 0 {
		return a.Linear
	}
	return *a.Linear.Inverse().Transpose()
}
