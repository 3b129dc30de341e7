package viewgrid

import "github.com/unixpickle/model3d/model3d"

// clipNear returns the parts of a camera-space face in front of the plane
// z = near.
func clipNear(f *MeshFace, near float64) []*MeshFace {
	_, front := splitFace(f, model3d.Z(1), near)
	return front
}

// splitFace cuts a face by the plane axis*x = threshold, interpolating
// every vertex attribute at the new vertices.
func splitFace(f *MeshFace, axis model3d.Coord3D, threshold float64) (lessThan,
	greaterEqual []*MeshFace) {
	var signs [3]bool
	for i, v := range f.Vertices {
		if axis.Dot(v.Position) >= threshold {
			signs[i] = true
		}
	}
	whole := func(side bool) ([]*MeshFace, []*MeshFace) {
		if side {
			return nil, []*MeshFace{f}
		}
		return []*MeshFace{f}, nil
	}
	if signs[0] == signs[1] && signs[1] == signs[2] {
		return whole(signs[0])
	}

	var trueCount int
	for _, s := range signs {
		if s {
			trueCount++
		}
	}
	majority := trueCount == 2

	// Walk the edges, emitting a new vertex wherever an edge crosses the
	// plane, to build a quad on the majority side and a triangle on the
	// minority side.
	majLoop := make([]MeshVertex, 0, 4)
	minLoop := make([]MeshVertex, 0, 3)
	for i, v := range f.Vertices {
		next := (i + 1) % 3
		if signs[i] == signs[next] {
			majLoop = append(majLoop, v)
			continue
		}

		p1 := v.Position
		r := f.Vertices[next].Position.Sub(p1)
		alpha := (threshold - axis.Dot(p1)) / axis.Dot(r)

		// Rounding error put the crossing outside the edge, so the face
		// really lies on one side.
		if alpha <= 0 {
			return whole(signs[next])
		} else if alpha >= 1 {
			return whole(signs[i])
		}

		mid := v.Lerp(f.Vertices[next], alpha)
		if signs[i] == majority {
			majLoop = append(majLoop, v)
		} else {
			minLoop = append(minLoop, v)
		}
		majLoop = append(majLoop, mid)
		minLoop = append(minLoop, mid)
	}

	face := func(a, b, c MeshVertex) *MeshFace {
		return &MeshFace{Vertices: [3]MeshVertex{a, b, c}, Material: f.Material}
	}
	majFaces := []*MeshFace{
		face(majLoop[0], majLoop[1], majLoop[3]),
		face(majLoop[1], majLoop[2], majLoop[3]),
	}
	minFaces := []*MeshFace{
		face(minLoop[0], minLoop[1], minLoop[2]),
	}
	if majority {
		return minFaces, majFaces
	}
	return majFaces, minFaces
}
