package viewgrid

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/unixpickle/model3d/model3d"
)

const maxPLYHeaderSize = 1 << 16

type plyScalar struct {
	Name  string
	Size  int
	Float bool
}

var plyScalars = map[string]plyScalar{
	"char":    {"int8", 1, false},
	"int8":    {"int8", 1, false},
	"uchar":   {"uint8", 1, false},
	"uint8":   {"uint8", 1, false},
	"short":   {"int16", 2, false},
	"int16":   {"int16", 2, false},
	"ushort":  {"uint16", 2, false},
	"uint16":  {"uint16", 2, false},
	"int":     {"int32", 4, false},
	"int32":   {"int32", 4, false},
	"uint":    {"uint32", 4, false},
	"uint32":  {"uint32", 4, false},
	"float":   {"float32", 4, true},
	"float32": {"float32", 4, true},
	"double":  {"float64", 8, true},
	"float64": {"float64", 8, true},
}

type plyProperty struct {
	Name   string
	Type   plyScalar
	Offset int
}

type plyElement struct {
	Name       string
	Count      int
	Properties []plyProperty
	HasList    bool
}

func (p *plyElement) RecordSize() int {
	var size int
	for _, prop := range p.Properties {
		size += prop.Type.Size
	}
	return size
}

func (p *plyElement) Property(name string) (plyProperty, bool) {
	for _, prop := range p.Properties {
		if prop.Name == name {
			return prop, true
		}
	}
	return plyProperty{}, false
}

type plyHeader struct {
	Order    binary.ByteOrder
	Elements []*plyElement
}

// ReadSplatPLY decodes a Gaussian splat PLY file from r.
//
// See LoadSplatPLY for details on the accepted format.
func ReadSplatPLY(r io.Reader) (*SplatCloud, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read splat ply")
	}
	return LoadSplatPLY(data)
}

// LoadSplatPLY decodes a binary Gaussian splat PLY file.
//
// The vertex element must contain float properties x, y, z, scale_0..2,
// rot_0..3, opacity, f_dc_0..2 and 0, 9, 24 or 45 f_rest_* properties.
// Other scalar properties and elements are skipped.
//
// Any malformed input results in a *ParseError, and no partial cloud is
// returned.
func LoadSplatPLY(data []byte) (*SplatCloud, error) {
	reader := bufio.NewReader(io.LimitReader(bytes.NewReader(data), maxPLYHeaderSize))
	header, headerSize, err := readPLYHeader(reader)
	if err != nil {
		return nil, err
	}
	payload := data[headerSize:]

	var vertex *plyElement
	for _, elem := range header.Elements {
		if elem.Name == "vertex" {
			vertex = elem
			break
		}
		if elem.HasList {
			return nil, parseErrorf("element %q before vertex has list properties", elem.Name)
		}
		size := elem.RecordSize()
		if size > 0 && elem.Count > len(payload)/size {
			return nil, parseErrorf("truncated payload in element %q", elem.Name)
		}
		payload = payload[elem.Count*size:]
	}
	if vertex == nil {
		return nil, parseErrorf("missing vertex element")
	}
	if vertex.HasList {
		return nil, parseErrorf("vertex element has list properties")
	}

	layout, err := newSplatLayout(vertex)
	if err != nil {
		return nil, err
	}
	recordSize := vertex.RecordSize()
	if recordSize == 0 || vertex.Count > len(payload)/recordSize {
		return nil, parseErrorf("truncated payload: %d vertices of %d bytes need more than %d bytes",
			vertex.Count, recordSize, len(payload))
	}
	return layout.Decode(header.Order, payload, recordSize, vertex.Count), nil
}

func readPLYHeader(r *bufio.Reader) (header *plyHeader, size int, err error) {
	readLine := func() (string, error) {
		line, err := r.ReadString('\n')
		size += len(line)
		if err != nil {
			if err == io.EOF {
				return "", parseErrorf("unterminated header")
			}
			return "", &ParseError{Reason: "read header", Err: err}
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	magic, err := readLine()
	if err != nil {
		return nil, 0, err
	}
	if magic != "ply" {
		return nil, 0, parseErrorf("missing ply magic")
	}

	header = &plyHeader{}
	var curElement *plyElement
	for {
		line, err := readLine()
		if err != nil {
			return nil, 0, err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "comment", "obj_info":
		case "format":
			if len(fields) != 3 {
				return nil, 0, parseErrorf("malformed format line: %q", line)
			}
			if fields[2] != "1.0" {
				return nil, 0, parseErrorf("unsupported format version: %s", fields[2])
			}
			switch fields[1] {
			case "binary_little_endian":
				header.Order = binary.LittleEndian
			case "binary_big_endian":
				header.Order = binary.BigEndian
			default:
				return nil, 0, parseErrorf("unsupported format: %s", fields[1])
			}
		case "element":
			if len(fields) != 3 {
				return nil, 0, parseErrorf("malformed element line: %q", line)
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil || count < 0 {
				return nil, 0, parseErrorf("invalid element count: %q", fields[2])
			}
			curElement = &plyElement{Name: fields[1], Count: count}
			header.Elements = append(header.Elements, curElement)
		case "property":
			if curElement == nil {
				return nil, 0, parseErrorf("property outside of element")
			}
			if len(fields) >= 2 && fields[1] == "list" {
				curElement.HasList = true
				continue
			}
			if len(fields) != 3 {
				return nil, 0, parseErrorf("malformed property line: %q", line)
			}
			scalar, ok := plyScalars[fields[1]]
			if !ok {
				return nil, 0, parseErrorf("unknown property type: %s", fields[1])
			}
			if _, exists := curElement.Property(fields[2]); exists {
				return nil, 0, parseErrorf("duplicate property: %s", fields[2])
			}
			curElement.Properties = append(curElement.Properties, plyProperty{
				Name:   fields[2],
				Type:   scalar,
				Offset: curElement.RecordSize(),
			})
		case "end_header":
			if header.Order == nil {
				return nil, 0, parseErrorf("missing format line")
			}
			return header, size, nil
		default:
			return nil, 0, parseErrorf("unexpected header line: %q", line)
		}
	}
}

type splatLayout struct {
	Position [3]plyProperty
	Scale    [3]plyProperty
	Rotation [4]plyProperty
	Opacity  plyProperty
	DC       [3]plyProperty
	Rest     []plyProperty
	SHDegree int
}

func newSplatLayout(vertex *plyElement) (*splatLayout, error) {
	res := &splatLayout{}
	lookup := func(name string) (plyProperty, error) {
		prop, ok := vertex.Property(name)
		if !ok {
			return prop, parseErrorf("missing vertex property: %s", name)
		}
		if !prop.Type.Float {
			return prop, parseErrorf("vertex property %s has non-float type %s", name, prop.Type.Name)
		}
		return prop, nil
	}
	var err error
	for i, name := range []string{"x", "y", "z"} {
		if res.Position[i], err = lookup(name); err != nil {
			return nil, err
		}
	}
	for i := 0; i < 3; i++ {
		if res.Scale[i], err = lookup(fmt.Sprintf("scale_%d", i)); err != nil {
			return nil, err
		}
		if res.DC[i], err = lookup(fmt.Sprintf("f_dc_%d", i)); err != nil {
			return nil, err
		}
	}
	for i := 0; i < 4; i++ {
		if res.Rotation[i], err = lookup(fmt.Sprintf("rot_%d", i)); err != nil {
			return nil, err
		}
	}
	if res.Opacity, err = lookup("opacity"); err != nil {
		return nil, err
	}

	var numRest int
	for _, prop := range vertex.Properties {
		if strings.HasPrefix(prop.Name, "f_rest_") {
			numRest++
		}
	}
	res.SHDegree = -1
	for degree := 0; degree <= maxSHDegree; degree++ {
		if 3*(shNumCoeffs(degree)-1) == numRest {
			res.SHDegree = degree
		}
	}
	if res.SHDegree == -1 {
		return nil, parseErrorf("unexpected number of f_rest properties: %d", numRest)
	}
	res.Rest = make([]plyProperty, numRest)
	for i := range res.Rest {
		if res.Rest[i], err = lookup(fmt.Sprintf("f_rest_%d", i)); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Decode reads count records of recordSize bytes from payload, which must
// be large enough.
func (s *splatLayout) Decode(order binary.ByteOrder, payload []byte, recordSize,
	count int) *SplatCloud {
	numCoeffs := shNumCoeffs(s.SHDegree)
	restPerChannel := numCoeffs - 1
	res := &SplatCloud{
		Positions:     make([]model3d.Coord3D, count),
		LogScales:     make([]model3d.Coord3D, count),
		Rotations:     make([][4]float64, count),
		OpacityLogits: make([]float64, count),
		Features:      make([]float64, count*numCoeffs*3),
		SHDegree:      s.SHDegree,
	}
	for i := 0; i < count; i++ {
		rec := payload[i*recordSize:]
		read := func(p plyProperty) float64 {
			return readPLYScalar(order, p.Type, rec[p.Offset:])
		}
		res.Positions[i] = model3d.XYZ(read(s.Position[0]), read(s.Position[1]), read(s.Position[2]))
		res.LogScales[i] = model3d.XYZ(read(s.Scale[0]), read(s.Scale[1]), read(s.Scale[2]))
		for j, p := range s.Rotation {
			res.Rotations[i][j] = read(p)
		}
		res.OpacityLogits[i] = read(s.Opacity)

		features := res.Coeffs(i)
		for c, p := range s.DC {
			features[c] = read(p)
		}
		// f_rest_* is stored channel-major, features are coefficient-major.
		for c := 0; c < 3; c++ {
			for k := 0; k < restPerChannel; k++ {
				features[(k+1)*3+c] = read(s.Rest[c*restPerChannel+k])
			}
		}
	}
	return res
}

func readPLYScalar(order binary.ByteOrder, t plyScalar, b []byte) float64 {
	switch t.Name {
	case "int8":
		return float64(int8(b[0]))
	case "uint8":
		return float64(b[0])
	case "int16":
		return float64(int16(order.Uint16(b)))
	case "uint16":
		return float64(order.Uint16(b))
	case "int32":
		return float64(int32(order.Uint32(b)))
	case "uint32":
		return float64(order.Uint32(b))
	case "float32":
		return float64(math.Float32frombits(order.Uint32(b)))
	case "float64":
		return math.Float64frombits(order.Uint64(b))
	}
	panic("unknown scalar type: " + t.Name)
}

// WriteSplatPLY encodes s as a little endian PLY file with float32
// properties in the conventional order used by Gaussian splatting tools.
func WriteSplatPLY(w io.Writer, s *SplatCloud) error {
	if err := s.checkLengths(); err != nil {
		return errors.Wrap(err, "write splat ply")
	}
	restPerChannel := s.NumCoeffs() - 1

	var header strings.Builder
	header.WriteString("ply\nformat binary_little_endian 1.0\n")
	fmt.Fprintf(&header, "element vertex %d\n", s.Len())
	props := []string{"x", "y", "z", "f_dc_0", "f_dc_1", "f_dc_2"}
	for i := 0; i < restPerChannel*3; i++ {
		props = append(props, fmt.Sprintf("f_rest_%d", i))
	}
	props = append(props, "opacity", "scale_0", "scale_1", "scale_2",
		"rot_0", "rot_1", "rot_2", "rot_3")
	for _, p := range props {
		fmt.Fprintf(&header, "property float %s\n", p)
	}
	header.WriteString("end_header\n")
	if _, err := io.WriteString(w, header.String()); err != nil {
		return errors.Wrap(err, "write splat ply")
	}

	record := make([]float32, 0, len(props))
	for i := 0; i < s.Len(); i++ {
		p := s.Positions[i]
		features := s.Coeffs(i)
		record = append(record[:0], float32(p.X), float32(p.Y), float32(p.Z),
			float32(features[0]), float32(features[1]), float32(features[2]))
		for c := 0; c < 3; c++ {
			for k := 0; k < restPerChannel; k++ {
				record = append(record, float32(features[(k+1)*3+c]))
			}
		}
		ls := s.LogScales[i]
		q := s.Rotations[i]
		record = append(record, float32(s.OpacityLogits[i]),
			float32(ls.X), float32(ls.Y), float32(ls.Z),
			float32(q[0]), float32(q[1]), float32(q[2]), float32(q[3]))
		if err := binary.Write(w, binary.LittleEndian, record); err != nil {
			return errors.Wrap(err, "write splat ply")
		}
	}
	return nil
}
