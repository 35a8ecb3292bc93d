package mstbake

import (
	"errors"
	"fmt"

	"github.com/flywave/go3d/vec2"
	"github.com/flywave/go3d/vec3"
)

var (
	ErrNoGeometry        = errors.New("no geometry to merge")
	ErrAttributeMismatch = errors.New("geometries have mismatching attributes")
)

// MergeGeometries 合并几何，所有输入的可选属性必须一致，面索引按顶点偏移重排
func MergeGeometries(geoms []*Geometry) (*Geometry, error) {
	if len(geoms) == 0 {
		return nil, ErrNoGeometry
	}
	attrs := AttributePosition
	indexed, found := false, false
	for _, g := range geoms {
		if len(g.Vertices) == 0 {
			continue
		}
		if !found {
			attrs, found = g.Attributes(), true
		}
		if len(g.Faces) > 0 {
			indexed = true
		}
	}
	var nv, nf int
	for i, g := range geoms {
		// 零顶点几何不参与属性检查，也不贡献数据
		if len(g.Vertices) == 0 {
			continue
		}
		if indexed && len(g.Faces) == 0 {
			return nil, fmt.Errorf("%w: geometry %d is not indexed", ErrAttributeMismatch, i)
		}
		if a := g.Attributes(); a != attrs {
			return nil, fmt.Errorf("%w: geometry %d has %s, expected %s", ErrAttributeMismatch, i, a, attrs)
		}
		if attrs.Has(AttributeNormal) && len(g.Normals) != len(g.Vertices) {
			return nil, fmt.Errorf("%w: geometry %d has %d normals for %d vertices", ErrAttributeMismatch, i, len(g.Normals), len(g.Vertices))
		}
		if attrs.Has(AttributeColor) && len(g.Colors) != len(g.Vertices) {
			return nil, fmt.Errorf("%w: geometry %d has %d colors for %d vertices", ErrAttributeMismatch, i, len(g.Colors), len(g.Vertices))
		}
		if attrs.Has(AttributeTexCoord) && len(g.TexCoords) != len(g.Vertices) {
			return nil, fmt.Errorf("%w: geometry %d has %d uvs for %d vertices", ErrAttributeMismatch, i, len(g.TexCoords), len(g.Vertices))
		}
		nv += len(g.Vertices)
		nf += len(g.Faces)
	}

	out := &Geometry{}
	out.Vertices = make([]vec3.T, 0, nv)
	if attrs.Has(AttributeNormal) {
		out.Normals = make([]vec3.T, 0, nv)
	}
	if attrs.Has(AttributeColor) {
		out.Colors = make([][3]byte, 0, nv)
	}
	if attrs.Has(AttributeTexCoord) {
		out.TexCoords = make([]vec2.T, 0, nv)
	}
	if nf > 0 {
		out.Faces = make([][3]uint32, 0, nf)
	}

	for _, g := range geoms {
		if len(g.Vertices) == 0 {
			continue
		}
		offset := uint32(len(out.Vertices))
		for _, f := range g.Faces {
			out.Faces = append(out.Faces, [3]uint32{f[0] + offset, f[1] + offset, f[2] + offset})
		}
		out.Vertices = append(out.Vertices, g.Vertices...)
		out.Normals = append(out.Normals, g.Normals...)
		out.Colors = append(out.Colors, g.Colors...)
		out.TexCoords = append(out.TexCoords, g.TexCoords...)
	}
	return out, nil
}

// ensureIndex 为无索引几何生成顺序索引，每三个顶点一个三角形，凑不成三角形的尾部顶点被丢弃
func ensureIndex(g *Geometry) {
	if len(g.Faces) > 0 {
		return
	}
	n := len(g.Vertices) / 3 * 3
	if n < len(g.Vertices) {
		g.Vertices = g.Vertices[:n]
		if len(g.Normals) > n {
			g.Normals = g.Normals[:n]
		}
		if len(g.Colors) > n {
			g.Colors = g.Colors[:n]
		}
		if len(g.TexCoords) > n {
			g.TexCoords = g.TexCoords[:n]
		}
	}
	g.Faces = make([][3]uint32, n/3)
	for i := range g.Faces {
		b := uint32(i * 3)
		g.Faces[i] = [3]uint32{b, b + 1, b + 2}
	}
}

// BuildStaticGeometry 将对象按世界矩阵烘焙并只保留指定属性后合并，结果总是带索引，空输入返回空几何
func BuildStaticGeometry(objs []*Object, attrs ...Attribute) (*Geometry, error) {
	keep := AttributePosition
	for _, a := range attrs {
		keep |= a
	}
	var geoms []*Geometry
	for _, o := range objs {
		if o.Mesh == nil {
			continue
		}
		g := Bake(o)
		g.KeepAttributes(keep)
		ensureIndex(g)
		geoms = append(geoms, g)
	}
	if len(geoms) == 0 {
		return &Geometry{}, nil
	}
	return MergeGeometries(geoms)
}
