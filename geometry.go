package mstbake

import (
	"math"

	dmat "github.com/flywave/go3d/float64/mat4"
	dvec3 "github.com/flywave/go3d/float64/vec3"

	"github.com/flywave/go3d/vec2"
	"github.com/flywave/go3d/vec3"
)

// Geometry 三角网格几何，Faces 为索引
type Geometry struct {
	Vertices  []vec3.T    `json:"vertices"`
	Normals   []vec3.T    `json:"normals,omitempty"`
	Colors    [][3]byte   `json:"colors,omitempty"`
	TexCoords []vec2.T    `json:"texCoords,omitempty"`
	Faces     [][3]uint32 `json:"faces,omitempty"`
}

func (g *Geometry) VertexCount() int {
	if g == nil {
		return 0
	}
	return len(g.Vertices)
}

func (g *Geometry) FaceCount() int {
	if g == nil {
		return 0
	}
	return len(g.Faces)
}

// Attributes 返回当前存在的属性集合，位置属性总是存在
func (g *Geometry) Attributes() Attribute {
	attrs := AttributePosition
	if len(g.Normals) > 0 {
		attrs |= AttributeNormal
	}
	if len(g.Colors) > 0 {
		attrs |= AttributeColor
	}
	if len(g.TexCoords) > 0 {
		attrs |= AttributeTexCoord
	}
	return attrs
}

// Clone 深拷贝所有缓冲
func (g *Geometry) Clone() *Geometry {
	c := &Geometry{}
	if g == nil {
		return c
	}
	c.Vertices = append([]vec3.T(nil), g.Vertices...)
	c.Normals = append([]vec3.T(nil), g.Normals...)
	c.Colors = append([][3]byte(nil), g.Colors...)
	c.TexCoords = append([]vec2.T(nil), g.TexCoords...)
	c.Faces = append([][3]uint32(nil), g.Faces...)
	return c
}

// KeepAttributes 丢弃不在集合中的可选属性
func (g *Geometry) KeepAttributes(attrs Attribute) {
	if !attrs.Has(AttributeNormal) {
		g.Normals = nil
	}
	if !attrs.Has(AttributeColor) {
		g.Colors = nil
	}
	if !attrs.Has(AttributeTexCoord) {
		g.TexCoords = nil
	}
}

// ApplyMatrix 将变换烘焙到顶点与法线
func (g *Geometry) ApplyMatrix(m *dmat.T) {
	if isIdentity(m) {
		return
	}
	for i := range g.Vertices {
		g.Vertices[i] = transformPoint(m, g.Vertices[i])
	}
	if len(g.Normals) > 0 {
		nm := normalMatrix(m)
		for i := range g.Normals {
			g.Normals[i] = transformNormal(&nm, g.Normals[i])
		}
	}
}

// ReComputeNormal 以相邻面法线的平均值重建顶点法线
func (g *Geometry) ReComputeNormal() {
	normals := make([]vec3.T, len(g.Vertices))
	for _, f := range g.Faces {
		pt1 := g.Vertices[f[0]]
		pt2 := g.Vertices[f[1]]
		pt3 := g.Vertices[f[2]]

		sub1 := vec3.Sub(&pt3, &pt2)
		sub2 := vec3.Sub(&pt1, &pt2)

		cro := vec3.Cross(&sub1, &sub2)
		l := cro.Length()
		if l == 0 {
			continue
		}
		weightedNormal := cro.Scale(1 / l)

		normals[f[0]].Add(weightedNormal)
		normals[f[1]].Add(weightedNormal)
		normals[f[2]].Add(weightedNormal)
	}

	for i := range normals {
		normals[i].Normalize()
	}

	g.Normals = normals
}

func (g *Geometry) GetBoundbox() *[6]float64 {
	minX := math.MaxFloat64
	minY := math.MaxFloat64
	minZ := math.MaxFloat64
	maxX := -math.MaxFloat64
	maxY := -math.MaxFloat64
	maxZ := -math.MaxFloat64
	for i := range g.Vertices {
		minX = math.Min(minX, float64(g.Vertices[i][0]))
		minY = math.Min(minY, float64(g.Vertices[i][1]))
		minZ = math.Min(minZ, float64(g.Vertices[i][2]))

		maxX = math.Max(maxX, float64(g.Vertices[i][0]))
		maxY = math.Max(maxY, float64(g.Vertices[i][1]))
		maxZ = math.Max(maxZ, float64(g.Vertices[i][2]))
	}
	return &[6]float64{minX, minY, minZ, maxX, maxY, maxZ}
}

// ComputeBBox 空几何返回零包围盒
func (g *Geometry) ComputeBBox() dvec3.Box {
	if g.VertexCount() == 0 {
		return dvec3.Box{}
	}
	bx := g.GetBoundbox()
	return dvec3.Box{
		Min: dvec3.T{bx[0], bx[1], bx[2]},
		Max: dvec3.T{bx[3], bx[4], bx[5]},
	}
}

// Positions 以 xyz 连续排列输出顶点
func (g *Geometry) Positions() []float32 {
	out := make([]float32, 0, len(g.Vertices)*3)
	for _, v := range g.Vertices {
		out = append(out, v[0], v[1], v[2])
	}
	return out
}

// Index 以连续排列输出三角形索引
func (g *Geometry) Index() []uint32 {
	out := make([]uint32, 0, len(g.Faces)*3)
	for _, f := range g.Faces {
		out = append(out, f[0], f[1], f[2])
	}
	return out
}
