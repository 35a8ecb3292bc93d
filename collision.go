package mstbake

import (
	"fmt"
	"math"

	dvec3 "github.com/flywave/go3d/float64/vec3"
	"github.com/flywave/go3d/vec3"
	"github.com/golang/geo/r3"

	"github.com/flywave/go-mstbake/bvh"
)

// CollisionGeometry 只含位置的索引几何，用于漫游碰撞
type CollisionGeometry struct {
	Positions []float32
	Index     []uint32
	BBox      dvec3.Box
	BVH       *bvh.Tree
}

// NewCollisionGeometry 由只含位置的几何构建，leafSize > 0 时同时构建 BVH（会重排索引）
func NewCollisionGeometry(g *Geometry, leafSize int) *CollisionGeometry {
	c := &CollisionGeometry{
		Positions: []float32{},
		Index:     []uint32{},
	}
	if g.VertexCount() == 0 {
		return c
	}
	c.Positions = g.Positions()
	c.Index = g.Index()
	c.BBox = g.ComputeBBox()
	if leafSize > 0 {
		c.BVH = bvh.Build(c.Positions, c.Index, leafSize)
	}
	return c
}

func (c *CollisionGeometry) VertexCount() int {
	return len(c.Positions) / 3
}

func (c *CollisionGeometry) TriangleCount() int {
	return len(c.Index) / 3
}

// Disassemble 拆分为值部分与待移交缓冲，调用后 c 不再持有缓冲
func (c *CollisionGeometry) Disassemble() (*CollisionPayload, *Transfer) {
	p := &CollisionPayload{
		VertexCount: c.VertexCount(),
		IndexCount:  len(c.Index),
		BBox:        c.BBox,
		BVH:         c.BVH,
	}
	t := NewTransfer(c.Positions, c.Index)
	c.Positions, c.Index, c.BVH = nil, nil, nil
	return p, t
}

// Assemble 取出移交的缓冲并重建碰撞几何
func Assemble(p *CollisionPayload, t *Transfer) (*CollisionGeometry, error) {
	positions, index, err := t.Take()
	if err != nil {
		return nil, err
	}
	if len(positions) != p.VertexCount*3 || len(index) != p.IndexCount {
		return nil, fmt.Errorf("collision payload mismatch: %d positions for %d vertices, %d indices for %d",
			len(positions), p.VertexCount, len(index), p.IndexCount)
	}
	if positions == nil {
		positions = []float32{}
	}
	if index == nil {
		index = []uint32{}
	}
	return &CollisionGeometry{Positions: positions, Index: index, BBox: p.BBox, BVH: p.BVH}, nil
}

// Geometry 转回几何，用于导出
func (c *CollisionGeometry) Geometry() *Geometry {
	g := &Geometry{Vertices: make([]vec3.T, c.VertexCount())}
	for i := range g.Vertices {
		g.Vertices[i] = vec3.T{c.Positions[i*3], c.Positions[i*3+1], c.Positions[i*3+2]}
	}
	if n := c.TriangleCount(); n > 0 {
		g.Faces = make([][3]uint32, n)
		for i := range g.Faces {
			g.Faces[i] = [3]uint32{c.Index[i*3], c.Index[i*3+1], c.Index[i*3+2]}
		}
	}
	return g
}

func (c *CollisionGeometry) tree() *bvh.Tree {
	if c.BVH == nil {
		c.BVH = bvh.Build(c.Positions, c.Index, DefaultLeafSize)
	}
	return c.BVH
}

// Raycast 返回沿 dir 最近的命中；没有 BVH 时先构建
func (c *CollisionGeometry) Raycast(origin, dir dvec3.T, far float64) (bvh.Hit, bool) {
	if far <= 0 {
		far = math.Inf(1)
	}
	return c.tree().Raycast(c.Positions, c.Index,
		r3.Vector{X: origin[0], Y: origin[1], Z: origin[2]},
		r3.Vector{X: dir[0], Y: dir[1], Z: dir[2]}, far)
}

// IntersectsBox 包围盒与任一三角形包围盒相交
func (c *CollisionGeometry) IntersectsBox(box dvec3.Box) bool {
	return c.tree().IntersectsBox(c.Positions, c.Index,
		r3.Vector{X: box.Min[0], Y: box.Min[1], Z: box.Min[2]},
		r3.Vector{X: box.Max[0], Y: box.Max[1], Z: box.Max[2]})
}
