// Package bvh builds a bounding volume hierarchy over an indexed triangle
// soup. Build reorders the triangles of the index buffer in place so that
// every leaf references a contiguous range of it.
package bvh

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
)

// DefaultLeafSize is the threshold for splitting nodes.
const DefaultLeafSize = 8

// Node is one node of the flattened tree. Leaves have Left == Right == -1
// and reference triangles [Offset, Offset+Count) of the index buffer.
type Node struct {
	Min, Max r3.Vector
	Left     int32
	Right    int32
	Offset   uint32
	Count    uint32
}

func (n *Node) IsLeaf() bool {
	return n.Left < 0
}

// Tree is a flattened BVH, Nodes[0] is the root.
type Tree struct {
	Nodes    []Node
	LeafSize int
}

func (t *Tree) Empty() bool {
	return t == nil || len(t.Nodes) == 0
}

// Bounds returns the root box.
func (t *Tree) Bounds() (min, max r3.Vector) {
	if t.Empty() {
		return r3.Vector{}, r3.Vector{}
	}
	return t.Nodes[0].Min, t.Nodes[0].Max
}

type triangle struct {
	id       uint32
	centroid r3.Vector
	min, max r3.Vector
}

func vertex(positions []float32, i uint32) r3.Vector {
	return r3.Vector{X: float64(positions[i*3]), Y: float64(positions[i*3+1]), Z: float64(positions[i*3+2])}
}

// Build constructs the tree. positions holds xyz triplets, index holds
// triangle vertex triplets and is reordered in place.
func Build(positions []float32, index []uint32, leafSize int) *Tree {
	if leafSize <= 0 {
		leafSize = DefaultLeafSize
	}
	t := &Tree{LeafSize: leafSize}
	n := len(index) / 3
	if n == 0 {
		return t
	}
	tris := make([]triangle, n)
	for i := range tris {
		a := vertex(positions, index[i*3])
		b := vertex(positions, index[i*3+1])
		c := vertex(positions, index[i*3+2])
		tris[i] = triangle{
			id:       uint32(i),
			centroid: a.Add(b).Add(c).Mul(1.0 / 3),
			min:      minVec(minVec(a, b), c),
			max:      maxVec(maxVec(a, b), c),
		}
	}
	t.build(tris, 0)

	reordered := make([]uint32, 0, len(index))
	for _, tri := range tris {
		reordered = append(reordered, index[tri.id*3], index[tri.id*3+1], index[tri.id*3+2])
	}
	copy(index, reordered)
	return t
}

func (t *Tree) build(tris []triangle, offset uint32) int32 {
	idx := int32(len(t.Nodes))
	t.Nodes = append(t.Nodes, Node{Left: -1, Right: -1})

	min, max := bounds(tris)
	if len(tris) <= t.LeafSize {
		t.Nodes[idx] = Node{Min: min, Max: max, Left: -1, Right: -1, Offset: offset, Count: uint32(len(tris))}
		return idx
	}

	// split along the longest centroid axis
	cmin, cmax := centroidBounds(tris)
	extent := cmax.Sub(cmin)
	axis := 0
	if extent.Y > extent.X && extent.Y >= extent.Z {
		axis = 1
	} else if extent.Z > extent.X && extent.Z > extent.Y {
		axis = 2
	}
	sort.SliceStable(tris, func(i, j int) bool {
		return component(tris[i].centroid, axis) < component(tris[j].centroid, axis)
	})

	mid := len(tris) / 2
	left := t.build(tris[:mid], offset)
	right := t.build(tris[mid:], offset+uint32(mid))
	t.Nodes[idx] = Node{Min: min, Max: max, Left: left, Right: right, Offset: offset, Count: uint32(len(tris))}
	return idx
}

func bounds(tris []triangle) (min, max r3.Vector) {
	min = r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	max = r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, tri := range tris {
		min = minVec(min, tri.min)
		max = maxVec(max, tri.max)
	}
	return min, max
}

func centroidBounds(tris []triangle) (min, max r3.Vector) {
	min = r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	max = r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, tri := range tris {
		min = minVec(min, tri.centroid)
		max = maxVec(max, tri.centroid)
	}
	return min, max
}

func component(v r3.Vector, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

func minVec(a, b r3.Vector) r3.Vector {
	return r3.Vector{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y), Z: math.Min(a.Z, b.Z)}
}

func maxVec(a, b r3.Vector) r3.Vector {
	return r3.Vector{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y), Z: math.Max(a.Z, b.Z)}
}

func aabbOverlap(min1, max1, min2, max2 r3.Vector) bool {
	return min1.X <= max2.X && max1.X >= min2.X &&
		min1.Y <= max2.Y && max1.Y >= min2.Y &&
		min1.Z <= max2.Z && max1.Z >= min2.Z
}
