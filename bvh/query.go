package bvh

import (
	"math"

	"github.com/golang/geo/r3"
)

const epsilon = 1e-12

// Hit is the closest intersection found by Raycast.
type Hit struct {
	Distance float64
	Point    r3.Vector
	Triangle int
}

// Raycast returns the closest triangle hit along dir within far.
// Triangles are double sided.
func (t *Tree) Raycast(positions []float32, index []uint32, origin, dir r3.Vector, far float64) (Hit, bool) {
	best := Hit{Distance: far, Triangle: -1}
	if t.Empty() || dir.Norm2() == 0 {
		return best, false
	}
	dir = dir.Normalize()
	inv := r3.Vector{X: 1 / dir.X, Y: 1 / dir.Y, Z: 1 / dir.Z}

	stack := []int32{0}
	for len(stack) > 0 {
		n := &t.Nodes[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]
		if !rayBox(origin, inv, n.Min, n.Max, best.Distance) {
			continue
		}
		if !n.IsLeaf() {
			stack = append(stack, n.Left, n.Right)
			continue
		}
		for tri := n.Offset; tri < n.Offset+n.Count; tri++ {
			a := vertex(positions, index[tri*3])
			b := vertex(positions, index[tri*3+1])
			c := vertex(positions, index[tri*3+2])
			if d, ok := rayTriangle(origin, dir, a, b, c); ok && d < best.Distance {
				best.Distance = d
				best.Triangle = int(tri)
			}
		}
	}
	if best.Triangle < 0 {
		return best, false
	}
	best.Point = origin.Add(dir.Mul(best.Distance))
	return best, true
}

// IntersectsBox reports whether any triangle bounding box overlaps the box.
// The test is conservative: a triangle whose bounds touch the box counts.
func (t *Tree) IntersectsBox(positions []float32, index []uint32, min, max r3.Vector) bool {
	if t.Empty() {
		return false
	}
	stack := []int32{0}
	for len(stack) > 0 {
		n := &t.Nodes[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]
		if !aabbOverlap(n.Min, n.Max, min, max) {
			continue
		}
		if !n.IsLeaf() {
			stack = append(stack, n.Left, n.Right)
			continue
		}
		for tri := n.Offset; tri < n.Offset+n.Count; tri++ {
			a := vertex(positions, index[tri*3])
			b := vertex(positions, index[tri*3+1])
			c := vertex(positions, index[tri*3+2])
			if aabbOverlap(minVec(minVec(a, b), c), maxVec(maxVec(a, b), c), min, max) {
				return true
			}
		}
	}
	return false
}

// rayBox is the slab test; inv holds the reciprocal direction.
func rayBox(o, inv, min, max r3.Vector, far float64) bool {
	tmin, tmax := 0.0, far
	for axis := 0; axis < 3; axis++ {
		oc, ic := component(o, axis), component(inv, axis)
		t1 := (component(min, axis) - oc) * ic
		t2 := (component(max, axis) - oc) * ic
		if math.IsNaN(t1) || math.IsNaN(t2) {
			// ray parallel to the slab and origin on its plane
			continue
		}
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
		if tmin > tmax {
			return false
		}
	}
	return true
}

// rayTriangle is Möller–Trumbore.
func rayTriangle(o, dir, a, b, c r3.Vector) (float64, bool) {
	e1 := b.Sub(a)
	e2 := c.Sub(a)
	p := dir.Cross(e2)
	det := e1.Dot(p)
	if math.Abs(det) < epsilon {
		return 0, false
	}
	invDet := 1 / det
	s := o.Sub(a)
	u := s.Dot(p) * invDet
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(e1)
	v := dir.Dot(q) * invDet
	if v < 0 || u+v > 1 {
		return 0, false
	}
	d := e2.Dot(q) * invDet
	if d < 0 {
		return 0, false
	}
	return d, true
}
