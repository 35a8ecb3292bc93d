package mstbake

import (
	dmat "github.com/flywave/go3d/float64/mat4"
	"github.com/flywave/go3d/float64/quaternion"
	dvec3 "github.com/flywave/go3d/float64/vec3"
	"github.com/flywave/go3d/float64/vec4"
	"github.com/flywave/go3d/vec3"
)

// 矩阵按列存储，m[列][行]，与 glTF 一致

func identityMatrix() *dmat.T {
	m := dmat.Ident
	return &m
}

func copyMatrix(m *dmat.T) *dmat.T {
	if m == nil {
		return identityMatrix()
	}
	c := *m
	return &c
}

// MatrixFromArray 由16个按列排列的元素构造矩阵
func MatrixFromArray(a [16]float64) *dmat.T {
	m := &dmat.T{}
	m[0] = vec4.T{a[0], a[1], a[2], a[3]}
	m[1] = vec4.T{a[4], a[5], a[6], a[7]}
	m[2] = vec4.T{a[8], a[9], a[10], a[11]}
	m[3] = vec4.T{a[12], a[13], a[14], a[15]}
	return m
}

// MatrixToArray 输出16个按列排列的元素
func MatrixToArray(m *dmat.T) [16]float64 {
	if m == nil {
		m = identityMatrix()
	}
	var a [16]float64
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			a[c*4+r] = m[c][r]
		}
	}
	return a
}

// MulMatrix 返回 a*b，先应用 b 再应用 a
func MulMatrix(a, b *dmat.T) *dmat.T {
	if a == nil {
		return copyMatrix(b)
	}
	if b == nil {
		return copyMatrix(a)
	}
	r := &dmat.T{}
	return r.AssignMul(a, b)
}

func isIdentity(m *dmat.T) bool {
	return m == nil || *m == dmat.Ident
}

// Translation 平移矩阵
func Translation(x, y, z float64) *dmat.T {
	return identityMatrix().SetTranslation(&dvec3.T{x, y, z})
}

// Scaling 缩放矩阵
func Scaling(x, y, z float64) *dmat.T {
	return identityMatrix().ScaleVec3(&dvec3.T{x, y, z})
}

// RotationZ 绕Z轴旋转矩阵
func RotationZ(angle float64) *dmat.T {
	return identityMatrix().AssignZRotation(angle)
}

// ComposeMatrix 按 T*R*S 组合平移、旋转(x,y,z,w)和缩放
func ComposeMatrix(t *dvec3.T, q *quaternion.T, s *dvec3.T) *dmat.T {
	var rot dmat.T
	rot.AssignQuaternion(q)
	sc := identityMatrix().ScaleVec3(s)
	m := &dmat.T{}
	return m.AssignMul(&rot, sc).SetTranslation(t)
}

func toDvec3(v vec3.T) dvec3.T {
	return dvec3.T{float64(v[0]), float64(v[1]), float64(v[2])}
}

func toVec3(v dvec3.T) vec3.T {
	return vec3.T{float32(v[0]), float32(v[1]), float32(v[2])}
}

func transformPoint(m *dmat.T, v vec3.T) vec3.T {
	p := toDvec3(v)
	return toVec3(m.MulVec3(&p))
}

// normalMatrix 逆转置矩阵，不可逆时退化为伴随矩阵的转置
func normalMatrix(m *dmat.T) dmat.T {
	var nm dmat.T
	if m.Determinant() != 0 {
		nm = m.Inverted()
	} else {
		nm = m.Adjugated()
	}
	nm.Transpose()
	return nm
}

func transformNormal(nm *dmat.T, n vec3.T) vec3.T {
	v := toDvec3(n)
	r := nm.MulVec3W(&v, 0)
	return toVec3(*r.Normalize())
}
