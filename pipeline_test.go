package mstbake

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"

	dvec3 "github.com/flywave/go3d/float64/vec3"
	"github.com/flywave/go3d/vec3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLedgerFiresOnce 并发递减时只有一次调用触发派发
func TestLedgerFiresOnce(t *testing.T) {
	l := NewLedger(100)
	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Done() {
				fired.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, 0, l.Pending())
	assert.True(t, l.Fired())
	assert.False(t, l.Fire())
}

func TestLedgerEmpty(t *testing.T) {
	l := NewLedger(0)
	assert.False(t, l.Done())
	assert.Equal(t, 0, l.Pending())
	assert.True(t, l.Fire())
	assert.False(t, l.Fire())

	l = NewLedger(2)
	assert.False(t, l.Fire())
	assert.False(t, l.Done())
	assert.True(t, l.Done())
	assert.False(t, l.Fire())
}

func TestTransferTakeOnce(t *testing.T) {
	tr := NewTransfer([]float32{1, 2, 3}, []uint32{0})
	p, i, err := tr.Take()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, p)
	assert.Equal(t, []uint32{0}, i)
	assert.True(t, tr.Taken())

	_, _, err = tr.Take()
	assert.ErrorIs(t, err, ErrTransferred)
}

// TestCollisionDisassemble 拆分后原对象不再持有缓冲
func TestCollisionDisassemble(t *testing.T) {
	g, err := BuildStaticGeometry([]*Object{NewMeshObject("q", fullQuad(), nil)}, AttributePosition)
	require.NoError(t, err)
	cg := NewCollisionGeometry(g, 1)
	require.NotNil(t, cg.BVH)
	assert.Equal(t, 4, cg.VertexCount())
	assert.Equal(t, 2, cg.TriangleCount())

	payload, tr := cg.Disassemble()
	assert.Nil(t, cg.Positions)
	assert.Nil(t, cg.Index)
	assert.Equal(t, 4, payload.VertexCount)
	assert.Equal(t, 6, payload.IndexCount)

	back, err := Assemble(payload, tr)
	require.NoError(t, err)
	assert.Equal(t, 4, back.VertexCount())
	assert.Equal(t, dvec3.T{1, 1, 0}, back.BBox.Max)

	_, err = Assemble(payload, tr)
	assert.ErrorIs(t, err, ErrTransferred)

	_, err = Assemble(&CollisionPayload{VertexCount: 5}, NewTransfer([]float32{1}, nil))
	assert.Error(t, err)
}

func TestCollisionQueries(t *testing.T) {
	floor := fullQuad()
	floor.ApplyMatrix(Scaling(10, 10, 1))
	g, err := BuildStaticGeometry([]*Object{NewMeshObject("floor", floor, nil)}, AttributePosition)
	require.NoError(t, err)
	cg := NewCollisionGeometry(g, 0)
	assert.Nil(t, cg.BVH)

	hit, ok := cg.Raycast(dvec3.T{5, 5, 1.7}, dvec3.T{0, 0, -1}, 0)
	require.True(t, ok)
	assert.InDelta(t, 1.7, hit.Distance, 1e-6)
	assert.NotNil(t, cg.BVH)

	_, ok = cg.Raycast(dvec3.T{20, 5, 1.7}, dvec3.T{0, 0, -1}, math.Inf(1))
	assert.False(t, ok)

	assert.True(t, cg.IntersectsBox(dvec3.Box{Min: dvec3.T{4, 4, -0.5}, Max: dvec3.T{5, 5, 0.5}}))
	assert.False(t, cg.IntersectsBox(dvec3.Box{Min: dvec3.T{4, 4, 1}, Max: dvec3.T{5, 5, 2}}))

	back := cg.Geometry()
	assert.Equal(t, 4, back.VertexCount())
	assert.Equal(t, vec3.T{10, 10, 0}, back.Vertices[2])
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "partial", MessagePartial.String())
	assert.Equal(t, "final", MessageFinal.String())
	assert.Equal(t, "error", MessageError.String())
	assert.Equal(t, "unknown", MessageType(9).String())
}
