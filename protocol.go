package mstbake

import (
	"sync"

	dvec3 "github.com/flywave/go3d/float64/vec3"

	"github.com/flywave/go-mstbake/bvh"
)

// StageRequest 协调方发给后台任务的唯一请求：暂存表与按首次出现顺序排列的材质标识
type StageRequest struct {
	Table string
	Keys  []string
}

type MessageType uint8

const (
	MessagePartial MessageType = iota
	MessageFinal
	MessageError
)

func (t MessageType) String() string {
	switch t {
	case MessagePartial:
		return "partial"
	case MessageFinal:
		return "final"
	case MessageError:
		return "error"
	}
	return "unknown"
}

// Message 后台任务发回的消息；同一次运行中所有 partial 都先于 final 到达
type Message struct {
	Type MessageType

	// partial
	Key      string
	Geometry *Geometry

	// final
	Payload  *CollisionPayload
	Transfer *Transfer

	// error
	Err error
}

// CollisionPayload final 消息中随值传递的部分，缓冲通过 Transfer 移交
type CollisionPayload struct {
	VertexCount int
	IndexCount  int
	BBox        dvec3.Box
	BVH         *bvh.Tree
}

// Transfer 缓冲所有权移交，只能取出一次
type Transfer struct {
	mu        sync.Mutex
	positions []float32
	index     []uint32
	taken     bool
}

func NewTransfer(positions []float32, index []uint32) *Transfer {
	return &Transfer{positions: positions, index: index}
}

// Take 取出缓冲，再次调用返回 ErrTransferred
func (t *Transfer) Take() ([]float32, []uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.taken {
		return nil, nil, ErrTransferred
	}
	p, i := t.positions, t.index
	t.positions, t.index, t.taken = nil, nil, true
	return p, i, nil
}

func (t *Transfer) Taken() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.taken
}
