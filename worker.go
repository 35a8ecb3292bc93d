package mstbake

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/flywave/go-mstbake/stage"
)

// Runner 执行一次暂存请求；Run 返回前最后一条消息必须是 final 或 error，且不关闭 out
type Runner interface {
	Run(ctx context.Context, req StageRequest, out chan<- Message)
}

type RunnerFunc func(ctx context.Context, req StageRequest, out chan<- Message)

func (f RunnerFunc) Run(ctx context.Context, req StageRequest, out chan<- Message) {
	f(ctx, req, out)
}

// Worker 后台烘焙任务：读取材质组、展开实例、烘焙、合并，最后构建碰撞几何并移交缓冲
type Worker struct {
	store       stage.Store
	concurrency int
	leafSize    int
}

func NewWorker(store stage.Store, cfg WorkerConfig) *Worker {
	w := &Worker{store: store, concurrency: cfg.Concurrency}
	if w.concurrency < 1 {
		w.concurrency = 1
	}
	if cfg.BuildBVH {
		w.leafSize = cfg.BVHLeafSize
		if w.leafSize < 1 {
			w.leafSize = DefaultLeafSize
		}
	}
	return w
}

func (w *Worker) Run(ctx context.Context, req StageRequest, out chan<- Message) {
	logger := Logger().With("table", req.Table)
	start := time.Now()

	payload, transfer, err := w.run(ctx, req, out, logger)
	if err != nil {
		logger.Error("worker failed", "err", err)
		send(ctx, out, Message{Type: MessageError, Err: err})
		return
	}
	logger.Debug("worker finished", "groups", len(req.Keys), "vertices", payload.VertexCount, "elapsed", time.Since(start))
	send(ctx, out, Message{Type: MessageFinal, Payload: payload, Transfer: transfer})
}

func (w *Worker) run(ctx context.Context, req StageRequest, out chan<- Message, logger *log.Logger) (*CollisionPayload, *Transfer, error) {
	merged := make([]*Geometry, len(req.Keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i, key := range req.Keys {
		i, key := i, key
		g.Go(func() error {
			m, err := w.bakeGroup(gctx, req.Table, key, out, logger)
			if err != nil {
				return err
			}
			merged[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// 后台任务自己的累积，与协调方的环境组无关
	scratch := make([]*Object, 0, len(merged))
	for i, m := range merged {
		if m != nil {
			scratch = append(scratch, NewMeshObject(req.Keys[i], m, nil))
		}
	}
	geom, err := BuildStaticGeometry(scratch, AttributePosition)
	if err != nil {
		return nil, nil, &MergeLibraryError{Err: err}
	}
	payload, transfer := NewCollisionGeometry(geom, w.leafSize).Disassemble()
	return payload, transfer, nil
}

func (w *Worker) bakeGroup(ctx context.Context, table, key string, out chan<- Message, logger *log.Logger) (*Geometry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := w.store.Get(ctx, table, key)
	if err != nil {
		return nil, &StagingReadError{Op: "get", Table: table, Key: key, Err: err}
	}
	gkey, recs, err := UnmarshalGroup(data)
	if err != nil {
		return nil, &StagingReadError{Op: "decode", Table: table, Key: key, Err: err}
	}
	if gkey != key {
		return nil, &StagingReadError{Op: "decode", Table: table, Key: key, Err: fmt.Errorf("record belongs to group %q", gkey)}
	}

	var geoms []*Geometry
	for _, rec := range recs {
		for _, o := range Expand(Decode(rec)) {
			geoms = append(geoms, Bake(o))
		}
	}

	var merged *Geometry
	if len(geoms) > 0 {
		if merged, err = MergeGeometries(geoms); err != nil {
			return nil, &MergeLibraryError{Key: key, Err: err}
		}
		if err := send(ctx, out, Message{Type: MessagePartial, Key: key, Geometry: merged.Clone()}); err != nil {
			return nil, err
		}
	}

	if err := w.store.Delete(ctx, table, key); err != nil {
		return nil, &StagingWriteError{Op: "delete", Table: table, Key: key, Err: err}
	}
	logger.Debug("group baked", "key", key, "records", len(recs), "meshes", len(geoms), "vertices", merged.VertexCount())
	return merged, nil
}

func send(ctx context.Context, out chan<- Message, msg Message) error {
	select {
	case out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
