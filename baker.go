package mstbake

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/flywave/go-mstbake/stage"
)

// Result 一次烘焙的产物
type Result struct {
	Collision   *CollisionGeometry
	Environment *Group
	Table       string
	Groups      int
}

type Option func(*Baker)

func WithConfig(cfg *Config) Option {
	return func(b *Baker) {
		if cfg != nil {
			b.cfg = cfg
		}
	}
}

// WithEnvironment 烘焙结果追加到给定的环境组
func WithEnvironment(g *Group) Option {
	return func(b *Baker) {
		b.env = g
	}
}

// WithRunner 替换后台任务，默认使用 Worker
func WithRunner(r Runner) Option {
	return func(b *Baker) {
		b.runner = r
	}
}

// Baker 协调方：遍历场景、按材质分组暂存、派发后台任务并重建结果；同一时间只允许一次烘焙
type Baker struct {
	store   stage.Store
	cfg     *Config
	env     *Group
	runner  Runner
	running atomic.Bool
}

func NewBaker(store stage.Store, opts ...Option) *Baker {
	b := &Baker{store: store, cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(b)
	}
	if b.runner == nil {
		b.runner = NewWorker(store, b.cfg.Worker)
	}
	return b
}

type materialGroup struct {
	key  string
	mtl  MeshMaterial
	recs []*MeshRecord
}

// Bake 烘焙场景。ctx 取消时返回 ctx.Err()，已暂存的组不会自动清理
func (b *Baker) Bake(ctx context.Context, root Node) (*Result, error) {
	if !b.running.CompareAndSwap(false, true) {
		return nil, ErrBakeInProgress
	}
	defer b.running.Store(false)

	run := uuid.New()
	table := b.tableName(run)
	logger := Logger().With("run", run.String()[:8], "table", table)
	start := time.Now()

	if err := b.ensureTable(ctx, table); err != nil {
		return nil, err
	}

	groups, err := collect(root)
	if err != nil {
		return nil, err
	}
	materials := make(map[string]MeshMaterial, len(groups))
	for _, g := range groups {
		materials[g.key] = g.mtl
	}
	logger.Debug("scene traversed", "groups", len(groups))

	out := make(chan Message)
	wctx, cancel := context.WithCancel(ctx)
	var spawned atomic.Bool
	// 在释放运行标记之前等待后台任务退出
	defer func() {
		cancel()
		if spawned.Load() {
			for range out {
			}
		}
	}()

	if err := b.stage(ctx, table, groups, func(req StageRequest) {
		spawned.Store(true)
		go b.spawn(wctx, req, out)
	}); err != nil {
		return nil, err
	}
	nGroups := len(groups)
	groups = nil

	env := b.env
	if env == nil {
		env = NewGroup("environment")
	}
	lib, _ := root.(MaterialLibrary)
	resolve := func(key string) MeshMaterial {
		if lib != nil {
			if m, ok := lib.LookupMaterial(key); ok {
				return m
			}
		}
		return materials[key]
	}

	cg, err := listen(ctx, out, env, resolve)
	if err != nil {
		logger.Error("bake failed", "err", err)
		return nil, err
	}

	if !b.cfg.Staging.ReuseTable {
		if err := b.store.DropTable(ctx, table); err != nil {
			logger.Warn("drop staging table", "err", err)
		}
	}
	logger.Info("bake finished", "groups", nGroups, "environment", env.Len(),
		"vertices", cg.VertexCount(), "triangles", cg.TriangleCount(), "elapsed", time.Since(start))
	return &Result{Collision: cg, Environment: env, Table: table, Groups: nGroups}, nil
}

func (b *Baker) tableName(run uuid.UUID) string {
	prefix := b.cfg.Staging.TablePrefix
	if prefix == "" {
		prefix = DefaultTablePrefix
	}
	if b.cfg.Staging.ReuseTable {
		return prefix
	}
	return prefix + "_" + strings.ReplaceAll(run.String(), "-", "")
}

func (b *Baker) ensureTable(ctx context.Context, table string) error {
	if err := b.store.EnsureTable(ctx, table); err != nil {
		return &StagingWriteError{Op: "ensure", Table: table, Err: err}
	}
	if b.cfg.Staging.ReuseTable {
		if err := b.store.ClearTable(ctx, table); err != nil {
			return &StagingWriteError{Op: "clear", Table: table, Err: err}
		}
	}
	return nil
}

// collect 深度优先遍历，按材质标识首次出现的顺序分组
func collect(root Node) ([]*materialGroup, error) {
	var groups []*materialGroup
	index := map[string]*materialGroup{}
	err := Walk(root, func(n Node) error {
		r, ok := n.(Renderable)
		if !ok || r.Geometry() == nil {
			return nil
		}
		rec := Encode(r)
		g, ok := index[rec.MaterialKey]
		if !ok {
			g = &materialGroup{key: rec.MaterialKey, mtl: r.Material()}
			index[rec.MaterialKey] = g
			groups = append(groups, g)
		}
		g.recs = append(g.recs, rec)
		return nil
	})
	return groups, err
}

// stage 每组一次写入，全部写完时由计数归零的那次写入派发请求
func (b *Baker) stage(ctx context.Context, table string, groups []*materialGroup, dispatch func(StageRequest)) error {
	req := StageRequest{Table: table, Keys: make([]string, len(groups))}
	for i, g := range groups {
		req.Keys[i] = g.key
	}
	ledger := NewLedger(len(groups))
	if ledger.Fire() {
		dispatch(req)
		return nil
	}

	limit := b.cfg.Staging.Concurrency
	if limit < 1 {
		limit = 1
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for _, g := range groups {
		g := g
		eg.Go(func() error {
			data, err := MarshalGroup(g.key, g.recs)
			if err != nil {
				return &StagingWriteError{Op: "encode", Table: table, Key: g.key, Err: err}
			}
			if err := b.store.Put(gctx, table, g.key, data); err != nil {
				return &StagingWriteError{Op: "put", Table: table, Key: g.key, Err: err}
			}
			if ledger.Done() {
				dispatch(req)
			}
			return nil
		})
	}
	return eg.Wait()
}

// spawn 运行后台任务，崩溃转为传输错误，结束后关闭通道
func (b *Baker) spawn(ctx context.Context, req StageRequest, out chan<- Message) {
	defer close(out)
	defer func() {
		if r := recover(); r != nil {
			send(ctx, out, Message{Type: MessageError, Err: &PipelineTransportError{Reason: "worker panic", Err: fmt.Errorf("%v", r)}})
		}
	}()
	b.runner.Run(ctx, req, out)
}

// listen 接收 partial 直到 final 或错误
func listen(ctx context.Context, out <-chan Message, env *Group, resolve func(string) MeshMaterial) (*CollisionGeometry, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-out:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return nil, &PipelineTransportError{Reason: "worker exited before final"}
			}
			switch msg.Type {
			case MessagePartial:
				env.Append(NewMeshObject(msg.Key, msg.Geometry, resolve(msg.Key)))
			case MessageFinal:
				if msg.Payload == nil || msg.Transfer == nil {
					return nil, &PipelineTransportError{Reason: "final without payload"}
				}
				cg, err := Assemble(msg.Payload, msg.Transfer)
				if err != nil {
					return nil, &PipelineTransportError{Reason: "transfer", Err: err}
				}
				return cg, nil
			case MessageError:
				if msg.Err == nil {
					return nil, &PipelineTransportError{Reason: "error message without error"}
				}
				return nil, msg.Err
			default:
				return nil, &PipelineTransportError{Reason: fmt.Sprintf("unexpected message %s", msg.Type)}
			}
		}
	}
}
