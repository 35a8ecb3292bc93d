package mstbake

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dmat "github.com/flywave/go3d/float64/mat4"
	"github.com/flywave/go3d/vec3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flywave/go-mstbake/stage"
)

func tri(x, y, z float32) *Geometry {
	return &Geometry{
		Vertices: []vec3.T{{x, y, z}, {x + 1, y, z}, {x, y + 1, z}},
		Faces:    [][3]uint32{{0, 1, 2}},
	}
}

func mtl(name string) *BaseMaterial {
	return &BaseMaterial{Name: name}
}

// recorder 转发后台任务的消息并记录
type recorder struct {
	inner Runner

	mu       sync.Mutex
	requests []StageRequest
	partials []Message
	finals   int
	errs     int
}

func (r *recorder) Run(ctx context.Context, req StageRequest, out chan<- Message) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	in := make(chan Message)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for m := range in {
			r.mu.Lock()
			switch m.Type {
			case MessagePartial:
				r.partials = append(r.partials, m)
			case MessageFinal:
				r.finals++
			case MessageError:
				r.errs++
			}
			r.mu.Unlock()
			select {
			case out <- m:
			case <-ctx.Done():
			}
		}
	}()
	r.inner.Run(ctx, req, in)
	close(in)
	<-done
}

func newRecorder(store stage.Store, cfg *Config) *recorder {
	return &recorder{inner: NewWorker(store, cfg.Worker)}
}

func reuseConfig() *Config {
	cfg := DefaultConfig()
	cfg.Staging.ReuseTable = true
	return cfg
}

// TestBakeEmptyScene 空场景得到空环境组与零顶点碰撞几何
func TestBakeEmptyScene(t *testing.T) {
	store := stage.NewMemory()
	cfg := DefaultConfig()
	rec := newRecorder(store, cfg)
	res, err := NewBaker(store, WithConfig(cfg), WithRunner(rec)).Bake(context.Background(), NewScene())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Environment.Len())
	assert.Equal(t, 0, res.Collision.VertexCount())
	assert.Equal(t, 0, res.Collision.TriangleCount())
	assert.Equal(t, 0, res.Groups)
	require.Len(t, rec.requests, 1)
	assert.Empty(t, rec.requests[0].Keys)
	assert.Equal(t, 1, rec.finals)
	assert.Empty(t, rec.partials)
}

func threeMeshScene() *Scene {
	scene := NewScene()
	a := mtl("A")
	scene.Add(
		NewMeshObject("a1", tri(0, 0, 0), a),
		NewObject("group").Add(NewMeshObject("b1", tri(5, 0, 0), mtl("B"))),
		NewMeshObject("a2", tri(0, 5, 0), a),
	)
	return scene
}

// TestBakeTwoMaterials 两个 A 一个 B：两条 partial，一条 final，暂存记录被删除
func TestBakeTwoMaterials(t *testing.T) {
	lite, err := stage.OpenSQLite(filepath.Join(t.TempDir(), "stage.db"))
	require.NoError(t, err)
	defer lite.Close()

	for name, store := range map[string]stage.Store{"memory": stage.NewMemory(), "sqlite": lite} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cfg := reuseConfig()
			rec := newRecorder(store, cfg)
			res, err := NewBaker(store, WithConfig(cfg), WithRunner(rec)).Bake(ctx, threeMeshScene())
			require.NoError(t, err)

			require.Len(t, rec.requests, 1)
			assert.Equal(t, []string{"A", "B"}, rec.requests[0].Keys)
			require.Len(t, rec.partials, 2)
			assert.Equal(t, "A", rec.partials[0].Key)
			assert.Equal(t, 6, rec.partials[0].Geometry.VertexCount())
			assert.Equal(t, 2, rec.partials[0].Geometry.FaceCount())
			assert.Equal(t, "B", rec.partials[1].Key)
			assert.Equal(t, tri(5, 0, 0).Vertices, rec.partials[1].Geometry.Vertices)
			assert.Equal(t, 1, rec.finals)

			keys, err := store.Keys(ctx, res.Table)
			require.NoError(t, err)
			assert.Empty(t, keys)

			assert.Equal(t, 2, res.Groups)
			assert.Equal(t, 2, res.Environment.Len())
			assert.Len(t, res.Environment.Find("A"), 1)
			assert.Equal(t, "A", res.Environment.Find("A")[0].Material().GetName())
			assert.Equal(t, 9, res.Collision.VertexCount())
			assert.Equal(t, 3, res.Collision.TriangleCount())
		})
	}
}

// TestBakeDropsRunTable 每次运行使用独立的表，完成后删除
func TestBakeDropsRunTable(t *testing.T) {
	store := stage.NewMemory()
	baker := NewBaker(store)
	r1, err := baker.Bake(context.Background(), threeMeshScene())
	require.NoError(t, err)
	r2, err := baker.Bake(context.Background(), threeMeshScene())
	require.NoError(t, err)

	assert.NotEqual(t, r1.Table, r2.Table)
	for _, table := range []string{r1.Table, r2.Table} {
		ok, err := store.TableExists(context.Background(), table)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

// TestBakeInstances 5 个实例加 1 个普通网格共用材质 C，得到一条包含 6 份拷贝的 partial
func TestBakeInstances(t *testing.T) {
	store := stage.NewMemory()
	cfg := DefaultConfig()
	rec := newRecorder(store, cfg)

	c := mtl("C")
	var instances []*dmat.T
	for i := 0; i < 5; i++ {
		instances = append(instances, Translation(float64(i*10), 0, 0))
	}
	parent := NewObject("parent")
	parent.Local = Translation(0, 0, 100)
	parent.Add(NewInstancedObject("trees", tri(0, 0, 0), c, instances))

	scene := NewScene()
	scene.Add(parent, NewMeshObject("rock", tri(0, 0, 0), c))

	res, err := NewBaker(store, WithConfig(cfg), WithRunner(rec)).Bake(context.Background(), scene)
	require.NoError(t, err)

	require.Len(t, rec.partials, 1)
	merged := rec.partials[0].Geometry
	assert.Equal(t, 18, merged.VertexCount())
	assert.Equal(t, 6, merged.FaceCount())
	for i := 0; i < 5; i++ {
		assert.Equal(t, vec3.T{float32(i * 10), 0, 100}, merged.Vertices[i*3], "instance %d", i)
	}
	assert.Equal(t, vec3.T{0, 0, 0}, merged.Vertices[15])
	assert.Equal(t, 1, res.Environment.Len())
	assert.Equal(t, 18, res.Collision.VertexCount())
}

// TestBakeZeroInstances 标记为实例但没有实例的网格不产生几何
func TestBakeZeroInstances(t *testing.T) {
	store := stage.NewMemory()
	cfg := DefaultConfig()
	rec := newRecorder(store, cfg)

	scene := NewScene()
	scene.Add(
		NewInstancedObject("none", tri(0, 0, 0), mtl("Z"), nil),
		NewMeshObject("rock", tri(0, 0, 0), mtl("R")),
	)
	res, err := NewBaker(store, WithConfig(cfg), WithRunner(rec)).Bake(context.Background(), scene)
	require.NoError(t, err)
	require.Len(t, rec.partials, 1)
	assert.Equal(t, "R", rec.partials[0].Key)
	assert.Equal(t, 2, res.Groups)
	assert.Equal(t, 3, res.Collision.VertexCount())
}

// TestBakeWorldTransform 烘焙后的顶点等于世界矩阵作用于原顶点，源几何不变
func TestBakeWorldTransform(t *testing.T) {
	geom := tri(1, 2, 3)
	geom.Normals = []vec3.T{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}}
	orig := geom.Clone()

	root := NewObject("root")
	root.Local = Scaling(2, 2, 2)
	child := NewMeshObject("child", geom, mtl("S"))
	child.Local = MulMatrix(Translation(10, 0, 0), RotationZ(0.5))
	root.Add(child)
	world := child.WorldMatrix()

	res, err := NewBaker(stage.NewMemory()).Bake(context.Background(), root)
	require.NoError(t, err)

	require.Equal(t, 1, res.Environment.Len())
	env := res.Environment.Objects[0]
	assert.True(t, isIdentity(env.WorldMatrix()))
	for i, v := range orig.Vertices {
		want := transformPoint(world, v)
		got := env.Mesh.Vertices[i]
		for k := 0; k < 3; k++ {
			assert.InDelta(t, want[k], got[k], 1e-4)
			assert.InDelta(t, want[k], res.Collision.Positions[i*3+k], 1e-4)
		}
		assert.InDelta(t, 1, env.Mesh.Normals[i].Length(), 1e-5)
	}
	assert.Equal(t, orig, geom)
	assert.Nil(t, res.Collision.Geometry().Normals)
}

// TestBakeOriginalMaterial 原始材质属性优先，场景材质库用于恢复材质
func TestBakeOriginalMaterial(t *testing.T) {
	brick := mtl("brick")
	placeholder := mtl("placeholder")

	mk := func() *Object {
		o := NewMeshObject("wall", tri(0, 0, 0), placeholder)
		o.Aux = &Properties{PROP_ORIGINAL_MATERIAL: StringProp("brick")}
		return o
	}

	scene := NewScene()
	scene.AddMaterial(brick)
	scene.Add(mk())
	res, err := NewBaker(stage.NewMemory()).Bake(context.Background(), scene)
	require.NoError(t, err)
	require.Len(t, res.Environment.Find("brick"), 1)
	assert.Same(t, brick, res.Environment.Find("brick")[0].Material())

	root := NewObject("root")
	root.Add(mk())
	res, err = NewBaker(stage.NewMemory()).Bake(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, res.Environment.Find("brick"), 1)
	assert.Same(t, placeholder, res.Environment.Find("brick")[0].Material())
}

// TestCollectIdempotent 对未修改的场景遍历两次得到相同的分组
func TestCollectIdempotent(t *testing.T) {
	scene := threeMeshScene()
	g1, err := collect(scene)
	require.NoError(t, err)
	g2, err := collect(scene)
	require.NoError(t, err)
	require.Len(t, g1, len(g2))
	for i := range g1 {
		assert.Equal(t, g1[i].key, g2[i].key)
		b1, err := MarshalGroup(g1[i].key, g1[i].recs)
		require.NoError(t, err)
		b2, err := MarshalGroup(g2[i].key, g2[i].recs)
		require.NoError(t, err)
		assert.Equal(t, b1, b2)
	}
}

func TestBakeWithEnvironment(t *testing.T) {
	env := NewGroup("level")
	res, err := NewBaker(stage.NewMemory(), WithEnvironment(env)).Bake(context.Background(), threeMeshScene())
	require.NoError(t, err)
	assert.Same(t, env, res.Environment)
	assert.Equal(t, 2, env.Len())
}

func TestBakeWorkerConcurrency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Worker.Concurrency = 4
	scene := NewScene()
	for i := 0; i < 20; i++ {
		scene.Add(NewMeshObject("m", tri(float32(i), 0, 0), mtl(string(rune('a'+i)))))
	}
	store := stage.NewMemory()
	rec := newRecorder(store, cfg)
	res, err := NewBaker(store, WithConfig(cfg), WithRunner(rec)).Bake(context.Background(), scene)
	require.NoError(t, err)
	assert.Len(t, rec.partials, 20)
	assert.Equal(t, 20, res.Environment.Len())
	assert.Equal(t, 60, res.Collision.VertexCount())
	require.NotNil(t, res.Collision.BVH)
}

// blockingRunner 在 ctx 结束或被释放前阻塞
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context, req StageRequest, out chan<- Message) {
	close(r.started)
	select {
	case <-r.release:
	case <-ctx.Done():
	}
}

// TestBakeInProgress 同一时间只允许一次烘焙
func TestBakeInProgress(t *testing.T) {
	r := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	baker := NewBaker(stage.NewMemory(), WithRunner(r))

	errc := make(chan error, 1)
	go func() {
		_, err := baker.Bake(context.Background(), threeMeshScene())
		errc <- err
	}()
	<-r.started

	_, err := baker.Bake(context.Background(), threeMeshScene())
	assert.ErrorIs(t, err, ErrBakeInProgress)

	close(r.release)
	var te *PipelineTransportError
	assert.ErrorAs(t, <-errc, &te)
}

func TestBakeContextCanceled(t *testing.T) {
	r := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-r.started
		cancel()
	}()
	_, err := NewBaker(stage.NewMemory(), WithRunner(r)).Bake(ctx, threeMeshScene())
	assert.ErrorIs(t, err, context.Canceled)
}

// lingeringRunner 在 ctx 结束后仍需一段时间才退出
type lingeringRunner struct {
	started chan struct{}
	exited  atomic.Bool
}

func (r *lingeringRunner) Run(ctx context.Context, req StageRequest, out chan<- Message) {
	close(r.started)
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	r.exited.Store(true)
}

// TestBakeWaitsForWorker 取消后在后台任务退出前不释放运行标记
func TestBakeWaitsForWorker(t *testing.T) {
	r := &lingeringRunner{started: make(chan struct{})}
	baker := NewBaker(stage.NewMemory(), WithRunner(r))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-r.started
		cancel()
	}()

	_, err := baker.Bake(ctx, threeMeshScene())
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, r.exited.Load())
	assert.False(t, baker.running.Load())
}

// TestBakeStrayVertices 凑不成三角形的无索引网格不影响整次烘焙
func TestBakeStrayVertices(t *testing.T) {
	scene := NewScene()
	scene.Add(
		NewMeshObject("wire", &Geometry{Vertices: []vec3.T{{0, 0, 0}, {1, 0, 0}}}, mtl("W")),
		NewMeshObject("solid", tri(0, 0, 1), mtl("S")),
	)
	res, err := NewBaker(stage.NewMemory()).Bake(context.Background(), scene)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Environment.Len())
	assert.Equal(t, 3, res.Collision.VertexCount())
	assert.Equal(t, 1, res.Collision.TriangleCount())
}

func TestBakeTransportErrors(t *testing.T) {
	tests := []struct {
		name   string
		runner Runner
		reason string
	}{
		{"closed", RunnerFunc(func(ctx context.Context, req StageRequest, out chan<- Message) {}), "worker exited before final"},
		{"panic", RunnerFunc(func(ctx context.Context, req StageRequest, out chan<- Message) { panic("boom") }), "worker panic"},
		{"taken", RunnerFunc(func(ctx context.Context, req StageRequest, out chan<- Message) {
			tr := NewTransfer(nil, nil)
			tr.Take()
			out <- Message{Type: MessageFinal, Payload: &CollisionPayload{}, Transfer: tr}
		}), "transfer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBaker(stage.NewMemory(), WithRunner(tt.runner)).Bake(context.Background(), threeMeshScene())
			var te *PipelineTransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.reason, te.Reason)
		})
	}
}

// faultyStore 注入读写错误
type faultyStore struct {
	stage.Store
	putErr error
	getErr error
}

func (s *faultyStore) Put(ctx context.Context, table, key string, value []byte) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.Store.Put(ctx, table, key, value)
}

func (s *faultyStore) Get(ctx context.Context, table, key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Store.Get(ctx, table, key)
}

func TestBakeStagingWriteError(t *testing.T) {
	quota := errors.New("quota exceeded")
	store := &faultyStore{Store: stage.NewMemory(), putErr: quota}
	cfg := DefaultConfig()
	rec := newRecorder(store, cfg)
	_, err := NewBaker(store, WithConfig(cfg), WithRunner(rec)).Bake(context.Background(), threeMeshScene())

	var we *StagingWriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "put", we.Op)
	assert.ErrorIs(t, err, quota)
	assert.Empty(t, rec.requests)
}

func TestBakeStagingReadError(t *testing.T) {
	lost := errors.New("connection lost")
	store := &faultyStore{Store: stage.NewMemory(), getErr: lost}
	_, err := NewBaker(store).Bake(context.Background(), threeMeshScene())

	var re *StagingReadError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "get", re.Op)
	assert.Equal(t, "A", re.Key)
	assert.ErrorIs(t, err, lost)
}

func TestBakeStagingDecodeError(t *testing.T) {
	store := stage.NewMemory()
	// 在派发前篡改暂存数据
	corrupt := RunnerFunc(func(ctx context.Context, req StageRequest, out chan<- Message) {
		store.Put(ctx, req.Table, req.Keys[0], []byte("garbage"))
		NewWorker(store, DefaultConfig().Worker).Run(ctx, req, out)
	})
	_, err := NewBaker(store, WithRunner(corrupt)).Bake(context.Background(), threeMeshScene())
	var re *StagingReadError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "decode", re.Op)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestBakeMergeError(t *testing.T) {
	withNormals := tri(0, 0, 0)
	withNormals.Normals = []vec3.T{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}}
	scene := NewScene()
	m := mtl("M")
	scene.Add(NewMeshObject("n", withNormals, m), NewMeshObject("p", tri(1, 1, 1), m))

	_, err := NewBaker(stage.NewMemory()).Bake(context.Background(), scene)
	var me *MergeLibraryError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "M", me.Key)
	assert.ErrorIs(t, err, ErrAttributeMismatch)
}

func TestBakeReuseTableClears(t *testing.T) {
	ctx := context.Background()
	store := stage.NewMemory()
	cfg := reuseConfig()
	require.NoError(t, store.EnsureTable(ctx, cfg.Staging.TablePrefix))
	require.NoError(t, store.Put(ctx, cfg.Staging.TablePrefix, "stale", []byte{1}))

	res, err := NewBaker(store, WithConfig(cfg)).Bake(ctx, threeMeshScene())
	require.NoError(t, err)
	assert.Equal(t, cfg.Staging.TablePrefix, res.Table)
	keys, err := store.Keys(ctx, res.Table)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestBakeSlowStore(t *testing.T) {
	store := &slowStore{Store: stage.NewMemory(), delay: time.Millisecond}
	cfg := DefaultConfig()
	cfg.Staging.Concurrency = 8
	scene := NewScene()
	for i := 0; i < 30; i++ {
		scene.Add(NewMeshObject("m", tri(0, 0, float32(i)), mtl(string(rune('A'+i)))))
	}
	res, err := NewBaker(store, WithConfig(cfg)).Bake(context.Background(), scene)
	require.NoError(t, err)
	assert.Equal(t, 30, res.Groups)
	assert.Equal(t, 30, res.Environment.Len())
}

type slowStore struct {
	stage.Store
	delay time.Duration
}

func (s *slowStore) Put(ctx context.Context, table, key string, value []byte) error {
	time.Sleep(s.delay)
	return s.Store.Put(ctx, table, key, value)
}
