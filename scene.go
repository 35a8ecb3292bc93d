package mstbake

import (
	"errors"

	dmat "github.com/flywave/go3d/float64/mat4"
)

// SkipChildren 由 Walk 回调返回时跳过该节点的子树
var SkipChildren = errors.New("skip children")

// Node 场景树中的一个节点
type Node interface {
	Children() []Node
	WorldMatrix() *dmat.T
}

// Renderable 带几何的节点，Geometry 为 nil 时视为普通节点
type Renderable interface {
	Node
	Geometry() *Geometry
	Material() MeshMaterial
	Props() *Properties
}

// Instanced 实例化能力，普通网格的 IsInstanced 为 false
type Instanced interface {
	IsInstanced() bool
	InstanceCount() int
	InstanceTransformAt(i int) *dmat.T
}

// MaterialLibrary 按材质名查找原始材质，场景根节点可选实现
type MaterialLibrary interface {
	LookupMaterial(key string) (MeshMaterial, bool)
}

// Walk 深度优先遍历
func Walk(n Node, fn func(Node) error) error {
	if n == nil {
		return nil
	}
	if err := fn(n); err != nil {
		if errors.Is(err, SkipChildren) {
			return nil
		}
		return err
	}
	for _, c := range n.Children() {
		if err := Walk(c, fn); err != nil {
			return err
		}
	}
	return nil
}

// MaterialKey 返回节点的有效材质标识，原始材质优先于占位材质
func MaterialKey(r Renderable) string {
	if key, ok := r.Props().GetString(PROP_ORIGINAL_MATERIAL); ok && key != "" {
		return key
	}
	if m := r.Material(); m != nil {
		return m.GetName()
	}
	return ""
}

// Object 场景节点的默认实现
type Object struct {
	Name      string
	Local     *dmat.T
	Mesh      *Geometry
	Mtl       MeshMaterial
	Instances []*dmat.T
	Instanced bool
	Aux       *Properties

	parent   *Object
	children []*Object
}

func NewObject(name string) *Object {
	return &Object{Name: name, Local: identityMatrix()}
}

func NewMeshObject(name string, geom *Geometry, mtl MeshMaterial) *Object {
	o := NewObject(name)
	o.Mesh = geom
	o.Mtl = mtl
	return o
}

// NewInstancedObject 即使没有实例也标记为实例网格
func NewInstancedObject(name string, geom *Geometry, mtl MeshMaterial, instances []*dmat.T) *Object {
	o := NewMeshObject(name, geom, mtl)
	o.Instances = instances
	o.Instanced = true
	return o
}

func (o *Object) Add(children ...*Object) *Object {
	for _, c := range children {
		if c.parent != nil {
			c.parent.Remove(c)
		}
		c.parent = o
		o.children = append(o.children, c)
	}
	return o
}

func (o *Object) Remove(child *Object) {
	for i, c := range o.children {
		if c == child {
			o.children = append(o.children[:i], o.children[i+1:]...)
			child.parent = nil
			return
		}
	}
}

func (o *Object) Parent() *Object {
	return o.parent
}

func (o *Object) Children() []Node {
	nodes := make([]Node, len(o.children))
	for i, c := range o.children {
		nodes[i] = c
	}
	return nodes
}

func (o *Object) WorldMatrix() *dmat.T {
	if o.parent == nil {
		return copyMatrix(o.Local)
	}
	return MulMatrix(o.parent.WorldMatrix(), o.Local)
}

func (o *Object) IsInstanced() bool {
	return o.Instanced
}

func (o *Object) InstanceCount() int {
	return len(o.Instances)
}

func (o *Object) InstanceTransformAt(i int) *dmat.T {
	return copyMatrix(o.Instances[i])
}

func (o *Object) Geometry() *Geometry {
	return o.Mesh
}

func (o *Object) Material() MeshMaterial {
	return o.Mtl
}

func (o *Object) Props() *Properties {
	return o.Aux
}

// Scene 场景根，附带材质库
type Scene struct {
	*Object
	Materials map[string]MeshMaterial
}

func NewScene() *Scene {
	return &Scene{Object: NewObject("scene"), Materials: map[string]MeshMaterial{}}
}

func (s *Scene) AddMaterial(m MeshMaterial) {
	s.Materials[m.GetName()] = m
}

func (s *Scene) LookupMaterial(key string) (MeshMaterial, bool) {
	m, ok := s.Materials[key]
	return m, ok
}

// Group 环境组，扁平保存已烘焙的网格
type Group struct {
	Name    string
	Objects []*Object
}

func NewGroup(name string) *Group {
	return &Group{Name: name}
}

func (g *Group) Append(o *Object) {
	g.Objects = append(g.Objects, o)
}

func (g *Group) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Objects)
}

// Find 按材质标识查找网格
func (g *Group) Find(materialKey string) []*Object {
	var out []*Object
	for _, o := range g.Objects {
		if o.Name == materialKey {
			out = append(out, o)
		}
	}
	return out
}
