package mstbake

import (
	dmat "github.com/flywave/go3d/float64/mat4"
)

// MeshRecord 暂存记录，几何以引用方式持有直到烘焙时克隆
type MeshRecord struct {
	Name        string
	MaterialKey string
	Geometry    *Geometry
	World       [16]float64
	Instanced   bool
	Instances   []*dmat.T
	Props       *Properties
}

// Encode 由节点生成记录，不修改节点；须在几何被再次修改之前调用
func Encode(r Renderable) *MeshRecord {
	rec := &MeshRecord{
		MaterialKey: MaterialKey(r),
		Geometry:    r.Geometry(),
		World:       MatrixToArray(r.WorldMatrix()),
		Props:       r.Props(),
	}
	if o, ok := r.(*Object); ok {
		rec.Name = o.Name
	}
	if inst, ok := r.(Instanced); ok && inst.IsInstanced() {
		rec.Instanced = true
		n := inst.InstanceCount()
		rec.Instances = make([]*dmat.T, n)
		for i := 0; i < n; i++ {
			rec.Instances[i] = copyMatrix(inst.InstanceTransformAt(i))
		}
	}
	return rec
}

// Decode 记录还原为节点，材质不随记录传递
func Decode(rec *MeshRecord) *Object {
	o := NewObject(rec.Name)
	o.Mesh = rec.Geometry
	o.Local = MatrixFromArray(rec.World)
	o.Aux = rec.Props
	if rec.Instanced {
		o.Instanced = true
		o.Instances = make([]*dmat.T, len(rec.Instances))
		for i, m := range rec.Instances {
			o.Instances[i] = copyMatrix(m)
		}
	}
	return o
}

// Expand 展开实例网格，每个实例的世界矩阵为 World*Instance[i]；
// 普通网格展开为自身，零实例的实例网格不产生任何网格
func Expand(o *Object) []*Object {
	if !o.IsInstanced() {
		return []*Object{o}
	}
	world := o.WorldMatrix()
	out := make([]*Object, 0, o.InstanceCount())
	for i := 0; i < o.InstanceCount(); i++ {
		c := NewObject(o.Name)
		c.Mesh = o.Mesh
		c.Mtl = o.Mtl
		c.Aux = o.Aux
		c.Local = MulMatrix(world, o.InstanceTransformAt(i))
		out = append(out, c)
	}
	return out
}

// Bake 克隆几何并烘焙世界矩阵
func Bake(o *Object) *Geometry {
	g := o.Mesh.Clone()
	g.ApplyMatrix(o.WorldMatrix())
	return g
}
