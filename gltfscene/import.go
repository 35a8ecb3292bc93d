// Package gltfscene 在 glTF 文档与烘焙场景之间转换
package gltfscene

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	dmat "github.com/flywave/go3d/float64/mat4"
	"github.com/flywave/go3d/float64/quaternion"
	dvec3 "github.com/flywave/go3d/float64/vec3"
	"github.com/flywave/go3d/vec2"
	"github.com/flywave/go3d/vec3"
	"github.com/qmuntal/gltf"

	mstbake "github.com/flywave/go-mstbake"
)

var ErrUnsupportedAccessor = errors.New("unsupported accessor")

var identity32 = [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

// Options 导入选项
type Options struct {
	// Instancing 为 true 时，被多个节点引用的网格合并成一个实例网格，实例矩阵为各节点的世界矩阵
	Instancing bool
}

// Load 打开 .gltf 或 .glb 文件
func Load(path string, opts Options) (*mstbake.Scene, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return FromDocument(doc, opts)
}

// Decode 读取自包含的 glb 数据
func Decode(rd io.Reader, opts Options) (*mstbake.Scene, error) {
	doc := &gltf.Document{}
	if err := gltf.NewDecoder(rd).Decode(doc); err != nil {
		return nil, err
	}
	return FromDocument(doc, opts)
}

type primKey struct {
	mesh, prim int
}

type importer struct {
	doc       *gltf.Document
	opts      Options
	scene     *mstbake.Scene
	materials []mstbake.MeshMaterial
	geoms     map[primKey]*mstbake.Geometry
	refs      map[uint32]int
	instances map[uint32][]*mstbake.Object
}

// FromDocument 把文档的默认场景转换为节点树，材质以名称登记到场景材质库
func FromDocument(doc *gltf.Document, opts Options) (*mstbake.Scene, error) {
	im := &importer{
		doc:       doc,
		opts:      opts,
		scene:     mstbake.NewScene(),
		geoms:     make(map[primKey]*mstbake.Geometry),
		refs:      make(map[uint32]int),
		instances: make(map[uint32][]*mstbake.Object),
	}
	for i, mt := range doc.Materials {
		m, err := im.material(i, mt)
		if err != nil {
			return nil, err
		}
		im.materials = append(im.materials, m)
		im.scene.AddMaterial(m)
	}
	for _, nd := range doc.Nodes {
		if nd.Mesh != nil {
			im.refs[*nd.Mesh]++
		}
	}

	var roots []uint32
	if len(doc.Scenes) > 0 {
		sc := 0
		if doc.Scene != nil {
			sc = int(*doc.Scene)
		}
		roots = doc.Scenes[sc].Nodes
	} else {
		roots = rootNodes(doc)
	}
	for _, idx := range roots {
		o, err := im.node(idx, nil, 0)
		if err != nil {
			return nil, err
		}
		im.scene.Add(o)
	}
	if err := im.flushInstances(); err != nil {
		return nil, err
	}
	return im.scene, nil
}

func rootNodes(doc *gltf.Document) []uint32 {
	child := make(map[uint32]bool)
	for _, nd := range doc.Nodes {
		for _, c := range nd.Children {
			child[c] = true
		}
	}
	var roots []uint32
	for i := range doc.Nodes {
		if !child[uint32(i)] {
			roots = append(roots, uint32(i))
		}
	}
	return roots
}

func (im *importer) node(idx uint32, parent *dmat.T, depth int) (*mstbake.Object, error) {
	if int(idx) >= len(im.doc.Nodes) {
		return nil, fmt.Errorf("node %d out of range", idx)
	}
	if depth > 256 {
		return nil, fmt.Errorf("node %d: hierarchy too deep", idx)
	}
	nd := im.doc.Nodes[idx]
	o := mstbake.NewObject(nd.Name)
	o.Local = localMatrix(nd)
	o.Aux = nodeProps(nd)
	world := mstbake.MulMatrix(parent, o.Local)

	if nd.Mesh != nil {
		shared := im.opts.Instancing && im.refs[*nd.Mesh] > 1
		prims, err := im.mesh(*nd.Mesh)
		if err != nil {
			return nil, err
		}
		for _, p := range prims {
			if shared {
				// 实例网格挂在场景根下，使用本节点的世界矩阵作为实例矩阵
				inst := mstbake.NewInstancedObject(nd.Name, p.geom, p.mtl, []*dmat.T{world})
				inst.Aux = o.Aux
				im.instances[*nd.Mesh] = append(im.instances[*nd.Mesh], inst)
				continue
			}
			c := mstbake.NewMeshObject(nd.Name, p.geom, p.mtl)
			c.Aux = o.Aux
			o.Add(c)
		}
	}
	for _, ci := range nd.Children {
		c, err := im.node(ci, world, depth+1)
		if err != nil {
			return nil, err
		}
		o.Add(c)
	}
	return o, nil
}

// flushInstances 按图元合并同一网格的所有引用
func (im *importer) flushInstances() error {
	for mesh := 0; mesh < len(im.doc.Meshes); mesh++ {
		refs := im.instances[uint32(mesh)]
		if len(refs) == 0 {
			continue
		}
		byGeom := make(map[*mstbake.Geometry]*mstbake.Object)
		var order []*mstbake.Object
		for _, r := range refs {
			if o, ok := byGeom[r.Mesh]; ok {
				o.Instances = append(o.Instances, r.Instances...)
				continue
			}
			byGeom[r.Mesh] = r
			order = append(order, r)
		}
		for _, o := range order {
			im.scene.Add(o)
		}
	}
	return nil
}

type primitive struct {
	geom *mstbake.Geometry
	mtl  mstbake.MeshMaterial
}

func (im *importer) mesh(idx uint32) ([]primitive, error) {
	if int(idx) >= len(im.doc.Meshes) {
		return nil, fmt.Errorf("mesh %d out of range", idx)
	}
	mh := im.doc.Meshes[idx]
	out := make([]primitive, 0, len(mh.Primitives))
	for i, ps := range mh.Primitives {
		if ps.Mode != gltf.PrimitiveTriangles {
			mstbake.Logger().Debug("skip non-triangle primitive", "mesh", mh.Name, "primitive", i, "mode", ps.Mode)
			continue
		}
		key := primKey{int(idx), i}
		g, ok := im.geoms[key]
		if !ok {
			var err error
			if g, err = im.geometry(ps); err != nil {
				return nil, fmt.Errorf("mesh %q primitive %d: %w", mh.Name, i, err)
			}
			im.geoms[key] = g
		}
		var mtl mstbake.MeshMaterial
		if ps.Material != nil && int(*ps.Material) < len(im.materials) {
			mtl = im.materials[*ps.Material]
		}
		out = append(out, primitive{geom: g, mtl: mtl})
	}
	return out, nil
}

func (im *importer) geometry(ps *gltf.Primitive) (*mstbake.Geometry, error) {
	g := &mstbake.Geometry{}
	idx, ok := ps.Attributes["POSITION"]
	if !ok {
		return nil, errors.New("primitive has no POSITION")
	}
	pos, err := im.floats(idx, gltf.AccessorVec3)
	if err != nil {
		return nil, fmt.Errorf("POSITION: %w", err)
	}
	g.Vertices = make([]vec3.T, len(pos)/3)
	for i := range g.Vertices {
		g.Vertices[i] = vec3.T{pos[i*3], pos[i*3+1], pos[i*3+2]}
	}

	if idx, ok := ps.Attributes["NORMAL"]; ok {
		nl, err := im.floats(idx, gltf.AccessorVec3)
		if err != nil {
			return nil, fmt.Errorf("NORMAL: %w", err)
		}
		g.Normals = make([]vec3.T, len(nl)/3)
		for i := range g.Normals {
			g.Normals[i] = vec3.T{nl[i*3], nl[i*3+1], nl[i*3+2]}
		}
	}
	if idx, ok := ps.Attributes["TEXCOORD_0"]; ok {
		uv, err := im.floats(idx, gltf.AccessorVec2)
		if err != nil {
			return nil, fmt.Errorf("TEXCOORD_0: %w", err)
		}
		g.TexCoords = make([]vec2.T, len(uv)/2)
		for i := range g.TexCoords {
			g.TexCoords[i] = vec2.T{uv[i*2], uv[i*2+1]}
		}
	}
	if idx, ok := ps.Attributes["COLOR_0"]; ok {
		cl, err := im.colors(idx)
		if err != nil {
			return nil, fmt.Errorf("COLOR_0: %w", err)
		}
		g.Colors = cl
	}

	if ps.Indices != nil {
		ind, err := im.indices(*ps.Indices)
		if err != nil {
			return nil, fmt.Errorf("indices: %w", err)
		}
		g.Faces = make([][3]uint32, len(ind)/3)
		for i := range g.Faces {
			g.Faces[i] = [3]uint32{ind[i*3], ind[i*3+1], ind[i*3+2]}
		}
	} else {
		g.Faces = make([][3]uint32, len(g.Vertices)/3)
		for i := range g.Faces {
			b := uint32(i * 3)
			g.Faces[i] = [3]uint32{b, b + 1, b + 2}
		}
	}
	for i, f := range g.Faces {
		for _, v := range f {
			if int(v) >= len(g.Vertices) {
				return nil, fmt.Errorf("face %d references vertex %d of %d", i, v, len(g.Vertices))
			}
		}
	}
	// 同一材质下的图元合并时要求法线一致，缺失时按面法线补齐
	if len(g.Normals) == 0 {
		g.ReComputeNormal()
	}
	return g, nil
}

func componentSize(ct gltf.ComponentType) int {
	switch ct {
	case gltf.ComponentByte, gltf.ComponentUbyte:
		return 1
	case gltf.ComponentShort, gltf.ComponentUshort:
		return 2
	default:
		return 4
	}
}

func componentCount(t gltf.AccessorType) int {
	switch t {
	case gltf.AccessorScalar:
		return 1
	case gltf.AccessorVec2:
		return 2
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4, gltf.AccessorMat2:
		return 4
	case gltf.AccessorMat3:
		return 9
	default:
		return 16
	}
}

// elements 返回访问器的每个元素的原始字节，处理 byteStride
func (im *importer) elements(idx uint32) (*gltf.Accessor, [][]byte, error) {
	if int(idx) >= len(im.doc.Accessors) {
		return nil, nil, fmt.Errorf("accessor %d out of range", idx)
	}
	acc := im.doc.Accessors[idx]
	if acc.BufferView == nil {
		return nil, nil, fmt.Errorf("%w: accessor %d has no buffer view", ErrUnsupportedAccessor, idx)
	}
	if int(*acc.BufferView) >= len(im.doc.BufferViews) {
		return nil, nil, fmt.Errorf("buffer view %d out of range", *acc.BufferView)
	}
	view := im.doc.BufferViews[*acc.BufferView]
	if int(view.Buffer) >= len(im.doc.Buffers) {
		return nil, nil, fmt.Errorf("buffer %d out of range", view.Buffer)
	}
	data := im.doc.Buffers[view.Buffer].Data
	size := componentSize(acc.ComponentType) * componentCount(acc.Type)
	stride := int(view.ByteStride)
	if stride == 0 {
		stride = size
	}
	base := int(view.ByteOffset) + int(acc.ByteOffset)
	end := int(view.ByteOffset) + int(view.ByteLength)
	out := make([][]byte, acc.Count)
	for i := range out {
		off := base + i*stride
		if off+size > end || off+size > len(data) {
			return nil, nil, fmt.Errorf("accessor %d: element %d outside buffer", idx, i)
		}
		out[i] = data[off : off+size]
	}
	return acc, out, nil
}

func (im *importer) floats(idx uint32, want gltf.AccessorType) ([]float32, error) {
	acc, elems, err := im.elements(idx)
	if err != nil {
		return nil, err
	}
	if acc.ComponentType != gltf.ComponentFloat || acc.Type != want {
		return nil, fmt.Errorf("%w: accessor %d", ErrUnsupportedAccessor, idx)
	}
	n := componentCount(want)
	out := make([]float32, 0, len(elems)*n)
	for _, e := range elems {
		for k := 0; k < n; k++ {
			out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(e[k*4:])))
		}
	}
	return out, nil
}

func (im *importer) indices(idx uint32) ([]uint32, error) {
	acc, elems, err := im.elements(idx)
	if err != nil {
		return nil, err
	}
	if acc.Type != gltf.AccessorScalar {
		return nil, fmt.Errorf("%w: index accessor %d", ErrUnsupportedAccessor, idx)
	}
	out := make([]uint32, len(elems))
	for i, e := range elems {
		switch acc.ComponentType {
		case gltf.ComponentUbyte:
			out[i] = uint32(e[0])
		case gltf.ComponentUshort:
			out[i] = uint32(binary.LittleEndian.Uint16(e))
		case gltf.ComponentUint:
			out[i] = binary.LittleEndian.Uint32(e)
		default:
			return nil, fmt.Errorf("%w: index component %d", ErrUnsupportedAccessor, acc.ComponentType)
		}
	}
	return out, nil
}

func (im *importer) colors(idx uint32) ([][3]byte, error) {
	acc, elems, err := im.elements(idx)
	if err != nil {
		return nil, err
	}
	if acc.Type != gltf.AccessorVec3 && acc.Type != gltf.AccessorVec4 {
		return nil, fmt.Errorf("%w: color accessor %d", ErrUnsupportedAccessor, idx)
	}
	out := make([][3]byte, len(elems))
	for i, e := range elems {
		for k := 0; k < 3; k++ {
			switch acc.ComponentType {
			case gltf.ComponentUbyte:
				out[i][k] = e[k]
			case gltf.ComponentUshort:
				out[i][k] = byte(binary.LittleEndian.Uint16(e[k*2:]) >> 8)
			case gltf.ComponentFloat:
				f := math.Float32frombits(binary.LittleEndian.Uint32(e[k*4:]))
				out[i][k] = byte(math.Round(float64(clamp01(f)) * 255))
			default:
				return nil, fmt.Errorf("%w: color component %d", ErrUnsupportedAccessor, acc.ComponentType)
			}
		}
	}
	return out, nil
}

func clamp01(f float32) float32 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func localMatrix(nd *gltf.Node) *dmat.T {
	if nd.Matrix != identity32 && nd.Matrix != ([16]float32{}) {
		var a [16]float64
		for i, v := range nd.Matrix {
			a[i] = float64(v)
		}
		return mstbake.MatrixFromArray(a)
	}
	s := nd.Scale
	if s == ([3]float32{}) {
		s = [3]float32{1, 1, 1}
	}
	r := nd.Rotation
	if r == ([4]float32{}) {
		r = [4]float32{0, 0, 0, 1}
	}
	t := nd.Translation
	return mstbake.ComposeMatrix(
		&dvec3.T{float64(t[0]), float64(t[1]), float64(t[2])},
		&quaternion.T{float64(r[0]), float64(r[1]), float64(r[2]), float64(r[3])},
		&dvec3.T{float64(s[0]), float64(s[1]), float64(s[2])},
	)
}

// nodeProps 读取节点 extras 中的字符串与数值
func nodeProps(nd *gltf.Node) *mstbake.Properties {
	extras, ok := nd.Extras.(map[string]interface{})
	if !ok || len(extras) == 0 {
		return nil
	}
	props := mstbake.Properties{}
	for k, v := range extras {
		switch val := v.(type) {
		case string:
			props[k] = mstbake.StringProp(val)
		case float64:
			props[k] = mstbake.FloatProp(val)
		case bool:
			props[k] = mstbake.BoolProp(val)
		}
	}
	if len(props) == 0 {
		return nil
	}
	return &props
}

func (im *importer) material(i int, mt *gltf.Material) (mstbake.MeshMaterial, error) {
	mtl := &mstbake.PbrMaterial{}
	mtl.Name = mt.Name
	if mtl.Name == "" {
		mtl.Name = fmt.Sprintf("material_%d", i)
	}
	mtl.Color = [3]byte{255, 255, 255}
	mtl.Metallic = 1
	mtl.Roughness = 1
	for k := 0; k < 3; k++ {
		mtl.Emissive[k] = toByte(mt.EmissiveFactor[k])
	}
	pbr := mt.PBRMetallicRoughness
	if pbr == nil {
		return mtl, nil
	}
	if pbr.BaseColorFactor != nil {
		for k := 0; k < 3; k++ {
			mtl.Color[k] = toByte(pbr.BaseColorFactor[k])
		}
		mtl.Transparency = 1 - pbr.BaseColorFactor[3]
	}
	if pbr.MetallicFactor != nil {
		mtl.Metallic = *pbr.MetallicFactor
	}
	if pbr.RoughnessFactor != nil {
		mtl.Roughness = *pbr.RoughnessFactor
	}
	if pbr.BaseColorTexture != nil {
		tex, err := im.texture(pbr.BaseColorTexture.Index)
		if err != nil {
			return nil, fmt.Errorf("material %q: %w", mtl.Name, err)
		}
		mtl.Texture = tex
	}
	return mtl, nil
}

func toByte(f float32) byte {
	return byte(math.Round(float64(clamp01(f)) * 255))
}

// texture 只支持嵌入缓冲区的图片，外部 URI 被忽略
func (im *importer) texture(idx uint32) (*mstbake.Texture, error) {
	if int(idx) >= len(im.doc.Textures) {
		return nil, fmt.Errorf("texture %d out of range", idx)
	}
	tx := im.doc.Textures[idx]
	if tx.Source == nil || int(*tx.Source) >= len(im.doc.Images) {
		return nil, nil
	}
	img := im.doc.Images[*tx.Source]
	if img.BufferView == nil {
		mstbake.Logger().Debug("skip external image", "uri", img.URI)
		return nil, nil
	}
	if int(*img.BufferView) >= len(im.doc.BufferViews) {
		return nil, fmt.Errorf("buffer view %d out of range", *img.BufferView)
	}
	view := im.doc.BufferViews[*img.BufferView]
	if int(view.Buffer) >= len(im.doc.Buffers) {
		return nil, fmt.Errorf("buffer %d out of range", view.Buffer)
	}
	data := im.doc.Buffers[view.Buffer].Data
	if int(view.ByteOffset+view.ByteLength) > len(data) {
		return nil, fmt.Errorf("image %d outside buffer", *tx.Source)
	}
	repeat := true
	if tx.Sampler != nil && int(*tx.Sampler) < len(im.doc.Samplers) {
		repeat = im.doc.Samplers[*tx.Sampler].WrapS == gltf.WrapRepeat
	}
	name := img.Name
	if name == "" {
		name = fmt.Sprintf("image_%d", *tx.Source)
	}
	tex, err := mstbake.DecodeTexture(bytes.NewReader(data[view.ByteOffset:view.ByteOffset+view.ByteLength]), name, repeat)
	if err != nil {
		return nil, err
	}
	tex.Id = int32(idx)
	return tex, nil
}
