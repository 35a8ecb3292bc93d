package gltfscene

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image/png"
	"io"
	"os"

	"github.com/qmuntal/gltf"

	mstbake "github.com/flywave/go-mstbake"
)

const GLTF_VERSION = "2.0"

func CreateDoc() *gltf.Document {
	doc := &gltf.Document{}
	doc.Asset.Version = GLTF_VERSION
	doc.Asset.Generator = "mstbake"
	srcIndex := uint32(0)
	doc.Scene = &srcIndex
	doc.Scenes = append(doc.Scenes, &gltf.Scene{})
	doc.Buffers = append(doc.Buffers, &gltf.Buffer{})
	return doc
}

type calcSizeWriter struct {
	writer io.Writer
	Size   int
}

func (w *calcSizeWriter) Write(p []byte) (n int, err error) {
	n, err = w.writer.Write(p)
	w.Size += n
	return n, err
}

func (w *calcSizeWriter) Bytes() []byte {
	return w.writer.(*bytes.Buffer).Bytes()
}

func newSizeWriter() *calcSizeWriter {
	return &calcSizeWriter{writer: &bytes.Buffer{}}
}

func calcPadding(offset, paddingUnit int) int {
	padding := offset % paddingUnit
	if padding != 0 {
		padding = paddingUnit - padding
	}
	return padding
}

// GetGltfBinary 编码为 glb，并以空格补齐到 paddingUnit 的整数倍
func GetGltfBinary(doc *gltf.Document, paddingUnit int) ([]byte, error) {
	w := newSizeWriter()
	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if paddingUnit <= 1 {
		return w.Bytes(), nil
	}
	padding := calcPadding(w.Size, paddingUnit)
	if padding == 0 {
		return w.Bytes(), nil
	}
	pad := bytes.Repeat([]byte{0x20}, padding)
	if _, err := w.Write(pad); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// WriteGLB 写出 glb 文件
func WriteGLB(path string, doc *gltf.Document) error {
	data, err := GetGltfBinary(doc, 4)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

type exporter struct {
	doc  *gltf.Document
	mtls map[mstbake.MeshMaterial]uint32
}

// ExportEnvironment 环境组中每个网格成为一个节点，材质按实例去重
func ExportEnvironment(g *mstbake.Group) (*gltf.Document, error) {
	ex := &exporter{doc: CreateDoc(), mtls: make(map[mstbake.MeshMaterial]uint32)}
	if g == nil {
		return ex.doc, nil
	}
	for _, o := range g.Objects {
		if o.Mesh.VertexCount() == 0 {
			continue
		}
		var mtl *uint32
		if o.Mtl != nil {
			id, err := ex.material(o.Mtl)
			if err != nil {
				return nil, err
			}
			mtl = &id
		}
		if err := ex.mesh(o.Name, o.Mesh, mtl); err != nil {
			return nil, fmt.Errorf("mesh %q: %w", o.Name, err)
		}
	}
	return ex.doc, nil
}

// ExportCollision 碰撞几何导出为一个只含位置的网格
func ExportCollision(c *mstbake.CollisionGeometry) (*gltf.Document, error) {
	ex := &exporter{doc: CreateDoc()}
	if c == nil || c.VertexCount() == 0 {
		return ex.doc, nil
	}
	if err := ex.mesh("collision", c.Geometry(), nil); err != nil {
		return nil, err
	}
	return ex.doc, nil
}

// view 追加缓冲区视图，起始位置按 4 字节对齐
func (ex *exporter) view(data interface{}, target gltf.Target) (uint32, error) {
	buffer := ex.doc.Buffers[0]
	if pad := calcPadding(len(buffer.Data), 4); pad > 0 {
		buffer.Data = append(buffer.Data, make([]byte, pad)...)
	}
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, data); err != nil {
		return 0, err
	}
	bv := &gltf.BufferView{
		Buffer:     0,
		ByteOffset: uint32(len(buffer.Data)),
		ByteLength: uint32(buf.Len()),
		Target:     target,
	}
	buffer.Data = append(buffer.Data, buf.Bytes()...)
	buffer.ByteLength = uint32(len(buffer.Data))
	ex.doc.BufferViews = append(ex.doc.BufferViews, bv)
	return uint32(len(ex.doc.BufferViews) - 1), nil
}

func (ex *exporter) accessor(view uint32, ct gltf.ComponentType, t gltf.AccessorType, count int) uint32 {
	acc := &gltf.Accessor{
		BufferView:    &view,
		ComponentType: ct,
		Type:          t,
		Count:         uint32(count),
	}
	ex.doc.Accessors = append(ex.doc.Accessors, acc)
	return uint32(len(ex.doc.Accessors) - 1)
}

func (ex *exporter) mesh(name string, g *mstbake.Geometry, mtl *uint32) error {
	ps := &gltf.Primitive{Attributes: make(gltf.Attribute), Mode: gltf.PrimitiveTriangles, Material: mtl}

	bv, err := ex.view(g.Vertices, gltf.TargetArrayBuffer)
	if err != nil {
		return err
	}
	pos := ex.accessor(bv, gltf.ComponentFloat, gltf.AccessorVec3, len(g.Vertices))
	box := g.GetBoundbox()
	ex.doc.Accessors[pos].Min = []float32{float32(box[0]), float32(box[1]), float32(box[2])}
	ex.doc.Accessors[pos].Max = []float32{float32(box[3]), float32(box[4]), float32(box[5])}
	ps.Attributes["POSITION"] = pos

	if len(g.Normals) > 0 {
		if bv, err = ex.view(g.Normals, gltf.TargetArrayBuffer); err != nil {
			return err
		}
		ps.Attributes["NORMAL"] = ex.accessor(bv, gltf.ComponentFloat, gltf.AccessorVec3, len(g.Normals))
	}
	if len(g.TexCoords) > 0 {
		if bv, err = ex.view(g.TexCoords, gltf.TargetArrayBuffer); err != nil {
			return err
		}
		ps.Attributes["TEXCOORD_0"] = ex.accessor(bv, gltf.ComponentFloat, gltf.AccessorVec2, len(g.TexCoords))
	}
	if len(g.Colors) > 0 {
		// 顶点属性需要 4 字节对齐，颜色补上 alpha
		rgba := make([][4]byte, len(g.Colors))
		for i, c := range g.Colors {
			rgba[i] = [4]byte{c[0], c[1], c[2], 255}
		}
		if bv, err = ex.view(rgba, gltf.TargetArrayBuffer); err != nil {
			return err
		}
		cl := ex.accessor(bv, gltf.ComponentUbyte, gltf.AccessorVec4, len(rgba))
		ex.doc.Accessors[cl].Normalized = true
		ps.Attributes["COLOR_0"] = cl
	}
	if len(g.Faces) > 0 {
		if bv, err = ex.view(g.Faces, gltf.TargetElementArrayBuffer); err != nil {
			return err
		}
		ind := ex.accessor(bv, gltf.ComponentUint, gltf.AccessorScalar, len(g.Faces)*3)
		ps.Indices = &ind
	}

	meshID := uint32(len(ex.doc.Meshes))
	ex.doc.Meshes = append(ex.doc.Meshes, &gltf.Mesh{Name: name, Primitives: []*gltf.Primitive{ps}})
	ex.doc.Scenes[0].Nodes = append(ex.doc.Scenes[0].Nodes, uint32(len(ex.doc.Nodes)))
	ex.doc.Nodes = append(ex.doc.Nodes, &gltf.Node{Name: name, Mesh: &meshID})
	return nil
}

func colorFactor(c [3]byte, transparency float32) *[4]float32 {
	return &[4]float32{float32(c[0]) / 255, float32(c[1]) / 255, float32(c[2]) / 255, 1 - transparency}
}

func (ex *exporter) material(m mstbake.MeshMaterial) (uint32, error) {
	if id, ok := ex.mtls[m]; ok {
		return id, nil
	}
	gm := &gltf.Material{Name: m.GetName(), DoubleSided: true}
	gm.PBRMetallicRoughness = &gltf.PBRMetallicRoughness{}
	var texMtl *mstbake.TextureMaterial
	switch ml := m.(type) {
	case *mstbake.BaseMaterial:
		gm.PBRMetallicRoughness.BaseColorFactor = colorFactor(ml.Color, ml.Transparency)
	case *mstbake.PbrMaterial:
		gm.PBRMetallicRoughness.BaseColorFactor = colorFactor(ml.Color, ml.Transparency)
		mc, rs := ml.Metallic, ml.Roughness
		gm.PBRMetallicRoughness.MetallicFactor = &mc
		gm.PBRMetallicRoughness.RoughnessFactor = &rs
		texMtl = &ml.TextureMaterial
	case *mstbake.LambertMaterial:
		gm.PBRMetallicRoughness.BaseColorFactor = colorFactor(ml.Color, ml.Transparency)
		texMtl = &ml.TextureMaterial
	case *mstbake.TextureMaterial:
		gm.PBRMetallicRoughness.BaseColorFactor = colorFactor(ml.Color, ml.Transparency)
		texMtl = ml
	default:
		gm.PBRMetallicRoughness.BaseColorFactor = colorFactor(m.GetColor(), 0)
	}
	em := m.GetEmissive()
	for k := 0; k < 3; k++ {
		gm.EmissiveFactor[k] = float32(em[k]) / 255
	}
	if f := gm.PBRMetallicRoughness.BaseColorFactor; f != nil && f[3] < 1 {
		gm.AlphaMode = gltf.AlphaBlend
	}

	if texMtl != nil && texMtl.Texture != nil {
		idx, err := ex.texture(texMtl.Texture)
		if err != nil {
			return 0, fmt.Errorf("material %q: %w", m.GetName(), err)
		}
		gm.PBRMetallicRoughness.BaseColorTexture = &gltf.TextureInfo{Index: idx}
	}

	ex.doc.Materials = append(ex.doc.Materials, gm)
	id := uint32(len(ex.doc.Materials) - 1)
	ex.mtls[m] = id
	return id, nil
}

func (ex *exporter) texture(tex *mstbake.Texture) (uint32, error) {
	img, err := mstbake.LoadTexture(tex, false)
	if err != nil {
		return 0, err
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return 0, err
	}
	bv, err := ex.view(buf.Bytes(), gltf.TargetNone)
	if err != nil {
		return 0, err
	}
	imIndex := uint32(len(ex.doc.Images))
	ex.doc.Images = append(ex.doc.Images, &gltf.Image{Name: tex.Name, MimeType: "image/png", BufferView: &bv})

	sp := &gltf.Sampler{WrapS: gltf.WrapRepeat, WrapT: gltf.WrapRepeat}
	if !tex.Repeated {
		sp = &gltf.Sampler{WrapS: gltf.WrapClampToEdge, WrapT: gltf.WrapClampToEdge}
	}
	spIndex := uint32(len(ex.doc.Samplers))
	ex.doc.Samplers = append(ex.doc.Samplers, sp)

	ex.doc.Textures = append(ex.doc.Textures, &gltf.Texture{Sampler: &spIndex, Source: &imIndex})
	return uint32(len(ex.doc.Textures) - 1), nil
}
