package mstbake

// MeshMaterial 接口定义了材质的基本方法，GetName 返回材质标识
type MeshMaterial interface {
	GetName() string
	HasTexture() bool
	GetTexture() *Texture
	GetColor() [3]byte
	GetEmissive() [3]byte
}

// BaseMaterial 基础材质
type BaseMaterial struct {
	Name         string  `json:"name"`
	Color        [3]byte `json:"color"`
	Transparency float32 `json:"transparency"`
}

func (m *BaseMaterial) GetName() string {
	return m.Name
}

func (m *BaseMaterial) HasTexture() bool {
	return false
}

func (m *BaseMaterial) GetEmissive() [3]byte {
	return [3]byte{0, 0, 0}
}

func (m *BaseMaterial) GetTexture() *Texture {
	return nil
}

func (m *BaseMaterial) GetColor() [3]byte {
	return m.Color
}

// TextureMaterial 纹理材质
type TextureMaterial struct {
	BaseMaterial
	Texture *Texture `json:"texture,omitempty"`
	Normal  *Texture `json:"normal,omitempty"`
}

func (m *TextureMaterial) HasTexture() bool {
	return m.Texture != nil
}

func (m *TextureMaterial) GetTexture() *Texture {
	return m.Texture
}

func (m *TextureMaterial) HasNormalTexture() bool {
	return m.Normal != nil
}

type PbrMaterial struct {
	TextureMaterial
	Emissive  [3]byte `json:"emissive"`
	Metallic  float32 `json:"metallic"`
	Roughness float32 `json:"roughness"`
}

func (m *PbrMaterial) GetEmissive() [3]byte {
	return m.Emissive
}

type LambertMaterial struct {
	TextureMaterial
	Ambient  [3]byte `json:"ambient"`
	Diffuse  [3]byte `json:"diffuse"`
	Emissive [3]byte `json:"emissive"`
}

func (m *LambertMaterial) GetEmissive() [3]byte {
	return m.Emissive
}
