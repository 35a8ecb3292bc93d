package mstbake

const RECORD_SIGNATURE string = "fwtr"
const V1 uint32 = 1
const RECORD_VERSION = V1

const (
	TEXTURE_FORMAT_R    = 0
	TEXTURE_FORMAT_RGB  = 4
	TEXTURE_FORMAT_RGBA = 6
)

const (
	TEXTURE_COMPRESSED_ZLIB = 1
)

// PROP_ORIGINAL_MATERIAL 材质被占位材质替换后，原始材质名保存在节点属性中
const PROP_ORIGINAL_MATERIAL = "originalMaterial"

const (
	DefaultTablePrefix = "collision_bake"
	DefaultLeafSize    = 8
)

// Attribute 几何属性
type Attribute uint8

const (
	AttributePosition Attribute = 1 << iota
	AttributeNormal
	AttributeColor
	AttributeTexCoord

	AttributeAll = AttributePosition | AttributeNormal | AttributeColor | AttributeTexCoord
)

func (a Attribute) Has(o Attribute) bool {
	return a&o == o
}

func (a Attribute) String() string {
	switch a {
	case AttributePosition:
		return "position"
	case AttributeNormal:
		return "normal"
	case AttributeColor:
		return "color"
	case AttributeTexCoord:
		return "uv"
	case AttributeAll:
		return "all"
	}
	return "mixed"
}
