package mstbake

import (
	"errors"
	"fmt"
	"io"
	"sort"
)

type PropsType int

const (
	PROP_TYPE_STRING = iota
	PROP_TYPE_INT
	PROP_TYPE_FLOAT
	PROP_TYPE_BOOL
	PROP_TYPE_ARRAY
	PROP_TYPE_MAP
)

var ErrInvalidProperties = errors.New("invalid properties")

type PropsValue struct {
	Type  PropsType
	Value interface{}
}

// Properties 节点的辅助元数据
type Properties map[string]PropsValue

func StringProp(s string) PropsValue {
	return PropsValue{Type: PROP_TYPE_STRING, Value: s}
}

func IntProp(v int64) PropsValue {
	return PropsValue{Type: PROP_TYPE_INT, Value: v}
}

func FloatProp(v float64) PropsValue {
	return PropsValue{Type: PROP_TYPE_FLOAT, Value: v}
}

func BoolProp(v bool) PropsValue {
	return PropsValue{Type: PROP_TYPE_BOOL, Value: v}
}

// GetString 读取字符串属性，类型不符时返回 false
func (p *Properties) GetString(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := (*p)[key]
	if !ok || v.Type != PROP_TYPE_STRING {
		return "", false
	}
	s, ok := v.Value.(string)
	return s, ok
}

func (p *Properties) Clone() *Properties {
	if p == nil {
		return nil
	}
	c := make(Properties, len(*p))
	for k, v := range *p {
		c[k] = v
	}
	return &c
}

// PropertiesMarshal 序列化Properties，键按字典序写出以保证输出稳定
func PropertiesMarshal(wt io.Writer, props *Properties) error {
	if props == nil {
		if err := writeLittleUint32(wt, 0); err != nil {
			return fmt.Errorf("write nil marker failed: %w", err)
		}
		return nil
	}

	if len(*props) > maxPropEntries {
		return fmt.Errorf("%w: %d entries", ErrInvalidProperties, len(*props))
	}
	if err := writeLittleUint32(wt, uint32(len(*props))); err != nil {
		return fmt.Errorf("write properties count failed: %w", err)
	}

	keys := make([]string, 0, len(*props))
	for k := range *props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := (*props)[key]
		if err := writeLittleString(wt, key, maxPropKeyLength); err != nil {
			return fmt.Errorf("write key failed: %w", err)
		}
		if err := writeLittleUint32(wt, uint32(value.Type)); err != nil {
			return fmt.Errorf("write value type failed: %w", err)
		}
		if err := marshalPropsValue(wt, value); err != nil {
			return fmt.Errorf("write value %q failed: %w", key, err)
		}
	}
	return nil
}

func marshalPropsValue(wt io.Writer, value PropsValue) error {
	switch value.Type {
	case PROP_TYPE_STRING:
		str, ok := value.Value.(string)
		if !ok {
			return fmt.Errorf("%w: string value is %T", ErrInvalidProperties, value.Value)
		}
		return writeLittleString(wt, str, maxPropStringLength)
	case PROP_TYPE_INT:
		intVal, ok := value.Value.(int64)
		if !ok {
			return fmt.Errorf("%w: int value is %T", ErrInvalidProperties, value.Value)
		}
		return writeLittleByte(wt, intVal)
	case PROP_TYPE_FLOAT:
		floatVal, ok := value.Value.(float64)
		if !ok {
			return fmt.Errorf("%w: float value is %T", ErrInvalidProperties, value.Value)
		}
		return writeLittleByte(wt, floatVal)
	case PROP_TYPE_BOOL:
		val := uint8(0)
		if b, _ := value.Value.(bool); b {
			val = 1
		}
		return writeLittleByte(wt, val)
	case PROP_TYPE_ARRAY:
		arr, ok := value.Value.([]PropsValue)
		if !ok {
			return fmt.Errorf("%w: array value is %T", ErrInvalidProperties, value.Value)
		}
		if len(arr) > maxPropArrayLength {
			return fmt.Errorf("%w: array of %d", ErrInvalidProperties, len(arr))
		}
		if err := writeLittleUint32(wt, uint32(len(arr))); err != nil {
			return fmt.Errorf("write array len failed: %w", err)
		}
		for _, item := range arr {
			if err := writeLittleUint32(wt, uint32(item.Type)); err != nil {
				return fmt.Errorf("write array item type failed: %w", err)
			}
			if err := marshalPropsValue(wt, item); err != nil {
				return fmt.Errorf("write array item failed: %w", err)
			}
		}
	case PROP_TYPE_MAP:
		subProps, ok := value.Value.(Properties)
		if !ok {
			return fmt.Errorf("%w: map value is %T", ErrInvalidProperties, value.Value)
		}
		if err := PropertiesMarshal(wt, &subProps); err != nil {
			return fmt.Errorf("write map properties failed: %w", err)
		}
	default:
		return fmt.Errorf("%w: unknown type %d", ErrInvalidProperties, value.Type)
	}
	return nil
}

// PropertiesUnMarshal 反序列化Properties，数量为0时返回nil
func PropertiesUnMarshal(rd io.Reader) (*Properties, error) {
	var size uint32
	if err := readLittleByte(rd, &size); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	if size > maxPropEntries {
		return nil, fmt.Errorf("%w: %d entries", ErrInvalidProperties, size)
	}

	props := make(Properties, size)
	for i := uint32(0); i < size; i++ {
		key, err := readLittleString(rd, maxPropKeyLength)
		if err != nil {
			return nil, fmt.Errorf("read key failed: %w", err)
		}
		var propType uint32
		if err := readLittleByte(rd, &propType); err != nil {
			return nil, err
		}
		value, err := unmarshalPropsValue(rd, PropsType(propType))
		if err != nil {
			return nil, fmt.Errorf("read value %q failed: %w", key, err)
		}
		props[key] = value
	}
	return &props, nil
}

func unmarshalPropsValue(rd io.Reader, propType PropsType) (PropsValue, error) {
	var value interface{}

	switch propType {
	case PROP_TYPE_STRING:
		s, err := readLittleString(rd, maxPropStringLength)
		if err != nil {
			return PropsValue{}, err
		}
		value = s
	case PROP_TYPE_INT:
		var intVal int64
		if err := readLittleByte(rd, &intVal); err != nil {
			return PropsValue{}, err
		}
		value = intVal
	case PROP_TYPE_FLOAT:
		var floatVal float64
		if err := readLittleByte(rd, &floatVal); err != nil {
			return PropsValue{}, err
		}
		value = floatVal
	case PROP_TYPE_BOOL:
		var boolVal uint8
		if err := readLittleByte(rd, &boolVal); err != nil {
			return PropsValue{}, err
		}
		value = boolVal == 1
	case PROP_TYPE_ARRAY:
		var arrLen uint32
		if err := readLittleByte(rd, &arrLen); err != nil {
			return PropsValue{}, err
		}
		if arrLen > maxPropArrayLength {
			return PropsValue{}, fmt.Errorf("%w: array of %d", ErrInvalidProperties, arrLen)
		}
		arr := make([]PropsValue, arrLen)
		for i := uint32(0); i < arrLen; i++ {
			var itemType uint32
			if err := readLittleByte(rd, &itemType); err != nil {
				return PropsValue{}, err
			}
			item, err := unmarshalPropsValue(rd, PropsType(itemType))
			if err != nil {
				return PropsValue{}, err
			}
			arr[i] = item
		}
		value = arr
	case PROP_TYPE_MAP:
		subProps, err := PropertiesUnMarshal(rd)
		if err != nil {
			return PropsValue{}, err
		}
		if subProps == nil {
			value = Properties{}
		} else {
			value = *subProps
		}
	default:
		return PropsValue{}, fmt.Errorf("%w: unknown type %d", ErrInvalidProperties, propType)
	}

	return PropsValue{Type: propType, Value: value}, nil
}
