package mstbake

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	dmat "github.com/flywave/go3d/float64/mat4"

	"github.com/flywave/go3d/vec2"
	"github.com/flywave/go3d/vec3"
)

const maxElementCount = 1 << 28

// 读写两端共用的长度上限
const (
	maxNameLength       = 1 << 16
	maxPropKeyLength    = 100
	maxPropStringLength = 100000
	maxPropEntries      = 1000
	maxPropArrayLength  = 100000
)

var (
	ErrBadSignature  = errors.New("bad record signature")
	ErrStringTooLong = errors.New("string too long")
)

func writeLittleByte(wt io.Writer, v interface{}) error {
	return binary.Write(wt, binary.LittleEndian, v)
}

func readLittleByte(rd io.Reader, v interface{}) error {
	return binary.Read(rd, binary.LittleEndian, v)
}

func writeLittleUint32(wt io.Writer, v uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	_, err := wt.Write(buf)
	return err
}

func writeLittleString(wt io.Writer, s string, max uint32) error {
	if uint64(len(s)) > uint64(max) {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrStringTooLong, len(s), max)
	}
	if err := writeLittleUint32(wt, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(wt, s)
	return err
}

func readLittleString(rd io.Reader, max uint32) (string, error) {
	var size uint32
	if err := readLittleByte(rd, &size); err != nil {
		return "", err
	}
	if size > max {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrStringTooLong, size, max)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(rd, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readCount(rd io.Reader) (int, error) {
	var size uint32
	if err := readLittleByte(rd, &size); err != nil {
		return 0, err
	}
	if size > maxElementCount {
		return 0, fmt.Errorf("element count %d exceeds %d", size, maxElementCount)
	}
	return int(size), nil
}

func writeSlice(wt io.Writer, n int, data interface{}) error {
	if err := writeLittleUint32(wt, uint32(n)); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return writeLittleByte(wt, data)
}

func MatrixMarshal(wt io.Writer, m *dmat.T) error {
	a := MatrixToArray(m)
	return writeLittleByte(wt, a[:])
}

func MatrixUnMarshal(rd io.Reader) (*dmat.T, error) {
	var a [16]float64
	if err := readLittleByte(rd, a[:]); err != nil {
		return nil, err
	}
	return MatrixFromArray(a), nil
}

func GeometryMarshal(wt io.Writer, g *Geometry) error {
	if g == nil {
		g = &Geometry{}
	}
	if err := writeSlice(wt, len(g.Vertices), g.Vertices); err != nil {
		return fmt.Errorf("write vertices failed: %w", err)
	}
	if err := writeSlice(wt, len(g.Normals), g.Normals); err != nil {
		return fmt.Errorf("write normals failed: %w", err)
	}
	if err := writeSlice(wt, len(g.Colors), g.Colors); err != nil {
		return fmt.Errorf("write colors failed: %w", err)
	}
	if err := writeSlice(wt, len(g.TexCoords), g.TexCoords); err != nil {
		return fmt.Errorf("write texcoords failed: %w", err)
	}
	if err := writeSlice(wt, len(g.Faces), g.Faces); err != nil {
		return fmt.Errorf("write faces failed: %w", err)
	}
	return nil
}

func GeometryUnMarshal(rd io.Reader) (*Geometry, error) {
	g := &Geometry{}
	size, err := readCount(rd)
	if err != nil {
		return nil, fmt.Errorf("read vertices failed: %w", err)
	}
	if size > 0 {
		g.Vertices = make([]vec3.T, size)
		if err := readLittleByte(rd, g.Vertices); err != nil {
			return nil, fmt.Errorf("read vertices failed: %w", err)
		}
	}
	if size, err = readCount(rd); err != nil {
		return nil, fmt.Errorf("read normals failed: %w", err)
	}
	if size > 0 {
		g.Normals = make([]vec3.T, size)
		if err := readLittleByte(rd, g.Normals); err != nil {
			return nil, fmt.Errorf("read normals failed: %w", err)
		}
	}
	if size, err = readCount(rd); err != nil {
		return nil, fmt.Errorf("read colors failed: %w", err)
	}
	if size > 0 {
		g.Colors = make([][3]byte, size)
		if err := readLittleByte(rd, g.Colors); err != nil {
			return nil, fmt.Errorf("read colors failed: %w", err)
		}
	}
	if size, err = readCount(rd); err != nil {
		return nil, fmt.Errorf("read texcoords failed: %w", err)
	}
	if size > 0 {
		g.TexCoords = make([]vec2.T, size)
		if err := readLittleByte(rd, g.TexCoords); err != nil {
			return nil, fmt.Errorf("read texcoords failed: %w", err)
		}
	}
	if size, err = readCount(rd); err != nil {
		return nil, fmt.Errorf("read faces failed: %w", err)
	}
	if size > 0 {
		g.Faces = make([][3]uint32, size)
		if err := readLittleByte(rd, g.Faces); err != nil {
			return nil, fmt.Errorf("read faces failed: %w", err)
		}
	}
	return g, nil
}

func MeshRecordMarshal(wt io.Writer, rec *MeshRecord) error {
	if err := writeLittleString(wt, rec.Name, maxNameLength); err != nil {
		return err
	}
	if err := writeLittleString(wt, rec.MaterialKey, maxNameLength); err != nil {
		return err
	}
	if err := writeLittleByte(wt, rec.World[:]); err != nil {
		return err
	}
	var instanced uint8
	if rec.Instanced {
		instanced = 1
	}
	if err := writeLittleByte(wt, instanced); err != nil {
		return err
	}
	if err := writeLittleUint32(wt, uint32(len(rec.Instances))); err != nil {
		return err
	}
	for _, m := range rec.Instances {
		if err := MatrixMarshal(wt, m); err != nil {
			return err
		}
	}
	if err := GeometryMarshal(wt, rec.Geometry); err != nil {
		return err
	}
	return PropertiesMarshal(wt, rec.Props)
}

func MeshRecordUnMarshal(rd io.Reader) (*MeshRecord, error) {
	rec := &MeshRecord{}
	var err error
	if rec.Name, err = readLittleString(rd, maxNameLength); err != nil {
		return nil, fmt.Errorf("read name failed: %w", err)
	}
	if rec.MaterialKey, err = readLittleString(rd, maxNameLength); err != nil {
		return nil, fmt.Errorf("read material key failed: %w", err)
	}
	if err = readLittleByte(rd, rec.World[:]); err != nil {
		return nil, fmt.Errorf("read world matrix failed: %w", err)
	}
	var instanced uint8
	if err = readLittleByte(rd, &instanced); err != nil {
		return nil, err
	}
	rec.Instanced = instanced == 1
	size, err := readCount(rd)
	if err != nil {
		return nil, fmt.Errorf("read instances failed: %w", err)
	}
	if size > 0 {
		rec.Instances = make([]*dmat.T, size)
		for i := range rec.Instances {
			if rec.Instances[i], err = MatrixUnMarshal(rd); err != nil {
				return nil, fmt.Errorf("read instance %d failed: %w", i, err)
			}
		}
	}
	if rec.Geometry, err = GeometryUnMarshal(rd); err != nil {
		return nil, err
	}
	if rec.Props, err = PropertiesUnMarshal(rd); err != nil {
		return nil, fmt.Errorf("read props failed: %w", err)
	}
	return rec, nil
}

// MaterialGroupMarshal 写出一个材质组：签名、版本、材质标识、记录列表
func MaterialGroupMarshal(wt io.Writer, key string, recs []*MeshRecord) error {
	if _, err := wt.Write([]byte(RECORD_SIGNATURE)); err != nil {
		return err
	}
	if err := writeLittleUint32(wt, RECORD_VERSION); err != nil {
		return err
	}
	if err := writeLittleString(wt, key, maxNameLength); err != nil {
		return err
	}
	if err := writeLittleUint32(wt, uint32(len(recs))); err != nil {
		return err
	}
	for i, rec := range recs {
		if err := MeshRecordMarshal(wt, rec); err != nil {
			return fmt.Errorf("write record %d failed: %w", i, err)
		}
	}
	return nil
}

func MaterialGroupUnMarshal(rd io.Reader) (string, []*MeshRecord, error) {
	sig := make([]byte, len(RECORD_SIGNATURE))
	if _, err := io.ReadFull(rd, sig); err != nil {
		return "", nil, err
	}
	if string(sig) != RECORD_SIGNATURE {
		return "", nil, fmt.Errorf("%w: %q", ErrBadSignature, sig)
	}
	var version uint32
	if err := readLittleByte(rd, &version); err != nil {
		return "", nil, err
	}
	if version > RECORD_VERSION {
		return "", nil, fmt.Errorf("unsupported record version %d", version)
	}
	key, err := readLittleString(rd, maxNameLength)
	if err != nil {
		return "", nil, err
	}
	size, err := readCount(rd)
	if err != nil {
		return "", nil, err
	}
	recs := make([]*MeshRecord, size)
	for i := range recs {
		if recs[i], err = MeshRecordUnMarshal(rd); err != nil {
			return "", nil, fmt.Errorf("read record %d failed: %w", i, err)
		}
	}
	return key, recs, nil
}

// MarshalGroup 材质组编码为暂存字节
func MarshalGroup(key string, recs []*MeshRecord) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := MaterialGroupMarshal(buf, key, recs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func UnmarshalGroup(data []byte) (string, []*MeshRecord, error) {
	return MaterialGroupUnMarshal(bytes.NewReader(data))
}
