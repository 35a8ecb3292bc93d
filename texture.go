package mstbake

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var ErrUnknownTextureFormat = errors.New("unknown texture format")

// Texture 纹理结构体
type Texture struct {
	Id         int32     `json:"id"`
	Name       string    `json:"name"`
	Size       [2]uint64 `json:"size"`
	Format     uint16    `json:"format"`
	Compressed uint16    `json:"compressed"`
	Data       []byte    `json:"-"`
	Repeated   bool      `json:"repeated"`
}

func CompressImage(buf []byte) []byte {
	var bt []byte
	bf := bytes.NewBuffer(bt)
	w := zlib.NewWriter(bf)
	w.Write(buf)
	w.Close()
	return bf.Bytes()
}

func DecompressImage(src []byte) ([]byte, error) {
	bf := bytes.NewBuffer(src)
	r, er := zlib.NewReader(bf)
	if er != nil {
		return nil, er
	}
	return io.ReadAll(r)
}

func pixelSize(format uint16) (int, error) {
	switch format {
	case TEXTURE_FORMAT_RGB:
		return 3, nil
	case TEXTURE_FORMAT_RGBA:
		return 4, nil
	case TEXTURE_FORMAT_R:
		return 1, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnknownTextureFormat, format)
}

// LoadTexture 解码纹理像素为图像
func LoadTexture(tex *Texture, flipY bool) (image.Image, error) {
	w := int(tex.Size[0])
	h := int(tex.Size[1])
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	sz, err := pixelSize(tex.Format)
	if err != nil {
		return nil, err
	}
	data := tex.Data
	if tex.Compressed == TEXTURE_COMPRESSED_ZLIB {
		data, err = DecompressImage(data)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
	}
	if len(data) < w*h*sz {
		return nil, fmt.Errorf("texture %q: short pixel data %d < %d", tex.Name, len(data), w*h*sz)
	}

	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			p := i*w*sz + j*sz
			var c color.NRGBA
			switch sz {
			case 4:
				c = color.NRGBA{R: data[p], G: data[p+1], B: data[p+2], A: data[p+3]}
			case 3:
				c = color.NRGBA{R: data[p], G: data[p+1], B: data[p+2], A: 255}
			case 1:
				c = color.NRGBA{R: data[p], G: data[p], B: data[p], A: 255}
			}

			y := i
			if flipY {
				y = h - i - 1
			}
			img.Set(j, y, c)
		}
	}
	return img, nil
}

// CreateTexture 从图片文件创建纹理
func CreateTexture(name string, repeat bool) (*Texture, error) {
	reader, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return DecodeTexture(reader, name, repeat)
}

// DecodeTexture 支持 png/jpeg/gif/bmp/tiff/webp
func DecodeTexture(rd io.Reader, name string, repeat bool) (*Texture, error) {
	img, format, err := image.Decode(rd)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTextureFormat, name)
		}
		return nil, err
	}
	Logger().Debug("decoded texture", "name", name, "format", format)
	return CreateTextureFromImage(img, name, repeat)
}

func CreateTextureFromImage(img image.Image, name string, repeat bool) (*Texture, error) {
	bd := img.Bounds()
	buf1 := make([]byte, 0, bd.Dx()*bd.Dy()*4)

	for y := bd.Min.Y; y < bd.Max.Y; y++ {
		for x := bd.Min.X; x < bd.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			buf1 = append(buf1, c.R, c.G, c.B, c.A)
		}
	}
	t := &Texture{}
	_, fn := filepath.Split(name)
	t.Name = fn
	t.Format = TEXTURE_FORMAT_RGBA
	t.Size = [2]uint64{uint64(bd.Dx()), uint64(bd.Dy())}
	t.Compressed = TEXTURE_COMPRESSED_ZLIB
	t.Data = CompressImage(buf1)
	t.Repeated = repeat
	return t, nil
}
