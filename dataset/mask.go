package dataset

import (
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "github.com/chai2010/webp"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// DecodeImage reads and decodes an image file. PNG, JPEG and WebP are
// registered.
func DecodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open image %s", path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode image %s", path)
	}
	return img, nil
}

// LoadMask reads a label mask whose pixel values are class indices.
//
// Arguments:
//   - path: The mask file.
//   - width, height: The target size. Zero keeps the stored size.
//
// Returns:
//   - An Int tensor of shape (1, height, width).
//   - An error if the file cannot be decoded.
func LoadMask(path string, width, height int) (*tensor.Dense, error) {
	img, err := DecodeImage(path)
	if err != nil {
		return nil, err
	}
	return MaskFromImage(img, width, height), nil
}

// MaskFromImage converts a decoded mask into a (1, H, W) Int tensor of class
// indices. Paletted images use their palette index, anything else its gray
// level. Resizing samples the nearest source pixel so indices are never
// blended.
func MaskFromImage(img image.Image, width, height int) *tensor.Dense {
	b := img.Bounds()
	if width <= 0 || height <= 0 {
		width, height = b.Dx(), b.Dy()
	}

	index := classIndexer(img)
	data := make([]int, width*height)
	for y := 0; y < height; y++ {
		sy := b.Min.Y + y*b.Dy()/height
		for x := 0; x < width; x++ {
			sx := b.Min.X + x*b.Dx()/width
			data[y*width+x] = index(sx, sy)
		}
	}

	return tensor.New(tensor.WithShape(1, height, width), tensor.WithBacking(data))
}

func classIndexer(img image.Image) func(x, y int) int {
	switch m := img.(type) {
	case *image.Paletted:
		return func(x, y int) int { return int(m.ColorIndexAt(x, y)) }
	case *image.Gray:
		return func(x, y int) int { return int(m.GrayAt(x, y).Y) }
	default:
		return func(x, y int) int {
			return int(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
		}
	}
}

// StackMasks concatenates (1, H, W) masks into one (B, H, W) tensor.
func StackMasks(masks ...*tensor.Dense) (*tensor.Dense, error) {
	if len(masks) == 0 {
		return nil, errors.New("stack masks: no masks")
	}
	shape := masks[0].Shape()
	if len(shape) != 3 || shape[0] != 1 {
		return nil, errors.Errorf("stack masks: mask 0 has shape %v, want (1, H, W)", shape)
	}
	h, w := shape[1], shape[2]

	data := make([]int, 0, len(masks)*h*w)
	for i, m := range masks {
		if !m.Shape().Eq(shape) {
			return nil, errors.Errorf("stack masks: mask %d has shape %v, want %v", i, m.Shape(), shape)
		}
		values, ok := m.Data().([]int)
		if !ok {
			return nil, errors.Errorf("stack masks: mask %d has dtype %v, want int", i, m.Dtype())
		}
		data = append(data, values...)
	}

	return tensor.New(tensor.WithShape(len(masks), h, w), tensor.WithBacking(data)), nil
}
