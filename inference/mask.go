package inference

import (
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/deepwaves/segmentation"
)

// MaskImage turns (1, C, H, W) logits into a grayscale mask holding the
// predicted class index of every pixel.
func MaskImage(logits *tensor.Dense) (*image.Gray, error) {
	classes, err := segmentation.ArgMax(logits)
	if err != nil {
		return nil, err
	}
	shape := classes.Shape()
	if shape[0] != 1 {
		return nil, errors.Errorf("mask image: batch of %d, want 1", shape[0])
	}
	h, w := shape[1], shape[2]

	img := image.NewGray(image.Rect(0, 0, w, h))
	for i, c := range classes.Data().([]int) {
		if c > 255 {
			return nil, errors.Errorf("mask image: class %d does not fit a gray level", c)
		}
		img.Pix[i] = uint8(c)
	}
	return img, nil
}

// WriteMask encodes img as PNG at path, creating parent directories.
func WriteMask(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
