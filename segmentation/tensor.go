// Package segmentation evaluates image-segmentation predictions against
// ground-truth label maps.
//
// Predictions are raw model logits laid out as (batch, class, height, width).
// Targets are integer class maps laid out as (batch, height, width) or
// (batch, 1, height, width). All functions are pure: they allocate their own
// intermediate buffers and never hold on to the caller's tensors, so they are
// safe to call concurrently on independent inputs.
package segmentation

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// DefaultEpsilon is the stability constant added to every union before division.
const DefaultEpsilon = 1e-8

// contiguous returns t, materialising it first when it is a view so the
// backing slice can be walked in row-major order.
func contiguous(t *tensor.Dense) *tensor.Dense {
	if t.IsView() {
		if m, ok := t.Materialize().(*tensor.Dense); ok {
			return m
		}
	}
	return t
}

// predictionDims checks that t is a (B, C, H, W) tensor and returns its axes.
func predictionDims(op string, t *tensor.Dense) (b, c, h, w int, err error) {
	if t == nil {
		return 0, 0, 0, 0, errors.Errorf("%s: predictions tensor is nil", op)
	}
	shape := t.Shape()
	if len(shape) != 4 {
		return 0, 0, 0, 0, &DimensionError{Op: op, Reason: "prediction rank", Expected: 4, Actual: len(shape)}
	}
	if shape[1] < 1 {
		return 0, 0, 0, 0, &DimensionError{Op: op, Reason: "prediction channels", Expected: 1, Actual: shape[1]}
	}
	if err := checkExtent(op, "prediction", shape[0], shape[2], shape[3]); err != nil {
		return 0, 0, 0, 0, err
	}
	return shape[0], shape[1], shape[2], shape[3], nil
}

// labelDims checks that t is a (B, H, W) or (B, 1, H, W) tensor and returns its
// batch and spatial axes.
func labelDims(op string, t *tensor.Dense) (b, h, w int, err error) {
	if t == nil {
		return 0, 0, 0, errors.Errorf("%s: targets tensor is nil", op)
	}
	shape := t.Shape()
	switch len(shape) {
	case 3:
		b, h, w = shape[0], shape[1], shape[2]
	case 4:
		if shape[1] != 1 {
			return 0, 0, 0, &DimensionError{Op: op, Reason: "target channels", Expected: 1, Actual: shape[1]}
		}
		b, h, w = shape[0], shape[2], shape[3]
	default:
		return 0, 0, 0, &DimensionError{Op: op, Reason: "target rank", Expected: 3, Actual: len(shape)}
	}
	if err := checkExtent(op, "target", b, h, w); err != nil {
		return 0, 0, 0, err
	}
	return b, h, w, nil
}

// checkExtent rejects empty batch or spatial axes.
func checkExtent(op, what string, b, h, w int) error {
	for _, axis := range []struct {
		name string
		size int
	}{{"batch", b}, {"height", h}, {"width", w}} {
		if axis.size < 1 {
			return &DimensionError{Op: op, Reason: what + " " + axis.name, Expected: 1, Actual: axis.size}
		}
	}
	return nil
}

// checkSpatial compares the batch and spatial axes of predictions and targets.
func checkSpatial(preds, targets *tensor.Dense, pb, ph, pw, tb, th, tw int) error {
	var axes []string
	if pb != tb {
		axes = append(axes, "batch")
	}
	if ph != th {
		axes = append(axes, "height")
	}
	if pw != tw {
		axes = append(axes, "width")
	}
	if len(axes) == 0 {
		return nil
	}
	return &ShapeMismatchError{
		Predictions: []int(preds.Shape().Clone()),
		Targets:     []int(targets.Shape().Clone()),
		Axes:        axes,
	}
}

// float64s returns the elements of a Float32 or Float64 tensor as float64.
// Float64 tensors are returned without copying and must not be written to.
func float64s(op string, t *tensor.Dense) ([]float64, error) {
	switch data := contiguous(t).Data().(type) {
	case []float64:
		return data, nil
	case []float32:
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, errors.Errorf("%s: unsupported prediction dtype %v", op, t.Dtype())
	}
}

// ints returns the elements of an integer tensor as int.
func ints(op string, t *tensor.Dense) ([]int, error) {
	switch data := contiguous(t).Data().(type) {
	case []int:
		return data, nil
	case []int64:
		out := make([]int, len(data))
		for i, v := range data {
			out[i] = int(v)
		}
		return out, nil
	case []int32:
		out := make([]int, len(data))
		for i, v := range data {
			out[i] = int(v)
		}
		return out, nil
	case []uint8:
		out := make([]int, len(data))
		for i, v := range data {
			out[i] = int(v)
		}
		return out, nil
	default:
		return nil, errors.Errorf("%s: unsupported label dtype %v", op, t.Dtype())
	}
}

// NewPredictions wraps row-major logits in a (B, C, H, W) tensor.
func NewPredictions(data []float64, b, c, h, w int) *tensor.Dense {
	return tensor.New(tensor.WithShape(b, c, h, w), tensor.WithBacking(data))
}

// NewTargets wraps a row-major class map in a (B, H, W) tensor.
func NewTargets(data []int, b, h, w int) *tensor.Dense {
	return tensor.New(tensor.WithShape(b, h, w), tensor.WithBacking(data))
}
