package segmentation

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Probabilities turns raw logits into per-pixel class probabilities.
//
// With a single channel the logit is read as the positive-class score: the
// output has two channels, [sigmoid(x), 1 - sigmoid(x)]. With more channels a
// softmax is taken along the class axis. Both forms are computed without
// overflow for large-magnitude logits.
//
// Infinite logits are taken at their limit: the +Inf classes of a pixel share
// its probability mass. A NaN logit is rejected with *InvalidLogitError.
//
// Float32 logits are normalised in float32 precision; the result is always a
// Float64 tensor of shape (B, max(C, 2), H, W).
func Probabilities(logits *tensor.Dense) (*tensor.Dense, error) {
	const op = "probabilities"

	b, c, h, w, err := predictionDims(op, logits)
	if err != nil {
		return nil, err
	}
	plane := h * w
	out := make([]float64, b*EffectiveClasses(c)*plane)

	switch data := contiguous(logits).Data().(type) {
	case []float64:
		for i, x := range data {
			if math.IsNaN(x) {
				return nil, &InvalidLogitError{Index: i}
			}
		}
		if c == 1 {
			sigmoid64(data, out, b, plane)
		} else {
			softmax64(data, out, b, c, plane)
		}
	case []float32:
		for i, x := range data {
			if math32.IsNaN(x) {
				return nil, &InvalidLogitError{Index: i}
			}
		}
		if c == 1 {
			sigmoid32(data, out, b, plane)
		} else {
			softmax32(data, out, b, c, plane)
		}
	default:
		return nil, errors.Errorf("%s: unsupported logit dtype %v", op, logits.Dtype())
	}

	return tensor.New(tensor.WithShape(b, EffectiveClasses(c), h, w), tensor.WithBacking(out)), nil
}

// Sigmoid is the logistic function in a form that does not overflow.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func sigmoid32f(x float32) float32 {
	if x >= 0 {
		return 1 / (1 + math32.Exp(-x))
	}
	e := math32.Exp(x)
	return e / (1 + e)
}

func sigmoid64(in, out []float64, batch, plane int) {
	for n := 0; n < batch; n++ {
		src := in[n*plane : (n+1)*plane]
		pos := out[(2*n)*plane : (2*n+1)*plane]
		neg := out[(2*n+1)*plane : (2*n+2)*plane]
		for i, x := range src {
			p := Sigmoid(x)
			pos[i] = p
			neg[i] = 1 - p
		}
	}
}

func sigmoid32(in []float32, out []float64, batch, plane int) {
	for n := 0; n < batch; n++ {
		src := in[n*plane : (n+1)*plane]
		pos := out[(2*n)*plane : (2*n+1)*plane]
		neg := out[(2*n+1)*plane : (2*n+2)*plane]
		for i, x := range src {
			p := sigmoid32f(x)
			pos[i] = float64(p)
			neg[i] = float64(1 - p)
		}
	}
}

// softmax64 normalises along the class axis. The per-pixel maximum is
// subtracted before exponentiation so the largest term is exactly exp(0).
// An infinite maximum keeps only the terms equal to it.
func softmax64(in, out []float64, batch, classes, plane int) {
	for n := 0; n < batch; n++ {
		base := n * classes * plane
		for i := 0; i < plane; i++ {
			peak := math.Inf(-1)
			for c := 0; c < classes; c++ {
				peak = math.Max(peak, in[base+c*plane+i])
			}
			infinite := math.IsInf(peak, 0)
			var sum float64
			for c := 0; c < classes; c++ {
				x := in[base+c*plane+i]
				var e float64
				switch {
				case !infinite:
					e = math.Exp(x - peak)
				case x == peak:
					e = 1
				}
				out[base+c*plane+i] = e
				sum += e
			}
			for c := 0; c < classes; c++ {
				out[base+c*plane+i] /= sum
			}
		}
	}
}

func softmax32(in []float32, out []float64, batch, classes, plane int) {
	exps := make([]float32, classes)
	for n := 0; n < batch; n++ {
		base := n * classes * plane
		for i := 0; i < plane; i++ {
			peak := math32.Inf(-1)
			for c := 0; c < classes; c++ {
				peak = math32.Max(peak, in[base+c*plane+i])
			}
			infinite := math32.IsInf(peak, 0)
			var sum float32
			for c := 0; c < classes; c++ {
				x := in[base+c*plane+i]
				switch {
				case !infinite:
					exps[c] = math32.Exp(x - peak)
				case x == peak:
					exps[c] = 1
				default:
					exps[c] = 0
				}
				sum += exps[c]
			}
			for c := 0; c < classes; c++ {
				out[base+c*plane+i] = float64(exps[c] / sum)
			}
		}
	}
}
