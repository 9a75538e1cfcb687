package segmentation

import "gorgonia.org/tensor"

// NoVoid disables void masking in ForegroundAccuracy.
const NoVoid = -1

// ArgMax returns the (B, H, W) map of the highest-scoring class per pixel.
// Ties resolve to the lowest class index. A single-channel prediction is read
// as a binary logit: pixels with a positive logit map to class 1.
func ArgMax(preds *tensor.Dense) (*tensor.Dense, error) {
	b, h, w, classes, err := argmax("argmax", preds)
	if err != nil {
		return nil, err
	}
	return tensor.New(tensor.WithShape(b, h, w), tensor.WithBacking(classes)), nil
}

func argmax(op string, preds *tensor.Dense) (b, h, w int, out []int, err error) {
	b, c, h, w, err := predictionDims(op, preds)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	data, err := float64s(op, preds)
	if err != nil {
		return 0, 0, 0, nil, err
	}

	plane := h * w
	out = make([]int, b*plane)
	for n := 0; n < b; n++ {
		base := n * c * plane
		for i := 0; i < plane; i++ {
			if c == 1 {
				if data[base+i] > 0 {
					out[n*plane+i] = 1
				}
				continue
			}
			best := 0
			for k := 1; k < c; k++ {
				if data[base+k*plane+i] > data[base+best*plane+i] {
					best = k
				}
			}
			out[n*plane+i] = best
		}
	}
	return b, h, w, out, nil
}

// decode validates preds against targets and returns the predicted class map
// together with the flattened targets. Labels equal to void skip the range
// check.
func decode(op string, preds, targets *tensor.Dense, void int) (predicted, truth []int, err error) {
	pb, c, ph, pw, err := predictionDims(op, preds)
	if err != nil {
		return nil, nil, err
	}
	tb, th, tw, err := labelDims(op, targets)
	if err != nil {
		return nil, nil, err
	}
	if err := checkSpatial(preds, targets, pb, ph, pw, tb, th, tw); err != nil {
		return nil, nil, err
	}
	if _, _, _, predicted, err = argmax(op, preds); err != nil {
		return nil, nil, err
	}
	if truth, err = ints(op, targets); err != nil {
		return nil, nil, err
	}

	classes := EffectiveClasses(c)
	plane := ph * pw
	for i, v := range truth {
		if void != NoVoid && v == void {
			continue
		}
		if v < 0 || v >= classes {
			rem := i % plane
			return nil, nil, &InvalidLabelError{Value: v, Classes: classes, Index: i, Batch: i / plane, Row: rem / pw, Col: rem % pw}
		}
	}
	return predicted, truth, nil
}

// ForegroundAccuracy is the fraction of pixels whose predicted class equals
// the ground truth, ignoring pixels labelled void. Pass NoVoid to count every
// pixel. It returns 0 when every pixel is void.
func ForegroundAccuracy(preds, targets *tensor.Dense, void int) (float64, error) {
	predicted, truth, err := decode("foreground accuracy", preds, targets, void)
	if err != nil {
		return 0, err
	}
	var hits, total int
	for i, t := range truth {
		if void != NoVoid && t == void {
			continue
		}
		total++
		if predicted[i] == t {
			hits++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(hits) / float64(total), nil
}

// Dice is the Sørensen–Dice coefficient of the predicted class map against the
// ground truth, read as foreground indicators: 2·Σ(p·t) / Σ(p + t). When both
// maps are entirely background the coefficient is 1.
func Dice(preds, targets *tensor.Dense) (float64, error) {
	predicted, truth, err := decode("dice", preds, targets, NoVoid)
	if err != nil {
		return 0, err
	}
	var inter, union int
	for i, t := range truth {
		inter += predicted[i] * t
		union += predicted[i] + t
	}
	if union == 0 {
		return 1, nil
	}
	return 2 * float64(inter) / float64(union), nil
}
