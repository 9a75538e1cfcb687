package segmentation

import "gorgonia.org/tensor"

// OneHot encodes a label map as a (B, C, H, W) indicator tensor where entry
// (b, c, h, w) is 1 iff the label at (b, h, w) equals c.
//
// A single-class model (classes == 1) is a binary segmenter. Its labels are
// encoded against two classes and the channels are then swapped, so channel 0
// holds the positive class (label 1) and channel 1 the negative class (label 0).
// This matches the [p, 1-p] layout produced by Probabilities for one logit.
//
// Arguments:
//   - labels: (B, H, W) or (B, 1, H, W) integer tensor.
//   - classes: the number of prediction channels.
//
// Returns:
//   - A Float64 tensor of shape (B, max(classes, 2), H, W).
//   - *InvalidLabelError when a label is outside the class range.
//   - *DimensionError when labels have the wrong rank or classes < 1.
func OneHot(labels *tensor.Dense, classes int) (*tensor.Dense, error) {
	const op = "one-hot"

	if classes < 1 {
		return nil, &DimensionError{Op: op, Reason: "class count", Expected: 1, Actual: classes}
	}
	b, h, w, err := labelDims(op, labels)
	if err != nil {
		return nil, err
	}
	values, err := ints(op, labels)
	if err != nil {
		return nil, err
	}

	effective := classes
	binary := classes == 1
	if binary {
		effective = 2
	}

	plane := h * w
	out := make([]float64, b*effective*plane)
	for i, v := range values {
		if v < 0 || v >= effective {
			rem := i % plane
			return nil, &InvalidLabelError{
				Value:   v,
				Classes: effective,
				Index:   i,
				Batch:   i / plane,
				Row:     rem / w,
				Col:     rem % w,
			}
		}
		channel := v
		if binary {
			channel = 1 - v
		}
		out[(i/plane*effective+channel)*plane+i%plane] = 1
	}

	return tensor.New(tensor.WithShape(b, effective, h, w), tensor.WithBacking(out)), nil
}

// EffectiveClasses returns the number of classes scored for predictions with
// the given channel count. A single binary channel is scored as two classes.
func EffectiveClasses(channels int) int {
	if channels == 1 {
		return 2
	}
	return channels
}
