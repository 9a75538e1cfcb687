package segmentation

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ClassStats holds per-class overlap sums accumulated over every batch item
// and every pixel. All slices have one entry per class.
type ClassStats struct {
	// Intersection is Σ P·T for each class.
	Intersection []float64
	// Union is Σ (P + T) - Σ P·T for each class.
	Union []float64
	// Support is Σ T, the number of ground-truth pixels of each class.
	Support []float64
}

// NewClassStats returns zeroed statistics for the given number of classes.
func NewClassStats(classes int) ClassStats {
	return ClassStats{
		Intersection: make([]float64, classes),
		Union:        make([]float64, classes),
		Support:      make([]float64, classes),
	}
}

// Classes returns the number of classes the statistics cover.
func (s ClassStats) Classes() int {
	return len(s.Intersection)
}

// PerClass returns intersection / (union + eps) for every class.
func (s ClassStats) PerClass(eps float64) []float64 {
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	out := make([]float64, len(s.Intersection))
	for c := range s.Intersection {
		out[c] = s.Intersection[c] / (s.Union[c] + eps)
	}
	return out
}

// IoU is the mean of PerClass over all classes. A class absent from both the
// prediction and the ground truth contributes a score near 0.
func (s ClassStats) IoU(eps float64) float64 {
	per := s.PerClass(eps)
	if len(per) == 0 {
		return 0
	}
	var sum float64
	for _, v := range per {
		sum += v
	}
	return sum / float64(len(per))
}

// PresentIoU is the mean of PerClass over the classes that occur in the ground
// truth. It returns 0 when no class has support.
func (s ClassStats) PresentIoU(eps float64) float64 {
	per := s.PerClass(eps)
	var sum float64
	var n int
	for c, v := range per {
		if s.Support[c] > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Merge adds the sums of o to a copy of s. Overlap sums are additive, so the
// merged statistics equal those of one aggregate over both inputs.
func (s ClassStats) Merge(o ClassStats) (ClassStats, error) {
	if s.Classes() != o.Classes() {
		return ClassStats{}, &DimensionError{Op: "merge", Reason: "class count", Expected: s.Classes(), Actual: o.Classes()}
	}
	out := NewClassStats(s.Classes())
	for c := range out.Intersection {
		out.Intersection[c] = s.Intersection[c] + o.Intersection[c]
		out.Union[c] = s.Union[c] + o.Union[c]
		out.Support[c] = s.Support[c] + o.Support[c]
	}
	return out, nil
}

// Aggregate sums intersection and union per class over the batch and spatial
// axes of a probability tensor and a one-hot tensor of the same shape.
//
// Arguments:
//   - probs: (B, C, H, W) probabilities, typically from Probabilities.
//   - onehot: (B, C, H, W) indicators, typically from OneHot.
//
// Returns:
//   - The per-class statistics.
//   - *DimensionError when the channel counts differ.
//   - *ShapeMismatchError when the batch or spatial axes differ.
func Aggregate(probs, onehot *tensor.Dense) (ClassStats, error) {
	const op = "aggregate"

	pb, pc, ph, pw, err := predictionDims(op, probs)
	if err != nil {
		return ClassStats{}, err
	}
	tb, tc, th, tw, err := predictionDims(op, onehot)
	if err != nil {
		return ClassStats{}, errors.Wrap(err, "one-hot tensor")
	}
	if pc != tc {
		return ClassStats{}, &DimensionError{Op: op, Reason: "one-hot channels", Expected: pc, Actual: tc}
	}
	if err := checkSpatial(probs, onehot, pb, ph, pw, tb, th, tw); err != nil {
		return ClassStats{}, err
	}

	p, err := float64s(op, probs)
	if err != nil {
		return ClassStats{}, err
	}
	t, err := float64s(op, onehot)
	if err != nil {
		return ClassStats{}, err
	}

	plane := ph * pw
	stats := NewClassStats(pc)
	for n := 0; n < pb; n++ {
		for c := 0; c < pc; c++ {
			off := (n*pc + c) * plane
			var inter, card, support float64
			for i := off; i < off+plane; i++ {
				inter += p[i] * t[i]
				card += p[i] + t[i]
				support += t[i]
			}
			stats.Intersection[c] += inter
			stats.Union[c] += card - inter
			stats.Support[c] += support
		}
	}
	return stats, nil
}

// Evaluate normalises the logits, one-hot encodes the targets and aggregates
// the per-class statistics.
func Evaluate(preds, targets *tensor.Dense) (ClassStats, error) {
	const op = "evaluate"

	pb, c, ph, pw, err := predictionDims(op, preds)
	if err != nil {
		return ClassStats{}, err
	}
	tb, th, tw, err := labelDims(op, targets)
	if err != nil {
		return ClassStats{}, err
	}
	if err := checkSpatial(preds, targets, pb, ph, pw, tb, th, tw); err != nil {
		return ClassStats{}, err
	}

	probs, err := Probabilities(preds)
	if err != nil {
		return ClassStats{}, err
	}
	onehot, err := OneHot(targets, c)
	if err != nil {
		return ClassStats{}, err
	}
	return Aggregate(probs, onehot)
}

// IoU computes the mean Jaccard index between logits and a label map.
//
// The score is the mean over classes of intersection / (union + eps), where
// the sums run over the batch and every pixel. It lies in [0, 1], is
// unchanged by any permutation applied identically to the pixels (or batch
// items) of both inputs, and is bit-identical across repeated calls.
//
// Arguments:
//   - preds: (B, C, H, W) logits.
//   - targets: (B, H, W) or (B, 1, H, W) class indices.
//   - eps: stability constant; values <= 0 select DefaultEpsilon.
//
// Returns:
//   - The mean IoU.
//   - *ShapeMismatchError, *DimensionError or *InvalidLabelError on bad input.
//
// @example
//
//	preds := segmentation.NewPredictions(logits, 4, 3, 400, 400)
//	targets := segmentation.NewTargets(mask, 4, 400, 400)
//	iou, err := segmentation.IoU(preds, targets, segmentation.DefaultEpsilon)
func IoU(preds, targets *tensor.Dense, eps float64) (float64, error) {
	stats, err := Evaluate(preds, targets)
	if err != nil {
		return 0, err
	}
	return stats.IoU(eps), nil
}

// PresentIoU is IoU averaged only over classes that occur in targets.
func PresentIoU(preds, targets *tensor.Dense, eps float64) (float64, error) {
	stats, err := Evaluate(preds, targets)
	if err != nil {
		return 0, err
	}
	return stats.PresentIoU(eps), nil
}
