// Package report - Per-image evaluation results, summaries and exports.
package report

import (
	"encoding/json"
	"io"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Entry is the evaluation of one predicted mask against its ground truth.
type Entry struct {
	// Image is the evaluated image file name.
	Image string `json:"image" yaml:"image"`
	// Kind is the wavefield component of the image.
	Kind string `json:"kind" yaml:"kind"`
	// IoU is the mean intersection over union across classes.
	IoU float64 `json:"iou" yaml:"iou"`
	// ForegroundAccuracy is pixel accuracy excluding the void class.
	ForegroundAccuracy float64 `json:"foreground_accuracy" yaml:"foreground_accuracy"`
	// Dice is the foreground dice coefficient.
	Dice float64 `json:"dice" yaml:"dice"`
	// Loss is the soft Jaccard loss of the probabilities, 1 - soft IoU.
	Loss float64 `json:"loss" yaml:"loss"`
	// PerClass holds the IoU of every class.
	PerClass []float64 `json:"per_class,omitempty" yaml:"per_class,omitempty"`
	// Err is set when the image could not be evaluated.
	Err string `json:"error,omitempty" yaml:"error,omitempty"`
	// EvaluatedAt is when the entry was produced.
	EvaluatedAt time.Time `json:"evaluated_at" yaml:"evaluated_at"`
}

// Failed reports whether the entry records an error instead of scores.
func (e Entry) Failed() bool {
	return e.Err != ""
}

// Summary aggregates the successful entries of a run.
type Summary struct {
	Count        int     `json:"count"`
	Failed       int     `json:"failed"`
	MeanIoU      float64 `json:"mean_iou"`
	StdIoU       float64 `json:"std_iou"`
	MinIoU       float64 `json:"min_iou"`
	MaxIoU       float64 `json:"max_iou"`
	MedianIoU    float64 `json:"median_iou"`
	MeanAccuracy float64 `json:"mean_accuracy"`
	MeanDice     float64 `json:"mean_dice"`
}

// Summarize computes run statistics. Failed entries are counted but not
// scored; with no successful entries every score is zero.
func Summarize(entries []Entry) Summary {
	var s Summary
	var ious, accs, dices []float64
	for _, e := range entries {
		if e.Failed() {
			s.Failed++
			continue
		}
		ious = append(ious, e.IoU)
		accs = append(accs, e.ForegroundAccuracy)
		dices = append(dices, e.Dice)
	}
	s.Count = len(ious)
	if s.Count == 0 {
		return s
	}

	s.MeanIoU = stat.Mean(ious, nil)
	if s.Count > 1 {
		s.StdIoU = stat.StdDev(ious, nil)
	}
	s.MinIoU = floats.Min(ious)
	s.MaxIoU = floats.Max(ious)

	sorted := append([]float64(nil), ious...)
	sort.Float64s(sorted)
	s.MedianIoU = median(sorted)

	s.MeanAccuracy = stat.Mean(accs, nil)
	s.MeanDice = stat.Mean(dices, nil)
	return s
}

// median of sorted values, averaging the middle pair for even lengths.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// MeanPerClass averages the per-class IoU of successful entries. Entries
// with a different class count are skipped.
func MeanPerClass(entries []Entry) []float64 {
	var sum []float64
	var n float64
	for _, e := range entries {
		if e.Failed() || len(e.PerClass) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(e.PerClass))
		}
		if len(e.PerClass) != len(sum) {
			continue
		}
		floats.Add(sum, e.PerClass)
		n++
	}
	if n > 0 {
		floats.Scale(1/n, sum)
	}
	return sum
}

// WriteJSON writes the summary and entries as indented JSON.
func WriteJSON(w io.Writer, summary Summary, entries []Entry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	doc := struct {
		Summary Summary `json:"summary"`
		Entries []Entry `json:"entries"`
	}{summary, sanitize(entries)}
	return errors.Wrap(enc.Encode(doc), "encode report")
}

// sanitize replaces NaN scores, which JSON cannot carry, with zero.
func sanitize(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		for _, v := range []*float64{&e.IoU, &e.ForegroundAccuracy, &e.Dice, &e.Loss} {
			if math.IsNaN(*v) {
				*v = 0
			}
		}
		out[i] = e
	}
	return out
}
