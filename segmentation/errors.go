package segmentation

import (
	"fmt"
	"strings"
)

// ShapeMismatchError is returned when the batch, height or width axes of the
// predictions and the targets disagree.
type ShapeMismatchError struct {
	// Predictions is the (B, C, H, W) shape of the prediction tensor.
	Predictions []int
	// Targets is the shape of the label tensor as supplied by the caller.
	Targets []int
	// Axes names the axes that disagree ("batch", "height", "width").
	Axes []string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch on %s: predictions %v, targets %v",
		strings.Join(e.Axes, ", "), e.Predictions, e.Targets)
}

// DimensionError is returned when a tensor has the wrong rank, an empty batch
// or spatial axis, or when the channel count of the predictions is inconsistent with the number of classes
// the targets were encoded for.
type DimensionError struct {
	// Op is the operation that rejected the input.
	Op string
	// Expected is the expected rank or channel count.
	Expected int
	// Actual is the rank or channel count that was supplied.
	Actual int
	// Reason describes which dimension was checked.
	Reason string
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: %s: expected %d, got %d", e.Op, e.Reason, e.Expected, e.Actual)
}

// InvalidLabelError is returned when a label value falls outside [0, Classes-1].
// It usually means the mask on disk does not match the configured class list.
type InvalidLabelError struct {
	// Value is the offending label.
	Value int
	// Classes is the number of classes the labels were checked against.
	Classes int
	// Index is the flat row-major index of the label in the target tensor.
	Index int
	// Batch, Row and Col locate the label as (b, h, w).
	Batch, Row, Col int
}

func (e *InvalidLabelError) Error() string {
	return fmt.Sprintf("invalid label %d at (b=%d, h=%d, w=%d) index %d: must be in [0, %d]",
		e.Value, e.Batch, e.Row, e.Col, e.Index, e.Classes-1)
}

// InvalidLogitError is returned when a prediction holds NaN.
type InvalidLogitError struct {
	// Index is the flat row-major index of the logit in the prediction tensor.
	Index int
}

func (e *InvalidLogitError) Error() string {
	return fmt.Sprintf("logit at index %d is NaN", e.Index)
}
