// Package loss - Differentiable segmentation objectives on gorgonia graphs.
package loss

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// reduceAxes are the batch and spatial axes of a (B, C, H, W) tensor.
var reduceAxes = []int{0, 2, 3}

// Jaccard holds the nodes of a soft Jaccard (IoU) objective.
type Jaccard struct {
	// Intersection is Σ P·T per class.
	Intersection *G.Node
	// Union is Σ (P + T) - Σ P·T per class.
	Union *G.Node
	// PerClass is Intersection / (Union + eps).
	PerClass *G.Node
	// IoU is the mean of PerClass.
	IoU *G.Node
	// Loss is 1 - IoU, the quantity an optimiser minimises.
	Loss *G.Node
}

// NewJaccard adds a soft Jaccard objective to the graph of probs.
//
// Arguments:
//   - probs: (B, C, H, W) Float64 class probabilities.
//   - onehot: (B, C, H, W) Float64 one-hot ground truth.
//   - eps: Stability constant added to each union.
//
// Returns:
//   - The objective nodes.
//   - An error if the inputs disagree in shape or an operation cannot be built.
func NewJaccard(probs, onehot *G.Node, eps float64) (*Jaccard, error) {
	if probs.Dims() != 4 {
		return nil, errors.Errorf("jaccard: probabilities must be 4-D, got %v", probs.Shape())
	}
	if !probs.Shape().Eq(onehot.Shape()) {
		return nil, errors.Errorf("jaccard: shape mismatch: probabilities %v, one-hot %v", probs.Shape(), onehot.Shape())
	}

	prod, err := G.HadamardProd(probs, onehot)
	if err != nil {
		return nil, errors.Wrap(err, "jaccard: product")
	}
	inter, err := G.Sum(prod, reduceAxes...)
	if err != nil {
		return nil, errors.Wrap(err, "jaccard: intersection")
	}
	both, err := G.Add(probs, onehot)
	if err != nil {
		return nil, errors.Wrap(err, "jaccard: sum")
	}
	card, err := G.Sum(both, reduceAxes...)
	if err != nil {
		return nil, errors.Wrap(err, "jaccard: cardinality")
	}
	union, err := G.Sub(card, inter)
	if err != nil {
		return nil, errors.Wrap(err, "jaccard: union")
	}
	denom, err := G.Add(union, G.NewConstant(eps))
	if err != nil {
		return nil, errors.Wrap(err, "jaccard: denominator")
	}
	perClass, err := G.HadamardDiv(inter, denom)
	if err != nil {
		return nil, errors.Wrap(err, "jaccard: ratio")
	}
	iou, err := G.Mean(perClass)
	if err != nil {
		return nil, errors.Wrap(err, "jaccard: mean")
	}
	cost, err := G.Sub(G.NewConstant(1.0), iou)
	if err != nil {
		return nil, errors.Wrap(err, "jaccard: loss")
	}

	return &Jaccard{
		Intersection: inter,
		Union:        union,
		PerClass:     perClass,
		IoU:          iou,
		Loss:         cost,
	}, nil
}

// Result is the outcome of evaluating a Jaccard objective.
type Result struct {
	// IoU is the mean soft IoU.
	IoU float64
	// Loss is 1 - IoU.
	Loss float64
	// PerClass holds the soft IoU of every class.
	PerClass []float64
	// Gradient is ∂Loss/∂probs, shaped like the probabilities.
	Gradient *tensor.Dense
}

// Evaluate builds a graph for one batch, runs it and reads back the objective
// with its gradient with respect to the probabilities.
//
// Arguments:
//   - probs: (B, C, H, W) Float64 probabilities.
//   - onehot: (B, C, H, W) Float64 one-hot targets.
//   - eps: Stability constant added to each union.
//
// Returns:
//   - The objective value, per-class scores and gradient.
//   - An error if the graph cannot be built or run.
func Evaluate(probs, onehot *tensor.Dense, eps float64) (*Result, error) {
	if probs.Dtype() != tensor.Float64 || onehot.Dtype() != tensor.Float64 {
		return nil, errors.Errorf("jaccard: inputs must be Float64, got %v and %v", probs.Dtype(), onehot.Dtype())
	}

	g := G.NewGraph()
	p := G.NewTensor(g, tensor.Float64, 4, G.WithShape(probs.Shape()...), G.WithName("probs"), G.WithValue(probs.Clone().(*tensor.Dense)))
	t := G.NewTensor(g, tensor.Float64, 4, G.WithShape(onehot.Shape()...), G.WithName("onehot"), G.WithValue(onehot.Clone().(*tensor.Dense)))

	j, err := NewJaccard(p, t, eps)
	if err != nil {
		return nil, err
	}
	grads, err := G.Grad(j.Loss, p)
	if err != nil {
		return nil, errors.Wrap(err, "jaccard: gradient")
	}

	var iou, cost, perClass, grad G.Value
	G.Read(j.IoU, &iou)
	G.Read(j.Loss, &cost)
	G.Read(j.PerClass, &perClass)
	G.Read(grads[0], &grad)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "jaccard: run")
	}

	result := &Result{
		IoU:  iou.Data().(float64),
		Loss: cost.Data().(float64),
	}
	result.PerClass = append(result.PerClass, perClass.Data().([]float64)...)
	gradient, ok := grad.(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("jaccard: unexpected gradient type %T", grad)
	}
	result.Gradient = gradient.Clone().(*tensor.Dense)

	return result, nil
}
