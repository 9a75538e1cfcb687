package loss

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/deepwaves/segmentation"
)

func randomBatch(t *testing.T, seed int64, b, c, h, w int) (*tensor.Dense, *tensor.Dense) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))

	logits := make([]float64, b*c*h*w)
	for i := range logits {
		logits[i] = rng.NormFloat64() * 2
	}
	labels := make([]int, b*h*w)
	for i := range labels {
		labels[i] = rng.Intn(c)
	}

	probs, err := segmentation.Probabilities(segmentation.NewPredictions(logits, b, c, h, w))
	require.NoError(t, err)
	onehot, err := segmentation.OneHot(segmentation.NewTargets(labels, b, h, w), c)
	require.NoError(t, err)
	return probs, onehot
}

func TestEvaluate_MatchesAggregate(t *testing.T) {
	probs, onehot := randomBatch(t, 1, 2, 3, 4, 5)

	result, err := Evaluate(probs, onehot, segmentation.DefaultEpsilon)
	require.NoError(t, err)

	stats, err := segmentation.Aggregate(probs, onehot)
	require.NoError(t, err)

	assert.InDelta(t, stats.IoU(segmentation.DefaultEpsilon), result.IoU, 1e-9)
	assert.InDelta(t, 1-result.IoU, result.Loss, 1e-12)
	assert.InDeltaSlice(t, stats.PerClass(segmentation.DefaultEpsilon), result.PerClass, 1e-9)
	assert.Equal(t, probs.Shape(), result.Gradient.Shape())
}

func TestEvaluate_GradientMatchesFiniteDifference(t *testing.T) {
	const eps = segmentation.DefaultEpsilon
	const h = 1e-6
	probs, onehot := randomBatch(t, 2, 1, 2, 3, 3)

	result, err := Evaluate(probs, onehot, eps)
	require.NoError(t, err)
	grad := result.Gradient.Data().([]float64)

	lossAt := func(data []float64) float64 {
		p := tensor.New(tensor.WithShape(probs.Shape()...), tensor.WithBacking(data))
		stats, err := segmentation.Aggregate(p, onehot)
		require.NoError(t, err)
		return 1 - stats.IoU(eps)
	}

	base := probs.Data().([]float64)
	for _, i := range []int{0, 4, 9, 13, 17} {
		plus := append([]float64(nil), base...)
		minus := append([]float64(nil), base...)
		plus[i] += h
		minus[i] -= h

		numeric := (lossAt(plus) - lossAt(minus)) / (2 * h)
		assert.InDelta(t, numeric, grad[i], 1e-6, "gradient at %d", i)
	}
}

func TestEvaluate_PerfectPrediction(t *testing.T) {
	onehot := tensor.New(tensor.WithShape(1, 2, 1, 2), tensor.WithBacking([]float64{1, 0, 0, 1}))

	result, err := Evaluate(onehot.Clone().(*tensor.Dense), onehot, segmentation.DefaultEpsilon)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.IoU, 1e-6)
	assert.InDelta(t, 0.0, result.Loss, 1e-6)
}

func TestEvaluate_Errors(t *testing.T) {
	probs := tensor.New(tensor.WithShape(1, 2, 1, 2), tensor.WithBacking([]float64{0.5, 0.5, 0.5, 0.5}))
	other := tensor.New(tensor.WithShape(1, 3, 1, 2), tensor.WithBacking(make([]float64, 6)))

	_, err := Evaluate(probs, other, segmentation.DefaultEpsilon)
	assert.Error(t, err)

	narrow := tensor.New(tensor.WithShape(1, 2, 1, 2), tensor.WithBacking([]float32{0.5, 0.5, 0.5, 0.5}))
	_, err = Evaluate(narrow, probs, segmentation.DefaultEpsilon)
	assert.Error(t, err)
}
