package segmentation

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestOneHot(t *testing.T) {
	tests := []struct {
		name     string
		labels   []int
		classes  int
		shape    []int
		expected []float64
	}{
		{
			name:    "three classes",
			labels:  []int{0, 2, 1, 0},
			classes: 3,
			shape:   []int{1, 3, 2, 2},
			expected: []float64{
				1, 0, 0, 1, // class 0
				0, 0, 1, 0, // class 1
				0, 1, 0, 0, // class 2
			},
		},
		{
			// Binary masks put the positive class first.
			name:    "binary",
			labels:  []int{0, 1, 1, 0},
			classes: 1,
			shape:   []int{1, 2, 2, 2},
			expected: []float64{
				0, 1, 1, 0, // positive
				1, 0, 0, 1, // negative
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := OneHot(NewTargets(tt.labels, 1, 2, 2), tt.classes)
			require.NoError(t, err)
			assert.Equal(t, tt.shape, []int(out.Shape()))
			assert.Equal(t, tt.expected, out.Data().([]float64))
		})
	}
}

func TestOneHot_ClassAxisSumsToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	const b, c, h, w = 3, 5, 4, 6
	labels := make([]int, b*h*w)
	for i := range labels {
		labels[i] = rng.Intn(c)
	}

	out, err := OneHot(NewTargets(labels, b, h, w), c)
	require.NoError(t, err)

	data := out.Data().([]float64)
	plane := h * w
	for n := 0; n < b; n++ {
		for i := 0; i < plane; i++ {
			var sum float64
			for k := 0; k < c; k++ {
				sum += data[(n*c+k)*plane+i]
			}
			require.Equal(t, 1.0, sum)
		}
	}
}

func TestOneHot_Int64AndUint8Labels(t *testing.T) {
	want, err := OneHot(NewTargets([]int{0, 1, 2, 1}, 1, 2, 2), 3)
	require.NoError(t, err)

	for _, labels := range []*tensor.Dense{
		tensor.New(tensor.WithShape(1, 2, 2), tensor.WithBacking([]int64{0, 1, 2, 1})),
		tensor.New(tensor.WithShape(1, 2, 2), tensor.WithBacking([]int32{0, 1, 2, 1})),
		tensor.New(tensor.WithShape(1, 2, 2), tensor.WithBacking([]uint8{0, 1, 2, 1})),
	} {
		got, err := OneHot(labels, 3)
		require.NoError(t, err)
		assert.Equal(t, want.Data(), got.Data())
	}
}

func TestOneHot_Errors(t *testing.T) {
	_, err := OneHot(NewTargets([]int{0, 1, 2, 3}, 1, 2, 2), 3)
	var labelErr *InvalidLabelError
	require.ErrorAs(t, err, &labelErr)
	assert.Equal(t, 3, labelErr.Value)
	assert.Equal(t, 3, labelErr.Classes)

	// A binary mask may only hold 0 and 1.
	_, err = OneHot(NewTargets([]int{0, 2, 1, 0}, 1, 2, 2), 1)
	require.ErrorAs(t, err, &labelErr)
	assert.Equal(t, 2, labelErr.Value)

	var dimErr *DimensionError
	_, err = OneHot(NewTargets([]int{0, 0, 0, 0}, 1, 2, 2), 0)
	require.ErrorAs(t, err, &dimErr)

	_, err = OneHot(tensor.New(tensor.WithShape(4), tensor.WithBacking([]int{0, 0, 0, 0})), 2)
	require.ErrorAs(t, err, &dimErr)
}

func TestProbabilities_Softmax(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	const b, c, h, w = 2, 4, 3, 3
	logits := make([]float64, b*c*h*w)
	for i := range logits {
		logits[i] = rng.NormFloat64() * 5
	}

	out, err := Probabilities(NewPredictions(logits, b, c, h, w))
	require.NoError(t, err)
	assert.Equal(t, []int{b, c, h, w}, []int(out.Shape()))

	data := out.Data().([]float64)
	plane := h * w
	for n := 0; n < b; n++ {
		for i := 0; i < plane; i++ {
			var sum float64
			for k := 0; k < c; k++ {
				v := data[(n*c+k)*plane+i]
				assert.GreaterOrEqual(t, v, 0.0)
				assert.LessOrEqual(t, v, 1.0)
				sum += v
			}
			assert.InDelta(t, 1.0, sum, 1e-12)
		}
	}
}

func TestProbabilities_LargeLogits(t *testing.T) {
	// One pixel, three classes, magnitudes that overflow a naive exp.
	out, err := Probabilities(NewPredictions([]float64{1000, -1000, 999}, 1, 3, 1, 1))
	require.NoError(t, err)

	data := out.Data().([]float64)
	for _, v := range data {
		assert.False(t, math.IsNaN(v))
		assert.False(t, math.IsInf(v, 0))
	}
	assert.InDelta(t, 1/(1+math.Exp(-1)), data[0], 1e-12)
	assert.InDelta(t, 0, data[1], 1e-12)

	binary, err := Probabilities(NewPredictions([]float64{-800, 800}, 1, 1, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 1, 0}, binary.Data().([]float64))
}

func TestProbabilities_Binary(t *testing.T) {
	out, err := Probabilities(NewPredictions([]float64{0, 2, -2, 0}, 1, 1, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2, 2}, []int(out.Shape()))

	data := out.Data().([]float64)
	p := 1 / (1 + math.Exp(-2))
	assert.InDeltaSlice(t, []float64{0.5, p, 1 - p, 0.5}, data[:4], 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, 1 - p, p, 0.5}, data[4:], 1e-12)
}

func TestProbabilities_Float32(t *testing.T) {
	logits := []float32{0.5, -1, 3, 2, 0, -0.25, 1, 1}
	wide := make([]float64, len(logits))
	for i, v := range logits {
		wide[i] = float64(v)
	}

	got, err := Probabilities(tensor.New(tensor.WithShape(1, 2, 2, 2), tensor.WithBacking(logits)))
	require.NoError(t, err)
	want, err := Probabilities(NewPredictions(wide, 1, 2, 2, 2))
	require.NoError(t, err)

	assert.InDeltaSlice(t, want.Data().([]float64), got.Data().([]float64), 1e-6)
}

func TestSigmoid(t *testing.T) {
	assert.Equal(t, 0.5, Sigmoid(0))
	assert.InDelta(t, 1.0, Sigmoid(750), 1e-12)
	assert.InDelta(t, 0.0, Sigmoid(-750), 1e-12)
	for _, x := range []float64{-3, -0.5, 0.5, 3} {
		assert.InDelta(t, 1.0, Sigmoid(x)+Sigmoid(-x), 1e-12)
	}
}

func TestProbabilities_InfiniteLogits(t *testing.T) {
	inf := math.Inf(1)
	// Two pixels: one +Inf winner, then two +Inf classes tied over a finite one.
	out, err := Probabilities(NewPredictions([]float64{inf, inf, 0, inf, 0, 0}, 1, 3, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0.5, 0, 0.5, 0, 0}, out.Data().([]float64))

	// Every class at -Inf is spread evenly.
	out, err = Probabilities(NewPredictions([]float64{math.Inf(-1), math.Inf(-1)}, 1, 2, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5}, out.Data().([]float64))

	wide, err := Probabilities(tensor.New(tensor.WithShape(1, 2, 1, 1),
		tensor.WithBacking([]float32{float32(inf), 3})))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, wide.Data().([]float64))

	binary, err := Probabilities(NewPredictions([]float64{inf, math.Inf(-1)}, 1, 1, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 1}, binary.Data().([]float64))
}

func TestProbabilities_NaNLogit(t *testing.T) {
	_, err := Probabilities(NewPredictions([]float64{0, 1, math.NaN(), 2}, 1, 2, 1, 2))
	var logitErr *InvalidLogitError
	require.ErrorAs(t, err, &logitErr)
	assert.Equal(t, 2, logitErr.Index)

	_, err = Probabilities(tensor.New(tensor.WithShape(1, 1, 1, 1),
		tensor.WithBacking([]float32{float32(math.NaN())})))
	assert.ErrorAs(t, err, &logitErr)
}
