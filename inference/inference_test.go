package inference

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/deepwaves/config"
	"github.com/nvr-ai/deepwaves/dataset"
	"github.com/nvr-ai/deepwaves/profiler"
	"github.com/nvr-ai/deepwaves/report"
)

// fixedModel predicts the same class map for every image.
type fixedModel struct {
	classes int
	h, w    int
	labels  []int
	calls   int
}

func (m *fixedModel) Predict(image.Image) (*tensor.Dense, error) {
	m.calls++
	plane := m.h * m.w
	logits := make([]float32, m.classes*plane)
	for i, c := range m.labels {
		logits[c*plane+i] = 10
	}
	return tensor.New(tensor.WithShape(1, m.classes, m.h, m.w), tensor.WithBacking(logits)), nil
}

func writeGray(t *testing.T, path string, w, h int, pix []uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	copy(img.Pix, pix)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestPrepareInput(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 0, B: 51, A: 255})
	img.Set(1, 0, color.RGBA{R: 0, G: 255, B: 102, A: 255})

	dst := make([]float32, 6)
	require.NoError(t, PrepareInput(img, dst, 2, 1))
	assert.InDeltaSlice(t, []float32{1, 0, 0, 1, 0.2, 0.4}, dst, 1e-6)

	resized := make([]float32, 3*4*4)
	require.NoError(t, PrepareInput(img, resized, 4, 4))

	assert.Error(t, PrepareInput(img, make([]float32, 5), 2, 1))
}

func TestMaskImage(t *testing.T) {
	m := &fixedModel{classes: 3, h: 2, w: 2, labels: []int{0, 2, 1, 2}}
	logits, _ := m.Predict(nil)

	mask, err := MaskImage(logits)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 2, 1, 2}, mask.Pix)

	path := filepath.Join(t.TempDir(), "out", "mask.png")
	require.NoError(t, WriteMask(path, mask))
	back, err := dataset.LoadMask(path, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 1, 2}, back.Data().([]int))
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("")
	require.NoError(t, err)
	assert.Equal(t, CPUBackend, b)

	b, err = ParseBackend("CUDA")
	require.NoError(t, err)
	assert.Equal(t, CUDABackend, b)

	_, err = ParseBackend("tpu")
	assert.Error(t, err)
}

func TestNewSession_InvalidShape(t *testing.T) {
	_, err := NewSession(SessionArgs{ModelPath: "model.onnx"})
	assert.Error(t, err)
}

func runnerFixture(t *testing.T) (*config.Config, []dataset.Record) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.ImagesDir = filepath.Join(root, "images")
	cfg.LabelsDir = filepath.Join(root, "labels")
	cfg.PredictionsDir = filepath.Join(root, "predictions")
	cfg.Classes = []string{"Void", "Defect"}
	cfg.VoidClass = "Void"

	img := []uint8{10, 20, 30, 40}
	writeGray(t, filepath.Join(cfg.ImagesDir, "p1_real.png"), 2, 2, img)
	writeGray(t, filepath.Join(cfg.ImagesDir, "p1_magnitude.png"), 2, 2, img)
	writeGray(t, filepath.Join(cfg.ImagesDir, "p2_real.png"), 2, 2, img)
	// Only p1 has a ground truth mask.
	writeGray(t, filepath.Join(cfg.LabelsDir, "p1_mask.png"), 2, 2, []uint8{0, 1, 1, 0})

	records, err := dataset.LoadDirectory(cfg.ImagesDir)
	require.NoError(t, err)
	return &cfg, records
}

func TestRunner_Run(t *testing.T) {
	cfg, records := runnerFixture(t)
	model := &fixedModel{classes: 2, h: 2, w: 2, labels: []int{0, 1, 0, 0}}

	store, err := report.Open(filepath.Join(t.TempDir(), "eval.db"))
	require.NoError(t, err)
	defer store.Close()

	timings := &profiler.Timings{}
	runner := &Runner{Model: model, Config: cfg, Store: store, RunID: "test", Timings: timings}
	result, err := runner.Run(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 2, model.calls)
	require.Len(t, result.Entries, 2)

	p1 := result.Entries[0]
	assert.Equal(t, "p1_real.png", p1.Image)
	assert.Equal(t, "real", p1.Kind)
	assert.Empty(t, p1.Err)
	// Truth 0 1 1 0 against prediction 0 1 0 0: the one correct non-void
	// pixel of two, dice 2·1/(1+2).
	assert.InDelta(t, 0.5, p1.ForegroundAccuracy, 1e-12)
	assert.InDelta(t, 2.0/3.0, p1.Dice, 1e-12)
	assert.Len(t, p1.PerClass, 2)
	assert.Greater(t, p1.IoU, 0.0)
	assert.Less(t, p1.IoU, 1.0)
	assert.InDelta(t, 1-p1.IoU, p1.Loss, 1e-9)

	assert.Contains(t, result.Entries[1].Err, "ground truth")
	assert.FileExists(t, filepath.Join(cfg.PredictionsDir, "p1_pred.png"))
	assert.InDelta(t, p1.IoU, result.Stats.IoU(cfg.Epsilon), 1e-12)

	stored, err := store.Entries("test")
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	var ops []string
	for _, op := range timings.Stats() {
		ops = append(ops, op.Name)
	}
	assert.Equal(t, []string{"decode", "predict", "score"}, ops)
}

func TestRunner_BinaryModel(t *testing.T) {
	cfg, records := runnerFixture(t)
	cfg.Classes = []string{"Defect"}
	cfg.VoidClass = ""
	// One logit channel: only the first pixel scores positive.
	model := &fixedModel{classes: 1, h: 2, w: 2, labels: []int{0}}

	result, err := (&Runner{Model: model, Config: cfg}).Run(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, result.Entries, 2)

	p1 := result.Entries[0]
	require.Empty(t, p1.Err)
	assert.Len(t, p1.PerClass, 2)
	assert.Greater(t, p1.IoU, 0.0)
	assert.InDelta(t, 0.25, p1.ForegroundAccuracy, 1e-12)
	assert.InDelta(t, 1-p1.IoU, p1.Loss, 1e-9)

	assert.Equal(t, 2, result.Stats.Classes())
	assert.InDelta(t, p1.IoU, result.Stats.IoU(cfg.Epsilon), 1e-12)
}

func TestRunner_Cancelled(t *testing.T) {
	cfg, records := runnerFixture(t)
	model := &fixedModel{classes: 2, h: 2, w: 2, labels: []int{0, 0, 0, 0}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Runner{Model: model, Config: cfg}).Run(ctx, records)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, model.calls)

	_, err = (&Runner{Config: cfg}).Run(context.Background(), records)
	assert.Error(t, err)
}

func TestRunner_PredictOnly(t *testing.T) {
	cfg, records := runnerFixture(t)
	model := &fixedModel{classes: 2, h: 2, w: 2, labels: []int{1, 1, 0, 0}}

	result, err := (&Runner{Model: model, Config: cfg, PredictOnly: true}).Run(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, result.Entries, 2)
	for _, e := range result.Entries {
		assert.Empty(t, e.Err)
	}

	mask, err := dataset.LoadMask(filepath.Join(cfg.PredictionsDir, "p2_pred.png"), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 0, 0}, mask.Data().([]int))
}
