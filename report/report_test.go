package report

import (
	"bytes"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleEntries() []Entry {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []Entry{
		{Image: "a_real.png", Kind: "real", IoU: 0.5, ForegroundAccuracy: 0.9, Dice: 0.6, Loss: 0.5, PerClass: []float64{0.4, 0.6}, EvaluatedAt: at},
		{Image: "b_real.png", Kind: "real", IoU: 0.7, ForegroundAccuracy: 0.8, Dice: 0.8, Loss: 0.25, PerClass: []float64{0.6, 0.8}, EvaluatedAt: at},
		{Image: "c_real.png", Kind: "real", IoU: 0.9, ForegroundAccuracy: 1.0, Dice: 1.0, PerClass: []float64{0.8, 1.0}, EvaluatedAt: at},
		{Image: "d_real.png", Kind: "real", Err: "missing ground truth", EvaluatedAt: at},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleEntries())

	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 1, s.Failed)
	assert.InDelta(t, 0.7, s.MeanIoU, 1e-12)
	// Sample standard deviation of 0.5, 0.7, 0.9.
	assert.InDelta(t, 0.2, s.StdIoU, 1e-12)
	assert.Equal(t, 0.5, s.MinIoU)
	assert.Equal(t, 0.9, s.MaxIoU)
	assert.InDelta(t, 0.7, s.MedianIoU, 1e-12)
	assert.InDelta(t, 0.9, s.MeanAccuracy, 1e-12)
	assert.InDelta(t, 0.8, s.MeanDice, 1e-12)
}

func TestSummarize_Edges(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))

	one := Summarize([]Entry{{IoU: 0.4}})
	assert.Equal(t, 0.0, one.StdIoU)
	assert.Equal(t, 0.4, one.MedianIoU)

	even := Summarize([]Entry{{IoU: 0.2}, {IoU: 0.8}, {IoU: 0.4}, {IoU: 0.6}})
	assert.InDelta(t, 0.5, even.MedianIoU, 1e-12)
}

func TestMeanPerClass(t *testing.T) {
	assert.InDeltaSlice(t, []float64{0.6, 0.8}, MeanPerClass(sampleEntries()), 1e-12)
	assert.Nil(t, MeanPerClass(nil))
}

func TestWriteJSON(t *testing.T) {
	entries := append(sampleEntries(), Entry{Image: "e_real.png", IoU: math.NaN()})

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, Summarize(sampleEntries()), entries))

	var doc struct {
		Summary Summary `json:"summary"`
		Entries []Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 3, doc.Summary.Count)
	assert.Len(t, doc.Entries, 5)
	assert.Equal(t, 0.0, doc.Entries[4].IoU)
	assert.True(t, math.IsNaN(entries[4].IoU))
}

func TestStore(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "eval.db"))
	require.NoError(t, err)
	defer store.Close()

	for _, e := range sampleEntries() {
		_, err := store.Insert("run-1", e)
		require.NoError(t, err)
	}
	_, err = store.Insert("run-2", Entry{Image: "z_real.png", Kind: "real", IoU: 0.3})
	require.NoError(t, err)

	got, err := store.Entries("run-1")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, sampleEntries()[1].PerClass, got[1].PerClass)
	assert.Equal(t, 0.25, got[1].Loss)
	assert.Equal(t, "missing ground truth", got[3].Err)
	assert.True(t, sampleEntries()[0].EvaluatedAt.Equal(got[0].EvaluatedAt))
	assert.Equal(t, Summarize(sampleEntries()), Summarize(got))

	runs, err := store.Runs()
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1", "run-2"}, runs)

	other, err := store.Entries("run-2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.False(t, other[0].EvaluatedAt.IsZero())
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, WriteXLSX(path, sampleEntries(), []string{"Void", "Defect"}))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(entriesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"Image", "Kind", "IoU", "Foreground accuracy", "Dice", "Jaccard loss", "IoU Void", "IoU Defect", "Error"}, rows[0])
	assert.Equal(t, "a_real.png", rows[1][0])
	assert.Equal(t, "missing ground truth", rows[4][len(rows[4])-1])

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"Images", "3"}, summary[0])
	assert.Equal(t, "Mean IoU Defect", summary[len(summary)-1][0])
}

func TestWriteXLSX_UnnamedClasses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binary.xlsx")
	entries := []Entry{
		{Image: "a_real.png", Kind: "real", IoU: 0.5, PerClass: []float64{0.25, 0.5}},
		{Image: "b_real.png", Kind: "real", IoU: 0.7, PerClass: []float64{0.5, 0.75}},
	}
	require.NoError(t, WriteXLSX(path, entries, []string{"Defect"}))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(entriesSheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"Image", "Kind", "IoU", "Foreground accuracy", "Dice", "Jaccard loss", "IoU Defect", "IoU class 1", "Error"}, rows[0])
	assert.Equal(t, "0.5", rows[1][7])

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	last := summary[len(summary)-1]
	assert.Equal(t, "Mean IoU class 1", last[0])
	assert.Equal(t, "0.625", last[1])
}
