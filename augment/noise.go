// Package augment - Gaussian noise augmentation of wavefield images.
package augment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/deepwaves/dataset"
	"github.com/nvr-ai/deepwaves/logging"
)

// DefaultVariances are the noise levels applied to every image.
var DefaultVariances = []float64{0.001, 0.005, 0.01, 0.02, 0.04, 0.06, 0.08, 0.1}

// GaussianNoise writes noisy copies of images. Each image is read as 8-bit
// grayscale and scaled to [0, 1]; each copy adds zero-mean gaussian noise of
// one variance, clips the result back into range and is stored as 8-bit
// grayscale.
type GaussianNoise struct {
	// Variances are the noise levels. Empty selects DefaultVariances.
	Variances []float64
	// Workers bounds how many images ApplyDirectory processes at once.
	Workers int
	// Logger receives progress. Nil discards.
	Logger *slog.Logger
}

func (g *GaussianNoise) variances() []float64 {
	if len(g.Variances) == 0 {
		return DefaultVariances
	}
	return g.Variances
}

// OutputName returns the file name of the i-th noisy copy of rec (i from 1),
// e.g. "plate_3_real_gauss_2.png".
func OutputName(rec dataset.Record, i int) string {
	return fmt.Sprintf("%s%s%s_gauss_%d%s", rec.Base, rec.Token(), rec.Suffix, i, rec.Ext)
}

// Apply writes one noisy copy of rec per variance next to the input.
//
// Arguments:
//   - ctx: Cancels between copies.
//   - rec: The image to augment.
//
// Returns:
//   - The paths written, in variance order.
//   - An error if the image cannot be read or a copy cannot be written.
func (g *GaussianNoise) Apply(ctx context.Context, rec dataset.Record) ([]string, error) {
	img := gocv.IMRead(rec.Path, gocv.IMReadGrayscale)
	if img.Empty() {
		return nil, errors.Errorf("augment: cannot read %s", rec.Path)
	}
	defer img.Close()

	unit := gocv.NewMat()
	defer unit.Close()
	img.ConvertToWithParams(&unit, gocv.MatTypeCV32F, 1.0/255, 0)

	dir := filepath.Dir(rec.Path)
	var written []string
	for i, v := range g.variances() {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if v < 0 {
			return written, errors.Errorf("augment: negative variance %v", v)
		}

		out := filepath.Join(dir, OutputName(rec, i+1))
		if err := writeNoisy(unit, math.Sqrt(v), img.Type(), out); err != nil {
			return written, err
		}
		written = append(written, out)
	}

	logging.OrDiscard(g.Logger).Debug("augmented", "image", rec.Name, "copies", len(written))
	return written, nil
}

func writeNoisy(unit gocv.Mat, sigma float64, outType gocv.MatType, path string) error {
	noise := gocv.NewMatWithSize(unit.Rows(), unit.Cols(), unit.Type())
	defer noise.Close()
	gocv.RandN(&noise, gocv.NewScalar(0, 0, 0, 0), gocv.NewScalar(sigma, 0, 0, 0))

	noisy := gocv.NewMat()
	defer noisy.Close()
	gocv.Add(unit, noise, &noisy)

	// The conversion back saturates, clipping to the valid range.
	result := gocv.NewMat()
	defer result.Close()
	noisy.ConvertToWithParams(&result, outType, 255, 0)

	if !gocv.IMWrite(path, result) {
		return errors.Errorf("augment: cannot write %s", path)
	}
	return nil
}

// ApplyDirectory augments every original image in dir. Images that are
// themselves augmented copies are skipped.
//
// Returns:
//   - The number of copies written.
//   - The first error encountered.
func (g *GaussianNoise) ApplyDirectory(ctx context.Context, dir string) (int, error) {
	records, err := dataset.LoadDirectory(dir)
	if err != nil {
		return 0, err
	}

	workers := g.Workers
	if workers < 1 {
		workers = 1
	}
	semaphore := make(chan struct{}, workers)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		total    int
		firstErr error
	)
	for _, rec := range records {
		if rec.Augmented() {
			continue
		}

		wg.Add(1)
		go func(rec dataset.Record) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			written, err := g.Apply(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			total += len(written)
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}(rec)
	}
	wg.Wait()

	logging.OrDiscard(g.Logger).Info("augmentation complete", "dir", dir, "copies", total)
	return total, firstErr
}
