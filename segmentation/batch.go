package segmentation

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Batch pairs the logits of one evaluation batch with its labels.
type Batch struct {
	Predictions *tensor.Dense
	Targets     *tensor.Dense
}

// EvaluateBatches evaluates batches concurrently and merges their statistics.
//
// Arguments:
//   - ctx: Cancels evaluation between batches.
//   - batches: The batches to evaluate. All must share a class count.
//   - maxConcurrency: Maximum number of batches evaluated at once.
//
// Returns:
//   - The merged per-class statistics.
//   - The first error in batch order, wrapped with the batch index.
//
// @example
//
//	stats, err := segmentation.EvaluateBatches(ctx, batches, runtime.NumCPU())
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("mean IoU: %.4f\n", stats.IoU(segmentation.DefaultEpsilon))
func EvaluateBatches(ctx context.Context, batches []Batch, maxConcurrency int) (ClassStats, error) {
	if len(batches) == 0 {
		return ClassStats{}, errors.New("evaluate batches: no batches")
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	results := make([]ClassStats, len(batches))
	errs := make([]error, len(batches))

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, batch := range batches {
		wg.Add(1)
		go func(idx int, batch Batch) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[idx] = ctx.Err()
				return
			}
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				errs[idx] = err
				return
			}
			stats, err := Evaluate(batch.Predictions, batch.Targets)
			if err != nil {
				errs[idx] = errors.Wrapf(err, "batch %d", idx)
				return
			}
			results[idx] = stats
		}(i, batch)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return ClassStats{}, err
		}
	}

	merged := results[0]
	for i := 1; i < len(results); i++ {
		var err error
		if merged, err = merged.Merge(results[i]); err != nil {
			return ClassStats{}, errors.Wrapf(err, "batch %d", i)
		}
	}
	return merged, nil
}
