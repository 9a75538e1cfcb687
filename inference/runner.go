package inference

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/deepwaves/config"
	"github.com/nvr-ai/deepwaves/dataset"
	"github.com/nvr-ai/deepwaves/logging"
	"github.com/nvr-ai/deepwaves/loss"
	"github.com/nvr-ai/deepwaves/profiler"
	"github.com/nvr-ai/deepwaves/report"
	"github.com/nvr-ai/deepwaves/segmentation"
)

// Runner predicts masks for wavefield images and scores them against the
// ground truth.
type Runner struct {
	// Model produces the logits.
	Model Model
	// Config supplies directories, suffixes, the kind and the void class.
	Config *config.Config
	// Logger receives progress. Nil discards.
	Logger *slog.Logger
	// Store, when set, records every entry under RunID.
	Store *report.Store
	// RunID identifies the run in the store.
	RunID string
	// PredictOnly writes masks without looking for ground truth.
	PredictOnly bool
	// Timings, when set, records how long decoding, prediction and scoring
	// take.
	Timings *profiler.Timings
}

// Result is the outcome of a run.
type Result struct {
	// Entries holds one entry per evaluated image, in record order.
	Entries []report.Entry
	// Stats accumulates overlap sums over every scored image, giving the
	// dataset-level IoU.
	Stats segmentation.ClassStats
	// Skipped counts records of another kind.
	Skipped int
}

// Run evaluates the records of the configured kind, one image at a time.
// Other kinds are skipped. An image that fails is logged and recorded with
// its error; the run continues. Cancelling ctx stops the run between images.
//
// Arguments:
//   - ctx: Cancels the run.
//   - records: The images to evaluate.
//
// Returns:
//   - The per-image entries and dataset statistics.
//   - An error if the runner is misconfigured or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, records []dataset.Record) (*Result, error) {
	if r.Model == nil || r.Config == nil {
		return nil, errors.New("runner: model and config are required")
	}
	logger := logging.OrDiscard(r.Logger)
	kind := dataset.ParseKind(r.Config.Kind)

	result := &Result{Stats: segmentation.NewClassStats(segmentation.EffectiveClasses(r.Config.NumClasses()))}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if rec.Kind != kind {
			result.Skipped++
			continue
		}

		entry, stats, err := r.evaluate(rec)
		if err != nil {
			entry.Err = err.Error()
			logger.Warn("evaluation failed", "image", rec.Name, "error", err)
		} else if !r.PredictOnly {
			if merged, mergeErr := result.Stats.Merge(stats); mergeErr == nil {
				result.Stats = merged
			} else {
				logger.Warn("class count mismatch", "image", rec.Name, "error", mergeErr)
			}
			logger.Info("evaluated", "image", rec.Name, "iou", entry.IoU, "accuracy", entry.ForegroundAccuracy, "dice", entry.Dice)
		}

		if r.Store != nil {
			if _, err := r.Store.Insert(r.RunID, entry); err != nil {
				return result, err
			}
		}
		result.Entries = append(result.Entries, entry)
	}

	logger.Info("run complete",
		"evaluated", len(result.Entries),
		"skipped", result.Skipped,
		"dataset_iou", result.Stats.IoU(r.Config.Epsilon))
	for _, op := range r.Timings.Stats() {
		logger.Debug("timing", "operation", op.Name, "count", op.Count, "mean", op.Mean(), "max", op.Max)
	}
	return result, nil
}

func (r *Runner) evaluate(rec dataset.Record) (report.Entry, segmentation.ClassStats, error) {
	entry := report.Entry{Image: rec.Name, Kind: rec.Kind.String(), EvaluatedAt: time.Now()}

	done := r.Timings.StartOperation("decode")
	img, err := dataset.DecodeImage(rec.Path)
	done()
	if err != nil {
		return entry, segmentation.ClassStats{}, err
	}
	done = r.Timings.StartOperation("predict")
	logits, err := r.Model.Predict(img)
	done()
	if err != nil {
		return entry, segmentation.ClassStats{}, errors.Wrapf(err, "predict %s", rec.Name)
	}

	mask, err := MaskImage(logits)
	if err != nil {
		return entry, segmentation.ClassStats{}, err
	}
	if r.Config.PredictionsDir != "" {
		if err := WriteMask(rec.PredictionPath(r.Config.PredictionsDir, r.Config.PredictionSuffix), mask); err != nil {
			return entry, segmentation.ClassStats{}, err
		}
	}

	if r.PredictOnly {
		return entry, segmentation.ClassStats{}, nil
	}

	labelPath := rec.LabelPath(r.Config.LabelsDir, r.Config.LabelSuffix)
	if _, err := os.Stat(labelPath); err != nil {
		return entry, segmentation.ClassStats{}, errors.Wrapf(err, "ground truth for %s", rec.Name)
	}
	shape := logits.Shape()
	truth, err := dataset.LoadMask(labelPath, shape[3], shape[2])
	if err != nil {
		return entry, segmentation.ClassStats{}, err
	}

	defer r.Timings.StartOperation("score")()
	return score(entry, logits, truth, r.Config)
}

func score(entry report.Entry, logits, truth *tensor.Dense, cfg *config.Config) (report.Entry, segmentation.ClassStats, error) {
	stats, err := segmentation.Evaluate(logits, truth)
	if err != nil {
		return entry, stats, errors.Wrapf(err, "iou of %s", entry.Image)
	}
	entry.PerClass = stats.PerClass(cfg.Epsilon)
	entry.IoU = stats.IoU(cfg.Epsilon)

	if entry.ForegroundAccuracy, err = segmentation.ForegroundAccuracy(logits, truth, cfg.VoidIndex()); err != nil {
		return entry, stats, errors.Wrapf(err, "accuracy of %s", entry.Image)
	}
	if entry.Dice, err = segmentation.Dice(logits, truth); err != nil {
		return entry, stats, errors.Wrapf(err, "dice of %s", entry.Image)
	}
	if entry.Loss, err = jaccardLoss(logits, truth, cfg.Epsilon); err != nil {
		return entry, stats, errors.Wrapf(err, "loss of %s", entry.Image)
	}
	return entry, stats, nil
}

// jaccardLoss runs the soft Jaccard objective on the probabilities of logits.
func jaccardLoss(logits, truth *tensor.Dense, eps float64) (float64, error) {
	probs, err := segmentation.Probabilities(logits)
	if err != nil {
		return 0, err
	}
	onehot, err := segmentation.OneHot(truth, logits.Shape()[1])
	if err != nil {
		return 0, err
	}
	result, err := loss.Evaluate(probs, onehot, eps)
	if err != nil {
		return 0, err
	}
	return result.Loss, nil
}
