package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/nvr-ai/deepwaves/augment"
	"github.com/nvr-ai/deepwaves/config"
	"github.com/nvr-ai/deepwaves/dataset"
	"github.com/nvr-ai/deepwaves/inference"
	"github.com/nvr-ai/deepwaves/logging"
	"github.com/nvr-ai/deepwaves/profiler"
	"github.com/nvr-ai/deepwaves/report"
)

const usage = `usage: deepwaves <command> [flags]

commands:
  evaluate   predict masks for labelled images and score them
  predict    predict masks for unlabelled images
  augment    write gaussian noise copies of every image in a directory
  split      write a validation list
  runs       list or summarise stored evaluation runs
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "evaluate":
		err = runModel(ctx, args, false)
	case "predict":
		err = runModel(ctx, args, true)
	case "augment":
		err = runAugment(ctx, args)
	case "split":
		err = runSplit(args)
	case "runs":
		err = runHistory(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	default:
		err = fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "deepwaves:", err)
		os.Exit(1)
	}
}

// load parses the shared -config flag and builds the configuration and logger.
func load(fs *flag.FlagSet, args []string) (*config.Config, *slog.Logger, error) {
	path := fs.String("config", "", "Path to a YAML configuration file")
	kind := fs.String("kind", "", "Wavefield kind to process (real, imaginary, magnitude)")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(*path)
	if err != nil {
		return nil, nil, err
	}
	if *kind != "" {
		cfg.Kind = *kind
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	return cfg, logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr), nil
}

func runModel(ctx context.Context, args []string, predictOnly bool) error {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	dir := fs.String("dir", "", "Image directory (defaults to images_dir, or test_dir when predicting)")
	jsonOut := fs.Bool("json", false, "Print the summary and entries as JSON")
	cfg, logger, err := load(fs, args)
	if err != nil {
		return err
	}
	if *dir == "" {
		*dir = cfg.ImagesDir
		if predictOnly {
			*dir = cfg.TestDir
		}
	}

	backend, err := inference.ParseBackend(cfg.Provider)
	if err != nil {
		return err
	}
	session, err := inference.NewSession(inference.SessionArgs{
		ModelPath:   cfg.ModelPath,
		LibraryPath: cfg.ONNXLibraryPath,
		Width:       cfg.InputWidth,
		Height:      cfg.InputHeight,
		Classes:     cfg.NumClasses(),
		Backend:     backend,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	records, err := dataset.LoadDirectory(*dir)
	if err != nil {
		return err
	}

	runner := &inference.Runner{
		Model:       session,
		Config:      cfg,
		Logger:      logger,
		RunID:       time.Now().UTC().Format("20060102T150405Z"),
		PredictOnly: predictOnly,
		Timings:     &profiler.Timings{},
	}
	if !predictOnly && cfg.DatabasePath != "" {
		store, err := report.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()
		runner.Store = store
	}

	result, err := runner.Run(ctx, records)
	if err != nil {
		return err
	}
	if predictOnly {
		logger.Info("predictions written", "dir", cfg.PredictionsDir, "images", len(result.Entries))
		return nil
	}

	summary := report.Summarize(result.Entries)
	logger.Info("evaluation summary",
		"run", runner.RunID,
		"images", summary.Count,
		"failed", summary.Failed,
		"mean_iou", summary.MeanIoU,
		"dataset_iou", result.Stats.IoU(cfg.Epsilon),
		"present_iou", result.Stats.PresentIoU(cfg.Epsilon),
		"mean_accuracy", summary.MeanAccuracy,
		"mean_dice", summary.MeanDice)

	if cfg.ReportPath != "" {
		if err := report.WriteXLSX(cfg.ReportPath, result.Entries, cfg.Classes); err != nil {
			return err
		}
	}
	if *jsonOut {
		return report.WriteJSON(os.Stdout, summary, result.Entries)
	}
	return nil
}

func runAugment(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("augment", flag.ExitOnError)
	dir := fs.String("dir", "", "Image directory (defaults to images_dir)")
	cfg, logger, err := load(fs, args)
	if err != nil {
		return err
	}
	if *dir == "" {
		*dir = cfg.ImagesDir
	}

	g := &augment.GaussianNoise{Variances: cfg.NoiseVariances, Workers: cfg.Workers, Logger: logger}
	_, err = g.ApplyDirectory(ctx, *dir)
	return err
}

func runSplit(args []string) error {
	fs := flag.NewFlagSet("split", flag.ExitOnError)
	out := fs.String("out", "", "Validation list path (defaults to valid_list_path)")
	cfg, logger, err := load(fs, args)
	if err != nil {
		return err
	}
	if *out == "" {
		*out = cfg.ValidListPath
	}

	records, err := dataset.LoadDirectory(cfg.ImagesDir)
	if err != nil {
		return err
	}
	names, err := dataset.Split(dataset.FilterKind(records, dataset.ParseKind(cfg.Kind)), cfg.ValidPct, cfg.Seed)
	if err != nil {
		return err
	}
	if err := dataset.WriteValidList(*out, names); err != nil {
		return err
	}
	logger.Info("validation list written", "path", *out, "images", len(names))
	return nil
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	run := fs.String("run", "", "Summarise one run instead of listing all")
	cfg, _, err := load(fs, args)
	if err != nil {
		return err
	}

	store, err := report.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if *run == "" {
		runs, err := store.Runs()
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(runs, "\n"))
		return nil
	}

	entries, err := store.Entries(*run)
	if err != nil {
		return err
	}
	return report.WriteJSON(os.Stdout, report.Summarize(entries), entries)
}
