package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gilchrisn/slim-clustering/pkg/train"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train and test on one split of a dataset",
	Long: `Train on one split of a dataset, testing after every epoch.

Examples:
  slim train --dataset data/PTC/PTC.txt --fold-dir data/PTC/10fold_idx --fold 1
  slim train --dataset data/NCI1/NCI1.txt --test-number 411 --epochs 200
  slim train --config run.yaml --extract-features --plot-centers`,
	RunE: runTrain,
}

// flag name per config key
var trainBindings = map[string]string{
	"data.dataset":              "dataset",
	"data.fold_dir":             "fold-dir",
	"data.fold":                 "fold",
	"data.test_number":          "test-number",
	"features.structural_files": "structural",
	"features.structural_order": "structural-order",
	"clustering.num_centers":    "centers",
	"clustering.loss_weight":    "loss-weight",
	"clustering.reduction":      "reduction",
	"clustering.transductive":   "transductive",
	"kernel.mode":               "kernel-mode",
	"kmeans.restarts":           "restarts",
	"model.embedding_dim":       "embedding-dim",
	"model.regression":          "regression",
	"train.num_epochs":          "epochs",
	"train.batch_size":          "batch-size",
	"algorithm.random_seed":     "seed",
	"performance.num_workers":   "workers",
	"output.dir":                "output",
	"output.extract_features":   "extract-features",
	"output.save_centers":       "save-centers",
	"output.plot_centers":       "plot-centers",
	"analysis.track_epochs":     "track-epochs",
}

func init() {
	defaults := train.NewConfig()
	f := trainCmd.Flags()
	f.String("dataset", "", "graph dataset file")
	f.String("fold-dir", "", "directory holding train_idx-<fold>.txt and test_idx-<fold>.txt")
	f.Int("fold", defaults.Fold(), "fold number")
	f.Int("test-number", 0, "use the last N graphs as test set instead of fold files")
	f.StringSlice("structural", nil, "structural matrices, first to third order (.bin or text)")
	f.Int("structural-order", defaults.StructuralOrder(), "which structural matrix to append")
	f.Int("centers", defaults.NumCenters(), "number of cluster centers")
	f.Float64("loss-weight", defaults.LossWeight(), "weight of the clustering loss")
	f.String("reduction", defaults.Reduction(), "KL reduction: mean, batchmean or sum")
	f.Bool("transductive", defaults.Transductive(), "cluster train and test nodes together during training")
	f.String("kernel-mode", defaults.KernelMode(), "adjacency kernel scaling: symmetric or historical")
	f.Int("restarts", defaults.KMeansRestarts(), "k-means restarts for center initialization")
	f.Int("embedding-dim", defaults.EmbeddingDim(), "embedding width, 0 keeps the feature width")
	f.Bool("regression", defaults.Regression(), "regress the raw label instead of classifying")
	f.Int("epochs", defaults.NumEpochs(), "number of epochs")
	f.Int("batch-size", defaults.BatchSize(), "graphs per batch")
	f.Int64("seed", defaults.RandomSeed(), "random seed")
	f.Int("workers", defaults.NumWorkers(), "k-means worker goroutines")
	f.String("output", defaults.OutputDir(), "output directory")
	f.Bool("extract-features", defaults.ExtractFeatures(), "write per-graph feature files")
	f.Bool("save-centers", defaults.SaveCenters(), "write the trained centers to centers.bin")
	f.Bool("plot-centers", defaults.PlotCenters(), "draw the 2D layout of the centers to centers.png")
	f.Bool("track-epochs", defaults.EnableEpochTracking(), "write a JSON-lines epoch log")
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, trainBindings)
	if err != nil {
		return err
	}
	logger := cfg.CreateLogger()

	data, err := train.LoadData(cfg)
	if err != nil {
		return err
	}

	trainer, err := train.NewTrainer(cfg, data, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := trainer.Run(ctx)
	if err != nil {
		return err
	}

	if n := len(result.Epochs); n > 0 {
		last := result.Epochs[n-1]
		logger.Info().
			Float64("train_loss", last.Train.Loss).
			Float64("test_loss", last.Test.Loss).
			Float64("test_acc", last.Test.Accuracy).
			Float64("test_auc", last.Test.AUC).
			Msg("Final epoch")
	}
	return nil
}
