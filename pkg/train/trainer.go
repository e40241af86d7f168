// Package train runs the clustering-regularized training loop: it builds the
// node feature pool, projects it to embeddings, keeps the cluster centers and
// feeds per-graph assignment statistics to a graph-level head.
package train

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/centers"
	"github.com/gilchrisn/slim-clustering/pkg/cluster"
	"github.com/gilchrisn/slim-clustering/pkg/kernel"
	"github.com/gilchrisn/slim-clustering/pkg/model"
	"github.com/gilchrisn/slim-clustering/pkg/models"
	"github.com/gilchrisn/slim-clustering/pkg/utils"
	"github.com/gilchrisn/slim-clustering/pkg/validation"
)

// Result is the outcome of a training run
type Result struct {
	RunID       string        `json:"run_id" yaml:"run_id"`
	Epochs      []EpochResult `json:"epochs" yaml:"epochs"`
	CenterState string        `json:"center_state" yaml:"center_state"`
	Statistics  Statistics    `json:"statistics" yaml:"statistics"`
	Outputs     []string      `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// EpochResult holds the metrics of one epoch
type EpochResult struct {
	Epoch     int     `json:"epoch" yaml:"epoch"`
	Train     Metrics `json:"train" yaml:"train"`
	Test      Metrics `json:"test" yaml:"test"`
	RuntimeMS int64   `json:"runtime_ms" yaml:"runtime_ms"`
}

// Statistics contains run-level counters
type Statistics struct {
	RuntimeMS         int64   `json:"runtime_ms" yaml:"runtime_ms"`
	TrainGraphs       int     `json:"train_graphs" yaml:"train_graphs"`
	TestGraphs        int     `json:"test_graphs" yaml:"test_graphs"`
	PoolNodes         int     `json:"pool_nodes" yaml:"pool_nodes"`
	FeatureDim        int     `json:"feature_dim" yaml:"feature_dim"`
	EmbeddingDim      int     `json:"embedding_dim" yaml:"embedding_dim"`
	KMeansInertia     float64 `json:"kmeans_inertia" yaml:"kmeans_inertia"`
	KMeansRestart     int     `json:"kmeans_restart" yaml:"kmeans_restart"`
	DegenerateKernels int     `json:"degenerate_kernels" yaml:"degenerate_kernels"`
}

// phase is one pass over a pool view
type phase struct {
	name  string
	train bool
	view  *kernel.PoolView
	x     *mat.Dense // pool rows, aligned with the view
}

// Trainer owns the model state of a run
type Trainer struct {
	cfg    *Config
	logger zerolog.Logger
	data   *Data

	proj    *model.Projection
	centers *centers.Centers
	head    model.Head

	projOpt    *model.RMSProp
	centersOpt *model.RMSProp

	kopts kernel.Options
	rng   *rand.Rand

	trainPhase phase
	testPhase  phase

	runID      string
	degenerate int

	// Out receives the per-epoch summary lines, Progress the progress bars.
	Out      io.Writer
	Progress io.Writer
}

// NewTrainer assembles the feature pool and model for data
func NewTrainer(cfg *Config, data *Data, logger zerolog.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validation.ValidateSplit(data.Train, data.Test); err != nil {
		return nil, errors.Wrap(err, "invalid split")
	}

	all := data.AllGraphs()
	x, err := NodeFeatures(all, data.NumTags, data.AttrDim)
	if err != nil {
		return nil, err
	}
	if data.Structural != nil {
		if x, err = AppendStructural(x, data.Structural, cfg.StructuralScale()); err != nil {
			return nil, err
		}
	}
	if err := validation.ValidatePool("features", x, all); err != nil {
		return nil, err
	}

	total := models.TotalNodes(all)
	trainNodes := models.TotalNodes(data.Train)
	xTrain := x
	if !cfg.Transductive() {
		xTrain = rowBlock(x, 0, trainNodes)
	}
	xTest := rowBlock(x, trainNodes, total)

	trainView, err := kernel.NewPoolView("train", data.Train, xTrain)
	if err != nil {
		return nil, err
	}
	testView, err := kernel.NewPoolView("test", data.Test, xTest)
	if err != nil {
		return nil, err
	}

	_, in := x.Dims()
	out := cfg.EmbeddingDim()
	if out == 0 {
		out = in
	}
	proj, err := model.NewProjection(in, out)
	if err != nil {
		return nil, err
	}
	ctrs, err := centers.New(cfg.NumCenters(), out, logger)
	if err != nil {
		return nil, err
	}
	kopts, err := cfg.KernelOptions()
	if err != nil {
		return nil, err
	}

	featureDim := model.FeatureDim(in, cfg.NumCenters())
	var head model.Head
	if cfg.Regression() {
		head, err = model.NewRegressionHead(featureDim, cfg.RandomSeed(), model.NewRMSProp(cfg.HeadLR()))
	} else {
		head, err = model.NewSoftmaxHead(featureDim, data.NumClasses, cfg.RandomSeed(), model.NewRMSProp(cfg.HeadLR()))
	}
	if err != nil {
		return nil, err
	}

	return &Trainer{
		cfg:        cfg,
		logger:     logger,
		data:       data,
		proj:       proj,
		centers:    ctrs,
		head:       head,
		projOpt:    model.NewRMSProp(cfg.ProjectionLR()),
		centersOpt: model.NewRMSProp(cfg.CentersLR()),
		kopts:      kopts,
		rng:        rand.New(rand.NewSource(cfg.RandomSeed())),
		trainPhase: phase{name: "train", train: true, view: trainView, x: xTrain},
		testPhase:  phase{name: "test", view: testView, x: xTest},
		runID:      uuid.NewString(),
		Out:        os.Stdout,
		Progress:   os.Stderr,
	}, nil
}

// RunID identifies the run in logs and output files
func (t *Trainer) RunID() string { return t.runID }

// Centers exposes the cluster centers
func (t *Trainer) Centers() *centers.Centers { return t.centers }

// Run trains for the configured number of epochs, testing after each one
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	startTime := time.Now()
	poolRows, featureDim := t.trainPhase.x.Dims()

	t.logger.Info().
		Str("run_id", t.runID).
		Str("train_graphs", humanize.Comma(int64(len(t.data.Train)))).
		Str("test_graphs", humanize.Comma(int64(len(t.data.Test)))).
		Str("pool_rows", humanize.Comma(int64(poolRows))).
		Int("feature_dim", featureDim).
		Int("centers", t.cfg.NumCenters()).
		Bool("transductive", t.cfg.Transductive()).
		Msg("Starting training")

	result := &Result{
		RunID:  t.runID,
		Epochs: make([]EpochResult, 0, t.cfg.NumEpochs()),
		Statistics: Statistics{
			TrainGraphs:  len(t.data.Train),
			TestGraphs:   len(t.data.Test),
			PoolNodes:    models.TotalNodes(t.data.AllGraphs()),
			FeatureDim:   featureDim,
			EmbeddingDim: t.proj.OutDim(),
		},
	}

	var tracker *utils.EpochTracker
	if t.cfg.EnableEpochTracking() {
		if err := validation.ValidateOutputDirectory(t.cfg.OutputDir()); err != nil {
			return nil, err
		}
		path := filepath.Join(t.cfg.OutputDir(), t.cfg.TrackingOutputFile())
		if tracker = utils.NewEpochTracker(path, t.runID); tracker == nil {
			t.logger.Warn().Str("file", path).Msg("Cannot create epoch tracker, continuing without it")
		}
	}
	defer tracker.Close()

	withAUC := !t.head.Regression() && t.data.NumClasses == 2 && t.cfg.PrintAUC()

	for epoch := 0; epoch < t.cfg.NumEpochs(); epoch++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		epochStart := time.Now()

		trainMetrics, err := t.runEpoch(ctx, epoch, t.trainPhase, withAUC)
		if err != nil {
			return nil, fmt.Errorf("training epoch %d failed: %w", epoch, err)
		}
		printEpoch(t.Out, "training", epoch, trainMetrics, t.head.Regression())

		testMetrics, err := t.runEpoch(ctx, epoch, t.testPhase, withAUC)
		if err != nil {
			return nil, fmt.Errorf("test epoch %d failed: %w", epoch, err)
		}
		printEpoch(t.Out, "test", epoch, testMetrics, t.head.Regression())

		er := EpochResult{
			Epoch:     epoch,
			Train:     trainMetrics,
			Test:      testMetrics,
			RuntimeMS: time.Since(epochStart).Milliseconds(),
		}
		result.Epochs = append(result.Epochs, er)
		tracker.LogEpoch(trackerEvent(epoch, "train", trainMetrics))
		tracker.LogEpoch(trackerEvent(epoch, "test", testMetrics))

		t.logger.Debug().
			Int("epoch", epoch).
			Float64("train_loss", trainMetrics.Loss).
			Float64("cluster_loss", trainMetrics.ClusterLoss).
			Float64("test_loss", testMetrics.Loss).
			Int64("runtime_ms", er.RuntimeMS).
			Msg("Epoch complete")
	}

	if km := t.centers.LastKMeans(); km != nil {
		result.Statistics.KMeansInertia = km.Inertia
		result.Statistics.KMeansRestart = km.Restart
	}
	result.Statistics.DegenerateKernels = t.degenerate
	result.CenterState = t.centers.State().String()
	result.Statistics.RuntimeMS = time.Since(startTime).Milliseconds()

	outputs, err := t.writeOutputs(result)
	if err != nil {
		return nil, err
	}
	result.Outputs = outputs

	t.logger.Info().
		Str("run_id", t.runID).
		Int("epochs", len(result.Epochs)).
		Str("center_state", result.CenterState).
		Int64("runtime_ms", result.Statistics.RuntimeMS).
		Msg("Training completed")

	return result, nil
}

// runEpoch makes one pass over a phase. The clustering loss and its
// gradients are evaluated once for the whole pool before the first batch and
// reused by every batch of the epoch.
func (t *Trainer) runEpoch(ctx context.Context, epoch int, ph phase, withAUC bool) (Metrics, error) {
	z, err := t.proj.Forward(ph.x)
	if err != nil {
		return Metrics{}, err
	}

	if ph.train {
		if _, err := t.centers.InitializeOnce(z, t.cfg.KMeansConfig()); err != nil {
			return Metrics{}, err
		}
	}
	u, err := t.centers.Matrix()
	if err != nil {
		return Metrics{}, err
	}

	opts, err := t.cfg.ClusterOptions(ph.train)
	if err != nil {
		return Metrics{}, err
	}
	res, err := cluster.Evaluate(z, u, opts)
	if err != nil {
		return Metrics{}, errors.Wrap(err, "clustering loss")
	}

	weight := t.cfg.LossWeight()
	var gradW, gradU *mat.Dense
	if ph.train && weight > 0 {
		if gradW, err = t.proj.Backward(ph.x, z, res.GradZ); err != nil {
			return Metrics{}, err
		}
		gradW.Scale(weight, gradW)
		gradU = mat.DenseCopyOf(res.GradCenters)
		gradU.Scale(weight, gradU)
	}

	order := make([]int, ph.view.Len())
	for i := range order {
		order[i] = i
	}
	if ph.train && t.cfg.Shuffle() {
		t.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	batchSize := t.cfg.BatchSize()
	numBatches := (len(order) + batchSize - 1) / batchSize
	bar := t.newProgress(numBatches, fmt.Sprintf("epoch %d %s", epoch, ph.name))
	defer finishProgress(bar)

	acc := &accumulator{}
	for b := 0; b < numBatches; b++ {
		select {
		case <-ctx.Done():
			return Metrics{}, ctx.Err()
		default:
		}

		end := (b + 1) * batchSize
		if end > len(order) {
			end = len(order)
		}
		batch := order[b*batchSize : end]

		var headLoss float64
		for _, k := range batch {
			stats, err := kernel.Aggregate(ph.view, k, res.Q, t.kopts)
			if err != nil {
				return Metrics{}, err
			}
			if stats.Degenerate {
				t.degenerate++
				t.logger.Debug().Int("graph", k).Str("view", ph.view.ListID).Msg("Edgeless graph, using identity kernel")
			}

			in := model.HeadInput{Stats: stats}
			out, err := t.head.Forward(in)
			if err != nil {
				return Metrics{}, errors.Wrapf(err, "graph %d", k)
			}
			headLoss += out.Loss
			acc.record(stats, out)

			if ph.train {
				if err := t.head.Backward(in, out); err != nil {
					return Metrics{}, err
				}
			}
		}
		headLoss /= float64(len(batch))

		loss := headLoss
		if ph.train {
			loss += weight * res.Loss
			t.head.Step(len(batch))
			if gradW != nil {
				t.projOpt.Update(t.proj.W, gradW)
				if err := t.centers.Step(gradU, t.centersOpt); err != nil {
					return Metrics{}, err
				}
			}
		}
		acc.addBatch(loss, headLoss, len(batch))
		describeProgress(bar, loss, acc, t.head.Regression())
	}

	return acc.metrics(res.Loss, withAUC), nil
}

func trackerEvent(epoch int, phase string, m Metrics) utils.EpochEvent {
	return utils.EpochEvent{
		Epoch:       epoch,
		Phase:       phase,
		Loss:        m.Loss,
		ClusterLoss: m.ClusterLoss,
		HeadLoss:    m.HeadLoss,
		Accuracy:    m.Accuracy,
		MAE:         m.MAE,
		AUC:         m.AUC,
	}
}
