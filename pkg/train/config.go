package train

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/gilchrisn/slim-clustering/pkg/centers"
	"github.com/gilchrisn/slim-clustering/pkg/cluster"
	"github.com/gilchrisn/slim-clustering/pkg/kernel"
	"github.com/gilchrisn/slim-clustering/pkg/models"
)

// Config manages training configuration using Viper
type Config struct {
	v *viper.Viper
}

// NewConfig creates a new configuration with defaults
func NewConfig() *Config {
	v := viper.New()

	// Data
	v.SetDefault("data.dataset", "")
	v.SetDefault("data.fold_dir", "")
	v.SetDefault("data.fold", 1)
	v.SetDefault("data.test_number", 0)

	// Node features
	v.SetDefault("features.structural_files", []string{})
	v.SetDefault("features.structural_order", 3)
	v.SetDefault("features.structural_scale", 90.0)

	// Clustering regularizer
	v.SetDefault("clustering.num_centers", 100)
	v.SetDefault("clustering.dof", cluster.DefaultDOF)
	v.SetDefault("clustering.loss_weight", 0.1)
	v.SetDefault("clustering.reduction", "mean")
	v.SetDefault("clustering.transductive", true)

	v.SetDefault("kernel.epsilon", kernel.DefaultEpsilon)
	v.SetDefault("kernel.mode", "symmetric")

	v.SetDefault("kmeans.restarts", 100)
	v.SetDefault("kmeans.max_iterations", 100)
	v.SetDefault("kmeans.tolerance", 1e-4)

	// Model and optimizer
	v.SetDefault("model.embedding_dim", 0) // 0 keeps the input width
	v.SetDefault("model.regression", false)

	v.SetDefault("optimizer.projection_lr", 0.001)
	v.SetDefault("optimizer.centers_lr", 0.02)
	v.SetDefault("optimizer.head_lr", 0.001)

	v.SetDefault("train.num_epochs", 100)
	v.SetDefault("train.batch_size", 50)
	v.SetDefault("train.shuffle", false)
	v.SetDefault("train.print_auc", true)

	v.SetDefault("algorithm.random_seed", 1)

	// Performance parameters
	v.SetDefault("performance.num_workers", runtime.NumCPU())

	// Logging parameters
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.enable_progress", true)

	v.SetDefault("output.dir", "output")
	v.SetDefault("output.extract_features", false)
	v.SetDefault("output.plot_loss", true)
	v.SetDefault("output.write_summary", true)
	v.SetDefault("output.save_centers", false)
	v.SetDefault("output.plot_centers", false)

	v.SetDefault("analysis.track_epochs", false)
	v.SetDefault("analysis.output_file", "epochs.jsonl")

	return &Config{v: v}
}

// LoadFromFile loads configuration from file
func (c *Config) LoadFromFile(path string) error {
	c.v.SetConfigFile(path)
	return c.v.ReadInConfig()
}

// Viper exposes the underlying instance so command flags can be bound to it
func (c *Config) Viper() *viper.Viper { return c.v }

func (c *Config) Dataset() string { return c.v.GetString("data.dataset") }
func (c *Config) FoldDir() string { return c.v.GetString("data.fold_dir") }
func (c *Config) Fold() int       { return c.v.GetInt("data.fold") }
func (c *Config) TestNumber() int { return c.v.GetInt("data.test_number") }

func (c *Config) StructuralFiles() []string { return c.v.GetStringSlice("features.structural_files") }
func (c *Config) StructuralOrder() int      { return c.v.GetInt("features.structural_order") }
func (c *Config) StructuralScale() float64  { return c.v.GetFloat64("features.structural_scale") }

func (c *Config) NumCenters() int     { return c.v.GetInt("clustering.num_centers") }
func (c *Config) DOF() float64        { return c.v.GetFloat64("clustering.dof") }
func (c *Config) LossWeight() float64 { return c.v.GetFloat64("clustering.loss_weight") }
func (c *Config) Reduction() string   { return c.v.GetString("clustering.reduction") }
func (c *Config) Transductive() bool  { return c.v.GetBool("clustering.transductive") }

func (c *Config) KernelEpsilon() float64 { return c.v.GetFloat64("kernel.epsilon") }
func (c *Config) KernelMode() string     { return c.v.GetString("kernel.mode") }

func (c *Config) KMeansRestarts() int      { return c.v.GetInt("kmeans.restarts") }
func (c *Config) KMeansMaxIterations() int { return c.v.GetInt("kmeans.max_iterations") }
func (c *Config) KMeansTolerance() float64 { return c.v.GetFloat64("kmeans.tolerance") }

func (c *Config) EmbeddingDim() int { return c.v.GetInt("model.embedding_dim") }
func (c *Config) Regression() bool  { return c.v.GetBool("model.regression") }

func (c *Config) ProjectionLR() float64 { return c.v.GetFloat64("optimizer.projection_lr") }
func (c *Config) CentersLR() float64    { return c.v.GetFloat64("optimizer.centers_lr") }
func (c *Config) HeadLR() float64       { return c.v.GetFloat64("optimizer.head_lr") }

func (c *Config) NumEpochs() int { return c.v.GetInt("train.num_epochs") }
func (c *Config) BatchSize() int { return c.v.GetInt("train.batch_size") }
func (c *Config) Shuffle() bool  { return c.v.GetBool("train.shuffle") }
func (c *Config) PrintAUC() bool { return c.v.GetBool("train.print_auc") }

func (c *Config) RandomSeed() int64 { return c.v.GetInt64("algorithm.random_seed") }
func (c *Config) NumWorkers() int   { return c.v.GetInt("performance.num_workers") }

func (c *Config) LogLevel() string     { return c.v.GetString("logging.level") }
func (c *Config) EnableProgress() bool { return c.v.GetBool("logging.enable_progress") }

func (c *Config) OutputDir() string     { return c.v.GetString("output.dir") }
func (c *Config) ExtractFeatures() bool { return c.v.GetBool("output.extract_features") }
func (c *Config) PlotLoss() bool        { return c.v.GetBool("output.plot_loss") }
func (c *Config) WriteSummary() bool    { return c.v.GetBool("output.write_summary") }
func (c *Config) SaveCenters() bool     { return c.v.GetBool("output.save_centers") }
func (c *Config) PlotCenters() bool     { return c.v.GetBool("output.plot_centers") }

func (c *Config) EnableEpochTracking() bool  { return c.v.GetBool("analysis.track_epochs") }
func (c *Config) TrackingOutputFile() string { return c.v.GetString("analysis.output_file") }

// Set allows dynamic configuration changes
func (c *Config) Set(key string, value interface{}) {
	c.v.Set(key, value)
}

// ClusterOptions returns the loss settings for an evaluation
func (c *Config) ClusterOptions(withGradients bool) (cluster.Options, error) {
	r, err := cluster.ParseReduction(c.Reduction())
	if err != nil {
		return cluster.Options{}, err
	}
	opts := cluster.DefaultOptions()
	opts.DOF = c.DOF()
	opts.Reduction = r
	opts.WithGradients = withGradients
	return opts, nil
}

// KernelOptions returns the adjacency kernel settings
func (c *Config) KernelOptions() (kernel.Options, error) {
	mode, err := kernel.ParseMode(c.KernelMode())
	if err != nil {
		return kernel.Options{}, err
	}
	return kernel.Options{Epsilon: c.KernelEpsilon(), Mode: mode}, nil
}

// KMeansConfig returns the center initializer settings
func (c *Config) KMeansConfig() centers.KMeansConfig {
	cfg := centers.DefaultKMeansConfig(c.NumCenters())
	cfg.Restarts = c.KMeansRestarts()
	cfg.MaxIterations = c.KMeansMaxIterations()
	cfg.Tolerance = c.KMeansTolerance()
	cfg.Seed = c.RandomSeed()
	cfg.NumWorkers = c.NumWorkers()
	return cfg
}

// Validate rejects settings that cannot produce a run
func (c *Config) Validate() error {
	var errs models.ValidationErrors
	check := func(ok bool, field, msg string, value interface{}) {
		if !ok {
			errs = append(errs, models.ValidationError{Field: field, Message: msg, Value: toString(value)})
		}
	}

	check(c.NumCenters() > 0, "clustering.num_centers", "must be positive", c.NumCenters())
	check(c.DOF() > 0, "clustering.dof", "must be positive", c.DOF())
	check(c.LossWeight() >= 0, "clustering.loss_weight", "must not be negative", c.LossWeight())
	check(c.KernelEpsilon() > 0, "kernel.epsilon", "must be positive", c.KernelEpsilon())
	check(c.KMeansMaxIterations() > 0, "kmeans.max_iterations", "must be positive", c.KMeansMaxIterations())
	check(c.EmbeddingDim() >= 0, "model.embedding_dim", "must not be negative", c.EmbeddingDim())
	check(c.NumEpochs() > 0, "train.num_epochs", "must be positive", c.NumEpochs())
	check(c.BatchSize() > 0, "train.batch_size", "must be positive", c.BatchSize())
	check(c.ProjectionLR() > 0 && c.CentersLR() > 0 && c.HeadLR() > 0, "optimizer", "learning rates must be positive", nil)
	if len(c.StructuralFiles()) > 0 {
		order := c.StructuralOrder()
		check(order >= 1 && order <= len(c.StructuralFiles()), "features.structural_order",
			"must select one of the structural files", order)
	}
	if _, err := cluster.ParseReduction(c.Reduction()); err != nil {
		check(false, "clustering.reduction", "unknown reduction", c.Reduction())
	}
	if _, err := kernel.ParseMode(c.KernelMode()); err != nil {
		check(false, "kernel.mode", "unknown kernel mode", c.KernelMode())
	}

	if len(errs) > 0 {
		return errors.Wrap(models.ErrConfiguration, errs.Error())
	}
	return nil
}

// CreateLogger creates a zerolog logger based on config
func (c *Config) CreateLogger() zerolog.Logger {
	return c.CreateLoggerTo(os.Stdout)
}

// CreateLoggerTo is CreateLogger with an explicit destination
func (c *Config) CreateLoggerTo(out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
	}).Level(level).With().Timestamp().Str("service", "slim").Logger()
}

func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
