// Package centers owns the cluster centers of a training run: the seeded
// k-means initializer and the Uninitialized -> Initialized -> Trained lifecycle.
package centers

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

// State is the lifecycle stage of a center set
type State int

const (
	Uninitialized State = iota
	Initialized
	Trained
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Trained:
		return "trained"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Updater applies one optimizer step to a parameter in place
type Updater interface {
	Update(param, grad *mat.Dense)
}

// Centers holds the C×D cluster-center matrix
type Centers struct {
	mu     sync.Mutex
	k, dim int
	state  State
	values *mat.Dense
	logger zerolog.Logger

	// set by InitializeOnce
	lastResult *KMeansResult
}

// New creates an uninitialized set of k centers of width dim
func New(k, dim int, logger zerolog.Logger) (*Centers, error) {
	if k <= 0 || dim <= 0 {
		return nil, errors.Wrapf(models.ErrConfiguration, "centers need positive k and dim, got k=%d dim=%d", k, dim)
	}
	return &Centers{k: k, dim: dim, logger: logger}, nil
}

// K returns the number of centers
func (c *Centers) K() int { return c.k }

// Dim returns the center width
func (c *Centers) Dim() int { return c.dim }

// State returns the current lifecycle stage
func (c *Centers) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Matrix returns the live center matrix. Callers must not modify it.
func (c *Centers) Matrix() (*mat.Dense, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Uninitialized {
		return nil, errors.Wrap(models.ErrConfiguration, "centers read before initialization")
	}
	return c.values, nil
}

// LastKMeans returns the k-means result used for initialization, or nil
func (c *Centers) LastKMeans() *KMeansResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResult
}

// InitializeOnce seeds the centers from k-means over the rows of z. It only
// acts in the Uninitialized state and reports whether it did. A non-convergent
// k-means is logged and its best centroids are used anyway.
func (c *Centers) InitializeOnce(z mat.Matrix, cfg KMeansConfig) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Uninitialized {
		c.logger.Debug().Str("state", c.state.String()).Msg("Centers already initialized, skipping k-means")
		return false, nil
	}

	n, d := z.Dims()
	if d != c.dim {
		return false, errors.Wrapf(models.ErrShapeMismatch, "embeddings have width %d, centers expect %d", d, c.dim)
	}
	cfg.K = c.k

	data := mat.DenseCopyOf(z)
	result, err := KMeans(data, cfg)
	if err != nil {
		if result == nil || !errors.Is(err, models.ErrNonConvergentClustering) {
			return false, errors.Wrap(err, "center initialization failed")
		}
		c.logger.Warn().Err(err).
			Int("restarts", cfg.Restarts).
			Float64("inertia", result.Inertia).
			Msg("K-means did not converge, using best centroids")
	}

	c.values = mat.DenseCopyOf(result.Centroids)
	c.state = Initialized
	c.lastResult = result

	c.logger.Info().
		Int("points", n).
		Int("centers", c.k).
		Int("best_restart", result.Restart).
		Int("iterations", result.Iterations).
		Float64("inertia", result.Inertia).
		Msg("Centers initialized")
	return true, nil
}

// Step applies an optimizer update with the given C×D gradient
func (c *Centers) Step(grad *mat.Dense, opt Updater) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Uninitialized {
		return errors.Wrap(models.ErrConfiguration, "gradient step on uninitialized centers")
	}
	r, d := grad.Dims()
	if r != c.k || d != c.dim {
		return errors.Wrapf(models.ErrShapeMismatch, "center gradient is %dx%d, expected %dx%d", r, d, c.k, c.dim)
	}
	opt.Update(c.values, grad)
	c.state = Trained
	return nil
}

// Load sets the centers directly, for example from a saved run
func (c *Centers) Load(values mat.Matrix) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, d := values.Dims()
	if r != c.k || d != c.dim {
		return errors.Wrapf(models.ErrShapeMismatch, "loaded centers are %dx%d, expected %dx%d", r, d, c.k, c.dim)
	}
	c.values = mat.DenseCopyOf(values)
	if c.state == Uninitialized {
		c.state = Initialized
	}
	return nil
}
