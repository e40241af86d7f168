package centers

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

// blobs returns perPoint points around each of the given 2-D centres
func blobs(seed int64, centres [][2]float64, perCentre int, spread float64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	data := mat.NewDense(len(centres)*perCentre, 2, nil)
	row := 0
	for _, c := range centres {
		for i := 0; i < perCentre; i++ {
			data.Set(row, 0, c[0]+spread*rng.NormFloat64())
			data.Set(row, 1, c[1]+spread*rng.NormFloat64())
			row++
		}
	}
	return data
}

func TestKMeansSeparatedBlobs(t *testing.T) {
	centres := [][2]float64{{0, 0}, {10, 10}, {-10, 10}}
	data := blobs(7, centres, 20, 0.1)

	cfg := DefaultKMeansConfig(3)
	cfg.Restarts = 5
	res, err := KMeans(data, cfg)
	require.NoError(t, err)
	require.True(t, res.Converged)

	// every blob maps to a single cluster and blobs map to distinct clusters
	seen := map[int]bool{}
	for b := range centres {
		label := res.Assignments[b*20]
		for i := 1; i < 20; i++ {
			assert.Equal(t, label, res.Assignments[b*20+i], "blob %d split", b)
		}
		assert.False(t, seen[label], "blobs share cluster %d", label)
		seen[label] = true
	}

	// each centroid sits on a true centre
	for _, c := range centres {
		found := false
		for j := 0; j < 3; j++ {
			dx := res.Centroids.At(j, 0) - c[0]
			dy := res.Centroids.At(j, 1) - c[1]
			if dx*dx+dy*dy < 0.1 {
				found = true
			}
		}
		assert.True(t, found, "no centroid near %v", c)
	}
	assert.Less(t, res.Inertia, 60*0.1)
}

func TestKMeansReproducible(t *testing.T) {
	data := blobs(3, [][2]float64{{0, 0}, {1, 1}, {2, 0}, {0, 2}}, 15, 0.6)

	cfg := DefaultKMeansConfig(4)
	cfg.Restarts = 8
	cfg.Seed = 42

	first, err := KMeans(data, cfg)
	require.NoError(t, err)

	t.Run("same seed", func(t *testing.T) {
		second, err := KMeans(data, cfg)
		require.NoError(t, err)
		assert.True(t, mat.Equal(first.Centroids, second.Centroids))
		assert.Equal(t, first.Assignments, second.Assignments)
		assert.Equal(t, first.Restart, second.Restart)
	})

	t.Run("worker count does not matter", func(t *testing.T) {
		parallel := cfg
		parallel.NumWorkers = 4
		second, err := KMeans(data, parallel)
		require.NoError(t, err)
		assert.True(t, mat.Equal(first.Centroids, second.Centroids))
		assert.Equal(t, first.Restart, second.Restart)
		assert.Equal(t, first.Inertia, second.Inertia)
	})
}

func TestKMeansErrors(t *testing.T) {
	data := mat.NewDense(3, 2, []float64{0, 0, 1, 1, 2, 2})

	_, err := KMeans(data, DefaultKMeansConfig(0))
	assert.True(t, errors.Is(err, models.ErrConfiguration))

	_, err = KMeans(data, DefaultKMeansConfig(4))
	assert.True(t, errors.Is(err, models.ErrConfiguration))

	t.Run("non-convergent result is still returned", func(t *testing.T) {
		cfg := DefaultKMeansConfig(2)
		cfg.MaxIterations = 1
		cfg.Restarts = 1
		big := blobs(1, [][2]float64{{0, 0}, {3, 3}}, 10, 1)
		res, err := KMeans(big, cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrNonConvergentClustering))
		require.NotNil(t, res)
		assert.False(t, res.Converged)
		r, c := res.Centroids.Dims()
		assert.Equal(t, 2, r)
		assert.Equal(t, 2, c)
	})

	t.Run("duplicate points", func(t *testing.T) {
		dup := mat.NewDense(4, 1, []float64{1, 1, 1, 1})
		res, err := KMeans(dup, DefaultKMeansConfig(2))
		require.NoError(t, err)
		assert.Equal(t, 0.0, res.Inertia)
	})
}

type sgd struct{ lr float64 }

func (s sgd) Update(param, grad *mat.Dense) {
	var step mat.Dense
	step.Scale(s.lr, grad)
	param.Sub(param, &step)
}

func TestCentersLifecycle(t *testing.T) {
	c, err := New(2, 2, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, Uninitialized, c.State())

	_, err = c.Matrix()
	assert.True(t, errors.Is(err, models.ErrConfiguration))

	err = c.Step(mat.NewDense(2, 2, nil), sgd{0.1})
	assert.True(t, errors.Is(err, models.ErrConfiguration))

	z := blobs(5, [][2]float64{{0, 0}, {5, 5}}, 10, 0.1)
	cfg := DefaultKMeansConfig(2)
	cfg.Restarts = 3

	applied, err := c.InitializeOnce(z, cfg)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, Initialized, c.State())
	require.NotNil(t, c.LastKMeans())

	initial, err := c.Matrix()
	require.NoError(t, err)
	snapshot := mat.DenseCopyOf(initial)

	t.Run("second initialization is ignored", func(t *testing.T) {
		other := blobs(9, [][2]float64{{100, 100}, {-100, -100}}, 10, 0.1)
		applied, err := c.InitializeOnce(other, cfg)
		require.NoError(t, err)
		assert.False(t, applied)
		m, _ := c.Matrix()
		assert.True(t, mat.Equal(snapshot, m))
	})

	t.Run("step trains", func(t *testing.T) {
		grad := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
		require.NoError(t, c.Step(grad, sgd{0.5}))
		assert.Equal(t, Trained, c.State())
		m, _ := c.Matrix()
		assert.InDelta(t, snapshot.At(0, 0)-0.5, m.At(0, 0), 1e-12)

		applied, err := c.InitializeOnce(z, cfg)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, Trained, c.State())
	})

	t.Run("shape checks", func(t *testing.T) {
		err := c.Step(mat.NewDense(3, 2, nil), sgd{0.1})
		assert.True(t, errors.Is(err, models.ErrShapeMismatch))
		err = c.Load(mat.NewDense(2, 3, nil))
		assert.True(t, errors.Is(err, models.ErrShapeMismatch))
	})
}

func TestCentersWidthMismatch(t *testing.T) {
	c, err := New(2, 3, zerolog.Nop())
	require.NoError(t, err)
	_, err = c.InitializeOnce(mat.NewDense(4, 2, nil), DefaultKMeansConfig(2))
	assert.True(t, errors.Is(err, models.ErrShapeMismatch))
	assert.Equal(t, Uninitialized, c.State())

	_, err = New(0, 3, zerolog.Nop())
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}
