package cluster

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

func randomMatrix(rng *rand.Rand, r, c int) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(r, c, data)
}

func assertRowsSumToOne(t *testing.T, m *mat.Dense, tol float64) {
	t.Helper()
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		assert.InDelta(t, 1.0, floats.Sum(m.RawRowView(i)), tol, "row %d", i)
	}
}

func TestSoftAssign(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	t.Run("RowsAreStochastic", func(t *testing.T) {
		z := randomMatrix(rng, 40, 5)
		centers := randomMatrix(rng, 6, 5)
		q, err := SoftAssign(z, centers, DefaultDOF)
		require.NoError(t, err)

		r, c := q.Dims()
		assert.Equal(t, 40, r)
		assert.Equal(t, 6, c)
		assertRowsSumToOne(t, q, 1e-5)
	})

	t.Run("KnownValues", func(t *testing.T) {
		// distances 0 and 1 give raw affinities 1 and 1/2
		z := mat.NewDense(1, 1, []float64{0})
		centers := mat.NewDense(2, 1, []float64{0, 1})
		q, err := SoftAssign(z, centers, DefaultDOF)
		require.NoError(t, err)
		assert.InDelta(t, 2.0/3.0, q.At(0, 0), 1e-12)
		assert.InDelta(t, 1.0/3.0, q.At(0, 1), 1e-12)
	})

	t.Run("CoincidentNodeStaysFinite", func(t *testing.T) {
		z := mat.NewDense(1, 2, []float64{3, 4})
		centers := mat.NewDense(2, 2, []float64{3, 4, 100, 100})
		q, err := SoftAssign(z, centers, DefaultDOF)
		require.NoError(t, err)
		assert.False(t, math.IsNaN(q.At(0, 0)))
		assert.Greater(t, q.At(0, 0), 0.99)
		assertRowsSumToOne(t, q, 1e-12)
	})

	t.Run("ShapeMismatch", func(t *testing.T) {
		_, err := SoftAssign(mat.NewDense(2, 3, nil), mat.NewDense(2, 4, nil), DefaultDOF)
		assert.True(t, errors.Is(err, models.ErrShapeMismatch))
	})

	t.Run("InvalidDOF", func(t *testing.T) {
		_, err := SoftAssign(mat.NewDense(2, 3, nil), mat.NewDense(2, 3, nil), 0)
		assert.True(t, errors.Is(err, models.ErrConfiguration))
	})
}

func TestTargetDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	q, err := SoftAssign(randomMatrix(rng, 30, 4), randomMatrix(rng, 5, 4), DefaultDOF)
	require.NoError(t, err)

	p := TargetDistribution(q)
	assertRowsSumToOne(t, p, 1e-5)

	t.Run("SharpensDominantComponent", func(t *testing.T) {
		q := mat.NewDense(2, 2, []float64{
			0.8, 0.2,
			0.2, 0.8,
		})
		p := TargetDistribution(q)
		// balanced popularity, so sharpening is q²/rowSum(q²)
		assert.InDelta(t, 0.64/0.68, p.At(0, 0), 1e-12)
		assert.Greater(t, p.At(0, 0), q.At(0, 0))
		assert.Greater(t, p.At(1, 1), q.At(1, 1))
	})

	t.Run("EmptyColumnIsGuarded", func(t *testing.T) {
		q := mat.NewDense(2, 2, []float64{
			1, 0,
			1, 0,
		})
		p := TargetDistribution(q)
		assert.Equal(t, 0.0, p.At(0, 1))
		assert.Equal(t, 1.0, p.At(0, 0))
	})
}

func TestKLDivergence(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	q, err := SoftAssign(randomMatrix(rng, 25, 3), randomMatrix(rng, 4, 3), DefaultDOF)
	require.NoError(t, err)
	p := TargetDistribution(q)

	for _, r := range []Reduction{ReductionMean, ReductionBatchMean, ReductionSum} {
		t.Run(r.String(), func(t *testing.T) {
			kl, err := KLDivergence(p, q, r)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, kl, 0.0)

			self, err := KLDivergence(q, q, r)
			require.NoError(t, err)
			assert.InDelta(t, 0.0, self, 1e-15)
		})
	}

	t.Run("MeanIsSumOverEntries", func(t *testing.T) {
		sum, _ := KLDivergence(p, q, ReductionSum)
		mean, _ := KLDivergence(p, q, ReductionMean)
		batch, _ := KLDivergence(p, q, ReductionBatchMean)
		assert.InDelta(t, sum/(25*4), mean, 1e-12)
		assert.InDelta(t, sum/25, batch, 1e-12)
	})

	t.Run("ShapeMismatch", func(t *testing.T) {
		_, err := KLDivergence(mat.NewDense(2, 2, nil), mat.NewDense(3, 2, nil), ReductionMean)
		assert.True(t, errors.Is(err, models.ErrShapeMismatch))
	})
}

func TestParseReduction(t *testing.T) {
	r, err := ParseReduction("batchmean")
	require.NoError(t, err)
	assert.Equal(t, ReductionBatchMean, r)

	r, err = ParseReduction("")
	require.NoError(t, err)
	assert.Equal(t, ReductionMean, r)

	_, err = ParseReduction("median")
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}

func TestEvaluate(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	z := randomMatrix(rng, 12, 3)
	centers := randomMatrix(rng, 4, 3)

	t.Run("ReturnsAssignment", func(t *testing.T) {
		res, err := Evaluate(z, centers, DefaultOptions())
		require.NoError(t, err)
		assert.True(t, res.TargetDetached)
		assert.GreaterOrEqual(t, res.Loss, 0.0)
		assert.Nil(t, res.GradZ)
		assertRowsSumToOne(t, res.Q, 1e-5)
		assertRowsSumToOne(t, res.P, 1e-5)
	})

	t.Run("AttachedTargetRejected", func(t *testing.T) {
		opts := DefaultOptions()
		opts.DetachTarget = false
		_, err := Evaluate(z, centers, opts)
		assert.True(t, errors.Is(err, models.ErrConfiguration))
	})
}

// lossWithFixedTarget evaluates KL(p || q(z, centers)) for a frozen p
func lossWithFixedTarget(t *testing.T, p, z, centers *mat.Dense, opts Options) float64 {
	t.Helper()
	q, err := SoftAssign(z, centers, opts.DOF)
	require.NoError(t, err)
	loss, err := KLDivergence(p, q, opts.Reduction)
	require.NoError(t, err)
	return loss
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	const h = 1e-6

	for _, tc := range []struct {
		name      string
		dof       float64
		reduction Reduction
	}{
		{"DOF1Mean", 1, ReductionMean},
		{"DOF1Sum", 1, ReductionSum},
		{"DOF3BatchMean", 3, ReductionBatchMean},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			z := randomMatrix(rng, 6, 3)
			centers := randomMatrix(rng, 3, 3)

			opts := Options{DOF: tc.dof, Reduction: tc.reduction, DetachTarget: true, WithGradients: true}
			res, err := Evaluate(z, centers, opts)
			require.NoError(t, err)
			p := res.P

			check := func(param, grad *mat.Dense) {
				r, c := param.Dims()
				for i := 0; i < r; i++ {
					for j := 0; j < c; j++ {
						orig := param.At(i, j)
						param.Set(i, j, orig+h)
						plus := lossWithFixedTarget(t, p, z, centers, opts)
						param.Set(i, j, orig-h)
						minus := lossWithFixedTarget(t, p, z, centers, opts)
						param.Set(i, j, orig)

						numeric := (plus - minus) / (2 * h)
						assert.InDelta(t, numeric, grad.At(i, j), 1e-6+1e-4*math.Abs(numeric),
							"entry (%d,%d)", i, j)
					}
				}
			}
			check(centers, res.GradCenters)
			check(z, res.GradZ)
		})
	}
}
