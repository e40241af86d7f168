package kernel

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

func pathGraph() *models.Graph {
	return &models.Graph{
		NumNodes:  3,
		Label:     1,
		Adjacency: [][]int{{1}, {0, 2}, {1}},
	}
}

func assertSymmetric(t *testing.T, m mat.Matrix, tol float64) {
	t.Helper()
	r, c := m.Dims()
	require.Equal(t, r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.InDelta(t, m.At(i, j), m.At(j, i), tol, "entry (%d,%d)", i, j)
		}
	}
}

func TestPoolView(t *testing.T) {
	graphs := []*models.Graph{{NumNodes: 3}, {NumNodes: 1}, {NumNodes: 4}}
	assert.Equal(t, []int{0, 3, 4, 8}, NodeOffsets(graphs))

	view, err := NewPoolView("train", graphs, mat.NewDense(10, 2, nil))
	require.NoError(t, err)
	assert.Equal(t, 8, view.NumNodes())

	prevEnd := 0
	for k := range graphs {
		start, end, err := view.Range(k)
		require.NoError(t, err)
		assert.Equal(t, prevEnd, start, "ranges must be contiguous")
		assert.Equal(t, graphs[k].NumNodes, end-start)
		prevEnd = end
	}

	_, _, err = view.Range(3)
	assert.True(t, errors.Is(err, models.ErrShapeMismatch))

	_, err = NewPoolView("short", graphs, mat.NewDense(7, 2, nil))
	assert.True(t, errors.Is(err, models.ErrShapeMismatch))
}

func TestDenseAdjacency(t *testing.T) {
	a, err := DenseAdjacency(3, pathGraph().Adjacency)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a, mat.NewDense(3, 3, []float64{0, 1, 0, 1, 0, 1, 0, 1, 0})))

	_, err = DenseAdjacency(2, [][]int{{2}, {}})
	assert.True(t, errors.Is(err, models.ErrShapeMismatch))

	_, err = DenseAdjacency(0, nil)
	assert.True(t, errors.Is(err, models.ErrDegenerateAdjacency))
}

func TestBuildKernel(t *testing.T) {
	opts := DefaultOptions()

	t.Run("single edge", func(t *testing.T) {
		k, err := BuildKernel(mat.NewDense(2, 2, []float64{0, 1, 1, 0}), opts)
		require.NoError(t, err)
		assert.False(t, k.Degenerate)
		assert.InDelta(t, 0, k.Matrix.At(0, 0), 1e-12)
		assert.InDelta(t, 1, k.Matrix.At(0, 1), 1e-12)
		assert.InDelta(t, 1, k.Matrix.At(1, 0), 1e-12)
	})

	t.Run("regular graph gives A over degree", func(t *testing.T) {
		tri := mat.NewDense(3, 3, []float64{0, 1, 1, 1, 0, 1, 1, 1, 0})
		k, err := BuildKernel(tri, opts)
		require.NoError(t, err)
		var want mat.Dense
		want.Scale(0.5, tri)
		assert.True(t, mat.EqualApprox(&want, k.Matrix, 1e-12))
	})

	t.Run("path is symmetric and independent of epsilon", func(t *testing.T) {
		a, err := DenseAdjacency(3, pathGraph().Adjacency)
		require.NoError(t, err)
		k, err := BuildKernel(a, opts)
		require.NoError(t, err)
		assertSymmetric(t, k.Matrix, 1e-12)
		assert.InDelta(t, 1/math.Sqrt2, k.Matrix.At(0, 1), 1e-12)
		assert.InDelta(t, 1/math.Sqrt2, k.Matrix.At(1, 2), 1e-12)
		assert.InDelta(t, 0, k.Matrix.At(0, 2), 1e-12)

		wide, err := BuildKernel(a, Options{Epsilon: 0.5, Mode: ModeSymmetric})
		require.NoError(t, err)
		assert.True(t, mat.EqualApprox(k.Matrix, wide.Matrix, 1e-12))
	})

	t.Run("isolated node keeps zero row", func(t *testing.T) {
		a := mat.NewDense(3, 3, []float64{0, 1, 0, 1, 0, 0, 0, 0, 0})
		k, err := BuildKernel(a, opts)
		require.NoError(t, err)
		for j := 0; j < 3; j++ {
			assert.Equal(t, 0.0, k.Matrix.At(2, j))
		}
	})

	t.Run("edgeless graph falls back to identity", func(t *testing.T) {
		k, err := BuildKernel(mat.NewDense(1, 1, nil), opts)
		require.NoError(t, err)
		assert.True(t, k.Degenerate)
		assert.Equal(t, 1.0, k.Matrix.At(0, 0))
	})

	t.Run("historical mode scales columns", func(t *testing.T) {
		star := mat.NewDense(3, 3, []float64{0, 1, 1, 1, 0, 0, 1, 0, 0})
		k, err := BuildKernel(star, Options{Epsilon: DefaultEpsilon, Mode: ModeHistorical})
		require.NoError(t, err)
		assert.Greater(t, math.Abs(k.Matrix.At(0, 1)-k.Matrix.At(1, 0)), 1e-6)

		sym, err := BuildKernel(star, opts)
		require.NoError(t, err)
		assertSymmetric(t, sym.Matrix, 1e-12)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := BuildKernel(mat.NewDense(2, 3, nil), opts)
		assert.True(t, errors.Is(err, models.ErrShapeMismatch))
		_, err = BuildKernel(mat.NewDense(2, 2, nil), Options{Epsilon: 0})
		assert.True(t, errors.Is(err, models.ErrConfiguration))
	})
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Historical")
	require.NoError(t, err)
	assert.Equal(t, ModeHistorical, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeSymmetric, m)
	_, err = ParseMode("spectral")
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}

func TestAggregatePath(t *testing.T) {
	// a one-node graph in front shifts the path to rows [1, 4)
	graphs := []*models.Graph{{NumNodes: 1, Adjacency: [][]int{{}}}, pathGraph()}
	pool := mat.NewDense(4, 2, []float64{9, 9, 1, 2, 3, 4, 5, 6})
	view, err := NewPoolView("train", graphs, pool)
	require.NoError(t, err)

	q := mat.NewDense(4, 2, []float64{
		0.3, 0.7,
		1, 0,
		0, 1,
		0.5, 0.5,
	})
	stats, err := Aggregate(view, 1, q, DefaultOptions())
	require.NoError(t, err)

	a := 1 / math.Sqrt2
	want := mat.NewDense(2, 2, []float64{0, 1.5 * a, 1.5 * a, a})
	assert.True(t, mat.EqualApprox(want, stats.QKQ, 1e-12), "qkq = %v", mat.Formatted(stats.QKQ))

	assertSymmetric(t, stats.QKQ2, 1e-12)
	assertSymmetric(t, stats.QKQ3, 1e-12)
	assert.InDeltaSlice(t, []float64{1.5, 1.5}, stats.Bin11, 1e-12)
	assert.Equal(t, []float64{2, 1}, stats.Bin)
	assert.Equal(t, 3, stats.NumNodes())
	assert.Equal(t, 1, stats.Label)
	assert.False(t, stats.Degenerate)
	assert.Equal(t, 1.0, stats.NodeFeatures.At(0, 0))

	t.Run("deterministic", func(t *testing.T) {
		again, err := Aggregate(view, 1, q, DefaultOptions())
		require.NoError(t, err)
		assert.True(t, mat.Equal(stats.QKQ, again.QKQ))
	})

	t.Run("single node graph uses identity", func(t *testing.T) {
		single, err := Aggregate(view, 0, q, DefaultOptions())
		require.NoError(t, err)
		assert.True(t, single.Degenerate)
		assert.InDelta(t, 0.09, single.QKQ.At(0, 0), 1e-12)
		assert.InDelta(t, 0.21, single.QKQ.At(0, 1), 1e-12)
	})

	t.Run("short assignments", func(t *testing.T) {
		_, err := Aggregate(view, 1, mat.NewDense(3, 2, nil), DefaultOptions())
		assert.True(t, errors.Is(err, models.ErrShapeMismatch))
	})
}

func TestAggregateEmptyGraph(t *testing.T) {
	graphs := []*models.Graph{{NumNodes: 0}}
	view, err := NewPoolView("test", graphs, nil)
	require.NoError(t, err)
	_, err = Aggregate(view, 0, mat.NewDense(1, 2, nil), DefaultOptions())
	assert.True(t, errors.Is(err, models.ErrDegenerateAdjacency))
}
