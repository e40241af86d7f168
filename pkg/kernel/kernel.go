// Package kernel turns a graph's neighbor lists into a normalized adjacency
// kernel and aggregates soft cluster assignments through it.
package kernel

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

// DefaultEpsilon keeps the smoothing scale finite for isolated nodes
const DefaultEpsilon = 0.001

// Mode selects how the smoothing scale is applied to the adjacency
type Mode int

const (
	// ModeSymmetric scales A_ij by sqrt(w_i w_j) and keeps the kernel symmetric.
	ModeSymmetric Mode = iota
	// ModeHistorical scales column j by w_j. The result is not symmetric in general.
	ModeHistorical
)

func (m Mode) String() string {
	switch m {
	case ModeSymmetric:
		return "symmetric"
	case ModeHistorical:
		return "historical"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a config string into a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "symmetric", "":
		return ModeSymmetric, nil
	case "historical", "column":
		return ModeHistorical, nil
	}
	return 0, errors.Wrapf(models.ErrConfiguration, "unknown kernel mode %q", s)
}

// Options controls kernel construction
type Options struct {
	Epsilon float64
	Mode    Mode
}

// DefaultOptions returns the symmetric kernel with the standard epsilon
func DefaultOptions() Options {
	return Options{Epsilon: DefaultEpsilon, Mode: ModeSymmetric}
}

// Kernel is the normalized n×n adjacency of one graph
type Kernel struct {
	Matrix *mat.Dense
	// Degenerate is set when the graph has no edges and Matrix is the identity.
	Degenerate bool
}

// DenseAdjacency builds the 0/1 adjacency matrix of n nodes from neighbor lists
func DenseAdjacency(n int, adjacency [][]int) (*mat.Dense, error) {
	if n <= 0 {
		return nil, errors.Wrapf(models.ErrDegenerateAdjacency, "subgraph has %d nodes", n)
	}
	if len(adjacency) > n {
		return nil, errors.Wrapf(models.ErrShapeMismatch, "%d neighbor lists for %d nodes", len(adjacency), n)
	}
	a := mat.NewDense(n, n, nil)
	for i, neighbors := range adjacency {
		for _, j := range neighbors {
			if j < 0 || j >= n {
				return nil, errors.Wrapf(models.ErrShapeMismatch, "node %d has neighbor %d outside [0, %d)", i, j, n)
			}
			a.Set(i, j, 1)
		}
	}
	return a, nil
}

// BuildKernel computes kz = T·Â·T where Â is the scaled adjacency and
// T = diag(rowSum(Â))^(-1/2), with zero-degree rows mapped to 0.
func BuildKernel(a mat.Matrix, opts Options) (*Kernel, error) {
	n, m := a.Dims()
	if n != m {
		return nil, errors.Wrapf(models.ErrShapeMismatch, "adjacency is %dx%d, expected square", n, m)
	}
	if n == 0 {
		return nil, errors.Wrap(models.ErrDegenerateAdjacency, "empty adjacency")
	}
	if opts.Epsilon <= 0 {
		return nil, errors.Wrapf(models.ErrConfiguration, "kernel epsilon must be positive, got %g", opts.Epsilon)
	}

	// smoothing scale from row L2 norms
	w := make([]float64, n)
	edges := false
	for i := 0; i < n; i++ {
		var sq float64
		for j := 0; j < n; j++ {
			v := a.At(i, j)
			sq += v * v
			if v != 0 {
				edges = true
			}
		}
		w[i] = 1 / math.Sqrt(math.Sqrt(sq)+opts.Epsilon)
	}
	if !edges {
		id := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			id.Set(i, i, 1)
		}
		return &Kernel{Matrix: id, Degenerate: true}, nil
	}

	scaled := mat.NewDense(n, n, nil)
	scaled.Apply(func(i, j int, v float64) float64 {
		if v == 0 {
			return 0
		}
		if opts.Mode == ModeHistorical {
			return v * w[j]
		}
		return v * math.Sqrt(w[i]*w[j])
	}, a)

	t := make([]float64, n)
	for i := 0; i < n; i++ {
		d := mat.Sum(scaled.RowView(i))
		if d > 0 {
			t[i] = 1 / math.Sqrt(d)
		}
	}

	kz := mat.NewDense(n, n, nil)
	kz.Apply(func(i, j int, v float64) float64 {
		return t[i] * v * t[j]
	}, scaled)
	return &Kernel{Matrix: kz}, nil
}

// GraphKernel builds the kernel of a stored graph
func GraphKernel(g *models.Graph, opts Options) (*Kernel, error) {
	a, err := DenseAdjacency(g.NumNodes, g.Adjacency)
	if err != nil {
		return nil, err
	}
	return BuildKernel(a, opts)
}
