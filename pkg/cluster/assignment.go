// Package cluster implements the soft-clustering regularizer: Student's-t soft
// assignment of node embeddings to cluster centers, the sharpened target
// distribution and the KL divergence between the two.
package cluster

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

// DefaultDOF is the Student's-t degrees of freedom used by the regularizer
const DefaultDOF = 1.0

// SoftAssign returns q (N×C) with q[n][c] proportional to
// (1 + ||z_n - centers_c||²/dof)^(-(dof+1)/2). Every row with a positive sum
// is normalized to 1; an all-zero row is left as is.
func SoftAssign(z, centers mat.Matrix, dof float64) (*mat.Dense, error) {
	q, _, err := softAssign(z, centers, dof)
	return q, err
}

// softAssign also returns the inverse kernel terms (1 + d/dof)^-1 reused by the gradients
func softAssign(z, centers mat.Matrix, dof float64) (*mat.Dense, *mat.Dense, error) {
	if dof <= 0 {
		return nil, nil, errors.Wrapf(models.ErrConfiguration, "degrees of freedom must be positive, got %g", dof)
	}
	n, d := z.Dims()
	c, dc := centers.Dims()
	if d != dc {
		return nil, nil, errors.Wrapf(models.ErrShapeMismatch,
			"embeddings have %d columns but centers have %d", d, dc)
	}
	if n == 0 || c == 0 {
		return nil, nil, errors.Wrapf(models.ErrShapeMismatch,
			"empty input: %d embeddings, %d centers", n, c)
	}

	dist := SquaredDistances(z, centers)
	q := mat.NewDense(n, c, nil)
	inv := mat.NewDense(n, c, nil)
	exponent := (dof + 1) / 2

	for i := 0; i < n; i++ {
		qRow := q.RawRowView(i)
		invRow := inv.RawRowView(i)
		distRow := dist.RawRowView(i)
		for j := range qRow {
			k := 1 / (1 + distRow[j]/dof)
			invRow[j] = k
			if exponent == 1 {
				qRow[j] = k
			} else {
				qRow[j] = math.Pow(k, exponent)
			}
		}
		if sum := floats.Sum(qRow); sum > 0 {
			floats.Scale(1/sum, qRow)
		}
	}
	return q, inv, nil
}

// SquaredDistances returns the N×C matrix of squared Euclidean distances
// between rows of a and rows of b, computed as ||a||² + ||b||² - 2·a·b.
func SquaredDistances(a, b mat.Matrix) *mat.Dense {
	n, _ := a.Dims()
	c, _ := b.Dims()

	aNorms := rowSquaredNorms(a)
	bNorms := rowSquaredNorms(b)

	dist := mat.NewDense(n, c, nil)
	dist.Mul(a, b.T())
	for i := 0; i < n; i++ {
		row := dist.RawRowView(i)
		for j := range row {
			v := aNorms[i] + bNorms[j] - 2*row[j]
			if v < 0 {
				v = 0 // rounding
			}
			row[j] = v
		}
	}
	return dist
}

func rowSquaredNorms(m mat.Matrix) []float64 {
	r, _ := m.Dims()
	norms := make([]float64, r)
	for i := 0; i < r; i++ {
		row := mat.Row(nil, i, m)
		norms[i] = floats.Dot(row, row)
	}
	return norms
}
