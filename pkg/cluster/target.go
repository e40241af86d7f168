package cluster

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// TargetDistribution sharpens q into the self-training target p:
// weight = q²/colSum(q), p = weight/rowSum(weight).
// Columns with zero mass and rows with zero weight stay zero.
func TargetDistribution(q mat.Matrix) *mat.Dense {
	n, c := q.Dims()

	popularity := make([]float64, c)
	for i := 0; i < n; i++ {
		for j := 0; j < c; j++ {
			popularity[j] += q.At(i, j)
		}
	}

	p := mat.NewDense(n, c, nil)
	for i := 0; i < n; i++ {
		row := p.RawRowView(i)
		for j := range row {
			if popularity[j] > 0 {
				v := q.At(i, j)
				row[j] = v * v / popularity[j]
			}
		}
		if sum := floats.Sum(row); sum > 0 {
			floats.Scale(1/sum, row)
		}
	}
	return p
}
