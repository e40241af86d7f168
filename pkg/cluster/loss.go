package cluster

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

// Reduction selects how the elementwise KL terms are reduced to a scalar
type Reduction int

const (
	// ReductionMean averages over all N×C entries. This is the historical
	// default and understates the per-sample divergence by a factor of C.
	ReductionMean Reduction = iota
	// ReductionBatchMean sums and divides by N, the per-sample KL divergence.
	ReductionBatchMean
	// ReductionSum returns the plain sum.
	ReductionSum
)

func (r Reduction) String() string {
	switch r {
	case ReductionMean:
		return "mean"
	case ReductionBatchMean:
		return "batchmean"
	case ReductionSum:
		return "sum"
	default:
		return fmt.Sprintf("Reduction(%d)", int(r))
	}
}

// ParseReduction converts a config string into a Reduction
func ParseReduction(s string) (Reduction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mean", "":
		return ReductionMean, nil
	case "batchmean":
		return ReductionBatchMean, nil
	case "sum":
		return ReductionSum, nil
	}
	return 0, errors.Wrapf(models.ErrConfiguration, "unknown reduction %q", s)
}

func (r Reduction) scale(n, c int) float64 {
	switch r {
	case ReductionBatchMean:
		return 1 / float64(n)
	case ReductionSum:
		return 1
	default:
		return 1 / float64(n*c)
	}
}

// KLDivergence returns KL(p || q) = Σ p·(log p - log q) reduced by r.
// Entries with p == 0 contribute nothing.
func KLDivergence(p, q mat.Matrix, r Reduction) (float64, error) {
	n, c := p.Dims()
	qn, qc := q.Dims()
	if n != qn || c != qc {
		return 0, errors.Wrapf(models.ErrShapeMismatch, "p is %dx%d but q is %dx%d", n, c, qn, qc)
	}
	if n == 0 || c == 0 {
		return 0, nil
	}

	var sum float64
	for i := 0; i < n; i++ {
		for j := 0; j < c; j++ {
			pv := p.At(i, j)
			if pv <= 0 {
				continue
			}
			sum += pv * (math.Log(pv) - math.Log(q.At(i, j)))
		}
	}
	return sum * r.scale(n, c), nil
}

// Options controls a clustering-loss evaluation
type Options struct {
	DOF       float64
	Reduction Reduction

	// DetachTarget treats p as a constant reference during differentiation.
	// It is the only supported gradient boundary; false is rejected.
	DetachTarget bool

	// WithGradients fills Result.GradZ and Result.GradCenters.
	WithGradients bool
}

// DefaultOptions returns dof 1, mean reduction and a detached target
func DefaultOptions() Options {
	return Options{
		DOF:          DefaultDOF,
		Reduction:    ReductionMean,
		DetachTarget: true,
	}
}

// Result holds one evaluation of the clustering loss
type Result struct {
	Loss float64
	Q    *mat.Dense // soft assignment, reused downstream by the aggregation step
	P    *mat.Dense // target distribution

	GradZ       *mat.Dense // ∂Loss/∂z, N×D
	GradCenters *mat.Dense // ∂Loss/∂centers, C×D

	// TargetDetached reports whether gradients stop at p
	TargetDetached bool
}

// Evaluate computes q, its target p and KL(p || q) for embeddings z and centers.
func Evaluate(z, centers mat.Matrix, opts Options) (*Result, error) {
	if !opts.DetachTarget {
		return nil, errors.Wrap(models.ErrConfiguration,
			"differentiating through the target distribution is not supported")
	}

	q, inv, err := softAssign(z, centers, opts.DOF)
	if err != nil {
		return nil, errors.Wrap(err, "soft assignment failed")
	}
	p := TargetDistribution(q)

	loss, err := KLDivergence(p, q, opts.Reduction)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Loss:           loss,
		Q:              q,
		P:              p,
		TargetDetached: opts.DetachTarget,
	}
	if opts.WithGradients {
		res.GradZ, res.GradCenters = gradients(z, centers, p, q, inv, opts)
	}
	return res, nil
}

// gradients returns ∂L/∂z and ∂L/∂centers with p held fixed:
//
//	∂L/∂z_i = f · Σ_j k_ij (p_ij - q_ij)(z_i - μ_j)
//	∂L/∂μ_j = -f · Σ_i k_ij (p_ij - q_ij)(z_i - μ_j)
//
// where k_ij = (1 + d_ij/dof)^-1 and f = scale·(dof+1)/dof.
func gradients(z, centers mat.Matrix, p, q, inv *mat.Dense, opts Options) (*mat.Dense, *mat.Dense) {
	n, d := z.Dims()
	c, _ := centers.Dims()
	factor := opts.Reduction.scale(n, c) * (opts.DOF + 1) / opts.DOF

	coeff := mat.NewDense(n, c, nil)
	coeff.Sub(p, q)
	coeff.MulElem(coeff, inv)
	coeff.Scale(factor, coeff)

	// Σ_j coeff_ij (z_i - μ_j) = rowSum_i · z_i - (coeff·μ)_i
	gradZ := mat.NewDense(n, d, nil)
	gradZ.Mul(coeff, centers)
	gradZ.Scale(-1, gradZ)
	zRow := make([]float64, d)
	for i := 0; i < n; i++ {
		mat.Row(zRow, i, z)
		floats.AddScaled(gradZ.RawRowView(i), floats.Sum(coeff.RawRowView(i)), zRow)
	}

	// -Σ_i coeff_ij (z_i - μ_j) = colSum_j · μ_j - (coeffᵀ·z)_j
	gradC := mat.NewDense(c, d, nil)
	gradC.Mul(coeff.T(), z)
	gradC.Scale(-1, gradC)
	colSums := make([]float64, c)
	for i := 0; i < n; i++ {
		floats.Add(colSums, coeff.RawRowView(i))
	}
	muRow := make([]float64, d)
	for j := 0; j < c; j++ {
		mat.Row(muRow, j, centers)
		floats.AddScaled(gradC.RawRowView(j), colSums[j], muRow)
	}

	return gradZ, gradC
}
