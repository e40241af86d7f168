// Package model holds the trainable pieces around the clustering regularizer:
// the node projection z = relu(X·W), the graph-level heads and RMSprop.
package model

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

// Projection maps raw node features to embeddings with z = relu(X·W)
type Projection struct {
	W *mat.Dense // in × out
}

// NewProjection creates a projection with W initialized to the (rectangular) identity
func NewProjection(in, out int) (*Projection, error) {
	if in <= 0 || out <= 0 {
		return nil, errors.Wrapf(models.ErrConfiguration, "projection needs positive dims, got %dx%d", in, out)
	}
	w := mat.NewDense(in, out, nil)
	for i := 0; i < in && i < out; i++ {
		w.Set(i, i, 1)
	}
	return &Projection{W: w}, nil
}

// InDim returns the expected feature width
func (p *Projection) InDim() int {
	r, _ := p.W.Dims()
	return r
}

// OutDim returns the embedding width
func (p *Projection) OutDim() int {
	_, c := p.W.Dims()
	return c
}

// Forward returns relu(x·W)
func (p *Projection) Forward(x mat.Matrix) (*mat.Dense, error) {
	_, c := x.Dims()
	if c != p.InDim() {
		return nil, errors.Wrapf(models.ErrShapeMismatch, "features have width %d, projection expects %d", c, p.InDim())
	}
	var z mat.Dense
	z.Mul(x, p.W)
	z.Apply(func(_, _ int, v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}, &z)
	return &z, nil
}

// Backward returns ∂L/∂W = xᵀ(gradZ ⊙ 1[z > 0]) given the forward output z
func (p *Projection) Backward(x, z, gradZ mat.Matrix) (*mat.Dense, error) {
	zr, zc := z.Dims()
	gr, gc := gradZ.Dims()
	if zr != gr || zc != gc {
		return nil, errors.Wrapf(models.ErrShapeMismatch, "gradient is %dx%d but embeddings are %dx%d", gr, gc, zr, zc)
	}
	xr, _ := x.Dims()
	if xr != zr {
		return nil, errors.Wrapf(models.ErrShapeMismatch, "features have %d rows but embeddings have %d", xr, zr)
	}

	masked := mat.NewDense(gr, gc, nil)
	masked.Apply(func(i, j int, _ float64) float64 {
		if z.At(i, j) > 0 {
			return gradZ.At(i, j)
		}
		return 0
	}, masked)

	var grad mat.Dense
	grad.Mul(x.T(), masked)
	return &grad, nil
}
