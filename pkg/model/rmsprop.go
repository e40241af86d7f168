package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// RMSProp keeps a running mean of squared gradients per parameter matrix.
// Each parameter group gets its own instance so learning rates can differ.
type RMSProp struct {
	LearningRate float64
	Alpha        float64
	Epsilon      float64

	squareAvg map[*mat.Dense]*mat.Dense
}

// NewRMSProp returns an optimizer with the usual smoothing constants
func NewRMSProp(lr float64) *RMSProp {
	return &RMSProp{
		LearningRate: lr,
		Alpha:        0.99,
		Epsilon:      1e-8,
		squareAvg:    make(map[*mat.Dense]*mat.Dense),
	}
}

// Update applies param -= lr · grad / (sqrt(v) + eps) with v = α·v + (1-α)·grad²
func (o *RMSProp) Update(param, grad *mat.Dense) {
	v, ok := o.squareAvg[param]
	if !ok {
		r, c := param.Dims()
		v = mat.NewDense(r, c, nil)
		o.squareAvg[param] = v
	}
	r, c := param.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			g := grad.At(i, j)
			avg := o.Alpha*v.At(i, j) + (1-o.Alpha)*g*g
			v.Set(i, j, avg)
			param.Set(i, j, param.At(i, j)-o.LearningRate*g/(math.Sqrt(avg)+o.Epsilon))
		}
	}
}

// Reset drops the accumulated state
func (o *RMSProp) Reset() {
	o.squareAvg = make(map[*mat.Dense]*mat.Dense)
}
