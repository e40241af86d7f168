package model

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/kernel"
	"github.com/gilchrisn/slim-clustering/pkg/models"
)

// Updater applies one optimizer step to a parameter in place
type Updater interface {
	Update(param, grad *mat.Dense)
}

// HeadInput is one graph presented to a head
type HeadInput struct {
	Stats *kernel.GraphStats
}

// HeadOutput is the head's answer for one graph
type HeadOutput struct {
	Features []float64 // graph feature vector the head consumed
	Scores   []float64 // class probabilities, or the single regression value
	Loss     float64

	Prediction float64 // class index or regression value
	Correct    bool    // classification only
	AbsError   float64 // regression only
}

// Head is a graph-level predictor trained from accumulated gradients.
// Backward adds one graph's gradient; Step averages over batchSize, applies it and clears it.
type Head interface {
	Forward(in HeadInput) (HeadOutput, error)
	Backward(in HeadInput, out HeadOutput) error
	Step(batchSize int)
	FeatureDim() int
	Regression() bool
}

// FeatureDim is the length of Features for node width f and c centers
func FeatureDim(f, c int) int {
	return f + 2*c + 3*c*c
}

// Features flattens graph statistics into the head's input vector: mean node
// features, normalized bin11 and bin, then qkq, qkq2 and qkq3 divided by node count.
func Features(s *kernel.GraphStats) []float64 {
	n := float64(s.NumNodes())
	c := len(s.Bin11)
	f := 0
	if s.NodeFeatures != nil {
		_, f = s.NodeFeatures.Dims()
	}
	out := make([]float64, 0, FeatureDim(f, c))

	if f > 0 {
		mean := make([]float64, f)
		rows, _ := s.NodeFeatures.Dims()
		for i := 0; i < rows; i++ {
			floats.Add(mean, s.NodeFeatures.RawRowView(i))
		}
		floats.Scale(1/n, mean)
		out = append(out, mean...)
	}
	for _, v := range s.Bin11 {
		out = append(out, v/n)
	}
	for _, v := range s.Bin {
		out = append(out, v/n)
	}
	for _, m := range []*mat.Dense{s.QKQ, s.QKQ2, s.QKQ3} {
		for i := 0; i < c; i++ {
			for j := 0; j < c; j++ {
				out = append(out, m.At(i, j)/n)
			}
		}
	}
	return out
}

// linear is the shared affine layer of both heads
type linear struct {
	w, b   *mat.Dense // dim×out, 1×out
	gw, gb *mat.Dense
	opt    Updater
	dim    int
	count  int
}

func newLinear(dim, out int, rng *rand.Rand, opt Updater) *linear {
	// xavier uniform
	limit := math.Sqrt(6 / float64(dim+out))
	data := make([]float64, dim*out)
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * limit
	}
	return &linear{
		w:   mat.NewDense(dim, out, data),
		b:   mat.NewDense(1, out, nil),
		gw:  mat.NewDense(dim, out, nil),
		gb:  mat.NewDense(1, out, nil),
		opt: opt,
		dim: dim,
	}
}

func (l *linear) forward(x []float64) ([]float64, error) {
	if len(x) != l.dim {
		return nil, errors.Wrapf(models.ErrShapeMismatch, "head expects %d features, got %d", l.dim, len(x))
	}
	_, out := l.w.Dims()
	y := make([]float64, out)
	for k := 0; k < out; k++ {
		y[k] = l.b.At(0, k) + floats.Dot(x, mat.Col(nil, k, l.w))
	}
	return y, nil
}

// accumulate adds the gradient for input x and output gradient dy
func (l *linear) accumulate(x, dy []float64) {
	for i, xv := range x {
		if xv == 0 {
			continue
		}
		row := l.gw.RawRowView(i)
		floats.AddScaled(row, xv, dy)
	}
	floats.Add(l.gb.RawRowView(0), dy)
	l.count++
}

func (l *linear) step(batchSize int) {
	if l.count == 0 {
		return
	}
	if batchSize <= 0 {
		batchSize = l.count
	}
	l.gw.Scale(1/float64(batchSize), l.gw)
	l.gb.Scale(1/float64(batchSize), l.gb)
	l.opt.Update(l.w, l.gw)
	l.opt.Update(l.b, l.gb)
	l.gw.Zero()
	l.gb.Zero()
	l.count = 0
}

// SoftmaxHead is a linear classifier trained with cross-entropy
type SoftmaxHead struct {
	lin        *linear
	numClasses int
}

// NewSoftmaxHead creates a classifier over dim features
func NewSoftmaxHead(dim, numClasses int, seed int64, opt Updater) (*SoftmaxHead, error) {
	if dim <= 0 || numClasses < 2 {
		return nil, errors.Wrapf(models.ErrConfiguration, "softmax head needs dim > 0 and >= 2 classes, got %d and %d", dim, numClasses)
	}
	return &SoftmaxHead{
		lin:        newLinear(dim, numClasses, rand.New(rand.NewSource(seed)), opt),
		numClasses: numClasses,
	}, nil
}

func (h *SoftmaxHead) FeatureDim() int  { return h.lin.dim }
func (h *SoftmaxHead) Regression() bool { return false }

// Forward returns class probabilities and the cross-entropy of the true label
func (h *SoftmaxHead) Forward(in HeadInput) (HeadOutput, error) {
	x := Features(in.Stats)
	logits, err := h.lin.forward(x)
	if err != nil {
		return HeadOutput{}, err
	}
	label := in.Stats.Label
	if label < 0 || label >= h.numClasses {
		return HeadOutput{}, errors.Wrapf(models.ErrShapeMismatch, "label %d outside %d classes", label, h.numClasses)
	}

	probs := softmax(logits)
	pred := floats.MaxIdx(probs)
	return HeadOutput{
		Features:   x,
		Scores:     probs,
		Loss:       -math.Log(math.Max(probs[label], 1e-12)),
		Prediction: float64(pred),
		Correct:    pred == label,
	}, nil
}

// Backward accumulates ∂CE/∂logits = probs - onehot(label)
func (h *SoftmaxHead) Backward(in HeadInput, out HeadOutput) error {
	if len(out.Scores) != h.numClasses {
		return errors.Wrapf(models.ErrShapeMismatch, "output has %d scores, expected %d", len(out.Scores), h.numClasses)
	}
	dy := make([]float64, h.numClasses)
	copy(dy, out.Scores)
	dy[in.Stats.Label] -= 1
	h.lin.accumulate(out.Features, dy)
	return nil
}

func (h *SoftmaxHead) Step(batchSize int) { h.lin.step(batchSize) }

// RegressionHead is a linear regressor trained with squared error
type RegressionHead struct {
	lin *linear
}

// NewRegressionHead creates a regressor over dim features
func NewRegressionHead(dim int, seed int64, opt Updater) (*RegressionHead, error) {
	if dim <= 0 {
		return nil, errors.Wrapf(models.ErrConfiguration, "regression head needs dim > 0, got %d", dim)
	}
	return &RegressionHead{lin: newLinear(dim, 1, rand.New(rand.NewSource(seed)), opt)}, nil
}

func (h *RegressionHead) FeatureDim() int  { return h.lin.dim }
func (h *RegressionHead) Regression() bool { return true }

// Forward returns the prediction and its squared error against Target
func (h *RegressionHead) Forward(in HeadInput) (HeadOutput, error) {
	x := Features(in.Stats)
	y, err := h.lin.forward(x)
	if err != nil {
		return HeadOutput{}, err
	}
	diff := y[0] - in.Stats.Target
	return HeadOutput{
		Features:   x,
		Scores:     y,
		Loss:       diff * diff,
		Prediction: y[0],
		AbsError:   math.Abs(diff),
	}, nil
}

// Backward accumulates ∂MSE/∂y = 2(y - target)
func (h *RegressionHead) Backward(in HeadInput, out HeadOutput) error {
	if len(out.Scores) != 1 {
		return errors.Wrapf(models.ErrShapeMismatch, "regression output has %d values", len(out.Scores))
	}
	h.lin.accumulate(out.Features, []float64{2 * (out.Scores[0] - in.Stats.Target)})
	return nil
}

func (h *RegressionHead) Step(batchSize int) { h.lin.step(batchSize) }

func softmax(logits []float64) []float64 {
	maxv := floats.Max(logits)
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - maxv)
		sum += out[i]
	}
	floats.Scale(1/sum, out)
	return out
}
