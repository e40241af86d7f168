package train

import (
	"math"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/gilchrisn/slim-clustering/pkg/kernel"
	"github.com/gilchrisn/slim-clustering/pkg/model"
)

// Metrics summarizes one phase of one epoch
type Metrics struct {
	Loss        float64 `json:"loss" yaml:"loss"`
	ClusterLoss float64 `json:"cluster_loss" yaml:"cluster_loss"`
	HeadLoss    float64 `json:"head_loss" yaml:"head_loss"`
	Accuracy    float64 `json:"accuracy" yaml:"accuracy"`
	MAE         float64 `json:"mae,omitempty" yaml:"mae,omitempty"`
	AUC         float64 `json:"auc" yaml:"auc"`
	Samples     int     `json:"samples" yaml:"samples"`
}

// accumulator gathers per-graph results across the batches of an epoch
type accumulator struct {
	lossSum     float64 // Σ batch loss × batch size
	headLossSum float64
	correct     int
	absErrSum   float64
	samples     int

	scores []float64 // positive-class probability, binary classification only
	labels []bool
}

func (a *accumulator) addBatch(loss, headLoss float64, size int) {
	a.lossSum += loss * float64(size)
	a.headLossSum += headLoss * float64(size)
	a.samples += size
}

func (a *accumulator) metrics(clusterLoss float64, withAUC bool) Metrics {
	m := Metrics{ClusterLoss: clusterLoss, Samples: a.samples}
	if a.samples == 0 {
		return m
	}
	n := float64(a.samples)
	m.Loss = a.lossSum / n
	m.HeadLoss = a.headLossSum / n
	m.Accuracy = float64(a.correct) / n
	m.MAE = a.absErrSum / n
	if withAUC {
		if auc, ok := AUC(a.scores, a.labels); ok {
			m.AUC = auc
		}
	}
	return m
}

// AUC returns the area under the ROC curve of scores against labels.
// It reports false when either class is absent.
func AUC(scores []float64, labels []bool) (float64, bool) {
	if len(scores) != len(labels) || len(scores) == 0 {
		return 0, false
	}
	pos := 0
	for _, l := range labels {
		if l {
			pos++
		}
	}
	if pos == 0 || pos == len(labels) {
		return 0, false
	}

	y := make([]float64, len(scores))
	classes := make([]bool, len(labels))
	copy(y, scores)
	copy(classes, labels)
	stat.SortWeightedLabeled(y, classes, nil)

	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	auc := integrate.Trapezoidal(fpr, tpr)
	if math.IsNaN(auc) {
		return 0, false
	}
	return auc, true
}

func (a *accumulator) record(stats *kernel.GraphStats, out model.HeadOutput) {
	if out.Correct {
		a.correct++
	}
	a.absErrSum += out.AbsError
	if len(out.Scores) == 2 {
		a.scores = append(a.scores, out.Scores[1])
		a.labels = append(a.labels, stats.Label == 1)
	}
}
