package kernel

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

// GraphStats are the assignment statistics of one graph, fed to the head
type GraphStats struct {
	Index int // position of the graph in its view

	Bin   []float64  // hard-assignment histogram over centers
	QKQ   *mat.Dense // q_subᵀ kz q_sub, C×C
	QKQ2  *mat.Dense // q_subᵀ kz² q_sub
	QKQ3  *mat.Dense // q_subᵀ kz³ q_sub
	QSub  *mat.Dense // q rows of the graph, n×C
	Bin11 []float64  // column sums of QSub

	Label  int
	Target float64

	NodeFeatures *mat.Dense // pool rows of the graph, n×F
	Degenerate   bool       // kernel fell back to the identity
}

// NumNodes returns the node count of the graph behind the stats
func (s *GraphStats) NumNodes() int {
	n, _ := s.QSub.Dims()
	return n
}

// Aggregate computes the statistics of graph k of the view. q holds soft
// assignments with rows aligned to the view's pool.
func Aggregate(view *PoolView, k int, q mat.Matrix, opts Options) (*GraphStats, error) {
	start, end, err := view.Range(k)
	if err != nil {
		return nil, err
	}
	g := view.Graphs[k]
	if end == start {
		return nil, errors.Wrapf(models.ErrDegenerateAdjacency, "graph %d of view %q has no nodes", k, view.ListID)
	}

	qRows, c := q.Dims()
	if qRows < end {
		return nil, errors.Wrapf(models.ErrShapeMismatch,
			"assignments have %d rows, graph %d of view %q needs rows [%d, %d)", qRows, k, view.ListID, start, end)
	}

	kern, err := GraphKernel(g, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "graph %d of view %q", k, view.ListID)
	}

	qSub := sliceRows(q, start, end)
	stats := &GraphStats{
		Index:      k,
		QSub:       qSub,
		Bin:        histogram(qSub, c),
		Bin11:      columnSums(qSub),
		Label:      g.Label,
		Target:     g.Target,
		Degenerate: kern.Degenerate,
	}
	if view.Pool != nil {
		stats.NodeFeatures = sliceRows(view.Pool, start, end)
	}

	var kq, k2q, k3q mat.Dense
	kq.Mul(kern.Matrix, qSub)
	k2q.Mul(kern.Matrix, &kq)
	k3q.Mul(kern.Matrix, &k2q)

	symmetric := opts.Mode == ModeSymmetric || kern.Degenerate
	stats.QKQ = project(qSub, &kq, symmetric)
	stats.QKQ2 = project(qSub, &k2q, symmetric)
	stats.QKQ3 = project(qSub, &k3q, symmetric)
	return stats, nil
}

// project returns qᵀ·kq, symmetrized when the kernel is symmetric so that
// rounding cannot break the invariant.
func project(q, kq mat.Matrix, symmetric bool) *mat.Dense {
	var out mat.Dense
	out.Mul(q.T(), kq)
	if symmetric {
		var tr mat.Dense
		tr.CloneFrom(out.T())
		out.Add(&out, &tr)
		out.Scale(0.5, &out)
	}
	return &out
}

func sliceRows(m mat.Matrix, start, end int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(end-start, c, nil)
	for i := start; i < end; i++ {
		for j := 0; j < c; j++ {
			out.Set(i-start, j, m.At(i, j))
		}
	}
	return out
}

func columnSums(m *mat.Dense) []float64 {
	_, c := m.Dims()
	sums := make([]float64, c)
	for j := 0; j < c; j++ {
		sums[j] = mat.Sum(m.ColView(j))
	}
	return sums
}

func histogram(q *mat.Dense, c int) []float64 {
	bin := make([]float64, c)
	n, _ := q.Dims()
	for i := 0; i < n; i++ {
		bin[floats.MaxIdx(q.RawRowView(i))]++
	}
	return bin
}
