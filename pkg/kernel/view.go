package kernel

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

// PoolView binds a graph list to the embedding pool whose rows it indexes.
// Graph k owns rows [Offsets[k], Offsets[k+1]) of Pool. The pool may hold
// extra trailing rows, as in the transductive training pool.
type PoolView struct {
	ListID  string
	Graphs  []*models.Graph
	Pool    mat.Matrix
	Offsets []int // len(Graphs)+1 prefix sums of NumNodes
}

// NodeOffsets returns the prefix sums of NumNodes, starting at 0
func NodeOffsets(graphs []*models.Graph) []int {
	offsets := make([]int, len(graphs)+1)
	for i, g := range graphs {
		offsets[i+1] = offsets[i] + g.NumNodes
	}
	return offsets
}

// NewPoolView builds a view and checks that the pool covers every graph
func NewPoolView(listID string, graphs []*models.Graph, pool mat.Matrix) (*PoolView, error) {
	offsets := NodeOffsets(graphs)
	if pool != nil {
		rows, _ := pool.Dims()
		if total := offsets[len(graphs)]; rows < total {
			return nil, errors.Wrapf(models.ErrShapeMismatch,
				"pool %q has %d rows but its graphs hold %d nodes", listID, rows, total)
		}
	}
	return &PoolView{
		ListID:  listID,
		Graphs:  graphs,
		Pool:    pool,
		Offsets: offsets,
	}, nil
}

// Len returns the number of graphs in the view
func (v *PoolView) Len() int { return len(v.Graphs) }

// NumNodes returns the number of pool rows owned by the view's graphs
func (v *PoolView) NumNodes() int { return v.Offsets[len(v.Graphs)] }

// Range returns the half-open row range of graph k
func (v *PoolView) Range(k int) (start, end int, err error) {
	if k < 0 || k >= len(v.Graphs) {
		return 0, 0, errors.Wrapf(models.ErrShapeMismatch, "graph %d outside view %q of %d graphs", k, v.ListID, len(v.Graphs))
	}
	return v.Offsets[k], v.Offsets[k+1], nil
}
