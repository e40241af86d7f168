package train

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/models"
	"github.com/gilchrisn/slim-clustering/pkg/parser"
	"github.com/gilchrisn/slim-clustering/pkg/validation"
)

// Data is a split dataset ready for training
type Data struct {
	Train []*models.Graph
	Test  []*models.Graph

	NumTags    int
	AttrDim    int
	NumClasses int

	// Structural holds one row per node of Train followed by Test, or nil.
	Structural *mat.Dense
}

// LoadData reads the dataset, split and structural matrix named by cfg
func LoadData(cfg *Config) (*Data, error) {
	if err := validation.ValidateFileFormat(cfg.Dataset()); err != nil {
		return nil, errors.Wrap(err, "dataset")
	}
	ds, err := parser.LoadGraphs(cfg.Dataset())
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateDataset(ds); err != nil {
		return nil, errors.Wrap(err, "invalid dataset")
	}

	var split *parser.Split
	if cfg.TestNumber() > 0 {
		split, err = parser.TailSplit(ds.Graphs, cfg.TestNumber())
	} else {
		split, err = parser.LoadFold(cfg.FoldDir(), cfg.Fold(), ds.Graphs)
	}
	if err != nil {
		return nil, errors.Wrap(err, "split dataset")
	}
	if err := validation.ValidateSplit(split.Train, split.Test); err != nil {
		return nil, err
	}

	data := &Data{
		Train:      split.Train,
		Test:       split.Test,
		NumTags:    ds.NumTags(),
		AttrDim:    ds.AttrDim,
		NumClasses: ds.NumClasses(),
	}

	if files := cfg.StructuralFiles(); len(files) > 0 {
		path := files[cfg.StructuralOrder()-1]
		if err := validation.ValidateFileFormat(path, ".bin", ".txt", ".csv"); err != nil {
			return nil, errors.Wrap(err, "structural matrix")
		}
		if data.Structural, err = parser.LoadMatrix(path); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// AllGraphs returns the training graphs followed by the test graphs
func (d *Data) AllGraphs() []*models.Graph {
	all := make([]*models.Graph, 0, len(d.Train)+len(d.Test))
	all = append(all, d.Train...)
	return append(all, d.Test...)
}

// NodeFeatures builds one row per node: one-hot tag, then continuous
// attributes, or a single column of ones when the graphs carry neither.
func NodeFeatures(graphs []*models.Graph, numTags, attrDim int) (*mat.Dense, error) {
	total := models.TotalNodes(graphs)
	if total == 0 {
		return nil, errors.Wrap(models.ErrShapeMismatch, "no nodes to build features for")
	}

	hasTags := numTags > 0
	hasAttrs := attrDim > 0
	width := 0
	if hasTags {
		width += numTags
	}
	if hasAttrs {
		width += attrDim
	}
	if width == 0 {
		ones := mat.NewDense(total, 1, nil)
		for i := 0; i < total; i++ {
			ones.Set(i, 0, 1)
		}
		return ones, nil
	}

	x := mat.NewDense(total, width, nil)
	row := 0
	for gi, g := range graphs {
		for i := 0; i < g.NumNodes; i++ {
			col := 0
			if hasTags {
				if g.NodeTags != nil {
					tag := g.NodeTags[i]
					if tag < 0 || tag >= numTags {
						return nil, errors.Wrapf(models.ErrShapeMismatch, "graph %d node %d tag %d outside %d tags", gi, i, tag, numTags)
					}
					x.Set(row, tag, 1)
				}
				col = numTags
			}
			if hasAttrs && g.NodeFeatures != nil {
				attrs := g.NodeFeatures[i]
				if len(attrs) != attrDim {
					return nil, errors.Wrapf(models.ErrShapeMismatch, "graph %d node %d has %d attributes, expected %d", gi, i, len(attrs), attrDim)
				}
				for k, v := range attrs {
					x.Set(row, col+k, v)
				}
			}
			row++
		}
	}
	return x, nil
}

// AppendStructural returns [x | scale·s]
func AppendStructural(x, s mat.Matrix, scale float64) (*mat.Dense, error) {
	xr, xc := x.Dims()
	sr, sc := s.Dims()
	if xr != sr {
		return nil, errors.Wrapf(models.ErrShapeMismatch, "structural matrix has %d rows, features have %d", sr, xr)
	}
	out := mat.NewDense(xr, xc+sc, nil)
	out.Slice(0, xr, 0, xc).(*mat.Dense).Copy(x)
	scaled := out.Slice(0, xr, xc, xc+sc).(*mat.Dense)
	scaled.Scale(scale, s)
	return out, nil
}

// rowBlock copies rows [start, end) of m
func rowBlock(m *mat.Dense, start, end int) *mat.Dense {
	return mat.DenseCopyOf(m.Slice(start, end, 0, m.RawMatrix().Cols))
}
