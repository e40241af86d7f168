// Package analysis lays out learned cluster centers in two dimensions and
// summarizes the connectivity of dataset graphs.
package analysis

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/mds"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

const eigenTolerance = 1e-9

// Position represents a 2D coordinate
type Position struct {
	X, Y float64
}

// Layout holds 2D coordinates of the centers from classical MDS
type Layout struct {
	Positions  []Position
	MinX, MaxX float64 // Coordinate bounds for normalization
	MinY, MaxY float64
	Dims       int // axes carrying variance, at most 2
}

// CenterLayout embeds the rows of centers in 2D so that pairwise Euclidean
// distances are preserved as well as possible (Torgerson scaling).
func CenterLayout(centers mat.Matrix) (*Layout, error) {
	n, _ := centers.Dims()
	if n == 0 {
		return nil, fmt.Errorf("no centers to lay out")
	}

	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, centers)
	}
	dist := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dist.SetSym(i, j, floats.Distance(rows[i], rows[j], 2))
		}
	}

	layout := &Layout{
		Positions: make([]Position, n),
		MinX:      math.Inf(1), MaxX: math.Inf(-1),
		MinY: math.Inf(1), MaxY: math.Inf(-1),
	}
	if n > 1 {
		var coords mat.Dense
		eig := make([]float64, n)
		k, _ := mds.TorgersonScaling(&coords, eig, dist)
		// Drop axes whose eigenvalue is numerical noise.
		for layout.Dims < k && layout.Dims < 2 && eig[layout.Dims] > eigenTolerance*eig[0] {
			layout.Dims++
		}
		for i := 0; i < n; i++ {
			if layout.Dims > 0 {
				layout.Positions[i].X = coords.At(i, 0)
			}
			if layout.Dims > 1 {
				layout.Positions[i].Y = coords.At(i, 1)
			}
		}
	}

	for _, p := range layout.Positions {
		layout.MinX = math.Min(layout.MinX, p.X)
		layout.MaxX = math.Max(layout.MaxX, p.X)
		layout.MinY = math.Min(layout.MinY, p.Y)
		layout.MaxY = math.Max(layout.MaxY, p.Y)
	}
	return layout, nil
}

// Normalized returns position i scaled to the [0,1] square
func (l *Layout) Normalized(i int) Position {
	p := l.Positions[i]
	out := Position{X: 0.5, Y: 0.5}
	if l.MaxX != l.MinX {
		out.X = (p.X - l.MinX) / (l.MaxX - l.MinX)
	}
	if l.MaxY != l.MinY {
		out.Y = (p.Y - l.MinY) / (l.MaxY - l.MinY)
	}
	return out
}

// PlotLayout draws the centers as labelled points, sized by weights when given
func PlotLayout(path string, l *Layout, weights []float64) error {
	p := plot.New()
	p.Title.Text = "Cluster centers (MDS)"
	p.HideAxes()

	xys := make(plotter.XYs, len(l.Positions))
	labels := make([]string, len(l.Positions))
	for i := range l.Positions {
		pos := l.Normalized(i)
		xys[i].X, xys[i].Y = pos.X, pos.Y
		labels[i] = fmt.Sprint(i)
	}

	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		return err
	}
	maxWeight := 0.0
	for _, w := range weights {
		maxWeight = math.Max(maxWeight, w)
	}
	scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		radius := vg.Points(3)
		if maxWeight > 0 && i < len(weights) {
			radius = vg.Points(2 + 8*weights[i]/maxWeight)
		}
		return draw.GlyphStyle{Color: color.RGBA{R: 40, G: 90, B: 200, A: 255}, Radius: radius, Shape: draw.CircleGlyph{}}
	}

	names, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
	if err != nil {
		return err
	}
	p.Add(scatter, names)
	return p.Save(6*vg.Inch, 6*vg.Inch, path)
}
