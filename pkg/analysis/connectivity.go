package analysis

import (
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

// Connectivity describes the connected structure of one graph
type Connectivity struct {
	Components    int
	LargestSize   int
	IsolatedNodes int
}

// Connected reports whether the graph forms a single component
func (c Connectivity) Connected() bool { return c.Components <= 1 }

// DatasetConnectivity aggregates Connectivity over a dataset
type DatasetConnectivity struct {
	Graphs        int `yaml:"graphs"`
	Disconnected  int `yaml:"disconnected"`
	MaxComponents int `yaml:"max_components"`
	IsolatedNodes int `yaml:"isolated_nodes"`
}

// ToGonum converts a dataset graph to a gonum undirected graph. Self loops are dropped.
func ToGonum(g *models.Graph) *simple.UndirectedGraph {
	out := simple.NewUndirectedGraph()
	for i := 0; i < g.NumNodes; i++ {
		out.AddNode(simple.Node(i))
	}
	for i, neighbors := range g.Adjacency {
		for _, j := range neighbors {
			if i == j || j < 0 || j >= g.NumNodes {
				continue
			}
			if !out.HasEdgeBetween(int64(i), int64(j)) {
				out.SetEdge(simple.Edge{F: simple.Node(i), T: simple.Node(j)})
			}
		}
	}
	return out
}

// GraphConnectivity counts connected components and isolated nodes of g
func GraphConnectivity(g *models.Graph) Connectivity {
	gg := ToGonum(g)
	var c Connectivity
	for _, comp := range topo.ConnectedComponents(gg) {
		c.Components++
		if len(comp) > c.LargestSize {
			c.LargestSize = len(comp)
		}
		if len(comp) == 1 {
			c.IsolatedNodes++
		}
	}
	return c
}

// Profile summarizes connectivity over every graph
func Profile(graphs []*models.Graph) DatasetConnectivity {
	var d DatasetConnectivity
	for _, g := range graphs {
		c := GraphConnectivity(g)
		d.Graphs++
		if !c.Connected() {
			d.Disconnected++
		}
		if c.Components > d.MaxComponents {
			d.MaxComponents = c.Components
		}
		d.IsolatedNodes += c.IsolatedNodes
	}
	return d
}
