package models

import (
	"fmt"
)

// Graph is one labelled graph of a dataset, stored as neighbor lists
type Graph struct {
	NumNodes     int         `json:"num_nodes"`
	Label        int         `json:"label"`                   // dense class index
	Target       float64     `json:"target"`                  // raw label value, used by regression heads
	Adjacency    [][]int     `json:"-"`                       // adjacency[i] = neighbors of node i
	NodeTags     []int       `json:"node_tags,omitempty"`     // dense tag index per node
	NodeFeatures [][]float64 `json:"node_features,omitempty"` // optional continuous attributes
}

// Dataset is an ordered collection of graphs plus the dictionaries built while parsing
type Dataset struct {
	Graphs    []*Graph       `json:"-"`
	TagDict   map[int]int    `json:"tag_dict"`   // raw tag -> dense index
	LabelDict map[string]int `json:"label_dict"` // raw label -> dense index
	AttrDim   int            `json:"attr_dim"`   // width of continuous node attributes
}

// NumClasses returns the number of distinct labels
func (d *Dataset) NumClasses() int { return len(d.LabelDict) }

// NumTags returns the number of distinct node tags
func (d *Dataset) NumTags() int { return len(d.TagDict) }

// TotalNodes returns the sum of NumNodes over graphs
func TotalNodes(graphs []*Graph) int {
	total := 0
	for _, g := range graphs {
		total += g.NumNodes
	}
	return total
}

// NumEdges returns the number of undirected edges, counting each neighbor pair once
func (g *Graph) NumEdges() int {
	count := 0
	for i, neighbors := range g.Adjacency {
		for _, j := range neighbors {
			if j >= i {
				count++
			}
		}
	}
	return count
}

// Validate checks that neighbor lists and per-node slices agree with NumNodes
func (g *Graph) Validate() error {
	if g.NumNodes < 0 {
		return ValidationError{Field: "num_nodes", Message: "must not be negative", Value: fmt.Sprint(g.NumNodes)}
	}
	if len(g.Adjacency) != g.NumNodes {
		return ValidationError{
			Field:   "adjacency",
			Message: fmt.Sprintf("has %d rows, expected %d", len(g.Adjacency), g.NumNodes),
		}
	}
	for i, neighbors := range g.Adjacency {
		for _, j := range neighbors {
			if j < 0 || j >= g.NumNodes {
				return ValidationError{
					Field:   "adjacency",
					Message: fmt.Sprintf("node %d has neighbor %d outside [0, %d)", i, j, g.NumNodes),
				}
			}
		}
	}
	if g.NodeTags != nil && len(g.NodeTags) != g.NumNodes {
		return ValidationError{
			Field:   "node_tags",
			Message: fmt.Sprintf("has %d entries, expected %d", len(g.NodeTags), g.NumNodes),
		}
	}
	if g.NodeFeatures != nil && len(g.NodeFeatures) != g.NumNodes {
		return ValidationError{
			Field:   "node_features",
			Message: fmt.Sprintf("has %d rows, expected %d", len(g.NodeFeatures), g.NumNodes),
		}
	}
	return nil
}

// ValidationError represents structured validation errors
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (ve ValidationError) Error() string {
	if ve.Value != "" {
		return fmt.Sprintf("validation error in field '%s': %s (value: %s)", ve.Field, ve.Message, ve.Value)
	}
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// Unwrap lets errors.Is match validation failures as shape mismatches
func (ve ValidationError) Unwrap() error { return ErrShapeMismatch }

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(ve), ve[0].Error(), len(ve)-1)
}

// Unwrap exposes the individual errors to errors.Is and errors.As
func (ve ValidationErrors) Unwrap() []error {
	errs := make([]error, len(ve))
	for i, e := range ve {
		errs[i] = e
	}
	return errs
}
