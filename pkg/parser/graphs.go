package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

// ParseGraphs reads a graph dataset in the line format
//
//	<number of graphs>
//	<n> <label>                      one header per graph
//	<tag> <m> <nb_1> ... <nb_m> [f]  n node lines, optional float attributes
//
// Tags and labels get dense indices in order of first appearance. Edges are
// made symmetric and duplicate neighbors are dropped.
func ParseGraphs(r io.Reader) (*models.Dataset, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0

	next := func() ([]string, error) {
		for scanner.Scan() {
			lineNo++
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			return strings.Fields(line), nil
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("error reading graphs: %w", err)
		}
		return nil, io.ErrUnexpectedEOF
	}

	header, err := next()
	if err != nil {
		return nil, errors.Wrap(err, "missing graph count")
	}
	numGraphs, err := strconv.Atoi(header[0])
	if err != nil || numGraphs < 0 {
		return nil, errors.Errorf("line %d: invalid graph count %q", lineNo, header[0])
	}

	ds := &models.Dataset{
		Graphs:    make([]*models.Graph, 0, numGraphs),
		TagDict:   make(map[int]int),
		LabelDict: make(map[string]int),
		AttrDim:   -1,
	}

	for gi := 0; gi < numGraphs; gi++ {
		fields, err := next()
		if err != nil {
			return nil, errors.Wrapf(err, "graph %d header", gi)
		}
		if len(fields) < 2 {
			return nil, errors.Errorf("line %d: graph header needs '<n> <label>'", lineNo)
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil || n < 0 {
			return nil, errors.Errorf("line %d: invalid node count %q", lineNo, fields[0])
		}

		rawLabel := fields[1]
		label, ok := ds.LabelDict[rawLabel]
		if !ok {
			label = len(ds.LabelDict)
			ds.LabelDict[rawLabel] = label
		}
		target, err := strconv.ParseFloat(rawLabel, 64)
		if err != nil {
			target = float64(label)
		}

		g := &models.Graph{
			NumNodes:  n,
			Label:     label,
			Target:    target,
			Adjacency: make([][]int, n),
			NodeTags:  make([]int, n),
		}
		sets := make([]map[int]struct{}, n)
		for i := range sets {
			sets[i] = make(map[int]struct{})
		}

		var attrs [][]float64
		for ni := 0; ni < n; ni++ {
			fields, err := next()
			if err != nil {
				return nil, errors.Wrapf(err, "graph %d node %d", gi, ni)
			}
			if len(fields) < 2 {
				return nil, errors.Errorf("line %d: node line needs '<tag> <m> ...'", lineNo)
			}
			rawTag, err := strconv.Atoi(fields[0])
			if err != nil {
				return nil, errors.Errorf("line %d: invalid tag %q", lineNo, fields[0])
			}
			tag, ok := ds.TagDict[rawTag]
			if !ok {
				tag = len(ds.TagDict)
				ds.TagDict[rawTag] = tag
			}
			g.NodeTags[ni] = tag

			m, err := strconv.Atoi(fields[1])
			if err != nil || m < 0 || len(fields) < m+2 {
				return nil, errors.Errorf("line %d: invalid neighbor count %q", lineNo, fields[1])
			}
			for _, f := range fields[2 : m+2] {
				nb, err := strconv.Atoi(f)
				if err != nil || nb < 0 || nb >= n {
					return nil, errors.Wrapf(models.ErrShapeMismatch, "line %d: neighbor %q outside [0, %d)", lineNo, f, n)
				}
				sets[ni][nb] = struct{}{}
				sets[nb][ni] = struct{}{}
			}

			if extra := fields[m+2:]; len(extra) > 0 {
				row := make([]float64, len(extra))
				for k, f := range extra {
					if row[k], err = strconv.ParseFloat(f, 64); err != nil {
						return nil, errors.Errorf("line %d: invalid attribute %q", lineNo, f)
					}
				}
				if attrs == nil {
					attrs = make([][]float64, n)
				}
				attrs[ni] = row
			}
		}

		for i, set := range sets {
			neighbors := make([]int, 0, len(set))
			for j := range set {
				neighbors = append(neighbors, j)
			}
			sort.Ints(neighbors)
			g.Adjacency[i] = neighbors
		}

		if attrs != nil {
			dim := len(attrs[0])
			for i, row := range attrs {
				if len(row) != dim || (ds.AttrDim >= 0 && ds.AttrDim != dim) {
					return nil, errors.Wrapf(models.ErrShapeMismatch, "graph %d node %d has %d attributes, expected %d", gi, i, len(row), dim)
				}
			}
			ds.AttrDim = dim
			g.NodeFeatures = attrs
		}
		ds.Graphs = append(ds.Graphs, g)
	}

	if ds.AttrDim < 0 {
		ds.AttrDim = 0
	}
	for i, g := range ds.Graphs {
		if ds.AttrDim > 0 && g.NodeFeatures == nil && g.NumNodes > 0 {
			return nil, errors.Wrapf(models.ErrShapeMismatch, "graph %d has no attributes but others have %d", i, ds.AttrDim)
		}
	}
	return ds, nil
}

// LoadGraphs reads a dataset file
func LoadGraphs(path string) (*models.Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	ds, err := ParseGraphs(file)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return ds, nil
}

// WriteGraphs writes graphs in the format read by ParseGraphs. Tags and
// labels are written as their raw values from the dataset dictionaries.
func WriteGraphs(w io.Writer, ds *models.Dataset) error {
	rawTag := make(map[int]int, len(ds.TagDict))
	for raw, idx := range ds.TagDict {
		rawTag[idx] = raw
	}
	rawLabel := make(map[int]string, len(ds.LabelDict))
	for raw, idx := range ds.LabelDict {
		rawLabel[idx] = raw
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n", len(ds.Graphs))
	for _, g := range ds.Graphs {
		label, ok := rawLabel[g.Label]
		if !ok {
			label = strconv.Itoa(g.Label)
		}
		fmt.Fprintf(bw, "%d %s\n", g.NumNodes, label)
		for i := 0; i < g.NumNodes; i++ {
			tag := 0
			if g.NodeTags != nil {
				if raw, ok := rawTag[g.NodeTags[i]]; ok {
					tag = raw
				} else {
					tag = g.NodeTags[i]
				}
			}
			fields := []string{strconv.Itoa(tag), strconv.Itoa(len(g.Adjacency[i]))}
			for _, nb := range g.Adjacency[i] {
				fields = append(fields, strconv.Itoa(nb))
			}
			if g.NodeFeatures != nil {
				for _, v := range g.NodeFeatures[i] {
					fields = append(fields, strconv.FormatFloat(v, 'g', -1, 64))
				}
			}
			fmt.Fprintln(bw, strings.Join(fields, " "))
		}
	}
	return bw.Flush()
}
