package parser

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

const twoGraphs = `2
3 1
5 1 1
7 2 0 2
5 1 1
2 0
7 1 1
7 0
`

func TestParseGraphs(t *testing.T) {
	ds, err := ParseGraphs(strings.NewReader(twoGraphs))
	require.NoError(t, err)
	require.Len(t, ds.Graphs, 2)

	g := ds.Graphs[0]
	assert.Equal(t, 3, g.NumNodes)
	assert.Equal(t, [][]int{{1}, {0, 2}, {1}}, g.Adjacency)
	assert.Equal(t, []int{0, 1, 0}, g.NodeTags)
	assert.Equal(t, 0, g.Label)
	assert.Equal(t, 1.0, g.Target)
	require.NoError(t, g.Validate())

	// the second graph lists its edge from one side only
	h := ds.Graphs[1]
	assert.Equal(t, [][]int{{1}, {0}}, h.Adjacency)
	assert.Equal(t, 1, h.Label)
	assert.Equal(t, 1, h.NumEdges())

	assert.Equal(t, 2, ds.NumClasses())
	assert.Equal(t, 2, ds.NumTags())
	assert.Equal(t, 0, ds.AttrDim)
}

func TestParseGraphsAttributes(t *testing.T) {
	input := "1\n2 0\n1 1 1 0.5 1.5\n1 1 0 2 3\n"
	ds, err := ParseGraphs(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, ds.AttrDim)
	assert.Equal(t, [][]float64{{0.5, 1.5}, {2, 3}}, ds.Graphs[0].NodeFeatures)
}

func TestParseGraphsErrors(t *testing.T) {
	cases := map[string]string{
		"empty":              "",
		"bad count":          "x\n",
		"truncated":          "1\n2 0\n1 0\n",
		"neighbor range":     "1\n1 0\n1 1 3\n",
		"ragged attributes":  "1\n2 0\n1 0 1.0\n1 0 1.0 2.0\n",
		"bad neighbor count": "1\n1 0\n1 4 0\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseGraphs(strings.NewReader(input))
			assert.Error(t, err)
		})
	}

	_, err := ParseGraphs(strings.NewReader("1\n1 0\n1 1 3\n"))
	assert.True(t, errors.Is(err, models.ErrShapeMismatch))
}

func TestWriteGraphsRoundTrip(t *testing.T) {
	ds, err := ParseGraphs(strings.NewReader(twoGraphs))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteGraphs(&buf, ds))

	again, err := ParseGraphs(&buf)
	require.NoError(t, err)
	require.Len(t, again.Graphs, len(ds.Graphs))
	for i := range ds.Graphs {
		assert.Equal(t, ds.Graphs[i].Adjacency, again.Graphs[i].Adjacency)
		assert.Equal(t, ds.Graphs[i].NodeTags, again.Graphs[i].NodeTags)
		assert.Equal(t, ds.Graphs[i].Label, again.Graphs[i].Label)
	}
	assert.Equal(t, ds.TagDict, again.TagDict)
	assert.Equal(t, ds.LabelDict, again.LabelDict)
}

func TestLoadFold(t *testing.T) {
	dir := t.TempDir()
	ds, err := ParseGraphs(strings.NewReader(twoGraphs))
	require.NoError(t, err)

	trainPath, testPath := FoldPaths(dir, 1)
	require.NoError(t, os.WriteFile(trainPath, []byte("1\n"), 0644))
	require.NoError(t, os.WriteFile(testPath, []byte("0\n\n"), 0644))

	split, err := LoadFold(dir, 1, ds.Graphs)
	require.NoError(t, err)
	assert.Equal(t, []*models.Graph{ds.Graphs[1]}, split.Train)
	assert.Equal(t, []*models.Graph{ds.Graphs[0]}, split.Test)

	require.NoError(t, os.WriteFile(testPath, []byte("5\n"), 0644))
	_, err = LoadFold(dir, 1, ds.Graphs)
	assert.True(t, errors.Is(err, models.ErrShapeMismatch))

	_, err = LoadFold(dir, 2, ds.Graphs)
	assert.Error(t, err)
}

func TestTailSplit(t *testing.T) {
	graphs := []*models.Graph{{NumNodes: 1}, {NumNodes: 2}, {NumNodes: 3}}
	split, err := TailSplit(graphs, 1)
	require.NoError(t, err)
	assert.Len(t, split.Train, 2)
	assert.Equal(t, 3, split.Test[0].NumNodes)

	_, err = TailSplit(graphs, 3)
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}

func TestMatrixFiles(t *testing.T) {
	dir := t.TempDir()
	m := mat.NewDense(2, 3, []float64{1, 2.5, -3, 0, 1e-3, 7})

	for _, name := range []string{"la.bin", "la.txt"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, SaveMatrix(path, m))
			loaded, err := LoadMatrix(path)
			require.NoError(t, err)
			assert.True(t, mat.Equal(m, loaded))
		})
	}

	t.Run("ragged text", func(t *testing.T) {
		path := filepath.Join(dir, "bad.txt")
		require.NoError(t, os.WriteFile(path, []byte("1 2\n3\n"), 0644))
		_, err := LoadMatrix(path)
		assert.True(t, errors.Is(err, models.ErrShapeMismatch))
	})
}
