package validation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

func validDataset() *models.Dataset {
	return &models.Dataset{
		Graphs: []*models.Graph{
			{NumNodes: 2, Label: 0, Adjacency: [][]int{{1}, {0}}},
			{NumNodes: 1, Label: 1, Adjacency: [][]int{{}}},
		},
		LabelDict: map[string]int{"0": 0, "1": 1},
	}
}

func TestValidateDataset(t *testing.T) {
	require.NoError(t, ValidateDataset(validDataset()))

	t.Run("empty", func(t *testing.T) {
		err := ValidateDataset(&models.Dataset{})
		assert.Error(t, err)
	})

	t.Run("collects every problem", func(t *testing.T) {
		ds := validDataset()
		ds.Graphs[0].Adjacency = [][]int{{5}, {0}}
		ds.Graphs[1].Label = 4
		err := ValidateDataset(ds)
		require.Error(t, err)

		var ve models.ValidationErrors
		require.True(t, errors.As(err, &ve))
		assert.Len(t, ve, 2)
		assert.True(t, errors.Is(err, models.ErrShapeMismatch))
	})

	t.Run("attribute width", func(t *testing.T) {
		ds := validDataset()
		ds.AttrDim = 2
		ds.Graphs[1].NodeFeatures = [][]float64{{1}}
		assert.Error(t, ValidateDataset(ds))
	})
}

func TestValidateSplit(t *testing.T) {
	g := []*models.Graph{{NumNodes: 1}}
	assert.NoError(t, ValidateSplit(g, g))
	err := ValidateSplit(nil, nil)
	var ve models.ValidationErrors
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve, 2)
}

func TestValidatePool(t *testing.T) {
	graphs := validDataset().Graphs
	assert.NoError(t, ValidatePool("train", mat.NewDense(3, 2, nil), graphs))

	err := ValidatePool("train", mat.NewDense(4, 2, nil), graphs)
	assert.True(t, errors.Is(err, models.ErrShapeMismatch))

	assert.Error(t, ValidatePool("train", nil, graphs))
}

func TestValidateFileFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graphs.txt")
	require.NoError(t, os.WriteFile(path, []byte("1\n"), 0644))

	assert.NoError(t, ValidateFileFormat(path, ".txt"))
	assert.NoError(t, ValidateFileFormat(path))
	assert.Error(t, ValidateFileFormat(path, ".bin"))
	assert.Error(t, ValidateFileFormat(filepath.Join(dir, "missing.txt"), ".txt"))

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	assert.Error(t, ValidateFileFormat(empty))
}

func TestValidateOutputDirectory(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, ValidateOutputDirectory(dir))

	nested := filepath.Join(dir, "a", "b")
	assert.NoError(t, ValidateOutputDirectory(nested))
	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	assert.Error(t, ValidateOutputDirectory(file))
}
