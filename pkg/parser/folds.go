package parser

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

// Split is a train/test partition of a dataset's graphs
type Split struct {
	Train []*models.Graph
	Test  []*models.Graph
}

// ReadIndexFile reads one graph index per line
func ReadIndexFile(path string) ([]int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	var indices []int
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		idx, err := strconv.Atoi(text)
		if err != nil {
			return nil, errors.Errorf("%s:%d: invalid index %q", path, line, text)
		}
		indices = append(indices, idx)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading index file: %w", err)
	}
	return indices, nil
}

// FoldPaths returns the train and test index files of a fold inside dir
func FoldPaths(dir string, fold int) (train, test string) {
	return filepath.Join(dir, fmt.Sprintf("train_idx-%d.txt", fold)),
		filepath.Join(dir, fmt.Sprintf("test_idx-%d.txt", fold))
}

// LoadFold splits graphs with the index files of a fold
func LoadFold(dir string, fold int, graphs []*models.Graph) (*Split, error) {
	trainPath, testPath := FoldPaths(dir, fold)
	trainIdx, err := ReadIndexFile(trainPath)
	if err != nil {
		return nil, err
	}
	testIdx, err := ReadIndexFile(testPath)
	if err != nil {
		return nil, err
	}

	pick := func(indices []int) ([]*models.Graph, error) {
		out := make([]*models.Graph, len(indices))
		for i, idx := range indices {
			if idx < 0 || idx >= len(graphs) {
				return nil, errors.Wrapf(models.ErrShapeMismatch, "fold %d index %d outside %d graphs", fold, idx, len(graphs))
			}
			out[i] = graphs[idx]
		}
		return out, nil
	}
	split := &Split{}
	if split.Train, err = pick(trainIdx); err != nil {
		return nil, err
	}
	if split.Test, err = pick(testIdx); err != nil {
		return nil, err
	}
	return split, nil
}

// TailSplit uses the last testNumber graphs as the test set
func TailSplit(graphs []*models.Graph, testNumber int) (*Split, error) {
	if testNumber <= 0 || testNumber >= len(graphs) {
		return nil, errors.Wrapf(models.ErrConfiguration, "test number %d must be in (0, %d)", testNumber, len(graphs))
	}
	cut := len(graphs) - testNumber
	return &Split{Train: graphs[:cut], Test: graphs[cut:]}, nil
}
