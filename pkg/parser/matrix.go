package parser

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

// LoadMatrix reads a dense matrix. Files ending in .bin hold gonum's binary
// encoding, anything else is whitespace separated text with one row per line.
func LoadMatrix(path string) (*mat.Dense, error) {
	if strings.EqualFold(filepath.Ext(path), ".bin") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read matrix: %w", err)
		}
		var m mat.Dense
		if err := m.UnmarshalBinary(data); err != nil {
			return nil, errors.Wrapf(err, "decode %s", path)
		}
		return &m, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open matrix: %w", err)
	}
	defer file.Close()

	var data []float64
	cols := -1
	rows := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if cols < 0 {
			cols = len(fields)
		} else if len(fields) != cols {
			return nil, errors.Wrapf(models.ErrShapeMismatch, "%s row %d has %d values, expected %d", path, rows, len(fields), cols)
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, errors.Errorf("%s row %d: invalid value %q", path, rows, f)
			}
			data = append(data, v)
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading matrix: %w", err)
	}
	if rows == 0 {
		return nil, errors.Wrapf(models.ErrShapeMismatch, "%s holds no rows", path)
	}
	return mat.NewDense(rows, cols, data), nil
}

// SaveMatrix writes m in the encoding chosen by the file extension
func SaveMatrix(path string, m *mat.Dense) error {
	if strings.EqualFold(filepath.Ext(path), ".bin") {
		data, err := m.MarshalBinary()
		if err != nil {
			return errors.Wrap(err, "encode matrix")
		}
		return os.WriteFile(path, data, 0644)
	}
	return WriteRows(path, m, "%g")
}

// WriteRows writes each row of m on its own line with the given verb
func WriteRows(path string, m mat.Matrix, verb string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if j > 0 {
				w.WriteByte(' ')
			}
			fmt.Fprintf(w, verb, m.At(i, j))
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return file.Close()
}
