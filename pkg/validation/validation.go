package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

// ValidateDataset checks a parsed dataset before training
func ValidateDataset(ds *models.Dataset) error {
	var errors models.ValidationErrors

	// Check basic structure
	if ds == nil || len(ds.Graphs) == 0 {
		return models.ValidationErrors{{Field: "graphs", Message: "dataset holds no graphs"}}
	}

	// Validate graphs
	for i, g := range ds.Graphs {
		if g == nil {
			errors = append(errors, models.ValidationError{
				Field:   "graphs",
				Message: fmt.Sprintf("graph %d is nil", i),
			})
			continue
		}
		if g.NumNodes == 0 {
			errors = append(errors, models.ValidationError{
				Field:   "num_nodes",
				Message: fmt.Sprintf("graph %d has no nodes", i),
			})
			continue
		}
		if err := g.Validate(); err != nil {
			if ve, ok := err.(models.ValidationError); ok {
				ve.Message = fmt.Sprintf("graph %d: %s", i, ve.Message)
				errors = append(errors, ve)
			} else {
				errors = append(errors, models.ValidationError{
					Field:   "graphs",
					Message: err.Error(),
				})
			}
		}
		if g.Label < 0 || (ds.LabelDict != nil && g.Label >= len(ds.LabelDict)) {
			errors = append(errors, models.ValidationError{
				Field:   "label",
				Message: fmt.Sprintf("graph %d label outside %d classes", i, len(ds.LabelDict)),
				Value:   fmt.Sprint(g.Label),
			})
		}
		for _, row := range g.NodeFeatures {
			if len(row) != ds.AttrDim {
				errors = append(errors, models.ValidationError{
					Field:   "node_features",
					Message: fmt.Sprintf("graph %d has %d attributes, dataset declares %d", i, len(row), ds.AttrDim),
				})
				break
			}
		}
	}

	if len(errors) > 0 {
		return errors
	}

	return nil
}

// ValidateSplit checks that both sides of a train/test split are usable
func ValidateSplit(train, test []*models.Graph) error {
	var errors models.ValidationErrors

	if len(train) == 0 {
		errors = append(errors, models.ValidationError{Field: "train", Message: "no training graphs"})
	}
	if len(test) == 0 {
		errors = append(errors, models.ValidationError{Field: "test", Message: "no test graphs"})
	}

	if len(errors) > 0 {
		return errors
	}

	return nil
}

// ValidatePool checks that a feature pool has one row per node of graphs
func ValidatePool(name string, pool mat.Matrix, graphs []*models.Graph) error {
	if pool == nil {
		return models.ValidationError{Field: name, Message: "pool is nil"}
	}
	rows, cols := pool.Dims()
	total := models.TotalNodes(graphs)
	if rows != total {
		return models.ValidationError{
			Field:   name,
			Message: fmt.Sprintf("pool has %d rows but graphs hold %d nodes", rows, total),
			Value:   fmt.Sprint(rows),
		}
	}
	if cols == 0 {
		return models.ValidationError{Field: name, Message: "pool has no feature columns"}
	}
	return nil
}

// ValidateFileFormat checks that a file has one of the allowed extensions and is readable
func ValidateFileFormat(filePath string, allowed ...string) error {
	// Check extension
	ext := strings.ToLower(filepath.Ext(filePath))
	if len(allowed) > 0 {
		ok := false
		for _, a := range allowed {
			if ext == strings.ToLower(a) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("file must have one of %v extensions, got: %q", allowed, ext)
		}
	}

	// Check if file is readable
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("cannot open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("cannot stat file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("expected a file, got directory: %s", filePath)
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty: %s", filePath)
	}

	return nil
}

// ValidateOutputDirectory checks if output directory exists or can be created
func ValidateOutputDirectory(outputDir string) error {
	// Check if directory exists
	info, err := os.Stat(outputDir)
	if os.IsNotExist(err) {
		// Try to create it
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("cannot create output directory: %w", err)
		}
		return nil
	}

	if err != nil {
		return fmt.Errorf("cannot access output directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("output path exists but is not a directory: %s", outputDir)
	}

	// Check if directory is writable
	testFile := filepath.Join(outputDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return fmt.Errorf("output directory is not writable: %w", err)
	}
	os.Remove(testFile) // Clean up

	return nil
}
