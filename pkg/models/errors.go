package models

import "errors"

// Error kinds shared by the clustering, kernel and training packages.
// Callers wrap them with context and match with errors.Is.
var (
	// ErrShapeMismatch reports matrices or index ranges whose dimensions disagree.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrDegenerateAdjacency reports a subgraph with no nodes.
	// Edgeless subgraphs are not errors: they fall back to the identity kernel.
	ErrDegenerateAdjacency = errors.New("degenerate adjacency")

	// ErrNonConvergentClustering is soft: it accompanies a usable best-effort result.
	ErrNonConvergentClustering = errors.New("clustering did not converge")

	// ErrConfiguration reports invalid settings such as a non-positive center count.
	ErrConfiguration = errors.New("configuration error")
)
