package centers

import (
	"math"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/slim-clustering/pkg/models"
)

// KMeansConfig configures the center initializer
type KMeansConfig struct {
	K             int     // number of centroids
	Restarts      int     // independent k-means++ restarts, best inertia wins
	MaxIterations int     // Lloyd iterations per restart
	Tolerance     float64 // relative inertia improvement treated as converged
	Seed          int64   // restart r uses Seed + r
	NumWorkers    int     // restarts evaluated concurrently
}

// DefaultKMeansConfig returns the settings used for center initialization
func DefaultKMeansConfig(k int) KMeansConfig {
	return KMeansConfig{
		K:             k,
		Restarts:      100,
		MaxIterations: 100,
		Tolerance:     1e-4,
		Seed:          1,
		NumWorkers:    1,
	}
}

// KMeansResult is the best restart found
type KMeansResult struct {
	Centroids   *mat.Dense
	Assignments []int
	Inertia     float64 // sum of squared distances to the assigned centroid
	Iterations  int
	Restart     int
	Converged   bool
}

// kmeansState holds one restart. vectors and vectorNorms are shared read-only.
type kmeansState struct {
	n, k, dim int

	vectors     []float64 // [n × dim]
	vectorNorms []float64

	centroids     []float64 // [k × dim]
	newCentroids  []float64
	centroidNorms []float64
	dots          []float64 // [n × k]

	assignments []int
	counts      []int
	objective   float64
}

// KMeans clusters the rows of data. The result depends only on data and cfg,
// not on cfg.NumWorkers. When no restart converges the best centroids are still
// returned, together with models.ErrNonConvergentClustering.
func KMeans(data *mat.Dense, cfg KMeansConfig) (*KMeansResult, error) {
	n, dim := data.Dims()
	switch {
	case cfg.K <= 0:
		return nil, errors.Wrapf(models.ErrConfiguration, "k must be positive, got %d", cfg.K)
	case cfg.K > n:
		return nil, errors.Wrapf(models.ErrConfiguration, "k=%d exceeds the %d available points", cfg.K, n)
	case cfg.MaxIterations <= 0:
		return nil, errors.Wrapf(models.ErrConfiguration, "max iterations must be positive, got %d", cfg.MaxIterations)
	}
	restarts := cfg.Restarts
	if restarts <= 0 {
		restarts = 1
	}
	workers := cfg.NumWorkers
	if workers <= 0 {
		workers = 1
	}
	if workers > restarts {
		workers = restarts
	}

	vectors := make([]float64, n*dim)
	norms := make([]float64, n)
	for i := 0; i < n; i++ {
		row := vectors[i*dim : (i+1)*dim]
		mat.Row(row, i, data)
		norms[i] = blas64.Dot(blas64.Vector{N: dim, Inc: 1, Data: row}, blas64.Vector{N: dim, Inc: 1, Data: row})
	}

	results := make([]*KMeansResult, restarts)
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range jobs {
				results[r] = runRestart(vectors, norms, n, dim, cfg, r)
			}
		}()
	}
	for r := 0; r < restarts; r++ {
		jobs <- r
	}
	close(jobs)
	wg.Wait()

	best := results[0]
	for _, res := range results[1:] {
		if res.Inertia < best.Inertia {
			best = res
		}
	}

	if !best.Converged {
		return best, errors.Wrapf(models.ErrNonConvergentClustering,
			"best restart %d stopped after %d iterations", best.Restart, best.Iterations)
	}
	return best, nil
}

func runRestart(vectors, norms []float64, n, dim int, cfg KMeansConfig, restart int) *KMeansResult {
	rng := rand.New(rand.NewSource(cfg.Seed + int64(restart)))
	s := &kmeansState{
		n:             n,
		k:             cfg.K,
		dim:           dim,
		vectors:       vectors,
		vectorNorms:   norms,
		centroids:     make([]float64, cfg.K*dim),
		newCentroids:  make([]float64, cfg.K*dim),
		centroidNorms: make([]float64, cfg.K),
		dots:          make([]float64, n*cfg.K),
		assignments:   make([]int, n),
		counts:        make([]int, cfg.K),
	}
	s.initPlusPlus(rng)

	converged := false
	iterations := 0
	prevObj := math.Inf(1)
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		iterations = iter + 1
		s.computeCentroidNorms()
		s.computeDots()
		obj := s.assign()

		if obj == 0 || (prevObj-obj)/obj < cfg.Tolerance {
			converged = true
			break
		}
		prevObj = obj

		s.reinitializeEmpty(rng)
		s.updateCentroids()
	}

	// final assignment against the returned centroids
	s.computeCentroidNorms()
	s.computeDots()
	s.assign()

	assignments := make([]int, n)
	copy(assignments, s.assignments)
	centroids := make([]float64, len(s.centroids))
	copy(centroids, s.centroids)

	return &KMeansResult{
		Centroids:   mat.NewDense(cfg.K, dim, centroids),
		Assignments: assignments,
		Inertia:     s.objective,
		Iterations:  iterations,
		Restart:     restart,
		Converged:   converged,
	}
}

// initPlusPlus seeds centroids with k-means++
func (s *kmeansState) initPlusPlus(rng *rand.Rand) {
	first := rng.Intn(s.n)
	copy(s.centroids[0:s.dim], s.vectors[first*s.dim:(first+1)*s.dim])

	distances := make([]float64, s.n)
	for i := range distances {
		distances[i] = math.MaxFloat64
	}

	for c := 1; c < s.k; c++ {
		prev := s.centroids[(c-1)*s.dim : c*s.dim]
		prevNorm := dot(prev, prev)

		var total float64
		for i := 0; i < s.n; i++ {
			d := s.vectorNorms[i] + prevNorm - 2*dot(s.vectors[i*s.dim:(i+1)*s.dim], prev)
			if d < 0 {
				d = 0
			}
			if d < distances[i] {
				distances[i] = d
			}
			total += distances[i]
		}

		selected := s.n - 1
		if total == 0 {
			selected = rng.Intn(s.n)
		} else {
			target := rng.Float64() * total
			var cumulative float64
			for i, d := range distances {
				cumulative += d
				if cumulative >= target {
					selected = i
					break
				}
			}
		}
		copy(s.centroids[c*s.dim:(c+1)*s.dim], s.vectors[selected*s.dim:(selected+1)*s.dim])
	}
}

func (s *kmeansState) computeCentroidNorms() {
	for j := 0; j < s.k; j++ {
		c := s.centroids[j*s.dim : (j+1)*s.dim]
		s.centroidNorms[j] = dot(c, c)
	}
}

// computeDots fills dots = vectors · centroidsᵀ
func (s *kmeansState) computeDots() {
	blas64.Gemm(blas.NoTrans, blas.Trans, 1,
		blas64.General{Rows: s.n, Cols: s.dim, Stride: s.dim, Data: s.vectors},
		blas64.General{Rows: s.k, Cols: s.dim, Stride: s.dim, Data: s.centroids},
		0,
		blas64.General{Rows: s.n, Cols: s.k, Stride: s.k, Data: s.dots},
	)
}

func (s *kmeansState) assign() float64 {
	for j := range s.counts {
		s.counts[j] = 0
	}
	var total float64
	for i := 0; i < s.n; i++ {
		best := 0
		bestDist := math.MaxFloat64
		row := s.dots[i*s.k : (i+1)*s.k]
		for j := 0; j < s.k; j++ {
			d := s.vectorNorms[i] + s.centroidNorms[j] - 2*row[j]
			if d < 0 {
				d = 0
			}
			if d < bestDist {
				bestDist = d
				best = j
			}
		}
		s.assignments[i] = best
		s.counts[best]++
		total += bestDist
	}
	s.objective = total
	return total
}

// reinitializeEmpty moves each empty centroid onto the point farthest from its own centroid
func (s *kmeansState) reinitializeEmpty(rng *rand.Rand) {
	for j := 0; j < s.k; j++ {
		if s.counts[j] > 0 {
			continue
		}
		farthest := -1
		maxDist := -1.0
		for i := 0; i < s.n; i++ {
			a := s.assignments[i]
			if s.counts[a] <= 1 {
				continue
			}
			d := s.vectorNorms[i] + s.centroidNorms[a] - 2*s.dots[i*s.k+a]
			if d > maxDist {
				maxDist = d
				farthest = i
			}
		}
		if farthest < 0 {
			farthest = rng.Intn(s.n)
		}
		old := s.assignments[farthest]
		s.counts[old]--
		s.assignments[farthest] = j
		s.counts[j] = 1
	}
}

// updateCentroids sets every centroid to the mean of its members
func (s *kmeansState) updateCentroids() {
	for i := range s.newCentroids {
		s.newCentroids[i] = 0
	}
	for i := 0; i < s.n; i++ {
		c := s.assignments[i]
		blas64.Axpy(1,
			blas64.Vector{N: s.dim, Inc: 1, Data: s.vectors[i*s.dim : (i+1)*s.dim]},
			blas64.Vector{N: s.dim, Inc: 1, Data: s.newCentroids[c*s.dim : (c+1)*s.dim]},
		)
	}
	for j := 0; j < s.k; j++ {
		if s.counts[j] > 0 {
			blas64.Scal(1/float64(s.counts[j]),
				blas64.Vector{N: s.dim, Inc: 1, Data: s.newCentroids[j*s.dim : (j+1)*s.dim]})
		} else {
			copy(s.newCentroids[j*s.dim:(j+1)*s.dim], s.centroids[j*s.dim:(j+1)*s.dim])
		}
	}
	s.centroids, s.newCentroids = s.newCentroids, s.centroids
}

func dot(a, b []float64) float64 {
	return blas64.Dot(blas64.Vector{N: len(a), Inc: 1, Data: a}, blas64.Vector{N: len(b), Inc: 1, Data: b})
}
