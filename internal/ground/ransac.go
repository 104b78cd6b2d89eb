package ground

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/geoanchor/obj2kmz/internal/mesh"
)

const (
	DefaultThreshold     = 0.1
	DefaultMaxIterations = 1000

	// verticalTolerance below which |C| marks a plane as near vertical.
	verticalTolerance = 1e-6
	// collinearTolerance below which a sampled triangle spans no plane.
	collinearTolerance = 1e-12
)

// ErrNoPlane is returned when no sample of three points spanned a plane.
var ErrNoPlane = errors.New("no plane found: points are coincident or collinear")

// PlaneFit finds the dominant plane with random sample consensus and reports
// its height above the origin.
type PlaneFit struct {
	threshold     float64
	maxIterations int
	rng           *rand.Rand
}

// NewPlaneFit returns a PlaneFit estimator. A zero seed draws one from the
// clock, so repeated runs may differ slightly.
func NewPlaneFit(threshold float64, maxIterations int, seed uint64) (*PlaneFit, error) {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if maxIterations == 0 {
		maxIterations = DefaultMaxIterations
	}
	if !(threshold > 0) || math.IsInf(threshold, 0) {
		return nil, errors.Errorf("inlier threshold %v must be positive", threshold)
	}
	if maxIterations < 0 {
		return nil, errors.Errorf("iteration budget %d must be positive", maxIterations)
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &PlaneFit{
		threshold:     threshold,
		maxIterations: maxIterations,
		rng:           rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

func (e *PlaneFit) Name() string { return StrategyRANSAC }

// Estimate fits a plane and returns its Z intercept at x = y = 0. A near
// vertical plane has no usable intercept; the mean height of its inliers is
// reported instead and Result.Degenerate is set.
func (e *PlaneFit) Estimate(ctx context.Context, vertices []mesh.Vertex) (Result, error) {
	if err := checkVertices(vertices); err != nil {
		return Result{}, err
	}
	if len(vertices) < 3 {
		return Result{}, errors.Errorf("plane fit needs at least 3 vertices, got %d", len(vertices))
	}

	plane, inliers, err := e.fit(ctx, vertices)
	if err != nil {
		return Result{}, err
	}

	res := Result{Plane: &plane, Inliers: inliers}
	if math.Abs(plane.C) > verticalTolerance {
		res.Offset = -plane.D / plane.C
		return res, nil
	}
	var sum float64
	for _, i := range inliers {
		sum += vertices[i].Z
	}
	res.Offset = sum / float64(len(inliers))
	res.Degenerate = true
	return res, nil
}

func (e *PlaneFit) fit(ctx context.Context, pts []mesh.Vertex) (PlaneEquation, []int, error) {
	var (
		bestNormal r3.Vector
		bestD      float64
		bestCount  = -1
	)
	n := len(pts)
	for it := 0; it < e.maxIterations; it++ {
		if it%64 == 0 {
			if err := ctx.Err(); err != nil {
				return PlaneEquation{}, nil, err
			}
		}
		i, j, k := e.sample(n)
		normal := pts[j].Sub(pts[i]).Cross(pts[k].Sub(pts[i]))
		norm := normal.Norm()
		if norm < collinearTolerance {
			continue
		}
		normal = normal.Mul(1 / norm)
		d := -normal.Dot(pts[i])

		count := 0
		for _, p := range pts {
			if math.Abs(normal.Dot(p)+d) <= e.threshold {
				count++
			}
		}
		if count > bestCount {
			bestNormal, bestD, bestCount = normal, d, count
		}
	}
	if bestCount < 0 {
		return PlaneEquation{}, nil, ErrNoPlane
	}

	inliers := collectInliers(pts, bestNormal, bestD, e.threshold)
	if refined, d, ok := refinePlane(pts, inliers); ok {
		bestNormal, bestD = refined, d
		if again := collectInliers(pts, bestNormal, bestD, e.threshold); len(again) >= len(inliers) {
			inliers = again
		}
	}

	// Orient the normal upward so A, B, C, D are reported consistently.
	if bestNormal.Z < 0 {
		bestNormal = bestNormal.Mul(-1)
		bestD = -bestD
	}
	return PlaneEquation{A: bestNormal.X, B: bestNormal.Y, C: bestNormal.Z, D: bestD}, inliers, nil
}

// sample draws three distinct indices below n.
func (e *PlaneFit) sample(n int) (int, int, int) {
	i := e.rng.IntN(n)
	j := e.rng.IntN(n - 1)
	if j >= i {
		j++
	}
	k := e.rng.IntN(n - 2)
	lo, hi := min(i, j), max(i, j)
	if k >= lo {
		k++
	}
	if k >= hi {
		k++
	}
	return i, j, k
}

func collectInliers(pts []mesh.Vertex, normal r3.Vector, d, threshold float64) []int {
	var inliers []int
	for idx, p := range pts {
		if math.Abs(normal.Dot(p)+d) <= threshold {
			inliers = append(inliers, idx)
		}
	}
	return inliers
}

// refinePlane fits a least-squares plane through the inliers: the normal is
// the right singular vector of the centred points with the smallest singular
// value.
func refinePlane(pts []mesh.Vertex, inliers []int) (r3.Vector, float64, bool) {
	if len(inliers) < 3 {
		return r3.Vector{}, 0, false
	}
	var centroid r3.Vector
	for _, i := range inliers {
		centroid = centroid.Add(pts[i])
	}
	centroid = centroid.Mul(1 / float64(len(inliers)))

	a := mat.NewDense(len(inliers), 3, nil)
	for row, i := range inliers {
		p := pts[i].Sub(centroid)
		a.Set(row, 0, p.X)
		a.Set(row, 1, p.Y)
		a.Set(row, 2, p.Z)
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return r3.Vector{}, 0, false
	}
	var v mat.Dense
	svd.VTo(&v)
	normal := r3.Vector{X: v.At(0, 2), Y: v.At(1, 2), Z: v.At(2, 2)}
	norm := normal.Norm()
	if norm == 0 || math.IsNaN(norm) {
		return r3.Vector{}, 0, false
	}
	normal = normal.Mul(1 / norm)
	return normal, -normal.Dot(centroid), true
}
