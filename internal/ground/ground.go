// Package ground estimates the vertical offset that maps a scanned mesh's
// ground level to elevation zero.
package ground

import (
	"context"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/geoanchor/obj2kmz/internal/mesh"
)

// Strategy names accepted by New.
const (
	StrategyPercentile = "percentile"
	StrategyRANSAC     = "ransac"
	StrategyHistogram  = "histogram"
)

// ErrNoVertices is returned when there is nothing to estimate from.
var ErrNoVertices = errors.New("no vertices to estimate ground level from")

// ErrNonFinite is returned when a vertex coordinate is NaN or infinite.
var ErrNonFinite = errors.New("vertex coordinate is not finite")

// PlaneEquation holds the coefficients of A*x + B*y + C*z + D = 0.
type PlaneEquation struct {
	A, B, C, D float64
}

// Result is the outcome of an estimation.
type Result struct {
	// Offset is the Z value in the mesh frame that maps to ground level.
	Offset float64
	// Plane and Inliers are set by plane-fitting strategies only.
	Plane   *PlaneEquation
	Inliers []int
	// Degenerate reports that the fitted plane was near vertical and Offset
	// fell back to the mean inlier height.
	Degenerate bool
}

// Estimator computes a vertical offset from a vertex sequence.
type Estimator interface {
	Name() string
	Estimate(ctx context.Context, vertices []mesh.Vertex) (Result, error)
}

// Config selects and tunes an Estimator.
type Config struct {
	Strategy      string
	Percentile    float64 // 0..100, percentile strategy
	Threshold     float64 // inlier distance, ransac strategy
	MaxIterations int     // ransac strategy
	Seed          uint64  // ransac strategy; 0 seeds from the clock
	Bins          int     // histogram strategy
}

// DefaultConfig returns the percentile strategy with its customary settings.
func DefaultConfig() Config {
	return Config{
		Strategy:      StrategyPercentile,
		Percentile:    DefaultPercentile,
		Threshold:     DefaultThreshold,
		MaxIterations: DefaultMaxIterations,
		Bins:          DefaultBins,
	}
}

// New returns the Estimator named by cfg.Strategy.
func New(cfg Config) (Estimator, error) {
	switch strings.ToLower(cfg.Strategy) {
	case "", StrategyPercentile:
		return NewPercentile(cfg.Percentile)
	case StrategyRANSAC:
		return NewPlaneFit(cfg.Threshold, cfg.MaxIterations, cfg.Seed)
	case StrategyHistogram:
		return NewHistogram(cfg.Bins), nil
	}
	return nil, errors.Errorf("unknown ground strategy %q", cfg.Strategy)
}

func heights(vertices []mesh.Vertex) []float64 {
	zs := make([]float64, len(vertices))
	for i, v := range vertices {
		zs[i] = v.Z
	}
	return zs
}

// checkVertices rejects an empty set and any vertex with a NaN or infinite
// coordinate.
func checkVertices(vertices []mesh.Vertex) error {
	if len(vertices) == 0 {
		return ErrNoVertices
	}
	for i, v := range vertices {
		for _, c := range [3]float64{v.X, v.Y, v.Z} {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return errors.Wrapf(ErrNonFinite, "vertex %d", i)
			}
		}
	}
	return nil
}
