package ground

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/geoanchor/obj2kmz/internal/mesh"
)

// DefaultPercentile sits below the true ground so that vegetation and
// structures above it and interior noise below it do not move the estimate.
const DefaultPercentile = 30.0

// Percentile reports a fixed low percentile of the vertex heights.
type Percentile struct {
	p float64
}

// NewPercentile returns a Percentile estimator for p in (0, 100]. A zero p
// selects DefaultPercentile.
func NewPercentile(p float64) (*Percentile, error) {
	if p == 0 {
		p = DefaultPercentile
	}
	if !(p > 0 && p <= 100) {
		return nil, errors.Errorf("percentile %v outside (0, 100]", p)
	}
	return &Percentile{p: p}, nil
}

func (e *Percentile) Name() string { return StrategyPercentile }

// Estimate returns the nearest-rank percentile of the vertex heights.
func (e *Percentile) Estimate(_ context.Context, vertices []mesh.Vertex) (Result, error) {
	if err := checkVertices(vertices); err != nil {
		return Result{}, err
	}
	zs := heights(vertices)
	sort.Float64s(zs)
	return Result{Offset: stat.Quantile(e.p/100, stat.Empirical, zs, nil)}, nil
}
