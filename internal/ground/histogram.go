package ground

import (
	"context"

	"github.com/geoanchor/obj2kmz/internal/mesh"
)

// DefaultBins is the number of height bins used by Histogram.
const DefaultBins = 50

// significantFraction of the tallest bin a bin must exceed to count as ground.
const significantFraction = 0.1

// Histogram picks the lowest significantly populated height bin.
type Histogram struct {
	bins int
}

func NewHistogram(bins int) *Histogram {
	if bins <= 0 {
		bins = DefaultBins
	}
	return &Histogram{bins: bins}
}

func (e *Histogram) Name() string { return StrategyHistogram }

func (e *Histogram) Estimate(_ context.Context, vertices []mesh.Vertex) (Result, error) {
	if err := checkVertices(vertices); err != nil {
		return Result{}, err
	}

	minZ, maxZ := vertices[0].Z, vertices[0].Z
	for _, v := range vertices {
		minZ = min(minZ, v.Z)
		maxZ = max(maxZ, v.Z)
	}
	binWidth := (maxZ - minZ) / float64(e.bins)
	if binWidth == 0 {
		return Result{Offset: minZ}, nil
	}

	hist := make([]int, e.bins)
	for _, v := range vertices {
		i := int((v.Z - minZ) / binWidth)
		if i >= e.bins {
			i = e.bins - 1
		}
		hist[i]++
	}

	peak := 0
	for _, n := range hist {
		peak = max(peak, n)
	}
	threshold := float64(peak) * significantFraction
	for i, n := range hist {
		if float64(n) > threshold {
			return Result{Offset: minZ + float64(i)*binWidth}, nil
		}
	}
	return Result{Offset: minZ}, nil
}
