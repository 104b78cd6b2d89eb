// Package projection transforms coordinates with the OGR spatial reference
// bindings of GDAL.
package projection

import (
	"math"
	"sync"

	"github.com/lukeroth/gdal"
	"github.com/pkg/errors"
)

// GDAL projects single points between proj4-described systems. The zero value
// is ready to use and safe for concurrent use.
type GDAL struct {
	mu sync.Mutex
}

// New returns a GDAL projector.
func New() *GDAL { return &GDAL{} }

// Project transforms (x, y) from src to dst. Geographic systems take and return
// longitude first.
func (g *GDAL) Project(src, dst string, x, y float64) (float64, float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	from, err := spatialReference(src)
	if err != nil {
		return 0, 0, err
	}
	defer from.Destroy()
	to, err := spatialReference(dst)
	if err != nil {
		return 0, 0, err
	}
	defer to.Destroy()

	ct := gdal.CreateCoordinateTransform(from, to)
	defer ct.Destroy()

	xs, ys, zs := []float64{x}, []float64{y}, []float64{0}
	if !ct.Transform(1, xs, ys, zs) {
		return 0, 0, errors.Errorf("transform (%v, %v) from %q to %q failed", x, y, src, dst)
	}
	if math.IsNaN(xs[0]) || math.IsNaN(ys[0]) || math.IsInf(xs[0], 0) || math.IsInf(ys[0], 0) {
		return 0, 0, errors.Errorf("transform (%v, %v) from %q produced no finite result", x, y, src)
	}
	return xs[0], ys[0], nil
}

func spatialReference(proj4 string) (gdal.SpatialReference, error) {
	sr := gdal.CreateSpatialReference("")
	if err := sr.FromProj4(proj4); err != nil {
		sr.Destroy()
		return gdal.SpatialReference{}, errors.Wrapf(err, "spatial reference %q", proj4)
	}
	return sr, nil
}
