// Package terrain samples ground elevation from a digital terrain model
// raster.
package terrain

import (
	"math"
	"sync"

	"github.com/lukeroth/gdal"
	"github.com/pkg/errors"
)

// ErrOutOfBounds is returned for points outside the raster.
var ErrOutOfBounds = errors.New("point outside DTM bounds")

// ErrNoData is returned when the sampled cell holds the NoData value.
var ErrNoData = errors.New("no elevation data at point")

// Sampler returns the ground elevation at a point in the raster's coordinate
// system.
type Sampler interface {
	ElevationAt(x, y float64) (float64, error)
}

// raster reads a window of the first band as float64 values, row major.
type raster interface {
	Size() (width, height int)
	Read(x, y, w, h int, buf []float64) error
	Close()
}

// DTM is an elevation raster with its affine geotransform.
type DTM struct {
	mu        sync.Mutex
	src       raster
	transform [6]float64
	noData    float64
	hasNoData bool
}

// Info describes an opened DTM.
type Info struct {
	Width, Height int
	OriginX       float64
	OriginY       float64
	PixelWidth    float64
	PixelHeight   float64
	NoData        float64
	HasNoData     bool
}

// Open loads the raster at path. The caller must Close it.
func Open(path string) (*DTM, error) {
	ds, err := gdal.Open(path, gdal.ReadOnly)
	if err != nil {
		return nil, errors.Wrapf(err, "open DTM %s", path)
	}
	if ds.RasterCount() < 1 {
		ds.Close()
		return nil, errors.Errorf("DTM %s has no raster bands", path)
	}
	band := ds.RasterBand(1)
	noData, hasNoData := band.NoDataValue()
	return newDTM(&gdalRaster{ds: ds, band: band}, ds.GeoTransform(), noData, hasNoData)
}

func newDTM(src raster, gt [6]float64, noData float64, hasNoData bool) (*DTM, error) {
	if gt[1]*gt[5]-gt[2]*gt[4] == 0 {
		src.Close()
		return nil, errors.New("DTM geotransform is not invertible")
	}
	return &DTM{src: src, transform: gt, noData: noData, hasNoData: hasNoData}, nil
}

func (d *DTM) Info() Info {
	w, h := d.src.Size()
	return Info{
		Width:       w,
		Height:      h,
		OriginX:     d.transform[0],
		OriginY:     d.transform[3],
		PixelWidth:  d.transform[1],
		PixelHeight: d.transform[5],
		NoData:      d.noData,
		HasNoData:   d.hasNoData,
	}
}

func (d *DTM) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.src != nil {
		d.src.Close()
		d.src = nil
	}
}

// ElevationAt interpolates bilinearly between the four cells around (x, y).
// At the raster edge, or when any of the four cells is NoData, it falls back
// to the containing cell.
func (d *DTM) ElevationAt(x, y float64) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.src == nil {
		return 0, errors.New("DTM is closed")
	}

	px, py := d.pixel(x, y)
	x1, y1 := int(math.Floor(px)), int(math.Floor(py))
	w, h := d.src.Size()
	if x1 < 0 || x1+1 >= w || y1 < 0 || y1+1 >= h {
		return d.nearest(x, y)
	}

	var cells [4]float64
	if err := d.src.Read(x1, y1, 2, 2, cells[:]); err != nil {
		return 0, errors.Wrap(err, "read DTM window")
	}
	for _, v := range cells {
		if d.isNoData(v) {
			return d.nearest(x, y)
		}
	}

	fx, fy := px-float64(x1), py-float64(y1)
	top := cells[0]*(1-fx) + cells[1]*fx
	bottom := cells[2]*(1-fx) + cells[3]*fx
	return top*(1-fy) + bottom*fy, nil
}

// nearest reads the cell containing (x, y).
func (d *DTM) nearest(x, y float64) (float64, error) {
	px, py := d.pixel(x, y)
	cx, cy := int(math.Floor(px)), int(math.Floor(py))
	w, h := d.src.Size()
	if cx < 0 || cx >= w || cy < 0 || cy >= h {
		return 0, errors.Wrapf(ErrOutOfBounds, "(%.3f, %.3f)", x, y)
	}
	var cell [1]float64
	if err := d.src.Read(cx, cy, 1, 1, cell[:]); err != nil {
		return 0, errors.Wrap(err, "read DTM cell")
	}
	if d.isNoData(cell[0]) {
		return 0, errors.Wrapf(ErrNoData, "(%.3f, %.3f)", x, y)
	}
	return cell[0], nil
}

// pixel applies the inverse geotransform.
func (d *DTM) pixel(x, y float64) (float64, float64) {
	gt := d.transform
	det := gt[1]*gt[5] - gt[2]*gt[4]
	px := ((x-gt[0])*gt[5] - (y-gt[3])*gt[2]) / det
	py := ((y-gt[3])*gt[1] - (x-gt[0])*gt[4]) / det
	return px, py
}

func (d *DTM) isNoData(v float64) bool {
	return math.IsNaN(v) || (d.hasNoData && v == d.noData)
}

type gdalRaster struct {
	ds   gdal.Dataset
	band gdal.RasterBand
}

func (r *gdalRaster) Size() (int, int) { return r.ds.RasterXSize(), r.ds.RasterYSize() }

func (r *gdalRaster) Read(x, y, w, h int, buf []float64) error {
	return r.band.IO(gdal.Read, x, y, w, h, buf, w, h, 0, 0)
}

func (r *gdalRaster) Close() { r.ds.Close() }
