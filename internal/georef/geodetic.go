package georef

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/geoanchor/obj2kmz/internal/errdefs"
)

// WGS84ProjString is the geodetic target of every conversion.
const WGS84ProjString = "+proj=longlat +ellps=WGS84 +datum=WGS84 +no_defs"

// UTMProjString returns the projection parameters of a UTM zone.
func UTMProjString(zone int, h Hemisphere) string {
	return "+proj=utm +ellps=WGS84 +datum=WGS84 +units=m +no_defs +zone=" +
		strconv.Itoa(zone) + " +" + h.Keyword()
}

// Projector transforms one point between two coordinate systems described by
// proj4 strings. Geodetic coordinates are longitude first.
type Projector interface {
	Project(src, dst string, x, y float64) (float64, float64, error)
}

// ToGeodetic converts the anchor to WGS84 longitude/latitude.
func ToGeodetic(p Projector, a Anchor) (GeodeticPoint, error) {
	const op = "convert anchor to geodetic"
	if a.Zone < MinZone || a.Zone > MaxZone {
		return GeodeticPoint{}, errdefs.Georeferencing(op, errors.Errorf("zone %d outside %d..%d", a.Zone, MinZone, MaxZone))
	}
	if a.Hemisphere != North && a.Hemisphere != South {
		return GeodeticPoint{}, errdefs.Georeferencing(op, errors.Errorf("invalid hemisphere %d", int(a.Hemisphere)))
	}
	lon, lat, err := p.Project(UTMProjString(a.Zone, a.Hemisphere), WGS84ProjString, a.Easting, a.Northing)
	if err != nil {
		return GeodeticPoint{}, errdefs.Georeferencing(op, errors.Wrapf(err, "zone %s", a.ZoneLabel()))
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return GeodeticPoint{}, errdefs.Georeferencing(op,
			errors.Errorf("zone %s: result %v, %v is not a valid position", a.ZoneLabel(), lon, lat))
	}
	return GeodeticPoint{Longitude: lon, Latitude: lat}, nil
}
