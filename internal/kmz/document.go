// Package kmz writes a placed 3D model as a KMZ archive.
package kmz

import (
	"io"

	"github.com/twpayne/go-kml"
)

// DocumentName is the placement document at the archive root.
const DocumentName = "doc.kml"

// Default orientation: the model lies flat, viewed from above.
const (
	DefaultHeading = 180.0
	DefaultTilt    = -90.0
	DefaultRoll    = 0.0
)

// Orientation angles in degrees.
type Orientation struct {
	Heading float64
	Tilt    float64
	Roll    float64
}

func DefaultOrientation() Orientation {
	return Orientation{Heading: DefaultHeading, Tilt: DefaultTilt, Roll: DefaultRoll}
}

// AltitudeMode values understood by viewers.
const (
	RelativeToGround = "relativeToGround"
	Absolute         = "absolute"
	ClampToGround    = "clampToGround"
)

// Placement anchors a model at a WGS84 position.
type Placement struct {
	Name         string
	Longitude    float64
	Latitude     float64
	Altitude     float64
	AltitudeMode string
	// ModelHref is the model's path inside the archive.
	ModelHref   string
	Orientation Orientation
}

func (p Placement) altitudeMode() kml.AltitudeModeEnum {
	switch p.AltitudeMode {
	case Absolute:
		return kml.AltitudeModeAbsolute
	case ClampToGround:
		return kml.AltitudeModeClampToGround
	}
	return kml.AltitudeModeRelativeToGround
}

// Document builds the KML tree of a single model placemark.
func (p Placement) Document() *kml.CompoundElement {
	name := p.Name
	if name == "" {
		name = p.ModelHref
	}
	return kml.KML(
		kml.Document(
			kml.Name(name),
			kml.Placemark(
				kml.Name(name),
				kml.Model(
					kml.AltitudeMode(p.altitudeMode()),
					kml.Location(
						kml.Longitude(p.Longitude),
						kml.Latitude(p.Latitude),
						kml.Altitude(p.Altitude),
					),
					kml.Orientation(
						kml.Heading(p.Orientation.Heading),
						kml.Tilt(p.Orientation.Tilt),
						kml.Roll(p.Orientation.Roll),
					),
					kml.Link(
						kml.Href(p.ModelHref),
					),
				),
			),
		),
	)
}

// WriteDocument writes the XML header and the indented placement document
// to w.
func (p Placement) WriteDocument(w io.Writer) error {
	return p.Document().WriteIndent(w, "", "  ")
}
