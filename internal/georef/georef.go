// Package georef reads the two-line georeferencing descriptor that accompanies
// a scanned mesh and converts its UTM anchor to WGS84 longitude/latitude.
package georef

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/geoanchor/obj2kmz/internal/errdefs"
)

const (
	MinZone = 1
	MaxZone = 60
)

// Hemisphere is either North or South.
type Hemisphere int

const (
	North Hemisphere = iota
	South
)

// Code is the letter used in the descriptor file.
func (h Hemisphere) Code() byte {
	if h == South {
		return 'S'
	}
	return 'N'
}

// Keyword is the projection parameter selecting the hemisphere.
func (h Hemisphere) Keyword() string {
	if h == South {
		return "south"
	}
	return "north"
}

func (h Hemisphere) String() string { return h.Keyword() }

// HemisphereFromCode maps 'N' and 'S' to their Hemisphere. Lower case is not
// accepted.
func HemisphereFromCode(c byte) (Hemisphere, error) {
	switch c {
	case 'N':
		return North, nil
	case 'S':
		return South, nil
	}
	return 0, errors.Errorf("hemisphere %q is not N or S", c)
}

// Anchor is a point in a UTM zone.
type Anchor struct {
	Easting    float64
	Northing   float64
	Zone       int
	Hemisphere Hemisphere
}

// ZoneLabel renders the zone as it appears in the descriptor, e.g. "35N".
func (a Anchor) ZoneLabel() string {
	return strconv.Itoa(a.Zone) + string(a.Hemisphere.Code())
}

// GeodeticPoint is a WGS84 position in decimal degrees.
type GeodeticPoint struct {
	Longitude float64
	Latitude  float64
}

// ReadFile parses the descriptor at path.
func ReadFile(path string) (Anchor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Anchor{}, errdefs.Georeferencing("read georeference", errors.Wrap(err, "open"))
	}
	defer f.Close()
	a, err := Parse(f)
	if err != nil {
		return Anchor{}, errors.Wrap(err, path)
	}
	return a, nil
}

// Parse reads a descriptor of the form
//
//	WGS84 UTM 35N
//	500000.0 4649776.0
//
// The last token of the first line carries the zone and hemisphere; the second
// line holds exactly easting and northing.
func Parse(r io.Reader) (Anchor, error) {
	const op = "parse georeference"
	sc := bufio.NewScanner(r)

	label, ok := nextLine(sc)
	if !ok {
		return Anchor{}, errdefs.Georeferencing(op, scanErr(sc, "missing coordinate system line"))
	}
	coords, ok := nextLine(sc)
	if !ok {
		return Anchor{}, errdefs.Georeferencing(op, scanErr(sc, "missing coordinate line"))
	}

	labelFields := strings.Fields(label)
	if len(labelFields) == 0 {
		return Anchor{}, errdefs.Georeferencing(op, errors.New("coordinate system line is empty"))
	}
	zone, hemi, err := parseZone(labelFields[len(labelFields)-1])
	if err != nil {
		return Anchor{}, errdefs.Georeferencing(op, err)
	}

	fields := strings.Fields(coords)
	if len(fields) != 2 {
		return Anchor{}, errdefs.Georeferencing(op,
			errors.Errorf("coordinate line %q: want easting and northing, got %d values", coords, len(fields)))
	}
	easting, err := parseCoordinate("easting", fields[0])
	if err != nil {
		return Anchor{}, errdefs.Georeferencing(op, err)
	}
	northing, err := parseCoordinate("northing", fields[1])
	if err != nil {
		return Anchor{}, errdefs.Georeferencing(op, err)
	}

	return Anchor{Easting: easting, Northing: northing, Zone: zone, Hemisphere: hemi}, nil
}

// Format writes a in the descriptor layout read by Parse.
func Format(a Anchor) string {
	var b strings.Builder
	b.WriteString("WGS84 UTM ")
	b.WriteString(a.ZoneLabel())
	b.WriteByte('\n')
	b.WriteString(strconv.FormatFloat(a.Easting, 'f', -1, 64))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatFloat(a.Northing, 'f', -1, 64))
	b.WriteByte('\n')
	return b.String()
}

// nextLine returns the next line, trimmed of surrounding white space and a
// UTF-8 byte order mark.
func nextLine(sc *bufio.Scanner) (string, bool) {
	if !sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff")), true
}

func scanErr(sc *bufio.Scanner, msg string) error {
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, msg)
	}
	return errors.New(msg)
}

func parseZone(token string) (int, Hemisphere, error) {
	if len(token) < 2 {
		return 0, 0, errors.Errorf("zone token %q: want <zone><N|S>", token)
	}
	digits, code := token[:len(token)-1], token[len(token)-1]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, 0, errors.Errorf("zone token %q: zone must be digits", token)
		}
	}
	zone, err := strconv.Atoi(digits)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "zone token %q", token)
	}
	if zone < MinZone || zone > MaxZone {
		return 0, 0, errors.Errorf("zone %d outside %d..%d", zone, MinZone, MaxZone)
	}
	hemi, err := HemisphereFromCode(code)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "zone token %q", token)
	}
	return zone, hemi, nil
}

func parseCoordinate(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Errorf("%s %q is not a number", name, s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Errorf("%s %q is not finite", name, s)
	}
	return v, nil
}
