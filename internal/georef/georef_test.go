package georef

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/geoanchor/obj2kmz/internal/errdefs"
)

func TestParse(t *testing.T) {
	a, err := Parse(strings.NewReader("WGS84 UTM 35N\n500000.0 4649776.0\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Anchor{Easting: 500000, Northing: 4649776, Zone: 35, Hemisphere: North}
	if a != want {
		t.Fatalf("got %+v, want %+v", a, want)
	}
}

func TestParseTolerantLayout(t *testing.T) {
	in := "\ufeff  ETRS89 / UTM zone 07S \r\n\t-12.5   7.25e6  \r\n"
	a, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.Zone != 7 || a.Hemisphere != South || a.Easting != -12.5 || a.Northing != 7.25e6 {
		t.Fatalf("got %+v", a)
	}
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"empty":               "",
		"missing coordinates": "WGS84 UTM 35N\n",
		"blank label":         "   \n1 2\n",
		"no hemisphere":       "WGS84 UTM 35\n1 2\n",
		"lower case":          "WGS84 UTM 35n\n1 2\n",
		"other letter":        "WGS84 UTM 35E\n1 2\n",
		"no zone digits":      "WGS84 UTM N\n1 2\n",
		"zone with sign":      "WGS84 UTM +35N\n1 2\n",
		"zone zero":           "WGS84 UTM 0N\n1 2\n",
		"zone too large":      "WGS84 UTM 61S\n1 2\n",
		"one coordinate":      "WGS84 UTM 35N\n500000\n",
		"three coordinates":   "WGS84 UTM 35N\n1 2 3\n",
		"not a number":        "WGS84 UTM 35N\n500000 north\n",
		"nan":                 "WGS84 UTM 35N\nNaN 1\n",
		"infinite":            "WGS84 UTM 35N\n1 +Inf\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(in))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errdefs.Is(err, errdefs.KindGeoreferencing) {
				t.Fatalf("got %v, want a georeferencing error", err)
			}
		})
	}
}

func TestFormatRoundTrip(t *testing.T) {
	for zone := MinZone; zone <= MaxZone; zone++ {
		for _, h := range []Hemisphere{North, South} {
			a := Anchor{Easting: 166021.4431 + float64(zone), Northing: 0.1 * float64(zone*zone), Zone: zone, Hemisphere: h}
			got, err := Parse(strings.NewReader(Format(a)))
			if err != nil {
				t.Fatalf("%s: %v", a.ZoneLabel(), err)
			}
			if got != a {
				t.Fatalf("%s: got %+v, want %+v", a.ZoneLabel(), got, a)
			}
		}
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.txt")
	if err := os.WriteFile(path, []byte("WGS84 UTM 34S\n1 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := ReadFile(path)
	if err != nil || a.Zone != 34 || a.Hemisphere != South {
		t.Fatalf("got %+v, %v", a, err)
	}

	_, err = ReadFile(filepath.Join(dir, "missing.txt"))
	if !errdefs.Is(err, errdefs.KindGeoreferencing) {
		t.Fatalf("missing file: got %v", err)
	}
}

func TestHemisphere(t *testing.T) {
	if North.Code() != 'N' || North.Keyword() != "north" {
		t.Error("north")
	}
	if South.Code() != 'S' || South.Keyword() != "south" {
		t.Error("south")
	}
	for _, h := range []Hemisphere{North, South} {
		got, err := HemisphereFromCode(h.Code())
		if err != nil || got != h {
			t.Errorf("%v: got %v, %v", h, got, err)
		}
	}
}

type recordingProjector struct {
	src, dst string
	x, y     float64
	lon, lat float64
	err      error
}

func (p *recordingProjector) Project(src, dst string, x, y float64) (float64, float64, error) {
	p.src, p.dst, p.x, p.y = src, dst, x, y
	return p.lon, p.lat, p.err
}

func TestToGeodetic(t *testing.T) {
	p := &recordingProjector{lon: 27, lat: 42}
	pt, err := ToGeodetic(p, Anchor{Easting: 500000, Northing: 4649776, Zone: 35, Hemisphere: North})
	if err != nil {
		t.Fatalf("ToGeodetic: %v", err)
	}
	if pt != (GeodeticPoint{Longitude: 27, Latitude: 42}) {
		t.Fatalf("got %+v", pt)
	}
	if p.src != "+proj=utm +ellps=WGS84 +datum=WGS84 +units=m +no_defs +zone=35 +north" {
		t.Errorf("source %q", p.src)
	}
	if p.dst != WGS84ProjString {
		t.Errorf("target %q", p.dst)
	}
	if p.x != 500000 || p.y != 4649776 {
		t.Errorf("point %v, %v", p.x, p.y)
	}

	if _, err := ToGeodetic(p, Anchor{Zone: 12, Hemisphere: South}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(p.src, "+zone=12 +south") {
		t.Errorf("south source %q", p.src)
	}
}

func TestToGeodeticErrors(t *testing.T) {
	cases := []struct {
		name string
		p    *recordingProjector
		a    Anchor
	}{
		{"zone", &recordingProjector{}, Anchor{Zone: 0}},
		{"hemisphere", &recordingProjector{}, Anchor{Zone: 3, Hemisphere: Hemisphere(7)}},
		{"projector", &recordingProjector{err: errors.New("boom")}, Anchor{Zone: 3}},
		{"out of range", &recordingProjector{lon: 400}, Anchor{Zone: 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ToGeodetic(tc.p, tc.a)
			if !errdefs.Is(err, errdefs.KindGeoreferencing) {
				t.Fatalf("got %v", err)
			}
		})
	}
}

func ExampleFormat() {
	fmt.Print(Format(Anchor{Easting: 500000, Northing: 4649776, Zone: 35, Hemisphere: North}))
	// Output:
	// WGS84 UTM 35N
	// 500000 4649776
}
