// Package mesh reads and rewrites wavefront OBJ geometry.
package mesh

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// VertexKeyword is the first field of a vertex declaration line.
const VertexKeyword = "v"

// Vertex is a position in the mesh's local frame.
type Vertex = r3.Vector

// Mode selects how malformed vertex lines are handled during extraction.
type Mode int

const (
	// Strict fails on the first malformed vertex line.
	Strict Mode = iota
	// Tolerant skips malformed vertex lines.
	Tolerant
)

// LineError reports a malformed line together with its 1-based position.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// ErrTooFewCoordinates is returned for vertex lines with fewer than three
// coordinates.
var ErrTooFewCoordinates = errors.New("vertex declaration needs x, y and z")

// ErrNonFinite is returned for vertex coordinates that are NaN or infinite.
var ErrNonFinite = errors.New("coordinate is not finite")

// isVertexLine reports whether the trimmed line declares a geometric vertex.
func isVertexLine(fields []string) bool {
	return len(fields) > 0 && fields[0] == VertexKeyword
}

// parseVertexFields parses the coordinates of a split vertex line.
func parseVertexFields(fields []string) (Vertex, error) {
	if len(fields) < 4 {
		return Vertex{}, ErrTooFewCoordinates
	}
	var xyz [3]float64
	for i := range xyz {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return Vertex{}, errors.Wrapf(err, "coordinate %d", i+1)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Vertex{}, errors.Wrapf(ErrNonFinite, "coordinate %d", i+1)
		}
		xyz[i] = v
	}
	return Vertex{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

// ParseVertex parses a single vertex declaration line such as "v 1 2 3".
func ParseVertex(line string) (Vertex, error) {
	fields := strings.Fields(line)
	if !isVertexLine(fields) {
		return Vertex{}, errors.Errorf("not a vertex declaration: %q", line)
	}
	return parseVertexFields(fields)
}

// ScanOptions tunes Vertices.
type ScanOptions struct {
	Mode Mode
	// OnSkip is called for every line dropped in Tolerant mode.
	OnSkip func(*LineError)
}

// Vertices returns a lazy sequence over the vertex declarations of the OBJ
// file at path. Each range over the sequence reopens the file. Iteration
// stops after the first yielded error.
func Vertices(path string, opts ScanOptions) iter.Seq2[Vertex, error] {
	return func(yield func(Vertex, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(Vertex{}, errors.Wrap(err, "open mesh"))
			return
		}
		defer f.Close()
		scanVertices(f, opts, yield)
	}
}

func scanVertices(r io.Reader, opts ScanOptions, yield func(Vertex, error) bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		fields := strings.Fields(line)
		if !isVertexLine(fields) {
			continue
		}
		v, err := parseVertexFields(fields)
		if err != nil {
			lerr := &LineError{Line: lineNum, Text: line, Err: err}
			if opts.Mode == Tolerant {
				if opts.OnSkip != nil {
					opts.OnSkip(lerr)
				}
				continue
			}
			yield(Vertex{}, lerr)
			return
		}
		if !yield(v, nil) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		yield(Vertex{}, errors.Wrap(err, "read mesh"))
	}
}

// ReadVertices collects every vertex of the OBJ file at path.
func ReadVertices(path string, opts ScanOptions) ([]Vertex, error) {
	var vertices []Vertex
	for v, err := range Vertices(path, opts) {
		if err != nil {
			return nil, err
		}
		vertices = append(vertices, v)
	}
	return vertices, nil
}
