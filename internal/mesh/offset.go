package mesh

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/geoanchor/obj2kmz/internal/errdefs"
)

// RewriteLine subtracts offset from the Z coordinate of a vertex declaration.
// Every other line, including its terminator, is returned unchanged. On a
// vertex line only the Z token is reformatted; indentation, X, Y, trailing
// tokens (w or vertex colours) and the line terminator are kept as written.
func RewriteLine(line string, offset float64) (string, error) {
	body := strings.TrimRight(line, "\r\n")
	fields := strings.Fields(body)
	if !isVertexLine(fields) {
		return line, nil
	}
	v, err := parseVertexFields(fields)
	if err != nil {
		return "", err
	}

	indent := body[:len(body)-len(strings.TrimLeft(body, " \t"))]
	fields[3] = strconv.FormatFloat(v.Z-offset, 'f', -1, 64)

	var b strings.Builder
	b.Grow(len(line) + 8)
	b.WriteString(indent)
	b.WriteString(strings.Join(fields, " "))
	b.WriteString(line[len(body):])
	return b.String(), nil
}

// ApplyOffset copies the OBJ file at in to out, rewriting every vertex line
// with RewriteLine. The copy is written to a temporary file beside out and
// renamed into place only once the whole input has been processed, so a
// failure never leaves a file at out.
func ApplyOffset(in, out string, offset float64) error {
	const op = "apply vertical offset"

	src, err := os.Open(in)
	if err != nil {
		return errdefs.FileProcessing(op, errors.Wrap(err, "open input mesh"))
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(out), "."+filepath.Base(out)+".*.tmp")
	if err != nil {
		return errdefs.FileProcessing(op, errors.Wrap(err, "create output mesh"))
	}
	published := false
	defer func() {
		if !published {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := rewriteStream(src, tmp, offset); err != nil {
		return errdefs.FileProcessing(op, err)
	}
	if err := tmp.Close(); err != nil {
		return errdefs.FileProcessing(op, errors.Wrap(err, "close output mesh"))
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return errdefs.FileProcessing(op, errors.Wrap(err, "publish output mesh"))
	}
	published = true
	return nil
}

func rewriteStream(r io.Reader, w io.Writer, offset float64) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	for lineNum := 1; ; lineNum++ {
		line, readErr := br.ReadString('\n')
		if len(line) > 0 {
			rewritten, err := RewriteLine(line, offset)
			if err != nil {
				return &LineError{Line: lineNum, Text: strings.TrimRight(line, "\r\n"), Err: err}
			}
			if _, err := bw.WriteString(rewritten); err != nil {
				return errors.Wrap(err, "write output mesh")
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errors.Wrap(readErr, "read input mesh")
		}
	}
	return errors.Wrap(bw.Flush(), "flush output mesh")
}
