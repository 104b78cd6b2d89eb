// Package assimp converts meshes to COLLADA with the assimp command line tool.
package assimp

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/geoanchor/obj2kmz/internal/errdefs"
)

const (
	DefaultBinary = "assimp"
	// maxDiagnostic bounds how much tool output is carried in an error.
	maxDiagnostic = 4096
)

// DefaultArgs exports COLLADA, triangulating, generating normals and merging
// meshes.
var DefaultArgs = []string{"-fcollada", "-tri", "-gn", "-om"}

// Converter runs "<Binary> export <src> <destDir>/<stem>.dae <Args...>".
type Converter struct {
	Binary string
	Args   []string
}

// New returns a Converter using binary, or DefaultBinary when empty, with
// DefaultArgs followed by extra.
func New(binary string, extra ...string) *Converter {
	if binary == "" {
		binary = DefaultBinary
	}
	args := append(append([]string(nil), DefaultArgs...), extra...)
	return &Converter{Binary: binary, Args: args}
}

// Convert exports src into destDir and returns the path of the .dae file.
// Failures carry the tool's combined output.
func (c *Converter) Convert(ctx context.Context, src, destDir string) (string, error) {
	const op = "convert mesh to COLLADA"
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	dst := filepath.Join(destDir, stem+".dae")

	binary := c.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	args := append([]string{"export", src, dst}, c.Args...)
	cmd := exec.CommandContext(ctx, binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", errdefs.ModelConversion(op, errors.Wrap(ctxErr, binary))
		}
		return "", errdefs.ModelConversion(op, errors.Wrapf(err, "%s export %s: %s", binary, filepath.Base(src), diagnostic(out)))
	}
	if info, statErr := os.Stat(dst); statErr != nil || info.Size() == 0 {
		return "", errdefs.ModelConversion(op,
			errors.Errorf("%s reported success but wrote no %s: %s", binary, filepath.Base(dst), diagnostic(out)))
	}
	return dst, nil
}

func diagnostic(out []byte) string {
	s := strings.TrimSpace(string(out))
	if s == "" {
		return "no output"
	}
	if len(s) > maxDiagnostic {
		s = "..." + s[len(s)-maxDiagnostic:]
	}
	return s
}
