// Package bundle unpacks archived scan deliveries: one OBJ mesh with its
// material library and textures, packed as zip, tar (optionally compressed),
// 7z or rar.
package bundle

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mholt/archives"
	"github.com/pkg/errors"
)

// ErrNoMesh is returned when a bundle contains no .obj file.
var ErrNoMesh = errors.New("bundle contains no .obj mesh")

// IsArchive reports whether path holds an archive format that can be
// extracted. Plain files, including meshes, report false.
func IsArchive(ctx context.Context, path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, errors.Wrap(err, "open")
	}
	defer f.Close()

	format, _, err := archives.Identify(ctx, filepath.Base(path), f)
	if errors.Is(err, archives.NoMatch) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "identify %s", path)
	}
	_, ok := format.(archives.Extractor)
	return ok, nil
}

// Extract unpacks archivePath below destDir and returns the path of the single
// .obj mesh it holds.
func Extract(ctx context.Context, archivePath, destDir string) (string, error) {
	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return "", errors.Wrapf(err, "open bundle %s", archivePath)
	}

	var meshes []string
	err = fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if isMetadata(path) {
			return nil
		}
		dst, err := target(destDir, path)
		if err != nil {
			return err
		}
		if err := copyEntry(fsys, path, dst); err != nil {
			return err
		}
		if strings.EqualFold(filepath.Ext(path), ".obj") {
			meshes = append(meshes, dst)
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "extract bundle %s", archivePath)
	}

	switch len(meshes) {
	case 0:
		return "", errors.Wrap(ErrNoMesh, archivePath)
	case 1:
		return meshes[0], nil
	}
	sort.Strings(meshes)
	return "", errors.Errorf("bundle %s holds %d meshes, want one: %s", archivePath, len(meshes), strings.Join(meshes, ", "))
}

// target maps an archive entry below destDir, refusing entries that would
// escape it.
func target(destDir, name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", errors.Errorf("unsafe entry name %q", name)
	}
	dst := filepath.Join(destDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(destDir, dst)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("entry %q escapes the extraction directory", name)
	}
	return dst, nil
}

func copyEntry(fsys fs.FS, name, dst string) error {
	in, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "extract %s", name)
	}
	return out.Close()
}

// isMetadata skips resource forks and similar entries added by archivers.
func isMetadata(name string) bool {
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(filepath.Base(name), "._")
}
