package kmz

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"

	"github.com/mholt/archives"
	"github.com/pkg/errors"

	"github.com/geoanchor/obj2kmz/internal/errdefs"
)

// Packager writes KMZ archives: the placement document, the model and its
// textures, all at the archive root.
type Packager struct {
	// Skipped is called for each texture left out of the archive.
	Skipped func(path string, reason error)
}

// Pack writes the archive to out and returns out. The model's base name
// becomes the placement's ModelHref when that is empty. Textures that are
// missing or whose base name is already taken are skipped.
func (p *Packager) Pack(ctx context.Context, placement Placement, modelPath string, textures []string, out string) (string, error) {
	const op = "write KMZ"
	if _, err := os.Stat(modelPath); err != nil {
		return "", errdefs.Packaging(op, errors.Wrap(err, "model"))
	}

	modelName := filepath.Base(modelPath)
	if placement.ModelHref == "" {
		placement.ModelHref = modelName
	}

	staging, err := os.MkdirTemp("", "obj2kmz-kml-*")
	if err != nil {
		return "", errdefs.Packaging(op, errors.Wrap(err, "stage placement document"))
	}
	defer os.RemoveAll(staging)

	docPath := filepath.Join(staging, DocumentName)
	if err := writeDocument(docPath, placement); err != nil {
		return "", errdefs.Packaging(op, err)
	}

	entries := map[string]string{
		docPath:   DocumentName,
		modelPath: modelName,
	}
	taken := map[string]bool{DocumentName: true, modelName: true}
	for _, tex := range textures {
		name := filepath.Base(tex)
		if taken[name] {
			p.skip(tex, errors.Errorf("archive already holds %s", name))
			continue
		}
		if info, err := os.Stat(tex); err != nil || info.IsDir() {
			if err == nil {
				err = errors.New("is a directory")
			}
			p.skip(tex, err)
			continue
		}
		entries[tex] = name
		taken[name] = true
	}

	files, err := archives.FilesFromDisk(ctx, nil, entries)
	if err != nil {
		return "", errdefs.Packaging(op, errors.Wrap(err, "collect archive entries"))
	}

	if err := writeArchive(ctx, out, files); err != nil {
		return "", errdefs.Packaging(op, err)
	}
	return out, nil
}

func (p *Packager) skip(path string, reason error) {
	if p.Skipped != nil {
		p.Skipped(path, reason)
	}
}

func writeDocument(path string, placement Placement) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create placement document")
	}
	if err := placement.WriteDocument(f); err != nil {
		f.Close()
		return errors.Wrap(err, "encode placement document")
	}
	return errors.Wrap(f.Close(), "close placement document")
}

// writeArchive compresses files into a temporary sibling of out and renames
// it into place once complete.
func writeArchive(ctx context.Context, out string, files []archives.FileInfo) error {
	tmp, err := os.CreateTemp(filepath.Dir(out), "."+filepath.Base(out)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "create %s", out)
	}
	tmpName := tmp.Name()
	published := false
	defer func() {
		if !published {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	format := archives.Zip{Compression: zip.Deflate}
	if err := format.Archive(ctx, tmp, files); err != nil {
		return errors.Wrapf(err, "compress %s", out)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", out)
	}
	if err := os.Rename(tmpName, out); err != nil {
		return errors.Wrapf(err, "publish %s", out)
	}
	published = true
	return nil
}
