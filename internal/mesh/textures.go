package mesh

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

const (
	materialLibraryKeyword = "mtllib"
	diffuseMapKeyword      = "map_Kd"
)

// MaterialLibrary returns the file named by the first mtllib statement of the
// OBJ file at path, or "" when there is none.
func MaterialLibrary(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open mesh")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if name, ok := statementArg(scanner.Text(), materialLibraryKeyword); ok {
			return name, nil
		}
	}
	return "", errors.Wrap(scanner.Err(), "read mesh")
}

// DiscoverTextures returns the diffuse textures referenced by the material
// library of the OBJ file at path. Paths are relative to the mesh directory,
// deduplicated and sorted. A missing material library or texture file is
// not an error; it is simply left out.
func DiscoverTextures(path string) ([]string, error) {
	mtl, err := MaterialLibrary(path)
	if err != nil {
		return nil, err
	}
	if mtl == "" {
		return nil, nil
	}

	dir := filepath.Dir(path)
	refs, err := diffuseMaps(filepath.Join(dir, mtl))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	seen := make(map[string]struct{}, len(refs))
	var textures []string
	for _, ref := range refs {
		rel, ok := resolveTexture(dir, ref)
		if !ok {
			continue
		}
		if _, dup := seen[rel]; dup {
			continue
		}
		seen[rel] = struct{}{}
		textures = append(textures, rel)
	}
	slices.Sort(textures)
	return textures, nil
}

// StageMaterialLibrary copies the material library referenced by the mesh at
// meshPath into destDir, keeping its relative name, so that a rewritten copy
// of the mesh placed in destDir still resolves its materials. It returns the
// staged path, or "" when the mesh references no existing library.
func StageMaterialLibrary(meshPath, destDir string) (string, error) {
	mtl, err := MaterialLibrary(meshPath)
	if err != nil || mtl == "" {
		return "", err
	}
	src := filepath.Join(filepath.Dir(meshPath), mtl)
	if !fileExists(src) {
		return "", nil
	}
	dst := filepath.Join(destDir, mtl)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errors.Wrap(err, "create material directory")
	}
	return dst, copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open material library")
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "create staged material library")
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrap(err, "copy material library")
	}
	return errors.Wrap(out.Close(), "close staged material library")
}

func diffuseMaps(mtlPath string) ([]string, error) {
	f, err := os.Open(mtlPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var refs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		arg, ok := statementArg(scanner.Text(), diffuseMapKeyword)
		if !ok {
			continue
		}
		// map_Kd may carry options such as "-s 1 1 1 -o 0 0 0 tex.png".
		if strings.HasPrefix(arg, "-") {
			fields := strings.Fields(arg)
			arg = fields[len(fields)-1]
		}
		refs = append(refs, filepath.FromSlash(strings.ReplaceAll(arg, `\`, "/")))
	}
	return refs, errors.Wrap(scanner.Err(), "read material library")
}

// resolveTexture checks ref exists below dir, falling back to its base name.
func resolveTexture(dir, ref string) (string, bool) {
	if fileExists(filepath.Join(dir, ref)) {
		return ref, true
	}
	base := filepath.Base(ref)
	if base != ref && fileExists(filepath.Join(dir, base)) {
		return base, true
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// statementArg returns the remainder of line when it starts with keyword
// followed by whitespace.
func statementArg(line, keyword string) (string, bool) {
	line = strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(line, keyword) {
		return "", false
	}
	rest := line[len(keyword):]
	if rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
		return "", false
	}
	arg := strings.TrimSpace(rest)
	return arg, arg != ""
}
