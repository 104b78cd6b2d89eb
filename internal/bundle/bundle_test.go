package bundle

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtract(t *testing.T) {
	archive := writeZip(t, map[string]string{
		"delivery/scan.obj":        "mtllib scan.mtl\nv 0 0 0\n",
		"delivery/scan.mtl":        "newmtl a\nmap_Kd tex/a.jpg\n",
		"delivery/tex/a.jpg":       "jpg",
		"__MACOSX/delivery/._scan": "fork",
	})
	dest := t.TempDir()

	mesh, err := Extract(context.Background(), archive, dest)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if want := filepath.Join(dest, "delivery", "scan.obj"); mesh != want {
		t.Fatalf("mesh %s, want %s", mesh, want)
	}
	for _, rel := range []string{"delivery/scan.mtl", "delivery/tex/a.jpg"} {
		if _, err := os.Stat(filepath.Join(dest, filepath.FromSlash(rel))); err != nil {
			t.Errorf("%s not extracted: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dest, "__MACOSX")); !os.IsNotExist(err) {
		t.Errorf("metadata extracted: %v", err)
	}
}

func TestExtractMeshCount(t *testing.T) {
	_, err := Extract(context.Background(), writeZip(t, map[string]string{"readme.txt": "x"}), t.TempDir())
	if !errors.Is(err, ErrNoMesh) {
		t.Fatalf("no mesh: got %v", err)
	}

	_, err = Extract(context.Background(), writeZip(t, map[string]string{"a.obj": "", "b/B.OBJ": ""}), t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "2 meshes") {
		t.Fatalf("two meshes: got %v", err)
	}
}

func TestIsArchive(t *testing.T) {
	ctx := context.Background()
	ok, err := IsArchive(ctx, writeZip(t, map[string]string{"a.obj": ""}))
	if err != nil || !ok {
		t.Fatalf("zip: %v, %v", ok, err)
	}

	obj := filepath.Join(t.TempDir(), "scan.obj")
	if err := os.WriteFile(obj, []byte("# mesh\nv 1 2 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ok, err = IsArchive(ctx, obj)
	if err != nil || ok {
		t.Fatalf("obj: %v, %v", ok, err)
	}

	if _, err := IsArchive(ctx, filepath.Join(t.TempDir(), "missing.zip")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestTargetRejectsEscapes(t *testing.T) {
	dest := t.TempDir()
	for _, name := range []string{"../evil.obj", "/abs.obj", "a/../../b.obj"} {
		if _, err := target(dest, name); err == nil {
			t.Errorf("%q accepted", name)
		}
	}
	if _, err := target(dest, "a/b.obj"); err != nil {
		t.Errorf("a/b.obj: %v", err)
	}
}
