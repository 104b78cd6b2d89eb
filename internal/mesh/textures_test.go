package mesh

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDiscoverTextures(t *testing.T) {
	dir := t.TempDir()
	obj := writeFile(t, dir, "scan.obj", "# header\nmtllib scan.mtl\nv 0 0 0\nmtllib other.mtl\n")
	writeFile(t, dir, "scan.mtl", `newmtl a
map_Kd tex/albedo.jpg
newmtl b
map_Kd tex/albedo.jpg
newmtl c
map_Kd -s 1 1 1 detail.png
newmtl d
map_Kd missing.png
newmtl e
map_Kd C:\export\flat.png
map_Ks tex/spec.jpg
`)
	writeFile(t, dir, "tex/albedo.jpg", "jpg")
	writeFile(t, dir, "tex/spec.jpg", "jpg")
	writeFile(t, dir, "detail.png", "png")
	writeFile(t, dir, "flat.png", "png")

	got, err := DiscoverTextures(obj)
	if err != nil {
		t.Fatalf("DiscoverTextures: %v", err)
	}
	want := []string{"detail.png", "flat.png", filepath.FromSlash("tex/albedo.jpg")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestDiscoverTexturesMissingMaterialLibrary(t *testing.T) {
	dir := t.TempDir()
	obj := writeFile(t, dir, "scan.obj", "mtllib gone.mtl\nv 0 0 0\n")

	got, err := DiscoverTextures(obj)
	if err != nil {
		t.Fatalf("missing library must not fail: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v, want none", got)
	}
}

func TestDiscoverTexturesNoMaterialLibrary(t *testing.T) {
	obj := writeFile(t, t.TempDir(), "plain.obj", "v 0 0 0\n")
	got, err := DiscoverTextures(obj)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestMaterialLibraryIgnoresLookalikes(t *testing.T) {
	obj := writeFile(t, t.TempDir(), "scan.obj", "mtllibx nope\n  mtllib  real lib.mtl \n")
	got, err := MaterialLibrary(obj)
	if err != nil {
		t.Fatal(err)
	}
	if got != "real lib.mtl" {
		t.Fatalf("got %q", got)
	}
}

func TestStageMaterialLibrary(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	obj := writeFile(t, src, "scan.obj", "mtllib mats/scan.mtl\n")
	writeFile(t, src, "mats/scan.mtl", "newmtl a\n")

	staged, err := StageMaterialLibrary(obj, dst)
	if err != nil {
		t.Fatalf("StageMaterialLibrary: %v", err)
	}
	if staged != filepath.Join(dst, "mats", "scan.mtl") {
		t.Fatalf("staged at %q", staged)
	}
	data, err := os.ReadFile(staged)
	if err != nil || string(data) != "newmtl a\n" {
		t.Fatalf("staged content %q, %v", data, err)
	}
}

func TestStageMaterialLibraryAbsent(t *testing.T) {
	obj := writeFile(t, t.TempDir(), "scan.obj", "mtllib gone.mtl\n")
	staged, err := StageMaterialLibrary(obj, t.TempDir())
	if err != nil || staged != "" {
		t.Fatalf("got %q, %v", staged, err)
	}
}
