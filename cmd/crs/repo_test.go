package main

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeManifest(t *testing.T, dir, name string, deps ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	var depList string
	for _, d := range deps {
		depList += `{name: '` + d + `', range: '^1', kind: 'lib'},`
	}
	content := `{
		name: '` + name + `',
		libraries: [{name: 'core', sources: ['src/**/*.cpp']}],
		dependencies: {core: [` + depList + `]},
	}`
	if err := os.WriteFile(filepath.Join(dir, "manifest.crs"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReverseDependentsDirectAndTransitive(t *testing.T) {
	repoDir := t.TempDir()
	writeManifest(t, filepath.Join(repoDir, "zlib"), "zlib")
	writeManifest(t, filepath.Join(repoDir, "libpng"), "libpng", "zlib")
	writeManifest(t, filepath.Join(repoDir, "imagemagick"), "imagemagick", "libpng")

	got, err := reverseDependents(repoDir, "zlib")
	if err != nil {
		t.Fatalf("reverseDependents: %v", err)
	}
	sort.Strings(got)
	want := []string{"imagemagick", "libpng"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestReverseDependentsNoneFound(t *testing.T) {
	repoDir := t.TempDir()
	writeManifest(t, filepath.Join(repoDir, "zlib"), "zlib")
	writeManifest(t, filepath.Join(repoDir, "standalone"), "standalone")

	got, err := reverseDependents(repoDir, "zlib")
	if err != nil {
		t.Fatalf("reverseDependents: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v, want none", got)
	}
}

func TestReverseDependentsToleratesCycle(t *testing.T) {
	repoDir := t.TempDir()
	writeManifest(t, filepath.Join(repoDir, "a"), "a", "b")
	writeManifest(t, filepath.Join(repoDir, "b"), "b", "a", "zlib")
	writeManifest(t, filepath.Join(repoDir, "zlib"), "zlib")

	got, err := reverseDependents(repoDir, "zlib")
	if err != nil {
		t.Fatalf("reverseDependents: %v", err)
	}
	sort.Strings(got)
	want := []string{"a", "b"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}
