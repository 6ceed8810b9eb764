package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sauzeros/crs/internal/crs/manifest"
	"github.com/sauzeros/crs/internal/crs/semver"
	"github.com/sauzeros/crs/internal/crs/solver"
	"github.com/sauzeros/crs/internal/crs/store"
)

func writeFile(t *testing.T, path string, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testToolchain() Toolchain {
	return Toolchain{Identity: "test-cc-1.0", CC: "cc", CXX: "c++", AR: "ar"}
}

// buildTree lays out one library ("core") with a public header, a
// library source, a .test source, and a second library ("app") that uses
// "core" and has a .main source.
func buildTree(t *testing.T) (map[string]solver.Selection, *store.Store) {
	root := t.TempDir()
	st := store.New(root)

	coreRoot := filepath.Join(root, "core", "1.0.0~0", "core")
	writeFile(t, filepath.Join(coreRoot, "include", "core.h"), "int add(int,int);")
	writeFile(t, filepath.Join(coreRoot, "src", "core.c"), "int add(int a,int b){return a+b;}")
	writeFile(t, filepath.Join(coreRoot, "src", "core.test.c"), "int main(){return 0;}")

	appRoot := filepath.Join(root, "app", "1.0.0~0", "app")
	writeFile(t, filepath.Join(appRoot, "src", "app.main.c"), "int main(){return add(1,2);}")

	coreManifest := &manifest.Package{
		Name: "core",
		Libraries: []manifest.Library{
			{Name: "core", Sources: []string{"include/core.h", "src/core.c", "src/core.test.c"}},
		},
	}
	appManifest := &manifest.Package{
		Name: "app",
		Libraries: []manifest.Library{
			{
				Name:    "app",
				Uses:    []manifest.LibraryUse{{Package: "core", Library: "core"}},
				Sources: []string{"src/app.main.c"},
			},
		},
	}

	resolved := map[string]solver.Selection{
		"core": {Name: "core", Version: mustVersion(t, "1.0.0"), Revision: 0, Manifest: coreManifest},
		"app":  {Name: "app", Version: mustVersion(t, "1.0.0"), Revision: 0, Manifest: appManifest},
	}
	return resolved, st
}

func mustVersion(t *testing.T, s string) semver.Version {
	t.Helper()
	v, err := semver.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return v
}

func TestBuildProducesCompileArchiveLinkNodes(t *testing.T) {
	resolved, st := buildTree(t)
	nodes, err := Build(resolved, st, testToolchain(), Options{IncludeApps: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var kinds []Kind
	byKind := map[Kind]int{}
	for _, n := range nodes {
		kinds = append(kinds, n.Kind)
		byKind[n.Kind]++
	}

	if byKind[KindCompile] == 0 {
		t.Fatal("expected at least one compile node")
	}
	if byKind[KindArchive] != 1 {
		t.Fatalf("archive nodes = %d, want 1 (core has one compilable source)", byKind[KindArchive])
	}
	if byKind[KindLink] != 1 {
		t.Fatalf("link nodes = %d, want 1 (one .main source, tests disabled)", byKind[KindLink])
	}
}

func TestBuildIncludesTestRunWhenEnabled(t *testing.T) {
	resolved, st := buildTree(t)
	nodes, err := Build(resolved, st, testToolchain(), Options{IncludeTests: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	found := false
	for _, n := range nodes {
		if n.Kind == KindTestRun {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a test-run node when IncludeTests is set")
	}
}

func TestBuildOrdersDependenciesBeforeDependents(t *testing.T) {
	resolved, st := buildTree(t)
	nodes, err := Build(resolved, st, testToolchain(), Options{IncludeApps: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	position := map[string]int{}
	for i, n := range nodes {
		position[n.ID] = i
	}
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			depPos, ok := position[dep]
			if !ok {
				continue
			}
			if depPos >= position[n.ID] {
				t.Fatalf("node %q (pos %d) does not precede dependent %q (pos %d)", dep, depPos, n.ID, position[n.ID])
			}
		}
	}
}

func TestBuildRejectsCyclicLibraryUse(t *testing.T) {
	root := t.TempDir()
	st := store.New(root)

	aManifest := &manifest.Package{
		Name: "a",
		Libraries: []manifest.Library{
			{Name: "a", Uses: []manifest.LibraryUse{{Package: "b", Library: "b"}}},
		},
	}
	bManifest := &manifest.Package{
		Name: "b",
		Libraries: []manifest.Library{
			{Name: "b", Uses: []manifest.LibraryUse{{Package: "a", Library: "a"}}},
		},
	}
	resolved := map[string]solver.Selection{
		"a": {Name: "a", Version: mustVersion(t, "1.0.0"), Manifest: aManifest},
		"b": {Name: "b", Version: mustVersion(t, "1.0.0"), Manifest: bManifest},
	}

	_, err := Build(resolved, st, testToolchain(), Options{})
	if err == nil {
		t.Fatal("expected an error for a cyclic library use")
	}
}

func TestFingerprintChangesWithSourceContent(t *testing.T) {
	resolved, st := buildTree(t)
	tc := testToolchain()

	nodesA, err := Build(resolved, st, tc, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var fpA string
	for _, n := range nodesA {
		if n.Kind == KindCompile && n.Source == "src/core.c" {
			fpA = n.Fingerprint
		}
	}
	if fpA == "" {
		t.Fatal("expected to find the core.c compile node")
	}

	id := store.ID{Name: "core", Version: "1.0.0", Revision: 0}
	writeFile(t, filepath.Join(st.Path(id), "core", "src", "core.c"), "int add(int a,int b){return a+b+1;}")

	nodesB, err := Build(resolved, st, tc, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var fpB string
	for _, n := range nodesB {
		if n.Kind == KindCompile && n.Source == "src/core.c" {
			fpB = n.Fingerprint
		}
	}
	if fpA == fpB {
		t.Fatal("expected fingerprint to change after source content changed")
	}
}

// TestArchiveFingerprintAtPlanTimeReadsStaleObject shows why an archive
// node's Fingerprint can't be trusted straight out of Build: it hashes
// whatever bytes its object-file input holds on disk right now, which on
// a rebuild is still the previous build's object, not the one this build
// is about to produce. Refingerprint, called once the compile node has
// actually run, is what makes the fingerprint match reality.
func TestArchiveFingerprintAtPlanTimeReadsStaleObject(t *testing.T) {
	resolved, st := buildTree(t)
	tc := testToolchain()

	nodes, err := Build(resolved, st, tc, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var archive *Node
	for i := range nodes {
		if nodes[i].Kind == KindArchive {
			archive = &nodes[i]
		}
	}
	if archive == nil {
		t.Fatal("expected an archive node")
	}
	objPath := archive.Inputs[0]

	planTimeFP := archive.Fingerprint

	// Simulate a previous build's stale object sitting where this one's
	// compile step will write its fresh output.
	writeFile(t, objPath, "stale bytes from a previous build")
	archive.Refingerprint()
	staleFP := archive.Fingerprint
	if staleFP == planTimeFP {
		t.Fatal("expected refingerprinting against the stale object to change the fingerprint")
	}

	// Now the compile step actually runs and overwrites the object with
	// this build's real content; refingerprinting again must reflect it.
	writeFile(t, objPath, "this build's real object bytes")
	archive.Refingerprint()
	freshFP := archive.Fingerprint
	if freshFP == staleFP {
		t.Fatal("expected refingerprinting against the real object to differ from the stale reading")
	}
}
