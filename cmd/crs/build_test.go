package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sauzeros/crs/internal/crs/manifest"
	"github.com/sauzeros/crs/internal/crs/plan"
)

func TestRootRequirements(t *testing.T) {
	pkg := &manifest.Package{
		Name: "widget",
		Dependencies: map[string][]manifest.Dependency{
			"widget": {
				{Name: "zlib", Range: "^1.2.0", Kind: manifest.KindLib},
			},
		},
	}
	reqs, err := rootRequirements(pkg)
	if err != nil {
		t.Fatalf("rootRequirements: %v", err)
	}
	if len(reqs) != 1 || reqs[0].Name != "zlib" {
		t.Fatalf("got %+v, want one requirement named zlib", reqs)
	}
}

func TestRootRequirementsRejectsMalformedRange(t *testing.T) {
	pkg := &manifest.Package{
		Dependencies: map[string][]manifest.Dependency{
			"widget": {{Name: "zlib", Range: "not-a-range", Kind: manifest.KindLib}},
		},
	}
	if _, err := rootRequirements(pkg); err == nil {
		t.Fatal("expected an error for a malformed dependency range")
	}
}

func TestApplyTweaksAppendsFlags(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "widget"), []byte("-DFOO=1\n-Wall\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tc, err := applyTweaks(plan.Toolchain{}, dir, "widget")
	if err != nil {
		t.Fatalf("applyTweaks: %v", err)
	}
	if len(tc.CFlags) != 2 || tc.CFlags[0] != "-DFOO=1" {
		t.Fatalf("got CFlags %v", tc.CFlags)
	}
	if len(tc.CXXFlags) != 2 {
		t.Fatalf("got CXXFlags %v", tc.CXXFlags)
	}
}

func TestApplyTweaksMissingFileIsNotAnError(t *testing.T) {
	tc, err := applyTweaks(plan.Toolchain{CFlags: []string{"-O2"}}, t.TempDir(), "widget")
	if err != nil {
		t.Fatalf("applyTweaks: %v", err)
	}
	if len(tc.CFlags) != 1 {
		t.Fatalf("expected unchanged toolchain, got %+v", tc)
	}
}
