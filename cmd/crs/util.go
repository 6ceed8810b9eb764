package main

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sauzeros/crs/internal/crs/errs"
	"github.com/sauzeros/crs/internal/crs/manifest"
	"github.com/sauzeros/crs/internal/crs/semver"
	"github.com/sauzeros/crs/internal/crs/solver"
)

// copyTree recursively copies srcDir into destDir, used by `repo import`
// to stage a package's source tree into a local repository directory.
func copyTree(srcDir, destDir string) error {
	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}

// remoteURL looks up a remote's URL by ID, for building the wire-format
// fetch URL (<remote>/pkg/<name>/<version>~<rev>/pkg.tgz).
func (a *app) remoteURL(ctx context.Context, remoteID int64) (string, error) {
	remotes, err := a.idx.ListRemotes(ctx)
	if err != nil {
		return "", err
	}
	for _, r := range remotes {
		if r.ID == remoteID {
			return r.URL, nil
		}
	}
	return "", errs.New(errs.KindIntegrity, "no remote registered with id matching a resolved selection")
}

// pkgFetchURL builds the wire-format package-fetch URL for a selection.
func pkgFetchURL(remoteURL, name, version string, revision int) string {
	return strings.TrimRight(remoteURL, "/") + "/pkg/" + name + "/" + version + "~" + strconv.Itoa(revision) + "/pkg.tgz"
}

// parseRequirementExpr parses "name range-clause(s)" e.g. "foo ^1" or
// "bar <1.3 >=1.0" into a solver.Requirement rooted at kind lib.
func parseRequirementExpr(s string) (solver.Requirement, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return solver.Requirement{}, errs.New(errs.KindUserInput, "malformed requirement expression: "+s)
	}
	name := fields[0]
	rng, err := semver.ParseRange(strings.Join(fields[1:], " "))
	if err != nil {
		return solver.Requirement{}, errs.WrapKind(errs.KindUserInput, err, "parse requirement "+s)
	}
	return solver.Requirement{Name: name, Range: rng, Kind: manifest.KindLib}, nil
}

// runCMake drives an out-of-tree CMake configure+build for a dependency
// that ships a CMakeLists.txt rather than a manifest.crs — the --cmake
// escape hatch build-deps offers for dependencies crs's own planner
// cannot classify.
func runCMake(ctx context.Context, srcDir, buildDir string) error {
	configure := exec.CommandContext(ctx, "cmake", "-S", srcDir, "-B", buildDir)
	if err := configure.Run(); err != nil {
		return errs.WrapKind(errs.KindBuildFailure, err, "cmake configure "+srcDir)
	}
	build := exec.CommandContext(ctx, "cmake", "--build", buildDir)
	if err := build.Run(); err != nil {
		return errs.WrapKind(errs.KindBuildFailure, err, "cmake build "+srcDir)
	}
	return nil
}
