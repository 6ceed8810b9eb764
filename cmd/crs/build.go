package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/sauzeros/crs/internal/crs/buildexec"
	"github.com/sauzeros/crs/internal/crs/errs"
	"github.com/sauzeros/crs/internal/crs/logging"
	"github.com/sauzeros/crs/internal/crs/manifest"
	"github.com/sauzeros/crs/internal/crs/plan"
	"github.com/sauzeros/crs/internal/crs/semver"
	"github.com/sauzeros/crs/internal/crs/solver"
	"github.com/sauzeros/crs/internal/crs/store"
)

// loadProjectManifest reads and validates manifest.crs at root.
func loadProjectManifest(root string) (*manifest.Package, error) {
	path := filepath.Join(root, "manifest.crs")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.WrapKind(errs.KindUserInput, err, "read "+path)
	}
	pkg, err := manifest.ParsePackage(data)
	if err != nil {
		return nil, err
	}
	if err := pkg.Validate(); err != nil {
		return nil, errs.WrapKind(errs.KindUserInput, err, "validate "+path)
	}
	return pkg, nil
}

// rootRequirements flattens every library's declared dependencies into
// solver.Requirement roots.
func rootRequirements(pkg *manifest.Package) ([]solver.Requirement, error) {
	var reqs []solver.Requirement
	for _, deps := range pkg.Dependencies {
		for _, d := range deps {
			rng, err := semver.ParseRange(d.Range)
			if err != nil {
				return nil, errs.WrapKind(errs.KindUserInput, err, "parse dependency range for "+d.Name)
			}
			reqs = append(reqs, solver.Requirement{Name: d.Name, Range: rng, Using: d.Using, Kind: d.Kind})
		}
	}
	return reqs, nil
}

// projectLocalID is the pseudo package-ID crs stages the current project
// under inside the store, so plan.Build can treat the project the same
// way it treats any resolved dependency's expanded tree. Revision 0,
// a fixed "local" version: the project being built is never itself a
// versioned index entry.
func projectLocalID(name string) store.ID {
	return store.ID{Name: name, Version: "0.0.0-local", Revision: 0}
}

// stageProject symlinks the project root into the store at its local
// pseudo-ID so collectLibraries can read it exactly like a fetched
// dependency's expanded tree.
func stageProject(st *store.Store, projectRoot string, id store.ID) error {
	dest := st.Path(id)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errs.WrapKind(errs.KindTransport, err, "create store parent for local project")
	}
	if existing, err := os.Readlink(dest); err == nil {
		if existing == projectRoot {
			return nil
		}
		os.Remove(dest)
	} else if _, statErr := os.Lstat(dest); statErr == nil {
		os.RemoveAll(dest)
	}
	absRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return errs.WrapKind(errs.KindUserInput, err, "resolve project root")
	}
	if err := os.Symlink(absRoot, dest); err != nil {
		return errs.WrapKind(errs.KindTransport, err, "stage project into store")
	}
	return nil
}

// resolveProject solves pkg's roots against the index, then adds pkg
// itself into the resolved set under its local pseudo-ID so the planner
// sees one self-consistent selection map spanning the project and every
// dependency it pulled in.
func (a *app) resolveProject(ctx context.Context, projectRoot string) (*manifest.Package, map[string]solver.Selection, error) {
	pkg, err := loadProjectManifest(projectRoot)
	if err != nil {
		return nil, nil, err
	}

	if !a.flags.dryRun {
		if _, err := a.syncRemotes(ctx); err != nil {
			return nil, nil, err
		}
	}

	roots, err := rootRequirements(pkg)
	if err != nil {
		return nil, nil, err
	}

	resolved := map[string]solver.Selection{}
	if len(roots) > 0 {
		resolved, err = solver.Solve(ctx, solverIndex{a.idx}, roots)
		if err != nil {
			return nil, nil, err
		}
	}

	localID := projectLocalID(pkg.Name)
	if err := stageProject(a.st, projectRoot, localID); err != nil {
		return nil, nil, err
	}
	v, err := semver.Parse(localID.Version)
	if err != nil {
		return nil, nil, err
	}
	resolved[pkg.Name] = solver.Selection{Name: pkg.Name, Version: v, Revision: 0, Manifest: pkg}

	for name, sel := range resolved {
		if name == pkg.Name || sel.Manifest == nil {
			continue
		}
		id := store.ID{Name: sel.Name, Version: sel.Version.String(), Revision: sel.Revision}
		url, err := a.remoteURL(ctx, sel.RemoteID)
		if err != nil {
			return nil, nil, err
		}
		fetchURL := pkgFetchURL(url, sel.Name, sel.Version.String(), sel.Revision)
		if _, err := a.st.Get(ctx, id, a.fetcher.Populate(fetchURL, sel.ContentHash)); err != nil {
			return nil, nil, err
		}
	}
	return pkg, resolved, nil
}

// buildFlags are the flags shared by build/build-deps.
type buildFlags struct {
	toolchain string
	jobs      int
	output    string
	noTests   bool
	noApps    bool
	tweaksDir string
	keepGoing bool
	tui       bool
}

func (f *buildFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.toolchain, "toolchain", "", "toolchain descriptor file")
	fs.IntVar(&f.jobs, "jobs", 0, "parallel worker count (default: host cores)")
	fs.StringVar(&f.output, "output", "", "accepted but not used: artifacts are always written under each library's store directory")
	fs.BoolVar(&f.noTests, "no-tests", false, "skip test-source compile/link/run nodes")
	fs.BoolVar(&f.noApps, "no-apps", false, "skip app-source link nodes")
	fs.StringVar(&f.tweaksDir, "tweaks-dir", "", "directory of per-package build-flag tweaks")
	fs.BoolVar(&f.keepGoing, "keep-going", false, "continue independent branches past a failure")
	fs.BoolVar(&f.tui, "tui", false, "show a live node-status view while building")
}

func applyTweaks(tc plan.Toolchain, tweaksDir, pkgName string) (plan.Toolchain, error) {
	if tweaksDir == "" {
		return tc, nil
	}
	path := filepath.Join(tweaksDir, pkgName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tc, nil
		}
		return tc, errs.WrapKind(errs.KindUserInput, err, "read tweaks file "+path)
	}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		tc.CFlags = append(tc.CFlags, fields...)
		tc.CXXFlags = append(tc.CXXFlags, fields...)
	}
	return tc, nil
}

func runPool(ctx context.Context, a *app, nodes []plan.Node, jobs int, keepGoing, tui bool) (map[string]buildexec.Result, error) {
	opts, closeFn, err := a.newPoolOptions(jobs, keepGoing)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	if !tui {
		pool := buildexec.NewPool(nodes, opts)
		return pool.Run(ctx)
	}

	t := newBuildTUI(nodes)
	opts.Progress = t.onProgress
	pool := buildexec.NewPool(nodes, opts)
	return t.run(ctx, pool)
}

func summarizeResults(results map[string]buildexec.Result, nodes []plan.Node) {
	byID := map[string]plan.Node{}
	for _, n := range nodes {
		byID[n.ID] = n
	}
	for id, r := range results {
		if r.Err != nil {
			logging.Error.Printf("  %s (%s): %v\n", id, byID[id].Kind, r.Err)
		}
	}
}

func cmdBuild(ctx context.Context, a *app, args []string) int {
	fs := pflag.NewFlagSet("build", pflag.ContinueOnError)
	var bf buildFlags
	bf.register(fs)
	if err := fs.Parse(args); err != nil {
		return errs.KindUserInput.ExitCode()
	}

	projectRoot := a.flags.project
	if projectRoot == "" {
		projectRoot, _ = os.Getwd()
	}

	pkg, resolved, err := a.resolveProject(ctx, projectRoot)
	if err != nil {
		return printErr(err)
	}

	tc, err := loadToolchain(bf.toolchain)
	if err != nil {
		return printErr(err)
	}
	tc, err = applyTweaks(tc, bf.tweaksDir, pkg.Name)
	if err != nil {
		return printErr(err)
	}

	nodes, err := plan.Build(resolved, a.st, tc, plan.Options{IncludeTests: !bf.noTests, IncludeApps: !bf.noApps})
	if err != nil {
		return printErr(err)
	}

	if a.flags.dryRun {
		for _, n := range nodes {
			fmt.Printf("%s\t%s\t%s\n", n.ID, n.Kind, strings.Join(n.Argv, " "))
		}
		return 0
	}

	jobs := bf.jobs
	if jobs <= 0 {
		jobs = a.cfg.JobsDefault
	}
	results, err := runPool(ctx, a, nodes, jobs, bf.keepGoing, bf.tui)
	if err != nil {
		summarizeResults(results, nodes)
		return printErr(err)
	}
	logging.Arrowf("build complete: %d nodes\n", len(results))
	return 0
}

func cmdCompileFile(ctx context.Context, a *app, args []string) int {
	fs := pflag.NewFlagSet("compile-file", pflag.ContinueOnError)
	var bf buildFlags
	bf.register(fs)
	if err := fs.Parse(args); err != nil {
		return errs.KindUserInput.ExitCode()
	}
	files := fs.Args()
	if len(files) == 0 {
		return printErr(errs.New(errs.KindUserInput, "compile-file: no files given"))
	}

	projectRoot := a.flags.project
	if projectRoot == "" {
		projectRoot, _ = os.Getwd()
	}
	pkg, resolved, err := a.resolveProject(ctx, projectRoot)
	if err != nil {
		return printErr(err)
	}
	tc, err := loadToolchain(bf.toolchain)
	if err != nil {
		return printErr(err)
	}

	nodes, err := plan.Build(resolved, a.st, tc, plan.Options{IncludeTests: true, IncludeApps: true})
	if err != nil {
		return printErr(err)
	}

	wanted := map[string]bool{}
	for _, f := range files {
		wanted[f] = true
	}
	var filtered []plan.Node
	for _, n := range nodes {
		if n.Kind == plan.KindCompile && n.Package == pkg.Name && wanted[n.Source] {
			filtered = append(filtered, n)
		}
	}
	if len(filtered) == 0 {
		return printErr(errs.New(errs.KindUserInput, "compile-file: no matching source nodes for "+strings.Join(files, ", ")))
	}

	jobs := bf.jobs
	if jobs <= 0 {
		jobs = a.cfg.JobsDefault
	}
	results, err := runPool(ctx, a, filtered, jobs, bf.keepGoing, bf.tui)
	if err != nil {
		summarizeResults(results, filtered)
		return printErr(err)
	}
	logging.Arrowf("compiled %d file(s)\n", len(results))
	return 0
}

func cmdBuildDeps(ctx context.Context, a *app, args []string) int {
	fs := pflag.NewFlagSet("build-deps", pflag.ContinueOnError)
	var bf buildFlags
	var depsFile string
	var useCMake bool
	bf.register(fs)
	fs.StringVar(&depsFile, "deps-file", "", "file listing dependency requirements, one per line")
	fs.BoolVar(&useCMake, "cmake", false, "drive CMake-based dependencies instead of crs's own planner")
	if err := fs.Parse(args); err != nil {
		return errs.KindUserInput.ExitCode()
	}
	if depsFile == "" {
		return printErr(errs.New(errs.KindUserInput, "build-deps: --deps-file is required"))
	}

	reqs, err := readDepsFile(depsFile)
	if err != nil {
		return printErr(err)
	}
	if !a.flags.dryRun {
		if _, err := a.syncRemotes(ctx); err != nil {
			return printErr(err)
		}
	}

	resolved, err := solver.Solve(ctx, solverIndex{a.idx}, reqs)
	if err != nil {
		return printErr(err)
	}

	for _, sel := range resolved {
		id := store.ID{Name: sel.Name, Version: sel.Version.String(), Revision: sel.Revision}
		url, err := a.remoteURL(ctx, sel.RemoteID)
		if err != nil {
			return printErr(err)
		}
		if _, err := a.st.Get(ctx, id, a.fetcher.Populate(pkgFetchURL(url, sel.Name, sel.Version.String(), sel.Revision), sel.ContentHash)); err != nil {
			return printErr(err)
		}
	}

	if useCMake {
		if err := buildDepsViaCMake(ctx, a, resolved); err != nil {
			return printErr(err)
		}
		logging.Arrowf("build-deps complete (cmake)\n")
		return 0
	}

	tc, err := loadToolchain(bf.toolchain)
	if err != nil {
		return printErr(err)
	}
	nodes, err := plan.Build(resolved, a.st, tc, plan.Options{IncludeTests: false, IncludeApps: false})
	if err != nil {
		return printErr(err)
	}
	jobs := bf.jobs
	if jobs <= 0 {
		jobs = a.cfg.JobsDefault
	}
	results, err := runPool(ctx, a, nodes, jobs, bf.keepGoing, bf.tui)
	if err != nil {
		summarizeResults(results, nodes)
		return printErr(err)
	}
	logging.Arrowf("build-deps complete: %d nodes\n", len(results))
	return 0
}

func readDepsFile(path string) ([]solver.Requirement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.WrapKind(errs.KindUserInput, err, "read deps file "+path)
	}
	var reqs []solver.Requirement
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		req, err := parseRequirementExpr(line)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, scanner.Err()
}

// buildDepsViaCMake invokes `cmake --build` against each resolved
// dependency's store directory, for dependencies that are themselves
// CMake projects rather than manifest.crs-described crs packages.
func buildDepsViaCMake(ctx context.Context, a *app, resolved map[string]solver.Selection) error {
	for _, sel := range resolved {
		id := store.ID{Name: sel.Name, Version: sel.Version.String(), Revision: sel.Revision}
		dir := a.st.Path(id)
		if _, err := os.Stat(filepath.Join(dir, "CMakeLists.txt")); err != nil {
			continue
		}
		buildDir := filepath.Join(dir, "build")
		if err := runCMake(ctx, dir, buildDir); err != nil {
			return err
		}
	}
	return nil
}
