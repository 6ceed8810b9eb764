package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/sauzeros/crs/internal/crs/didyoumean"
	"github.com/sauzeros/crs/internal/crs/errs"
	"github.com/sauzeros/crs/internal/crs/fetch"
	"github.com/sauzeros/crs/internal/crs/index"
	"github.com/sauzeros/crs/internal/crs/logging"
	"github.com/sauzeros/crs/internal/crs/solver"
	"github.com/sauzeros/crs/internal/crs/store"
)

// parseStoreID parses "name/version~revision" into a store.ID.
func parseStoreID(raw string) (store.ID, error) {
	slash := -1
	for i := 0; i < len(raw); i++ {
		if raw[i] == '/' {
			slash = i
		}
	}
	if slash < 0 {
		return store.ID{}, errs.New(errs.KindUserInput, "malformed package ID, want name/version~revision: "+raw)
	}
	name := raw[:slash]
	rest := raw[slash+1:]
	tilde := -1
	for i := 0; i < len(rest); i++ {
		if rest[i] == '~' {
			tilde = i
		}
	}
	if tilde < 0 {
		return store.ID{}, errs.New(errs.KindUserInput, "malformed package ID, want name/version~revision: "+raw)
	}
	version := rest[:tilde]
	rev := 0
	for _, c := range rest[tilde+1:] {
		if c < '0' || c > '9' {
			return store.ID{}, errs.New(errs.KindUserInput, "malformed revision in package ID: "+raw)
		}
		rev = rev*10 + int(c-'0')
	}
	return store.ID{Name: name, Version: version, Revision: rev}, nil
}

func cmdPkg(ctx context.Context, a *app, args []string) int {
	if len(args) == 0 {
		return printErr(errs.New(errs.KindUserInput, "pkg: expected a subcommand (create, search, prefetch, solve, gc, repo)"))
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "create":
		return cmdPkgCreate(ctx, a, rest)
	case "search":
		return cmdPkgSearch(ctx, a, rest)
	case "prefetch":
		return cmdPkgPrefetch(ctx, a, rest)
	case "solve":
		return cmdPkgSolve(ctx, a, rest)
	case "gc":
		return cmdPkgGc(ctx, a, rest)
	case "repo":
		return cmdPkgRepo(ctx, a, rest)
	default:
		return printErr(errs.New(errs.KindUserInput, "pkg: unknown subcommand "+sub))
	}
}

// cmdPkgCreate packages the current project directory into a
// name-version~rev.tar.zst sdist plus a sibling .b3 content-hash file.
func cmdPkgCreate(ctx context.Context, a *app, args []string) int {
	projectRoot := a.flags.project
	if projectRoot == "" {
		projectRoot, _ = os.Getwd()
	}
	pkg, err := loadProjectManifest(projectRoot)
	if err != nil {
		return printErr(err)
	}

	outDir := projectRoot
	if len(args) > 0 {
		outDir = args[0]
	}
	tarballName := fmt.Sprintf("%s-0.0.0-local~0.tar.zst", pkg.Name)
	destPath := filepath.Join(outDir, tarballName)

	if err := fetch.Pack(projectRoot, destPath); err != nil {
		return printErr(err)
	}
	hash, err := store.HashFile(destPath)
	if err != nil {
		return printErr(err)
	}
	if err := os.WriteFile(destPath+".b3", []byte(hash+"\n"), 0o644); err != nil {
		return printErr(errs.WrapKind(errs.KindTransport, err, "write content-hash file"))
	}

	logging.Arrowf("created %s (content hash %s)\n", destPath, hash)
	return 0
}

func cmdPkgSearch(ctx context.Context, a *app, args []string) int {
	if len(args) == 0 {
		return printErr(errs.New(errs.KindUserInput, "pkg search: expected a pattern"))
	}
	pattern := args[0]

	if _, err := a.syncRemotes(ctx); err != nil {
		return printErr(err)
	}
	entries, err := a.idx.Lookup(ctx, pattern)
	if err != nil {
		return printErr(err)
	}
	if len(entries) == 0 {
		known, _ := a.idx.KnownNames(ctx)
		return printErr(errs.Resolution("pkg search: no entries for "+pattern, []string{pattern}, didyoumean.Suggestions(pattern, known, 3)))
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s~%d\tremote=%s\n", e.Name, e.Version, e.Revision, e.Remote.URL)
	}
	return 0
}

func cmdPkgPrefetch(ctx context.Context, a *app, args []string) int {
	fs := pflag.NewFlagSet("pkg prefetch", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return errs.KindUserInput.ExitCode()
	}
	ids := fs.Args()
	if len(ids) == 0 {
		return printErr(errs.New(errs.KindUserInput, "pkg prefetch: expected one or more package IDs"))
	}

	if _, err := a.syncRemotes(ctx); err != nil {
		return printErr(err)
	}

	prefetchFetcher := fetch.New(fetch.Options{Values: a.cfg.Values, Quiet: true})
	for _, raw := range ids {
		sid, err := parseStoreID(raw)
		if err != nil {
			return printErr(err)
		}
		entries, err := a.idx.Lookup(ctx, sid.Name)
		if err != nil {
			return printErr(err)
		}
		var match *index.Entry
		for i := range entries {
			if entries[i].Version == sid.Version && entries[i].Revision == sid.Revision {
				match = &entries[i]
				break
			}
		}
		if match == nil {
			return printErr(errs.New(errs.KindUserInput, "pkg prefetch: no index entry for "+raw))
		}
		url := pkgFetchURL(match.Remote.URL, match.Name, match.Version, match.Revision)
		if a.flags.dryRun {
			logging.Arrowf("would prefetch %s from %s\n", raw, url)
			continue
		}
		if _, err := a.st.Get(ctx, sid, prefetchFetcher.Populate(url, match.ContentHash)); err != nil {
			return printErr(err)
		}
		logging.Arrowf("prefetched %s\n", raw)
	}
	return 0
}

// cmdPkgGc resolves the current project's dependency set and sweeps the
// store of every entry that set doesn't reference, then prints each
// removed ID and the bytes freed; the report comes after the removal, and
// only --dry-run leaves the store untouched. Entries whose lock a
// concurrent Get holds are left alone rather than raced.
func cmdPkgGc(ctx context.Context, a *app, args []string) int {
	projectRoot := a.flags.project
	if projectRoot == "" {
		projectRoot, _ = os.Getwd()
	}

	pkg, resolved, err := a.resolveProject(ctx, projectRoot)
	if err != nil {
		return printErr(err)
	}

	live := make(map[store.ID]bool, len(resolved))
	for name, sel := range resolved {
		if name == pkg.Name {
			continue // the project's own local pseudo-entry is a symlink, not a GC candidate
		}
		live[store.ID{Name: sel.Name, Version: sel.Version.String(), Revision: sel.Revision}] = true
	}

	if a.flags.dryRun {
		logging.Arrowf("pkg gc: dry run, %d package(s) considered live\n", len(live))
		return 0
	}

	removed, bytesFreed, err := a.st.GC(live)
	if err != nil {
		return printErr(err)
	}
	for _, id := range removed {
		fmt.Println(id.String())
	}
	logging.Arrowf("pkg gc: removed %d package(s), freed %d bytes\n", len(removed), bytesFreed)
	return 0
}

func cmdPkgSolve(ctx context.Context, a *app, args []string) int {
	if len(args) == 0 {
		return printErr(errs.New(errs.KindUserInput, "pkg solve: expected one or more requirement expressions"))
	}
	var reqs []solver.Requirement
	for _, raw := range args {
		req, err := parseRequirementExpr(raw)
		if err != nil {
			return printErr(err)
		}
		reqs = append(reqs, req)
	}

	if _, err := a.syncRemotes(ctx); err != nil {
		return printErr(err)
	}

	resolved, err := solver.Solve(ctx, solverIndex{a.idx}, reqs)
	if err != nil {
		return printErr(err)
	}
	for name, sel := range resolved {
		fmt.Printf("%s\t%s~%d\n", name, sel.Version, sel.Revision)
	}
	return 0
}

