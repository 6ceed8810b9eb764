package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/pflag"

	"github.com/sauzeros/crs/internal/crs/errs"
	"github.com/sauzeros/crs/internal/crs/index"
	"github.com/sauzeros/crs/internal/crs/logging"
	"github.com/sauzeros/crs/internal/crs/sign"
)

// cmdPkgRepo implements `pkg repo {add,remove,update,ls}`: management of
// the remotes this index knows about.
func cmdPkgRepo(ctx context.Context, a *app, args []string) int {
	if len(args) == 0 {
		return printErr(errs.New(errs.KindUserInput, "pkg repo: expected a subcommand (add, remove, update, ls, trust)"))
	}
	sub, rest := args[0], args[1:]

	fs := pflag.NewFlagSet("pkg repo "+sub, pflag.ContinueOnError)
	ifExists := fs.String("if-exists", "replace", "collision policy: replace, fail, ignore")
	ifMissing := fs.String("if-missing", "fail", "absence policy: fail, ignore")
	priority := fs.Int("priority", 0, "remote priority (higher wins ties)")
	if err := fs.Parse(rest); err != nil {
		return errs.KindUserInput.ExitCode()
	}
	positional := fs.Args()

	switch sub {
	case "add":
		if len(positional) == 0 {
			return printErr(errs.New(errs.KindUserInput, "pkg repo add: expected a URL"))
		}
		url := positional[0]
		existing, err := a.idx.ListRemotes(ctx)
		if err != nil {
			return printErr(err)
		}
		for _, r := range existing {
			if r.URL == url {
				switch *ifExists {
				case "fail":
					return printErr(errs.New(errs.KindUserInput, "pkg repo add: remote already registered: "+url))
				case "ignore":
					return 0
				}
			}
		}
		if _, err := a.idx.UpsertRemote(ctx, url, *priority); err != nil {
			return printErr(err)
		}
		logging.Arrowf("registered remote %s\n", url)
		return 0

	case "remove":
		if len(positional) == 0 {
			return printErr(errs.New(errs.KindUserInput, "pkg repo remove: expected a URL"))
		}
		url := positional[0]
		if err := a.idx.RemoveRemote(ctx, url); err != nil {
			if errs.KindOf(err) == errs.KindUserInput && *ifMissing == "ignore" {
				return 0
			}
			return printErr(err)
		}
		logging.Arrowf("removed remote %s\n", url)
		return 0

	case "update":
		if len(positional) > 0 {
			r, err := findRemote(ctx, a.idx, positional[0])
			if err != nil {
				return printErr(err)
			}
			if err := a.idx.Sync(ctx, r, index.SyncAlways, a.fetcher); err != nil {
				return printErr(err)
			}
			logging.Arrowf("synced %s\n", r.URL)
			return 0
		}
		remotes, err := a.idx.ListRemotes(ctx)
		if err != nil {
			return printErr(err)
		}
		for _, r := range remotes {
			if err := a.idx.Sync(ctx, r, index.SyncAlways, a.fetcher); err != nil {
				return printErr(err)
			}
		}
		logging.Arrowf("synced %d remote(s)\n", len(remotes))
		return 0

	case "ls":
		remotes, err := a.idx.ListRemotes(ctx)
		if err != nil {
			return printErr(err)
		}
		for _, r := range remotes {
			fmt.Printf("%d\t%s\tpriority=%d\n", r.ID, r.URL, r.Priority)
		}
		return 0

	case "trust":
		if len(positional) != 3 {
			return printErr(errs.New(errs.KindUserInput, "pkg repo trust: expected <url> <key-id> <pubkey-hex>"))
		}
		keyringPath := filepath.Join(filepath.Dir(a.cfg.IndexPath), "keyring")
		f, err := os.OpenFile(keyringPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return printErr(errs.WrapKind(errs.KindTransport, err, "open keyring"))
		}
		defer f.Close()
		if _, err := fmt.Fprintf(f, "%s %s %s\n", positional[0], positional[1], positional[2]); err != nil {
			return printErr(errs.WrapKind(errs.KindTransport, err, "write keyring entry"))
		}
		logging.Arrowf("trusted key %s for %s\n", positional[1], positional[0])
		return 0

	default:
		return printErr(errs.New(errs.KindUserInput, "pkg repo: unknown subcommand "+sub))
	}
}

// reverseDependents walks every manifest.crs under repoDir, builds the
// direct dependency edges each package declares, and returns the
// transitive closure of packages that would lose a dependency if target
// were removed from the repository.
func reverseDependents(repoDir, target string) ([]string, error) {
	entries, err := os.ReadDir(repoDir)
	if err != nil {
		return nil, errs.WrapKind(errs.KindTransport, err, "read repo directory")
	}

	dependsOn := map[string]map[string]bool{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pkg, err := loadProjectManifest(filepath.Join(repoDir, e.Name()))
		if err != nil {
			continue // not every directory entry is a package; validate reports those separately
		}
		direct := map[string]bool{}
		for _, deps := range pkg.Dependencies {
			for _, d := range deps {
				direct[d.Name] = true
			}
		}
		dependsOn[pkg.Name] = direct
	}

	visited := map[string]bool{}
	inProgress := map[string]bool{}
	var dependents []string
	var visit func(pkgName string) bool
	visit = func(pkgName string) bool {
		if done, ok := visited[pkgName]; ok {
			return done
		}
		if inProgress[pkgName] {
			return false // cycle: this edge can't be the thing that proves pkgName needs target
		}
		inProgress[pkgName] = true
		needsTarget := dependsOn[pkgName][target]
		for dep := range dependsOn[pkgName] {
			if dep != target && visit(dep) {
				needsTarget = true
			}
		}
		delete(inProgress, pkgName)
		visited[pkgName] = needsTarget
		return needsTarget
	}
	for pkgName := range dependsOn {
		if pkgName == target {
			continue
		}
		if visit(pkgName) {
			dependents = append(dependents, pkgName)
		}
	}
	sort.Strings(dependents)
	return dependents, nil
}

func findRemote(ctx context.Context, idx *index.Index, url string) (index.Remote, error) {
	remotes, err := idx.ListRemotes(ctx)
	if err != nil {
		return index.Remote{}, err
	}
	for _, r := range remotes {
		if r.URL == url {
			return r, nil
		}
	}
	return index.Remote{}, errs.New(errs.KindUserInput, "no such remote: "+url)
}

// cmdRepo implements the top-level `repo {init,import,remove,validate,ls}`
// command: management of a local source repository directory (a tree of
// manifest.crs-described packages a maintainer publishes from), distinct
// from `pkg repo`'s remote-index management.
func cmdRepo(ctx context.Context, a *app, args []string) int {
	if len(args) == 0 {
		return printErr(errs.New(errs.KindUserInput, "repo: expected a subcommand (init, import, remove, validate, ls, keygen, sign)"))
	}
	sub, rest := args[0], args[1:]

	fs := pflag.NewFlagSet("repo "+sub, pflag.ContinueOnError)
	name := fs.String("name", "", "package name (required by import/remove)")
	dependsOn := fs.String("depends-on", "", "report which repository packages transitively depend on this one (ls)")
	if err := fs.Parse(rest); err != nil {
		return errs.KindUserInput.ExitCode()
	}
	positional := fs.Args()

	repoDir := a.flags.project
	if repoDir == "" {
		repoDir, _ = os.Getwd()
	}

	switch sub {
	case "init":
		if err := os.MkdirAll(repoDir, 0o755); err != nil {
			return printErr(errs.WrapKind(errs.KindTransport, err, "init repo directory"))
		}
		logging.Arrowf("initialized repository at %s\n", repoDir)
		return 0

	case "import":
		if *name == "" {
			if len(positional) > 0 {
				*name = filepath.Base(positional[0])
			} else {
				return printErr(errs.New(errs.KindUserInput, "repo import: --name or a source path is required"))
			}
		}
		srcPath := repoDir
		if len(positional) > 0 {
			srcPath = positional[0]
		}
		pkg, err := loadProjectManifest(srcPath)
		if err != nil {
			return printErr(err)
		}
		dest := filepath.Join(repoDir, *name)
		if err := copyTree(srcPath, dest); err != nil {
			return printErr(errs.WrapKind(errs.KindTransport, err, "copy package tree into repository"))
		}
		logging.Arrowf("imported %s into %s\n", pkg.Name, dest)
		return 0

	case "remove":
		if *name == "" {
			return printErr(errs.New(errs.KindUserInput, "repo remove: --name is required"))
		}
		if err := os.RemoveAll(filepath.Join(repoDir, *name)); err != nil {
			return printErr(errs.WrapKind(errs.KindTransport, err, "remove "+*name))
		}
		logging.Arrowf("removed %s\n", *name)
		return 0

	case "validate":
		entries, err := os.ReadDir(repoDir)
		if err != nil {
			return printErr(errs.WrapKind(errs.KindTransport, err, "read repo directory"))
		}
		failures := 0
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if _, err := loadProjectManifest(filepath.Join(repoDir, e.Name())); err != nil {
				logging.Error.Printf("%s: %v\n", e.Name(), err)
				failures++
			}
		}
		if failures > 0 {
			return printErr(errs.New(errs.KindUserInput, fmt.Sprintf("repo validate: %d package(s) failed validation", failures)))
		}
		logging.Arrowf("all packages in %s validated\n", repoDir)
		return 0

	case "ls":
		if *dependsOn != "" {
			dependents, err := reverseDependents(repoDir, *dependsOn)
			if err != nil {
				return printErr(err)
			}
			for _, d := range dependents {
				fmt.Println(d)
			}
			return 0
		}
		entries, err := os.ReadDir(repoDir)
		if err != nil {
			return printErr(errs.WrapKind(errs.KindTransport, err, "read repo directory"))
		}
		for _, e := range entries {
			if e.IsDir() {
				fmt.Println(e.Name())
			}
		}
		return 0

	case "keygen":
		pub, priv, err := sign.GenerateKeyPair()
		if err != nil {
			return printErr(err)
		}
		fmt.Printf("public:  %s\nprivate: %s\n", pub, priv)
		logging.Arrowf("share the public key with consumers via `pkg repo trust <url> <key-id> %s`\n", pub)
		return 0

	case "sign":
		if len(positional) != 2 {
			return printErr(errs.New(errs.KindUserInput, "repo sign: expected <repo.db path> <private-key-hex>"))
		}
		data, err := os.ReadFile(positional[0])
		if err != nil {
			return printErr(errs.WrapKind(errs.KindTransport, err, "read "+positional[0]))
		}
		sigHex, err := sign.Sign(data, positional[1])
		if err != nil {
			return printErr(err)
		}
		sigPath := positional[0] + ".sig"
		if err := os.WriteFile(sigPath, []byte(sigHex+"\n"), 0o644); err != nil {
			return printErr(errs.WrapKind(errs.KindTransport, err, "write "+sigPath))
		}
		logging.Arrowf("wrote %s\n", sigPath)
		return 0

	default:
		return printErr(errs.New(errs.KindUserInput, "repo: unknown subcommand "+sub))
	}
}
