// Package main is crs's command-line front end: the only layer that
// parses argv, formats diagnostics, and prints to stdout/stderr.
// Everything under internal/crs returns values; this package is where
// those values become exit codes and colored text. Subcommand dispatch
// is table-driven, built on github.com/spf13/pflag rather than
// hand-rolled flag parsing.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"github.com/sauzeros/crs/internal/crs/buildexec"
	"github.com/sauzeros/crs/internal/crs/config"
	"github.com/sauzeros/crs/internal/crs/errs"
	"github.com/sauzeros/crs/internal/crs/fetch"
	"github.com/sauzeros/crs/internal/crs/index"
	"github.com/sauzeros/crs/internal/crs/logging"
	"github.com/sauzeros/crs/internal/crs/sign"
	"github.com/sauzeros/crs/internal/crs/store"
)

// globalFlags holds the flags recognized before the subcommand: cache
// root, log level, dry-run, remote sync policy, and the ad-hoc
// --use-repo/--no-default-repo/--project overrides.
type globalFlags struct {
	cacheDir      string
	logLevel      string
	dryRun        bool
	syncMode      string
	useRepo       string
	noDefaultRepo bool
	ifExists      string
	ifMissing     string
	project       string
}

// app bundles the handles a command needs: config, logger, index,
// store, fetcher. Built once in main and passed explicitly to every
// subcommand rather than held in package-level state.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	idx     *index.Index
	st      *store.Store
	fetcher *fetch.Fetcher
	keyring map[string]sign.KeyringEntry
	flags   globalFlags
}

func newApp(flags globalFlags) (*app, error) {
	cfg, err := config.Load(config.DefaultPath(), flags.cacheDir)
	if err != nil {
		return nil, errs.WrapKind(errs.KindUserInput, err, "load config")
	}
	if flags.logLevel == "" {
		flags.logLevel = cfg.LogLevel
	}
	log := logging.New(logging.ParseLevel(flags.logLevel))

	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, errs.WrapKind(errs.KindTransport, err, "create cache dir")
	}

	idx, err := index.Open(cfg.IndexPath, log)
	if err != nil {
		return nil, err
	}

	keyring, err := sign.LoadKeyring(filepath.Join(filepath.Dir(cfg.IndexPath), "keyring"))
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		log:     log,
		idx:     idx,
		st:      store.New(cfg.StorePath),
		fetcher: fetch.New(fetch.Options{Values: cfg.Values, Quiet: flags.logLevel == "" || !term.IsTerminal(int(os.Stdout.Fd()))}),
		keyring: keyring,
		flags:   flags,
	}, nil
}

func (a *app) close() {
	if a.idx != nil {
		a.idx.Close()
	}
}

// syncMode translates the --repo-sync-mode string into index.SyncMode.
func (a *app) syncMode() (index.SyncMode, error) {
	switch a.flags.syncMode {
	case "", "cached-okay":
		return index.SyncCachedOkay, nil
	case "always":
		return index.SyncAlways, nil
	case "never":
		return index.SyncNever, nil
	default:
		return 0, errs.New(errs.KindUserInput, "unknown --repo-sync-mode "+a.flags.syncMode)
	}
}

// syncRemotes registers --use-repo (if set) and the index's existing
// remotes, then syncs each per the resolved sync mode.
func (a *app) syncRemotes(ctx context.Context) ([]index.Remote, error) {
	mode, err := a.syncMode()
	if err != nil {
		return nil, err
	}

	remotes, err := a.idx.ListRemotes(ctx)
	if err != nil {
		return nil, err
	}
	if a.flags.useRepo != "" {
		r, err := a.idx.UpsertRemote(ctx, a.flags.useRepo, len(remotes)+1)
		if err != nil {
			return nil, err
		}
		remotes = append(remotes, r)
	}
	if a.flags.noDefaultRepo {
		filtered := remotes[:0]
		for _, r := range remotes {
			if r.URL != defaultRemoteURL {
				filtered = append(filtered, r)
			}
		}
		remotes = filtered
	}

	for _, r := range remotes {
		if err := a.idx.Sync(ctx, r, mode, a.fetcher); err != nil {
			return nil, err
		}
		if err := a.verifyRemoteSignature(ctx, r); err != nil {
			return nil, err
		}
	}
	return remotes, nil
}

// verifyRemoteSignature checks a remote's repo.db.sig against its
// keyring entry, if one is registered. A remote with no keyring entry
// syncs unsigned; index.Sync has already merged the catalog by the time
// this runs, so a signature failure here is reported but does not
// unwind the merge — the mismatch surfaces as an Integrity error the
// caller can act on (e.g. refuse to build against that remote).
func (a *app) verifyRemoteSignature(ctx context.Context, r index.Remote) error {
	entry, ok := a.keyring[r.URL]
	if !ok {
		return nil
	}

	catalogPath, cleanupCatalog, err := a.fetcher.FetchCatalog(ctx, r.URL)
	if err != nil {
		return err
	}
	defer cleanupCatalog()
	sigPath, cleanupSig, err := a.fetcher.FetchCatalogSignature(ctx, r.URL)
	if err != nil {
		return errs.WrapKind(errs.KindIntegrity, err, "fetch signature for "+r.URL)
	}
	defer cleanupSig()

	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return errs.WrapKind(errs.KindTransport, err, "read catalog for signature check")
	}
	sigHex, err := os.ReadFile(sigPath)
	if err != nil {
		return errs.WrapKind(errs.KindTransport, err, "read signature for "+r.URL)
	}

	entry.RemoteID = r.ID
	return sign.Verify(data, sigHex, entry)
}

const defaultRemoteURL = "https://repo.crs-lang.org"

func projectManifestPath(flags globalFlags) string {
	root := flags.project
	if root == "" {
		root, _ = os.Getwd()
	}
	return filepath.Join(root, "manifest.crs")
}

func printErr(err error) int {
	kind := errs.KindOf(err)
	logging.Error.Printf("crs: %v\n", err)
	var e *errs.Error
	if unwrapped, ok := err.(*errs.Error); ok {
		e = unwrapped
	}
	if e != nil && kind == errs.KindResolution {
		if len(e.UnsatCore) > 0 {
			fmt.Fprintf(os.Stderr, "  unsatisfiable: %v\n", e.UnsatCore)
		}
		if len(e.DidYouMean) > 0 {
			fmt.Fprintf(os.Stderr, "  did you mean: %v\n", e.DidYouMean)
		}
	}
	return kind.ExitCode()
}

// newPoolOptions builds buildexec.Options from global flags.
func (a *app) newPoolOptions(jobs int, keepGoing bool) (buildexec.Options, func(), error) {
	cache, err := buildexec.OpenCache(a.cfg.CompileDB)
	if err != nil {
		return buildexec.Options{}, nil, err
	}
	closeFn := func() { cache.Close() }
	return buildexec.Options{
		MaxJobs:   jobs,
		KeepGoing: keepGoing,
		Cache:     cache,
		Logger:    a.log,
	}, closeFn, nil
}
