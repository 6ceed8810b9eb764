package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/spf13/pflag"

	"github.com/sauzeros/crs/internal/crs/errs"
	"github.com/sauzeros/crs/internal/crs/logging"
)

// main wires up signal-driven cancellation, parses crs's global flags,
// and dispatches to a subcommand handler. SIGINT/SIGTERM cancels the
// context; a second signal within about two seconds of the first forces
// immediate exit, and a later one is not handled. There is no "critical
// phase" that blocks the first signal during a privileged install — crs
// never runs a step that needs that protection, since compiling is
// always safe to interrupt and resume.
func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			logging.Arrow.Print("\n-> ")
			color.Danger.Printf("received %v, cancelling\n", sig)
			cancel()
			time.Sleep(100 * time.Millisecond)

			select {
			case <-sigs:
				logging.Arrow.Print("\n-> ")
				color.Danger.Printf("second interrupt, forcing exit\n")
				os.Exit(errs.KindCancelled.ExitCode())
			case <-time.After(2 * time.Second):
				return
			}
		case <-ctx.Done():
		}
	}()

	if ctx.Err() != nil {
		return errs.KindCancelled.ExitCode()
	}

	if len(os.Args) < 2 {
		printHelp()
		return errs.KindUserInput.ExitCode()
	}

	flags, subcommand, subArgs, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "crs: %v\n", err)
		return errs.KindUserInput.ExitCode()
	}
	if subcommand == "" {
		printHelp()
		return 0
	}

	a, err := newApp(flags)
	if err != nil {
		return printErr(err)
	}
	defer a.close()

	return dispatch(ctx, a, subcommand, subArgs)
}

func dispatch(ctx context.Context, a *app, subcommand string, args []string) int {
	switch subcommand {
	case "build":
		return cmdBuild(ctx, a, args)
	case "compile-file":
		return cmdCompileFile(ctx, a, args)
	case "build-deps":
		return cmdBuildDeps(ctx, a, args)
	case "pkg":
		return cmdPkg(ctx, a, args)
	case "repo":
		return cmdRepo(ctx, a, args)
	case "help", "--help", "-h":
		printHelp()
		return 0
	default:
		return printErr(errs.New(errs.KindUserInput, "unknown command: "+subcommand))
	}
}

// parseGlobalFlags consumes leading global flags up to the first
// non-flag argument, which names the subcommand; everything after
// belongs to that subcommand's own parser.
func parseGlobalFlags(args []string) (globalFlags, string, []string, error) {
	fs := pflag.NewFlagSet("crs", pflag.ContinueOnError)
	fs.SetInterspersed(false)

	var flags globalFlags
	fs.StringVar(&flags.cacheDir, "crs-cache-dir", "", "override store/index root")
	fs.StringVar(&flags.logLevel, "log-level", "", "trace, debug, info, warn, error")
	fs.BoolVar(&flags.dryRun, "dry-run", false, "plan only, no mutations")
	fs.StringVar(&flags.syncMode, "repo-sync-mode", "", "always, cached-okay, never")
	fs.StringVar(&flags.useRepo, "use-repo", "", "add an ad-hoc remote for this invocation")
	fs.BoolVar(&flags.noDefaultRepo, "no-default-repo", false, "disable the built-in default remote")
	fs.StringVar(&flags.ifExists, "if-exists", "", "replace, fail, ignore")
	fs.StringVar(&flags.ifMissing, "if-missing", "", "fail, ignore")
	fs.StringVar(&flags.project, "project", "", "project root (default: CWD)")

	if err := fs.Parse(args); err != nil {
		return globalFlags{}, "", nil, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return flags, "", nil, nil
	}
	return flags, rest[0], rest[1:], nil
}

func printHelp() {
	fmt.Println(`crs — source-based build driver and package manager

Usage:
  crs [global flags] <command> [command flags]

Commands:
  build [--tui]          Build the current project
  compile-file <files>   Compile named files only
  build-deps             Build only declared dependencies
  pkg create             Package current project as an sdist
  pkg search <pattern>   Query the remote index
  pkg prefetch <id>...   Populate the store for package IDs
  pkg solve <req>...     Resolve and print a dependency set
  pkg gc                 Sweep the store of anything the project no longer needs
  pkg repo {add,remove,update,ls,trust}   Manage index remotes
  repo {init,import,remove,validate,ls,keygen,sign}   Manage a local repository
  repo ls --depends-on <name>   Report packages that depend on <name>

Global flags:
  --crs-cache-dir <path>
  --log-level {trace,debug,info,warn,error}
  --dry-run
  --repo-sync-mode {always,cached-okay,never}
  --use-repo <url>
  --no-default-repo
  --if-exists {replace,fail,ignore}
  --if-missing {fail,ignore}
  --project <path>`)
}
