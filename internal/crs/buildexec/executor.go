// Package buildexec runs a planned build DAG (see internal/crs/plan): a
// work-stealing pool of workers executes ready plan.Nodes as subprocesses,
// skips any node whose fingerprint is already recorded in the build cache,
// and propagates failure along DependsOn edges.
package buildexec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/sauzeros/crs/internal/crs/errs"
	"github.com/sauzeros/crs/internal/crs/plan"
)

// Executor runs one node's command as a subprocess, isolated in its own
// process group so a cancelled context reliably kills every descendant
// it may have spawned (a shell wrapper, a linker's temporary tool
// invocations) rather than leaking orphans. Grounded on executor.go's
// Executor.Run; crs drops the privilege-escalation phase entirely since
// compiling and linking never need root, but keeps the idle-priority
// wrapper for jobs that should not contend with a foreground build.
type Executor struct {
	// IdlePriority wraps the command in `nice -n 19`. Set on the
	// executor used for background prefetch/warm builds so they never
	// starve a foreground interactive build for CPU.
	IdlePriority bool
}

// Run executes n's Argv, returning its combined stdout+stderr and an
// error classified by n.Kind (KindTestFailure for a failed test-run node,
// KindBuildFailure otherwise) wrapped with the process's own error on
// non-cancellation failure, or KindCancelled if ctx was cancelled first.
func (e *Executor) Run(ctx context.Context, n plan.Node) ([]byte, error) {
	if len(n.Argv) == 0 {
		return nil, errs.New(errs.KindInternal, fmt.Sprintf("buildexec: node %q has an empty argv", n.ID))
	}

	path := n.Argv[0]
	args := n.Argv[1:]
	if e.IdlePriority {
		args = append([]string{"-n", "19", path}, args...)
		path = "nice"
	}

	cmd := exec.Command(path, args...)
	cmd.Env = os.Environ()
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return out.Bytes(), wrapFailure(n, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return out.Bytes(), wrapFailure(n, err)
		}
		return out.Bytes(), nil
	case <-ctx.Done():
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		time.Sleep(100 * time.Millisecond)
		return out.Bytes(), errs.New(errs.KindCancelled, fmt.Sprintf("buildexec: %s aborted: %v", n.ID, ctx.Err()))
	}
}

func wrapFailure(n plan.Node, err error) *errs.Error {
	kind := errs.KindBuildFailure
	if n.Kind == plan.KindTestRun {
		kind = errs.KindTestFailure
	}
	return errs.WrapKind(kind, err, fmt.Sprintf("buildexec: %s failed", n.ID))
}
