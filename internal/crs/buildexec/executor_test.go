package buildexec

import (
	"context"
	"testing"
	"time"

	"github.com/sauzeros/crs/internal/crs/errs"
	"github.com/sauzeros/crs/internal/crs/plan"
)

func TestExecutorRunSucceeds(t *testing.T) {
	e := &Executor{}
	n := plan.Node{ID: "n1", Kind: plan.KindCompile, Argv: []string{"/bin/sh", "-c", "echo hi"}}

	out, err := e.Run(context.Background(), n)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(out) != "hi\n" {
		t.Fatalf("output = %q, want %q", out, "hi\n")
	}
}

func TestExecutorRunReportsNonZeroExit(t *testing.T) {
	e := &Executor{}
	n := plan.Node{ID: "n1", Kind: plan.KindCompile, Argv: []string{"/bin/sh", "-c", "exit 1"}}

	_, err := e.Run(context.Background(), n)
	if err == nil {
		t.Fatal("expected an error for a non-zero exit")
	}
	if errs.KindOf(err) != errs.KindBuildFailure {
		t.Fatalf("kind = %v, want KindBuildFailure", errs.KindOf(err))
	}
}

func TestExecutorRunClassifiesTestRunFailureAsTestFailure(t *testing.T) {
	e := &Executor{}
	n := plan.Node{ID: "n1", Kind: plan.KindTestRun, Argv: []string{"/bin/sh", "-c", "exit 1"}}

	_, err := e.Run(context.Background(), n)
	if errs.KindOf(err) != errs.KindTestFailure {
		t.Fatalf("kind = %v, want KindTestFailure", errs.KindOf(err))
	}
}

func TestExecutorRunKillsOnCancel(t *testing.T) {
	e := &Executor{}
	n := plan.Node{ID: "n1", Kind: plan.KindCompile, Argv: []string{"/bin/sh", "-c", "sleep 5"}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := e.Run(ctx, n)
	if errs.KindOf(err) != errs.KindCancelled {
		t.Fatalf("kind = %v, want KindCancelled", errs.KindOf(err))
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("Run took %v, want the sleep to be killed well under its 5s duration", time.Since(start))
	}
}
