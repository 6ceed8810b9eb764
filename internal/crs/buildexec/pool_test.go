package buildexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sauzeros/crs/internal/crs/plan"
)

// shNode's Fingerprint is left zero: Pool.start refingerprints every node
// from its Argv/Inputs right before the cache lookup, so a fingerprint set
// here would just be overwritten.
func shNode(id string, script string, dependsOn ...string) plan.Node {
	return plan.Node{
		ID:        id,
		Kind:      plan.KindCompile,
		Argv:      []string{"/bin/sh", "-c", script},
		DependsOn: dependsOn,
	}
}

func TestPoolRunsAllNodesToCompletion(t *testing.T) {
	nodes := []plan.Node{
		shNode("a", "true"),
		shNode("b", "true", "a"),
		shNode("c", "true", "a"),
	}
	p := NewPool(nodes, Options{MaxJobs: 2})

	results, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if r, ok := results[id]; !ok || r.Err != nil {
			t.Fatalf("node %q: result = %+v, ok = %v", id, r, ok)
		}
	}
}

func TestPoolProgressFiresOncePerNode(t *testing.T) {
	nodes := []plan.Node{
		shNode("a", "true"),
		shNode("b", "true", "a"),
	}

	var mu sync.Mutex
	seen := map[string]int{}
	p := NewPool(nodes, Options{MaxJobs: 2, Progress: func(r Result) {
		mu.Lock()
		seen[r.NodeID]++
		mu.Unlock()
	}})

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if seen[id] != 1 {
			t.Fatalf("node %q: Progress fired %d times, want 1", id, seen[id])
		}
	}
}

func TestPoolFailFastSkipsIndependentPending(t *testing.T) {
	nodes := []plan.Node{
		shNode("a", "exit 1"),
		shNode("b", "true"),
	}
	p := NewPool(nodes, Options{MaxJobs: 1, KeepGoing: false})

	results, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error when a node fails")
	}
	if results["a"].Err == nil {
		t.Fatal("expected node a to report its own failure")
	}
	if results["b"].Err == nil {
		t.Fatal("expected node b to be skipped after a's failure in fail-fast mode")
	}
}

func TestPoolKeepGoingRunsIndependentBranches(t *testing.T) {
	nodes := []plan.Node{
		shNode("a", "exit 1"),
		shNode("b", "true"),
	}
	p := NewPool(nodes, Options{MaxJobs: 2, KeepGoing: true})

	results, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error since a still failed")
	}
	if results["b"].Err != nil {
		t.Fatalf("b should have run independently of a's failure, got %v", results["b"].Err)
	}
}

func TestPoolFailFastStillRunsIndependentTestRun(t *testing.T) {
	nodes := []plan.Node{
		shNode("a", "exit 1"),
		{ID: "t", Kind: plan.KindTestRun, Argv: []string{"/bin/sh", "-c", "true"}},
	}
	p := NewPool(nodes, Options{MaxJobs: 1, KeepGoing: false})

	results, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error since a failed")
	}
	if results["t"].Err != nil {
		t.Fatalf("expected the unrelated test-run node to run and pass, got %v", results["t"].Err)
	}
}

func TestPoolKeepGoingSkipsDependentsOfAFailure(t *testing.T) {
	nodes := []plan.Node{
		shNode("a", "exit 1"),
		shNode("b", "true", "a"),
	}
	p := NewPool(nodes, Options{MaxJobs: 2, KeepGoing: true})

	results, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if results["b"].Err == nil {
		t.Fatal("expected b to be skipped since its dependency a failed")
	}
}

func TestPoolSkipsCachedNodes(t *testing.T) {
	a := shNode("a", "true")
	a.Refingerprint()
	nodes := []plan.Node{a}
	c := &stubCache{hits: map[string]bool{a.Fingerprint: true}}
	p := NewPool(nodes, Options{MaxJobs: 1, Cache: c})

	results, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results["a"].Duration != 0 {
		t.Fatalf("expected a cache-hit node to report zero duration, got %v", results["a"].Duration)
	}
}

// TestPoolRefingerprintsDependentNodesAfterRebuild reproduces a second
// node (archive-like) whose sole declared input is a first node's
// (compile-like) output. A plan built before the first node has run would
// fingerprint the second node against whatever stale bytes that output
// path already held from a previous build; Pool.start must recompute it
// against the bytes the first node actually just produced, or the third,
// unchanged rebuild below would miss the cache and rerun the second node
// for nothing.
func TestPoolRefingerprintsDependentNodesAfterRebuild(t *testing.T) {
	dir := t.TempDir()
	objPath := filepath.Join(dir, "obj")
	runLog := filepath.Join(dir, "archive-runs")

	build := func(content string, c Cache) map[string]Result {
		compile := plan.Node{
			ID:   "compile",
			Kind: plan.KindCompile,
			Argv: []string{"/bin/sh", "-c", fmt.Sprintf("printf %s > %s", content, objPath)},
		}
		archive := plan.Node{
			ID:        "archive",
			Kind:      plan.KindArchive,
			Inputs:    []string{objPath},
			Argv:      []string{"/bin/sh", "-c", fmt.Sprintf("echo run >> %s", runLog)},
			DependsOn: []string{"compile"},
		}
		p := NewPool([]plan.Node{compile, archive}, Options{MaxJobs: 1, Cache: c})
		results, err := p.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return results
	}

	countRuns := func() int {
		b, err := os.ReadFile(runLog)
		if os.IsNotExist(err) {
			return 0
		}
		if err != nil {
			t.Fatal(err)
		}
		var n int
		for _, c := range b {
			if c == '\n' {
				n++
			}
		}
		return n
	}

	realCache := &recordingCache{hits: map[string]bool{}}

	build("v1", realCache)
	if got := countRuns(); got != 1 {
		t.Fatalf("after first build: archive ran %d times, want 1", got)
	}

	build("v2", realCache)
	if got := countRuns(); got != 2 {
		t.Fatalf("after source-changing rebuild: archive ran %d times, want 2", got)
	}

	build("v2", realCache)
	if got := countRuns(); got != 2 {
		t.Fatalf("after no-op rebuild: archive ran %d times, want 2 (cache hit expected, zero new subprocesses)", got)
	}
}

// recordingCache is a real Hit/Put cache (unlike stubCache's fixed-answer
// Hit), so each build's Put becomes the next build's cache state.
type recordingCache struct {
	mu   sync.Mutex
	hits map[string]bool
}

func (c *recordingCache) Hit(fp string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[fp], nil
}

func (c *recordingCache) Put(fp, outputHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits[fp] = true
	return nil
}

func (c *recordingCache) Close() error { return nil }

type stubCache struct {
	hits map[string]bool
	put  []string
}

func (s *stubCache) Hit(fp string) (bool, error) { return s.hits[fp], nil }
func (s *stubCache) Put(fp, outputHash string) error { s.put = append(s.put, fp); return nil }
func (s *stubCache) Close() error                { return nil }
