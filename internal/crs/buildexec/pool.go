package buildexec

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sauzeros/crs/internal/crs/errs"
	"github.com/sauzeros/crs/internal/crs/plan"
)

// Result is one node's outcome after a Pool.Run.
type Result struct {
	NodeID   string
	Err      error
	Duration time.Duration
	Cached   bool
	Output   []byte
}

// Options configures a Pool.
type Options struct {
	// MaxJobs caps concurrently running nodes. Zero means 1.
	MaxJobs int
	// KeepGoing lets independent branches of the DAG keep starting new
	// nodes after a failure elsewhere; only nodes that depend, directly
	// or transitively, on the failed node are skipped. The default
	// (false) is fail-fast-but-drain: once any node fails, no new node
	// is started, but nodes already running are allowed to finish.
	KeepGoing bool
	// Idle marks every node this pool runs as low-priority (nice -n 19),
	// for background prefetch/warm builds that must not contend with a
	// foreground interactive build.
	Idle bool
	// Cache is consulted before running each node and updated after each
	// successful one. Defaults to NullCache (every node runs).
	Cache Cache
	// Logger receives per-node start/finish/cache-hit diagnostics at
	// Debug level and failures at Error level.
	Logger *slog.Logger
	// Progress, if set, is called once per node as its Result becomes
	// final, before Run aggregates into its returned map — the hook a
	// --tui build mode uses to update a node's status glyph live rather
	// than waiting for the whole pool to finish.
	Progress func(Result)
}

// nodeResult is what a worker goroutine sends back to the coordinator.
type nodeResult struct {
	id       string
	err      error
	duration time.Duration
	output   []byte
	cached   bool
}

// Pool runs a []plan.Node to completion, respecting each node's
// DependsOn edges. Grounded on parallel.go's ParallelManager: a single
// coordinating goroutine owns all scheduling state under one mutex,
// worker goroutines only ever send one nodeResult each down a shared
// channel. crs reindexes that pattern from package name to plan.Node.ID
// and replaces depends-file/alternatives resolution with direct
// DependsOn edges, since the plan package has already resolved those.
type Pool struct {
	nodes   map[string]plan.Node
	pending []string

	mu        sync.Mutex
	running   map[string]time.Time
	completed map[string]bool
	failed    map[string]error

	resultChan chan nodeResult
	opts       Options
	exec       *Executor
}

// NewPool builds a Pool over nodes, which is expected to already be
// topologically ordered (plan.Build guarantees this) though Pool does
// not rely on the order for correctness, only for a stable starting scan.
func NewPool(nodes []plan.Node, opts Options) *Pool {
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = 1
	}
	if opts.Cache == nil {
		opts.Cache = NullCache{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	byID := make(map[string]plan.Node, len(nodes))
	pending := make([]string, 0, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
		pending = append(pending, n.ID)
	}

	return &Pool{
		nodes:      byID,
		pending:    pending,
		running:    map[string]time.Time{},
		completed:  map[string]bool{},
		failed:     map[string]error{},
		resultChan: make(chan nodeResult, len(nodes)),
		opts:       opts,
		exec:       &Executor{IdlePriority: opts.Idle},
	}
}

// Run drives every node to completion (or to a skipped-due-to-failed-
// dependency outcome) and returns every node's Result keyed by ID. A
// non-nil error is returned iff at least one node failed or was skipped.
func (p *Pool) Run(ctx context.Context) (map[string]Result, error) {
	results := map[string]Result{}

	for {
		p.mu.Lock()
		p.skipBlocked()
		p.startReady(ctx)
		runningCount := len(p.running)
		pendingCount := len(p.pending)
		p.mu.Unlock()

		if runningCount == 0 {
			if pendingCount == 0 {
				break
			}
			// Pending nodes remain but none could start: either every
			// remaining node is blocked by a failure (already drained
			// above) or the plan has a dependency on a node ID that
			// will never complete.
			p.mu.Lock()
			for _, id := range p.pending {
				p.failed[id] = errs.New(errs.KindInternal, fmt.Sprintf("buildexec: node %q can never become ready", id))
			}
			p.pending = nil
			p.mu.Unlock()
			continue
		}

		res := <-p.resultChan
		p.mu.Lock()
		delete(p.running, res.id)
		n := p.nodes[res.id]
		if res.err != nil {
			p.failed[res.id] = res.err
			p.opts.Logger.Error("node failed", "node", res.id, "kind", n.Kind, "err", res.err)
		} else {
			p.completed[res.id] = true
			if !res.cached {
				// Only a node that actually ran needs its binding refreshed;
				// a cache hit is already bound to the fingerprint it matched.
				outputHash, hashErr := hashOutputs(n.Outputs)
				if hashErr != nil {
					p.opts.Logger.Warn("output hash failed", "node", res.id, "err", hashErr)
				} else if err := p.opts.Cache.Put(n.Fingerprint, outputHash); err != nil {
					p.opts.Logger.Warn("cache write failed", "node", res.id, "err", err)
				}
			}
			p.opts.Logger.Debug("node finished", "node", res.id, "kind", n.Kind, "duration", res.duration)
		}
		r := Result{NodeID: res.id, Err: res.err, Duration: res.duration, Output: res.output, Cached: res.cached}
		results[res.id] = r
		p.mu.Unlock()
		if p.opts.Progress != nil {
			p.opts.Progress(r)
		}
	}

	for id, err := range p.failed {
		if _, ok := results[id]; !ok {
			results[id] = Result{NodeID: id, Err: err}
		}
	}

	if len(p.failed) > 0 {
		names := make([]string, 0, len(p.failed))
		for id := range p.failed {
			names = append(names, id)
		}
		sort.Strings(names)
		return results, errs.New(errs.KindBuildFailure, fmt.Sprintf("buildexec: %d node(s) failed or were blocked: %v", len(names), names))
	}
	return results, nil
}

// skipBlocked marks, as failed, every still-pending node that depends on
// an already-failed node, and (unless KeepGoing is set) every other
// pending node once a single failure has occurred — the fail-fast-but-
// drain default lets running work finish but starts nothing new. A
// test-run node that isn't transitively blocked is always left in
// remaining regardless of KeepGoing: tests run after all compilations
// complete and one test failing must not stop an unrelated, already-ready
// test from running. Must be called with p.mu held.
func (p *Pool) skipBlocked() {
	if len(p.failed) == 0 {
		return
	}

	var remaining []string
	for _, id := range p.pending {
		if p.blockedByFailure(id) {
			p.failed[id] = errs.New(errs.KindBuildFailure, fmt.Sprintf("buildexec: %s skipped: a dependency failed", id))
			continue
		}
		if p.nodes[id].Kind == plan.KindTestRun {
			remaining = append(remaining, id)
			continue
		}
		if !p.opts.KeepGoing {
			p.failed[id] = errs.New(errs.KindBuildFailure, fmt.Sprintf("buildexec: %s skipped after an earlier failure", id))
			continue
		}
		remaining = append(remaining, id)
	}
	p.pending = remaining
}

func (p *Pool) blockedByFailure(id string) bool {
	n, ok := p.nodes[id]
	if !ok {
		return false
	}
	for _, dep := range n.DependsOn {
		if _, failed := p.failed[dep]; failed {
			return true
		}
		if p.blockedByFailure(dep) {
			return true
		}
	}
	return false
}

// startReady launches every pending node whose dependencies have all
// completed, up to MaxJobs concurrently running. A test-run node also
// waits until no node of another kind is pending or running, so tests
// start only after every compilation has finished. Must be called with
// p.mu held.
func (p *Pool) startReady(ctx context.Context) int {
	buildOutstanding := false
	for _, id := range p.pending {
		buildOutstanding = buildOutstanding || p.nodes[id].Kind != plan.KindTestRun
	}
	for id := range p.running {
		buildOutstanding = buildOutstanding || p.nodes[id].Kind != plan.KindTestRun
	}
	started := 0
	var remaining []string
	for _, id := range p.pending {
		if len(p.running) >= p.opts.MaxJobs {
			remaining = append(remaining, id)
			continue
		}
		if !p.depsComplete(id) || (buildOutstanding && p.nodes[id].Kind == plan.KindTestRun) {
			remaining = append(remaining, id)
			continue
		}
		p.start(ctx, id)
		started++
	}
	p.pending = remaining
	return started
}

func (p *Pool) depsComplete(id string) bool {
	n := p.nodes[id]
	for _, dep := range n.DependsOn {
		if _, exists := p.nodes[dep]; !exists {
			continue // dependency outside this run's node set
		}
		if !p.completed[dep] {
			return false
		}
	}
	return true
}

// start launches id's command in a worker goroutine, first checking the
// cache so an unchanged node never re-runs its command.
func (p *Pool) start(ctx context.Context, id string) {
	n := p.nodes[id]
	p.running[id] = time.Now()

	// n.Fingerprint was computed at plan time, before any dependency had
	// run; by the time start is called every dependency in n.DependsOn has
	// completed (startReady only calls start once depsComplete is true), so
	// refingerprint now against the bytes those dependencies actually
	// produced and persist the corrected value before the cache lookup.
	n.Refingerprint()
	p.nodes[id] = n

	hit, err := p.opts.Cache.Hit(n.Fingerprint)
	if err != nil {
		p.opts.Logger.Warn("cache lookup failed", "node", id, "err", err)
	}
	if hit {
		p.opts.Logger.Debug("cache hit", "node", id, "kind", n.Kind)
		go func() {
			p.resultChan <- nodeResult{id: id, cached: true}
		}()
		return
	}

	p.opts.Logger.Debug("node starting", "node", id, "kind", n.Kind)
	go func() {
		start := time.Now()
		output, err := p.exec.Run(ctx, n)
		p.resultChan <- nodeResult{id: id, err: err, duration: time.Since(start), output: output}
	}()
}
