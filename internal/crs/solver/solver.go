// Package solver implements a backtracking DPLL-style dependency
// resolver: given a set of root requirements and an index, produce a
// resolved set satisfying all of them and their transitive dependencies,
// maximizing (version desc, revision desc) at each decision. No source
// this was grounded on resolves a versioned SAT problem directly — this
// is new construction against internal/crs/semver and
// internal/crs/didyoumean, following the surrounding packages'
// error-wrapping idiom (see DESIGN.md).
package solver

import (
	"context"
	"fmt"
	"sort"

	"github.com/sauzeros/crs/internal/crs/didyoumean"
	"github.com/sauzeros/crs/internal/crs/errs"
	"github.com/sauzeros/crs/internal/crs/manifest"
	"github.com/sauzeros/crs/internal/crs/semver"
)

// Requirement is a dependency expression, rooted or inherited from a
// selected package's manifest.
type Requirement struct {
	Name  string
	Range semver.Range
	Using []string
	Kind  manifest.Kind
}

// Candidate is one index entry usable to satisfy a Requirement.
type Candidate struct {
	RemoteID    int64
	RemotePrio  int
	Name        string
	Version     semver.Version
	Revision    int
	Manifest    *manifest.Package
	ContentHash string
}

// Selection is a resolved-set entry: the chosen candidate for one name.
type Selection struct {
	Name        string
	Version     semver.Version
	Revision    int
	RemoteID    int64
	Manifest    *manifest.Package
	ContentHash string
}

// Index is the minimal read surface the solver needs, satisfied by
// internal/crs/index.Index through a thin adapter at the call site — kept
// as an interface here so solver has no dependency on the storage layer.
type Index interface {
	Candidates(ctx context.Context, name string) ([]Candidate, error)
	KnownNames(ctx context.Context) ([]string, error)
}

// UnsatError describes an unsatisfiable solve: the minimal unsat core and
// did-you-mean suggestions. Solve itself does not return it; it reports
// failure as an errs.Resolution error carrying the core and suggestions.
type UnsatError struct {
	Core       []string
	DidYouMean map[string][]string
}

func (e *UnsatError) Error() string {
	return fmt.Sprintf("unsatisfiable requirements: %v", e.Core)
}

type openReq struct {
	name  string
	rng   semver.Range
	using map[string]bool
	kind  manifest.Kind
}

// Solve runs the solver over roots against idx: smallest-remaining-domain
// variable selection, descending-(version,revision,priority) candidate
// order, and chronological backtracking: on a conflict every remaining
// candidate of the innermost decision is tried before unwinding one level;
// it does not jump back to the decision whose range caused the conflict.
// On failure, did-you-mean suggestions are computed only for names in the
// unsat core (root names) that have no candidates; transitive dependency
// names are not checked.
func Solve(ctx context.Context, idx Index, roots []Requirement) (map[string]Selection, error) {
	s := &solveState{idx: idx, assigned: map[string]Selection{}}
	open := make([]openReq, 0, len(roots))
	for _, r := range roots {
		open = append(open, openReq{name: r.Name, rng: r.Range, using: toSet(r.Using), kind: r.Kind})
	}

	ok, _, err := s.search(ctx, open, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		core, err := shrinkUnsatCore(ctx, idx, roots)
		if err != nil {
			return nil, err
		}
		dym := map[string][]string{}
		known, _ := idx.KnownNames(ctx)
		for _, name := range core {
			if cands, err := idx.Candidates(ctx, name); err == nil && len(cands) == 0 {
				dym[name] = didyoumean.Suggestions(name, known, 3)
			}
		}
		return nil, errs.Resolution(fmt.Sprintf("unable to satisfy requirements %v", core), core, flatten(dym))
	}
	return s.assigned, nil
}

// shrinkUnsatCore finds the minimal unsatisfiable core: the smallest
// subset of roots that is still unsatisfiable, by re-running the solver
// on ever-smaller subsets. It starts from the full root set (known
// unsat) and repeatedly tries dropping one requirement at a time,
// keeping the drop only if the remaining set is still unsat — a single
// left-to-right sweep that is a fixed point once no further requirement
// can be removed without the subset becoming satisfiable. Every attempt
// is a fresh search over a disposable solveState, so shrinking never
// disturbs the caller's own resolved set.
func shrinkUnsatCore(ctx context.Context, idx Index, roots []Requirement) ([]string, error) {
	current := append([]Requirement{}, roots...)
	for i := 0; i < len(current); {
		candidate := append(append([]Requirement{}, current[:i]...), current[i+1:]...)
		if len(candidate) == 0 {
			i++
			continue
		}
		unsat, err := isUnsat(ctx, idx, candidate)
		if err != nil {
			return nil, err
		}
		if unsat {
			current = candidate
			continue
		}
		i++
	}

	names := make([]string, len(current))
	for i, r := range current {
		names[i] = r.Name
	}
	sort.Strings(names)
	return names, nil
}

func isUnsat(ctx context.Context, idx Index, roots []Requirement) (bool, error) {
	s := &solveState{idx: idx, assigned: map[string]Selection{}}
	open := make([]openReq, 0, len(roots))
	for _, r := range roots {
		open = append(open, openReq{name: r.Name, rng: r.Range, using: toSet(r.Using), kind: r.Kind})
	}
	ok, _, err := s.search(ctx, open, nil)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

type decision struct {
	name       string
	rng        semver.Range
	tried      []Candidate
	remaining  []Candidate
}

type solveState struct {
	idx      Index
	assigned map[string]Selection
}

// search explores the DPLL-style tree. decisions is the stack of prior
// choices; it is passed down but not consulted, since unwinding is
// chronological. It returns (success, unsatCore-on-failure, error).
func (s *solveState) search(ctx context.Context, open []openReq, decisions []decision) (bool, []string, error) {
	if len(open) == 0 {
		return true, nil, nil
	}

	// Merge open requirements sharing a name into one combined range
	// before selecting, rather than tracking duplicates separately.
	merged := mergeOpen(open)

	// Smallest-domain heuristic: fewest remaining candidates, ties by
	// lexicographic name order.
	best := -1
	var bestCandidates []Candidate
	for i, req := range merged {
		if sel, ok := s.assigned[req.name]; ok {
			if !req.rng.Matches(sel.Version) {
				// Already assigned to an incompatible version: conflict now.
				return false, []string{req.name}, nil
			}
			continue
		}
		cands, err := s.idx.Candidates(ctx, req.name)
		if err != nil {
			return false, nil, err
		}
		filtered := filterAndSort(cands, req.rng)
		if best == -1 || len(filtered) < len(bestCandidates) ||
			(len(filtered) == len(bestCandidates) && req.name < merged[best].name) {
			best = i
			bestCandidates = filtered
		}
	}
	if best == -1 {
		// Everything remaining was already assigned and compatible.
		return true, nil, nil
	}

	req := merged[best]
	rest := removeAt(merged, best)

	if len(bestCandidates) == 0 {
		return false, []string{req.name}, nil
	}

	for _, c := range bestCandidates {
		if existing, ok := s.assigned[req.name]; ok && !sameSelection(existing, c) {
			continue
		}

		snapshot := s.assigned[req.name]
		hadPrior := false
		if _, ok := s.assigned[req.name]; ok {
			hadPrior = true
		}

		s.assigned[req.name] = Selection{
			Name: c.Name, Version: c.Version, Revision: c.Revision,
			RemoteID: c.RemoteID, Manifest: c.Manifest, ContentHash: c.ContentHash,
		}

		childOpen := append([]openReq{}, rest...)
		childOpen = append(childOpen, dependenciesOf(c)...)

		ok2, _, err := s.search(ctx, childOpen, append(decisions, decision{name: req.name, rng: req.rng}))
		if err != nil {
			return false, nil, err
		}
		if ok2 {
			return true, nil, nil
		}

		if hadPrior {
			s.assigned[req.name] = snapshot
		} else {
			delete(s.assigned, req.name)
		}

		// Unwind: try every remaining candidate at this decision point
		// regardless of which name the child subtree's conflict was at —
		// the per-name core a single search() path returns isn't a
		// minimal core on its own (it's just wherever backtracking ran
		// out of candidates), so it's not worth threading back up here.
		// Solve's shrinkUnsatCore computes the real minimal core
		// separately, by re-running the whole search over root subsets.
	}

	return false, []string{req.name}, nil
}

func dependenciesOf(c Candidate) []openReq {
	if c.Manifest == nil {
		return nil
	}
	var out []openReq
	for _, deps := range c.Manifest.Dependencies {
		for _, d := range deps {
			rng, err := semver.ParseRange(d.Range)
			if err != nil {
				continue
			}
			out = append(out, openReq{name: d.Name, rng: rng, using: toSet(d.Using), kind: d.Kind})
		}
	}
	return out
}

func mergeOpen(open []openReq) []openReq {
	byName := map[string]*openReq{}
	var order []string
	for _, o := range open {
		if existing, ok := byName[o.name]; ok {
			existing.rng = semver.Intersect(existing.rng, o.rng)
			for u := range o.using {
				existing.using[u] = true
			}
		} else {
			copy := o
			if copy.using == nil {
				copy.using = map[string]bool{}
			}
			byName[o.name] = &copy
			order = append(order, o.name)
		}
	}
	out := make([]openReq, 0, len(order))
	for _, n := range order {
		out = append(out, *byName[n])
	}
	return out
}

func filterAndSort(cands []Candidate, rng semver.Range) []Candidate {
	var out []Candidate
	for _, c := range cands {
		if rng.Matches(c.Version) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := semver.Compare(out[i].Version, out[j].Version); c != 0 {
			return c > 0
		}
		if out[i].Revision != out[j].Revision {
			return out[i].Revision > out[j].Revision
		}
		return out[i].RemotePrio > out[j].RemotePrio
	})
	return out
}

func sameSelection(existing Selection, c Candidate) bool {
	return existing.Version == c.Version && existing.Revision == c.Revision && existing.RemoteID == c.RemoteID
}

func removeAt(s []openReq, i int) []openReq {
	out := make([]openReq, 0, len(s)-1)
	out = append(out, s[:i]...)
	out = append(out, s[i+1:]...)
	return out
}

func toSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func flatten(m map[string][]string) []string {
	var out []string
	for _, v := range m {
		out = append(out, v...)
	}
	return out
}
