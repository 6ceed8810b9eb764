// Package plan builds the compile/archive/link/test-run DAG for a
// resolved dependency set. The planner is eager: Build returns a
// concrete, topologically ordered []Node, never a lazy pipeline (see
// DESIGN.md).
package plan

import (
	"fmt"
	"path"
	"sort"

	"github.com/sauzeros/crs/internal/crs/errs"
	"github.com/sauzeros/crs/internal/crs/manifest"
	"github.com/sauzeros/crs/internal/crs/solver"
	"github.com/sauzeros/crs/internal/crs/store"
)

// Kind of a build node.
type Kind string

const (
	KindCompile Kind = "compile"
	KindArchive Kind = "archive"
	KindLink    Kind = "link"
	KindTestRun Kind = "test-run"
)

// Toolchain describes the host compiler enough to fingerprint and invoke
// it. Supplied by the caller (cmd/crs reads it from a toolchain
// descriptor file, which this package never parses itself).
type Toolchain struct {
	// Identity is a stable string identifying the compiler build (e.g.
	// `cc --version` output digest), folded into every node's fingerprint.
	Identity string
	CC       string
	CXX      string
	AR       string
	CFlags   []string
	CXXFlags []string
	LDFlags  []string
}

// Node is a build node: (kind, inputs, outputs, command-fingerprint).
type Node struct {
	ID          string
	Kind        Kind
	Inputs      []string // input paths (sources, headers, objects, archives)
	Outputs     []string // output paths this node produces
	Argv        []string
	Fingerprint string

	// compilerIdentity is folded into Fingerprint; kept so Refingerprint
	// can recompute it later without the caller threading a Toolchain
	// back through buildexec.
	compilerIdentity string

	// DependsOn names other Node.IDs that must complete first.
	DependsOn []string

	// Package/Library/Source identify what this node builds, for
	// diagnostics and --tui display.
	Package string
	Library string
	Source  string
}

// sourceFile is one classified file within a library root.
type sourceFile struct {
	relPath string
	kind    manifest.SourceKind
}

// libraryPlan accumulates the state needed to build one library's nodes.
type libraryPlan struct {
	pkgName    string
	lib        manifest.Library
	root       string // absolute path to the library's root directory in the store
	sources    []sourceFile
	publicInc  string // absolute path of this library's include/ directory
	privateInc string // absolute path of this library's src/ directory (private headers)
}

// Options controls which non-library node kinds the plan includes.
type Options struct {
	IncludeTests bool
	IncludeApps  bool
}

// Build walks resolved, locating each selected package's expanded tree in
// st, classifying its sources, and emitting a topologically ordered node
// list.
func Build(resolved map[string]solver.Selection, st *store.Store, tc Toolchain, opts Options) ([]Node, error) {
	libs, err := collectLibraries(resolved, st)
	if err != nil {
		return nil, err
	}

	if err := checkAcyclic(libs); err != nil {
		return nil, err
	}

	b := &builder{libs: libs, tc: tc, opts: opts, byLibKey: map[string]*libraryPlan{}}
	for _, lp := range libs {
		b.byLibKey[libKey(lp.pkgName, lp.lib.Name)] = lp
	}

	var nodes []Node
	for _, lp := range libs {
		ns, err := b.planLibrary(lp)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, ns...)
	}

	return topoSort(nodes)
}

func libKey(pkgName, libName string) string { return pkgName + "::" + libName }

type builder struct {
	libs     []*libraryPlan
	tc       Toolchain
	opts     Options
	byLibKey map[string]*libraryPlan
}

// collectLibraries resolves every selection's store path and classifies
// each entry of a library's Sources into per-library plans. Each entry is
// used as a literal library-relative path; glob patterns are not expanded
// against the tree.
func collectLibraries(resolved map[string]solver.Selection, st *store.Store) ([]*libraryPlan, error) {
	var out []*libraryPlan
	var names []string
	for name := range resolved {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sel := resolved[name]
		if sel.Manifest == nil {
			continue
		}
		id := store.ID{Name: sel.Name, Version: sel.Version.String(), Revision: sel.Revision}
		root := st.Path(id)

		for _, lib := range sel.Manifest.Libraries {
			lp := &libraryPlan{
				pkgName:    sel.Name,
				lib:        lib,
				root:       path.Join(root, lib.Name),
				publicInc:  path.Join(root, lib.Name, "include"),
				privateInc: path.Join(root, lib.Name, "src"),
			}
			for _, glob := range lib.Sources {
				kind, ok := manifest.ClassifySource(glob)
				if !ok {
					continue
				}
				lp.sources = append(lp.sources, sourceFile{relPath: glob, kind: kind})
			}
			out = append(out, lp)
		}
	}
	return out, nil
}

// checkAcyclic rejects library `uses` cycles at plan time.
func checkAcyclic(libs []*libraryPlan) error {
	byKey := map[string]*libraryPlan{}
	for _, lp := range libs {
		byKey[libKey(lp.pkgName, lp.lib.Name)] = lp
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}

	var visit func(key string, chain []string) error
	visit = func(key string, chain []string) error {
		switch state[key] {
		case done:
			return nil
		case visiting:
			return errs.New(errs.KindUserInput, fmt.Sprintf("plan: cyclic library use detected: %v", append(chain, key)))
		}
		state[key] = visiting
		lp, ok := byKey[key]
		if ok {
			for _, use := range lp.lib.Uses {
				depKey := libKey(use.Package, use.Library)
				if _, exists := byKey[depKey]; !exists {
					continue
				}
				if err := visit(depKey, append(chain, key)); err != nil {
					return err
				}
			}
		}
		state[key] = done
		return nil
	}

	for _, lp := range libs {
		if err := visit(libKey(lp.pkgName, lp.lib.Name), nil); err != nil {
			return err
		}
	}
	return nil
}

// transitivePublicIncludes returns the public include directories of lib
// and everything it transitively uses, per the include-path rule: a
// consumer sees every used library's public headers.
func (b *builder) transitivePublicIncludes(lp *libraryPlan, seen map[string]bool) []string {
	key := libKey(lp.pkgName, lp.lib.Name)
	if seen[key] {
		return nil
	}
	seen[key] = true

	out := []string{lp.publicInc}
	for _, use := range lp.lib.Uses {
		dep, ok := b.byLibKey[libKey(use.Package, use.Library)]
		if !ok {
			continue
		}
		out = append(out, b.transitivePublicIncludes(dep, seen)...)
	}
	return out
}

// archiveRef pairs an archive's output path with the node ID that
// produces it, so callers can both link against the file and order the
// link node after the node that builds it.
type archiveRef struct {
	path string
	id   string
}

func (b *builder) transitiveArchives(lp *libraryPlan, seen map[string]bool) []archiveRef {
	key := libKey(lp.pkgName, lp.lib.Name)
	if seen[key] {
		return nil
	}
	seen[key] = true

	var out []archiveRef
	if hasCompilableSources(lp) {
		out = append(out, archiveRef{path: archiveOutputPath(lp), id: fmt.Sprintf("archive:%s/%s", lp.pkgName, lp.lib.Name)})
	}
	allUses := append(append([]manifest.LibraryUse{}, lp.lib.Uses...), lp.lib.Links...)
	for _, use := range allUses {
		dep, ok := b.byLibKey[libKey(use.Package, use.Library)]
		if !ok {
			continue
		}
		out = append(out, b.transitiveArchives(dep, seen)...)
	}
	return out
}

func hasCompilableSources(lp *libraryPlan) bool {
	for _, s := range lp.sources {
		if s.kind == manifest.SourceSource {
			return true
		}
	}
	return false
}

func archiveOutputPath(lp *libraryPlan) string {
	return path.Join(lp.root, "lib"+lp.lib.Name+".a")
}

func objectOutputPath(lp *libraryPlan, src sourceFile) string {
	return path.Join(lp.root, "obj", src.relPath+".o")
}

// planLibrary emits this library's compile nodes, its archive node (if
// it has ≥1 non-test non-app compile node), link nodes for each .main,
// and link+test-run nodes for each .test.
func (b *builder) planLibrary(lp *libraryPlan) ([]Node, error) {
	includes := b.transitivePublicIncludes(lp, map[string]bool{})
	// The owning library additionally sees its own private include.
	includes = append(includes, lp.privateInc)

	var nodes []Node
	var archiveInputs []string

	for _, src := range lp.sources {
		switch src.kind {
		case manifest.SourceSource:
			n := b.compileNode(lp, src, includes)
			nodes = append(nodes, n)
			archiveInputs = append(archiveInputs, n.Outputs[0])
		}
	}

	if len(archiveInputs) > 0 {
		nodes = append(nodes, b.archiveNode(lp, archiveInputs))
	}

	for _, src := range lp.sources {
		switch src.kind {
		case manifest.SourceAppSource:
			if !b.opts.IncludeApps {
				continue
			}
			mainObj := b.compileNode(lp, src, includes)
			nodes = append(nodes, mainObj)
			nodes = append(nodes, b.linkNode(lp, mainObj))
		case manifest.SourceTestSource:
			if !b.opts.IncludeTests {
				continue
			}
			testObj := b.compileNode(lp, src, includes)
			nodes = append(nodes, testObj)
			linkN := b.linkNode(lp, testObj)
			nodes = append(nodes, linkN)
			nodes = append(nodes, b.testRunNode(lp, linkN))
		}
	}

	return nodes, nil
}

func (b *builder) compileNode(lp *libraryPlan, src sourceFile, includes []string) Node {
	srcPath := path.Join(lp.root, src.relPath)
	objPath := objectOutputPath(lp, src)

	argv := []string{compilerFor(b.tc, src.relPath)}
	for _, inc := range includes {
		argv = append(argv, "-I"+inc)
	}
	argv = append(argv, flagsFor(b.tc, src.relPath)...)
	argv = append(argv, "-c", srcPath, "-o", objPath)

	inputs := append([]string{srcPath}, includes...)
	id := fmt.Sprintf("compile:%s/%s:%s", lp.pkgName, lp.lib.Name, src.relPath)
	return Node{
		ID:               id,
		Kind:             KindCompile,
		Inputs:           inputs,
		Outputs:          []string{objPath},
		Argv:             argv,
		Fingerprint:      fingerprint(b.tc.Identity, argv, inputs),
		compilerIdentity: b.tc.Identity,
		Package:          lp.pkgName,
		Library:          lp.lib.Name,
		Source:           src.relPath,
	}
}

func (b *builder) archiveNode(lp *libraryPlan, objectFiles []string) Node {
	out := archiveOutputPath(lp)
	argv := append([]string{b.tc.AR, "rcs", out}, objectFiles...)
	id := fmt.Sprintf("archive:%s/%s", lp.pkgName, lp.lib.Name)
	return Node{
		ID:               id,
		Kind:             KindArchive,
		Inputs:           objectFiles,
		Outputs:          []string{out},
		Argv:             argv,
		Fingerprint:      fingerprint(b.tc.Identity, argv, objectFiles),
		compilerIdentity: b.tc.Identity,
		DependsOn:        compileNodeIDs(lp, objectFiles),
		Package:          lp.pkgName,
		Library:          lp.lib.Name,
	}
}

func compileNodeIDs(lp *libraryPlan, objectFiles []string) []string {
	var out []string
	for _, src := range lp.sources {
		if src.kind != manifest.SourceSource {
			continue
		}
		out = append(out, fmt.Sprintf("compile:%s/%s:%s", lp.pkgName, lp.lib.Name, src.relPath))
	}
	return out
}

// linkNode builds the executable for mainObj, depending on its own
// archive plus every transitively-used library's archive.
// transitiveArchives walks lp first, so the owning library's own archive
// (if it has one) leads the link line.
func (b *builder) linkNode(lp *libraryPlan, mainObj Node) Node {
	archives := b.transitiveArchives(lp, map[string]bool{})

	out := path.Join(lp.root, "bin", exeName(mainObj.Source))
	argv := append([]string{b.tc.CC}, mainObj.Outputs[0])
	var archivePaths, inputs, dependsOn []string
	inputs = append(inputs, mainObj.Outputs[0])
	dependsOn = append(dependsOn, mainObj.ID)
	for _, a := range archives {
		archivePaths = append(archivePaths, a.path)
		inputs = append(inputs, a.path)
		dependsOn = append(dependsOn, a.id)
	}
	argv = append(argv, archivePaths...)
	argv = append(argv, b.tc.LDFlags...)
	argv = append(argv, "-o", out)

	id := fmt.Sprintf("link:%s/%s:%s", lp.pkgName, lp.lib.Name, mainObj.Source)
	return Node{
		ID:               id,
		Kind:             KindLink,
		Inputs:           inputs,
		Outputs:          []string{out},
		Argv:             argv,
		Fingerprint:      fingerprint(b.tc.Identity, argv, inputs),
		compilerIdentity: b.tc.Identity,
		DependsOn:        dependsOn,
		Package:          lp.pkgName,
		Library:          lp.lib.Name,
		Source:           mainObj.Source,
	}
}

func (b *builder) testRunNode(lp *libraryPlan, linkNode Node) Node {
	id := fmt.Sprintf("test-run:%s/%s:%s", lp.pkgName, lp.lib.Name, linkNode.Source)
	argv := []string{linkNode.Outputs[0]}
	return Node{
		ID:               id,
		Kind:             KindTestRun,
		Inputs:           linkNode.Outputs,
		Outputs:          nil,
		Argv:             argv,
		Fingerprint:      fingerprint(b.tc.Identity, argv, linkNode.Outputs),
		compilerIdentity: b.tc.Identity,
		DependsOn:        []string{linkNode.ID},
		Package:          lp.pkgName,
		Library:          lp.lib.Name,
		Source:           linkNode.Source,
	}
}

func compilerFor(tc Toolchain, relPath string) string {
	switch path.Ext(relPath) {
	case ".cpp", ".cxx", ".cc":
		return tc.CXX
	default:
		return tc.CC
	}
}

func flagsFor(tc Toolchain, relPath string) []string {
	switch path.Ext(relPath) {
	case ".cpp", ".cxx", ".cc":
		return tc.CXXFlags
	default:
		return tc.CFlags
	}
}

func exeName(relPath string) string {
	base := path.Base(relPath)
	ext := path.Ext(base)
	return base[:len(base)-len(ext)]
}

// topoSort orders nodes so every DependsOn entry precedes its dependent,
// rejecting cycles (which should be impossible given checkAcyclic ran
// over the library graph, but a node-level cycle would indicate a planner
// bug rather than a user-input error).
func topoSort(nodes []Node) ([]Node, error) {
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(nodes))
	var order []Node

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return errs.New(errs.KindInternal, fmt.Sprintf("plan: cycle detected at node %q", id))
		}
		n, ok := byID[id]
		if !ok {
			return nil // dependency outside this node set (e.g. an archive path placeholder)
		}
		state[id] = visiting
		for _, dep := range n.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		order = append(order, n)
		return nil
	}

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}
