package plan

import (
	"fmt"
	"os"
	"sort"

	"lukechampine.com/blake3"

	"github.com/sauzeros/crs/internal/crs/store"
)

// fingerprint computes a node's command fingerprint: a stable digest over
// the compiler identity string, the normalized argv, and the content
// hash of every declared input. Inputs are hashed via
// store.HashFile/HashTree so a node's fingerprint changes exactly when an
// input's bytes change, never when its path order changes.
//
// plan.Build calls this once per node at plan time, before any node has
// run — for a compile node that's fine, its inputs are sources already on
// disk, but an archive/link/test-run node's inputs are other nodes'
// outputs, which at plan time either don't exist yet or (on a rebuild)
// still hold a previous build's bytes. Node.Refingerprint recomputes this
// same digest later, once a node's dependencies have actually finished,
// and buildexec.Pool.start calls it right before the cache lookup so the
// fingerprint a cache entry is keyed on matches the bytes that were
// really consumed.
func fingerprint(compilerIdentity string, argv []string, inputs []string) string {
	h := blake3.New(32, nil)
	fmt.Fprintf(h, "identity:%s\n", compilerIdentity)
	for _, a := range argv {
		fmt.Fprintf(h, "argv:%s\n", a)
	}

	sorted := append([]string{}, inputs...)
	sort.Strings(sorted)
	for _, in := range sorted {
		digest, err := hashInput(in)
		if err != nil {
			// Input doesn't exist on disk yet. Only expected at plan time,
			// before Refingerprint has had a chance to run.
			fmt.Fprintf(h, "input-path:%s\n", in)
			continue
		}
		fmt.Fprintf(h, "input:%s:%s\n", in, digest)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Refingerprint recomputes Fingerprint from the node's current Argv and
// Inputs, hashing each input's bytes as they exist right now rather than
// as they existed when plan.Build ran. Callers must only invoke this once
// a node's dependencies have completed, so that object files, archives,
// and executables it depends on are the ones this build actually produced
// rather than leftovers from a previous one.
func (n *Node) Refingerprint() {
	n.Fingerprint = fingerprint(n.compilerIdentity, n.Argv, n.Inputs)
}

func hashInput(p string) (string, error) {
	if info, err := os.Stat(p); err == nil && info.IsDir() {
		return store.HashTree(p)
	}
	return store.HashFile(p)
}
