package buildexec

import (
	"fmt"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"lukechampine.com/blake3"

	"github.com/sauzeros/crs/internal/crs/errs"
	"github.com/sauzeros/crs/internal/crs/store"
)

// Cache records which node fingerprints have already been built
// successfully, so a rerun of the same plan against unchanged inputs
// skips every node whose command, flags, and input content hashes are
// identical to a prior successful run.
type Cache interface {
	// Hit reports whether fingerprint was recorded by a prior Put.
	Hit(fingerprint string) (bool, error)
	// Put binds fingerprint to outputHash, a digest over the node's
	// declared outputs at the moment it finished — not just a marker that
	// something ran, but the actual result that fingerprint stands for.
	Put(fingerprint, outputHash string) error
	Close() error
}

// hashOutputs digests a node's declared outputs the same way
// plan.fingerprint digests its inputs: sorted paths, content over path,
// blake3 over the concatenation. A test-run node has no outputs, so it
// binds its fingerprint to the empty hash.
func hashOutputs(outputs []string) (string, error) {
	if len(outputs) == 0 {
		return "", nil
	}
	sorted := append([]string{}, outputs...)
	sort.Strings(sorted)

	h := blake3.New(32, nil)
	for _, p := range sorted {
		var digest string
		var err error
		if info, statErr := os.Stat(p); statErr == nil && info.IsDir() {
			digest, err = store.HashTree(p)
		} else {
			digest, err = store.HashFile(p)
		}
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "output:%s:%s\n", p, digest)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// BadgerCache is the on-disk Cache backing normal crs builds, grounded on
// the embedded key-value store the rest of the pack reaches for when it
// needs durable local state without running a server (see DESIGN.md).
type BadgerCache struct {
	db *badger.DB
}

// OpenCache opens (creating if absent) a BadgerCache rooted at dir.
func OpenCache(dir string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errs.WrapKind(errs.KindIntegrity, err, "buildexec: open cache at "+dir)
	}
	return &BadgerCache{db: db}, nil
}

func (c *BadgerCache) Hit(fingerprint string) (bool, error) {
	hit := false
	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(fingerprint))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		hit = true
		return nil
	})
	if err != nil {
		return false, errs.WrapKind(errs.KindIntegrity, err, "buildexec: cache lookup")
	}
	return hit, nil
}

// OutputHash returns the output hash a prior Put bound to fingerprint, or
// "" if fingerprint was never recorded — how a caller validates that a
// cache hit's on-disk artifact still matches what the cache believes it
// built, rather than trusting the hit blindly.
func (c *BadgerCache) OutputHash(fingerprint string) (string, error) {
	var hash string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(fingerprint))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			hash = string(val)
			return nil
		})
	})
	if err != nil {
		return "", errs.WrapKind(errs.KindIntegrity, err, "buildexec: cache lookup")
	}
	return hash, nil
}

func (c *BadgerCache) Put(fingerprint, outputHash string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(fingerprint), []byte(outputHash))
	})
	if err != nil {
		return errs.WrapKind(errs.KindIntegrity, err, "buildexec: cache write")
	}
	return nil
}

func (c *BadgerCache) Close() error {
	return c.db.Close()
}

// NullCache never reports a hit and discards every Put — used when the
// caller wants a cold build, and NewPool's default when Options.Cache is nil.
type NullCache struct{}

func (NullCache) Hit(string) (bool, error) { return false, nil }
func (NullCache) Put(string, string) error { return nil }
func (NullCache) Close() error             { return nil }
