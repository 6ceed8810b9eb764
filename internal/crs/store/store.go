package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/sauzeros/crs/internal/crs/errs"
)

// Store is a content-addressed directory of expanded package source trees,
// rooted at Root (normally <cache-root>/pkgs).
type Store struct {
	Root string
}

func New(root string) *Store {
	return &Store{Root: root}
}

// Path returns the directory an installed id would live at, whether or
// not it is currently present.
func (s *Store) Path(id ID) string {
	return filepath.Join(s.Root, filepath.FromSlash(id.RelPath()))
}

// Has is the non-blocking, cheap-stat presence check.
func (s *Store) Has(id ID) bool {
	info, err := os.Stat(s.Path(id))
	return err == nil && info.IsDir()
}

// Populate is what a fetcher implements: given a tmp directory, fill it
// with the expanded package tree for id. The tmp directory already
// exists; Populate must not rename or remove it.
type Populate func(ctx context.Context, tmpDir string) error

// Get returns the path for id, fetching it first if absent. Concurrent
// Get calls for the same id (within this process, or across processes
// sharing Root) deduplicate: the loser blocks on the winner's flock and
// returns once the winner's atomic rename completes, performing no work
// of its own.
func (s *Store) Get(ctx context.Context, id ID, populate Populate) (string, error) {
	if s.Has(id) {
		return s.Path(id), nil
	}

	dest := s.Path(id)
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", errs.WrapKind(errs.KindTransport, err, fmt.Sprintf("store: create parent dir for %s", id))
	}

	lockPath := dest + ".lock"
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return "", errs.WrapKind(errs.KindTransport, err, fmt.Sprintf("store: open lock for %s", id))
	}
	defer lf.Close()

	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX); err != nil {
		return "", errs.WrapKind(errs.KindTransport, err, fmt.Sprintf("store: acquire lock for %s", id))
	}
	defer unix.Flock(int(lf.Fd()), unix.LOCK_UN)

	// Double-checked: the winner of the lock race may have finished while
	// we waited.
	if s.Has(id) {
		return dest, nil
	}

	tmp := dest + ".download.tmp"
	_ = os.RemoveAll(tmp) // crash-mid-download leaves only the tmp dir; clear it before reuse.
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return "", errs.WrapKind(errs.KindTransport, err, fmt.Sprintf("store: create tmp dir for %s", id))
	}
	defer os.RemoveAll(tmp)

	if err := populate(ctx, tmp); err != nil {
		return "", errs.Wrap(err, fmt.Sprintf("store: populate %s", id))
	}

	if err := os.Rename(tmp, dest); err != nil {
		return "", errs.WrapKind(errs.KindTransport, err, fmt.Sprintf("store: atomic install of %s", id))
	}
	_ = os.Remove(lockPath)

	return dest, nil
}

// GC removes store entries not named in live, skipping any still locked
// (an in-flight Get holding the flock). It returns the set of removed IDs
// and bytes reclaimed.
func (s *Store) GC(live map[ID]bool) (removed []ID, bytesFreed int64, err error) {
	nameDirs, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, errs.WrapKind(errs.KindTransport, err, "store: read root")
	}

	for _, nameDir := range nameDirs {
		if !nameDir.IsDir() {
			continue
		}
		name := nameDir.Name()
		versDir := filepath.Join(s.Root, name)
		versEntries, err := os.ReadDir(versDir)
		if err != nil {
			continue
		}
		for _, ve := range versEntries {
			if !ve.IsDir() {
				continue
			}
			id, ok := parseVersionRevDir(name, ve.Name())
			if !ok || live[id] {
				continue
			}
			target := filepath.Join(versDir, ve.Name())
			if isLocked(target + ".lock") {
				continue
			}
			size, _ := dirSize(target)
			if err := os.RemoveAll(target); err != nil {
				return removed, bytesFreed, errs.WrapKind(errs.KindTransport, err, fmt.Sprintf("store: gc remove %s", id))
			}
			removed = append(removed, id)
			bytesFreed += size
		}
	}
	return removed, bytesFreed, nil
}

func isLocked(lockPath string) bool {
	lf, err := os.OpenFile(lockPath, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	defer lf.Close()
	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return true
	}
	unix.Flock(int(lf.Fd()), unix.LOCK_UN)
	return false
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func parseVersionRevDir(name, dirName string) (ID, bool) {
	i := -1
	for j := len(dirName) - 1; j >= 0; j-- {
		if dirName[j] == '~' {
			i = j
			break
		}
	}
	if i < 0 {
		return ID{}, false
	}
	// The whole suffix must be the revision number, so an in-flight
	// "<version>~<rev>.download.tmp" directory is not taken for an entry.
	rev, err := strconv.Atoi(dirName[i+1:])
	if err != nil || rev < 0 {
		return ID{}, false
	}
	return ID{Name: name, Version: dirName[:i], Revision: rev}, true
}
