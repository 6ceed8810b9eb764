package store

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"lukechampine.com/blake3"

	"github.com/sauzeros/crs/internal/crs/errs"
)

// HashFile computes a BLAKE3 digest of path. It prefers the system b3sum
// binary when present (faster for large files), falling back to
// lukechampine.com/blake3.
func HashFile(path string) (string, error) {
	if _, err := exec.LookPath("b3sum"); err == nil {
		cmd := exec.Command("b3sum", path)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = io.Discard
		if err := cmd.Run(); err == nil {
			fields := strings.Fields(out.String())
			if len(fields) > 0 {
				return fields[0], nil
			}
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return "", errs.WrapKind(errs.KindTransport, err, "store: open file for hashing")
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", errs.WrapKind(errs.KindIntegrity, err, "store: hash file")
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// HashTree computes a stable digest over every regular file under root,
// keyed by path relative to root, used for directory inputs and outputs of
// build nodes (plan fingerprints, buildexec output hashes).
func HashTree(root string) (string, error) {
	var paths []string
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return "", errs.WrapKind(errs.KindIntegrity, err, "store: walk tree for hashing")
	}

	sort.Strings(paths)

	h := blake3.New(32, nil)
	for _, rel := range paths {
		fh, err := HashFile(filepath.Join(root, rel))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s  %s\n", fh, rel)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
