// Package store implements the content-addressed local package store: a
// directory keyed by name/version~revision/, populated through the
// two-phase download-then-atomic-rename protocol, deduplicated across
// concurrent fetchers via a filesystem lock on the destination parent.
// Grounded on fetch.go's downloadFileWithOptions double-checked-locking
// pattern (see DESIGN.md).
package store

import "fmt"

// ID is a Package ID: the triple (name, version, revision), globally
// unique within a remote.
type ID struct {
	Name     string
	Version  string
	Revision int
}

func (id ID) String() string {
	return fmt.Sprintf("%s/%s~%d", id.Name, id.Version, id.Revision)
}

// RelPath is the store-relative directory for id, matching the persisted
// state layout pkgs/<name>/<version>~<rev>/.
func (id ID) RelPath() string {
	return fmt.Sprintf("%s/%s~%d", id.Name, id.Version, id.Revision)
}
