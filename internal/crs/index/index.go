// Package index implements the persistent relational catalog of known
// package revisions and their dependency metadata, per remote. Backed by
// zombiezen.com/go/sqlite + sqlitex, pooled the way lib/sqlitepool pools
// connections (see DESIGN.md).
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/sauzeros/crs/internal/crs/errs"
	"github.com/sauzeros/crs/internal/crs/manifest"
	"github.com/sauzeros/crs/internal/crs/migrate"
	"github.com/sauzeros/crs/internal/crs/semver"
)

// SyncMode controls how Sync treats a remote's locally cached catalog
// snapshot.
type SyncMode int

const (
	SyncAlways SyncMode = iota
	SyncCachedOkay
	SyncNever
)

// Remote is a repository remote: (url, priority). Higher priority wins
// ties when the same package ID is offered by multiple remotes; equal
// priority is broken by insertion order (see DESIGN.md).
type Remote struct {
	ID       int64
	URL      string
	Priority int
}

// Entry is one row per (remote, package-ID): the package manifest plus
// content hash of the source archive.
type Entry struct {
	Remote      Remote
	Name        string
	Version     string
	Revision    int
	Manifest    *manifest.Package
	ContentHash string
}

// CatalogFetcher downloads a remote's repo.db snapshot to a local path,
// returning a cleanup func the caller must defer. Implemented by
// internal/crs/fetch; kept as an interface here so index has no import
// dependency on transport.
type CatalogFetcher interface {
	FetchCatalog(ctx context.Context, remoteURL string) (localPath string, cleanup func(), err error)
}

// Index is an open handle on the index database, passed explicitly by
// callers rather than reached through an ambient singleton.
type Index struct {
	pool *pool
	log  *slog.Logger

	// writeMu serializes writers in-process, mirroring SQLite's own
	// single-writer model so concurrent writers don't depend on
	// busy_timeout alone.
	writeMu sync.Mutex
}

// Open opens (creating if absent) the index database at path and applies
// any pending schema migrations.
func Open(path string, logger *slog.Logger) (*Index, error) {
	p, err := openPool(path, logger, nil)
	if err != nil {
		return nil, err
	}

	conn, err := p.take(context.Background())
	if err != nil {
		p.close()
		return nil, err
	}
	_, migErr := migrate.Apply(conn, schema)
	p.put(conn)
	if migErr != nil {
		p.close()
		return nil, migErr
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Index{pool: p, log: logger}, nil
}

func (ix *Index) Close() error {
	return ix.pool.close()
}

// UpsertRemote registers or updates a remote's priority.
func (ix *Index) UpsertRemote(ctx context.Context, url string, priority int) (Remote, error) {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	conn, err := ix.pool.take(ctx)
	if err != nil {
		return Remote{}, err
	}
	defer ix.pool.put(conn)

	var r Remote
	err = sqlitex.Execute(conn,
		`INSERT INTO remotes(url, priority) VALUES (?, ?)
		 ON CONFLICT(url) DO UPDATE SET priority = excluded.priority
		 RETURNING id, url, priority`,
		&sqlitex.ExecOptions{
			Args: []any{url, priority},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				r.ID = stmt.ColumnInt64(0)
				r.URL = stmt.ColumnText(1)
				r.Priority = int(stmt.ColumnInt64(2))
				return nil
			},
		})
	if err != nil {
		return Remote{}, errs.WrapKind(errs.KindTransport, err, fmt.Sprintf("index: upsert remote %s", url))
	}
	return r, nil
}

// Sync fetches and merges a remote's catalog snapshot per mode. cached-okay
// with a cached snapshot uses it without fetching; on a first-ever sync
// (no cached snapshot) it behaves as always (see DESIGN.md). In always, a
// fetch failure fails the sync.
func (ix *Index) Sync(ctx context.Context, remote Remote, mode SyncMode, fetcher CatalogFetcher) error {
	hasCache, err := ix.hasSnapshot(ctx, remote.ID)
	if err != nil {
		return err
	}

	switch mode {
	case SyncNever:
		if !hasCache {
			return errs.New(errs.KindTransport, fmt.Sprintf("index: sync mode 'never' but no cached snapshot for %s", remote.URL))
		}
		return nil
	case SyncCachedOkay:
		if hasCache {
			return nil
		}
		ix.log.Debug("cached-okay sync with no prior snapshot; fetching as if always", "remote", remote.URL)
		fallthrough
	case SyncAlways:
		localPath, cleanup, err := fetcher.FetchCatalog(ctx, remote.URL)
		if err != nil {
			if mode == SyncCachedOkay && hasCache {
				ix.log.Warn("catalog fetch failed, falling back to cache", "remote", remote.URL, "error", err)
				return nil
			}
			return errs.WrapKind(errs.KindTransport, err, fmt.Sprintf("index: fetch catalog for %s", remote.URL))
		}
		defer cleanup()
		return ix.mergeSnapshot(ctx, remote, localPath)
	default:
		return errs.New(errs.KindUserInput, fmt.Sprintf("index: unknown sync mode %d", mode))
	}
}

func (ix *Index) hasSnapshot(ctx context.Context, remoteID int64) (bool, error) {
	conn, err := ix.pool.take(ctx)
	if err != nil {
		return false, err
	}
	defer ix.pool.put(conn)

	found := false
	err = sqlitex.Execute(conn, `SELECT 1 FROM remote_sync_state WHERE remote_id = ?`,
		&sqlitex.ExecOptions{
			Args:       []any{remoteID},
			ResultFunc: func(stmt *sqlite.Stmt) error { found = true; return nil },
		})
	if err != nil {
		return false, errs.WrapKind(errs.KindTransport, err, "index: check snapshot state")
	}
	return found, nil
}

// mergeSnapshot attaches the downloaded repo.db and copies its rows into
// this remote's entries inside one write transaction, so a sync that
// fails midway never leaves a partial merge. Conflicting manifests for
// the same (name, version, revision) across remotes are rejected as an
// Integrity error (see DESIGN.md).
func (ix *Index) mergeSnapshot(ctx context.Context, remote Remote, snapshotPath string) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	conn, err := ix.pool.take(ctx)
	if err != nil {
		return err
	}
	defer ix.pool.put(conn)

	// The snapshot is attached before the write transaction begins and
	// detached after it ends: SQLite refuses to DETACH a database that an
	// open transaction has read from.
	if err := sqlitex.Execute(conn, `ATTACH DATABASE ? AS snap`, &sqlitex.ExecOptions{Args: []any{snapshotPath}}); err != nil {
		return errs.WrapKind(errs.KindIntegrity, err, "index: attach snapshot")
	}
	defer sqlitex.ExecuteTransient(conn, `DETACH DATABASE snap`, nil)

	return func() (err error) {
		endFn := sqlitex.Transaction(conn)
		defer endFn(&err)

		type row struct {
			name, version, manifestJSON, contentHash string
			revision                                 int
		}
		var rows []row
		err = sqlitex.Execute(conn, `SELECT name, version, revision, manifest_json, content_hash FROM snap.entries`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					rows = append(rows, row{
						name:         stmt.ColumnText(0),
						version:      stmt.ColumnText(1),
						revision:     int(stmt.ColumnInt64(2)),
						manifestJSON: stmt.ColumnText(3),
						contentHash:  stmt.ColumnText(4),
					})
					return nil
				},
			})
		if err != nil {
			return errs.WrapKind(errs.KindIntegrity, err, "index: read snapshot entries")
		}

		for _, r := range rows {
			var existingHash string
			found := false
			err := sqlitex.Execute(conn,
				`SELECT content_hash FROM entries WHERE name=? AND version=? AND revision=? AND remote_id != ?`,
				&sqlitex.ExecOptions{
					Args: []any{r.name, r.version, r.revision, remote.ID},
					ResultFunc: func(stmt *sqlite.Stmt) error {
						existingHash = stmt.ColumnText(0)
						found = true
						return nil
					},
				})
			if err != nil {
				return errs.WrapKind(errs.KindIntegrity, err, "index: check cross-remote conflict")
			}
			if found && existingHash != r.contentHash {
				return errs.New(errs.KindIntegrity, fmt.Sprintf(
					"index: remote %s offers %s %s~%d with content hash %s, conflicting with an existing entry from another remote (%s)",
					remote.URL, r.name, r.version, r.revision, r.contentHash, existingHash))
			}

			err = sqlitex.Execute(conn,
				`INSERT INTO entries(remote_id, name, version, revision, manifest_json, content_hash)
				 VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT(remote_id, name, version, revision) DO UPDATE SET
					manifest_json = excluded.manifest_json,
					content_hash  = excluded.content_hash`,
				&sqlitex.ExecOptions{Args: []any{remote.ID, r.name, r.version, r.revision, r.manifestJSON, r.contentHash}})
			if err != nil {
				return errs.WrapKind(errs.KindIntegrity, err, fmt.Sprintf("index: merge entry %s %s~%d", r.name, r.version, r.revision))
			}
		}

		return sqlitex.Execute(conn,
			`INSERT INTO remote_sync_state(remote_id, synced_at, snapshot_ok) VALUES (?, ?, 1)
			 ON CONFLICT(remote_id) DO UPDATE SET synced_at = excluded.synced_at, snapshot_ok = 1`,
			&sqlitex.ExecOptions{Args: []any{remote.ID, time.Now().Unix()}})
	}()
}

// Lookup returns every entry for name, with no version filtering, sorted
// descending by (version, revision, remote priority) — equal-priority
// remotes tie-break by insertion order (remote id).
func (ix *Index) Lookup(ctx context.Context, name string) ([]Entry, error) {
	conn, err := ix.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer ix.pool.put(conn)

	var entries []Entry
	var rowErr error
	err = sqlitex.Execute(conn,
		`SELECT e.version, e.revision, e.manifest_json, e.content_hash, r.id, r.url, r.priority
		 FROM entries e JOIN remotes r ON r.id = e.remote_id
		 WHERE e.name = ?`,
		&sqlitex.ExecOptions{
			Args: []any{name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				pkg, err := manifest.ParsePackage([]byte(stmt.ColumnText(2)))
				if err != nil {
					rowErr = err
					return nil
				}
				entries = append(entries, Entry{
					Name:     name,
					Version:  stmt.ColumnText(0),
					Revision: int(stmt.ColumnInt64(1)),
					Manifest: pkg,
					ContentHash: stmt.ColumnText(3),
					Remote: Remote{
						ID:       stmt.ColumnInt64(4),
						URL:      stmt.ColumnText(5),
						Priority: int(stmt.ColumnInt64(6)),
					},
				})
				return nil
			},
		})
	if err != nil {
		return nil, errs.WrapKind(errs.KindTransport, err, fmt.Sprintf("index: lookup %s", name))
	}
	if rowErr != nil {
		return nil, errs.WrapKind(errs.KindIntegrity, rowErr, fmt.Sprintf("index: decode manifest for %s", name))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		vi, erri := semver.Parse(entries[i].Version)
		vj, errj := semver.Parse(entries[j].Version)
		if erri == nil && errj == nil {
			if c := semver.Compare(vi, vj); c != 0 {
				return c > 0
			}
		} else if entries[i].Version != entries[j].Version {
			return entries[i].Version > entries[j].Version
		}
		if entries[i].Revision != entries[j].Revision {
			return entries[i].Revision > entries[j].Revision
		}
		if entries[i].Remote.Priority != entries[j].Remote.Priority {
			return entries[i].Remote.Priority > entries[j].Remote.Priority
		}
		return entries[i].Remote.ID < entries[j].Remote.ID
	})
	return entries, nil
}

// KnownNames returns every distinct package name with at least one
// entry across all remotes, for completion and for driving a
// solver.Index's resolution universe.
func (ix *Index) KnownNames(ctx context.Context) ([]string, error) {
	conn, err := ix.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer ix.pool.put(conn)

	var names []string
	err = sqlitex.Execute(conn, `SELECT DISTINCT name FROM entries ORDER BY name`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				names = append(names, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, errs.WrapKind(errs.KindTransport, err, "index: known names")
	}
	return names, nil
}

// ListRemotes returns every registered remote, ordered by priority
// descending then insertion order, matching Lookup's own tie-break.
func (ix *Index) ListRemotes(ctx context.Context) ([]Remote, error) {
	conn, err := ix.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer ix.pool.put(conn)

	var remotes []Remote
	err = sqlitex.Execute(conn, `SELECT id, url, priority FROM remotes ORDER BY priority DESC, id ASC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				remotes = append(remotes, Remote{
					ID:       stmt.ColumnInt64(0),
					URL:      stmt.ColumnText(1),
					Priority: int(stmt.ColumnInt64(2)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, errs.WrapKind(errs.KindTransport, err, "index: list remotes")
	}
	return remotes, nil
}

// RemoveRemote deletes a remote and every entry and sync-state row
// belonging to it.
func (ix *Index) RemoveRemote(ctx context.Context, url string) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	conn, err := ix.pool.take(ctx)
	if err != nil {
		return err
	}
	defer ix.pool.put(conn)

	return func() (err error) {
		endFn := sqlitex.Transaction(conn)
		defer endFn(&err)
		var remoteID int64
		found := false
		if err := sqlitex.Execute(conn, `SELECT id FROM remotes WHERE url = ?`,
			&sqlitex.ExecOptions{
				Args: []any{url},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					remoteID = stmt.ColumnInt64(0)
					found = true
					return nil
				},
			}); err != nil {
			return errs.WrapKind(errs.KindTransport, err, "index: find remote "+url)
		}
		if !found {
			return errs.New(errs.KindUserInput, "index: no such remote "+url)
		}

		if err := sqlitex.Execute(conn, `DELETE FROM entries WHERE remote_id = ?`, &sqlitex.ExecOptions{Args: []any{remoteID}}); err != nil {
			return errs.WrapKind(errs.KindTransport, err, "index: delete entries for "+url)
		}
		if err := sqlitex.Execute(conn, `DELETE FROM remote_sync_state WHERE remote_id = ?`, &sqlitex.ExecOptions{Args: []any{remoteID}}); err != nil {
			return errs.WrapKind(errs.KindTransport, err, "index: delete sync state for "+url)
		}
		return sqlitex.Execute(conn, `DELETE FROM remotes WHERE id = ?`, &sqlitex.ExecOptions{Args: []any{remoteID}})
	}()
}

// ManifestOf returns the package manifest for a specific (remote,
// name, version, revision).
func (ix *Index) ManifestOf(ctx context.Context, remoteID int64, name, version string, revision int) (*manifest.Package, error) {
	conn, err := ix.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer ix.pool.put(conn)

	var raw string
	found := false
	err = sqlitex.Execute(conn,
		`SELECT manifest_json FROM entries WHERE remote_id=? AND name=? AND version=? AND revision=?`,
		&sqlitex.ExecOptions{
			Args: []any{remoteID, name, version, revision},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				raw = stmt.ColumnText(0)
				found = true
				return nil
			},
		})
	if err != nil {
		return nil, errs.WrapKind(errs.KindTransport, err, "index: manifest_of")
	}
	if !found {
		return nil, errs.New(errs.KindIntegrity, fmt.Sprintf("index: no manifest for %s %s~%d on remote %d", name, version, revision, remoteID))
	}
	return manifest.ParsePackage([]byte(raw))
}
