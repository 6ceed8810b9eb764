package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	ix, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

const samplePkgJSON = `{"name":"bar","libraries":[{"name":"core","sources":["src/**/*.cpp"]}],"dependencies":{}}`

// writeSnapshot builds a standalone repo.db-shaped sqlite file with one
// entries row per element of rows, matching the shape mergeSnapshot
// expects from ATTACH.
func writeSnapshot(t *testing.T, rows [][5]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repo.db")
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := sqlitex.ExecuteScript(conn, `CREATE TABLE entries (
		name TEXT, version TEXT, revision INTEGER, manifest_json TEXT, content_hash TEXT
	)`, nil); err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if err := sqlitex.Execute(conn, `INSERT INTO entries VALUES (?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{Args: r[:]}); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

type staticFetcher struct{ path string }

func (f staticFetcher) FetchCatalog(ctx context.Context, remoteURL string) (string, func(), error) {
	return f.path, func() {}, nil
}

func TestUpsertAndSyncAndLookup(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	remote, err := ix.UpsertRemote(ctx, "https://example.test/repo", 10)
	if err != nil {
		t.Fatalf("UpsertRemote: %v", err)
	}

	snap := writeSnapshot(t, [][5]any{
		{"bar", "1.2.0", int64(0), samplePkgJSON, "hash-1.2.0"},
		{"bar", "1.3.0", int64(0), samplePkgJSON, "hash-1.3.0"},
	})

	if err := ix.Sync(ctx, remote, SyncAlways, staticFetcher{snap}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	entries, err := ix.Lookup(ctx, "bar")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Version != "1.3.0" {
		t.Fatalf("entries[0].Version = %s, want 1.3.0 (descending order)", entries[0].Version)
	}
}

func TestSyncRejectsConflictingManifestAcrossRemotes(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	remoteA, _ := ix.UpsertRemote(ctx, "https://a.test/repo", 0)
	remoteB, _ := ix.UpsertRemote(ctx, "https://b.test/repo", 0)

	snapA := writeSnapshot(t, [][5]any{{"bar", "1.0.0", int64(0), samplePkgJSON, "hash-A"}})
	snapB := writeSnapshot(t, [][5]any{{"bar", "1.0.0", int64(0), samplePkgJSON, "hash-B"}})

	if err := ix.Sync(ctx, remoteA, SyncAlways, staticFetcher{snapA}); err != nil {
		t.Fatalf("Sync A: %v", err)
	}
	err := ix.Sync(ctx, remoteB, SyncAlways, staticFetcher{snapB})
	if err == nil {
		t.Fatal("expected an Integrity error for a conflicting manifest across remotes")
	}
}

func TestSyncNeverFailsWithoutCache(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()
	remote, _ := ix.UpsertRemote(ctx, "https://example.test/repo", 0)

	err := ix.Sync(ctx, remote, SyncNever, staticFetcher{""})
	if err == nil {
		t.Fatal("expected an error for sync mode 'never' with no cached snapshot")
	}
}

func TestMigrationAppliesOnceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ix1, err := Open(path, nil)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	ix1.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected db file to exist: %v", err)
	}

	ix2, err := Open(path, nil)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer ix2.Close()
	// Reopening a migrated index must not error and must not re-run
	// CREATE TABLE (which would fail on the second run if it did).
}
