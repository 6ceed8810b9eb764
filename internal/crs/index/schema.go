package index

import (
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/sauzeros/crs/internal/crs/migrate"
)

// schema is the ordered list of migration steps for the index database.
// Grounded structurally on migrate's PRAGMA user_version convention; no
// source this was grounded on needed schema migration (see DESIGN.md).
var schema = []migrate.Step{
	step1CreateTables,
}

func step1CreateTables(conn *sqlite.Conn) error {
	const ddl = `
CREATE TABLE remotes (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	url      TEXT NOT NULL UNIQUE,
	priority INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE entries (
	remote_id     INTEGER NOT NULL REFERENCES remotes(id),
	name          TEXT NOT NULL,
	version       TEXT NOT NULL,
	revision      INTEGER NOT NULL,
	manifest_json TEXT NOT NULL,
	content_hash  TEXT NOT NULL,
	PRIMARY KEY (remote_id, name, version, revision)
);

CREATE INDEX entries_by_name ON entries(name);

CREATE TABLE remote_sync_state (
	remote_id   INTEGER PRIMARY KEY REFERENCES remotes(id),
	synced_at   INTEGER NOT NULL,
	snapshot_ok INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE keyring (
	remote_id  INTEGER PRIMARY KEY REFERENCES remotes(id),
	key_id     TEXT NOT NULL,
	public_key TEXT NOT NULL
);
`
	return sqlitex.ExecuteScript(conn, ddl, nil)
}
