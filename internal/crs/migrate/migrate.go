// Package migrate applies an ordered list of schema migration steps to the
// index database, keyed by PRAGMA user_version rather than a metadata
// table row. Each step runs inside its own sqlitex transaction and sets
// user_version as its last statement, so
// a crash between steps leaves user_version at the last fully-applied
// step and a subsequent Apply resumes from there — idempotent by
// construction, not by a guard check.
package migrate

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/sauzeros/crs/internal/crs/errs"
)

// Step upgrades the schema from version N-1 to version N (its own
// position in the Steps slice, 1-indexed).
type Step func(conn *sqlite.Conn) error

// Apply reads PRAGMA user_version and runs steps[stored:] in order,
// inside one transaction per step, advancing user_version after each.
// Returns the number of steps actually applied (0 if already current).
func Apply(conn *sqlite.Conn, steps []Step) (int, error) {
	stored, err := userVersion(conn)
	if err != nil {
		return 0, errs.WrapKind(errs.KindIntegrity, err, "migrate: read user_version")
	}
	if stored > len(steps) {
		return 0, errs.New(errs.KindIntegrity, fmt.Sprintf("migrate: database is at schema version %d, newer than the %d known to this build", stored, len(steps)))
	}

	applied := 0
	for v := stored; v < len(steps); v++ {
		step := steps[v]
		err := func() (err error) {
			endFn := sqlitex.Transaction(conn)
			defer endFn(&err)
			if err = step(conn); err != nil {
				return err
			}
			return setUserVersion(conn, v+1)
		}()
		if err != nil {
			return applied, errs.WrapKind(errs.KindIntegrity, err, fmt.Sprintf("migrate: applying step %d", v+1))
		}
		applied++
	}
	return applied, nil
}

// Version returns the schema version currently stored in the database.
func Version(conn *sqlite.Conn) (int, error) {
	return userVersion(conn)
}

func userVersion(conn *sqlite.Conn) (int, error) {
	var v int
	err := sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			v = int(stmt.ColumnInt64(0))
			return nil
		},
	})
	return v, err
}

func setUserVersion(conn *sqlite.Conn, v int) error {
	return sqlitex.ExecuteTransient(conn, fmt.Sprintf("PRAGMA user_version = %d", v), nil)
}
