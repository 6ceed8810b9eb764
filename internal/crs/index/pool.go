package index

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// pool is a fixed-size pool of SQLite connections with crs-standard
// pragmas, adapted from lib/sqlitepool (see DESIGN.md). The index's
// writer path borrows a connection through the same pool but additionally
// serializes through writeMu, so concurrent writers never depend on
// busy_timeout alone.
type pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

func openPool(path string, logger *slog.Logger, onConnect func(*sqlite.Conn) error) (*pool, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := runtime.NumCPU()
	if poolSize < 4 {
		poolSize = 4
	}

	inner, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, onConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("index: opening %s: %w", path, err)
	}

	logger.Debug("index pool opened", "path", path, "pool_size", poolSize)
	return &pool{inner: inner, logger: logger, path: path}, nil
}

func (p *pool) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("index: take connection: %w", err)
	}
	return conn, nil
}

func (p *pool) put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

func (p *pool) close() error {
	if err := p.inner.Close(); err != nil {
		return fmt.Errorf("index: closing %s: %w", p.path, err)
	}
	return nil
}

func prepareConnection(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA cache_size=-8192",
		"PRAGMA mmap_size=268435456",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("index: %s: %w", pragma, err)
		}
	}
	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("index: on-connect: %w", err)
		}
	}
	return nil
}
