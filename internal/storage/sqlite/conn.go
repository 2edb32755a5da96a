package sqlite

import (
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// openPragmas is applied to every connection in the pool immediately after
// opening. WAL plus a busy_timeout means readers never block writers and a
// writer waiting on another writer gets a bounded wait instead of an
// immediate SQLITE_BUSY, per spec.md §5.
const openPragmas = `
PRAGMA journal_mode = WAL;
PRAGMA busy_timeout = 2000;
PRAGMA foreign_keys = ON;
PRAGMA recursive_triggers = ON;
`

// openDB opens dbPath with the pragmas granary needs and retries the initial
// connection on SQLITE_BUSY with bounded exponential backoff, since two
// processes (daemon and a direct CLI invocation) may open the same file at
// nearly the same instant during migration.
func openDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	if err := withBusyRetry(func() error {
		_, execErr := db.Exec(openPragmas)
		return execErr
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure pragmas on %s: %w", dbPath, err)
	}

	return db, nil
}

// withBusyRetry retries fn with jittered exponential backoff, up to ~2s
// total, while the error looks like a SQLITE_BUSY contention failure.
func withBusyRetry(fn func() error) error {
	const maxElapsed = 2 * time.Second
	base := 20 * time.Millisecond
	deadline := time.Now().Add(maxElapsed)

	for {
		err := fn()
		if err == nil || !isBusyErr(err) || time.Now().After(deadline) {
			return err
		}
		jitter := time.Duration(rand.Int63n(int64(base)))
		time.Sleep(base + jitter)
		base *= 2
	}
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}
