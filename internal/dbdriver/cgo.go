//go:build !modernc_sqlite

// Package dbdriver picks the registered database/sql driver name used for
// every SQLite file the orchestrator opens (memory store, event store).
// The default build links mattn/go-sqlite3's cgo driver; building with
// -tags modernc_sqlite swaps in the pure-Go modernc.org/sqlite driver
// instead, for hosts without a C toolchain.
package dbdriver

import (
	_ "github.com/mattn/go-sqlite3"
)

// Name is the database/sql driver name to pass to sql.Open.
const Name = "sqlite3"
