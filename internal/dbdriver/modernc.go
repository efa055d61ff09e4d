//go:build modernc_sqlite

package dbdriver

import (
	_ "modernc.org/sqlite"
)

// Name is the database/sql driver name to pass to sql.Open.
const Name = "sqlite"
