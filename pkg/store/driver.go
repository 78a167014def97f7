//go:build !sqlite_cgo

package store

import (
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// driverName selects the pure-Go driver in default builds.
const driverName = "sqlite"
