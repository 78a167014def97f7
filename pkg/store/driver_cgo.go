//go:build sqlite_cgo

package store

import (
	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver
)

// driverName selects the cgo driver when built with -tags sqlite_cgo.
const driverName = "sqlite3"
