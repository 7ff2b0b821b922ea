// Package store implements the inventory store and loan ledger on SQLite.
package store

import (
	"errors"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
)

// sqlite builds parameterized statements for queries assembled at runtime.
var sqlite = goqu.Dialect("sqlite3")

// ErrBookNotFound is returned when an operation targets a book that does not exist.
var ErrBookNotFound = errors.New("book not found")
