//go:build cgo

package db

import (
	_ "github.com/tursodatabase/go-libsql"
)

const libsqlAvailable = true
