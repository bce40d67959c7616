//go:build !cgo

package db

const libsqlAvailable = false
