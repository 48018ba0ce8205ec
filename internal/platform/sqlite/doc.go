// Package sqlite provides the default, single-file implementation of the
// store.Store interfaces on top of gorm and the mattn/go-sqlite3 driver.
package sqlite
