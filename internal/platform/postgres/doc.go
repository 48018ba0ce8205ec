// Package postgres provides the PostgreSQL implementation of the
// store.Store interfaces. Connections use the pgx stdlib driver and the
// schema is managed with goose migrations embedded in the binary.
package postgres
