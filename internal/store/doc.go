// Package store defines the persistence interfaces for tasks, results, note
// relations and data sources. Implementations live under internal/platform
// (postgres and sqlite) and are interchangeable behind these interfaces.
package store
