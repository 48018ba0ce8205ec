// Package domain contains the core entities of the media processing pipeline:
// tasks, their results, note relations and data sources. It is independent
// of any storage engine or transport.
package domain
