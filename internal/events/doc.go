// Package events carries task lifecycle notifications between components.
//
// The orchestrator emits a TaskFinishedEvent whenever a task reaches a
// terminal status; subscribers such as the note aggregator and metrics react
// without the orchestrator knowing about them.
package events
