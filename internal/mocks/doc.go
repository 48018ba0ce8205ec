// Package mocks provides hand-written test doubles for the engine and
// resource acquisition boundaries. They record calls so tests can assert on
// attempt counts and inputs.
package mocks
